package engine

import "regexp"

// ShellTool is the host's shell-execution tool name.
const ShellTool = "Bash"

// FileMutationTools are blocked unconditionally whenever any record is
// effective. Scope and strict flags never override this.
var FileMutationTools = map[string]bool{
	"Edit":         true,
	"Write":        true,
	"MultiEdit":    true,
	"NotebookEdit": true,
}

// SafeReadTools pass even in strict mode.
var SafeReadTools = map[string]bool{
	"Read":         true,
	"Glob":         true,
	"Grep":         true,
	"LS":           true,
	"NotebookRead": true,
	"WebFetch":     true,
	"WebSearch":    true,
	"TodoWrite":    true,
	"Task":         true,
	"ExitPlanMode": true,
}

// commandPattern pairs a compiled dangerous-command regex with the label
// used in block reasons.
type commandPattern struct {
	label string
	re    *regexp.Regexp
}

// builtinDangerous is the deny-list applied to every shell command while a
// policy is active. Substring/regex matching, deliberately not a shell
// grammar; the hard floor on file-mutation tools is the real guarantee.
var builtinDangerous = []commandPattern{
	{"recursive or forced remove", regexp.MustCompile(`\brm\s+(-\S+\s+)*-[a-zA-Z]*[rf]`)},
	{"forced move", regexp.MustCompile(`\bmv\s+(-\S+\s+)*-[a-zA-Z]*f`)},
	{"forced copy", regexp.MustCompile(`\bcp\s+(-\S+\s+)*-[a-zA-Z]*f`)},
	{"output redirection", regexp.MustCompile(`>`)},
	{"command chaining", regexp.MustCompile(`;|&&|\|\|`)},
	{"privilege escalation", regexp.MustCompile(`\bsudo\b|\bdoas\b|(^|\s)su(\s|$)`)},
	{"pipe to shell", regexp.MustCompile(`\b(curl|wget)\b[^|]*\|\s*(ba|z|da)?sh\b`)},
	{"raw device path", regexp.MustCompile(`/dev/(sd|hd|nvme|disk|loop)`)},
	{"disk write via dd", regexp.MustCompile(`\bdd\b[^|]*\bof=`)},
	{"filesystem format", regexp.MustCompile(`\bmkfs`)},
}

// builtinAllowed is the strict-mode allow-list: read-only inspection and the
// usual test runners. Globs, where "*" matches any sequence.
var builtinAllowed = []string{
	"ls", "ls *",
	"pwd",
	"cat *",
	"grep *",
	"head *", "tail *",
	"find *",
	"wc *",
	"diff *",
	"which *",
	"echo *",
	"git status", "git status *",
	"git diff", "git diff *",
	"git log", "git log *",
	"git show *",
	"git branch", "git branch -a",
	"npm test", "npm test *", "npm run test*",
	"yarn test", "yarn test *",
	"pnpm test", "pnpm test *",
	"go test *", "go vet *", "go build *",
	"make test", "make check", "make lint",
	"pytest", "pytest *",
	"cargo test", "cargo test *", "cargo check", "cargo check *",
}
