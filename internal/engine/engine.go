package engine

import (
	"bytes"
	"fmt"
	"regexp"
	"strings"

	"mvdan.cc/sh/v3/syntax"

	"github.com/modeguard/modeguard/internal/gatecfg"
	"github.com/modeguard/modeguard/internal/policy"
)

// Verdict is the binary outcome of a decision.
type Verdict string

// Verdicts.
const (
	VerdictAllow Verdict = "allow"
	VerdictBlock Verdict = "block"
)

// Request is one tool invocation to judge. Parameters carries the already
// validated tool_input object.
type Request struct {
	ToolName   string
	Parameters map[string]any
}

// Decision is the verdict plus everything the caller needs to explain it.
// On a block, ModeType and Project name the record that produced it.
type Decision struct {
	Verdict  Verdict
	Reason   string
	ModeType string
	Project  string
}

// Allowed is shorthand for Verdict == VerdictAllow.
func (d Decision) Allowed() bool { return d.Verdict == VerdictAllow }

// Engine holds the compiled command patterns. Construct with New.
type Engine struct {
	dangerous []commandPattern
	allowed   []string
}

// New builds an engine from the built-in patterns plus the optional user
// overlay. Overlay entries only ever widen the deny-list or the strict-mode
// allow-list; a broken overlay regex is an error, never silently skipped.
func New(rules *gatecfg.Rules) (*Engine, error) {
	e := &Engine{
		dangerous: builtinDangerous,
		allowed:   builtinAllowed,
	}
	if rules == nil {
		return e, nil
	}
	for _, expr := range rules.Dangerous {
		re, err := regexp.Compile(expr)
		if err != nil {
			return nil, fmt.Errorf("overlay dangerous pattern %q: %w", expr, err)
		}
		e.dangerous = append(e.dangerous, commandPattern{label: "overlay pattern", re: re})
	}
	e.allowed = append(e.allowed, rules.Allowed...)
	return e, nil
}

// Decide judges one validated request against the effective record. A nil
// record means the gate is off and everything passes.
func (e *Engine) Decide(req Request, rec *policy.Record) Decision {
	if rec == nil {
		return Decision{Verdict: VerdictAllow}
	}

	if FileMutationTools[req.ToolName] {
		return e.block(rec, fmt.Sprintf("file modification via %s is blocked", req.ToolName))
	}

	if req.ToolName == ShellTool {
		cmd, _ := req.Parameters["command"].(string)
		return e.decideShell(cmd, rec)
	}

	if rec.Strict && !SafeReadTools[req.ToolName] {
		return e.block(rec, fmt.Sprintf("tool %s is not in the strict-mode allow-list", req.ToolName))
	}
	return Decision{Verdict: VerdictAllow}
}

func (e *Engine) decideShell(cmd string, rec *policy.Record) Decision {
	trimmed := strings.TrimSpace(cmd)
	if trimmed == "" {
		return Decision{Verdict: VerdictAllow}
	}

	for _, p := range e.dangerous {
		if p.re.MatchString(trimmed) {
			return e.block(rec, fmt.Sprintf("dangerous command (%s)", p.label))
		}
	}

	if rec.Strict {
		segments, err := shellSegments(trimmed)
		if err != nil {
			// Unparseable input cannot be checked against the allow-list,
			// so strict mode refuses it.
			return e.block(rec, "command does not parse as shell and cannot be allow-listed")
		}
		for _, seg := range segments {
			if !e.segmentAllowed(seg) {
				return e.block(rec, fmt.Sprintf("command %q is not in the strict allow-list", seg))
			}
		}
	}
	return Decision{Verdict: VerdictAllow}
}

func (e *Engine) segmentAllowed(seg string) bool {
	for _, pattern := range e.allowed {
		if matchGlob(pattern, seg) {
			return true
		}
	}
	return false
}

func (e *Engine) block(rec *policy.Record, reason string) Decision {
	return Decision{
		Verdict: VerdictBlock,
		Reason: fmt.Sprintf("%s (%s mode active on project %q; run \"modeguard disable\" to lift it)",
			reason, rec.ModeType, rec.Name),
		ModeType: string(rec.ModeType),
		Project:  rec.Name,
	}
}

// shellSegments splits a command line into its simple commands so each one
// can be allow-listed individually: a pipeline like "go test ./... | tail"
// yields two segments. Parsing is used only for segmentation, never to
// judge semantics.
func shellSegments(cmd string) ([]string, error) {
	parser := syntax.NewParser()
	prog, err := parser.Parse(strings.NewReader(cmd), "")
	if err != nil {
		return nil, err
	}

	printer := syntax.NewPrinter()
	var segments []string
	syntax.Walk(prog, func(node syntax.Node) bool {
		call, ok := node.(*syntax.CallExpr)
		if !ok {
			return true
		}
		var buf bytes.Buffer
		printer.Print(&buf, call)
		if s := strings.TrimSpace(buf.String()); s != "" {
			segments = append(segments, s)
		}
		return true
	})

	if len(segments) == 0 {
		segments = []string{cmd}
	}
	return segments, nil
}

// matchGlob performs simple glob matching where "*" matches any sequence of
// characters and multiple wildcards are honored in order.
func matchGlob(pattern, value string) bool {
	if pattern == "*" {
		return true
	}
	if pattern == "" {
		return value == ""
	}
	if !strings.Contains(pattern, "*") {
		return pattern == value
	}

	parts := strings.Split(pattern, "*")
	if !strings.HasPrefix(value, parts[0]) {
		return false
	}
	remaining := value[len(parts[0]):]

	for i := 1; i < len(parts)-1; i++ {
		idx := strings.Index(remaining, parts[i])
		if idx < 0 {
			return false
		}
		remaining = remaining[idx+len(parts[i]):]
	}
	return strings.HasSuffix(remaining, parts[len(parts)-1])
}
