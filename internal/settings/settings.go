// Package settings splices the gate's hook registration and environment
// keys into the host's shared settings.json, and removes them again. The
// splices themselves are pure document transforms; Mutator wraps them with
// validation, backup and atomic replacement.
//
// The gate owns exactly two things inside the document: hook groups whose
// command starts with "modeguard hook", and env keys prefixed MODEGUARD_.
// Everything else is preserved untouched.
package settings

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"
)

// HookEntry is a single hook command registration.
type HookEntry struct {
	Type    string `json:"type"`
	Command string `json:"command"`
	Timeout int    `json:"timeout,omitempty"`
}

// HookGroup is one matcher plus its hook commands.
type HookGroup struct {
	Matcher string      `json:"matcher,omitempty"`
	Hooks   []HookEntry `json:"hooks"`
}

const (
	hookCommandPrefix = "modeguard hook"
	preHookCommand    = "modeguard hook pre"
	postHookCommand   = "modeguard hook post"

	envMode         = "MODEGUARD_MODE"
	envModeProject  = "MODEGUARD_MODE_PROJECT"
	envModePath     = "MODEGUARD_MODE_PATH"
	envModeScope    = "MODEGUARD_MODE_SCOPE"
	envModeStrict   = "MODEGUARD_MODE_STRICT"
	envModeDuration = "MODEGUARD_MODE_DURATION"
)

// hookEvents are the two invocation boundaries the gate registers on.
var hookEvents = []string{"PreToolUse", "PostToolUse"}

// EnableParams describes one activation, written into the env block so
// downstream prompt collaborators can display the active mode.
type EnableParams struct {
	ProjectName string
	ProjectPath string
	Scope       string
	Strict      bool
	Duration    string
}

// StageError names the exact stage at which a document mutation failed, so
// activation failures are reported precisely rather than generically.
type StageError struct {
	Stage string
	Err   error
}

func (e *StageError) Error() string { return fmt.Sprintf("stage %s: %v", e.Stage, e.Err) }
func (e *StageError) Unwrap() error { return e.Err }

func stageErr(stage string, err error) error { return &StageError{Stage: stage, Err: err} }

// Enable is the pure enable transform: document in, document out, no I/O.
// Any stale gate registration is replaced, unrelated keys survive.
func Enable(doc map[string]any, p EnableParams) (map[string]any, error) {
	out, err := cloneDocument(doc)
	if err != nil {
		return nil, err
	}

	hooks := hooksSection(out)
	for _, event := range hookEvents {
		groups := foreignGroups(hooks, event)
		cmd := preHookCommand
		if event == "PostToolUse" {
			cmd = postHookCommand
		}
		groups = append(groups, map[string]any{
			"matcher": "*",
			"hooks": []any{
				map[string]any{"type": "command", "command": cmd},
			},
		})
		hooks[event] = groups
	}
	out["hooks"] = hooks

	env := envSection(out)
	env[envMode] = "test"
	env[envModeProject] = p.ProjectName
	env[envModePath] = p.ProjectPath
	env[envModeScope] = p.Scope
	env[envModeStrict] = fmt.Sprintf("%t", p.Strict)
	env[envModeDuration] = p.Duration
	out["env"] = env

	return out, nil
}

// Disable is the pure disable transform: it strips every gate-owned hook
// group and env key, dropping sections that end up empty.
func Disable(doc map[string]any) (map[string]any, error) {
	out, err := cloneDocument(doc)
	if err != nil {
		return nil, err
	}

	if hooks, ok := out["hooks"].(map[string]any); ok {
		for _, event := range hookEvents {
			groups := foreignGroups(hooks, event)
			if len(groups) == 0 {
				delete(hooks, event)
			} else {
				hooks[event] = groups
			}
		}
		if len(hooks) == 0 {
			delete(out, "hooks")
		}
	}

	if env, ok := out["env"].(map[string]any); ok {
		for key := range env {
			if strings.HasPrefix(key, "MODEGUARD_") {
				delete(env, key)
			}
		}
		if len(env) == 0 {
			delete(out, "env")
		}
	}
	return out, nil
}

// Registered reports whether the document carries the gate's pre-invocation
// hook.
func Registered(doc map[string]any) bool {
	hooks, ok := doc["hooks"].(map[string]any)
	if !ok {
		return false
	}
	groups, ok := hooks["PreToolUse"].([]any)
	if !ok {
		return false
	}
	for _, g := range groups {
		group, ok := g.(map[string]any)
		if ok && groupIsOurs(group) {
			return true
		}
	}
	return false
}

// foreignGroups returns the event's hook groups that do not belong to the
// gate, preserving their order.
func foreignGroups(hooks map[string]any, event string) []any {
	groups, ok := hooks[event].([]any)
	if !ok {
		return nil
	}
	var kept []any
	for _, g := range groups {
		group, ok := g.(map[string]any)
		if !ok || !groupIsOurs(group) {
			kept = append(kept, g)
		}
	}
	return kept
}

func groupIsOurs(group map[string]any) bool {
	entries, ok := group["hooks"].([]any)
	if !ok {
		return false
	}
	for _, e := range entries {
		entry, ok := e.(map[string]any)
		if !ok {
			continue
		}
		if cmd, ok := entry["command"].(string); ok && strings.HasPrefix(cmd, hookCommandPrefix) {
			return true
		}
	}
	return false
}

func hooksSection(doc map[string]any) map[string]any {
	if hooks, ok := doc["hooks"].(map[string]any); ok {
		return hooks
	}
	return make(map[string]any)
}

func envSection(doc map[string]any) map[string]any {
	if env, ok := doc["env"].(map[string]any); ok {
		return env
	}
	return make(map[string]any)
}

// cloneDocument deep-copies via a JSON round trip so the transforms never
// alias the caller's document.
func cloneDocument(doc map[string]any) (map[string]any, error) {
	if doc == nil {
		return make(map[string]any), nil
	}
	data, err := json.Marshal(doc)
	if err != nil {
		return nil, fmt.Errorf("clone document: %w", err)
	}
	var out map[string]any
	if err := json.Unmarshal(data, &out); err != nil {
		return nil, fmt.Errorf("clone document: %w", err)
	}
	return out, nil
}

// Mutator applies document transforms to the settings file on disk with
// backup-before-write and atomic replacement.
type Mutator struct {
	path       string
	backupDir  string
	backupKeep int
	now        func() time.Time
}

// NewMutator creates a mutator for the settings file at path, keeping at
// most backupKeep snapshots under backupDir.
func NewMutator(path, backupDir string, backupKeep int) *Mutator {
	if backupKeep <= 0 {
		backupKeep = 10
	}
	return &Mutator{path: path, backupDir: backupDir, backupKeep: backupKeep, now: time.Now}
}

// SetClock overrides the time source. Tests only.
func (m *Mutator) SetClock(now func() time.Time) { m.now = now }

// Load reads and parses the current document. A missing file is an empty
// document; a present-but-broken file is an error.
func (m *Mutator) Load() (map[string]any, error) {
	data, err := os.ReadFile(m.path)
	if err != nil {
		if os.IsNotExist(err) {
			return make(map[string]any), nil
		}
		return nil, fmt.Errorf("read settings: %w", err)
	}
	doc, err := parseDocument(data)
	if err != nil {
		return nil, err
	}
	return doc, nil
}

// Apply runs one transform against the on-disk document: validate existing,
// back it up, compute the candidate, validate the candidate, then atomically
// replace the file. A failure at any stage leaves the original file
// byte-identical and is reported as a StageError naming that stage.
func (m *Mutator) Apply(transform func(map[string]any) (map[string]any, error)) error {
	var existing map[string]any
	data, err := os.ReadFile(m.path)
	switch {
	case err == nil:
		existing, err = parseDocument(data)
		if err != nil {
			return stageErr("validate-existing", err)
		}
		if err := m.backup(data); err != nil {
			return stageErr("backup", err)
		}
	case os.IsNotExist(err):
		existing = make(map[string]any)
	default:
		return stageErr("read-existing", err)
	}

	candidate, err := transform(existing)
	if err != nil {
		return stageErr("compute-candidate", err)
	}
	if candidate == nil {
		return stageErr("validate-candidate", errors.New("candidate document is nil"))
	}

	encoded, err := json.MarshalIndent(candidate, "", "  ")
	if err != nil {
		return stageErr("encode-candidate", err)
	}
	if _, err := parseDocument(encoded); err != nil {
		return stageErr("validate-candidate", err)
	}

	if err := m.writeAtomic(encoded); err != nil {
		return stageErr("write", err)
	}
	return nil
}

// parseDocument enforces the only shape the gate will touch: valid JSON
// whose top level is an object.
func parseDocument(data []byte) (map[string]any, error) {
	var doc map[string]any
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("settings document is not a JSON object: %w", err)
	}
	return doc, nil
}

func (m *Mutator) writeAtomic(data []byte) error {
	dir := filepath.Dir(m.path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create settings dir: %w", err)
	}
	tmp, err := os.CreateTemp(dir, ".settings-*.tmp")
	if err != nil {
		return fmt.Errorf("create temp settings: %w", err)
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName)

	if _, err := tmp.Write(append(data, '\n')); err != nil {
		tmp.Close()
		return fmt.Errorf("write temp settings: %w", err)
	}
	if err := tmp.Chmod(0o644); err != nil {
		tmp.Close()
		return fmt.Errorf("chmod temp settings: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close temp settings: %w", err)
	}
	if err := os.Rename(tmpName, m.path); err != nil {
		return fmt.Errorf("commit settings: %w", err)
	}
	return nil
}

// backup snapshots the current document bytes under a timestamped name and
// prunes snapshots beyond the retention cap, oldest first.
func (m *Mutator) backup(data []byte) error {
	if err := os.MkdirAll(m.backupDir, 0o700); err != nil {
		return fmt.Errorf("create backup dir: %w", err)
	}
	name := fmt.Sprintf("settings-%s.json", m.now().UTC().Format("20060102-150405.000000000"))
	if err := os.WriteFile(filepath.Join(m.backupDir, name), data, 0o600); err != nil {
		return fmt.Errorf("write backup: %w", err)
	}
	return m.pruneBackups()
}

func (m *Mutator) pruneBackups() error {
	entries, err := os.ReadDir(m.backupDir)
	if err != nil {
		return err
	}
	var names []string
	for _, e := range entries {
		if strings.HasPrefix(e.Name(), "settings-") && strings.HasSuffix(e.Name(), ".json") {
			names = append(names, e.Name())
		}
	}
	// Timestamped names sort chronologically.
	sort.Strings(names)
	for len(names) > m.backupKeep {
		if err := os.Remove(filepath.Join(m.backupDir, names[0])); err != nil {
			return fmt.Errorf("prune backup: %w", err)
		}
		names = names[1:]
	}
	return nil
}

// Prune applies the backup retention cap without taking a new snapshot.
// A missing backup directory is fine.
func (m *Mutator) Prune() error {
	if _, err := os.Stat(m.backupDir); os.IsNotExist(err) {
		return nil
	}
	return m.pruneBackups()
}

// Backups lists the snapshot files, oldest first.
func (m *Mutator) Backups() ([]string, error) {
	entries, err := os.ReadDir(m.backupDir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}
	var names []string
	for _, e := range entries {
		if strings.HasPrefix(e.Name(), "settings-") && strings.HasSuffix(e.Name(), ".json") {
			names = append(names, filepath.Join(m.backupDir, e.Name()))
		}
	}
	sort.Strings(names)
	return names, nil
}
