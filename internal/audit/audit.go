// Package audit appends structured gate events to per-project log files and
// flags bursts of rejected attempts. Log files are only ever appended or
// rotated, never rewritten in place.
package audit

import (
	"bufio"
	"compress/gzip"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/oklog/ulid/v2"
)

// Outcomes recorded on events.
const (
	OutcomeAllowed   = "allowed"
	OutcomeBlocked   = "blocked"
	OutcomeCompleted = "completed"
	OutcomeFailed    = "failed"
	OutcomeAnomaly   = "anomaly"
	OutcomeSecurity  = "security"
)

// Severities for security events.
const (
	SevError    = "ERROR"
	SevCritical = "CRITICAL"
)

// Event is one immutable audit record, serialized as a single JSON line.
type Event struct {
	ID        string    `json:"id"`
	Timestamp time.Time `json:"timestamp"`
	SessionID string    `json:"session_id,omitempty"`
	ToolName  string    `json:"tool_name,omitempty"`
	Project   string    `json:"project_name"`
	Outcome   string    `json:"outcome"`
	ModeType  string    `json:"mode_type,omitempty"`
	LatencyMS int64     `json:"latency_ms"`
	Severity  string    `json:"severity,omitempty"`
	Detail    string    `json:"detail,omitempty"`
}

// Logger appends events for one gate instance. The zero value is not usable;
// construct with New.
type Logger struct {
	dir           string
	rotateBytes   int64
	retentionDays int
	now           func() time.Time
	diag          *slog.Logger
}

// New creates a logger writing under dir. rotateBytes and retentionDays of
// zero select the defaults (1 MiB, 30 days).
func New(dir string, rotateBytes int64, retentionDays int) *Logger {
	if rotateBytes <= 0 {
		rotateBytes = 1 << 20
	}
	if retentionDays <= 0 {
		retentionDays = 30
	}
	return &Logger{
		dir:           dir,
		rotateBytes:   rotateBytes,
		retentionDays: retentionDays,
		now:           time.Now,
		diag:          slog.New(slog.NewTextHandler(os.Stderr, nil)),
	}
}

// SetClock overrides the time source. Tests only.
func (l *Logger) SetClock(now func() time.Time) { l.now = now }

// LogPath returns the current (non-rotated) log file for a project.
func (l *Logger) LogPath(project string) string {
	return filepath.Join(l.dir, project+".log")
}

// Record appends one event. It never returns an error and never panics:
// the audit path must not be able to abort the caller. Internal failures
// are reported on the diagnostic stderr channel and otherwise swallowed.
func (l *Logger) Record(ev Event) {
	defer func() {
		if r := recover(); r != nil {
			l.diag.Error("audit record panic", "panic", fmt.Sprint(r))
		}
	}()

	if ev.ID == "" {
		ev.ID = ulid.Make().String()
	}
	if ev.Timestamp.IsZero() {
		ev.Timestamp = l.now()
	}
	if ev.Project == "" {
		ev.Project = "unknown"
	}

	if err := l.append(ev); err != nil {
		l.diag.Error("audit record failed", "project", ev.Project, "err", err)
	}
}

// Security records a validator or engine security event.
func (l *Logger) Security(project, severity, detail string) {
	l.Record(Event{
		Project:  project,
		Outcome:  OutcomeSecurity,
		Severity: severity,
		Detail:   detail,
	})
	if severity == SevCritical {
		l.diag.Warn("security event", "project", project, "detail", detail)
	}
}

func (l *Logger) append(ev Event) error {
	if err := os.MkdirAll(l.dir, 0o700); err != nil {
		return fmt.Errorf("create log dir: %w", err)
	}

	path := l.LogPath(ev.Project)
	if err := l.rotateIfNeeded(path, ev.Project); err != nil {
		// Rotation trouble must not lose the event itself.
		l.diag.Error("audit rotate failed", "project", ev.Project, "err", err)
	}

	line, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}

	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o600)
	if err != nil {
		return fmt.Errorf("open log: %w", err)
	}
	defer f.Close()

	if _, err := f.Write(append(line, '\n')); err != nil {
		return fmt.Errorf("append event: %w", err)
	}
	return nil
}

// rotateIfNeeded archives the current file when it exceeds the size
// threshold and prunes archives past the retention window.
func (l *Logger) rotateIfNeeded(path, project string) error {
	info, err := os.Stat(path)
	if err != nil {
		if os.IsNotExist(err) {
			return l.pruneArchives(project)
		}
		return err
	}
	if info.Size() < l.rotateBytes {
		return l.pruneArchives(project)
	}

	stamp := l.now().UTC().Format("20060102-150405")
	archive := filepath.Join(l.dir, fmt.Sprintf("%s-%s.log.gz", project, stamp))
	if err := gzipFile(path, archive); err != nil {
		return fmt.Errorf("archive log: %w", err)
	}
	if err := os.Remove(path); err != nil {
		return fmt.Errorf("remove rotated log: %w", err)
	}
	return l.pruneArchives(project)
}

func (l *Logger) pruneArchives(project string) error {
	cutoff := l.now().Add(-time.Duration(l.retentionDays) * 24 * time.Hour)
	entries, err := os.ReadDir(l.dir)
	if err != nil {
		return err
	}
	for _, e := range entries {
		name := e.Name()
		if !strings.HasPrefix(name, project+"-") || !strings.HasSuffix(name, ".log.gz") {
			continue
		}
		info, err := e.Info()
		if err != nil {
			continue
		}
		if info.ModTime().Before(cutoff) {
			if err := os.Remove(filepath.Join(l.dir, name)); err != nil {
				l.diag.Error("audit prune failed", "file", name, "err", err)
			}
		}
	}
	return nil
}

func gzipFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	out, err := os.OpenFile(dst, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o600)
	if err != nil {
		return err
	}
	defer out.Close()

	zw := gzip.NewWriter(out)
	if _, err := io.Copy(zw, in); err != nil {
		return err
	}
	return zw.Close()
}

// DetectBurst scans recent blocked events for toolName in the project's
// current log. When more than threshold blocks fall within the trailing
// window, it appends a higher-severity anomaly event and reports true.
// A heuristic only: its sole effect is the extra log entry.
func (l *Logger) DetectBurst(project, toolName string, window time.Duration, threshold int) bool {
	if window <= 0 {
		window = 5 * time.Minute
	}
	if threshold <= 0 {
		threshold = 10
	}

	count := l.countRecentBlocks(project, toolName, l.now().Add(-window))
	if count <= threshold {
		return false
	}

	detail := fmt.Sprintf("%d blocked %s attempts within %s", count, toolName, window)
	l.Record(Event{
		Project:  project,
		ToolName: toolName,
		Outcome:  OutcomeAnomaly,
		Severity: SevCritical,
		Detail:   detail,
	})
	l.diag.Warn("blocked-attempt burst", "project", project, "tool", toolName, "count", count)
	return true
}

func (l *Logger) countRecentBlocks(project, toolName string, since time.Time) int {
	f, err := os.Open(l.LogPath(project))
	if err != nil {
		return 0
	}
	defer f.Close()

	count := 0
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 1<<20)
	for scanner.Scan() {
		var ev Event
		if err := json.Unmarshal(scanner.Bytes(), &ev); err != nil {
			continue
		}
		if ev.Outcome == OutcomeBlocked && ev.ToolName == toolName && ev.Timestamp.After(since) {
			count++
		}
	}
	return count
}

// Archives lists a project's rotated log files, oldest first.
func (l *Logger) Archives(project string) ([]string, error) {
	entries, err := os.ReadDir(l.dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}
	var names []string
	for _, e := range entries {
		name := e.Name()
		if strings.HasPrefix(name, project+"-") && strings.HasSuffix(name, ".log.gz") {
			names = append(names, filepath.Join(l.dir, name))
		}
	}
	sort.Strings(names)
	return names, nil
}
