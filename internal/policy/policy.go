// Package policy owns the per-project status records: where they live, what
// a valid one looks like, which one is effective, and when one is garbage.
// No other component touches these files directly.
package policy

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/modeguard/modeguard/internal/identity"
)

// Scope is the coarse partition a policy nominally applies to. Advisory:
// the decision engine does not branch on it.
type Scope string

// Valid scopes.
const (
	ScopeAll      Scope = "all"
	ScopeBackend  Scope = "backend"
	ScopeFrontend Scope = "frontend"
)

// ModeType distinguishes project-scoped records from user-scoped ones.
// Project-scoped records take precedence.
type ModeType string

// Valid mode types.
const (
	ModeProject ModeType = "project"
	ModeUser    ModeType = "user"
)

// ErrStale marks a record that disagrees with the live project context and
// was (or should be) self-healed by deletion.
var ErrStale = errors.New("stale policy record")

// ErrInvalidRecord marks a record that fails shape validation before it is
// ever trusted.
var ErrInvalidRecord = errors.New("invalid policy record")

// Record is the persisted per-project policy state.
type Record struct {
	identity.ProjectIdentity
	Active    bool       `json:"active"`
	Scope     Scope      `json:"scope"`
	Strict    bool       `json:"strict"`
	ModeType  ModeType   `json:"mode_type"`
	StartedAt time.Time  `json:"started_at"`
	ExpiresAt *time.Time `json:"expires_at,omitempty"`
}

// Expired reports whether the record's lifetime has lapsed at now.
func (r *Record) Expired(now time.Time) bool {
	return r.ExpiresAt != nil && now.After(*r.ExpiresAt)
}

// ValidScope reports whether s is one of the known scopes.
func ValidScope(s Scope) bool {
	return s == ScopeAll || s == ScopeBackend || s == ScopeFrontend
}

// ValidModeType reports whether m is one of the known mode types.
func ValidModeType(m ModeType) bool {
	return m == ModeProject || m == ModeUser
}

// Store reads and writes status records under a single directory.
type Store struct {
	dir string
	now func() time.Time
}

// NewStore creates a store rooted at dir.
func NewStore(dir string) *Store {
	return &Store{dir: dir, now: time.Now}
}

// SetClock overrides the time source. Tests only.
func (s *Store) SetClock(now func() time.Time) { s.now = now }

// StatusPath is the deterministic record location for one
// (identity, modeType) pair. Pure; no I/O.
func (s *Store) StatusPath(id identity.ProjectIdentity, mode ModeType) string {
	return filepath.Join(s.dir, fmt.Sprintf("%s-%s.json", mode, id.Name))
}

// Validate checks a record's shape and its agreement with the live identity.
// Any failure here means the record must not be trusted; most failures also
// mean it is stale and should be deleted.
func Validate(rec *Record, live identity.ProjectIdentity, now time.Time) error {
	if rec.Name == "" || rec.AbsolutePath == "" {
		return fmt.Errorf("%w: missing identity fields", ErrInvalidRecord)
	}
	if !ValidScope(rec.Scope) {
		return fmt.Errorf("%w: unknown scope %q", ErrInvalidRecord, rec.Scope)
	}
	if !ValidModeType(rec.ModeType) {
		return fmt.Errorf("%w: unknown mode type %q", ErrInvalidRecord, rec.ModeType)
	}
	if rec.StartedAt.IsZero() {
		return fmt.Errorf("%w: missing started_at", ErrInvalidRecord)
	}
	if !rec.Active {
		return fmt.Errorf("%w: record marked inactive", ErrStale)
	}
	// Exact path equality, not just name equality: two checkouts can share
	// a basename.
	if !rec.ProjectIdentity.Equal(live) {
		return fmt.Errorf("%w: record for %q, live project is %q",
			ErrStale, rec.AbsolutePath, live.AbsolutePath)
	}
	if rec.Expired(now) {
		return fmt.Errorf("%w: expired at %s", ErrStale, rec.ExpiresAt.Format(time.RFC3339))
	}
	return nil
}

// LoadEffective resolves the single record governing decisions for live:
// a valid project-scoped record wins over a valid user-scoped one; a
// dormant-but-valid user record is left untouched. Candidates that fail
// validation are deleted as a side effect (self-healing). Returns nil when
// no policy is active.
func (s *Store) LoadEffective(live identity.ProjectIdentity) (*Record, error) {
	for _, mode := range []ModeType{ModeProject, ModeUser} {
		rec, err := s.loadCandidate(s.StatusPath(live, mode), live)
		if err != nil {
			return nil, err
		}
		if rec != nil {
			return rec, nil
		}
	}
	return nil, nil
}

// loadCandidate reads one record file as a whole (atomic snapshot: a single
// read, then parse) and validates it. Invalid or stale candidates are
// removed; a missing file is simply no candidate.
func (s *Store) loadCandidate(path string, live identity.ProjectIdentity) (*Record, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("read status record: %w", err)
	}

	var rec Record
	if err := json.Unmarshal(data, &rec); err != nil {
		s.remove(path)
		return nil, nil
	}
	if err := Validate(&rec, live, s.now()); err != nil {
		s.remove(path)
		return nil, nil
	}
	return &rec, nil
}

// Write validates then atomically persists rec (temp file + rename) with
// owner-only permissions. Any prior record of the same modeType and
// identity is overwritten.
func (s *Store) Write(rec *Record) error {
	if err := Validate(rec, rec.ProjectIdentity, s.now()); err != nil {
		return err
	}
	if err := os.MkdirAll(s.dir, 0o700); err != nil {
		return fmt.Errorf("create status dir: %w", err)
	}

	data, err := json.MarshalIndent(rec, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal status record: %w", err)
	}

	path := s.StatusPath(rec.ProjectIdentity, rec.ModeType)
	tmp, err := os.CreateTemp(s.dir, "."+filepath.Base(path)+".tmp-")
	if err != nil {
		return fmt.Errorf("create temp record: %w", err)
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName)

	if _, err := tmp.Write(append(data, '\n')); err != nil {
		tmp.Close()
		return fmt.Errorf("write temp record: %w", err)
	}
	if err := tmp.Chmod(0o600); err != nil {
		tmp.Close()
		return fmt.Errorf("chmod temp record: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close temp record: %w", err)
	}
	if err := os.Rename(tmpName, path); err != nil {
		return fmt.Errorf("commit status record: %w", err)
	}
	return nil
}

// Delete removes the record for one (identity, modeType) pair. Removing a
// record that does not exist is not an error.
func (s *Store) Delete(id identity.ProjectIdentity, mode ModeType) error {
	err := os.Remove(s.StatusPath(id, mode))
	if err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("delete status record: %w", err)
	}
	return nil
}

// CleanupStale validates both candidate records for live and deletes every
// one that fails. Idempotent and safe on an empty store; records belonging
// to other projects are never touched. Returns the paths removed.
func (s *Store) CleanupStale(live identity.ProjectIdentity) ([]string, error) {
	var removed []string
	for _, mode := range []ModeType{ModeProject, ModeUser} {
		path := s.StatusPath(live, mode)
		data, err := os.ReadFile(path)
		if err != nil {
			if os.IsNotExist(err) {
				continue
			}
			return removed, fmt.Errorf("read status record: %w", err)
		}

		var rec Record
		if err := json.Unmarshal(data, &rec); err != nil {
			s.remove(path)
			removed = append(removed, path)
			continue
		}
		if err := Validate(&rec, live, s.now()); err != nil {
			s.remove(path)
			removed = append(removed, path)
		}
	}
	return removed, nil
}

func (s *Store) remove(path string) {
	// Best effort: a record we cannot delete is still treated as absent by
	// the caller.
	_ = os.Remove(path)
}
