// Package identity derives and validates the project identity that scopes
// every policy decision. A project is identified by the pair (name, absolute
// path); the name alone is never enough, since two unrelated checkouts can
// share a basename.
package identity

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"
)

// MaxPathLen is the longest path accepted anywhere in the gate.
const MaxPathLen = 4096

var (
	// ErrTooLong means the path exceeds MaxPathLen.
	ErrTooLong = errors.New("path too long")
	// ErrTraversal means the path contains a parent-directory traversal.
	ErrTraversal = errors.New("path traversal")
	// ErrNotAbsolute means the path is relative.
	ErrNotAbsolute = errors.New("path not absolute")
	// ErrDangerousChars means the path contains control characters or
	// shell metacharacters.
	ErrDangerousChars = errors.New("dangerous characters in path")
	// ErrNotADirectory means the path does not resolve to an existing directory.
	ErrNotADirectory = errors.New("not an existing directory")
	// ErrBadName means the project name violates the identifier rules.
	ErrBadName = errors.New("invalid project name")
)

var nameRe = regexp.MustCompile(`^[A-Za-z0-9_-]{1,255}$`)

// reservedNames are tokens that must never be used as a project name.
// The device-like names guard against status files landing on special
// filenames when a tree is synced to other filesystems.
var reservedNames = map[string]bool{
	"":    true,
	".":   true,
	"..":  true,
	"con": true, "prn": true, "aux": true, "nul": true,
	"com1": true, "com2": true, "com3": true, "com4": true,
	"com5": true, "com6": true, "com7": true, "com8": true, "com9": true,
	"lpt1": true, "lpt2": true, "lpt3": true, "lpt4": true,
	"lpt5": true, "lpt6": true, "lpt7": true, "lpt8": true, "lpt9": true,
}

// ProjectIdentity names one project checkout. Consumers must compare both
// fields; matching Name with a different AbsolutePath is a different project.
type ProjectIdentity struct {
	Name         string `json:"project_name"`
	AbsolutePath string `json:"project_path"`
}

// Equal reports whether two identities refer to the same checkout.
func (p ProjectIdentity) Equal(other ProjectIdentity) bool {
	return p.Name == other.Name && p.AbsolutePath == other.AbsolutePath
}

// FromPath validates path and derives the project identity from its final
// segment.
func FromPath(path string) (ProjectIdentity, error) {
	if err := ValidatePath(path); err != nil {
		return ProjectIdentity{}, err
	}
	name := filepath.Base(path)
	if err := ValidateName(name); err != nil {
		return ProjectIdentity{}, err
	}
	return ProjectIdentity{Name: name, AbsolutePath: filepath.Clean(path)}, nil
}

// ValidatePath checks that path is a well-formed absolute path to an existing
// directory, free of traversal sequences and shell metacharacters.
func ValidatePath(path string) error {
	if len(path) > MaxPathLen {
		return fmt.Errorf("%w: %d chars", ErrTooLong, len(path))
	}
	if hasTraversal(path) {
		return fmt.Errorf("%w: %q", ErrTraversal, path)
	}
	if !strings.HasPrefix(path, "/") {
		return fmt.Errorf("%w: %q", ErrNotAbsolute, path)
	}
	if reason, bad := dangerousPathChars(path); bad {
		return fmt.Errorf("%w: %s", ErrDangerousChars, reason)
	}
	info, err := os.Stat(path)
	if err != nil || !info.IsDir() {
		return fmt.Errorf("%w: %q", ErrNotADirectory, path)
	}
	return nil
}

// ValidateName checks the identifier rules for a project name: the allowed
// charset, the length bound, and the reserved-token list.
func ValidateName(name string) error {
	if reservedNames[strings.ToLower(name)] {
		return fmt.Errorf("%w: %q is reserved", ErrBadName, name)
	}
	if !nameRe.MatchString(name) {
		return fmt.Errorf("%w: %q", ErrBadName, name)
	}
	return nil
}

func hasTraversal(path string) bool {
	return strings.Contains(path, "../") ||
		strings.Contains(path, "/../") ||
		strings.HasSuffix(path, "/..") ||
		path == ".."
}

func dangerousPathChars(path string) (string, bool) {
	for _, r := range path {
		if r < 0x20 || r == 0x7f {
			return fmt.Sprintf("control character 0x%02x", r), true
		}
	}
	switch {
	case strings.Contains(path, "$("):
		return "command substitution", true
	case strings.Contains(path, "`"):
		return "backtick", true
	case strings.Contains(path, "|"):
		return "pipe", true
	}
	return "", false
}
