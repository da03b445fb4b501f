// Package inputcheck validates raw JSON arriving at the invocation
// boundaries before any field of it is trusted.
package inputcheck

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

// DefaultMaxBytes bounds the size of a hook payload.
const DefaultMaxBytes = 32 * 1024

var (
	// ErrTooLarge means the blob exceeds the size bound.
	ErrTooLarge = errors.New("input too large")
	// ErrMalformed means the blob is not valid JSON.
	ErrMalformed = errors.New("malformed JSON input")
	// ErrSuspicious means the raw text contains shell-metacharacter
	// sequences. Defense in depth: a field value that later gets
	// interpolated into a shell command elsewhere must never carry these.
	ErrSuspicious = errors.New("suspicious content in input")
)

// suspiciousSequences are scanned over the raw blob, pre-parse. The check is
// skipped for the command field of a shell invocation by the caller handing
// us only the envelope; here we look at everything we are given.
var suspiciousSequences = []string{"$(", "`", "eval", "exec", ";", "&&", "||"}

// CheckJSON validates size and syntax of blob and scans it for injection
// sequences. On success it returns the parsed top-level object.
func CheckJSON(blob []byte, maxBytes int) (map[string]any, error) {
	if maxBytes <= 0 {
		maxBytes = DefaultMaxBytes
	}
	if len(blob) > maxBytes {
		return nil, fmt.Errorf("%w: %d bytes (limit %d)", ErrTooLarge, len(blob), maxBytes)
	}
	var doc map[string]any
	if err := json.Unmarshal(blob, &doc); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	if seq, found := scanSuspicious(string(blob)); found {
		return nil, fmt.Errorf("%w: contains %q", ErrSuspicious, seq)
	}
	return doc, nil
}

// CheckJSONLoose is CheckJSON without the suspicious-content scan. The
// pre-invocation boundary uses it for shell-tool payloads, whose command
// field legitimately contains metacharacters; the decision engine judges
// those on its own terms.
func CheckJSONLoose(blob []byte, maxBytes int) (map[string]any, error) {
	if maxBytes <= 0 {
		maxBytes = DefaultMaxBytes
	}
	if len(blob) > maxBytes {
		return nil, fmt.Errorf("%w: %d bytes (limit %d)", ErrTooLarge, len(blob), maxBytes)
	}
	var doc map[string]any
	if err := json.Unmarshal(blob, &doc); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	return doc, nil
}

func scanSuspicious(text string) (string, bool) {
	for _, seq := range suspiciousSequences {
		if strings.Contains(text, seq) {
			return seq, true
		}
	}
	return "", false
}
