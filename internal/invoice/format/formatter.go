package format

import (
	"fmt"
	"strings"
)

const DefaultReferencePrefix = "TUI"

// FormatReferenceCode formats a human-readable invoice reference code from a
// prefix and a monotonic sequence, e.g. "TUI-000042".
//
// This function is PURE:
// - No side effects
// - No DB access
// - Fully deterministic
func FormatReferenceCode(prefix string, seq int64) (string, error) {
	prefix = strings.TrimSpace(prefix)
	if prefix == "" {
		prefix = DefaultReferencePrefix
	}

	if seq <= 0 {
		return "", fmt.Errorf("invalid reference sequence: %d", seq)
	}

	return fmt.Sprintf("%s-%06d", prefix, seq), nil
}
