// Package probe implements the read-only data probes the engine queries
// while interpreting a recipe. Every statement passes EnsureReadOnly before
// leaving the process; the probe is the one place the system touches live
// data and it must never mutate it.
package probe

import (
	"errors"
	"fmt"
	"strings"
)

// ErrNotReadOnly rejects a statement that is not a plain SELECT.
var ErrNotReadOnly = errors.New("probe: statement is not a read-only SELECT")

// forbiddenKeywords are rejected anywhere in the statement, even inside a
// SELECT, to keep stacked or nested mutations out.
var forbiddenKeywords = []string{
	"INSERT", "UPDATE", "DELETE", "DROP", "CREATE",
	"ALTER", "TRUNCATE", "GRANT", "REVOKE",
}

// EnsureReadOnly verifies that sqlText is a single SELECT statement with no
// mutating keyword anywhere in it.
func EnsureReadOnly(sqlText string) error {
	s := strings.TrimSpace(sqlText)
	if s == "" {
		return fmt.Errorf("%w: empty statement", ErrNotReadOnly)
	}
	upper := strings.ToUpper(s)
	if !strings.HasPrefix(upper, "SELECT") {
		return fmt.Errorf("%w: statement must start with SELECT", ErrNotReadOnly)
	}
	for _, kw := range forbiddenKeywords {
		if containsWord(upper, kw) {
			return fmt.Errorf("%w: forbidden keyword %s", ErrNotReadOnly, kw)
		}
	}
	return nil
}

// containsWord reports whether upper contains kw as a whole word, so column
// names like last_update do not trip the guard.
func containsWord(upper, kw string) bool {
	for start := 0; ; {
		i := strings.Index(upper[start:], kw)
		if i < 0 {
			return false
		}
		i += start
		before := i == 0 || !isWordByte(upper[i-1])
		afterIdx := i + len(kw)
		after := afterIdx >= len(upper) || !isWordByte(upper[afterIdx])
		if before && after {
			return true
		}
		start = i + 1
	}
}

func isWordByte(b byte) bool {
	return b == '_' || b >= 'A' && b <= 'Z' || b >= 'a' && b <= 'z' || b >= '0' && b <= '9'
}
