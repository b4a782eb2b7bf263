package drg

import (
	"fmt"
	"strings"
)

// ExactMatch reports whether two clinical codes are identical. Empty codes never match.
func ExactMatch(a, b string) bool {
	if a == "" || b == "" {
		return false
	}
	return a == b
}

// ExactMatchIgnoreCase is ExactMatch with case folding.
func ExactMatchIgnoreCase(a, b string) bool {
	if a == "" || b == "" {
		return false
	}
	return strings.EqualFold(a, b)
}

// IsValidCode reports whether c holds anything besides whitespace.
func IsValidCode(c string) bool {
	return strings.TrimSpace(c) != ""
}

// CodeMatchMode selects how patient codes are compared to catalog codes.
type CodeMatchMode int

const (
	CodeMatchExact CodeMatchMode = iota
	CodeMatchIgnoreCase
)

// Match compares a and b under the mode.
func (m CodeMatchMode) Match(a, b string) bool {
	if m == CodeMatchIgnoreCase {
		return ExactMatchIgnoreCase(a, b)
	}
	return ExactMatch(a, b)
}

func (m CodeMatchMode) String() string {
	switch m {
	case CodeMatchExact:
		return "exact"
	case CodeMatchIgnoreCase:
		return "ignore-case"
	default:
		return fmt.Sprintf("CodeMatchMode(%d)", int(m))
	}
}

// ParseCodeMatchMode maps a configuration value to a mode. The empty string means exact.
func ParseCodeMatchMode(s string) (CodeMatchMode, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "exact":
		return CodeMatchExact, nil
	case "ignore-case", "ignorecase", "case-insensitive":
		return CodeMatchIgnoreCase, nil
	default:
		return CodeMatchExact, fmt.Errorf("unknown code match mode %q", s)
	}
}
