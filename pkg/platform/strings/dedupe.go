// Package strings provides string manipulation utilities.
package strings

import (
	"strings"
)

// DedupeNonEmpty removes duplicates and empty strings from a slice without
// altering the surviving values. The first occurrence wins, so callers control
// precedence by ordering the input.
//
// Example:
//
//	DedupeNonEmpty([]string{"a@x.com", "", "b@x.com", "a@x.com"})
//	// Returns: []string{"a@x.com", "b@x.com"}
func DedupeNonEmpty(values []string) []string {
	result := make([]string, 0, len(values))
	seen := make(map[string]struct{}, len(values))

	for _, v := range values {
		if v == "" {
			continue
		}
		if _, ok := seen[v]; !ok {
			seen[v] = struct{}{}
			result = append(result, v)
		}
	}

	return result
}

// TrimToNil trims whitespace and returns nil when nothing remains. Optional
// request fields use it so "" and "   " behave exactly like an absent value.
func TrimToNil(value *string) *string {
	if value == nil {
		return nil
	}
	trimmed := strings.TrimSpace(*value)
	if trimmed == "" {
		return nil
	}
	return &trimmed
}
