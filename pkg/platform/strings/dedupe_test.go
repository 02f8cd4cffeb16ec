package strings

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestDedupeNonEmpty(t *testing.T) {
	tests := []struct {
		name     string
		input    []string
		expected []string
	}{
		{
			name:     "nil slice",
			input:    nil,
			expected: []string{},
		},
		{
			name:     "single element",
			input:    []string{"111"},
			expected: []string{"111"},
		},
		{
			name:     "removes duplicates preserving first occurrence",
			input:    []string{"b", "a", "b", "c", "a"},
			expected: []string{"b", "a", "c"},
		},
		{
			name:     "removes empty strings",
			input:    []string{"a", "", "b", ""},
			expected: []string{"a", "b"},
		},
		{
			name:     "does not trim or fold case",
			input:    []string{"A@x.com", "a@x.com", " a@x.com"},
			expected: []string{"A@x.com", "a@x.com", " a@x.com"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, DedupeNonEmpty(tt.input))
		})
	}
}

func TestTrimToNil(t *testing.T) {
	ptr := func(s string) *string { return &s }

	tests := []struct {
		name     string
		input    *string
		expected *string
	}{
		{name: "nil stays nil", input: nil, expected: nil},
		{name: "empty becomes nil", input: ptr(""), expected: nil},
		{name: "whitespace becomes nil", input: ptr("  \t "), expected: nil},
		{name: "value is trimmed", input: ptr("  a@x.com "), expected: ptr("a@x.com")},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, TrimToNil(tt.input))
		})
	}
}
