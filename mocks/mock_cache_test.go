package mocks

import "testing"

func TestGlobMatch(t *testing.T) {
	tests := []struct {
		pattern string
		s       string
		want    bool
	}{
		{"*", "anything", true},
		{"*:b-1", "computed-fields:settlement:s-1:b-1", true},
		{"*:b-1", "computed-fields:settlement:s-1:b-2", false},
		{"computed-fields:*", "computed-fields:structure:x:b", true},
		{"computed-fields:structure:*:b", "computed-fields:structure:x:b", true},
		{"computed-fields:structure:*:b", "computed-fields:settlement:x:b", false},
		{"a?c", "abc", true},
		{"a?c", "ac", false},
		{"*middle*", "has middle part", true},
		{"", "", true},
		{"", "x", false},
		{"**", "x", true},
	}
	for _, tc := range tests {
		if got := globMatch(tc.pattern, tc.s); got != tc.want {
			t.Errorf("globMatch(%q, %q) = %v, want %v", tc.pattern, tc.s, got, tc.want)
		}
	}
}
