package core

import "testing"

func TestParseCount(t *testing.T) {
	cases := []struct {
		in   string
		want *int
		ok   bool
	}{
		{"", nil, true},
		{" - ", nil, true},
		{"12", IntPtr(12), true},
		{"12.4", IntPtr(12), true},
		{"12,5", IntPtr(13), true},
		{"0", IntPtr(0), true},
		{"-1", nil, false},
		{"1.2.3", nil, false},
		{"abc", nil, false},
	}
	for _, tc := range cases {
		got, err := ParseCount(tc.in)
		if (err == nil) != tc.ok {
			t.Fatalf("%q: err = %v", tc.in, err)
		}
		switch {
		case tc.want == nil && got != nil:
			t.Errorf("%q: got %d, want nil", tc.in, *got)
		case tc.want != nil && (got == nil || *got != *tc.want):
			t.Errorf("%q: got %v, want %d", tc.in, got, *tc.want)
		}
	}
}
