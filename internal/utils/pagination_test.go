package utils

import "testing"

func TestAtoiDefault(t *testing.T) {
	cases := []struct {
		in   string
		def  int
		want int
	}{
		{"42", 0, 42},
		{"-3", 0, -3},
		{"0", 9, 0},
		{"", 10, 10},
		{"x", 5, 5},
		{"4.2", 7, 7},
		{" 42", 7, 7}, // strconv.Atoi does not trim
	}
	for _, tc := range cases {
		if got := AtoiDefault(tc.in, tc.def); got != tc.want {
			t.Fatalf("AtoiDefault(%q, %d) = %d, want %d", tc.in, tc.def, got, tc.want)
		}
	}
}
