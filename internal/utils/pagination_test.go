package utils

import "testing"

func TestAtoiDefault(t *testing.T) {
	cases := []struct {
		in   string
		def  int
		want int
	}{
		{"42", 0, 42},
		{" 7 ", 0, 7},
		{"-3", 0, -3},
		{"", 10, 10},
		{"   ", 10, 10},
		{"x", 5, 5},
		{"1.5", 5, 5},
	}
	for _, c := range cases {
		if got := AtoiDefault(c.in, c.def); got != c.want {
			t.Fatalf("AtoiDefault(%q, %d) = %d; want %d", c.in, c.def, got, c.want)
		}
	}
}

func TestClamp(t *testing.T) {
	if Clamp(0, 1, 50) != 1 || Clamp(51, 1, 50) != 50 || Clamp(5, 1, 50) != 5 {
		t.Fatalf("Clamp out of bounds")
	}
}
