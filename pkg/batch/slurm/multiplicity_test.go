package slurm

import "testing"

func TestMultiplicity(t *testing.T) {
	cases := []struct {
		in   string
		want int
	}{
		{"1-20", 20},
		{"1-10,15-20", 16},
		{"1,3,5", 3},
		{"1-7%3", 3},
		{"1-7,10-15%3", 3},
		{"", 1},
	}
	for _, tc := range cases {
		if got := Multiplicity(tc.in); got != tc.want {
			t.Errorf("Multiplicity(%q) = %d, want %d", tc.in, got, tc.want)
		}
	}
}
