package slurm

import (
	"strconv"
	"strings"
)

// Multiplicity computes how many array tasks an array_task_str (e.g.
// "1-20", "1-10,15-20", "1,3,5", "1-7%3") represents (spec §4.3):
//
//   - empty string ⇒ 1 (not an array job)
//   - contains "%k" ⇒ k, the concurrency cap, regardless of the ranges
//   - otherwise, split on ",": each piece "a-b" contributes b-a+1; a bare
//     integer contributes 1 (it names a single task, not a quantity)
func Multiplicity(s string) int {
	if s == "" {
		return 1
	}

	if idx := strings.IndexByte(s, '%'); idx >= 0 {
		cap, err := strconv.Atoi(s[idx+1:])
		if err == nil {
			return cap
		}
		s = s[:idx]
	}

	total := 0
	for _, piece := range strings.Split(s, ",") {
		piece = strings.TrimSpace(piece)
		if piece == "" {
			continue
		}
		if dash := strings.IndexByte(piece, '-'); dash > 0 {
			a, errA := strconv.Atoi(piece[:dash])
			b, errB := strconv.Atoi(piece[dash+1:])
			if errA == nil && errB == nil && b >= a {
				total += b - a + 1
				continue
			}
		}
		total++
	}
	return total
}
