package schedule

import (
	"fmt"
	"sort"
	"strconv"
	"strings"
)

const (
	minYear = 1970
	maxYear = 2199
)

// yearSet is a sorted list of allowed years.
type yearSet []int

func (ys yearSet) contains(y int) bool {
	i := sort.SearchInts(ys, y)
	return i < len(ys) && ys[i] == y
}

// atOrAfter returns the smallest allowed year >= y.
func (ys yearSet) atOrAfter(y int) (int, bool) {
	i := sort.SearchInts(ys, y)
	if i >= len(ys) {
		return 0, false
	}
	return ys[i], true
}

// parseYears parses the seventh field. A wildcard anywhere in the list means every year (nil set).
//
// Accepted terms: "*", "?", "2026", "2026-2028", "*/2", "2026/2", "2026-2030/2".
func parseYears(field string) (yearSet, error) {
	seen := map[int]struct{}{}
	for _, term := range strings.Split(field, ",") {
		term = strings.TrimSpace(term)
		if term == "" {
			return nil, fmt.Errorf("empty term in %q", field)
		}

		rng, stepStr, hasStep := strings.Cut(term, "/")
		step := 1
		if hasStep {
			n, err := strconv.Atoi(stepStr)
			if err != nil || n <= 0 {
				return nil, fmt.Errorf("bad step %q", stepStr)
			}
			step = n
		}

		lo, hi := minYear, maxYear
		switch {
		case rng == "*" || rng == "?":
			if !hasStep {
				return nil, nil
			}
		case strings.Contains(rng, "-"):
			a, b, _ := strings.Cut(rng, "-")
			var err error
			if lo, err = parseYear(a); err != nil {
				return nil, err
			}
			if hi, err = parseYear(b); err != nil {
				return nil, err
			}
			if lo > hi {
				return nil, fmt.Errorf("range %q is reversed", rng)
			}
		default:
			y, err := parseYear(rng)
			if err != nil {
				return nil, err
			}
			lo = y
			if !hasStep {
				hi = y
			}
		}

		for y := lo; y <= hi; y += step {
			seen[y] = struct{}{}
		}
	}

	out := make(yearSet, 0, len(seen))
	for y := range seen {
		out = append(out, y)
	}
	sort.Ints(out)
	return out, nil
}

func parseYear(s string) (int, error) {
	y, err := strconv.Atoi(strings.TrimSpace(s))
	if err != nil {
		return 0, fmt.Errorf("bad year %q", s)
	}
	if y < minYear || y > maxYear {
		return 0, fmt.Errorf("year %d out of range [%d, %d]", y, minYear, maxYear)
	}
	return y, nil
}
