package schedule

import (
	"errors"
	"fmt"
	"iter"
	"strings"
	"time"

	"github.com/robfig/cron/v3"
)

// ErrInvalidSchedule matches every *InvalidScheduleError via errors.Is.
var ErrInvalidSchedule = errors.New("invalid schedule")

// InvalidScheduleError reports a malformed calendar expression.
type InvalidScheduleError struct {
	Expr   string
	Reason string
	Err    error
}

func (e *InvalidScheduleError) Error() string {
	msg := fmt.Sprintf("invalid schedule %q: %s", e.Expr, e.Reason)
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *InvalidScheduleError) Unwrap() error { return e.Err }

func (e *InvalidScheduleError) Is(target error) bool { return target == ErrInvalidSchedule }

// Second-resolution parser for the six leading fields. The year field is handled here.
var fieldParser = cron.NewParser(cron.Second | cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow)

// Schedule is an immutable parsed expression. It is safe for concurrent use.
type Schedule struct {
	expr  string
	loc   *time.Location
	base  cron.Schedule
	years yearSet // nil means every year
}

// Parse parses expr and evaluates it in loc (time.Local when nil).
func Parse(expr string, loc *time.Location) (*Schedule, error) {
	if loc == nil {
		loc = time.Local
	}
	fields := strings.Fields(expr)
	norm := strings.Join(fields, " ")
	if len(fields) != 6 && len(fields) != 7 {
		return nil, &InvalidScheduleError{Expr: expr, Reason: fmt.Sprintf("expected 6 or 7 fields, got %d", len(fields))}
	}
	if strings.Contains(fields[0], "TZ=") {
		return nil, &InvalidScheduleError{Expr: expr, Reason: "timezone prefix not supported; configure the scheduler timezone instead"}
	}

	base, err := fieldParser.Parse(strings.Join(fields[:6], " "))
	if err != nil {
		return nil, &InvalidScheduleError{Expr: expr, Reason: "bad field", Err: err}
	}

	var years yearSet
	if len(fields) == 7 {
		years, err = parseYears(fields[6])
		if err != nil {
			return nil, &InvalidScheduleError{Expr: expr, Reason: "bad year field", Err: err}
		}
	}

	return &Schedule{expr: norm, loc: loc, base: base, years: years}, nil
}

// MustParse is Parse for expressions known at compile time.
func MustParse(expr string, loc *time.Location) *Schedule {
	s, err := Parse(expr, loc)
	if err != nil {
		panic(err)
	}
	return s
}

// At returns a schedule whose only occurrence is t truncated to the second.
func At(t time.Time, loc *time.Location) *Schedule {
	if loc == nil {
		loc = time.Local
	}
	t = t.In(loc)
	expr := fmt.Sprintf("%d %d %d %d %d * %d", t.Second(), t.Minute(), t.Hour(), t.Day(), int(t.Month()), t.Year())
	return MustParse(expr, loc)
}

// Expr returns the normalized expression (fields joined by single spaces).
func (s *Schedule) Expr() string { return s.expr }

func (s *Schedule) String() string { return s.expr }

// Location returns the zone the expression is evaluated in.
func (s *Schedule) Location() *time.Location { return s.loc }

// Pinned reports whether the expression restricts the year field.
func (s *Schedule) Pinned() bool { return s.years != nil }

// Next returns the first occurrence strictly after after.
// ok is false once the schedule has no further occurrences.
func (s *Schedule) Next(after time.Time) (next time.Time, ok bool) {
	t := after.In(s.loc)
	for {
		if s.years != nil {
			y, found := s.years.atOrAfter(t.Year())
			if !found {
				return time.Time{}, false
			}
			if y > t.Year() {
				t = time.Date(y, time.January, 1, 0, 0, 0, 0, s.loc).Add(-time.Nanosecond)
			}
		}

		n := s.base.Next(t)
		if n.IsZero() {
			// robfig/cron gives up after a five year search (e.g. Feb 30).
			return time.Time{}, false
		}
		n = n.In(s.loc)
		if s.years == nil || s.years.contains(n.Year()) {
			return n, true
		}
		// n falls in a disallowed year; the next pass jumps past it.
		t = n
	}
}

// Upcoming returns the lazy, strictly increasing sequence of occurrences after after.
// Each call restarts from after; the sequence ends when the schedule is exhausted.
func (s *Schedule) Upcoming(after time.Time) iter.Seq[time.Time] {
	return func(yield func(time.Time) bool) {
		t := after
		for {
			n, ok := s.Next(t)
			if !ok || !yield(n) {
				return
			}
			t = n
		}
	}
}

// Exhausted reports whether there is no occurrence after now.
func (s *Schedule) Exhausted(now time.Time) bool {
	_, ok := s.Next(now)
	return !ok
}

// Take collects at most n occurrences after after.
func (s *Schedule) Take(after time.Time, n int) []time.Time {
	out := make([]time.Time, 0, max(n, 0))
	if n <= 0 {
		return out
	}
	for t := range s.Upcoming(after) {
		out = append(out, t)
		if len(out) >= n {
			break
		}
	}
	return out
}
