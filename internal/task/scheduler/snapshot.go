package scheduler

import (
	"slices"
	"time"

	"coinbot/internal/task/registry"
)

// JobInfo describes one registered job.
type JobInfo struct {
	ID    string    `json:"id"`
	Group string    `json:"group,omitempty"`
	Expr  string    `json:"expr"`
	Next  time.Time `json:"next,omitzero"`
}

// Snapshot is a point-in-time view of the loop for ops endpoints.
type Snapshot struct {
	Started   bool      `json:"started"`
	Ticks     uint64    `json:"ticks"`
	LastTick  time.Time `json:"last_tick,omitzero"`
	NextAt    time.Time `json:"next_at,omitzero"`
	LastBatch []string  `json:"last_batch"`
	Jobs      []JobInfo `json:"jobs"`
}

func (l *Loop) setNext(t time.Time) {
	l.mu.Lock()
	l.snap.NextAt = t
	l.mu.Unlock()
}

func (l *Loop) recordTick(tick time.Time, due []registry.Job) {
	l.mu.Lock()
	l.snap.Ticks++
	l.snap.LastTick = tick
	l.snap.LastBatch = jobIDs(due)
	l.mu.Unlock()
}

// Snapshot returns loop state plus every registered job with its next occurrence.
func (l *Loop) Snapshot() Snapshot {
	l.mu.Lock()
	s := l.snap
	s.LastBatch = slices.Clone(s.LastBatch)
	l.mu.Unlock()

	now := l.now()
	jobs := l.reg.List()
	s.Jobs = make([]JobInfo, 0, len(jobs))
	for _, j := range jobs {
		info := JobInfo{ID: j.ID, Group: j.Group}
		if j.Schedule != nil {
			info.Expr = j.Schedule.Expr()
		}
		if t, ok := j.Next(now); ok {
			info.Next = t
		}
		s.Jobs = append(s.Jobs, info)
	}
	if s.LastBatch == nil {
		s.LastBatch = []string{}
	}
	return s
}
