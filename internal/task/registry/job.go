package registry

import (
	"context"
	"errors"
	"strings"
	"time"

	"coinbot/internal/eventbus"
	"coinbot/internal/storage"
	"coinbot/internal/task/schedule"
	kit "coinbot/internal/transport"
	logx "coinbot/pkg/logx"
)

var (
	ErrEmptyID   = errors.New("job id is empty")
	ErrNilAction = errors.New("job action is nil")
)

// Resources are the shared process handles every action receives.
// All of them are safe to use from concurrently running actions.
type Resources struct {
	Chat  kit.Sender
	Store storage.Store
	Bus   eventbus.Bus
	Log   logx.Logger
}

// Action is the work a job performs when its schedule fires.
type Action func(ctx context.Context, res Resources) error

// Job is a schedule paired with an action. IDs need not be unique.
type Job struct {
	ID       string
	Group    string // upsert group; empty means the job id
	Schedule *schedule.Schedule
	Action   Action
}

// NewJob parses expr in loc and builds a job. A malformed expression yields an error
// matching schedule.ErrInvalidSchedule and no job.
func NewJob(id, expr string, loc *time.Location, action Action) (Job, error) {
	s, err := schedule.Parse(expr, loc)
	if err != nil {
		return Job{}, err
	}
	return newJob(id, s, action)
}

// OneShot builds a job that fires once at t (truncated to the second).
func OneShot(id string, t time.Time, loc *time.Location, action Action) (Job, error) {
	return newJob(id, schedule.At(t, loc), action)
}

func newJob(id string, s *schedule.Schedule, action Action) (Job, error) {
	if strings.TrimSpace(id) == "" {
		return Job{}, ErrEmptyID
	}
	if action == nil {
		return Job{}, ErrNilAction
	}
	return Job{ID: id, Schedule: s, Action: action}, nil
}

// GroupKey is the key Upsert and RemoveGroup match on.
func (j Job) GroupKey() string {
	if j.Group != "" {
		return j.Group
	}
	return j.ID
}

// Next returns the job's first occurrence strictly after t.
func (j Job) Next(t time.Time) (time.Time, bool) {
	if j.Schedule == nil {
		return time.Time{}, false
	}
	return j.Schedule.Next(t)
}
