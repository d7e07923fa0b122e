package scheduler

import (
	"context"
	"fmt"
	"time"

	"github.com/sourcegraph/conc"
	"github.com/sourcegraph/conc/panics"

	"coinbot/internal/eventbus"
	"coinbot/internal/storage"
	"coinbot/internal/task/registry"
	logx "coinbot/pkg/logx"
)

// Result is the outcome of one job run within a batch.
type Result struct {
	Job      registry.Job
	Tick     time.Time
	Took     time.Duration
	Err      error
	Panicked bool
	Stack    string
}

// JobEvent is the bus payload for job.completed and job.failed.
type JobEvent struct {
	ID       string        `json:"id"`
	Group    string        `json:"group,omitempty"`
	Tick     time.Time     `json:"tick"`
	Took     time.Duration `json:"took"`
	Error    string        `json:"error,omitempty"`
	Panicked bool          `json:"panicked,omitempty"`
}

// execute runs every job on its own goroutine and waits for all of them.
// A failing or panicking job never affects its siblings.
func (l *Loop) execute(ctx context.Context, tick time.Time, due []registry.Job) []Result {
	out := make([]Result, len(due))
	var wg conc.WaitGroup
	for i, j := range due {
		wg.Go(func() { out[i] = l.runOne(ctx, tick, j) })
	}
	wg.Wait()
	return out
}

func (l *Loop) runOne(ctx context.Context, tick time.Time, j registry.Job) Result {
	start := time.Now()
	var (
		pc  panics.Catcher
		err error
	)
	pc.Try(func() { err = j.Action(ctx, l.res) })

	r := Result{Job: j, Tick: tick, Took: time.Since(start), Err: err}
	if rec := pc.Recovered(); rec != nil {
		r.Err = fmt.Errorf("panic: %v", rec.Value)
		r.Panicked = true
		r.Stack = string(rec.Stack)
	}
	return r
}

func (l *Loop) report(ctx context.Context, results []Result) {
	for _, r := range results {
		label := metricLabel(r.Job)
		l.metrics.observeRun(label, r.Took, r.Err)

		ev := JobEvent{ID: r.Job.ID, Group: r.Job.Group, Tick: r.Tick, Took: r.Took, Panicked: r.Panicked}
		if r.Err != nil {
			ev.Error = r.Err.Error()
			fields := []logx.Field{
				logx.String("job", r.Job.ID),
				logx.Time("tick", r.Tick),
				logx.Duration("took", r.Took),
				logx.Err(r.Err),
			}
			if r.Panicked {
				fields = append(fields, logx.Stack(r.Stack))
			}
			l.log.Error("job.failed", fields...)
		} else {
			l.log.Debug("job.completed", logx.String("job", r.Job.ID), logx.Time("tick", r.Tick), logx.Duration("took", r.Took))
		}

		if l.res.Bus != nil {
			typ := eventbus.TypeJobCompleted
			if r.Err != nil {
				typ = eventbus.TypeJobFailed
			}
			l.res.Bus.Publish(eventbus.Event{Type: typ, Data: ev})
		}
	}
	l.audit(ctx, results)
}

// audit appends the batch to the job run log. Failures are logged and ignored.
func (l *Loop) audit(ctx context.Context, results []Result) {
	if l.res.Store == nil || len(results) == 0 {
		return
	}
	actx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 2*time.Second)
	defer cancel()
	for _, r := range results {
		run := storage.JobRun{
			At:     r.Tick.Add(r.Took),
			Job:    r.Job.ID,
			Tick:   r.Tick,
			TookMS: r.Took.Milliseconds(),
		}
		if r.Err != nil {
			run.Err = r.Err.Error()
		}
		if err := l.res.Store.AppendRun(actx, run); err != nil {
			l.log.Warn("job run audit failed", logx.String("job", r.Job.ID), logx.Err(err))
			return
		}
	}
}
