package scheduler

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"coinbot/internal/runtime/supervisor"
	"coinbot/internal/task/registry"
	logx "coinbot/pkg/logx"
)

const (
	DefaultIdleWait = 60 * time.Second
	DefaultCooldown = 5 * time.Second
	DefaultMinSleep = 50 * time.Millisecond
)

// Config holds the loop timings. Zero values fall back to the defaults.
type Config struct {
	// IdleWait is how long an empty registry sleeps before re-checking.
	IdleWait time.Duration
	// Cooldown separates two passes that executed jobs.
	Cooldown time.Duration
	// MinSleep is the shortest wait worth arming a timer for.
	MinSleep time.Duration
}

func (c Config) withDefaults() Config {
	if c.IdleWait <= 0 {
		c.IdleWait = DefaultIdleWait
	}
	if c.Cooldown <= 0 {
		c.Cooldown = DefaultCooldown
	}
	if c.MinSleep <= 0 {
		c.MinSleep = DefaultMinSleep
	}
	return c
}

// Loop is the scheduler loop. The app builds exactly one and starts it once.
type Loop struct {
	reg     *registry.Registry
	res     registry.Resources
	log     logx.Logger
	metrics *Metrics

	now   func() time.Time
	after func(time.Duration) <-chan time.Time

	cfgMu sync.RWMutex
	cfg   Config

	started atomic.Bool

	// pass state, owned by the loop goroutine; copied into snapshot under mu.
	lastFired time.Time

	mu   sync.Mutex
	snap Snapshot
}

// Option customizes a Loop.
type Option func(*Loop)

// WithClock replaces the wall clock and the timer source.
func WithClock(now func() time.Time, after func(time.Duration) <-chan time.Time) Option {
	return func(l *Loop) {
		if now != nil {
			l.now = now
		}
		if after != nil {
			l.after = after
		}
	}
}

func New(reg *registry.Registry, res registry.Resources, cfg Config, log logx.Logger, metrics *Metrics, opts ...Option) *Loop {
	if log.IsZero() {
		log = logx.Nop()
	}
	if res.Log.IsZero() {
		res.Log = log
	}
	l := &Loop{
		reg:     reg,
		res:     res,
		log:     log,
		metrics: metrics,
		now:     time.Now,
		after:   time.After,
		cfg:     cfg.withDefaults(),
	}
	for _, o := range opts {
		o(l)
	}
	return l
}

// Apply swaps the loop timings. The new values take effect on the next pass.
func (l *Loop) Apply(cfg Config) {
	l.cfgMu.Lock()
	l.cfg = cfg.withDefaults()
	l.cfgMu.Unlock()
}

func (l *Loop) config() Config {
	l.cfgMu.RLock()
	defer l.cfgMu.RUnlock()
	return l.cfg
}

// Start runs the loop as a supervised goroutine. Calling it again is a no-op.
func (l *Loop) Start(sup *supervisor.Supervisor) {
	if l.started.Load() {
		l.log.Warn("scheduler already started")
		return
	}
	sup.Go("scheduler.loop", l.Run)
}

// Run executes passes until ctx is cancelled. Only the first call runs;
// later calls return immediately.
func (l *Loop) Run(ctx context.Context) error {
	if l.started.Swap(true) {
		l.log.Warn("scheduler already running; ignoring second run")
		return nil
	}
	l.mu.Lock()
	l.snap.Started = true
	l.mu.Unlock()

	l.log.Info("scheduler started", logx.Int("jobs", l.reg.Len()))
	defer l.log.Info("scheduler stopped")

	for {
		if ctx.Err() != nil {
			return nil
		}
		if !l.pass(ctx) {
			return nil
		}
	}
}

type wake int

const (
	wakeDeadline wake = iota
	wakeChanged
	wakeCancelled
)

// pass runs one iteration of the loop. It returns false when ctx is done.
func (l *Loop) pass(ctx context.Context) bool {
	cfg := l.config()
	now := l.now()

	if removed := l.reg.Prune(now); len(removed) > 0 {
		l.metrics.pruned(len(removed))
		if l.log.Enabled(logx.LevelDebug) {
			l.log.Debug("jobs pruned", logx.Strings("jobs", jobIDs(removed)))
		}
		if expired := expiredSince(removed, l.lastFired); len(expired) > 0 {
			l.log.Info("one-shot jobs expired without running",
				logx.Strings("jobs", jobIDs(expired)),
				logx.Time("last_tick", l.lastFired),
			)
		}
	}
	l.drainChanged()

	jobs := l.reg.List()
	l.metrics.setJobs(len(jobs))

	ref := now
	if l.lastFired.After(ref) {
		ref = l.lastFired
	}
	next, ok := computeNext(jobs, ref)
	if !ok {
		next = now.Add(cfg.IdleWait)
	}
	l.setNext(next)

	switch l.sleep(ctx, next, cfg.MinSleep) {
	case wakeCancelled:
		return false
	case wakeChanged:
		return true
	}
	if !ok {
		return true
	}

	woke := l.now()
	due := selectDue(l.reg.List(), next)
	if len(due) == 0 {
		// The jobs due at next were removed while we slept.
		return true
	}

	late := woke.Sub(next)
	l.metrics.observeLateness(late)
	if late > time.Second {
		l.log.Warn("tick late", logx.Time("tick", next), logx.Duration("late", late), logx.Int("jobs", len(due)))
	} else {
		l.log.Debug("tick", logx.Time("tick", next), logx.Duration("late", late), logx.Int("jobs", len(due)))
	}

	results := l.execute(ctx, next, due)
	l.lastFired = next
	l.report(ctx, results)
	l.recordTick(next, due)

	if cfg.Cooldown > 0 {
		select {
		case <-ctx.Done():
			return false
		case <-l.after(cfg.Cooldown):
		}
	}
	return true
}

// sleep waits until deadline. Short waits are skipped entirely.
func (l *Loop) sleep(ctx context.Context, deadline time.Time, minSleep time.Duration) wake {
	wait := deadline.Sub(l.now())
	if wait < minSleep {
		if ctx.Err() != nil {
			return wakeCancelled
		}
		return wakeDeadline
	}
	select {
	case <-ctx.Done():
		return wakeCancelled
	case <-l.reg.Changed():
		// The timer may have been ready too. A due batch runs first; the
		// change is picked up by the next pass.
		if !l.now().Before(deadline) {
			return wakeDeadline
		}
		return wakeChanged
	case <-l.after(wait):
		return wakeDeadline
	}
}

func (l *Loop) drainChanged() {
	select {
	case <-l.reg.Changed():
	default:
	}
}

// computeNext returns the earliest occurrence strictly after ref across jobs.
func computeNext(jobs []registry.Job, ref time.Time) (time.Time, bool) {
	var (
		best  time.Time
		found bool
	)
	for _, j := range jobs {
		t, ok := j.Next(ref)
		if !ok {
			continue
		}
		if !found || t.Before(best) {
			best, found = t, true
		}
	}
	return best, found
}

// selectDue returns every job whose first occurrence after at-1ns is at.
// Jobs sharing the instant all run in the same batch.
func selectDue(jobs []registry.Job, at time.Time) []registry.Job {
	ref := at.Add(-time.Nanosecond)
	var due []registry.Job
	for _, j := range jobs {
		if t, ok := j.Next(ref); ok && t.Equal(at) {
			due = append(due, j)
		}
	}
	return due
}

// expiredSince returns the pruned jobs that still had an occurrence after the
// last executed tick, i.e. whose instant passed during Execute or Cooldown or
// was already past when they were registered.
func expiredSince(pruned []registry.Job, lastFired time.Time) []registry.Job {
	if lastFired.IsZero() {
		return nil
	}
	var out []registry.Job
	for _, j := range pruned {
		if _, ok := j.Next(lastFired); ok {
			out = append(out, j)
		}
	}
	return out
}

func jobIDs(jobs []registry.Job) []string {
	out := make([]string, 0, len(jobs))
	for _, j := range jobs {
		out = append(out, j.ID)
	}
	return out
}
