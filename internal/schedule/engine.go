package schedule

import (
	"context"
	"sync"
	"time"

	"bookkeeper/internal/core"
	"bookkeeper/internal/log"
	"bookkeeper/internal/tz"
)

// maxSleep bounds how long the loop trusts a single timer, so wall clock
// jumps are noticed within a minute.
const maxSleep = time.Minute

// Fire describes one triggered report.
type Fire struct {
	Kind     Kind
	At       time.Time
	Start    core.Date
	End      core.Date
	Location *time.Location
}

// Job produces and delivers the report for a fire. Errors are logged; a
// failed job does not affect the schedule.
type Job func(ctx context.Context, fire Fire) error

// State is a snapshot of one schedule.
type State struct {
	Kind     Kind
	Armed    bool
	NextFire time.Time
}

// Options configures an Engine.
type Options struct {
	Resolver *tz.Resolver
	Logger   *log.Logger
	// Now defaults to time.Now.
	Now func() time.Time
}

type slot struct {
	armed bool
	next  time.Time
}

// Engine keeps each schedule either disabled or armed with its next fire
// instant. A single goroutine (Run) sleeps until the earliest armed fire.
type Engine struct {
	mu    sync.Mutex
	cfg   core.ScheduleConfig
	slots map[Kind]*slot

	job      Job
	resolver *tz.Resolver
	logger   *log.Logger
	now      func() time.Time
	wake     chan struct{}
	jobs     sync.WaitGroup
}

// NewEngine returns an engine with every schedule disabled.
func NewEngine(job Job, opts Options) *Engine {
	if opts.Resolver == nil {
		opts.Resolver = tz.NewResolver()
	}
	if opts.Logger == nil {
		opts.Logger = log.Discard()
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	slots := make(map[Kind]*slot, len(kinds))
	for _, k := range kinds {
		slots[k] = &slot{}
	}
	return &Engine{
		slots:    slots,
		job:      job,
		resolver: opts.Resolver,
		logger:   opts.Logger.WithComponent(log.ComponentSchedule),
		now:      opts.Now,
		wake:     make(chan struct{}, 1),
	}
}

// Reschedule applies cfg. A schedule that is being enabled, or whose time,
// day or timezone changed, is re-armed for the soonest matching instant
// after now. Disabling drops the pending fire. Past periods are never
// caught up.
func (e *Engine) Reschedule(cfg core.ScheduleConfig) {
	now := e.now()

	e.mu.Lock()
	old := e.cfg
	e.cfg = cfg
	loc := e.location(cfg.Timezone)
	for _, kind := range kinds {
		calc := calculators[kind]
		s := e.slots[kind]
		switch {
		case !calc.Enabled(cfg):
			s.armed = false
			s.next = time.Time{}
		case !s.armed || calc.Changed(old, cfg):
			s.armed = true
			s.next = calc.First(now, cfg, loc)
		}
	}
	states := e.statesLocked()
	e.mu.Unlock()

	for _, st := range states {
		if st.Armed {
			e.logger.Info("Schedule armed",
				log.FieldSchedule, string(st.Kind),
				log.FieldNextFire, st.NextFire,
				log.FieldTimezone, loc.String())
		} else {
			e.logger.Debug("Schedule disabled", log.FieldSchedule, string(st.Kind))
		}
	}
	e.poke()
}

// States returns a snapshot of every schedule.
func (e *Engine) States() []State {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.statesLocked()
}

func (e *Engine) statesLocked() []State {
	out := make([]State, 0, len(kinds))
	for _, k := range kinds {
		s := e.slots[k]
		out = append(out, State{Kind: k, Armed: s.armed, NextFire: s.next})
	}
	return out
}

// Run drives the engine until ctx is done. In-flight jobs are not
// cancelled; call Wait to join them.
func (e *Engine) Run(ctx context.Context) error {
	e.logger.InfoContext(ctx, "Schedule engine started")
	for {
		wait := maxSleep
		if next, ok := e.earliest(); ok {
			wait = min(max(next.Sub(e.now()), 0), maxSleep)
		}
		timer := time.NewTimer(wait)

		select {
		case <-ctx.Done():
			timer.Stop()
			e.logger.InfoContext(ctx, "Schedule engine stopped")
			return nil
		case <-e.wake:
			timer.Stop()
		case <-timer.C:
			e.RunDue(ctx, e.now())
		}
	}
}

// RunDue fires every armed schedule whose instant is not after now and
// re-arms it one period past the fired instant. If the host slept through
// several periods only the latest is reported. It returns the fires that
// were started.
func (e *Engine) RunDue(ctx context.Context, now time.Time) []Fire {
	var fires []Fire

	e.mu.Lock()
	cfg := e.cfg
	for _, kind := range kinds {
		s := e.slots[kind]
		if !s.armed || s.next.After(now) {
			continue
		}
		calc := calculators[kind]
		loc := e.location(cfg.Timezone)

		fired := s.next
		skipped := 0
		for next := calc.Next(fired, cfg, loc); !next.After(now); next = calc.Next(fired, cfg, loc) {
			fired = next
			skipped++
		}
		if skipped > 0 {
			e.logger.WarnContext(ctx, "Skipped missed report periods",
				log.FieldSchedule, string(kind), "skipped", skipped)
		}
		s.next = calc.Next(fired, cfg, loc)

		start, end := calc.Period(fired, loc)
		fires = append(fires, Fire{Kind: kind, At: fired, Start: start, End: end, Location: loc})
	}
	e.mu.Unlock()

	for _, f := range fires {
		e.start(ctx, f)
	}
	return fires
}

func (e *Engine) start(ctx context.Context, f Fire) {
	e.jobs.Add(1)
	go func() {
		defer e.jobs.Done()
		// the report completes even if shutdown begins meanwhile
		jobCtx := context.WithoutCancel(ctx)
		e.logger.InfoContext(jobCtx, "Schedule fired",
			log.FieldSchedule, string(f.Kind),
			log.FieldOperation, log.OpFire,
			"period_start", f.Start.String(),
			"period_end", f.End.String())
		if err := e.job(jobCtx, f); err != nil {
			e.logger.ErrorContext(jobCtx, "Scheduled report failed",
				log.FieldSchedule, string(f.Kind),
				log.FieldError, err)
		}
	}()
}

// Wait blocks until every started job has returned.
func (e *Engine) Wait() {
	e.jobs.Wait()
}

func (e *Engine) earliest() (time.Time, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	var (
		best  time.Time
		found bool
	)
	for _, s := range e.slots {
		if s.armed && (!found || s.next.Before(best)) {
			best, found = s.next, true
		}
	}
	return best, found
}

func (e *Engine) poke() {
	select {
	case e.wake <- struct{}{}:
	default:
	}
}

func (e *Engine) location(name string) *time.Location {
	loc, err := e.resolver.ResolveOrLocal(name)
	if err != nil {
		e.logger.Warn("Falling back to system timezone",
			log.FieldTimezone, name, log.FieldError, err)
	}
	return loc
}
