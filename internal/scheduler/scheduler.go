package scheduler

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/rs/zerolog"

	"steam-price-reporter/internal/config"
)

// TickFunc is invoked each time a job becomes due. due is the scheduled
// instant, which may lag the actual wall clock slightly.
type TickFunc func(ctx context.Context, due time.Time) error

// Spec computes when a job fires next.
type Spec interface {
	// Next returns the first firing instant strictly after t.
	Next(t time.Time) time.Time
}

// Every fires on a fixed interval. With Align set, instants are multiples of
// Interval since the Unix epoch (e.g. the top of each hour).
type Every struct {
	Interval time.Duration
	Align    bool
}

// Next implements Spec.
func (e Every) Next(t time.Time) time.Time {
	if !e.Align {
		return t.Add(e.Interval)
	}
	next := t.Truncate(e.Interval)
	if !next.After(t) {
		next = next.Add(e.Interval)
	}
	return next
}

// DailyAt fires once a day at a wall-clock time in Location.
type DailyAt struct {
	Hour     int
	Minute   int
	Location *time.Location
}

// ParseDailyAt builds a DailyAt from an HH:MM string.
func ParseDailyAt(clock string, loc *time.Location) (DailyAt, error) {
	hour, minute, err := config.ParseClock(clock)
	if err != nil {
		return DailyAt{}, err
	}
	if loc == nil {
		loc = time.Local
	}
	return DailyAt{Hour: hour, Minute: minute, Location: loc}, nil
}

// Next implements Spec.
func (d DailyAt) Next(t time.Time) time.Time {
	loc := d.Location
	if loc == nil {
		loc = time.Local
	}
	local := t.In(loc)
	next := time.Date(local.Year(), local.Month(), local.Day(), d.Hour, d.Minute, 0, 0, loc)
	if !next.After(t) {
		next = time.Date(local.Year(), local.Month(), local.Day()+1, d.Hour, d.Minute, 0, 0, loc)
	}
	return next
}

// Clock abstracts time so the loop can be driven in tests.
type Clock interface {
	Now() time.Time
	After(d time.Duration) <-chan time.Time
}

type realClock struct{}

func (realClock) Now() time.Time                         { return time.Now() }
func (realClock) After(d time.Duration) <-chan time.Time { return time.After(d) }

// RealClock is the wall clock.
var RealClock Clock = realClock{}

// Options tune scheduler behaviour.
type Options struct {
	StartupDelay time.Duration
	Clock        Clock
}

type job struct {
	name string
	spec Spec
	tick TickFunc
	next time.Time
}

// Scheduler runs a fixed list of named jobs.
type Scheduler struct {
	opts   Options
	logger zerolog.Logger
	jobs   []*job
}

// New constructs a Scheduler instance.
func New(opts Options, logger zerolog.Logger) *Scheduler {
	if opts.Clock == nil {
		opts.Clock = RealClock
	}
	return &Scheduler{opts: opts, logger: logger.With().Str("component", "scheduler").Logger()}
}

// Add registers a job. Jobs run in registration order when due together.
func (s *Scheduler) Add(name string, spec Spec, tick TickFunc) error {
	if spec == nil || tick == nil {
		return fmt.Errorf("job %q needs a spec and a tick func", name)
	}
	if e, ok := spec.(Every); ok && e.Interval <= 0 {
		return fmt.Errorf("job %q: interval must be positive", name)
	}
	for _, j := range s.jobs {
		if j.name == name {
			return fmt.Errorf("job %q already registered", name)
		}
	}
	s.jobs = append(s.jobs, &job{name: name, spec: spec, tick: tick})
	return nil
}

// Next reports each job's next firing instant, as of the last plan.
func (s *Scheduler) Next() map[string]time.Time {
	out := make(map[string]time.Time, len(s.jobs))
	for _, j := range s.jobs {
		out[j.name] = j.next
	}
	return out
}

// Plan computes every job's first firing instant after now.
func (s *Scheduler) Plan(now time.Time) {
	for _, j := range s.jobs {
		j.next = j.spec.Next(now)
	}
}

// RunPending runs every job whose next instant is at or before now, then
// reschedules it from now. Ticks missed while a job ran long are skipped, not
// replayed. It returns the number of jobs run.
func (s *Scheduler) RunPending(ctx context.Context, now time.Time) int {
	ran := 0
	for _, j := range s.jobs {
		if j.next.IsZero() {
			j.next = j.spec.Next(now)
			continue
		}
		if j.next.After(now) {
			continue
		}
		if ctx.Err() != nil {
			return ran
		}

		due := j.next
		s.logger.Info().Str("job", j.name).Time("due", due).Msg("executing scheduled job")
		if err := j.tick(ctx, due); err != nil {
			s.logger.Error().Err(err).Str("job", j.name).Time("due", due).Msg("job execution failed")
		}
		ran++

		// the tick may have taken a while; plan from the clock, not from due
		after := s.opts.Clock.Now()
		if after.Before(now) {
			after = now
		}
		j.next = j.spec.Next(after)
	}
	return ran
}

// Run blocks, sleeping until the earliest due job and running it, until ctx
// is cancelled.
func (s *Scheduler) Run(ctx context.Context) error {
	if len(s.jobs) == 0 {
		return errors.New("scheduler has no jobs")
	}

	if s.opts.StartupDelay > 0 {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-s.opts.Clock.After(s.opts.StartupDelay):
		}
	}

	s.Plan(s.opts.Clock.Now())
	for {
		wake := s.earliest()
		delay := wake.Sub(s.opts.Clock.Now())
		if delay < 0 {
			delay = 0
		}
		s.logger.Debug().Time("next_run", wake).Dur("delay", delay).Msg("waiting for next job")

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-s.opts.Clock.After(delay):
		}

		s.RunPending(ctx, s.opts.Clock.Now())
	}
}

func (s *Scheduler) earliest() time.Time {
	nexts := make([]time.Time, 0, len(s.jobs))
	for _, j := range s.jobs {
		nexts = append(nexts, j.next)
	}
	sort.Slice(nexts, func(a, b int) bool { return nexts[a].Before(nexts[b]) })
	return nexts[0]
}
