package scheduler

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
)

// fakeClock advances instantly whenever the scheduler sleeps.
type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) After(d time.Duration) <-chan time.Time {
	c.mu.Lock()
	c.now = c.now.Add(d)
	now := c.now
	c.mu.Unlock()

	ch := make(chan time.Time, 1)
	ch <- now
	return ch
}

func (c *fakeClock) Set(t time.Time) {
	c.mu.Lock()
	c.now = t
	c.mu.Unlock()
}

func TestEveryAligned(t *testing.T) {
	spec := Every{Interval: time.Hour, Align: true}
	base := time.Date(2024, time.March, 1, 10, 17, 5, 0, time.UTC)

	if got := spec.Next(base); !got.Equal(time.Date(2024, time.March, 1, 11, 0, 0, 0, time.UTC)) {
		t.Fatalf("expected top of next hour, got %s", got)
	}
	onTheHour := time.Date(2024, time.March, 1, 11, 0, 0, 0, time.UTC)
	if got := spec.Next(onTheHour); !got.Equal(onTheHour.Add(time.Hour)) {
		t.Fatalf("Next must be strictly after its argument, got %s", got)
	}

	free := Every{Interval: 90 * time.Minute}
	if got := free.Next(base); !got.Equal(base.Add(90 * time.Minute)) {
		t.Fatalf("unaligned interval should add, got %s", got)
	}
}

func TestDailyAt(t *testing.T) {
	loc := time.FixedZone("MSK", 3*3600)
	spec, err := ParseDailyAt("21:00", loc)
	if err != nil {
		t.Fatalf("ParseDailyAt: %v", err)
	}

	before := time.Date(2024, time.March, 1, 20, 59, 0, 0, loc)
	if got := spec.Next(before); !got.Equal(time.Date(2024, time.March, 1, 21, 0, 0, 0, loc)) {
		t.Fatalf("expected same-day 21:00, got %s", got)
	}
	at := time.Date(2024, time.March, 1, 21, 0, 0, 0, loc)
	if got := spec.Next(at); !got.Equal(time.Date(2024, time.March, 2, 21, 0, 0, 0, loc)) {
		t.Fatalf("expected next-day 21:00, got %s", got)
	}
	// the same instant expressed in UTC must resolve in the spec's zone
	if got := spec.Next(before.UTC()); !got.Equal(at) {
		t.Fatalf("zone conversion failed, got %s", got)
	}

	if _, err := ParseDailyAt("25:00", loc); err == nil {
		t.Fatal("invalid clock should fail")
	}
}

func TestRunPendingRunsDueJobsInOrder(t *testing.T) {
	clock := &fakeClock{now: time.Date(2024, time.March, 1, 20, 30, 0, 0, time.UTC)}
	s := New(Options{Clock: clock}, zerolog.Nop())

	var order []string
	record := func(name string) TickFunc {
		return func(ctx context.Context, due time.Time) error {
			order = append(order, name+"@"+due.Format("15:04"))
			return nil
		}
	}
	mustAdd(t, s, "sample", Every{Interval: time.Hour, Align: true}, record("sample"))
	mustAdd(t, s, "report", DailyAt{Hour: 21, Location: time.UTC}, record("report"))
	s.Plan(clock.Now())

	if ran := s.RunPending(context.Background(), clock.Now()); ran != 0 {
		t.Fatalf("nothing should be due yet, ran %d", ran)
	}

	clock.Set(time.Date(2024, time.March, 1, 21, 0, 0, 0, time.UTC))
	if ran := s.RunPending(context.Background(), clock.Now()); ran != 2 {
		t.Fatalf("both jobs should run at 21:00, ran %d", ran)
	}
	if len(order) != 2 || order[0] != "sample@21:00" || order[1] != "report@21:00" {
		t.Fatalf("unexpected order %v", order)
	}

	next := s.Next()
	if !next["sample"].Equal(time.Date(2024, time.March, 1, 22, 0, 0, 0, time.UTC)) {
		t.Fatalf("sample should be rescheduled to 22:00, got %s", next["sample"])
	}
	if !next["report"].Equal(time.Date(2024, time.March, 2, 21, 0, 0, 0, time.UTC)) {
		t.Fatalf("report should be rescheduled to tomorrow, got %s", next["report"])
	}
}

func TestRunPendingSkipsMissedTicks(t *testing.T) {
	clock := &fakeClock{now: time.Date(2024, time.March, 1, 10, 30, 0, 0, time.UTC)}
	s := New(Options{Clock: clock}, zerolog.Nop())

	calls := 0
	mustAdd(t, s, "sample", Every{Interval: time.Hour, Align: true}, func(ctx context.Context, due time.Time) error {
		calls++
		return nil
	})
	s.Plan(clock.Now())

	// the process was suspended for five hours
	clock.Set(time.Date(2024, time.March, 1, 15, 10, 0, 0, time.UTC))
	s.RunPending(context.Background(), clock.Now())
	if calls != 1 {
		t.Fatalf("missed ticks must collapse into one run, got %d", calls)
	}
	if got := s.Next()["sample"]; !got.Equal(time.Date(2024, time.March, 1, 16, 0, 0, 0, time.UTC)) {
		t.Fatalf("next run should follow the clock, got %s", got)
	}
}

func TestRunPendingLogsJobErrors(t *testing.T) {
	clock := &fakeClock{now: time.Date(2024, time.March, 1, 10, 0, 0, 0, time.UTC)}
	s := New(Options{Clock: clock}, zerolog.Nop())

	second := false
	mustAdd(t, s, "failing", Every{Interval: time.Minute}, func(ctx context.Context, due time.Time) error {
		return errors.New("boom")
	})
	mustAdd(t, s, "healthy", Every{Interval: time.Minute}, func(ctx context.Context, due time.Time) error {
		second = true
		return nil
	})
	s.Plan(clock.Now())

	clock.Set(clock.Now().Add(time.Minute))
	if ran := s.RunPending(context.Background(), clock.Now()); ran != 2 {
		t.Fatalf("a failing job must not stop the others, ran %d", ran)
	}
	if !second {
		t.Fatal("healthy job did not run")
	}
}

func TestRunDrivesJobsUntilCancelled(t *testing.T) {
	clock := &fakeClock{now: time.Date(2024, time.March, 1, 20, 30, 0, 0, time.UTC)}
	s := New(Options{Clock: clock, StartupDelay: 10 * time.Minute}, zerolog.Nop())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var order []string
	record := func(name string) TickFunc {
		return func(ctx context.Context, due time.Time) error {
			order = append(order, name+"@"+due.Format("15:04"))
			if len(order) == 4 {
				cancel()
			}
			return nil
		}
	}
	mustAdd(t, s, "sample", Every{Interval: time.Hour, Align: true}, record("sample"))
	mustAdd(t, s, "report", DailyAt{Hour: 21, Location: time.UTC}, record("report"))

	err := s.Run(ctx)
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("Run should stop with context.Canceled, got %v", err)
	}

	want := []string{"sample@21:00", "report@21:00", "sample@22:00", "sample@23:00"}
	if len(order) != len(want) {
		t.Fatalf("unexpected runs %v", order)
	}
	for i := range want {
		if order[i] != want[i] {
			t.Fatalf("run %d: want %s, got %s", i, want[i], order[i])
		}
	}
}

func TestAddRejectsBadJobs(t *testing.T) {
	s := New(Options{}, zerolog.Nop())
	noop := func(ctx context.Context, due time.Time) error { return nil }

	if err := s.Add("zero", Every{}, noop); err == nil {
		t.Fatal("zero interval should be rejected")
	}
	if err := s.Add("nil", nil, noop); err == nil {
		t.Fatal("nil spec should be rejected")
	}
	mustAdd(t, s, "dup", Every{Interval: time.Second}, noop)
	if err := s.Add("dup", Every{Interval: time.Second}, noop); err == nil {
		t.Fatal("duplicate name should be rejected")
	}
	if err := New(Options{}, zerolog.Nop()).Run(context.Background()); err == nil {
		t.Fatal("Run without jobs should fail")
	}
}

func mustAdd(t *testing.T, s *Scheduler, name string, spec Spec, tick TickFunc) {
	t.Helper()
	if err := s.Add(name, spec, tick); err != nil {
		t.Fatalf("Add(%s): %v", name, err)
	}
}
