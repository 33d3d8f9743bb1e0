package scheduler

import (
	"context"
	"sync/atomic"
	"testing"
	"time"
)

func waitForCount(t *testing.T, counter *atomic.Int32, want int32, timeout time.Duration) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if counter.Load() >= want {
			return
		}
		time.Sleep(time.Millisecond)
	}
	t.Fatalf("counter reached %d, want at least %d within %s", counter.Load(), want, timeout)
}

func TestTask_IntervalFiresRepeatedly(t *testing.T) {
	var count atomic.Int32
	task, err := NewInterval("repeat", 5*time.Millisecond, true, func(ctx context.Context) {
		count.Add(1)
	})
	if err != nil {
		t.Fatalf("NewInterval: %v", err)
	}
	defer task.Dispose()

	if err := task.Start(); err != nil {
		t.Fatalf("Start: %v", err)
	}
	waitForCount(t, &count, 3, time.Second)
}

func TestTask_StartIsIdempotent(t *testing.T) {
	var count atomic.Int32
	task, err := NewInterval("idempotent", 10*time.Millisecond, false, func(ctx context.Context) {
		count.Add(1)
	})
	if err != nil {
		t.Fatalf("NewInterval: %v", err)
	}
	defer task.Dispose()

	if err := task.Start(); err != nil {
		t.Fatalf("Start (1): %v", err)
	}
	if err := task.Start(); err != nil {
		t.Fatalf("Start (2) should be a no-op, got error: %v", err)
	}
}

func TestTask_NewIntervalRejectsNonPositive(t *testing.T) {
	if _, err := NewInterval("bad", 0, false, func(ctx context.Context) {}); err == nil {
		t.Fatal("expected an error for a non-positive interval")
	}
}

func TestTask_OverlapIsDropped(t *testing.T) {
	release := make(chan struct{})
	var starts atomic.Int32

	task, err := NewInterval("overlap", 2*time.Millisecond, true, func(ctx context.Context) {
		starts.Add(1)
		<-release
	})
	if err != nil {
		t.Fatalf("NewInterval: %v", err)
	}
	defer task.Dispose()

	if err := task.Start(); err != nil {
		t.Fatalf("Start: %v", err)
	}

	// The next tick is armed on the fixed grid as soon as this one fires,
	// so several ticks genuinely land while the first invocation is still
	// blocked on release; overlap-drop means only one start survives them.
	time.Sleep(30 * time.Millisecond)
	if n := starts.Load(); n != 1 {
		t.Fatalf("observed %d overlapping starts, want exactly 1 while the action is blocked", n)
	}
	close(release)
}

// TestTask_OverlapDrop_MatchesGridScenario mirrors spec §8 property 8 / S6:
// an interval task whose action takes substantially longer than the
// interval still runs on the fixed tick grid, dropping every tick that
// lands while the previous invocation is still in flight, rather than
// queueing up and running once per tick after the fact. With a 40ms
// interval and a 100ms action, ticks are only ever picked up roughly every
// third grid slot (0, 120, 240, 360, ...), so this asserts a handful of
// runs land in a ~420ms window instead of the ~10 that a naive per-tick
// scheduler (or the no-overlap-possible version this replaces) would
// produce.
func TestTask_OverlapDrop_MatchesGridScenario(t *testing.T) {
	const interval = 40 * time.Millisecond
	const actionSleep = 100 * time.Millisecond
	var starts atomic.Int32

	task, err := NewInterval("grid", interval, true, func(ctx context.Context) {
		starts.Add(1)
		time.Sleep(actionSleep)
	})
	if err != nil {
		t.Fatalf("NewInterval: %v", err)
	}
	defer task.Dispose()

	if err := task.Start(); err != nil {
		t.Fatalf("Start: %v", err)
	}

	time.Sleep(420 * time.Millisecond)
	n := starts.Load()
	if n < 3 || n > 5 {
		t.Fatalf("observed %d runs in ~420ms with a 40ms interval / 100ms action, want 3-5 (overlap-drop on a fixed grid)", n)
	}
}

func TestTask_PanicDoesNotKillScheduler(t *testing.T) {
	var count atomic.Int32
	task, err := NewInterval("panicky", 5*time.Millisecond, true, func(ctx context.Context) {
		count.Add(1)
		panic("boom")
	})
	if err != nil {
		t.Fatalf("NewInterval: %v", err)
	}
	defer task.Dispose()

	if err := task.Start(); err != nil {
		t.Fatalf("Start: %v", err)
	}
	waitForCount(t, &count, 3, time.Second)
}

func TestTask_StopSuspendsFutureFires(t *testing.T) {
	var count atomic.Int32
	task, err := NewInterval("stoppable", 5*time.Millisecond, true, func(ctx context.Context) {
		count.Add(1)
	})
	if err != nil {
		t.Fatalf("NewInterval: %v", err)
	}
	defer task.Dispose()

	if err := task.Start(); err != nil {
		t.Fatalf("Start: %v", err)
	}
	waitForCount(t, &count, 1, time.Second)

	if err := task.Stop(); err != nil {
		t.Fatalf("Stop: %v", err)
	}
	afterStop := count.Load()
	time.Sleep(30 * time.Millisecond)
	if count.Load() != afterStop {
		t.Fatalf("task fired after Stop: before=%d after=%d", afterStop, count.Load())
	}
}

func TestTask_CancelSignalsRunningAction(t *testing.T) {
	cancelled := make(chan struct{})
	task, err := NewInterval("cancellable", 2*time.Millisecond, true, func(ctx context.Context) {
		select {
		case <-ctx.Done():
			close(cancelled)
		case <-time.After(2 * time.Second):
		}
	})
	if err != nil {
		t.Fatalf("NewInterval: %v", err)
	}
	defer task.Dispose()

	if err := task.Start(); err != nil {
		t.Fatalf("Start: %v", err)
	}
	time.Sleep(10 * time.Millisecond)
	if err := task.Cancel(); err != nil {
		t.Fatalf("Cancel: %v", err)
	}

	select {
	case <-cancelled:
	case <-time.After(time.Second):
		t.Fatal("expected the running action's context to be cancelled")
	}
}

func TestTask_DisposeIsIdempotentAndPoisonsMethods(t *testing.T) {
	task, err := NewInterval("disposable", time.Hour, false, func(ctx context.Context) {})
	if err != nil {
		t.Fatalf("NewInterval: %v", err)
	}

	if err := task.Dispose(); err != nil {
		t.Fatalf("Dispose (1): %v", err)
	}
	if err := task.Dispose(); err != nil {
		t.Fatalf("Dispose (2) should be a no-op, got error: %v", err)
	}

	if err := task.Start(); err != ErrDisposed {
		t.Fatalf("Start after Dispose = %v, want ErrDisposed", err)
	}
	if _, err := task.NextRunTime(); err != ErrDisposed {
		t.Fatalf("NextRunTime after Dispose = %v, want ErrDisposed", err)
	}
	if err := task.Stop(); err != ErrDisposed {
		t.Fatalf("Stop after Dispose = %v, want ErrDisposed", err)
	}
}

func TestNewCron_RejectsInvalidExpression(t *testing.T) {
	if _, err := NewCron("bad-cron", "not a cron expression", func(ctx context.Context) {}); err == nil {
		t.Fatal("expected an error for an invalid cron expression")
	}
}

func TestNewCron_ValidExpressionComputesFutureNextRun(t *testing.T) {
	task, err := NewCron("hourly", "0 * * * *", func(ctx context.Context) {})
	if err != nil {
		t.Fatalf("NewCron: %v", err)
	}
	defer task.Dispose()

	if err := task.Start(); err != nil {
		t.Fatalf("Start: %v", err)
	}
	next, err := task.NextRunTime()
	if err != nil {
		t.Fatalf("NextRunTime: %v", err)
	}
	if !next.After(time.Now()) {
		t.Fatalf("NextRunTime() = %v, want a time in the future", next)
	}
}

func TestRegistry_AddDisposesPriorTaskWithSameName(t *testing.T) {
	r := NewRegistry()

	first, err := NewInterval("job", time.Hour, false, func(ctx context.Context) {})
	if err != nil {
		t.Fatalf("NewInterval: %v", err)
	}
	r.Add(first)

	second, err := NewInterval("job", time.Hour, false, func(ctx context.Context) {})
	if err != nil {
		t.Fatalf("NewInterval: %v", err)
	}
	r.Add(second)

	if err := first.Start(); err != ErrDisposed {
		t.Fatalf("first task Start() = %v, want ErrDisposed after being replaced", err)
	}

	got, ok := r.Get("job")
	if !ok || got != second {
		t.Fatal("Registry.Get should return the replacement task")
	}

	r.DisposeAll()
	if err := second.Start(); err != ErrDisposed {
		t.Fatalf("second task Start() = %v, want ErrDisposed after DisposeAll", err)
	}
}

func TestRegistry_GetUnknownReturnsFalse(t *testing.T) {
	r := NewRegistry()
	if _, ok := r.Get("nope"); ok {
		t.Fatal("expected Get to report false for an unregistered name")
	}
}
