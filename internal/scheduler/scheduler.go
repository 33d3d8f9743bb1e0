// Package scheduler implements the interval/cron task scheduler (spec
// §3/§4.9): a unified Task type covering both fixed-interval and
// cron-expression plans, with overlap-drop semantics and a small lifecycle
// API (NextRunTime/TriggerNow/Stop/Cancel/Dispose).
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"sync/atomic"
	"time"

	"github.com/robfig/cron/v3"
)

// ErrDisposed is returned by every Task method (other than Dispose itself)
// once the task has been disposed (spec §4.9 "Lifecycle").
var ErrDisposed = errors.New("scheduler: task disposed")

// Action is the work a Task runs on each fire. It receives a context that
// is cancelled when the task is Cancelled (not merely Stopped).
type Action func(ctx context.Context)

// schedule computes the next fire time after a reference instant. Interval
// and cron plans each implement it.
type schedule interface {
	next(after time.Time) time.Time
}

// intervalSchedule fires every d, measured from the previous fire (or from
// start, for the first fire).
type intervalSchedule struct {
	d            time.Duration
	immediateOne bool // first fire happens immediately rather than after d
	fired        bool
}

func (s *intervalSchedule) next(after time.Time) time.Time {
	if !s.fired && s.immediateOne {
		s.fired = true
		return time.Now()
	}
	s.fired = true
	return after.Add(s.d)
}

// cronSchedule computes the next valid instant from a standard 5-field cron
// expression via robfig/cron's parser (spec §4.9 "Cron").
type cronSchedule struct {
	sched cron.Schedule
}

func newCronSchedule(expr string) (*cronSchedule, error) {
	sched, err := cron.ParseStandard(expr)
	if err != nil {
		return nil, fmt.Errorf("scheduler: invalid cron expression %q: %w", expr, err)
	}
	return &cronSchedule{sched: sched}, nil
}

func (s *cronSchedule) next(after time.Time) time.Time {
	return s.sched.Next(after)
}

// Task is one scheduled action, either interval- or cron-driven. It owns a
// single-shot timer that is rescheduled on each fire (spec §4.9 "Cron":
// "schedules a one-shot timer, rescheduling on each fire" — applied here to
// both plan kinds for one shared implementation).
type Task struct {
	name     string
	action   Action
	schedule schedule

	mu       sync.Mutex
	timer    *time.Timer
	started  bool
	stopped  bool
	disposed bool
	nextRun  time.Time

	running  atomic.Bool
	cancelFn context.CancelFunc
	ctx      context.Context
}

// NewInterval builds a Task that fires every interval, optionally with an
// immediate first fire.
func NewInterval(name string, interval time.Duration, immediateFirst bool, action Action) (*Task, error) {
	if interval <= 0 {
		return nil, errors.New("scheduler: interval must be > 0")
	}
	return newTask(name, &intervalSchedule{d: interval, immediateOne: immediateFirst}, action), nil
}

// NewCron builds a Task that fires on the instants a standard cron
// expression names.
func NewCron(name string, expr string, action Action) (*Task, error) {
	sched, err := newCronSchedule(expr)
	if err != nil {
		return nil, err
	}
	return newTask(name, sched, action), nil
}

func newTask(name string, sched schedule, action Action) *Task {
	ctx, cancel := context.WithCancel(context.Background())
	return &Task{
		name:     name,
		action:   action,
		schedule: sched,
		ctx:      ctx,
		cancelFn: cancel,
	}
}

// Start begins firing the task. It is idempotent: calling Start on an
// already-started task is a no-op (spec §4.9 "start() is idempotent").
func (t *Task) Start() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.disposed {
		return ErrDisposed
	}
	if t.started {
		return nil
	}
	t.started = true
	t.stopped = false
	t.armLocked(time.Now())
	return nil
}

// armLocked schedules the next fire. Caller must hold t.mu.
func (t *Task) armLocked(after time.Time) {
	next := t.schedule.next(after)
	t.nextRun = next
	delay := time.Until(next)
	if delay < 0 {
		delay = 0
	}
	if t.timer != nil {
		t.timer.Stop()
	}
	t.timer = time.AfterFunc(delay, t.fire)
}

// fire runs on the task's timer goroutine. The next tick is armed from this
// tick's own scheduled instant — the grid — before the action runs, not
// from whenever the action finishes: that is what lets a slow action's
// successor ticks genuinely overlap the in-flight run instead of queueing
// up behind it. The overlap guard then drops any tick that finds the
// previous invocation still running (spec §4.9 "Overlap policy": "DROPPED
// (not queued)"), while an undropped tick runs the action with panics
// caught and logged (spec §4.9 "Lifecycle": exceptions must never
// terminate the scheduler).
func (t *Task) fire() {
	t.mu.Lock()
	if t.disposed || t.stopped {
		t.mu.Unlock()
		return
	}
	scheduledAt := t.nextRun
	t.armLocked(scheduledAt)
	t.mu.Unlock()

	if !t.running.CompareAndSwap(false, true) {
		// Previous invocation still running: this tick is dropped, not
		// queued. The next tick is already armed above.
		return
	}
	defer t.running.Store(false)
	defer func() {
		if r := recover(); r != nil {
			log.Printf("scheduler: task %q panicked: %v", t.name, r)
		}
	}()
	t.action(t.ctx)
}

// NextRunTime returns the instant the task is next scheduled to fire. The
// zero time is returned if the task has not been started.
func (t *Task) NextRunTime() (time.Time, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.disposed {
		return time.Time{}, ErrDisposed
	}
	return t.nextRun, nil
}

// TriggerNow runs the action out of band, respecting the same overlap
// guard as a regular fire (spec §4.9). It does not affect the next
// scheduled fire time.
func (t *Task) TriggerNow() error {
	t.mu.Lock()
	if t.disposed {
		t.mu.Unlock()
		return ErrDisposed
	}
	t.mu.Unlock()

	if !t.running.CompareAndSwap(false, true) {
		return nil
	}
	defer t.running.Store(false)
	defer func() {
		if r := recover(); r != nil {
			log.Printf("scheduler: task %q panicked during TriggerNow: %v", t.name, r)
		}
	}()
	t.action(t.ctx)
	return nil
}

// Stop suspends future fires; a currently running invocation is left to
// finish uninterrupted (spec §4.9).
func (t *Task) Stop() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.disposed {
		return ErrDisposed
	}
	t.stopped = true
	if t.timer != nil {
		t.timer.Stop()
	}
	return nil
}

// Cancel stops future fires and signals cooperative cancellation to a
// running invocation via its context (spec §4.9).
func (t *Task) Cancel() error {
	t.mu.Lock()
	if t.disposed {
		t.mu.Unlock()
		return ErrDisposed
	}
	t.stopped = true
	if t.timer != nil {
		t.timer.Stop()
	}
	t.mu.Unlock()

	t.cancelFn()
	return nil
}

// Dispose releases the task's timer and cancellation source permanently
// (spec §5 "Resource cleanup"). After Dispose, every other method returns
// ErrDisposed. Dispose itself is idempotent.
func (t *Task) Dispose() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.disposed {
		return nil
	}
	t.disposed = true
	t.stopped = true
	if t.timer != nil {
		t.timer.Stop()
	}
	t.cancelFn()
	return nil
}

// Registry tracks a named set of Tasks so callers can manage a scan/backup
// job's scheduled work as a unit (e.g. dispose all tasks on shutdown).
type Registry struct {
	mu    sync.Mutex
	tasks map[string]*Task
}

// NewRegistry constructs an empty task Registry.
func NewRegistry() *Registry {
	return &Registry{tasks: make(map[string]*Task)}
}

// Add registers t under its name, replacing and disposing any existing
// task of the same name.
func (r *Registry) Add(t *Task) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if old, ok := r.tasks[t.name]; ok {
		old.Dispose()
	}
	r.tasks[t.name] = t
}

// Get returns the task registered under name, if any.
func (r *Registry) Get(name string) (*Task, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	t, ok := r.tasks[name]
	return t, ok
}

// DisposeAll disposes every registered task, e.g. on process shutdown.
func (r *Registry) DisposeAll() {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, t := range r.tasks {
		t.Dispose()
	}
}
