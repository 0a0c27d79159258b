// Package watchdog implements a deadman switch on top of [periodic.Task].
//
// A Timer raises its alarm when a full period elapses without a call to
// Reset. If it is never reset and never stopped, the alarm keeps firing once
// per period, so a Timer also works as a plain repeating timer.
package watchdog

import (
	"context"
	"fmt"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"deadman/pkg/logx"
	"deadman/pkg/periodic"
)

type options struct {
	name string
	log  logx.Logger
}

// Option configures a Timer.
type Option func(*options)

// WithName sets the name used in logs, errors and the underlying tasks.
func WithName(name string) Option {
	return func(o *options) { o.name = name }
}

// WithLogger sets the logger. The default is a no-op logger.
func WithLogger(log logx.Logger) Option {
	return func(o *options) { o.log = log }
}

var timerSeq atomic.Uint64

// Timer owns exactly one periodic.Task at a time and replaces it on Reset.
// All methods are safe for concurrent use.
type Timer struct {
	name  string
	alarm periodic.Handler
	log   logx.Logger

	// Kept outside the task so Reset can rebuild it identically.
	period atomic.Int64

	// mu serializes lifecycle changes; readers load state and current
	// without it so they stay usable from inside the alarm handler.
	mu      sync.Mutex
	state   atomic.Int32 // periodic.State
	current atomic.Pointer[periodic.Task]
	gen     uint64

	alarms    atomic.Uint64
	resets    atomic.Uint64
	lastAlarm atomic.Int64
}

// New returns a Timer in the Created state.
// Validation matches [periodic.New].
func New(period time.Duration, alarm periodic.Handler, opts ...Option) (*Timer, error) {
	if period <= 0 {
		return nil, periodic.InvalidPeriod(period)
	}
	if alarm == nil {
		return nil, periodic.ErrNoHandler
	}

	var o options
	for _, opt := range opts {
		opt(&o)
	}
	if o.name == "" {
		o.name = "watchdog-" + strconv.FormatUint(timerSeq.Add(1), 10)
	}

	log := o.log
	if !log.IsZero() {
		log = log.With(logx.String("watchdog", o.name))
	}

	t := &Timer{
		name:  o.name,
		alarm: alarm,
		log:   log,
	}
	t.period.Store(int64(period))

	task, err := t.newTask()
	if err != nil {
		return nil, err
	}
	t.current.Store(task)
	return t, nil
}

func (t *Timer) Name() string { return t.name }

func (t *Timer) Period() time.Duration { return time.Duration(t.period.Load()) }

func (t *Timer) State() periodic.State { return periodic.State(t.state.Load()) }

// Alarms counts alarm invocations across every generation.
func (t *Timer) Alarms() uint64 { return t.alarms.Load() }

// Resets counts successful calls to Reset.
func (t *Timer) Resets() uint64 { return t.resets.Load() }

// LastAlarm returns when the alarm last fired, or the zero time.
func (t *Timer) LastAlarm() time.Time {
	n := t.lastAlarm.Load()
	if n == 0 {
		return time.Time{}
	}
	return time.Unix(0, n)
}

// Deadline returns when the current countdown expires.
// It is the zero time while the alarm handler runs or when the Timer is not running.
func (t *Timer) Deadline() time.Time {
	return t.current.Load().NextTick()
}

// Err returns the alarm failure that ended the current generation, if any.
// The next successful Reset clears it.
func (t *Timer) Err() error {
	return t.current.Load().Err()
}

// Start begins the first countdown.
func (t *Timer) Start() error {
	t.mu.Lock()
	defer t.mu.Unlock()

	switch t.State() {
	case periodic.StateRunning:
		return periodic.ErrAlreadyStarted
	case periodic.StateStopped:
		return periodic.ErrStopped
	}

	if err := t.current.Load().Start(); err != nil {
		return fmt.Errorf("watchdog %s: %w", t.name, err)
	}
	t.state.Store(int32(periodic.StateRunning))
	return nil
}

// SetPeriod changes the countdown length. The countdown in progress keeps
// its deadline; the next one (after an alarm or a Reset) uses d.
func (t *Timer) SetPeriod(d time.Duration) error {
	if d <= 0 {
		return periodic.InvalidPeriod(d)
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	t.period.Store(int64(d))
	return t.current.Load().SetPeriod(d)
}

// Reset discards the current countdown and starts a fresh one of the same length.
// Called more often than once per period, it keeps the alarm from firing.
//
// The old task is fully stopped before the replacement starts, so two
// countdowns never run at once; an alarm already in progress finishes first.
// If the replacement cannot be built or started, the Timer is left stopped
// and the error is returned.
//
// Reset must not be called from the alarm handler.
func (t *Timer) Reset() error {
	t.mu.Lock()
	defer t.mu.Unlock()

	switch t.State() {
	case periodic.StateCreated:
		return periodic.ErrNotStarted
	case periodic.StateStopped:
		return periodic.ErrStopped
	}

	t.current.Load().Stop()

	next, err := t.newTask()
	if err != nil {
		t.state.Store(int32(periodic.StateStopped))
		return fmt.Errorf("watchdog %s: rebuilding countdown: %w", t.name, err)
	}
	if err := next.Start(); err != nil {
		t.state.Store(int32(periodic.StateStopped))
		return fmt.Errorf("watchdog %s: restarting countdown: %w", t.name, err)
	}

	t.current.Store(next)
	t.resets.Add(1)
	return nil
}

// Stop ends the current countdown and makes the Timer permanently inert.
// Later Start and Reset calls return periodic.ErrStopped. Stop is idempotent.
func (t *Timer) Stop() {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.State() == periodic.StateStopped {
		return
	}
	t.state.Store(int32(periodic.StateStopped))
	t.current.Load().Stop()

	if !t.log.IsZero() {
		t.log.Debug("watchdog stopped", logx.Uint64("alarms", t.Alarms()), logx.Uint64("resets", t.Resets()))
	}
}

// newTask builds the next generation. Callers hold t.mu, except New.
func (t *Timer) newTask() (*periodic.Task, error) {
	t.gen++
	return periodic.New(
		t.Period(),
		periodic.HandlerFunc(t.fire),
		periodic.WithName(t.name+"#"+strconv.FormatUint(t.gen, 10)),
		periodic.WithLogger(t.log),
	)
}

func (t *Timer) fire(ctx context.Context) error {
	n := t.alarms.Add(1)
	t.lastAlarm.Store(time.Now().UnixNano())

	if !t.log.IsZero() {
		t.log.Warn("watchdog alarm", logx.Uint64("alarm", n), logx.Duration("period", t.Period()))
	}
	return t.alarm.Tick(ctx)
}
