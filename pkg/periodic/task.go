package periodic

import (
	"context"
	"errors"
	"runtime/debug"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"deadman/pkg/logx"
)

// Handler is the capability invoked on every tick.
//
// ctx is canceled as soon as Stop is requested, so a long-running handler
// may bail out early; the loop itself never interrupts a handler.
// A non-nil return value ends the Task unless WithContinueOnError is set.
// Returning ErrStop ends the Task without recording a failure.
type Handler interface {
	Tick(ctx context.Context) error
}

// HandlerFunc adapts a plain function to Handler.
type HandlerFunc func(ctx context.Context) error

func (f HandlerFunc) Tick(ctx context.Context) error { return f(ctx) }

// State is the lifecycle state of a Task.
type State int32

const (
	StateCreated State = iota
	StateRunning
	StateStopped
)

func (s State) String() string {
	switch s {
	case StateCreated:
		return "created"
	case StateRunning:
		return "running"
	case StateStopped:
		return "stopped"
	default:
		return "state(" + strconv.Itoa(int(s)) + ")"
	}
}

type options struct {
	name            string
	log             logx.Logger
	continueOnError bool
}

// Option configures a Task.
type Option func(*options)

// WithName sets a cosmetic identifier used in logs and errors.
// Unnamed tasks get a unique "periodic-N" name.
func WithName(name string) Option {
	return func(o *options) { o.name = name }
}

// WithLogger sets the logger. The default is a no-op logger.
func WithLogger(log logx.Logger) Option {
	return func(o *options) { o.log = log }
}

// WithContinueOnError keeps the Task ticking after a handler failure.
// Failures are logged and counted instead of ending the loop.
func WithContinueOnError() Option {
	return func(o *options) { o.continueOnError = true }
}

var taskSeq atomic.Uint64

// Task repeatedly invokes a Handler, waiting Period between invocations.
// All methods are safe for concurrent use.
type Task struct {
	name            string
	handler         Handler
	log             logx.Logger
	continueOnError bool

	period atomic.Int64 // time.Duration

	mu       sync.Mutex
	state    State
	started  bool
	signaled bool
	err      error

	cancel     chan struct{} // closed when stop is requested
	done       chan struct{} // closed when the loop goroutine exits
	ctx        context.Context
	cancelTick context.CancelFunc

	ticks    atomic.Uint64
	failures atomic.Uint64
	next     atomic.Int64 // unix nanos of the pending wake-up, 0 when not waiting
}

// New returns a Task in the Created state.
// It fails with ErrInvalidPeriod if period <= 0 and ErrNoHandler if h is nil.
func New(period time.Duration, h Handler, opts ...Option) (*Task, error) {
	if period <= 0 {
		return nil, InvalidPeriod(period)
	}
	if h == nil {
		return nil, ErrNoHandler
	}

	var o options
	for _, opt := range opts {
		opt(&o)
	}
	if o.name == "" {
		o.name = "periodic-" + strconv.FormatUint(taskSeq.Add(1), 10)
	}

	log := o.log
	if !log.IsZero() {
		log = log.With(logx.String("task", o.name))
	}

	ctx, cancel := context.WithCancel(context.Background())
	t := &Task{
		name:            o.name,
		handler:         h,
		log:             log,
		continueOnError: o.continueOnError,

		cancel:     make(chan struct{}),
		done:       make(chan struct{}),
		ctx:        ctx,
		cancelTick: cancel,
	}
	t.period.Store(int64(period))
	return t, nil
}

func (t *Task) Name() string { return t.name }

// Period returns the period the next wait will use.
func (t *Task) Period() time.Duration { return time.Duration(t.period.Load()) }

func (t *Task) State() State {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.state
}

// Ticks reports how many handler invocations have returned.
func (t *Task) Ticks() uint64 { return t.ticks.Load() }

// Failures reports how many handler invocations failed.
func (t *Task) Failures() uint64 { return t.failures.Load() }

// NextTick returns when the wait in progress expires,
// or the zero time if the loop is not currently waiting.
func (t *Task) NextTick() time.Time {
	n := t.next.Load()
	if n == 0 {
		return time.Time{}
	}
	return time.Unix(0, n)
}

// Done is closed once the loop goroutine has exited.
// It is never closed for a Task that was never started.
func (t *Task) Done() <-chan struct{} { return t.done }

// Err returns the handler failure that ended the loop, if any.
func (t *Task) Err() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.err
}

// Start launches the loop. It returns ErrAlreadyStarted if the Task is
// running and ErrStopped if it has already been stopped.
func (t *Task) Start() error {
	t.mu.Lock()
	defer t.mu.Unlock()

	switch t.state {
	case StateRunning:
		return ErrAlreadyStarted
	case StateStopped:
		return ErrStopped
	}

	t.state = StateRunning
	t.started = true
	go t.run()

	if !t.log.IsZero() {
		t.log.Debug("periodic task started", logx.Duration("period", t.Period()))
	}
	return nil
}

// SetPeriod changes the period used by the next wait.
// A wait already in progress keeps its original deadline.
// Non-positive values are rejected and the previous period is kept.
func (t *Task) SetPeriod(d time.Duration) error {
	if d <= 0 {
		return InvalidPeriod(d)
	}
	t.period.Store(int64(d))
	return nil
}

// Stop requests cancellation and waits for the loop to exit.
// A wait in progress is woken immediately; a handler in progress
// runs to completion first, with its context canceled.
//
// Stop is idempotent. Before Start it does nothing.
// It must not be called from the Task's own handler, which should return
// ErrStop instead.
func (t *Task) Stop() {
	t.mu.Lock()
	switch t.state {
	case StateCreated:
		t.mu.Unlock()
		return
	case StateRunning:
		t.state = StateStopped
		t.signalLocked()
	}
	started := t.started
	t.mu.Unlock()

	if started {
		<-t.done
	}
	if !t.log.IsZero() {
		t.log.Debug("periodic task stopped", logx.Uint64("ticks", t.Ticks()))
	}
}

func (t *Task) signalLocked() {
	if t.signaled {
		return
	}
	t.signaled = true
	close(t.cancel)
	t.cancelTick()
}

func (t *Task) run() {
	defer t.finish()

	for {
		d := t.Period()
		timer := time.NewTimer(d)
		t.next.Store(time.Now().Add(d).UnixNano())

		select {
		case <-t.cancel:
			timer.Stop()
			return
		case <-timer.C:
		}
		t.next.Store(0)

		// Cancellation wins over a timer that fired at the same moment.
		select {
		case <-t.cancel:
			return
		default:
		}

		if !t.tick() {
			return
		}
	}
}

// tick runs the handler once and reports whether the loop should continue.
func (t *Task) tick() bool {
	err := t.invoke()
	n := t.ticks.Add(1)
	if err == nil {
		return true
	}

	if errors.Is(err, ErrStop) {
		if !t.log.IsZero() {
			t.log.Debug("periodic task ended by handler", logx.Uint64("tick", n))
		}
		return false
	}

	t.failures.Add(1)
	herr := &HandlerError{Task: t.name, Tick: n, Err: err}

	var pe *PanicError
	isPanic := errors.As(err, &pe)

	if t.continueOnError {
		if !t.log.IsZero() {
			fields := []logx.Field{logx.Uint64("tick", n), logx.Err(err)}
			if isPanic {
				fields = append(fields, logx.String("stack", string(pe.Stack)))
			}
			t.log.Warn("tick handler failed; continuing", fields...)
		}
		return true
	}

	if !t.log.IsZero() {
		fields := []logx.Field{logx.Uint64("tick", n), logx.Err(err)}
		if isPanic {
			fields = append(fields, logx.String("stack", string(pe.Stack)))
		}
		t.log.Error("tick handler failed; stopping task", fields...)
	}

	t.mu.Lock()
	t.err = herr
	t.mu.Unlock()
	return false
}

func (t *Task) invoke() (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = &PanicError{Value: r, Stack: debug.Stack()}
		}
	}()
	return t.handler.Tick(t.ctx)
}

func (t *Task) finish() {
	t.next.Store(0)

	t.mu.Lock()
	// The loop may end on its own (handler failure or ErrStop).
	t.state = StateStopped
	t.signalLocked()
	t.mu.Unlock()

	close(t.done)
}
