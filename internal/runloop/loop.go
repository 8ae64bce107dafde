package runloop

import (
	"context"
	"runtime/debug"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
)

// PanicHandler is called when a task panics. The loop keeps running.
type PanicHandler func(recovered any, stack []byte)

// Loop runs tasks one at a time on a single goroutine.
type Loop struct {
	clock        Clock
	logger       *zap.Logger
	panicHandler PanicHandler

	mu    sync.Mutex
	tasks []func()
	micro []func()
	wake  chan struct{}

	executed atomic.Uint64
	panicked atomic.Uint64
}

// Option configures a Loop.
type Option func(*Loop)

// WithClock sets the loop's time source.
func WithClock(c Clock) Option {
	return func(l *Loop) {
		if c != nil {
			l.clock = c
		}
	}
}

// WithLogger sets the logger used to record recovered panics.
func WithLogger(logger *zap.Logger) Option {
	return func(l *Loop) {
		if logger != nil {
			l.logger = logger
		}
	}
}

// WithPanicHandler sets the handler called for panicking tasks.
func WithPanicHandler(h PanicHandler) Option {
	return func(l *Loop) {
		l.panicHandler = h
	}
}

// New creates a Loop. Without WithClock it uses the real clock.
func New(opts ...Option) *Loop {
	l := &Loop{
		clock:  RealClock(),
		logger: zap.NewNop(),
		wake:   make(chan struct{}, 1),
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// NewTest creates a Loop driven by a FakeClock starting at start.
func NewTest(start time.Time, opts ...Option) (*Loop, *FakeClock) {
	fc := NewFakeClock(start)
	opts = append([]Option{WithClock(fc)}, opts...)
	return New(opts...), fc
}

// Now returns the current time of the loop's clock.
func (l *Loop) Now() time.Time {
	return l.clock.Now()
}

// Clock returns the loop's clock.
func (l *Loop) Clock() Clock {
	return l.clock
}

// Post enqueues fn as a task. It is safe to call from any goroutine.
func (l *Loop) Post(fn func()) {
	if fn == nil {
		return
	}
	l.mu.Lock()
	l.tasks = append(l.tasks, fn)
	l.mu.Unlock()

	select {
	case l.wake <- struct{}{}:
	default:
	}
}

// Defer enqueues fn as a microtask that runs after the current task and
// before the next one.
func (l *Loop) Defer(fn func()) {
	if fn == nil {
		return
	}
	l.mu.Lock()
	l.micro = append(l.micro, fn)
	l.mu.Unlock()

	select {
	case l.wake <- struct{}{}:
	default:
	}
}

// AfterFunc schedules fn to run as a loop task after d.
// Stopping the returned timer also drops a callback that already fired
// but has not yet run on the loop.
func (l *Loop) AfterFunc(d time.Duration, fn func()) Timer {
	lt := &loopTimer{}
	lt.timer = l.clock.AfterFunc(d, func() {
		l.Post(func() {
			if lt.stopped.Load() {
				return
			}
			lt.stopped.Store(true)
			fn()
		})
	})
	return lt
}

type loopTimer struct {
	timer   Timer
	stopped atomic.Bool
}

func (t *loopTimer) Stop() bool {
	if t.stopped.Swap(true) {
		return false
	}
	t.timer.Stop()
	return true
}

// RunPending drains queued microtasks and tasks on the calling goroutine and
// returns the number of functions executed.
func (l *Loop) RunPending() int {
	n := 0
	for {
		fn := l.next()
		if fn == nil {
			return n
		}
		l.run(fn)
		n++
	}
}

// next pops the next microtask, or the next task when no microtask waits.
func (l *Loop) next() func() {
	l.mu.Lock()
	defer l.mu.Unlock()

	if len(l.micro) > 0 {
		fn := l.micro[0]
		l.micro = l.micro[1:]
		return fn
	}
	if len(l.tasks) > 0 {
		fn := l.tasks[0]
		l.tasks = l.tasks[1:]
		return fn
	}
	return nil
}

func (l *Loop) run(fn func()) {
	defer func() {
		if r := recover(); r != nil {
			l.panicked.Add(1)
			stack := debug.Stack()
			l.logger.Error("runloop: task panicked", zap.Any("panic", r), zap.ByteString("stack", stack))
			if l.panicHandler != nil {
				func() {
					defer func() { _ = recover() }()
					l.panicHandler(r, stack)
				}()
			}
		}
	}()
	l.executed.Add(1)
	fn()
}

// Run serves tasks until ctx is cancelled.
func (l *Loop) Run(ctx context.Context) error {
	for {
		l.RunPending()
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-l.wake:
		}
	}
}

// Advance steps a FakeClock-driven loop forward by d. Timers fire in
// deadline order and the loop is drained after each one. It is a no-op
// apart from draining when the loop uses another clock.
func (l *Loop) Advance(d time.Duration) {
	l.RunPending()
	fc, ok := l.clock.(*FakeClock)
	if !ok {
		return
	}
	target := fc.Now().Add(d)
	for fc.fireNext(target) {
		l.RunPending()
	}
	fc.setNow(target)
	l.RunPending()
}

// Stats reports executed and panicked task counts.
func (l *Loop) Stats() (executed, panicked uint64) {
	return l.executed.Load(), l.panicked.Load()
}
