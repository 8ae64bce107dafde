package event

import (
	"fmt"
	"runtime/debug"
	"sync/atomic"

	"go.uber.org/zap"
)

// PublicSink receives a mirror of whitelisted events, the way a page-visible
// DOM event would be dispatched.
type PublicSink func(name string, data any)

// Bus is the named-event bus.
type Bus struct {
	events map[string][]*Subscription
	nextID uint64

	flush    func()
	sink     PublicSink
	report   ErrorReporter
	schedule func(func())
	logger   *zap.Logger
	autorun  bool

	pageReadyFired bool
	pageReadyData  any

	fired    atomic.Uint64
	invoked  atomic.Uint64
	failures atomic.Uint64
}

// BusOption configures a Bus.
type BusOption func(*Bus)

// WithFlush sets the function called before delivering any event except the
// beacon lifecycle events.
func WithFlush(fn func()) BusOption {
	return func(b *Bus) {
		b.flush = fn
	}
}

// WithPublicSink sets the sink that mirrors whitelisted events.
func WithPublicSink(sink PublicSink) BusOption {
	return func(b *Bus) {
		b.sink = sink
	}
}

// WithErrorReporter sets the reporter for handler failures.
func WithErrorReporter(r ErrorReporter) BusOption {
	return func(b *Bus) {
		b.report = r
	}
}

// WithScheduler sets the function used to run late page_ready subscribers
// asynchronously. Without it they run synchronously at subscription.
func WithScheduler(schedule func(func())) BusOption {
	return func(b *Bus) {
		b.schedule = schedule
	}
}

// WithAutorun enables delivery of page_ready to subscribers that arrive after
// it fired.
func WithAutorun(enabled bool) BusOption {
	return func(b *Bus) {
		b.autorun = enabled
	}
}

// WithLogger sets the bus logger.
func WithLogger(logger *zap.Logger) BusOption {
	return func(b *Bus) {
		if logger != nil {
			b.logger = logger
		}
	}
}

// NewBus creates an event bus.
func NewBus(opts ...BusOption) *Bus {
	b := &Bus{
		events:  make(map[string][]*Subscription),
		logger:  zap.NewNop(),
		autorun: true,
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// SetFlush replaces the flush hook. The transmitter is usually built after
// the bus, so the agent wires it late.
func (b *Bus) SetFlush(fn func()) {
	b.flush = fn
}

// RegisterEvent creates an empty subscriber list for name. It is a no-op if
// the event already exists.
func (b *Bus) RegisterEvent(name string) {
	name = Normalize(name)
	if name == "" {
		return
	}
	if _, ok := b.events[name]; ok {
		return
	}
	b.events[name] = nil
}

// Registered reports whether name has been registered or subscribed to.
func (b *Bus) Registered(name string) bool {
	_, ok := b.events[Normalize(name)]
	return ok
}

// Subscribe registers h for name. A duplicate registration of the same
// handler, callback data and scope returns the existing subscription.
func (b *Bus) Subscribe(name string, h Handler, opts ...SubscriptionOption) (*Subscription, error) {
	if h == nil {
		return nil, ErrNilHandler
	}
	name = Normalize(name)
	if name == "" {
		return nil, ErrInvalidEvent
	}

	var cfg SubscriptionConfig
	for _, opt := range opts {
		opt(&cfg)
	}
	key := keyFor(h, cfg)

	for _, existing := range b.events[name] {
		if existing.sameIdentity(key, cfg) {
			return existing, nil
		}
	}

	b.nextID++
	sub := &Subscription{
		id:      b.nextID,
		name:    name,
		handler: h,
		key:     key,
		config:  cfg,
		bus:     b,
	}
	b.events[name] = append(b.events[name], sub)

	if name == PageReady && b.pageReadyFired && b.autorun {
		data := b.pageReadyData
		late := func() {
			if !sub.Active() {
				return
			}
			b.deliver(sub, data)
			if sub.config.Once {
				b.remove(sub)
			}
		}
		if b.schedule != nil {
			b.schedule(late)
		} else {
			late()
		}
	}

	return sub, nil
}

// MustSubscribe is Subscribe for callers that pass a known-good handler and
// name; it reports instead of returning the error.
func (b *Bus) MustSubscribe(name string, h Handler, opts ...SubscriptionOption) *Subscription {
	sub, err := b.Subscribe(name, h, opts...)
	if err != nil {
		b.reportErr(fmt.Errorf("subscribe %q: %w", name, err))
	}
	return sub
}

// FireEvent delivers data to every subscriber of name.
func (b *Bus) FireEvent(name string, data any) {
	name = Normalize(name)
	subs, ok := b.events[name]
	if !ok {
		return
	}
	b.fired.Add(1)

	if b.sink != nil && publicEvents[name] {
		b.mirror(name, data)
	}

	if !noFlush[name] && b.flush != nil {
		b.flush()
		subs = b.events[name]
	}

	if name == PageReady {
		b.pageReadyFired = true
		b.pageReadyData = data
	}

	snapshot := make([]*Subscription, len(subs))
	copy(snapshot, subs)

	var once []*Subscription
	for _, sub := range snapshot {
		if !sub.Active() {
			continue
		}
		if sub.config.Once {
			sub.fired = true
			once = append(once, sub)
		}
		b.deliver(sub, data)
	}

	for _, sub := range once {
		b.remove(sub)
	}
}

// Disable removes every subscription. Registered event names survive.
func (b *Bus) Disable() {
	for name, subs := range b.events {
		for _, sub := range subs {
			sub.cancelled = true
		}
		b.events[name] = nil
	}
}

// Count returns the number of subscribers for name.
func (b *Bus) Count(name string) int {
	return len(b.events[Normalize(name)])
}

// Stats reports fired events, invoked handlers and handler failures.
func (b *Bus) Stats() (fired, invoked, failures uint64) {
	return b.fired.Load(), b.invoked.Load(), b.failures.Load()
}

func (b *Bus) deliver(sub *Subscription, data any) {
	b.invoked.Add(1)
	defer func() {
		if r := recover(); r != nil {
			b.reportErr(&PanicError{Event: sub.name, Value: r, Stack: string(debug.Stack())})
		}
	}()

	err := sub.handler(Event{
		Name:         sub.name,
		Data:         data,
		CallbackData: sub.config.Data,
		Scope:        sub.config.Scope,
	})
	if err != nil {
		b.reportErr(&HandlerError{Event: sub.name, Err: err})
	}
}

func (b *Bus) mirror(name string, data any) {
	defer func() {
		if r := recover(); r != nil {
			b.reportErr(&PanicError{Event: name, Value: r, Stack: string(debug.Stack())})
		}
	}()
	b.sink(name, data)
}

func (b *Bus) remove(sub *Subscription) {
	sub.cancelled = true
	subs := b.events[sub.name]
	for i, s := range subs {
		if s == sub {
			b.events[sub.name] = append(subs[:i:i], subs[i+1:]...)
			return
		}
	}
}

func (b *Bus) reportErr(err error) {
	b.failures.Add(1)
	b.logger.Warn("event: handler failed", zap.Error(err))
	if b.report != nil {
		func() {
			defer func() { _ = recover() }()
			b.report(err)
		}()
	}
}
