package mutation

import (
	"runtime/debug"
	"time"

	"go.uber.org/zap"

	"github.com/dshills/rumbeacon/internal/dom"
	"github.com/dshills/rumbeacon/internal/runloop"
)

type timer = runloop.Timer

// Default timeouts.
const (
	DefaultClickTimeout         = 50 * time.Millisecond
	DefaultXHRTimeout           = 50 * time.Millisecond
	DefaultSPATimeout           = 1000 * time.Millisecond
	DefaultUninterestingTimeout = 1000 * time.Millisecond
	DefaultEarlyBeaconGrace     = 100 * time.Millisecond
	DefaultMaxEventDuration     = 60 * time.Second
)

// Timeouts configures the settle timers.
type Timeouts struct {
	Click         time.Duration
	XHR           time.Duration
	SPA           time.Duration
	Uninteresting time.Duration
	EarlyBeacon   time.Duration
	MaxEvent      time.Duration
}

// DefaultTimeouts returns the default timeouts.
func DefaultTimeouts() Timeouts {
	return Timeouts{
		Click:         DefaultClickTimeout,
		XHR:           DefaultXHRTimeout,
		SPA:           DefaultSPATimeout,
		Uninteresting: DefaultUninterestingTimeout,
		EarlyBeacon:   DefaultEarlyBeaconGrace,
		MaxEvent:      DefaultMaxEventDuration,
	}
}

// Clock schedules settle timers. *runloop.Loop implements it.
type Clock interface {
	Now() time.Time
	AfterFunc(d time.Duration, fn func()) runloop.Timer
}

// Handler tracks pending events.
type Handler struct {
	clock    Clock
	observer dom.Observer
	stop     func()

	events  []*Event
	tracked map[*dom.Node]*tracking

	timeouts Timeouts
	sink     func(*Event)
	early    func(*Event)
	report   func(error)
	logger   *zap.Logger
}

type tracking struct {
	ev      *Event
	url     string
	removes []func()
}

// Option configures a Handler.
type Option func(*Handler)

// WithTimeouts overrides the timeouts. Zero fields keep their defaults.
func WithTimeouts(t Timeouts) Option {
	return func(h *Handler) {
		def := h.timeouts
		pick := func(v, d time.Duration) time.Duration {
			if v > 0 {
				return v
			}
			return d
		}
		h.timeouts = Timeouts{
			Click:         pick(t.Click, def.Click),
			XHR:           pick(t.XHR, def.XHR),
			SPA:           pick(t.SPA, def.SPA),
			Uninteresting: pick(t.Uninteresting, def.Uninteresting),
			EarlyBeacon:   pick(t.EarlyBeacon, def.EarlyBeacon),
			MaxEvent:      pick(t.MaxEvent, def.MaxEvent),
		}
	}
}

// WithSink sets the function receiving completed events.
func WithSink(fn func(*Event)) Option {
	return func(h *Handler) { h.sink = fn }
}

// WithEarlyBeacon sets the function called once per SPA event, the early
// beacon grace after it first settles, if it is still pending.
func WithEarlyBeacon(fn func(*Event)) Option {
	return func(h *Handler) { h.early = fn }
}

// WithReporter sets the callback for recovered callback failures.
func WithReporter(fn func(error)) Option {
	return func(h *Handler) { h.report = fn }
}

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) Option {
	return func(h *Handler) {
		if l != nil {
			h.logger = l
		}
	}
}

// New creates a Handler. observer may be nil when no document is observed.
func New(clock Clock, observer dom.Observer, opts ...Option) *Handler {
	h := &Handler{
		clock:    clock,
		observer: observer,
		tracked:  make(map[*dom.Node]*tracking),
		timeouts: DefaultTimeouts(),
		logger:   zap.NewNop(),
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// Timeouts returns the active timeouts.
func (h *Handler) Timeouts() Timeouts { return h.timeouts }

// Event returns the pending event at index or nil.
func (h *Handler) Event(index int) *Event {
	if index < 0 || index >= len(h.events) {
		return nil
	}
	return h.events[index]
}

// Pending returns the number of pending events.
func (h *Handler) Pending() int {
	n := 0
	for _, ev := range h.events {
		if ev != nil {
			n++
		}
	}
	return n
}

// Latest returns the most recent pending event or nil.
func (h *Handler) Latest() *Event {
	ev, _ := h.latest()
	return ev
}

func (h *Handler) latest() (*Event, int) {
	for i := len(h.events) - 1; i >= 0; i-- {
		if ev := h.events[i]; ev != nil && !ev.state.Done() {
			return ev, i
		}
	}
	return nil, -1
}

// AddEvent starts tracking res. It returns the index of the event that now
// owns res, which is an existing event when res was folded into it, and
// false when res was ignored.
func (h *Handler) AddEvent(res *Resource) (int, bool) {
	if res == nil {
		return -1, false
	}
	now := h.clock.Now()
	if res.Start.IsZero() {
		res.Start = now
	}
	res.Index = -1

	if last, i := h.latest(); last != nil {
		switch {
		case last.Type == TypeClick:
			if last.NodesToWait == 0 || last.Resource.URL == "" {
				h.discard(last)
			}
		case last.Type == TypeXHR:
			switch {
			case res.Type == TypeClick:
				return -1, false
			case res.Type == TypeXHR:
				return h.fold(last, i, res), true
			}
		case last.Type.IsSPA():
			switch {
			case res.Type == TypeClick:
				return -1, false
			case res.Type == TypeXHR:
				return h.fold(last, i, res), true
			case res.Type.IsSPA():
				last.Aborted = true
				last.Resource.LoadEnd = now
				h.SendEvent(i)
			}
		}
	}

	ev := &Event{
		Type:     res.Type,
		Resource: res,
		index:    len(h.events),
		members:  []*Resource{res},
		state:    StateCreated,
	}
	res.Index = ev.index
	h.events = append(h.events, ev)

	if res.awaits() {
		ev.NodesToWait = 1
		ev.state = StateAccumulating
	} else {
		h.settle(ev, h.settleTimeout(ev))
	}
	ev.maxTimer = h.clock.AfterFunc(h.timeouts.MaxEvent, func() {
		if h.Event(ev.index) == ev {
			h.logger.Debug("pending event exceeded max duration", zap.Int("index", ev.index), zap.String("type", string(ev.Type)))
			h.SendEvent(ev.index)
		}
	})
	h.observe()

	h.logger.Debug("event added", zap.Int("index", ev.index), zap.String("type", string(ev.Type)), zap.String("url", res.URL))
	return ev.index, true
}

// AddEventResource folds res into the latest pending xhr or SPA event.
func (h *Handler) AddEventResource(res *Resource) (int, bool) {
	if res == nil {
		return -1, false
	}
	last, i := h.latest()
	if last == nil || last.Type == TypeClick {
		return -1, false
	}
	if res.Start.IsZero() {
		res.Start = h.clock.Now()
	}
	return h.fold(last, i, res), true
}

func (h *Handler) fold(ev *Event, index int, res *Resource) int {
	ev.NodesToWait++
	ev.TotalNodes++
	if res.URL != "" {
		ev.Resources = append(ev.Resources, res.URL)
	}
	res.Index = index
	ev.members = append(ev.members, res)
	h.resume(ev)
	return index
}

// WaitForNode starts waiting for node on behalf of the event at index. It
// reports whether the node is an interesting resource.
func (h *Handler) WaitForNode(node *dom.Node, index int) bool {
	ev := h.Event(index)
	if ev == nil || ev.state.Done() || node == nil {
		return false
	}
	url, ok := ResourceURL(node)
	if !ok {
		return false
	}
	outstanding := false
	if prev, seen := h.tracked[node]; seen {
		if prev.url == url {
			return false
		}
		h.untrack(node, prev)
		if prev.ev == ev {
			outstanding = true
		} else if h.Event(prev.ev.index) == prev.ev {
			h.LoadFinished(prev.ev.index, time.Time{})
		}
	}

	t := &tracking{ev: ev, url: url}
	done := func(*dom.Node, string) {
		h.untrack(node, t)
		if h.Event(ev.index) == ev {
			h.LoadFinished(ev.index, h.clock.Now())
		}
	}
	t.removes = append(t.removes,
		node.AddEventListener(dom.EventLoad, done),
		node.AddEventListener(dom.EventError, done),
	)
	h.tracked[node] = t

	if !outstanding {
		ev.NodesToWait++
	}
	ev.TotalNodes++
	ev.Resources = append(ev.Resources, url)
	h.resume(ev)
	return true
}

func (h *Handler) untrack(node *dom.Node, t *tracking) {
	for _, rm := range t.removes {
		rm()
	}
	t.removes = nil
	if h.tracked[node] == t {
		delete(h.tracked, node)
	}
}

// LoadFinished marks one outstanding node of the event at index as done.
// When none remain the event settles with end as its load end; a zero end
// means now.
func (h *Handler) LoadFinished(index int, end time.Time) {
	ev := h.Event(index)
	if ev == nil || ev.state.Done() {
		return
	}
	if ev.NodesToWait > 0 {
		ev.NodesToWait--
	}
	if ev.NodesToWait > 0 {
		return
	}
	if end.IsZero() {
		end = h.clock.Now()
	}
	ev.Resource.LoadEnd = end
	h.settle(ev, h.settleTimeout(ev))
}

// ResourceFinished is LoadFinished for the event that owns res. It is a
// no-op once that event has completed, even if its index was reused.
func (h *Handler) ResourceFinished(res *Resource, end time.Time) {
	if res == nil {
		return
	}
	ev := h.Event(res.Index)
	if ev == nil || !ev.owns(res) {
		return
	}
	h.LoadFinished(res.Index, end)
}

// Mutations processes a batch of mutation records for the latest event.
func (h *Handler) Mutations(records []dom.MutationRecord) {
	ev, index := h.latest()
	if ev == nil || len(records) == 0 {
		return
	}

	interesting := false
	for _, rec := range records {
		switch rec.Type {
		case dom.MutationAttributes:
			if rec.Target == nil || !isURLAttr(rec.AttributeName) {
				continue
			}
			if url, _ := ResourceURL(rec.Target); url == rec.OldValue {
				continue
			}
			if h.WaitForNode(rec.Target, index) {
				interesting = true
			}
		case dom.MutationChildList:
			for _, added := range rec.AddedNodes {
				added.Walk(func(n *dom.Node) bool {
					if h.WaitForNode(n, index) {
						interesting = true
					}
					return true
				})
			}
		}
	}

	if interesting || ev.extended || ev.NodesToWait > 0 || ev.state != StateSettling {
		return
	}
	ev.extended = true
	h.settle(ev, h.timeouts.Uninteresting)
}

// SendEvent completes the event at index and hands it to the sink.
// Clicks that found nothing are discarded instead.
func (h *Handler) SendEvent(index int) {
	ev := h.Event(index)
	if ev == nil || ev.state.Done() {
		return
	}
	h.finish(ev)

	if ev.Resource.LoadEnd.IsZero() {
		ev.Resource.LoadEnd = h.clock.Now()
	}
	ev.Complete = true
	if ev.Aborted {
		ev.state = StateAborted
	} else {
		ev.state = StateComplete
	}

	if ev.Type == TypeClick && !ev.interesting() {
		ev.state = StateDiscarded
		h.logger.Debug("click discarded", zap.Int("index", ev.index))
		return
	}

	if ev.Resource.OnComplete != nil {
		h.call(ev, "complete", ev.Resource.OnComplete)
	}
	if h.sink != nil {
		h.call(ev, "sink", h.sink)
	}
}

// Cancel drops the event at index without sending it.
func (h *Handler) Cancel(index int) {
	ev := h.Event(index)
	if ev == nil || ev.state.Done() {
		return
	}
	h.discard(ev)
}

// Dispose stops every timer and observation and drops pending events.
func (h *Handler) Dispose() {
	for _, ev := range h.events {
		if ev != nil {
			h.stopTimers(ev)
		}
	}
	for node, t := range h.tracked {
		h.untrack(node, t)
	}
	h.events = nil
	h.unobserve()
}

func (h *Handler) discard(ev *Event) {
	h.finish(ev)
	ev.state = StateDiscarded
	h.logger.Debug("event discarded", zap.Int("index", ev.index), zap.String("type", string(ev.Type)))
}

func (h *Handler) finish(ev *Event) {
	h.stopTimers(ev)
	for node, t := range h.tracked {
		if t.ev == ev {
			h.untrack(node, t)
		}
	}
	h.events[ev.index] = nil
	if h.Pending() == 0 {
		h.events = h.events[:0]
		h.unobserve()
	}
}

func (h *Handler) stopTimers(ev *Event) {
	for _, t := range []timer{ev.settle, ev.maxTimer, ev.early} {
		if t != nil {
			t.Stop()
		}
	}
	ev.settle, ev.maxTimer, ev.early = nil, nil, nil
}

func (h *Handler) settleTimeout(ev *Event) time.Duration {
	switch {
	case ev.Type.IsSPA():
		return h.timeouts.SPA
	case ev.Type == TypeXHR:
		return h.timeouts.XHR
	}
	return h.timeouts.Click
}

func (h *Handler) settle(ev *Event, d time.Duration) {
	if ev.settle != nil {
		ev.settle.Stop()
	}
	ev.state = StateSettling
	ev.settle = h.clock.AfterFunc(d, func() {
		if h.Event(ev.index) == ev && ev.NodesToWait == 0 {
			h.SendEvent(ev.index)
		}
	})

	if ev.settled || !ev.Type.IsSPA() || h.early == nil {
		return
	}
	ev.settled = true
	ev.early = h.clock.AfterFunc(h.timeouts.EarlyBeacon, func() {
		if h.Event(ev.index) == ev && !ev.state.Done() {
			h.call(ev, "early", h.early)
		}
	})
}

func (h *Handler) resume(ev *Event) {
	if ev.settle != nil {
		ev.settle.Stop()
		ev.settle = nil
	}
	ev.state = StateAccumulating
}

func (h *Handler) observe() {
	if h.stop != nil || h.observer == nil {
		return
	}
	h.stop = h.observer.Observe(h.Mutations)
}

func (h *Handler) unobserve() {
	if h.stop == nil {
		return
	}
	h.stop()
	h.stop = nil
}

func (h *Handler) call(ev *Event, op string, fn func(*Event)) {
	defer func() {
		if r := recover(); r != nil {
			h.logger.Error("event callback panicked",
				zap.Int("index", ev.index),
				zap.String("op", op),
				zap.Any("panic", r),
				zap.ByteString("stack", debug.Stack()))
			if h.report != nil {
				h.report(&CallbackError{Index: ev.index, Type: ev.Type, Op: op, Value: r})
			}
		}
	}()
	fn(ev)
}
