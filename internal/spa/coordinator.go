package spa

import (
	"time"

	"go.uber.org/zap"

	"github.com/dshills/rumbeacon/internal/event"
	"github.com/dshills/rumbeacon/internal/mutation"
	"github.com/dshills/rumbeacon/internal/timing"
)

// Navigation types.
const (
	NavHard = "spa_hard"
	NavSoft = "spa"
)

// Timer and variable names set on navigation resources.
const (
	TimerDone    = "t_done"
	TimerResp    = "t_resp"
	TimerPage    = "t_page"
	VarInitiator = "http.initiator"
	VarAborted   = "spa.aborted"
	VarNavWaited = "spa.waited"
)

// Filter decides on a route change from its arguments.
type Filter func(args map[string]any) bool

// RouteOptions describes one route change.
type RouteOptions struct {
	// URL of the new route. Empty uses the location function.
	URL string

	// Args are passed to the route and wait filters.
	Args map[string]any

	// OnComplete runs after timers are computed.
	OnComplete func(*mutation.Event)
}

// Init is the payload of spa_init.
type Init struct {
	NavType string
	URL     string
	Params  map[string]any
}

// Navigation is the payload of spa_navigation.
type Navigation struct {
	NavType string
	URL     string
	Aborted bool
	Timers  map[string]time.Duration
}

// Coordinator turns route changes into tracked navigations.
//
// Coordinator is owned by the run loop and is not safe for concurrent use.
type Coordinator struct {
	clock    mutation.Clock
	handler  *mutation.Handler
	bus      *event.Bus
	timings  *timing.Buffer
	nav      func() timing.Navigation
	location func() string
	report   func(error)
	logger   *zap.Logger

	routeFilter Filter
	waitFilter  Filter
	initiators  []string

	hardSeen  bool
	pageReady bool
	hard      *mutation.Resource
	current   *mutation.Resource
	waiting   *waitingRoute
}

type waitingRoute struct {
	opts  RouteOptions
	start time.Time
}

// Option configures a Coordinator.
type Option func(*Coordinator)

// WithTimings sets the resource timing buffer used for soft navigations.
func WithTimings(b *timing.Buffer) Option {
	return func(c *Coordinator) { c.timings = b }
}

// WithNavigation sets the source of hard navigation timing.
func WithNavigation(fn func() timing.Navigation) Option {
	return func(c *Coordinator) { c.nav = fn }
}

// WithLocation sets the function returning the current page URL.
func WithLocation(fn func() string) Option {
	return func(c *Coordinator) { c.location = fn }
}

// WithRouteFilter sets the filter that must accept a route for it to be
// measured.
func WithRouteFilter(f Filter) Option {
	return func(c *Coordinator) { c.routeFilter = f }
}

// WithWaitFilter sets the filter that defers measurement until
// WaitComplete when it returns true.
func WithWaitFilter(f Filter) Option {
	return func(c *Coordinator) { c.waitFilter = f }
}

// WithInitiators sets the resource timing initiator types counted as
// back-end time.
func WithInitiators(types ...string) Option {
	return func(c *Coordinator) {
		if len(types) > 0 {
			c.initiators = append([]string(nil), types...)
		}
	}
}

// WithReporter sets the error reporter.
func WithReporter(fn func(error)) Option {
	return func(c *Coordinator) { c.report = fn }
}

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) Option {
	return func(c *Coordinator) {
		if l != nil {
			c.logger = l
		}
	}
}

// New creates a Coordinator.
func New(clock mutation.Clock, handler *mutation.Handler, bus *event.Bus, opts ...Option) *Coordinator {
	c := &Coordinator{
		clock:      clock,
		handler:    handler,
		bus:        bus,
		nav:        func() timing.Navigation { return timing.Navigation{} },
		location:   func() string { return "" },
		initiators: append([]string(nil), timing.DefaultInitiators...),
		logger:     zap.NewNop(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// SetFilters replaces the route and wait filters.
func (c *Coordinator) SetFilters(route, wait Filter) {
	c.routeFilter = route
	c.waitFilter = wait
}

// SetInitiators replaces the back-end initiator types.
func (c *Coordinator) SetInitiators(types ...string) {
	WithInitiators(types...)(c)
}

// HardSeen reports whether the hard navigation has started.
func (c *Coordinator) HardSeen() bool { return c.hardSeen }

// Waiting reports whether a route is deferred by the wait filter.
func (c *Coordinator) Waiting() bool { return c.waiting != nil }

// Current returns the resource of the latest navigation.
func (c *Coordinator) Current() *mutation.Resource { return c.current }

// RouteChange handles a route change. It reports whether the route will be
// measured, now or after WaitComplete.
func (c *Coordinator) RouteChange(opts RouteOptions) bool {
	if c.routeFilter != nil && !c.filter("route", c.routeFilter, opts.Args) {
		c.logger.Debug("route ignored by filter", zap.String("url", opts.URL))
		return false
	}

	start := c.clock.Now()
	if c.waitFilter != nil && c.filter("wait", c.waitFilter, opts.Args) {
		c.waiting = &waitingRoute{opts: opts, start: start}
		c.logger.Debug("route waiting", zap.String("url", opts.URL))
		return true
	}
	c.begin(opts, start, false)
	return true
}

// WaitComplete starts measuring a deferred route from the time it changed.
func (c *Coordinator) WaitComplete() {
	w := c.waiting
	if w == nil {
		return
	}
	c.waiting = nil
	c.begin(w.opts, w.start, true)
}

// Cancel drops a deferred route, or the navigation in progress, and fires
// spa_cancel.
func (c *Coordinator) Cancel() {
	switch {
	case c.waiting != nil:
		c.waiting = nil
	case c.current != nil && c.current.Index >= 0:
		if ev := c.handler.Event(c.current.Index); ev != nil && ev.Resource == c.current {
			c.handler.Cancel(c.current.Index)
		}
	default:
		return
	}
	c.current = nil
	c.bus.FireEvent(event.SPACancel, nil)
}

// PageReady releases a hard navigation waiting for the page load.
func (c *Coordinator) PageReady(t time.Time) {
	c.pageReady = true
	if c.hard == nil {
		return
	}
	c.handler.ResourceFinished(c.hard, t)
	c.hard = nil
}

func (c *Coordinator) begin(opts RouteOptions, start time.Time, waited bool) {
	url := opts.URL
	if url == "" {
		url = c.location()
	}

	res := &mutation.Resource{Type: mutation.TypeSPA, URL: url, Start: start, NavType: NavSoft}
	if !c.hardSeen {
		c.hardSeen = true
		res.Type = mutation.TypeSPAHard
		res.NavType = NavHard
		if nav := c.nav(); nav.Valid() {
			res.Start = nav.NavigationStart
		}
		res.AwaitLoad = !c.pageReady
	}
	if waited {
		res.SetVar(VarNavWaited, 1)
	}
	res.OnComplete = func(ev *mutation.Event) {
		c.complete(ev)
		if opts.OnComplete != nil {
			opts.OnComplete(ev)
		}
	}

	c.bus.FireEvent(event.SPAInit, Init{NavType: res.NavType, URL: url, Params: opts.Args})

	if _, ok := c.handler.AddEvent(res); !ok {
		c.logger.Debug("navigation not tracked", zap.String("url", url))
		return
	}
	c.current = res
	if res.AwaitLoad {
		c.hard = res
	}
}

func (c *Coordinator) complete(ev *mutation.Event) {
	res := ev.Resource
	if c.current == res {
		c.current = nil
	}
	if c.hard == res {
		c.hard = nil
	}

	total := ev.Duration()
	var back time.Duration
	if ev.Type == mutation.TypeSPAHard {
		back = c.nav().BackEnd()
	} else if c.timings != nil {
		entries := c.timings.Between(res.Start, res.LoadEnd, c.initiators...)
		back = timing.Union(timing.Intervals(entries, res.Start, res.LoadEnd))
	}
	front := total - back

	res.SetVar(VarInitiator, res.NavType)
	if ev.Aborted {
		res.SetVar(VarAborted, 1)
	}

	if total < 0 || back < 0 || front < 0 {
		c.logger.Warn("discarding navigation timers",
			zap.String("url", res.URL),
			zap.Duration("total", total),
			zap.Duration("back_end", back))
		if c.report != nil {
			c.report(&TimingError{URL: res.URL, Total: total, BackEnd: back})
		}
		res.Timers = nil
	} else {
		res.SetTimer(TimerDone, total)
		res.SetTimer(TimerResp, back)
		res.SetTimer(TimerPage, front)
	}

	timers := make(map[string]time.Duration, len(res.Timers))
	for k, v := range res.Timers {
		timers[k] = v
	}
	c.bus.FireEvent(event.SPANavigation, Navigation{
		NavType: res.NavType,
		URL:     res.URL,
		Aborted: ev.Aborted,
		Timers:  timers,
	})
}

func (c *Coordinator) filter(kind string, f Filter, args map[string]any) (ok bool) {
	defer func() {
		if r := recover(); r != nil {
			c.logger.Warn("spa filter panicked", zap.String("filter", kind), zap.Any("panic", r))
			ok = kind == "route"
		}
	}()
	return f(args)
}
