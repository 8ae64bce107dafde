package agent

import (
	"context"
	"fmt"
	"net/http"
	"sync/atomic"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/dshills/rumbeacon/internal/autoxhr"
	"github.com/dshills/rumbeacon/internal/beacon"
	"github.com/dshills/rumbeacon/internal/beacon/transport"
	"github.com/dshills/rumbeacon/internal/config"
	"github.com/dshills/rumbeacon/internal/dom"
	"github.com/dshills/rumbeacon/internal/event"
	"github.com/dshills/rumbeacon/internal/mutation"
	"github.com/dshills/rumbeacon/internal/plugin"
	"github.com/dshills/rumbeacon/internal/plugin/lua"
	"github.com/dshills/rumbeacon/internal/runloop"
	"github.com/dshills/rumbeacon/internal/session"
	"github.com/dshills/rumbeacon/internal/spa"
	"github.com/dshills/rumbeacon/internal/timing"
)

// Version is stamped on every beacon as "v".
const Version = "1.0.0"

// Configuration section names read by the core.
const (
	SectionAutoXHR = "AutoXHR"
	SectionSPA     = "SPA"
)

// maxInternalErrors bounds the internal errors carried on one beacon.
const maxInternalErrors = 10

// Agent is the instrumentation context for one page.
type Agent struct {
	loop     *runloop.Loop
	cfg      *config.Config
	logger   *zap.Logger
	bus      *event.Bus
	registry *plugin.Registry
	vars     *beacon.Vars
	tx       *beacon.Transmitter
	client   *transport.Client
	sessions *session.Manager
	doc      *dom.Document
	handler  *mutation.Handler
	spa      *spa.Coordinator
	xhr      *autoxhr.Instrumenter
	timings  *timing.Buffer
	host     *core

	httpClient *http.Client
	transports beacon.Transports
	store      session.Store
	sink       event.PublicSink
	pageID     string

	ctx    context.Context
	cancel context.CancelFunc

	disposed atomic.Bool

	// Owned by the loop.
	page          pageState
	nav           timing.Navigation
	opts          config.Options
	monitorClicks bool
	initialized   bool
	pageReady     bool
	plbSent       bool
	unloaded      bool
	internalErrs  []string
	filters       []*lua.Predicate
}

type pageState struct {
	url        string
	referrer   string
	visibility string
}

// Option configures an Agent.
type Option func(*Agent)

// WithConfig sets the configuration. Without it the built-in defaults are
// used.
func WithConfig(cfg *config.Config) Option {
	return func(a *Agent) { a.cfg = cfg }
}

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) Option {
	return func(a *Agent) {
		if l != nil {
			a.logger = l
		}
	}
}

// WithLoop runs the agent on an existing loop, such as one created by
// runloop.NewTest.
func WithLoop(l *runloop.Loop) Option {
	return func(a *Agent) { a.loop = l }
}

// WithSessionStore sets where the session is persisted.
func WithSessionStore(s session.Store) Option {
	return func(a *Agent) { a.store = s }
}

// WithHTTPClient sets the client used to send beacons.
func WithHTTPClient(hc *http.Client) Option {
	return func(a *Agent) { a.httpClient = hc }
}

// WithTransports replaces the HTTP beacon transports.
func WithTransports(tr beacon.Transports) Option {
	return func(a *Agent) { a.transports = tr }
}

// WithDocument sets the DOM the agent observes.
func WithDocument(d *dom.Document) Option {
	return func(a *Agent) { a.doc = d }
}

// WithPublicSink mirrors public events to sink.
func WithPublicSink(sink event.PublicSink) Option {
	return func(a *Agent) { a.sink = sink }
}

// New creates an Agent. Call Init once the loop is running.
func New(opts ...Option) *Agent {
	a := &Agent{
		logger: zap.NewNop(),
		pageID: uuid.NewString()[:8],
		page:   pageState{visibility: "visible"},
	}
	for _, opt := range opts {
		opt(a)
	}
	if a.cfg == nil {
		a.cfg = config.New()
	}
	if a.loop == nil {
		a.loop = runloop.New(
			runloop.WithLogger(a.logger.Named("loop")),
			runloop.WithPanicHandler(func(r any, _ []byte) {
				a.loop.Post(func() { a.internalError(fmt.Errorf("%w: %v", ErrTaskPanic, r)) })
			}),
		)
	}
	if a.doc == nil {
		a.doc = dom.NewDocument(a.loop.Defer)
	}
	a.ctx, a.cancel = context.WithCancel(context.Background())
	a.opts = a.cfg.Options()
	a.build()
	return a
}

func (a *Agent) build() {
	log := a.logger

	busOpts := []event.BusOption{
		event.WithScheduler(a.loop.Post),
		event.WithErrorReporter(a.internalError),
		event.WithAutorun(a.opts.Autorun),
		event.WithLogger(log.Named("event")),
	}
	if a.sink != nil {
		busOpts = append(busOpts, event.WithPublicSink(a.sink))
	}
	a.bus = event.NewBus(busOpts...)
	for _, name := range event.CoreEvents {
		a.bus.RegisterEvent(name)
	}

	a.registry = plugin.NewRegistry(
		plugin.WithReporter(a.internalError),
		plugin.WithLogger(log.Named("plugin")),
	)
	a.vars = beacon.NewVars()
	a.timings = timing.NewBuffer(timing.DefaultBufferSize)
	a.sessions = session.NewManager(a.store,
		session.WithExpiry(a.opts.SessionExpiry),
		session.WithDomain(a.opts.SiteDomain),
		session.WithLogger(log.Named("session")),
	)

	a.handler = mutation.New(a.loop, a.doc,
		mutation.WithSink(a.eventDone),
		mutation.WithEarlyBeacon(a.earlyBeacon),
		mutation.WithReporter(a.internalError),
		mutation.WithLogger(log.Named("mutation")),
	)
	a.spa = spa.New(a.loop, a.handler, a.bus,
		spa.WithTimings(a.timings),
		spa.WithNavigation(func() timing.Navigation { return a.nav }),
		spa.WithLocation(func() string { return a.page.url }),
		spa.WithReporter(a.internalError),
		spa.WithLogger(log.Named("spa")),
	)
	a.xhr = autoxhr.New(a.loop, a.bus, a.handler,
		autoxhr.WithTimings(a.timings),
		autoxhr.WithSink(a.responseEnd),
		autoxhr.WithLogger(log.Named("autoxhr")),
	)

	if a.transports == (beacon.Transports{}) {
		a.client = transport.New(
			transport.WithHTTPClient(a.httpClient),
			transport.WithLogger(log.Named("transport")),
			transport.WithRateLimitHandler(func() { a.loop.Post(a.rateLimited) }),
			transport.WithErrorReporter(func(err error) {
				a.loop.Post(func() { a.logger.Debug("beacon send failed", zap.Error(err)) })
			}),
		)
		a.transports = a.client.Transports()
	}

	a.tx = beacon.NewTransmitter(a.vars, a.bus, a.loop,
		beacon.WithGate(a.registry),
		beacon.WithTransports(a.transports),
		beacon.WithPage(a.pageInfo),
		beacon.WithStamp(a.stampSession),
		beacon.WithStamp(a.stampErrors),
		beacon.WithRateLimited(a.sessions.RateLimited),
		beacon.WithAlive(func() bool { return !a.unloaded }),
		beacon.WithReporter(a.internalError),
		beacon.WithLogger(log.Named("beacon")),
	)
	a.bus.SetFlush(a.tx.Flush)
	a.bus.MustSubscribe(event.Beacon, a.onBeacon, event.WithScope(a))

	a.host = &core{a: a}
}

// Host returns the plugin-facing view of the agent.
func (a *Agent) Host() plugin.Host { return a.host }

// Loop returns the run loop.
func (a *Agent) Loop() *runloop.Loop { return a.loop }

// Config returns the configuration.
func (a *Agent) Config() *config.Config { return a.cfg }

// The accessors below return loop-owned subsystems.

// Bus returns the event bus.
func (a *Agent) Bus() *event.Bus { return a.bus }

// Vars returns the beacon variables.
func (a *Agent) Vars() *beacon.Vars { return a.vars }

// Transmitter returns the beacon transmitter.
func (a *Agent) Transmitter() *beacon.Transmitter { return a.tx }

// Document returns the observed DOM.
func (a *Agent) Document() *dom.Document { return a.doc }

// MutationHandler returns the mutation handler.
func (a *Agent) MutationHandler() *mutation.Handler { return a.handler }

// SPA returns the SPA coordinator.
func (a *Agent) SPA() *spa.Coordinator { return a.spa }

// Timings returns the resource timing buffer.
func (a *Agent) Timings() *timing.Buffer { return a.timings }

// Sessions returns the session manager.
func (a *Agent) Sessions() *session.Manager { return a.sessions }

// Register adds a plugin. Plugins must be registered before Init.
func (a *Agent) Register(p plugin.Plugin) error {
	if a.disposed.Load() {
		return ErrDisposed
	}
	return a.registry.Register(p)
}

// RegisterScript loads a Lua plugin from path and registers it.
func (a *Agent) RegisterScript(name, path string) error {
	if a.disposed.Load() {
		return ErrDisposed
	}
	s, err := lua.LoadScriptFile(name, path, lua.AdaptHost(a.host),
		lua.WithScriptLogger(a.logger.Named("lua").With(zap.String("script", name))))
	if err != nil {
		return fmt.Errorf("load script %s: %w", name, err)
	}
	if err := a.registry.Register(s); err != nil {
		_ = s.Close()
		return err
	}
	return nil
}

// Instrument wraps client so its requests are tracked.
func (a *Agent) Instrument(client *http.Client) {
	a.xhr.Instrument(client)
}

// Instrumenter returns the network instrumentation for hosts that observe
// requests themselves.
func (a *Agent) Instrumenter() *autoxhr.Instrumenter { return a.xhr }

// Run serves the loop until ctx is cancelled.
func (a *Agent) Run(ctx context.Context) error {
	return a.loop.Run(ctx)
}

// Sync waits until every task posted before it has run.
func (a *Agent) Sync(ctx context.Context) error {
	done := make(chan struct{})
	a.loop.Post(func() { close(done) })
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Dispose stops instrumentation, drops pending events, closes plugins and
// waits for in-flight beacons. The loop must still be running.
func (a *Agent) Dispose(ctx context.Context) error {
	if a.disposed.Swap(true) {
		return nil
	}
	a.loop.Post(a.dispose)
	err := a.Sync(ctx)
	if a.client != nil {
		if cerr := a.client.Close(); err == nil {
			err = cerr
		}
	}
	a.cancel()
	return err
}

func (a *Agent) dispose() {
	a.xhr.Dispose()
	a.handler.Dispose()
	a.bus.Disable()
	for _, p := range a.filters {
		_ = p.Close()
	}
	a.filters = nil
	if err := a.registry.Close(); err != nil {
		a.logger.Debug("plugin close failed", zap.Error(err))
	}
}

func (a *Agent) post(fn func()) {
	if a.disposed.Load() {
		return
	}
	a.loop.Post(fn)
}

func (a *Agent) pageInfo() beacon.PageInfo {
	return beacon.PageInfo{
		URL:        a.page.url,
		Referrer:   a.page.referrer,
		Visibility: a.page.visibility,
	}
}

func (a *Agent) stampSession(v *beacon.Vars) {
	s := a.sessions.Current()
	if s.ID == "" {
		return
	}
	v.AddMap(s.Vars(), false)
}

func (a *Agent) stampErrors(v *beacon.Vars) {
	if len(a.internalErrs) == 0 {
		return
	}
	v.Add(VarInternalErrors, joinErrors(a.internalErrs), true)
	a.internalErrs = nil
}

// internalError records a failure inside the agent or a collaborator. It is
// logged and carried on the next beacon.
func (a *Agent) internalError(err error) {
	if err == nil {
		return
	}
	a.logger.Warn("internal error", zap.Error(err))
	if len(a.internalErrs) >= maxInternalErrors {
		a.internalErrs = a.internalErrs[1:]
	}
	a.internalErrs = append(a.internalErrs, err.Error())
}

func (a *Agent) rateLimited() {
	if err := a.sessions.MarkRateLimited(a.ctx); err != nil {
		a.logger.Warn("saving rate limited session failed", zap.Error(err))
	}
}

func (a *Agent) refreshSession() {
	s, renewed, err := a.sessions.Refresh(a.ctx, a.loop.Now())
	if err != nil {
		a.logger.Warn("saving session failed", zap.Error(err))
	}
	if renewed {
		a.logger.Debug("new session", zap.String("id", s.ID))
	}
}
