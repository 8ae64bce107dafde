package autoxhr

import (
	"context"
	"errors"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/dshills/rumbeacon/internal/event"
	"github.com/dshills/rumbeacon/internal/mutation"
	"github.com/dshills/rumbeacon/internal/timing"
)

// Synthetic status codes for requests without an HTTP status.
const (
	StatusError   = -998
	StatusAbort   = -999
	StatusTimeout = -1001
)

// VarErrno carries the status of a failed request.
const VarErrno = "http.errno"

// Loop runs functions on the agent's run loop. *runloop.Loop implements it.
type Loop interface {
	Post(fn func())
	Now() time.Time
}

// Result is the outcome of a request.
type Result struct {
	Status        int
	ResponseStart time.Time
	ResponseEnd   time.Time
	Size          int64
	Err           error
}

// Request is a tracked request.
type Request struct {
	Method    string
	URL       string
	Initiator string

	res    *mutation.Resource
	always bool
	once   sync.Once
}

// Resource returns the resource describing the request. It is owned by the
// run loop.
func (r *Request) Resource() *mutation.Resource { return r.res }

// Instrumenter tracks requests on behalf of the agent.
type Instrumenter struct {
	loop    Loop
	bus     *event.Bus
	handler *mutation.Handler
	timings *timing.Buffer
	sink    func(*mutation.Resource)
	logger  *zap.Logger

	mu          sync.RWMutex
	beaconURL   string
	exclude     Rules
	always      Rules
	excludeFunc []func(*http.Request) bool
	clients     map[*http.Client]http.RoundTripper
}

// Option configures an Instrumenter.
type Option func(*Instrumenter)

// WithTimings sets the buffer receiving resource timing entries.
func WithTimings(b *timing.Buffer) Option {
	return func(i *Instrumenter) { i.timings = b }
}

// WithSink sets the function receiving completed requests that are not
// part of a pending event.
func WithSink(fn func(*mutation.Resource)) Option {
	return func(i *Instrumenter) { i.sink = fn }
}

// WithExclude sets the exclude rules.
func WithExclude(patterns ...string) Option {
	return func(i *Instrumenter) { i.exclude = CompileRules(patterns...) }
}

// WithExcludeFunc adds an exclude predicate.
func WithExcludeFunc(fn func(*http.Request) bool) Option {
	return func(i *Instrumenter) { i.excludeFunc = append(i.excludeFunc, fn) }
}

// WithAlwaysSend sets the rules for requests beaconed on their own.
func WithAlwaysSend(patterns ...string) Option {
	return func(i *Instrumenter) { i.always = CompileRules(patterns...) }
}

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) Option {
	return func(i *Instrumenter) {
		if l != nil {
			i.logger = l
		}
	}
}

// New creates an Instrumenter.
func New(loop Loop, bus *event.Bus, handler *mutation.Handler, opts ...Option) *Instrumenter {
	i := &Instrumenter{
		loop:    loop,
		bus:     bus,
		handler: handler,
		logger:  zap.NewNop(),
		clients: make(map[*http.Client]http.RoundTripper),
	}
	for _, opt := range opts {
		opt(i)
	}
	return i
}

// SetBeaconURL sets the beacon destination, which is never instrumented.
func (i *Instrumenter) SetBeaconURL(url string) {
	i.mu.Lock()
	defer i.mu.Unlock()
	i.beaconURL = url
}

// SetRules replaces the exclude and always-send rules.
func (i *Instrumenter) SetRules(exclude, always []string) {
	i.mu.Lock()
	defer i.mu.Unlock()
	i.exclude = CompileRules(exclude...)
	i.always = CompileRules(always...)
}

// Excluded reports whether url is not instrumented.
func (i *Instrumenter) Excluded(url string) bool {
	i.mu.RLock()
	defer i.mu.RUnlock()
	if i.beaconURL != "" && strings.HasPrefix(url, i.beaconURL) {
		return true
	}
	_, ok := i.exclude.Match(url)
	return ok
}

// Instrument wraps client's transport. Instrumenting a client twice is a
// no-op.
func (i *Instrumenter) Instrument(client *http.Client) {
	i.mu.Lock()
	defer i.mu.Unlock()
	if _, ok := i.clients[client]; ok {
		return
	}
	i.clients[client] = client.Transport
	next := client.Transport
	if next == nil {
		next = http.DefaultTransport
	}
	client.Transport = &roundTripper{inst: i, next: next}
}

// Dispose restores every instrumented client.
func (i *Instrumenter) Dispose() {
	i.mu.Lock()
	defer i.mu.Unlock()
	for client, prev := range i.clients {
		client.Transport = prev
	}
	i.clients = make(map[*http.Client]http.RoundTripper)
}

// Begin starts tracking a request. It returns nil when the URL is
// excluded. It is safe to call from any goroutine.
func (i *Instrumenter) Begin(method, url, initiator string) *Request {
	if i.Excluded(url) {
		return nil
	}
	if initiator == "" {
		initiator = timing.InitiatorXHR
	}
	i.mu.RLock()
	_, always := i.always.Match(url)
	i.mu.RUnlock()

	r := &Request{
		Method:    method,
		URL:       url,
		Initiator: initiator,
		always:    always,
		res: &mutation.Resource{
			Type:   mutation.TypeXHR,
			URL:    url,
			Method: method,
			Start:  i.loop.Now(),
			Index:  -1,
		},
	}
	i.loop.Post(func() { i.begin(r) })
	return r
}

func (i *Instrumenter) begin(r *Request) {
	i.bus.FireEvent(event.XHRInit, r.res)
	if !r.always && i.handler != nil {
		i.handler.AddEvent(r.res)
	}
	i.bus.FireEvent(event.XHRSend, r.res)
}

// End finishes a request. Only the first call has an effect. It is safe to
// call from any goroutine.
func (i *Instrumenter) End(r *Request, result Result) {
	if r == nil {
		return
	}
	r.once.Do(func() {
		if result.ResponseEnd.IsZero() {
			result.ResponseEnd = i.loop.Now()
		}
		i.loop.Post(func() { i.end(r, result) })
	})
}

func (i *Instrumenter) end(r *Request, result Result) {
	res := r.res
	res.ResponseEnd = result.ResponseEnd
	res.Status = result.Status
	if result.Err != nil {
		res.Status = errorStatus(result.Err)
	}
	if res.Status < 0 || res.Status >= 400 {
		res.SetVar(VarErrno, res.Status)
	}

	if i.timings != nil {
		i.timings.Add(timing.Entry{
			Name:          r.URL,
			InitiatorType: r.Initiator,
			StartTime:     res.Start,
			ResponseStart: result.ResponseStart,
			ResponseEnd:   result.ResponseEnd,
			TransferSize:  result.Size,
			Status:        res.Status,
		})
	}

	if result.Err != nil || res.Status >= 400 {
		i.bus.FireEvent(event.XHRError, res)
	}

	if res.Index >= 0 && i.handler != nil {
		i.handler.ResourceFinished(res, result.ResponseEnd)
		return
	}
	res.LoadEnd = result.ResponseEnd
	if i.sink != nil {
		i.sink(res)
	}
}

func errorStatus(err error) int {
	switch {
	case errors.Is(err, context.Canceled):
		return StatusAbort
	case errors.Is(err, context.DeadlineExceeded):
		return StatusTimeout
	}
	var te interface{ Timeout() bool }
	if errors.As(err, &te) && te.Timeout() {
		return StatusTimeout
	}
	return StatusError
}

type initiatorKey struct{}

// WithInitiator marks requests made with ctx as the given initiator type,
// such as timing.InitiatorFetch.
func WithInitiator(ctx context.Context, initiator string) context.Context {
	return context.WithValue(ctx, initiatorKey{}, initiator)
}

func initiatorOf(req *http.Request) string {
	if v, ok := req.Context().Value(initiatorKey{}).(string); ok && v != "" {
		return v
	}
	return timing.InitiatorXHR
}

type roundTripper struct {
	inst *Instrumenter
	next http.RoundTripper
}

func (rt *roundTripper) RoundTrip(req *http.Request) (*http.Response, error) {
	for _, fn := range rt.inst.excludeFuncs() {
		if fn(req) {
			return rt.next.RoundTrip(req)
		}
	}
	r := rt.inst.Begin(req.Method, req.URL.String(), initiatorOf(req))
	if r == nil {
		return rt.next.RoundTrip(req)
	}

	resp, err := rt.next.RoundTrip(req)
	if err != nil {
		rt.inst.End(r, Result{Err: err})
		return nil, err
	}

	start := rt.inst.loop.Now()
	resp.Body = &trackedBody{
		ReadCloser: resp.Body,
		done: func(n int64, err error) {
			rt.inst.End(r, Result{
				Status:        resp.StatusCode,
				ResponseStart: start,
				Size:          n,
				Err:           err,
			})
		},
	}
	return resp, nil
}

func (i *Instrumenter) excludeFuncs() []func(*http.Request) bool {
	i.mu.RLock()
	defer i.mu.RUnlock()
	return i.excludeFunc
}

// trackedBody reports completion when the body hits EOF or is closed.
type trackedBody struct {
	io.ReadCloser
	n    int64
	once sync.Once
	done func(n int64, err error)
}

func (b *trackedBody) Read(p []byte) (int, error) {
	n, err := b.ReadCloser.Read(p)
	b.n += int64(n)
	switch {
	case errors.Is(err, io.EOF):
		b.finish(nil)
	case err != nil:
		b.finish(err)
	}
	return n, err
}

func (b *trackedBody) Close() error {
	err := b.ReadCloser.Close()
	b.finish(nil)
	return err
}

func (b *trackedBody) finish(err error) {
	b.once.Do(func() { b.done(b.n, err) })
}
