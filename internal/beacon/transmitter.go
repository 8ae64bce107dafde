package beacon

import (
	"errors"
	"fmt"
	"regexp"
	"strings"

	"go.uber.org/zap"

	"github.com/dshills/rumbeacon/internal/event"
)

// Type is the configured beacon transport type.
type Type string

// Beacon transport types.
const (
	TypeGET  Type = "GET"
	TypePOST Type = "POST"
	TypeAUTO Type = "AUTO"
)

// Transport identifies the transport a beacon actually used.
type Transport string

// Transports used for a beacon.
const (
	TransportNone   Transport = ""
	TransportImage  Transport = "image"
	TransportNative Transport = "sendbeacon"
	TransportXHR    Transport = "xhr"
)

// DefaultMaxURLLength is the longest GET beacon URL sent by AUTO.
const DefaultMaxURLLength = 2000

// Reserved variable names stamped by the transmitter.
const (
	VarURL        = "u"
	VarPageURL    = "pgu"
	VarReferrer   = "r"
	VarVisibility = "vis.st"
	VarVersion    = "v"
	VarPageID     = "pid"
	VarCount      = "n"
	VarEarly      = "early"
	VarInitiator  = "http.initiator"
)

// Options configures the transmitter.
type Options struct {
	URL              string
	Type             Type
	AuthToken        string
	WithCredentials  bool
	DisableNative    bool
	AllowedURLs      []string
	StripQueryString bool
	MaxURLLength     int
	Version          string
	PageID           string
}

// XHRRequest is a POST beacon.
type XHRRequest struct {
	URL             string
	Body            string
	AuthToken       string
	WithCredentials bool
}

// ImageSender sends a GET beacon to a full URL.
type ImageSender interface {
	SendImage(target string)
}

// XHRSender sends a POST beacon.
type XHRSender interface {
	SendXHR(req XHRRequest)
}

// NativeSender sends a fire-and-forget POST without custom headers. It
// reports false when the payload could not be queued.
type NativeSender interface {
	SendNative(target, body string) bool
}

// Transports bundles the available senders. A nil sender means the
// capability does not exist.
type Transports struct {
	Image  ImageSender
	XHR    XHRSender
	Native NativeSender
}

// PageInfo describes the host page at send time.
type PageInfo struct {
	URL        string
	Referrer   string
	Visibility string
}

// Gate decides whether every plugin is ready for transmission.
type Gate interface {
	IsComplete(vars Reader) (bool, []string)
}

// Scheduler defers work to a microtask.
type Scheduler interface {
	Defer(fn func())
}

// Sent describes the most recent beacon.
type Sent struct {
	Target    string
	Transport Transport
	Early     bool
	Snapshot  Snapshot
	Err       error
}

// Transmitter owns the single-flight send lock.
type Transmitter struct {
	vars       *Vars
	bus        *event.Bus
	sched      Scheduler
	gate       Gate
	transports Transports
	opts       Options
	allow      []*regexp.Regexp

	page        func() PageInfo
	stamps      []func(*Vars)
	rateLimited func() bool
	alive       func() bool
	report      func(error)
	logger      *zap.Logger

	queued   bool
	override string
	count    int
	last     Sent
}

// TransmitterOption configures a Transmitter.
type TransmitterOption func(*Transmitter)

// WithGate sets the completeness gate.
func WithGate(g Gate) TransmitterOption {
	return func(t *Transmitter) { t.gate = g }
}

// WithTransports sets the available senders.
func WithTransports(tr Transports) TransmitterOption {
	return func(t *Transmitter) { t.transports = tr }
}

// WithPage sets the page information provider.
func WithPage(fn func() PageInfo) TransmitterOption {
	return func(t *Transmitter) { t.page = fn }
}

// WithStamp adds a function that writes metadata before before_beacon fires.
func WithStamp(fn func(*Vars)) TransmitterOption {
	return func(t *Transmitter) { t.stamps = append(t.stamps, fn) }
}

// WithRateLimited sets the predicate that suppresses network sends.
func WithRateLimited(fn func() bool) TransmitterOption {
	return func(t *Transmitter) { t.rateLimited = fn }
}

// WithAlive sets the predicate that reports whether the host is still alive.
func WithAlive(fn func() bool) TransmitterOption {
	return func(t *Transmitter) { t.alive = fn }
}

// WithReporter sets the error reporter.
func WithReporter(fn func(error)) TransmitterOption {
	return func(t *Transmitter) { t.report = fn }
}

// WithLogger sets the transmitter logger.
func WithLogger(logger *zap.Logger) TransmitterOption {
	return func(t *Transmitter) {
		if logger != nil {
			t.logger = logger
		}
	}
}

// NewTransmitter creates a transmitter for vars.
func NewTransmitter(vars *Vars, bus *event.Bus, sched Scheduler, opts ...TransmitterOption) *Transmitter {
	t := &Transmitter{
		vars:   vars,
		bus:    bus,
		sched:  sched,
		logger: zap.NewNop(),
		opts:   Options{Type: TypeAUTO, MaxURLLength: DefaultMaxURLLength},
	}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

// Configure applies o. Allow-list patterns that fail to compile are skipped
// and returned as a joined error.
func (t *Transmitter) Configure(o Options) error {
	switch Type(strings.ToUpper(string(o.Type))) {
	case TypeGET, TypePOST:
		o.Type = Type(strings.ToUpper(string(o.Type)))
	default:
		o.Type = TypeAUTO
	}
	if o.MaxURLLength <= 0 {
		o.MaxURLLength = DefaultMaxURLLength
	}

	var errs []error
	allow := make([]*regexp.Regexp, 0, len(o.AllowedURLs))
	for _, pattern := range o.AllowedURLs {
		re, err := regexp.Compile(pattern)
		if err != nil {
			errs = append(errs, fmt.Errorf("%w %q: %v", ErrInvalidPattern, pattern, err))
			continue
		}
		allow = append(allow, re)
	}

	t.opts = o
	t.allow = allow
	return errors.Join(errs...)
}

// Options returns the active options.
func (t *Transmitter) Options() Options {
	return t.opts
}

// SendBeacon requests a beacon. Calls made within one loop task coalesce
// into a single RealSend. A non-empty urlOverride replaces the configured
// beacon URL for the next beacon.
func (t *Transmitter) SendBeacon(urlOverride string) {
	if urlOverride != "" {
		t.override = urlOverride
	}
	if t.queued {
		return
	}
	t.queued = true
	t.sched.Defer(func() { t.RealSend() })
}

// InQueue reports whether a beacon is queued and not yet assembled.
func (t *Transmitter) InQueue() bool {
	return t.queued
}

// Flush runs a queued beacon now. The event bus calls it before delivering
// events.
func (t *Transmitter) Flush() {
	t.RealSend()
}

// Count returns the number of beacons assembled.
func (t *Transmitter) Count() int {
	return t.count
}

// Last returns the most recent beacon.
func (t *Transmitter) Last() Sent {
	return t.last
}

// RealSend assembles and transmits the queued beacon. It reports whether a
// beacon was assembled. When a plugin is incomplete it returns false
// without touching the variables; a later SendBeacon retries.
func (t *Transmitter) RealSend() bool {
	if !t.queued {
		return false
	}
	t.queued = false

	if t.gate != nil {
		if ok, pending := t.gate.IsComplete(t.vars); !ok {
			t.logger.Debug("beacon: plugins incomplete", zap.Strings("pending", pending))
			return false
		}
	}
	if t.alive != nil && !t.alive() {
		t.logger.Debug("beacon: host gone")
		return false
	}

	target := t.opts.URL
	if t.override != "" {
		target = t.override
		t.override = ""
	}

	t.setURLVars()
	for _, stamp := range t.stamps {
		stamp(t.vars)
	}
	t.stampMetadata()

	t.bus.FireEvent(event.BeforeBeacon, t.vars)

	snap := t.vars.Snapshot()
	early := snap.Has(VarEarly)
	sent := Sent{Target: target, Early: early, Snapshot: snap}

	if t.rateLimited != nil && t.rateLimited() {
		t.logger.Debug("beacon: session rate limited, not sending")
	} else {
		sent.Transport, sent.Err = t.dispatch(target, snap.Encode())
		if sent.Err != nil {
			t.logger.Debug("beacon: not sent", zap.String("target", target), zap.Error(sent.Err))
			if t.report != nil && errors.Is(sent.Err, ErrNoTransport) {
				t.report(sent.Err)
			}
		}
	}

	if early {
		t.vars.Remove(VarEarly)
	} else {
		t.vars.ClearSingleBeacon()
	}
	t.last = sent

	t.bus.FireEvent(event.Beacon, snap)
	return true
}

func (t *Transmitter) pageInfo() PageInfo {
	if t.page == nil {
		return PageInfo{}
	}
	return t.page()
}

// setURLVars derives u, pgu and r. SPA beacons keep the URL fragment in u.
func (t *Transmitter) setURLVars() {
	page := t.pageInfo()
	if page.URL != "" {
		pgu := t.cleanURL(stripFragment(page.URL))
		if !t.vars.Has(VarURL) {
			u := pgu
			if isSPA(t.vars) {
				u = t.cleanURL(page.URL)
			}
			t.vars.Add(VarURL, u, true)
		}
		if u, _ := t.vars.Get(VarURL); u == pgu {
			t.vars.Remove(VarPageURL)
		} else {
			t.vars.Add(VarPageURL, pgu, true)
		}
	}
	if page.Referrer != "" && !t.vars.Has(VarReferrer) {
		t.vars.Add(VarReferrer, t.cleanURL(page.Referrer), true)
	}
}

func (t *Transmitter) stampMetadata() {
	if vis := t.pageInfo().Visibility; vis != "" {
		t.vars.Add(VarVisibility, vis, false)
	}
	if t.opts.Version != "" {
		t.vars.Add(VarVersion, t.opts.Version, false)
	}
	if t.opts.PageID != "" {
		t.vars.Add(VarPageID, t.opts.PageID, false)
	}
	t.count++
	t.vars.Add(VarCount, t.count, false)
}

// dispatch selects a transport and hands the payload to it.
func (t *Transmitter) dispatch(target, payload string) (Transport, error) {
	if target == "" {
		return TransportNone, ErrNoURL
	}
	if !t.Allowed(target) {
		return TransportNone, ErrNotAllowed
	}

	full := target
	if payload != "" {
		sep := "?"
		if strings.Contains(target, "?") {
			sep = "&"
		}
		full = target + sep + payload
	}

	useImage := t.opts.Type == TypeGET ||
		(t.opts.Type == TypeAUTO && len(full) <= t.opts.MaxURLLength)

	if useImage && t.transports.Image != nil {
		t.transports.Image.SendImage(full)
		return TransportImage, nil
	}

	// POST path, also taken by GET beacons when no image sender exists.
	if t.transports.Native != nil && !t.opts.DisableNative && t.opts.AuthToken == "" {
		if t.transports.Native.SendNative(target, payload) {
			return TransportNative, nil
		}
	}
	if t.transports.XHR != nil {
		t.transports.XHR.SendXHR(XHRRequest{
			URL:             target,
			Body:            payload,
			AuthToken:       t.opts.AuthToken,
			WithCredentials: t.opts.WithCredentials,
		})
		return TransportXHR, nil
	}

	if t.transports.Image != nil {
		t.transports.Image.SendImage(full)
		return TransportImage, nil
	}
	return TransportNone, ErrNoTransport
}

// Allowed reports whether target passes the allow-list. An empty list
// allows everything.
func (t *Transmitter) Allowed(target string) bool {
	if len(t.allow) == 0 {
		return true
	}
	for _, re := range t.allow {
		if re.MatchString(target) {
			return true
		}
	}
	return false
}

func (t *Transmitter) cleanURL(u string) string {
	if !t.opts.StripQueryString {
		return u
	}
	q := strings.IndexByte(u, '?')
	if q < 0 {
		return u
	}
	rest := ""
	if h := strings.IndexByte(u[q:], '#'); h >= 0 {
		rest = u[q+h:]
	}
	return u[:q] + "?qs-redacted" + rest
}

func stripFragment(u string) string {
	if i := strings.IndexByte(u, '#'); i >= 0 {
		return u[:i]
	}
	return u
}

func isSPA(r Reader) bool {
	v, ok := r.Get(VarInitiator)
	if !ok {
		return false
	}
	s, _ := v.(string)
	return s == "spa" || s == "spa_hard"
}
