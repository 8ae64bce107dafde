// Package transport sends assembled beacons over HTTP.
//
// Client implements the three sender capabilities the beacon transmitter
// understands: an image-style GET, an XHR-style POST that may carry an
// Authorization header and cookies, and a native fire-and-forget POST backed
// by a bounded queue. Sends never block the caller; results are logged and
// rate-limit responses are reported through the rate-limit handler.
package transport

import (
	"context"
	"net/http"
	"net/http/cookiejar"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/dshills/rumbeacon/internal/beacon"
)

const (
	// DefaultTimeout bounds a single beacon request.
	DefaultTimeout = 10 * time.Second

	// MaxNativePayload is the largest body the native transport accepts.
	MaxNativePayload = 64 * 1024

	// DefaultNativeQueue is the native queue capacity.
	DefaultNativeQueue = 32

	formContentType = "application/x-www-form-urlencoded"
)

// Client sends beacons.
type Client struct {
	http     *http.Client
	credHTTP *http.Client
	logger   *zap.Logger

	onRateLimited func()
	report        func(error)

	native     chan nativeBeacon
	nativeSize int

	ctx      context.Context
	cancel   context.CancelFunc
	wg       sync.WaitGroup
	inflight sync.WaitGroup

	mu     sync.Mutex
	closed bool
}

type nativeBeacon struct {
	target string
	body   string
}

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient sets the client used for requests without credentials.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) {
		if hc != nil {
			c.http = hc
		}
	}
}

// WithLogger sets the logger.
func WithLogger(logger *zap.Logger) Option {
	return func(c *Client) {
		if logger != nil {
			c.logger = logger
		}
	}
}

// WithRateLimitHandler sets the function called when the collector answers
// 429. It runs on a transport goroutine.
func WithRateLimitHandler(fn func()) Option {
	return func(c *Client) { c.onRateLimited = fn }
}

// WithErrorReporter sets the function called for failed sends. It runs on a
// transport goroutine.
func WithErrorReporter(fn func(error)) Option {
	return func(c *Client) { c.report = fn }
}

// WithNativeQueue sets the native queue capacity.
func WithNativeQueue(n int) Option {
	return func(c *Client) {
		if n > 0 {
			c.nativeSize = n
		}
	}
}

// New creates a Client and starts the native queue worker.
func New(opts ...Option) *Client {
	c := &Client{
		http:       &http.Client{Timeout: DefaultTimeout},
		logger:     zap.NewNop(),
		nativeSize: DefaultNativeQueue,
	}
	for _, opt := range opts {
		opt(c)
	}

	jar, _ := cookiejar.New(nil)
	cred := *c.http
	cred.Jar = jar
	c.credHTTP = &cred

	c.ctx, c.cancel = context.WithCancel(context.Background())
	c.native = make(chan nativeBeacon, c.nativeSize)
	c.wg.Add(1)
	go c.drainNative()
	return c
}

// Transports returns the sender set for a beacon.Transmitter.
func (c *Client) Transports() beacon.Transports {
	return beacon.Transports{Image: c, XHR: c, Native: c}
}

// SendImage issues a GET for the fully encoded beacon URL.
func (c *Client) SendImage(target string) {
	c.spawn(func() {
		req, err := http.NewRequestWithContext(c.ctx, http.MethodGet, target, nil)
		if err != nil {
			c.fail(err)
			return
		}
		c.do(c.http, req)
	})
}

// SendXHR issues a form POST. The Authorization header is only ever set
// here.
func (c *Client) SendXHR(r beacon.XHRRequest) {
	c.spawn(func() {
		req, err := http.NewRequestWithContext(c.ctx, http.MethodPost, r.URL, strings.NewReader(r.Body))
		if err != nil {
			c.fail(err)
			return
		}
		req.Header.Set("Content-Type", formContentType)
		if r.AuthToken != "" {
			req.Header.Set("Authorization", r.AuthToken)
		}
		hc := c.http
		if r.WithCredentials {
			hc = c.credHTTP
		}
		c.do(hc, req)
	})
}

// SendNative queues a fire-and-forget POST. It reports false when the
// payload is too large, the queue is full or the client is closed, so the
// transmitter can fall back to XHR.
func (c *Client) SendNative(target, body string) bool {
	if len(body) > MaxNativePayload {
		c.logger.Debug("transport: native payload too large", zap.Int("size", len(body)))
		return false
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return false
	}
	c.inflight.Add(1)
	select {
	case c.native <- nativeBeacon{target: target, body: body}:
		return true
	default:
		c.inflight.Done()
		c.logger.Debug("transport: native queue full")
		return false
	}
}

// Wait blocks until every send accepted so far, queued native beacons
// included, has finished.
func (c *Client) Wait() {
	c.inflight.Wait()
}

// Close drains the native queue, waits for in-flight sends and releases
// the client. Sends after Close are dropped.
func (c *Client) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	close(c.native)
	c.mu.Unlock()

	c.wg.Wait()
	c.cancel()
	return nil
}

func (c *Client) drainNative() {
	defer c.wg.Done()
	for nb := range c.native {
		c.postNative(nb)
		c.inflight.Done()
	}
}

func (c *Client) postNative(nb nativeBeacon) {
	req, err := http.NewRequestWithContext(c.ctx, http.MethodPost, nb.target, strings.NewReader(nb.body))
	if err != nil {
		c.fail(err)
		return
	}
	req.Header.Set("Content-Type", formContentType)
	c.do(c.http, req)
}

func (c *Client) spawn(fn func()) {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		c.logger.Debug("transport: send after close dropped")
		return
	}
	c.wg.Add(1)
	c.inflight.Add(1)
	c.mu.Unlock()

	go func() {
		defer c.wg.Done()
		defer c.inflight.Done()
		fn()
	}()
}

func (c *Client) do(hc *http.Client, req *http.Request) {
	resp, err := hc.Do(req)
	if err != nil {
		c.fail(err)
		return
	}
	resp.Body.Close()

	if resp.StatusCode == http.StatusTooManyRequests {
		c.logger.Info("transport: collector rate limited session", zap.String("url", req.URL.Redacted()))
		if c.onRateLimited != nil {
			c.onRateLimited()
		}
		return
	}
	if resp.StatusCode >= 400 {
		c.fail(&StatusError{Method: req.Method, URL: req.URL.Redacted(), Code: resp.StatusCode})
		return
	}
	c.logger.Debug("transport: beacon delivered",
		zap.String("method", req.Method),
		zap.Int("status", resp.StatusCode))
}

func (c *Client) fail(err error) {
	c.logger.Debug("transport: beacon failed", zap.Error(err))
	if c.report != nil {
		c.report(err)
	}
}
