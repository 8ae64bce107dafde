package main

import (
	"context"
	"crypto/tls"
	"fmt"
	"io"
	"net/http"
	"net/http/httptrace"
	"sync"
	"time"

	"github.com/dshills/rumbeacon/internal/timing"
)

// navigator fetches a page the way a browser navigation would and records
// its timing.
type navigator struct {
	client *http.Client
	now    func() time.Time

	mu  sync.Mutex
	nav timing.Navigation
}

func newNavigator(timeout time.Duration) *navigator {
	n := &navigator{now: time.Now}
	n.client = &http.Client{
		Timeout: timeout,
		CheckRedirect: func(req *http.Request, via []*http.Request) error {
			if len(via) >= 10 {
				return fmt.Errorf("stopped after %d redirects", len(via))
			}
			n.mark(func(nav *timing.Navigation, t time.Time) {
				if nav.RedirectCount == 0 {
					nav.RedirectStart = nav.NavigationStart
				}
				nav.RedirectCount++
				nav.RedirectEnd = t
			})
			return nil
		},
	}
	return n
}

func (n *navigator) mark(fn func(nav *timing.Navigation, t time.Time)) {
	t := n.now()
	n.mu.Lock()
	fn(&n.nav, t)
	n.mu.Unlock()
}

// Navigate loads url and returns the navigation timing and the final URL.
func (n *navigator) Navigate(ctx context.Context, url string) (timing.Navigation, string, error) {
	n.mu.Lock()
	n.nav = timing.Navigation{Type: timing.NavigateNavigate, NavigationStart: n.now()}
	n.mu.Unlock()

	trace := &httptrace.ClientTrace{
		GetConn: func(string) {
			n.mark(func(nav *timing.Navigation, t time.Time) { nav.FetchStart = t })
		},
		DNSStart: func(httptrace.DNSStartInfo) {
			n.mark(func(nav *timing.Navigation, t time.Time) { nav.DomainLookupStart = t })
		},
		DNSDone: func(httptrace.DNSDoneInfo) {
			n.mark(func(nav *timing.Navigation, t time.Time) { nav.DomainLookupEnd = t })
		},
		ConnectStart: func(string, string) {
			n.mark(func(nav *timing.Navigation, t time.Time) { nav.ConnectStart = t })
		},
		ConnectDone: func(string, string, error) {
			n.mark(func(nav *timing.Navigation, t time.Time) { nav.ConnectEnd = t })
		},
		TLSHandshakeStart: func() {
			n.mark(func(nav *timing.Navigation, t time.Time) { nav.SecureConnectionStart = t })
		},
		TLSHandshakeDone: func(tls.ConnectionState, error) {
			n.mark(func(nav *timing.Navigation, t time.Time) { nav.ConnectEnd = t })
		},
		WroteRequest: func(httptrace.WroteRequestInfo) {
			n.mark(func(nav *timing.Navigation, t time.Time) { nav.RequestStart = t })
		},
		GotFirstResponseByte: func() {
			n.mark(func(nav *timing.Navigation, t time.Time) { nav.ResponseStart = t })
		},
	}

	req, err := http.NewRequestWithContext(httptrace.WithClientTrace(ctx, trace), http.MethodGet, url, nil)
	if err != nil {
		return timing.Navigation{}, "", err
	}
	req.Header.Set("Accept", "text/html,*/*")
	resp, err := n.client.Do(req)
	if err != nil {
		return timing.Navigation{}, "", err
	}
	defer resp.Body.Close()

	n.mark(func(nav *timing.Navigation, t time.Time) { nav.DOMLoading = t })
	if _, err := io.Copy(io.Discard, resp.Body); err != nil {
		return timing.Navigation{}, "", fmt.Errorf("read %s: %w", url, err)
	}
	n.mark(func(nav *timing.Navigation, t time.Time) {
		nav.ResponseEnd = t
		nav.DOMInteractive = t
		nav.DOMContentLoadedEventStart = t
		nav.DOMContentLoadedEventEnd = t
		nav.DOMComplete = t
		nav.LoadEventStart = t
		nav.LoadEventEnd = t
	})
	if resp.StatusCode >= 400 {
		return timing.Navigation{}, "", fmt.Errorf("navigate %s: %s", url, resp.Status)
	}

	n.mu.Lock()
	defer n.mu.Unlock()
	return n.nav, resp.Request.URL.String(), nil
}
