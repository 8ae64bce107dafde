package collector

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"golang.org/x/time/rate"
)

func newTestServer(t *testing.T, opts ...Option) (*Server, *httptest.Server) {
	t.Helper()
	srv := NewServer(openTestStore(t), opts...)
	ts := httptest.NewServer(srv.Handler())
	t.Cleanup(ts.Close)
	return srv, ts
}

func TestBeaconGetAndPost(t *testing.T) {
	srv, ts := newTestServer(t)
	ctx := context.Background()

	resp, err := http.Get(ts.URL + "/beacon?u=https%3A%2F%2Fexample.com%2F&t_done=120&pid=p1")
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusNoContent {
		t.Fatalf("GET status = %d, want 204", resp.StatusCode)
	}

	form := url.Values{"u": {"https://example.com/api"}, "http.initiator": {"xhr"}, "pid": {"p1"}}
	resp, err = http.Post(ts.URL+"/beacon", "application/x-www-form-urlencoded", strings.NewReader(form.Encode()))
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusNoContent {
		t.Fatalf("POST status = %d, want 204", resp.StatusCode)
	}

	got, err := srv.store.Recent(ctx, Query{})
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 2 {
		t.Fatalf("stored %d beacons, want 2", len(got))
	}
	if got[0].Transport != TransportPost || got[0].Initiator != "xhr" {
		t.Errorf("newest = %+v", got[0])
	}
	if got[1].Transport != TransportGet || got[1].Var("t_done").Int() != 120 {
		t.Errorf("oldest = %+v", got[1])
	}
	if got[1].Client != "127.0.0.1" {
		t.Errorf("Client = %q", got[1].Client)
	}
}

func TestBeaconRejected(t *testing.T) {
	_, ts := newTestServer(t, WithMaxBody(16))

	tests := []struct {
		name   string
		do     func() (*http.Response, error)
		status int
	}{
		{
			name:   "empty",
			do:     func() (*http.Response, error) { return http.Get(ts.URL + "/beacon") },
			status: http.StatusBadRequest,
		},
		{
			name: "method",
			do: func() (*http.Response, error) {
				req, _ := http.NewRequest(http.MethodPut, ts.URL+"/beacon", nil)
				return http.DefaultClient.Do(req)
			},
			status: http.StatusMethodNotAllowed,
		},
		{
			name: "too large",
			do: func() (*http.Response, error) {
				body := "u=" + strings.Repeat("x", 64)
				return http.Post(ts.URL+"/beacon", "application/x-www-form-urlencoded", strings.NewReader(body))
			},
			status: http.StatusRequestEntityTooLarge,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp, err := tt.do()
			if err != nil {
				t.Fatal(err)
			}
			resp.Body.Close()
			if resp.StatusCode != tt.status {
				t.Errorf("status = %d, want %d", resp.StatusCode, tt.status)
			}
		})
	}
}

func TestBeaconRateLimited(t *testing.T) {
	var now atomic.Int64
	now.Store(time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC).UnixNano())
	_, ts := newTestServer(t,
		WithRate(rate.Every(time.Second), 2),
		WithClock(func() time.Time { return time.Unix(0, now.Load()) }),
		WithTrustProxy(true))

	send := func(client string) int {
		req, _ := http.NewRequest(http.MethodGet, ts.URL+"/beacon?u=x", nil)
		req.Header.Set("X-Forwarded-For", client+", 10.0.0.1")
		resp, err := http.DefaultClient.Do(req)
		if err != nil {
			t.Fatal(err)
		}
		resp.Body.Close()
		return resp.StatusCode
	}

	for i := 0; i < 2; i++ {
		if got := send("198.51.100.1"); got != http.StatusNoContent {
			t.Fatalf("send %d status = %d, want 204", i, got)
		}
	}
	if got := send("198.51.100.1"); got != http.StatusTooManyRequests {
		t.Errorf("over limit status = %d, want 429", got)
	}
	if got := send("198.51.100.2"); got != http.StatusNoContent {
		t.Errorf("other client status = %d, want 204", got)
	}

	now.Add(int64(time.Second))
	if got := send("198.51.100.1"); got != http.StatusNoContent {
		t.Errorf("after refill status = %d, want 204", got)
	}
}

func TestLimiterPrune(t *testing.T) {
	l := newLimiter(rate.Limit(1), 1)
	base := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	l.Allow("a", base)
	l.Allow("b", base.Add(time.Minute))

	if n := l.Prune(base.Add(30 * time.Second)); n != 1 {
		t.Errorf("Prune() = %d, want 1", n)
	}
	if l.Len() != 1 {
		t.Errorf("Len() = %d, want 1", l.Len())
	}
}

func TestRecentAPI(t *testing.T) {
	_, ts := newTestServer(t)
	for _, q := range []string{"u=a&http.initiator=xhr", "u=b", "u=c&http.initiator=xhr"} {
		resp, err := http.Get(ts.URL + "/beacon?" + q)
		if err != nil {
			t.Fatal(err)
		}
		resp.Body.Close()
	}

	resp, err := http.Get(ts.URL + "/api/beacons?initiator=xhr&limit=1")
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	var got []Record
	if err := json.NewDecoder(resp.Body).Decode(&got); err != nil {
		t.Fatal(err)
	}
	if len(got) != 1 || got[0].URL != "c" {
		t.Errorf("got %+v, want the newest xhr beacon", got)
	}

	resp2, err := http.Get(ts.URL + "/api/beacons?limit=x")
	if err != nil {
		t.Fatal(err)
	}
	resp2.Body.Close()
	if resp2.StatusCode != http.StatusBadRequest {
		t.Errorf("bad limit status = %d, want 400", resp2.StatusCode)
	}
}

func TestMetricsEndpoint(t *testing.T) {
	_, ts := newTestServer(t)
	resp, err := http.Get(ts.URL + "/beacon?u=a&http.initiator=spa")
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()

	resp, err = http.Get(ts.URL + "/metrics")
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	body, _ := io.ReadAll(resp.Body)
	for _, want := range []string{
		`rumbeacon_beacons_received_total{initiator="spa",transport="get"} 1`,
		`rumbeacon_beacons_stored_total 1`,
	} {
		if !strings.Contains(string(body), want) {
			t.Errorf("metrics lack %q", want)
		}
	}
}

func TestCORS(t *testing.T) {
	_, ts := newTestServer(t, WithAllowedOrigins("https://shop.example"))

	tests := []struct {
		origin string
		want   string
	}{
		{"https://shop.example", "https://shop.example"},
		{"https://evil.example", ""},
	}
	for _, tt := range tests {
		req, _ := http.NewRequest(http.MethodOptions, ts.URL+"/beacon", nil)
		req.Header.Set("Origin", tt.origin)
		resp, err := http.DefaultClient.Do(req)
		if err != nil {
			t.Fatal(err)
		}
		resp.Body.Close()
		if got := resp.Header.Get("Access-Control-Allow-Origin"); got != tt.want {
			t.Errorf("origin %s: allow = %q, want %q", tt.origin, got, tt.want)
		}
	}
}

func TestStream(t *testing.T) {
	srv, ts := newTestServer(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go srv.Run(ctx)

	wsURL := "ws" + strings.TrimPrefix(ts.URL, "http") + "/stream"
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	if err != nil {
		t.Fatalf("Dial() error = %v", err)
	}
	defer conn.Close()

	deadline := time.Now().Add(2 * time.Second)
	for srv.Hub().Clients() == 0 {
		if time.Now().After(deadline) {
			t.Fatal("stream client never registered")
		}
		time.Sleep(5 * time.Millisecond)
	}

	resp, err := http.Get(ts.URL + "/beacon?u=live&http.initiator=spa_hard")
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	var msg struct {
		Type string `json:"type"`
		Data Record `json:"data"`
	}
	if err := conn.ReadJSON(&msg); err != nil {
		t.Fatalf("ReadJSON() error = %v", err)
	}
	if msg.Type != "beacon" || msg.Data.URL != "live" || msg.Data.Initiator != "spa_hard" {
		t.Errorf("message = %+v", msg)
	}
}

func TestStreamClientLimit(t *testing.T) {
	_, ts := newTestServer(t, WithMaxStreams(0))
	resp, err := http.Get(ts.URL + "/stream")
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusServiceUnavailable {
		t.Errorf("status = %d, want 503", resp.StatusCode)
	}
}
