package beacon

import (
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"

	"github.com/dshills/rumbeacon/internal/event"
	"github.com/dshills/rumbeacon/internal/runloop"
)

type fakeImage struct{ targets []string }

func (f *fakeImage) SendImage(target string) { f.targets = append(f.targets, target) }

type fakeXHR struct{ reqs []XHRRequest }

func (f *fakeXHR) SendXHR(req XHRRequest) { f.reqs = append(f.reqs, req) }

type fakeNative struct {
	accept bool
	bodies []string
}

func (f *fakeNative) SendNative(target, body string) bool {
	if !f.accept {
		return false
	}
	f.bodies = append(f.bodies, body)
	return true
}

type gateFunc func(Reader) (bool, []string)

func (g gateFunc) IsComplete(r Reader) (bool, []string) { return g(r) }

type harness struct {
	loop  *runloop.Loop
	bus   *event.Bus
	vars  *Vars
	tx    *Transmitter
	image *fakeImage
	xhr   *fakeXHR
	nat   *fakeNative
	sent  []Snapshot
}

func newHarness(t *testing.T, opts ...TransmitterOption) *harness {
	t.Helper()
	loop, _ := runloop.NewTest(time.Unix(1700000000, 0))
	h := &harness{
		loop:  loop,
		bus:   event.NewBus(),
		vars:  NewVars(),
		image: &fakeImage{},
		xhr:   &fakeXHR{},
		nat:   &fakeNative{accept: true},
	}
	for _, name := range event.CoreEvents {
		h.bus.RegisterEvent(name)
	}
	base := []TransmitterOption{
		WithTransports(Transports{Image: h.image, XHR: h.xhr, Native: h.nat}),
		WithPage(func() PageInfo {
			return PageInfo{URL: "https://shop.example/p?id=1#top", Referrer: "https://ref.example/", Visibility: "visible"}
		}),
	}
	h.tx = NewTransmitter(h.vars, h.bus, loop, append(base, opts...)...)
	h.bus.SetFlush(h.tx.Flush)
	if err := h.tx.Configure(Options{URL: "https://collector.example/beacon"}); err != nil {
		t.Fatalf("Configure() error: %v", err)
	}
	h.bus.MustSubscribe(event.Beacon, func(e event.Event) error {
		h.sent = append(h.sent, e.Data.(Snapshot))
		return nil
	})
	return h
}

func TestTransmitter_Coalesces(t *testing.T) {
	h := newHarness(t)
	h.tx.SendBeacon("")
	h.tx.SendBeacon("")
	h.tx.SendBeacon("")
	if !h.tx.InQueue() {
		t.Fatal("InQueue() = false after SendBeacon")
	}
	h.loop.RunPending()

	if len(h.sent) != 1 {
		t.Fatalf("beacons = %d, want 1", len(h.sent))
	}
	if len(h.image.targets) != 1 {
		t.Fatalf("image sends = %d, want 1", len(h.image.targets))
	}
	if h.tx.InQueue() {
		t.Error("InQueue() = true after send")
	}
}

func TestTransmitter_GateLeavesVarsUntouched(t *testing.T) {
	ready := false
	h := newHarness(t, WithGate(gateFunc(func(Reader) (bool, []string) {
		if ready {
			return true, nil
		}
		return false, []string{"ResourceTiming"}
	})))
	h.vars.Add("t_done", 120, false)
	h.vars.Add("once", "x", true)
	before := h.vars.Names()

	h.tx.SendBeacon("")
	h.loop.RunPending()

	if len(h.sent) != 0 {
		t.Fatalf("beacon sent while incomplete")
	}
	if diff := cmp.Diff(before, h.vars.Names()); diff != "" {
		t.Errorf("vars changed (-want +got):\n%s", diff)
	}

	ready = true
	h.tx.SendBeacon("")
	h.loop.RunPending()
	if len(h.sent) != 1 {
		t.Fatalf("beacons = %d, want 1 after retry", len(h.sent))
	}
}

func TestTransmitter_SingleBeaconCleanup(t *testing.T) {
	h := newHarness(t)
	h.vars.Add("keep", "k", false)
	h.vars.Add("once", "o", true)

	h.tx.SendBeacon("")
	h.loop.RunPending()

	if !h.sent[0].Has("once") {
		t.Error("single-beacon var missing from beacon")
	}
	if h.vars.Has("once") || !h.vars.Has("keep") {
		t.Errorf("after beacon vars = %v", h.vars.Names())
	}
	if h.vars.Has(VarURL) {
		t.Error("u survived the beacon")
	}
}

func TestTransmitter_EarlyBeaconKeepsSingleVars(t *testing.T) {
	h := newHarness(t)
	h.vars.Add("once", "o", true)
	h.vars.Add(VarEarly, true, false)

	h.tx.SendBeacon("")
	h.loop.RunPending()

	if !h.sent[0].Has(VarEarly) {
		t.Error("early flag missing from early beacon")
	}
	if !h.tx.Last().Early {
		t.Error("Last().Early = false")
	}
	if h.vars.Has(VarEarly) {
		t.Error("early flag not removed")
	}
	if !h.vars.Has("once") {
		t.Error("single-beacon var cleared by early beacon")
	}

	h.tx.SendBeacon("")
	h.loop.RunPending()
	if h.vars.Has("once") {
		t.Error("single-beacon var survived the full beacon")
	}
}

func TestTransmitter_URLVars(t *testing.T) {
	h := newHarness(t)
	h.tx.SendBeacon("")
	h.loop.RunPending()

	snap := h.sent[0]
	want := map[string]any{
		VarURL:        "https://shop.example/p?id=1",
		VarReferrer:   "https://ref.example/",
		VarVisibility: "visible",
		VarCount:      1,
	}
	for k, v := range want {
		if got, _ := snap.Get(k); got != v {
			t.Errorf("%s = %v, want %v", k, got, v)
		}
	}
	if snap.Has(VarPageURL) {
		t.Error("pgu set although it equals u")
	}
}

func TestTransmitter_SPAKeepsFragment(t *testing.T) {
	h := newHarness(t)
	h.vars.Add(VarInitiator, "spa", true)
	h.tx.SendBeacon("")
	h.loop.RunPending()

	snap := h.sent[0]
	if got, _ := snap.Get(VarURL); got != "https://shop.example/p?id=1#top" {
		t.Errorf("u = %v", got)
	}
	if got, _ := snap.Get(VarPageURL); got != "https://shop.example/p?id=1" {
		t.Errorf("pgu = %v", got)
	}
}

func TestTransmitter_StripQueryString(t *testing.T) {
	h := newHarness(t)
	_ = h.tx.Configure(Options{URL: "https://collector.example/beacon", StripQueryString: true})
	h.tx.SendBeacon("")
	h.loop.RunPending()
	if got, _ := h.sent[0].Get(VarURL); got != "https://shop.example/p?qs-redacted" {
		t.Errorf("u = %v", got)
	}
}

func TestTransmitter_TransportSelection(t *testing.T) {
	long := strings.Repeat("x", 2500)
	tests := []struct {
		name    string
		opts    Options
		value   string
		native  bool
		xhrOnly bool
		want    Transport
	}{
		{"auto short", Options{Type: TypeAUTO}, "short", true, false, TransportImage},
		{"auto long", Options{Type: TypeAUTO}, long, true, false, TransportNative},
		{"auto long native refused", Options{Type: TypeAUTO}, long, false, false, TransportXHR},
		{"auto long native disabled", Options{Type: TypeAUTO, DisableNative: true}, long, true, false, TransportXHR},
		{"post with auth", Options{Type: TypePOST, AuthToken: "secret"}, "short", true, false, TransportXHR},
		{"get long", Options{Type: "get"}, long, true, false, TransportImage},
		{"auto short without image", Options{Type: TypeAUTO}, "short", false, true, TransportXHR},
		{"get without image", Options{Type: TypeGET}, "short", false, true, TransportXHR},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newHarness(t)
			h.nat.accept = tt.native
			if tt.xhrOnly {
				h.tx.transports = Transports{XHR: h.xhr}
			}
			tt.opts.URL = "https://collector.example/beacon"
			if err := h.tx.Configure(tt.opts); err != nil {
				t.Fatal(err)
			}
			h.vars.Add("payload", tt.value, false)
			h.tx.SendBeacon("")
			h.loop.RunPending()

			if got := h.tx.Last().Transport; got != tt.want {
				t.Errorf("transport = %q, want %q", got, tt.want)
			}
			if err := h.tx.Last().Err; err != nil {
				t.Errorf("Last().Err = %v", err)
			}
		})
	}
}

func TestTransmitter_XHRCarriesAuth(t *testing.T) {
	h := newHarness(t)
	_ = h.tx.Configure(Options{URL: "https://collector.example/beacon", Type: TypePOST, AuthToken: "tok", WithCredentials: true})
	h.tx.SendBeacon("")
	h.loop.RunPending()

	if len(h.xhr.reqs) != 1 {
		t.Fatalf("xhr sends = %d", len(h.xhr.reqs))
	}
	req := h.xhr.reqs[0]
	if req.AuthToken != "tok" || !req.WithCredentials {
		t.Errorf("request = %+v", req)
	}
	if req.Body != h.sent[0].Encode() {
		t.Errorf("body = %q, want encoded snapshot", req.Body)
	}
}

func TestTransmitter_AllowList(t *testing.T) {
	h := newHarness(t)
	err := h.tx.Configure(Options{
		URL:         "https://collector.example/beacon",
		AllowedURLs: []string{`^https://other\.example/`, `(`},
	})
	if !errors.Is(err, ErrInvalidPattern) {
		t.Errorf("Configure() err = %v, want invalid pattern", err)
	}
	h.tx.SendBeacon("")
	h.loop.RunPending()

	if len(h.image.targets) != 0 {
		t.Error("beacon sent to a URL outside the allow-list")
	}
	if !errors.Is(h.tx.Last().Err, ErrNotAllowed) {
		t.Errorf("Last().Err = %v", h.tx.Last().Err)
	}
	if len(h.sent) != 1 {
		t.Error("beacon event not fired for a blocked send")
	}

	h.tx.SendBeacon("https://other.example/b")
	h.loop.RunPending()
	if len(h.image.targets) != 1 || !strings.HasPrefix(h.image.targets[0], "https://other.example/b?") {
		t.Errorf("override target = %v", h.image.targets)
	}
}

func TestTransmitter_RateLimited(t *testing.T) {
	limited := true
	h := newHarness(t, WithRateLimited(func() bool { return limited }))
	h.vars.Add("once", "o", true)
	h.tx.SendBeacon("")
	h.loop.RunPending()

	if len(h.image.targets) != 0 {
		t.Error("rate-limited session sent a beacon")
	}
	if len(h.sent) != 1 || h.vars.Has("once") {
		t.Error("rate-limited beacon did not complete its lifecycle")
	}
}

func TestTransmitter_NoTransportReported(t *testing.T) {
	var reported []error
	h := newHarness(t, WithTransports(Transports{}), WithReporter(func(err error) { reported = append(reported, err) }))
	h.tx.SendBeacon("")
	h.loop.RunPending()

	if len(reported) != 1 || !errors.Is(reported[0], ErrNoTransport) {
		t.Errorf("reported = %v", reported)
	}
}

func TestTransmitter_BeforeBeaconMutations(t *testing.T) {
	h := newHarness(t)
	h.bus.MustSubscribe(event.BeforeBeacon, func(e event.Event) error {
		e.Data.(*Vars).Add("late", "v", false)
		return nil
	})
	h.tx.SendBeacon("")
	h.loop.RunPending()
	if !h.sent[0].Has("late") {
		t.Error("var added in before_beacon missing from beacon")
	}
}

func TestTransmitter_FlushBeforeEvent(t *testing.T) {
	h := newHarness(t)
	h.tx.SendBeacon("")
	// Any non-beacon event flushes the queued beacon first.
	h.bus.FireEvent(event.Click, nil)
	if len(h.sent) != 1 {
		t.Fatalf("beacons after flush = %d, want 1", len(h.sent))
	}
	h.loop.RunPending()
	if len(h.sent) != 1 {
		t.Errorf("beacons after drain = %d, want 1", len(h.sent))
	}
}

func TestTransmitter_HostGone(t *testing.T) {
	h := newHarness(t, WithAlive(func() bool { return false }))
	h.tx.SendBeacon("")
	h.loop.RunPending()
	if len(h.sent) != 0 || h.tx.Count() != 0 {
		t.Error("beacon assembled after host went away")
	}
}
