package agent

import (
	"errors"
	"fmt"
	"net/url"
	"sync"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"

	"github.com/dshills/rumbeacon/internal/beacon"
	"github.com/dshills/rumbeacon/internal/config"
	"github.com/dshills/rumbeacon/internal/event"
	"github.com/dshills/rumbeacon/internal/mutation"
	"github.com/dshills/rumbeacon/internal/plugin"
	"github.com/dshills/rumbeacon/internal/runloop"
	"github.com/dshills/rumbeacon/internal/spa"
	"github.com/dshills/rumbeacon/internal/timing"
)

const testBeaconURL = "https://collector.example/beacon"

type recorder struct {
	mu      sync.Mutex
	targets []string
}

func (r *recorder) SendImage(target string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.targets = append(r.targets, target)
}

func (r *recorder) SendXHR(req beacon.XHRRequest) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.targets = append(r.targets, req.URL+"?"+req.Body)
}

func (r *recorder) beacons(t *testing.T) []url.Values {
	t.Helper()
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]url.Values, 0, len(r.targets))
	for _, target := range r.targets {
		u, err := url.Parse(target)
		if err != nil {
			t.Fatalf("parse beacon %q: %v", target, err)
		}
		out = append(out, u.Query())
	}
	return out
}

type harness struct {
	*Agent
	loop  *runloop.Loop
	clock *runloop.FakeClock
	rec   *recorder
}

func newHarness(t *testing.T, cfg map[string]any) *harness {
	t.Helper()
	loop, clock := runloop.NewTest(time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC))
	if cfg == nil {
		cfg = map[string]any{}
	}
	if _, ok := cfg[config.KeyBeaconURL]; !ok {
		cfg[config.KeyBeaconURL] = testBeaconURL
	}
	rec := &recorder{}
	a := New(
		WithLoop(loop),
		WithConfig(config.FromMap(cfg)),
		WithTransports(beacon.Transports{Image: rec, XHR: rec}),
	)
	return &harness{Agent: a, loop: loop, clock: clock, rec: rec}
}

// count subscribes to name and returns a pointer to its delivery count.
func (h *harness) count(t *testing.T, name string) *int {
	t.Helper()
	n := new(int)
	if _, err := h.Host().Subscribe(name, func(event.Event) error {
		*n++
		return nil
	}, event.WithData(n)); err != nil {
		t.Fatalf("Subscribe(%s): %v", name, err)
	}
	return n
}

// sendOnPageReady makes page_ready send a beacon, as the round-trip plugin
// does.
func (h *harness) sendOnPageReady(t *testing.T) {
	t.Helper()
	host := h.Host()
	_, err := host.Subscribe(event.PageReady, func(event.Event) error {
		host.Vars().Add("t_done", 100, true)
		host.SendBeacon()
		return nil
	})
	if err != nil {
		t.Fatal(err)
	}
}

type readyPlugin struct {
	plugin.Func
	ready bool
}

func (p *readyPlugin) ReadyToSend() bool { return p.ready }

type earlyPlugin struct {
	plugin.Func
	got []*mutation.Resource
}

func (p *earlyPlugin) EarlyBeacon(res *mutation.Resource) { p.got = append(p.got, res) }

func TestPageLoadBeacon(t *testing.T) {
	h := newHarness(t, nil)
	h.Init()
	h.SetPage("https://example.com/home?q=1#top", "https://ref.example/")
	h.sendOnPageReady(t)
	plb := h.count(t, event.PageLoadBeacon)

	h.Loaded(h.clock.Now())
	h.loop.RunPending()

	beacons := h.rec.beacons(t)
	if len(beacons) != 1 {
		t.Fatalf("sent %d beacons, want 1", len(beacons))
	}
	b := beacons[0]
	want := map[string]string{
		"u":      "https://example.com/home?q=1",
		"r":      "https://ref.example/",
		"t_done": "100",
		"n":      "1",
		"v":      Version,
		"vis.st": VisibilityVisible,
	}
	for k, v := range want {
		if got := b.Get(k); got != v {
			t.Errorf("%s = %q, want %q", k, got, v)
		}
	}
	if b.Get("rt.si") == "" {
		t.Error("session id missing")
	}
	if *plb != 1 {
		t.Errorf("page_load_beacon fired %d times, want 1", *plb)
	}

	h.SendBeacon("")
	h.loop.RunPending()
	if *plb != 1 {
		t.Errorf("page_load_beacon fired again for a later beacon")
	}
	if h.Vars().Has("t_done") {
		t.Error("single-beacon var survived the beacon")
	}
}

func TestLoadedWaits(t *testing.T) {
	h := newHarness(t, map[string]any{config.KeyWait: true})
	h.Init()
	ready := h.count(t, event.PageReady)

	h.Loaded(h.clock.Now())
	h.loop.RunPending()
	if *ready != 0 {
		t.Fatal("page_ready fired while waiting")
	}

	h.PageReady(h.clock.Now())
	h.PageReady(h.clock.Now())
	h.loop.RunPending()
	if *ready != 1 {
		t.Errorf("page_ready fired %d times, want 1", *ready)
	}
}

func TestResponseEndWaitsForPageLoadBeacon(t *testing.T) {
	h := newHarness(t, nil)
	h.Init()
	h.sendOnPageReady(t)

	var loads []*mutation.Resource
	_, err := h.Host().Subscribe(event.XHRLoad, func(e event.Event) error {
		loads = append(loads, e.Data.(*mutation.Resource))
		return nil
	})
	if err != nil {
		t.Fatal(err)
	}

	res := &mutation.Resource{Type: mutation.TypeXHR, URL: "https://api.example/items", Index: -1}
	h.ResponseEnd(res)
	h.loop.RunPending()
	if len(loads) != 0 {
		t.Fatal("xhr_load fired before the page load beacon")
	}

	h.Loaded(h.clock.Now())
	h.loop.RunPending()
	if len(loads) != 1 || loads[0] != res {
		t.Fatalf("xhr_load deliveries = %v, want the deferred resource", loads)
	}
}

func TestResponseEndRetriesUntilReady(t *testing.T) {
	h := newHarness(t, nil)
	p := &readyPlugin{Func: plugin.Func{PluginName: "gate"}, ready: true}
	if err := h.Register(p); err != nil {
		t.Fatal(err)
	}
	h.Init()
	h.sendOnPageReady(t)
	loads := h.count(t, event.XHRLoad)
	h.Loaded(h.clock.Now())
	h.loop.RunPending()

	p.ready = false
	h.ResponseEnd(&mutation.Resource{Type: mutation.TypeXHR, URL: "https://api.example/a", Index: -1})
	h.loop.RunPending()
	if *loads != 0 {
		t.Fatal("xhr_load fired while a plugin was not ready")
	}

	p.ready = true
	h.loop.Advance(RetryDelay)
	if *loads != 1 {
		t.Errorf("xhr_load fired %d times after retry, want 1", *loads)
	}
}

func TestSendTimer(t *testing.T) {
	h := newHarness(t, nil)
	p := &readyPlugin{Func: plugin.Func{PluginName: "gate"}}
	if err := h.Register(p); err != nil {
		t.Fatal(err)
	}
	h.Init()
	plb := h.count(t, event.PageLoadBeacon)

	h.SendTimer("checkout", 250*time.Millisecond)
	h.loop.RunPending()
	if n := len(h.rec.beacons(t)); n != 0 {
		t.Fatalf("sent %d beacons while not ready", n)
	}

	p.ready = true
	h.loop.Advance(RetryDelay)
	beacons := h.rec.beacons(t)
	if len(beacons) != 1 {
		t.Fatalf("sent %d beacons, want 1", len(beacons))
	}
	got := map[string]string{
		VarCustomTimer:      beacons[0].Get(VarCustomTimer),
		beacon.VarInitiator: beacons[0].Get(beacon.VarInitiator),
	}
	want := map[string]string{
		VarCustomTimer:      "checkout|250",
		beacon.VarInitiator: InitiatorTimer,
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("timer beacon mismatch (-want +got):\n%s", diff)
	}
	if *plb != 0 {
		t.Error("timer beacon treated as the page load beacon")
	}
}

func TestReportError(t *testing.T) {
	h := newHarness(t, nil)
	h.Init()

	var got []string
	_, err := h.Host().Subscribe(event.Error, func(e event.Event) error {
		got = append(got, e.Data.(error).Error())
		return nil
	})
	if err != nil {
		t.Fatal(err)
	}

	h.ReportError(fmt.Errorf("script.js: %w", ErrCrossOrigin))
	h.ReportError(errors.New("boom"))
	h.ReportError(nil)
	h.loop.RunPending()

	if diff := cmp.Diff([]string{"boom"}, got); diff != "" {
		t.Errorf("reported errors mismatch (-want +got):\n%s", diff)
	}
}

func TestInternalErrorsStamped(t *testing.T) {
	h := newHarness(t, nil)
	bad := &plugin.Func{
		PluginName: "broken",
		InitFn:     func(config.Section) error { return errors.New("init failed") },
	}
	if err := h.Register(bad); err != nil {
		t.Fatal(err)
	}
	h.Init()
	h.loop.RunPending()

	h.SendBeacon("")
	h.loop.RunPending()
	h.SendBeacon("")
	h.loop.RunPending()

	beacons := h.rec.beacons(t)
	if len(beacons) != 2 {
		t.Fatalf("sent %d beacons, want 2", len(beacons))
	}
	if beacons[0].Get(VarInternalErrors) == "" {
		t.Error("first beacon carries no internal errors")
	}
	if beacons[1].Has(VarInternalErrors) {
		t.Error("internal errors repeated on the second beacon")
	}
}

func TestPageUnloadStopsBeacons(t *testing.T) {
	h := newHarness(t, nil)
	h.Init()
	host := h.Host()
	_, err := host.Subscribe(event.PageUnload, func(event.Event) error {
		host.Vars().Add("rt.quit", "", true)
		host.SendBeacon()
		return nil
	})
	if err != nil {
		t.Fatal(err)
	}
	before := h.count(t, event.BeforeUnload)

	h.PageUnload()
	h.loop.RunPending()
	h.SendBeacon("")
	h.PageUnload()
	h.loop.RunPending()

	beacons := h.rec.beacons(t)
	if len(beacons) != 1 {
		t.Fatalf("sent %d beacons, want only the unload beacon", len(beacons))
	}
	if !beacons[0].Has("rt.quit") {
		t.Error("unload beacon lacks rt.quit")
	}
	if *before != 1 {
		t.Errorf("before_unload fired %d times, want 1", *before)
	}
}

func TestConfigReapplied(t *testing.T) {
	h := newHarness(t, nil)
	configs := h.count(t, event.Config)
	h.Init()
	h.loop.RunPending()
	if *configs != 1 {
		t.Fatalf("config fired %d times after Init, want 1", *configs)
	}

	const next = "https://other.example/b"
	if err := h.Config().Set(config.KeyBeaconURL, next); err != nil {
		t.Fatal(err)
	}
	h.loop.RunPending()

	if *configs != 2 {
		t.Errorf("config fired %d times after change, want 2", *configs)
	}
	if got := h.Transmitter().Options().URL; got != next {
		t.Errorf("beacon URL = %q, want %q", got, next)
	}
	if !h.Instrumenter().Excluded(next) {
		t.Error("new beacon URL is instrumented")
	}
}

func TestHardNavigation(t *testing.T) {
	h := newHarness(t, nil)
	h.Init()
	start := h.clock.Now().Add(-500 * time.Millisecond)
	h.SetNavigation(timing.Navigation{
		NavigationStart: start,
		ResponseStart:   start.Add(200 * time.Millisecond),
	})

	var nav *mutation.Resource
	_, err := h.Host().Subscribe(event.XHRLoad, func(e event.Event) error {
		nav = e.Data.(*mutation.Resource)
		return nil
	})
	if err != nil {
		t.Fatal(err)
	}

	h.RouteChange(spa.RouteOptions{URL: "https://example.com/app"})
	h.loop.RunPending()
	if h.MutationHandler().Pending() != 1 {
		t.Fatal("hard navigation not pending")
	}

	h.Loaded(h.clock.Now())
	h.loop.Advance(h.MutationHandler().Timeouts().SPA)

	if nav == nil {
		t.Fatal("hard navigation never reached xhr_load")
	}
	want := map[string]time.Duration{
		spa.TimerDone: 500 * time.Millisecond,
		spa.TimerResp: 200 * time.Millisecond,
		spa.TimerPage: 300 * time.Millisecond,
	}
	if diff := cmp.Diff(want, nav.Timers); diff != "" {
		t.Errorf("timers mismatch (-want +got):\n%s", diff)
	}
	if nav.NavType != spa.NavHard {
		t.Errorf("NavType = %q, want %q", nav.NavType, spa.NavHard)
	}
}

func TestRouteFilterExpression(t *testing.T) {
	h := newHarness(t, map[string]any{
		SectionSPA: map[string]any{KeyRouteFilter: `args.path ~= "/skip"`},
	})
	h.Init()
	inits := h.count(t, event.SPAInit)
	h.loop.RunPending()

	h.RouteChange(spa.RouteOptions{Args: map[string]any{"path": "/skip"}})
	h.loop.RunPending()
	if *inits != 0 {
		t.Fatal("filtered route was measured")
	}

	h.RouteChange(spa.RouteOptions{Args: map[string]any{"path": "/go"}})
	h.loop.RunPending()
	if *inits != 1 {
		t.Errorf("spa_init fired %d times, want 1", *inits)
	}
}

func TestClickMonitoring(t *testing.T) {
	tests := []struct {
		name    string
		monitor bool
		pending int
	}{
		{name: "off", monitor: false, pending: 0},
		{name: "on", monitor: true, pending: 1},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newHarness(t, map[string]any{
				SectionAutoXHR: map[string]any{KeyMonitorClicks: tt.monitor},
			})
			h.Init()
			clicks := h.count(t, event.Click)
			h.Click(h.Document().Body())
			h.loop.RunPending()

			if *clicks != 1 {
				t.Errorf("click fired %d times, want 1", *clicks)
			}
			if got := h.MutationHandler().Pending(); got != tt.pending {
				t.Errorf("Pending() = %d, want %d", got, tt.pending)
			}
		})
	}
}

func TestEarlyBeaconDispatch(t *testing.T) {
	h := newHarness(t, map[string]any{"off": map[string]any{"enabled": false}})
	on := &earlyPlugin{Func: plugin.Func{PluginName: "on"}}
	off := &earlyPlugin{Func: plugin.Func{PluginName: "off"}}
	for _, p := range []plugin.Plugin{on, off} {
		if err := h.Register(p); err != nil {
			t.Fatal(err)
		}
	}
	h.Init()
	h.loop.RunPending()

	res := &mutation.Resource{Type: mutation.TypeSPA}
	h.earlyBeacon(&mutation.Event{Type: mutation.TypeSPA, Resource: res})

	if len(on.got) != 1 || on.got[0] != res {
		t.Errorf("enabled plugin got %v", on.got)
	}
	if len(off.got) != 0 {
		t.Error("disabled plugin received an early beacon")
	}
}

func TestVisibilityPrerender(t *testing.T) {
	h := newHarness(t, nil)
	h.Init()
	toVisible := h.count(t, event.PrerenderToVis)

	h.VisibilityChanged(VisibilityPrerender)
	h.VisibilityChanged(VisibilityVisible)
	h.VisibilityChanged(VisibilityHidden)
	h.loop.RunPending()

	if *toVisible != 1 {
		t.Errorf("prerender_to_visible fired %d times, want 1", *toVisible)
	}
}

func TestRateLimitedSessionSuppressesSends(t *testing.T) {
	h := newHarness(t, nil)
	h.Init()
	h.loop.RunPending()
	h.rateLimited()

	sent := h.count(t, event.Beacon)
	h.SendBeacon("")
	h.loop.RunPending()

	if *sent != 1 {
		t.Errorf("beacon event fired %d times, want 1", *sent)
	}
	if n := len(h.rec.beacons(t)); n != 0 {
		t.Errorf("sent %d beacons for a rate limited session", n)
	}
}
