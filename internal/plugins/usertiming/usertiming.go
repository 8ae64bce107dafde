// Package usertiming reports application marks and measures as the
// "usertiming" variable.
package usertiming

import (
	"fmt"
	"sync"
	"time"

	"github.com/dshills/rumbeacon/internal/beacon"
	"github.com/dshills/rumbeacon/internal/config"
	"github.com/dshills/rumbeacon/internal/event"
	"github.com/dshills/rumbeacon/internal/plugin"
)

// Name is the plugin and configuration section name.
const Name = "UserTiming"

// VarUserTiming holds {"mark": {name: ms}, "measure": {name: {"s": ms, "d": ms}}}.
const VarUserTiming = "usertiming"

// DefaultMaxEntries caps pending marks plus measures.
const DefaultMaxEntries = 100

type measure struct {
	start time.Time
	dur   time.Duration
}

// Plugin is the user timing collector. Mark and Measure may be called from
// any goroutine.
type Plugin struct {
	host plugin.Host

	mu       sync.Mutex
	max      int
	marks    map[string]time.Time
	measures map[string]measure
}

// New creates the plugin and subscribes it to host.
func New(host plugin.Host) *Plugin {
	p := &Plugin{host: host, max: DefaultMaxEntries}
	p.reset()
	_, _ = host.Subscribe(event.BeforeBeacon, p.onBeforeBeacon, event.WithScope(p))
	return p
}

// Name implements plugin.Plugin.
func (p *Plugin) Name() string { return Name }

// Init reads maxEntries.
func (p *Plugin) Init(cfg config.Section) error {
	n := cfg.Int("maxEntries", DefaultMaxEntries)
	if n <= 0 {
		return fmt.Errorf("usertiming: maxEntries must be positive, got %d", n)
	}
	p.mu.Lock()
	p.max = n
	p.mu.Unlock()
	return nil
}

// IsComplete implements plugin.Plugin.
func (p *Plugin) IsComplete(beacon.Reader) bool { return true }

// Mark records a named point in time. A later mark with the same name
// replaces it.
func (p *Plugin) Mark(name string, at time.Time) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if _, ok := p.marks[name]; !ok && p.full() {
		return
	}
	p.marks[name] = at
}

// Measure records a named span. Spans ending before they start are
// ignored.
func (p *Plugin) Measure(name string, start, end time.Time) {
	if end.Before(start) {
		return
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if _, ok := p.measures[name]; !ok && p.full() {
		return
	}
	p.measures[name] = measure{start: start, dur: end.Sub(start)}
}

func (p *Plugin) full() bool {
	return len(p.marks)+len(p.measures) >= p.max
}

func (p *Plugin) reset() {
	p.marks = make(map[string]time.Time)
	p.measures = make(map[string]measure)
}

func (p *Plugin) onBeforeBeacon(e event.Event) error {
	vars, ok := e.Data.(*beacon.Vars)
	if !ok || vars.Has(beacon.VarEarly) {
		return nil
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if len(p.marks)+len(p.measures) == 0 {
		return nil
	}

	origin := time.UnixMilli(0)
	if nav := p.host.Navigation(); nav.Valid() {
		origin = nav.NavigationStart
	}
	out := make(map[string]any, 2)
	if len(p.marks) > 0 {
		marks := make(map[string]any, len(p.marks))
		for name, at := range p.marks {
			marks[name] = at.Sub(origin).Milliseconds()
		}
		out["mark"] = marks
	}
	if len(p.measures) > 0 {
		measures := make(map[string]any, len(p.measures))
		for name, m := range p.measures {
			measures[name] = map[string]any{
				"s": m.start.Sub(origin).Milliseconds(),
				"d": m.dur.Milliseconds(),
			}
		}
		out["measure"] = measures
	}
	vars.Add(VarUserTiming, out, true)
	p.reset()
	return nil
}
