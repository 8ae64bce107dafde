// Package painttiming reports first paint and first contentful paint,
// relative to the navigation start, on the first full beacon after they
// are recorded.
package painttiming

import (
	"sync"
	"time"

	"github.com/dshills/rumbeacon/internal/beacon"
	"github.com/dshills/rumbeacon/internal/config"
	"github.com/dshills/rumbeacon/internal/event"
	"github.com/dshills/rumbeacon/internal/plugin"
)

// Name is the plugin and configuration section name.
const Name = "PaintTiming"

// Paint entry names.
const (
	FirstPaint           = "first-paint"
	FirstContentfulPaint = "first-contentful-paint"
)

var varNames = map[string]string{
	FirstPaint:           "pt.fp",
	FirstContentfulPaint: "pt.fcp",
}

// Plugin is the paint timing collector. Record may be called from any
// goroutine.
type Plugin struct {
	host plugin.Host

	mu     sync.Mutex
	paints map[string]time.Time
	sent   map[string]bool
}

// New creates the plugin and subscribes it to host.
func New(host plugin.Host) *Plugin {
	p := &Plugin{
		host:   host,
		paints: make(map[string]time.Time),
		sent:   make(map[string]bool),
	}
	_, _ = host.Subscribe(event.BeforeBeacon, p.onBeforeBeacon, event.WithScope(p))
	return p
}

// Name implements plugin.Plugin.
func (p *Plugin) Name() string { return Name }

// Init implements plugin.Plugin.
func (p *Plugin) Init(config.Section) error { return nil }

// IsComplete implements plugin.Plugin.
func (p *Plugin) IsComplete(beacon.Reader) bool { return true }

// Record stores a paint entry. Unknown names and repeats are ignored.
func (p *Plugin) Record(name string, at time.Time) {
	if _, ok := varNames[name]; !ok || at.IsZero() {
		return
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if _, ok := p.paints[name]; !ok {
		p.paints[name] = at
	}
}

func (p *Plugin) onBeforeBeacon(e event.Event) error {
	vars, ok := e.Data.(*beacon.Vars)
	if !ok || vars.Has(beacon.VarEarly) {
		return nil
	}
	nav := p.host.Navigation()
	if !nav.Valid() {
		return nil
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	for name, at := range p.paints {
		if p.sent[name] || at.Before(nav.NavigationStart) {
			continue
		}
		vars.Add(varNames[name], at.Sub(nav.NavigationStart).Milliseconds(), true)
		p.sent[name] = true
	}
	return nil
}
