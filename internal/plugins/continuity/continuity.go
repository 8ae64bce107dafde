// Package continuity measures interaction quality. It counts clicks and
// detects rage clicks: repeated clicks on one element in a short window.
package continuity

import (
	"time"

	"github.com/dshills/rumbeacon/internal/beacon"
	"github.com/dshills/rumbeacon/internal/config"
	"github.com/dshills/rumbeacon/internal/dom"
	"github.com/dshills/rumbeacon/internal/event"
	"github.com/dshills/rumbeacon/internal/plugin"
)

// Name is the plugin and configuration section name.
const Name = "Continuity"

// Beacon variables.
const (
	VarClicks     = "c.c"
	VarRageClicks = "c.rc"
)

// Defaults for the configuration keys.
const (
	DefaultRageThreshold = 3
	DefaultRageWindow    = time.Second
)

// RageClick is the payload of rage_click.
type RageClick struct {
	Target *dom.Node
	Clicks int
	At     time.Time
}

// Plugin is the continuity collector.
type Plugin struct {
	host plugin.Host

	threshold int
	window    time.Duration

	clicks     int
	rageClicks int

	target *dom.Node
	burst  []time.Time
}

// New creates the plugin and subscribes it to host.
func New(host plugin.Host) *Plugin {
	p := &Plugin{host: host, threshold: DefaultRageThreshold, window: DefaultRageWindow}
	scope := event.WithScope(p)
	_, _ = host.Subscribe(event.Click, p.onClick, scope)
	_, _ = host.Subscribe(event.BeforeBeacon, p.onBeforeBeacon, scope)
	return p
}

// Name implements plugin.Plugin.
func (p *Plugin) Name() string { return Name }

// Init reads rageClickThreshold and rageClickWindow.
func (p *Plugin) Init(cfg config.Section) error {
	p.threshold = cfg.Int("rageClickThreshold", DefaultRageThreshold)
	if p.threshold < 2 {
		p.threshold = DefaultRageThreshold
	}
	p.window = cfg.Duration("rageClickWindow", DefaultRageWindow)
	return nil
}

// IsComplete implements plugin.Plugin.
func (p *Plugin) IsComplete(beacon.Reader) bool { return true }

// RageClicks returns the number of rage clicks detected.
func (p *Plugin) RageClicks() int { return p.rageClicks }

func (p *Plugin) onClick(e event.Event) error {
	node, _ := e.Data.(*dom.Node)
	now := p.host.Now()
	p.clicks++

	if node != p.target {
		p.target = node
		p.burst = p.burst[:0]
	}
	cut := 0
	for cut < len(p.burst) && now.Sub(p.burst[cut]) > p.window {
		cut++
	}
	p.burst = append(p.burst[cut:], now)

	if node == nil || len(p.burst) < p.threshold {
		return nil
	}
	p.rageClicks++
	n := len(p.burst)
	p.burst = p.burst[:0]
	p.host.FireEvent(event.RageClick, RageClick{Target: node, Clicks: n, At: now})
	return nil
}

func (p *Plugin) onBeforeBeacon(e event.Event) error {
	vars, ok := e.Data.(*beacon.Vars)
	if !ok {
		return nil
	}
	if p.clicks > 0 {
		vars.Add(VarClicks, p.clicks, false)
	}
	if p.rageClicks > 0 {
		vars.Add(VarRageClicks, p.rageClicks, false)
	}
	return nil
}
