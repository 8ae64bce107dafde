// Package navtiming adds the navigation timing of the hard navigation to
// the page load beacon.
package navtiming

import (
	"github.com/dshills/rumbeacon/internal/beacon"
	"github.com/dshills/rumbeacon/internal/config"
	"github.com/dshills/rumbeacon/internal/event"
	"github.com/dshills/rumbeacon/internal/plugin"
)

// Name is the plugin and configuration section name.
const Name = "NavigationTiming"

// Variables besides the nt_* timestamps.
const (
	VarType          = "nt_nav_type"
	VarRedirectCount = "nt_red_cnt"
)

// Plugin is the navigation timing collector.
type Plugin struct {
	host     plugin.Host
	complete bool
}

// New creates the plugin and subscribes it to host.
func New(host plugin.Host) *Plugin {
	p := &Plugin{host: host}
	_, _ = host.Subscribe(event.PageReady, p.onPageReady, event.WithScope(p))
	return p
}

// Name implements plugin.Plugin.
func (p *Plugin) Name() string { return Name }

// Init implements plugin.Plugin.
func (p *Plugin) Init(config.Section) error { return nil }

// IsComplete implements plugin.Plugin.
func (p *Plugin) IsComplete(beacon.Reader) bool { return p.complete }

func (p *Plugin) onPageReady(event.Event) error {
	if p.complete {
		return nil
	}
	p.complete = true

	nav := p.host.Navigation()
	if !nav.Valid() {
		return nil
	}
	vars := p.host.Vars()
	for name, ms := range nav.Marks() {
		vars.Add(name, ms, true)
	}
	if nav.Type != "" {
		vars.Add(VarType, nav.Type, true)
	}
	vars.Add(VarRedirectCount, nav.RedirectCount, true)
	return nil
}
