// Package early sends an early beacon for soft navigations that settle
// once but keep loading, so a partial measurement survives an unload.
package early

import (
	"github.com/dshills/rumbeacon/internal/beacon"
	"github.com/dshills/rumbeacon/internal/config"
	"github.com/dshills/rumbeacon/internal/event"
	"github.com/dshills/rumbeacon/internal/mutation"
	"github.com/dshills/rumbeacon/internal/plugin"
)

// Name is the plugin and configuration section name.
const Name = "Early"

// Plugin is the early beacon sender.
type Plugin struct {
	host plugin.Host
	sent int
}

// New creates the plugin.
func New(host plugin.Host) *Plugin {
	return &Plugin{host: host}
}

// Name implements plugin.Plugin.
func (p *Plugin) Name() string { return Name }

// Init implements plugin.Plugin.
func (p *Plugin) Init(config.Section) error { return nil }

// IsComplete implements plugin.Plugin.
func (p *Plugin) IsComplete(beacon.Reader) bool { return true }

// Sent returns the number of early beacons requested.
func (p *Plugin) Sent() int { return p.sent }

// EarlyBeacon sends an early beacon for a soft navigation. Subscribers of
// before_early_beacon may add variables first.
func (p *Plugin) EarlyBeacon(res *mutation.Resource) {
	if res == nil || res.Type != mutation.TypeSPA || !p.host.PageLoadBeaconSent() {
		return
	}
	p.host.FireEvent(event.BeforeEarlyBeacon, res)

	vars := p.host.Vars()
	vars.Add(beacon.VarEarly, 1, false)
	vars.Add(beacon.VarInitiator, res.NavType, true)
	if res.URL != "" {
		vars.Add(beacon.VarURL, res.URL, true)
	}
	p.sent++
	p.host.SendBeacon()
}
