// Package restiming reports the resource timing entries that finished
// since the previous beacon as the "restiming" variable.
package restiming

import (
	"fmt"
	"time"

	"github.com/dshills/rumbeacon/internal/beacon"
	"github.com/dshills/rumbeacon/internal/config"
	"github.com/dshills/rumbeacon/internal/event"
	"github.com/dshills/rumbeacon/internal/plugin"
	"github.com/dshills/rumbeacon/internal/timing"
)

// Name is the plugin and configuration section name.
const Name = "ResourceTiming"

// Beacon variables.
const (
	VarEntries = "restiming"
	VarDropped = "restiming.dropped"
)

// DefaultLimit caps the entries on one beacon.
const DefaultLimit = 150

// Plugin is the resource timing collector.
type Plugin struct {
	host plugin.Host
	buf  *timing.Buffer

	limit      int
	initiators []string
	enabled    bool

	since   time.Time
	dropped int
}

// New creates the plugin reading from buf and subscribes it to host.
func New(host plugin.Host, buf *timing.Buffer) *Plugin {
	p := &Plugin{host: host, buf: buf, limit: DefaultLimit, enabled: true}
	_, _ = host.Subscribe(event.BeforeBeacon, p.onBeforeBeacon, event.WithScope(p))
	return p
}

// Name implements plugin.Plugin.
func (p *Plugin) Name() string { return Name }

// Init reads limit and initiators.
func (p *Plugin) Init(cfg config.Section) error {
	p.limit = cfg.Int("limit", DefaultLimit)
	p.initiators = cfg.Strings("initiators")
	if p.limit <= 0 {
		return fmt.Errorf("restiming: limit must be positive, got %d", p.limit)
	}
	return nil
}

// IsComplete implements plugin.Plugin.
func (p *Plugin) IsComplete(beacon.Reader) bool { return true }

// Enable implements plugin.Enabler.
func (p *Plugin) Enable() { p.enabled = true }

// Disable implements plugin.Disabler.
func (p *Plugin) Disable() { p.enabled = false }

func (p *Plugin) onBeforeBeacon(e event.Event) error {
	vars, ok := e.Data.(*beacon.Vars)
	if !ok || !p.enabled || vars.Has(beacon.VarEarly) {
		return nil
	}
	now := p.host.Now()
	entries := p.buf.Between(p.since, now, p.initiators...)

	origin := p.since
	if nav := p.host.Navigation(); nav.Valid() {
		origin = nav.NavigationStart
	}

	list := make([]map[string]any, 0, len(entries))
	for _, en := range entries {
		if !p.since.IsZero() && !en.ResponseEnd.After(p.since) {
			continue
		}
		if len(list) == p.limit {
			break
		}
		if origin.IsZero() {
			origin = en.StartTime
		}
		m := map[string]any{
			"n": en.Name,
			"i": en.InitiatorType,
			"s": en.StartTime.Sub(origin).Milliseconds(),
			"d": en.Duration().Milliseconds(),
		}
		if en.TransferSize > 0 {
			m["z"] = en.TransferSize
		}
		if en.Status != 0 {
			m["c"] = en.Status
		}
		list = append(list, m)
	}
	p.since = now

	if len(list) > 0 {
		vars.Add(VarEntries, list, true)
	}
	if d := p.buf.Dropped(); d > p.dropped {
		vars.Add(VarDropped, d-p.dropped, true)
		p.dropped = d
	}
	return nil
}
