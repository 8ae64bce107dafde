// Package rt implements the round-trip timer: the page load time and the
// timers of every tracked XHR or SPA navigation.
package rt

import (
	"time"

	"github.com/dshills/rumbeacon/internal/beacon"
	"github.com/dshills/rumbeacon/internal/config"
	"github.com/dshills/rumbeacon/internal/event"
	"github.com/dshills/rumbeacon/internal/mutation"
	"github.com/dshills/rumbeacon/internal/plugin"
	"github.com/dshills/rumbeacon/internal/spa"
)

// Name is the plugin and configuration section name.
const Name = "RT"

// Beacon variables.
const (
	VarDone      = "t_done"
	VarResp      = "t_resp"
	VarPage      = "t_page"
	VarStartType = "rt.start"
	VarStart     = "rt.tstart"
	VarEnd       = "rt.end"
	VarQuit      = "rt.quit"
	VarAbandon   = "rt.abld"
	VarMethod    = "http.method"
	VarStatus    = "http.status"
)

// Values of rt.start.
const (
	StartNavigation = "navigation"
	StartManual     = "manual"
	StartNone       = "none"
)

// Plugin is the round-trip timer.
type Plugin struct {
	host plugin.Host

	start     time.Time
	complete  bool
	pageReady bool
	hardSPA   bool
	quitVar   bool
}

// New creates the plugin and subscribes it to host.
func New(host plugin.Host) *Plugin {
	p := &Plugin{host: host, start: host.Now(), quitVar: true}
	scope := event.WithScope(p)
	_, _ = host.Subscribe(event.PageReady, p.onPageReady, scope)
	_, _ = host.Subscribe(event.XHRLoad, p.onXHRLoad, scope)
	_, _ = host.Subscribe(event.SPAInit, p.onSPAInit, scope)
	_, _ = host.Subscribe(event.PageUnload, p.onPageUnload, scope)
	return p
}

// Name implements plugin.Plugin.
func (p *Plugin) Name() string { return Name }

// Init implements plugin.Plugin.
func (p *Plugin) Init(cfg config.Section) error {
	p.quitVar = cfg.Bool("quitOnUnload", true)
	return nil
}

// IsComplete holds every beacon until the page load, or the first tracked
// resource, has been timed.
func (p *Plugin) IsComplete(beacon.Reader) bool { return p.complete }

func (p *Plugin) onSPAInit(e event.Event) error {
	if init, ok := e.Data.(spa.Init); ok && init.NavType == spa.NavHard {
		p.hardSPA = true
	}
	return nil
}

func (p *Plugin) onPageReady(e event.Event) error {
	if p.pageReady {
		return nil
	}
	p.pageReady = true
	end, ok := e.Data.(time.Time)
	if !ok || end.IsZero() {
		end = p.host.Now()
	}

	// The hard SPA navigation beacon carries the page load.
	if p.hardSPA {
		p.complete = true
		return nil
	}

	vars := p.host.Vars()
	start, kind := p.start, StartNone
	nav := p.host.Navigation()
	if nav.Valid() {
		start, kind = nav.NavigationStart, StartNavigation
		if back := nav.BackEnd(); back > 0 {
			vars.Add(VarResp, back.Milliseconds(), true)
			vars.Add(VarPage, (end.Sub(start) - back).Milliseconds(), true)
		}
	}
	vars.Add(VarDone, end.Sub(start).Milliseconds(), true)
	vars.Add(VarStartType, kind, true)
	vars.Add(VarStart, start.UnixMilli(), true)
	vars.Add(VarEnd, end.UnixMilli(), true)

	p.complete = true
	p.host.SendBeacon()
	return nil
}

func (p *Plugin) onXHRLoad(e event.Event) error {
	res, ok := e.Data.(*mutation.Resource)
	if !ok || res == nil {
		return nil
	}
	vars := p.host.Vars()

	initiator := res.NavType
	if initiator == "" {
		initiator = string(res.Type)
	}
	vars.Add(beacon.VarInitiator, initiator, true)
	if res.URL != "" {
		vars.Add(beacon.VarURL, res.URL, true)
	}

	start, end := res.Start, res.LoadEnd
	if end.IsZero() {
		end = res.ResponseEnd
	}
	vars.Add(VarStartType, StartManual, true)
	vars.Add(VarStart, start.UnixMilli(), true)
	vars.Add(VarEnd, end.UnixMilli(), true)

	switch d, ok := res.Timers[VarDone]; {
	case ok:
		vars.Add(VarDone, d.Milliseconds(), true)
	case res.Type.IsSPA():
		// SPA timers were discarded as inconsistent.
	default:
		vars.Add(VarDone, end.Sub(start).Milliseconds(), true)
	}
	for name, d := range res.Timers {
		if name != VarDone {
			vars.Add(name, d.Milliseconds(), true)
		}
	}
	vars.AddMap(res.Vars, true)

	if res.Method != "" && res.Method != "GET" {
		vars.Add(VarMethod, res.Method, true)
	}
	if res.Status != 0 && res.Status != 200 {
		vars.Add(VarStatus, res.Status, true)
	}

	p.complete = true
	p.host.SendBeacon()
	return nil
}

func (p *Plugin) onPageUnload(event.Event) error {
	if !p.quitVar {
		return nil
	}
	vars := p.host.Vars()
	vars.Add(VarQuit, "", true)
	if !p.pageReady {
		vars.Add(VarAbandon, "", true)
		vars.Add(VarStart, p.start.UnixMilli(), true)
		vars.Add(VarEnd, p.host.Now().UnixMilli(), true)
	}
	p.complete = true
	p.host.SendBeacon()
	return nil
}
