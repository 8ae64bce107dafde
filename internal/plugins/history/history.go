// Package history turns browser history activity into SPA route changes.
//
// Hosts report pushState, replaceState, popstate and hashchange through
// the Plugin methods, which are safe for concurrent use. The first route
// change is the hard navigation; with "auto" enabled it starts at Init so
// the page load is measured as one.
package history

import (
	"sync"

	"github.com/dshills/rumbeacon/internal/beacon"
	"github.com/dshills/rumbeacon/internal/config"
	"github.com/dshills/rumbeacon/internal/plugin"
	"github.com/dshills/rumbeacon/internal/spa"
)

// Name is the plugin and configuration section name.
const Name = "History"

// Route change kinds passed to filters as args.type.
const (
	KindPush    = "pushState"
	KindReplace = "replaceState"
	KindPop     = "popstate"
	KindHash    = "hashchange"
)

// Router receives route changes. *agent.Agent implements it.
type Router interface {
	RouteChange(opts spa.RouteOptions)
}

// Plugin is the history adapter.
type Plugin struct {
	host   plugin.Host
	router Router

	mu             sync.Mutex
	enabled        bool
	auto           bool
	monitorReplace bool
	monitorHash    bool
	started        bool
	last           string
	routes         int
}

// New creates the plugin.
func New(host plugin.Host, router Router) *Plugin {
	return &Plugin{host: host, router: router, enabled: true, auto: true, monitorHash: true}
}

// Name implements plugin.Plugin.
func (p *Plugin) Name() string { return Name }

// Init reads auto, monitorReplaceState and monitorHashChange. With auto
// the hard navigation starts on the first Init.
func (p *Plugin) Init(cfg config.Section) error {
	p.mu.Lock()
	p.auto = cfg.Bool("auto", true)
	p.monitorReplace = cfg.Bool("monitorReplaceState", false)
	p.monitorHash = cfg.Bool("monitorHashChange", true)
	start := p.auto && !p.started && p.enabled
	if start {
		p.started = true
	}
	p.mu.Unlock()

	if start {
		p.host.Logger().Debug("history: starting hard navigation")
		p.router.RouteChange(spa.RouteOptions{Args: map[string]any{"type": "load"}})
	}
	return nil
}

// IsComplete implements plugin.Plugin.
func (p *Plugin) IsComplete(beacon.Reader) bool { return true }

// Enable implements plugin.Enabler.
func (p *Plugin) Enable() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.enabled = true
}

// Disable implements plugin.Disabler.
func (p *Plugin) Disable() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.enabled = false
}

// Routes returns the number of route changes forwarded.
func (p *Plugin) Routes() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.routes
}

// Push reports history.pushState.
func (p *Plugin) Push(url string, state any) { p.route(KindPush, url, state) }

// Replace reports history.replaceState. It is ignored unless
// monitorReplaceState is set.
func (p *Plugin) Replace(url string, state any) {
	p.mu.Lock()
	ok := p.monitorReplace
	p.mu.Unlock()
	if ok {
		p.route(KindReplace, url, state)
	}
}

// PopState reports a back or forward navigation.
func (p *Plugin) PopState(url string, state any) { p.route(KindPop, url, state) }

// HashChange reports a fragment change. It is ignored when
// monitorHashChange is false.
func (p *Plugin) HashChange(url string) {
	p.mu.Lock()
	ok := p.monitorHash
	p.mu.Unlock()
	if ok {
		p.route(KindHash, url, nil)
	}
}

func (p *Plugin) route(kind, url string, state any) {
	p.mu.Lock()
	if !p.enabled || url == "" || url == p.last {
		p.mu.Unlock()
		return
	}
	p.last = url
	p.started = true
	p.routes++
	p.mu.Unlock()

	p.router.RouteChange(spa.RouteOptions{
		URL:  url,
		Args: map[string]any{"type": kind, "url": url, "state": state},
	})
}
