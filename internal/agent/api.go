package agent

import (
	"time"

	"github.com/dshills/rumbeacon/internal/dom"
	"github.com/dshills/rumbeacon/internal/event"
	"github.com/dshills/rumbeacon/internal/mutation"
	"github.com/dshills/rumbeacon/internal/spa"
	"github.com/dshills/rumbeacon/internal/timing"
)

// Visibility states.
const (
	VisibilityVisible   = "visible"
	VisibilityHidden    = "hidden"
	VisibilityPrerender = "prerender"
)

// Init applies the configuration, initialises plugins and starts the
// session. Configuration changes are applied again as they happen.
func (a *Agent) Init() {
	a.post(func() {
		if a.initialized {
			return
		}
		a.initialized = true
		a.applyConfig()
		a.refreshSession()
		a.cfg.OnChange(func([]string) { a.post(a.applyConfig) })
	})
}

// SetPage sets the page URL and referrer.
func (a *Agent) SetPage(url, referrer string) {
	a.post(func() {
		a.page.url = url
		a.page.referrer = referrer
	})
}

// SetNavigation supplies the navigation timing of the hard navigation.
func (a *Agent) SetNavigation(nav timing.Navigation) {
	a.post(func() { a.nav = nav })
}

// Loaded signals the page load event. It marks the page ready unless the
// agent is configured to wait for an explicit PageReady.
func (a *Agent) Loaded(t time.Time) {
	a.post(func() {
		if !a.opts.Autorun || a.opts.Wait {
			return
		}
		a.markPageReady(t)
	})
}

// PageReady marks the page ready at t.
func (a *Agent) PageReady(t time.Time) {
	a.post(func() { a.markPageReady(t) })
}

// DOMLoaded signals that the document has been parsed.
func (a *Agent) DOMLoaded() {
	a.post(func() { a.bus.FireEvent(event.DOMLoaded, nil) })
}

// VisibilityChanged records the page visibility state.
func (a *Agent) VisibilityChanged(state string) {
	a.post(func() {
		prev := a.page.visibility
		a.page.visibility = state
		a.bus.FireEvent(event.VisibilityChanged, state)
		if prev == VisibilityPrerender && state == VisibilityVisible {
			a.bus.FireEvent(event.PrerenderToVis, a.loop.Now())
		}
	})
}

// PageUnload fires the unload events, sends any queued beacon and stops
// further beacons.
func (a *Agent) PageUnload() {
	a.post(func() {
		if a.unloaded {
			return
		}
		a.bus.FireEvent(event.BeforeUnload, nil)
		a.bus.FireEvent(event.PageUnload, nil)
		a.tx.Flush()
		a.unloaded = true
	})
}

// Click reports a click on node. When click monitoring is enabled it starts
// a pending click event.
func (a *Agent) Click(node *dom.Node) {
	a.post(func() {
		a.bus.FireEvent(event.Click, node)
		if !a.monitorClicks {
			return
		}
		a.handler.AddEvent(&mutation.Resource{
			Type:  mutation.TypeClick,
			Start: a.loop.Now(),
			Index: -1,
		})
	})
}

// FormSubmit reports a form submission.
func (a *Agent) FormSubmit(form *dom.Node) {
	a.post(func() { a.bus.FireEvent(event.FormSubmit, form) })
}

// Mutate runs fn against the document on the loop. Changes are observed
// like any other DOM mutation.
func (a *Agent) Mutate(fn func(doc *dom.Document)) {
	a.post(func() { fn(a.doc) })
}

// Mutations feeds records produced outside the document model.
func (a *Agent) Mutations(records []dom.MutationRecord) {
	a.post(func() { a.handler.Mutations(records) })
}

// RouteChange reports an SPA route change.
func (a *Agent) RouteChange(opts spa.RouteOptions) {
	a.post(func() {
		if a.spa.HardSeen() {
			a.refreshSession()
		}
		if opts.URL != "" {
			a.page.url = opts.URL
		}
		a.spa.RouteChange(opts)
	})
}

// WaitComplete releases a route held back by the wait filter.
func (a *Agent) WaitComplete() {
	a.post(a.spa.WaitComplete)
}

// CancelRoute drops the pending route change.
func (a *Agent) CancelRoute() {
	a.post(a.spa.Cancel)
}

// ReportError reports an application error. Cross-origin errors without
// detail are dropped.
func (a *Agent) ReportError(err error) {
	a.post(func() { a.reportError(err) })
}

// AddVar sets a beacon variable.
func (a *Agent) AddVar(name string, value any, singleBeacon bool) {
	a.post(func() { a.vars.Add(name, value, singleBeacon) })
}

// AddVars sets every entry of vars.
func (a *Agent) AddVars(vars map[string]any, singleBeacon bool) {
	a.post(func() { a.vars.AddMap(vars, singleBeacon) })
}

// RemoveVar removes beacon variables.
func (a *Agent) RemoveVar(names ...string) {
	a.post(func() { a.vars.Remove(names...) })
}

// SetVarPriority moves a variable to the start (-1) or end (1) of the
// beacon.
func (a *Agent) SetVarPriority(name string, pri int) {
	a.post(func() { a.vars.SetPriority(name, pri) })
}

// SendBeacon requests a beacon, optionally to another URL.
func (a *Agent) SendBeacon(url string) {
	a.post(func() { a.tx.SendBeacon(url) })
}

// SendTimer sends a custom timer on its own beacon.
func (a *Agent) SendTimer(name string, d time.Duration) {
	a.post(func() { a.sendTimer(name, d) })
}

// ResponseEnd beacons a completed resource that was tracked outside the
// instrumentation.
func (a *Agent) ResponseEnd(res *mutation.Resource) {
	a.post(func() { a.responseEnd(res) })
}
