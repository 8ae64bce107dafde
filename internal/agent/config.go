package agent

import (
	"fmt"

	"go.uber.org/zap"

	"github.com/dshills/rumbeacon/internal/beacon"
	"github.com/dshills/rumbeacon/internal/config"
	"github.com/dshills/rumbeacon/internal/event"
	"github.com/dshills/rumbeacon/internal/plugin/lua"
	"github.com/dshills/rumbeacon/internal/spa"
)

// Keys read from the AutoXHR and SPA sections.
const (
	KeyExcludeFilters = "excludeFilters"
	KeyAlwaysSendXHR  = "alwaysSendXhr"
	KeyMonitorClicks  = "monitorClicks"
	KeyRouteFilter    = "routeFilter"
	KeyWaitFilter     = "routeChangeWaitFilter"
	KeyInitiators     = "initiators"
)

// applyConfig pushes the current configuration into every subsystem,
// initialises plugins and fires config.
func (a *Agent) applyConfig() {
	opts := a.cfg.Options()
	a.opts = opts

	err := a.tx.Configure(beacon.Options{
		URL:              opts.BeaconURL,
		Type:             beacon.Type(opts.BeaconType),
		AuthToken:        opts.BeaconAuthToken,
		WithCredentials:  opts.BeaconWithCredentials,
		DisableNative:    opts.BeaconDisableNative,
		AllowedURLs:      opts.BeaconURLsAllowed,
		StripQueryString: opts.StripQueryString,
		Version:          Version,
		PageID:           a.pageID,
	})
	if err != nil {
		a.internalError(err)
	}

	a.sessions.SetDomain(opts.SiteDomain)
	a.sessions.SetExpiry(opts.SessionExpiry)

	xhr := a.cfg.Section(SectionAutoXHR)
	a.xhr.SetBeaconURL(opts.BeaconURL)
	a.xhr.SetRules(xhr.Strings(KeyExcludeFilters), xhr.Strings(KeyAlwaysSendXHR))
	a.monitorClicks = xhr.Bool(KeyMonitorClicks, false)

	a.applySPA(a.cfg.Section(SectionSPA))

	if err := a.registry.Init(a.cfg); err != nil {
		a.logger.Debug("plugin init failed", zap.Error(err))
	}
	a.bus.FireEvent(event.Config, opts)
}

func (a *Agent) applySPA(sec config.Section) {
	for _, p := range a.filters {
		_ = p.Close()
	}
	a.filters = nil

	route := a.compileFilter(sec.String(KeyRouteFilter, ""), true)
	wait := a.compileFilter(sec.String(KeyWaitFilter, ""), false)
	a.spa.SetFilters(route, wait)
	a.spa.SetInitiators(sec.Strings(KeyInitiators)...)
}

// compileFilter turns a Lua expression into an SPA filter. Evaluation
// errors are reported and yield onError.
func (a *Agent) compileFilter(expr string, onError bool) spa.Filter {
	if expr == "" {
		return nil
	}
	p, err := lua.CompilePredicate(expr)
	if err != nil {
		a.internalError(fmt.Errorf("spa filter: %w", err))
		return nil
	}
	a.filters = append(a.filters, p)
	return func(args map[string]any) bool {
		ok, err := p.Eval(args)
		if err != nil {
			a.internalError(fmt.Errorf("spa filter %q: %w", p.Expr(), err))
			return onError
		}
		return ok
	}
}
