package agent

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/dshills/rumbeacon/internal/beacon"
	"github.com/dshills/rumbeacon/internal/event"
	"github.com/dshills/rumbeacon/internal/mutation"
	"github.com/dshills/rumbeacon/internal/spa"
)

// RetryDelay is how long a beacon waits for plugins that are not ready.
const RetryDelay = time.Second

// Variables and initiators set by the core.
const (
	VarInternalErrors = "errors"
	VarCustomTimer    = "t_other"
	InitiatorTimer    = "api_custom_timer"
)

// EarlyBeaconer is implemented by plugins that send an early beacon for SPA
// navigations that have settled once.
type EarlyBeaconer interface {
	EarlyBeacon(res *mutation.Resource)
}

func (a *Agent) markPageReady(t time.Time) {
	if a.pageReady {
		return
	}
	a.pageReady = true
	a.spa.PageReady(t)
	a.bus.FireEvent(event.PageReady, t)
}

func (a *Agent) reportError(err error) {
	if err == nil {
		return
	}
	if errors.Is(err, ErrCrossOrigin) {
		a.logger.Debug("cross-origin error dropped")
		return
	}
	a.bus.FireEvent(event.Error, err)
}

// onBeacon fires page_load_beacon after the first full beacon that is not
// for an XHR or soft navigation.
func (a *Agent) onBeacon(e event.Event) error {
	if a.plbSent {
		return nil
	}
	snap, ok := e.Data.(beacon.Snapshot)
	if !ok || snap.Has(beacon.VarEarly) {
		return nil
	}
	if v, ok := snap.Get(beacon.VarInitiator); ok {
		if s, _ := v.(string); s != "" && s != spa.NavHard {
			return nil
		}
	}
	a.plbSent = true
	a.bus.FireEvent(event.PageLoadBeacon, snap)
	return nil
}

// eventDone receives events completed by the mutation handler.
func (a *Agent) eventDone(ev *mutation.Event) {
	a.responseEnd(ev.Resource)
}

func (a *Agent) earlyBeacon(ev *mutation.Event) {
	for _, name := range a.registry.Names() {
		state, err := a.registry.State(name)
		if err != nil || !state.Enabled() {
			continue
		}
		p, _ := a.registry.Get(name)
		if eb, ok := p.(EarlyBeaconer); ok {
			eb.EarlyBeacon(ev.Resource)
		}
	}
}

// responseEnd hands a finished resource to the plugins through xhr_load.
// Resources finishing before the page load beacon wait for it, and a
// queued beacon is sent first.
func (a *Agent) responseEnd(res *mutation.Resource) {
	if res == nil {
		return
	}
	if !a.plbSent && !res.Type.IsSPA() {
		a.logger.Debug("resource waits for page load beacon", zap.String("url", res.URL))
		a.bus.MustSubscribe(event.PageLoadBeacon, a.deferredResponse, event.WithData(res), event.WithOnce())
		return
	}
	if a.tx.InQueue() {
		a.bus.MustSubscribe(event.Beacon, a.deferredResponse, event.WithData(res), event.WithOnce())
		return
	}
	if !a.registry.ReadyToSend() {
		a.loop.AfterFunc(RetryDelay, func() { a.responseEnd(res) })
		return
	}
	a.bus.FireEvent(event.XHRLoad, res)
}

func (a *Agent) deferredResponse(e event.Event) error {
	res, ok := e.CallbackData.(*mutation.Resource)
	if !ok {
		return fmt.Errorf("unexpected callback data %T", e.CallbackData)
	}
	a.responseEnd(res)
	return nil
}

func (a *Agent) sendTimer(name string, d time.Duration) {
	if !a.registry.ReadyToSend() || a.tx.InQueue() {
		a.loop.AfterFunc(RetryDelay, func() { a.sendTimer(name, d) })
		return
	}
	a.vars.Add(VarCustomTimer, fmt.Sprintf("%s|%d", name, d.Milliseconds()), true)
	a.vars.Add(beacon.VarInitiator, InitiatorTimer, true)
	a.tx.SendBeacon("")
}

func joinErrors(errs []string) string {
	return strings.Join(errs, "\n")
}
