package agent

import (
	"time"

	"go.uber.org/zap"

	"github.com/dshills/rumbeacon/internal/beacon"
	"github.com/dshills/rumbeacon/internal/event"
	"github.com/dshills/rumbeacon/internal/plugin"
	"github.com/dshills/rumbeacon/internal/runloop"
	"github.com/dshills/rumbeacon/internal/timing"
)

// core is the loop-side view of the agent handed to plugins.
type core struct {
	a *Agent
}

var _ plugin.Host = (*core)(nil)

func (c *core) Vars() *beacon.Vars { return c.a.vars }

func (c *core) Subscribe(name string, h event.Handler, opts ...event.SubscriptionOption) (*event.Subscription, error) {
	return c.a.bus.Subscribe(name, h, opts...)
}

func (c *core) FireEvent(name string, data any) { c.a.bus.FireEvent(name, data) }

func (c *core) SendBeacon() { c.a.tx.SendBeacon("") }

func (c *core) BeaconInQueue() bool { return c.a.tx.InQueue() }

func (c *core) ReadyToSend() bool { return c.a.registry.ReadyToSend() }

func (c *core) PageLoadBeaconSent() bool { return c.a.plbSent }

func (c *core) Now() time.Time { return c.a.loop.Now() }

func (c *core) AfterFunc(d time.Duration, fn func()) runloop.Timer {
	return c.a.loop.AfterFunc(d, fn)
}

func (c *core) Navigation() timing.Navigation { return c.a.nav }

func (c *core) ReportError(err error) { c.a.reportError(err) }

func (c *core) Logger() *zap.Logger { return c.a.logger }
