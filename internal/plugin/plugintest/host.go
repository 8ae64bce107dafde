// Package plugintest provides a plugin.Host for plugin tests.
package plugintest

import (
	"time"

	"go.uber.org/zap"

	"github.com/dshills/rumbeacon/internal/beacon"
	"github.com/dshills/rumbeacon/internal/event"
	"github.com/dshills/rumbeacon/internal/plugin"
	"github.com/dshills/rumbeacon/internal/runloop"
	"github.com/dshills/rumbeacon/internal/timing"
)

// Start is the fake clock's initial time.
var Start = time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)

// Host is a plugin.Host backed by a real bus and variable store on a test
// loop. SendBeacon assembles the beacon synchronously.
type Host struct {
	Loop  *runloop.Loop
	Clock *runloop.FakeClock
	Bus   *event.Bus
	V     *beacon.Vars
	Nav   timing.Navigation

	// Ready is returned by ReadyToSend.
	Ready bool

	// PLBSent is returned by PageLoadBeaconSent.
	PLBSent bool

	Beacons []beacon.Snapshot
	Errors  []error
}

var _ plugin.Host = (*Host)(nil)

// New creates a Host with every core event registered.
func New() *Host {
	loop, clock := runloop.NewTest(Start)
	bus := event.NewBus(event.WithScheduler(loop.Post))
	for _, name := range event.CoreEvents {
		bus.RegisterEvent(name)
	}
	h := &Host{Loop: loop, Clock: clock, Bus: bus, V: beacon.NewVars(), Ready: true}
	return h
}

// Last returns the most recent beacon.
func (h *Host) Last() beacon.Snapshot {
	if len(h.Beacons) == 0 {
		return beacon.Snapshot{}
	}
	return h.Beacons[len(h.Beacons)-1]
}

func (h *Host) Vars() *beacon.Vars { return h.V }

func (h *Host) Subscribe(name string, fn event.Handler, opts ...event.SubscriptionOption) (*event.Subscription, error) {
	return h.Bus.Subscribe(name, fn, opts...)
}

func (h *Host) FireEvent(name string, data any) { h.Bus.FireEvent(name, data) }

func (h *Host) SendBeacon() {
	h.Bus.FireEvent(event.BeforeBeacon, h.V)
	snap := h.V.Snapshot()
	h.Beacons = append(h.Beacons, snap)
	if snap.Has(beacon.VarEarly) {
		h.V.Remove(beacon.VarEarly)
	} else {
		h.V.ClearSingleBeacon()
	}
	h.Bus.FireEvent(event.Beacon, snap)
}

func (h *Host) BeaconInQueue() bool      { return false }
func (h *Host) ReadyToSend() bool        { return h.Ready }
func (h *Host) PageLoadBeaconSent() bool { return h.PLBSent }
func (h *Host) Now() time.Time           { return h.Loop.Now() }

func (h *Host) AfterFunc(d time.Duration, fn func()) runloop.Timer {
	return h.Loop.AfterFunc(d, fn)
}

func (h *Host) Navigation() timing.Navigation { return h.Nav }
func (h *Host) ReportError(err error)         { h.Errors = append(h.Errors, err) }
func (h *Host) Logger() *zap.Logger           { return zap.NewNop() }
