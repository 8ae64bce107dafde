package plugin

import (
	"time"

	"go.uber.org/zap"

	"github.com/dshills/rumbeacon/internal/beacon"
	"github.com/dshills/rumbeacon/internal/event"
	"github.com/dshills/rumbeacon/internal/runloop"
	"github.com/dshills/rumbeacon/internal/timing"
)

// Host is the agent core as seen by plugins. Every method must be called
// from the run loop.
type Host interface {
	Vars() *beacon.Vars
	Subscribe(name string, h event.Handler, opts ...event.SubscriptionOption) (*event.Subscription, error)
	FireEvent(name string, data any)

	// SendBeacon requests a beacon; see beacon.Transmitter.SendBeacon.
	SendBeacon()
	BeaconInQueue() bool
	ReadyToSend() bool
	PageLoadBeaconSent() bool

	Now() time.Time
	AfterFunc(d time.Duration, fn func()) runloop.Timer
	Navigation() timing.Navigation
	ReportError(err error)
	Logger() *zap.Logger
}
