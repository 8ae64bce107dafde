package lua

import (
	"strconv"
	"sync/atomic"
	"time"

	"github.com/dshills/rumbeacon/internal/event"
	"github.com/dshills/rumbeacon/internal/plugin"
)

var subscriptionSeq atomic.Uint64

type pluginHost struct {
	h plugin.Host
}

// AdaptHost exposes a plugin host to scripts.
func AdaptHost(h plugin.Host) Host {
	return &pluginHost{h: h}
}

func (p *pluginHost) AddVar(name string, value any, single bool) {
	p.h.Vars().Add(name, value, single)
}

func (p *pluginHost) RemoveVar(names ...string) {
	p.h.Vars().Remove(names...)
}

func (p *pluginHost) Subscribe(name string, fn func(data any)) error {
	id := "lua:" + strconv.FormatUint(subscriptionSeq.Add(1), 10)
	_, err := p.h.Subscribe(name, func(e event.Event) error {
		fn(e.Data)
		return nil
	}, event.WithID(id))
	return err
}

func (p *pluginHost) SendBeacon() { p.h.SendBeacon() }

func (p *pluginHost) Now() time.Time { return p.h.Now() }
