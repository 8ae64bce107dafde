// Package mobile reports network connection information as mob.* beacon
// variables.
package mobile

import (
	"sync"
	"time"

	"github.com/dshills/rumbeacon/internal/beacon"
	"github.com/dshills/rumbeacon/internal/config"
	"github.com/dshills/rumbeacon/internal/event"
	"github.com/dshills/rumbeacon/internal/plugin"
)

// Name is the plugin and configuration section name.
const Name = "Mobile"

// Beacon variables.
const (
	VarType          = "mob.ct"
	VarEffectiveType = "mob.etype"
	VarDownlink      = "mob.dl"
	VarRTT           = "mob.rtt"
	VarSaveData      = "mob.sd"
)

// Connection describes the network the host is on. Zero fields are
// unknown and not reported.
type Connection struct {
	Type          string
	EffectiveType string
	Downlink      float64 // Mbit/s
	RTT           time.Duration
	SaveData      bool
}

// Plugin is the connection collector. SetConnection may be called from any
// goroutine.
type Plugin struct {
	mu   sync.Mutex
	conn Connection
}

// New creates the plugin and subscribes it to host.
func New(host plugin.Host) *Plugin {
	p := &Plugin{}
	_, _ = host.Subscribe(event.BeforeBeacon, p.onBeforeBeacon, event.WithScope(p))
	return p
}

// Name implements plugin.Plugin.
func (p *Plugin) Name() string { return Name }

// Init seeds the connection from type, effectiveType, downlink, rtt and
// saveData. Values set by SetConnection take precedence.
func (p *Plugin) Init(cfg config.Section) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.conn.Type == "" {
		p.conn.Type = cfg.String("type", "")
	}
	if p.conn.EffectiveType == "" {
		p.conn.EffectiveType = cfg.String("effectiveType", "")
	}
	if p.conn.Downlink == 0 {
		p.conn.Downlink = cfg.Float("downlink", 0)
	}
	if p.conn.RTT == 0 {
		p.conn.RTT = cfg.Duration("rtt", 0)
	}
	p.conn.SaveData = p.conn.SaveData || cfg.Bool("saveData", false)
	return nil
}

// IsComplete implements plugin.Plugin.
func (p *Plugin) IsComplete(beacon.Reader) bool { return true }

// SetConnection replaces the connection information.
func (p *Plugin) SetConnection(c Connection) {
	p.mu.Lock()
	p.conn = c
	p.mu.Unlock()
}

// Connection returns the current connection information.
func (p *Plugin) Connection() Connection {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.conn
}

func (p *Plugin) onBeforeBeacon(e event.Event) error {
	vars, ok := e.Data.(*beacon.Vars)
	if !ok {
		return nil
	}
	c := p.Connection()
	if c.Type != "" {
		vars.Add(VarType, c.Type, true)
	}
	if c.EffectiveType != "" {
		vars.Add(VarEffectiveType, c.EffectiveType, true)
	}
	if c.Downlink > 0 {
		vars.Add(VarDownlink, c.Downlink, true)
	}
	if c.RTT > 0 {
		vars.Add(VarRTT, c.RTT.Milliseconds(), true)
	}
	if c.SaveData {
		vars.Add(VarSaveData, 1, true)
	}
	return nil
}
