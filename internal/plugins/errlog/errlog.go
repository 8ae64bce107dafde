// Package errlog collects reported application errors and sends them,
// de-duplicated, as the "err" beacon variable.
package errlog

import (
	"errors"
	"fmt"
	"time"

	"github.com/dshills/rumbeacon/internal/beacon"
	"github.com/dshills/rumbeacon/internal/config"
	"github.com/dshills/rumbeacon/internal/event"
	"github.com/dshills/rumbeacon/internal/plugin"
	"github.com/dshills/rumbeacon/internal/runloop"
)

// Name is the plugin and configuration section name.
const Name = "Errors"

// Beacon variables.
const (
	VarErrors = "err"
	Initiator = "error"
)

// Defaults for the configuration keys.
const (
	DefaultMaxErrors    = 10
	DefaultSendInterval = time.Second
)

// Record is one distinct error.
type Record struct {
	Message string
	Type    string
	Count   int
	First   int64
}

// Plugin is the error collector.
type Plugin struct {
	host plugin.Host

	maxErrors       int
	sendAfterOnload bool
	interval        time.Duration

	pending []*Record
	index   map[string]*Record
	total   int
	timer   runloop.Timer
}

// New creates the plugin and subscribes it to host.
func New(host plugin.Host) *Plugin {
	p := &Plugin{
		host:      host,
		maxErrors: DefaultMaxErrors,
		interval:  DefaultSendInterval,
		index:     make(map[string]*Record),
	}
	scope := event.WithScope(p)
	_, _ = host.Subscribe(event.Error, p.onError, scope)
	_, _ = host.Subscribe(event.BeforeBeacon, p.onBeforeBeacon, scope)
	return p
}

// Name implements plugin.Plugin.
func (p *Plugin) Name() string { return Name }

// Init reads maxErrors, sendAfterOnload and sendInterval.
func (p *Plugin) Init(cfg config.Section) error {
	p.maxErrors = cfg.Int("maxErrors", DefaultMaxErrors)
	p.sendAfterOnload = cfg.Bool("sendAfterOnload", false)
	p.interval = cfg.Duration("sendInterval", DefaultSendInterval)
	if p.maxErrors <= 0 {
		return fmt.Errorf("errors: maxErrors must be positive, got %d", p.maxErrors)
	}
	return nil
}

// IsComplete implements plugin.Plugin.
func (p *Plugin) IsComplete(beacon.Reader) bool { return true }

// Pending returns the errors waiting for a beacon.
func (p *Plugin) Pending() []Record {
	out := make([]Record, len(p.pending))
	for i, r := range p.pending {
		out[i] = *r
	}
	return out
}

// Total returns the number of errors seen, including duplicates and those
// over the limit.
func (p *Plugin) Total() int { return p.total }

func (p *Plugin) onError(e event.Event) error {
	err, ok := e.Data.(error)
	if !ok || err == nil {
		return nil
	}
	p.total++

	msg := err.Error()
	if r, ok := p.index[msg]; ok {
		r.Count++
		return nil
	}
	if len(p.pending) >= p.maxErrors {
		return nil
	}
	r := &Record{Message: msg, Type: typeOf(err), Count: 1, First: p.host.Now().UnixMilli()}
	p.index[msg] = r
	p.pending = append(p.pending, r)

	if p.sendAfterOnload && p.host.PageLoadBeaconSent() && p.timer == nil {
		p.timer = p.host.AfterFunc(p.interval, p.send)
	}
	return nil
}

func (p *Plugin) send() {
	p.timer = nil
	if len(p.pending) == 0 {
		return
	}
	p.host.Vars().Add(beacon.VarInitiator, Initiator, true)
	p.host.SendBeacon()
}

func (p *Plugin) onBeforeBeacon(e event.Event) error {
	if len(p.pending) == 0 {
		return nil
	}
	vars, ok := e.Data.(*beacon.Vars)
	if !ok || vars.Has(beacon.VarEarly) {
		return nil
	}
	list := make([]map[string]any, 0, len(p.pending))
	for _, r := range p.pending {
		m := map[string]any{"m": r.Message, "n": r.Count, "f": r.First}
		if r.Type != "" {
			m["t"] = r.Type
		}
		list = append(list, m)
	}
	vars.Add(VarErrors, list, true)
	p.pending = nil
	p.index = make(map[string]*Record)
	return nil
}

// typeOf names the outermost wrapped error type that is not a plain
// fmt wrapper.
func typeOf(err error) string {
	for e := err; e != nil; e = errors.Unwrap(e) {
		t := fmt.Sprintf("%T", e)
		if t != "*fmt.wrapError" && t != "*errors.errorString" && t != "*fmt.wrapErrors" {
			return t
		}
	}
	return ""
}
