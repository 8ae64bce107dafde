// Package memory reports Go runtime memory statistics on every beacon.
package memory

import (
	"runtime"

	"github.com/dshills/rumbeacon/internal/beacon"
	"github.com/dshills/rumbeacon/internal/config"
	"github.com/dshills/rumbeacon/internal/event"
	"github.com/dshills/rumbeacon/internal/plugin"
)

// Name is the plugin and configuration section name.
const Name = "Memory"

// Beacon variables.
const (
	VarHeap       = "mem.heap"
	VarTotal      = "mem.total"
	VarGC         = "mem.gc"
	VarGoroutines = "mem.gr"
)

// Stats is one memory sample.
type Stats struct {
	HeapAlloc  uint64
	Sys        uint64
	NumGC      uint32
	Goroutines int
}

// ReadRuntime samples the Go runtime.
func ReadRuntime() Stats {
	var ms runtime.MemStats
	runtime.ReadMemStats(&ms)
	return Stats{
		HeapAlloc:  ms.HeapAlloc,
		Sys:        ms.Sys,
		NumGC:      ms.NumGC,
		Goroutines: runtime.NumGoroutine(),
	}
}

// Plugin is the memory collector.
type Plugin struct {
	read    func() Stats
	enabled bool
}

// Option configures the plugin.
type Option func(*Plugin)

// WithReader replaces the runtime sampler.
func WithReader(fn func() Stats) Option {
	return func(p *Plugin) { p.read = fn }
}

// New creates the plugin and subscribes it to host.
func New(host plugin.Host, opts ...Option) *Plugin {
	p := &Plugin{read: ReadRuntime, enabled: true}
	for _, opt := range opts {
		opt(p)
	}
	_, _ = host.Subscribe(event.BeforeBeacon, p.onBeforeBeacon, event.WithScope(p))
	return p
}

// Name implements plugin.Plugin.
func (p *Plugin) Name() string { return Name }

// Init implements plugin.Plugin.
func (p *Plugin) Init(config.Section) error { return nil }

// IsComplete implements plugin.Plugin.
func (p *Plugin) IsComplete(beacon.Reader) bool { return true }

// Enable implements plugin.Enabler.
func (p *Plugin) Enable() { p.enabled = true }

// Disable implements plugin.Disabler.
func (p *Plugin) Disable() { p.enabled = false }

func (p *Plugin) onBeforeBeacon(e event.Event) error {
	vars, ok := e.Data.(*beacon.Vars)
	if !ok || !p.enabled {
		return nil
	}
	s := p.read()
	vars.Add(VarHeap, s.HeapAlloc, true)
	vars.Add(VarTotal, s.Sys, true)
	vars.Add(VarGC, s.NumGC, true)
	vars.Add(VarGoroutines, s.Goroutines, true)
	return nil
}
