package errlog

import (
	"errors"
	"fmt"
	"io/fs"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"

	"github.com/dshills/rumbeacon/internal/beacon"
	"github.com/dshills/rumbeacon/internal/config"
	"github.com/dshills/rumbeacon/internal/event"
	"github.com/dshills/rumbeacon/internal/plugin/plugintest"
)

func TestDedupe(t *testing.T) {
	h := plugintest.New()
	p := New(h)
	if err := p.Init(config.NewSection(Name, map[string]any{"maxErrors": 2})); err != nil {
		t.Fatal(err)
	}

	h.FireEvent(event.Error, errors.New("boom"))
	h.FireEvent(event.Error, errors.New("boom"))
	h.FireEvent(event.Error, &fs.PathError{Op: "open", Path: "/x", Err: fs.ErrNotExist})
	h.FireEvent(event.Error, errors.New("over the limit"))

	want := []Record{
		{Message: "boom", Count: 2, First: plugintest.Start.UnixMilli()},
		{Message: "open /x: file does not exist", Type: "*fs.PathError", Count: 1, First: plugintest.Start.UnixMilli()},
	}
	if diff := cmp.Diff(want, p.Pending()); diff != "" {
		t.Errorf("pending mismatch (-want +got):\n%s", diff)
	}
	if p.Total() != 4 {
		t.Errorf("Total() = %d, want 4", p.Total())
	}
}

func TestAttachedToBeacon(t *testing.T) {
	h := plugintest.New()
	p := New(h)

	h.FireEvent(event.Error, fmt.Errorf("render: %w", errors.New("nil map")))
	h.SendBeacon()

	v, ok := h.Last().Get(VarErrors)
	if !ok {
		t.Fatal("beacon lacks err")
	}
	s, ok := beacon.JSURL(v)
	if !ok || s == "" {
		t.Fatalf("err is not a list: %#v", v)
	}
	if len(p.Pending()) != 0 {
		t.Error("errors still pending after the beacon")
	}

	h.SendBeacon()
	if h.Last().Has(VarErrors) {
		t.Error("errors sent twice")
	}
}

func TestEarlyBeaconKeepsErrors(t *testing.T) {
	h := plugintest.New()
	p := New(h)

	h.FireEvent(event.Error, errors.New("boom"))
	h.V.Add(beacon.VarEarly, 1, false)
	h.SendBeacon()

	if h.Last().Has(VarErrors) {
		t.Error("errors sent on an early beacon")
	}
	if len(p.Pending()) != 1 {
		t.Error("errors dropped by an early beacon")
	}
}

func TestSendAfterOnload(t *testing.T) {
	h := plugintest.New()
	p := New(h)
	if err := p.Init(config.NewSection(Name, map[string]any{"sendAfterOnload": true, "sendInterval": 500})); err != nil {
		t.Fatal(err)
	}
	h.PLBSent = true

	h.FireEvent(event.Error, errors.New("late"))
	h.FireEvent(event.Error, errors.New("later"))
	h.Loop.Advance(499 * time.Millisecond)
	if len(h.Beacons) != 0 {
		t.Fatal("error beacon sent before the interval")
	}

	h.Loop.Advance(time.Millisecond)
	if len(h.Beacons) != 1 {
		t.Fatalf("sent %d beacons, want 1", len(h.Beacons))
	}
	if v, _ := h.Last().Get(beacon.VarInitiator); v != Initiator {
		t.Errorf("initiator = %v, want %q", v, Initiator)
	}
}

func TestInitRejectsBadLimit(t *testing.T) {
	p := New(plugintest.New())
	if err := p.Init(config.NewSection(Name, map[string]any{"maxErrors": 0})); err == nil {
		t.Error("Init accepted maxErrors = 0")
	}
}
