package memory

import (
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/dshills/rumbeacon/internal/plugin/plugintest"
)

func TestBeaconCarriesStats(t *testing.T) {
	h := plugintest.New()
	p := New(h, WithReader(func() Stats {
		return Stats{HeapAlloc: 1 << 20, Sys: 8 << 20, NumGC: 3, Goroutines: 7}
	}))

	h.SendBeacon()
	got := map[string]any{}
	for _, name := range []string{VarHeap, VarTotal, VarGC, VarGoroutines} {
		got[name], _ = h.Last().Get(name)
	}
	want := map[string]any{
		VarHeap:       uint64(1 << 20),
		VarTotal:      uint64(8 << 20),
		VarGC:         uint32(3),
		VarGoroutines: 7,
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("vars mismatch (-want +got):\n%s", diff)
	}

	p.Disable()
	h.SendBeacon()
	if h.Last().Has(VarHeap) {
		t.Error("disabled plugin still reports memory")
	}
}

func TestReadRuntime(t *testing.T) {
	s := ReadRuntime()
	if s.Sys == 0 || s.Goroutines == 0 {
		t.Errorf("ReadRuntime() = %+v", s)
	}
}
