package usertiming

import (
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"

	"github.com/dshills/rumbeacon/internal/config"
	"github.com/dshills/rumbeacon/internal/plugin/plugintest"
	"github.com/dshills/rumbeacon/internal/timing"
)

func TestMarksAndMeasures(t *testing.T) {
	h := plugintest.New()
	start := plugintest.Start
	h.Nav = timing.Navigation{NavigationStart: start}
	p := New(h)

	p.Mark("hero", start.Add(400*time.Millisecond))
	p.Measure("checkout", start.Add(time.Second), start.Add(1300*time.Millisecond))
	p.Measure("backwards", start.Add(time.Second), start)
	h.SendBeacon()

	got, _ := h.Last().Get(VarUserTiming)
	want := map[string]any{
		"mark": map[string]any{"hero": int64(400)},
		"measure": map[string]any{
			"checkout": map[string]any{"s": int64(1000), "d": int64(300)},
		},
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("usertiming mismatch (-want +got):\n%s", diff)
	}

	h.SendBeacon()
	if h.Last().Has(VarUserTiming) {
		t.Error("entries reported twice")
	}
}

func TestMaxEntries(t *testing.T) {
	h := plugintest.New()
	p := New(h)
	if err := p.Init(config.NewSection(Name, map[string]any{"maxEntries": 2})); err != nil {
		t.Fatal(err)
	}
	at := plugintest.Start
	p.Mark("a", at)
	p.Mark("b", at)
	p.Mark("c", at)
	p.Mark("a", at.Add(time.Millisecond))
	h.SendBeacon()

	got, _ := h.Last().Get(VarUserTiming)
	marks, _ := got.(map[string]any)["mark"].(map[string]any)
	if len(marks) != 2 {
		t.Errorf("marks = %v, want a and b", marks)
	}
	if _, ok := marks["c"]; ok {
		t.Error("mark over the limit was kept")
	}

	if err := p.Init(config.NewSection(Name, map[string]any{"maxEntries": -1})); err == nil {
		t.Error("Init() accepted a negative limit")
	}
}
