package continuity

import (
	"testing"
	"time"

	"github.com/dshills/rumbeacon/internal/config"
	"github.com/dshills/rumbeacon/internal/dom"
	"github.com/dshills/rumbeacon/internal/event"
	"github.com/dshills/rumbeacon/internal/plugin/plugintest"
)

func TestRageClick(t *testing.T) {
	button := dom.NewElement("button", nil)
	other := dom.NewElement("a", nil)

	tests := []struct {
		name    string
		targets []*dom.Node
		gaps    []time.Duration
		want    int
	}{
		{
			name:    "three fast clicks",
			targets: []*dom.Node{button, button, button},
			gaps:    []time.Duration{0, 200 * time.Millisecond, 200 * time.Millisecond},
			want:    1,
		},
		{
			name:    "slow clicks",
			targets: []*dom.Node{button, button, button},
			gaps:    []time.Duration{0, 600 * time.Millisecond, 600 * time.Millisecond},
			want:    0,
		},
		{
			name:    "different targets",
			targets: []*dom.Node{button, other, button},
			gaps:    []time.Duration{0, 100 * time.Millisecond, 100 * time.Millisecond},
			want:    0,
		},
		{
			name:    "six fast clicks",
			targets: []*dom.Node{button, button, button, button, button, button},
			gaps:    []time.Duration{0, 50 * time.Millisecond, 50 * time.Millisecond, 50 * time.Millisecond, 50 * time.Millisecond, 50 * time.Millisecond},
			want:    2,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := plugintest.New()
			p := New(h)
			if err := p.Init(config.NewSection(Name, nil)); err != nil {
				t.Fatal(err)
			}
			fired := 0
			_, _ = h.Subscribe(event.RageClick, func(e event.Event) error {
				if rc := e.Data.(RageClick); rc.Target != button {
					t.Errorf("rage click target = %v", rc.Target)
				}
				fired++
				return nil
			})

			for i, n := range tt.targets {
				h.Loop.Advance(tt.gaps[i])
				h.FireEvent(event.Click, n)
			}

			if p.RageClicks() != tt.want || fired != tt.want {
				t.Errorf("RageClicks() = %d, fired %d, want %d", p.RageClicks(), fired, tt.want)
			}
		})
	}
}

func TestBeaconVars(t *testing.T) {
	h := plugintest.New()
	New(h)
	n := dom.NewElement("div", nil)
	for i := 0; i < 3; i++ {
		h.FireEvent(event.Click, n)
	}

	h.SendBeacon()
	if v, _ := h.Last().Get(VarClicks); v != 3 {
		t.Errorf("%s = %v, want 3", VarClicks, v)
	}
	if v, _ := h.Last().Get(VarRageClicks); v != 1 {
		t.Errorf("%s = %v, want 1", VarRageClicks, v)
	}
}
