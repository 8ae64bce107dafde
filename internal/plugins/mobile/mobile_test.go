package mobile

import (
	"testing"
	"time"

	"github.com/dshills/rumbeacon/internal/config"
	"github.com/dshills/rumbeacon/internal/plugin/plugintest"
)

func TestConnectionVars(t *testing.T) {
	tests := []struct {
		name string
		conn Connection
		want map[string]any
	}{
		{"unknown", Connection{}, map[string]any{}},
		{
			"full",
			Connection{Type: "wifi", EffectiveType: "4g", Downlink: 9.5, RTT: 50 * time.Millisecond, SaveData: true},
			map[string]any{VarType: "wifi", VarEffectiveType: "4g", VarDownlink: 9.5, VarRTT: int64(50), VarSaveData: 1},
		},
		{"rtt only", Connection{RTT: 120 * time.Millisecond}, map[string]any{VarRTT: int64(120)}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := plugintest.New()
			p := New(h)
			p.SetConnection(tt.conn)
			h.SendBeacon()

			snap := h.Last()
			if snap.Len() != len(tt.want) {
				t.Errorf("beacon has %d vars, want %d", snap.Len(), len(tt.want))
			}
			for name, want := range tt.want {
				if got, _ := snap.Get(name); got != want {
					t.Errorf("%s = %v, want %v", name, got, want)
				}
			}
		})
	}
}

func TestInitFromConfig(t *testing.T) {
	h := plugintest.New()
	p := New(h)
	p.SetConnection(Connection{Type: "cellular"})
	cfg := config.NewSection(Name, map[string]any{
		"type":          "wifi",
		"effectiveType": "3g",
		"rtt":           "300ms",
	})
	if err := p.Init(cfg); err != nil {
		t.Fatal(err)
	}
	got := p.Connection()
	want := Connection{Type: "cellular", EffectiveType: "3g", RTT: 300 * time.Millisecond}
	if got != want {
		t.Errorf("Connection() = %+v, want %+v", got, want)
	}
}
