package main

import (
	"testing"

	"github.com/dshills/rumbeacon/internal/collector"
)

func TestParseFlags(t *testing.T) {
	tests := []struct {
		name string
		args []string
		env  map[string]string
		want func(options) bool
	}{
		{
			name: "defaults",
			want: func(o options) bool {
				return o.addr == "127.0.0.1:8123" && o.burst == collector.DefaultBurst && !o.development
			},
		},
		{
			name: "flags",
			args: []string{"-addr", ":9000", "-rate", "0", "-dev"},
			want: func(o options) bool { return o.addr == ":9000" && o.rate == 0 && o.development },
		},
		{
			name: "environment",
			env:  map[string]string{"RUMBEACON_COLLECTOR_DB": "/tmp/x.db", "RUMBEACON_COLLECTOR_ORIGINS": "https://a, https://b"},
			want: func(o options) bool { return o.db == "/tmp/x.db" && o.origins == "https://a, https://b" },
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			for k, v := range tt.env {
				t.Setenv(k, v)
			}
			got, err := parseFlags(tt.args)
			if err != nil {
				t.Fatalf("parseFlags() error = %v", err)
			}
			if !tt.want(got) {
				t.Errorf("parseFlags() = %+v", got)
			}
			if n := len(got.serverOptions(nil)); n < 5 {
				t.Errorf("serverOptions() has %d options", n)
			}
		})
	}
}
