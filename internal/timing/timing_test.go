package timing

import (
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
)

func ms(n int) time.Duration { return time.Duration(n) * time.Millisecond }

func TestUnion(t *testing.T) {
	tests := []struct {
		name string
		in   []Interval
		want time.Duration
	}{
		{"empty", nil, 0},
		{"single", []Interval{{0, ms(100)}}, ms(100)},
		{"overlap and gap", []Interval{{0, ms(100)}, {ms(50), ms(150)}, {ms(200), ms(250)}}, ms(200)},
		{"unsorted", []Interval{{ms(200), ms(250)}, {ms(50), ms(150)}, {0, ms(100)}}, ms(200)},
		{"same start folded", []Interval{{0, ms(10)}, {0, ms(80)}, {0, ms(40)}}, ms(80)},
		{"contained", []Interval{{0, ms(100)}, {ms(10), ms(20)}}, ms(100)},
		{"touching", []Interval{{0, ms(50)}, {ms(50), ms(100)}}, ms(100)},
		{"inverted ignored", []Interval{{ms(100), ms(50)}, {0, ms(10)}}, ms(10)},
		{"all inverted", []Interval{{ms(10), ms(5)}, {ms(100), ms(50)}}, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Union(tt.in); got != tt.want {
				t.Errorf("Union = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestBufferBetween(t *testing.T) {
	origin := time.UnixMilli(1_000_000)
	at := func(n int) time.Time { return origin.Add(ms(n)) }

	b := NewBuffer(10)
	b.Add(Entry{Name: "/before", InitiatorType: InitiatorXHR, StartTime: at(-50), ResponseEnd: at(-10)})
	b.Add(Entry{Name: "/api", InitiatorType: InitiatorXHR, StartTime: at(-5), ResponseEnd: at(40)})
	b.Add(Entry{Name: "/app.js", InitiatorType: InitiatorScript, StartTime: at(10), ResponseEnd: at(60)})
	b.Add(Entry{Name: "/logo.png", InitiatorType: InitiatorImg, StartTime: at(20), ResponseEnd: at(30)})
	b.Add(Entry{Name: "/after", InitiatorType: InitiatorFetch, StartTime: at(200), ResponseEnd: at(210)})

	got := b.Between(at(0), at(100), DefaultInitiators...)
	var names []string
	for _, e := range got {
		names = append(names, e.Name)
	}
	if diff := cmp.Diff([]string{"/api", "/app.js"}, names); diff != "" {
		t.Errorf("Between mismatch (-want +got):\n%s", diff)
	}

	if all := b.Between(at(0), at(100)); len(all) != 3 {
		t.Errorf("Between without filter = %d entries, want 3", len(all))
	}

	back := Union(Intervals(got, at(0), at(100)))
	if back != ms(60) {
		t.Errorf("clipped union = %v, want 60ms", back)
	}
}

func TestBufferBounded(t *testing.T) {
	b := NewBuffer(2)
	for _, n := range []string{"a", "b", "c"} {
		b.Add(Entry{Name: n})
	}
	if b.Len() != 2 || b.Dropped() != 1 {
		t.Fatalf("Len=%d Dropped=%d", b.Len(), b.Dropped())
	}
	if e := b.Entries(); e[0].Name != "b" {
		t.Errorf("oldest entry = %q, want b", e[0].Name)
	}
	b.Clear()
	if b.Len() != 0 {
		t.Error("Clear left entries")
	}
}

func TestNavigation(t *testing.T) {
	start := time.UnixMilli(5_000)
	nav := Navigation{
		Type:            NavigateNavigate,
		NavigationStart: start,
		RedirectStart:   start.Add(ms(5)),
		ResponseStart:   start.Add(ms(120)),
		LoadEventEnd:    start.Add(ms(900)),
	}
	if got := nav.BackEnd(); got != ms(120) {
		t.Errorf("BackEnd = %v", got)
	}
	marks := nav.Marks()
	want := map[string]int64{
		"nt_nav_st":   5000,
		"nt_red_st":   5005,
		"nt_res_st":   5120,
		"nt_load_end": 5900,
	}
	if diff := cmp.Diff(want, marks); diff != "" {
		t.Errorf("Marks mismatch (-want +got):\n%s", diff)
	}
	if len((Navigation{}).Marks()) != 0 || (Navigation{}).BackEnd() != 0 {
		t.Error("zero navigation produced values")
	}
}
