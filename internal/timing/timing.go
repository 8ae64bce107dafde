// Package timing models resource and navigation timing data.
package timing

import (
	"sort"
	"sync"
	"time"
)

// Initiator types.
const (
	InitiatorXHR    = "xmlhttprequest"
	InitiatorFetch  = "fetch"
	InitiatorScript = "script"
	InitiatorImg    = "img"
	InitiatorLink   = "link"
	InitiatorOther  = "other"
)

// DefaultInitiators are the initiator types counted as back-end time for
// soft navigations.
var DefaultInitiators = []string{InitiatorXHR, InitiatorScript, InitiatorFetch}

// DefaultBufferSize bounds a Buffer created with size 0.
const DefaultBufferSize = 250

// Entry is one resource fetch.
type Entry struct {
	Name          string
	InitiatorType string
	StartTime     time.Time
	ResponseStart time.Time
	ResponseEnd   time.Time
	TransferSize  int64
	Status        int
}

// Duration returns ResponseEnd - StartTime.
func (e Entry) Duration() time.Duration {
	return e.ResponseEnd.Sub(e.StartTime)
}

// Buffer is a bounded, goroutine-safe list of entries. When full the
// oldest entry is dropped.
type Buffer struct {
	mu      sync.Mutex
	entries []Entry
	size    int
	dropped int
}

// NewBuffer creates a buffer holding up to size entries.
func NewBuffer(size int) *Buffer {
	if size <= 0 {
		size = DefaultBufferSize
	}
	return &Buffer{size: size}
}

// Add appends e.
func (b *Buffer) Add(e Entry) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if len(b.entries) >= b.size {
		b.entries = b.entries[1:]
		b.dropped++
	}
	b.entries = append(b.entries, e)
}

// Len returns the number of entries.
func (b *Buffer) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.entries)
}

// Dropped returns how many entries were evicted.
func (b *Buffer) Dropped() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.dropped
}

// Entries returns a copy of all entries in insertion order.
func (b *Buffer) Entries() []Entry {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]Entry(nil), b.entries...)
}

// Clear removes every entry.
func (b *Buffer) Clear() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.entries = nil
}

// Between returns entries whose activity overlaps [start, end] and whose
// initiator type is in initiators. An empty initiators list matches all.
func (b *Buffer) Between(start, end time.Time, initiators ...string) []Entry {
	b.mu.Lock()
	defer b.mu.Unlock()

	var out []Entry
	for _, e := range b.entries {
		if e.ResponseEnd.Before(start) || e.StartTime.After(end) {
			continue
		}
		if len(initiators) > 0 && !contains(initiators, e.InitiatorType) {
			continue
		}
		out = append(out, e)
	}
	return out
}

func contains(list []string, s string) bool {
	for _, x := range list {
		if x == s {
			return true
		}
	}
	return false
}

// Interval is a span relative to some origin.
type Interval struct {
	Start time.Duration
	End   time.Duration
}

// Union returns the total time covered by intervals, counting overlaps
// once. Intervals sharing a start are folded to the one ending last
// before merging.
func Union(intervals []Interval) time.Duration {
	if len(intervals) == 0 {
		return 0
	}

	byStart := make(map[time.Duration]time.Duration, len(intervals))
	for _, iv := range intervals {
		if iv.End < iv.Start {
			continue
		}
		if end, ok := byStart[iv.Start]; !ok || iv.End > end {
			byStart[iv.Start] = iv.End
		}
	}
	folded := make([]Interval, 0, len(byStart))
	for s, e := range byStart {
		folded = append(folded, Interval{Start: s, End: e})
	}
	if len(folded) == 0 {
		return 0
	}
	sort.Slice(folded, func(i, j int) bool { return folded[i].Start < folded[j].Start })

	var total time.Duration
	cur := folded[0]
	for _, iv := range folded[1:] {
		if iv.Start <= cur.End {
			if iv.End > cur.End {
				cur.End = iv.End
			}
			continue
		}
		total += cur.End - cur.Start
		cur = iv
	}
	return total + cur.End - cur.Start
}

// Intervals converts entries into intervals relative to origin, clipped
// to [origin, end].
func Intervals(entries []Entry, origin, end time.Time) []Interval {
	out := make([]Interval, 0, len(entries))
	for _, e := range entries {
		s, f := e.StartTime, e.ResponseEnd
		if s.Before(origin) {
			s = origin
		}
		if f.After(end) {
			f = end
		}
		if f.Before(s) {
			continue
		}
		out = append(out, Interval{Start: s.Sub(origin), End: f.Sub(origin)})
	}
	return out
}
