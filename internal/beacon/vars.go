package beacon

import "sort"

// Variable priorities.
const (
	PriorityFirst  = -1
	PriorityMiddle = 0
	PriorityLast   = 1
)

// Reader is read-only access to beacon variables.
type Reader interface {
	Get(name string) (any, bool)
	Has(name string) bool
	Len() int
	Names() []string
}

// Vars is the beacon variable store.
//
// Vars is owned by the run loop and is not safe for concurrent use.
type Vars struct {
	values map[string]any
	single map[string]struct{}
	first  []string
	last   []string
}

// NewVars creates an empty store.
func NewVars() *Vars {
	return &Vars{
		values: make(map[string]any),
		single: make(map[string]struct{}),
	}
}

// Add sets name to value, overwriting any existing value. Single-beacon
// variables are removed after the next non-early beacon.
func (v *Vars) Add(name string, value any, singleBeacon bool) {
	if name == "" {
		return
	}
	v.values[name] = value
	if singleBeacon {
		v.single[name] = struct{}{}
	}
}

// AddMap merges every entry of m.
func (v *Vars) AddMap(m map[string]any, singleBeacon bool) {
	for name, value := range m {
		v.Add(name, value, singleBeacon)
	}
}

// Remove deletes names that are present.
func (v *Vars) Remove(names ...string) {
	for _, name := range names {
		delete(v.values, name)
		delete(v.single, name)
	}
}

// SetPriority places name at the start (-1) or end (1) of the serialised
// beacon. Other values are ignored.
func (v *Vars) SetPriority(name string, pri int) {
	if name == "" || (pri != PriorityFirst && pri != PriorityLast) {
		return
	}
	v.first = without(v.first, name)
	v.last = without(v.last, name)
	if pri == PriorityFirst {
		v.first = append(v.first, name)
	} else {
		v.last = append(v.last, name)
	}
}

// Priority returns the priority assigned to name.
func (v *Vars) Priority(name string) int {
	for _, n := range v.first {
		if n == name {
			return PriorityFirst
		}
	}
	for _, n := range v.last {
		if n == name {
			return PriorityLast
		}
	}
	return PriorityMiddle
}

// Get returns the value of name.
func (v *Vars) Get(name string) (any, bool) {
	val, ok := v.values[name]
	return val, ok
}

// Has reports whether name is set.
func (v *Vars) Has(name string) bool {
	_, ok := v.values[name]
	return ok
}

// Len returns the number of variables.
func (v *Vars) Len() int {
	return len(v.values)
}

// Names returns the variable names in sorted order.
func (v *Vars) Names() []string {
	names := make([]string, 0, len(v.values))
	for name := range v.values {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// IsSingleBeacon reports whether name will be cleared after the next beacon.
func (v *Vars) IsSingleBeacon(name string) bool {
	_, ok := v.single[name]
	return ok
}

// ClearSingleBeacon removes every single-beacon variable.
func (v *Vars) ClearSingleBeacon() {
	for name := range v.single {
		delete(v.values, name)
	}
	v.single = make(map[string]struct{})
}

// Snapshot returns an immutable copy of the store, including priorities.
func (v *Vars) Snapshot() Snapshot {
	values := make(map[string]any, len(v.values))
	for k, val := range v.values {
		values[k] = val
	}
	return Snapshot{
		values: values,
		first:  append([]string(nil), v.first...),
		last:   append([]string(nil), v.last...),
	}
}

// Snapshot is a frozen copy of the variables of one beacon.
type Snapshot struct {
	values map[string]any
	first  []string
	last   []string
}

// Get returns the value of name.
func (s Snapshot) Get(name string) (any, bool) {
	val, ok := s.values[name]
	return val, ok
}

// Has reports whether name is set.
func (s Snapshot) Has(name string) bool {
	_, ok := s.values[name]
	return ok
}

// Len returns the number of variables.
func (s Snapshot) Len() int {
	return len(s.values)
}

// Names returns the variable names in sorted order.
func (s Snapshot) Names() []string {
	names := make([]string, 0, len(s.values))
	for name := range s.values {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Map returns a copy of the variables.
func (s Snapshot) Map() map[string]any {
	m := make(map[string]any, len(s.values))
	for k, v := range s.values {
		m[k] = v
	}
	return m
}

// Encode serialises the snapshot.
func (s Snapshot) Encode() string {
	return encode(s.values, s.first, s.last)
}

func without(list []string, name string) []string {
	for i, n := range list {
		if n == name {
			return append(list[:i:i], list[i+1:]...)
		}
	}
	return list
}
