package mutation

import (
	"time"
)

// Type is the trigger of a pending event.
type Type string

// Event types.
const (
	TypeClick   Type = "click"
	TypeXHR     Type = "xhr"
	TypeSPA     Type = "spa"
	TypeSPAHard Type = "spa_hard"
)

// IsSPA reports whether t is a soft or hard SPA navigation.
func (t Type) IsSPA() bool {
	return t == TypeSPA || t == TypeSPAHard
}

// State is the lifecycle state of a pending event.
type State int

const (
	StateCreated State = iota
	StateAccumulating
	StateSettling
	StateComplete
	StateAborted
	StateDiscarded
)

func (s State) String() string {
	switch s {
	case StateCreated:
		return "created"
	case StateAccumulating:
		return "accumulating"
	case StateSettling:
		return "settling"
	case StateComplete:
		return "complete"
	case StateAborted:
		return "aborted"
	case StateDiscarded:
		return "discarded"
	}
	return "unknown"
}

// Done reports whether s is terminal.
func (s State) Done() bool {
	return s >= StateComplete
}

// Resource describes what triggered a pending event and, once complete,
// when it finished.
type Resource struct {
	Type   Type
	URL    string
	Method string
	Status int

	Start       time.Time
	ResponseEnd time.Time
	LoadEnd     time.Time

	// AwaitLoad counts the resource itself as outstanding until
	// LoadFinished is called for it. XHR resources always do.
	AwaitLoad bool

	// Timers and Vars are added to the beacon for this resource.
	Timers map[string]time.Duration
	Vars   map[string]any

	// NavType is the SPA navigation type or empty.
	NavType string

	// Index is the pending event the resource was added to, or -1.
	Index int

	// OnComplete runs when the owning event completes, before the sink.
	OnComplete func(*Event)
}

// SetTimer records a timer on the resource.
func (r *Resource) SetTimer(name string, d time.Duration) {
	if r.Timers == nil {
		r.Timers = make(map[string]time.Duration)
	}
	r.Timers[name] = d
}

// SetVar records a beacon variable on the resource.
func (r *Resource) SetVar(name string, v any) {
	if r.Vars == nil {
		r.Vars = make(map[string]any)
	}
	r.Vars[name] = v
}

func (r *Resource) awaits() bool {
	return r.AwaitLoad || r.Type == TypeXHR
}

// Event is a pending interaction.
type Event struct {
	Type        Type
	Resource    *Resource
	NodesToWait int
	TotalNodes  int
	Resources   []string
	Complete    bool
	Aborted     bool

	index    int
	members  []*Resource
	state    State
	settle   timer
	maxTimer timer
	early    timer
	extended bool
	settled  bool
}

// Index returns the event's slot in the pending list.
func (e *Event) Index() int { return e.index }

// State returns the lifecycle state.
func (e *Event) State() State { return e.state }

// Duration returns LoadEnd - Start of the resource.
func (e *Event) Duration() time.Duration {
	if e.Resource == nil || e.Resource.LoadEnd.IsZero() {
		return 0
	}
	return e.Resource.LoadEnd.Sub(e.Resource.Start)
}

func (e *Event) owns(r *Resource) bool {
	for _, m := range e.members {
		if m == r {
			return true
		}
	}
	return false
}

func (e *Event) interesting() bool {
	return e.TotalNodes > 0 || e.Resource.URL != ""
}
