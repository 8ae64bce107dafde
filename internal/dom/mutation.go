package dom

// MutationType identifies the kind of change a MutationRecord describes.
type MutationType int

const (
	MutationChildList MutationType = iota
	MutationAttributes
	MutationCharacterData
)

func (t MutationType) String() string {
	switch t {
	case MutationChildList:
		return "childList"
	case MutationAttributes:
		return "attributes"
	case MutationCharacterData:
		return "characterData"
	}
	return "unknown"
}

// MutationRecord describes one change.
type MutationRecord struct {
	Type          MutationType
	Target        *Node
	AddedNodes    []*Node
	RemovedNodes  []*Node
	AttributeName string
	OldValue      string
}

// Observer delivers batches of mutation records until stopped.
type Observer interface {
	Observe(fn func([]MutationRecord)) (stop func())
}
