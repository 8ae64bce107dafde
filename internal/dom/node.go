package dom

import (
	"strings"
	"sync/atomic"
)

// Node event names.
const (
	EventLoad  = "load"
	EventError = "error"
)

var nodeIDs atomic.Uint64

// Node is an element or text node.
type Node struct {
	ID       uint64
	Tag      string
	Text     string
	Display  string
	Width    int
	Height   int
	Complete bool

	attrs    map[string]string
	parent   *Node
	children []*Node
	doc      *Document

	listeners map[string][]*listener
}

type listener struct {
	fn      func(*Node, string)
	removed bool
}

// NewElement creates a detached element. The tag is upper-cased.
func NewElement(tag string, attrs map[string]string) *Node {
	n := &Node{
		ID:    nodeIDs.Add(1),
		Tag:   strings.ToUpper(tag),
		attrs: make(map[string]string, len(attrs)),
	}
	for k, v := range attrs {
		n.attrs[strings.ToLower(k)] = v
	}
	return n
}

// NewText creates a detached text node.
func NewText(text string) *Node {
	return &Node{ID: nodeIDs.Add(1), Tag: "#text", Text: text}
}

// IsElement reports whether n is an element.
func (n *Node) IsElement() bool { return n.Tag != "#text" }

// Attr returns the attribute value or "".
func (n *Node) Attr(name string) string {
	return n.attrs[strings.ToLower(name)]
}

// HasAttr reports whether the attribute is set.
func (n *Node) HasAttr(name string) bool {
	_, ok := n.attrs[strings.ToLower(name)]
	return ok
}

// SetAttr sets an attribute and records the mutation when attached.
func (n *Node) SetAttr(name, value string) {
	if n.attrs == nil {
		n.attrs = make(map[string]string)
	}
	name = strings.ToLower(name)
	old := n.attrs[name]
	n.attrs[name] = value
	if n.doc != nil {
		n.doc.record(MutationRecord{Type: MutationAttributes, Target: n, AttributeName: name, OldValue: old})
	}
}

// SetText changes a text node and records the mutation when attached.
func (n *Node) SetText(text string) {
	old := n.Text
	n.Text = text
	if n.doc != nil {
		n.doc.record(MutationRecord{Type: MutationCharacterData, Target: n, OldValue: old})
	}
}

// Parent returns the parent node.
func (n *Node) Parent() *Node { return n.parent }

// Children returns a copy of the child list.
func (n *Node) Children() []*Node {
	return append([]*Node(nil), n.children...)
}

// AppendChild attaches child under n.
func (n *Node) AppendChild(child *Node) {
	if child == nil || child == n {
		return
	}
	if child.parent != nil {
		child.parent.RemoveChild(child)
	}
	child.parent = n
	n.children = append(n.children, child)
	child.attach(n.doc)
	if n.doc != nil {
		n.doc.record(MutationRecord{Type: MutationChildList, Target: n, AddedNodes: []*Node{child}})
	}
}

// RemoveChild detaches child from n.
func (n *Node) RemoveChild(child *Node) {
	for i, c := range n.children {
		if c != child {
			continue
		}
		n.children = append(n.children[:i:i], n.children[i+1:]...)
		child.parent = nil
		if n.doc != nil {
			n.doc.record(MutationRecord{Type: MutationChildList, Target: n, RemovedNodes: []*Node{child}})
		}
		child.attach(nil)
		return
	}
}

func (n *Node) attach(doc *Document) {
	n.doc = doc
	for _, c := range n.children {
		c.attach(doc)
	}
}

// Walk visits n and its descendants depth first until fn returns false.
func (n *Node) Walk(fn func(*Node) bool) bool {
	if !fn(n) {
		return false
	}
	for _, c := range n.children {
		if !c.Walk(fn) {
			return false
		}
	}
	return true
}

// Hidden reports whether n or an ancestor has display:none.
func (n *Node) Hidden() bool {
	for p := n; p != nil; p = p.parent {
		if strings.EqualFold(p.Display, "none") {
			return true
		}
	}
	return false
}

// AddEventListener registers fn for load or error and returns a function
// that removes it.
func (n *Node) AddEventListener(name string, fn func(*Node, string)) (remove func()) {
	if n.listeners == nil {
		n.listeners = make(map[string][]*listener)
	}
	l := &listener{fn: fn}
	n.listeners[name] = append(n.listeners[name], l)
	return func() {
		l.removed = true
		list := n.listeners[name]
		for i, x := range list {
			if x == l {
				n.listeners[name] = append(list[:i:i], list[i+1:]...)
				return
			}
		}
	}
}

// Dispatch invokes the listeners for name in registration order.
func (n *Node) Dispatch(name string) {
	for _, l := range append([]*listener(nil), n.listeners[name]...) {
		if !l.removed {
			l.fn(n, name)
		}
	}
}

// Load marks n complete and dispatches load.
func (n *Node) Load() {
	n.Complete = true
	n.Dispatch(EventLoad)
}

// Fail marks n complete and dispatches error.
func (n *Node) Fail() {
	n.Complete = true
	n.Dispatch(EventError)
}
