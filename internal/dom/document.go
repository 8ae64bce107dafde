package dom

// Document is a tree rooted at an HTML element. It implements Observer.
//
// Document is owned by the run loop and is not safe for concurrent use.
type Document struct {
	Root *Node

	schedule  func(func())
	observers []*observer
	queue     []MutationRecord
	scheduled bool
}

type observer struct {
	fn      func([]MutationRecord)
	stopped bool
}

var _ Observer = (*Document)(nil)

// NewDocument creates a document. schedule queues record delivery; the run
// loop's Defer gives MutationObserver timing. A nil schedule delivers
// synchronously.
func NewDocument(schedule func(func())) *Document {
	d := &Document{schedule: schedule}
	d.Root = NewElement("html", nil)
	d.Root.attach(d)
	body := NewElement("body", nil)
	d.Root.AppendChild(body)
	d.queue = nil
	return d
}

// Body returns the first BODY child of the root.
func (d *Document) Body() *Node {
	for _, c := range d.Root.children {
		if c.Tag == "BODY" {
			return c
		}
	}
	return d.Root
}

// Observe implements Observer.
func (d *Document) Observe(fn func([]MutationRecord)) (stop func()) {
	o := &observer{fn: fn}
	d.observers = append(d.observers, o)
	return func() {
		o.stopped = true
		for i, x := range d.observers {
			if x == o {
				d.observers = append(d.observers[:i:i], d.observers[i+1:]...)
				return
			}
		}
	}
}

// Observed reports whether any observer is active.
func (d *Document) Observed() bool { return len(d.observers) > 0 }

func (d *Document) record(r MutationRecord) {
	if len(d.observers) == 0 {
		return
	}
	d.queue = append(d.queue, r)
	if d.schedule == nil {
		d.Flush()
		return
	}
	if !d.scheduled {
		d.scheduled = true
		d.schedule(d.Flush)
	}
}

// Flush delivers queued records to every active observer.
func (d *Document) Flush() {
	d.scheduled = false
	if len(d.queue) == 0 {
		return
	}
	records := d.queue
	d.queue = nil
	for _, o := range append([]*observer(nil), d.observers...) {
		if !o.stopped {
			o.fn(records)
		}
	}
}
