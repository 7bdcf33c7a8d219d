package page

import (
	"sync"
)

// EventType names the DOM events the page surface emits.
type EventType string

const (
	EventFocusIn  EventType = "focusin"
	EventFocusOut EventType = "focusout"
	EventInput    EventType = "input"
	EventKeyDown  EventType = "keydown"
	EventClick    EventType = "click"
	EventScroll   EventType = "scroll"
)

// Event is a DOM event. Target is nil for events without a target element,
// such as a click on empty page space or a document scroll.
type Event struct {
	Type   EventType
	Target *Element
	Key    string
}

// Listener handles an event and reports whether it called preventDefault.
type Listener func(Event) bool

// Node is a detached visual element appended to the document body.
type Node struct {
	Class         string
	Text          string
	Position      string
	Top           float64
	Left          float64
	Color         string
	PointerEvents bool
}

// Document is an in-memory page: a set of elements, the focused element,
// the scroll offset and the nodes appended to the body.
type Document struct {
	mu        sync.Mutex
	elements  map[string]*Element
	active    *Element
	nodes     []*Node
	scrollX   float64
	scrollY   float64
	listeners map[int]Listener
	nextID    int
}

func NewDocument() *Document {
	return &Document{
		elements:  make(map[string]*Element),
		listeners: make(map[int]Listener),
	}
}

// NewElement creates an element on the page.
func (d *Document) NewElement(id string, kind ElementKind, rect Rect) *Element {
	e := &Element{id: id, kind: kind, rect: rect, doc: d}
	d.mu.Lock()
	d.elements[id] = e
	d.mu.Unlock()
	return e
}

func (d *Document) Element(id string) (*Element, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	e, ok := d.elements[id]
	return e, ok
}

// RemoveElement detaches an element. If it was focused, focus moves to the
// body and a focusout event fires.
func (d *Document) RemoveElement(e *Element) {
	d.mu.Lock()
	delete(d.elements, e.id)
	wasActive := d.active == e
	if wasActive {
		d.active = nil
	}
	d.mu.Unlock()

	if wasActive {
		d.dispatch(Event{Type: EventFocusOut, Target: e})
	}
}

// Listen registers a listener and returns a function that removes it.
func (d *Document) Listen(l Listener) func() {
	d.mu.Lock()
	id := d.nextID
	d.nextID++
	d.listeners[id] = l
	d.mu.Unlock()

	return func() {
		d.mu.Lock()
		delete(d.listeners, id)
		d.mu.Unlock()
	}
}

func (d *Document) dispatch(ev Event) bool {
	d.mu.Lock()
	listeners := make([]Listener, 0, len(d.listeners))
	for i := 0; i < d.nextID; i++ {
		if l, ok := d.listeners[i]; ok {
			listeners = append(listeners, l)
		}
	}
	d.mu.Unlock()

	prevented := false
	for _, l := range listeners {
		if l(ev) {
			prevented = true
		}
	}
	return prevented
}

// Active returns the focused element, or nil when the body has focus.
func (d *Document) Active() *Element {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.active
}

// Focus moves focus to e. A nil e focuses the body.
func (d *Document) Focus(e *Element) {
	d.mu.Lock()
	prev := d.active
	d.active = e
	d.mu.Unlock()

	if prev == e {
		return
	}
	if prev != nil {
		d.dispatch(Event{Type: EventFocusOut, Target: prev})
	}
	if e != nil {
		d.dispatch(Event{Type: EventFocusIn, Target: e})
	}
}

// KeyDown dispatches a keydown to the focused element and reports whether a
// listener prevented the default action.
func (d *Document) KeyDown(key string) bool {
	return d.dispatch(Event{Type: EventKeyDown, Target: d.Active(), Key: key})
}

// Click dispatches a click on target, or on empty space when target is nil.
func (d *Document) Click(target *Element) {
	d.dispatch(Event{Type: EventClick, Target: target})
}

// Scroll moves the viewport and dispatches a scroll event.
func (d *Document) Scroll(dx, dy float64) {
	d.mu.Lock()
	d.scrollX += dx
	d.scrollY += dy
	d.mu.Unlock()

	d.dispatch(Event{Type: EventScroll})
}

func (d *Document) ScrollOffset() (x, y float64) {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.scrollX, d.scrollY
}

// AppendNode appends n to the body.
func (d *Document) AppendNode(n *Node) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.nodes = append(d.nodes, n)
}

// RemoveNode removes n from the body and reports whether it was attached.
func (d *Document) RemoveNode(n *Node) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	for i, existing := range d.nodes {
		if existing == n {
			d.nodes = append(d.nodes[:i], d.nodes[i+1:]...)
			return true
		}
	}
	return false
}

// Nodes returns the nodes attached to the body with the given class.
func (d *Document) Nodes(class string) []*Node {
	d.mu.Lock()
	defer d.mu.Unlock()
	var out []*Node
	for _, n := range d.nodes {
		if n.Class == class {
			out = append(out, n)
		}
	}
	return out
}
