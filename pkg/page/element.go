package page

import (
	"fmt"
	"sync"
)

// ElementKind identifies what sort of element a node on the page is.
type ElementKind int

const (
	KindOther ElementKind = iota
	KindTextInput
	KindTextArea
	KindContentEditable
	KindButton
)

func (k ElementKind) String() string {
	switch k {
	case KindTextInput:
		return "input"
	case KindTextArea:
		return "textarea"
	case KindContentEditable:
		return "contenteditable"
	case KindButton:
		return "button"
	default:
		return "other"
	}
}

// Editable reports whether elements of this kind accept typed text.
func (k ElementKind) Editable() bool {
	return k == KindTextInput || k == KindTextArea || k == KindContentEditable
}

// Rect is a bounding box in page coordinates.
type Rect struct {
	Left   float64
	Top    float64
	Width  float64
	Height float64
}

func (r Rect) Bottom() float64 { return r.Top + r.Height }
func (r Rect) Right() float64  { return r.Left + r.Width }

// Element is a focusable node with a text value and a cursor. Offsets are
// rune offsets into the value.
type Element struct {
	mu          sync.Mutex
	id          string
	kind        ElementKind
	value       []rune
	cursor      int
	rect        Rect
	changeCount int
	doc         *Document
}

func (e *Element) ID() string        { return e.id }
func (e *Element) Kind() ElementKind { return e.kind }

func (e *Element) Rect() Rect {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.rect
}

func (e *Element) SetRect(r Rect) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.rect = r
}

// Text returns the element's value (textContent for contenteditable).
func (e *Element) Text() string {
	e.mu.Lock()
	defer e.mu.Unlock()
	return string(e.value)
}

// Cursor returns the caret offset (selectionStart, or the selection focus
// offset for contenteditable).
func (e *Element) Cursor() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.cursor
}

// SetCursor moves the caret, clamped to the value.
func (e *Element) SetCursor(offset int) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.cursor = clamp(offset, 0, len(e.value))
}

// Replace sets the value and caret without notifying anyone, the way a
// script assignment to .value behaves.
func (e *Element) Replace(text string, cursor int) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.value = []rune(text)
	e.cursor = clamp(cursor, 0, len(e.value))
}

// DispatchInput fires a bubbling input event for the element.
func (e *Element) DispatchInput() {
	e.mu.Lock()
	e.changeCount++
	doc := e.doc
	e.mu.Unlock()

	if doc != nil {
		doc.dispatch(Event{Type: EventInput, Target: e})
	}
}

// ChangeCount returns how many input events the element has dispatched.
func (e *Element) ChangeCount() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.changeCount
}

// Type inserts text at the caret, advances it and fires an input event, the
// way a user keystroke does.
func (e *Element) Type(text string) {
	e.mu.Lock()
	inserted := []rune(text)
	value := make([]rune, 0, len(e.value)+len(inserted))
	value = append(value, e.value[:e.cursor]...)
	value = append(value, inserted...)
	value = append(value, e.value[e.cursor:]...)
	e.value = value
	e.cursor += len(inserted)
	e.mu.Unlock()

	e.DispatchInput()
}

// Backspace deletes n runes before the caret and fires an input event.
func (e *Element) Backspace(n int) {
	e.mu.Lock()
	start := clamp(e.cursor-n, 0, e.cursor)
	e.value = append(e.value[:start], e.value[e.cursor:]...)
	e.cursor = start
	e.mu.Unlock()

	e.DispatchInput()
}

func (e *Element) String() string {
	return fmt.Sprintf("%s#%s", e.kind, e.id)
}

func clamp(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
