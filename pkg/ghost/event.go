package ghost

import (
	"github.com/atinylittleshell/autotab/internal/settings"
	"github.com/atinylittleshell/autotab/pkg/page"
	"github.com/atinylittleshell/autotab/pkg/protocol"
)

// Field is an editable element the observer can track.
type Field interface {
	ID() string
	Kind() page.ElementKind
	Text() string
	Cursor() int
	Rect() page.Rect
	// Replace sets text and caret without firing a change notification.
	Replace(text string, cursor int)
	// DispatchInput fires a change notification on the field.
	DispatchInput()
}

type EventKind int

const (
	EventFocus EventKind = iota
	EventBlur
	EventInput
	EventKeyDown
	EventClick
	EventScroll
	EventDebounceFired
	EventResponse
	EventSettingsChanged
)

func (k EventKind) String() string {
	switch k {
	case EventFocus:
		return "focus"
	case EventBlur:
		return "blur"
	case EventInput:
		return "input"
	case EventKeyDown:
		return "keydown"
	case EventClick:
		return "click"
	case EventScroll:
		return "scroll"
	case EventDebounceFired:
		return "debounce"
	case EventResponse:
		return "response"
	case EventSettingsChanged:
		return "settings"
	default:
		return "unknown"
	}
}

// Key is a DOM key name.
type Key string

const (
	KeyTab    Key = "Tab"
	KeyEscape Key = "Escape"
)

// Event is everything that can move the observer. Only the fields relevant
// to Kind are set.
type Event struct {
	Kind       EventKind
	Field      Field
	Key        Key
	Generation uint64
	Response   protocol.Response
	Settings   settings.Snapshot
}

func Focus(f Field) Event          { return Event{Kind: EventFocus, Field: f} }
func Blur(f Field) Event           { return Event{Kind: EventBlur, Field: f} }
func Input(f Field) Event          { return Event{Kind: EventInput, Field: f} }
func KeyDown(key Key) Event        { return Event{Kind: EventKeyDown, Key: key} }
func Scroll() Event                { return Event{Kind: EventScroll} }
func DebounceFired(g uint64) Event { return Event{Kind: EventDebounceFired, Generation: g} }

// Click is a click on target, or on empty space when target is nil.
func Click(target Field) Event {
	return Event{Kind: EventClick, Field: target}
}

func ResponseReceived(resp protocol.Response) Event {
	return Event{Kind: EventResponse, Response: resp}
}

func SettingsChanged(s settings.Snapshot) Event {
	return Event{Kind: EventSettingsChanged, Settings: s}
}

// Dispatcher accepts observer events. Post queues without waiting; Send
// waits and reports whether the event was consumed.
type Dispatcher interface {
	Post(Event)
	Send(Event) bool
}
