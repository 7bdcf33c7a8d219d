// Package ghost watches the focused editable field, asks for a completion
// once the user pauses typing and shows it as ghost text that Tab accepts.
package ghost

import (
	"time"

	"github.com/atinylittleshell/autotab/internal/failure"
	"github.com/atinylittleshell/autotab/internal/settings"
	"github.com/atinylittleshell/autotab/pkg/debounce"
	"github.com/atinylittleshell/autotab/pkg/protocol"
	"github.com/rivo/uniseg"
	"go.uber.org/zap"
)

const (
	DefaultDebounce        = 500 * time.Millisecond
	DefaultMinPromptLength = 5
)

type State int

const (
	StateIdle State = iota
	StateClean
	StateDebouncing
	StateAwaiting
	StateSuggested
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateClean:
		return "tracking-clean"
	case StateDebouncing:
		return "tracking-debouncing"
	case StateAwaiting:
		return "tracking-awaiting"
	case StateSuggested:
		return "tracking-suggested"
	default:
		return "unknown"
	}
}

// Sender delivers a request to the background context without waiting for
// the response.
type Sender interface {
	Send(protocol.Request) error
}

type pendingRequest struct {
	id     uint64
	field  Field
	text   string
	cursor int
}

type suggestion struct {
	text     string
	field    Field
	baseText string
	cursor   int
	prompt   string
}

// Observer is the page-side state machine. It is not safe for concurrent
// use; run it behind a Loop or call it from one goroutine.
type Observer struct {
	overlay   *Overlay
	sender    Sender
	debouncer *debounce.Debouncer
	reporter  *failure.Reporter
	analytics Analytics
	logger    *zap.Logger

	debounceDelay   time.Duration
	minPromptLength int
	scheduler       debounce.Scheduler
	post            func(Event)

	settings   settings.Snapshot
	state      State
	field      Field
	seq        uint64
	pending    *pendingRequest
	suggestion *suggestion
}

type Option func(*Observer)

func WithDebounce(d time.Duration) Option {
	return func(o *Observer) { o.debounceDelay = d }
}

func WithMinPromptLength(n int) Option {
	return func(o *Observer) { o.minPromptLength = n }
}

// WithScheduler replaces the wall clock used by the debounce timer.
func WithScheduler(s debounce.Scheduler) Option {
	return func(o *Observer) { o.scheduler = s }
}

func WithLogger(logger *zap.Logger) Option {
	return func(o *Observer) { o.logger = logger }
}

func WithReporter(r *failure.Reporter) Option {
	return func(o *Observer) { o.reporter = r }
}

func WithAnalytics(a Analytics) Option {
	return func(o *Observer) { o.analytics = a }
}

// WithSettings sets the initial settings snapshot.
func WithSettings(s settings.Snapshot) Option {
	return func(o *Observer) { o.settings = s }
}

func NewObserver(surface Surface, sender Sender, opts ...Option) *Observer {
	o := &Observer{
		overlay:         NewOverlay(surface),
		sender:          sender,
		debounceDelay:   DefaultDebounce,
		minPromptLength: DefaultMinPromptLength,
		settings:        settings.Defaults(),
		logger:          zap.NewNop(),
	}
	for _, opt := range opts {
		opt(o)
	}
	if o.reporter == nil {
		o.reporter = failure.NewReporter(o.logger)
	}
	if o.analytics == nil {
		o.analytics = discardAnalytics{}
	}
	o.debouncer = debounce.New(o.debounceDelay, o.scheduler)
	o.post = func(ev Event) { o.Handle(ev) }
	return o
}

// Post handles ev immediately. It lets an Observer act as its own
// Dispatcher when driven from a single goroutine.
func (o *Observer) Post(ev Event) { o.Handle(ev) }

func (o *Observer) Send(ev Event) bool { return o.Handle(ev) }

func (o *Observer) State() State { return o.state }

// Field returns the tracked field, or nil when idle.
func (o *Observer) Field() Field { return o.field }

// LastRequestID returns the sequence number of the latest request issued.
func (o *Observer) LastRequestID() uint64 { return o.seq }

// Suggestion returns the text currently offered, if any.
func (o *Observer) Suggestion() (string, bool) {
	if o.suggestion == nil {
		return "", false
	}
	return o.suggestion.text, true
}

func (o *Observer) Overlay() *Overlay { return o.overlay }

func (o *Observer) Reporter() *failure.Reporter { return o.reporter }

// Settings returns the snapshot the observer currently obeys.
func (o *Observer) Settings() settings.Snapshot { return o.settings }

// Handle applies one event and reports whether it was consumed, in which
// case the caller must suppress the event's default action.
func (o *Observer) Handle(ev Event) bool {
	switch ev.Kind {
	case EventFocus:
		o.onFocus(ev.Field)
	case EventBlur:
		o.onBlur(ev.Field)
	case EventSettingsChanged:
		o.onSettings(ev.Settings)
	default:
		if !o.settings.Enabled || o.field == nil {
			return false
		}
		switch ev.Kind {
		case EventInput:
			o.onInput(ev.Field)
		case EventKeyDown:
			return o.onKey(ev.Key)
		case EventClick:
			if ev.Field == nil || ev.Field != o.field {
				o.dismiss("click")
			}
		case EventScroll:
			o.dismiss("scroll")
		case EventDebounceFired:
			o.onDebounceFired(ev.Generation)
		case EventResponse:
			o.onResponse(ev.Response)
		}
	}
	return false
}

func (o *Observer) onFocus(f Field) {
	if f != nil && f == o.field {
		return
	}
	o.reset("blur")
	if f == nil || !f.Kind().Editable() {
		o.field = nil
		o.state = StateIdle
		return
	}
	o.field = f
	o.state = StateClean
	o.logger.Debug("observer tracking field", zap.String("field", f.ID()))
}

func (o *Observer) onBlur(f Field) {
	if o.field == nil || (f != nil && f != o.field) {
		return
	}
	o.reset("blur")
	o.field = nil
	o.state = StateIdle
}

func (o *Observer) onSettings(s settings.Snapshot) {
	o.settings = s
	if !s.Enabled && o.field != nil {
		o.reset("disabled")
		o.state = StateClean
	}
}

func (o *Observer) onInput(f Field) {
	if f != o.field {
		return
	}
	o.clearSuggestion(OutcomeDismissed, "superseded")
	o.pending = nil

	prompt := protocol.TextBeforeCursor(f.Text(), f.Cursor())
	if uniseg.GraphemeClusterCount(prompt) < o.minPromptLength {
		o.debouncer.Cancel()
		o.state = StateClean
		return
	}

	o.debouncer.Trigger(func(generation uint64) {
		o.post(DebounceFired(generation))
	})
	o.state = StateDebouncing
}

func (o *Observer) onDebounceFired(generation uint64) {
	if o.state != StateDebouncing || generation != o.debouncer.Generation() {
		return
	}

	text, cursor := o.field.Text(), o.field.Cursor()
	if uniseg.GraphemeClusterCount(protocol.TextBeforeCursor(text, cursor)) < o.minPromptLength {
		o.state = StateClean
		return
	}

	o.seq++
	req := protocol.NewRequest(o.seq, o.field.ID(), text, cursor)
	o.pending = &pendingRequest{id: o.seq, field: o.field, text: text, cursor: cursor}
	o.state = StateAwaiting

	o.logger.Debug("observer requesting completion",
		zap.Uint64("requestId", req.RequestID),
		zap.String("field", req.FieldID),
	)
	if err := o.sender.Send(req); err != nil {
		o.reporter.Report("observer", &failure.TransportError{Err: err})
		o.pending = nil
		o.state = StateClean
	}
}

func (o *Observer) onResponse(resp protocol.Response) {
	p := o.pending
	if o.state != StateAwaiting || p == nil ||
		resp.RequestID != p.id || resp.FieldID != p.field.ID() || p.field != o.field {
		o.reporter.Report("observer", failure.ErrStaleResponse,
			zap.Uint64("requestId", resp.RequestID),
			zap.String("field", resp.FieldID),
		)
		return
	}

	o.pending = nil
	o.state = StateClean

	// the caret can move without an input event
	if o.field.Text() != p.text || o.field.Cursor() != p.cursor {
		o.reporter.Report("observer", failure.ErrStaleResponse,
			zap.Uint64("requestId", resp.RequestID),
			zap.String("field", resp.FieldID),
		)
		return
	}

	if resp.Failed() {
		o.reporter.Report("observer", failure.FromKind(failure.ParseKind(resp.ErrorKind), resp.Error),
			zap.Uint64("requestId", resp.RequestID),
		)
		return
	}
	if resp.Completion == "" {
		return
	}

	o.suggestion = &suggestion{
		text:     resp.Completion,
		field:    o.field,
		baseText: p.text,
		cursor:   p.cursor,
		prompt:   protocol.TextBeforeCursor(p.text, p.cursor),
	}
	o.overlay.Show(resp.Completion, o.field.Rect())
	o.state = StateSuggested
}

func (o *Observer) onKey(key Key) bool {
	switch key {
	case KeyTab:
		if o.state != StateSuggested {
			return false
		}
		return o.accept()
	case KeyEscape:
		shown := o.state == StateSuggested
		o.dismiss("escape")
		return shown
	}
	return false
}

func (o *Observer) accept() bool {
	s := o.suggestion
	f := o.field

	if f != s.field || f.Text() != s.baseText {
		o.clearSuggestion(OutcomeRejected, "text changed")
		o.state = StateClean
		return false
	}

	runes := []rune(s.baseText)
	cursor := clampOffset(s.cursor, len(runes))
	inserted := []rune(s.text)

	next := make([]rune, 0, len(runes)+len(inserted))
	next = append(next, runes[:cursor]...)
	next = append(next, inserted...)
	next = append(next, runes[cursor:]...)

	o.clearSuggestion(OutcomeAccepted, "")
	o.state = StateClean

	f.Replace(string(next), cursor+len(inserted))
	// last: the notification re-enters Handle with the new text
	f.DispatchInput()
	return true
}

// dismiss drops any suggestion, timer and pending request, keeping the
// field tracked.
func (o *Observer) dismiss(cause string) {
	if o.state == StateIdle {
		return
	}
	o.reset(cause)
	o.state = StateClean
}

func (o *Observer) reset(cause string) {
	o.debouncer.Cancel()
	o.pending = nil
	o.clearSuggestion(OutcomeDismissed, cause)
}

func (o *Observer) clearSuggestion(kind OutcomeKind, cause string) {
	o.overlay.Hide()
	if o.suggestion == nil {
		return
	}
	s := o.suggestion
	o.suggestion = nil
	o.analytics.Record(Outcome{
		Field:      s.field.ID(),
		Prompt:     s.prompt,
		Suggestion: s.text,
		Kind:       kind,
		Cause:      cause,
	})
	o.logger.Debug("observer suggestion cleared",
		zap.String("outcome", string(kind)),
		zap.String("cause", cause),
	)
}

func clampOffset(v, n int) int {
	if v < 0 {
		return 0
	}
	if v > n {
		return n
	}
	return v
}
