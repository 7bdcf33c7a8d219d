package ghost

import (
	"errors"
	"testing"
	"time"

	"github.com/atinylittleshell/autotab/internal/failure"
	"github.com/atinylittleshell/autotab/internal/settings"
	"github.com/atinylittleshell/autotab/pkg/debounce"
	"github.com/atinylittleshell/autotab/pkg/page"
	"github.com/atinylittleshell/autotab/pkg/protocol"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type fakeSender struct {
	requests []protocol.Request
	err      error
}

func (s *fakeSender) Send(req protocol.Request) error {
	if s.err != nil {
		return s.err
	}
	s.requests = append(s.requests, req)
	return nil
}

func (s *fakeSender) last(t *testing.T) protocol.Request {
	t.Helper()
	require.NotEmpty(t, s.requests, "expected a request")
	return s.requests[len(s.requests)-1]
}

type recordingAnalytics struct {
	outcomes []Outcome
}

func (r *recordingAnalytics) Record(o Outcome) {
	r.outcomes = append(r.outcomes, o)
}

var fieldRect = page.Rect{Left: 10, Top: 20, Width: 300, Height: 40}

type harness struct {
	doc       *page.Document
	field     *page.Element
	observer  *Observer
	sender    *fakeSender
	clock     *debounce.ManualScheduler
	analytics *recordingAnalytics
}

func newHarness(t *testing.T, opts ...Option) *harness {
	t.Helper()
	h := &harness{
		doc:       page.NewDocument(),
		sender:    &fakeSender{},
		clock:     debounce.NewManualScheduler(),
		analytics: &recordingAnalytics{},
	}
	h.field = h.doc.NewElement("editor", page.KindTextArea, fieldRect)

	opts = append([]Option{
		WithScheduler(h.clock),
		WithLogger(zap.NewNop()),
		WithAnalytics(h.analytics),
	}, opts...)
	h.observer = NewObserver(h.doc, h.sender, opts...)
	unbind := Bind(h.doc, h.observer)
	t.Cleanup(unbind)

	h.doc.Focus(h.field)
	return h
}

// typeKeys types text one rune at a time, one input event per rune.
func (h *harness) typeKeys(text string, gap time.Duration) {
	for _, r := range text {
		h.field.Type(string(r))
		h.clock.Advance(gap)
	}
}

func (h *harness) settle() {
	h.clock.Advance(DefaultDebounce)
}

func (h *harness) respond(completion string) {
	req := h.sender.requests[len(h.sender.requests)-1]
	h.observer.Handle(ResponseReceived(req.Reply(completion)))
}

func (h *harness) overlays() []*page.Node {
	return h.doc.Nodes(OverlayClass)
}

// suggest drives the field to a shown suggestion.
func (h *harness) suggest(t *testing.T, text, completion string) {
	t.Helper()
	h.field.Type(text)
	h.settle()
	h.respond(completion)
	require.Equal(t, StateSuggested, h.observer.State())
}

func TestFocusTracksOnlyEditableFields(t *testing.T) {
	h := newHarness(t)
	assert.Equal(t, StateClean, h.observer.State())
	assert.Equal(t, h.field, h.observer.Field())

	button := h.doc.NewElement("submit", page.KindButton, page.Rect{})
	h.doc.Focus(button)
	assert.Equal(t, StateIdle, h.observer.State())
	assert.Nil(t, h.observer.Field())

	for _, kind := range []page.ElementKind{page.KindTextInput, page.KindTextArea, page.KindContentEditable} {
		el := h.doc.NewElement("el-"+kind.String(), kind, page.Rect{})
		h.doc.Focus(el)
		assert.Equal(t, StateClean, h.observer.State(), kind.String())
	}

	h.doc.Focus(nil)
	assert.Equal(t, StateIdle, h.observer.State())
}

func TestShortPromptsNeverRequest(t *testing.T) {
	h := newHarness(t)

	h.typeKeys("abcd", 50*time.Millisecond)
	h.clock.Advance(time.Second)

	assert.Empty(t, h.sender.requests)
	assert.Equal(t, StateClean, h.observer.State())
	assert.Equal(t, 0, h.clock.Active())

	// long text, but only four graphemes before the caret
	h.field.Replace("abcdefgh", 4)
	h.field.DispatchInput()
	h.clock.Advance(time.Second)
	assert.Empty(t, h.sender.requests)

	// a letter plus a combining accent is one character
	h.field.Replace("", 0)
	h.field.Type("e\u0301e\u0301e\u0301e\u0301")
	h.clock.Advance(time.Second)
	assert.Empty(t, h.sender.requests)
}

func TestDroppingBelowFloorCancelsTimer(t *testing.T) {
	h := newHarness(t)

	h.typeKeys("Hello", 0)
	assert.Equal(t, StateDebouncing, h.observer.State())
	assert.Equal(t, 1, h.clock.Active())

	h.field.Backspace(1)
	assert.Equal(t, StateClean, h.observer.State())
	assert.Equal(t, 0, h.clock.Active())

	h.clock.Advance(time.Second)
	assert.Empty(t, h.sender.requests)
}

func TestDebounceWaitsForQuietPeriod(t *testing.T) {
	h := newHarness(t)

	h.typeKeys("Hello there", 100*time.Millisecond)
	assert.Empty(t, h.sender.requests, "typing faster than the debounce never fires")
	assert.Equal(t, 1, h.clock.Active(), "only one timer is ever pending")

	h.clock.Advance(DefaultDebounce - 100*time.Millisecond - time.Millisecond)
	assert.Empty(t, h.sender.requests)

	h.clock.Advance(time.Millisecond)
	require.Len(t, h.sender.requests, 1)
	req := h.sender.requests[0]
	assert.Equal(t, protocol.TypeTextBoxUpdated, req.Type)
	assert.Equal(t, "Hello there", req.TextBoxContent)
	assert.Equal(t, 11, req.CursorPosition)
	assert.Equal(t, "editor", req.FieldID)
	assert.Equal(t, StateAwaiting, h.observer.State())
}

func TestOnlyLatestRequestRenders(t *testing.T) {
	h := newHarness(t)

	h.typeKeys("Hello there", 0)
	h.settle()
	first := h.sender.last(t)

	h.typeKeys(" friend", 0)
	assert.Equal(t, StateDebouncing, h.observer.State())
	h.settle()
	second := h.sender.last(t)
	require.Greater(t, second.RequestID, first.RequestID)

	h.observer.Handle(ResponseReceived(first.Reply("stale words")))
	assert.Empty(t, h.overlays(), "a superseded response changes nothing")
	assert.Equal(t, StateAwaiting, h.observer.State())
	assert.Equal(t, 1, h.observer.Reporter().Count(failure.KindStale))

	h.observer.Handle(ResponseReceived(second.Reply("of mine")))
	require.Len(t, h.overlays(), 1)
	assert.Equal(t, "of mine", h.overlays()[0].Text)
}

func TestResponseWhileDebouncingIsDropped(t *testing.T) {
	h := newHarness(t)

	h.typeKeys("Hello there", 0)
	h.settle()
	req := h.sender.last(t)

	h.typeKeys("!", 0)
	h.observer.Handle(ResponseReceived(req.Reply("late")))
	assert.Empty(t, h.overlays())
	assert.Equal(t, StateDebouncing, h.observer.State())
}

func TestAcceptSplicesAtRecordedCursor(t *testing.T) {
	h := newHarness(t)
	h.suggest(t, "The quick ", "brown fox")
	assert.Equal(t, 10, h.field.Cursor())

	changes := h.field.ChangeCount()
	consumed := h.doc.KeyDown(string(KeyTab))

	assert.True(t, consumed, "Tab must not move focus")
	assert.Equal(t, "The quick brown fox", h.field.Text())
	assert.Equal(t, 19, h.field.Cursor())
	assert.Equal(t, changes+1, h.field.ChangeCount(), "exactly one change notification")
	assert.Empty(t, h.overlays())

	_, ok := h.observer.Suggestion()
	assert.False(t, ok)

	require.Len(t, h.analytics.outcomes, 1)
	assert.Equal(t, OutcomeAccepted, h.analytics.outcomes[0].Kind)
	assert.Equal(t, "The quick ", h.analytics.outcomes[0].Prompt)

	// the change notification starts the next round
	assert.Equal(t, StateDebouncing, h.observer.State())
}

func TestCaretMovedBeforeResponseDropsIt(t *testing.T) {
	h := newHarness(t)
	h.typeKeys("Hello there, how ar", 50*time.Millisecond)
	h.settle()
	require.Equal(t, StateAwaiting, h.observer.State())

	// arrow keys and clicks move the caret without an input event
	h.field.SetCursor(5)
	h.respond("e you?")

	assert.Equal(t, StateClean, h.observer.State())
	assert.Empty(t, h.overlays())
	assert.Equal(t, 1, h.observer.Reporter().Count(failure.KindStale))

	assert.False(t, h.doc.KeyDown(string(KeyTab)))
	assert.Equal(t, "Hello there, how ar", h.field.Text())
}

func TestSuggestionKeepsRequestCursor(t *testing.T) {
	h := newHarness(t)
	h.suggest(t, "Hello there, how ar", "e you?")

	// moving the caret after the suggestion is shown does not move the splice
	h.field.SetCursor(5)
	require.True(t, h.doc.KeyDown(string(KeyTab)))
	assert.Equal(t, "Hello there, how are you?", h.field.Text())
	assert.Equal(t, 25, h.field.Cursor())
}

func TestAcceptInsertsInTheMiddle(t *testing.T) {
	h := newHarness(t)

	h.field.Replace("Hello world", 5)
	h.field.DispatchInput()
	h.settle()
	req := h.sender.last(t)
	assert.Equal(t, "Hello", req.TextBeforeCursor())

	h.respond(" there")
	require.True(t, h.doc.KeyDown(string(KeyTab)))
	assert.Equal(t, "Hello there world", h.field.Text())
	assert.Equal(t, 11, h.field.Cursor())
}

func TestAcceptRejectsWhenTextChanged(t *testing.T) {
	h := newHarness(t)
	h.suggest(t, "The quick ", "brown fox")

	// a script edit that fires no input event
	h.field.Replace("The quick red ", 14)

	changes := h.field.ChangeCount()
	consumed := h.doc.KeyDown(string(KeyTab))

	assert.False(t, consumed)
	assert.Equal(t, "The quick red ", h.field.Text())
	assert.Equal(t, changes, h.field.ChangeCount())
	assert.Empty(t, h.overlays())
	assert.Equal(t, StateClean, h.observer.State())
	require.Len(t, h.analytics.outcomes, 1)
	assert.Equal(t, OutcomeRejected, h.analytics.outcomes[0].Kind)
}

func TestTabWithoutSuggestionIsNotConsumed(t *testing.T) {
	h := newHarness(t)
	h.typeKeys("Hello there", 0)
	assert.False(t, h.doc.KeyDown(string(KeyTab)))
	assert.False(t, h.doc.KeyDown("a"))
}

func TestDismissalRemovesEverything(t *testing.T) {
	tests := []struct {
		name    string
		dismiss func(h *harness)
		cause   string
	}{
		{"escape", func(h *harness) { h.doc.KeyDown(string(KeyEscape)) }, "escape"},
		{"scroll", func(h *harness) { h.doc.Scroll(0, 120) }, "scroll"},
		{"click outside", func(h *harness) { h.doc.Click(nil) }, "click"},
		{"click another element", func(h *harness) {
			h.doc.Click(h.doc.NewElement("other", page.KindOther, page.Rect{}))
		}, "click"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newHarness(t)
			h.suggest(t, "Hello there", " friend")
			require.Len(t, h.overlays(), 1)

			tt.dismiss(h)

			assert.Empty(t, h.overlays())
			assert.Equal(t, 0, h.clock.Active())
			assert.Equal(t, StateClean, h.observer.State())
			require.Len(t, h.analytics.outcomes, 1)
			assert.Equal(t, OutcomeDismissed, h.analytics.outcomes[0].Kind)
			assert.Equal(t, tt.cause, h.analytics.outcomes[0].Cause)
		})
	}
}

func TestDismissalCancelsPendingTimerAndRequest(t *testing.T) {
	h := newHarness(t)

	h.typeKeys("Hello there", 0)
	require.Equal(t, 1, h.clock.Active())
	h.doc.Scroll(0, 10)
	assert.Equal(t, 0, h.clock.Active())
	h.clock.Advance(time.Second)
	assert.Empty(t, h.sender.requests)

	h.typeKeys("!", 0)
	h.settle()
	req := h.sender.last(t)
	assert.False(t, h.doc.KeyDown(string(KeyEscape)), "nothing was shown")
	h.observer.Handle(ResponseReceived(req.Reply("ignored")))
	assert.Empty(t, h.overlays())
}

func TestEscapeConsumedOnlyWithSuggestion(t *testing.T) {
	h := newHarness(t)
	h.suggest(t, "Hello there", " friend")
	assert.True(t, h.doc.KeyDown(string(KeyEscape)))
	assert.False(t, h.doc.KeyDown(string(KeyEscape)))
}

func TestClickInsideFieldKeepsSuggestion(t *testing.T) {
	h := newHarness(t)
	h.suggest(t, "Hello there", " friend")

	h.doc.Click(h.field)
	assert.Len(t, h.overlays(), 1)
	assert.Equal(t, StateSuggested, h.observer.State())
}

func TestTypingReplacesSuggestion(t *testing.T) {
	h := newHarness(t)
	h.suggest(t, "Hello there", " friend")

	h.typeKeys(" m", 0)
	assert.Empty(t, h.overlays())
	assert.Equal(t, StateDebouncing, h.observer.State())
	require.Len(t, h.analytics.outcomes, 1)
	assert.Equal(t, "superseded", h.analytics.outcomes[0].Cause)
}

func TestBlurDiscardsEverything(t *testing.T) {
	h := newHarness(t)
	h.suggest(t, "Hello there", " friend")

	h.doc.Focus(nil)
	assert.Equal(t, StateIdle, h.observer.State())
	assert.Empty(t, h.overlays())

	h.doc.Focus(h.field)
	h.typeKeys("!", 0)
	h.doc.RemoveElement(h.field)
	assert.Equal(t, StateIdle, h.observer.State())
	assert.Equal(t, 0, h.clock.Active())
}

func TestResponseForAbandonedFieldIsDropped(t *testing.T) {
	h := newHarness(t)
	other := h.doc.NewElement("notes", page.KindTextInput, page.Rect{Top: 200, Height: 20})

	h.typeKeys("Hello there", 0)
	h.settle()
	fromEditor := h.sender.last(t)

	h.doc.Focus(other)
	other.Type("Dear sir")
	h.settle()
	fromNotes := h.sender.last(t)

	// same request id, different field
	forged := fromNotes.Reply("x")
	forged.FieldID = fromEditor.FieldID
	h.observer.Handle(ResponseReceived(forged))
	h.observer.Handle(ResponseReceived(fromEditor.Reply("stale")))
	assert.Empty(t, h.overlays())
	assert.Equal(t, StateAwaiting, h.observer.State())

	h.observer.Handle(ResponseReceived(fromNotes.Reply(" or madam")))
	require.Len(t, h.overlays(), 1)
	assert.Equal(t, " or madam", h.overlays()[0].Text)
}

func TestRefocusingSameFieldDropsOldResponse(t *testing.T) {
	h := newHarness(t)

	h.typeKeys("Hello there", 0)
	h.settle()
	req := h.sender.last(t)

	h.doc.Focus(nil)
	h.doc.Focus(h.field)
	h.observer.Handle(ResponseReceived(req.Reply("late")))

	assert.Empty(t, h.overlays())
	assert.Equal(t, StateClean, h.observer.State())
}

func TestSequenceNumbersNeverReset(t *testing.T) {
	h := newHarness(t)
	other := h.doc.NewElement("notes", page.KindTextInput, page.Rect{})

	h.typeKeys("Hello there", 0)
	h.settle()
	h.doc.Focus(other)
	other.Type("Second field")
	h.settle()

	require.Len(t, h.sender.requests, 2)
	assert.Equal(t, uint64(1), h.sender.requests[0].RequestID)
	assert.Equal(t, uint64(2), h.sender.requests[1].RequestID)
	assert.Equal(t, uint64(2), h.observer.LastRequestID())
}

func TestErrorResponsesShowNothing(t *testing.T) {
	tests := []struct {
		name string
		kind failure.Kind
	}{
		{"transport", failure.KindTransport},
		{"protocol", failure.KindProtocol},
		{"config", failure.KindConfig},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newHarness(t)
			h.typeKeys("Hello there", 0)
			h.settle()
			req := h.sender.last(t)

			h.observer.Handle(ResponseReceived(req.ReplyError(string(tt.kind), errors.New("boom"))))
			assert.Empty(t, h.overlays())
			assert.Equal(t, StateClean, h.observer.State())
			assert.Equal(t, 1, h.observer.Reporter().Count(tt.kind))
		})
	}
}

func TestEmptyCompletionShowsNothing(t *testing.T) {
	h := newHarness(t)
	h.typeKeys("Hello there", 0)
	h.settle()
	h.respond("")

	assert.Empty(t, h.overlays())
	assert.Equal(t, StateClean, h.observer.State())
}

func TestSendFailureReturnsToClean(t *testing.T) {
	h := newHarness(t)
	h.sender.err = errors.New("connection reset")

	h.typeKeys("Hello there", 0)
	h.settle()

	assert.Equal(t, StateClean, h.observer.State())
	assert.Equal(t, 1, h.observer.Reporter().Count(failure.KindTransport))
}

func TestDisabledSettingsSilenceObserver(t *testing.T) {
	disabled := settings.Defaults()
	disabled.Enabled = false

	h := newHarness(t, WithSettings(disabled))
	h.typeKeys("Hello there", 0)
	h.clock.Advance(time.Second)
	assert.Empty(t, h.sender.requests)
	assert.Equal(t, 0, h.clock.Active())

	h.observer.Handle(SettingsChanged(settings.Defaults()))
	h.typeKeys("!", 0)
	h.settle()
	h.respond(" Bye")
	require.Len(t, h.overlays(), 1)

	h.observer.Handle(SettingsChanged(disabled))
	assert.Empty(t, h.overlays())
	assert.Equal(t, StateClean, h.observer.State())
	assert.False(t, h.doc.KeyDown(string(KeyTab)))
}

func TestCustomDebounceAndFloor(t *testing.T) {
	h := newHarness(t, WithDebounce(200*time.Millisecond), WithMinPromptLength(2))

	h.typeKeys("Hi", 0)
	h.clock.Advance(200 * time.Millisecond)
	require.Len(t, h.sender.requests, 1)
	assert.Equal(t, "Hi", h.sender.requests[0].TextBeforeCursor())
}

func TestTypeAndAcceptCompletion(t *testing.T) {
	h := newHarness(t)
	h.doc.Scroll(0, 100)

	h.typeKeys("Hello there, how ar", 30*time.Millisecond)
	h.settle()

	require.Len(t, h.sender.requests, 1)
	assert.Equal(t, "Hello there, how ar", h.sender.requests[0].TextBeforeCursor())

	h.respond("e you?")
	nodes := h.overlays()
	require.Len(t, nodes, 1)
	assert.Equal(t, "e you?", nodes[0].Text)
	assert.Equal(t, fieldRect.Bottom()+100, nodes[0].Top)
	assert.Equal(t, fieldRect.Left, nodes[0].Left)
	assert.False(t, nodes[0].PointerEvents)

	require.True(t, h.doc.KeyDown(string(KeyTab)))
	assert.Equal(t, "Hello there, how are you?", h.field.Text())
	assert.Empty(t, h.overlays())
}
