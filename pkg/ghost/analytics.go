package ghost

type OutcomeKind string

const (
	OutcomeAccepted  OutcomeKind = "accepted"
	OutcomeDismissed OutcomeKind = "dismissed"
	OutcomeRejected  OutcomeKind = "rejected"
)

// Outcome is what happened to one shown suggestion.
type Outcome struct {
	Field      string
	Prompt     string
	Suggestion string
	Kind       OutcomeKind
	// Cause is set for dismissals and rejections, e.g. "escape" or "scroll".
	Cause string
}

// Analytics receives suggestion outcomes. Record is called on the observer's
// goroutine and should not block.
type Analytics interface {
	Record(Outcome)
}

type discardAnalytics struct{}

func (discardAnalytics) Record(Outcome) {}
