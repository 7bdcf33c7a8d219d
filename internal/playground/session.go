package playground

import (
	"context"

	"github.com/atinylittleshell/autotab/internal/settings"
	"github.com/atinylittleshell/autotab/pkg/ghost"
	"github.com/atinylittleshell/autotab/pkg/page"
	"github.com/atinylittleshell/autotab/pkg/protocol"
	"github.com/hashicorp/go-multierror"
)

// FieldID is the id of the playground's only editable field.
const FieldID = "playground"

// Transport carries requests to a coordinator, in process or over a socket.
type Transport interface {
	ghost.Sender
	Close() error
}

// Connect opens a transport that pushes responses to deliver.
type Connect func(deliver func(protocol.Response)) (Transport, error)

// Session is a page with one text area, observed by a running ghost.Loop.
type Session struct {
	Doc   *page.Document
	Field *page.Element
	Loop  *ghost.Loop

	transport Transport
	unbind    func()
	cancel    context.CancelFunc
	done      chan error
}

// Start builds the page, connects the transport and runs the observer loop
// until Close.
func Start(ctx context.Context, connect Connect, opts ...ghost.Option) (*Session, error) {
	doc := page.NewDocument()
	field := doc.NewElement(FieldID, page.KindTextArea, page.Rect{})

	var loop *ghost.Loop
	transport, err := connect(func(resp protocol.Response) {
		loop.Post(ghost.ResponseReceived(resp))
	})
	if err != nil {
		return nil, err
	}

	loop = ghost.NewLoop(ghost.NewObserver(doc, transport, opts...))

	ctx, cancel := context.WithCancel(ctx)
	s := &Session{
		Doc:       doc,
		Field:     field,
		Loop:      loop,
		transport: transport,
		cancel:    cancel,
		done:      make(chan error, 1),
	}
	go func() { s.done <- loop.Run(ctx) }()

	s.unbind = ghost.Bind(doc, loop)
	doc.Focus(field)
	return s, nil
}

// FollowSettings forwards every snapshot from updates to the observer until
// the channel closes.
func (s *Session) FollowSettings(updates <-chan settings.Snapshot) {
	go func() {
		for snapshot := range updates {
			s.Loop.Post(ghost.SettingsChanged(snapshot))
		}
	}()
}

// Snapshot is what the status line shows.
type Snapshot struct {
	State      ghost.State
	RequestID  uint64
	Suggestion string
	Visible    bool
}

func (s *Session) Snapshot() Snapshot {
	var snap Snapshot
	s.Loop.Do(func(o *ghost.Observer) {
		snap.State = o.State()
		snap.RequestID = o.LastRequestID()
		snap.Suggestion, snap.Visible = o.Suggestion()
	})
	return snap
}

// Close stops the loop and closes the transport.
func (s *Session) Close() error {
	var result error
	s.unbind()
	s.cancel()
	if err := <-s.done; err != nil {
		result = multierror.Append(result, err)
	}
	if err := s.transport.Close(); err != nil {
		result = multierror.Append(result, err)
	}
	return result
}
