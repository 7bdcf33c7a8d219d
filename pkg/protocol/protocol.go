// Package protocol defines the messages exchanged between the page context
// (which observes editable fields) and the background context (which talks
// to the completion API). Messages are JSON objects; over a socket they are
// sent one per line.
package protocol

import (
	"encoding/json"
	"fmt"
)

type MessageType string

const (
	// TypeTextBoxUpdated is sent by the page when the user paused typing.
	TypeTextBoxUpdated MessageType = "TEXT_BOX_UPDATED"
	// TypeCompletionReceived is pushed back by the background context.
	TypeCompletionReceived MessageType = "COMPLETION_RECEIVED"
)

// Request asks the background context for a continuation.
type Request struct {
	Type MessageType `json:"type"`
	// TextBoxContent is the full text of the field.
	TextBoxContent string `json:"textBoxContent"`
	// CursorPosition is the caret offset, in runes, within TextBoxContent.
	CursorPosition int `json:"cursorPosition"`
	// RequestID is a per-page increasing sequence number. It is echoed in
	// the response so the page can drop superseded results.
	RequestID uint64 `json:"requestId"`
	// FieldID identifies the field the request was issued for.
	FieldID string `json:"fieldId,omitempty"`
}

// Response carries either a completion or an error, never both.
type Response struct {
	Type       MessageType `json:"type"`
	Completion string      `json:"completion,omitempty"`
	Error      string      `json:"error,omitempty"`
	// ErrorKind is the failure taxonomy name ("config", "transport",
	// "protocol") when Error is set.
	ErrorKind string `json:"errorKind,omitempty"`
	RequestID uint64 `json:"requestId"`
	FieldID   string `json:"fieldId,omitempty"`
}

// NewRequest builds a TEXT_BOX_UPDATED message.
func NewRequest(requestID uint64, fieldID, text string, cursor int) Request {
	return Request{
		Type:           TypeTextBoxUpdated,
		TextBoxContent: text,
		CursorPosition: cursor,
		RequestID:      requestID,
		FieldID:        fieldID,
	}
}

// TextBeforeCursor returns the prompt part of the request: the text up to
// the caret, with the caret clamped to the text.
func (r Request) TextBeforeCursor() string {
	return TextBeforeCursor(r.TextBoxContent, r.CursorPosition)
}

// Reply builds the COMPLETION_RECEIVED message answering r.
func (r Request) Reply(completion string) Response {
	return Response{
		Type:       TypeCompletionReceived,
		Completion: completion,
		RequestID:  r.RequestID,
		FieldID:    r.FieldID,
	}
}

// ReplyError builds an error COMPLETION_RECEIVED message answering r.
func (r Request) ReplyError(kind string, err error) Response {
	return Response{
		Type:      TypeCompletionReceived,
		Error:     err.Error(),
		ErrorKind: kind,
		RequestID: r.RequestID,
		FieldID:   r.FieldID,
	}
}

// Failed reports whether the response carries an error.
func (r Response) Failed() bool {
	return r.Error != ""
}

// TextBeforeCursor slices text at a rune offset, clamping out-of-range
// offsets.
func TextBeforeCursor(text string, cursor int) string {
	runes := []rune(text)
	if cursor < 0 {
		cursor = 0
	}
	if cursor > len(runes) {
		cursor = len(runes)
	}
	return string(runes[:cursor])
}

// DecodeRequest parses and validates a request line.
func DecodeRequest(data []byte) (Request, error) {
	var req Request
	if err := json.Unmarshal(data, &req); err != nil {
		return Request{}, fmt.Errorf("decoding request: %w", err)
	}
	if req.Type != TypeTextBoxUpdated {
		return Request{}, fmt.Errorf("unexpected message type %q", req.Type)
	}
	return req, nil
}

// DecodeResponse parses and validates a response line.
func DecodeResponse(data []byte) (Response, error) {
	var resp Response
	if err := json.Unmarshal(data, &resp); err != nil {
		return Response{}, fmt.Errorf("decoding response: %w", err)
	}
	if resp.Type != TypeCompletionReceived {
		return Response{}, fmt.Errorf("unexpected message type %q", resp.Type)
	}
	return resp, nil
}
