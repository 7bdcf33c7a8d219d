package failure

import (
	"context"
	"errors"
	"fmt"
	"net/http"
)

// Kind is the taxonomy bucket an error belongs to.
type Kind string

const (
	KindNone      Kind = ""
	KindConfig    Kind = "config"
	KindTransport Kind = "transport"
	KindProtocol  Kind = "protocol"
	KindStale     Kind = "stale"
)

// ErrStaleResponse marks a response that arrived after it was superseded.
// It is not a failure and is never surfaced to the user.
var ErrStaleResponse = errors.New("stale response")

// ConfigError means the feature is disabled or misconfigured, e.g. no API
// credential is stored.
type ConfigError struct {
	Reason string
}

func (e *ConfigError) Error() string {
	return "config: " + e.Reason
}

// TransportError covers network failures, timeouts and non-success HTTP
// statuses. Status is 0 when no HTTP response was received.
type TransportError struct {
	Status     int
	StatusText string
	Err        error
}

func (e *TransportError) Error() string {
	switch {
	case e.Status != 0 && e.Err != nil:
		return fmt.Sprintf("transport: API request failed: %s: %v", e.StatusText, e.Err)
	case e.Status != 0:
		return fmt.Sprintf("transport: API request failed: %s", e.StatusText)
	case e.Err != nil:
		return "transport: " + e.Err.Error()
	default:
		return "transport: request failed"
	}
}

func (e *TransportError) Unwrap() error { return e.Err }

// ProtocolError means the API answered with a body that lacks the expected
// fields.
type ProtocolError struct {
	Detail string
	Err    error
}

func (e *ProtocolError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("protocol: %s: %v", e.Detail, e.Err)
	}
	return "protocol: " + e.Detail
}

func (e *ProtocolError) Unwrap() error { return e.Err }

// NewConfigError builds a ConfigError with a formatted reason.
func NewConfigError(format string, args ...any) error {
	return &ConfigError{Reason: fmt.Sprintf(format, args...)}
}

// NewHTTPError builds a TransportError for an HTTP status code.
func NewHTTPError(status int, err error) error {
	return &TransportError{
		Status:     status,
		StatusText: fmt.Sprintf("%d %s", status, http.StatusText(status)),
		Err:        err,
	}
}

// KindOf classifies err. Context cancellation counts as stale: a cancelled
// request was superseded by a newer one.
func KindOf(err error) Kind {
	if err == nil {
		return KindNone
	}

	var configErr *ConfigError
	var transportErr *TransportError
	var protocolErr *ProtocolError

	switch {
	case errors.Is(err, ErrStaleResponse), errors.Is(err, context.Canceled):
		return KindStale
	case errors.As(err, &configErr):
		return KindConfig
	case errors.As(err, &protocolErr):
		return KindProtocol
	case errors.As(err, &transportErr):
		return KindTransport
	default:
		return KindTransport
	}
}

// ParseKind maps a taxonomy name back to its Kind, defaulting to transport
// for unknown non-empty names.
func ParseKind(s string) Kind {
	switch Kind(s) {
	case KindNone, KindConfig, KindTransport, KindProtocol, KindStale:
		return Kind(s)
	default:
		return KindTransport
	}
}

// FromKind rebuilds a typed error from a taxonomy name and message received
// over the wire, so remote failures are reported like local ones.
func FromKind(kind Kind, msg string) error {
	switch kind {
	case KindNone:
		return nil
	case KindConfig:
		return &ConfigError{Reason: msg}
	case KindProtocol:
		return &ProtocolError{Detail: msg}
	case KindStale:
		return fmt.Errorf("%w: %s", ErrStaleResponse, msg)
	default:
		return &TransportError{Err: errors.New(msg)}
	}
}
