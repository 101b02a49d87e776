package chat

import (
	"errors"
	"fmt"
)

// Sentinel errors for the chat domain.
var (
	ErrValidation        = errors.New("validation error")
	ErrNotFound          = errors.New("not found")
	ErrStorage           = errors.New("storage error")
	ErrTransport         = errors.New("transport error")
	ErrUpstreamRejected  = errors.New("upstream rejected")
	ErrMalformedResponse = errors.New("malformed response")
	ErrExtraction        = errors.New("extraction error")
)

// ErrorKind classifies provider-side failures.
type ErrorKind int

const (
	KindTransport ErrorKind = iota + 1
	KindUpstreamRejected
	KindMalformedResponse
)

// String returns the metric/log label for the kind.
func (k ErrorKind) String() string {
	switch k {
	case KindTransport:
		return "transport"
	case KindUpstreamRejected:
		return "upstream_rejected"
	case KindMalformedResponse:
		return "malformed_response"
	default:
		return "unknown"
	}
}

func (k ErrorKind) sentinel() error {
	switch k {
	case KindTransport:
		return ErrTransport
	case KindUpstreamRejected:
		return ErrUpstreamRejected
	case KindMalformedResponse:
		return ErrMalformedResponse
	default:
		return nil
	}
}

// ProviderError is the normalized failure shape every adapter returns.
// errors.Is matches the sentinel for its Kind.
type ProviderError struct {
	Kind       ErrorKind
	Provider   string
	StatusCode int    // set for KindUpstreamRejected
	Body       string // truncated upstream body
	Err        error  // underlying cause, if any
}

// Error returns a formatted error string including provider, kind, and detail.
func (e *ProviderError) Error() string {
	switch {
	case e.Kind == KindUpstreamRejected && e.StatusCode != 0:
		return fmt.Sprintf("%s: HTTP %d: %s", e.Provider, e.StatusCode, e.Body)
	case e.Err != nil:
		return fmt.Sprintf("%s: %s: %v", e.Provider, e.Kind, e.Err)
	default:
		return fmt.Sprintf("%s: %s", e.Provider, e.Kind)
	}
}

// Unwrap returns the underlying cause.
func (e *ProviderError) Unwrap() error { return e.Err }

// Is reports whether target is the sentinel for this error's kind.
func (e *ProviderError) Is(target error) bool {
	s := e.Kind.sentinel()
	return s != nil && target == s
}

// HTTPStatus returns the upstream HTTP status code, or 0 if none was received.
func (e *ProviderError) HTTPStatus() int { return e.StatusCode }

// ReplyError reports that the inbound message was persisted but no assistant
// reply was produced. Message is the saved inbound message.
type ReplyError struct {
	Message *Message
	Err     error
}

// Error returns the cause prefixed with the saved message ID.
func (e *ReplyError) Error() string {
	return fmt.Sprintf("message %s saved, reply failed: %v", e.Message.ID, e.Err)
}

// Unwrap returns the provider failure.
func (e *ReplyError) Unwrap() error { return e.Err }
