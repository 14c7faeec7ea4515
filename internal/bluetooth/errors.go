package bluetooth

import (
	"errors"
	"fmt"
)

// FailureKind classifies connection-level failures. Malformed frames are not
// failures; they are dropped silently by the decoders.
type FailureKind string

const (
	FailDiscovery  FailureKind = "discovery_timeout"
	FailConnect    FailureKind = "connect_failure"
	FailSubscribe  FailureKind = "subscribe_failure"
	FailWrite      FailureKind = "write_failure"
	FailDisconnect FailureKind = "unexpected_disconnect"
)

// OpError wraps an adapter operation failure with its classification.
type OpError struct {
	Kind FailureKind
	Err  error
}

func (e *OpError) Error() string {
	if e == nil {
		return "<nil>"
	}
	if e.Err == nil {
		return string(e.Kind)
	}
	return fmt.Sprintf("%s: %v", e.Kind, e.Err)
}

func (e *OpError) Unwrap() error { return e.Err }

// Is allows errors.Is to compare OpError values by kind.
func (e *OpError) Is(target error) bool {
	if e == nil {
		return false
	}
	t, ok := target.(*OpError)
	if !ok {
		return false
	}
	return e.Kind == t.Kind
}

// Sentinel values for use with errors.Is.
var (
	ErrDiscoveryTimeout     = &OpError{Kind: FailDiscovery}
	ErrConnectFailure       = &OpError{Kind: FailConnect}
	ErrSubscribeFailure     = &OpError{Kind: FailSubscribe}
	ErrWriteFailure         = &OpError{Kind: FailWrite}
	ErrUnexpectedDisconnect = &OpError{Kind: FailDisconnect}
)

// NewOpError classifies err, preserving it for unwrapping.
func NewOpError(kind FailureKind, err error) error {
	return &OpError{Kind: kind, Err: err}
}

// KindOf returns the failure kind of err, or "" if it carries none.
func KindOf(err error) FailureKind {
	var oe *OpError
	if errors.As(err, &oe) {
		return oe.Kind
	}
	return ""
}
