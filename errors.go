package amqp

import (
	"fmt"

	"github.com/pkg/errors"

	"github.com/relaylabs/amqp-jms-go/internal/encoding"
)

// Error kinds from spec.md §7. Kept as a small closed set rather than a
// class hierarchy, consistent with the tagged-variant style the rest of
// this package uses for messages and delivery states.
type ErrorKind uint8

const (
	ErrKindConfiguration ErrorKind = iota
	ErrKindTransport
	ErrKindProtocol
	ErrKindResource
	ErrKindDelivery
	ErrKindApplication
)

func (k ErrorKind) String() string {
	switch k {
	case ErrKindConfiguration:
		return "configuration"
	case ErrKindTransport:
		return "transport"
	case ErrKindProtocol:
		return "protocol"
	case ErrKindResource:
		return "resource"
	case ErrKindDelivery:
		return "delivery"
	case ErrKindApplication:
		return "application"
	default:
		return "unknown"
	}
}

// Error is the error type returned across the engine's public surface. It
// carries the taxonomy kind from spec.md §7 plus, where applicable, the
// wire-level AMQP error that caused it.
type Error struct {
	Kind  ErrorKind
	inner error
	Wire  *encoding.Error
}

func (e *Error) Error() string {
	if e.Wire != nil {
		return fmt.Sprintf("amqp: %s error: %s", e.Kind, e.Wire.Error())
	}
	if e.inner != nil {
		return fmt.Sprintf("amqp: %s error: %s", e.Kind, e.inner.Error())
	}
	return fmt.Sprintf("amqp: %s error", e.Kind)
}

func (e *Error) Unwrap() error { return e.inner }

func newError(kind ErrorKind, format string, args ...any) *Error {
	return &Error{Kind: kind, inner: fmt.Errorf(format, args...)}
}

func wrapError(kind ErrorKind, inner error, msg string) *Error {
	return &Error{Kind: kind, inner: errors.Wrap(inner, msg)}
}

func wireError(kind ErrorKind, wire *encoding.Error) *Error {
	return &Error{Kind: kind, Wire: wire}
}

// LinkError wraps a delivery/resource-level failure observed on a link,
// either from a remote detach's error or from a disposition outcome other
// than accepted.
type LinkError struct {
	*Error
}

// DeliveryError distinguishes the three terminal disposition outcomes
// other than accepted (spec.md §4.4.1, §7 kind 5).
type DeliveryError struct {
	*Error
	Outcome string // "rejected", "released", "modified"
}

// Sentinel errors for common failures; each carries its own kind
// (application, resource or delivery).
var (
	ErrIllegalState        = newError(ErrKindApplication, "illegal state")
	ErrNoTransportListener = newError(ErrKindApplication, "transport listener not set before connect")
	ErrInvalidDestination  = newError(ErrKindResource, "invalid destination")
	ErrSendTimeout         = newError(ErrKindDelivery, "send timed out waiting for disposition")
	ErrSubscriptionInUse   = newError(ErrKindResource, "durable subscription already in use")
)
