package errs

import (
	"errors"
	"fmt"
)

// ErrNotFound is returned by the store when a lookup does not resolve.
var ErrNotFound = errors.New("not found")

type Kind uint8

const (
	KindInternal Kind = iota
	KindBadRequest
	KindNotFound
)

func (k Kind) String() string {
	switch k {
	case KindBadRequest:
		return "bad_request"
	case KindNotFound:
		return "not_found"
	default:
		return "internal"
	}
}

type Reason string

const (
	ReasonNotFound             Reason = "NOT_FOUND"
	ReasonInvalidRange         Reason = "INVALID_RANGE"
	ReasonInvalidDemand        Reason = "INVALID_DEMAND"
	ReasonInactiveClient       Reason = "INACTIVE_CLIENT"
	ReasonSpaceUnavailable     Reason = "SPACE_UNAVAILABLE"
	ReasonResourceUnavailable  Reason = "RESOURCE_UNAVAILABLE"
	ReasonTimeConflict         Reason = "TIME_CONFLICT"
	ReasonInsufficientQuantity Reason = "INSUFFICIENT_QUANTITY"
	ReasonInvalidTransition    Reason = "INVALID_TRANSITION"
	ReasonTerminalState        Reason = "TERMINAL_STATE"
	ReasonNotViewable          Reason = "NOT_VIEWABLE"
	ReasonActiveReservations   Reason = "ACTIVE_RESERVATIONS"
)

// Error is a domain rule violation. It is built where the rule is checked and
// travels to the transport layer unchanged.
type Error struct {
	Kind       Kind
	Message    string
	Reason     Reason
	ResourceID int64
	Shortfall  int
}

func (e *Error) Error() string {
	return e.Message
}

func BadRequest(reason Reason, format string, args ...any) *Error {
	return &Error{Kind: KindBadRequest, Reason: reason, Message: fmt.Sprintf(format, args...)}
}

func NotFound(format string, args ...any) *Error {
	return &Error{Kind: KindNotFound, Reason: ReasonNotFound, Message: fmt.Sprintf(format, args...)}
}

// ResourceUnavailable carries the offending resource and how many units are missing.
func ResourceUnavailable(resourceID int64, shortfall int, format string, args ...any) *Error {
	e := BadRequest(ReasonResourceUnavailable, format, args...)
	e.ResourceID = resourceID
	e.Shortfall = shortfall
	return e
}

// KindOf classifies any error; non-domain errors are internal.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindInternal
}

func HasReason(err error, reason Reason) bool {
	var e *Error
	return errors.As(err, &e) && e.Reason == reason
}
