package model

import "github.com/CodeBuilders-COMPASS/ANMAR25-D02-COMPASSRESERVATION/reservation/internal/errs"

type Operation uint8

const (
	OpUpdate Operation = iota
	OpCancel
)

func (o Operation) String() string {
	if o == OpCancel {
		return "cancel"
	}
	return "update"
}

type transition struct {
	op       Operation
	from, to ReservationStatus
}

// transitions lists every allowed status change and the operation that may
// perform it. Anything absent is rejected.
var transitions = map[transition]struct{}{
	{op: OpUpdate, from: ReservationOpen, to: ReservationApproved}:   {},
	{op: OpUpdate, from: ReservationApproved, to: ReservationClosed}: {},
	{op: OpCancel, from: ReservationOpen, to: ReservationCancelled}:  {},
}

func CheckTransition(op Operation, from, to ReservationStatus) error {
	if _, ok := transitions[transition{op: op, from: from, to: to}]; ok {
		return nil
	}
	reason := errs.ReasonInvalidTransition
	if from.Terminal() {
		reason = errs.ReasonTerminalState
	}
	if op == OpCancel {
		return errs.BadRequest(reason, "only OPEN can be cancelled")
	}
	if from.Terminal() {
		return TerminalError(from)
	}
	switch to {
	case ReservationApproved:
		return errs.BadRequest(reason, "only OPEN can become APPROVED")
	case ReservationClosed:
		return errs.BadRequest(reason, "only APPROVED can become CLOSED")
	case ReservationCancelled:
		return errs.BadRequest(reason, "use the cancel operation to cancel a reservation")
	default:
		return errs.BadRequest(reason, "invalid status transition from %s to %s", from, to)
	}
}

func TerminalError(s ReservationStatus) error {
	return errs.BadRequest(errs.ReasonTerminalState, "reservation with status %s can no longer be changed", s)
}
