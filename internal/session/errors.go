package session

import "errors"

// GuardError is a rule violation the operator can recover from by
// changing what they asked for. Handlers render it as a conflict rather
// than a server fault.
type GuardError struct {
	Reason string
}

func (e *GuardError) Error() string { return e.Reason }

func guard(reason string) error { return &GuardError{Reason: reason} }

// IsGuard reports whether err is a guard violation.
func IsGuard(err error) bool {
	var ge *GuardError
	return errors.As(err, &ge)
}

var (
	ErrSessionClosed   = guard("session is closed")
	ErrSessionDisposed = guard("session is disposed")
	ErrBusy            = guard("another operation is in progress")
	ErrLineLocked      = guard("line is confirmed or paid and cannot change")
	ErrLineNotFound    = guard("no such cart line")
	ErrNothingToDo     = guard("nothing to confirm")
	ErrNothingToPay    = guard("nothing to pay")
	ErrSplitMismatch   = guard("split amounts do not cover the total due")
	ErrKitchenPending  = guard("kitchen items are not all delivered")
)
