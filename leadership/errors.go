package leadership

import "errors"

// Errors returned by the leadership package.
var (
	// ErrAlreadyStarted is returned when Start() is called on an already started elector.
	ErrAlreadyStarted = errors.New("elector already started")

	// ErrNotStarted is returned when Stop() is called on an elector that hasn't started.
	ErrNotStarted = errors.New("elector not started")

	// ErrNoDuties is returned by Start when no duty was assigned.
	ErrNoDuties = errors.New("elector has no duties")

	// ErrDuplicateDuty is returned when two duties share a name.
	ErrDuplicateDuty = errors.New("duty already assigned")

	// ErrLeaseLost is reported when a renewal fails or another instance holds the lease.
	ErrLeaseLost = errors.New("leader lease lost")
)
