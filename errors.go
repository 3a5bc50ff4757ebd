package conduit

import (
	"errors"
	"fmt"
)

// Namespace prefixes every sentinel error declared by this package, matching
// the convention the teacher's error set used.
const Namespace = "conduit"

var (
	// ErrFull is returned (or delivered per OverflowPolicy) when a publish
	// cannot be completed because the buffer is at capacity.
	ErrFull = errors.New(Namespace + ": buffer is full")

	// ErrEmpty is returned by a non-blocking poll of an empty subscription.
	ErrEmpty = errors.New(Namespace + ": buffer is empty")

	// ErrAccessDenied is raised when a scope-illegal attribute read or write
	// is attempted; see scope.go.
	ErrAccessDenied = errors.New(Namespace + ": attribute not accessible from this scope")

	// ErrInvalid covers API misuse: subscribing twice, publishing after
	// Complete, missing a required binding, and similar caller errors.
	ErrInvalid = errors.New(Namespace + ": invalid operation")

	// ErrTransportNotAllowed is raised at Runner.Start when an attribute
	// that is declared NOT-ALLOWED-across-processes would have to cross a
	// process boundary.
	ErrTransportNotAllowed = errors.New(Namespace + ": attribute not allowed to cross scope boundary")

	// ErrWorkerFailure wraps any error that escaped a Runnable's Execute or
	// the completion-drain sequence, tunnelled to the supervisor.
	ErrWorkerFailure = errors.New(Namespace + ": worker failure")

	// ErrStillAlive is raised when a Runner's join times out at context exit.
	ErrStillAlive = errors.New(Namespace + ": runner still alive after join timeout")

	// ErrTimeout is raised when a wait for a status message (e.g.
	// WaitUntilRunning) does not complete in time.
	ErrTimeout = errors.New(Namespace + ": timed out waiting for status")

	// ErrAlreadySubscribed is raised by Subscribe when a subscription is
	// already live on the buffer. It wraps ErrInvalid.
	ErrAlreadySubscribed = fmt.Errorf("%w: buffer already subscribed", ErrInvalid)

	// ErrSubscriptionEnded is raised by CallEvents on an invalidated
	// subscription.
	ErrSubscriptionEnded = errors.New(Namespace + ": subscription has ended")

	// ErrUnknownCommand is raised when the servicing loop receives a command
	// variant the runnable does not recognize.
	ErrUnknownCommand = errors.New(Namespace + ": unknown command")

	// ErrNotExecuting / ErrExecuting guard operations that are only legal
	// before or after a Runnable starts executing (e.g. Multicaster.Subscribe
	// must happen before Start).
	ErrNotExecuting = errors.New(Namespace + ": runnable is not executing")
	ErrExecuting    = errors.New(Namespace + ": runnable is already executing")
)
