package conduit

import (
	"errors"
	"fmt"
	"runtime/debug"
)

// FailureMeta exposes correlation metadata for an error that crossed a
// Runner boundary: which runnable it came from, which child scope it ran
// in, and a captured stack snippet taken at the point the error was first
// observed. This is the Go analogue of the Python original's
// TraceableException (puma/buffer/traceable_exception.py), which wraps an
// exception together with its traceback so the supervisor can re-raise with
// full context.
type FailureMeta interface {
	error
	Unwrap() error
	RunnableName() string
	ChildScopeID() string
	Stack() string
}

// remoteFailure wraps an error observed inside a worker's execution or
// completion-drain sequence so that, once it crosses the status channel to
// the supervisor, the caller can still see where it came from.
type remoteFailure struct {
	err          error
	runnableName string
	childScopeID string
	stack        string
}

// newRemoteFailure captures a stack snippet at the call site and wraps err.
// Returns nil if err is nil.
func newRemoteFailure(err error, runnableName, childScopeID string) error {
	if err == nil {
		return nil
	}
	return &remoteFailure{
		err:          err,
		runnableName: runnableName,
		childScopeID: childScopeID,
		stack:        string(debug.Stack()),
	}
}

func (e *remoteFailure) Error() string { return e.err.Error() }
func (e *remoteFailure) Unwrap() error { return e.err }

func (e *remoteFailure) RunnableName() string { return e.runnableName }
func (e *remoteFailure) ChildScopeID() string  { return e.childScopeID }
func (e *remoteFailure) Stack() string         { return e.stack }

// Format supports both %v/%s (short message) and %+v (message plus the
// runnable name, child scope id, and captured stack).
func (e *remoteFailure) Format(s fmt.State, verb rune) {
	switch verb {
	case 'v':
		if s.Flag('+') {
			_, _ = fmt.Fprintf(
				s, "runnable(%s) scope(%s): %v\n%s",
				e.runnableName, e.childScopeID, e.err, e.stack,
			)
			return
		}
		fallthrough
	case 's':
		_, _ = fmt.Fprint(s, e.Error())
	case 'q':
		_, _ = fmt.Fprintf(s, "%q", e.Error())
	}
}

// ExtractFailureMeta returns the FailureMeta embedded in err, if any.
func ExtractFailureMeta(err error) (FailureMeta, bool) {
	var fm FailureMeta
	if errors.As(err, &fm) {
		return fm, true
	}
	return nil, false
}

// safeErrString never panics, even if err's Error() method does; ported in
// spirit from puma/helpers/string.py's safe_str, used at logging call sites
// that might be handed an adversarial error value.
func safeErrString(err error) (s string) {
	if err == nil {
		return "<nil>"
	}
	defer func() {
		if recover() != nil {
			s = "<error formatting error>"
		}
	}()
	return err.Error()
}
