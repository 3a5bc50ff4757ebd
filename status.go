package conduit

import (
	"fmt"
	"reflect"
	"sync"
)

// StatusMessage is the sum type of notifications sent from a worker to its
// supervisor over a Runner's status buffer. The core defines Started and
// the terminal Complete; derived runnables add their own variants (e.g.
// CallResultStatus) the same way Command is extended.
//
// Grounded on original_source/puma/runnable/runner/status.py.
type StatusMessage interface{ isStatus() }

// StartedStatus is published once by the worker, after the Runnable has been
// built and marked executing and before its Execute method is called.
type StartedStatus struct{}

func (StartedStatus) isStatus() {}

// CompleteStatus is the terminal status, published exactly once when the
// worker's execute() returns (possibly with an escalated error — see the
// completion-drain invariant in loop.go).
type CompleteStatus struct{ Err error }

func (CompleteStatus) isStatus() {}

// CallResultStatus answers a CallCommand, correlated by CallID. Err is set
// when the invoked method returned an error instead of a value; Cached
// reports whether Value is a handle to a worker-side cached result object
// rather than an inlined primitive, per spec.md §4.2.
type CallResultStatus struct {
	CallID string
	Value  any
	Cached bool
	Err    error
}

func (CallResultStatus) isStatus() {}

// UserStatus is an escape hatch for a derived Runnable's own status
// variants.
type UserStatus struct {
	Tag     string
	Payload any
}

func (UserStatus) isStatus() {}

// StatusChannel wraps a Buffer[StatusMessage] with the "cached latest of
// each type" semantics spec.md §2 calls for, plus a "block until running"
// primitive built on StartedStatus. One side (the Runner) holds the
// subscriber; the worker holds the publisher.
type StatusChannel struct {
	mu             sync.Mutex
	latest         map[reflect.Type]StatusMessage
	started        bool
	startedCh      chan struct{}
	terminal       *CompleteStatus
	terminalRaised bool
	callResults    map[string]CallResultStatus
}

// NewStatusChannel constructs the cached-latest-per-type tracker. The
// caller (a Runner) owns the actual subscription and feeds messages in via
// Drain.
func NewStatusChannel() *StatusChannel {
	return &StatusChannel{
		latest:      make(map[reflect.Type]StatusMessage),
		startedCh:   make(chan struct{}),
		callResults: make(map[string]CallResultStatus),
	}
}

// absorb folds msg into the cached-latest-per-type state, completing the
// "block until running" wait and recording call-result correlations as a
// side effect.
func (sc *StatusChannel) absorb(msg StatusMessage) {
	sc.mu.Lock()
	defer sc.mu.Unlock()
	sc.latest[reflect.TypeOf(msg)] = msg
	switch m := msg.(type) {
	case StartedStatus:
		if !sc.started {
			sc.started = true
			close(sc.startedCh)
		}
	case CompleteStatus:
		if sc.terminal == nil {
			t := m
			sc.terminal = &t
		}
	case CallResultStatus:
		sc.callResults[m.CallID] = m
	}
}

// Drain pulls every currently queued status message off sub into the
// cached-latest state. Call it from whatever loop owns sub's wake event.
func (sc *StatusChannel) Drain(sub *SubscriptionSession[StatusMessage]) {
	for {
		err := sub.CallEvents(func(it Item[StatusMessage]) {
			if it.IsComplete() {
				sc.absorb(CompleteStatus{Err: it.Err()})
				return
			}
			sc.absorb(it.Value())
		})
		if err != nil {
			return
		}
	}
}

// Started reports whether a StartedStatus has been absorbed yet.
func (sc *StatusChannel) Started() bool {
	sc.mu.Lock()
	defer sc.mu.Unlock()
	return sc.started
}

// WaitUntilRunning blocks until a StartedStatus has been observed (via
// Drain from another goroutine) or timeout elapses.
func (sc *StatusChannel) WaitUntilRunning(timeout Timeout) error {
	if timeout == NoWait {
		sc.mu.Lock()
		started := sc.started
		sc.mu.Unlock()
		if started {
			return nil
		}
		return fmt.Errorf("%w: worker not yet started", ErrTimeout)
	}
	if timeout == Infinite {
		<-sc.startedCh
		return nil
	}
	select {
	case <-sc.startedCh:
		return nil
	case <-deadlineChan(timeout):
		return fmt.Errorf("%w: worker not started within %s", ErrTimeout, timeout)
	}
}

// CheckForExceptions raises the cached terminal error exactly once: after
// the first call that returns it, subsequent calls return nil for the same
// terminal, matching spec.md §7 ("surfaced to the owner at most once").
func (sc *StatusChannel) CheckForExceptions() error {
	sc.mu.Lock()
	defer sc.mu.Unlock()
	if sc.terminal == nil || sc.terminalRaised {
		return nil
	}
	sc.terminalRaised = true
	return sc.terminal.Err
}

// LatestUser returns the most recent UserStatus if its Tag equals tag. Only
// the single most recent UserStatus is cached, whatever its tag: once a
// UserStatus with another tag arrives, an earlier one with this tag is no
// longer returned.
func (sc *StatusChannel) LatestUser(tag string) (UserStatus, bool) {
	sc.mu.Lock()
	defer sc.mu.Unlock()
	msg, ok := sc.latest[reflect.TypeOf(UserStatus{})]
	if !ok {
		return UserStatus{}, false
	}
	us := msg.(UserStatus)
	if us.Tag != tag {
		return UserStatus{}, false
	}
	return us, true
}

// CallResult returns the CallResultStatus correlated with callID, if one
// has arrived yet.
func (sc *StatusChannel) CallResult(callID string) (CallResultStatus, bool) {
	sc.mu.Lock()
	defer sc.mu.Unlock()
	r, ok := sc.callResults[callID]
	return r, ok
}
