package conduit

import (
	"errors"
	"fmt"
	"time"
)

// Subscriber groups one or more inputs under a single completion target.
// spec.md §4.3 allows multiple (input, subscriber) pairs to share a
// subscriber; the completion-drain invariant is defined per subscriber, not
// per input, so a shared subscriber only ever receives one terminal
// notification even if several of its inputs complete.
type Subscriber struct {
	name       string
	onComplete func(err error) error
	done       bool
}

// NewSubscriber wraps an OnComplete callback invoked exactly once: either
// when one of this subscriber's inputs reports a clean Complete(nil), or
// during the completion-drain pass at loop exit.
func NewSubscriber(name string, onComplete func(err error) error) *Subscriber {
	return &Subscriber{name: name, onComplete: onComplete}
}

type drainOutcome int

const (
	drainEmpty drainOutcome = iota
	drainValue
	drainComplete
)

// input is implemented by *typedInput[T] for each concrete T, erasing the
// type parameter so Loop can hold a heterogeneous list of (input,
// subscriber) pairs — Go generics do not let a single slice hold
// typedInput[string] and typedInput[int] directly, so the loop core is
// written against this narrow interface instead.
type input interface {
	name() string
	subscriber() *Subscriber
	subscribe(event chan struct{}) error
	drainOnce() (drainOutcome, error)
	unsubscribe()
	isDone() bool
}

type typedInput[T any] struct {
	inputName string
	obs       Observable[T]
	sub       *SubscriptionSession[T]
	subr      *Subscriber
	onValue   func(T) error
	done      bool
}

// NewInput declares one (input, subscriber) pair for use with NewLoop.
// onValue runs for every Value item; subr's OnComplete runs once, whenever
// this input (or any other input sharing subr) reports Complete(nil), or
// during the exit-time completion drain.
func NewInput[T any](name string, obs Observable[T], subr *Subscriber, onValue func(T) error) input {
	return &typedInput[T]{inputName: name, obs: obs, subr: subr, onValue: onValue}
}

func (in *typedInput[T]) name() string            { return in.inputName }
func (in *typedInput[T]) subscriber() *Subscriber { return in.subr }
func (in *typedInput[T]) isDone() bool            { return in.done }

func (in *typedInput[T]) subscribe(event chan struct{}) error {
	sub, err := in.obs.Subscribe(event)
	if err != nil {
		return fmt.Errorf("input %q: %w", in.inputName, err)
	}
	in.sub = sub
	return nil
}

func (in *typedInput[T]) unsubscribe() {
	if in.sub != nil {
		in.obs.Unsubscribe(in.sub)
	}
}

func (in *typedInput[T]) drainOnce() (drainOutcome, error) {
	var outcome drainOutcome
	var err error
	callErr := in.sub.CallEvents(func(it Item[T]) {
		if it.IsComplete() {
			in.done = true
			outcome = drainComplete
			err = it.Err()
			return
		}
		outcome = drainValue
		err = in.onValue(it.Value())
	})
	if callErr != nil {
		return drainEmpty, nil
	}
	return outcome, err
}

// Loop is the multi-buffer servicing loop: the event loop that binds a
// fixed set of inputs, a command channel, and an optional tick clock, and
// enforces the completion-drain invariant on exit. It is the central
// algorithmic core of this package, grounded on
// original_source/puma/runnable/multi_buffer_servicing_runnable.py, with
// the dispatch shape (select over channels sharing one wake event) adapted
// from the teacher's dispatcher.go.
type Loop struct {
	name         string
	childScopeID string
	inputs       []input
	commandBuf   Observable[Command]
	commandSub   *SubscriptionSession[Command]
	handler      CommandHandlerFunc

	event    chan struct{}
	stopping bool

	tick *tickState

	preWaitHook         func()
	executionEndingHook func(err error) (handled bool, err2 error)

	commandErr error
}

// NewLoop constructs a servicing loop. commandBuf is the Runnable's own
// command channel; handler answers any Command the loop does not itself
// understand (everything but StopCommand and the tick commands).
func NewLoop(name string, commandBuf Observable[Command], handler CommandHandlerFunc, inputs ...input) *Loop {
	return &Loop{name: name, commandBuf: commandBuf, handler: handler, inputs: inputs}
}

// SetPreWaitHook installs a hook run at the top of every iteration, before
// the event wait — for derived runnables that need to do bookkeeping each tick of the loop without it being tied to a
// specific input.
func (l *Loop) SetPreWaitHook(hook func()) { l.preWaitHook = hook }

// SetChildScopeID records the id of the child scope this loop is running
// in, so a panic recovered from inside Run or the completion-drain pass
// can be tagged with it via remoteFailure — spec.md §7.
func (l *Loop) SetChildScopeID(id string) { l.childScopeID = id }

// SetExecutionEndingHook installs the hook called once during the
// completion-drain pass, after every subscriber has been notified. If it
// returns handled=true, a pending error is treated as handled and is not
// re-raised to the supervisor.
func (l *Loop) SetExecutionEndingHook(hook func(err error) (handled bool, err2 error)) {
	l.executionEndingHook = hook
}

func (l *Loop) checkReady() error {
	if l.commandBuf == nil {
		return fmt.Errorf("%w: loop has no command channel bound", ErrInvalid)
	}
	if len(l.inputs) == 0 && l.tick == nil {
		return fmt.Errorf("%w: loop needs at least one input or a tick interval", ErrInvalid)
	}
	return nil
}

// Run opens subscriptions to every input and the command channel sharing
// one wake event, then runs the loop until Stop or all inputs complete,
// and finally performs the completion-drain pass described in spec.md
// §4.3 before returning.
func (l *Loop) Run() error {
	if err := l.checkReady(); err != nil {
		return err
	}
	l.event = make(chan struct{}, 1)

	cmdSub, err := l.commandBuf.Subscribe(l.event)
	if err != nil {
		return fmt.Errorf("command channel: %w", err)
	}
	l.commandSub = cmdSub
	defer l.commandBuf.Unsubscribe(cmdSub)

	for _, in := range l.inputs {
		if err := in.subscribe(l.event); err != nil {
			return err
		}
	}
	defer func() {
		for _, in := range l.inputs {
			in.unsubscribe()
		}
	}()

	var runErr error
	func() {
		defer func() {
			if r := recover(); r != nil {
				runErr = newRemoteFailure(fmt.Errorf("%w: %v", ErrWorkerFailure, r), l.name, l.childScopeID)
			}
		}()
		runErr = l.runLoop()
	}()
	return l.executionEnding(runErr)
}

func (l *Loop) runLoop() error {
	for l.shouldContinue() {
		if l.preWaitHook != nil {
			l.preWaitHook()
		}
		l.wait()
		if err := l.tickIfDue(); err != nil {
			return err
		}
		if err := l.drainCommands(); err != nil {
			return err
		}
		for _, in := range l.inputs {
			if in.isDone() {
				continue
			}
		drainLoop:
			for l.shouldContinue() {
				outcome, derr := in.drainOnce()
				switch outcome {
				case drainEmpty:
					break drainLoop
				case drainValue:
					if derr != nil {
						return derr
					}
				case drainComplete:
					if derr != nil {
						return derr
					}
					if s := in.subscriber(); s != nil && !s.done {
						if herr := l.deliverComplete(s, nil); herr != nil {
							return herr
						}
					}
					break drainLoop
				}
			}
		}
	}
	return nil
}

// shouldContinue returns false once Stop was received, or — when at least
// one input is declared — once every input has reported Complete. A
// zero-input loop (a pure tick-driven Runnable, per SPEC_FULL.md's
// monitor-runnable supplement) continues until Stop regardless of ticks.
func (l *Loop) shouldContinue() bool {
	if l.stopping {
		return false
	}
	if len(l.inputs) == 0 {
		return true
	}
	for _, in := range l.inputs {
		if !in.isDone() {
			return true
		}
	}
	return false
}

func (l *Loop) wait() {
	d, ok := l.nextWaitDuration()
	if !ok {
		<-l.event
		return
	}
	select {
	case <-l.event:
	case <-time.After(d):
	}
}

func (l *Loop) drainCommands() error {
	for {
		err := l.commandSub.CallEvents(func(it Item[Command]) {
			if it.IsComplete() {
				l.stopping = true
				return
			}
			l.handleCommand(it.Value())
		})
		if err != nil {
			return nil
		}
		if l.commandErr != nil {
			e := l.commandErr
			l.commandErr = nil
			return e
		}
	}
}

func (l *Loop) handleCommand(cmd Command) {
	switch c := cmd.(type) {
	case StopCommand:
		l.stopping = true
	case TickSetInterval:
		l.tickSetInterval(c.Interval)
	case TickPause:
		l.tickPause()
	case TickResume:
		l.tickResume()
	default:
		if l.handler != nil {
			if err := l.handler(cmd); err != nil {
				l.commandErr = err
			}
			return
		}
		l.commandErr = fmt.Errorf("%w: %T", ErrUnknownCommand, cmd)
	}
}

func (l *Loop) deliverComplete(s *Subscriber, err error) error {
	if s.done {
		return nil
	}
	var herr error
	if s.onComplete != nil {
		herr = s.onComplete(err)
	}
	s.done = true
	return herr
}

// subscribersSet returns the distinct subscribers referenced by l.inputs,
// in first-seen order, so a subscriber shared by several inputs is only
// drained once.
func (l *Loop) subscribersSet() []*Subscriber {
	seen := make(map[*Subscriber]bool)
	var out []*Subscriber
	for _, in := range l.inputs {
		s := in.subscriber()
		if s == nil || seen[s] {
			continue
		}
		seen[s] = true
		out = append(out, s)
	}
	return out
}

// executionEnding implements the completion-drain invariant exactly as
// spec.md §4.3 describes it: every subscriber not yet marked done receives
// one terminal notification; the running error is adopted or merged from
// whatever each subscriber's handler (and the execution-ending hook) raise;
// the original error is only re-raised to the caller if nobody downstream
// could accept it and the hook did not claim it as handled.
func (l *Loop) executionEnding(x error) error {
	delivered := false
	for _, s := range l.subscribersSet() {
		if s.done {
			continue
		}
		func() {
			defer func() {
				if r := recover(); r != nil {
					x = mergeErr(x, newRemoteFailure(fmt.Errorf("%w: %v", ErrWorkerFailure, r), l.name, l.childScopeID))
				}
			}()
			if s.onComplete != nil {
				if err := s.onComplete(x); err != nil {
					x = mergeErr(x, err)
				} else if x != nil {
					delivered = true
				}
			} else if x != nil {
				delivered = true
			}
			s.done = true
		}()
	}

	handled := false
	if l.executionEndingHook != nil {
		h, err := l.executionEndingHook(x)
		if err != nil {
			x = mergeErr(x, err)
		}
		handled = h
	}

	if x != nil && !delivered && !handled {
		return x
	}
	return nil
}

// mergeErr adopts y as the running error when there was none; keeps x when
// y is the same error; otherwise logs the secondary error and keeps x, per
// spec.md §4.3's drain algorithm ("on raise Y from S.on_complete: if X is
// nil, adopt Y; else if Y == X, continue with X; else log and continue
// with X").
func mergeErr(x, y error) error {
	if y == nil {
		return x
	}
	if x == nil {
		return y
	}
	if errors.Is(y, x) || errors.Is(x, y) {
		return x
	}
	componentLogger("loop").Warn().Err(y).Msg("secondary error during completion drain, keeping primary")
	return x
}
