package conduit

import "time"

// Command is the sum type of control messages sent from a supervisor to a
// worker over a Runner's command buffer. The base loop understands Stop and
// the three tick commands; everything else is dispatched to a Runnable's
// CommandHandlerFunc, and an unrecognized variant is an error.
//
// Grounded on original_source/puma/runnable/command.py, re-expressed as a
// closed Go interface rather than a tagged dataclass hierarchy.
type Command interface{ isCommand() }

// StopCommand asks the worker to stop its servicing loop at the next
// opportunity (should_continue() becomes false).
type StopCommand struct{}

func (StopCommand) isCommand() {}

// CallCommand is the "invoke this method in the child scope" variant
// (spec.md §4.2 / §9): the supervisor correlates the resulting
// CallResultStatus by CallID. Method names a method on the Runnable, or on
// a previously cached result object when Target is set.
type CallCommand struct {
	CallID string
	Target string // non-empty: dispatch against a cached result instead of the Runnable itself
	Method string
	Args   []any
}

func (CallCommand) isCommand() {}

// TickSetInterval changes the tick interval. Per spec.md §4.3, this takes
// effect as soon as the loop processes it: if ticking is currently running,
// the next tick time shifts by (new - old) relative to the last tick; if
// paused, it is a simple write picked up when resumed.
type TickSetInterval struct{ Interval time.Duration }

func (TickSetInterval) isCommand() {}

// TickPause suspends tick delivery without losing the configured interval.
type TickPause struct{}

func (TickPause) isCommand() {}

// TickResume resumes tick delivery. The next tick fires one interval from
// the moment of resume, not from when it was paused.
type TickResume struct{}

func (TickResume) isCommand() {}

// UserCommand is an escape hatch for a derived Runnable's own command
// variants, carrying an application-defined tag and payload.
type UserCommand struct {
	Tag     string
	Payload any
}

func (UserCommand) isCommand() {}

// CommandHandlerFunc handles any Command the base loop does not itself
// understand (i.e. everything but StopCommand and the tick commands). It
// should return ErrUnknownCommand (or a wrapped form of it) if the variant
// is not recognized.
type CommandHandlerFunc func(cmd Command) error
