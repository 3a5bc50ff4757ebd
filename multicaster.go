package conduit

import (
	"fmt"
	"sync"
)

// multicastOutput tracks one subscribed output buffer: its own overflow
// policy, its publisher session once Execute has opened it, and whether it
// has already received its one terminal notification (set by the
// exit-time propagation pass, propagateComplete).
type multicastOutput[T any] struct {
	target Publishable[T]
	policy OverflowPolicy
	pub    *PublisherSession[T]
	done   bool
}

// Multicaster is the built-in Runnable that copies every item from one
// input buffer to N subscribed output buffers, each with its own overflow
// policy, per spec.md §4.5. Subscribe/Unsubscribe are only legal before
// Execute begins; after that point they fail with ErrExecuting, the same
// "frozen once executing" rule RunnableBase enforces for declared output
// names.
//
// Grounded on original_source/puma/runnable/multicaster_runnable.py, built
// on top of the generic RunnableBase/Loop machinery the same way any other
// concrete Runnable would be.
type Multicaster[T any] struct {
	*RunnableBase

	input Observable[T]
	cmd   Observable[Command]

	mu      sync.Mutex
	outputs []*multicastOutput[T]
}

// NewMulticaster constructs a Multicaster reading from input. Subscribe
// outputs before handing this to a Runner.
func NewMulticaster[T any](name string, input Observable[T]) *Multicaster[T] {
	m := &Multicaster[T]{RunnableBase: NewRunnableBase(name), input: input}
	m.BindSelf(m)
	return m
}

// ThreadFactory returns a RunnableFactory suitable for NewThreadRunner: it
// wires the Runner-supplied command channel into the Multicaster and hands
// back the Multicaster itself as the Executable.
func (m *Multicaster[T]) ThreadFactory() RunnableFactory {
	return func(cmd Observable[Command], status *PublisherSession[StatusMessage]) (Executable, error) {
		m.cmd = cmd
		m.BindStatusPublisher(status)
		return m, nil
	}
}

// Subscribe adds outputBuffer as a fan-out target with the given overflow
// policy. Fails with ErrExecuting once Execute has started, per spec.md
// §4.5.
func (m *Multicaster[T]) Subscribe(outputBuffer Publishable[T], policy OverflowPolicy) error {
	if m.IsExecuting() {
		return fmt.Errorf("%w: multicaster %q", ErrExecuting, m.Name())
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.outputs = append(m.outputs, &multicastOutput[T]{target: outputBuffer, policy: policy})
	return nil
}

// Unsubscribe removes outputBuffer from the fan-out set. Fails with
// ErrExecuting once Execute has started.
func (m *Multicaster[T]) Unsubscribe(outputBuffer Publishable[T]) error {
	if m.IsExecuting() {
		return fmt.Errorf("%w: multicaster %q", ErrExecuting, m.Name())
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	for i, o := range m.outputs {
		if o.target == outputBuffer {
			m.outputs = append(m.outputs[:i], m.outputs[i+1:]...)
			return nil
		}
	}
	return nil
}

// Execute runs the fan-out loop until the input completes or Stop is
// received. It implements the Executable contract a Runner drives.
func (m *Multicaster[T]) Execute() error {
	m.mu.Lock()
	outputs := append([]*multicastOutput[T]{}, m.outputs...)
	m.mu.Unlock()

	for _, o := range outputs {
		o.pub = o.target.Publish()
	}
	defer func() {
		for _, o := range outputs {
			o.pub.Close()
		}
	}()

	subr := NewSubscriber(m.Name(), func(err error) error {
		return m.propagateComplete(outputs, err)
	})
	in := NewInput(m.Name()+"-input", m.input, subr, func(v T) error {
		return m.fanOut(outputs, v)
	})
	loop := NewLoop(m.Name(), m.cmd, m.HandleCommand, in)
	loop.SetChildScopeID(m.ChildScopeID())
	return loop.Run()
}

// fanOut pushes v to every output that has not already terminated, in
// declared subscription order, attempting delivery to every output before
// reporting a failure. A RAISE-policy output that is full yields Full from
// PublishValue; fanOut remembers the first such error but keeps pushing v to
// the remaining outputs rather than stopping early, then returns that error
// to the Loop once every output has seen v. The Loop's completion-drain
// invariant then delivers that single error as the terminal Complete to
// every not-yet-done output — including ones that accepted v just fine —
// per spec.md §4.5 ("the raised Full will be delivered to that specific
// output as its terminal Complete(err=Full) as the standard
// completion-drain invariant dictates") and §8 scenario 3, where the
// non-overflowing larger output also ends with Complete(Full).
func (m *Multicaster[T]) fanOut(outputs []*multicastOutput[T], v T) error {
	var first error
	for _, o := range outputs {
		if o.done {
			continue
		}
		if err := o.pub.PublishValue(v, NoWait, o.policy); err != nil && first == nil {
			first = err
		}
	}
	return first
}

// propagateComplete delivers err (possibly nil) as the terminal to every
// output that has not already terminated. If a RAISE-policy output is full
// and cannot accept the terminal, and err was non-nil, the error would
// otherwise be lost entirely — it is re-raised here so the containing
// Runner reports it, per spec.md §4.5's closing rule.
func (m *Multicaster[T]) propagateComplete(outputs []*multicastOutput[T], err error) error {
	var lost error
	for _, o := range outputs {
		if o.done {
			continue
		}
		o.done = true
		if cerr := o.pub.PublishComplete(err, NoWait, o.policy); cerr != nil {
			if err != nil {
				lost = err
			} else {
				lost = cerr
			}
		}
	}
	return lost
}
