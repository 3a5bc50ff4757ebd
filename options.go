package conduit

import (
	"time"

	"github.com/ygrebnov/conduit/config"
)

// BufferOption configures NewBufferWithOptions/NewProcessBufferWithOptions,
// grounded on the teacher's WithFixedPool/WithDynamicPool conflict-checking
// pattern in options.go: each option panics if it would contradict an
// option already applied, rather than silently letting the last one win.
type BufferOption func(*bufferOptions)

type bufferOptions struct {
	capacity         int
	capacitySet      bool
	warnOnDiscard    bool
	warnOnDiscardSet bool
}

// WithCapacity overrides the buffer's capacity.
func WithCapacity(n int) BufferOption {
	return func(o *bufferOptions) {
		if o.capacitySet && o.capacity != n {
			panic("conduit: conflicting WithCapacity options")
		}
		o.capacity = n
		o.capacitySet = true
	}
}

// WithWarnOnDiscard overrides whether the buffer logs at WARN when it arms
// its discard timer on a non-empty orphaned queue.
func WithWarnOnDiscard(warn bool) BufferOption {
	return func(o *bufferOptions) {
		if o.warnOnDiscardSet && o.warnOnDiscard != warn {
			panic("conduit: conflicting WithWarnOnDiscard options")
		}
		o.warnOnDiscard = warn
		o.warnOnDiscardSet = true
	}
}

func resolveBufferOptions(d config.Defaults, opts []BufferOption) bufferOptions {
	bo := bufferOptions{capacity: d.BufferCapacity, warnOnDiscard: d.WarnOnDiscard}
	for _, opt := range opts {
		opt(&bo)
	}
	return bo
}

// NewBufferWithOptions builds a thread-local buffer starting from
// config.DefaultDefaults(), overridden field-by-field by opts.
func NewBufferWithOptions[T any](name string, opts ...BufferOption) *Buffer[T] {
	bo := resolveBufferOptions(config.DefaultDefaults(), opts)
	return NewThreadBuffer[T](name, bo.capacity, bo.warnOnDiscard)
}

// NewProcessBufferWithOptions builds a cross-process buffer starting from
// config.DefaultDefaults(), overridden field-by-field by opts. Call
// Connect on the result once the peer connection exists.
func NewProcessBufferWithOptions[T any](name string, opts ...BufferOption) *ProcessBuffer[T] {
	bo := resolveBufferOptions(config.DefaultDefaults(), opts)
	return NewProcessBuffer[T](name, bo.capacity, bo.warnOnDiscard)
}

// RunnerOption configures NewThreadRunner/NewProcessRunner's shared
// lifecycle knobs.
type RunnerOption func(*runnerOptions)

type runnerOptions struct {
	joinTimeout    time.Duration
	joinTimeoutSet bool
}

// WithJoinTimeout overrides the bounded wait Runner.Exit gives the worker
// to stop before raising ErrStillAlive.
func WithJoinTimeout(d time.Duration) RunnerOption {
	return func(o *runnerOptions) {
		if o.joinTimeoutSet && o.joinTimeout != d {
			panic("conduit: conflicting WithJoinTimeout options")
		}
		o.joinTimeout = d
		o.joinTimeoutSet = true
	}
}

// ApplyRunnerOptions resolves opts against config.DefaultDefaults() and
// applies the result to r. NewThreadRunner and NewProcessRunner do not call
// it; it is applied to a Runner after construction.
func ApplyRunnerOptions(r *Runner, opts ...RunnerOption) {
	d := config.DefaultDefaults()
	ro := runnerOptions{joinTimeout: d.FinalJoinTimeout}
	for _, opt := range opts {
		opt(&ro)
	}
	r.SetJoinTimeout(ro.joinTimeout)
}

// MulticasterOption configures the default fan-out policy returned by
// ResolveMulticasterOptions.
type MulticasterOption func(*multicasterOptions)

type multicasterOptions struct {
	defaultPolicy OverflowPolicy
}

// WithDefaultPolicy sets the policy ResolveMulticasterOptions returns in
// place of the built-in default.
func WithDefaultPolicy(p OverflowPolicy) MulticasterOption {
	return func(o *multicasterOptions) { o.defaultPolicy = p }
}

// ResolveMulticasterOptions applies opts over the built-in default policy
// (WARN), returning the resolved OverflowPolicy for use with
// Multicaster.Subscribe.
func ResolveMulticasterOptions(opts ...MulticasterOption) OverflowPolicy {
	mo := multicasterOptions{defaultPolicy: PolicyWarn}
	for _, opt := range opts {
		opt(&mo)
	}
	return mo.defaultPolicy
}
