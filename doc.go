// Package conduit lets an application compose runnables — workers that
// execute in a separate goroutine ("thread scope") or a separate OS process
// ("process scope") — wired together through typed, bounded FIFO buffers
// that carry values and an end-of-stream completion signal.
//
// Buffers
//
// A Buffer has a Publishable end (acquire a PublisherSession via Publish)
// and an Observable end (acquire a SubscriptionSession via Subscribe). At
// most one subscription may be live at a time; any number of publisher
// sessions may coexist. Publishing to a full buffer waits up to the call's
// Timeout; if the buffer is still full, the OverflowPolicy passed to the
// call decides whether the item is dropped silently, dropped with a
// warning, or rejected with ErrFull. See buffer.go.
//
// Runnables and Runners
//
// A Runnable is user-supplied worker logic with a fixed set of declared
// output buffers, a command subscription, and a status publisher. A Runner
// supervises exactly one Runnable in a thread or process scope: it wires the
// command/status channels, launches the worker, and waits for clean
// shutdown. See runnable.go, runner.go.
//
// Multicaster
//
// A Multicaster is a built-in Runnable that copies every item from one input
// buffer to N subscribed output buffers, each with its own overflow policy.
// See multicaster.go.
//
// Defaults
//
// Unless overridden with functional options, buffers, runners, and
// multicasters take their defaults from config.DefaultDefaults(). See the
// config subpackage.
package conduit
