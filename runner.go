package conduit

import (
	"fmt"
	"sync"
	"time"
)

// Default sizes/timeouts for the command and status buffers a Runner owns,
// grounded on the original's runner.py constants and mirrored in
// config.DefaultDefaults (SPEC_FULL.md §1.3).
const (
	DefaultCommandAndStatusBufferSize = 10
	DefaultFinalJoinTimeout            = 30 * time.Second
)

// commandBuffer is the narrow contract a Runner needs from whichever
// buffer kind (thread-local or cross-process) backs its command channel.
type commandBuffer interface {
	Publishable[Command]
	Observable[Command]
	Kind() BufferKind
}

// statusBuffer is the status-channel analogue of commandBuffer.
type statusBuffer interface {
	Publishable[StatusMessage]
	Observable[StatusMessage]
	Kind() BufferKind
}

// Executable is what a Runner drives inside the worker's scope: a fully
// constructed Runnable whose Execute method runs its own multi-buffer
// servicing loop (see loop.go) to completion.
type Executable interface {
	Name() string
	Execute() error
}

// RunnableFactory builds the Executable inside the worker's own scope. It
// is called once execution begins, in the new goroutine of a ThreadRunner,
// so that output publisher handles and the command subscription are always
// resolved in the scope that will actually use them, per spec.md §4.2. A
// ProcessRunner does not use a RunnableFactory: its child process builds
// the Executable with a ProcessBinder.
type RunnableFactory func(cmd Observable[Command], status *PublisherSession[StatusMessage]) (Executable, error)

// Runner supervises one Runnable in a distinct scope (thread or process).
// It owns the command and status buffers, wires a worker into a new scope
// at Start, and tracks exceptions surfaced over the status channel.
//
// Grounded on original_source/puma/runnable/runner/runner.py, with the
// ordered-shutdown sequencing adapted from the teacher's lifecycle.go
// (sync.Once-guarded, idempotent Stop/Join/Exit).
type Runner struct {
	name    string
	kind    ScopeKind
	factory RunnableFactory

	cmdBuf    commandBuffer
	statusBuf statusBuffer

	mu          sync.Mutex
	inContext   bool
	started     bool
	cmdPub      *PublisherSession[Command]
	statusSub   *SubscriptionSession[StatusMessage]
	statusCh    *StatusChannel
	statusEvent chan struct{}

	done      chan struct{}
	stopOnce  sync.Once
	joinTimeout time.Duration

	// process-variant hook, set by NewProcessRunner; nil for ThreadRunner.
	spawn func(cmd commandBuffer, status statusBuffer) (wait func() error, kill func(), err error)
}

func newRunner(name string, kind ScopeKind, factory RunnableFactory, cmdBuf commandBuffer, statusBuf statusBuffer) *Runner {
	return &Runner{
		name:        name,
		kind:        kind,
		factory:     factory,
		cmdBuf:      cmdBuf,
		statusBuf:   statusBuf,
		joinTimeout: DefaultFinalJoinTimeout,
	}
}

// SetJoinTimeout overrides the default join timeout used at Exit.
func (r *Runner) SetJoinTimeout(d time.Duration) { r.joinTimeout = d }

// Enter acquires the parent-side command publisher and status subscription.
// Must be called before Start.
func (r *Runner) Enter() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.inContext {
		return fmt.Errorf("%w: runner %q already entered", ErrInvalid, r.name)
	}
	r.cmdPub = r.cmdBuf.Publish()
	r.statusEvent = make(chan struct{}, 1)
	sub, err := r.statusBuf.Subscribe(r.statusEvent)
	if err != nil {
		r.cmdBuf.Unpublish(r.cmdPub)
		return fmt.Errorf("runner %q: %w", r.name, err)
	}
	r.statusSub = sub
	r.statusCh = NewStatusChannel()
	r.inContext = true
	return nil
}

// drainStatus folds every currently queued status message into the cached
// tracker. Call after waking on statusEvent, or before a blocking check.
func (r *Runner) drainStatus() {
	r.statusCh.Drain(r.statusSub)
}

// Start launches the worker. For a ProcessRunner, this also validates the
// Runnable template's scope policy (spec.md §4.4) before spawning.
func (r *Runner) Start() error {
	r.mu.Lock()
	if !r.inContext {
		r.mu.Unlock()
		return fmt.Errorf("%w: runner %q not entered", ErrInvalid, r.name)
	}
	if r.started {
		r.mu.Unlock()
		return fmt.Errorf("%w: runner %q already started", ErrExecuting, r.name)
	}
	r.started = true
	r.mu.Unlock()

	r.done = make(chan struct{})
	if r.spawn != nil {
		wait, _, err := r.spawn(r.cmdBuf, r.statusBuf)
		if err != nil {
			close(r.done)
			return err
		}
		go func() {
			defer close(r.done)
			_ = wait()
		}()
		return nil
	}

	go func() {
		defer close(r.done)
		r.runWorker()
	}()
	return nil
}

// runWorker is the body that executes inside the worker's own scope (a
// goroutine, for the thread variant): open a status publisher, build the
// Runnable via the factory, announce Started, run it, and publish the
// terminal status exactly once, per spec.md §4.4.
func (r *Runner) runWorker() {
	statusPub := r.statusBuf.Publish()
	defer statusPub.Close()

	runnable, err := r.factory(r.cmdBuf, statusPub)
	if err != nil {
		_ = statusPub.PublishComplete(err, Infinite, PolicyRaise)
		return
	}
	if binder, ok := runnable.(interface{ MarkExecuting() }); ok {
		binder.MarkExecuting()
	}
	_ = statusPub.PublishValue(StartedStatus{}, Infinite, PolicyRaise)

	execErr := runFatal(runnable.Execute, runnable.Name(), childScopeIDOf(runnable))
	_ = statusPub.PublishComplete(execErr, Infinite, PolicyRaise)
}

// childScopeIDOf extracts the id RunnableBase.MarkExecuting minted for this
// Runnable's child scope, if the concrete type embeds RunnableBase.
func childScopeIDOf(runnable Executable) string {
	if b, ok := runnable.(interface{ ChildScopeID() string }); ok {
		return b.ChildScopeID()
	}
	return ""
}

// runFatal converts a panic escaping fn into a WorkerFailure, wrapped as a
// remoteFailure carrying the runnable name, child scope id, and a captured
// stack snippet so they survive the status channel crossing back to the
// supervisor — spec.md §7.
func runFatal(fn func() error, runnableName, childScopeID string) (err error) {
	defer func() {
		if rec := recover(); rec != nil {
			err = newRemoteFailure(fmt.Errorf("%w: %v", ErrWorkerFailure, rec), runnableName, childScopeID)
		}
	}()
	return fn()
}

// StartBlocking starts the worker and waits for it to announce Started.
func (r *Runner) StartBlocking(timeout Timeout) error {
	if err := r.Start(); err != nil {
		return err
	}
	return r.WaitUntilRunning(timeout)
}

// WaitUntilRunning blocks until a Started status has been observed, or
// timeout elapses. It pumps the status subscription itself rather than
// assuming another goroutine is draining it.
func (r *Runner) WaitUntilRunning(timeout Timeout) error {
	deadline := deadlineChan(timeout)
	for {
		r.drainStatus()
		if r.statusCh.Started() {
			return nil
		}
		select {
		case <-r.statusEvent:
			continue
		case <-deadline:
			return fmt.Errorf("%w: runner %q worker did not start", ErrTimeout, r.name)
		case <-r.done:
			r.drainStatus()
			return fmt.Errorf("%w: runner %q worker exited before starting", ErrWorkerFailure, r.name)
		}
	}
}

// CheckForExceptions drains the status channel and raises any cached
// terminal error exactly once.
func (r *Runner) CheckForExceptions() error {
	r.drainStatus()
	return r.statusCh.CheckForExceptions()
}

// Stop sends Stop to the worker. Safe to call multiple times.
func (r *Runner) Stop() error {
	return r.cmdPub.PublishValue(StopCommand{}, Infinite, PolicyRaise)
}

// Join blocks until the worker has exited or timeout elapses, returning
// ErrStillAlive on timeout.
func (r *Runner) Join(timeout Timeout) error {
	select {
	case <-r.done:
		return nil
	case <-deadlineChan(timeout):
		return fmt.Errorf("%w: runner %q", ErrStillAlive, r.name)
	}
}

// Exit stops the worker if it is still alive, joins with the configured
// timeout, and — unless unwinding is true (the caller is already
// propagating another error) — re-raises any pending worker error.
func (r *Runner) Exit(unwinding bool) error {
	var stopErr error
	r.stopOnce.Do(func() {
		select {
		case <-r.done:
		default:
			stopErr = r.Stop()
		}
	})
	if stopErr != nil {
		return stopErr
	}

	joinErr := r.Join(Timeout(r.joinTimeout))
	r.drainStatus()

	r.mu.Lock()
	r.cmdBuf.Unpublish(r.cmdPub)
	r.statusBuf.Unsubscribe(r.statusSub)
	r.inContext = false
	r.mu.Unlock()

	if joinErr != nil {
		return joinErr
	}
	if unwinding {
		return nil
	}
	return r.CheckForExceptions()
}
