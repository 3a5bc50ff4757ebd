package conduit

import (
	"errors"
	"testing"
	"time"
)

// echoRunnable is a minimal Executable used to exercise Runner lifecycle
// without pulling in the full Loop machinery: it just waits for a Stop
// command (or an injected failure) and returns.
type echoRunnable struct {
	*RunnableBase
	cmd      Observable[Command]
	failWith error
}

func newEchoRunnable(name string, failWith error) RunnableFactory {
	return func(cmd Observable[Command], status *PublisherSession[StatusMessage]) (Executable, error) {
		r := &echoRunnable{RunnableBase: NewRunnableBase(name), cmd: cmd, failWith: failWith}
		r.BindSelf(r)
		r.BindStatusPublisher(status)
		return r, nil
	}
}

func (r *echoRunnable) Execute() error {
	if r.failWith != nil {
		return r.failWith
	}
	event := make(chan struct{}, 1)
	sub, err := r.cmd.Subscribe(event)
	if err != nil {
		return err
	}
	defer r.cmd.Unsubscribe(sub)
	for {
		<-event
		stop := false
		_ = sub.CallEvents(func(it Item[Command]) {
			if it.IsComplete() {
				stop = true
				return
			}
			if _, ok := it.Value().(StopCommand); ok {
				stop = true
			}
		})
		if stop {
			return nil
		}
	}
}

func TestRunner_ThreadRunner_FullLifecycle(t *testing.T) {
	r := NewThreadRunner("echo", newEchoRunnable("echo", nil))
	if err := r.Enter(); err != nil {
		t.Fatalf("Enter: %v", err)
	}
	if err := r.StartBlocking(Timeout(5 * time.Second)); err != nil {
		t.Fatalf("StartBlocking: %v", err)
	}
	if err := r.CheckForExceptions(); err != nil {
		t.Fatalf("CheckForExceptions before stop: %v", err)
	}
	if err := r.Exit(false); err != nil {
		t.Fatalf("Exit: %v", err)
	}
}

func TestRunner_WorkerFailurePropagatesOnExit(t *testing.T) {
	boom := errors.New("boom")
	r := NewThreadRunner("echo", newEchoRunnable("echo", boom))
	if err := r.Enter(); err != nil {
		t.Fatalf("Enter: %v", err)
	}
	if err := r.Start(); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if err := r.Join(Timeout(5 * time.Second)); err != nil {
		t.Fatalf("Join: %v", err)
	}
	if err := r.Exit(false); !errors.Is(err, boom) {
		t.Fatalf("Exit() = %v; want %v", err, boom)
	}
}

func TestRunner_CheckForExceptionsOnlyOnce(t *testing.T) {
	boom := errors.New("boom")
	r := NewThreadRunner("echo", newEchoRunnable("echo", boom))
	if err := r.Enter(); err != nil {
		t.Fatalf("Enter: %v", err)
	}
	if err := r.Start(); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if err := r.Join(Timeout(5 * time.Second)); err != nil {
		t.Fatalf("Join: %v", err)
	}
	if err := r.CheckForExceptions(); !errors.Is(err, boom) {
		t.Fatalf("first CheckForExceptions = %v; want %v", err, boom)
	}
	if err := r.CheckForExceptions(); err != nil {
		t.Fatalf("second CheckForExceptions = %v; want nil (raised at most once)", err)
	}
}

func TestRunner_JoinTimesOutWithErrStillAlive(t *testing.T) {
	r := NewThreadRunner("echo", newEchoRunnable("echo", nil))
	if err := r.Enter(); err != nil {
		t.Fatalf("Enter: %v", err)
	}
	if err := r.StartBlocking(Timeout(5 * time.Second)); err != nil {
		t.Fatalf("StartBlocking: %v", err)
	}
	if err := r.Join(Timeout(50 * time.Millisecond)); !errors.Is(err, ErrStillAlive) {
		t.Fatalf("Join() = %v; want ErrStillAlive", err)
	}
	_ = r.Exit(true)
}

func TestRunner_StartTwiceFails(t *testing.T) {
	r := NewThreadRunner("echo", newEchoRunnable("echo", nil))
	if err := r.Enter(); err != nil {
		t.Fatalf("Enter: %v", err)
	}
	if err := r.Start(); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if err := r.Start(); !errors.Is(err, ErrExecuting) {
		t.Fatalf("second Start() = %v; want ErrExecuting", err)
	}
	_ = r.Exit(true)
}
