package conduit

import (
	"errors"
	"testing"
	"time"
)

func runLoopAsync(t *testing.T, l *Loop) <-chan error {
	t.Helper()
	done := make(chan error, 1)
	go func() { done <- l.Run() }()
	return done
}

func TestLoop_CleanCompletionDrainsSubscriberOnce(t *testing.T) {
	cmdBuf := NewBuffer[Command]("cmd", 2, true)
	cmdPub := cmdBuf.Publish()
	defer cmdPub.Close()

	dataBuf := NewBuffer[int]("data", 4, true)
	dataPub := dataBuf.Publish()
	defer dataPub.Close()

	calls := 0
	subr := NewSubscriber("sub", func(err error) error {
		calls++
		return nil
	})

	var received []int
	in := NewInput("in", dataBuf, subr, func(v int) error {
		received = append(received, v)
		return nil
	})
	loop := NewLoop("loop", cmdBuf, nil, in)
	done := runLoopAsync(t, loop)

	if err := dataPub.PublishValue(1, Timeout(time.Second), PolicyRaise); err != nil {
		t.Fatalf("PublishValue: %v", err)
	}
	if err := dataPub.PublishValue(2, Timeout(time.Second), PolicyRaise); err != nil {
		t.Fatalf("PublishValue: %v", err)
	}
	if err := dataPub.PublishComplete(nil, Timeout(time.Second), PolicyRaise); err != nil {
		t.Fatalf("PublishComplete: %v", err)
	}

	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("Run() = %v; want nil", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("loop did not exit after input completed")
	}

	if calls != 1 {
		t.Fatalf("onComplete called %d times; want exactly 1", calls)
	}
	if len(received) != 2 || received[0] != 1 || received[1] != 2 {
		t.Fatalf("received = %v; want [1 2]", received)
	}
}

func TestLoop_StopCommandEndsLoop(t *testing.T) {
	cmdBuf := NewBuffer[Command]("cmd", 2, true)
	cmdPub := cmdBuf.Publish()
	defer cmdPub.Close()

	dataBuf := NewBuffer[int]("data", 4, true)
	dataPub := dataBuf.Publish()
	defer dataPub.Close()

	subr := NewSubscriber("sub", func(err error) error { return nil })
	in := NewInput("in", dataBuf, subr, func(int) error { return nil })
	loop := NewLoop("loop", cmdBuf, nil, in)
	done := runLoopAsync(t, loop)

	if err := cmdPub.PublishValue(StopCommand{}, Timeout(time.Second), PolicyRaise); err != nil {
		t.Fatalf("PublishValue(StopCommand): %v", err)
	}

	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("Run() = %v; want nil", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("loop did not exit after StopCommand")
	}
}

func TestLoop_UnknownCommandWithoutHandlerErrors(t *testing.T) {
	cmdBuf := NewBuffer[Command]("cmd", 2, true)
	cmdPub := cmdBuf.Publish()
	defer cmdPub.Close()

	dataBuf := NewBuffer[int]("data", 4, true)
	dataPub := dataBuf.Publish()
	defer dataPub.Close()

	subr := NewSubscriber("sub", func(err error) error { return err })
	in := NewInput("in", dataBuf, subr, func(int) error { return nil })
	loop := NewLoop("loop", cmdBuf, nil, in)
	done := runLoopAsync(t, loop)

	if err := cmdPub.PublishValue(UserCommand{Tag: "unhandled"}, Timeout(time.Second), PolicyRaise); err != nil {
		t.Fatalf("PublishValue: %v", err)
	}

	select {
	case err := <-done:
		if !errors.Is(err, ErrUnknownCommand) {
			t.Fatalf("Run() = %v; want ErrUnknownCommand", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("loop did not exit after unknown command")
	}
}

func TestLoop_SharedSubscriberNotifiedOnceAcrossTwoInputs(t *testing.T) {
	cmdBuf := NewBuffer[Command]("cmd", 2, true)
	cmdPub := cmdBuf.Publish()
	defer cmdPub.Close()

	bufA := NewBuffer[int]("a", 2, true)
	pubA := bufA.Publish()
	defer pubA.Close()
	bufB := NewBuffer[int]("b", 2, true)
	pubB := bufB.Publish()
	defer pubB.Close()

	calls := 0
	subr := NewSubscriber("shared", func(err error) error {
		calls++
		return nil
	})
	inA := NewInput("a", bufA, subr, func(int) error { return nil })
	inB := NewInput("b", bufB, subr, func(int) error { return nil })
	loop := NewLoop("loop", cmdBuf, nil, inA, inB)
	done := runLoopAsync(t, loop)

	if err := pubA.PublishComplete(nil, Timeout(time.Second), PolicyRaise); err != nil {
		t.Fatalf("PublishComplete A: %v", err)
	}
	if err := pubB.PublishComplete(nil, Timeout(time.Second), PolicyRaise); err != nil {
		t.Fatalf("PublishComplete B: %v", err)
	}

	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("Run() = %v; want nil", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("loop did not exit")
	}

	if calls != 1 {
		t.Fatalf("shared subscriber notified %d times; want exactly 1", calls)
	}
}

func TestLoop_RunRejectsNoInputsAndNoTick(t *testing.T) {
	cmdBuf := NewBuffer[Command]("cmd", 2, true)
	loop := NewLoop("loop", cmdBuf, nil)
	if err := loop.Run(); !errors.Is(err, ErrInvalid) {
		t.Fatalf("Run() = %v; want ErrInvalid", err)
	}
}
