package conduit

import (
	"errors"
	"testing"
	"time"
)

func TestBuffer_PublishSubscribe_RoundTrip(t *testing.T) {
	b := NewBuffer[int]("t", 4, true)
	pub := b.Publish()
	defer pub.Close()

	sub, err := b.Subscribe(nil)
	if err != nil {
		t.Fatalf("Subscribe: %v", err)
	}
	defer sub.Close()

	if err := pub.PublishValue(7, NoWait, PolicyRaise); err != nil {
		t.Fatalf("PublishValue: %v", err)
	}

	var got Item[int]
	if err := sub.CallEvents(func(it Item[int]) { got = it }); err != nil {
		t.Fatalf("CallEvents: %v", err)
	}
	if got.IsComplete() || got.Value() != 7 {
		t.Fatalf("got = %+v; want value 7", got)
	}
}

func TestBuffer_SecondSubscriberRejected(t *testing.T) {
	b := NewBuffer[int]("t", 1, true)
	sub, err := b.Subscribe(nil)
	if err != nil {
		t.Fatalf("Subscribe: %v", err)
	}
	defer sub.Close()

	if _, err := b.Subscribe(nil); !errors.Is(err, ErrAlreadySubscribed) {
		t.Fatalf("second Subscribe error = %v; want ErrAlreadySubscribed", err)
	}
}

func TestBuffer_CallEventsOnEmptyReturnsErrEmpty(t *testing.T) {
	b := NewBuffer[int]("t", 1, true)
	sub, err := b.Subscribe(nil)
	if err != nil {
		t.Fatalf("Subscribe: %v", err)
	}
	defer sub.Close()

	err = sub.CallEvents(func(Item[int]) { t.Fatal("handler should not run") })
	if !errors.Is(err, ErrEmpty) {
		t.Fatalf("err = %v; want ErrEmpty", err)
	}
}

func TestBuffer_OverflowPolicyRaise(t *testing.T) {
	b := NewBuffer[int]("t", 1, true)
	pub := b.Publish()
	defer pub.Close()

	if err := pub.PublishValue(1, NoWait, PolicyRaise); err != nil {
		t.Fatalf("first publish: %v", err)
	}
	err := pub.PublishValue(2, NoWait, PolicyRaise)
	if !errors.Is(err, ErrFull) {
		t.Fatalf("err = %v; want ErrFull", err)
	}
}

func TestBuffer_OverflowPolicyIgnore(t *testing.T) {
	b := NewBuffer[int]("t", 1, true)
	pub := b.Publish()
	defer pub.Close()

	if err := pub.PublishValue(1, NoWait, PolicyRaise); err != nil {
		t.Fatalf("first publish: %v", err)
	}
	if err := pub.PublishValue(2, NoWait, PolicyIgnore); err != nil {
		t.Fatalf("ignored overflow should not error, got %v", err)
	}
	if b.Len() != 1 {
		t.Fatalf("Len() = %d; want 1 (second value dropped)", b.Len())
	}
}

func TestBuffer_PublishCompleteLatchesSession(t *testing.T) {
	b := NewBuffer[int]("t", 2, true)
	pub := b.Publish()
	defer pub.Close()

	if err := pub.PublishComplete(nil, NoWait, PolicyRaise); err != nil {
		t.Fatalf("PublishComplete: %v", err)
	}
	if err := pub.PublishValue(1, NoWait, PolicyRaise); !errors.Is(err, ErrInvalid) {
		t.Fatalf("PublishValue after Complete: err = %v; want ErrInvalid", err)
	}
	if err := pub.PublishComplete(nil, NoWait, PolicyRaise); !errors.Is(err, ErrInvalid) {
		t.Fatalf("second PublishComplete: err = %v; want ErrInvalid", err)
	}
}

func TestBuffer_SubscribeEventSignalsOnPush(t *testing.T) {
	b := NewBuffer[int]("t", 2, true)
	pub := b.Publish()
	defer pub.Close()

	event := make(chan struct{}, 1)
	sub, err := b.Subscribe(event)
	if err != nil {
		t.Fatalf("Subscribe: %v", err)
	}
	defer sub.Close()

	if err := pub.PublishValue(1, NoWait, PolicyRaise); err != nil {
		t.Fatalf("PublishValue: %v", err)
	}

	select {
	case <-event:
	case <-time.After(time.Second):
		t.Fatal("expected event signal after push")
	}
}

func TestBuffer_OrphanedQueueArmsDiscardTimer(t *testing.T) {
	b := NewBuffer[int]("t", 2, false)
	b.discardDelay = 20 * time.Millisecond

	pub := b.Publish()
	if err := pub.PublishValue(1, NoWait, PolicyRaise); err != nil {
		t.Fatalf("PublishValue: %v", err)
	}
	pub.Close()

	deadline := time.Now().Add(time.Second)
	for b.Len() != 0 {
		if time.Now().After(deadline) {
			t.Fatal("discard timer never purged the orphaned queue")
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestBuffer_DiscardedCompleteSynthesizedOnResubscribe(t *testing.T) {
	b := NewBuffer[int]("t", 2, false)
	b.discardDelay = 10 * time.Millisecond

	pub := b.Publish()
	if err := pub.PublishComplete(nil, NoWait, PolicyRaise); err != nil {
		t.Fatalf("PublishComplete: %v", err)
	}
	pub.Close()

	time.Sleep(100 * time.Millisecond)

	sub, err := b.Subscribe(nil)
	if err != nil {
		t.Fatalf("Subscribe: %v", err)
	}
	defer sub.Close()

	var got Item[int]
	if err := sub.CallEvents(func(it Item[int]) { got = it }); err != nil {
		t.Fatalf("CallEvents: %v", err)
	}
	if !got.IsComplete() || got.Err() != nil {
		t.Fatalf("got = %+v; want synthesized Complete(nil)", got)
	}
}

func TestBuffer_DiscardedCompleteErrLatchedAsPendingError(t *testing.T) {
	b := NewBuffer[int]("t", 2, false)
	b.discardDelay = 10 * time.Millisecond
	boom := errors.New("boom")

	pub := b.Publish()
	if err := pub.PublishComplete(boom, NoWait, PolicyRaise); err != nil {
		t.Fatalf("PublishComplete: %v", err)
	}
	pub.Close()

	time.Sleep(100 * time.Millisecond)

	if _, err := b.Subscribe(nil); !errors.Is(err, boom) {
		t.Fatalf("Subscribe err = %v; want %v", err, boom)
	}
}

func TestBuffer_NewBufferPanicsOnNonPositiveCapacity(t *testing.T) {
	defer func() {
		if recover() == nil {
			t.Fatal("expected panic for capacity < 1")
		}
	}()
	NewBuffer[int]("t", 0, false)
}
