package conduit

import (
	"fmt"
	"sync"
	"time"

	"github.com/ygrebnov/conduit/metrics"
)

// Discard delays per buffer kind (spec.md §4.1: "a few seconds; larger for
// cross-process, because a process holding a non-empty cross-process queue
// cannot exit cleanly").
const (
	ThreadDiscardDelay  = 3 * time.Second
	ProcessDiscardDelay = 8 * time.Second
)

// Publishable is the source-side contract of a Buffer, grounded on
// original_source/puma/buffer/internal/buffer_base.py's publish/unpublish
// pair.
type Publishable[T any] interface {
	Publish() *PublisherSession[T]
	Unpublish(s *PublisherSession[T])
}

// Observable is the sink-side contract of a Buffer.
type Observable[T any] interface {
	Subscribe(event chan struct{}) (*SubscriptionSession[T], error)
	Unsubscribe(s *SubscriptionSession[T])
}

// Buffer is a bounded FIFO that carries item[T] values between publisher
// sessions and at most one subscription session. The queue itself is a
// buffered Go channel — its capacity *is* the backpressure limit, so no
// separate semaphore bookkeeping is needed for the thread-local case. A
// mutex protects everything else: the publisher/subscriber registry, the
// discard timer, and the "pending empty completion" flag left behind by a
// purge. Grounded on
// original_source/puma/buffer/internal/buffer_base.py, whose BufferBase
// plays the same role with an stdlib-equivalent deque+lock+condvar.
type Buffer[T any] struct {
	name          string
	capacity      int
	warnOnDiscard bool
	discardDelay  time.Duration

	queue chan Item[T]

	mu                     sync.Mutex
	publisherCount         int
	sub                    *SubscriptionSession[T]
	pendingEmptyCompletion bool
	discardTimer           *time.Timer
	pendingErr             error
	crossProcess           bool

	queueDepthMetric metrics.UpDownCounter
	discardMetric    metrics.Counter
}

// NewBuffer constructs a thread-local (single-process) buffer. Cross-process
// buffers are constructed with NewProcessBuffer in buffer_process.go and
// embed one of these as their subscriber-side relay target.
func NewBuffer[T any](name string, capacity int, warnOnDiscard bool) *Buffer[T] {
	if capacity < 1 {
		panic("conduit: buffer capacity must be >= 1")
	}
	return &Buffer[T]{
		name:             name,
		capacity:         capacity,
		warnOnDiscard:    warnOnDiscard,
		discardDelay:     ThreadDiscardDelay,
		queue:            make(chan Item[T], capacity),
		queueDepthMetric: bufferQueueDepth(name),
		discardMetric:    bufferDiscardsTotal(name),
	}
}

// Name returns the buffer's configured name, used in log lines and errors.
func (b *Buffer[T]) Name() string { return b.name }

// Capacity returns the configured capacity.
func (b *Buffer[T]) Capacity() int { return b.capacity }

// Len reports the number of items currently queued.
func (b *Buffer[T]) Len() int { return len(b.queue) }

// takePendingError returns and clears any error left by a discard-timer
// purge. Only Subscribe calls it, so the error surfaces on the next
// Subscribe; Publish, Unpublish, Unsubscribe and the publishing calls of a
// PublisherSession do not report it.
func (b *Buffer[T]) takePendingError() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	err := b.pendingErr
	b.pendingErr = nil
	return err
}

// Publish acquires a new publisher session. It never fails for capacity
// reasons; acquiring a session cancels any armed discard timer.
func (b *Buffer[T]) Publish() *PublisherSession[T] {
	b.mu.Lock()
	b.publisherCount++
	b.cancelDiscardTimerLocked()
	b.mu.Unlock()
	return &PublisherSession[T]{buffer: b}
}

// Unpublish idempotently detaches a publisher session. Multiple calls for
// the same session are no-ops beyond the first.
func (b *Buffer[T]) Unpublish(s *PublisherSession[T]) {
	if s == nil || s.released {
		return
	}
	s.released = true
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.publisherCount > 0 {
		b.publisherCount--
	}
	b.armDiscardTimerIfOrphanedLocked()
}

// Subscribe acquires the buffer's single subscription session. event, if
// non-nil, receives a non-blocking signal on every push and once now if the
// buffer is already non-empty.
func (b *Buffer[T]) Subscribe(event chan struct{}) (*SubscriptionSession[T], error) {
	if err := b.takePendingError(); err != nil {
		return nil, err
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.sub != nil && !b.sub.invalidated {
		return nil, fmt.Errorf("%w: buffer %q already has a subscriber", ErrAlreadySubscribed, b.name)
	}
	b.cancelDiscardTimerLocked()
	s := &SubscriptionSession[T]{buffer: b, event: event}
	if b.pendingEmptyCompletion {
		b.pendingEmptyCompletion = false
		s.synthesized = append(s.synthesized, completeItem[T](nil))
	}
	b.sub = s
	if event != nil && len(b.queue) > 0 {
		notify(event)
	}
	return s, nil
}

// Unsubscribe detaches the given subscription session if it is the live one.
func (b *Buffer[T]) Unsubscribe(s *SubscriptionSession[T]) {
	if s == nil {
		return
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.sub == s {
		s.invalidated = true
		b.sub = nil
		b.armDiscardTimerIfOrphanedLocked()
	}
}

// cancelDiscardTimerLocked cancels the armed discard timer, if any. Caller
// must hold b.mu.
func (b *Buffer[T]) cancelDiscardTimerLocked() {
	if b.discardTimer != nil {
		b.discardTimer.Stop()
		b.discardTimer = nil
	}
}

// armDiscardTimerIfOrphanedLocked arms the one-shot discard timer when the
// last publisher and subscriber have detached and the queue is non-empty.
// Caller must hold b.mu. A second arm attempt while one is already pending
// is a no-op, matching spec.md §5 ("at most one per buffer").
func (b *Buffer[T]) armDiscardTimerIfOrphanedLocked() {
	if b.discardTimer != nil {
		return
	}
	if b.publisherCount != 0 || b.sub != nil {
		return
	}
	if len(b.queue) == 0 {
		return
	}
	if b.warnOnDiscard {
		componentLogger("buffer").Warn().Str("buffer", b.name).Msg("orphaned items queued, arming discard timer")
	}
	b.discardTimer = time.AfterFunc(b.discardDelay, b.fireDiscard)
}

// fireDiscard purges the queue. Every discarded Complete(nil) sets the
// pending-empty-completion flag so a future subscriber still observes
// exactly one terminal marker; a discarded Complete(err) is latched as the
// buffer's pending error.
func (b *Buffer[T]) fireDiscard() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.discardTimer == nil {
		return
	}
	b.discardTimer = nil
	if b.publisherCount != 0 || b.sub != nil {
		return
	}
	purged := false
	for {
		select {
		case it := <-b.queue:
			purged = true
			b.queueDepthMetric.Add(-1)
			if it.IsComplete() {
				if it.Err() != nil {
					b.pendingErr = it.Err()
				} else {
					b.pendingEmptyCompletion = true
				}
			}
		default:
			if purged {
				b.discardMetric.Add(1)
			}
			return
		}
	}
}

// push delivers it to the queue, blocking up to timeout, applying policy on
// overflow. Called by PublisherSession. ok reports whether the item was
// actually enqueued; a session only latches "published complete" when ok is
// true, so a send that was merely ignored/warned on a full buffer may be
// retried, per spec.md §4.1.
func (b *Buffer[T]) push(it Item[T], timeout Timeout, policy OverflowPolicy) (ok bool, err error) {
	select {
	case b.queue <- it:
		b.queueDepthMetric.Add(1)
		b.notifySubscriber()
		return true, nil
	default:
	}

	deadline := deadlineChan(timeout)
	select {
	case b.queue <- it:
		b.queueDepthMetric.Add(1)
		b.notifySubscriber()
		return true, nil
	case <-deadline:
		err := b.handleOverflow(policy)
		return false, err
	}
}

func (b *Buffer[T]) notifySubscriber() {
	b.mu.Lock()
	s := b.sub
	b.mu.Unlock()
	if s != nil && s.event != nil {
		notify(s.event)
	}
}

func (b *Buffer[T]) handleOverflow(policy OverflowPolicy) error {
	switch policy {
	case PolicyIgnore:
		return nil
	case PolicyWarn:
		if allowWarnLog() {
			componentLogger("buffer").Warn().Str("buffer", b.name).Msg("dropping item, buffer full")
		}
		return nil
	case PolicyRaise:
		return fmt.Errorf("%w: buffer %q", ErrFull, b.name)
	default:
		return fmt.Errorf("%w: unknown overflow policy %v", ErrInvalid, policy)
	}
}

// notify performs a non-blocking send on a signal channel of capacity ≥ 1.
func notify(event chan struct{}) {
	select {
	case event <- struct{}{}:
	default:
	}
}
