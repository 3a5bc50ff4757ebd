package conduit

import "fmt"

// PublisherSession is a handle used to enqueue items onto a Buffer. Acquired
// from Buffer.Publish, released via Buffer.Unpublish (or Close, which is
// equivalent). Grounded on
// original_source/puma/buffer/internal/buffer_base.py's publisher-session
// bookkeeping, minus the per-session wake-up target: this implementation
// signals the buffer's subscriber event directly from Buffer.push, so a
// PublisherSession carries no event of its own.
type PublisherSession[T any] struct {
	buffer            *Buffer[T]
	wire              processWire[T]
	publishedComplete bool
	released          bool
}

// processWire is implemented by ProcessBuffer; a PublisherSession whose
// wire is non-nil sends across the cross-process connection instead of
// pushing into the local queue directly.
type processWire[T any] interface {
	sendWire(it Item[T], timeout Timeout, policy OverflowPolicy) (bool, error)
}

// PublishValue pushes a value item, blocking up to timeout and applying
// policy on overflow. Fails with ErrInvalid if this session already
// published a terminal Complete.
func (s *PublisherSession[T]) PublishValue(v T, timeout Timeout, policy OverflowPolicy) error {
	if s.publishedComplete {
		return fmt.Errorf("%w: session already published Complete", ErrInvalid)
	}
	if err := timeout.Validate(); err != nil {
		return err
	}
	_, err := s.send(valueItem(v), timeout, policy)
	return err
}

// PublishComplete pushes the terminal marker, blocking up to timeout and
// applying policy on overflow. Once successfully delivered, further
// PublishValue/PublishComplete calls on this session fail. A send that was
// dropped under IGNORE/WARN (or that never got a chance because timeout
// elapsed) does not latch the session closed — it may be retried.
func (s *PublisherSession[T]) PublishComplete(err error, timeout Timeout, policy OverflowPolicy) error {
	if s.publishedComplete {
		return fmt.Errorf("%w: session already published Complete", ErrInvalid)
	}
	if verr := timeout.Validate(); verr != nil {
		return verr
	}
	ok, perr := s.send(completeItem[T](err), timeout, policy)
	if ok {
		s.publishedComplete = true
	}
	return perr
}

func (s *PublisherSession[T]) send(it Item[T], timeout Timeout, policy OverflowPolicy) (bool, error) {
	if s.wire != nil {
		return s.wire.sendWire(it, timeout, policy)
	}
	return s.buffer.push(it, timeout, policy)
}

// Close unpublishes the session. Idempotent.
func (s *PublisherSession[T]) Close() {
	s.buffer.Unpublish(s)
}
