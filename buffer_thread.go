package conduit

// BufferKind distinguishes the two concrete buffer implementations spec.md
// §4.1 describes. Runner does not check it at Start.
type BufferKind int

const (
	// ThreadBufferKind is the in-memory, single-process bounded queue.
	ThreadBufferKind BufferKind = iota
	// ProcessBufferKind is the cross-process buffer with a relay thread.
	ProcessBufferKind
)

// NewThreadBuffer constructs the single-process buffer kind: a plain
// in-memory bounded queue, usable only by Runnables sharing one OS process
// (a ThreadRunner). Grounded on
// original_source/puma/buffer/thread/thread_buffer.py, which is a thin
// specialization of BufferBase with no cross-process concerns.
func NewThreadBuffer[T any](name string, capacity int, warnOnDiscard bool) *Buffer[T] {
	return NewBuffer[T](name, capacity, warnOnDiscard)
}

// Kind reports this as the thread-local buffer kind. A *Buffer[T] cannot
// cross an OS process boundary: it holds live Go channels and mutexes,
// neither of which survive serialization. No ProcessRunner check rejects a
// *Buffer[T] by its Kind.
func (b *Buffer[T]) Kind() BufferKind { return ThreadBufferKind }
