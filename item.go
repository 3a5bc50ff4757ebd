package conduit

import (
	"bytes"
	"encoding/gob"
	"errors"

	"github.com/ygrebnov/conduit/pool"
)

// itemEncodeBufPool recycles the scratch buffers GobEncode gob-encodes a
// wireItem into. Unlike runner_process.go's unbounded handshake pool, it is
// fixed-size: GobEncode fires once per
// published item on a cross-process buffer, and the number of encodes
// in flight at once is naturally bounded by the buffer's own capacity.
var itemEncodeBufPool pool.Pool = pool.NewFixed(64, func() interface{} { return new(bytes.Buffer) })

// Item is the discriminated union that flows through a buffer: either a
// user Value or a terminal Complete marker (with an optional error). It
// mirrors puma/buffer/internal/items/{value_item,complete_item}.py, which
// exist so that a single queue can carry both payloads and the completion
// signal without a sentinel value colliding with a legitimate T.
type Item[T any] struct {
	Payload T
	Failure error
	Done    bool
}

func valueItem[T any](v T) Item[T] {
	return Item[T]{Payload: v}
}

func completeItem[T any](err error) Item[T] {
	return Item[T]{Done: true, Failure: err}
}

// IsComplete reports whether this item is the terminal marker.
func (i Item[T]) IsComplete() bool { return i.Done }

// Value returns the payload. Only meaningful when !IsComplete().
func (i Item[T]) Value() T { return i.Payload }

// Err returns the optional error carried by a terminal marker. Only
// meaningful when IsComplete().
func (i Item[T]) Err() error { return i.Failure }

// wireItem is the gob-safe shape of an Item[T] actually put on the wire by
// ProcessBuffer (buffer_process.go). encoding/gob only serializes exported
// struct fields, and a bare Failure error field is not itself gob-safe: the
// concrete type behind most errors (errors.errorString, fmt.wrapError,
// *remoteFailure) carries unexported fields of its own and is never
// registered with gob. Item implements GobEncode/GobDecode instead, so the
// error crossing the wire is reduced to its message plus, when present, the
// FailureMeta correlation fields remoteFailure attaches — enough to
// reconstruct a *remoteFailure on the receiving side that still names the
// originating runnable, child scope, and captured stack, per spec.md §7's
// "errors carry their stack trace... so the supervisor can re-raise with
// full context".
type wireItem[T any] struct {
	Payload      T
	Done         bool
	HasFailure   bool
	FailureMsg   string
	HasMeta      bool
	RunnableName string
	ChildScopeID string
	Stack        string
}

// GobEncode implements gob.GobEncoder.
func (i Item[T]) GobEncode() ([]byte, error) {
	w := wireItem[T]{Payload: i.Payload, Done: i.Done}
	if i.Failure != nil {
		w.HasFailure = true
		w.FailureMsg = i.Failure.Error()
		if fm, ok := ExtractFailureMeta(i.Failure); ok {
			w.HasMeta = true
			w.RunnableName = fm.RunnableName()
			w.ChildScopeID = fm.ChildScopeID()
			w.Stack = fm.Stack()
		}
	}
	buf := itemEncodeBufPool.Get().(*bytes.Buffer)
	buf.Reset()
	defer itemEncodeBufPool.Put(buf)
	if err := gob.NewEncoder(buf).Encode(w); err != nil {
		return nil, err
	}
	out := make([]byte, buf.Len())
	copy(out, buf.Bytes())
	return out, nil
}

// GobDecode implements gob.GobDecoder.
func (i *Item[T]) GobDecode(data []byte) error {
	var w wireItem[T]
	if err := gob.NewDecoder(bytes.NewReader(data)).Decode(&w); err != nil {
		return err
	}
	i.Payload = w.Payload
	i.Done = w.Done
	i.Failure = nil
	if w.HasFailure {
		if w.HasMeta {
			i.Failure = &remoteFailure{
				err:          errors.New(w.FailureMsg),
				runnableName: w.RunnableName,
				childScopeID: w.ChildScopeID,
				stack:        w.Stack,
			}
		} else {
			i.Failure = errors.New(w.FailureMsg)
		}
	}
	return nil
}
