package conduit

import (
	"fmt"
	"reflect"
	"sync"

	"github.com/google/uuid"
)

// RunnableBase is the common embedding every concrete Runnable uses. It
// owns the output-buffer name registry (frozen once execution begins), the
// self-command plumbing for either scope, and the run-in-child-scope call
// dispatch described in spec.md §4.2 / §9.
//
// Grounded on original_source/puma/runnable/runnable.py; the indirect
// publisher-handle dance the source uses to let a Runnable reference its
// own not-yet-open output publishers from the parent scope is replaced
// here, per spec.md §9, with plain construction-time name declarations.
// RunnableBase keeps only those names and holds no output publisher
// sessions; a concrete Runnable opens its own in Execute.
type RunnableBase struct {
	name string

	mu            sync.Mutex
	executing     bool
	self          any
	outputNames   []string
	statusPub     *PublisherSession[StatusMessage]
	cmdSelfPub    *PublisherSession[Command]
	parentCmdPub  *PublisherSession[Command]
	cachedResults map[string]any
	childScopeID  string
}

// NewRunnableBase constructs the base. Concrete runnables embed this and
// call BindSelf with their own pointer so run-in-child-scope calls can be
// resolved by reflection against the full concrete type.
func NewRunnableBase(name string) *RunnableBase {
	return &RunnableBase{name: name, cachedResults: make(map[string]any)}
}

// Name returns the runnable's configured name.
func (r *RunnableBase) Name() string { return r.name }

// BindSelf records the concrete Runnable value so HandleCommand can resolve
// method names against it.
func (r *RunnableBase) BindSelf(self any) { r.self = self }

// DeclareOutput registers an output buffer's name at construction time.
// Panics if called after execution has started, enforcing spec.md §4.2's
// "the output buffer set is frozen once execution begins".
func (r *RunnableBase) DeclareOutput(name string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.executing {
		panic("conduit: output buffers are frozen once a Runnable is executing")
	}
	r.outputNames = append(r.outputNames, name)
}

// OutputNames returns the frozen set of declared output buffer names.
func (r *RunnableBase) OutputNames() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, len(r.outputNames))
	copy(out, r.outputNames)
	return out
}

// MarkExecuting freezes the output-buffer set and mints this Runnable's
// child scope id, recorded per spec.md §4.4 ("open a status-publisher
// session, record the child scope id, call the Runnable's execute").
// Called by the Runner/loop glue right before execute() opens its
// subscriptions and publications.
func (r *RunnableBase) MarkExecuting() {
	r.mu.Lock()
	r.executing = true
	r.childScopeID = uuid.NewString()
	r.mu.Unlock()
}

// ChildScopeID returns the id minted for this Runnable's child scope once
// execution has started, or "" beforehand.
func (r *RunnableBase) ChildScopeID() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.childScopeID
}

// IsExecuting reports whether MarkExecuting has been called. Derived
// Runnables (e.g. Multicaster) use this to reject subscribe/unsubscribe
// calls that must only happen before start, per spec.md §4.5.
func (r *RunnableBase) IsExecuting() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.executing
}

// BindStatusPublisher wires the worker-side status publisher session,
// opened by the Runner once the child scope starts.
func (r *RunnableBase) BindStatusPublisher(pub *PublisherSession[StatusMessage]) {
	r.statusPub = pub
}

// BindSelfCommandPublisher wires the publisher session used when the
// Runnable sends itself a command from the child scope.
func (r *RunnableBase) BindSelfCommandPublisher(pub *PublisherSession[Command]) {
	r.cmdSelfPub = pub
}

// BindParentCommandPublisher wires the pre-opened supervisor-side session a
// Runner uses to let the Runnable send itself a command from the parent
// scope, before execution begins.
func (r *RunnableBase) BindParentCommandPublisher(pub *PublisherSession[Command]) {
	r.parentCmdPub = pub
}

// SendSelf publishes cmd on whichever command publisher is bound for the
// caller's current scope: the child-scope session once execution has
// started, or the parent-scope session beforehand. Grounded on spec.md
// §4.2 ("a Runnable may send commands to itself from either scope").
func (r *RunnableBase) SendSelf(cmd Command, timeout Timeout, policy OverflowPolicy) error {
	pub := r.cmdSelfPub
	if pub == nil {
		pub = r.parentCmdPub
	}
	if pub == nil {
		return fmt.Errorf("%w: no command publisher bound for this scope", ErrInvalid)
	}
	return pub.PublishValue(cmd, timeout, policy)
}

// HandleCommand implements CommandHandlerFunc for the run-in-child-scope
// pattern (CallCommand). A concrete Runnable with its own extra command
// variants should try its own switch first and fall back to this for
// CallCommand; wire it as the Loop's CommandHandlerFunc directly when no
// extra variants are needed.
func (r *RunnableBase) HandleCommand(cmd Command) error {
	cc, ok := cmd.(CallCommand)
	if !ok {
		return fmt.Errorf("%w: %T", ErrUnknownCommand, cmd)
	}
	value, cached, err := r.dispatchCall(cc)
	status := CallResultStatus{CallID: cc.CallID, Value: value, Cached: cached, Err: err}
	if r.statusPub != nil {
		if perr := r.statusPub.PublishValue(status, Infinite, PolicyRaise); perr != nil {
			return perr
		}
	}
	return nil
}

// dispatchCall resolves cc.Method against the bound self (or a previously
// cached result object named by cc.Target) and invokes it via reflection.
// A non-primitive return value is cached under a fresh call id rather than
// inlined, per spec.md §4.2 ("non-primitive; the worker caches the result
// under the call-id for subsequent remote dispatch").
func (r *RunnableBase) dispatchCall(cc CallCommand) (value any, cached bool, err error) {
	target := r.self
	if cc.Target != "" {
		r.mu.Lock()
		c, ok := r.cachedResults[cc.Target]
		r.mu.Unlock()
		if !ok {
			return nil, false, fmt.Errorf("%w: no cached result %q", ErrInvalid, cc.Target)
		}
		target = c
	}
	if target == nil {
		return nil, false, fmt.Errorf("%w: no target bound for call dispatch", ErrInvalid)
	}
	m := reflect.ValueOf(target).MethodByName(cc.Method)
	if !m.IsValid() {
		return nil, false, fmt.Errorf("%w: method %q not found", ErrUnknownCommand, cc.Method)
	}
	args := make([]reflect.Value, len(cc.Args))
	for i, a := range cc.Args {
		args[i] = reflect.ValueOf(a)
	}
	results := m.Call(args)
	errType := reflect.TypeOf((*error)(nil)).Elem()
	if n := len(results); n > 0 && results[n-1].Type().Implements(errType) {
		if !results[n-1].IsNil() {
			return nil, false, results[n-1].Interface().(error)
		}
		results = results[:n-1]
	}
	if len(results) == 0 {
		return nil, false, nil
	}
	out := results[0].Interface()
	if isPrimitive(out) {
		return out, false, nil
	}
	id := uuid.NewString()
	r.mu.Lock()
	r.cachedResults[id] = out
	r.mu.Unlock()
	return id, true, nil
}

func isPrimitive(v any) bool {
	switch v.(type) {
	case nil, bool, int, int8, int16, int32, int64, uint, uint8, uint16, uint32, uint64, float32, float64, string:
		return true
	default:
		return false
	}
}
