package conduit

// NewThreadRunner constructs a Runner that drives factory's Runnable in a
// goroutine within the current process. Command and status channels use
// the thread-local buffer kind, per spec.md §4.4 ("Thread variant ... Uses
// the single-process buffer kind"). Since goroutines already share the
// process heap, there is no scope-policy validation step analogous to the
// process variant's ValidateScope: NewThreadRunner receives only a factory,
// not a Runnable template, and validates nothing. A thread= declaration is
// checked only by a direct ValidateScope(obj, ScopeThreadKind) call; a
// ProcessRunner's validation checks only the process= side of each tag.
func NewThreadRunner(name string, factory RunnableFactory) *Runner {
	cmdBuf := NewThreadBuffer[Command](name+"-cmd", DefaultCommandAndStatusBufferSize, true)
	statusBuf := NewThreadBuffer[StatusMessage](name+"-status", DefaultCommandAndStatusBufferSize, true)
	return newRunner(name, ScopeThreadKind, factory, cmdBuf, statusBuf)
}
