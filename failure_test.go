package conduit

import (
	"errors"
	"fmt"
	"strings"
	"testing"
)

func TestNewRemoteFailure_NilPassthrough(t *testing.T) {
	if err := newRemoteFailure(nil, "r", "s"); err != nil {
		t.Fatalf("newRemoteFailure(nil, ...) = %v; want nil", err)
	}
}

func TestNewRemoteFailure_WrapsAndUnwraps(t *testing.T) {
	cause := errors.New("boom")
	err := newRemoteFailure(cause, "worker-1", "scope-a")
	if err.Error() != "boom" {
		t.Fatalf("Error() = %q; want %q", err.Error(), "boom")
	}
	if !errors.Is(err, cause) {
		t.Fatal("errors.Is(err, cause) = false; want true via Unwrap")
	}

	fm, ok := ExtractFailureMeta(err)
	if !ok {
		t.Fatal("ExtractFailureMeta: not found")
	}
	if fm.RunnableName() != "worker-1" {
		t.Fatalf("RunnableName() = %q; want worker-1", fm.RunnableName())
	}
	if fm.ChildScopeID() != "scope-a" {
		t.Fatalf("ChildScopeID() = %q; want scope-a", fm.ChildScopeID())
	}
	if fm.Stack() == "" {
		t.Fatal("Stack() is empty; want a captured stack snippet")
	}
}

func TestExtractFailureMeta_NotPresent(t *testing.T) {
	if _, ok := ExtractFailureMeta(errors.New("plain")); ok {
		t.Fatal("ExtractFailureMeta found metadata on a plain error")
	}
}

func TestRemoteFailure_FormatVerbs(t *testing.T) {
	err := newRemoteFailure(errors.New("boom"), "worker-1", "scope-a")

	short := fmt.Sprintf("%v", err)
	if short != "boom" {
		t.Fatalf("%%v = %q; want %q", short, "boom")
	}
	if got := fmt.Sprintf("%s", err); got != "boom" {
		t.Fatalf("%%s = %q; want %q", got, "boom")
	}
	if got := fmt.Sprintf("%q", err); got != `"boom"` {
		t.Fatalf("%%q = %q; want %q", got, `"boom"`)
	}

	long := fmt.Sprintf("%+v", err)
	if !strings.Contains(long, "worker-1") || !strings.Contains(long, "scope-a") || !strings.Contains(long, "boom") {
		t.Fatalf("%%+v = %q; want it to contain runnable name, scope id, and message", long)
	}
}

type badError struct{}

func (badError) Error() string { panic("adversarial error") }

func TestSafeErrString_RecoversFromPanickingError(t *testing.T) {
	if got := safeErrString(badError{}); got != "<error formatting error>" {
		t.Fatalf("safeErrString(panicking error) = %q; want the recovered placeholder", got)
	}
}

func TestSafeErrString_NilAndNormal(t *testing.T) {
	if got := safeErrString(nil); got != "<nil>" {
		t.Fatalf("safeErrString(nil) = %q; want <nil>", got)
	}
	if got := safeErrString(errors.New("x")); got != "x" {
		t.Fatalf("safeErrString(errors.New(\"x\")) = %q; want x", got)
	}
}
