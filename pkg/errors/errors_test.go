package errors

import (
	"errors"
	"fmt"
	"strings"
	"testing"
)

func TestWrapNil(t *testing.T) {
	if Wrap(nil, CodeWriteFailed, "x") != nil {
		t.Error("Wrap(nil) should be nil")
	}
	if Wrapf(nil, CodeWriteFailed, "x %d", 1) != nil {
		t.Error("Wrapf(nil) should be nil")
	}
}

func TestIsCodeThroughFmtWrap(t *testing.T) {
	base := AlreadyAborted("sim")
	wrapped := fmt.Errorf("abort: %w", base)

	if !IsCode(wrapped, CodeAlreadyAborted) {
		t.Error("IsCode should see through fmt wrapping")
	}
	if GetCode(errors.New("plain")) != CodeUnknown {
		t.Error("plain errors should have CodeUnknown")
	}
	if !errors.Is(wrapped, New(CodeAlreadyAborted, "")) {
		t.Error("errors.Is should match on code")
	}
}

func TestErrorStringIsStable(t *testing.T) {
	err := New(CodeWriteFailed, "write failed").
		WithContext("bucket", 3).
		WithContext("batch", 7)
	got := err.Error()
	want := "[E301] write failed (batch=7, bucket=3)"
	if got != want {
		t.Errorf("Error() = %q, want %q", got, want)
	}
	if len(err.StackTrace) == 0 {
		t.Error("expected captured stack")
	}
}

func TestStack(t *testing.T) {
	err := fmt.Errorf("load: %w", ContextCanceled("load", errors.New("context canceled")))
	if !IsCode(err, CodeContextCanceled) {
		t.Fatalf("unexpected code %s", GetCode(err))
	}
	stack := Stack(err)
	if !strings.Contains(stack, "TestStack") {
		t.Errorf("stack does not name the caller:\n%s", stack)
	}
	if Stack(errors.New("plain")) != "" {
		t.Error("plain errors have no stack")
	}
}

func TestMultiError(t *testing.T) {
	var m MultiError
	if m.Combined() != nil {
		t.Error("empty MultiError should combine to nil")
	}

	first := Wrap(errors.New("a"), CodeWriteFailed, "first")
	m.Add(first)
	m.Add(nil)
	if m.Combined() != first {
		t.Error("single error should be returned as-is")
	}

	m.Add(errors.New("b"))
	combined := m.Combined()
	if !strings.Contains(combined.Error(), "2 errors occurred") {
		t.Errorf("unexpected message: %s", combined)
	}
	if !IsCode(combined, CodeWriteFailed) {
		t.Error("IsCode should find a code inside a MultiError")
	}
}
