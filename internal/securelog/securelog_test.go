package securelog

import (
	"bytes"
	"fmt"
	"log/slog"
	"strings"
	"testing"
)

type testErr struct{ msg string }

func (e testErr) Error() string { return e.msg }

func newBufferLogger() (*slog.Logger, *bytes.Buffer) {
	var buf bytes.Buffer
	return slog.New(slog.NewTextHandler(&buf, nil)), &buf
}

func TestError_LogsOpAndTypes(t *testing.T) {
	l, buf := newBufferLogger()

	wrapped := fmt.Errorf("outer: %w", testErr{msg: "secret@example.com"})
	Error(l, "message.send", wrapped)

	out := buf.String()
	if !strings.Contains(out, "op=message.send") {
		t.Fatalf("expected op in log output, got %q", out)
	}
	if !strings.Contains(out, "types=") {
		t.Fatalf("expected types in log output, got %q", out)
	}
	if strings.Contains(out, "secret@example.com") {
		t.Fatalf("error text leaked into log: %q", out)
	}
}

func TestError_IgnoresNil(t *testing.T) {
	l, buf := newBufferLogger()

	Error(l, "op", nil)
	if buf.Len() != 0 {
		t.Fatalf("expected no output for nil error, got %q", buf.String())
	}
}

func TestError_EmptyOp(t *testing.T) {
	l, buf := newBufferLogger()

	Error(l, "", testErr{msg: "test"})
	if strings.Contains(buf.String(), "op=") {
		t.Fatalf("expected no op attribute, got %q", buf.String())
	}
	if !strings.Contains(buf.String(), "securelog.testErr") {
		t.Fatalf("expected error type, got %q", buf.String())
	}
}

func TestErrorTypes_UniqueChain(t *testing.T) {
	inner := testErr{msg: "inner"}
	wrapped := fmt.Errorf("wrap: %w", fmt.Errorf("again: %w", inner))
	types := errorTypes(wrapped)
	if len(types) != 2 {
		t.Fatalf("expected two distinct error types, got %v", types)
	}
	if types[len(types)-1] != "securelog.testErr" {
		t.Fatalf("unexpected chain: %v", types)
	}
}

func TestCallerLocation_Unknown(t *testing.T) {
	if got := callerLocation(1000); got != "unknown" {
		t.Fatalf("callerLocation() = %q, want unknown", got)
	}
}
