package securelog

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime"
	"strings"
)

// Error logs err without including user-provided data. Only the caller
// location, the operation name and the error type chain are recorded, so
// message bodies, emails and tokens never reach the log sink.
func Error(l *slog.Logger, op string, err error) {
	if err == nil {
		return
	}
	if l == nil {
		l = slog.Default()
	}
	attrs := []slog.Attr{
		slog.String("at", callerLocation(2)),
		slog.String("types", strings.Join(errorTypes(err), "->")),
	}
	if op != "" {
		attrs = append(attrs, slog.String("op", op))
	}
	l.LogAttrs(context.Background(), slog.LevelError, "operation failed", attrs...)
}

func callerLocation(skip int) string {
	pc, file, line, ok := runtime.Caller(skip)
	if !ok {
		return "unknown"
	}
	name := "unknown"
	if fn := runtime.FuncForPC(pc); fn != nil {
		name = fn.Name()
	}
	if i := strings.LastIndex(file, "/"); i >= 0 {
		file = file[i+1:]
	}
	return fmt.Sprintf("%s:%d %s", file, line, name)
}

func errorTypes(err error) []string {
	var types []string
	seen := map[string]struct{}{}
	for err != nil {
		name := fmt.Sprintf("%T", err)
		if _, ok := seen[name]; !ok {
			seen[name] = struct{}{}
			types = append(types, name)
		}
		err = errors.Unwrap(err)
	}
	return types
}
