package logger

import (
	"fmt"
	"log"
	"sort"
	"strings"
)

// LogLevel represents the severity of a log message.
type LogLevel int

const (
	LevelDebug LogLevel = iota
	LevelInfo
	LevelWarn
	LevelError
)

// ParseLevel maps a string to a LogLevel. Unknown input yields LevelInfo.
func ParseLevel(levelStr string) LogLevel {
	switch strings.ToLower(levelStr) {
	case "debug":
		return LevelDebug
	case "warn", "warning":
		return LevelWarn
	case "error":
		return LevelError
	default:
		return LevelInfo
	}
}

// StdLogger logs through the standard library log package.
type StdLogger struct {
	out      *log.Logger
	context  map[string]any
	minLevel LogLevel
}

// NewStdLogger returns a logger writing to the default log output.
func NewStdLogger(minLevel string) Logger {
	return NewStdLoggerTo(log.Default(), minLevel)
}

// NewStdLoggerTo returns a logger writing to out.
func NewStdLoggerTo(out *log.Logger, minLevel string) Logger {
	return &StdLogger{
		out:      out,
		context:  make(map[string]any),
		minLevel: ParseLevel(minLevel),
	}
}

func (l *StdLogger) log(level LogLevel, levelStr, msg string, kvs ...any) {
	if level < l.minLevel {
		return
	}

	var b strings.Builder
	fmt.Fprintf(&b, "[%s] %s", strings.ToUpper(levelStr), msg)

	keys := make([]string, 0, len(l.context))
	for k := range l.context {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		fmt.Fprintf(&b, " %s=%v", k, l.context[k])
	}

	for i := 0; i+1 < len(kvs); i += 2 {
		key, ok := kvs[i].(string)
		if !ok {
			continue
		}
		fmt.Fprintf(&b, " %s=%v", key, kvs[i+1])
	}

	l.out.Println(b.String())
}

func (l *StdLogger) Debugw(msg string, kvs ...any) { l.log(LevelDebug, "debug", msg, kvs...) }
func (l *StdLogger) Infow(msg string, kvs ...any)  { l.log(LevelInfo, "info", msg, kvs...) }
func (l *StdLogger) Warnw(msg string, kvs ...any)  { l.log(LevelWarn, "warn", msg, kvs...) }
func (l *StdLogger) Errorw(msg string, kvs ...any) { l.log(LevelError, "error", msg, kvs...) }

func (l *StdLogger) With(kvs ...any) Logger {
	extra := make(map[string]any, len(kvs)/2)
	for i := 0; i+1 < len(kvs); i += 2 {
		if key, ok := kvs[i].(string); ok {
			extra[key] = kvs[i+1]
		}
	}
	return l.cloneWithContext(extra)
}

func (l *StdLogger) WithComponent(name string) Logger {
	return l.cloneWithContext(map[string]any{"component": name})
}

func (l *StdLogger) cloneWithContext(extra map[string]any) *StdLogger {
	ctx := make(map[string]any, len(l.context)+len(extra))
	for k, v := range l.context {
		ctx[k] = v
	}
	for k, v := range extra {
		ctx[k] = v
	}
	return &StdLogger{out: l.out, context: ctx, minLevel: l.minLevel}
}
