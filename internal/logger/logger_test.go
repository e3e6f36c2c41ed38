package logger

import (
	"bytes"
	"log"
	"strings"
	"testing"
)

func TestStdLoggerLevels(t *testing.T) {
	var buf bytes.Buffer
	l := NewStdLoggerTo(log.New(&buf, "", 0), "warn")

	l.Debugw("debug message")
	l.Infow("info message")
	l.Warnw("warn message", "tile", "10/1/2")
	l.Errorw("error message", "err", "boom")

	out := buf.String()
	if strings.Contains(out, "debug message") || strings.Contains(out, "info message") {
		t.Errorf("messages below warn were logged: %q", out)
	}
	if !strings.Contains(out, "[WARN] warn message tile=10/1/2") {
		t.Errorf("missing warn line: %q", out)
	}
	if !strings.Contains(out, "[ERROR] error message err=boom") {
		t.Errorf("missing error line: %q", out)
	}
}

func TestStdLoggerContext(t *testing.T) {
	var buf bytes.Buffer
	l := NewStdLoggerTo(log.New(&buf, "", 0), "debug").
		WithComponent("download").
		With("zoom", 17)

	l.Infow("fetched", "attempts", 2, "dangling")

	got := strings.TrimSpace(buf.String())
	want := "[INFO] fetched component=download zoom=17 attempts=2"
	if got != want {
		t.Errorf("got %q, want %q", got, want)
	}
}

func TestParseLevel(t *testing.T) {
	tests := map[string]LogLevel{
		"debug":   LevelDebug,
		"INFO":    LevelInfo,
		"warning": LevelWarn,
		"error":   LevelError,
		"bogus":   LevelInfo,
	}
	for in, want := range tests {
		if got := ParseLevel(in); got != want {
			t.Errorf("ParseLevel(%q) = %v, want %v", in, got, want)
		}
	}
}

func TestNoOpLogger(t *testing.T) {
	var warned []string
	l := &NoOpLogger{WarnwFunc: func(msg string, _ ...any) { warned = append(warned, msg) }}

	l.Debugw("debug")
	l.Infow("info")
	l.Warnw("warn")
	l.Errorw("error")
	l.With("k", "v").WithComponent("c").Warnw("chained")

	if len(warned) != 2 || warned[1] != "chained" {
		t.Errorf("warned = %v", warned)
	}
}
