package logger

// NoOpLogger discards everything. Individual methods can be overridden in tests.
type NoOpLogger struct {
	DebugwFunc func(string, ...any)
	InfowFunc  func(string, ...any)
	WarnwFunc  func(string, ...any)
	ErrorwFunc func(string, ...any)
}

func (l *NoOpLogger) Debugw(msg string, kvs ...any) {
	if l.DebugwFunc != nil {
		l.DebugwFunc(msg, kvs...)
	}
}

func (l *NoOpLogger) Infow(msg string, kvs ...any) {
	if l.InfowFunc != nil {
		l.InfowFunc(msg, kvs...)
	}
}

func (l *NoOpLogger) Warnw(msg string, kvs ...any) {
	if l.WarnwFunc != nil {
		l.WarnwFunc(msg, kvs...)
	}
}

func (l *NoOpLogger) Errorw(msg string, kvs ...any) {
	if l.ErrorwFunc != nil {
		l.ErrorwFunc(msg, kvs...)
	}
}

func (l *NoOpLogger) With(kvs ...any) Logger        { return l }
func (l *NoOpLogger) WithComponent(string) Logger { return l }

// NewNoOpLogger returns a Logger that discards all messages.
func NewNoOpLogger() Logger {
	return &NoOpLogger{}
}
