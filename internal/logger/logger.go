// Package logger provides the structured key/value logger used across the engine.
package logger

// Logger writes leveled messages with alternating key/value pairs.
type Logger interface {
	Debugw(msg string, keysAndValues ...any)
	Infow(msg string, keysAndValues ...any)
	Warnw(msg string, keysAndValues ...any)
	Errorw(msg string, keysAndValues ...any)

	// With returns a logger that adds keysAndValues to every message.
	With(keysAndValues ...any) Logger
	// WithComponent tags messages with the emitting component.
	WithComponent(name string) Logger
}
