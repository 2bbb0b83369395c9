// Package rtmplog wraps go.uber.org/zap's sugared logger with a nil-safe
// default so every other package can take a *Logger without forcing callers
// to configure one.
package rtmplog

import "go.uber.org/zap"

// Logger is a thin, structured logger used throughout the connection,
// demultiplexer and server code in place of the ad hoc fmt.Println/FIXME
// debug statements the logging concern started from.
type Logger struct {
	s *zap.SugaredLogger
}

// New wraps an existing zap logger.
func New(z *zap.Logger) *Logger {
	if z == nil {
		return NewNop()
	}
	return &Logger{s: z.Sugar()}
}

// NewNop returns a Logger that discards everything, the default for a
// Server with no logger configured.
func NewNop() *Logger {
	return &Logger{s: zap.NewNop().Sugar()}
}

// NewDevelopment returns a human-readable Logger built on
// zap.NewDevelopment, suitable for local development.
func NewDevelopment() (*Logger, error) {
	z, err := zap.NewDevelopment()
	if err != nil {
		return nil, err
	}
	return New(z), nil
}

func (l *Logger) Debugw(msg string, keysAndValues ...interface{}) {
	if l == nil {
		return
	}
	l.s.Debugw(msg, keysAndValues...)
}

func (l *Logger) Infow(msg string, keysAndValues ...interface{}) {
	if l == nil {
		return
	}
	l.s.Infow(msg, keysAndValues...)
}

func (l *Logger) Warnw(msg string, keysAndValues ...interface{}) {
	if l == nil {
		return
	}
	l.s.Warnw(msg, keysAndValues...)
}

func (l *Logger) Errorw(msg string, keysAndValues ...interface{}) {
	if l == nil {
		return
	}
	l.s.Errorw(msg, keysAndValues...)
}

// With returns a child Logger with the given structured fields attached to
// every subsequent call, mirroring zap's own With.
func (l *Logger) With(keysAndValues ...interface{}) *Logger {
	if l == nil {
		return NewNop()
	}
	return &Logger{s: l.s.With(keysAndValues...)}
}

// Sync flushes any buffered log entries. Safe to call on a nil Logger.
func (l *Logger) Sync() error {
	if l == nil {
		return nil
	}
	return l.s.Sync()
}
