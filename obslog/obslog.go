// Package obslog is the thin structured-logging facade the rest of collide
// logs through. As a library (not a CLI) it accepts a caller-supplied
// *zap.Logger rather than reaching for a global singleton; a nil Logger
// falls back to zap.NewNop() so call sites never need a nil check.
package obslog

import "go.uber.org/zap"

// Logger wraps a *zap.Logger with the fields collide call sites use
// repeatedly (run_id, worker_id, position, conn_id).
type Logger struct {
	z *zap.Logger
}

// New wraps z, or a no-op logger if z is nil.
func New(z *zap.Logger) *Logger {
	if z == nil {
		z = zap.NewNop()
	}
	return &Logger{z: z}
}

// Nop returns a Logger that discards everything, for tests and callers
// that don't care about observability.
func Nop() *Logger { return New(nil) }

// With returns a child Logger with the given fields attached to every
// subsequent entry.
func (l *Logger) With(fields ...zap.Field) *Logger {
	return &Logger{z: l.z.With(fields...)}
}

// Debug, Info, Warn, Error forward to the wrapped zap.Logger.
func (l *Logger) Debug(msg string, fields ...zap.Field) { l.z.Debug(msg, fields...) }
func (l *Logger) Info(msg string, fields ...zap.Field)  { l.z.Info(msg, fields...) }
func (l *Logger) Warn(msg string, fields ...zap.Field)  { l.z.Warn(msg, fields...) }
func (l *Logger) Error(msg string, fields ...zap.Field) { l.z.Error(msg, fields...) }

// RunID, WorkerID, Position, ConnID are the field constructors used at
// nearly every call site, kept here so spellings stay consistent.
func RunID(id string) zap.Field      { return zap.String("run_id", id) }
func WorkerID(id int) zap.Field      { return zap.Int("worker_id", id) }
func Position(pos int) zap.Field     { return zap.Int("position", pos) }
func ConnID(id string) zap.Field     { return zap.String("conn_id", id) }
func State(state string) zap.Field   { return zap.String("state", state) }
