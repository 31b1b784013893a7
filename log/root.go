package log

import (
	"os"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Logger writes key/value structured entries:
//
//	log.Info("session loaded", "id", id, "origin", origin)
type Logger interface {
	New(ctx ...interface{}) Logger
	Trace(msg string, ctx ...interface{})
	Debug(msg string, ctx ...interface{})
	Info(msg string, ctx ...interface{})
	Warn(msg string, ctx ...interface{})
	Error(msg string, ctx ...interface{})
	Crit(msg string, ctx ...interface{})
}

type logger struct {
	ctx []interface{}
}

// New returns a logger that prepends ctx to every entry.
func New(ctx ...interface{}) Logger {
	return &logger{ctx: normalize(ctx)}
}

// Root returns the root logger.
func Root() Logger {
	return &logger{}
}

func (l *logger) New(ctx ...interface{}) Logger {
	return &logger{ctx: append(append([]interface{}{}, l.ctx...), normalize(ctx)...)}
}

func (l *logger) Trace(msg string, ctx ...interface{}) { l.write(zap.DebugLevel, msg, ctx) }
func (l *logger) Debug(msg string, ctx ...interface{}) { l.write(zap.DebugLevel, msg, ctx) }
func (l *logger) Info(msg string, ctx ...interface{})  { l.write(zap.InfoLevel, msg, ctx) }
func (l *logger) Warn(msg string, ctx ...interface{})  { l.write(zap.WarnLevel, msg, ctx) }
func (l *logger) Error(msg string, ctx ...interface{}) { l.write(zap.ErrorLevel, msg, ctx) }

func (l *logger) Crit(msg string, ctx ...interface{}) {
	l.write(zap.ErrorLevel, msg, ctx)
	Sync()
	os.Exit(1)
}

func (l *logger) write(lvl zapcore.Level, msg string, ctx []interface{}) {
	kv := append(append([]interface{}{}, l.ctx...), normalize(ctx)...)
	s := root()
	switch lvl {
	case zap.DebugLevel:
		s.Debugw(msg, kv...)
	case zap.InfoLevel:
		s.Infow(msg, kv...)
	case zap.WarnLevel:
		s.Warnw(msg, kv...)
	default:
		s.Errorw(msg, kv...)
	}
}

// normalize pads an odd context so zap does not drop the dangling key.
func normalize(in []interface{}) []interface{} {
	ctx := append(make([]interface{}, 0, len(in)+1), in...)
	if len(ctx)%2 != 0 {
		ctx = append(ctx, nil)
	}
	for i := 0; i < len(ctx); i += 2 {
		if _, ok := ctx[i].(string); !ok {
			ctx[i] = "LOG_ERROR"
		}
	}
	return ctx
}

var rootLogger = Root()

func Trace(msg string, ctx ...interface{}) { rootLogger.(*logger).write(zap.DebugLevel, msg, ctx) }
func Debug(msg string, ctx ...interface{}) { rootLogger.(*logger).write(zap.DebugLevel, msg, ctx) }
func Info(msg string, ctx ...interface{})  { rootLogger.(*logger).write(zap.InfoLevel, msg, ctx) }
func Warn(msg string, ctx ...interface{})  { rootLogger.(*logger).write(zap.WarnLevel, msg, ctx) }
func Error(msg string, ctx ...interface{}) { rootLogger.(*logger).write(zap.ErrorLevel, msg, ctx) }

func Crit(msg string, ctx ...interface{}) {
	rootLogger.(*logger).write(zap.ErrorLevel, msg, ctx)
	Sync()
	os.Exit(1)
}
