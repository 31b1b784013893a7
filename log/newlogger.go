package log

import (
	"io"
	"os"
	"sync"
	"time"

	"github.com/mattn/go-colorable"
	"github.com/mattn/go-isatty"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

var (
	mu     sync.RWMutex
	base   *zap.Logger
	sugar  *zap.SugaredLogger
	atom   = zap.NewAtomicLevel()
	output io.Writer
)

// LogLevel is the level the root logger currently emits at.
var LogLevel = zapcore.InfoLevel

var levelMap = map[string]zapcore.Level{
	"trace": zapcore.DebugLevel,
	"debug": zapcore.DebugLevel,
	"info":  zapcore.InfoLevel,
	"warn":  zapcore.WarnLevel,
	"error": zapcore.ErrorLevel,
	"crit":  zapcore.FatalLevel,
}

func getLoggerLevel(lvl string) zapcore.Level {
	if level, ok := levelMap[lvl]; ok {
		return level
	}
	return zapcore.InfoLevel
}

func init() {
	if isatty.IsTerminal(os.Stderr.Fd()) {
		SetOutput(colorable.NewColorableStderr(), true)
	} else {
		SetOutput(os.Stderr, false)
	}
}

// SetOutput rebuilds the root logger on top of w. Colour level names are
// only used when colour is set.
func SetOutput(w io.Writer, colour bool) {
	config := zap.NewProductionEncoderConfig()
	config.EncodeTime = func(t time.Time, enc zapcore.PrimitiveArrayEncoder) {
		enc.AppendString(t.Format("2006-01-02 15:04:05.000"))
	}
	config.EncodeLevel = zapcore.CapitalLevelEncoder
	if colour {
		config.EncodeLevel = zapcore.CapitalColorLevelEncoder
	}
	config.EncodeCaller = zapcore.ShortCallerEncoder

	core := zapcore.NewCore(zapcore.NewConsoleEncoder(config), zapcore.AddSync(w), atom)
	atom.SetLevel(LogLevel)

	mu.Lock()
	defer mu.Unlock()
	output = w
	base = zap.New(core, zap.AddCaller(), zap.AddCallerSkip(2))
	sugar = base.Sugar()
}

// SetLevel changes the level of every logger derived from the root.
func SetLevel(level string) {
	LogLevel = getLoggerLevel(level)
	atom.SetLevel(LogLevel)
}

// Sync flushes buffered entries.
func Sync() error {
	mu.RLock()
	defer mu.RUnlock()
	return base.Sync()
}

func root() *zap.SugaredLogger {
	mu.RLock()
	defer mu.RUnlock()
	return sugar
}
