// internal/observability/logger.go
package observability

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"sync"
	"sync/atomic"
	"syscall"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"gopkg.in/natefinch/lumberjack.v2"

	"github.com/xkilldash9x/focusfix/internal/config"
)

var (
	globalLogger atomic.Pointer[zap.Logger]
	initOnce     sync.Once
)

const ansiReset = "\x1b[0m"

var ansiColors = map[string]string{
	"red":     "\x1b[31m",
	"green":   "\x1b[32m",
	"yellow":  "\x1b[33m",
	"blue":    "\x1b[34m",
	"magenta": "\x1b[35m",
	"cyan":    "\x1b[36m",
	"white":   "\x1b[37m",
}

const timeLayout = "2006-01-02T15:04:05.000Z07:00"

// Initialize builds the process logger. Console output goes to console, and
// a rotating JSON file sink is added when cfg.LogFile is set. Only the first
// call has any effect until ResetForTest.
func Initialize(cfg config.LoggerConfig, console zapcore.WriteSyncer) {
	initOnce.Do(func() {
		logger := build(cfg, console)
		globalLogger.Store(logger)
		zap.ReplaceGlobals(logger)
		zap.RedirectStdLog(logger)
	})
}

// InitializeLogger logs to stderr. Stdout is reserved for reports.
func InitializeLogger(cfg config.LoggerConfig) {
	Initialize(cfg, zapcore.Lock(os.Stderr))
}

// ResetForTest clears the global logger so Initialize can run again.
func ResetForTest() {
	globalLogger.Store(nil)
	initOnce = sync.Once{}
}

func build(cfg config.LoggerConfig, console zapcore.WriteSyncer) *zap.Logger {
	level := zap.NewAtomicLevelAt(zap.InfoLevel)
	if cfg.Level != "" {
		_ = level.UnmarshalText([]byte(cfg.Level))
	}

	cores := []zapcore.Core{zapcore.NewCore(consoleEncoder(cfg), console, level)}
	if cfg.LogFile != "" {
		rotating := &lumberjack.Logger{
			Filename:   cfg.LogFile,
			MaxSize:    cfg.MaxSize,
			MaxBackups: cfg.MaxBackups,
			MaxAge:     cfg.MaxAge,
			Compress:   cfg.Compress,
		}
		cores = append(cores, zapcore.NewCore(jsonEncoder(), zapcore.AddSync(rotating), level))
	}

	opts := []zap.Option{zap.AddStacktrace(zap.ErrorLevel)}
	if cfg.AddSource {
		opts = append(opts, zap.AddCaller())
	}
	logger := zap.New(zapcore.NewTee(cores...), opts...)
	if cfg.ServiceName != "" {
		logger = logger.Named(cfg.ServiceName)
	}
	return logger
}

func baseEncoderConfig() zapcore.EncoderConfig {
	ec := zap.NewProductionEncoderConfig()
	ec.EncodeTime = zapcore.TimeEncoderOfLayout(timeLayout)
	ec.EncodeLevel = zapcore.CapitalLevelEncoder
	return ec
}

func jsonEncoder() zapcore.Encoder {
	return zapcore.NewJSONEncoder(baseEncoderConfig())
}

// consoleEncoder is JSON unless cfg.Format is "console", in which case each
// entry is one line with colored levels and a "focusfix.agent." style name.
func consoleEncoder(cfg config.LoggerConfig) zapcore.Encoder {
	if cfg.Format != "console" {
		return jsonEncoder()
	}
	ec := baseEncoderConfig()
	ec.EncodeLevel = levelPainter(cfg.Colors)
	ec.EncodeName = func(name string, enc zapcore.PrimitiveArrayEncoder) {
		enc.AppendString(name + ".")
	}
	return zapcore.NewConsoleEncoder(ec)
}

// levelPainter renders each level label in its configured color. Levels
// without a known color name print plain.
func levelPainter(colors config.ColorConfig) zapcore.LevelEncoder {
	names := map[zapcore.Level]string{
		zapcore.DebugLevel:  colors.Debug,
		zapcore.InfoLevel:   colors.Info,
		zapcore.WarnLevel:   colors.Warn,
		zapcore.ErrorLevel:  colors.Error,
		zapcore.DPanicLevel: colors.DPanic,
		zapcore.PanicLevel:  colors.Panic,
		zapcore.FatalLevel:  colors.Fatal,
	}
	labels := make(map[zapcore.Level]string, len(names))
	for lvl, name := range names {
		if code, ok := ansiColors[strings.ToLower(name)]; ok {
			labels[lvl] = code + lvl.CapitalString() + ansiReset
		}
	}
	return func(lvl zapcore.Level, enc zapcore.PrimitiveArrayEncoder) {
		if label, ok := labels[lvl]; ok {
			enc.AppendString(label)
			return
		}
		enc.AppendString(lvl.CapitalString())
	}
}

// GetLogger returns the global logger, or a named development logger when
// Initialize has not run.
func GetLogger() *zap.Logger {
	if logger := globalLogger.Load(); logger != nil {
		return logger
	}
	l, err := zap.NewDevelopment()
	if err != nil {
		return zap.NewNop()
	}
	l.Warn("Global logger requested before initialization; using fallback.")
	return l.Named("fallback")
}

// Sync flushes buffered entries. Terminals refuse fsync on most platforms,
// so those errors are dropped.
func Sync() {
	logger := globalLogger.Load()
	if logger == nil {
		return
	}
	if err := logger.Sync(); err != nil && !unsyncable(err) {
		fmt.Fprintln(os.Stderr, "Error: failed to sync logger:", err)
	}
}

func unsyncable(err error) bool {
	return errors.Is(err, syscall.EINVAL) ||
		errors.Is(err, syscall.ENOTTY) ||
		errors.Is(err, syscall.ENOTSUP) ||
		errors.Is(err, syscall.EBADF)
}
