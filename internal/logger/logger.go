package logger

import (
	"fmt"
	"io"
	"os"
	"strings"
	"sync"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

type LogLevel int

const (
	LogLevelDebug LogLevel = iota - 1
	LogLevelInfo
	LogLevelWarning
	LogLevelError
)

var (
	mu     sync.Mutex
	level  = zap.NewAtomicLevelAt(zapcore.InfoLevel)
	sugar  *zap.SugaredLogger
	output io.Writer = os.Stdout
)

func init() {
	sugar = build(output)
}

func build(w io.Writer) *zap.SugaredLogger {
	enc := zapcore.NewConsoleEncoder(zapcore.EncoderConfig{
		MessageKey:       "msg",
		LevelKey:         "level",
		EncodeLevel:      encodeLevel,
		ConsoleSeparator: " ",
	})
	core := zapcore.NewCore(enc, zapcore.AddSync(w), level)
	return zap.New(core).Sugar()
}

// encodeLevel keeps info lines bare and prefixes the rest like "WARNING:".
func encodeLevel(l zapcore.Level, enc zapcore.PrimitiveArrayEncoder) {
	switch l {
	case zapcore.InfoLevel:
		return
	case zapcore.WarnLevel:
		enc.AppendString("WARNING:")
	default:
		enc.AppendString(l.CapitalString() + ":")
	}
}

func current() *zap.SugaredLogger {
	mu.Lock()
	defer mu.Unlock()
	return sugar
}

// SetLevel sets the minimum log level to display
func SetLevel(l LogLevel) {
	switch l {
	case LogLevelDebug:
		level.SetLevel(zapcore.DebugLevel)
	case LogLevelWarning:
		level.SetLevel(zapcore.WarnLevel)
	case LogLevelError:
		level.SetLevel(zapcore.ErrorLevel)
	default:
		level.SetLevel(zapcore.InfoLevel)
	}
}

// SetOutput sets the output destination for the logger
func SetOutput(w io.Writer) {
	mu.Lock()
	defer mu.Unlock()
	output = w
	sugar = build(w)
}

// Sync flushes buffered log entries.
func Sync() {
	_ = current().Sync()
}

func prefix(tags []string) string {
	if len(tags) == 0 {
		return ""
	}
	return fmt.Sprintf("[%s] ", strings.Join(tags, "]["))
}

// Debug logs a debug message
func Debug(format string, v ...interface{}) {
	current().Debugf(format, v...)
}

// Info logs an informational message
func Info(format string, v ...interface{}) {
	current().Infof(format, v...)
}

// InfoTagged logs an informational message with tags
func InfoTagged(tags []string, format string, v ...interface{}) {
	current().Infof(prefix(tags)+format, v...)
}

// Warning logs a warning message
func Warning(format string, v ...interface{}) {
	current().Warnf(format, v...)
}

// WarningTagged logs a warning message with tags
func WarningTagged(tags []string, format string, v ...interface{}) {
	current().Warnf(prefix(tags)+format, v...)
}

// Error logs an error message
func Error(format string, v ...interface{}) {
	current().Errorf(format, v...)
}

// ErrorTagged logs an error message with tags
func ErrorTagged(tags []string, format string, v ...interface{}) {
	current().Errorf(prefix(tags)+format, v...)
}

// DryRun logs a dry run action
func DryRun(format string, v ...interface{}) {
	current().Infof("[DRY RUN] "+format, v...)
}

// DryRunTagged logs a dry run action with tags
func DryRunTagged(tags []string, format string, v ...interface{}) {
	current().Infof("[DRY RUN] "+prefix(tags)+format, v...)
}
