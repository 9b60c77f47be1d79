package logger

import (
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/rs/zerolog"
	waLog "go.mau.fi/whatsmeow/util/log"
)

// Logger implements waLog.Logger on top of zerolog so the same instance can
// be handed to whatsmeow clients and to the gateway services.
type Logger struct {
	module string
	zl     zerolog.Logger
}

// New creates a new Logger writing to stderr. Format "json" emits one JSON
// object per line, anything else a colored console line.
func New(module, level, format string) *Logger {
	return NewWithWriter(module, level, format, os.Stderr)
}

// NewWithWriter creates a Logger writing to w.
func NewWithWriter(module, level, format string, w io.Writer) *Logger {
	out := w
	if !strings.EqualFold(format, "json") {
		out = zerolog.ConsoleWriter{Out: w, TimeFormat: "15:04:05.000"}
	}
	zl := zerolog.New(out).Level(parseLevel(level)).With().Timestamp().Logger()
	return &Logger{module: module, zl: zl}
}

// Nop returns a Logger that discards everything.
func Nop() *Logger {
	return &Logger{zl: zerolog.Nop()}
}

// parseLevel converts string level to a zerolog level.
func parseLevel(level string) zerolog.Level {
	switch strings.ToUpper(level) {
	case "DEBUG":
		return zerolog.DebugLevel
	case "INFO":
		return zerolog.InfoLevel
	case "WARN", "WARNING":
		return zerolog.WarnLevel
	case "ERROR":
		return zerolog.ErrorLevel
	default:
		return zerolog.InfoLevel
	}
}

// Sub creates a sub-logger with a new module name.
func (l *Logger) Sub(module string) waLog.Logger {
	return l.sub(module)
}

func (l *Logger) sub(module string) *Logger {
	newModule := module
	if l.module != "" {
		newModule = l.module + "/" + module
	}
	return &Logger{module: newModule, zl: l.zl}
}

// Debugf logs a debug message.
func (l *Logger) Debugf(msg string, args ...interface{}) {
	l.log(l.zl.Debug(), msg, args...)
}

// Infof logs an info message.
func (l *Logger) Infof(msg string, args ...interface{}) {
	l.log(l.zl.Info(), msg, args...)
}

// Warnf logs a warning message.
func (l *Logger) Warnf(msg string, args ...interface{}) {
	l.log(l.zl.Warn(), msg, args...)
}

// Errorf logs an error message.
func (l *Logger) Errorf(msg string, args ...interface{}) {
	l.log(l.zl.Error(), msg, args...)
}

func (l *Logger) log(evt *zerolog.Event, msg string, args ...interface{}) {
	if evt == nil {
		return
	}
	if l.module != "" {
		evt = evt.Str("module", l.module)
	}
	evt.Msg(fmt.Sprintf(msg, args...))
}

// Ensure Logger implements waLog.Logger.
var _ waLog.Logger = (*Logger)(nil)
