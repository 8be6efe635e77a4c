package util

import (
	"io"
	"os"
	"strings"

	"github.com/sirupsen/logrus"
)

type LogLevel int32

const (
	LevelTrace LogLevel = iota
	LevelDebug
	LevelInfo
	LevelWarn
	LevelError
)

var levelNames = map[string]LogLevel{
	"trace": LevelTrace,
	"debug": LevelDebug,
	"info":  LevelInfo,
	"warn":  LevelWarn,
	"error": LevelError,
}

var logrusLevels = map[LogLevel]logrus.Level{
	LevelTrace: logrus.TraceLevel,
	LevelDebug: logrus.DebugLevel,
	LevelInfo:  logrus.InfoLevel,
	LevelWarn:  logrus.WarnLevel,
	LevelError: logrus.ErrorLevel,
}

// Logger wraps a logrus logger behind the daemon's leveled printf API.
type Logger struct {
	base *logrus.Logger
}

// NewLogger creates a level-aware logger writing to stderr.
func NewLogger(level LogLevel) *Logger {
	return NewLoggerWithWriter(level, os.Stderr)
}

// NewLoggerWithWriter creates a level-aware logger writing to the provided destination.
func NewLoggerWithWriter(level LogLevel, w io.Writer) *Logger {
	base := logrus.New()
	base.SetOutput(w)
	base.SetFormatter(&logrus.TextFormatter{
		DisableColors:    true,
		FullTimestamp:    true,
		DisableQuote:     true,
		DisableSorting:   false,
		QuoteEmptyFields: true,
	})
	l := &Logger{base: base}
	l.SetLevel(level)
	return l
}

func (l *Logger) SetLevel(level LogLevel) {
	lvl, ok := logrusLevels[level]
	if !ok {
		lvl = logrus.InfoLevel
	}
	l.base.SetLevel(lvl)
}

func (l *Logger) Level() LogLevel {
	current := l.base.GetLevel()
	for level, lvl := range logrusLevels {
		if lvl == current {
			return level
		}
	}
	return LevelInfo
}

// TraceEnabled reports whether trace lines would be written.
func (l *Logger) TraceEnabled() bool {
	return l.base.IsLevelEnabled(logrus.TraceLevel)
}

// With returns an entry carrying structured fields for a single log line.
func (l *Logger) With(fields map[string]any) *logrus.Entry {
	return l.base.WithFields(logrus.Fields(fields))
}

func (l *Logger) Tracef(format string, args ...interface{}) {
	l.base.Tracef(format, args...)
}
func (l *Logger) Debugf(format string, args ...interface{}) {
	l.base.Debugf(format, args...)
}
func (l *Logger) Infof(format string, args ...interface{}) {
	l.base.Infof(format, args...)
}
func (l *Logger) Warnf(format string, args ...interface{}) {
	l.base.Warnf(format, args...)
}
func (l *Logger) Errorf(format string, args ...interface{}) {
	l.base.Errorf(format, args...)
}

// ParseLogLevel converts a string into a LogLevel, defaulting to info.
func ParseLogLevel(s string) LogLevel {
	if lvl, ok := levelNames[strings.ToLower(strings.TrimSpace(s))]; ok {
		return lvl
	}
	return LevelInfo
}
