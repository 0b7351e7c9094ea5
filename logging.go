// logging.go - structured logging interface for the reactor.
//
// This design allows external integration with logging frameworks (the
// built-in implementation here is backed by zerolog) while keeping the
// reactor itself dependent only on the small Logger interface below.
//
// Each Service carries its own Logger (set via WithLogger) rather than a
// package-level global: a process commonly runs more than one independent
// Service, and each deserves its own log context.

package ioservice

import (
	"fmt"
	"os"

	"github.com/rs/zerolog"
)

// LogLevel is the severity of a log entry.
type LogLevel int32

const (
	LevelDebug LogLevel = iota
	LevelInfo
	LevelWarn
	LevelError
)

func (l LogLevel) String() string {
	switch l {
	case LevelDebug:
		return "DEBUG"
	case LevelInfo:
		return "INFO"
	case LevelWarn:
		return "WARN"
	case LevelError:
		return "ERROR"
	default:
		return fmt.Sprintf("UNKNOWN(%d)", l)
	}
}

// LogEntry is a structured log record emitted by the reactor.
type LogEntry struct {
	Level    LogLevel
	Category string // "channel", "transport", "resolver", "timer", "poll"
	Channel  ChannelIndex
	Message  string
	Err      error
}

// Logger is the injectable structured logging sink (DESIGN NOTES: "Logging
// macro: an injectable sink trait with levels").
type Logger interface {
	Log(entry LogEntry)
	IsEnabled(level LogLevel) bool
}

// noOpLogger discards everything; it is the zero-value default so call
// sites never need a nil check.
type noOpLogger struct{}

func (noOpLogger) Log(LogEntry)          {}
func (noOpLogger) IsEnabled(LogLevel) bool { return false }

var defaultLogger Logger = noOpLogger{}

// zerologLogger adapts Logger onto github.com/rs/zerolog.
type zerologLogger struct {
	logger zerolog.Logger
	level  zerolog.Level
}

// NewZerologLogger builds a Logger backed by zerolog, writing to w (os.Stderr
// if nil) at the given minimum level.
func NewZerologLogger(w *os.File, level LogLevel) Logger {
	if w == nil {
		w = os.Stderr
	}
	zl := zerologLevel(level)
	return &zerologLogger{
		logger: zerolog.New(w).Level(zl).With().Timestamp().Logger(),
		level:  zl,
	}
}

func zerologLevel(l LogLevel) zerolog.Level {
	switch l {
	case LevelDebug:
		return zerolog.DebugLevel
	case LevelInfo:
		return zerolog.InfoLevel
	case LevelWarn:
		return zerolog.WarnLevel
	case LevelError:
		return zerolog.ErrorLevel
	default:
		return zerolog.InfoLevel
	}
}

func (z *zerologLogger) IsEnabled(level LogLevel) bool {
	return zerologLevel(level) >= z.level
}

func (z *zerologLogger) Log(entry LogEntry) {
	var ev *zerolog.Event
	switch entry.Level {
	case LevelDebug:
		ev = z.logger.Debug()
	case LevelWarn:
		ev = z.logger.Warn()
	case LevelError:
		ev = z.logger.Error()
	default:
		ev = z.logger.Info()
	}
	ev = ev.Str("category", entry.Category).Str("channel", entry.Channel.String())
	if entry.Err != nil {
		ev = ev.Err(entry.Err)
	}
	ev.Msg(entry.Message)
}

func logDebug(l Logger, category string, ch ChannelIndex, msg string) {
	if l == nil || !l.IsEnabled(LevelDebug) {
		return
	}
	l.Log(LogEntry{Level: LevelDebug, Category: category, Channel: ch, Message: msg})
}

func logWarn(l Logger, category string, ch ChannelIndex, msg string, err error) {
	if l == nil || !l.IsEnabled(LevelWarn) {
		return
	}
	l.Log(LogEntry{Level: LevelWarn, Category: category, Channel: ch, Message: msg, Err: err})
}

func logError(l Logger, category string, ch ChannelIndex, msg string, err error) {
	if l == nil || !l.IsEnabled(LevelError) {
		return
	}
	l.Log(LogEntry{Level: LevelError, Category: category, Channel: ch, Message: msg, Err: err})
}
