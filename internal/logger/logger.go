package logger

import (
	"io"
	"os"
	"strings"
	"syscall"
	"time"

	"codeberg.org/mutker/sensorctl/internal/errors"
	"github.com/rs/zerolog"
)

var log = zerolog.New(os.Stderr).With().Timestamp().Logger()

type LogLevel int8

const (
	DebugLevel LogLevel = iota
	InfoLevel
	WarnLevel
	ErrorLevel
	FatalLevel
)

type LogEvent struct {
	*zerolog.Event
}

func (e *LogEvent) Msg(msg string) {
	e.Event.Msg(msg)
}

func (e *LogEvent) Send() {
	e.Event.Send()
}

// Init initializes the global logger on stderr, leaving stdout to command
// output. format is "console" or "json".
func Init(level LogLevel, format string, isService bool) {
	log = zerolog.New(newWriter(os.Stderr, format, isService)).With().Timestamp().Logger()
	SetLogLevel(level)
}

func newWriter(out io.Writer, format string, isService bool) io.Writer {
	if strings.EqualFold(format, "json") {
		return out
	}

	output := zerolog.ConsoleWriter{
		Out:        out,
		TimeFormat: time.RFC3339,
	}

	if isService {
		output.TimeFormat = ""
		output.FormatTimestamp = func(_ any) string {
			return ""
		}
	}

	return output
}

// ParseLevel maps a configured level name to a LogLevel
func ParseLevel(name string) (LogLevel, error) {
	switch strings.ToLower(name) {
	case "debug":
		return DebugLevel, nil
	case "info", "":
		return InfoLevel, nil
	case "warn", "warning":
		return WarnLevel, nil
	case "error":
		return ErrorLevel, nil
	default:
		return InfoLevel, errors.New().WithData(errors.ErrInvalidLogLevel, name)
	}
}

// SetLogLevel sets the global log level
func SetLogLevel(level LogLevel) {
	zerolog.SetGlobalLevel(zerolog.Level(level))
}

// IsService checks if the application is running as a service
func IsService() bool {
	if _, err := os.Stdin.Stat(); err != nil {
		return true
	}
	if os.Getenv("SERVICE_NAME") != "" || os.Getenv("INVOCATION_ID") != "" {
		return true
	}
	if os.Getppid() == 1 {
		return true
	}

	return syscall.Getpgrp() == syscall.Getpid()
}

// Debug logs a debug message
func Debug() *LogEvent {
	return &LogEvent{log.Debug()}
}

// Info logs an info message
func Info() *LogEvent {
	return &LogEvent{log.Info()}
}

// Warn logs a warning message
func Warn() *LogEvent {
	return &LogEvent{log.Warn()}
}

// Error logs an error message
func Error() *LogEvent {
	return &LogEvent{log.Error()}
}

// ErrorWithCode logs an error message carrying the code of a domain error
func ErrorWithCode(err error) *LogEvent {
	return &LogEvent{withCode(log.Error(), err)}
}

// Fatal logs a fatal message and exits the program
func Fatal() *LogEvent {
	return &LogEvent{log.Fatal()}
}

// FatalWithCode logs a fatal message with a specific error code and exits the program
func FatalWithCode(err error) *LogEvent {
	return &LogEvent{withCode(log.Fatal(), err)}
}

func withCode(e *zerolog.Event, err error) *zerolog.Event {
	return e.
		Str("error_code", string(errors.CodeOf(err))).
		Str("error_message", err.Error()).
		AnErr("error", errors.Unwrap(err))
}

// Component returns a Logger that tags every event with the component name.
// The global logger is resolved per event so a later Init still applies.
func Component(name string) Logger {
	return &namedLogger{name: name}
}

type namedLogger struct {
	name string
}

func (n *namedLogger) event(e *zerolog.Event) *zerolog.Event {
	return e.Str("component", n.name)
}

func (n *namedLogger) Debug() *LogEvent { return &LogEvent{n.event(log.Debug())} }
func (n *namedLogger) Info() *LogEvent  { return &LogEvent{n.event(log.Info())} }
func (n *namedLogger) Warn() *LogEvent  { return &LogEvent{n.event(log.Warn())} }
func (n *namedLogger) Error() *LogEvent { return &LogEvent{n.event(log.Error())} }

func (n *namedLogger) ErrorWithCode(err error) *LogEvent {
	return &LogEvent{withCode(n.event(log.Error()), err)}
}

// Nop returns a Logger that discards everything
func Nop() Logger {
	return nopLogger{zl: zerolog.Nop()}
}

type nopLogger struct {
	zl zerolog.Logger
}

func (n nopLogger) Debug() *LogEvent                { return &LogEvent{n.zl.Debug()} }
func (n nopLogger) Info() *LogEvent                 { return &LogEvent{n.zl.Info()} }
func (n nopLogger) Warn() *LogEvent                 { return &LogEvent{n.zl.Warn()} }
func (n nopLogger) Error() *LogEvent                { return &LogEvent{n.zl.Error()} }
func (n nopLogger) ErrorWithCode(_ error) *LogEvent { return &LogEvent{n.zl.Error()} }
