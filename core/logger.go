package core

import (
	"fmt"
	"io"
	"os"
	"time"

	"github.com/rs/zerolog"
)

var loggerInstance Logger = *NewDevelopmentLogger() // default to development logger

// SetLogger sets the global logger instance
func SetLogger(logger Logger) {
	loggerInstance = logger
}

// GetLogger retrieves the global logger instance
func GetLogger() *Logger {
	return &loggerInstance
}

// Logger is a small structured logger. Records are handed to handlerFunc
// together with the attributes accumulated through With.
type Logger struct {
	handlerFunc func(level string, msg string, attrs map[string]interface{})
	attrs       map[string]interface{}
}

func NewLogger(handler func(level string, msg string, attrs map[string]interface{})) *Logger {
	return &Logger{
		handlerFunc: handler,
		attrs:       make(map[string]interface{}),
	}
}

// NewDevelopmentLogger writes human readable lines to stdout at debug level.
func NewDevelopmentLogger() *Logger {
	zl := zerolog.New(zerolog.ConsoleWriter{Out: os.Stdout, TimeFormat: time.RFC3339}).
		With().Timestamp().Logger().
		Level(zerolog.DebugLevel)
	return NewZerologLogger(zl)
}

// NewProductionLogger writes JSON lines to stdout at info level.
func NewProductionLogger() *Logger {
	return NewZerologLogger(zerolog.New(os.Stdout).With().Timestamp().Logger().Level(zerolog.InfoLevel))
}

// NewWriterLogger writes JSON lines to w. Mostly useful in tests.
func NewWriterLogger(w io.Writer) *Logger {
	return NewZerologLogger(zerolog.New(w).Level(zerolog.TraceLevel))
}

// NewZerologLogger adapts an existing zerolog.Logger.
func NewZerologLogger(zl zerolog.Logger) *Logger {
	handler := func(level string, msg string, attrs map[string]interface{}) {
		ev := zl.WithLevel(zerologLevel(level))
		if ev == nil {
			return
		}
		if len(attrs) > 0 {
			ev = ev.Fields(attrs)
		}
		ev.Msg(msg)
		switch level {
		case "FATAL":
			os.Exit(1)
		case "PANIC":
			panic(msg)
		}
	}
	return NewLogger(handler)
}

func zerologLevel(level string) zerolog.Level {
	switch level {
	case "TRACE":
		return zerolog.TraceLevel
	case "DEBUG":
		return zerolog.DebugLevel
	case "WARN":
		return zerolog.WarnLevel
	case "ERROR":
		return zerolog.ErrorLevel
	case "FATAL":
		return zerolog.FatalLevel
	case "PANIC":
		return zerolog.PanicLevel
	default:
		return zerolog.InfoLevel
	}
}

func (l *Logger) log(level string, msg string, args ...interface{}) {
	if l.handlerFunc == nil {
		return
	}
	if len(args) > 0 {
		// slog-style key/value pairs become attributes, anything else is a format.
		if isKeyValuePairs(args) {
			attrs := make(map[string]interface{}, len(l.attrs)+len(args)/2)
			for k, v := range l.attrs {
				attrs[k] = v
			}
			for i := 0; i < len(args)-1; i += 2 {
				key, _ := args[i].(string)
				attrs[key] = args[i+1]
			}
			l.handlerFunc(level, msg, attrs)
			return
		}
		msg = fmt.Sprintf(msg, args...)
	}
	l.handlerFunc(level, msg, l.attrs)
}

// isKeyValuePairs returns true if args look like slog-style key-value pairs:
// even count and every key (even index) is a string.
func isKeyValuePairs(args []interface{}) bool {
	if len(args)%2 != 0 {
		return false
	}
	for i := 0; i < len(args); i += 2 {
		if _, ok := args[i].(string); !ok {
			return false
		}
	}
	return true
}

func (l *Logger) Trace(msg string, args ...interface{}) { l.log("TRACE", msg, args...) }
func (l *Logger) Debug(msg string, args ...interface{}) { l.log("DEBUG", msg, args...) }
func (l *Logger) Info(msg string, args ...interface{})  { l.log("INFO", msg, args...) }
func (l *Logger) Warn(msg string, args ...interface{})  { l.log("WARN", msg, args...) }
func (l *Logger) Error(msg string, args ...interface{}) { l.log("ERROR", msg, args...) }
func (l *Logger) Fatal(msg string, args ...interface{}) { l.log("FATAL", msg, args...) }

func (l *Logger) Debugf(format string, args ...interface{}) { l.log("DEBUG", format, args...) }
func (l *Logger) Infof(format string, args ...interface{})  { l.log("INFO", format, args...) }
func (l *Logger) Warnf(format string, args ...interface{})  { l.log("WARN", format, args...) }
func (l *Logger) Errorf(format string, args ...interface{}) { l.log("ERROR", format, args...) }

// With returns a child logger carrying attrs on every record.
func (l *Logger) With(attrs map[string]interface{}) *Logger {
	combinedAttrs := make(map[string]interface{}, len(l.attrs)+len(attrs))
	for k, v := range l.attrs {
		combinedAttrs[k] = v
	}
	for k, v := range attrs {
		combinedAttrs[k] = v
	}
	return &Logger{
		handlerFunc: l.handlerFunc,
		attrs:       combinedAttrs,
	}
}
