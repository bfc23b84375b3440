package core

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/bytedance/sonic"
)

// sessionLoggerKey is the context key for storing a per-conversation logger.
type sessionLoggerKey struct{}

// ContextWithSessionLogger returns a new context carrying the conversation logger.
func ContextWithSessionLogger(ctx context.Context, logger *Logger) context.Context {
	return context.WithValue(ctx, sessionLoggerKey{}, logger)
}

// SessionLoggerFromContext extracts the conversation logger from the context, or nil.
func SessionLoggerFromContext(ctx context.Context) *Logger {
	if l, ok := ctx.Value(sessionLoggerKey{}).(*Logger); ok {
		return l
	}
	return nil
}

// SessionMetadata is the first JSON line in each conversation log file.
type SessionMetadata struct {
	ConversationID string `json:"conversation_id"`
	StartedAt      string `json:"started_at"`
}

// LogEntry is a single JSON log line written after the metadata line.
type LogEntry struct {
	Timestamp string                 `json:"ts"`
	Level     string                 `json:"level"`
	Message   string                 `json:"msg"`
	Attrs     map[string]interface{} `json:"attrs,omitempty"`
}

// LogWriter abstracts the destination for conversation log entries.
type LogWriter interface {
	Write(level, msg string, attrs map[string]interface{})
	Close()
}

// SessionLogWriter writes structured log lines to <dir>/<conversation>.jsonl.
// An .active marker sits next to the file while the writer is open.
type SessionLogWriter struct {
	mu             sync.Mutex
	file           *os.File
	logDir         string
	conversationID string
}

func NewSessionLogWriter(logDir, conversationID string) (*SessionLogWriter, error) {
	if err := os.MkdirAll(logDir, 0o755); err != nil {
		return nil, fmt.Errorf("storage logger: mkdir %q: %w", logDir, err)
	}

	filePath := filepath.Join(logDir, conversationID+".jsonl")
	f, err := os.Create(filePath)
	if err != nil {
		return nil, fmt.Errorf("storage logger: create %q: %w", filePath, err)
	}

	data, err := sonic.Marshal(SessionMetadata{
		ConversationID: conversationID,
		StartedAt:      time.Now().UTC().Format(time.RFC3339),
	})
	if err == nil {
		f.Write(append(data, '\n'))
	}

	if af, err := os.Create(filepath.Join(logDir, conversationID+".active")); err == nil {
		af.Close()
	}

	return &SessionLogWriter{
		file:           f,
		logDir:         logDir,
		conversationID: conversationID,
	}, nil
}

func (w *SessionLogWriter) Write(level, msg string, attrs map[string]interface{}) {
	data, err := sonic.Marshal(LogEntry{
		Timestamp: time.Now().UTC().Format(time.RFC3339Nano),
		Level:     level,
		Message:   msg,
		Attrs:     stringifyErrors(attrs),
	})
	if err != nil {
		return
	}

	w.mu.Lock()
	defer w.mu.Unlock()
	if w.file != nil {
		w.file.Write(append(data, '\n'))
	}
}

// Close closes the log file and removes the .active marker.
func (w *SessionLogWriter) Close() {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.file != nil {
		w.file.Close()
		w.file = nil
	}
	os.Remove(filepath.Join(w.logDir, w.conversationID+".active"))
}

// errors marshal to {} otherwise
func stringifyErrors(attrs map[string]interface{}) map[string]interface{} {
	if len(attrs) == 0 {
		return attrs
	}
	out := make(map[string]interface{}, len(attrs))
	for k, v := range attrs {
		if err, ok := v.(error); ok {
			out[k] = err.Error()
			continue
		}
		out[k] = v
	}
	return out
}

// NewSessionLogger tees records to both baseLogger and writer. Child loggers
// created via With inherit the tee.
func NewSessionLogger(baseLogger *Logger, writer LogWriter) *Logger {
	// the file first: a FATAL record exits inside the base handler
	handler := func(level string, msg string, attrs map[string]interface{}) {
		writer.Write(level, msg, attrs)
		if baseLogger.handlerFunc != nil {
			baseLogger.handlerFunc(level, msg, attrs)
		}
	}
	return NewLogger(handler).With(baseLogger.attrs)
}
