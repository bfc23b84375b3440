package core

import (
	"bytes"
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/bytedance/sonic"
)

func TestWriterLogger_KeyValueAttrs(t *testing.T) {
	var buf bytes.Buffer
	logger := NewWriterLogger(&buf).With(map[string]any{"component": "agent"})
	logger.Info("turn done", "turn", 3)
	logger.Warnf("%d retries left", 0)

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	if len(lines) != 2 {
		t.Fatalf("expected 2 lines, got %q", buf.String())
	}
	var first map[string]any
	if err := sonic.UnmarshalString(lines[0], &first); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if first["message"] != "turn done" || first["component"] != "agent" || first["turn"] != float64(3) {
		t.Fatalf("unexpected record %v", first)
	}
	if !strings.Contains(lines[1], `"0 retries left"`) || !strings.Contains(lines[1], `"warn"`) {
		t.Fatalf("format args should be applied, got %s", lines[1])
	}
}

type memoryWriter struct {
	msgs []string
}

func (m *memoryWriter) Write(_, msg string, _ map[string]interface{}) { m.msgs = append(m.msgs, msg) }
func (m *memoryWriter) Close()                                        {}

func TestSessionLogger_WritesFileBeforeBase(t *testing.T) {
	w := &memoryWriter{}
	var seenByBase []int
	base := NewLogger(func(level, msg string, attrs map[string]interface{}) {
		seenByBase = append(seenByBase, len(w.msgs))
	})
	logger := NewSessionLogger(base, w)
	logger.Fatal("device lost")
	logger.Info("after")

	if len(seenByBase) != 2 || seenByBase[0] != 1 || seenByBase[1] != 2 {
		t.Fatalf("the file must have each record before the base handler runs, got %v", seenByBase)
	}
}

func TestSessionLogWriter_WritesJSONLines(t *testing.T) {
	dir := t.TempDir()
	w, err := NewSessionLogWriter(dir, "conv-1")
	if err != nil {
		t.Fatalf("new writer: %v", err)
	}
	if _, err := os.Stat(filepath.Join(dir, "conv-1.active")); err != nil {
		t.Fatalf("expected active marker: %v", err)
	}
	logger := NewSessionLogger(NewLogger(nil), w)
	logger.Error("reasoning failed", "error", errors.New("timeout"))
	w.Close()

	data, err := os.ReadFile(filepath.Join(dir, "conv-1.jsonl"))
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	lines := strings.Split(strings.TrimSpace(string(data)), "\n")
	if len(lines) != 2 {
		t.Fatalf("expected metadata and one entry, got %d lines", len(lines))
	}
	var entry LogEntry
	if err := sonic.UnmarshalString(lines[1], &entry); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if entry.Level != "ERROR" || entry.Attrs["error"] != "timeout" {
		t.Fatalf("unexpected entry %+v", entry)
	}
	if _, err := os.Stat(filepath.Join(dir, "conv-1.active")); !os.IsNotExist(err) {
		t.Fatalf("close must remove the active marker")
	}
}

func TestSessionLoggerContext(t *testing.T) {
	if SessionLoggerFromContext(context.Background()) != nil {
		t.Fatalf("plain context carries no logger")
	}
	logger := NewLogger(nil)
	ctx := ContextWithSessionLogger(context.Background(), logger)
	if SessionLoggerFromContext(ctx) != logger {
		t.Fatalf("expected the stored logger back")
	}
}
