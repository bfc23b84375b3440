package stt

import (
	"bytes"
	"context"
	"errors"
	"strings"
	"sync"
	"testing"

	"concierge/core"
	"concierge/events/stt"
)

type fakeService struct {
	text  string
	err   error
	calls int
}

func (f *fakeService) Name() string { return "fake" }
func (f *fakeService) SupportedEncodings() []core.AudioEncodingFormat {
	return []core.AudioEncodingFormat{core.WAV}
}
func (f *fakeService) Transcribe(context.Context, core.AudioChunk, string) (string, error) {
	f.calls++
	return f.text, f.err
}

type recorder struct {
	mu     sync.Mutex
	events []core.IEvent
}

func (r *recorder) Publish(e core.IEvent, _ string) {
	r.mu.Lock()
	r.events = append(r.events, e)
	r.mu.Unlock()
}

func TestTranscriber_TrimsTranscript(t *testing.T) {
	rec := &recorder{}
	tr := NewTranscriber(&fakeService{text: "  two bedrooms please \n"}, DefaultConfig(), rec, nil)
	text, err := tr.Transcribe(context.Background(), core.AudioChunk{Data: []byte{1, 2}})
	if err != nil {
		t.Fatalf("transcribe: %v", err)
	}
	if text != "two bedrooms please" {
		t.Fatalf("unexpected transcript %q", text)
	}
	if len(rec.events) != 1 || rec.events[0].(*stt.STTFinalOutputEvent).Text != text {
		t.Fatalf("expected one final output event, got %v", rec.events)
	}
}

func TestTranscriber_BlankIsNothingUnderstood(t *testing.T) {
	rec := &recorder{}
	tr := NewTranscriber(&fakeService{text: " \t"}, DefaultConfig(), rec, nil)
	_, err := tr.Transcribe(context.Background(), core.AudioChunk{Data: []byte{1}})
	if !errors.Is(err, core.ErrNothingUnderstood) {
		t.Fatalf("expected ErrNothingUnderstood, got %v", err)
	}
	if ev := rec.events[0].(*stt.STTFinalOutputEvent); !ev.NothingUnderstood {
		t.Fatalf("event should flag nothing understood")
	}
}

func TestTranscriber_ServiceFailure(t *testing.T) {
	svc := &fakeService{err: errors.New("502 bad gateway")}
	tr := NewTranscriber(svc, DefaultConfig(), nil, nil)
	_, err := tr.Transcribe(context.Background(), core.AudioChunk{Data: []byte{1}})
	if !errors.Is(err, core.ErrTranscriptionFailed) {
		t.Fatalf("expected ErrTranscriptionFailed, got %v", err)
	}
	if core.StageOf(err) != core.StageTranscription {
		t.Fatalf("expected transcription stage, got %q", core.StageOf(err))
	}
	if svc.calls != 1 {
		t.Fatalf("failed request must not be retried, got %d calls", svc.calls)
	}
}

func TestTranscriber_CancelledContext(t *testing.T) {
	rec := &recorder{}
	tr := NewTranscriber(&fakeService{text: "late"}, DefaultConfig(), rec, nil)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := tr.Transcribe(ctx, core.AudioChunk{Data: []byte{1}}); !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
	if len(rec.events) != 0 {
		t.Fatalf("cancelled transcription must not publish")
	}
}

func TestTranscriber_LogsThroughTurnLogger(t *testing.T) {
	var buf bytes.Buffer
	turn := core.NewWriterLogger(&buf).With(map[string]any{"turn": 7})
	ctx := core.ContextWithSessionLogger(context.Background(), turn)

	tr := NewTranscriber(&fakeService{err: errors.New("502 bad gateway")}, DefaultConfig(), nil, nil)
	tr.Transcribe(ctx, core.AudioChunk{Data: []byte{1}})

	out := buf.String()
	if !strings.Contains(out, "transcription failed") || !strings.Contains(out, `"turn":7`) {
		t.Fatalf("failure should be logged with the turn attributes, got %q", out)
	}
}
