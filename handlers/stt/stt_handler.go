package stt

import (
	"context"
	"errors"
	"strings"
	"time"

	"concierge/core"
	"concierge/events/stt"
)

// ISTTService turns one encoded audio payload into text.
type ISTTService interface {
	Name() string
	SupportedEncodings() []core.AudioEncodingFormat
	Transcribe(ctx context.Context, chunk core.AudioChunk, language string) (string, error)
}

// Transcriber is the transcription client of a turn. It makes exactly one
// service call per payload; retrying is left to the user.
type Transcriber struct {
	service   ISTTService
	config    STTConfig
	publisher core.Publisher
	logger    *core.Logger
}

func NewTranscriber(service ISTTService, config STTConfig, publisher core.Publisher, logger *core.Logger) *Transcriber {
	if publisher == nil {
		publisher = core.NopPublisher{}
	}
	if logger == nil {
		logger = core.GetLogger()
	}
	return &Transcriber{
		service:   service,
		config:    config,
		publisher: publisher,
		logger:    logger.With(map[string]any{"component": "stt", "service": service.Name()}),
	}
}

// SupportedEncodings feeds the capture capability probe.
func (t *Transcriber) SupportedEncodings() []core.AudioEncodingFormat {
	return t.service.SupportedEncodings()
}

// Transcribe returns the trimmed transcript. A blank transcript returns
// core.ErrNothingUnderstood; any service failure returns a StageError of
// kind core.ErrTranscriptionFailed. A cancelled ctx is returned as is.
func (t *Transcriber) Transcribe(ctx context.Context, chunk core.AudioChunk) (string, error) {
	if t.config.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, t.config.Timeout)
		defer cancel()
	}

	start := time.Now()
	text, err := t.service.Transcribe(ctx, chunk, t.config.Language)
	if ctxErr := ctx.Err(); ctxErr != nil && errors.Is(ctxErr, context.Canceled) {
		return "", ctxErr
	}
	if err != nil {
		if errors.Is(err, context.Canceled) {
			return "", err
		}
		t.loggerFor(ctx).With(map[string]any{"error": err, "bytes": len(chunk.Data)}).Warn("transcription failed")
		return "", core.NewStageError(core.StageTranscription, core.ErrTranscriptionFailed, err, "")
	}

	text = strings.TrimSpace(text)
	t.loggerFor(ctx).Debug("transcription done", "chars", len(text), "elapsed", time.Since(start).String())
	if text == "" {
		t.publisher.Publish(&stt.STTFinalOutputEvent{NothingUnderstood: true}, "Transcriber")
		return "", core.ErrNothingUnderstood
	}
	t.publisher.Publish(&stt.STTFinalOutputEvent{Text: text}, "Transcriber")
	return text, nil
}

// loggerFor prefers the turn logger carried by ctx.
func (t *Transcriber) loggerFor(ctx context.Context) *core.Logger {
	if l := core.SessionLoggerFromContext(ctx); l != nil {
		return l.With(map[string]any{"component": "stt", "service": t.service.Name()})
	}
	return t.logger
}
