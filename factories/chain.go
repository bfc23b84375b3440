package factories

import (
	"context"
	"errors"
	"fmt"

	"concierge/core"
	llmhandler "concierge/handlers/llm"
	stthandler "concierge/handlers/stt"
)

// sttChain tries each service in order and returns the first transcript.
// Encodings are the primary's; fallbacks that cannot take the chunk are skipped.
type sttChain struct {
	services []stthandler.ISTTService
	logger   *core.Logger
}

func (c *sttChain) Name() string { return c.services[0].Name() }

func (c *sttChain) SupportedEncodings() []core.AudioEncodingFormat {
	return c.services[0].SupportedEncodings()
}

func (c *sttChain) Transcribe(ctx context.Context, chunk core.AudioChunk, language string) (string, error) {
	var errs []error
	for _, svc := range c.services {
		if !accepts(svc, chunk.Format) {
			continue
		}
		text, err := svc.Transcribe(ctx, chunk, language)
		if err == nil {
			return text, nil
		}
		if ctx.Err() != nil {
			return "", ctx.Err()
		}
		c.logger.With(map[string]any{"service": svc.Name(), "error": err.Error()}).Warn("stt service failed, trying next")
		errs = append(errs, fmt.Errorf("%s: %w", svc.Name(), err))
	}
	if len(errs) == 0 {
		return "", fmt.Errorf("no stt service accepts %s", chunk.Format)
	}
	return "", errors.Join(errs...)
}

func accepts(svc stthandler.ISTTService, format core.AudioEncodingFormat) bool {
	for _, f := range svc.SupportedEncodings() {
		if f == format {
			return true
		}
	}
	return false
}

// llmChain tries each reasoning service in order.
type llmChain struct {
	services []llmhandler.LLMService
	logger   *core.Logger
}

func (c *llmChain) Name() string { return c.services[0].Name() }

func (c *llmChain) Query(ctx context.Context, request core.ReasoningRequest) (core.StructuredReply, error) {
	var errs []error
	for _, svc := range c.services {
		reply, err := svc.Query(ctx, request)
		if err == nil {
			return reply, nil
		}
		if ctx.Err() != nil {
			return core.StructuredReply{}, ctx.Err()
		}
		c.logger.With(map[string]any{"service": svc.Name(), "error": err.Error()}).Warn("llm service failed, trying next")
		errs = append(errs, fmt.Errorf("%s: %w", svc.Name(), err))
	}
	return core.StructuredReply{}, errors.Join(errs...)
}
