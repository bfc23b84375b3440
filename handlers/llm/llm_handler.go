package llm

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"concierge/core"
	"concierge/events/llm"
)

// LLMService answers one reasoning request with a structured reply.
type LLMService interface {
	Name() string
	Query(ctx context.Context, request core.ReasoningRequest) (core.StructuredReply, error)
}

// Reasoner is the reasoning client of a turn.
type Reasoner struct {
	service   LLMService
	config    LLMHandlerConfig
	publisher core.Publisher
	logger    *core.Logger
}

// NewReasoner creates a new reasoning client.
// Use DefaultConfig() to get a config with sensible defaults and override only what you need.
func NewReasoner(service LLMService, config LLMHandlerConfig, publisher core.Publisher, logger *core.Logger) *Reasoner {
	if config.SystemPrompt == "" {
		config.SystemPrompt = CONCIERGE_PROMPT
	}
	if publisher == nil {
		publisher = core.NopPublisher{}
	}
	if logger == nil {
		logger = core.GetLogger()
	}
	return &Reasoner{
		service:   service,
		config:    config,
		publisher: publisher,
		logger:    logger.With(map[string]any{"component": "llm", "service": service.Name()}),
	}
}

// Reply sends utterance and the history window to the reasoning service.
// An empty message or a service failure returns a StageError of kind
// core.ErrReasoningFailed. A cancelled ctx is returned as is.
func (r *Reasoner) Reply(ctx context.Context, utterance string, window []core.Turn) (core.StructuredReply, error) {
	if r.config.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, r.config.Timeout)
		defer cancel()
	}

	r.publisher.Publish(&llm.LLMRequestStartedEvent{Message: utterance, HistoryTurns: len(window)}, "Reasoner")

	start := time.Now()
	reply, err := r.service.Query(ctx, core.ReasoningRequest{
		Message:      utterance,
		History:      window,
		SystemPrompt: r.config.SystemPrompt,
	})
	if ctxErr := ctx.Err(); ctxErr != nil && errors.Is(ctxErr, context.Canceled) {
		return core.StructuredReply{}, ctxErr
	}
	if err != nil {
		r.loggerFor(ctx).With(map[string]any{"error": err}).Warn("reasoning failed")
		return core.StructuredReply{}, core.NewStageError(core.StageReasoning, core.ErrReasoningFailed, err, "")
	}
	reply.Message = strings.TrimSpace(reply.Message)
	if reply.Message == "" {
		return core.StructuredReply{}, core.NewStageError(core.StageReasoning, core.ErrReasoningFailed, nil, "empty reply")
	}

	r.loggerFor(ctx).Debug("reasoning done",
		"listings", len(reply.Listings),
		"items", len(reply.MarketplaceItems),
		"cart_action", reply.CartAction != nil,
		"intent", reply.Intent,
		"elapsed", time.Since(start).String(),
	)
	r.publisher.Publish(&llm.LLMReplyEvent{Reply: reply}, "Reasoner")
	return reply, nil
}

func (r *Reasoner) loggerFor(ctx context.Context) *core.Logger {
	if l := core.SessionLoggerFromContext(ctx); l != nil {
		return l.With(map[string]any{"component": "llm", "service": r.service.Name()})
	}
	return r.logger
}

// ReferenceNote returns the index-reference note for a reply that offers
// listings or items without acting on them, or "" otherwise.
//
//	[Available listings: 1. Marina View (l-1), 2. Palm Loft (l-2)]
func ReferenceNote(reply core.StructuredReply) string {
	if reply.CartAction != nil || !reply.HasOffers() {
		return ""
	}
	var parts []string
	if len(reply.Listings) > 0 {
		entries := make([]string, len(reply.Listings))
		for i, l := range reply.Listings {
			entries[i] = fmt.Sprintf("%d. %s (%s)", i+1, l.Title, l.ID)
		}
		parts = append(parts, "[Available listings: "+strings.Join(entries, ", ")+"]")
	}
	if len(reply.MarketplaceItems) > 0 {
		entries := make([]string, len(reply.MarketplaceItems))
		for i, it := range reply.MarketplaceItems {
			entries[i] = fmt.Sprintf("%d. %s (%s)", i+1, it.Title, it.ID)
		}
		parts = append(parts, "[Available items: "+strings.Join(entries, ", ")+"]")
	}
	return strings.Join(parts, " ")
}
