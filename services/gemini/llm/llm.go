package llm

import (
	"context"
	"fmt"

	"concierge/core"

	"github.com/cloudwego/eino-ext/components/model/gemini"
	"github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/schema"
	"google.golang.org/genai"
)

// Config holds the configuration for the Gemini reasoning service
type Config struct {
	APIKey      string  `json:"api_key"`
	BaseURL     string  `json:"base_url"`
	Model       string  `json:"model"`
	MaxTokens   int     `json:"max_tokens"`
	Temperature float32 `json:"temperature"`
}

// DefaultConfig returns a Config with sensible defaults
func DefaultConfig() Config {
	return Config{
		Model:       "gemini-2.5-flash",
		MaxTokens:   800,
		Temperature: 0.4,
	}
}

// GeminiLLMService answers reasoning requests through an eino chat model.
type GeminiLLMService struct {
	chatModel model.BaseChatModel
	modelName string
	logger    *core.Logger
}

// NewGeminiLLMService builds the genai client and the eino Gemini chat model.
func NewGeminiLLMService(ctx context.Context, config Config) (*GeminiLLMService, error) {
	if config.APIKey == "" {
		return nil, fmt.Errorf("Gemini API key is required")
	}
	if config.Model == "" {
		config.Model = DefaultConfig().Model
	}

	clientCfg := &genai.ClientConfig{
		APIKey:  config.APIKey,
		Backend: genai.BackendGeminiAPI,
	}
	if config.BaseURL != "" {
		clientCfg.HTTPOptions.BaseURL = config.BaseURL
	}
	client, err := genai.NewClient(ctx, clientCfg)
	if err != nil {
		return nil, fmt.Errorf("error creating Gemini client: %w", err)
	}

	chatModel, err := gemini.NewChatModel(ctx, &gemini.Config{
		Client:      client,
		Model:       config.Model,
		Temperature: &config.Temperature,
		MaxTokens:   &config.MaxTokens,
	})
	if err != nil {
		return nil, fmt.Errorf("error creating Gemini chat model: %w", err)
	}
	return NewWithChatModel(chatModel, config.Model), nil
}

// NewWithChatModel wraps any eino chat model.
func NewWithChatModel(chatModel model.BaseChatModel, modelName string) *GeminiLLMService {
	return &GeminiLLMService{
		chatModel: chatModel,
		modelName: modelName,
		logger:    core.GetLogger().With(map[string]any{"service": "gemini-llm", "model": modelName}),
	}
}

func (s *GeminiLLMService) Name() string { return "gemini" }

func (s *GeminiLLMService) Query(ctx context.Context, request core.ReasoningRequest) (core.StructuredReply, error) {
	out, err := s.chatModel.Generate(ctx, toSchemaMessages(request.LLMContext().Messages))
	if err != nil {
		return core.StructuredReply{}, fmt.Errorf("gemini generate: %w", err)
	}
	if out == nil {
		return core.StructuredReply{}, fmt.Errorf("gemini generate: empty response")
	}
	if out.ResponseMeta != nil && out.ResponseMeta.Usage != nil {
		s.logger.Debug("generation finished", "total_tokens", out.ResponseMeta.Usage.TotalTokens)
	}
	reply, err := core.ParseStructuredReply(out.Content)
	if err != nil {
		return core.StructuredReply{}, fmt.Errorf("gemini reply: %w", err)
	}
	return reply, nil
}

func toSchemaMessages(messages []core.LLMMessage) []*schema.Message {
	out := make([]*schema.Message, 0, len(messages))
	for _, m := range messages {
		switch m.Role {
		case core.LLMMessageRoleSystem:
			out = append(out, schema.SystemMessage(m.Message))
		case core.LLMMessageRoleAssistant:
			out = append(out, schema.AssistantMessage(m.Message, nil))
		default:
			out = append(out, schema.UserMessage(m.Message))
		}
	}
	return out
}
