package llm

import (
	"context"
	"fmt"

	"concierge/core"

	"github.com/sashabaranov/go-openai"
)

// Config holds the configuration for the OpenAI reasoning service
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
		Model:       openai.GPT4oMini,
		MaxTokens:   800,
		Temperature: 0.4,
	}
}

// OpenAILLMService answers reasoning requests with a JSON-mode chat completion.
type OpenAILLMService struct {
	client *openai.Client
	config Config
	logger *core.Logger
}

// NewOpenAILLMService creates a new instance of OpenAILLMService
func NewOpenAILLMService(config Config) (*OpenAILLMService, error) {
	if config.APIKey == "" {
		return nil, fmt.Errorf("OpenAI API key is required")
	}
	if config.Model == "" {
		config.Model = DefaultConfig().Model
	}
	clientConfig := openai.DefaultConfig(config.APIKey)
	if config.BaseURL != "" {
		clientConfig.BaseURL = config.BaseURL
	}
	return &OpenAILLMService{
		client: openai.NewClientWithConfig(clientConfig),
		config: config,
		logger: core.GetLogger().With(map[string]any{"service": "openai-llm", "model": config.Model}),
	}, nil
}

func (s *OpenAILLMService) Name() string { return "openai" }

// Query runs one completion and decodes the structured reply.
func (s *OpenAILLMService) Query(ctx context.Context, request core.ReasoningRequest) (core.StructuredReply, error) {
	llmContext := request.LLMContext()
	req := openai.ChatCompletionRequest{
		Model:       s.config.Model,
		Messages:    s.convertMessages(llmContext.Messages),
		MaxTokens:   s.config.MaxTokens,
		Temperature: s.config.Temperature,
		ResponseFormat: &openai.ChatCompletionResponseFormat{
			Type: openai.ChatCompletionResponseFormatTypeJSONObject,
		},
	}

	resp, err := s.client.CreateChatCompletion(ctx, req)
	if err != nil {
		return core.StructuredReply{}, fmt.Errorf("failed to create completion: %w", err)
	}
	if len(resp.Choices) == 0 {
		return core.StructuredReply{}, fmt.Errorf("completion returned no choices")
	}

	s.logger.Debug("completion finished", "finish_reason", string(resp.Choices[0].FinishReason), "total_tokens", resp.Usage.TotalTokens)
	reply, err := core.ParseStructuredReply(resp.Choices[0].Message.Content)
	if err != nil {
		return core.StructuredReply{}, fmt.Errorf("openai reply: %w", err)
	}
	return reply, nil
}

// convertMessages converts core messages to OpenAI messages
func (s *OpenAILLMService) convertMessages(messages []core.LLMMessage) []openai.ChatCompletionMessage {
	out := make([]openai.ChatCompletionMessage, 0, len(messages))
	for _, msg := range messages {
		out = append(out, openai.ChatCompletionMessage{
			Role:    s.convertRole(msg.Role),
			Content: msg.Message,
		})
	}
	return out
}

// convertRole converts core role to OpenAI role
func (s *OpenAILLMService) convertRole(role core.LLMMessageRole) string {
	switch role {
	case core.LLMMessageRoleAssistant:
		return openai.ChatMessageRoleAssistant
	case core.LLMMessageRoleSystem:
		return openai.ChatMessageRoleSystem
	default:
		return openai.ChatMessageRoleUser
	}
}
