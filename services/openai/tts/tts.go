package tts

import (
	"context"
	"fmt"
	"io"

	"concierge/core"

	"github.com/sashabaranov/go-openai"
)

// Config holds the configuration for the OpenAI speech service
type Config struct {
	APIKey  string  `json:"api_key"`
	BaseURL string  `json:"base_url"`
	Model   string  `json:"model"`
	Voice   string  `json:"voice"`
	Speed   float64 `json:"speed"`
}

// DefaultConfig returns a Config with sensible defaults
func DefaultConfig() Config {
	return Config{
		Model: string(openai.TTSModel1),
		Voice: string(openai.VoiceAlloy),
		Speed: 1.0,
	}
}

// OpenAITTS renders a whole reply to a WAV clip.
type OpenAITTS struct {
	client *openai.Client
	config Config
}

func NewOpenAITTS(config Config) (*OpenAITTS, error) {
	if config.APIKey == "" {
		return nil, fmt.Errorf("OpenAI API key is required")
	}
	def := DefaultConfig()
	if config.Model == "" {
		config.Model = def.Model
	}
	if config.Voice == "" {
		config.Voice = def.Voice
	}
	if config.Speed == 0 {
		config.Speed = def.Speed
	}
	clientConfig := openai.DefaultConfig(config.APIKey)
	if config.BaseURL != "" {
		clientConfig.BaseURL = config.BaseURL
	}
	return &OpenAITTS{client: openai.NewClientWithConfig(clientConfig), config: config}, nil
}

func (s *OpenAITTS) Name() string { return "openai-tts" }

func (s *OpenAITTS) Synthesize(ctx context.Context, text string) (core.AudioChunk, error) {
	resp, err := s.client.CreateSpeech(ctx, openai.CreateSpeechRequest{
		Model:          openai.SpeechModel(s.config.Model),
		Input:          text,
		Voice:          openai.SpeechVoice(s.config.Voice),
		ResponseFormat: openai.SpeechResponseFormatWav,
		Speed:          s.config.Speed,
	})
	if err != nil {
		return core.AudioChunk{}, fmt.Errorf("openai speech: %w", err)
	}
	defer resp.Close()

	data, err := io.ReadAll(resp)
	if err != nil {
		return core.AudioChunk{}, fmt.Errorf("openai speech: read body: %w", err)
	}
	return core.AudioChunk{Data: data, Format: core.WAV}, nil
}
