package stt

import (
	"bytes"
	"context"
	"fmt"

	"concierge/core"

	"github.com/sashabaranov/go-openai"
)

// Config holds the configuration for the Whisper transcription service
type Config struct {
	APIKey  string `json:"api_key"`
	BaseURL string `json:"base_url"`
	Model   string `json:"model"`
}

// DefaultConfig returns a Config with sensible defaults
func DefaultConfig() Config {
	return Config{Model: openai.Whisper1}
}

// WhisperSTT transcribes a finished capture payload in one request.
type WhisperSTT struct {
	client *openai.Client
	config Config
}

func NewWhisperSTT(config Config) (*WhisperSTT, error) {
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
	return &WhisperSTT{client: openai.NewClientWithConfig(clientConfig), config: config}, nil
}

func (s *WhisperSTT) Name() string { return "whisper" }

// SupportedEncodings lists containers Whisper decodes from a file upload.
func (s *WhisperSTT) SupportedEncodings() []core.AudioEncodingFormat {
	return []core.AudioEncodingFormat{core.WAV}
}

func (s *WhisperSTT) Transcribe(ctx context.Context, chunk core.AudioChunk, language string) (string, error) {
	resp, err := s.client.CreateTranscription(ctx, openai.AudioRequest{
		Model:    s.config.Model,
		FilePath: "capture" + chunk.Format.FileExtension(),
		Reader:   bytes.NewReader(chunk.Data),
		Language: language,
	})
	if err != nil {
		return "", fmt.Errorf("whisper: %w", err)
	}
	return resp.Text, nil
}
