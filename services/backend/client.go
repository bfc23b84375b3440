package backend

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"concierge/core"
	"concierge/utils/audio"

	"github.com/bytedance/sonic"
)

// Config holds the configuration for the concierge backend client
type Config struct {
	BaseURL string        `json:"base_url"`
	APIKey  string        `json:"api_key"`
	Timeout time.Duration `json:"timeout"`
}

// DefaultConfig returns a Config with sensible defaults
func DefaultConfig() Config {
	return Config{
		BaseURL: "http://localhost:3000",
		Timeout: 60 * time.Second,
	}
}

// Client talks to the concierge backend. It serves as the transcription,
// reasoning, synthesis and lead-creation collaborator.
type Client struct {
	HTTPClient *http.Client
	config     Config
	logger     *core.Logger
}

type transcribeResponse struct {
	Transcript string `json:"transcript"`
}

type ttsRequest struct {
	Text string `json:"text"`
}

// StatusError is returned for non-2xx responses.
type StatusError struct {
	Path   string
	Status int
	Body   string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("backend %s: status=%d body=%s", e.Path, e.Status, e.Body)
}

func NewClient(config Config) *Client {
	if config.BaseURL == "" {
		config.BaseURL = DefaultConfig().BaseURL
	}
	config.BaseURL = strings.TrimRight(config.BaseURL, "/")
	if config.Timeout <= 0 {
		config.Timeout = DefaultConfig().Timeout
	}
	return &Client{
		HTTPClient: &http.Client{Timeout: config.Timeout},
		config:     config,
		logger:     core.GetLogger().With(map[string]any{"service": "backend", "base_url": config.BaseURL}),
	}
}

func (c *Client) Name() string { return "backend" }

// SupportedEncodings lists the codecs the transcribe endpoint accepts.
func (c *Client) SupportedEncodings() []core.AudioEncodingFormat {
	return []core.AudioEncodingFormat{core.WAV, core.ULAW, core.ALAW}
}

// Transcribe posts the raw capture payload with its codec MIME type.
func (c *Client) Transcribe(ctx context.Context, chunk core.AudioChunk, language string) (string, error) {
	path := "/api/voice/transcribe"
	if language != "" {
		path += "?language=" + url.QueryEscape(language)
	}
	body, err := c.do(ctx, path, chunk.Format.MIMEType(), chunk.Data)
	if err != nil {
		return "", err
	}
	var resp transcribeResponse
	if err := sonic.Unmarshal(body, &resp); err != nil {
		return "", fmt.Errorf("backend transcribe: decode: %w", err)
	}
	return resp.Transcript, nil
}

func (c *Client) Query(ctx context.Context, request core.ReasoningRequest) (core.StructuredReply, error) {
	payload, err := sonic.Marshal(request)
	if err != nil {
		return core.StructuredReply{}, fmt.Errorf("backend query: encode: %w", err)
	}
	body, err := c.do(ctx, "/api/voice/query", "application/json", payload)
	if err != nil {
		return core.StructuredReply{}, err
	}
	reply, err := core.ParseStructuredReply(string(body))
	if err != nil {
		return core.StructuredReply{}, fmt.Errorf("backend query: %w", err)
	}
	return reply, nil
}

// Synthesize returns the backend's audio, tagged WAV or MP3 by its header.
// Anything else fails decoding in the scheduler and triggers the fallback
// chain.
func (c *Client) Synthesize(ctx context.Context, text string) (core.AudioChunk, error) {
	payload, err := sonic.Marshal(ttsRequest{Text: text})
	if err != nil {
		return core.AudioChunk{}, fmt.Errorf("backend tts: encode: %w", err)
	}
	body, err := c.do(ctx, "/api/voice/tts", "application/json", payload)
	if err != nil {
		return core.AudioChunk{}, err
	}
	if len(body) == 0 {
		return core.AudioChunk{}, fmt.Errorf("backend tts: empty audio")
	}
	format := core.WAV
	if audio.IsMP3(body) {
		format = core.MP3
	}
	return core.AudioChunk{Data: body, Format: format}, nil
}

func (c *Client) CreateLead(ctx context.Context, lead core.LeadRequest) error {
	payload, err := sonic.Marshal(lead)
	if err != nil {
		return fmt.Errorf("backend lead: encode: %w", err)
	}
	_, err = c.do(ctx, "/api/leads", "application/json", payload)
	return err
}

func (c *Client) do(ctx context.Context, path, contentType string, payload []byte) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.config.BaseURL+path, bytes.NewReader(payload))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", contentType)
	if c.config.APIKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.config.APIKey)
	}

	start := time.Now()
	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("backend %s: %w", path, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("backend %s: read body: %w", path, err)
	}
	c.logger.Debug("backend call", "path", path, "status", resp.StatusCode, "elapsed_ms", time.Since(start).Milliseconds())
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		snippet := string(body)
		if len(snippet) > 256 {
			snippet = snippet[:256]
		}
		return nil, &StatusError{Path: path, Status: resp.StatusCode, Body: snippet}
	}
	return body, nil
}
