package factories

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"time"

	"concierge/services/backend"

	"github.com/bytedance/sonic"
)

// SessionAPIConfig describes an HTTP endpoint that returns a SessionConfig JSON payload.
type SessionAPIConfig struct {
	// URL is the endpoint to request.
	URL string `json:"url"`
	// Method is the HTTP method. Defaults to "POST" when Body is set, "GET" otherwise.
	Method string `json:"method,omitempty"`
	// Headers are additional HTTP headers to include in the request.
	Headers map[string]string `json:"headers,omitempty"`
	// Body is an optional JSON body to send with the request.
	Body json.RawMessage `json:"body,omitempty"`
}

var sessionAPIClient = &http.Client{Timeout: 10 * time.Second}

// Fetch calls the configured endpoint and parses the response as a SessionConfig.
func (c *SessionAPIConfig) Fetch(ctx context.Context) (SessionConfig, error) {
	method := c.Method
	if method == "" {
		if len(c.Body) > 0 {
			method = http.MethodPost
		} else {
			method = http.MethodGet
		}
	}

	req, err := http.NewRequestWithContext(ctx, method, c.URL, bytes.NewReader(c.Body))
	if err != nil {
		return SessionConfig{}, fmt.Errorf("session api: %w", err)
	}
	if len(c.Body) > 0 {
		req.Header.Set("Content-Type", "application/json")
	}
	for k, v := range c.Headers {
		req.Header.Set(k, v)
	}

	resp, err := sessionAPIClient.Do(req)
	if err != nil {
		return SessionConfig{}, fmt.Errorf("session api: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return SessionConfig{}, fmt.Errorf("session api: unexpected status %d from %s", resp.StatusCode, c.URL)
	}

	var buf bytes.Buffer
	if _, err := buf.ReadFrom(resp.Body); err != nil {
		return SessionConfig{}, fmt.Errorf("session api: read response: %w", err)
	}
	return SessionConfigFromJSON(buf.Bytes())
}

// SettingsConfig is the top-level config loaded from settings.json.
type SettingsConfig struct {
	// SessionAPI, when set, is called at startup to fetch the SessionConfig.
	SessionAPI *SessionAPIConfig `json:"session_api,omitempty"`
	// Session, when set, provides inline session config directly in settings.json.
	Session *SessionConfig `json:"session_config,omitempty"`
}

// DefaultSettingsConfig returns settings whose session talks to the concierge
// backend for transcription, reasoning, synthesis and leads.
func DefaultSettingsConfig() SettingsConfig {
	session := DefaultBackendSessionConfig()
	return SettingsConfig{Session: &session}
}

// DefaultBackendSessionConfig returns a SessionConfig with every provider set
// to the concierge backend.
func DefaultBackendSessionConfig() SessionConfig {
	backendConfig := func() *backend.Config {
		b := backend.DefaultConfig()
		return &b
	}
	cfg := DefaultSessionConfig()
	cfg.STT.ServiceConfig = STTFactoryConfig{BackendConfig: backendConfig()}
	cfg.LLM.ServiceConfig = LLMFactoryConfig{BackendConfig: backendConfig()}
	cfg.TTS.ServiceConfig = TTSFactoryConfig{BackendConfig: backendConfig()}
	cfg.Cart.Leads = backendConfig()
	return cfg
}

// SettingsConfigFromJSON parses a JSON blob into a SettingsConfig. The inline
// session is parsed over DefaultSessionConfig.
func SettingsConfigFromJSON(data []byte) (SettingsConfig, error) {
	var raw struct {
		SessionAPI    *SessionAPIConfig `json:"session_api,omitempty"`
		SessionConfig json.RawMessage   `json:"session_config,omitempty"`
	}
	if err := sonic.Unmarshal(data, &raw); err != nil {
		return SettingsConfig{}, fmt.Errorf("settings: %w", err)
	}

	var cfg SettingsConfig
	cfg.SessionAPI = raw.SessionAPI
	if len(raw.SessionConfig) > 0 {
		sc, err := SessionConfigFromJSON(raw.SessionConfig)
		if err != nil {
			return SettingsConfig{}, fmt.Errorf("settings: %w", err)
		}
		cfg.Session = &sc
	}
	return cfg, nil
}

// SettingsConfigFromFile reads and parses a SettingsConfig from a JSON file.
func SettingsConfigFromFile(path string) (SettingsConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return DefaultSettingsConfig(), fmt.Errorf("settings: read %q: %w", path, err)
	}
	return SettingsConfigFromJSON(data)
}

// ResolveSession returns the session config the settings describe.
func (s SettingsConfig) ResolveSession(ctx context.Context) (SessionConfig, error) {
	switch {
	case s.SessionAPI != nil:
		return s.SessionAPI.Fetch(ctx)
	case s.Session != nil:
		return *s.Session, nil
	default:
		return SessionConfig{}, fmt.Errorf("no session config: set session_config or session_api in settings.json")
	}
}
