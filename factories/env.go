package factories

import (
	"encoding/base64"
	"fmt"

	"concierge/core"
	"concierge/stores/redis"

	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
)

// AppConfig defines the process-level parameters, sourced from environment
// variables (loaded from .env.local for local runs).
type AppConfig struct {
	Env            string `envconfig:"APP_ENV" default:"development"`
	HTTPAddr       string `envconfig:"HTTP_ADDR" default:":8080"`
	SettingsPath   string `envconfig:"SETTINGS_PATH" default:"./settings.json"`
	SettingsB64    string `envconfig:"SETTINGS_JSON_B64"`
	SessionLogDir  string `envconfig:"SESSION_LOG_DIR"`
	ConversationID string `envconfig:"CONVERSATION_ID"`
	MetricsPrefix  string `envconfig:"METRICS_NAMESPACE" default:"concierge"`

	// Infrastructure. Only dialled when the cart store is "redis".
	Redis redis.Config

	OpenAIKey     string `envconfig:"OPENAI_API_KEY"`
	GroqKey       string `envconfig:"GROQ_API_KEY"`
	OpenRouterKey string `envconfig:"OPENROUTER_API_KEY"`
	GeminiKey     string `envconfig:"GEMINI_API_KEY"`
	BackendKey    string `envconfig:"BACKEND_API_KEY"`
}

// LoadAppConfig reads .env.local when present and processes the environment.
func LoadAppConfig() (AppConfig, error) {
	if err := godotenv.Load(".env.local"); err != nil {
		core.GetLogger().With(map[string]any{"error": err}).Warn("No .env.local file found or failed to load")
	}
	var cfg AppConfig
	if err := envconfig.Process("", &cfg); err != nil {
		return AppConfig{}, fmt.Errorf("env: %w", err)
	}
	return cfg, nil
}

// APIKeys returns the provider credentials found in the environment.
func (c AppConfig) APIKeys() APIKeys {
	return APIKeys{
		OpenAI:     c.OpenAIKey,
		Groq:       c.GroqKey,
		OpenRouter: c.OpenRouterKey,
		Gemini:     c.GeminiKey,
		Backend:    c.BackendKey,
	}
}

// Settings loads settings from SETTINGS_JSON_B64 when set, else from the
// settings file. A missing or broken file falls back to the defaults.
func (c AppConfig) Settings() SettingsConfig {
	logger := core.GetLogger()
	if c.SettingsB64 != "" {
		data, err := base64.StdEncoding.DecodeString(c.SettingsB64)
		if err != nil {
			logger.With(map[string]any{"error": err}).Error("failed to decode SETTINGS_JSON_B64")
			return DefaultSettingsConfig()
		}
		settings, err := SettingsConfigFromJSON(data)
		if err != nil {
			logger.With(map[string]any{"error": err}).Error("failed to parse SETTINGS_JSON_B64")
			return DefaultSettingsConfig()
		}
		logger.Info("loaded settings from SETTINGS_JSON_B64")
		return settings
	}
	settings, err := SettingsConfigFromFile(c.SettingsPath)
	if err != nil {
		logger.With(map[string]any{"path": c.SettingsPath, "error": err}).Warn("failed to load settings, using defaults")
		return DefaultSettingsConfig()
	}
	return settings
}
