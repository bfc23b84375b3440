package factories

import (
	"context"
	"fmt"

	"concierge/core"
	capturehandler "concierge/handlers/capture"
	carthandler "concierge/handlers/cart"
	"concierge/handlers/conversation"
	llmhandler "concierge/handlers/llm"
	stthandler "concierge/handlers/stt"
	ttshandler "concierge/handlers/tts"
	visualhandler "concierge/handlers/visual"
	"concierge/services/backend"
	"concierge/utils/audio"

	"github.com/bytedance/sonic"
)

// SessionSTTConfig bundles transcriber config with primary and optional fallback service factory configs.
type SessionSTTConfig struct {
	// HandlerConfig controls transcriber behaviour (timeout, language hint).
	HandlerConfig stthandler.STTConfig `json:"handler"`
	// ServiceConfig selects and configures the primary STT provider.
	// Set exactly one provider field inside STTFactoryConfig.
	ServiceConfig STTFactoryConfig `json:"service"`
	// FallbackServiceConfigs is an ordered list of fallback providers tried if the primary fails.
	FallbackServiceConfigs []STTFactoryConfig `json:"fallbacks,omitempty"`
}

// DefaultSessionSTTConfig returns a SessionSTTConfig with sensible handler defaults.
func DefaultSessionSTTConfig() SessionSTTConfig {
	return SessionSTTConfig{HandlerConfig: stthandler.DefaultConfig()}
}

// BuildService constructs the primary service, chained with any fallbacks.
func (c SessionSTTConfig) BuildService(logger *core.Logger) (stthandler.ISTTService, error) {
	primary, err := BuildSTTService(c.ServiceConfig)
	if err != nil {
		return nil, fmt.Errorf("stt primary service: %w", err)
	}
	if len(c.FallbackServiceConfigs) == 0 {
		return primary, nil
	}
	chain := &sttChain{services: []stthandler.ISTTService{primary}, logger: logger}
	for i, fbCfg := range c.FallbackServiceConfigs {
		fb, err := BuildSTTService(fbCfg)
		if err != nil {
			return nil, fmt.Errorf("stt fallback[%d]: %w", i, err)
		}
		chain.services = append(chain.services, fb)
	}
	return chain, nil
}

// SessionLLMConfig bundles reasoning config with primary and optional fallback service factory configs.
type SessionLLMConfig struct {
	// HandlerConfig controls the history window, timeout and system prompt.
	HandlerConfig llmhandler.LLMHandlerConfig `json:"handler"`
	// ServiceConfig selects and configures the primary LLM provider.
	// Set exactly one provider field inside LLMFactoryConfig.
	ServiceConfig LLMFactoryConfig `json:"service"`
	// FallbackServiceConfigs is an ordered list of fallback providers tried if the primary fails.
	FallbackServiceConfigs []LLMFactoryConfig `json:"fallbacks,omitempty"`
}

// DefaultSessionLLMConfig returns a SessionLLMConfig with sensible handler defaults.
func DefaultSessionLLMConfig() SessionLLMConfig {
	return SessionLLMConfig{HandlerConfig: llmhandler.DefaultConfig()}
}

// BuildService constructs the primary service, chained with any fallbacks.
func (c SessionLLMConfig) BuildService(ctx context.Context, logger *core.Logger) (llmhandler.LLMService, error) {
	primary, err := BuildLLMService(ctx, c.ServiceConfig)
	if err != nil {
		return nil, fmt.Errorf("llm primary service: %w", err)
	}
	if len(c.FallbackServiceConfigs) == 0 {
		return primary, nil
	}
	chain := &llmChain{services: []llmhandler.LLMService{primary}, logger: logger}
	for i, fbCfg := range c.FallbackServiceConfigs {
		fb, err := BuildLLMService(ctx, fbCfg)
		if err != nil {
			return nil, fmt.Errorf("llm fallback[%d]: %w", i, err)
		}
		chain.services = append(chain.services, fb)
	}
	return chain, nil
}

// SessionTTSConfig bundles scheduler config with the synthesis provider.
// The on-device engine and the timed reveal are the fallbacks.
type SessionTTSConfig struct {
	// HandlerConfig controls tick rate, reveal pace and engine speaking rate.
	HandlerConfig ttshandler.TTSConfig `json:"handler"`
	// ServiceConfig selects and configures the synthesis provider.
	// Set exactly one provider field inside TTSFactoryConfig.
	ServiceConfig TTSFactoryConfig `json:"service"`
	// DisableEngine skips the on-device engine and falls straight to the reveal.
	DisableEngine bool `json:"disable_engine,omitempty"`
}

// DefaultSessionTTSConfig returns a SessionTTSConfig with sensible handler defaults.
func DefaultSessionTTSConfig() SessionTTSConfig {
	return SessionTTSConfig{HandlerConfig: ttshandler.DefaultConfig()}
}

// SessionCartConfig selects where the cart lives and where leads go.
type SessionCartConfig struct {
	HandlerConfig carthandler.CartConfig `json:"handler"`
	// Store is "memory" or "redis".
	Store string `json:"store"`
	// Leads selects the lead endpoint. Nil disables lead capture.
	Leads *backend.Config `json:"leads,omitempty"`
}

// DefaultSessionCartConfig returns a SessionCartConfig with sensible defaults.
func DefaultSessionCartConfig() SessionCartConfig {
	return SessionCartConfig{
		HandlerConfig: carthandler.DefaultConfig(),
		Store:         StoreMemory,
	}
}

const (
	StoreMemory = "memory"
	StoreRedis  = "redis"
)

// SessionConfig is the top-level configuration for one concierge agent.
// It groups the per-stage configs and exposes BuildHandlers to construct
// every collaborator of the agent in a single call.
type SessionConfig struct {
	Capture      capturehandler.CaptureConfig    `json:"capture"`
	STT          SessionSTTConfig                `json:"stt"`
	LLM          SessionLLMConfig                `json:"llm"`
	TTS          SessionTTSConfig                `json:"tts"`
	Visual       visualhandler.VisualConfig      `json:"visual"`
	Audio        audio.GraphConfig               `json:"audio"`
	Conversation conversation.ConversationConfig `json:"conversation"`
	Cart         SessionCartConfig               `json:"cart"`

	// CaptureEncodings overrides the encoding fallback list, e.g. ["wav", "ulaw"].
	CaptureEncodings []string `json:"capture_encodings,omitempty"`
}

// DefaultSessionConfig returns a SessionConfig pre-filled with sensible handler defaults
// for every component. Populate the ServiceConfig fields before calling BuildHandlers.
func DefaultSessionConfig() SessionConfig {
	return SessionConfig{
		Capture:      capturehandler.DefaultConfig(),
		STT:          DefaultSessionSTTConfig(),
		LLM:          DefaultSessionLLMConfig(),
		TTS:          DefaultSessionTTSConfig(),
		Visual:       visualhandler.DefaultConfig(),
		Audio:        audio.DefaultGraphConfig(),
		Conversation: conversation.DefaultConfig(),
		Cart:         DefaultSessionCartConfig(),
	}
}

// SessionConfigFromJSON parses a JSON blob into a SessionConfig, starting from
// DefaultSessionConfig so that any fields absent from the JSON retain their defaults.
// API keys should be injected after loading rather than stored in config files.
func SessionConfigFromJSON(data []byte) (SessionConfig, error) {
	cfg := DefaultSessionConfig()
	if err := sonic.Unmarshal(data, &cfg); err != nil {
		return SessionConfig{}, fmt.Errorf("session config: %w", err)
	}
	return cfg, nil
}

// APIKeys holds API credentials for all supported service providers.
type APIKeys struct {
	OpenAI     string // Used for OpenAI STT, LLM and TTS providers.
	Groq       string // Used for Groq LLM provider.
	OpenRouter string // Used for OpenRouter LLM provider.
	Gemini     string // Used for Gemini LLM provider.
	Backend    string // Used for the concierge backend and the lead endpoint.
}

// InjectAPIKeys applies API credentials to all configured service providers
// (primary and fallbacks). Keys already present in the config are kept.
func (c *SessionConfig) InjectAPIKeys(keys APIKeys) {
	injectSTTKeys(&c.STT.ServiceConfig, keys)
	for i := range c.STT.FallbackServiceConfigs {
		injectSTTKeys(&c.STT.FallbackServiceConfigs[i], keys)
	}

	injectLLMKeys(&c.LLM.ServiceConfig, keys)
	for i := range c.LLM.FallbackServiceConfigs {
		injectLLMKeys(&c.LLM.FallbackServiceConfigs[i], keys)
	}

	if c.TTS.ServiceConfig.OpenAIConfig != nil && c.TTS.ServiceConfig.OpenAIConfig.APIKey == "" {
		c.TTS.ServiceConfig.OpenAIConfig.APIKey = keys.OpenAI
	}
	injectBackendKey(c.TTS.ServiceConfig.BackendConfig, keys)
	injectBackendKey(c.Cart.Leads, keys)
}

func injectSTTKeys(cfg *STTFactoryConfig, keys APIKeys) {
	if cfg.OpenAIConfig != nil && cfg.OpenAIConfig.APIKey == "" {
		cfg.OpenAIConfig.APIKey = keys.OpenAI
	}
	injectBackendKey(cfg.BackendConfig, keys)
}

func injectLLMKeys(cfg *LLMFactoryConfig, keys APIKeys) {
	if cfg.OpenAIConfig != nil && cfg.OpenAIConfig.APIKey == "" {
		cfg.OpenAIConfig.APIKey = keys.OpenAI
	}
	if cfg.GroqConfig != nil && cfg.GroqConfig.APIKey == "" {
		cfg.GroqConfig.APIKey = keys.Groq
	}
	if cfg.OpenRouterConfig != nil && cfg.OpenRouterConfig.APIKey == "" {
		cfg.OpenRouterConfig.APIKey = keys.OpenRouter
	}
	if cfg.GeminiConfig != nil && cfg.GeminiConfig.APIKey == "" {
		cfg.GeminiConfig.APIKey = keys.Gemini
	}
	injectBackendKey(cfg.BackendConfig, keys)
}

func injectBackendKey(cfg *backend.Config, keys APIKeys) {
	if cfg != nil && cfg.APIKey == "" {
		cfg.APIKey = keys.Backend
	}
}

// SessionDeps are the process-wide resources a session is built on.
type SessionDeps struct {
	Device    capturehandler.Device
	Graph     *audio.Graph
	Engine    ttshandler.SpeechEngine // Nil selects espeak unless disabled.
	CartStore carthandler.Store       // Required when Cart.Store is "redis".
	Publisher core.Publisher
	Logger    *core.Logger
}

// SessionHandlers holds every constructed collaborator of one agent.
type SessionHandlers struct {
	Agent       *conversation.Agent
	Capture     *capturehandler.Controller
	Transcriber *stthandler.Transcriber
	Reasoner    *llmhandler.Reasoner
	Scheduler   *ttshandler.Scheduler
	Cart        *carthandler.Handler
	Renderer    *visualhandler.Renderer
	Router      *conversation.InputRouter
}

// BuildHandlers constructs all handlers described by the SessionConfig.
// Returns an error if any service factory config is invalid or construction fails.
func (c SessionConfig) BuildHandlers(ctx context.Context, conversationID string, deps SessionDeps) (*SessionHandlers, error) {
	logger := deps.Logger
	if logger == nil {
		logger = core.GetLogger()
	}
	publisher := deps.Publisher
	if publisher == nil {
		publisher = core.NopPublisher{}
	}

	sttService, err := c.STT.BuildService(logger)
	if err != nil {
		return nil, fmt.Errorf("session: %w", err)
	}
	llmService, err := c.LLM.BuildService(ctx, logger)
	if err != nil {
		return nil, fmt.Errorf("session: %w", err)
	}
	ttsService, err := BuildTTSService(c.TTS.ServiceConfig)
	if err != nil {
		return nil, fmt.Errorf("session: %w", err)
	}

	captureCfg := c.Capture
	for _, name := range c.CaptureEncodings {
		f, ok := audio.ParseEncoding(name)
		if !ok {
			return nil, fmt.Errorf("session: unknown capture encoding %q", name)
		}
		captureCfg.Encodings = append(captureCfg.Encodings, f)
	}

	transcriber := stthandler.NewTranscriber(sttService, c.STT.HandlerConfig, publisher, logger)
	controller, err := capturehandler.NewController(deps.Device, deps.Graph, captureCfg, transcriber.SupportedEncodings(), logger)
	if err != nil {
		return nil, fmt.Errorf("session: capture: %w", err)
	}

	engine := deps.Engine
	if engine == nil && !c.TTS.DisableEngine {
		engine = ttshandler.NewEspeakEngine(c.TTS.HandlerConfig.EngineWordsPerMin)
	}
	scheduler := ttshandler.NewScheduler(ttsService, engine, deps.Graph, c.TTS.HandlerConfig, publisher, logger)
	reasoner := llmhandler.NewReasoner(llmService, c.LLM.HandlerConfig, publisher, logger)

	store, err := c.cartStore(deps)
	if err != nil {
		return nil, fmt.Errorf("session: %w", err)
	}
	var leads carthandler.LeadService
	if c.Cart.Leads != nil {
		leads = backend.NewClient(*c.Cart.Leads)
	}
	cart := carthandler.NewHandler(store, leads, c.Cart.HandlerConfig, publisher, logger)

	agent := conversation.NewAgent(conversation.Options{
		ID:          conversationID,
		Capture:     controller,
		Transcriber: transcriber,
		Reasoner:    reasoner,
		Synthesizer: scheduler,
		Effects:     cart,
		History:     llmhandler.NewHistory(c.LLM.HandlerConfig.HistoryWindow),
		Config:      c.Conversation,
		Publisher:   publisher,
		Logger:      logger,
	})

	return &SessionHandlers{
		Agent:       agent,
		Capture:     controller,
		Transcriber: transcriber,
		Reasoner:    reasoner,
		Scheduler:   scheduler,
		Cart:        cart,
		Renderer:    visualhandler.NewRenderer(agent, deps.Graph, c.Visual, publisher, logger),
		Router:      conversation.NewInputRouter(agent, cart),
	}, nil
}

func (c SessionConfig) cartStore(deps SessionDeps) (carthandler.Store, error) {
	switch c.Cart.Store {
	case "", StoreMemory:
		return carthandler.NewMemoryStore(), nil
	case StoreRedis:
		if deps.CartStore == nil {
			return nil, fmt.Errorf("cart store %q selected but no redis store provided", StoreRedis)
		}
		return deps.CartStore, nil
	default:
		return nil, fmt.Errorf("unknown cart store %q", c.Cart.Store)
	}
}
