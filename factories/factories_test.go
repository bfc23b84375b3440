package factories

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"concierge/core"
	llmhandler "concierge/handlers/llm"
	stthandler "concierge/handlers/stt"
	openaillm "concierge/services/openai/llm"
	"concierge/utils/audio"
)

func TestSettingsConfigFromJSON_InlineSession(t *testing.T) {
	data := []byte(`{
		"session_config": {
			"stt": {"service": {"openai": {"model": "whisper-1"}}},
			"llm": {
				"handler": {"history_window": 10},
				"service": {"groq": {}},
				"fallbacks": [{"backend": {"base_url": "http://backend"}}]
			},
			"tts": {"service": {"backend": {"base_url": "http://backend"}}, "disable_engine": true},
			"cart": {"store": "redis"}
		}
	}`)
	settings, err := SettingsConfigFromJSON(data)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if settings.Session == nil {
		t.Fatalf("expected inline session")
	}
	s := settings.Session
	if s.STT.ServiceConfig.OpenAIConfig == nil || s.STT.ServiceConfig.OpenAIConfig.Model != "whisper-1" {
		t.Fatalf("stt provider not parsed: %+v", s.STT.ServiceConfig)
	}
	if s.LLM.ServiceConfig.GroqConfig == nil || len(s.LLM.FallbackServiceConfigs) != 1 {
		t.Fatalf("llm providers not parsed: %+v", s.LLM)
	}
	if s.LLM.HandlerConfig.HistoryWindow != 10 {
		t.Fatalf("history window = %d", s.LLM.HandlerConfig.HistoryWindow)
	}
	if s.LLM.HandlerConfig.SystemPrompt == "" {
		t.Fatalf("absent fields must keep their defaults")
	}
	if !s.TTS.DisableEngine || s.Cart.Store != StoreRedis {
		t.Fatalf("tts/cart not parsed: %+v %+v", s.TTS, s.Cart)
	}
	if s.Conversation.ApologyMessage == "" || s.Visual.TickInterval == 0 {
		t.Fatalf("defaults lost for conversation or visual config")
	}
}

func TestSettingsConfigFromJSON_Invalid(t *testing.T) {
	if _, err := SettingsConfigFromJSON([]byte(`{"session_config": [}`)); err == nil {
		t.Fatalf("expected a parse error")
	}
}

func TestSettingsConfigFromFile_MissingFallsBackToDefaults(t *testing.T) {
	settings, err := SettingsConfigFromFile("/nonexistent/settings.json")
	if err == nil {
		t.Fatalf("expected a read error")
	}
	if settings.Session == nil || settings.Session.LLM.ServiceConfig.BackendConfig == nil {
		t.Fatalf("default settings should select the backend provider")
	}
}

func TestResolveSession_FetchesFromAPI(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost || r.Header.Get("X-Tenant") != "acme" {
			http.Error(w, "bad request", http.StatusBadRequest)
			return
		}
		w.Write([]byte(`{"llm": {"service": {"openai": {"model": "gpt-4o"}}}}`))
	}))
	defer srv.Close()

	settings := SettingsConfig{SessionAPI: &SessionAPIConfig{
		URL:     srv.URL,
		Headers: map[string]string{"X-Tenant": "acme"},
		Body:    []byte(`{"agent":"concierge"}`),
	}}
	session, err := settings.ResolveSession(context.Background())
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if session.LLM.ServiceConfig.OpenAIConfig == nil || session.LLM.ServiceConfig.OpenAIConfig.Model != "gpt-4o" {
		t.Fatalf("unexpected session %+v", session.LLM.ServiceConfig)
	}
}

func TestResolveSession_RequiresASource(t *testing.T) {
	if _, err := (SettingsConfig{}).ResolveSession(context.Background()); err == nil {
		t.Fatalf("expected an error without session_config or session_api")
	}
}

func TestInjectAPIKeys_KeepsExplicitKeys(t *testing.T) {
	cfg := DefaultBackendSessionConfig()
	cfg.LLM.ServiceConfig = LLMFactoryConfig{OpenAIConfig: &openaillm.Config{APIKey: "explicit"}}
	cfg.LLM.FallbackServiceConfigs = []LLMFactoryConfig{{GroqConfig: &openaillm.Config{}}}

	cfg.InjectAPIKeys(APIKeys{OpenAI: "sk-env", Groq: "gsk-env", Backend: "be-env"})

	if got := cfg.LLM.ServiceConfig.OpenAIConfig.APIKey; got != "explicit" {
		t.Fatalf("explicit key overwritten: %q", got)
	}
	if got := cfg.LLM.FallbackServiceConfigs[0].GroqConfig.APIKey; got != "gsk-env" {
		t.Fatalf("fallback key = %q", got)
	}
	if cfg.STT.ServiceConfig.BackendConfig.APIKey != "be-env" || cfg.Cart.Leads.APIKey != "be-env" {
		t.Fatalf("backend key not injected")
	}
}

func TestBuildServices_RequireAProvider(t *testing.T) {
	if _, err := BuildSTTService(STTFactoryConfig{}); err == nil {
		t.Fatalf("stt: expected error")
	}
	if _, err := BuildLLMService(context.Background(), LLMFactoryConfig{}); err == nil {
		t.Fatalf("llm: expected error")
	}
	if _, err := BuildTTSService(TTSFactoryConfig{}); err == nil {
		t.Fatalf("tts: expected error")
	}
	if _, err := BuildLLMService(context.Background(), LLMFactoryConfig{GroqConfig: &openaillm.Config{}}); err == nil {
		t.Fatalf("groq without a key must fail")
	}
}

func TestBuildHandlers_BackendSession(t *testing.T) {
	cfg := DefaultBackendSessionConfig()
	cfg.TTS.DisableEngine = true
	graph := audio.NewGraph(nil, audio.DefaultGraphConfig(), nil)

	handlers, err := cfg.BuildHandlers(context.Background(), "conv-1", SessionDeps{Graph: graph})
	if err != nil {
		t.Fatalf("build: %v", err)
	}
	if handlers.Agent.ID() != "conv-1" || handlers.Agent.State() != core.StateIdle {
		t.Fatalf("unexpected agent %s %s", handlers.Agent.ID(), handlers.Agent.State())
	}
	if handlers.Capture.Encoding() != core.WAV {
		t.Fatalf("capture encoding = %s", handlers.Capture.Encoding())
	}
	if handlers.Renderer == nil || handlers.Router == nil {
		t.Fatalf("renderer and router must be built")
	}
}

func TestBuildHandlers_RedisStoreNeedsClient(t *testing.T) {
	cfg := DefaultBackendSessionConfig()
	cfg.Cart.Store = StoreRedis
	_, err := cfg.BuildHandlers(context.Background(), "conv-1", SessionDeps{Graph: audio.NewGraph(nil, audio.DefaultGraphConfig(), nil)})
	if err == nil || !strings.Contains(err.Error(), "redis") {
		t.Fatalf("expected redis store error, got %v", err)
	}
}

type stubSTT struct {
	name      string
	encodings []core.AudioEncodingFormat
	text      string
	err       error
	calls     int
}

func (s *stubSTT) Name() string                                   { return s.name }
func (s *stubSTT) SupportedEncodings() []core.AudioEncodingFormat { return s.encodings }
func (s *stubSTT) Transcribe(context.Context, core.AudioChunk, string) (string, error) {
	s.calls++
	return s.text, s.err
}

func TestSTTChain_FallsBackAndSkipsIncompatible(t *testing.T) {
	primary := &stubSTT{name: "primary", encodings: []core.AudioEncodingFormat{core.WAV}, err: errors.New("503")}
	ulawOnly := &stubSTT{name: "ulaw", encodings: []core.AudioEncodingFormat{core.ULAW}, text: "wrong"}
	backup := &stubSTT{name: "backup", encodings: []core.AudioEncodingFormat{core.WAV}, text: "two bedrooms"}
	chain := &sttChain{services: []stthandler.ISTTService{primary, ulawOnly, backup}, logger: core.GetLogger()}

	text, err := chain.Transcribe(context.Background(), core.AudioChunk{Format: core.WAV}, "en")
	if err != nil || text != "two bedrooms" {
		t.Fatalf("got %q %v", text, err)
	}
	if ulawOnly.calls != 0 {
		t.Fatalf("incompatible service must be skipped")
	}
	if chain.Name() != "primary" {
		t.Fatalf("chain is named after its primary")
	}
}

type stubLLM struct {
	reply core.StructuredReply
	err   error
}

func (s *stubLLM) Name() string { return "stub" }
func (s *stubLLM) Query(context.Context, core.ReasoningRequest) (core.StructuredReply, error) {
	return s.reply, s.err
}

func TestLLMChain_JoinsErrors(t *testing.T) {
	chain := &llmChain{
		services: []llmhandler.LLMService{&stubLLM{err: errors.New("a")}, &stubLLM{err: errors.New("b")}},
		logger:   core.GetLogger(),
	}
	_, err := chain.Query(context.Background(), core.ReasoningRequest{Message: "hi"})
	if err == nil || !strings.Contains(err.Error(), "a") || !strings.Contains(err.Error(), "b") {
		t.Fatalf("expected both errors, got %v", err)
	}

	chain.services = append(chain.services[:1], &stubLLM{reply: core.StructuredReply{Message: "ok"}})
	reply, err := chain.Query(context.Background(), core.ReasoningRequest{Message: "hi"})
	if err != nil || reply.Message != "ok" {
		t.Fatalf("fallback reply: %+v %v", reply, err)
	}
}
