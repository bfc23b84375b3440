// Command typegen parses the Go wire and settings structs and generates the
// TypeScript definitions consumed by the concierge UI. Run from the project root:
//
//	go run ./cmd/typegen -out ui/src/types/generated.ts
package main

import (
	"flag"
	"fmt"
	"os"
	"path/filepath"
)

// modulePath is the import path prefix of in-module packages.
var modulePath = "concierge"

// configStructs lists the non-event structs to include, in output order.
// Qualified keys ("dir:Name") disambiguate structs that share a name.
var configStructs = []string{
	// Conversation data
	"Turn",
	"Listing",
	"Item",
	"CartAction",
	"LeadCapture",
	"StructuredReply",
	"CartItem",
	// Websocket protocol
	"Envelope",
	"TranscriptLine",
	"HelloPayload",
	"AckPayload",
	// Settings
	"SettingsConfig",
	"SessionAPIConfig",
	"SessionConfig",
	"SessionSTTConfig",
	"SessionLLMConfig",
	"SessionTTSConfig",
	"SessionCartConfig",
	"STTFactoryConfig",
	"LLMFactoryConfig",
	"TTSFactoryConfig",
	"services/openai/stt:Config",
	"services/openai/llm:Config",
	"services/openai/tts:Config",
	"services/gemini/llm:Config",
	"services/backend:Config",
	// Handler configs
	"CaptureConfig",
	"STTConfig",
	"LLMHandlerConfig",
	"TTSConfig",
	"VisualConfig",
	"GraphConfig",
	"AnalyserConfig",
	"ConversationConfig",
	"CartConfig",
}

var tsRenames = map[string]string{
	"SettingsConfig":             "Settings",
	"SessionAPIConfig":           "SessionApiConfig",
	"SessionSTTConfig":           "SttConfig",
	"SessionLLMConfig":           "LlmConfig",
	"SessionTTSConfig":           "TtsConfig",
	"SessionCartConfig":          "CartSettings",
	"STTFactoryConfig":           "SttServiceConfig",
	"LLMFactoryConfig":           "LlmServiceConfig",
	"TTSFactoryConfig":           "TtsServiceConfig",
	"services/openai/stt:Config": "OpenAiSttConfig",
	"services/openai/llm:Config": "OpenAiLlmConfig",
	"services/openai/tts:Config": "OpenAiTtsConfig",
	"services/gemini/llm:Config": "GeminiLlmConfig",
	"services/backend:Config":    "BackendConfig",
	"STTConfig":                  "SttHandlerConfig",
	"LLMHandlerConfig":           "LlmHandlerConfig",
	"TTSConfig":                  "TtsHandlerConfig",
	"CartConfig":                 "CartHandlerConfig",
}

// configTypes are settings shapes. Their fields default to optional since
// the Go side fills defaults and JSON only carries overrides.
var configTypes = map[string]bool{}

// requiredFields keeps identity fields of settings shapes required.
var requiredFields = map[string]map[string]bool{
	"SessionApiConfig": {"url": true},
}

func init() {
	settings := false
	for _, key := range configStructs {
		if key == "SettingsConfig" {
			settings = true
		}
		if settings {
			configTypes[tsNameFor(key)] = true
		}
	}
}

func main() {
	outPath := flag.String("out", "ui/src/types/generated.ts", "output TypeScript file path")
	flag.StringVar(&modulePath, "module", modulePath, "module path of the parsed tree")
	flag.Parse()

	root, err := os.Getwd()
	if err != nil {
		fatal("getwd: %v", err)
	}

	g := newGenerator()
	if err := g.Load(root); err != nil {
		fatal("load: %v", err)
	}
	out := g.Render()

	absOut := *outPath
	if !filepath.IsAbs(absOut) {
		absOut = filepath.Join(root, absOut)
	}
	if err := os.MkdirAll(filepath.Dir(absOut), 0o755); err != nil {
		fatal("mkdir: %v", err)
	}
	if err := os.WriteFile(absOut, out, 0o644); err != nil {
		fatal("write: %v", err)
	}
	fmt.Fprintf(os.Stderr, "wrote %s (%d bytes)\n", absOut, len(out))
}

func fatal(format string, args ...interface{}) {
	fmt.Fprintf(os.Stderr, "typegen: "+format+"\n", args...)
	os.Exit(1)
}
