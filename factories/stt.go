package factories

import (
	"errors"

	stthandler "concierge/handlers/stt"
	"concierge/services/backend"
	openaistt "concierge/services/openai/stt"
)

// STTFactoryConfig holds provider-specific configs for STT service construction.
// Set exactly one provider config; the rest should be left nil.
type STTFactoryConfig struct {
	OpenAIConfig  *openaistt.Config `json:"openai,omitempty"`
	BackendConfig *backend.Config   `json:"backend,omitempty"`
}

// BuildSTTService constructs an ISTTService from the given factory config.
// Exactly one provider config must be non-nil.
func BuildSTTService(config STTFactoryConfig) (stthandler.ISTTService, error) {
	if config.OpenAIConfig != nil {
		return openaistt.NewWhisperSTT(*config.OpenAIConfig)
	}
	if config.BackendConfig != nil {
		return backend.NewClient(*config.BackendConfig), nil
	}
	return nil, errors.New("STTFactoryConfig: no provider config specified")
}
