package factories

import (
	"errors"

	ttshandler "concierge/handlers/tts"
	"concierge/services/backend"
	openaitts "concierge/services/openai/tts"
)

// TTSFactoryConfig holds provider-specific configs for synthesis service
// construction. Set exactly one provider config; the rest should be left nil.
type TTSFactoryConfig struct {
	OpenAIConfig  *openaitts.Config `json:"openai,omitempty"`
	BackendConfig *backend.Config   `json:"backend,omitempty"`
}

// BuildTTSService constructs a TTSService from the given factory config.
// Exactly one provider config must be non-nil.
func BuildTTSService(config TTSFactoryConfig) (ttshandler.TTSService, error) {
	if config.OpenAIConfig != nil {
		return openaitts.NewOpenAITTS(*config.OpenAIConfig)
	}
	if config.BackendConfig != nil {
		return backend.NewClient(*config.BackendConfig), nil
	}
	return nil, errors.New("TTSFactoryConfig: no provider config specified")
}
