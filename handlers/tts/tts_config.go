package tts

import "time"

type TTSConfig struct {
	TickInterval       time.Duration `json:"tick_interval"`        // Animation tick that samples playback position.
	RevealWordInterval time.Duration `json:"reveal_word_interval"` // Per-word pace of the timed reveal fallback.
	Timeout            time.Duration `json:"timeout"`              // Deadline for one synthesis request.
	EngineWordsPerMin  int           `json:"engine_words_per_min"` // Speaking rate handed to the on-device engine.
}

// DefaultConfig returns a TTSConfig with sensible defaults.
func DefaultConfig() TTSConfig {
	return TTSConfig{
		TickInterval:       16 * time.Millisecond,
		RevealWordInterval: 280 * time.Millisecond,
		Timeout:            20 * time.Second,
		EngineWordsPerMin:  175,
	}
}
