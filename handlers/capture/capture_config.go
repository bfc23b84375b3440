package capture

import (
	"time"

	"concierge/core"
)

type CaptureConfig struct {
	SampleRate    int                        `json:"sample_rate"`    // Microphone sample rate in Hz.
	Channels      int                        `json:"channels"`       // Microphone channel count.
	ChunkInterval time.Duration              `json:"chunk_interval"` // How often buffered PCM is encoded into a chunk. Bounds stop latency.
	MaxDuration   time.Duration              `json:"max_duration"`   // Capture releases itself after this long. Zero disables.
	MaxBytes      int                        `json:"max_bytes"`      // Upper bound on encoded bytes held by a session.
	Encodings     []core.AudioEncodingFormat `json:"-"`              // Ordered fallback list for the capability probe.
}

// DefaultConfig returns a CaptureConfig with sensible defaults.
func DefaultConfig() CaptureConfig {
	return CaptureConfig{
		SampleRate:    16000,
		Channels:      1,
		ChunkInterval: 250 * time.Millisecond,
		MaxDuration:   60 * time.Second,
		MaxBytes:      8 << 20,
	}
}
