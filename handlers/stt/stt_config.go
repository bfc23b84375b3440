package stt

import "time"

type STTConfig struct {
	Timeout  time.Duration `json:"timeout"`  // Deadline for one transcription request. Zero relies on the caller's context.
	Language string        `json:"language"` // Optional ISO-639-1 hint passed to services that accept one.
}

// DefaultConfig returns an STTConfig with sensible defaults.
func DefaultConfig() STTConfig {
	return STTConfig{
		Timeout:  30 * time.Second,
		Language: "en",
	}
}
