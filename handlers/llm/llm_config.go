package llm

import "time"

type LLMHandlerConfig struct {
	HistoryWindow int           `json:"history_window"` // Trailing turns sent with each request. Kept between 6 and 10.
	Timeout       time.Duration `json:"timeout"`        // Deadline for one reasoning request.
	SystemPrompt  string        `json:"system_prompt"`  // Used by model-backed services. Empty selects CONCIERGE_PROMPT.
}

// DefaultConfig returns an LLMHandlerConfig with sensible defaults.
func DefaultConfig() LLMHandlerConfig {
	return LLMHandlerConfig{
		HistoryWindow: 8,
		Timeout:       45 * time.Second,
		SystemPrompt:  CONCIERGE_PROMPT,
	}
}

func clampWindow(n int) int {
	switch {
	case n <= 0:
		return 8
	case n < 6:
		return 6
	case n > 10:
		return 10
	}
	return n
}
