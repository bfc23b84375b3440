package visual

import "concierge/core"

// FrameEvent is one rendered animation frame.
type FrameEvent struct {
	State    core.ConversationState `json:"state"`
	Level    float64                `json:"level"`
	Bands    []float64              `json:"bands,omitempty"`
	Color    string                 `json:"color"`
	Morph    float64                `json:"morph"`
	Visemes  map[string]float64     `json:"visemes"`
	Blink    float64                `json:"blink"`
	Revealed string                 `json:"revealed,omitempty"`
	Idle     bool                   `json:"idle,omitempty"`
}

func (e *FrameEvent) GetId() string {
	return "visual.frame"
}
