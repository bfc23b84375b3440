package conversation

import "concierge/core"

type StateChangedEvent struct {
	From core.ConversationState `json:"from"`
	To   core.ConversationState `json:"to"`
}

func (e *StateChangedEvent) GetId() string {
	return "conversation.state_changed"
}

// TurnAppendedEvent is published for every entry added to the display
// transcript. Apology turns are displayed but never enter the history.
type TurnAppendedEvent struct {
	Turn    core.Turn `json:"turn"`
	Apology bool      `json:"apology,omitempty"`
}

func (e *TurnAppendedEvent) GetId() string {
	return "conversation.turn_appended"
}

type TurnFailedEvent struct {
	Stage string `json:"stage"`
	Error string `json:"error"`
}

func (e *TurnFailedEvent) GetId() string {
	return "conversation.turn_failed"
}

// Turn outcomes.
const (
	OutcomeCompleted = "completed"
	OutcomeFailed    = "failed"
	OutcomeCancelled = "cancelled"
	OutcomeEmpty     = "empty"
)

// TurnEndedEvent closes every turn, whatever its outcome.
type TurnEndedEvent struct {
	Outcome string  `json:"outcome"`
	Seconds float64 `json:"seconds"`
}

func (e *TurnEndedEvent) GetId() string {
	return "conversation.turn_ended"
}

// StageTimingEvent reports how long one pipeline stage took.
type StageTimingEvent struct {
	Stage   string  `json:"stage"`
	Seconds float64 `json:"seconds"`
}

func (e *StageTimingEvent) GetId() string {
	return "conversation.stage_timing"
}

type BargeInEvent struct{}

func (e *BargeInEvent) GetId() string {
	return "conversation.barge_in"
}
