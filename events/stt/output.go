package stt

// STTFinalOutputEvent carries the transcript of one captured utterance.
// NothingUnderstood is set when the transcript came back empty.
type STTFinalOutputEvent struct {
	Text              string `json:"text"`
	NothingUnderstood bool   `json:"nothing_understood,omitempty"`
}

func (e *STTFinalOutputEvent) GetId() string {
	return "stt.final_output"
}

// STTNothingHeardEvent is published when capture produced no audio at all.
type STTNothingHeardEvent struct {
	Sentinel string `json:"sentinel"`
}

func (e *STTNothingHeardEvent) GetId() string {
	return "stt.nothing_heard"
}
