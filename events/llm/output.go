package llm

import "concierge/core"

type LLMRequestStartedEvent struct {
	Message      string `json:"message"`
	HistoryTurns int    `json:"history_turns"`
}

func (e *LLMRequestStartedEvent) GetId() string {
	return "llm.request_started"
}

// LLMReplyEvent carries the full structured reply of a successful turn.
type LLMReplyEvent struct {
	Reply core.StructuredReply `json:"reply"`
}

func (e *LLMReplyEvent) GetId() string {
	return "llm.reply"
}

// LLMReferenceNoteEvent is published when an index-reference note is added
// to the history.
type LLMReferenceNoteEvent struct {
	Note string `json:"note"`
}

func (e *LLMReferenceNoteEvent) GetId() string {
	return "llm.reference_note"
}
