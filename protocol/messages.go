package protocol

import (
	"encoding/json"

	"concierge/core"
)

// MessageType is an event id for bus events, or one of the control types
// below.
type MessageType string

const (
	// Agent -> UI
	MsgHello MessageType = "hello"
	MsgAck   MessageType = "ack"
)

// Envelope is the outer JSON wrapper for all WebSocket messages.
type Envelope struct {
	Type    MessageType     `json:"type"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// TranscriptLine is one displayed line of the conversation.
type TranscriptLine struct {
	Turn     core.Turn `json:"turn"`
	Apology  bool      `json:"apology,omitempty"`
	Sentinel bool      `json:"sentinel,omitempty"`
}

// HelloPayload is sent once to every client after it connects so the UI can
// render without waiting for the next event.
type HelloPayload struct {
	ConversationID string                 `json:"conversation_id"`
	State          core.ConversationState `json:"state"`
	Cart           []core.CartItem        `json:"cart"`
	Transcript     []TranscriptLine       `json:"transcript"`
}

// AckPayload answers every input message.
type AckPayload struct {
	AckedType MessageType `json:"acked_type"`
	OK        bool        `json:"ok"`
	Error     string      `json:"error,omitempty"`
}
