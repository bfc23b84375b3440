package protocol

import (
	"encoding/json"
	"fmt"

	"concierge/core"

	"github.com/bytedance/sonic"
)

// Marshal creates a JSON-encoded Envelope from a message type and payload.
func Marshal(msgType MessageType, payload interface{}) ([]byte, error) {
	var raw json.RawMessage
	if payload != nil {
		b, err := sonic.Marshal(payload)
		if err != nil {
			return nil, fmt.Errorf("protocol: marshal payload for %q: %w", msgType, err)
		}
		raw = b
	}
	return sonic.Marshal(Envelope{
		Type:    msgType,
		Payload: raw,
	})
}

// MarshalEvent wraps a bus event using its id as the message type.
func MarshalEvent(event core.IEvent) ([]byte, error) {
	return Marshal(MessageType(event.GetId()), event)
}

// Unmarshal parses a JSON-encoded Envelope, returning the message type and raw payload.
func Unmarshal(data []byte) (MessageType, json.RawMessage, error) {
	var env Envelope
	if err := sonic.Unmarshal(data, &env); err != nil {
		return "", nil, fmt.Errorf("protocol: unmarshal envelope: %w", err)
	}
	if env.Type == "" {
		return "", nil, fmt.Errorf("protocol: envelope missing type field")
	}
	return env.Type, env.Payload, nil
}

// UnmarshalPayload decodes a raw JSON payload into a typed struct.
func UnmarshalPayload[T any](raw json.RawMessage) (T, error) {
	var v T
	if err := sonic.Unmarshal(raw, &v); err != nil {
		return v, fmt.Errorf("protocol: unmarshal payload: %w", err)
	}
	return v, nil
}

// DecodeInput builds the input event registered for the envelope's type.
// An absent payload leaves the event at its zero value.
func DecodeInput(data []byte, registry map[string]func() core.IExternalInputEvent) (core.IExternalInputEvent, error) {
	msgType, raw, err := Unmarshal(data)
	if err != nil {
		return nil, err
	}
	factory, ok := registry[string(msgType)]
	if !ok {
		return nil, fmt.Errorf("protocol: unknown input type %q", msgType)
	}
	ev := factory()
	if len(raw) > 0 && string(raw) != "null" {
		if err := sonic.Unmarshal(raw, ev); err != nil {
			return nil, fmt.Errorf("protocol: unmarshal payload for %q: %w", msgType, err)
		}
	}
	return ev, nil
}
