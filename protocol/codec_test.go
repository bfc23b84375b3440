package protocol

import (
	"strings"
	"testing"

	"concierge/core"
	"concierge/events/conversation"
	"concierge/events/input"
)

func TestMarshalEvent_UsesEventID(t *testing.T) {
	data, err := MarshalEvent(&conversation.StateChangedEvent{From: core.StateIdle, To: core.StateListening})
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	msgType, raw, err := Unmarshal(data)
	if err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if msgType != "conversation.state_changed" {
		t.Fatalf("unexpected type %q", msgType)
	}
	ev, err := UnmarshalPayload[conversation.StateChangedEvent](raw)
	if err != nil || ev.To != core.StateListening {
		t.Fatalf("payload: %+v %v", ev, err)
	}
}

func TestDecodeInput(t *testing.T) {
	registry := input.Registry()

	ev, err := DecodeInput([]byte(`{"type":"input.text_query","payload":{"text":"villas in jumeirah"}}`), registry)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	q, ok := ev.(*input.TextQueryEvent)
	if !ok || q.Text != "villas in jumeirah" {
		t.Fatalf("unexpected event %#v", ev)
	}

	ev, err = DecodeInput([]byte(`{"type":"input.cancel"}`), registry)
	if err != nil {
		t.Fatalf("decode without payload: %v", err)
	}
	if _, ok := ev.(*input.CancelEvent); !ok {
		t.Fatalf("unexpected event %#v", ev)
	}
}

func TestDecodeInput_Errors(t *testing.T) {
	registry := input.Registry()
	cases := map[string]string{
		"not json":     `{"type":`,
		"missing type": `{"payload":{}}`,
		"unknown type": `{"type":"input.dance"}`,
		"bad payload":  `{"type":"input.text_query","payload":{"text":42}}`,
	}
	for name, data := range cases {
		if _, err := DecodeInput([]byte(data), registry); err == nil || !strings.HasPrefix(err.Error(), "protocol:") {
			t.Errorf("%s: expected protocol error, got %v", name, err)
		}
	}
}
