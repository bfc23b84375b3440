package input

import "concierge/core"

// Events sent by the UI over the websocket bridge.

type StartCaptureEvent struct{}

func (e *StartCaptureEvent) GetId() string { return "input.start_capture" }

type StopCaptureEvent struct{}

func (e *StopCaptureEvent) GetId() string { return "input.stop_capture" }

type CancelEvent struct{}

func (e *CancelEvent) GetId() string { return "input.cancel" }

type BargeInEvent struct{}

func (e *BargeInEvent) GetId() string { return "input.barge_in" }

type TextQueryEvent struct {
	Text string `json:"text"`
}

func (e *TextQueryEvent) GetId() string { return "input.text_query" }

type CartAddEvent struct {
	Item core.CartItem `json:"item"`
}

func (e *CartAddEvent) GetId() string { return "input.cart_add" }

type CartRemoveEvent struct {
	Type string `json:"type"`
	ID   string `json:"id"`
}

func (e *CartRemoveEvent) GetId() string { return "input.cart_remove" }

type CartClearEvent struct{}

func (e *CartClearEvent) GetId() string { return "input.cart_clear" }

// Registry lists a zero-value factory for every input event id.
func Registry() map[string]func() core.IExternalInputEvent {
	return map[string]func() core.IExternalInputEvent{
		(&StartCaptureEvent{}).GetId(): func() core.IExternalInputEvent { return &StartCaptureEvent{} },
		(&StopCaptureEvent{}).GetId():  func() core.IExternalInputEvent { return &StopCaptureEvent{} },
		(&CancelEvent{}).GetId():       func() core.IExternalInputEvent { return &CancelEvent{} },
		(&BargeInEvent{}).GetId():      func() core.IExternalInputEvent { return &BargeInEvent{} },
		(&TextQueryEvent{}).GetId():    func() core.IExternalInputEvent { return &TextQueryEvent{} },
		(&CartAddEvent{}).GetId():      func() core.IExternalInputEvent { return &CartAddEvent{} },
		(&CartRemoveEvent{}).GetId():   func() core.IExternalInputEvent { return &CartRemoveEvent{} },
		(&CartClearEvent{}).GetId():    func() core.IExternalInputEvent { return &CartClearEvent{} },
	}
}
