package core

type IEvent interface {
	GetId() string // Returns the unique identifier of the event.
}

// IExternalOutputEvent is implemented by events that are broadcast to UI
// clients over the websocket bridge.
type IExternalOutputEvent interface {
	IEvent
}

// IExternalInputEvent is implemented by events that originate in the UI.
// The bridge decodes them and hands them to the registered dispatcher.
type IExternalInputEvent interface {
	IEvent
}
