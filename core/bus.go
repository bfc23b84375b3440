package core

import "sync"

// Publisher is the narrow view of the Bus handed to components that only emit.
type Publisher interface {
	Publish(event IEvent, relayer string)
}

// Bus fans events out to every subscriber. Slow subscribers lose packets
// rather than stalling the publisher.
type Bus struct {
	logger *Logger

	mu     sync.RWMutex
	subs   map[int]chan *EventPacket
	nextID int
	closed bool
}

func NewBus(logger *Logger) *Bus {
	if logger == nil {
		logger = GetLogger()
	}
	return &Bus{
		logger: logger.With(map[string]any{"component": "bus"}),
		subs:   make(map[int]chan *EventPacket),
	}
}

// Publish wraps event in an EventPacket and offers it to every subscriber.
func (b *Bus) Publish(event IEvent, relayer string) {
	packet := NewEventPacket(event, relayer)

	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.closed {
		return
	}
	for id, ch := range b.subs {
		select {
		case ch <- packet:
		default:
			b.logger.Debug("subscriber full, dropping packet", "subscriber", id, "event", event.GetId())
		}
	}
}

// Subscribe returns a buffered channel of packets and a function that
// unsubscribes and closes it.
func (b *Bus) Subscribe(buffer int) (<-chan *EventPacket, func()) {
	if buffer <= 0 {
		buffer = 64
	}
	ch := make(chan *EventPacket, buffer)

	b.mu.Lock()
	id := b.nextID
	b.nextID++
	if b.closed {
		b.mu.Unlock()
		close(ch)
		return ch, func() {}
	}
	b.subs[id] = ch
	b.mu.Unlock()

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			b.mu.Lock()
			if c, ok := b.subs[id]; ok {
				delete(b.subs, id)
				close(c)
			}
			b.mu.Unlock()
		})
	}
}

// Close closes every subscriber channel. Later publishes are ignored.
func (b *Bus) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return
	}
	b.closed = true
	for id, ch := range b.subs {
		close(ch)
		delete(b.subs, id)
	}
}

// NopPublisher discards every event.
type NopPublisher struct{}

func (NopPublisher) Publish(IEvent, string) {}
