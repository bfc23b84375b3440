package websocket

import (
	"context"
	"net/http"
	"sync"
	"time"

	"concierge/core"
	"concierge/protocol"

	"github.com/gorilla/websocket"
)

// Dispatcher applies input events decoded from clients.
type Dispatcher interface {
	Dispatch(ctx context.Context, event core.IExternalInputEvent) error
}

// Bridge connects UI clients to the agent. Bus events are broadcast to every
// client as envelopes typed by event id. Client envelopes are decoded with
// the input registry, dispatched, and acknowledged.
type Bridge struct {
	logger     *core.Logger
	dispatcher Dispatcher
	registry   map[string]func() core.IExternalInputEvent
	snapshot   func(ctx context.Context) protocol.HelloPayload

	upgrader     websocket.Upgrader
	writeTimeout time.Duration

	clientsMu sync.RWMutex
	clients   map[*client]struct{}
}

type client struct {
	conn *websocket.Conn
	mu   sync.Mutex
}

func (c *client) write(data []byte, timeout time.Duration) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if timeout > 0 {
		c.conn.SetWriteDeadline(time.Now().Add(timeout))
	}
	return c.conn.WriteMessage(websocket.TextMessage, data)
}

// NewBridge creates a bridge. snapshot may be nil to skip the hello message.
func NewBridge(
	dispatcher Dispatcher,
	registry map[string]func() core.IExternalInputEvent,
	snapshot func(ctx context.Context) protocol.HelloPayload,
	logger *core.Logger,
) *Bridge {
	if logger == nil {
		logger = core.GetLogger()
	}
	return &Bridge{
		logger:       logger.With(map[string]any{"component": "ws-bridge"}),
		dispatcher:   dispatcher,
		registry:     registry,
		snapshot:     snapshot,
		writeTimeout: 5 * time.Second,
		clients:      make(map[*client]struct{}),
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool { return true },
		},
	}
}

// Clients returns the number of connected clients.
func (b *Bridge) Clients() int {
	b.clientsMu.RLock()
	defer b.clientsMu.RUnlock()
	return len(b.clients)
}

// Run broadcasts bus packets until ctx is done or the channel closes.
func (b *Bridge) Run(ctx context.Context, packets <-chan *core.EventPacket) {
	for {
		select {
		case <-ctx.Done():
			b.closeAll()
			return
		case p, ok := <-packets:
			if !ok {
				b.closeAll()
				return
			}
			b.Broadcast(p.Event)
		}
	}
}

// Broadcast serialises event and sends it to all connected clients.
func (b *Bridge) Broadcast(event core.IEvent) {
	data, err := protocol.MarshalEvent(event)
	if err != nil {
		b.logger.With(map[string]any{"error": err}).Warn("marshal output event", "event", event.GetId())
		return
	}

	b.clientsMu.RLock()
	clients := make([]*client, 0, len(b.clients))
	for c := range b.clients {
		clients = append(clients, c)
	}
	b.clientsMu.RUnlock()

	for _, c := range clients {
		if err := c.write(data, b.writeTimeout); err != nil {
			b.logger.Debug("write to client failed", "remote", c.conn.RemoteAddr().String(), "error", err.Error())
		}
	}
}

// ServeHTTP upgrades the request and serves the client until it disconnects.
func (b *Bridge) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := b.upgrader.Upgrade(w, r, nil)
	if err != nil {
		b.logger.With(map[string]any{"error": err}).Warn("websocket upgrade failed")
		return
	}
	c := &client{conn: conn}
	defer conn.Close()

	b.clientsMu.Lock()
	b.clients[c] = struct{}{}
	b.clientsMu.Unlock()
	defer func() {
		b.clientsMu.Lock()
		delete(b.clients, c)
		b.clientsMu.Unlock()
	}()

	ctx := r.Context()
	b.logger.Info("client connected", "remote", conn.RemoteAddr().String())

	if b.snapshot != nil {
		if data, err := protocol.Marshal(protocol.MsgHello, b.snapshot(ctx)); err == nil {
			c.write(data, b.writeTimeout)
		}
	}

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			b.logger.Debug("client disconnected", "remote", conn.RemoteAddr().String())
			return
		}
		b.handle(ctx, c, data)
	}
}

func (b *Bridge) handle(ctx context.Context, c *client, data []byte) {
	ack := protocol.AckPayload{OK: true}
	ev, err := protocol.DecodeInput(data, b.registry)
	if err != nil {
		if msgType, _, uerr := protocol.Unmarshal(data); uerr == nil {
			ack.AckedType = msgType
		}
		ack.OK, ack.Error = false, err.Error()
		b.logger.With(map[string]any{"error": err}).Warn("bad input message")
	} else {
		ack.AckedType = protocol.MessageType(ev.GetId())
		// detached so a closing socket does not cancel the turn it started
		if err := b.dispatcher.Dispatch(context.WithoutCancel(ctx), ev); err != nil {
			ack.OK, ack.Error = false, err.Error()
			b.logger.Debug("input rejected", "event", ev.GetId(), "error", err.Error())
		}
	}
	if out, err := protocol.Marshal(protocol.MsgAck, ack); err == nil {
		c.write(out, b.writeTimeout)
	}
}

func (b *Bridge) closeAll() {
	b.clientsMu.Lock()
	defer b.clientsMu.Unlock()
	for c := range b.clients {
		c.mu.Lock()
		c.conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseGoingAway, "shutting down"),
			time.Now().Add(time.Second))
		c.mu.Unlock()
		c.conn.Close()
	}
}
