package factories

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"concierge/core"
	"concierge/events/input"
	capturehandler "concierge/handlers/capture"
	"concierge/metrics"
	"concierge/protocol"
	"concierge/server"
	redisstore "concierge/stores/redis"
	"concierge/transports/websocket"
	"concierge/utils/audio"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
	goredis "github.com/redis/go-redis/v9"
)

// App is one running concierge: the agent, its bus subscribers and the HTTP surface.
type App struct {
	ID       string
	Handlers *SessionHandlers
	Bus      *core.Bus
	Graph    *audio.Graph
	Metrics  *metrics.Metrics
	Bridge   *websocket.Bridge
	Echo     *echo.Echo

	addr      string
	logger    *core.Logger
	device    *capturehandler.MalgoDevice
	redis     *goredis.Client
	logWriter *core.SessionLogWriter
}

// NewApp builds every process-wide resource and the agent described by session.
func NewApp(ctx context.Context, env AppConfig, session SessionConfig) (*App, error) {
	id := env.ConversationID
	if id == "" {
		id = uuid.NewString()
	}

	logger := core.GetLogger()
	var logWriter *core.SessionLogWriter
	if env.SessionLogDir != "" {
		w, err := core.NewSessionLogWriter(env.SessionLogDir, id)
		if err != nil {
			return nil, fmt.Errorf("app: session log: %w", err)
		}
		logWriter = w
		logger = core.NewSessionLogger(logger, w)
	}
	logger = logger.With(map[string]any{"conversation_id": id})

	app := &App{
		ID:        id,
		addr:      env.HTTPAddr,
		logger:    logger,
		logWriter: logWriter,
		Bus:       core.NewBus(logger),
		device:    capturehandler.NewMalgoDevice(),
	}
	app.Graph = audio.NewGraph(audio.NewOtoBackend(), session.Audio, logger)

	deps := SessionDeps{
		Device:    app.device,
		Graph:     app.Graph,
		Publisher: app.Bus,
		Logger:    logger,
	}
	if session.Cart.Store == StoreRedis {
		client, err := env.Redis.New()
		if err != nil {
			app.Close()
			return nil, fmt.Errorf("app: redis: %w", err)
		}
		app.redis = client
		deps.CartStore = redisstore.NewCartStore(client, id)
	}

	handlers, err := session.BuildHandlers(ctx, id, deps)
	if err != nil {
		app.Close()
		return nil, fmt.Errorf("app: %w", err)
	}
	app.Handlers = handlers

	app.Metrics = metrics.NewMetrics(env.MetricsPrefix)
	app.Bridge = websocket.NewBridge(handlers.Router, input.Registry(), app.snapshot, logger)
	app.Echo = server.New(server.Deps{
		Conversation: handlers.Agent,
		Cart:         handlers.Cart,
		Metrics:      app.Metrics.Handler(),
		WebSocket:    app.Bridge,
		Logger:       logger,
	})
	return app, nil
}

// snapshot is the hello payload of a newly connected UI client.
func (a *App) snapshot(ctx context.Context) protocol.HelloPayload {
	agent := a.Handlers.Agent
	items, err := a.Handlers.Cart.List(ctx)
	if err != nil {
		a.logger.With(map[string]any{"error": err.Error()}).Warn("cart unavailable for hello")
	}
	entries := agent.Transcript()
	lines := make([]protocol.TranscriptLine, 0, len(entries))
	for _, e := range entries {
		lines = append(lines, protocol.TranscriptLine{Turn: e.Turn, Apology: e.Apology, Sentinel: e.Sentinel})
	}
	return protocol.HelloPayload{
		ConversationID: agent.ID(),
		State:          agent.State(),
		Cart:           items,
		Transcript:     lines,
	}
}

// Run starts the renderer, the bus subscribers and the HTTP server, and
// blocks until ctx is done or the server fails.
func (a *App) Run(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	metricPackets, unsubMetrics := a.Bus.Subscribe(256)
	defer unsubMetrics()
	bridgePackets, unsubBridge := a.Bus.Subscribe(256)
	defer unsubBridge()

	var wg sync.WaitGroup
	wg.Add(3)
	go func() { defer wg.Done(); a.Metrics.Run(ctx, metricPackets) }()
	go func() { defer wg.Done(); a.Bridge.Run(ctx, bridgePackets) }()
	go func() { defer wg.Done(); a.Handlers.Renderer.Run(ctx) }()

	errCh := make(chan error, 1)
	go func() {
		a.logger.Info("http server listening", "addr", a.addr)
		if err := a.Echo.Start(a.addr); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	var runErr error
	select {
	case <-ctx.Done():
	case err, ok := <-errCh:
		if ok {
			runErr = fmt.Errorf("http server: %w", err)
		}
	}

	a.logger.Info("shutting down")
	if err := server.Shutdown(a.Echo, 5*time.Second); err != nil {
		a.logger.With(map[string]any{"error": err.Error()}).Warn("http shutdown")
	}
	cancel()
	wg.Wait()
	return runErr
}

// Close releases the agent and process-wide resources. Safe on a partially built App.
func (a *App) Close() {
	if a.Handlers != nil {
		a.Handlers.Agent.Close()
		a.Handlers.Cart.Wait()
	}
	if a.Bus != nil {
		a.Bus.Close()
	}
	if a.Graph != nil {
		if err := a.Graph.Dispose(); err != nil {
			a.logger.With(map[string]any{"error": err.Error()}).Warn("audio graph dispose")
		}
	}
	if a.device != nil {
		a.device.Close()
	}
	if a.redis != nil {
		a.redis.Close()
	}
	if a.logWriter != nil {
		a.logWriter.Close()
	}
}
