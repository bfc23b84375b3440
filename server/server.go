package server

import (
	"context"
	"errors"
	"net/http"
	"time"

	"concierge/core"
	"concierge/handlers/conversation"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
)

// Conversation is the agent surface exposed over HTTP.
type Conversation interface {
	ID() string
	State() core.ConversationState
	History() []core.Turn
	Transcript() []conversation.TranscriptEntry
	StartCapture(ctx context.Context) error
	StopCapture() error
	SubmitText(ctx context.Context, text string) error
	Cancel()
	BargeIn(ctx context.Context) error
}

type Cart interface {
	AddItem(ctx context.Context, item core.CartItem) (bool, error)
	Remove(ctx context.Context, itemType, id string) error
	Clear(ctx context.Context) error
	List(ctx context.Context) ([]core.CartItem, error)
}

// Deps are the collaborators behind the routes. Metrics and WebSocket may be
// nil to leave those routes out.
type Deps struct {
	Conversation Conversation
	Cart         Cart
	Metrics      http.Handler
	WebSocket    http.Handler
	Logger       *core.Logger
}

type queryRequest struct {
	Text string `json:"text"`
}

type stateResponse struct {
	ConversationID string                         `json:"conversation_id"`
	State          core.ConversationState         `json:"state"`
	History        []core.Turn                    `json:"history"`
	Transcript     []conversation.TranscriptEntry `json:"transcript"`
}

type cartAddResponse struct {
	Added bool            `json:"added"`
	Items []core.CartItem `json:"items"`
}

// New creates a configured Echo server instance.
func New(deps Deps) *echo.Echo {
	logger := deps.Logger
	if logger == nil {
		logger = core.GetLogger()
	}
	logger = logger.With(map[string]any{"component": "http"})

	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.JSONSerializer = sonicSerializer{}
	e.Use(middleware.Recover())
	e.Use(middleware.RequestLoggerWithConfig(middleware.RequestLoggerConfig{
		LogMethod:  true,
		LogURI:     true,
		LogStatus:  true,
		LogLatency: true,
		LogError:   true,
		Skipper: func(c echo.Context) bool {
			p := c.Path()
			return p == "/healthz" || p == "/metrics" || p == "/ws"
		},
		LogValuesFunc: func(c echo.Context, v middleware.RequestLoggerValues) error {
			l := logger
			if v.Error != nil {
				l = logger.With(map[string]any{"error": v.Error})
			}
			l.Info("request", "method", v.Method, "uri", v.URI, "status", v.Status, "latency_ms", v.Latency.Milliseconds())
			return nil
		},
	}))

	h := &handler{conv: deps.Conversation, cart: deps.Cart}

	e.GET("/healthz", func(c echo.Context) error {
		return c.String(http.StatusOK, "ok")
	})
	if deps.Metrics != nil {
		e.GET("/metrics", echo.WrapHandler(deps.Metrics))
	}
	if deps.WebSocket != nil {
		e.GET("/ws", echo.WrapHandler(deps.WebSocket))
	}

	api := e.Group("/api")
	api.GET("/state", h.state)
	api.POST("/capture/start", h.startCapture)
	api.POST("/capture/stop", h.stopCapture)
	api.POST("/cancel", h.cancel)
	api.POST("/bargein", h.bargeIn)
	api.POST("/query", h.query)

	if deps.Cart != nil {
		api.GET("/cart", h.listCart)
		api.POST("/cart", h.addCart)
		api.DELETE("/cart", h.clearCart)
		api.DELETE("/cart/:type/:id", h.removeCart)
	}
	return e
}

// Shutdown stops e, waiting at most timeout for in-flight requests.
func Shutdown(e *echo.Echo, timeout time.Duration) error {
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	return e.Shutdown(ctx)
}

type handler struct {
	conv Conversation
	cart Cart
}

func (h *handler) state(c echo.Context) error {
	return c.JSON(http.StatusOK, h.snapshot())
}

func (h *handler) snapshot() stateResponse {
	return stateResponse{
		ConversationID: h.conv.ID(),
		State:          h.conv.State(),
		History:        h.conv.History(),
		Transcript:     h.conv.Transcript(),
	}
}

func (h *handler) startCapture(c echo.Context) error {
	if err := h.conv.StartCapture(c.Request().Context()); err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusAccepted, h.snapshot())
}

func (h *handler) stopCapture(c echo.Context) error {
	if err := h.conv.StopCapture(); err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusAccepted, h.snapshot())
}

func (h *handler) cancel(c echo.Context) error {
	h.conv.Cancel()
	return c.JSON(http.StatusOK, h.snapshot())
}

func (h *handler) bargeIn(c echo.Context) error {
	if err := h.conv.BargeIn(c.Request().Context()); err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusAccepted, h.snapshot())
}

func (h *handler) query(c echo.Context) error {
	var req queryRequest
	if err := c.Bind(&req); err != nil {
		return err
	}
	if err := h.conv.SubmitText(c.Request().Context(), req.Text); err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusAccepted, h.snapshot())
}

func (h *handler) listCart(c echo.Context) error {
	items, err := h.cart.List(c.Request().Context())
	if err != nil {
		return httpError(err)
	}
	if items == nil {
		items = []core.CartItem{}
	}
	return c.JSON(http.StatusOK, items)
}

func (h *handler) addCart(c echo.Context) error {
	var item core.CartItem
	if err := c.Bind(&item); err != nil {
		return err
	}
	if item.ID == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "item id is required")
	}
	ctx := c.Request().Context()
	added, err := h.cart.AddItem(ctx, item)
	if err != nil {
		return httpError(err)
	}
	items, err := h.cart.List(ctx)
	if err != nil {
		return httpError(err)
	}
	status := http.StatusOK
	if added {
		status = http.StatusCreated
	}
	return c.JSON(status, cartAddResponse{Added: added, Items: items})
}

func (h *handler) removeCart(c echo.Context) error {
	if err := h.cart.Remove(c.Request().Context(), c.Param("type"), c.Param("id")); err != nil {
		return httpError(err)
	}
	return c.NoContent(http.StatusNoContent)
}

func (h *handler) clearCart(c echo.Context) error {
	if err := h.cart.Clear(c.Request().Context()); err != nil {
		return httpError(err)
	}
	return c.NoContent(http.StatusNoContent)
}

func httpError(err error) error {
	switch {
	case errors.Is(err, core.ErrNotIdle), errors.Is(err, conversation.ErrNotListening):
		return echo.NewHTTPError(http.StatusConflict, err.Error()).SetInternal(err)
	case errors.Is(err, conversation.ErrEmptyQuery):
		return echo.NewHTTPError(http.StatusBadRequest, err.Error()).SetInternal(err)
	case errors.Is(err, core.ErrPermissionDenied):
		return echo.NewHTTPError(http.StatusForbidden, err.Error()).SetInternal(err)
	case errors.Is(err, core.ErrDeviceUnavailable):
		return echo.NewHTTPError(http.StatusServiceUnavailable, err.Error()).SetInternal(err)
	default:
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error()).SetInternal(err)
	}
}
