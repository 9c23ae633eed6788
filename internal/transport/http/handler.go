package http

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/xiaot623/campusconnect/internal/conversation"
	"github.com/xiaot623/campusconnect/internal/domain"
	"github.com/xiaot623/campusconnect/internal/repository"
)

// Engine handles one inbound message.
type Engine interface {
	HandleMessage(ctx context.Context, req domain.ChatRequest) domain.ResponseEnvelope
}

// ConnectionStats reports live websocket connections.
type ConnectionStats interface {
	GetConnectionCount() int
	GetSessionCount() int
}

// DefaultContextWindow is the number of messages returned by the context endpoint when
// n is not given.
const DefaultContextWindow = 5

// Handler handles HTTP requests.
type Handler struct {
	engine Engine
	store  *repository.Store
	stats  ConnectionStats
}

// NewHandler creates a new handler. stats may be nil.
func NewHandler(engine Engine, store *repository.Store, stats ConnectionStats) *Handler {
	return &Handler{
		engine: engine,
		store:  store,
		stats:  stats,
	}
}

// RegisterRoutes registers the public routes with the echo server.
func (h *Handler) RegisterRoutes(e *echo.Echo) {
	e.GET("/", h.Health)
	e.GET("/health", h.Health)
	e.GET("/languages", h.ListLanguages)

	e.POST("/chat", h.Chat)

	e.GET("/sessions", h.ListSessions)
	e.POST("/sessions", h.CreateSession)
	e.GET("/sessions/:session_id", h.GetSession)
	e.GET("/sessions/:session_id/context", h.GetContext)
	e.PUT("/sessions/:session_id/context/:key", h.SetContextValue)
}

// Health returns health status.
func (h *Handler) Health(c echo.Context) error {
	resp := map[string]interface{}{
		"status":    "healthy",
		"timestamp": time.Now().UTC(),
	}
	if h.stats != nil {
		resp["connections"] = h.stats.GetConnectionCount()
		resp["connected_sessions"] = h.stats.GetSessionCount()
	}
	return c.JSON(http.StatusOK, resp)
}

// ListLanguages returns the supported language set.
func (h *Handler) ListLanguages(c echo.Context) error {
	return c.JSON(http.StatusOK, map[string]interface{}{
		"languages": domain.SupportedLanguages(),
		"default":   domain.DefaultLanguage,
	})
}

// Chat handles POST /chat.
func (h *Handler) Chat(c echo.Context) error {
	var req domain.ChatRequest
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "invalid request body"})
	}
	if strings.TrimSpace(req.Message) == "" {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "message is required"})
	}
	if req.Language == "" {
		req.Language = domain.LanguageAuto
	}

	ctx := conversation.WithTransport(c.Request().Context(), "http")
	env := h.engine.HandleMessage(ctx, req)
	return c.JSON(http.StatusOK, env)
}

// ListSessions returns summaries of all sessions.
func (h *Handler) ListSessions(c echo.Context) error {
	sessions := h.store.ListSessions(c.Request().Context())
	return c.JSON(http.StatusOK, map[string]interface{}{
		"sessions": sessions,
		"count":    len(sessions),
	})
}

// CreateSessionRequest is the body of POST /sessions.
type CreateSessionRequest struct {
	UserID string `json:"user_id"`
}

// CreateSession creates an empty session.
func (h *Handler) CreateSession(c echo.Context) error {
	var req CreateSessionRequest
	if c.Request().ContentLength != 0 {
		if err := c.Bind(&req); err != nil {
			return c.JSON(http.StatusBadRequest, map[string]string{"error": "invalid request body"})
		}
	}

	id, err := h.store.CreateSession(c.Request().Context(), req.UserID)
	if err != nil && id == "" {
		return c.JSON(http.StatusServiceUnavailable, map[string]string{"error": err.Error()})
	}

	resp := map[string]interface{}{"session_id": id}
	if err != nil {
		resp["warning"] = "session is not persisted"
	}
	return c.JSON(http.StatusCreated, resp)
}

// GetSession returns the full session record.
func (h *Handler) GetSession(c echo.Context) error {
	sess, ok := h.store.GetSession(c.Request().Context(), c.Param("session_id"))
	if !ok {
		return c.JSON(http.StatusNotFound, map[string]string{"error": "session not found"})
	}
	return c.JSON(http.StatusOK, sess)
}

// GetContext returns the last n messages of a session, oldest first. Unknown sessions
// yield an empty list.
func (h *Handler) GetContext(c echo.Context) error {
	n := DefaultContextWindow
	if raw := c.QueryParam("n"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed < 0 {
			return c.JSON(http.StatusBadRequest, map[string]string{"error": "n must be a non-negative integer"})
		}
		n = parsed
	}

	sessionID := c.Param("session_id")
	messages := h.store.GetContext(c.Request().Context(), sessionID, n)
	return c.JSON(http.StatusOK, map[string]interface{}{
		"session_id": sessionID,
		"messages":   messages,
	})
}

// SetContextValueRequest is the body of PUT /sessions/:session_id/context/:key.
type SetContextValueRequest struct {
	Value interface{} `json:"value"`
}

// SetContextValue stores one value in the session's context map.
func (h *Handler) SetContextValue(c echo.Context) error {
	var req SetContextValueRequest
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "invalid request body"})
	}

	err := h.store.SetContextValue(c.Request().Context(), c.Param("session_id"), c.Param("key"), req.Value)
	switch {
	case err == nil, domain.IsStorageError(err):
		return c.NoContent(http.StatusNoContent)
	case errors.Is(err, domain.ErrSessionNotFound):
		return c.JSON(http.StatusNotFound, map[string]string{"error": "session not found"})
	default:
		return c.JSON(http.StatusBadRequest, map[string]string{"error": err.Error()})
	}
}
