package devbackend

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"

	"github.com/xiaot623/gogo/runview/internal/domain"
)

const (
	// MaxMetadataBytes caps the encoded metadata of one message.
	MaxMetadataBytes = 100_000

	defaultMessageLimit = 100
	pingInterval        = 15 * time.Second
)

type Handler struct {
	service      *Service
	pingInterval time.Duration
}

func NewHandler(service *Service) *Handler {
	return &Handler{service: service, pingInterval: pingInterval}
}

// NewServer wires the backend routes behind token auth.
func NewServer(h *Handler, token string) *echo.Echo {
	e := echo.New()
	e.HideBanner = true
	e.Use(middleware.Recover())
	e.Use(middleware.CORS())
	e.Use(authMiddleware(token))

	e.GET("/health", h.Health)

	e.POST("/runs/execute", h.CreateRun)
	e.GET("/runs/:run_id", h.GetRun)
	e.POST("/runs/:run_id/stop", h.StopRun)
	e.DELETE("/runs/:run_id", h.DeleteRun)

	e.POST("/chat/sessions", h.CreateSession)
	e.GET("/chat/sessions", h.ListSessions)
	e.GET("/chat/sessions/:session_id", h.GetSession)
	e.DELETE("/chat/sessions/:session_id", h.DeleteSession)
	e.POST("/chat/sessions/:session_id/messages", h.AddMessage)
	e.GET("/chat/sessions/:session_id/messages", h.GetMessages)

	e.GET("/events", h.Events)
	return e
}

func detail(c echo.Context, status int, msg string) error {
	return c.JSON(status, map[string]string{"detail": msg})
}

func (h *Handler) Health(c echo.Context) error {
	return c.JSON(http.StatusOK, map[string]string{"status": "ok"})
}

// CreateRun starts a simulated run.
// POST /runs/execute
func (h *Handler) CreateRun(c echo.Context) error {
	var req domain.CreateRunRequest
	if err := c.Bind(&req); err != nil || req.Query == "" {
		return detail(c, http.StatusBadRequest, "query is required")
	}
	run, err := h.service.CreateRun(c.Request().Context(), userID(c), req)
	if err != nil {
		return detail(c, http.StatusInternalServerError, err.Error())
	}
	return c.JSON(http.StatusOK, run)
}

// GET /runs/:run_id
func (h *Handler) GetRun(c echo.Context) error {
	run, err := h.service.GetRun(c.Request().Context(), c.Param("run_id"))
	if errors.Is(err, ErrRunNotFound) {
		return detail(c, http.StatusNotFound, "Run not found")
	}
	if err != nil {
		return detail(c, http.StatusInternalServerError, err.Error())
	}
	return c.JSON(http.StatusOK, run)
}

// POST /runs/:run_id/stop
func (h *Handler) StopRun(c echo.Context) error {
	runID := c.Param("run_id")
	err := h.service.StopRun(c.Request().Context(), runID)
	if errors.Is(err, ErrRunNotFound) {
		return detail(c, http.StatusNotFound, "Run not found")
	}
	if err != nil {
		return detail(c, http.StatusInternalServerError, err.Error())
	}
	return c.JSON(http.StatusOK, map[string]string{"id": runID, "status": string(domain.RunStatusCancelled)})
}

// DELETE /runs/:run_id
func (h *Handler) DeleteRun(c echo.Context) error {
	runID := c.Param("run_id")
	err := h.service.DeleteRun(c.Request().Context(), runID)
	if errors.Is(err, ErrRunNotFound) {
		return detail(c, http.StatusNotFound, "Run not found")
	}
	if err != nil {
		return detail(c, http.StatusInternalServerError, err.Error())
	}
	return c.JSON(http.StatusOK, map[string]string{"id": runID, "status": "deleted"})
}

// POST /chat/sessions
func (h *Handler) CreateSession(c echo.Context) error {
	var req domain.CreateSessionRequest
	if err := c.Bind(&req); err != nil {
		return detail(c, http.StatusBadRequest, "invalid request body")
	}
	session, err := h.service.CreateSession(c.Request().Context(), userID(c), req)
	if err != nil {
		return detail(c, http.StatusInternalServerError, err.Error())
	}
	return c.JSON(http.StatusOK, map[string]interface{}{"status": "success", "session": session})
}

// GET /chat/sessions?target_type=&target_id=
func (h *Handler) ListSessions(c echo.Context) error {
	sessions, err := h.service.ListSessions(c.Request().Context(), userID(c), c.QueryParam("target_type"), c.QueryParam("target_id"))
	if err != nil {
		return detail(c, http.StatusInternalServerError, err.Error())
	}
	return c.JSON(http.StatusOK, map[string]interface{}{"status": "success", "sessions": sessions})
}

// GET /chat/sessions/:session_id
func (h *Handler) GetSession(c echo.Context) error {
	session, messages, err := h.service.GetSession(c.Request().Context(), c.Param("session_id"))
	if errors.Is(err, ErrSessionNotFound) {
		return detail(c, http.StatusNotFound, "Session not found")
	}
	if err != nil {
		return detail(c, http.StatusInternalServerError, err.Error())
	}
	return c.JSON(http.StatusOK, map[string]interface{}{
		"status":   "success",
		"session":  session,
		"messages": messages,
	})
}

// DELETE /chat/sessions/:session_id
func (h *Handler) DeleteSession(c echo.Context) error {
	err := h.service.DeleteSession(c.Request().Context(), c.Param("session_id"))
	if errors.Is(err, ErrSessionNotFound) {
		return detail(c, http.StatusNotFound, "Session not found")
	}
	if err != nil {
		return detail(c, http.StatusInternalServerError, err.Error())
	}
	return c.JSON(http.StatusOK, map[string]string{"status": "success"})
}

type addMessageBody struct {
	Role     domain.MessageRole `json:"role"`
	Content  string             `json:"content"`
	Metadata json.RawMessage    `json:"metadata"`
}

// AddMessage appends a message. Oversized metadata is rejected before decode.
// POST /chat/sessions/:session_id/messages
func (h *Handler) AddMessage(c echo.Context) error {
	var body addMessageBody
	if err := c.Bind(&body); err != nil {
		return detail(c, http.StatusBadRequest, "invalid request body")
	}
	if len(body.Metadata) > MaxMetadataBytes {
		return detail(c, http.StatusBadRequest, "Metadata too large (max 100KB)")
	}
	req := domain.AddMessageRequest{Role: body.Role, Content: body.Content}
	if len(body.Metadata) > 0 && string(body.Metadata) != "null" {
		if err := json.Unmarshal(body.Metadata, &req.Metadata); err != nil {
			return detail(c, http.StatusBadRequest, "invalid metadata")
		}
	}

	msg, err := h.service.AddMessage(c.Request().Context(), c.Param("session_id"), req)
	if errors.Is(err, ErrSessionNotFound) {
		return detail(c, http.StatusNotFound, "Session not found")
	}
	if err != nil {
		return detail(c, http.StatusInternalServerError, err.Error())
	}
	return c.JSON(http.StatusOK, map[string]interface{}{"status": "success", "message": msg})
}

// GET /chat/sessions/:session_id/messages?limit=&offset=
func (h *Handler) GetMessages(c echo.Context) error {
	limit := defaultMessageLimit
	if v, err := strconv.Atoi(c.QueryParam("limit")); err == nil && v > 0 {
		limit = v
	}
	offset := 0
	if v, err := strconv.Atoi(c.QueryParam("offset")); err == nil && v > 0 {
		offset = v
	}
	messages, err := h.service.GetMessages(c.Request().Context(), c.Param("session_id"), limit, offset)
	if err != nil {
		return detail(c, http.StatusInternalServerError, err.Error())
	}
	return c.JSON(http.StatusOK, map[string]interface{}{"status": "success", "messages": messages})
}

// Events streams bus events as SSE. Events addressed to another user are
// skipped.
// GET /events
func (h *Handler) Events(c echo.Context) error {
	w := c.Response()
	w.Header().Set(echo.HeaderContentType, "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)

	events, unsubscribe := h.service.Bus().Subscribe()
	defer unsubscribe()

	if _, err := fmt.Fprint(w, ": connected\n\n"); err != nil {
		return nil
	}
	w.Flush()

	me := userID(c)
	ticker := time.NewTicker(h.pingInterval)
	defer ticker.Stop()

	ctx := c.Request().Context()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-h.service.Bus().Done():
			return nil
		case ev := <-events:
			if owner, ok := ev.Data["user_id"].(string); ok && owner != "" && owner != me {
				continue
			}
			if err := sendSSEEvent(w, ev); err != nil {
				return nil
			}
		case <-ticker.C:
			if _, err := fmt.Fprint(w, ": ping\n\n"); err != nil {
				return nil
			}
			w.Flush()
		}
	}
}

// sendSSEEvent writes one event frame and flushes it.
func sendSSEEvent(w *echo.Response, ev domain.StreamPayload) error {
	data, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("failed to marshal event: %w", err)
	}
	if _, err := fmt.Fprintf(w, "event: message\ndata: %s\n\n", data); err != nil {
		return err
	}
	w.Flush()
	return nil
}
