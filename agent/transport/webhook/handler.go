package webhook

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"
	"github.com/tanpawarit/voice-order-agent/agent/agents/orchestrator"
	statex "github.com/tanpawarit/voice-order-agent/agent/state"
)

// CallService is the orchestrator surface the webhook needs.
type CallService interface {
	Handle(ctx context.Context, ev orchestrator.Event) (orchestrator.Result, error)
	Session(ctx context.Context, callID string) (*statex.CallSession, bool, error)
	ActiveCalls() int
}

var _ CallService = (*orchestrator.Orchestrator)(nil)

// Handler exposes call events over HTTP.
type Handler struct {
	calls  CallService
	logger zerolog.Logger
}

func NewHandler(calls CallService, logger zerolog.Logger) *Handler {
	return &Handler{calls: calls, logger: logger}
}

// RegisterRoutes registers routes with the echo server.
func (h *Handler) RegisterRoutes(e *echo.Echo) {
	e.POST("/api/calls/events", h.PostEvent)
	e.POST("/api/calls/twilio", h.PostTwilio)
	e.GET("/api/calls/:call_id", h.GetCall)
	e.GET("/health", h.Health)
}

type eventRequest struct {
	EventType       string `json:"eventType"`
	CallID          string `json:"callId"`
	CustomerPhone   string `json:"customerPhone"`
	TranscribedText string `json:"transcribedText"`
}

type errorResponse struct {
	Error string `json:"error"`
}

// PostEvent accepts the generic JSON call-event envelope.
func (h *Handler) PostEvent(c echo.Context) error {
	var req eventRequest
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, errorResponse{Error: "invalid request body"})
	}

	ev := orchestrator.Event{
		Type:          orchestrator.EventType(strings.TrimSpace(req.EventType)),
		CallID:        strings.TrimSpace(req.CallID),
		CustomerPhone: strings.TrimSpace(req.CustomerPhone),
		Transcript:    req.TranscribedText,
	}
	if msg := validateEvent(ev); msg != "" {
		return c.JSON(http.StatusBadRequest, errorResponse{Error: msg})
	}

	res, err := h.calls.Handle(c.Request().Context(), ev)
	if err != nil {
		return h.handleError(c, ev, err)
	}
	return c.JSON(http.StatusOK, res)
}

func validateEvent(ev orchestrator.Event) string {
	if ev.CallID == "" {
		return "callId is required"
	}
	switch ev.Type {
	case orchestrator.EventConnected, orchestrator.EventSpeechRecognized:
		if ev.CustomerPhone == "" {
			return "customerPhone is required"
		}
	case orchestrator.EventDisconnected:
	default:
		return "unsupported eventType"
	}
	return ""
}

func (h *Handler) handleError(c echo.Context, ev orchestrator.Event, err error) error {
	if errors.Is(err, orchestrator.ErrInvalidCall) || errors.Is(err, orchestrator.ErrUnknownEvent) {
		return c.JSON(http.StatusBadRequest, errorResponse{Error: err.Error()})
	}
	h.logger.Error().Err(err).Str("call_id", ev.CallID).Str("event", string(ev.Type)).Msg("call event failed")
	return c.JSON(http.StatusInternalServerError, errorResponse{Error: "internal error"})
}

// GetCall returns a copy of a live call's session.
func (h *Handler) GetCall(c echo.Context) error {
	sess, ok, err := h.calls.Session(c.Request().Context(), c.Param("call_id"))
	if err != nil {
		return c.JSON(http.StatusBadRequest, errorResponse{Error: err.Error()})
	}
	if !ok {
		return c.JSON(http.StatusNotFound, errorResponse{Error: "call not found"})
	}
	return c.JSON(http.StatusOK, sess)
}

// Health returns health status.
func (h *Handler) Health(c echo.Context) error {
	return c.JSON(http.StatusOK, map[string]any{
		"status":      "healthy",
		"activeCalls": h.calls.ActiveCalls(),
	})
}
