package admin

import (
	"context"
	"errors"
	"net/http"

	"github.com/goccy/go-json"
	"github.com/krobus00/market-stream/internal/constant"
	"github.com/krobus00/market-stream/internal/entity"
	"github.com/krobus00/market-stream/internal/service/auth"
	"github.com/krobus00/market-stream/internal/service/broadcast"
	"github.com/krobus00/market-stream/internal/service/orderevent"
	"github.com/sirupsen/logrus"
)

const maxBodyBytes = 1 << 20

type Verifier interface {
	Verify(rawToken string) (entity.Claims, error)
}

type BroadcastController interface {
	Execute(ctx context.Context, op entity.BroadcastOperation) (broadcast.Result, error)
	Status() entity.BroadcastStatus
}

type SessionLister interface {
	MaxSessions() int
	Snapshot() []entity.Session
}

type OrderEventPublisher interface {
	PublishEvent(ctx context.Context, event entity.OrderEvent) error
}

type BroadcastResponse struct {
	Success   bool                      `json:"success"`
	Message   string                    `json:"message"`
	State     entity.BroadcastState     `json:"state,omitempty"`
	Operation entity.BroadcastOperation `json:"operation,omitempty"`
}

type SessionsResponse struct {
	ActiveSessions int              `json:"active_sessions"`
	MaxSessions    int              `json:"max_sessions"`
	Sessions       []entity.Session `json:"sessions"`
}

type Handler struct {
	verifier   Verifier
	controller BroadcastController
	sessions   SessionLister
	events     OrderEventPublisher
}

func NewAdminHTTPHandler(verifier Verifier, controller BroadcastController, sessions SessionLister, events OrderEventPublisher) *Handler {
	return &Handler{
		verifier:   verifier,
		controller: controller,
		sessions:   sessions,
		events:     events,
	}
}

func (h *Handler) Register(mux *http.ServeMux) {
	mux.Handle("POST /admin/v1/broadcast/{operation}", h.requireAdmin(h.ExecuteBroadcast))
	mux.Handle("GET /admin/v1/broadcast/status", h.requireAdmin(h.BroadcastStatus))
	mux.Handle("GET /admin/v1/sessions", h.requireAdmin(h.ListSessions))
	mux.Handle("POST /admin/v1/order-events", h.requireAdmin(h.PushOrderEvent))
}

func (h *Handler) ExecuteBroadcast(w http.ResponseWriter, r *http.Request) {
	op, ok := entity.ParseBroadcastOperation(r.PathValue("operation"))
	if !ok {
		writeJSON(w, http.StatusBadRequest, BroadcastResponse{
			Success: false,
			Message: "unknown operation: " + r.PathValue("operation"),
		})
		return
	}

	result, err := h.controller.Execute(r.Context(), op)

	var transitionErr *broadcast.TransitionError
	switch {
	case errors.As(err, &transitionErr):
		writeJSON(w, http.StatusConflict, BroadcastResponse{
			Success:   false,
			Message:   err.Error(),
			State:     transitionErr.State,
			Operation: transitionErr.Operation,
		})
	case err != nil:
		writeJSON(w, http.StatusInternalServerError, BroadcastResponse{
			Success:   false,
			Message:   err.Error(),
			State:     result.State,
			Operation: op,
		})
	default:
		writeJSON(w, http.StatusOK, BroadcastResponse{
			Success: true,
			Message: result.Message,
			State:   result.State,
		})
	}
}

func (h *Handler) BroadcastStatus(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, h.controller.Status())
}

func (h *Handler) ListSessions(w http.ResponseWriter, _ *http.Request) {
	sessions := h.sessions.Snapshot()
	writeJSON(w, http.StatusOK, SessionsResponse{
		ActiveSessions: len(sessions),
		MaxSessions:    h.sessions.MaxSessions(),
		Sessions:       sessions,
	})
}

func (h *Handler) PushOrderEvent(w http.ResponseWriter, r *http.Request) {
	defer r.Body.Close()

	var event entity.OrderEvent
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes)).Decode(&event); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]any{"error": "invalid json body"})
		return
	}

	err := h.events.PublishEvent(r.Context(), event)
	switch {
	case errors.Is(err, orderevent.ErrInvalidEventKind):
		writeJSON(w, http.StatusBadRequest, map[string]any{"error": err.Error()})
	case err != nil:
		logrus.WithError(err).Error("failed to publish order event")
		writeJSON(w, http.StatusBadGateway, map[string]any{"error": "failed to publish order event"})
	default:
		writeJSON(w, http.StatusAccepted, map[string]any{"status": "accepted"})
	}
}

// requireAdmin verifies the bearer token only; admin calls are not admitted
// into the session registry.
func (h *Handler) requireAdmin(next http.HandlerFunc) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		claims, err := h.verifier.Verify(auth.ExtractBearerToken(r))
		if err != nil {
			writeJSON(w, http.StatusUnauthorized, map[string]any{"error": "unauthorized"})
			return
		}
		if !claims.HasPermission(constant.PermissionAdmin) {
			writeJSON(w, http.StatusForbidden, map[string]any{"error": "admin permission required"})
			return
		}

		logrus.WithFields(logrus.Fields{
			"user_id": claims.UserID,
			"path":    r.URL.Path,
		}).Info("admin request")

		next(w, r)
	})
}

func writeJSON(w http.ResponseWriter, statusCode int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	_ = json.NewEncoder(w).Encode(payload)
}
