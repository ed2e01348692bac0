package handler

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/capitalize-ai/model-middleware/internal/llm"
	"github.com/capitalize-ai/model-middleware/internal/middleware"
	"github.com/capitalize-ai/model-middleware/internal/model"
	"github.com/capitalize-ai/model-middleware/internal/pipeline"
	"github.com/capitalize-ai/model-middleware/internal/service"
	"github.com/capitalize-ai/model-middleware/pkg/logger"
)

// ChatHandler handles the session endpoints.
type ChatHandler struct {
	sessions *service.SessionService
	logger   *logger.Logger
}

// NewChatHandler creates a new chat handler.
func NewChatHandler(sessions *service.SessionService, log *logger.Logger) *ChatHandler {
	return &ChatHandler{
		sessions: sessions,
		logger:   log,
	}
}

// Chat handles POST /api/v1/chat
func (h *ChatHandler) Chat(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var req model.ChatRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	conv := model.Conversation(req.Messages)
	if err := middleware.ValidateConversation(conv); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	resp, err := h.sessions.Chat(ctx, middleware.GetUserID(ctx), middleware.GetExpertise(ctx), conv)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, resp)
}

// AuthorizeTool handles POST /api/v1/tools/{name}/authorize
func (h *ChatHandler) AuthorizeTool(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	tool := chi.URLParam(r, "name")

	if err := middleware.ValidateToolName(tool); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	var req model.ToolAuthorizeRequest
	if r.ContentLength != 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid request body")
			return
		}
	}

	resp, err := h.sessions.AuthorizeTool(ctx, middleware.GetUserID(ctx), middleware.GetExpertise(ctx), tool, req.Arguments)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}

	status := http.StatusOK
	if !resp.Allowed {
		status = http.StatusForbidden
	}
	writeJSON(w, status, resp)
}

// Stats handles GET /api/v1/stats
func (h *ChatHandler) Stats(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	stats, err := h.sessions.Stats(ctx, middleware.GetUserID(ctx))
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, stats)
}

// Events handles GET /api/v1/events
func (h *ChatHandler) Events(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	afterSequence := uint64(0)
	limit := 50

	if seq := r.URL.Query().Get("after_sequence"); seq != "" {
		if parsed, err := strconv.ParseUint(seq, 10, 64); err == nil {
			afterSequence = parsed
		}
	}

	if l := r.URL.Query().Get("limit"); l != "" {
		if parsed, err := strconv.Atoi(l); err == nil && parsed > 0 && parsed <= 100 {
			limit = parsed
		}
	}

	resp, err := h.sessions.Events(ctx, middleware.GetUserID(ctx), afterSequence, limit)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, resp)
}

// Reset handles DELETE /api/v1/session
func (h *ChatHandler) Reset(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	if err := h.sessions.Reset(ctx, middleware.GetUserID(ctx)); err != nil {
		h.writeServiceError(w, r, err)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

func (h *ChatHandler) writeServiceError(w http.ResponseWriter, r *http.Request, err error) {
	var modelErr *llm.ModelError

	switch {
	case errors.Is(err, service.ErrInvalidConversation):
		writeError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, service.ErrSessionNotFound), errors.Is(err, service.ErrEventsDisabled):
		writeError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, pipeline.ErrRequestLimitExceeded):
		writeError(w, http.StatusTooManyRequests, err.Error())
	case errors.Is(err, pipeline.ErrBudgetExceeded):
		writeError(w, http.StatusPaymentRequired, err.Error())
	case errors.Is(err, pipeline.ErrAccessDenied):
		writeError(w, http.StatusForbidden, err.Error())
	case errors.As(err, &modelErr):
		h.logger.Error("model call failed",
			zap.String("provider", modelErr.Provider),
			zap.String("correlation_id", middleware.GetCorrelationID(r.Context())),
			zap.Error(err),
		)
		writeError(w, http.StatusBadGateway, "model provider error")
	default:
		h.logger.Error("request failed",
			zap.String("path", r.URL.Path),
			zap.String("correlation_id", middleware.GetCorrelationID(r.Context())),
			zap.Error(err),
		)
		writeError(w, http.StatusInternalServerError, "internal error")
	}
}
