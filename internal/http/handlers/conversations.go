package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/instabids/messaging-guard/internal/decision"
	"github.com/instabids/messaging-guard/internal/message"
	"github.com/instabids/messaging-guard/internal/storage"
	"github.com/instabids/messaging-guard/pkg/logging"
)

type decisionStore interface {
	ListDecisions(ctx context.Context, conversationID uuid.UUID, limit int) ([]decision.Decision, error)
	ArchiveConversation(ctx context.Context, conversationID uuid.UUID) error
}

type contextDropper interface {
	Drop(ctx context.Context, conversationID uuid.UUID) error
}

// ConversationsHandler serves decision history and conversation lifecycle.
type ConversationsHandler struct {
	store     decisionStore
	processor processor
	contexts  contextDropper
	logger    *logging.Logger
}

func NewConversationsHandler(store decisionStore, proc processor, contexts contextDropper, logger *logging.Logger) *ConversationsHandler {
	if logger == nil {
		logger = logging.Default()
	}
	return &ConversationsHandler{store: store, processor: proc, contexts: contexts, logger: logger}
}

// ListDecisions handles GET /v1/conversations/{conversationID}/decisions.
func (h *ConversationsHandler) ListDecisions(w http.ResponseWriter, r *http.Request) {
	conversationID, err := uuid.Parse(chi.URLParam(r, "conversationID"))
	if err != nil {
		http.Error(w, "invalid conversation id", http.StatusBadRequest)
		return
	}

	limit := 50
	if raw := r.URL.Query().Get("limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed <= 0 || parsed > 500 {
			http.Error(w, "invalid limit", http.StatusBadRequest)
			return
		}
		limit = parsed
	}

	decs, err := h.store.ListDecisions(r.Context(), conversationID, limit)
	if err != nil {
		h.logger.Error("failed to list decisions", "error", err, "conversation_id", conversationID)
		http.Error(w, "failed to list decisions", http.StatusInternalServerError)
		return
	}

	out := make([]decisionResponse, 0, len(decs))
	for _, dec := range decs {
		out = append(out, decisionToResponse(dec))
	}
	writeJSON(w, http.StatusOK, map[string]any{"decisions": out})
}

type confirmRequest struct {
	Reply string `json:"reply"`
}

// Confirm handles POST /v1/conversations/{conversationID}/confirm. The reply
// is fed through the normal pipeline as a homeowner message, so a "yes"
// carrying a phone number is still filtered before it settles anything.
func (h *ConversationsHandler) Confirm(w http.ResponseWriter, r *http.Request) {
	conversationID, err := uuid.Parse(chi.URLParam(r, "conversationID"))
	if err != nil {
		http.Error(w, "invalid conversation id", http.StatusBadRequest)
		return
	}

	var req confirmRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid json", http.StatusBadRequest)
		return
	}
	if strings.TrimSpace(req.Reply) == "" {
		http.Error(w, "empty reply", http.StatusBadRequest)
		return
	}

	msg := message.New(conversationID, message.SenderHomeowner, req.Reply, nil)
	dec, err := h.processor.Process(r.Context(), msg, "")
	if err != nil {
		if errors.Is(err, storage.ErrNoPendingConfirmation) {
			http.Error(w, "no pending confirmation", http.StatusConflict)
			return
		}
		h.logger.Error("confirmation processing failed", "error", err, "conversation_id", conversationID)
		http.Error(w, "failed to process confirmation", http.StatusInternalServerError)
		return
	}

	writeJSON(w, http.StatusOK, decisionToResponse(dec))
}

// Archive handles POST /v1/conversations/{conversationID}/archive.
func (h *ConversationsHandler) Archive(w http.ResponseWriter, r *http.Request) {
	conversationID, err := uuid.Parse(chi.URLParam(r, "conversationID"))
	if err != nil {
		http.Error(w, "invalid conversation id", http.StatusBadRequest)
		return
	}

	if err := h.store.ArchiveConversation(r.Context(), conversationID); err != nil {
		h.logger.Error("failed to archive conversation", "error", err, "conversation_id", conversationID)
		http.Error(w, "failed to archive conversation", http.StatusInternalServerError)
		return
	}
	if h.contexts != nil {
		if err := h.contexts.Drop(r.Context(), conversationID); err != nil {
			h.logger.Warn("failed to drop conversation context", "error", err, "conversation_id", conversationID)
		}
	}

	writeJSON(w, http.StatusOK, map[string]string{"status": "archived"})
}

// HealthCheck handles GET /healthz.
func (h *ConversationsHandler) HealthCheck(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}
