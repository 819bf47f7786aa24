package handlers

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/google/uuid"

	"github.com/instabids/messaging-guard/internal/decision"
	"github.com/instabids/messaging-guard/internal/message"
	"github.com/instabids/messaging-guard/pkg/logging"
)

var (
	errInvalidAttachmentKind = errors.New("invalid attachment kind")
	errInvalidAttachmentData = errors.New("invalid attachment data")
)

// processor runs one inbound message through the filter pipeline.
type processor interface {
	Process(ctx context.Context, msg message.Message, bidID string) (decision.Decision, error)
}

// publisher queues a message for asynchronous processing.
type publisher interface {
	EnqueueMessage(ctx context.Context, msg message.Message, bidID string) error
}

// MessagesHandler accepts inbound messages and returns the filter verdict.
type MessagesHandler struct {
	processor processor
	publisher publisher
	logger    *logging.Logger
}

func NewMessagesHandler(proc processor, pub publisher, logger *logging.Logger) *MessagesHandler {
	if logger == nil {
		logger = logging.Default()
	}
	return &MessagesHandler{processor: proc, publisher: pub, logger: logger}
}

type processMessageRequest struct {
	ConversationID string              `json:"conversation_id"`
	BidID          string              `json:"bid_id,omitempty"`
	SenderRole     string              `json:"sender_role"`
	Content        string              `json:"content"`
	Attachments    []attachmentRequest `json:"attachments,omitempty"`
	Async          bool                `json:"async,omitempty"`
}

type attachmentRequest struct {
	Kind string `json:"kind"`
	Ref  string `json:"ref,omitempty"`
	Data string `json:"data,omitempty"`
}

type decisionResponse struct {
	ID                   uuid.UUID `json:"id"`
	MessageID            uuid.UUID `json:"message_id"`
	ConversationID       uuid.UUID `json:"conversation_id"`
	Action               string    `json:"action"`
	DeliveredContent     string    `json:"delivered_content"`
	GeneratedQuestion    string    `json:"generated_question,omitempty"`
	UpdateRequestEmitted bool      `json:"update_request_emitted"`
	Superseded           bool      `json:"superseded"`
	Rationale            string    `json:"rationale,omitempty"`
}

func decisionToResponse(dec decision.Decision) decisionResponse {
	return decisionResponse{
		ID:                   dec.ID,
		MessageID:            dec.MessageID,
		ConversationID:       dec.ConversationID,
		Action:               string(dec.Action),
		DeliveredContent:     dec.DeliveredContent,
		GeneratedQuestion:    dec.GeneratedQuestion,
		UpdateRequestEmitted: dec.UpdateRequestEmitted,
		Superseded:           dec.Superseded,
		Rationale:            dec.Rationale,
	}
}

// ProcessMessage handles POST /v1/messages. Synchronous by default: the
// caller gets the decision in the response. With "async": true the message
// is queued and 202 returned.
func (h *MessagesHandler) ProcessMessage(w http.ResponseWriter, r *http.Request) {
	var req processMessageRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid json", http.StatusBadRequest)
		return
	}

	conversationID, err := uuid.Parse(strings.TrimSpace(req.ConversationID))
	if err != nil {
		http.Error(w, "invalid conversation_id", http.StatusBadRequest)
		return
	}
	role, ok := message.ParseSenderRole(req.SenderRole)
	if !ok {
		http.Error(w, "invalid sender_role", http.StatusBadRequest)
		return
	}
	if strings.TrimSpace(req.Content) == "" && len(req.Attachments) == 0 {
		http.Error(w, "empty message", http.StatusBadRequest)
		return
	}

	attachments, err := parseAttachments(req.Attachments)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	msg := message.New(conversationID, role, req.Content, attachments)

	if req.Async {
		if h.publisher == nil {
			http.Error(w, "async processing unavailable", http.StatusServiceUnavailable)
			return
		}
		if err := h.publisher.EnqueueMessage(r.Context(), msg, req.BidID); err != nil {
			h.logger.Error("failed to enqueue message", "error", err, "message_id", msg.ID)
			http.Error(w, "failed to enqueue message", http.StatusInternalServerError)
			return
		}
		writeJSON(w, http.StatusAccepted, map[string]any{
			"message_id": msg.ID,
			"status":     "queued",
		})
		return
	}

	dec, err := h.processor.Process(r.Context(), msg, req.BidID)
	if err != nil {
		h.logger.Error("pipeline run failed", "error", err, "message_id", msg.ID)
		http.Error(w, "failed to process message", http.StatusInternalServerError)
		return
	}

	writeJSON(w, http.StatusOK, decisionToResponse(dec))
}

func parseAttachments(reqs []attachmentRequest) ([]message.Attachment, error) {
	if len(reqs) == 0 {
		return nil, nil
	}
	out := make([]message.Attachment, 0, len(reqs))
	for _, a := range reqs {
		kind := message.AttachmentKind(strings.ToLower(strings.TrimSpace(a.Kind)))
		if kind != message.AttachmentImage && kind != message.AttachmentPDF {
			return nil, errInvalidAttachmentKind
		}
		att := message.Attachment{Kind: kind, Ref: a.Ref}
		if a.Data != "" {
			data, err := base64.StdEncoding.DecodeString(a.Data)
			if err != nil {
				return nil, errInvalidAttachmentData
			}
			att.Data = data
		}
		out = append(out, att)
	}
	return out, nil
}
