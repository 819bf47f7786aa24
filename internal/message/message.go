package message

import (
	"strings"
	"time"

	"github.com/google/uuid"
)

// SenderRole identifies which party of a conversation authored a message.
type SenderRole string

const (
	SenderHomeowner  SenderRole = "homeowner"
	SenderContractor SenderRole = "contractor"
)

// Valid reports whether the role is one of the known parties.
func (r SenderRole) Valid() bool {
	return r == SenderHomeowner || r == SenderContractor
}

// ParseSenderRole normalizes a wire value into a SenderRole.
func ParseSenderRole(s string) (SenderRole, bool) {
	role := SenderRole(strings.ToLower(strings.TrimSpace(s)))
	return role, role.Valid()
}

// AttachmentKind distinguishes the supported attachment types.
type AttachmentKind string

const (
	AttachmentImage AttachmentKind = "image"
	AttachmentPDF   AttachmentKind = "pdf"
)

// Attachment is an image or PDF accompanying a message. Data carries inline
// bytes when the caller already holds them; Ref is an object key resolved
// through the attachment fetcher otherwise.
type Attachment struct {
	Kind AttachmentKind `json:"kind"`
	Ref  string         `json:"ref,omitempty"`
	Data []byte         `json:"data,omitempty"`
}

// Message is one inbound unit of communication. RawContent is immutable once
// set; redacted forms are derived downstream, never written back.
type Message struct {
	ID             uuid.UUID    `json:"id"`
	ConversationID uuid.UUID    `json:"conversation_id"`
	SenderRole     SenderRole   `json:"sender_role"`
	RawContent     string       `json:"raw_content"`
	Attachments    []Attachment `json:"attachments,omitempty"`
	CreatedAt      time.Time    `json:"created_at"`
}

// New assigns identity and timestamps to an inbound message.
func New(conversationID uuid.UUID, role SenderRole, content string, attachments []Attachment) Message {
	return Message{
		ID:             uuid.New(),
		ConversationID: conversationID,
		SenderRole:     role,
		RawContent:     content,
		Attachments:    attachments,
		CreatedAt:      time.Now().UTC(),
	}
}
