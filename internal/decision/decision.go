package decision

import (
	"sort"
	"time"

	"github.com/google/uuid"

	"github.com/instabids/messaging-guard/internal/analysis"
	"github.com/instabids/messaging-guard/internal/message"
	"github.com/instabids/messaging-guard/internal/scope"
)

// Decision is the merged verdict for one message. Owned by the pipeline run
// that produced it; persisted once, never mutated.
type Decision struct {
	ID                   uuid.UUID       `json:"id"`
	MessageID            uuid.UUID       `json:"message_id"`
	ConversationID       uuid.UUID       `json:"conversation_id"`
	Action               analysis.Action `json:"action"`
	DeliveredContent     string          `json:"delivered_content"`
	GeneratedQuestion    string          `json:"generated_question,omitempty"`
	UpdateRequestEmitted bool            `json:"update_request_emitted"`
	Superseded           bool            `json:"superseded"`
	Rationale            string          `json:"rationale,omitempty"`
	CreatedAt            time.Time       `json:"created_at"`
}

// Options tunes the decision engine. All values come from configuration.
type Options struct {
	// ScopeConfirmThreshold is the minimum candidate confidence that forces
	// the confirmation flow (and the redact override).
	ScopeConfirmThreshold float64
	// Degraded signals that the threat classifier's language-analysis call
	// failed; the conservative fallback applies.
	Degraded bool
}

// Decide merges the classifier result and scope candidates into one verdict.
// It is pure: side effects (question routing, update-request dispatch) belong
// to the caller. Candidates passed in must already be threshold-qualified.
func Decide(msg message.Message, res analysis.Result, candidates []scope.Candidate, opts Options) Decision {
	dec := Decision{
		ID:             uuid.New(),
		MessageID:      msg.ID,
		ConversationID: msg.ConversationID,
		Action:         res.RecommendedAction,
		Rationale:      res.Rationale,
		CreatedAt:      time.Now().UTC(),
	}

	// A redact-severity threat inside attachment text has no body span to
	// remove; the value would ride through inside the attachment, so the
	// message escalates to block.
	if res.EmbeddedThreat && dec.Action == analysis.ActionRedact {
		dec.Action = analysis.ActionBlock
	}

	// A confidence-qualified scope change holds delivery at redact severity
	// until the homeowner confirms; it never emits an update request here.
	if len(candidates) > 0 {
		dec.Action = analysis.MaxAction(dec.Action, analysis.ActionRedact)
		dec.GeneratedQuestion = ConfirmationQuestion(msg.SenderRole, candidates)
	}

	// Classifier outage: prefer over-redaction to irreversible leakage.
	if opts.Degraded {
		dec.Action = analysis.MaxAction(dec.Action, analysis.ActionRedact)
	}

	dec.DeliveredContent = deliveredContent(msg, res, dec.Action, opts.Degraded)
	return dec
}

// BlockedForAttachment is the verdict when an attachment could not be read:
// block pending manual review, never allow.
func BlockedForAttachment(msg message.Message) Decision {
	return Decision{
		ID:               uuid.New(),
		MessageID:        msg.ID,
		ConversationID:   msg.ConversationID,
		Action:           analysis.ActionBlock,
		DeliveredContent: unreadableAttachmentNotice,
		Rationale:        "attachment could not be extracted; held for manual review",
		CreatedAt:        time.Now().UTC(),
	}
}

func deliveredContent(msg message.Message, res analysis.Result, action analysis.Action, degraded bool) string {
	switch action {
	case analysis.ActionBlock:
		return blockNotice(res.Threats)
	case analysis.ActionRedact:
		if len(res.Spans) == 0 {
			if degraded {
				// No trusted span information; substitute the whole body
				// rather than risk leaking an undetected value.
				return analysisFallbackNotice
			}
			// Scope-driven redact with no threat spans: nothing to remove.
			return msg.RawContent
		}
		return Redact(msg.RawContent, res.Spans)
	default:
		return msg.RawContent
	}
}

// ConfirmationQuestion asks the homeowner to confirm the strongest candidate
// before any bid-record update is dispatched. Contractor-originated signals
// are advisory only; the homeowner owns the project record.
func ConfirmationQuestion(sender message.SenderRole, candidates []scope.Candidate) string {
	if len(candidates) == 0 {
		return ""
	}
	sorted := append([]scope.Candidate(nil), candidates...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].Confidence > sorted[j].Confidence })
	top := sorted[0]

	subject := describeChange(top)
	if sender == message.SenderContractor {
		return "Your contractor proposed a change to your project: " + subject +
			" Reply YES to update your project, or NO to keep it as agreed."
	}
	return "It sounds like you want to change your project: " + subject +
		" Reply YES to confirm this update, or NO to keep it as agreed."
}

func describeChange(c scope.Candidate) string {
	switch {
	case c.OldValueHint != "" && c.NewValueHint != "":
		return c.FieldPath + " from " + c.OldValueHint + " to " + c.NewValueHint + "."
	case c.NewValueHint != "":
		return c.FieldPath + " to " + c.NewValueHint + "."
	default:
		return "an update to " + c.FieldPath + "."
	}
}
