package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/instabids/messaging-guard/internal/analysis"
	"github.com/instabids/messaging-guard/internal/decision"
	"github.com/instabids/messaging-guard/internal/message"
	"github.com/instabids/messaging-guard/internal/scope"
)

var (
	// ErrConversationArchived rejects writes against an archived conversation.
	ErrConversationArchived = errors.New("storage: conversation archived")

	// ErrNoPendingConfirmation signals a confirmation reply with nothing to confirm.
	ErrNoPendingConfirmation = errors.New("storage: no pending confirmation")
)

type Querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

type PgxPool interface {
	Begin(ctx context.Context) (pgx.Tx, error)
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// Store persists pipeline state in Postgres.
type Store struct {
	pool PgxPool
}

func NewStore(pool PgxPool) *Store {
	if pool == nil {
		return nil
	}
	return &Store{pool: pool}
}

func (s *Store) Begin(ctx context.Context) (pgx.Tx, error) {
	return s.pool.Begin(ctx)
}

// Conversation is the persisted conversation row.
type Conversation struct {
	ID        uuid.UUID
	BidID     string
	Archived  bool
	CreatedAt time.Time
}

// EnsureConversation creates the conversation row if missing and returns it.
func (s *Store) EnsureConversation(ctx context.Context, conversationID uuid.UUID, bidID string) (Conversation, error) {
	query := `
		INSERT INTO conversations (id, bid_id)
		VALUES ($1, $2)
		ON CONFLICT (id) DO UPDATE SET bid_id = COALESCE(NULLIF(EXCLUDED.bid_id, ''), conversations.bid_id)
		RETURNING id, bid_id, archived, created_at
	`
	var conv Conversation
	if err := s.pool.QueryRow(ctx, query, conversationID, bidID).
		Scan(&conv.ID, &conv.BidID, &conv.Archived, &conv.CreatedAt); err != nil {
		return Conversation{}, fmt.Errorf("storage: ensure conversation: %w", err)
	}
	return conv, nil
}

func (s *Store) GetConversation(ctx context.Context, conversationID uuid.UUID) (Conversation, error) {
	query := `
		SELECT id, bid_id, archived, created_at
		FROM conversations
		WHERE id = $1
	`
	var conv Conversation
	if err := s.pool.QueryRow(ctx, query, conversationID).
		Scan(&conv.ID, &conv.BidID, &conv.Archived, &conv.CreatedAt); err != nil {
		return Conversation{}, fmt.Errorf("storage: get conversation: %w", err)
	}
	return conv, nil
}

// ArchiveConversation marks the conversation archived and supersedes its
// decisions so later reads show the history as no longer authoritative.
func (s *Store) ArchiveConversation(ctx context.Context, conversationID uuid.UUID) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("storage: begin archive: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	if _, err := tx.Exec(ctx, `UPDATE conversations SET archived = TRUE WHERE id = $1`, conversationID); err != nil {
		return fmt.Errorf("storage: archive conversation: %w", err)
	}
	if _, err := tx.Exec(ctx, `UPDATE decisions SET superseded = TRUE WHERE conversation_id = $1`, conversationID); err != nil {
		return fmt.Errorf("storage: supersede decisions: %w", err)
	}
	if _, err := tx.Exec(ctx, `
		UPDATE pending_confirmations SET status = 'expired'
		WHERE conversation_id = $1 AND status = 'pending'
	`, conversationID); err != nil {
		return fmt.Errorf("storage: expire confirmations: %w", err)
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("storage: commit archive: %w", err)
	}
	return nil
}

// SaveRun records one pipeline run atomically: the inbound message, its
// analysis result, every scope candidate (including sub-threshold ones),
// and the decision. Partial runs never become visible. A nil q runs in its
// own transaction; passing a tx lets the caller fold the run into a larger
// atomic write, such as resolving a confirmation.
func (s *Store) SaveRun(ctx context.Context, q Querier, msg message.Message, res analysis.Result, candidates []scope.Candidate, dec decision.Decision) error {
	if q == nil {
		tx, err := s.pool.Begin(ctx)
		if err != nil {
			return fmt.Errorf("storage: begin save run: %w", err)
		}
		defer func() { _ = tx.Rollback(ctx) }()
		if err := s.saveRun(ctx, tx, msg, res, candidates, dec); err != nil {
			return err
		}
		if err := tx.Commit(ctx); err != nil {
			return fmt.Errorf("storage: commit save run: %w", err)
		}
		return nil
	}
	return s.saveRun(ctx, q, msg, res, candidates, dec)
}

func (s *Store) saveRun(ctx context.Context, tx Querier, msg message.Message, res analysis.Result, candidates []scope.Candidate, dec decision.Decision) error {
	attachments, err := json.Marshal(attachmentRefs(msg.Attachments))
	if err != nil {
		return fmt.Errorf("storage: marshal attachments: %w", err)
	}
	if _, err := tx.Exec(ctx, `
		INSERT INTO messages (id, conversation_id, sender_role, raw_content, attachments, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)
	`, msg.ID, msg.ConversationID, string(msg.SenderRole), msg.RawContent, attachments, msg.CreatedAt); err != nil {
		return fmt.Errorf("storage: insert message: %w", err)
	}

	threats, err := json.Marshal(res.Threats)
	if err != nil {
		return fmt.Errorf("storage: marshal threats: %w", err)
	}
	spans, err := json.Marshal(res.Spans)
	if err != nil {
		return fmt.Errorf("storage: marshal spans: %w", err)
	}
	if _, err := tx.Exec(ctx, `
		INSERT INTO analysis_results (message_id, threats, confidence, recommended_action, rationale, spans)
		VALUES ($1, $2, $3, $4, $5, $6)
	`, msg.ID, threats, res.Confidence, string(res.RecommendedAction), res.Rationale, spans); err != nil {
		return fmt.Errorf("storage: insert analysis result: %w", err)
	}

	for _, cand := range candidates {
		if _, err := tx.Exec(ctx, `
			INSERT INTO scope_candidates (id, message_id, change_kind, field_path, old_value_hint, new_value_hint, confidence)
			VALUES ($1, $2, $3, $4, $5, $6, $7)
		`, uuid.New(), msg.ID, string(cand.ChangeKind), cand.FieldPath, cand.OldValueHint, cand.NewValueHint, cand.Confidence); err != nil {
			return fmt.Errorf("storage: insert scope candidate: %w", err)
		}
	}

	if _, err := tx.Exec(ctx, `
		INSERT INTO decisions (id, message_id, conversation_id, action, delivered_content, generated_question,
			update_request_emitted, superseded, rationale, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
	`, dec.ID, dec.MessageID, dec.ConversationID, string(dec.Action), dec.DeliveredContent, dec.GeneratedQuestion,
		dec.UpdateRequestEmitted, dec.Superseded, dec.Rationale, dec.CreatedAt); err != nil {
		return fmt.Errorf("storage: insert decision: %w", err)
	}
	return nil
}

// ListDecisions returns the decision history for a conversation, newest first.
func (s *Store) ListDecisions(ctx context.Context, conversationID uuid.UUID, limit int) ([]decision.Decision, error) {
	if limit <= 0 {
		limit = 50
	}
	query := `
		SELECT id, message_id, conversation_id, action, delivered_content, generated_question,
			update_request_emitted, superseded, rationale, created_at
		FROM decisions
		WHERE conversation_id = $1
		ORDER BY created_at DESC
		LIMIT $2
	`
	rows, err := s.pool.Query(ctx, query, conversationID, limit)
	if err != nil {
		return nil, fmt.Errorf("storage: list decisions: %w", err)
	}
	defer rows.Close()

	var out []decision.Decision
	for rows.Next() {
		var dec decision.Decision
		var action string
		if err := rows.Scan(&dec.ID, &dec.MessageID, &dec.ConversationID, &action, &dec.DeliveredContent,
			&dec.GeneratedQuestion, &dec.UpdateRequestEmitted, &dec.Superseded, &dec.Rationale, &dec.CreatedAt); err != nil {
			return nil, fmt.Errorf("storage: scan decision: %w", err)
		}
		dec.Action = analysis.Action(action)
		out = append(out, dec)
	}
	return out, rows.Err()
}

// MarkUpdateEmitted flips the decision flag once the queued update request
// has actually been written to the outbox.
func (s *Store) MarkUpdateEmitted(ctx context.Context, q Querier, decisionID uuid.UUID) error {
	if q == nil {
		q = s.pool
	}
	if _, err := q.Exec(ctx, `UPDATE decisions SET update_request_emitted = TRUE WHERE id = $1`, decisionID); err != nil {
		return fmt.Errorf("storage: mark update emitted: %w", err)
	}
	return nil
}

// PendingConfirmation is a scope change awaiting the homeowner's yes/no.
type PendingConfirmation struct {
	ID             uuid.UUID
	ConversationID uuid.UUID
	DecisionID     uuid.UUID
	BidID          string
	ChangeKind     string
	FieldPath      string
	OldValueHint   string
	NewValueHint   string
	Status         string
	CreatedAt      time.Time
}

// CreatePendingConfirmation supersedes any earlier pending confirmation on
// the same field before opening the new one, so a homeowner answering YES
// always confirms the most recent proposal.
func (s *Store) CreatePendingConfirmation(ctx context.Context, q Querier, pc PendingConfirmation) (uuid.UUID, error) {
	if q == nil {
		q = s.pool
	}
	if pc.ID == uuid.Nil {
		pc.ID = uuid.New()
	}
	if _, err := q.Exec(ctx, `
		UPDATE pending_confirmations SET status = 'superseded'
		WHERE conversation_id = $1 AND field_path = $2 AND status = 'pending'
	`, pc.ConversationID, pc.FieldPath); err != nil {
		return uuid.Nil, fmt.Errorf("storage: supersede pending confirmation: %w", err)
	}
	if _, err := q.Exec(ctx, `
		INSERT INTO pending_confirmations (id, conversation_id, decision_id, bid_id, change_kind, field_path,
			old_value_hint, new_value_hint, status)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, 'pending')
	`, pc.ID, pc.ConversationID, pc.DecisionID, pc.BidID, pc.ChangeKind, pc.FieldPath,
		pc.OldValueHint, pc.NewValueHint); err != nil {
		return uuid.Nil, fmt.Errorf("storage: insert pending confirmation: %w", err)
	}
	return pc.ID, nil
}

// LatestPendingConfirmation returns the newest open confirmation for the
// conversation, or ErrNoPendingConfirmation.
func (s *Store) LatestPendingConfirmation(ctx context.Context, conversationID uuid.UUID) (PendingConfirmation, error) {
	query := `
		SELECT id, conversation_id, decision_id, bid_id, change_kind, field_path,
			old_value_hint, new_value_hint, status, created_at
		FROM pending_confirmations
		WHERE conversation_id = $1 AND status = 'pending'
		ORDER BY created_at DESC
		LIMIT 1
	`
	var pc PendingConfirmation
	err := s.pool.QueryRow(ctx, query, conversationID).Scan(&pc.ID, &pc.ConversationID, &pc.DecisionID,
		&pc.BidID, &pc.ChangeKind, &pc.FieldPath, &pc.OldValueHint, &pc.NewValueHint, &pc.Status, &pc.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return PendingConfirmation{}, ErrNoPendingConfirmation
		}
		return PendingConfirmation{}, fmt.Errorf("storage: latest pending confirmation: %w", err)
	}
	return pc, nil
}

// ResolveConfirmation moves a pending confirmation to confirmed or declined.
func (s *Store) ResolveConfirmation(ctx context.Context, q Querier, id uuid.UUID, status string) error {
	if q == nil {
		q = s.pool
	}
	ct, err := q.Exec(ctx, `
		UPDATE pending_confirmations SET status = $2, resolved_at = now()
		WHERE id = $1 AND status = 'pending'
	`, id, status)
	if err != nil {
		return fmt.Errorf("storage: resolve confirmation: %w", err)
	}
	if ct.RowsAffected() == 0 {
		return ErrNoPendingConfirmation
	}
	return nil
}

func attachmentRefs(attachments []message.Attachment) []map[string]string {
	refs := make([]map[string]string, 0, len(attachments))
	for _, att := range attachments {
		refs = append(refs, map[string]string{
			"kind": string(att.Kind),
			"ref":  att.Ref,
		})
	}
	return refs
}
