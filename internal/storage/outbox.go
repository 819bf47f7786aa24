package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/instabids/messaging-guard/internal/observability/metrics"
	"github.com/instabids/messaging-guard/pkg/logging"
)

// ErrNotificationFailed marks a delivery attempt that should be retried.
var ErrNotificationFailed = errors.New("storage: notification failed")

// UpdateRequest is the payload dispatched to the bid record service once a
// homeowner confirms a scope change.
type UpdateRequest struct {
	BidID          string `json:"bid_id"`
	ConversationID string `json:"conversation_id"`
	ChangeKind     string `json:"change_kind"`
	FieldPath      string `json:"field_path"`
	OldValueHint   string `json:"old_value_hint"`
	NewValueHint   string `json:"new_value_hint"`
	Source         string `json:"source"`
}

// OutboxEntry is a pending update request.
type OutboxEntry struct {
	ID        uuid.UUID
	Payload   json.RawMessage
	Attempts  int32
	CreatedAt time.Time
}

// UpdateHandler delivers a confirmed update request downstream. Returning an
// error wrapped in ErrNotificationFailed requeues the entry with backoff; any
// other error rejects the entry permanently.
type UpdateHandler interface {
	Handle(ctx context.Context, entry OutboxEntry) error
}

// UpdateOutbox persists confirmed update requests for reliable delivery.
// Rows are written in the same transaction as the confirmation decision.
type UpdateOutbox struct {
	pool PgxPool
}

func NewUpdateOutbox(pool PgxPool) *UpdateOutbox {
	if pool == nil {
		return nil
	}
	return &UpdateOutbox{pool: pool}
}

func (o *UpdateOutbox) Insert(ctx context.Context, q Querier, req UpdateRequest) (uuid.UUID, error) {
	if q == nil {
		q = o.pool
	}
	data, err := json.Marshal(req)
	if err != nil {
		return uuid.Nil, fmt.Errorf("storage: marshal update request: %w", err)
	}
	id := uuid.New()
	query := `
		INSERT INTO update_outbox (id, payload)
		VALUES ($1, $2)
	`
	if _, err := q.Exec(ctx, query, id, data); err != nil {
		return uuid.Nil, fmt.Errorf("storage: insert update outbox: %w", err)
	}
	return id, nil
}

func (o *UpdateOutbox) FetchDue(ctx context.Context, limit int32) ([]OutboxEntry, error) {
	query := `
		SELECT id, payload, attempts, created_at
		FROM update_outbox
		WHERE status = 'pending' AND next_attempt_at <= now()
		ORDER BY created_at
		LIMIT $1
	`
	rows, err := o.pool.Query(ctx, query, limit)
	if err != nil {
		return nil, fmt.Errorf("storage: fetch due updates: %w", err)
	}
	defer rows.Close()

	var entries []OutboxEntry
	for rows.Next() {
		var entry OutboxEntry
		var payload []byte
		if err := rows.Scan(&entry.ID, &payload, &entry.Attempts, &entry.CreatedAt); err != nil {
			return nil, fmt.Errorf("storage: scan update outbox: %w", err)
		}
		entry.Payload = append([]byte(nil), payload...)
		entries = append(entries, entry)
	}
	return entries, rows.Err()
}

func (o *UpdateOutbox) MarkDelivered(ctx context.Context, id uuid.UUID) (bool, error) {
	query := `
		UPDATE update_outbox
		SET status = 'delivered', delivered_at = now()
		WHERE id = $1 AND status = 'pending'
	`
	ct, err := o.pool.Exec(ctx, query, id)
	if err != nil {
		return false, fmt.Errorf("storage: mark update delivered: %w", err)
	}
	return ct.RowsAffected() == 1, nil
}

// Requeue schedules another attempt after the given delay, or moves the
// entry to 'failed' once maxAttempts is exhausted.
func (o *UpdateOutbox) Requeue(ctx context.Context, id uuid.UUID, delay time.Duration, maxAttempts int32, lastError string) error {
	query := `
		UPDATE update_outbox
		SET attempts = attempts + 1,
			next_attempt_at = now() + $2,
			last_error = $3,
			status = CASE WHEN attempts + 1 >= $4 THEN 'failed' ELSE 'pending' END
		WHERE id = $1 AND status = 'pending'
	`
	if _, err := o.pool.Exec(ctx, query, id, delay, lastError, maxAttempts); err != nil {
		return fmt.Errorf("storage: requeue update: %w", err)
	}
	return nil
}

func (o *UpdateOutbox) MarkRejected(ctx context.Context, id uuid.UUID, lastError string) error {
	query := `
		UPDATE update_outbox
		SET status = 'rejected', last_error = $2
		WHERE id = $1 AND status = 'pending'
	`
	if _, err := o.pool.Exec(ctx, query, id, lastError); err != nil {
		return fmt.Errorf("storage: mark update rejected: %w", err)
	}
	return nil
}

// Deliverer polls the update outbox and pushes due entries through the
// handler with exponential backoff on transient failures.
type Deliverer struct {
	outbox      *UpdateOutbox
	handler     UpdateHandler
	logger      *logging.Logger
	metrics     *metrics.PipelineMetrics
	batchSize   int32
	interval    time.Duration
	maxAttempts int32
	backoffBase time.Duration
}

func NewDeliverer(outbox *UpdateOutbox, handler UpdateHandler, logger *logging.Logger) *Deliverer {
	if logger == nil {
		logger = logging.Default()
	}
	return &Deliverer{
		outbox:      outbox,
		handler:     handler,
		logger:      logger,
		batchSize:   25,
		interval:    2 * time.Second,
		maxAttempts: 8,
		backoffBase: 30 * time.Second,
	}
}

func (d *Deliverer) WithBatchSize(size int32) *Deliverer {
	if size > 0 {
		d.batchSize = size
	}
	return d
}

func (d *Deliverer) WithInterval(interval time.Duration) *Deliverer {
	if interval > 0 {
		d.interval = interval
	}
	return d
}

func (d *Deliverer) WithRetryPolicy(maxAttempts int32, backoffBase time.Duration) *Deliverer {
	if maxAttempts > 0 {
		d.maxAttempts = maxAttempts
	}
	if backoffBase > 0 {
		d.backoffBase = backoffBase
	}
	return d
}

func (d *Deliverer) WithMetrics(m *metrics.PipelineMetrics) *Deliverer {
	d.metrics = m
	return d
}

func (d *Deliverer) Start(ctx context.Context) {
	if d.outbox == nil || d.handler == nil {
		return
	}
	ticker := time.NewTicker(d.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			d.drain(ctx)
		}
	}
}

func (d *Deliverer) drain(ctx context.Context) {
	entries, err := d.outbox.FetchDue(ctx, d.batchSize)
	if err != nil {
		d.logger.Error("update outbox fetch failed", "error", err)
		return
	}
	for _, entry := range entries {
		err := d.handler.Handle(ctx, entry)
		switch {
		case err == nil:
			if ok, err := d.outbox.MarkDelivered(ctx, entry.ID); err != nil {
				d.logger.Error("failed to mark update delivered", "error", err, "update_id", entry.ID)
			} else if ok {
				d.metrics.ObserveOutboxDelivery("delivered")
				d.logger.Debug("update request delivered", "update_id", entry.ID)
			}
		case errors.Is(err, ErrNotificationFailed):
			delay := d.backoffFor(entry.Attempts)
			d.metrics.ObserveOutboxDelivery("retried")
			d.logger.Warn("update delivery failed, requeueing",
				"error", err, "update_id", entry.ID, "attempts", entry.Attempts, "delay", delay)
			if err := d.outbox.Requeue(ctx, entry.ID, delay, d.maxAttempts, err.Error()); err != nil {
				d.logger.Error("failed to requeue update", "error", err, "update_id", entry.ID)
			}
		default:
			d.metrics.ObserveOutboxDelivery("rejected")
			d.logger.Error("update rejected by bid record service", "error", err, "update_id", entry.ID)
			if err := d.outbox.MarkRejected(ctx, entry.ID, err.Error()); err != nil {
				d.logger.Error("failed to mark update rejected", "error", err, "update_id", entry.ID)
			}
		}
	}
}

func (d *Deliverer) backoffFor(attempts int32) time.Duration {
	delay := d.backoffBase
	for i := int32(0); i < attempts && delay < time.Hour; i++ {
		delay *= 2
	}
	if delay > time.Hour {
		delay = time.Hour
	}
	return delay
}
