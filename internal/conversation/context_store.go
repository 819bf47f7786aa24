package conversation

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"

	"github.com/instabids/messaging-guard/internal/message"
)

const contextKeyPrefix = "conv_context:"

// contextTTL bounds how long a quiet conversation keeps its hot context.
const contextTTL = 30 * 24 * time.Hour

// ContextEntry is one prior turn kept in the hot context window. Only the
// delivered (already filtered) form of prior messages is stored here, plus
// the raw digits probe source for multi-turn evasion detection.
type ContextEntry struct {
	ID         string             `json:"id"`
	Role       message.SenderRole `json:"role"`
	RawContent string             `json:"raw_content"`
	Timestamp  time.Time          `json:"timestamp"`
}

// ContextStore keeps the per-conversation recent-message window in Redis.
type ContextStore struct {
	redis       *redis.Client
	tracer      trace.Tracer
	maxMessages int64
}

func NewContextStore(redisClient *redis.Client) *ContextStore {
	if redisClient == nil {
		return nil
	}
	return &ContextStore{
		redis:       redisClient,
		tracer:      otel.Tracer("instabids.internal.conversation.context"),
		maxMessages: 100,
	}
}

// Append records a processed message at the end of the conversation window.
// Called by the persistence gateway under the per-conversation lock.
func (s *ContextStore) Append(ctx context.Context, conversationID uuid.UUID, entry ContextEntry) error {
	if s == nil || s.redis == nil {
		return nil
	}
	if ctx == nil {
		ctx = context.Background()
	}
	if conversationID == uuid.Nil {
		return errors.New("conversation: context conversationID required")
	}

	if entry.ID == "" {
		entry.ID = uuid.NewString()
	}
	if entry.Timestamp.IsZero() {
		entry.Timestamp = time.Now().UTC()
	}

	data, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("conversation: marshal context entry: %w", err)
	}

	ctx, span := s.tracer.Start(ctx, "conversation.context.append")
	defer span.End()

	key := contextKey(conversationID)
	pipe := s.redis.TxPipeline()
	pipe.RPush(ctx, key, data)
	pipe.Expire(ctx, key, contextTTL)
	if s.maxMessages > 0 {
		pipe.LTrim(ctx, key, -s.maxMessages, -1)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		span.RecordError(err)
		return fmt.Errorf("conversation: append context entry: %w", err)
	}
	return nil
}

// Recent returns up to n most recent turns, oldest first.
func (s *ContextStore) Recent(ctx context.Context, conversationID uuid.UUID, n int) ([]ContextEntry, error) {
	if s == nil || s.redis == nil {
		return nil, nil
	}
	if ctx == nil {
		ctx = context.Background()
	}
	if conversationID == uuid.Nil {
		return nil, errors.New("conversation: context conversationID required")
	}

	ctx, span := s.tracer.Start(ctx, "conversation.context.recent")
	defer span.End()

	start := int64(0)
	if n > 0 {
		start = -int64(n)
	}

	key := contextKey(conversationID)
	raw, err := s.redis.LRange(ctx, key, start, -1).Result()
	if err != nil {
		span.RecordError(err)
		if err == redis.Nil {
			return []ContextEntry{}, nil
		}
		return nil, fmt.Errorf("conversation: list context: %w", err)
	}

	out := make([]ContextEntry, 0, len(raw))
	for _, item := range raw {
		var entry ContextEntry
		if err := json.Unmarshal([]byte(item), &entry); err != nil {
			span.RecordError(err)
			continue
		}
		out = append(out, entry)
	}
	return out, nil
}

// Drop removes the hot window, used when a conversation is archived.
func (s *ContextStore) Drop(ctx context.Context, conversationID uuid.UUID) error {
	if s == nil || s.redis == nil {
		return nil
	}
	if ctx == nil {
		ctx = context.Background()
	}
	if err := s.redis.Del(ctx, contextKey(conversationID)).Err(); err != nil {
		return fmt.Errorf("conversation: drop context: %w", err)
	}
	return nil
}

func contextKey(conversationID uuid.UUID) string {
	return contextKeyPrefix + conversationID.String()
}
