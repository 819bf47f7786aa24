package pipeline

import (
	"context"
	"fmt"

	"github.com/instabids/messaging-guard/internal/message"
	"github.com/instabids/messaging-guard/pkg/logging"
)

// Publisher enqueues inbound messages for asynchronous pipeline processing.
type Publisher struct {
	queue  queueClient
	logger *logging.Logger
}

func NewPublisher(queue queueClient, logger *logging.Logger) *Publisher {
	if queue == nil {
		panic("pipeline: queue cannot be nil")
	}
	if logger == nil {
		logger = logging.Default()
	}
	return &Publisher{
		queue:  queue,
		logger: logger,
	}
}

// EnqueueMessage publishes a filter-pipeline job for one inbound message.
func (p *Publisher) EnqueueMessage(ctx context.Context, msg message.Message, bidID string) error {
	if ctx == nil {
		ctx = context.Background()
	}

	payload, body, err := encodePayload(queuePayload{
		Kind:    jobTypeMessage,
		BidID:   bidID,
		Message: msg,
	})
	if err != nil {
		return err
	}

	if err := p.queue.Send(ctx, body); err != nil {
		return fmt.Errorf("pipeline: failed to enqueue job: %w", err)
	}

	p.logger.Debug("pipeline job enqueued", "job_id", payload.ID, "message_id", msg.ID, "conversation_id", msg.ConversationID)
	return nil
}
