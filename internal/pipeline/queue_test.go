package pipeline

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/google/uuid"

	"github.com/instabids/messaging-guard/internal/message"
	"github.com/instabids/messaging-guard/pkg/logging"
)

func TestMemoryQueue_SendReceiveDelete(t *testing.T) {
	q := NewMemoryQueue(4)
	ctx := context.Background()

	if err := q.Send(ctx, "one"); err != nil {
		t.Fatalf("Send: %v", err)
	}
	if err := q.Send(ctx, "two"); err != nil {
		t.Fatalf("Send: %v", err)
	}

	msgs, err := q.Receive(ctx, 10, 0)
	if err != nil {
		t.Fatalf("Receive: %v", err)
	}
	if len(msgs) != 2 {
		t.Fatalf("expected 2 messages, got %d", len(msgs))
	}
	if msgs[0].Body != "one" || msgs[1].Body != "two" {
		t.Fatalf("wrong order: %q, %q", msgs[0].Body, msgs[1].Body)
	}
	if err := q.Delete(ctx, msgs[0].ReceiptHandle); err != nil {
		t.Fatalf("Delete: %v", err)
	}
}

func TestMemoryQueue_ReceiveTimesOut(t *testing.T) {
	q := NewMemoryQueue(1)
	msgs, err := q.Receive(context.Background(), 1, 1)
	if err != nil {
		t.Fatalf("Receive: %v", err)
	}
	if msgs != nil {
		t.Fatalf("expected timeout with no messages, got %d", len(msgs))
	}
}

func TestPublisher_EnqueueRoundTrip(t *testing.T) {
	q := NewMemoryQueue(1)
	pub := NewPublisher(q, logging.Default())

	msg := message.New(uuid.New(), message.SenderContractor, "starting demo tomorrow", nil)
	if err := pub.EnqueueMessage(context.Background(), msg, "bid-42"); err != nil {
		t.Fatalf("EnqueueMessage: %v", err)
	}

	got, err := q.Receive(context.Background(), 1, 0)
	if err != nil {
		t.Fatalf("Receive: %v", err)
	}
	if len(got) != 1 {
		t.Fatalf("expected 1 message, got %d", len(got))
	}

	var payload queuePayload
	if err := json.Unmarshal([]byte(got[0].Body), &payload); err != nil {
		t.Fatalf("decode payload: %v", err)
	}
	if payload.Kind != jobTypeMessage {
		t.Fatalf("wrong kind %q", payload.Kind)
	}
	if payload.BidID != "bid-42" || payload.Message.ID != msg.ID {
		t.Fatalf("payload mismatch: %+v", payload)
	}
	if payload.ID == "" {
		t.Fatal("expected generated job id")
	}
}
