package bidrecord

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/instabids/messaging-guard/internal/storage"
)

func testRequest() storage.UpdateRequest {
	return storage.UpdateRequest{
		BidID:        "bid-42",
		ChangeKind:   "material",
		FieldPath:    "counters.material",
		OldValueHint: "quartz",
		NewValueHint: "granite",
		Source:       "homeowner_confirmation",
	}
}

func TestSubmitUpdate_Success(t *testing.T) {
	var gotPath, gotAuth string
	var gotBody storage.UpdateRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		gotAuth = r.Header.Get("Authorization")
		_ = json.NewDecoder(r.Body).Decode(&gotBody)
		w.WriteHeader(http.StatusAccepted)
		_ = json.NewEncoder(w).Encode(map[string]string{"status": "accepted"})
	}))
	defer srv.Close()

	client, err := NewClient(Config{BaseURL: srv.URL, APIKey: "test-key"})
	if err != nil {
		t.Fatalf("NewClient: %v", err)
	}
	if err := client.SubmitUpdate(context.Background(), testRequest()); err != nil {
		t.Fatalf("SubmitUpdate: %v", err)
	}
	if gotPath != "/v1/bids/bid-42/updates" {
		t.Fatalf("unexpected path %q", gotPath)
	}
	if gotAuth != "Bearer test-key" {
		t.Fatalf("unexpected auth %q", gotAuth)
	}
	if gotBody.NewValueHint != "granite" {
		t.Fatalf("unexpected body: %+v", gotBody)
	}
}

func TestSubmitUpdate_RejectedOn422(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnprocessableEntity)
		_ = json.NewEncoder(w).Encode(map[string]string{"error": "unknown field path"})
	}))
	defer srv.Close()

	client, err := NewClient(Config{BaseURL: srv.URL})
	if err != nil {
		t.Fatalf("NewClient: %v", err)
	}
	err = client.SubmitUpdate(context.Background(), testRequest())
	if !errors.Is(err, ErrUpdateRejected) {
		t.Fatalf("expected ErrUpdateRejected, got %v", err)
	}
	if errors.Is(err, storage.ErrNotificationFailed) {
		t.Fatal("rejection must not be retryable")
	}
}

func TestSubmitUpdate_RetryableOn500(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	client, err := NewClient(Config{BaseURL: srv.URL})
	if err != nil {
		t.Fatalf("NewClient: %v", err)
	}
	err = client.SubmitUpdate(context.Background(), testRequest())
	if !errors.Is(err, storage.ErrNotificationFailed) {
		t.Fatalf("expected ErrNotificationFailed, got %v", err)
	}
}

func TestSubmitUpdate_MissingBidIDRejected(t *testing.T) {
	client, err := NewClient(Config{BaseURL: "http://localhost:9"})
	if err != nil {
		t.Fatalf("NewClient: %v", err)
	}
	req := testRequest()
	req.BidID = ""
	if err := client.SubmitUpdate(context.Background(), req); !errors.Is(err, ErrUpdateRejected) {
		t.Fatalf("expected ErrUpdateRejected, got %v", err)
	}
}

func TestOutboxHandler_MalformedPayloadRejected(t *testing.T) {
	client, err := NewClient(Config{BaseURL: "http://localhost:9"})
	if err != nil {
		t.Fatalf("NewClient: %v", err)
	}
	h := NewOutboxHandler(client)
	err = h.Handle(context.Background(), storage.OutboxEntry{Payload: []byte("{not json")})
	if !errors.Is(err, ErrUpdateRejected) {
		t.Fatalf("expected ErrUpdateRejected, got %v", err)
	}
}
