package bidrecord

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/instabids/messaging-guard/internal/storage"
)

// ErrUpdateRejected marks an update the bid record service refused outright.
// Rejected updates are never retried.
var ErrUpdateRejected = errors.New("bidrecord: update rejected")

// Config describes how to reach the bid record service.
type Config struct {
	BaseURL string
	APIKey  string
	Timeout time.Duration
}

// Client submits confirmed scope-change updates to the bid record service.
type Client struct {
	baseURL string
	apiKey  string
	http    *http.Client
}

func NewClient(cfg Config) (*Client, error) {
	if strings.TrimSpace(cfg.BaseURL) == "" {
		return nil, errors.New("bidrecord: base URL required")
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	return &Client{
		baseURL: strings.TrimRight(cfg.BaseURL, "/"),
		apiKey:  cfg.APIKey,
		http: &http.Client{
			Timeout: timeout,
		},
	}, nil
}

type updateResponse struct {
	Status string `json:"status"`
	Error  string `json:"error,omitempty"`
}

// SubmitUpdate posts one confirmed update request. Transport and 5xx failures
// come back wrapped in storage.ErrNotificationFailed so the outbox retries;
// 4xx responses come back as ErrUpdateRejected and are dropped.
func (c *Client) SubmitUpdate(ctx context.Context, req storage.UpdateRequest) error {
	if strings.TrimSpace(req.BidID) == "" {
		return fmt.Errorf("%w: bid id required", ErrUpdateRejected)
	}
	if strings.TrimSpace(req.FieldPath) == "" {
		return fmt.Errorf("%w: field path required", ErrUpdateRejected)
	}

	data, err := json.Marshal(req)
	if err != nil {
		return fmt.Errorf("bidrecord: encode update: %w", err)
	}

	url := fmt.Sprintf("%s/v1/bids/%s/updates", c.baseURL, req.BidID)
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewBuffer(data))
	if err != nil {
		return fmt.Errorf("bidrecord: build request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	if strings.TrimSpace(c.apiKey) != "" {
		httpReq.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	resp, err := c.http.Do(httpReq)
	if err != nil {
		return fmt.Errorf("%w: %v", storage.ErrNotificationFailed, err)
	}
	defer resp.Body.Close()

	body, _ := io.ReadAll(io.LimitReader(resp.Body, 1<<16))
	switch {
	case resp.StatusCode >= 200 && resp.StatusCode < 300:
		return nil
	case resp.StatusCode >= 400 && resp.StatusCode < 500:
		var out updateResponse
		_ = json.Unmarshal(body, &out)
		if out.Error != "" {
			return fmt.Errorf("%w: %s", ErrUpdateRejected, out.Error)
		}
		return fmt.Errorf("%w: status %d", ErrUpdateRejected, resp.StatusCode)
	default:
		return fmt.Errorf("%w: status %d", storage.ErrNotificationFailed, resp.StatusCode)
	}
}

// OutboxHandler adapts the client to the outbox deliverer.
type OutboxHandler struct {
	client *Client
}

func NewOutboxHandler(client *Client) *OutboxHandler {
	return &OutboxHandler{client: client}
}

func (h *OutboxHandler) Handle(ctx context.Context, entry storage.OutboxEntry) error {
	var req storage.UpdateRequest
	if err := json.Unmarshal(entry.Payload, &req); err != nil {
		return fmt.Errorf("%w: malformed payload: %v", ErrUpdateRejected, err)
	}
	return h.client.SubmitUpdate(ctx, req)
}
