package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/loomery/loom/common/crypto"
	"github.com/loomery/loom/common/logger"
)

// CallbackPayload is the worker-to-dispatcher status update body
type CallbackPayload struct {
	JobID         uuid.UUID `json:"job_id"`
	CallbackToken string    `json:"callback_token"`
	ExecutionID   uuid.UUID `json:"execution_id"`
	Status        string    `json:"status"`
	Progress      int       `json:"progress,omitempty"`
	DurationMS    int64     `json:"duration_ms,omitempty"`
	Error         string    `json:"error,omitempty"`
}

// CallbackClient posts signed status updates to the dispatcher. The
// body is HMAC-SHA256 signed with the shared secret; the timestamp
// header bounds replay of captured requests.
type CallbackClient struct {
	baseURL string
	secret  []byte
	client  *http.Client
	log     *logger.Logger
}

// NewCallbackClient creates a callback client
func NewCallbackClient(baseURL, secret string, log *logger.Logger) *CallbackClient {
	return &CallbackClient{
		baseURL: baseURL,
		secret:  []byte(secret),
		client:  &http.Client{Timeout: 10 * time.Second},
		log:     log,
	}
}

// Post sends one status update
func (c *CallbackClient) Post(ctx context.Context, payload *CallbackPayload) error {
	if c.baseURL == "" {
		return nil
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal callback: %w", err)
	}

	url := c.baseURL + "/internal/v1/callbacks/jobs"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build callback request: %w", err)
	}

	timestamp := time.Now().UTC().Format(time.RFC3339)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Loom-Timestamp", timestamp)
	req.Header.Set("X-Loom-Signature", crypto.SignCallback(c.secret, timestamp, body))

	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("post callback: %w", err)
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))

	if resp.StatusCode >= 300 {
		return fmt.Errorf("callback rejected with %d", resp.StatusCode)
	}
	return nil
}
