package executor

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/loomery/loom/common/credential"
	"github.com/loomery/loom/common/logger"
	"github.com/loomery/loom/common/models"
	"github.com/loomery/loom/common/replay"
)

type contextKey string

const (
	nodeIDKey  contextKey = "node_id"
	attemptKey contextKey = "attempt"
)

// WithNodeID stamps the executing node's id onto the context so
// connector attempts can be correlated back to execution nodes.
func WithNodeID(ctx context.Context, nodeID string) context.Context {
	return context.WithValue(ctx, nodeIDKey, nodeID)
}

// NodeIDFrom extracts the node id stamped by WithNodeID
func NodeIDFrom(ctx context.Context) string {
	id, _ := ctx.Value(nodeIDKey).(string)
	return id
}

// WithAttempt stamps the scheduler's attempt number onto the context so
// recorded connector attempts carry accurate retry accounting.
func WithAttempt(ctx context.Context, attempt int) context.Context {
	return context.WithValue(ctx, attemptKey, attempt)
}

// AttemptFrom extracts the attempt number stamped by WithAttempt,
// defaulting to 1.
func AttemptFrom(ctx context.Context) int {
	if attempt, ok := ctx.Value(attemptKey).(int); ok && attempt > 0 {
		return attempt
	}
	return 1
}

// HTTPExecutor performs outbound HTTP connector calls. In replay mode
// a fixture whose fingerprint matches the would-be request is returned
// instead of calling out; every call, live or replayed, records an
// attempt for reliability ingest, and live responses are captured as
// fixtures.
type HTTPExecutor struct {
	client      *http.Client
	workspaceID uuid.UUID
	resolver    *credential.Resolver
	fixtures    *FixtureSet
	recorder    *Recorder
	log         *logger.Logger
}

// HTTPExecutorOpts configures an HTTP executor for one execution
type HTTPExecutorOpts struct {
	Client      *http.Client
	WorkspaceID uuid.UUID
	Resolver    *credential.Resolver
	Fixtures    *FixtureSet
	Recorder    *Recorder
	Logger      *logger.Logger
}

// NewHTTPExecutor creates an HTTP executor
func NewHTTPExecutor(opts HTTPExecutorOpts) *HTTPExecutor {
	client := opts.Client
	if client == nil {
		client = &http.Client{Timeout: 30 * time.Second}
	}
	fixtures := opts.Fixtures
	if fixtures == nil {
		fixtures = NewFixtureSet(nil)
	}
	return &HTTPExecutor{
		client:      client,
		workspaceID: opts.WorkspaceID,
		resolver:    opts.Resolver,
		fixtures:    fixtures,
		recorder:    opts.Recorder,
		log:         opts.Logger,
	}
}

// Execute performs the call described by the node config:
// method, url, headers, body, connector_key, operation, credential_id.
func (e *HTTPExecutor) Execute(ctx context.Context, nodeType string, input, config map[string]interface{}) (*NodeResult, error) {
	url, _ := config["url"].(string)
	if url == "" {
		return nil, NewNodeError(fmt.Errorf("http node has no url"), false)
	}

	method, _ := config["method"].(string)
	if method == "" {
		method = http.MethodGet
	}

	headers := map[string]string{}
	if raw, ok := config["headers"].(map[string]interface{}); ok {
		for k, v := range raw {
			if s, ok := v.(string); ok {
				headers[k] = s
			}
		}
	}

	var body []byte
	if rawBody, ok := config["body"]; ok && rawBody != nil {
		var err error
		body, err = json.Marshal(rawBody)
		if err != nil {
			return nil, NewNodeError(fmt.Errorf("marshal request body: %w", err), false)
		}
		if _, set := headers["Content-Type"]; !set {
			headers["Content-Type"] = "application/json"
		}
		if method == http.MethodGet {
			method = http.MethodPost
		}
	}

	fingerprint := replay.Fingerprint(method, url, headers, body)
	attempt := e.newAttempt(ctx, nodeType, config, fingerprint)

	if fixture, err := e.fixtures.Lookup(fingerprint); err != nil {
		attempt.Status = models.AttemptFailure
		attempt.ErrorCode = models.CodeOf(err)
		attempt.ErrorMessage = err.Error()
		e.record(attempt)
		return nil, NewNodeError(err, false)
	} else if fixture != nil {
		attempt.Status = models.AttemptSuccess
		e.record(attempt)
		return &NodeResult{Output: fixture.Response}, nil
	}

	if err := e.injectCredential(ctx, config, headers); err != nil {
		attempt.Status = models.AttemptFailure
		attempt.ErrorCode = models.CodeOf(err)
		attempt.ErrorMessage = err.Error()
		e.record(attempt)
		return nil, NewNodeError(err, false)
	}

	req, err := http.NewRequestWithContext(ctx, method, url, bytes.NewReader(body))
	if err != nil {
		return nil, NewNodeError(fmt.Errorf("build request: %w", err), false)
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	start := time.Now()
	resp, err := e.client.Do(req)
	duration := time.Since(start).Milliseconds()
	attempt.DurationMS = &duration

	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) || errors.Is(ctx.Err(), context.DeadlineExceeded) {
			attempt.Status = models.AttemptTimeout
			attempt.ErrorMessage = err.Error()
			e.record(attempt)
			return nil, NewNodeError(fmt.Errorf("request timed out: %w", err), true)
		}
		attempt.Status = models.AttemptFailure
		attempt.ErrorMessage = err.Error()
		e.record(attempt)
		return nil, NewNodeError(fmt.Errorf("request failed: %w", err), true)
	}
	defer resp.Body.Close()

	attempt.StatusCode = &resp.StatusCode

	respBody, err := io.ReadAll(io.LimitReader(resp.Body, 10<<20))
	if err != nil {
		attempt.Status = models.AttemptFailure
		attempt.ErrorMessage = err.Error()
		e.record(attempt)
		return nil, NewNodeError(fmt.Errorf("read response: %w", err), true)
	}

	if resp.StatusCode >= 400 {
		attempt.Status = models.AttemptFailure
		attempt.ErrorMessage = fmt.Sprintf("upstream returned %d", resp.StatusCode)
		e.record(attempt)

		retryable := resp.StatusCode >= 500 || resp.StatusCode == http.StatusTooManyRequests
		return nil, NewNodeError(fmt.Errorf("upstream returned %d", resp.StatusCode), retryable)
	}

	output := map[string]interface{}{
		"status_code": resp.StatusCode,
	}
	var parsed map[string]interface{}
	if json.Unmarshal(respBody, &parsed) == nil {
		output["body"] = parsed
	} else {
		output["body"] = string(respBody)
	}

	attempt.Status = models.AttemptSuccess
	e.record(attempt)

	if e.recorder != nil && !e.fixtures.Replaying() {
		e.recorder.RecordFixture(models.Fixture{
			RequestFingerprint: fingerprint,
			Response:           output,
		})
	}

	return &NodeResult{Output: output}, nil
}

func (e *HTTPExecutor) newAttempt(ctx context.Context, nodeType string, config map[string]interface{}, fingerprint string) *models.ConnectorCallAttempt {
	connectorKey, _ := config["connector_key"].(string)
	if connectorKey == "" {
		connectorKey = nodeType
	}
	operation, _ := config["operation"].(string)
	if operation == "" {
		operation = "call"
	}
	provider, _ := config["provider"].(string)
	idempotencyKey, _ := config["idempotency_key"].(string)
	attemptNo := AttemptFrom(ctx)

	return &models.ConnectorCallAttempt{
		ID:                 uuid.New(),
		NodeID:             NodeIDFrom(ctx),
		WorkspaceID:        e.workspaceID,
		ConnectorKey:       connectorKey,
		ConnectorOperation: operation,
		Provider:           provider,
		AttemptNo:          attemptNo,
		IsRetry:            attemptNo > 1,
		RequestFingerprint: fingerprint,
		IdempotencyKey:     idempotencyKey,
		HappenedAt:         time.Now().UTC(),
	}
}

func (e *HTTPExecutor) record(a *models.ConnectorCallAttempt) {
	if e.recorder != nil {
		e.recorder.RecordAttempt(a)
	}
}

// injectCredential resolves config["credential_id"] and sets the auth
// header. Secret values never appear in logs or errors.
func (e *HTTPExecutor) injectCredential(ctx context.Context, config map[string]interface{}, headers map[string]string) error {
	rawID, _ := config["credential_id"].(string)
	if rawID == "" || e.resolver == nil {
		return nil
	}

	id, err := uuid.Parse(rawID)
	if err != nil {
		return fmt.Errorf("invalid credential id: %w", err)
	}

	creds, err := e.resolver.Resolve(ctx, e.workspaceID, []uuid.UUID{id})
	if err != nil {
		return err
	}
	cred := creds[id]

	switch {
	case cred.Data["token"] != "":
		headers["Authorization"] = "Bearer " + cred.Data["token"]
	case cred.Data["api_key"] != "":
		headers["Authorization"] = "Bearer " + cred.Data["api_key"]
	case cred.Data["username"] != "":
		basic := cred.Data["username"] + ":" + cred.Data["password"]
		headers["Authorization"] = "Basic " + base64.StdEncoding.EncodeToString([]byte(basic))
	}

	return nil
}
