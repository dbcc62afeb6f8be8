package executor

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/loomery/loom/common/logger"
	"github.com/loomery/loom/common/models"
	"github.com/loomery/loom/common/replay"
)

func newHTTPExecutor(fixtures *FixtureSet, recorder *Recorder) *HTTPExecutor {
	return NewHTTPExecutor(HTTPExecutorOpts{
		WorkspaceID: uuid.New(),
		Fixtures:    fixtures,
		Recorder:    recorder,
		Logger:      logger.NewNop(),
	})
}

func TestHTTPExecuteSuccess(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodGet, r.Method)
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"ok":true}`))
	}))
	defer server.Close()

	recorder := NewRecorder()
	e := newHTTPExecutor(nil, recorder)

	ctx := WithNodeID(context.Background(), "fetch")
	result, err := e.Execute(ctx, "http.request", nil, map[string]interface{}{
		"url":           server.URL,
		"connector_key": "example",
		"operation":     "get_thing",
	})
	require.NoError(t, err)

	assert.Equal(t, 200, result.Output["status_code"])
	body := result.Output["body"].(map[string]interface{})
	assert.Equal(t, true, body["ok"])

	attempts := recorder.Attempts()
	require.Len(t, attempts, 1)
	assert.Equal(t, models.AttemptSuccess, attempts[0].Status)
	assert.Equal(t, "example", attempts[0].ConnectorKey)
	assert.Equal(t, "get_thing", attempts[0].ConnectorOperation)
	assert.Equal(t, "fetch", attempts[0].NodeID)
	require.NotNil(t, attempts[0].DurationMS)

	// live responses are captured as fixtures
	fixtures := recorder.Fixtures()
	require.Len(t, fixtures, 1)
	assert.NotEmpty(t, fixtures[0].RequestFingerprint)
}

func TestHTTPExecuteRecordsRetryAttempt(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{}`))
	}))
	defer server.Close()

	recorder := NewRecorder()
	e := newHTTPExecutor(nil, recorder)

	ctx := WithAttempt(WithNodeID(context.Background(), "fetch"), 2)
	_, err := e.Execute(ctx, "http.request", nil, map[string]interface{}{"url": server.URL})
	require.NoError(t, err)

	attempts := recorder.Attempts()
	require.Len(t, attempts, 1)
	assert.Equal(t, 2, attempts[0].AttemptNo)
	assert.True(t, attempts[0].IsRetry)
}

func TestAttemptContextDefaultsToFirst(t *testing.T) {
	assert.Equal(t, 1, AttemptFrom(context.Background()))
	assert.Equal(t, 3, AttemptFrom(WithAttempt(context.Background(), 3)))
}

func TestHTTPExecuteBodyForcesPost(t *testing.T) {
	var gotMethod, gotContentType string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotMethod = r.Method
		gotContentType = r.Header.Get("Content-Type")
		w.Write([]byte(`{}`))
	}))
	defer server.Close()

	e := newHTTPExecutor(nil, nil)
	_, err := e.Execute(context.Background(), "http.request", nil, map[string]interface{}{
		"url":  server.URL,
		"body": map[string]interface{}{"text": "hi"},
	})
	require.NoError(t, err)
	assert.Equal(t, http.MethodPost, gotMethod)
	assert.Equal(t, "application/json", gotContentType)
}

func TestHTTPExecuteServerErrorRetryable(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer server.Close()

	recorder := NewRecorder()
	e := newHTTPExecutor(nil, recorder)
	_, err := e.Execute(context.Background(), "http.request", nil, map[string]interface{}{"url": server.URL})
	require.Error(t, err)
	assert.True(t, RetryableError(err))

	attempts := recorder.Attempts()
	require.Len(t, attempts, 1)
	assert.Equal(t, models.AttemptFailure, attempts[0].Status)
	require.NotNil(t, attempts[0].StatusCode)
	assert.Equal(t, http.StatusServiceUnavailable, *attempts[0].StatusCode)
}

func TestHTTPExecuteClientErrorNotRetryable(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))
	defer server.Close()

	e := newHTTPExecutor(nil, nil)
	_, err := e.Execute(context.Background(), "http.request", nil, map[string]interface{}{"url": server.URL})
	require.Error(t, err)
	assert.False(t, RetryableError(err))
}

func TestHTTPExecuteRateLimitedRetryable(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
	}))
	defer server.Close()

	e := newHTTPExecutor(nil, nil)
	_, err := e.Execute(context.Background(), "http.request", nil, map[string]interface{}{"url": server.URL})
	require.Error(t, err)
	assert.True(t, RetryableError(err))
}

func TestHTTPExecuteTimeout(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(time.Second)
	}))
	defer server.Close()

	recorder := NewRecorder()
	e := newHTTPExecutor(nil, recorder)

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()

	_, err := e.Execute(ctx, "http.request", nil, map[string]interface{}{"url": server.URL})
	require.Error(t, err)
	assert.True(t, RetryableError(err))

	attempts := recorder.Attempts()
	require.Len(t, attempts, 1)
	assert.Equal(t, models.AttemptTimeout, attempts[0].Status)
}

func TestHTTPExecuteMissingURL(t *testing.T) {
	e := newHTTPExecutor(nil, nil)
	_, err := e.Execute(context.Background(), "http.request", nil, map[string]interface{}{})
	require.Error(t, err)
	assert.False(t, RetryableError(err))
}

func TestHTTPExecuteFixtureShortCircuits(t *testing.T) {
	calls := 0
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		w.Write([]byte(`{}`))
	}))
	defer server.Close()

	fingerprint := replay.Fingerprint(http.MethodGet, server.URL, map[string]string{}, nil)
	fixtures := NewFixtureSet(&models.ReplayContext{
		Mode: models.ReplayModeReplay,
		Fixtures: []models.Fixture{{
			RequestFingerprint: fingerprint,
			Response:           map[string]interface{}{"status_code": 200, "body": "recorded"},
		}},
	})

	recorder := NewRecorder()
	e := newHTTPExecutor(fixtures, recorder)
	result, err := e.Execute(context.Background(), "http.request", nil, map[string]interface{}{"url": server.URL})
	require.NoError(t, err)

	assert.Equal(t, 0, calls, "a fixture hit must not reach the network")
	assert.Equal(t, "recorded", result.Output["body"])

	// the replayed call still records an attempt, but no new fixture
	assert.Len(t, recorder.Attempts(), 1)
	assert.Empty(t, recorder.Fixtures())
}

func TestHTTPExecuteStrictReplayMiss(t *testing.T) {
	calls := 0
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
	}))
	defer server.Close()

	fixtures := NewFixtureSet(&models.ReplayContext{Mode: models.ReplayModeReplay, StrictReplay: true})
	recorder := NewRecorder()
	e := newHTTPExecutor(fixtures, recorder)

	_, err := e.Execute(context.Background(), "http.request", nil, map[string]interface{}{"url": server.URL})
	require.Error(t, err)
	assert.Equal(t, models.CodeStrictReplayMiss, models.CodeOf(err))
	assert.False(t, RetryableError(err))
	assert.Equal(t, 0, calls)

	attempts := recorder.Attempts()
	require.Len(t, attempts, 1)
	assert.Equal(t, models.CodeStrictReplayMiss, attempts[0].ErrorCode)
}
