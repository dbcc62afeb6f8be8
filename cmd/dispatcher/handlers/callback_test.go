package handlers

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
	goredis "github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/loomery/loom/common/logger"
	"github.com/loomery/loom/common/models"
	"github.com/loomery/loom/common/queue"
	redisWrapper "github.com/loomery/loom/common/redis"
)

func newCallbackHandler(t *testing.T) (*CallbackHandler, *queue.JobStatusStore) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redisWrapper.NewClient(goredis.NewClient(&goredis.Options{Addr: mr.Addr()}), logger.NewNop())
	statuses := queue.NewJobStatusStore(client)
	return NewCallbackHandler(statuses, logger.NewNop()), statuses
}

func seedJob(t *testing.T, statuses *queue.JobStatusStore, token string) uuid.UUID {
	t.Helper()
	jobID := uuid.New()
	require.NoError(t, statuses.Put(context.Background(), &models.JobStatus{
		JobID:         jobID,
		CallbackToken: token,
		Status:        "queued",
	}))
	return jobID
}

func postCallback(t *testing.T, h *CallbackHandler, payload map[string]interface{}) *httptest.ResponseRecorder {
	t.Helper()
	raw, err := json.Marshal(payload)
	require.NoError(t, err)

	e := echo.New()
	req := httptest.NewRequest(http.MethodPost, "/internal/v1/callbacks/jobs", strings.NewReader(string(raw)))
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	rec := httptest.NewRecorder()
	require.NoError(t, h.JobCallback(e.NewContext(req, rec)))
	return rec
}

func TestJobCallbackProgress(t *testing.T) {
	h, statuses := newCallbackHandler(t)
	jobID := seedJob(t, statuses, "tok-1")

	rec := postCallback(t, h, map[string]interface{}{
		"job_id":         jobID,
		"callback_token": "tok-1",
		"status":         "progress",
		"progress":       40,
	})
	assert.Equal(t, http.StatusOK, rec.Code)

	status, err := statuses.Get(context.Background(), jobID)
	require.NoError(t, err)
	assert.Equal(t, "progress", status.Status)
	assert.Equal(t, 40, status.Progress)
	assert.NotNil(t, status.StartedAt)
	assert.Nil(t, status.CompletedAt)
}

func TestJobCallbackCompleted(t *testing.T) {
	h, statuses := newCallbackHandler(t)
	jobID := seedJob(t, statuses, "tok-1")
	executionID := uuid.New()

	rec := postCallback(t, h, map[string]interface{}{
		"job_id":         jobID,
		"callback_token": "tok-1",
		"execution_id":   executionID,
		"status":         "completed",
	})
	assert.Equal(t, http.StatusOK, rec.Code)

	status, err := statuses.Get(context.Background(), jobID)
	require.NoError(t, err)
	assert.Equal(t, "completed", status.Status)
	assert.Equal(t, 100, status.Progress)
	require.NotNil(t, status.ExecutionID)
	assert.Equal(t, executionID, *status.ExecutionID)
	assert.NotNil(t, status.CompletedAt)
}

func TestJobCallbackFailedCarriesError(t *testing.T) {
	h, statuses := newCallbackHandler(t)
	jobID := seedJob(t, statuses, "tok-1")

	rec := postCallback(t, h, map[string]interface{}{
		"job_id":         jobID,
		"callback_token": "tok-1",
		"status":         "failed",
		"error":          "node fetch: upstream returned 503",
	})
	assert.Equal(t, http.StatusOK, rec.Code)

	status, err := statuses.Get(context.Background(), jobID)
	require.NoError(t, err)
	assert.Equal(t, "failed", status.Status)
	assert.Equal(t, "node fetch: upstream returned 503", status.Error)
}

func TestJobCallbackTokenMismatch(t *testing.T) {
	h, statuses := newCallbackHandler(t)
	jobID := seedJob(t, statuses, "tok-1")

	rec := postCallback(t, h, map[string]interface{}{
		"job_id":         jobID,
		"callback_token": "tok-guess",
		"status":         "completed",
	})
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	status, err := statuses.Get(context.Background(), jobID)
	require.NoError(t, err)
	assert.Equal(t, "queued", status.Status, "a rejected callback must not mutate the job")
}

func TestJobCallbackUnknownJob(t *testing.T) {
	h, _ := newCallbackHandler(t)

	rec := postCallback(t, h, map[string]interface{}{
		"job_id":         uuid.New(),
		"callback_token": "tok-1",
		"status":         "completed",
	})
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestJobCallbackInvalidStatus(t *testing.T) {
	h, statuses := newCallbackHandler(t)
	jobID := seedJob(t, statuses, "tok-1")

	rec := postCallback(t, h, map[string]interface{}{
		"job_id":         jobID,
		"callback_token": "tok-1",
		"status":         "done",
	})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestJobCallbackMissingToken(t *testing.T) {
	h, statuses := newCallbackHandler(t)
	jobID := seedJob(t, statuses, "tok-1")

	rec := postCallback(t, h, map[string]interface{}{
		"job_id": jobID,
		"status": "completed",
	})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}
