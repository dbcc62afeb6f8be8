package handlers

import (
	"crypto/subtle"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"github.com/loomery/loom/common/logger"
	"github.com/loomery/loom/common/queue"
)

// CallbackHandler accepts job status updates from workers. Requests reach
// it only after the HMAC middleware has verified the shared-secret
// signature; the per-job callback token is checked here as a second factor.
type CallbackHandler struct {
	statuses *queue.JobStatusStore
	log      *logger.Logger
}

// NewCallbackHandler creates a callback handler
func NewCallbackHandler(statuses *queue.JobStatusStore, log *logger.Logger) *CallbackHandler {
	return &CallbackHandler{statuses: statuses, log: log}
}

type callbackRequest struct {
	JobID         uuid.UUID  `json:"job_id"`
	CallbackToken string     `json:"callback_token"`
	ExecutionID   *uuid.UUID `json:"execution_id,omitempty"`
	Status        string     `json:"status"`
	Progress      int        `json:"progress,omitempty"`
	DurationMS    int64      `json:"duration_ms,omitempty"`
	Error         string     `json:"error,omitempty"`
}

// JobCallback handles POST /internal/v1/callbacks/jobs
func (h *CallbackHandler) JobCallback(c echo.Context) error {
	var req callbackRequest
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, map[string]interface{}{"error": "invalid request body"})
	}
	if req.JobID == uuid.Nil || req.CallbackToken == "" {
		return c.JSON(http.StatusBadRequest, map[string]interface{}{"error": "job_id and callback_token are required"})
	}
	switch req.Status {
	case "progress", "completed", "failed":
	default:
		return c.JSON(http.StatusBadRequest, map[string]interface{}{"error": "status must be progress, completed or failed"})
	}

	ctx := c.Request().Context()
	status, err := h.statuses.Get(ctx, req.JobID)
	if err != nil {
		return respondError(c, err)
	}
	if subtle.ConstantTimeCompare([]byte(status.CallbackToken), []byte(req.CallbackToken)) != 1 {
		h.log.Warn("callback token mismatch", "job_id", req.JobID)
		return c.JSON(http.StatusUnauthorized, map[string]interface{}{"error": "invalid callback token"})
	}

	status.Status = req.Status
	status.Progress = req.Progress
	status.Error = req.Error
	if req.ExecutionID != nil {
		status.ExecutionID = req.ExecutionID
	}
	now := time.Now().UTC()
	if req.Status == "progress" && status.StartedAt == nil {
		status.StartedAt = &now
	}
	if req.Status == "completed" || req.Status == "failed" {
		status.CompletedAt = &now
		status.Progress = 100
	}

	if err := h.statuses.Put(ctx, status); err != nil {
		return respondError(c, err)
	}

	h.log.Info("job status updated",
		"job_id", req.JobID,
		"status", req.Status,
		"duration_ms", req.DurationMS)
	return c.JSON(http.StatusOK, map[string]interface{}{"job_id": req.JobID, "status": req.Status})
}
