package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/loomery/loom/common/models"
	redisWrapper "github.com/loomery/loom/common/redis"
)

// JobStatusStore tracks job progress in Redis. Entries carry the opaque
// callback token used to authenticate worker updates, so they are kept
// strictly server-side.
type JobStatusStore struct {
	client *redisWrapper.Client
	ttl    time.Duration
}

// NewJobStatusStore creates a job status store with a 24h retention
func NewJobStatusStore(client *redisWrapper.Client) *JobStatusStore {
	return &JobStatusStore{client: client, ttl: 24 * time.Hour}
}

// Put writes a job status entry
func (s *JobStatusStore) Put(ctx context.Context, status *models.JobStatus) error {
	data, err := json.Marshal(status)
	if err != nil {
		return fmt.Errorf("marshal job status: %w", err)
	}
	// JobStatus.CallbackToken has json:"-"; store it alongside explicitly.
	envelope, err := json.Marshal(struct {
		Status json.RawMessage `json:"status"`
		Token  string          `json:"token"`
	}{data, status.CallbackToken})
	if err != nil {
		return fmt.Errorf("marshal job status envelope: %w", err)
	}
	return s.client.SetWithExpiry(ctx, s.key(status.JobID), string(envelope), s.ttl)
}

// Get returns a job status entry, including its callback token
func (s *JobStatusStore) Get(ctx context.Context, jobID uuid.UUID) (*models.JobStatus, error) {
	raw, err := s.client.Get(ctx, s.key(jobID))
	if errors.Is(err, redisWrapper.ErrNotFound) {
		return nil, models.WrapCoded(models.CodeNotFound, fmt.Sprintf("job %s", jobID), models.ErrNotFound)
	}
	if err != nil {
		return nil, err
	}

	var envelope struct {
		Status json.RawMessage `json:"status"`
		Token  string          `json:"token"`
	}
	if err := json.Unmarshal([]byte(raw), &envelope); err != nil {
		return nil, fmt.Errorf("unmarshal job status envelope: %w", err)
	}

	status := &models.JobStatus{}
	if err := json.Unmarshal(envelope.Status, status); err != nil {
		return nil, fmt.Errorf("unmarshal job status: %w", err)
	}
	status.CallbackToken = envelope.Token
	return status, nil
}

func (s *JobStatusStore) key(jobID uuid.UUID) string {
	return fmt.Sprintf("job:%s", jobID)
}
