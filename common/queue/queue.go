package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"hash/fnv"
	"time"

	"github.com/google/uuid"
	"github.com/loomery/loom/common/models"
	redisWrapper "github.com/loomery/loom/common/redis"
)

// Priority tiers keep interactive runs from starving behind scheduled ones
type Priority string

const (
	PriorityLow     Priority = "low"
	PriorityDefault Priority = "default"
	PriorityHigh    Priority = "high"
)

// ErrEmpty is returned by Dequeue when no job arrived within the wait
var ErrEmpty = errors.New("queue empty")

// JobPayload is the unit of work handed from dispatch to the runner fleet.
// The callback token is a server-side secret, never returned to clients.
type JobPayload struct {
	JobID         uuid.UUID             `json:"job_id"`
	WorkflowID    uuid.UUID             `json:"workflow_id"`
	ExecutionID   uuid.UUID             `json:"execution_id"`
	WorkspaceID   uuid.UUID             `json:"workspace_id"`
	TriggerData   map[string]interface{} `json:"trigger_data,omitempty"`
	ReplayContext *models.ReplayContext `json:"replay_context,omitempty"`
	CallbackToken string                `json:"callback_token"`
	EnqueuedAt    time.Time             `json:"enqueued_at"`
}

// JobQueue distributes execution jobs across partitioned Redis lists,
// one list per (priority, partition). Workers pull by partition;
// BRPOP key order gives high > default > low.
type JobQueue struct {
	client     *redisWrapper.Client
	partitions int
}

// New creates a job queue with the given partition count
func New(client *redisWrapper.Client, partitions int) *JobQueue {
	if partitions < 1 {
		partitions = 16
	}
	return &JobQueue{client: client, partitions: partitions}
}

// Partitions returns the configured partition count
func (q *JobQueue) Partitions() int { return q.partitions }

// PartitionFor maps a workspace onto its partition
func (q *JobQueue) PartitionFor(workspaceID uuid.UUID) int {
	h := fnv.New32a()
	h.Write([]byte(workspaceID.String()))
	return int(h.Sum32()) % q.partitions
}

// Enqueue pushes a job onto its workspace's partition at the given tier
func (q *JobQueue) Enqueue(ctx context.Context, priority Priority, payload *JobPayload) (int, error) {
	if payload.EnqueuedAt.IsZero() {
		payload.EnqueuedAt = time.Now().UTC()
	}

	data, err := json.Marshal(payload)
	if err != nil {
		return 0, fmt.Errorf("marshal job payload: %w", err)
	}

	partition := q.PartitionFor(payload.WorkspaceID)
	key := q.key(priority, partition)

	if err := q.client.LPush(ctx, key, string(data)); err != nil {
		return 0, fmt.Errorf("enqueue job %s: %w", payload.JobID, err)
	}

	return partition, nil
}

// Dequeue blocks up to wait for the next job on a partition, draining
// high before default before low.
func (q *JobQueue) Dequeue(ctx context.Context, partition int, wait time.Duration) (*JobPayload, error) {
	keys := []string{
		q.key(PriorityHigh, partition),
		q.key(PriorityDefault, partition),
		q.key(PriorityLow, partition),
	}

	_, raw, err := q.client.BRPop(ctx, wait, keys...)
	if errors.Is(err, redisWrapper.ErrNotFound) {
		return nil, ErrEmpty
	}
	if err != nil {
		return nil, fmt.Errorf("dequeue partition %d: %w", partition, err)
	}

	var payload JobPayload
	if err := json.Unmarshal([]byte(raw), &payload); err != nil {
		return nil, fmt.Errorf("unmarshal job payload: %w", err)
	}

	return &payload, nil
}

func (q *JobQueue) key(priority Priority, partition int) string {
	return fmt.Sprintf("jobs:%s:%d", priority, partition)
}
