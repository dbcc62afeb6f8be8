package queue

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/google/uuid"
	goredis "github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/loomery/loom/common/logger"
	"github.com/loomery/loom/common/models"
	redisWrapper "github.com/loomery/loom/common/redis"
)

func newTestRedis(t *testing.T) *redisWrapper.Client {
	t.Helper()
	mr := miniredis.RunT(t)
	raw := goredis.NewClient(&goredis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { raw.Close() })
	return redisWrapper.NewClient(raw, logger.NewNop())
}

func payloadFor(workspaceID uuid.UUID) *JobPayload {
	return &JobPayload{
		JobID:         uuid.New(),
		WorkflowID:    uuid.New(),
		ExecutionID:   uuid.New(),
		WorkspaceID:   workspaceID,
		CallbackToken: uuid.NewString(),
	}
}

func TestPartitionForIsStable(t *testing.T) {
	q := New(newTestRedis(t), 16)
	workspaceID := uuid.New()

	first := q.PartitionFor(workspaceID)
	for i := 0; i < 20; i++ {
		assert.Equal(t, first, q.PartitionFor(workspaceID))
	}
	assert.GreaterOrEqual(t, first, 0)
	assert.Less(t, first, 16)
}

func TestEnqueueDequeueRoundTrip(t *testing.T) {
	ctx := context.Background()
	q := New(newTestRedis(t), 4)

	payload := payloadFor(uuid.New())
	payload.TriggerData = map[string]interface{}{"source": "test"}

	partition, err := q.Enqueue(ctx, PriorityDefault, payload)
	require.NoError(t, err)
	assert.Equal(t, q.PartitionFor(payload.WorkspaceID), partition)

	got, err := q.Dequeue(ctx, partition, 100*time.Millisecond)
	require.NoError(t, err)
	assert.Equal(t, payload.JobID, got.JobID)
	assert.Equal(t, payload.CallbackToken, got.CallbackToken)
	assert.Equal(t, "test", got.TriggerData["source"])
	assert.False(t, got.EnqueuedAt.IsZero())
}

func TestDequeueDrainsHighPriorityFirst(t *testing.T) {
	ctx := context.Background()
	q := New(newTestRedis(t), 1)
	workspaceID := uuid.New()

	low := payloadFor(workspaceID)
	def := payloadFor(workspaceID)
	high := payloadFor(workspaceID)

	_, err := q.Enqueue(ctx, PriorityLow, low)
	require.NoError(t, err)
	_, err = q.Enqueue(ctx, PriorityDefault, def)
	require.NoError(t, err)
	_, err = q.Enqueue(ctx, PriorityHigh, high)
	require.NoError(t, err)

	var order []uuid.UUID
	for i := 0; i < 3; i++ {
		got, err := q.Dequeue(ctx, 0, 100*time.Millisecond)
		require.NoError(t, err)
		order = append(order, got.JobID)
	}

	assert.Equal(t, []uuid.UUID{high.JobID, def.JobID, low.JobID}, order)
}

func TestDequeueEmpty(t *testing.T) {
	ctx := context.Background()
	q := New(newTestRedis(t), 1)

	_, err := q.Dequeue(ctx, 0, 50*time.Millisecond)
	assert.ErrorIs(t, err, ErrEmpty)
}

func TestPartitionsDefault(t *testing.T) {
	q := New(newTestRedis(t), 0)
	assert.Equal(t, 16, q.Partitions())
}

func TestJobStatusStoreRoundTrip(t *testing.T) {
	ctx := context.Background()
	store := NewJobStatusStore(newTestRedis(t))

	executionID := uuid.New()
	status := &models.JobStatus{
		JobID:         uuid.New(),
		ExecutionID:   &executionID,
		Partition:     3,
		CallbackToken: uuid.NewString(),
		Status:        "queued",
	}
	require.NoError(t, store.Put(ctx, status))

	got, err := store.Get(ctx, status.JobID)
	require.NoError(t, err)
	assert.Equal(t, status.JobID, got.JobID)
	assert.Equal(t, "queued", got.Status)
	assert.Equal(t, status.CallbackToken, got.CallbackToken, "token must survive the envelope round trip")
	require.NotNil(t, got.ExecutionID)
	assert.Equal(t, executionID, *got.ExecutionID)
}

func TestJobStatusStoreTokenHiddenFromJSON(t *testing.T) {
	ctx := context.Background()
	client := newTestRedis(t)
	store := NewJobStatusStore(client)

	status := &models.JobStatus{JobID: uuid.New(), CallbackToken: "top-secret", Status: "queued"}
	require.NoError(t, store.Put(ctx, status))

	raw, err := client.Get(ctx, "job:"+status.JobID.String())
	require.NoError(t, err)
	// the inner status document must not leak the token; only the
	// server-side envelope field carries it
	assert.NotContains(t, raw, `"callback_token"`)
	assert.Contains(t, raw, `"token":"top-secret"`)
}

func TestJobStatusStoreMiss(t *testing.T) {
	ctx := context.Background()
	store := NewJobStatusStore(newTestRedis(t))

	_, err := store.Get(ctx, uuid.New())
	require.Error(t, err)
	assert.Equal(t, models.CodeNotFound, models.CodeOf(err))
}
