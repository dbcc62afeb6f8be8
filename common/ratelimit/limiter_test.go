package ratelimit

import (
	"context"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/loomery/loom/common/logger"
)

func newTestLimiter(t *testing.T) *Limiter {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })
	return NewLimiter(client, logger.NewNop())
}

func TestCheckWorkspaceUnderLimit(t *testing.T) {
	ctx := context.Background()
	limiter := newTestLimiter(t)
	workspaceID := uuid.New()

	for i := int64(1); i <= 3; i++ {
		res, err := limiter.CheckWorkspace(ctx, workspaceID, 3)
		require.NoError(t, err)
		assert.True(t, res.Allowed)
		assert.Equal(t, i, res.CurrentCount)
		assert.Equal(t, int64(3), res.Limit)
	}
}

func TestCheckWorkspaceOverLimit(t *testing.T) {
	ctx := context.Background()
	limiter := newTestLimiter(t)
	workspaceID := uuid.New()

	for i := 0; i < 2; i++ {
		res, err := limiter.CheckWorkspace(ctx, workspaceID, 2)
		require.NoError(t, err)
		require.True(t, res.Allowed)
	}

	res, err := limiter.CheckWorkspace(ctx, workspaceID, 2)
	require.NoError(t, err)
	assert.False(t, res.Allowed)
	assert.Positive(t, res.RetryAfterSeconds)
}

func TestCheckWorkspaceIsolation(t *testing.T) {
	ctx := context.Background()
	limiter := newTestLimiter(t)

	busy := uuid.New()
	for i := 0; i < 2; i++ {
		_, err := limiter.CheckWorkspace(ctx, busy, 1)
		require.NoError(t, err)
	}

	// a different workspace is unaffected
	res, err := limiter.CheckWorkspace(ctx, uuid.New(), 1)
	require.NoError(t, err)
	assert.True(t, res.Allowed)
}

func TestReset(t *testing.T) {
	ctx := context.Background()
	limiter := newTestLimiter(t)
	workspaceID := uuid.New()

	res, err := limiter.CheckWorkspace(ctx, workspaceID, 1)
	require.NoError(t, err)
	require.True(t, res.Allowed)

	res, err = limiter.CheckWorkspace(ctx, workspaceID, 1)
	require.NoError(t, err)
	require.False(t, res.Allowed)

	require.NoError(t, limiter.Reset(ctx, workspaceID))

	res, err = limiter.CheckWorkspace(ctx, workspaceID, 1)
	require.NoError(t, err)
	assert.True(t, res.Allowed)
}

func TestCheckGlobal(t *testing.T) {
	ctx := context.Background()
	limiter := newTestLimiter(t)

	res, err := limiter.CheckGlobal(ctx, 5)
	require.NoError(t, err)
	assert.True(t, res.Allowed)
	assert.Equal(t, int64(1), res.CurrentCount)
}
