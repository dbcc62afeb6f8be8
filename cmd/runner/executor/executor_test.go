package executor

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/loomery/loom/common/models"
)

type staticExecutor struct {
	name string
}

func (s *staticExecutor) Execute(_ context.Context, _ string, _, _ map[string]interface{}) (*NodeResult, error) {
	return &NodeResult{Output: map[string]interface{}{"executor": s.name}}, nil
}

func TestRegistryDispatch(t *testing.T) {
	r := NewRegistry(&staticExecutor{name: "fallback"})
	r.Register("transform", &staticExecutor{name: "transform"})

	result, err := r.Execute(context.Background(), "transform", nil, nil)
	require.NoError(t, err)
	assert.Equal(t, "transform", result.Output["executor"])

	result, err = r.Execute(context.Background(), "http.request", nil, nil)
	require.NoError(t, err)
	assert.Equal(t, "fallback", result.Output["executor"])
}

func TestRegistryNoFallback(t *testing.T) {
	r := NewRegistry(nil)
	_, err := r.Execute(context.Background(), "unknown", nil, nil)
	require.Error(t, err)
	assert.False(t, RetryableError(err))
}

func TestRetryableError(t *testing.T) {
	assert.True(t, RetryableError(NewNodeError(errors.New("503"), true)))
	assert.False(t, RetryableError(NewNodeError(errors.New("400"), false)))
	assert.False(t, RetryableError(errors.New("unclassified")))

	// classification survives wrapping
	wrapped := fmt.Errorf("node call: %w", NewNodeError(errors.New("503"), true))
	assert.True(t, RetryableError(wrapped))
}

func TestNodeIDContext(t *testing.T) {
	ctx := WithNodeID(context.Background(), "node-7")
	assert.Equal(t, "node-7", NodeIDFrom(ctx))
	assert.Equal(t, "", NodeIDFrom(context.Background()))
}

func TestConditionTrueFalse(t *testing.T) {
	e := NewConditionExecutor()
	input := map[string]interface{}{
		"fetch": map[string]interface{}{"status_code": 200},
	}

	result, err := e.Execute(context.Background(), "condition",
		input, map[string]interface{}{"expression": "output.fetch.status_code == 200"})
	require.NoError(t, err)
	assert.Equal(t, HandleTrue, result.Output["output"])

	result, err = e.Execute(context.Background(), "condition",
		input, map[string]interface{}{"expression": "output.fetch.status_code >= 500"})
	require.NoError(t, err)
	assert.Equal(t, HandleFalse, result.Output["output"])
}

func TestConditionDollarRewrite(t *testing.T) {
	e := NewConditionExecutor()
	ok, err := e.EvaluateBool(`$.user.plan == "pro"`, map[string]interface{}{
		"user": map[string]interface{}{"plan": "pro"},
	})
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestConditionProgramCache(t *testing.T) {
	e := NewConditionExecutor()
	input := map[string]interface{}{"n": 1}

	for i := 0; i < 5; i++ {
		_, err := e.EvaluateBool("output.n == 1", input)
		require.NoError(t, err)
	}
	assert.Equal(t, 1, e.CacheSize())

	_, err := e.EvaluateBool("output.n == 2", input)
	require.NoError(t, err)
	assert.Equal(t, 2, e.CacheSize())
}

func TestConditionErrors(t *testing.T) {
	e := NewConditionExecutor()

	_, err := e.Execute(context.Background(), "condition", nil, map[string]interface{}{})
	require.Error(t, err, "missing expression")
	assert.False(t, RetryableError(err))

	_, err = e.EvaluateBool("output.(((", nil)
	require.Error(t, err, "unparsable expression")

	_, err = e.EvaluateBool(`"not a bool"`, nil)
	require.Error(t, err, "non-boolean result")
}

func TestTransformMapping(t *testing.T) {
	e := NewTransformExecutor()
	input := map[string]interface{}{
		"fetch": map[string]interface{}{
			"body": map[string]interface{}{"user": map[string]interface{}{"id": "u1"}},
		},
	}

	result, err := e.Execute(context.Background(), "transform", input, map[string]interface{}{
		"mapping": map[string]interface{}{
			"user_id": "fetch.body.user.id",
		},
	})
	require.NoError(t, err)
	assert.Equal(t, map[string]interface{}{"user_id": "u1"}, result.Output)
}

func TestTransformPassthroughWithoutMapping(t *testing.T) {
	e := NewTransformExecutor()
	input := map[string]interface{}{"a": 1}

	result, err := e.Execute(context.Background(), "transform", input, map[string]interface{}{})
	require.NoError(t, err)
	assert.Equal(t, input, result.Output)
}

func TestTransformMissingPath(t *testing.T) {
	e := NewTransformExecutor()
	_, err := e.Execute(context.Background(), "transform", map[string]interface{}{"a": 1}, map[string]interface{}{
		"mapping": map[string]interface{}{"x": "a.b.c"},
	})
	require.Error(t, err)
	assert.False(t, RetryableError(err))
}

func TestFixtureSetCaptureModeNeverMatches(t *testing.T) {
	s := NewFixtureSet(&models.ReplayContext{
		Mode:     models.ReplayModeCapture,
		Fixtures: []models.Fixture{{RequestFingerprint: "fp1"}},
	})

	assert.False(t, s.Replaying())
	f, err := s.Lookup("fp1")
	require.NoError(t, err)
	assert.Nil(t, f)
}

func TestFixtureSetReplayHit(t *testing.T) {
	s := NewFixtureSet(&models.ReplayContext{
		Mode: models.ReplayModeReplay,
		Fixtures: []models.Fixture{{
			RequestFingerprint: "fp1",
			Response:           map[string]interface{}{"status_code": 200},
		}},
	})

	assert.True(t, s.Replaying())
	f, err := s.Lookup("fp1")
	require.NoError(t, err)
	require.NotNil(t, f)
	assert.Equal(t, 200, f.Response["status_code"])
}

func TestFixtureSetStrictMiss(t *testing.T) {
	strict := NewFixtureSet(&models.ReplayContext{Mode: models.ReplayModeReplay, StrictReplay: true})
	_, err := strict.Lookup("never-captured")
	require.Error(t, err)
	assert.Equal(t, models.CodeStrictReplayMiss, models.CodeOf(err))

	lenient := NewFixtureSet(&models.ReplayContext{Mode: models.ReplayModeReplay})
	f, err := lenient.Lookup("never-captured")
	require.NoError(t, err, "lenient replay lets the call go live")
	assert.Nil(t, f)
}

func TestRecorderCollects(t *testing.T) {
	r := NewRecorder()
	r.RecordAttempt(&models.ConnectorCallAttempt{ConnectorKey: "slack"})
	r.RecordFixture(models.Fixture{RequestFingerprint: "fp1"})
	r.RecordFixture(models.Fixture{RequestFingerprint: "fp2"})

	assert.Len(t, r.Attempts(), 1)
	assert.Len(t, r.Fixtures(), 2)

	// returned slices are copies
	fixtures := r.Fixtures()
	fixtures[0].RequestFingerprint = "mutated"
	assert.Equal(t, "fp1", r.Fixtures()[0].RequestFingerprint)
}
