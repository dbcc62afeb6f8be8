package dag

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/loomery/loom/common/models"
)

func node(id, nodeType string) models.EditorNode {
	return models.EditorNode{ID: id, Type: nodeType}
}

func edge(src, tgt string) models.EditorEdge {
	return models.EditorEdge{ID: src + "-" + tgt, Source: src, Target: tgt}
}

func TestBuildLinear(t *testing.T) {
	d, err := Build(
		[]models.EditorNode{node("a", "trigger"), node("b", "http.request"), node("c", "transform")},
		[]models.EditorEdge{edge("a", "b"), edge("b", "c")},
		nil,
	)
	require.NoError(t, err)

	assert.Equal(t, []string{"a"}, d.EntryNodes)
	assert.Equal(t, []string{"c"}, d.ExitNodes)
	assert.Equal(t, []string{"a", "b", "c"}, d.Order)
	assert.Equal(t, 0, d.Levels["a"])
	assert.Equal(t, 1, d.Levels["b"])
	assert.Equal(t, 2, d.Levels["c"])
}

func TestBuildDiamondLevels(t *testing.T) {
	d, err := Build(
		[]models.EditorNode{node("a", "trigger"), node("b", "http.request"), node("c", "http.request"), node("d", "transform")},
		[]models.EditorEdge{edge("a", "b"), edge("a", "c"), edge("b", "d"), edge("c", "d")},
		nil,
	)
	require.NoError(t, err)

	// b and c sit on the same parallel level, d waits for both
	assert.Equal(t, 1, d.Levels["b"])
	assert.Equal(t, 1, d.Levels["c"])
	assert.Equal(t, 2, d.Levels["d"])
	assert.Equal(t, []string{"a", "b", "c", "d"}, d.Order)
	assert.ElementsMatch(t, []string{"b", "c"}, d.ReverseEdges["d"])
}

func TestBuildCycleDetected(t *testing.T) {
	_, err := Build(
		[]models.EditorNode{node("a", "trigger"), node("b", "http.request"), node("c", "http.request")},
		[]models.EditorEdge{edge("a", "b"), edge("b", "c"), edge("c", "b")},
		nil,
	)
	require.Error(t, err)
	assert.Equal(t, models.CodeCycleDetected, models.CodeOf(err))
}

func TestBuildNoEntry(t *testing.T) {
	_, err := Build(
		[]models.EditorNode{node("a", "http.request"), node("b", "http.request")},
		[]models.EditorEdge{edge("a", "b"), edge("b", "a")},
		nil,
	)
	require.Error(t, err)
	assert.Equal(t, models.CodeNoEntry, models.CodeOf(err))
}

func TestBuildDanglingEdge(t *testing.T) {
	_, err := Build(
		[]models.EditorNode{node("a", "trigger")},
		[]models.EditorEdge{edge("a", "ghost")},
		nil,
	)
	require.Error(t, err)
	assert.Equal(t, models.CodeInvalidEdge, models.CodeOf(err))
}

func TestBuildDuplicateNodeID(t *testing.T) {
	_, err := Build(
		[]models.EditorNode{node("a", "trigger"), node("a", "transform")},
		nil,
		nil,
	)
	require.Error(t, err)
	assert.Equal(t, models.CodeInvalidEdge, models.CodeOf(err))
}

func TestEdgeLookupAndHandles(t *testing.T) {
	edges := []models.EditorEdge{
		{ID: "e1", Source: "cond", Target: "yes", SourceHandle: "true"},
		{ID: "e2", Source: "cond", Target: "no", SourceHandle: "false"},
	}
	d, err := Build(
		[]models.EditorNode{node("cond", "condition"), node("yes", "http.request"), node("no", "http.request")},
		edges,
		nil,
	)
	require.NoError(t, err)

	require.NotNil(t, d.Edge("cond", "yes"))
	assert.Equal(t, "true", d.Edge("cond", "yes").SourceHandle)
	assert.Equal(t, "false", d.Edge("cond", "no").SourceHandle)
	assert.Nil(t, d.Edge("yes", "no"))
	assert.True(t, d.IsCondition("cond"))
	assert.False(t, d.IsCondition("yes"))
}

func TestBuildKindFuncOverridesDefault(t *testing.T) {
	kindOf := func(nodeType string) models.NodeKind {
		if nodeType == "branch.custom" {
			return models.NodeKindCondition
		}
		return models.NodeKindAction
	}
	d, err := Build([]models.EditorNode{node("x", "branch.custom")}, nil, kindOf)
	require.NoError(t, err)
	assert.True(t, d.IsCondition("x"))
}

func TestParse(t *testing.T) {
	raw := []byte(`{
		"nodes": [
			{"id": "start", "type": "trigger", "data": {"label": "Start"}},
			{"id": "call", "type": "http.request", "data": {"config": {"url": "https://api.example.com"}}}
		],
		"edges": [{"id": "e1", "source": "start", "target": "call"}]
	}`)

	d, err := Parse(raw, nil)
	require.NoError(t, err)
	assert.Equal(t, "Start", d.Nodes["start"].Label)
	assert.Equal(t, "https://api.example.com", d.Nodes["call"].Config["url"])
	assert.Equal(t, []string{"start"}, d.EntryNodes)
}

func TestParseInvalidJSON(t *testing.T) {
	_, err := Parse([]byte(`{"nodes": [`), nil)
	require.Error(t, err)
}

func TestOrderIsDeterministic(t *testing.T) {
	nodes := []models.EditorNode{node("t", "trigger"), node("z", "http.request"), node("m", "http.request"), node("a", "http.request")}
	edges := []models.EditorEdge{edge("t", "z"), edge("t", "m"), edge("t", "a")}

	first, err := Build(nodes, edges, nil)
	require.NoError(t, err)
	for i := 0; i < 10; i++ {
		again, err := Build(nodes, edges, nil)
		require.NoError(t, err)
		assert.Equal(t, first.Order, again.Order)
	}
	// siblings come out sorted
	assert.Equal(t, []string{"t", "a", "m", "z"}, first.Order)
}
