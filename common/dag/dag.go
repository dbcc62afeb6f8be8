package dag

import (
	"encoding/json"
	"fmt"
	"sort"

	"github.com/loomery/loom/common/models"
)

// Node is one vertex of the compiled graph
type Node struct {
	ID     string
	Type   string
	Kind   models.NodeKind
	Label  string
	Config map[string]interface{}
}

// EdgeInfo carries the branch handle and optional predicate of an edge.
// Condition is an opaque CEL expression evaluated on the source side;
// the scheduler only consumes the resulting output handle.
type EdgeInfo struct {
	ID           string
	Source       string
	Target       string
	SourceHandle string
	TargetHandle string
	Condition    string
}

type edgeKey struct {
	src string
	tgt string
}

// DAG is the validated directed acyclic graph of a workflow
type DAG struct {
	Nodes        map[string]*Node
	Edges        map[string][]string
	ReverseEdges map[string][]string
	EntryNodes   []string
	ExitNodes    []string
	Order        []string
	Levels       map[string]int

	edgeMap map[edgeKey]*EdgeInfo
}

// KindFunc resolves a node type to its catalog kind. A nil KindFunc
// treats the literal type "condition" as the condition kind and
// everything else as an action.
type KindFunc func(nodeType string) models.NodeKind

// Build compiles an editor-shaped definition into a validated DAG
func Build(nodes []models.EditorNode, edges []models.EditorEdge, kindOf KindFunc) (*DAG, error) {
	if kindOf == nil {
		kindOf = defaultKind
	}

	d := &DAG{
		Nodes:        make(map[string]*Node, len(nodes)),
		Edges:        make(map[string][]string),
		ReverseEdges: make(map[string][]string),
		Levels:       make(map[string]int, len(nodes)),
		edgeMap:      make(map[edgeKey]*EdgeInfo, len(edges)),
	}

	for _, n := range nodes {
		if _, dup := d.Nodes[n.ID]; dup {
			return nil, models.NewCodedError(models.CodeInvalidEdge, fmt.Sprintf("duplicate node id %q", n.ID))
		}
		d.Nodes[n.ID] = &Node{
			ID:     n.ID,
			Type:   n.Type,
			Kind:   kindOf(n.Type),
			Label:  n.Data.Label,
			Config: n.Data.Config,
		}
	}

	for _, e := range edges {
		if _, ok := d.Nodes[e.Source]; !ok {
			return nil, models.NewCodedError(models.CodeInvalidEdge, fmt.Sprintf("edge %q references missing source %q", e.ID, e.Source))
		}
		if _, ok := d.Nodes[e.Target]; !ok {
			return nil, models.NewCodedError(models.CodeInvalidEdge, fmt.Sprintf("edge %q references missing target %q", e.ID, e.Target))
		}

		d.Edges[e.Source] = append(d.Edges[e.Source], e.Target)
		d.ReverseEdges[e.Target] = append(d.ReverseEdges[e.Target], e.Source)
		d.edgeMap[edgeKey{e.Source, e.Target}] = &EdgeInfo{
			ID:           e.ID,
			Source:       e.Source,
			Target:       e.Target,
			SourceHandle: e.SourceHandle,
			TargetHandle: e.TargetHandle,
			Condition:    e.Condition,
		}
	}

	for id := range d.Nodes {
		if len(d.ReverseEdges[id]) == 0 {
			d.EntryNodes = append(d.EntryNodes, id)
		}
		if len(d.Edges[id]) == 0 {
			d.ExitNodes = append(d.ExitNodes, id)
		}
	}
	sort.Strings(d.EntryNodes)
	sort.Strings(d.ExitNodes)

	if len(d.Nodes) > 0 && len(d.EntryNodes) == 0 {
		return nil, models.NewCodedError(models.CodeNoEntry, "no node has in-degree zero")
	}

	if err := d.detectCycles(); err != nil {
		return nil, err
	}

	d.computeOrder()
	d.computeLevels()

	return d, nil
}

// Parse decodes editor JSON {nodes, edges} and builds the DAG
func Parse(raw []byte, kindOf KindFunc) (*DAG, error) {
	var def struct {
		Nodes []models.EditorNode `json:"nodes"`
		Edges []models.EditorEdge `json:"edges"`
	}
	if err := json.Unmarshal(raw, &def); err != nil {
		return nil, fmt.Errorf("parse workflow definition: %w", err)
	}
	return Build(def.Nodes, def.Edges, kindOf)
}

// Edge returns the edge info for (src, tgt), or nil when absent
func (d *DAG) Edge(src, tgt string) *EdgeInfo {
	return d.edgeMap[edgeKey{src, tgt}]
}

// IsCondition reports whether the node routes by branch handle
func (d *DAG) IsCondition(nodeID string) bool {
	n, ok := d.Nodes[nodeID]
	return ok && n.Kind == models.NodeKindCondition
}

// detectCycles runs a three-colour DFS; a back edge to a grey node
// means a cycle.
func (d *DAG) detectCycles() error {
	const (
		white = 0
		grey  = 1
		black = 2
	)

	colour := make(map[string]int, len(d.Nodes))

	var visit func(id string) error
	visit = func(id string) error {
		colour[id] = grey
		for _, next := range d.Edges[id] {
			switch colour[next] {
			case grey:
				return models.NewCodedError(models.CodeCycleDetected, fmt.Sprintf("cycle through %q", next))
			case white:
				if err := visit(next); err != nil {
					return err
				}
			}
		}
		colour[id] = black
		return nil
	}

	ids := make([]string, 0, len(d.Nodes))
	for id := range d.Nodes {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	for _, id := range ids {
		if colour[id] == white {
			if err := visit(id); err != nil {
				return err
			}
		}
	}

	return nil
}

// computeOrder produces a deterministic topological order (Kahn's
// algorithm with a sorted frontier).
func (d *DAG) computeOrder() {
	inDegree := make(map[string]int, len(d.Nodes))
	for id := range d.Nodes {
		inDegree[id] = len(d.ReverseEdges[id])
	}

	frontier := append([]string(nil), d.EntryNodes...)
	d.Order = make([]string, 0, len(d.Nodes))

	for len(frontier) > 0 {
		sort.Strings(frontier)
		id := frontier[0]
		frontier = frontier[1:]

		d.Order = append(d.Order, id)
		for _, next := range d.Edges[id] {
			inDegree[next]--
			if inDegree[next] == 0 {
				frontier = append(frontier, next)
			}
		}
	}
}

// computeLevels assigns each node its parallel dispatch level: entries
// at 0, otherwise one past the deepest upstream.
func (d *DAG) computeLevels() {
	for _, id := range d.Order {
		level := 0
		for _, up := range d.ReverseEdges[id] {
			if d.Levels[up]+1 > level {
				level = d.Levels[up] + 1
			}
		}
		d.Levels[id] = level
	}
}

func defaultKind(nodeType string) models.NodeKind {
	if nodeType == "condition" {
		return models.NodeKindCondition
	}
	return models.NodeKindAction
}
