package contract

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"sort"

	"github.com/loomery/loom/common/models"
)

// GraphHash computes the content address of a workflow graph:
// hex(sha256(canonical_json(nodes, edges))). Nodes and edges are sorted
// by id before marshalling, so reordering that preserves content yields
// the same hash. Canvas positions are excluded: moving a node around
// the editor does not change the graph's contracts.
func GraphHash(nodes []models.EditorNode, edges []models.EditorEdge) (string, error) {
	type canonicalNode struct {
		ID     string                 `json:"id"`
		Type   string                 `json:"type"`
		Config map[string]interface{} `json:"config,omitempty"`
	}
	type canonicalEdge struct {
		ID           string `json:"id"`
		Source       string `json:"source"`
		Target       string `json:"target"`
		SourceHandle string `json:"sourceHandle,omitempty"`
		TargetHandle string `json:"targetHandle,omitempty"`
		Condition    string `json:"condition,omitempty"`
	}

	cn := make([]canonicalNode, 0, len(nodes))
	for _, n := range nodes {
		cn = append(cn, canonicalNode{ID: n.ID, Type: n.Type, Config: n.Data.Config})
	}
	sort.Slice(cn, func(i, j int) bool { return cn[i].ID < cn[j].ID })

	ce := make([]canonicalEdge, 0, len(edges))
	for _, e := range edges {
		ce = append(ce, canonicalEdge{
			ID:           e.ID,
			Source:       e.Source,
			Target:       e.Target,
			SourceHandle: e.SourceHandle,
			TargetHandle: e.TargetHandle,
			Condition:    e.Condition,
		})
	}
	sort.Slice(ce, func(i, j int) bool { return ce[i].ID < ce[j].ID })

	// encoding/json writes map keys in sorted order, which makes the
	// marshalled config blocks canonical too.
	payload, err := json.Marshal(struct {
		Nodes []canonicalNode `json:"nodes"`
		Edges []canonicalEdge `json:"edges"`
	}{cn, ce})
	if err != nil {
		return "", fmt.Errorf("canonicalise graph: %w", err)
	}

	sum := sha256.Sum256(payload)
	return hex.EncodeToString(sum[:]), nil
}
