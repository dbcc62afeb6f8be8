package contract

import (
	"fmt"
	"sync"

	"github.com/loomery/loom/common/models"
	"github.com/santhosh-tekuri/jsonschema/v6"
)

// Catalog resolves node types to their catalog definitions
type Catalog interface {
	Lookup(nodeType string) (*models.CatalogNode, bool)
}

// StaticCatalog is an in-memory catalog. Register validates that every
// declared schema is itself a well-formed JSON Schema document, so the
// compiler never has to re-check schema shape per edge.
type StaticCatalog struct {
	mu    sync.RWMutex
	nodes map[string]*models.CatalogNode
}

// NewStaticCatalog creates an empty catalog
func NewStaticCatalog() *StaticCatalog {
	return &StaticCatalog{nodes: make(map[string]*models.CatalogNode)}
}

// Register adds a node type definition after validating its schemas
func (c *StaticCatalog) Register(node *models.CatalogNode) error {
	if node.Type == "" {
		return fmt.Errorf("catalog node requires a type")
	}

	for name, schema := range map[string]map[string]interface{}{
		"input_schema":  node.InputSchema,
		"output_schema": node.OutputSchema,
		"config_schema": node.ConfigSchema,
	} {
		if schema == nil {
			continue
		}
		if err := compileSchema(schema); err != nil {
			return fmt.Errorf("node type %q: invalid %s: %w", node.Type, name, err)
		}
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	c.nodes[node.Type] = node
	return nil
}

// Lookup returns the definition for a node type
func (c *StaticCatalog) Lookup(nodeType string) (*models.CatalogNode, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	node, ok := c.nodes[nodeType]
	return node, ok
}

// KindOf adapts the catalog to the DAG builder's kind resolver
func (c *StaticCatalog) KindOf(nodeType string) models.NodeKind {
	if node, ok := c.Lookup(nodeType); ok {
		return node.NodeKind
	}
	return models.NodeKindAction
}

func compileSchema(schema map[string]interface{}) error {
	compiler := jsonschema.NewCompiler()
	if err := compiler.AddResource("node_schema.json", normalise(schema)); err != nil {
		return err
	}
	if _, err := compiler.Compile("node_schema.json"); err != nil {
		return err
	}
	return nil
}

// normalise converts map[string]interface{} trees into the plain shape
// the jsonschema compiler expects
func normalise(v interface{}) interface{} {
	switch t := v.(type) {
	case map[string]interface{}:
		out := make(map[string]interface{}, len(t))
		for k, val := range t {
			out[k] = normalise(val)
		}
		return out
	case []interface{}:
		out := make([]interface{}, len(t))
		for i, val := range t {
			out[i] = normalise(val)
		}
		return out
	default:
		return v
	}
}
