package contract

import (
	"fmt"

	"github.com/loomery/loom/common/models"
)

// DefaultCatalog returns a catalog seeded with the built-in node types.
// Connector-specific types are registered on top of these at startup.
func DefaultCatalog() (*StaticCatalog, error) {
	c := NewStaticCatalog()

	builtins := []*models.CatalogNode{
		{
			Type:     "trigger",
			NodeKind: models.NodeKindTrigger,
			OutputSchema: map[string]interface{}{
				"type": "object",
			},
		},
		{
			Type:     "condition",
			NodeKind: models.NodeKindCondition,
			ConfigSchema: map[string]interface{}{
				"type":     "object",
				"required": []interface{}{"expression"},
				"properties": map[string]interface{}{
					"expression": map[string]interface{}{"type": "string"},
				},
			},
			OutputSchema: map[string]interface{}{
				"type": "object",
				"properties": map[string]interface{}{
					"output": map[string]interface{}{"type": "string"},
				},
			},
		},
		{
			Type:     "transform",
			NodeKind: models.NodeKindTransform,
			ConfigSchema: map[string]interface{}{
				"type": "object",
				"properties": map[string]interface{}{
					"mapping": map[string]interface{}{"type": "object"},
				},
			},
		},
		{
			Type:     "http.request",
			NodeKind: models.NodeKindAction,
			ConfigSchema: map[string]interface{}{
				"type":     "object",
				"required": []interface{}{"url"},
				"properties": map[string]interface{}{
					"url":           map[string]interface{}{"type": "string"},
					"method":        map[string]interface{}{"type": "string"},
					"headers":       map[string]interface{}{"type": "object"},
					"body":          map[string]interface{}{"type": "object"},
					"credential_id": map[string]interface{}{"type": "string"},
				},
			},
			OutputSchema: map[string]interface{}{
				"type": "object",
				"properties": map[string]interface{}{
					"status_code": map[string]interface{}{"type": "integer"},
					"body":        map[string]interface{}{},
				},
			},
			CostHintUSD:   0.0005,
			LatencyHintMS: 500,
		},
		{
			Type:     "webhook.send",
			NodeKind: models.NodeKindAction,
			ConfigSchema: map[string]interface{}{
				"type":     "object",
				"required": []interface{}{"url"},
				"properties": map[string]interface{}{
					"url":  map[string]interface{}{"type": "string"},
					"body": map[string]interface{}{"type": "object"},
				},
			},
			CostHintUSD:   0.0005,
			LatencyHintMS: 500,
		},
		{
			Type:     "ai.generate",
			NodeKind: models.NodeKindAI,
			ConfigSchema: map[string]interface{}{
				"type": "object",
				"properties": map[string]interface{}{
					"model":         map[string]interface{}{"type": "string"},
					"prompt":        map[string]interface{}{"type": "string"},
					"credential_id": map[string]interface{}{"type": "string"},
				},
			},
			CredentialType: "api_key",
			CostHintUSD:    0.0200,
			LatencyHintMS:  4000,
		},
		{
			Type:     "storage.put",
			NodeKind: models.NodeKindAction,
			ConfigSchema: map[string]interface{}{
				"type":     "object",
				"required": []interface{}{"bucket", "key"},
				"properties": map[string]interface{}{
					"bucket": map[string]interface{}{"type": "string"},
					"key":    map[string]interface{}{"type": "string"},
				},
			},
			CostHintUSD:   0.0010,
			LatencyHintMS: 200,
		},
	}

	for _, node := range builtins {
		if err := c.Register(node); err != nil {
			return nil, fmt.Errorf("register builtin %q: %w", node.Type, err)
		}
	}
	return c, nil
}
