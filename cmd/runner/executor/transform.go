package executor

import (
	"context"
	"fmt"
	"strings"
)

// TransformExecutor reshapes merged upstream input into a new output
// map. Config "mapping" is {output_key: "source.path"} where the path
// walks the input by dotted segments; a leading upstream node id
// selects that node's output.
type TransformExecutor struct{}

// NewTransformExecutor creates a transform executor
func NewTransformExecutor() *TransformExecutor {
	return &TransformExecutor{}
}

// Execute applies the configured mapping. Without a mapping the merged
// input passes through unchanged.
func (e *TransformExecutor) Execute(ctx context.Context, nodeType string, input, config map[string]interface{}) (*NodeResult, error) {
	mapping, ok := config["mapping"].(map[string]interface{})
	if !ok || len(mapping) == 0 {
		return &NodeResult{Output: input}, nil
	}

	output := make(map[string]interface{}, len(mapping))
	for key, rawPath := range mapping {
		path, ok := rawPath.(string)
		if !ok {
			return nil, NewNodeError(fmt.Errorf("mapping for %q is not a path", key), false)
		}
		value, found := lookupPath(input, path)
		if !found {
			return nil, NewNodeError(fmt.Errorf("mapping path %q not present in input", path), false)
		}
		output[key] = value
	}

	return &NodeResult{Output: output}, nil
}

func lookupPath(input map[string]interface{}, path string) (interface{}, bool) {
	segments := strings.Split(path, ".")
	var current interface{} = input
	for _, seg := range segments {
		m, ok := current.(map[string]interface{})
		if !ok {
			return nil, false
		}
		current, ok = m[seg]
		if !ok {
			return nil, false
		}
	}
	return current, true
}
