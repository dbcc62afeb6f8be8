package executor

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/google/cel-go/cel"
)

// Branch handles produced by condition nodes
const (
	HandleTrue  = "true"
	HandleFalse = "false"
)

// ConditionExecutor evaluates a node's CEL expression against the
// merged upstream input and emits the selected branch handle as
// {"output": "true"|"false"}. Compiled programs are cached per
// normalised expression.
type ConditionExecutor struct {
	cache map[string]cel.Program
	mu    sync.RWMutex
}

// NewConditionExecutor creates a condition executor with caching
func NewConditionExecutor() *ConditionExecutor {
	return &ConditionExecutor{
		cache: make(map[string]cel.Program),
	}
}

// Execute evaluates the expression in config["expression"]
func (e *ConditionExecutor) Execute(ctx context.Context, nodeType string, input, config map[string]interface{}) (*NodeResult, error) {
	expr, _ := config["expression"].(string)
	if expr == "" {
		return nil, NewNodeError(fmt.Errorf("condition node has no expression"), false)
	}

	ok, err := e.EvaluateBool(expr, input)
	if err != nil {
		return nil, NewNodeError(err, false)
	}

	handle := HandleFalse
	if ok {
		handle = HandleTrue
	}

	return &NodeResult{
		Output: map[string]interface{}{"output": handle},
	}, nil
}

// EvaluateBool evaluates a CEL expression against the merged input.
// JSONPath-style $.field is rewritten to output.field so editor
// expressions keep working.
func (e *ConditionExecutor) EvaluateBool(expr string, input map[string]interface{}) (bool, error) {
	normalized := strings.ReplaceAll(expr, "$.", "output.")

	e.mu.RLock()
	prg, exists := e.cache[normalized]
	e.mu.RUnlock()

	if !exists {
		var err error
		prg, err = compileCEL(normalized)
		if err != nil {
			return false, err
		}

		e.mu.Lock()
		e.cache[normalized] = prg
		e.mu.Unlock()
	}

	out, _, err := prg.Eval(map[string]interface{}{
		"output": input,
	})
	if err != nil {
		return false, fmt.Errorf("CEL evaluation error: %w", err)
	}

	result, ok := out.Value().(bool)
	if !ok {
		return false, fmt.Errorf("CEL expression did not return boolean, got %T", out.Value())
	}

	return result, nil
}

// CacheSize returns the number of cached programs
func (e *ConditionExecutor) CacheSize() int {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return len(e.cache)
}

func compileCEL(expr string) (cel.Program, error) {
	env, err := cel.NewEnv(
		cel.Variable("output", cel.DynType),
	)
	if err != nil {
		return nil, fmt.Errorf("create CEL env: %w", err)
	}

	ast, issues := env.Compile(expr)
	if issues != nil && issues.Err() != nil {
		return nil, fmt.Errorf("CEL compilation error: %w", issues.Err())
	}

	prg, err := env.Program(ast)
	if err != nil {
		return nil, fmt.Errorf("create CEL program: %w", err)
	}

	return prg, nil
}
