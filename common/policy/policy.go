package policy

import (
	"fmt"

	"github.com/loomery/loom/common/models"
)

// Violations walks each node of a workflow against the workspace policy
// and returns every breach. A disabled or absent policy yields none.
// This is a pure function: it reads nothing but its arguments.
func Violations(policy *models.WorkspacePolicy, nodes []models.EditorNode) []models.PolicyViolation {
	if policy == nil || !policy.Enabled {
		return nil
	}

	var violations []models.PolicyViolation
	var totalCostUSD float64
	var totalTokens int64

	allowedTypes := toSet(policy.AllowedNodeTypes)
	blockedTypes := toSet(policy.BlockedNodeTypes)
	allowedModels := toSet(policy.AllowedAIModels)
	blockedModels := toSet(policy.BlockedAIModels)

	for _, node := range nodes {
		if blockedTypes[node.Type] {
			violations = append(violations, models.PolicyViolation{
				Code:    models.CodePolicyNodeBlocked,
				NodeID:  node.ID,
				Message: fmt.Sprintf("node type %q is blocked by workspace policy", node.Type),
			})
		} else if len(allowedTypes) > 0 && !allowedTypes[node.Type] {
			violations = append(violations, models.PolicyViolation{
				Code:    models.CodePolicyNodeBlocked,
				NodeID:  node.ID,
				Message: fmt.Sprintf("node type %q is not in the workspace allow list", node.Type),
			})
		}

		totalCostUSD += configFloat(node.Data.Config, "estimated_cost_usd")
		totalTokens += int64(configFloat(node.Data.Config, "max_tokens"))

		if model := configString(node.Data.Config, "model"); model != "" {
			if blockedModels[model] {
				violations = append(violations, models.PolicyViolation{
					Code:    models.CodePolicyModelBlocked,
					NodeID:  node.ID,
					Message: fmt.Sprintf("AI model %q is blocked by workspace policy", model),
				})
			} else if len(allowedModels) > 0 && !allowedModels[model] {
				violations = append(violations, models.PolicyViolation{
					Code:    models.CodePolicyModelBlocked,
					NodeID:  node.ID,
					Message: fmt.Sprintf("AI model %q is not in the workspace allow list", model),
				})
			}
		}
	}

	if policy.MaxExecutionCostUSD != nil && totalCostUSD > *policy.MaxExecutionCostUSD {
		violations = append(violations, models.PolicyViolation{
			Code:    models.CodePolicyCostExceeded,
			Message: fmt.Sprintf("estimated cost $%.4f exceeds the workspace cap $%.4f", totalCostUSD, *policy.MaxExecutionCostUSD),
		})
	}

	if policy.MaxAITokens != nil && totalTokens > *policy.MaxAITokens {
		violations = append(violations, models.PolicyViolation{
			Code:    models.CodePolicyTokensExceeded,
			Message: fmt.Sprintf("estimated %d AI tokens exceed the workspace cap %d", totalTokens, *policy.MaxAITokens),
		})
	}

	return violations
}

func toSet(items []string) map[string]bool {
	if len(items) == 0 {
		return nil
	}
	set := make(map[string]bool, len(items))
	for _, item := range items {
		set[item] = true
	}
	return set
}

func configFloat(config map[string]interface{}, key string) float64 {
	if config == nil {
		return 0
	}
	switch v := config[key].(type) {
	case float64:
		return v
	case int:
		return float64(v)
	case int64:
		return float64(v)
	}
	return 0
}

func configString(config map[string]interface{}, key string) string {
	if config == nil {
		return ""
	}
	s, _ := config[key].(string)
	return s
}
