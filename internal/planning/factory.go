// internal/planning/factory.go
package planning

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/xkilldash9x/focusfix/internal/config"
	"github.com/xkilldash9x/focusfix/internal/llmclient"
)

// New builds the planner selected by agent.planner. The rule-based planner
// is always constructed; the LLM strategy wraps it.
func New(ctx context.Context, cfg config.AgentConfig, logger *zap.Logger) (Planner, error) {
	rules := NewRuleBased(logger, cfg.WalkMaxSteps)
	switch cfg.Planner {
	case "", config.PlannerRules:
		return rules, nil
	case config.PlannerLLM:
		client, err := llmclient.NewClient(ctx, cfg.LLM, logger)
		if err != nil {
			return nil, fmt.Errorf("planning: llm strategy: %w", err)
		}
		return NewLLM(client, rules, logger, cfg.LLM.APITimeout), nil
	}
	return nil, fmt.Errorf("planning: unknown planner strategy %q", cfg.Planner)
}
