// internal/llmclient/factory.go
package llmclient

import (
	"context"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/xkilldash9x/focusfix/internal/config"
)

// NewClient creates the client serving the configured model. Only Gemini
// models are supported.
func NewClient(ctx context.Context, cfg config.LLMModelConfig, logger *zap.Logger) (*GeminiClient, error) {
	if !strings.HasPrefix(cfg.Model, "gemini") {
		return nil, fmt.Errorf("unknown or unsupported LLM model configured: '%s'. Supported: [gemini-*]", cfg.Model)
	}
	return NewGeminiClient(ctx, cfg, logger)
}
