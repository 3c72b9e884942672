// internal/llmclient/gemini_client.go
package llmclient

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
	"go.uber.org/zap"
	"google.golang.org/genai"

	"github.com/xkilldash9x/focusfix/internal/config"
)

// GeminiClient generates text through the Gemini API.
type GeminiClient struct {
	client     *genai.Client
	config     config.LLMModelConfig
	logger     *zap.Logger
	newBackOff func() backoff.BackOff
}

// NewGeminiClient initializes the client.
func NewGeminiClient(ctx context.Context, cfg config.LLMModelConfig, logger *zap.Logger) (*GeminiClient, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("Gemini API Key is required")
	}
	if cfg.Model == "" {
		return nil, fmt.Errorf("Gemini model name is required")
	}

	cc := &genai.ClientConfig{
		APIKey:  cfg.APIKey,
		Backend: genai.BackendGeminiAPI,
	}
	if cfg.Endpoint != "" {
		cc.HTTPOptions = genai.HTTPOptions{BaseURL: cfg.Endpoint}
	}
	client, err := genai.NewClient(ctx, cc)
	if err != nil {
		return nil, fmt.Errorf("failed to create Gemini client: %w", err)
	}

	return &GeminiClient{
		client: client,
		config: cfg,
		logger: logger.Named("llm_client.gemini"),
		newBackOff: func() backoff.BackOff {
			b := backoff.NewExponentialBackOff()
			b.MaxElapsedTime = 2 * time.Minute
			b.MaxInterval = 30 * time.Second
			return b
		},
	}, nil
}

// Generate sends the prompts and returns the first candidate's text,
// retrying transient failures.
func (c *GeminiClient) Generate(ctx context.Context, systemPrompt, userPrompt string) (string, error) {
	genCfg := &genai.GenerateContentConfig{
		Temperature:      genai.Ptr(c.config.Temperature),
		MaxOutputTokens:  int32(c.config.MaxTokens),
		ResponseMIMEType: "application/json",
	}
	if systemPrompt != "" {
		genCfg.SystemInstruction = genai.NewContentFromText(systemPrompt, genai.RoleUser)
	}

	var responseContent string
	operation := func() error {
		callCtx := ctx
		if c.config.APITimeout > 0 {
			var cancel context.CancelFunc
			callCtx, cancel = context.WithTimeout(ctx, c.config.APITimeout)
			defer cancel()
		}

		startTime := time.Now()
		resp, err := c.client.Models.GenerateContent(callCtx, c.config.Model, genai.Text(userPrompt), genCfg)
		duration := time.Since(startTime)
		if err != nil {
			if errors.Is(ctx.Err(), context.Canceled) || errors.Is(ctx.Err(), context.DeadlineExceeded) {
				return backoff.Permanent(err)
			}
			c.logger.Warn("Error during LLM request, retrying...", zap.Error(err))
			return fmt.Errorf("gemini request failed: %w", err)
		}

		if len(resp.Candidates) == 0 {
			return backoff.Permanent(fmt.Errorf("gemini API returned no candidates"))
		}
		candidate := resp.Candidates[0]
		if candidate.Content == nil || len(candidate.Content.Parts) == 0 {
			switch candidate.FinishReason {
			case genai.FinishReasonSafety, genai.FinishReasonBlocklist:
				return backoff.Permanent(fmt.Errorf("gemini API blocked the request (Reason: %s)", candidate.FinishReason))
			}
			return fmt.Errorf("gemini API returned empty content parts (Reason: %s)", candidate.FinishReason)
		}

		fields := []zap.Field{zap.Duration("duration", duration), zap.String("model", c.config.Model)}
		if u := resp.UsageMetadata; u != nil {
			fields = append(fields,
				zap.Int32("prompt_tokens", u.PromptTokenCount),
				zap.Int32("completion_tokens", u.CandidatesTokenCount),
				zap.Int32("total_tokens", u.TotalTokenCount))
		}
		c.logger.Info("LLM generation complete (Gemini)", fields...)

		responseContent = strings.TrimSpace(resp.Text())
		return nil
	}

	if err := backoff.Retry(operation, backoff.WithContext(c.newBackOff(), ctx)); err != nil {
		return "", err
	}
	return responseContent, nil
}
