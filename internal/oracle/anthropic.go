package oracle

import (
	"context"
	"errors"
	"time"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
	"go.uber.org/zap"

	"github.com/finanzas-ai/coordinator/internal/model"
	"github.com/finanzas-ai/coordinator/pkg/logger"
	"github.com/finanzas-ai/coordinator/pkg/metrics"
)

const defaultAnthropicModel = "claude-3-5-haiku-20241022"

// AnthropicClassifier is the Anthropic-backed oracle.
type AnthropicClassifier struct {
	client *anthropic.Client
	model  string
}

// NewAnthropicClassifier creates a new Anthropic classifier.
func NewAnthropicClassifier(apiKey, model string) (*AnthropicClassifier, error) {
	if apiKey == "" {
		return nil, errors.New("Anthropic API key is required")
	}
	if model == "" {
		model = defaultAnthropicModel
	}

	return &AnthropicClassifier{
		client: anthropic.NewClient(option.WithAPIKey(apiKey)),
		model:  model,
	}, nil
}

// Name returns the provider name.
func (c *AnthropicClassifier) Name() string {
	return "anthropic"
}

// Classify resolves the handler for an ambiguous message.
func (c *AnthropicClassifier) Classify(ctx context.Context, message string, convCtx Context) Classification {
	start := time.Now()

	raw, err := c.complete(ctx, classifySystemPrompt, buildClassifyUser(message, convCtx))
	if err != nil {
		logger.Global().Warn("oracle classify failed", zap.String("provider", "anthropic"), zap.Error(err))
		metrics.RecordOracleCall("classify", "error", time.Since(start).Seconds())
		return fallbackClassification("oracle unavailable: " + err.Error())
	}

	handler, ok := parseHandlerLabel(raw)
	if !ok {
		logger.Global().Warn("oracle classify unparseable", zap.String("provider", "anthropic"), zap.String("raw", raw))
		metrics.RecordOracleCall("classify", "unparseable", time.Since(start).Seconds())
		return fallbackClassification("oracle answer unparseable")
	}

	metrics.RecordOracleCall("classify", "ok", time.Since(start).Seconds())
	return Classification{
		Handler:    handler,
		Confidence: OracleConfidence,
		Reason:     "oracle classification",
	}
}

// DetectChange decides whether a message mid-flow signals a handler switch.
func (c *AnthropicClassifier) DetectChange(ctx context.Context, message string, current model.HandlerID, lastBotMessage string) ChangeResult {
	start := time.Now()

	raw, err := c.complete(ctx, changeSystem(current), buildChangeUser(message, lastBotMessage))
	if err != nil {
		logger.Global().Warn("oracle change detection failed", zap.String("provider", "anthropic"), zap.Error(err))
		metrics.RecordOracleCall("detect_change", "error", time.Since(start).Seconds())
		return noChange("oracle unavailable: " + err.Error())
	}

	verdict, ok := parseChangeVerdict(raw)
	if !ok {
		logger.Global().Warn("oracle change verdict unparseable", zap.String("provider", "anthropic"), zap.String("raw", raw))
		metrics.RecordOracleCall("detect_change", "unparseable", time.Since(start).Seconds())
		return noChange("oracle verdict unparseable")
	}

	metrics.RecordOracleCall("detect_change", "ok", time.Since(start).Seconds())
	return changeResultFrom(verdict)
}

func (c *AnthropicClassifier) complete(ctx context.Context, system, user string) (string, error) {
	resp, err := c.client.Messages.New(ctx, anthropic.MessageNewParams{
		Model:     anthropic.F(c.model),
		MaxTokens: anthropic.F(int64(128)),
		System: anthropic.F([]anthropic.TextBlockParam{
			{
				Type: anthropic.F(anthropic.TextBlockParamTypeText),
				Text: anthropic.F(system),
			},
		}),
		Messages: anthropic.F([]anthropic.MessageParam{
			{
				Role: anthropic.F(anthropic.MessageParamRoleUser),
				Content: anthropic.F([]anthropic.ContentBlockParamUnion{
					anthropic.TextBlockParam{
						Type: anthropic.F(anthropic.TextBlockParamTypeText),
						Text: anthropic.F(user),
					},
				}),
			},
		}),
	})
	if err != nil {
		return "", err
	}

	var content string
	for _, block := range resp.Content {
		if block.Type == anthropic.ContentBlockTypeText {
			content += block.Text
		}
	}
	if content == "" {
		return "", errors.New("empty completion")
	}
	return content, nil
}
