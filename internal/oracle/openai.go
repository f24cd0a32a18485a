package oracle

import (
	"context"
	"errors"
	"time"

	"github.com/sashabaranov/go-openai"
	"go.uber.org/zap"

	"github.com/finanzas-ai/coordinator/internal/model"
	"github.com/finanzas-ai/coordinator/pkg/logger"
	"github.com/finanzas-ai/coordinator/pkg/metrics"
)

const defaultOpenAIModel = "gpt-4o-mini"

// OpenAIClassifier is the OpenAI-backed oracle.
type OpenAIClassifier struct {
	client *openai.Client
	model  string
}

// NewOpenAIClassifier creates a new OpenAI classifier.
func NewOpenAIClassifier(apiKey, model string) (*OpenAIClassifier, error) {
	if apiKey == "" {
		return nil, errors.New("OpenAI API key is required")
	}
	if model == "" {
		model = defaultOpenAIModel
	}

	return &OpenAIClassifier{
		client: openai.NewClient(apiKey),
		model:  model,
	}, nil
}

// Name returns the provider name.
func (c *OpenAIClassifier) Name() string {
	return "openai"
}

// Classify resolves the handler for an ambiguous message.
func (c *OpenAIClassifier) Classify(ctx context.Context, message string, convCtx Context) Classification {
	start := time.Now()

	raw, err := c.complete(ctx, classifySystemPrompt, buildClassifyUser(message, convCtx))
	if err != nil {
		logger.Global().Warn("oracle classify failed", zap.String("provider", "openai"), zap.Error(err))
		metrics.RecordOracleCall("classify", "error", time.Since(start).Seconds())
		return fallbackClassification("oracle unavailable: " + err.Error())
	}

	handler, ok := parseHandlerLabel(raw)
	if !ok {
		logger.Global().Warn("oracle classify unparseable", zap.String("provider", "openai"), zap.String("raw", raw))
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
func (c *OpenAIClassifier) DetectChange(ctx context.Context, message string, current model.HandlerID, lastBotMessage string) ChangeResult {
	start := time.Now()

	raw, err := c.complete(ctx, changeSystem(current), buildChangeUser(message, lastBotMessage))
	if err != nil {
		logger.Global().Warn("oracle change detection failed", zap.String("provider", "openai"), zap.Error(err))
		metrics.RecordOracleCall("detect_change", "error", time.Since(start).Seconds())
		return noChange("oracle unavailable: " + err.Error())
	}

	verdict, ok := parseChangeVerdict(raw)
	if !ok {
		logger.Global().Warn("oracle change verdict unparseable", zap.String("provider", "openai"), zap.String("raw", raw))
		metrics.RecordOracleCall("detect_change", "unparseable", time.Since(start).Seconds())
		return noChange("oracle verdict unparseable")
	}

	metrics.RecordOracleCall("detect_change", "ok", time.Since(start).Seconds())
	return changeResultFrom(verdict)
}

func (c *OpenAIClassifier) complete(ctx context.Context, system, user string) (string, error) {
	resp, err := c.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model: c.model,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: system},
			{Role: openai.ChatMessageRoleUser, Content: user},
		},
		MaxTokens:   128,
		Temperature: 0,
	})
	if err != nil {
		return "", err
	}

	if len(resp.Choices) == 0 {
		return "", errors.New("empty completion")
	}
	return resp.Choices[0].Message.Content, nil
}
