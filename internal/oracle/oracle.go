// Package oracle provides LLM-backed intent classification for messages the
// keyword classifier cannot resolve, and intent-change detection for locked
// conversations. Oracle failures are results, not errors: callers always get
// a usable Classification or ChangeResult back.
package oracle

import (
	"context"
	"errors"

	"github.com/finanzas-ai/coordinator/internal/model"
)

// Classification is the oracle's verdict for an ambiguous message.
type Classification struct {
	Handler    model.HandlerID
	Confidence float64
	Reason     string

	// FromFallback is set when the oracle call failed or returned an
	// unparseable answer and the default handler was substituted.
	FromFallback bool
}

// ChangeResult is the oracle's verdict on whether a locked conversation
// should switch handlers.
type ChangeResult struct {
	Changed    bool
	NewHandler model.HandlerID
	Reason     string
	Confidence float64
}

// Context carries conversational hints for classification.
type Context struct {
	LastBotMessage string
	ActiveHandler  model.HandlerID
}

// Classifier is the interface for LLM-backed routing decisions.
type Classifier interface {
	// Classify resolves the handler for an ambiguous message.
	Classify(ctx context.Context, message string, convCtx Context) Classification

	// DetectChange decides whether a message mid-flow signals a switch to
	// a different handler.
	DetectChange(ctx context.Context, message string, current model.HandlerID, lastBotMessage string) ChangeResult

	// Name returns the provider name.
	Name() string
}

// Confidence levels attached to oracle verdicts.
const (
	OracleConfidence   = 0.75
	FallbackConfidence = 0.5
)

// Provider is the type of oracle provider.
type Provider string

const (
	ProviderOpenAI    Provider = "openai"
	ProviderAnthropic Provider = "anthropic"
)

// NewClassifier creates a classifier for the given provider.
func NewClassifier(provider Provider, apiKey, model string) (Classifier, error) {
	switch provider {
	case ProviderOpenAI:
		return NewOpenAIClassifier(apiKey, model)
	case ProviderAnthropic:
		return NewAnthropicClassifier(apiKey, model)
	default:
		return nil, errors.New("unknown oracle provider: " + string(provider))
	}
}

// fallbackClassification is returned when the oracle is unavailable or its
// answer cannot be parsed. Queries are read-only, so misrouting there is the
// cheapest mistake.
func fallbackClassification(reason string) Classification {
	return Classification{
		Handler:      model.HandlerQuery,
		Confidence:   FallbackConfidence,
		Reason:       reason,
		FromFallback: true,
	}
}

// noChange is returned when change detection fails; a locked conversation
// stays with its handler rather than bouncing on a guess.
func noChange(reason string) ChangeResult {
	return ChangeResult{Changed: false, Reason: reason}
}
