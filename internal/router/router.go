// Package router resolves which handler should process an inbound message.
// Resolution is layered: reserved commands first, then the onboarding gate,
// then the session lock with its intent-change check, then the keyword
// classifier, and only last the oracle.
package router

import (
	"context"
	"strings"
	"time"
	"unicode"

	"go.uber.org/zap"

	"github.com/finanzas-ai/coordinator/internal/intent"
	"github.com/finanzas-ai/coordinator/internal/model"
	"github.com/finanzas-ai/coordinator/internal/oracle"
	"github.com/finanzas-ai/coordinator/pkg/logger"
	"github.com/finanzas-ai/coordinator/pkg/metrics"
)

// Confidence levels by resolution method.
const (
	CommandConfidence    = 1.0
	ForcedConfidence     = 1.0
	OnboardingConfidence = 1.0
	LockedConfidence     = 1.0
	KeywordConfidence    = 0.85
	ReclassifyConfidence = 0.9
)

// RouteContext is the conversation state the router needs to decide.
type RouteContext struct {
	OnboardingCompleted bool
	Locked              bool
	ActiveHandler       model.HandlerID
	LastBotMessage      string

	// ForcedHandler bypasses classification entirely when set.
	ForcedHandler model.HandlerID
}

// Router turns messages into routing decisions.
type Router struct {
	oracle        oracle.Classifier
	oracleTimeout time.Duration
	log           *logger.Logger
}

// New creates a router. The oracle may be nil; ambiguous messages then fall
// back to the query handler.
func New(o oracle.Classifier, oracleTimeout time.Duration, log *logger.Logger) *Router {
	if oracleTimeout <= 0 {
		oracleTimeout = 10 * time.Second
	}
	return &Router{oracle: o, oracleTimeout: oracleTimeout, log: log}
}

// Decide resolves the handler for a message. It never returns an error; the
// worst case is a low-confidence fallback decision.
func (r *Router) Decide(ctx context.Context, message string, rc RouteContext) model.RoutingDecision {
	decision := r.decide(ctx, message, rc)
	metrics.RecordRoutingDecision(string(decision.Handler), string(decision.Method))
	r.log.Debug("routing decision",
		zap.String("handler", string(decision.Handler)),
		zap.String("method", string(decision.Method)),
		zap.Float64("confidence", decision.Confidence),
		zap.String("reason", decision.Reason),
	)
	return decision
}

func (r *Router) decide(ctx context.Context, message string, rc RouteContext) model.RoutingDecision {
	// Reserved commands pre-empt everything, including the session lock.
	if ok, action := intent.ResolveCommand(message); ok {
		return model.RoutingDecision{
			Handler:       model.HandlerCoordinator,
			Confidence:    CommandConfidence,
			Method:        model.MethodCommand,
			Reason:        "reserved command",
			CommandAction: action,
		}
	}

	if rc.ForcedHandler != "" && rc.ForcedHandler != model.HandlerUnknown {
		return model.RoutingDecision{
			Handler:    rc.ForcedHandler,
			Confidence: ForcedConfidence,
			Method:     model.MethodForced,
			Reason:     "handler forced by caller",
		}
	}

	// Users without a completed profile always land in onboarding, whatever
	// they wrote.
	if !rc.OnboardingCompleted {
		return model.RoutingDecision{
			Handler:    model.HandlerConfiguration,
			Confidence: OnboardingConfidence,
			Method:     model.MethodOnboarding,
			Reason:     "onboarding incomplete",
		}
	}

	if rc.Locked && rc.ActiveHandler != "" && rc.ActiveHandler != model.HandlerUnknown {
		if change := r.detectChange(ctx, message, rc); change.Changed {
			return model.RoutingDecision{
				Handler:    change.NewHandler,
				Confidence: change.Confidence,
				Method:     model.MethodIntentChange,
				Reason:     change.Reason,
			}
		}
		return model.RoutingDecision{
			Handler:    rc.ActiveHandler,
			Confidence: LockedConfidence,
			Method:     model.MethodLocked,
			Reason:     "session locked to handler",
		}
	}

	if h := intent.Classify(message); h != model.HandlerUnknown && h != model.HandlerCoordinator {
		return model.RoutingDecision{
			Handler:    h,
			Confidence: KeywordConfidence,
			Method:     model.MethodKeyword,
			Reason:     "keyword classification",
		}
	}

	cls := r.classify(ctx, message, rc)
	return model.RoutingDecision{
		Handler:    cls.Handler,
		Confidence: cls.Confidence,
		Method:     model.MethodOracle,
		Reason:     cls.Reason,
	}
}

func (r *Router) classify(ctx context.Context, message string, rc RouteContext) oracle.Classification {
	if r.oracle == nil {
		return oracle.Classification{
			Handler:      model.HandlerQuery,
			Confidence:   oracle.FallbackConfidence,
			Reason:       "no oracle configured",
			FromFallback: true,
		}
	}

	cctx, cancel := context.WithTimeout(ctx, r.oracleTimeout)
	defer cancel()

	return r.oracle.Classify(cctx, message, oracle.Context{
		LastBotMessage: rc.LastBotMessage,
		ActiveHandler:  rc.ActiveHandler,
	})
}

// detectChange decides whether a message sent into a locked conversation
// actually belongs to a different handler. Deterministic checks run first;
// the oracle is the last resort.
func (r *Router) detectChange(ctx context.Context, message string, rc RouteContext) model.IntentChange {
	// Short confirmations and denials are answers to the active flow,
	// never an intent change.
	if isBareConfirmation(message) {
		return model.IntentChange{Changed: false, Reason: "confirmation of active flow"}
	}

	if qc := quickChange(message, rc.ActiveHandler); qc.Changed {
		return qc
	}

	// A strong keyword verdict for a different handler overrides the lock.
	if h := intent.Classify(message); h != model.HandlerUnknown && h != model.HandlerCoordinator && h != rc.ActiveHandler {
		return model.IntentChange{
			Changed:    true,
			NewHandler: h,
			Reason:     "keyword reclassification while locked",
			Confidence: ReclassifyConfidence,
		}
	}

	if r.oracle == nil {
		return model.IntentChange{Changed: false, Reason: "no oracle configured"}
	}

	cctx, cancel := context.WithTimeout(ctx, r.oracleTimeout)
	defer cancel()

	res := r.oracle.DetectChange(cctx, message, rc.ActiveHandler, rc.LastBotMessage)
	return model.IntentChange{
		Changed:    res.Changed,
		NewHandler: res.NewHandler,
		Reason:     res.Reason,
		Confidence: res.Confidence,
	}
}

// Quick intent-change confidences.
const (
	questionWhileExpenseConfidence = 0.8
	expenseWhileOtherConfidence    = 0.85
)

var confirmations = map[string]bool{
	"sí": true, "si": true, "no": true,
	"ok": true, "okay": true, "dale": true, "vale": true,
	"sip": true, "nop": true, "listo": true, "claro": true,
	"bueno": true, "ya": true,
}

// isBareConfirmation reports whether the whole message is a confirmation or
// denial token.
func isBareConfirmation(message string) bool {
	token := strings.ToLower(strings.TrimSpace(message))
	token = strings.TrimRight(token, "!.,")
	return confirmations[token]
}

var questionWords = []string{"cuánto", "cuanto", "qué", "que", "cómo", "como"}
var expenseStatements = []string{"gasté", "gaste", "pagué", "pague", "compré", "compre"}
var expenseClarifiers = []string{"gastó", "gasto", "pagué", "pague"}

// quickChange applies cheap per-handler heuristics before any oracle call.
func quickChange(message string, current model.HandlerID) model.IntentChange {
	words := tokenize(message)

	switch current {
	case model.HandlerExpense:
		// A question mid-registration usually means the user wants a
		// report, unless they are clarifying the expense itself.
		if containsAny(words, questionWords) && !containsAny(words, expenseClarifiers) {
			return model.IntentChange{
				Changed:    true,
				NewHandler: model.HandlerQuery,
				Reason:     "question asked during expense flow",
				Confidence: questionWhileExpenseConfidence,
			}
		}
	case model.HandlerQuery:
		if containsAny(words, expenseStatements) && containsDigit(message) {
			return model.IntentChange{
				Changed:    true,
				NewHandler: model.HandlerExpense,
				Reason:     "expense reported during query flow",
				Confidence: expenseWhileOtherConfidence,
			}
		}
	case model.HandlerConfiguration:
		if containsAny(words, expenseStatements[:4]) && containsDigit(message) {
			return model.IntentChange{
				Changed:    true,
				NewHandler: model.HandlerExpense,
				Reason:     "expense reported during configuration flow",
				Confidence: expenseWhileOtherConfidence,
			}
		}
	}

	return model.IntentChange{Changed: false}
}

// tokenize lowercases the message and splits it into word tokens.
func tokenize(message string) map[string]bool {
	fields := strings.FieldsFunc(strings.ToLower(message), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
	words := make(map[string]bool, len(fields))
	for _, f := range fields {
		words[f] = true
	}
	return words
}

func containsAny(words map[string]bool, candidates []string) bool {
	for _, c := range candidates {
		if words[c] {
			return true
		}
	}
	return false
}

func containsDigit(message string) bool {
	for _, r := range message {
		if unicode.IsDigit(r) {
			return true
		}
	}
	return false
}
