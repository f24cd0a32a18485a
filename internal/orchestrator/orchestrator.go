// Package orchestrator runs the per-message pipeline: deduplication, context
// load, routing, handler execution with bounded handoffs, lock management
// and dual-store persistence.
package orchestrator

import (
	"context"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/finanzas-ai/coordinator/internal/agent"
	"github.com/finanzas-ai/coordinator/internal/events"
	"github.com/finanzas-ai/coordinator/internal/intent"
	"github.com/finanzas-ai/coordinator/internal/model"
	"github.com/finanzas-ai/coordinator/internal/router"
	"github.com/finanzas-ai/coordinator/internal/store"
	"github.com/finanzas-ai/coordinator/pkg/logger"
	"github.com/finanzas-ai/coordinator/pkg/metrics"
)

// maxHandoffs bounds handler-to-handler transfers within one message.
const maxHandoffs = 3

const (
	panicReplyText     = "⚠️ Ocurrió un error procesando tu mensaje. Por favor intenta de nuevo."
	duplicateReplyText = "👍 Ya recibí ese mensaje."
	emptyReplyText     = "🤔 No estoy seguro de haber entendido. Escribe *menú* para ver las opciones."
)

// Inbound is one incoming channel message.
type Inbound struct {
	Phone       string
	Message     string
	MessageType string
	MessageID   string
}

// Result is the outcome of processing one message.
type Result struct {
	ReplyText      string
	Success        bool
	HandlerUsed    model.HandlerID
	RoutingMethod  model.RoutingMethod
	Confidence     float64
	ConversationID uuid.UUID
	Handoffs       int
	Errors         []string
}

// Orchestrator wires the pipeline together.
type Orchestrator struct {
	state    *store.StateStore
	router   *router.Router
	registry *agent.Registry
	events   *events.Publisher
	log      *logger.Logger
}

// New creates an orchestrator. The events publisher may be nil.
func New(state *store.StateStore, rt *router.Router, registry *agent.Registry, pub *events.Publisher, log *logger.Logger) *Orchestrator {
	return &Orchestrator{
		state:    state,
		router:   rt,
		registry: registry,
		events:   pub,
		log:      log,
	}
}

// Process runs the pipeline for one message. It always returns a result with
// a reply; failures degrade to an apology rather than propagating.
func (o *Orchestrator) Process(ctx context.Context, in Inbound) (res *Result) {
	start := time.Now()
	log := o.log.WithRequest(in.MessageID, in.Phone)

	defer func() {
		if r := recover(); r != nil {
			log.Error("panic while processing message", zap.Any("panic", r))
			res = &Result{
				ReplyText:   panicReplyText,
				HandlerUsed: model.HandlerCoordinator,
				Errors:      []string{"internal error"},
			}
		}
		metrics.MessageProcessingDuration.Observe(time.Since(start).Seconds())
		status := "ok"
		if !res.Success {
			status = "error"
		}
		metrics.MessagesProcessedTotal.WithLabelValues(string(res.HandlerUsed), status).Inc()
	}()

	// Channel retries must not re-run handlers.
	fresh, err := o.state.MarkProcessed(ctx, in.MessageID)
	if err != nil {
		log.Warn("dedup check failed, treating message as new", zap.Error(err))
		fresh = true
	}
	if !fresh {
		return o.duplicate(ctx, in, log)
	}

	snap, err := o.state.Load(ctx, in.Phone)
	if err != nil {
		log.Error("conversation context load failed", zap.Error(err))
		return &Result{
			ReplyText:   panicReplyText,
			HandlerUsed: model.HandlerCoordinator,
			Errors:      []string{err.Error()},
		}
	}

	decision := o.router.Decide(ctx, in.Message, router.RouteContext{
		OnboardingCompleted: snap.User.OnboardingCompleted,
		Locked:              snap.Locked,
		ActiveHandler:       snap.ActiveHandler,
		LastBotMessage:      snap.LastBotMessage,
	})

	resp, handoffs := o.execute(ctx, in, snap, decision, log)

	reply := resp.ReplyText
	if reply == "" {
		reply = emptyReplyText
	}

	turn := o.buildTurn(in, snap, decision, resp, reply)
	if err := o.state.Save(ctx, &turn); err != nil {
		// Already logged inside the store; the reply still goes out.
		resp.Errors = append(resp.Errors, err.Error())
	}

	res = &Result{
		ReplyText:      reply,
		Success:        resp.Success(),
		HandlerUsed:    resp.HandlerName,
		RoutingMethod:  decision.Method,
		Confidence:     decision.Confidence,
		ConversationID: turn.ConversationID,
		Handoffs:       handoffs,
		Errors:         resp.Errors,
	}

	ev := events.TurnEvent{
		UserID:   snap.User.ID.String(),
		Handoffs: handoffs,
		Success:  res.Success,
	}
	ev.Decision(decision)
	if turn.ConversationID != uuid.Nil {
		ev.ConversationID = turn.ConversationID.String()
	}
	o.events.PublishTurn(ev)

	log.Info("message processed",
		zap.String("handler", string(res.HandlerUsed)),
		zap.String("method", string(res.RoutingMethod)),
		zap.Int("handoffs", handoffs),
		zap.Bool("success", res.Success),
	)
	return res
}

// execute runs the selected handler and follows handoff requests up to the
// per-message bound.
func (o *Orchestrator) execute(ctx context.Context, in Inbound, snap *store.Snapshot, decision model.RoutingDecision, log *logger.Logger) (*model.HandlerResponse, int) {
	req := &agent.Request{
		User:           snap.User,
		Phone:          in.Phone,
		Message:        in.Message,
		MessageType:    in.MessageType,
		ConversationID: snap.ConversationID,
		CurrentFlow:    snap.CurrentFlow,
		CurrentStep:    snap.CurrentStep,
		PendingField:   snap.PendingField,
		FlowData:       snap.FlowData,
		HandoffContext: snap.HandoffContext,
		CommandAction:  decision.CommandAction,
	}

	current := decision.Handler
	handoffs := 0

	for {
		resp := o.registry.Invoke(ctx, current, req)
		if !resp.WantsHandoff() {
			return resp, handoffs
		}

		target := resp.HandoffTarget
		if target == model.HandlerCoordinator || target == model.HandlerUnknown || !o.registry.Has(target) {
			log.Warn("handoff to invalid target dropped",
				zap.String("from", string(current)),
				zap.String("to", string(target)),
			)
			resp.HandoffTarget = ""
			return resp, handoffs
		}

		if handoffs >= maxHandoffs {
			metrics.HandoffLoopTripsTotal.Inc()
			log.Warn("handoff bound reached",
				zap.String("from", string(current)),
				zap.String("to", string(target)),
			)
			resp.HandoffTarget = ""
			return resp, handoffs
		}

		handoffs++
		metrics.HandoffsTotal.WithLabelValues(string(current), string(target)).Inc()
		log.Debug("handoff",
			zap.String("from", string(current)),
			zap.String("to", string(target)),
			zap.String("reason", resp.HandoffReason),
		)

		message := in.Message
		if original, ok := resp.HandoffContext["original_message"].(string); ok && original != "" {
			message = original
		}

		req = &agent.Request{
			User:           snap.User,
			Phone:          in.Phone,
			Message:        message,
			MessageType:    in.MessageType,
			ConversationID: resolveConversationID(snap, resp),
			CurrentFlow:    resp.CurrentFlow,
			CurrentStep:    resp.CurrentStep,
			FlowData:       resp.FlowData,
			HandoffContext: resp.HandoffContext,
			HandoffReason:  resp.HandoffReason,
		}
		current = target
	}
}

// buildTurn derives the state to persist from the snapshot and the final
// handler response.
func (o *Orchestrator) buildTurn(in Inbound, snap *store.Snapshot, decision model.RoutingDecision, resp *model.HandlerResponse, reply string) store.TurnState {
	turn := store.TurnState{
		Phone:            in.Phone,
		User:             snap.User,
		ConversationID:   resolveConversationID(snap, resp),
		CurrentFlow:      snap.CurrentFlow,
		CurrentStep:      snap.CurrentStep,
		PendingField:     snap.PendingField,
		FlowData:         snap.FlowData,
		ActiveHandler:    snap.ActiveHandler,
		Locked:           snap.Locked,
		LockReason:       snap.LockReason,
		HandoffContext:   nil,
		MessageCount:     snap.MessageCount + 1,
		LastUserMessage:  in.Message,
		LastBotMessage:   reply,
		AlreadyPersisted: resp.ConversationPersisted,
	}

	// Menu, help and status are read-only: the active flow and its lock
	// survive them untouched.
	if decision.IsCommand() && isLockPreservingAction(decision.CommandAction) {
		return turn
	}

	if resp.CurrentFlow != "" {
		turn.CurrentFlow = resp.CurrentFlow
		turn.CurrentStep = resp.CurrentStep
		turn.PendingField = resp.PendingField
		turn.FlowData = resp.FlowData
	}

	switch {
	case resp.ReleaseLock:
		turn.Locked = false
		turn.ActiveHandler = ""
		turn.LockReason = ""
	case resp.Status == model.StatusAwaitingInput:
		turn.Locked = true
		turn.ActiveHandler = resp.HandlerName
		turn.LockReason = lockReasonFor(resp.PendingField)
		turn.PendingField = resp.PendingField
		if resp.CurrentStep != "" {
			turn.CurrentStep = resp.CurrentStep
		}
		if resp.FlowData != nil {
			turn.FlowData = resp.FlowData
		}
	}

	if resp.HandoffContext != nil && resp.Status == model.StatusAwaitingInput {
		turn.HandoffContext = resp.HandoffContext
	}

	return turn
}

// lockReasonFor names the lock after the field the handler is waiting on.
func lockReasonFor(pendingField string) string {
	if pendingField == "" {
		return "awaiting_input_response"
	}
	return "awaiting_input_" + pendingField
}

// duplicate answers a retried message without re-running any handler.
func (o *Orchestrator) duplicate(ctx context.Context, in Inbound, log *logger.Logger) *Result {
	log.Info("duplicate message suppressed", zap.String("message_id", in.MessageID))
	metrics.RecordRoutingDecision(string(model.HandlerCoordinator), string(model.MethodDuplicate))

	reply := duplicateReplyText
	if snap, err := o.state.Load(ctx, in.Phone); err == nil && snap.LastBotMessage != "" {
		reply = snap.LastBotMessage
	}

	return &Result{
		ReplyText:     reply,
		Success:       true,
		HandlerUsed:   model.HandlerCoordinator,
		RoutingMethod: model.MethodDuplicate,
		Confidence:    1.0,
	}
}

func resolveConversationID(snap *store.Snapshot, resp *model.HandlerResponse) uuid.UUID {
	if resp.ConversationID != uuid.Nil {
		return resp.ConversationID
	}
	return snap.ConversationID
}

func isLockPreservingAction(action string) bool {
	switch action {
	case intent.ActionShowMenu, intent.ActionShowHelp, intent.ActionShowStatus:
		return true
	}
	return false
}
