// Package agent defines the handler contract and the concrete handlers the
// router dispatches to: expense registration, queries, configuration and the
// coordinator's own command handler.
package agent

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/finanzas-ai/coordinator/internal/model"
	"github.com/finanzas-ai/coordinator/pkg/logger"
)

// Request is the input a handler receives for one turn.
type Request struct {
	User  *model.User
	Phone string

	Message     string
	MessageType string

	// ConversationID is uuid.Nil when no durable row exists yet.
	ConversationID uuid.UUID

	// Flow state from the previous turn.
	CurrentFlow  string
	CurrentStep  string
	PendingField string
	FlowData     map[string]any

	// Context handed over by the previous handler, if any.
	HandoffContext map[string]any
	HandoffReason  string

	// CommandAction is set only for the coordinator's command handler.
	CommandAction string
}

// Handler processes one turn for its domain.
type Handler interface {
	// Name returns the handler's identity.
	Name() model.HandlerID

	// Handle processes the message. Errors are reserved for infrastructure
	// failures; domain problems go into the response.
	Handle(ctx context.Context, req *Request) (*model.HandlerResponse, error)
}

const apologyText = "⚠️ Ocurrió un error procesando tu mensaje. Por favor intenta de nuevo."

// Registry holds the registered handlers.
type Registry struct {
	handlers map[model.HandlerID]Handler
	log      *logger.Logger
}

// NewRegistry creates a registry.
func NewRegistry(log *logger.Logger, handlers ...Handler) *Registry {
	r := &Registry{
		handlers: make(map[model.HandlerID]Handler, len(handlers)),
		log:      log,
	}
	for _, h := range handlers {
		r.handlers[h.Name()] = h
	}
	return r
}

// Register adds a handler, replacing any previous registration.
func (r *Registry) Register(h Handler) {
	r.handlers[h.Name()] = h
}

// Has reports whether a handler is registered.
func (r *Registry) Has(id model.HandlerID) bool {
	_, ok := r.handlers[id]
	return ok
}

// Invoke runs a handler and converts failures into an apology response, so
// the pipeline always has a reply to send.
func (r *Registry) Invoke(ctx context.Context, id model.HandlerID, req *Request) *model.HandlerResponse {
	h, ok := r.handlers[id]
	if !ok {
		r.log.Error("no handler registered", zap.String("handler", string(id)))
		return model.ErrorResponse(apologyText, id, fmt.Sprintf("handler %s not registered", id))
	}

	resp, err := h.Handle(ctx, req)
	if err != nil {
		r.log.Error("handler failed",
			zap.String("handler", string(id)),
			zap.Error(err),
		)
		return model.ErrorResponse(apologyText, id, err.Error())
	}
	if resp == nil {
		r.log.Error("handler returned no response", zap.String("handler", string(id)))
		return model.ErrorResponse(apologyText, id, "empty handler response")
	}
	if resp.HandlerName == "" {
		resp.HandlerName = id
	}
	return resp
}
