package model

import (
	"github.com/google/uuid"
)

// HandlerStatus is the status of a handler execution.
type HandlerStatus string

const (
	StatusHandlerCompleted HandlerStatus = "completed"
	StatusAwaitingInput    HandlerStatus = "awaiting_input"
	StatusHandlerError     HandlerStatus = "error"
)

// HandlerResponse is the uniform contract every handler returns to the
// orchestrator. It carries the reply, handoff signals, lock management and
// the flow state the state store should persist.
type HandlerResponse struct {
	ReplyText string        `json:"reply_text"`
	Status    HandlerStatus `json:"status"`

	// Handoff signals.
	HandoffTarget  HandlerID      `json:"handoff_target,omitempty"`
	HandoffReason  string         `json:"handoff_reason,omitempty"`
	HandoffContext map[string]any `json:"handoff_context,omitempty"`

	// Session management.
	ReleaseLock bool `json:"release_lock"`

	// Flow state updates.
	CurrentFlow  string         `json:"current_flow,omitempty"`
	CurrentStep  string         `json:"current_step,omitempty"`
	PendingField string         `json:"pending_field,omitempty"`
	FlowData     map[string]any `json:"flow_data,omitempty"`

	// Set when the handler persisted the conversation itself; the state
	// store then patches only routing columns.
	ConversationID        uuid.UUID `json:"conversation_id,omitempty"`
	ConversationPersisted bool      `json:"conversation_persisted"`

	HandlerName HandlerID `json:"handler_name"`
	Errors      []string  `json:"errors,omitempty"`
}

// WantsHandoff reports whether the handler requested a transfer.
func (r *HandlerResponse) WantsHandoff() bool {
	return r.HandoffTarget != ""
}

// Success reports whether the handler finished without error.
func (r *HandlerResponse) Success() bool {
	return r.Status == StatusHandlerCompleted || r.Status == StatusAwaitingInput
}

// CompletedResponse builds a successful completion response that releases
// the session lock.
func CompletedResponse(text string, handler HandlerID) *HandlerResponse {
	return &HandlerResponse{
		ReplyText:   text,
		Status:      StatusHandlerCompleted,
		HandlerName: handler,
		ReleaseLock: true,
	}
}

// AwaitingInputResponse builds a response that keeps the lock while waiting
// for the user's next message.
func AwaitingInputResponse(text string, handler HandlerID, pendingField string) *HandlerResponse {
	return &HandlerResponse{
		ReplyText:    text,
		Status:       StatusAwaitingInput,
		HandlerName:  handler,
		PendingField: pendingField,
	}
}

// ErrorResponse builds an error response. The lock is released so the user
// is not stuck with a failing handler.
func ErrorResponse(text string, handler HandlerID, errs ...string) *HandlerResponse {
	return &HandlerResponse{
		ReplyText:   text,
		Status:      StatusHandlerError,
		HandlerName: handler,
		ReleaseLock: true,
		Errors:      errs,
	}
}

// HandoffResponse builds a response transferring control to another handler.
func HandoffResponse(text string, handler, target HandlerID, reason string, context map[string]any) *HandlerResponse {
	return &HandlerResponse{
		ReplyText:      text,
		Status:         StatusHandlerCompleted,
		HandlerName:    handler,
		HandoffTarget:  target,
		HandoffReason:  reason,
		HandoffContext: context,
		ReleaseLock:    true,
	}
}
