package model

// RoutingMethod is how a routing decision was resolved.
type RoutingMethod string

const (
	MethodCommand      RoutingMethod = "command"
	MethodForced       RoutingMethod = "forced"
	MethodOnboarding   RoutingMethod = "onboarding"
	MethodLocked       RoutingMethod = "locked"
	MethodKeyword      RoutingMethod = "keyword"
	MethodOracle       RoutingMethod = "oracle"
	MethodIntentChange RoutingMethod = "intent_change"
	MethodDuplicate    RoutingMethod = "duplicate"
)

// RoutingDecision is the ephemeral, per-message result of intent routing.
// It is never persisted; it drives handler execution and logging only.
type RoutingDecision struct {
	Handler    HandlerID     `json:"handler"`
	Confidence float64       `json:"confidence"`
	Method     RoutingMethod `json:"method"`
	Reason     string        `json:"reason,omitempty"`

	// CommandAction is set when a reserved command was intercepted.
	CommandAction string `json:"command_action,omitempty"`
}

// IsCommand reports whether the decision intercepted a reserved command.
func (d RoutingDecision) IsCommand() bool {
	return d.Method == MethodCommand && d.CommandAction != ""
}

// IntentChange is the result of the intent-change check run while a
// conversation is locked to a handler.
type IntentChange struct {
	Changed    bool      `json:"changed"`
	NewHandler HandlerID `json:"new_handler,omitempty"`
	Reason     string    `json:"reason,omitempty"`
	Confidence float64   `json:"confidence"`
}
