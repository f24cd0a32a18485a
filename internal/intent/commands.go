// Package intent implements the fast path of message routing: the reserved
// command table and the keyword classifier. Neither makes network calls;
// ambiguous messages escalate to the oracle.
package intent

import (
	"strings"
)

// Command actions understood by the coordinator.
const (
	ActionCancelFlow = "cancel_current_flow"
	ActionShowMenu   = "show_menu"
	ActionShowHelp   = "show_help"
	ActionShowStatus = "show_status"
	ActionRestart    = "restart_conversation"
	ActionAdminReset = "admin_reset"
)

// commands maps reserved tokens to actions. Matching is exact and
// case-insensitive against the trimmed message.
var commands = map[string]string{
	"cancelar": ActionCancelFlow,
	"cancel":   ActionCancelFlow,
	"salir":    ActionCancelFlow,
	"exit":     ActionCancelFlow,

	"menu":  ActionShowMenu,
	"menú":  ActionShowMenu,
	"ayuda": ActionShowHelp,
	"help":  ActionShowHelp,

	"reiniciar": ActionRestart,
	"reset":     ActionRestart,
	"/reset":    ActionAdminReset,

	"estado": ActionShowStatus,
	"status": ActionShowStatus,
}

// interceptActions are always handled by the coordinator and never forwarded
// to a locked handler, even mid-flow.
var interceptActions = map[string]bool{
	ActionCancelFlow: true,
	ActionShowMenu:   true,
	ActionShowHelp:   true,
	ActionAdminReset: true,
}

// ResolveCommand reports whether the message is a reserved coordinator
// command and, if so, its action. Pure lookup; no partial matching.
func ResolveCommand(message string) (bool, string) {
	token := strings.ToLower(strings.TrimSpace(message))
	if action, ok := commands[token]; ok {
		return true, action
	}
	return false, ""
}

// IsInterceptAction reports whether an action must always be intercepted by
// the coordinator.
func IsInterceptAction(action string) bool {
	return interceptActions[action]
}
