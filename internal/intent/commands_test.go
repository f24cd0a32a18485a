package intent

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestResolveCommand(t *testing.T) {
	tests := []struct {
		message string
		want    string
	}{
		{"cancelar", ActionCancelFlow},
		{"cancel", ActionCancelFlow},
		{"salir", ActionCancelFlow},
		{"CANCELAR", ActionCancelFlow},
		{"  menú  ", ActionShowMenu},
		{"menu", ActionShowMenu},
		{"ayuda", ActionShowHelp},
		{"help", ActionShowHelp},
		{"reset", ActionRestart},
		{"reiniciar", ActionRestart},
		{"/reset", ActionAdminReset},
		{"estado", ActionShowStatus},
		{"status", ActionShowStatus},
	}

	for _, tt := range tests {
		ok, action := ResolveCommand(tt.message)
		assert.True(t, ok, "expected %q to resolve", tt.message)
		assert.Equal(t, tt.want, action, "message %q", tt.message)
	}
}

func TestResolveCommandRejectsPartialMatches(t *testing.T) {
	for _, msg := range []string{
		"quiero cancelar el viaje",
		"ayudame con esto",
		"el menu de hoy",
		"",
		"   ",
	} {
		ok, action := ResolveCommand(msg)
		assert.False(t, ok, "message %q should not be a command", msg)
		assert.Empty(t, action)
	}
}

func TestIsInterceptAction(t *testing.T) {
	assert.True(t, IsInterceptAction(ActionCancelFlow))
	assert.True(t, IsInterceptAction(ActionShowMenu))
	assert.True(t, IsInterceptAction(ActionShowHelp))
	assert.True(t, IsInterceptAction(ActionAdminReset))

	// Status and restart may be forwarded when unlocked; they are not in
	// the always-intercept subset.
	assert.False(t, IsInterceptAction(ActionShowStatus))
	assert.False(t, IsInterceptAction(ActionRestart))
}
