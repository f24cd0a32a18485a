package oracle

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/finanzas-ai/coordinator/internal/model"
)

func TestParseHandlerLabel(t *testing.T) {
	tests := []struct {
		raw    string
		want   model.HandlerID
		wantOK bool
	}{
		{"expense", model.HandlerExpense, true},
		{"  Query \n", model.HandlerQuery, true},
		{`"configuration"`, model.HandlerConfiguration, true},
		{"expense.", model.HandlerExpense, true},
		{"La categoría es: expense", model.HandlerExpense, true},
		{"```\nquery\n```", model.HandlerQuery, true},
		{"", model.HandlerUnknown, false},
		{"no lo sé", model.HandlerUnknown, false},
		// Two labels in one answer is ambiguous.
		{"expense o query", model.HandlerUnknown, false},
	}

	for _, tt := range tests {
		got, ok := parseHandlerLabel(tt.raw)
		assert.Equal(t, tt.wantOK, ok, "raw %q", tt.raw)
		assert.Equal(t, tt.want, got, "raw %q", tt.raw)
	}
}

func TestParseChangeVerdict(t *testing.T) {
	v, ok := parseChangeVerdict(`{"should_change": true, "new_agent": "query", "reason": "pregunta por gastos"}`)
	require.True(t, ok)
	assert.True(t, v.ShouldChange)
	assert.Equal(t, "query", v.NewAgent)
	assert.Equal(t, "pregunta por gastos", v.Reason)
}

func TestParseChangeVerdictFenced(t *testing.T) {
	raw := "```json\n{\"should_change\": false, \"new_agent\": \"\", \"reason\": \"respuesta al flujo\"}\n```"
	v, ok := parseChangeVerdict(raw)
	require.True(t, ok)
	assert.False(t, v.ShouldChange)
}

func TestParseChangeVerdictWithSurroundingProse(t *testing.T) {
	raw := `Claro, aquí está mi análisis: {"should_change": true, "new_agent": "expense", "reason": "reporta un gasto"} espero que ayude.`
	v, ok := parseChangeVerdict(raw)
	require.True(t, ok)
	assert.True(t, v.ShouldChange)
	assert.Equal(t, "expense", v.NewAgent)
}

func TestParseChangeVerdictMalformed(t *testing.T) {
	for _, raw := range []string{"", "no es json", "{truncated", `{"should_change": "maybe"}`} {
		_, ok := parseChangeVerdict(raw)
		assert.False(t, ok, "raw %q", raw)
	}
}

func TestChangeResultFromRejectsInvalidTargets(t *testing.T) {
	for _, agent := range []string{"coordinator", "unknown", "banana", ""} {
		res := changeResultFrom(changeVerdict{ShouldChange: true, NewAgent: agent})
		assert.False(t, res.Changed, "agent %q", agent)
	}

	res := changeResultFrom(changeVerdict{ShouldChange: true, NewAgent: "expense", Reason: "gasto"})
	assert.True(t, res.Changed)
	assert.Equal(t, model.HandlerExpense, res.NewHandler)
	assert.Equal(t, OracleConfidence, res.Confidence)
}

func TestFallbackClassificationRoutesToQuery(t *testing.T) {
	c := fallbackClassification("timeout")
	assert.Equal(t, model.HandlerQuery, c.Handler)
	assert.Equal(t, FallbackConfidence, c.Confidence)
	assert.True(t, c.FromFallback)
}
