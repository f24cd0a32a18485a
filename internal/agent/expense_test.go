package agent

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/finanzas-ai/coordinator/internal/model"
)

func TestParseAmount(t *testing.T) {
	tests := []struct {
		message string
		want    float64
		ok      bool
	}{
		{"gasté 50 soles", 50, true},
		{"pagué 12.50 en café", 12.50, true},
		{"pagué 12,50 en café", 12.50, true},
		{"no hay monto aquí", 0, false},
		{"gasté 0 soles", 0, false},
	}
	for _, tt := range tests {
		got, ok := parseAmount(tt.message)
		assert.Equal(t, tt.ok, ok, "message %q", tt.message)
		assert.Equal(t, tt.want, got, "message %q", tt.message)
	}
}

func TestParseCurrency(t *testing.T) {
	assert.Equal(t, "PEN", parseCurrency("gasté 50 soles en taxi"))
	assert.Equal(t, "USD", parseCurrency("pagué 20 dólares"))
	assert.Equal(t, "EUR", parseCurrency("30 euros de cena"))
	assert.Equal(t, "", parseCurrency("gasté 50 en taxi"))
}

func TestCleanDescription(t *testing.T) {
	assert.Equal(t, "gasté en taxi", cleanDescription("gasté 50 soles en taxi"))
	assert.Equal(t, "almuerzo", cleanDescription("almuerzo 25"))
}

func TestExpenseHandlerRegisters(t *testing.T) {
	repo := &memExpenseRepo{}
	h := NewExpenseHandler(repo)

	resp, err := h.Handle(context.Background(), &Request{
		User:    testUser(true),
		Message: "gasté 50 soles en taxi",
	})
	require.NoError(t, err)

	assert.Equal(t, model.StatusHandlerCompleted, resp.Status)
	assert.True(t, resp.ReleaseLock)
	assert.Contains(t, resp.ReplyText, "50.00 PEN")

	require.Len(t, repo.expenses, 1)
	assert.Equal(t, 50.0, repo.expenses[0].Amount)
	assert.Equal(t, "PEN", repo.expenses[0].Currency)
}

func TestExpenseHandlerDefaultsToHomeCurrency(t *testing.T) {
	repo := &memExpenseRepo{}
	h := NewExpenseHandler(repo)

	user := testUser(true)
	user.HomeCurrency = "MXN"

	_, err := h.Handle(context.Background(), &Request{User: user, Message: "pagué 200 de cena"})
	require.NoError(t, err)

	require.Len(t, repo.expenses, 1)
	assert.Equal(t, "MXN", repo.expenses[0].Currency)
}

func TestExpenseHandlerAsksForMissingAmount(t *testing.T) {
	repo := &memExpenseRepo{}
	h := NewExpenseHandler(repo)

	resp, err := h.Handle(context.Background(), &Request{
		User:    testUser(true),
		Message: "gasté en el supermercado",
	})
	require.NoError(t, err)

	assert.Equal(t, model.StatusAwaitingInput, resp.Status)
	assert.Equal(t, "amount", resp.PendingField)
	assert.Equal(t, expenseFlow, resp.CurrentFlow)
	assert.Equal(t, askAmountStep, resp.CurrentStep)
	assert.False(t, resp.ReleaseLock)
	assert.Empty(t, repo.expenses)
}

func TestExpenseHandlerCompletesTwoTurnFlow(t *testing.T) {
	repo := &memExpenseRepo{}
	h := NewExpenseHandler(repo)
	ctx := context.Background()
	user := testUser(true)

	first, err := h.Handle(ctx, &Request{User: user, Message: "gasté en el supermercado"})
	require.NoError(t, err)
	require.Equal(t, model.StatusAwaitingInput, first.Status)

	second, err := h.Handle(ctx, &Request{
		User:        user,
		Message:     "80",
		CurrentFlow: first.CurrentFlow,
		CurrentStep: first.CurrentStep,
		FlowData:    first.FlowData,
	})
	require.NoError(t, err)

	assert.Equal(t, model.StatusHandlerCompleted, second.Status)
	require.Len(t, repo.expenses, 1)
	assert.Equal(t, 80.0, repo.expenses[0].Amount)
	assert.Contains(t, repo.expenses[0].Description, "supermercado")
}

func TestExpenseHandlerPropagatesStoreError(t *testing.T) {
	repo := &memExpenseRepo{fail: assert.AnError}
	h := NewExpenseHandler(repo)

	_, err := h.Handle(context.Background(), &Request{
		User:    testUser(true),
		Message: "gasté 50 soles",
	})
	assert.Error(t, err)
}
