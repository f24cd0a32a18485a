package agent

import (
	"context"
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"github.com/finanzas-ai/coordinator/internal/model"
	"github.com/finanzas-ai/coordinator/internal/store"
)

var amountRe = regexp.MustCompile(`\d+(?:[.,]\d{1,2})?`)

var currencyWords = map[string]string{
	"soles": "PEN", "sol": "PEN", "pen": "PEN",
	"dólares": "USD", "dolares": "USD", "dólar": "USD", "dolar": "USD", "usd": "USD",
	"euros": "EUR", "euro": "EUR", "eur": "EUR",
	"pesos": "MXN", "peso": "MXN", "mxn": "MXN", "cop": "COP",
}

const (
	expenseFlow   = "expense_registration"
	askAmountStep = "ask_amount"
)

// ExpenseHandler registers expenses from free-form messages.
type ExpenseHandler struct {
	expenses store.ExpenseRepo
}

// NewExpenseHandler creates the expense handler.
func NewExpenseHandler(expenses store.ExpenseRepo) *ExpenseHandler {
	return &ExpenseHandler{expenses: expenses}
}

// Name returns the handler's identity.
func (h *ExpenseHandler) Name() model.HandlerID {
	return model.HandlerExpense
}

// Handle parses and registers an expense. Messages without an amount start
// a short flow that asks for it.
func (h *ExpenseHandler) Handle(ctx context.Context, req *Request) (*model.HandlerResponse, error) {
	description := req.Message
	if req.CurrentStep == askAmountStep {
		if d, ok := req.FlowData["description"].(string); ok && d != "" {
			description = d
		}
	}

	amount, ok := parseAmount(req.Message)
	if !ok {
		resp := model.AwaitingInputResponse(
			"💸 Entendido. ¿Cuánto fue? Dime solo el monto, por ejemplo: 50",
			model.HandlerExpense,
			"amount",
		)
		resp.CurrentFlow = expenseFlow
		resp.CurrentStep = askAmountStep
		resp.FlowData = map[string]any{"description": description}
		return resp, nil
	}

	currency := parseCurrency(req.Message)
	if currency == "" {
		currency = req.User.HomeCurrency
	}
	if currency == "" {
		currency = "PEN"
	}

	expense := model.NewExpense(req.User.ID, amount, currency, cleanDescription(description))
	if err := h.expenses.Create(ctx, expense); err != nil {
		return nil, fmt.Errorf("register expense: %w", err)
	}

	reply := fmt.Sprintf("✅ Gasto registrado: %.2f %s", expense.Amount, expense.Currency)
	if expense.Description != "" {
		reply += fmt.Sprintf(" (%s)", expense.Description)
	}

	resp := model.CompletedResponse(reply, model.HandlerExpense)
	resp.CurrentFlow = "idle"
	resp.FlowData = map[string]any{}
	return resp, nil
}

// parseAmount extracts the first monetary amount in the message.
func parseAmount(message string) (float64, bool) {
	match := amountRe.FindString(message)
	if match == "" {
		return 0, false
	}
	match = strings.ReplaceAll(match, ",", ".")
	amount, err := strconv.ParseFloat(match, 64)
	if err != nil || amount <= 0 {
		return 0, false
	}
	return amount, true
}

// parseCurrency finds an explicit currency mention, if any.
func parseCurrency(message string) string {
	for _, word := range strings.Fields(strings.ToLower(message)) {
		word = strings.Trim(word, ".,;:!?")
		if code, ok := currencyWords[word]; ok {
			return code
		}
	}
	return ""
}

// cleanDescription strips amounts and currency words so "gasté 50 soles en
// taxi" stores "gasté en taxi" rather than repeating the numbers.
func cleanDescription(message string) string {
	cleaned := amountRe.ReplaceAllString(message, "")
	var kept []string
	for _, word := range strings.Fields(cleaned) {
		normalized := strings.Trim(strings.ToLower(word), ".,;:!?")
		if _, isCurrency := currencyWords[normalized]; isCurrency {
			continue
		}
		kept = append(kept, word)
	}
	return strings.TrimSpace(strings.Join(kept, " "))
}
