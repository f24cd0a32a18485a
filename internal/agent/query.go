package agent

import (
	"context"
	"fmt"
	"strings"
	"time"
	"unicode"

	"github.com/finanzas-ai/coordinator/internal/model"
	"github.com/finanzas-ai/coordinator/internal/store"
)

// QueryHandler answers questions about registered spending.
type QueryHandler struct {
	expenses store.ExpenseRepo
}

// NewQueryHandler creates the query handler.
func NewQueryHandler(expenses store.ExpenseRepo) *QueryHandler {
	return &QueryHandler{expenses: expenses}
}

// Name returns the handler's identity.
func (h *QueryHandler) Name() model.HandlerID {
	return model.HandlerQuery
}

// Handle answers a spending question. Messages that actually report an
// expense are handed off to the expense handler with the original text.
func (h *QueryHandler) Handle(ctx context.Context, req *Request) (*model.HandlerResponse, error) {
	if looksLikeExpenseReport(req.Message) {
		return model.HandoffResponse(
			"",
			model.HandlerQuery,
			model.HandlerExpense,
			"monetary statement inside a query",
			map[string]any{"original_message": req.Message},
		), nil
	}

	since := startOfPeriod(req.Message, req.User.Timezone)
	summary, err := h.expenses.SummarizeSince(ctx, req.User.ID, since)
	if err != nil {
		return nil, fmt.Errorf("query spending: %w", err)
	}

	resp := model.CompletedResponse(formatSummary(summary, since), model.HandlerQuery)
	resp.CurrentFlow = "idle"
	return resp, nil
}

// looksLikeExpenseReport detects a monetary statement such as "gasté 50".
func looksLikeExpenseReport(message string) bool {
	lowered := strings.ToLower(message)
	hasVerb := false
	for _, verb := range []string{"gasté", "gaste", "pagué", "pague", "compré", "compre"} {
		if strings.Contains(lowered, verb) {
			hasVerb = true
			break
		}
	}
	if !hasVerb {
		return false
	}
	for _, r := range message {
		if unicode.IsDigit(r) {
			return true
		}
	}
	return false
}

// startOfPeriod resolves the aggregation window from the message: today,
// this week, or this month by default.
func startOfPeriod(message, timezone string) time.Time {
	loc := time.UTC
	if timezone != "" {
		if l, err := time.LoadLocation(timezone); err == nil {
			loc = l
		}
	}
	now := time.Now().In(loc)
	lowered := strings.ToLower(message)

	switch {
	case strings.Contains(lowered, "hoy"):
		return time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, loc)
	case strings.Contains(lowered, "semana"):
		weekday := int(now.Weekday())
		if weekday == 0 {
			weekday = 7
		}
		monday := now.AddDate(0, 0, -(weekday - 1))
		return time.Date(monday.Year(), monday.Month(), monday.Day(), 0, 0, 0, 0, loc)
	default:
		return time.Date(now.Year(), now.Month(), 1, 0, 0, 0, 0, loc)
	}
}

func formatSummary(summary []store.ExpenseSummary, since time.Time) string {
	if len(summary) == 0 {
		return "📊 No tienes gastos registrados en este período. Registra uno escribiendo, por ejemplo, \"gasté 50 soles en almuerzo\"."
	}

	var b strings.Builder
	fmt.Fprintf(&b, "📊 Tus gastos desde el %s:\n", since.Format("02/01"))
	for _, row := range summary {
		fmt.Fprintf(&b, "• %.2f %s (%d gastos)\n", row.Total, row.Currency, row.Count)
	}
	return strings.TrimRight(b.String(), "\n")
}
