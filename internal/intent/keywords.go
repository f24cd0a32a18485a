package intent

import (
	"strings"
	"unicode"

	"github.com/finanzas-ai/coordinator/internal/model"
)

// Keywords that strongly suggest expense registration.
var expenseKeywords = []string{
	// Actions
	"gasté", "gaste", "pagué", "pague", "compré", "compre",
	"gastos", "gasto", "pago", "compra",
	// Currencies
	"soles", "sol", "dólares", "dolares", "dólar", "dolar",
	"pesos", "peso", "euros", "euro", "usd", "pen", "cop", "mxn",
	// Payment methods
	"efectivo", "tarjeta", "cash", "card",
	// Common expense types
	"uber", "taxi", "almuerzo", "cena", "desayuno",
	"comida", "restaurante", "café", "cafe", "hotel",
	"vuelo", "transporte", "bus", "metro",
	// Indicators
	"recibo", "factura", "ticket",
}

// Keywords that suggest a query/question.
var queryKeywords = []string{
	// Question words
	"cuánto", "cuanto", "cuánta", "cuanta",
	"qué", "que", "cuál", "cual",
	"cómo", "como", "dónde", "donde",
	// Query verbs
	"muéstrame", "muestrame", "dime", "mostrar",
	"ver", "consultar", "revisar",
	// Report words
	"resumen", "reporte", "total", "balance",
	"presupuesto", "saldo", "gastado",
	// Time references in questions
	"este mes", "esta semana", "hoy", "ayer",
	// Status questions
	"voy", "llevo", "quedan", "queda", "falta",
}

// Keywords that suggest configuration/setup.
var configKeywords = []string{
	// Actions
	"configurar", "crear", "agregar", "añadir", "nuevo", "nueva",
	"modificar", "cambiar", "editar", "actualizar",
	// Entities
	"viaje", "trip", "tarjeta", "card", "cuenta", "account",
	"presupuesto", "budget",
	// Setup phrases
	"quiero configurar", "necesito configurar",
	"crear viaje", "nuevo viaje", "agregar tarjeta", "nueva tarjeta",
	"presupuesto para",
}

// countKeywords counts case-insensitive substring occurrences of keywords
// in the message. Each keyword counts at most once.
func countKeywords(lowered string, keywords []string) int {
	n := 0
	for _, kw := range keywords {
		if strings.Contains(lowered, kw) {
			n++
		}
	}
	return n
}

// containsDigit reports whether the message contains at least one digit.
func containsDigit(message string) bool {
	for _, r := range message {
		if unicode.IsDigit(r) {
			return true
		}
	}
	return false
}

// Scores holds per-handler keyword scores for one message.
type Scores struct {
	Expense int
	Query   int
	Config  int
}

// Score computes keyword scores for the message.
func Score(message string) Scores {
	lowered := strings.ToLower(message)
	return Scores{
		Expense: countKeywords(lowered, expenseKeywords),
		Query:   countKeywords(lowered, queryKeywords),
		Config:  countKeywords(lowered, configKeywords),
	}
}

// Classify resolves the handler for a message using keyword scores alone.
// It returns HandlerUnknown when the message is ambiguous and the oracle
// should be consulted. Rule order matters: ties and near-ties must resolve
// here rather than escalating, to keep latency and oracle cost down.
func Classify(message string) model.HandlerID {
	if ok, _ := ResolveCommand(message); ok {
		return model.HandlerCoordinator
	}

	s := Score(message)

	// Clear winner: expense keywords.
	if s.Expense >= 2 && s.Expense > s.Query && s.Expense > s.Config {
		return model.HandlerExpense
	}

	// Clear winner: query keywords.
	if s.Query >= 2 && s.Query > s.Expense {
		return model.HandlerQuery
	}

	// Clear winner: config keywords. Configuration intents go to the
	// menu-driven flow; structured flows reduce classification ambiguity.
	if s.Config >= 1 && s.Config > s.Expense && s.Config > s.Query {
		return model.HandlerConfiguration
	}

	// Single strong expense indicator plus a number covers the common
	// terse report ("50 soles taxi").
	if s.Expense == 1 && s.Query == 0 && s.Config == 0 && containsDigit(message) {
		return model.HandlerExpense
	}

	return model.HandlerUnknown
}
