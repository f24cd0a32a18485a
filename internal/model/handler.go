// Package model defines data structures for the routing core.
package model

// HandlerID identifies a conversational handler.
type HandlerID string

const (
	// HandlerExpense registers expenses (text, receipts, voice notes).
	HandlerExpense HandlerID = "expense"
	// HandlerQuery answers financial questions and builds reports.
	HandlerQuery HandlerID = "query"
	// HandlerConfiguration runs menu-driven setup flows and onboarding.
	HandlerConfiguration HandlerID = "configuration"
	// HandlerCoordinator is the router itself; a valid source but never a
	// handoff target.
	HandlerCoordinator HandlerID = "coordinator"
	// HandlerUnknown marks an unresolvable handler reference.
	HandlerUnknown HandlerID = "unknown"
)

// ParseHandlerID maps a free-form handler string to a HandlerID. Legacy
// aliases from stored conversations are tolerated.
func ParseHandlerID(s string) HandlerID {
	switch s {
	case "expense", "ie":
		return HandlerExpense
	case "query", "coach":
		return HandlerQuery
	case "configuration", "config":
		return HandlerConfiguration
	case "coordinator":
		return HandlerCoordinator
	default:
		return HandlerUnknown
	}
}

// Description returns a human-readable description of a handler.
func (h HandlerID) Description() string {
	switch h {
	case HandlerConfiguration:
		return "Configuración (viajes, tarjetas, presupuestos)"
	case HandlerExpense:
		return "Registro de gastos"
	case HandlerQuery:
		return "Consultas y reportes financieros"
	case HandlerCoordinator:
		return "Coordinador"
	default:
		return "Desconocido"
	}
}
