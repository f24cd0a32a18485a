package agent

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	"github.com/finanzas-ai/coordinator/internal/intent"
	"github.com/finanzas-ai/coordinator/internal/model"
	"github.com/finanzas-ai/coordinator/internal/store"
)

// Canned coordinator replies.
const (
	cancelText = "❌ Listo, cancelé lo que estábamos haciendo. ¿En qué más te ayudo?"

	menuText = `📱 *Menú principal*

1️⃣ Registrar un gasto: escríbelo directo, por ejemplo "gasté 50 soles en taxi"
2️⃣ Consultar tus gastos: "¿cuánto llevo este mes?"
3️⃣ Configuración: "configurar viaje", "agregar tarjeta", "presupuesto"

Escribe *ayuda* para más detalles o *cancelar* para salir de un flujo.`

	helpText = `🤖 *Ayuda*

Puedo registrar tus gastos, responder preguntas sobre ellos y ayudarte a configurar viajes, tarjetas y presupuestos.

Comandos:
• *menú*: ver las opciones
• *cancelar*: salir del flujo actual
• *estado*: ver en qué estamos
• *reiniciar*: empezar de cero

Ejemplos:
• "gasté 50 soles en almuerzo"
• "¿cuánto gasté esta semana?"
• "crear viaje a Cusco"`

	restartText    = "🔄 Conversación reiniciada. Empecemos de nuevo, ¿en qué te ayudo?"
	adminResetText = "🔧 Reset administrativo completado. Estado de conversación eliminado."

	fallbackText = "No entendí ese comando. Escribe *menú* para ver las opciones."
)

// CommandHandler is the coordinator's own handler: it serves intercepted
// commands and never participates in handoffs.
type CommandHandler struct {
	state    *store.StateStore
	expenses store.ExpenseRepo
}

// NewCommandHandler creates the coordinator command handler.
func NewCommandHandler(state *store.StateStore, expenses store.ExpenseRepo) *CommandHandler {
	return &CommandHandler{state: state, expenses: expenses}
}

// Name returns the handler's identity.
func (h *CommandHandler) Name() model.HandlerID {
	return model.HandlerCoordinator
}

// Handle serves a reserved command.
func (h *CommandHandler) Handle(ctx context.Context, req *Request) (*model.HandlerResponse, error) {
	switch req.CommandAction {
	case intent.ActionCancelFlow:
		return h.cancel(ctx, req, cancelText)
	case intent.ActionShowMenu:
		return model.CompletedResponse(menuText, model.HandlerCoordinator), nil
	case intent.ActionShowHelp:
		return model.CompletedResponse(helpText, model.HandlerCoordinator), nil
	case intent.ActionShowStatus:
		return h.status(ctx, req), nil
	case intent.ActionRestart:
		return h.cancel(ctx, req, restartText)
	case intent.ActionAdminReset:
		return h.adminReset(ctx, req)
	default:
		return model.CompletedResponse(fallbackText, model.HandlerCoordinator), nil
	}
}

// cancel abandons the active flow and releases the lock. The flow state is
// cleared rather than carried forward.
func (h *CommandHandler) cancel(ctx context.Context, req *Request, reply string) (*model.HandlerResponse, error) {
	if req.ConversationID != uuid.Nil {
		if err := h.state.Conversations().SetStatus(ctx, req.ConversationID, model.StatusCancelled); err != nil {
			return nil, err
		}
	}

	resp := model.CompletedResponse(reply, model.HandlerCoordinator)
	resp.CurrentFlow = "idle"
	resp.FlowData = map[string]any{}
	return resp, nil
}

// adminReset wipes conversation state entirely, cache included.
func (h *CommandHandler) adminReset(ctx context.Context, req *Request) (*model.HandlerResponse, error) {
	if req.ConversationID != uuid.Nil {
		if err := h.state.Conversations().SetStatus(ctx, req.ConversationID, model.StatusCancelled); err != nil {
			return nil, err
		}
	}
	if err := h.state.Invalidate(ctx, req.Phone); err != nil {
		return nil, err
	}

	resp := model.CompletedResponse(adminResetText, model.HandlerCoordinator)
	resp.CurrentFlow = "idle"
	resp.FlowData = map[string]any{}
	return resp, nil
}

// status reports the current session without touching it. The lock stays as
// it was so the user can keep answering the active flow.
func (h *CommandHandler) status(ctx context.Context, req *Request) *model.HandlerResponse {
	var text string
	if req.CurrentFlow == "" || req.CurrentFlow == "idle" {
		text = "📊 No hay ningún flujo activo. Escribe *menú* para ver qué puedo hacer."
	} else {
		text = fmt.Sprintf("📊 Estamos en: %s", req.CurrentFlow)
		if req.CurrentStep != "" {
			text += fmt.Sprintf(" (paso: %s)", req.CurrentStep)
		}
	}
	text += h.recentExpenseLines(ctx, req)

	resp := &model.HandlerResponse{
		ReplyText:   text,
		Status:      model.StatusHandlerCompleted,
		HandlerName: model.HandlerCoordinator,
		CurrentFlow: req.CurrentFlow,
		CurrentStep: req.CurrentStep,
		FlowData:    req.FlowData,
	}
	return resp
}

// recentExpenseLines appends the user's latest expenses to the status
// reply. Best-effort; a store error just omits the listing.
func (h *CommandHandler) recentExpenseLines(ctx context.Context, req *Request) string {
	if h.expenses == nil || req.User == nil {
		return ""
	}
	rows, err := h.expenses.Recent(ctx, req.User.ID, 3)
	if err != nil || len(rows) == 0 {
		return ""
	}

	text := "\n\nÚltimos gastos:"
	for _, e := range rows {
		text += fmt.Sprintf("\n• %.2f %s", e.Amount, e.Currency)
		if e.Description != "" {
			text += " - " + e.Description
		}
	}
	return text
}
