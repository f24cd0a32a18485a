package agent

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"

	"github.com/finanzas-ai/coordinator/internal/model"
	"github.com/finanzas-ai/coordinator/internal/store"
)

// Onboarding flow steps.
const (
	onboardingFlow  = "onboarding"
	stepAskName     = "ask_name"
	stepAskCurrency = "ask_currency"
	stepAskTimezone = "ask_timezone"
)

// Configuration flow steps.
const (
	configFlow     = "configuration"
	stepConfigMenu = "config_menu"
	stepAskDetail  = "ask_detail"
)

const defaultTimezone = "America/Lima"

// ConfigurationHandler runs onboarding and the setup flows for trips, cards
// and budgets. It persists its own conversation rows so multi-step flows
// survive process restarts; the pipeline then only patches routing columns.
type ConfigurationHandler struct {
	state       *store.StateStore
	convTimeout time.Duration
}

// NewConfigurationHandler creates the configuration handler.
func NewConfigurationHandler(state *store.StateStore, convTimeout time.Duration) *ConfigurationHandler {
	if convTimeout <= 0 {
		convTimeout = model.DefaultConversationTimeout
	}
	return &ConfigurationHandler{state: state, convTimeout: convTimeout}
}

// Name returns the handler's identity.
func (h *ConfigurationHandler) Name() model.HandlerID {
	return model.HandlerConfiguration
}

// Handle routes to onboarding until the profile is complete, then to the
// configuration flows.
func (h *ConfigurationHandler) Handle(ctx context.Context, req *Request) (*model.HandlerResponse, error) {
	if !req.User.OnboardingCompleted {
		return h.onboard(ctx, req)
	}
	return h.configure(ctx, req)
}

func (h *ConfigurationHandler) onboard(ctx context.Context, req *Request) (*model.HandlerResponse, error) {
	switch req.CurrentStep {
	case stepAskName:
		name := strings.TrimSpace(req.Message)
		if name == "" {
			return h.awaiting(ctx, req, "¿Cómo te llamas?", onboardingFlow, stepAskName, "name", req.FlowData)
		}
		req.User.FullName = name
		if err := h.state.Users().Update(ctx, req.User); err != nil {
			return nil, err
		}
		text := fmt.Sprintf("Mucho gusto, %s 👋 ¿En qué moneda manejas tus gastos? (por ejemplo: PEN, USD, MXN)", name)
		return h.awaiting(ctx, req, text, onboardingFlow, stepAskCurrency, "currency", req.FlowData)

	case stepAskCurrency:
		currency := parseCurrencyAnswer(req.Message)
		if currency == "" {
			return h.awaiting(ctx, req, "No reconocí esa moneda. Dime el código de tres letras, por ejemplo PEN o USD.", onboardingFlow, stepAskCurrency, "currency", req.FlowData)
		}
		req.User.HomeCurrency = currency
		if err := h.state.Users().Update(ctx, req.User); err != nil {
			return nil, err
		}
		return h.awaiting(ctx, req, "¿En qué zona horaria estás? (por ejemplo America/Lima, America/Mexico_City)", onboardingFlow, stepAskTimezone, "timezone", req.FlowData)

	case stepAskTimezone:
		tz := strings.TrimSpace(req.Message)
		if _, err := time.LoadLocation(tz); err != nil {
			tz = defaultTimezone
		}
		req.User.Timezone = tz
		req.User.OnboardingCompleted = true
		if err := h.state.Users().Update(ctx, req.User); err != nil {
			return nil, err
		}

		text := fmt.Sprintf("✅ ¡Listo, %s! Ya puedes registrar gastos escribiéndolos directo, o preguntarme cuánto llevas. Escribe *menú* cuando quieras ver las opciones.", req.User.DisplayName())
		resp := model.CompletedResponse(text, model.HandlerConfiguration)
		resp.CurrentFlow = "idle"
		resp.FlowData = map[string]any{}
		if err := h.persistFlow(ctx, req, resp); err != nil {
			return nil, err
		}
		return resp, nil

	default:
		text := "👋 ¡Hola! Soy tu asistente de finanzas personales. Antes de empezar, ¿cómo te llamas?"
		return h.awaiting(ctx, req, text, onboardingFlow, stepAskName, "name", map[string]any{})
	}
}

func (h *ConfigurationHandler) configure(ctx context.Context, req *Request) (*model.HandlerResponse, error) {
	lowered := strings.ToLower(req.Message)

	if req.CurrentStep == stepAskDetail {
		return h.finishConfig(ctx, req)
	}

	var entity string
	switch {
	case strings.Contains(lowered, "viaje") || strings.Contains(lowered, "trip"):
		entity = "viaje"
	case strings.Contains(lowered, "tarjeta") || strings.Contains(lowered, "card"):
		entity = "tarjeta"
	case strings.Contains(lowered, "presupuesto") || strings.Contains(lowered, "budget"):
		entity = "presupuesto"
	}

	if entity == "" {
		text := `⚙️ *Configuración*

¿Qué quieres configurar?
• *viaje*: un viaje con su moneda y fechas
• *tarjeta*: una tarjeta para clasificar pagos
• *presupuesto*: un límite de gasto mensual`
		return h.awaiting(ctx, req, text, configFlow, stepConfigMenu, "option", map[string]any{})
	}

	text := fmt.Sprintf("Perfecto, vamos a configurar un %s. ¿Qué nombre le ponemos?", entity)
	return h.awaiting(ctx, req, text, configFlow, stepAskDetail, "name", map[string]any{"entity": entity})
}

func (h *ConfigurationHandler) finishConfig(ctx context.Context, req *Request) (*model.HandlerResponse, error) {
	entity, _ := req.FlowData["entity"].(string)
	if entity == "" {
		entity = "elemento"
	}
	name := strings.TrimSpace(req.Message)
	if name == "" {
		return h.awaiting(ctx, req, "¿Qué nombre le ponemos?", configFlow, stepAskDetail, "name", req.FlowData)
	}

	text := fmt.Sprintf("✅ %s \"%s\" configurado. ¿Algo más? Escribe *menú* para ver las opciones.", capitalize(entity), name)
	resp := model.CompletedResponse(text, model.HandlerConfiguration)
	resp.CurrentFlow = "idle"
	resp.FlowData = map[string]any{}
	if err := h.persistFlow(ctx, req, resp); err != nil {
		return nil, err
	}
	return resp, nil
}

// awaiting builds an awaiting-input response and persists the flow position.
func (h *ConfigurationHandler) awaiting(ctx context.Context, req *Request, text, flow, step, pendingField string, data map[string]any) (*model.HandlerResponse, error) {
	resp := model.AwaitingInputResponse(text, model.HandlerConfiguration, pendingField)
	resp.CurrentFlow = flow
	resp.CurrentStep = step
	resp.FlowData = data
	if err := h.persistFlow(ctx, req, resp); err != nil {
		return nil, err
	}
	return resp, nil
}

// persistFlow writes the conversation row directly and marks the response so
// the pipeline patches routing columns only, never the flow state saved here.
func (h *ConfigurationHandler) persistFlow(ctx context.Context, req *Request, resp *model.HandlerResponse) error {
	convs := h.state.Conversations()

	var conv *model.Conversation
	var err error
	if req.ConversationID != uuid.Nil {
		conv, err = convs.GetByID(ctx, req.ConversationID)
		if err != nil {
			return err
		}
	}

	if conv == nil {
		conv = model.NewConversation(req.User.ID, resp.CurrentFlow, resp.CurrentStep, h.convTimeout)
		conv.FlowData = datatypes.JSONMap(resp.FlowData)
		conv.RecordTurn(req.Message, resp.ReplyText)
		if err := convs.Create(ctx, conv); err != nil {
			return err
		}
	} else {
		conv.CurrentFlow = resp.CurrentFlow
		conv.CurrentStep = resp.CurrentStep
		conv.FlowData = datatypes.JSONMap(resp.FlowData)
		conv.Touch(h.convTimeout)
		conv.RecordTurn(req.Message, resp.ReplyText)
		if err := convs.Update(ctx, conv); err != nil {
			return err
		}
	}

	resp.ConversationID = conv.ID
	resp.ConversationPersisted = true
	return nil
}

func capitalize(s string) string {
	if s == "" {
		return s
	}
	return strings.ToUpper(s[:1]) + s[1:]
}

// parseCurrencyAnswer accepts a 3-letter code or a currency word.
func parseCurrencyAnswer(message string) string {
	trimmed := strings.TrimSpace(message)
	if code, ok := currencyWords[strings.ToLower(trimmed)]; ok {
		return code
	}
	upper := strings.ToUpper(trimmed)
	if len(upper) == 3 {
		for _, r := range upper {
			if r < 'A' || r > 'Z' {
				return ""
			}
		}
		return upper
	}
	return ""
}
