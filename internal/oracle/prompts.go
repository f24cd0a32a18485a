package oracle

import (
	"fmt"
	"strings"

	"github.com/finanzas-ai/coordinator/internal/model"
)

// classifySystemPrompt constrains the oracle to a single handler label.
const classifySystemPrompt = `Eres el enrutador de un asistente de finanzas personales por WhatsApp.

Clasifica el mensaje del usuario en exactamente una de estas categorías:

- expense: el usuario reporta un gasto o pago (montos, compras, "gasté", "pagué")
- query: el usuario pregunta por sus gastos, saldos, resúmenes o reportes
- configuration: el usuario quiere configurar algo (viajes, tarjetas, presupuestos, su perfil)

Responde SOLO con una palabra: expense, query o configuration.
No agregues explicaciones, puntuación ni texto adicional.`

// changeSystemPrompt asks for a strict JSON verdict on intent change.
const changeSystemPrompt = `Eres el enrutador de un asistente de finanzas personales por WhatsApp.

El usuario está en medio de un flujo con el agente "%s". Decide si su último
mensaje es una respuesta a ese flujo o si cambió de intención hacia otro agente.

Agentes posibles: expense (registrar gastos), query (consultas y reportes),
configuration (configuración de viajes, tarjetas, presupuestos).

Responde SOLO con JSON válido, sin texto adicional:
{"should_change": true|false, "new_agent": "expense|query|configuration|null", "reason": "breve explicación"}

Si el mensaje es una respuesta al flujo actual (aunque sea corta o ambigua),
responde should_change=false.`

// buildClassifyUser renders the user turn for classification, including
// conversational hints when available.
func buildClassifyUser(message string, convCtx Context) string {
	var b strings.Builder
	if convCtx.LastBotMessage != "" {
		fmt.Fprintf(&b, "Último mensaje del asistente: %s\n", convCtx.LastBotMessage)
	}
	fmt.Fprintf(&b, "Mensaje del usuario: %s", message)
	return b.String()
}

// buildChangeUser renders the user turn for change detection.
func buildChangeUser(message, lastBotMessage string) string {
	var b strings.Builder
	if lastBotMessage != "" {
		fmt.Fprintf(&b, "Último mensaje del asistente: %s\n", lastBotMessage)
	}
	fmt.Fprintf(&b, "Mensaje del usuario: %s", message)
	return b.String()
}

func changeSystem(current model.HandlerID) string {
	return fmt.Sprintf(changeSystemPrompt, string(current))
}
