package oracle

import (
	"encoding/json"
	"strings"

	"github.com/finanzas-ai/coordinator/internal/model"
)

// parseHandlerLabel extracts a handler from the oracle's one-word answer.
// Models occasionally wrap the label in quotes, periods or extra prose, so
// matching is by containment after normalization.
func parseHandlerLabel(raw string) (model.HandlerID, bool) {
	cleaned := strings.ToLower(strings.TrimSpace(stripFences(raw)))
	cleaned = strings.Trim(cleaned, `"'.`)

	switch cleaned {
	case "expense":
		return model.HandlerExpense, true
	case "query":
		return model.HandlerQuery, true
	case "configuration":
		return model.HandlerConfiguration, true
	}

	// Last resort: look for exactly one label inside a longer answer.
	var found model.HandlerID
	n := 0
	for label, h := range map[string]model.HandlerID{
		"expense":       model.HandlerExpense,
		"query":         model.HandlerQuery,
		"configuration": model.HandlerConfiguration,
	} {
		if strings.Contains(cleaned, label) {
			found = h
			n++
		}
	}
	if n == 1 {
		return found, true
	}
	return model.HandlerUnknown, false
}

// changeVerdict mirrors the JSON shape the change prompt requests.
type changeVerdict struct {
	ShouldChange bool   `json:"should_change"`
	NewAgent     string `json:"new_agent"`
	Reason       string `json:"reason"`
}

// parseChangeVerdict decodes the change-detection JSON, tolerating markdown
// code fences and surrounding prose.
func parseChangeVerdict(raw string) (changeVerdict, bool) {
	cleaned := stripFences(raw)

	start := strings.Index(cleaned, "{")
	end := strings.LastIndex(cleaned, "}")
	if start < 0 || end <= start {
		return changeVerdict{}, false
	}

	var v changeVerdict
	if err := json.Unmarshal([]byte(cleaned[start:end+1]), &v); err != nil {
		return changeVerdict{}, false
	}
	return v, true
}

// stripFences removes a markdown code fence if the answer is wrapped in one.
func stripFences(s string) string {
	s = strings.TrimSpace(s)
	if !strings.HasPrefix(s, "```") {
		return s
	}
	s = strings.TrimPrefix(s, "```json")
	s = strings.TrimPrefix(s, "```")
	s = strings.TrimSuffix(strings.TrimSpace(s), "```")
	return strings.TrimSpace(s)
}

// changeResultFrom converts a parsed verdict into a ChangeResult, validating
// the proposed handler. Switches to the coordinator or to an unknown handler
// are rejected.
func changeResultFrom(v changeVerdict) ChangeResult {
	if !v.ShouldChange {
		return ChangeResult{Changed: false, Reason: v.Reason}
	}

	h := model.ParseHandlerID(v.NewAgent)
	if h == model.HandlerCoordinator || h == model.HandlerUnknown {
		return noChange("oracle proposed invalid handler: " + v.NewAgent)
	}

	return ChangeResult{
		Changed:    true,
		NewHandler: h,
		Reason:     v.Reason,
		Confidence: OracleConfidence,
	}
}
