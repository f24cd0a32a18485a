package handler

import (
	"context"
	"encoding/xml"
	"net/http"
	"strings"

	"go.uber.org/zap"

	"github.com/finanzas-ai/coordinator/internal/middleware"
	"github.com/finanzas-ai/coordinator/internal/orchestrator"
	"github.com/finanzas-ai/coordinator/pkg/logger"
)

// twiml is the Twilio messaging response envelope.
type twiml struct {
	XMLName xml.Name `xml:"Response"`
	Message string   `xml:"Message,omitempty"`
}

// Processor runs the message pipeline for one inbound message.
type Processor interface {
	Process(ctx context.Context, in orchestrator.Inbound) *orchestrator.Result
}

// WebhookHandler receives Twilio WhatsApp webhooks and replies with TwiML.
type WebhookHandler struct {
	orch Processor
	log  *logger.Logger
}

// NewWebhookHandler creates the webhook handler.
func NewWebhookHandler(orch Processor, log *logger.Logger) *WebhookHandler {
	return &WebhookHandler{orch: orch, log: log}
}

// WhatsApp handles POST /webhook/whatsapp.
func (h *WebhookHandler) WhatsApp(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		writeError(w, http.StatusBadRequest, "invalid form payload")
		return
	}

	from := r.PostFormValue("From")
	body := r.PostFormValue("Body")
	messageSid := r.PostFormValue("MessageSid")

	if err := middleware.ValidatePhone(from); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	messageType := "text"
	if r.PostFormValue("MediaUrl0") != "" {
		messageType = mediaType(r.PostFormValue("MediaContentType0"))
		if body == "" {
			body = "[" + messageType + "]"
		}
	} else if err := middleware.ValidateMessageContent(body); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	res := h.orch.Process(r.Context(), orchestrator.Inbound{
		Phone:       strings.TrimPrefix(from, "whatsapp:"),
		Message:     body,
		MessageType: messageType,
		MessageID:   messageSid,
	})

	if len(res.Errors) > 0 {
		h.log.Warn("message processed with errors",
			zap.String("message_sid", messageSid),
			zap.Strings("errors", res.Errors),
		)
	}

	writeTwiML(w, res.ReplyText)
}

func mediaType(contentType string) string {
	switch {
	case strings.HasPrefix(contentType, "image/"):
		return "image"
	case strings.HasPrefix(contentType, "audio/"):
		return "audio"
	default:
		return "media"
	}
}

func writeTwiML(w http.ResponseWriter, message string) {
	w.Header().Set("Content-Type", "application/xml")
	w.WriteHeader(http.StatusOK)
	w.Write([]byte(xml.Header))
	xml.NewEncoder(w).Encode(twiml{Message: message})
}
