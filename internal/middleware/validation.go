package middleware

import (
	"errors"
	"strings"
	"unicode/utf8"
)

// maxMessageLength bounds inbound message bodies. WhatsApp caps messages
// well below this; anything larger is garbage or abuse.
const maxMessageLength = 4096

// ValidateMessageContent validates an inbound message body.
func ValidateMessageContent(content string) error {
	if len(content) == 0 {
		return errors.New("message cannot be empty")
	}
	if len(content) > maxMessageLength {
		return errors.New("message exceeds maximum length")
	}
	if !utf8.ValidString(content) {
		return errors.New("message must be valid UTF-8")
	}
	return nil
}

// ValidatePhone validates a channel sender identity such as
// "whatsapp:+51999888777".
func ValidatePhone(phone string) error {
	trimmed := strings.TrimPrefix(phone, "whatsapp:")
	trimmed = strings.TrimPrefix(trimmed, "+")
	if trimmed == "" {
		return errors.New("sender phone cannot be empty")
	}
	digits := 0
	for _, r := range trimmed {
		if r >= '0' && r <= '9' {
			digits++
		}
	}
	if digits < 7 || digits > 15 {
		return errors.New("sender phone must contain 7 to 15 digits")
	}
	return nil
}
