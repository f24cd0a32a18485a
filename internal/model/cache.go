package model

import (
	"time"
)

// CachedConversation is the denormalized, TTL-tagged projection of a
// Conversation plus cheaply-cacheable user attributes, keyed by channel
// identity. It is owned by the conversation state store; handlers never
// touch it directly.
type CachedConversation struct {
	UserID      string `json:"user_id"`
	PhoneNumber string `json:"phone_number"`

	// Durable-store conversation id, for syncing. Empty until a row exists.
	ConversationID string `json:"conversation_id,omitempty"`

	// Flow state.
	CurrentFlow  string         `json:"current_flow"`
	CurrentStep  string         `json:"current_step,omitempty"`
	PendingField string         `json:"pending_field,omitempty"`
	FlowData     map[string]any `json:"flow_data,omitempty"`

	// Routing.
	ActiveHandler  string         `json:"active_handler,omitempty"`
	Locked         bool           `json:"locked"`
	LockReason     string         `json:"lock_reason,omitempty"`
	HandoffContext map[string]any `json:"handoff_context,omitempty"`

	// User context, cached to skip durable-store lookups on the hot path.
	UserName            string `json:"user_name,omitempty"`
	HomeCurrency        string `json:"home_currency,omitempty"`
	Timezone            string `json:"timezone,omitempty"`
	OnboardingCompleted bool   `json:"onboarding_completed"`

	// Bookkeeping.
	MessageCount    int    `json:"message_count"`
	LastUserMessage string `json:"last_user_message,omitempty"`
	LastBotMessage  string `json:"last_bot_message,omitempty"`

	// Timestamps. ExpiresAt is embedded in the payload so reads self-detect
	// staleness even if the backend has not evicted the key yet.
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
	ExpiresAt time.Time `json:"expires_at"`
}

// IsExpired reports whether the cached view must be treated as a miss.
func (c *CachedConversation) IsExpired() bool {
	if c.ExpiresAt.IsZero() {
		return true
	}
	return time.Now().UTC().After(c.ExpiresAt)
}

// TouchExpiry refreshes the updated/expiry timestamps with an absolute TTL.
func (c *CachedConversation) TouchExpiry(ttl time.Duration) {
	now := time.Now().UTC()
	c.UpdatedAt = now
	c.ExpiresAt = now.Add(ttl)
	if c.CreatedAt.IsZero() {
		c.CreatedAt = now
	}
}
