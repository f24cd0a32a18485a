package model

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
)

// ConversationStatus is the lifecycle state of a conversation.
type ConversationStatus string

const (
	StatusActive    ConversationStatus = "active"
	StatusCompleted ConversationStatus = "completed"
	StatusExpired   ConversationStatus = "expired"
	StatusCancelled ConversationStatus = "cancelled"
)

// DefaultConversationTimeout bounds how long a conversation stays active
// without a new message.
const DefaultConversationTimeout = 30 * time.Minute

// Conversation is the durable record of one user's in-progress multi-turn
// interaction. Each user has at most one active conversation at a time;
// creating a new one expires any other active rows for that user.
type Conversation struct {
	ID     uuid.UUID `gorm:"type:uuid;primaryKey" json:"id"`
	UserID uuid.UUID `gorm:"type:uuid;not null;index" json:"user_id"`

	// Routing / sticky session. Locked implies ActiveHandler is non-empty.
	ActiveHandler string `gorm:"size:50" json:"active_handler,omitempty"`
	Locked        bool   `gorm:"not null;default:false" json:"locked"`
	LockReason    string `gorm:"size:100" json:"lock_reason,omitempty"`

	// Context passed between handlers during handoffs. Opaque to the router.
	HandoffContext datatypes.JSONMap `gorm:"type:jsonb" json:"handoff_context,omitempty"`

	// Flow position, handler-defined.
	CurrentFlow string `gorm:"size:50;not null" json:"current_flow"`
	CurrentStep string `gorm:"size:100;not null" json:"current_step"`

	// Data accumulated by the active handler. Opaque to the router.
	FlowData datatypes.JSONMap `gorm:"type:jsonb;not null" json:"flow_data"`

	// Session management.
	SessionStartedAt  time.Time          `gorm:"not null" json:"session_started_at"`
	LastInteractionAt time.Time          `gorm:"not null" json:"last_interaction_at"`
	ExpiresAt         time.Time          `gorm:"not null" json:"expires_at"`
	Status            ConversationStatus `gorm:"size:50;not null;default:active" json:"status"`

	// Bookkeeping.
	MessageCount    int    `gorm:"not null;default:0" json:"message_count"`
	LastUserMessage string `gorm:"type:text" json:"last_user_message,omitempty"`
	LastBotMessage  string `gorm:"type:text" json:"last_bot_message,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// TableName keeps the original table name.
func (Conversation) TableName() string { return "conversation_state" }

// NewConversation creates an active conversation with the given timeout.
func NewConversation(userID uuid.UUID, flow, step string, timeout time.Duration) *Conversation {
	now := time.Now().UTC()
	return &Conversation{
		ID:                uuid.Must(uuid.NewV7()),
		UserID:            userID,
		CurrentFlow:       flow,
		CurrentStep:       step,
		FlowData:          datatypes.JSONMap{},
		SessionStartedAt:  now,
		LastInteractionAt: now,
		ExpiresAt:         now.Add(timeout),
		Status:            StatusActive,
	}
}

// IsExpired reports whether the conversation's inactivity window has passed.
func (c *Conversation) IsExpired() bool {
	return !time.Now().UTC().Before(c.ExpiresAt)
}

// IsLocked reports whether the conversation is locked to a handler.
func (c *Conversation) IsLocked() bool {
	return c.Locked && c.ActiveHandler != ""
}

// Touch updates the last interaction time and extends the expiry window.
// Call on every user message.
func (c *Conversation) Touch(timeout time.Duration) {
	now := time.Now().UTC()
	c.LastInteractionAt = now
	c.ExpiresAt = now.Add(timeout)
}

// Lock binds the conversation to a handler (sticky session).
func (c *Conversation) Lock(handler HandlerID, reason string) {
	c.ActiveHandler = string(handler)
	c.Locked = true
	c.LockReason = reason
}

// Unlock releases the handler binding.
func (c *Conversation) Unlock() {
	c.Locked = false
	c.ActiveHandler = ""
	c.LockReason = ""
}

// RecordTurn updates the per-turn bookkeeping fields.
func (c *Conversation) RecordTurn(userMessage, botMessage string) {
	c.MessageCount++
	if userMessage != "" {
		c.LastUserMessage = userMessage
	}
	if botMessage != "" {
		c.LastBotMessage = botMessage
	}
}

// RoutingPatch carries only the routing columns updated when a handler has
// already persisted the rest of the conversation itself.
type RoutingPatch struct {
	ActiveHandler  string
	Locked         bool
	LockReason     string
	HandoffContext map[string]any
}
