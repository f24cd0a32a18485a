package model

import (
	"time"

	"github.com/google/uuid"
)

// User is the minimal profile the routing core needs: channel identity
// resolution plus the attributes cached alongside conversation state.
type User struct {
	ID          uuid.UUID `gorm:"type:uuid;primaryKey" json:"id"`
	PhoneNumber string    `gorm:"size:32;not null;uniqueIndex" json:"phone_number"`

	FullName     string `gorm:"size:120" json:"full_name,omitempty"`
	Nickname     string `gorm:"size:60" json:"nickname,omitempty"`
	HomeCurrency string `gorm:"size:8" json:"home_currency,omitempty"`
	Timezone     string `gorm:"size:60" json:"timezone,omitempty"`

	OnboardingCompleted bool `gorm:"not null;default:false" json:"onboarding_completed"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// TableName keeps the original table name.
func (User) TableName() string { return "users" }

// DisplayName prefers the nickname over the full name.
func (u *User) DisplayName() string {
	if u.Nickname != "" {
		return u.Nickname
	}
	return u.FullName
}
