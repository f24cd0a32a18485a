package model

import (
	"time"

	"github.com/google/uuid"
)

// Expense is one registered expense.
type Expense struct {
	ID     uuid.UUID `gorm:"type:uuid;primaryKey" json:"id"`
	UserID uuid.UUID `gorm:"type:uuid;not null;index" json:"user_id"`

	Amount      float64 `gorm:"not null" json:"amount"`
	Currency    string  `gorm:"size:8;not null" json:"currency"`
	Description string  `gorm:"size:200" json:"description,omitempty"`
	Category    string  `gorm:"size:50" json:"category,omitempty"`

	SpentAt   time.Time `gorm:"not null;index" json:"spent_at"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// TableName keeps the original table name.
func (Expense) TableName() string { return "expenses" }

// NewExpense creates an expense spent now.
func NewExpense(userID uuid.UUID, amount float64, currency, description string) *Expense {
	return &Expense{
		ID:          uuid.Must(uuid.NewV7()),
		UserID:      userID,
		Amount:      amount,
		Currency:    currency,
		Description: description,
		SpentAt:     time.Now().UTC(),
	}
}
