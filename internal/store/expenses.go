package store

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/finanzas-ai/coordinator/internal/model"
	"github.com/finanzas-ai/coordinator/pkg/metrics"
)

// ExpenseSummary aggregates spending for a period, one row per currency.
type ExpenseSummary struct {
	Currency string  `json:"currency"`
	Total    float64 `json:"total"`
	Count    int64   `json:"count"`
}

// ExpenseRepo is the durable expense store.
type ExpenseRepo interface {
	// Create inserts an expense.
	Create(ctx context.Context, expense *model.Expense) error

	// SummarizeSince aggregates a user's spending from a point in time.
	SummarizeSince(ctx context.Context, userID uuid.UUID, since time.Time) ([]ExpenseSummary, error)

	// Recent returns a user's latest expenses, newest first.
	Recent(ctx context.Context, userID uuid.UUID, limit int) ([]model.Expense, error)
}

// GormExpenseRepo backs ExpenseRepo with Postgres via GORM.
type GormExpenseRepo struct {
	db *gorm.DB
}

// NewGormExpenseRepo creates the repo.
func NewGormExpenseRepo(db *gorm.DB) *GormExpenseRepo {
	return &GormExpenseRepo{db: db}
}

func (r *GormExpenseRepo) Create(ctx context.Context, expense *model.Expense) error {
	if err := r.db.WithContext(ctx).Create(expense).Error; err != nil {
		metrics.StoreErrorsTotal.WithLabelValues("postgres").Inc()
		return fmt.Errorf("create expense: %w", err)
	}
	return nil
}

func (r *GormExpenseRepo) SummarizeSince(ctx context.Context, userID uuid.UUID, since time.Time) ([]ExpenseSummary, error) {
	var rows []ExpenseSummary
	err := r.db.WithContext(ctx).Model(&model.Expense{}).
		Select("currency, SUM(amount) AS total, COUNT(*) AS count").
		Where("user_id = ? AND spent_at >= ?", userID, since).
		Group("currency").
		Order("total DESC").
		Scan(&rows).Error
	if err != nil {
		metrics.StoreErrorsTotal.WithLabelValues("postgres").Inc()
		return nil, fmt.Errorf("summarize expenses: %w", err)
	}
	return rows, nil
}

func (r *GormExpenseRepo) Recent(ctx context.Context, userID uuid.UUID, limit int) ([]model.Expense, error) {
	if limit <= 0 {
		limit = 5
	}
	var rows []model.Expense
	err := r.db.WithContext(ctx).
		Where("user_id = ?", userID).
		Order("spent_at DESC").
		Limit(limit).
		Find(&rows).Error
	if err != nil {
		metrics.StoreErrorsTotal.WithLabelValues("postgres").Inc()
		return nil, fmt.Errorf("list recent expenses: %w", err)
	}
	return rows, nil
}
