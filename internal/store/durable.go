package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/gorm"

	"github.com/finanzas-ai/coordinator/internal/model"
	"github.com/finanzas-ai/coordinator/pkg/metrics"
)

// ConversationRepo is the durable conversation store.
type ConversationRepo interface {
	// GetActive returns the user's active conversation, expiring it first
	// if its inactivity window has passed. Returns nil when none exists.
	GetActive(ctx context.Context, userID uuid.UUID) (*model.Conversation, error)

	// GetByID returns a conversation by id, or nil when absent.
	GetByID(ctx context.Context, id uuid.UUID) (*model.Conversation, error)

	// Create inserts a new conversation, expiring any other active rows
	// for the same user.
	Create(ctx context.Context, conv *model.Conversation) error

	// Update persists the full conversation row.
	Update(ctx context.Context, conv *model.Conversation) error

	// PatchRouting updates only the routing columns. Used when a handler
	// already persisted flow state itself; the router must never clobber it.
	PatchRouting(ctx context.Context, id uuid.UUID, patch model.RoutingPatch) error

	// SetStatus transitions a conversation's lifecycle status.
	SetStatus(ctx context.Context, id uuid.UUID, status model.ConversationStatus) error

	// ExpireStale bulk-expires active conversations past their window.
	ExpireStale(ctx context.Context) (int64, error)
}

// GormConversationRepo backs ConversationRepo with Postgres via GORM.
type GormConversationRepo struct {
	db *gorm.DB
}

// NewGormConversationRepo creates the repo.
func NewGormConversationRepo(db *gorm.DB) *GormConversationRepo {
	return &GormConversationRepo{db: db}
}

func (r *GormConversationRepo) GetActive(ctx context.Context, userID uuid.UUID) (*model.Conversation, error) {
	var conv model.Conversation
	err := r.db.WithContext(ctx).
		Where("user_id = ? AND status = ?", userID, model.StatusActive).
		Order("last_interaction_at DESC").
		First(&conv).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		metrics.StoreErrorsTotal.WithLabelValues("postgres").Inc()
		return nil, fmt.Errorf("get active conversation: %w", err)
	}

	if conv.IsExpired() {
		if err := r.SetStatus(ctx, conv.ID, model.StatusExpired); err != nil {
			return nil, err
		}
		return nil, nil
	}

	return &conv, nil
}

func (r *GormConversationRepo) GetByID(ctx context.Context, id uuid.UUID) (*model.Conversation, error) {
	var conv model.Conversation
	err := r.db.WithContext(ctx).First(&conv, "id = ?", id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		metrics.StoreErrorsTotal.WithLabelValues("postgres").Inc()
		return nil, fmt.Errorf("get conversation %s: %w", id, err)
	}
	return &conv, nil
}

func (r *GormConversationRepo) Create(ctx context.Context, conv *model.Conversation) error {
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		// One active conversation per user.
		if err := tx.Model(&model.Conversation{}).
			Where("user_id = ? AND status = ?", conv.UserID, model.StatusActive).
			Update("status", model.StatusExpired).Error; err != nil {
			return err
		}
		return tx.Create(conv).Error
	})
	if err != nil {
		metrics.StoreErrorsTotal.WithLabelValues("postgres").Inc()
		return fmt.Errorf("create conversation: %w", err)
	}
	return nil
}

func (r *GormConversationRepo) Update(ctx context.Context, conv *model.Conversation) error {
	if err := r.db.WithContext(ctx).Save(conv).Error; err != nil {
		metrics.StoreErrorsTotal.WithLabelValues("postgres").Inc()
		return fmt.Errorf("update conversation %s: %w", conv.ID, err)
	}
	return nil
}

func (r *GormConversationRepo) PatchRouting(ctx context.Context, id uuid.UUID, patch model.RoutingPatch) error {
	updates := map[string]interface{}{
		"active_handler": patch.ActiveHandler,
		"locked":         patch.Locked,
		"lock_reason":    patch.LockReason,
	}
	if patch.HandoffContext != nil {
		updates["handoff_context"] = datatypes.JSONMap(patch.HandoffContext)
	}

	err := r.db.WithContext(ctx).Model(&model.Conversation{}).
		Where("id = ?", id).
		Updates(updates).Error
	if err != nil {
		metrics.StoreErrorsTotal.WithLabelValues("postgres").Inc()
		return fmt.Errorf("patch routing for conversation %s: %w", id, err)
	}
	return nil
}

func (r *GormConversationRepo) SetStatus(ctx context.Context, id uuid.UUID, status model.ConversationStatus) error {
	err := r.db.WithContext(ctx).Model(&model.Conversation{}).
		Where("id = ?", id).
		Update("status", status).Error
	if err != nil {
		metrics.StoreErrorsTotal.WithLabelValues("postgres").Inc()
		return fmt.Errorf("set conversation %s status %s: %w", id, status, err)
	}
	return nil
}

func (r *GormConversationRepo) ExpireStale(ctx context.Context) (int64, error) {
	res := r.db.WithContext(ctx).Model(&model.Conversation{}).
		Where("status = ? AND expires_at < ?", model.StatusActive, time.Now().UTC()).
		Update("status", model.StatusExpired)
	if res.Error != nil {
		metrics.StoreErrorsTotal.WithLabelValues("postgres").Inc()
		return 0, fmt.Errorf("expire stale conversations: %w", res.Error)
	}
	return res.RowsAffected, nil
}
