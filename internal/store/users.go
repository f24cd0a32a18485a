package store

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/finanzas-ai/coordinator/internal/model"
	"github.com/finanzas-ai/coordinator/pkg/metrics"
)

// UserRepo is the durable user store.
type UserRepo interface {
	// GetByPhone returns the user for a normalized phone, or nil.
	GetByPhone(ctx context.Context, phone string) (*model.User, error)

	// GetOrCreate returns the user for a phone, provisioning a fresh
	// profile on first contact.
	GetOrCreate(ctx context.Context, phone string) (*model.User, error)

	// Update persists profile changes.
	Update(ctx context.Context, user *model.User) error
}

// GormUserRepo backs UserRepo with Postgres via GORM.
type GormUserRepo struct {
	db *gorm.DB
}

// NewGormUserRepo creates the repo.
func NewGormUserRepo(db *gorm.DB) *GormUserRepo {
	return &GormUserRepo{db: db}
}

func (r *GormUserRepo) GetByPhone(ctx context.Context, phone string) (*model.User, error) {
	var user model.User
	err := r.db.WithContext(ctx).First(&user, "phone_number = ?", NormalizePhone(phone)).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		metrics.StoreErrorsTotal.WithLabelValues("postgres").Inc()
		return nil, fmt.Errorf("get user by phone: %w", err)
	}
	return &user, nil
}

func (r *GormUserRepo) GetOrCreate(ctx context.Context, phone string) (*model.User, error) {
	user, err := r.GetByPhone(ctx, phone)
	if err != nil {
		return nil, err
	}
	if user != nil {
		return user, nil
	}

	user = &model.User{
		ID:          uuid.Must(uuid.NewV7()),
		PhoneNumber: NormalizePhone(phone),
	}
	if err := r.db.WithContext(ctx).Create(user).Error; err != nil {
		// Lost a race with a concurrent first message; re-read.
		if existing, rerr := r.GetByPhone(ctx, phone); rerr == nil && existing != nil {
			return existing, nil
		}
		metrics.StoreErrorsTotal.WithLabelValues("postgres").Inc()
		return nil, fmt.Errorf("create user: %w", err)
	}
	return user, nil
}

func (r *GormUserRepo) Update(ctx context.Context, user *model.User) error {
	if err := r.db.WithContext(ctx).Save(user).Error; err != nil {
		metrics.StoreErrorsTotal.WithLabelValues("postgres").Inc()
		return fmt.Errorf("update user %s: %w", user.ID, err)
	}
	return nil
}
