package repository

import (
	"context"
	"errors"

	"gorm.io/gorm"
	"skywatch/internal/model"
)

// ErrNotFound is returned when the requested record does not exist
var ErrNotFound = errors.New("record not found")

// UserRepository user repository interface
type UserRepository interface {
	// Get user by ID
	GetByID(ctx context.Context, id uint64) (*model.User, error)

	// Get user by external account id
	GetByExternalID(ctx context.Context, externalID string) (*model.User, error)

	// Get user by external account id, creating it on first reference
	GetOrCreate(ctx context.Context, externalID string) (*model.User, error)
}

// userRepository user repository implementation
type userRepository struct {
	db *gorm.DB
}

// NewUserRepository creates a new user repository
func NewUserRepository(db *gorm.DB) UserRepository {
	return &userRepository{db: db}
}

// GetByID gets a user by ID
func (r *userRepository) GetByID(ctx context.Context, id uint64) (*model.User, error) {
	var user model.User
	err := r.db.WithContext(ctx).Where("id = ?", id).First(&user).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return &user, nil
}

// GetByExternalID gets a user by external account id including devices and
// subscriptions
func (r *userRepository) GetByExternalID(ctx context.Context, externalID string) (*model.User, error) {
	var user model.User
	err := r.db.WithContext(ctx).
		Preload("Devices").
		Preload("Subscriptions").
		Where("external_id = ?", externalID).
		First(&user).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return &user, nil
}

// GetOrCreate gets a user by external account id, creating it on first
// reference
func (r *userRepository) GetOrCreate(ctx context.Context, externalID string) (*model.User, error) {
	user, err := r.GetByExternalID(ctx, externalID)
	if err == nil {
		return user, nil
	}
	if !errors.Is(err, ErrNotFound) {
		return nil, err
	}

	user = &model.User{ExternalID: externalID}
	if err := r.db.WithContext(ctx).Create(user).Error; err != nil {
		return nil, err
	}
	return user, nil
}
