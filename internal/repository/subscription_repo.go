package repository

import (
	"context"
	"errors"
	"time"

	"gorm.io/gorm"
	"skywatch/internal/model"
)

// RetentionHorizon bounds which subscriptions are loaded into the index at
// startup; anything older is treated as abandoned.
const RetentionHorizon = 200 * 24 * time.Hour

// SubscriptionRepository subscription repository interface
type SubscriptionRepository interface {
	// Create a subscription
	Create(ctx context.Context, sub *model.Subscription) error

	// Find a user's subscription by value equality (topic, type, price)
	FindMatching(ctx context.Context, userID uint64, topicID string, subType model.SubType, price int64) (*model.Subscription, error)

	// Delete a subscription by id
	Delete(ctx context.Context, id uint64) error

	// Update the rate-limit gate timestamp; last write wins
	UpdateNotTriggerAgainBefore(ctx context.Context, id uint64, t time.Time) error

	// List subscriptions newer than the retention horizon for startup
	// population
	ListRecent(ctx context.Context) ([]model.Subscription, error)
}

// subscriptionRepository subscription repository implementation
type subscriptionRepository struct {
	db *gorm.DB
}

// NewSubscriptionRepository creates a new subscription repository
func NewSubscriptionRepository(db *gorm.DB) SubscriptionRepository {
	return &subscriptionRepository{db: db}
}

// Create creates a subscription
func (r *subscriptionRepository) Create(ctx context.Context, sub *model.Subscription) error {
	if err := sub.Validate(); err != nil {
		return err
	}
	if sub.GeneratedAt.IsZero() {
		sub.GeneratedAt = time.Now()
	}
	return r.db.WithContext(ctx).Create(sub).Error
}

// FindMatching finds a user's subscription by value equality
func (r *subscriptionRepository) FindMatching(ctx context.Context, userID uint64, topicID string, subType model.SubType, price int64) (*model.Subscription, error) {
	var sub model.Subscription
	err := r.db.WithContext(ctx).
		Where("user_id = ? AND topic_id = ? AND type = ? AND price = ?", userID, topicID, subType, price).
		First(&sub).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return &sub, nil
}

// Delete deletes a subscription by id
func (r *subscriptionRepository) Delete(ctx context.Context, id uint64) error {
	return r.db.WithContext(ctx).Delete(&model.Subscription{}, id).Error
}

// UpdateNotTriggerAgainBefore updates the rate-limit gate timestamp
func (r *subscriptionRepository) UpdateNotTriggerAgainBefore(ctx context.Context, id uint64, t time.Time) error {
	return r.db.WithContext(ctx).Model(&model.Subscription{}).
		Where("id = ?", id).
		Update("not_trigger_again_before", t).Error
}

// ListRecent lists subscriptions newer than the retention horizon
func (r *subscriptionRepository) ListRecent(ctx context.Context) ([]model.Subscription, error) {
	minTime := time.Now().Add(-RetentionHorizon)
	var subs []model.Subscription
	err := r.db.WithContext(ctx).Where("generated_at > ?", minTime).Find(&subs).Error
	return subs, err
}
