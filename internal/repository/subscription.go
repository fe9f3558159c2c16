package repository

import (
	"context"
	"time"

	"gas-subscription-service/internal/model"

	"gorm.io/gorm"
)

type SubscriptionRepository interface {
	Create(ctx context.Context, sub *model.Subscription) error
	// Delete removes a just-created pending record when gateway initialization
	// fails; it is never used on subscriptions that took a payment.
	Delete(ctx context.Context, id string) error
	FindByID(ctx context.Context, id string) (*model.Subscription, error)
	FindByReference(ctx context.Context, reference string, statuses ...model.SubscriptionStatus) (*model.Subscription, error)
	FindActiveByUserAndPlan(ctx context.Context, userID, planID string) (*model.Subscription, error)
	FindByUser(ctx context.Context, userID string) ([]*model.Subscription, error)
	// ListDue returns active subscriptions whose term has not ended as of today.
	ListDue(ctx context.Context, today time.Time) ([]*model.Subscription, error)
	// UpdateStatus applies updates only while the row still holds one of the
	// expected statuses. The boolean reports whether the swap happened; false
	// means a concurrent writer got there first.
	UpdateStatus(ctx context.Context, id string, from []model.SubscriptionStatus, updates map[string]interface{}) (bool, error)
	AppendPauseRecord(ctx context.Context, rec *model.PauseRecord) error
	// ExpireOverdue sweeps active subscriptions past their end date to expired.
	ExpireOverdue(ctx context.Context, now time.Time) (int64, error)
}

type subscriptionRepoImpl struct {
	db *gorm.DB
}

func NewSubscriptionRepository(db *gorm.DB) SubscriptionRepository {
	return &subscriptionRepoImpl{db: db}
}

func (r *subscriptionRepoImpl) Create(ctx context.Context, sub *model.Subscription) error {
	return r.db.WithContext(ctx).Create(sub).Error
}

func (r *subscriptionRepoImpl) Delete(ctx context.Context, id string) error {
	return r.db.WithContext(ctx).
		Where("id = ?", id).
		Delete(&model.Subscription{}).
		Error
}

func (r *subscriptionRepoImpl) FindByID(ctx context.Context, id string) (*model.Subscription, error) {
	var sub model.Subscription
	err := r.db.WithContext(ctx).
		Preload("PauseHistory").
		Where("id = ?", id).
		First(&sub).
		Error

	if err != nil {
		return nil, err
	}

	return &sub, nil
}

func (r *subscriptionRepoImpl) FindByReference(ctx context.Context, reference string, statuses ...model.SubscriptionStatus) (*model.Subscription, error) {
	q := r.db.WithContext(ctx).
		Preload("PauseHistory").
		Where("payment_reference = ?", reference)
	if len(statuses) > 0 {
		q = q.Where("status IN ?", statuses)
	}

	var sub model.Subscription
	if err := q.First(&sub).Error; err != nil {
		return nil, err
	}

	return &sub, nil
}

func (r *subscriptionRepoImpl) FindActiveByUserAndPlan(ctx context.Context, userID, planID string) (*model.Subscription, error) {
	var sub model.Subscription
	err := r.db.WithContext(ctx).
		Where("user_id = ? AND plan_id = ? AND status = ?", userID, planID, model.SubscriptionActive).
		First(&sub).
		Error

	if err != nil {
		return nil, err
	}

	return &sub, nil
}

func (r *subscriptionRepoImpl) FindByUser(ctx context.Context, userID string) ([]*model.Subscription, error) {
	var subs []*model.Subscription
	err := r.db.WithContext(ctx).
		Preload("PauseHistory").
		Where("user_id = ?", userID).
		Order("created_at DESC").
		Find(&subs).
		Error

	if err != nil {
		return nil, err
	}

	return subs, nil
}

func (r *subscriptionRepoImpl) ListDue(ctx context.Context, today time.Time) ([]*model.Subscription, error) {
	var subs []*model.Subscription
	err := r.db.WithContext(ctx).
		Preload("PauseHistory").
		Where("status = ? AND end_date >= ?", model.SubscriptionActive, today).
		Find(&subs).
		Error

	if err != nil {
		return nil, err
	}

	return subs, nil
}

func (r *subscriptionRepoImpl) UpdateStatus(ctx context.Context, id string, from []model.SubscriptionStatus, updates map[string]interface{}) (bool, error) {
	result := r.db.WithContext(ctx).
		Model(&model.Subscription{}).
		Where("id = ? AND status IN ?", id, from).
		Updates(updates)

	if result.Error != nil {
		return false, result.Error
	}

	return result.RowsAffected > 0, nil
}

func (r *subscriptionRepoImpl) AppendPauseRecord(ctx context.Context, rec *model.PauseRecord) error {
	return r.db.WithContext(ctx).Create(rec).Error
}

func (r *subscriptionRepoImpl) ExpireOverdue(ctx context.Context, now time.Time) (int64, error) {
	result := r.db.WithContext(ctx).
		Model(&model.Subscription{}).
		Where("status = ? AND end_date < ?", model.SubscriptionActive, now).
		Updates(map[string]interface{}{
			"status":     model.SubscriptionExpired,
			"updated_at": now,
		})

	return result.RowsAffected, result.Error
}
