package repository

import (
	"context"
	"time"

	"gas-subscription-service/internal/model"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type DeliveryRepository interface {
	// Insert creates the delivery unless one already exists for the same
	// (subscription, day) identity. The boolean reports whether a row was
	// actually written.
	Insert(ctx context.Context, d *model.Delivery) (bool, error)
	ExistsForDay(ctx context.Context, subscriptionID, day string) (bool, error)
	// DeleteForDay clears the identity slot so an override re-insert can land.
	DeleteForDay(ctx context.Context, subscriptionID, day string) error
	LastForSubscription(ctx context.Context, subscriptionID string) (*model.Delivery, error)
	ListForSubscription(ctx context.Context, subscriptionID string, page, limit int, from, to *time.Time) ([]*model.Delivery, int64, error)
	CountForSubscription(ctx context.Context, subscriptionID string) (int64, error)
}

type deliveryRepoImpl struct {
	db *gorm.DB
}

func NewDeliveryRepository(db *gorm.DB) DeliveryRepository {
	return &deliveryRepoImpl{db: db}
}

func (r *deliveryRepoImpl) Insert(ctx context.Context, d *model.Delivery) (bool, error) {
	// The unique index on (subscription_id, scheduled_day) is the real guard;
	// DoNothing turns a concurrent duplicate into a no-op instead of an error.
	result := r.db.WithContext(ctx).
		Clauses(clause.OnConflict{DoNothing: true}).
		Create(d)

	if result.Error != nil {
		return false, result.Error
	}

	return result.RowsAffected > 0, nil
}

func (r *deliveryRepoImpl) ExistsForDay(ctx context.Context, subscriptionID, day string) (bool, error) {
	var count int64
	err := r.db.WithContext(ctx).
		Model(&model.Delivery{}).
		Where("subscription_id = ? AND scheduled_day = ?", subscriptionID, day).
		Count(&count).
		Error

	return count > 0, err
}

func (r *deliveryRepoImpl) DeleteForDay(ctx context.Context, subscriptionID, day string) error {
	return r.db.WithContext(ctx).
		Where("subscription_id = ? AND scheduled_day = ?", subscriptionID, day).
		Delete(&model.Delivery{}).
		Error
}

func (r *deliveryRepoImpl) LastForSubscription(ctx context.Context, subscriptionID string) (*model.Delivery, error) {
	var d model.Delivery
	err := r.db.WithContext(ctx).
		Where("subscription_id = ?", subscriptionID).
		Order("scheduled_day DESC").
		First(&d).
		Error

	if err != nil {
		return nil, err
	}

	return &d, nil
}

func (r *deliveryRepoImpl) ListForSubscription(ctx context.Context, subscriptionID string, page, limit int, from, to *time.Time) ([]*model.Delivery, int64, error) {
	if page < 1 {
		page = 1
	}
	if limit < 1 || limit > 100 {
		limit = 20
	}

	q := r.db.WithContext(ctx).
		Model(&model.Delivery{}).
		Where("subscription_id = ?", subscriptionID)
	if from != nil {
		q = q.Where("scheduled_day >= ?", from.Format(model.DayFormat))
	}
	if to != nil {
		q = q.Where("scheduled_day <= ?", to.Format(model.DayFormat))
	}

	var total int64
	if err := q.Count(&total).Error; err != nil {
		return nil, 0, err
	}

	var deliveries []*model.Delivery
	err := q.Order("scheduled_day").
		Offset((page - 1) * limit).
		Limit(limit).
		Find(&deliveries).
		Error

	if err != nil {
		return nil, 0, err
	}

	return deliveries, total, nil
}

func (r *deliveryRepoImpl) CountForSubscription(ctx context.Context, subscriptionID string) (int64, error) {
	var count int64
	err := r.db.WithContext(ctx).
		Model(&model.Delivery{}).
		Where("subscription_id = ?", subscriptionID).
		Count(&count).
		Error

	return count, err
}
