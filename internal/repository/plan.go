package repository

import (
	"context"

	"gas-subscription-service/internal/model"

	"gorm.io/gorm"
)

type PlanRepository interface {
	FindByID(ctx context.Context, id string) (*model.SubscriptionPlan, error)
	ListActive(ctx context.Context) ([]*model.SubscriptionPlan, error)
	Create(ctx context.Context, plan *model.SubscriptionPlan) error
}

type planRepoImpl struct {
	db *gorm.DB
}

func NewPlanRepository(db *gorm.DB) PlanRepository {
	return &planRepoImpl{db: db}
}

func (r *planRepoImpl) FindByID(ctx context.Context, id string) (*model.SubscriptionPlan, error) {
	var plan model.SubscriptionPlan
	err := r.db.WithContext(ctx).
		Where("id = ?", id).
		First(&plan).
		Error

	if err != nil {
		return nil, err
	}

	return &plan, nil
}

func (r *planRepoImpl) ListActive(ctx context.Context) ([]*model.SubscriptionPlan, error) {
	var plans []*model.SubscriptionPlan
	err := r.db.WithContext(ctx).
		Where("is_active = ?", true).
		Order("name").
		Find(&plans).
		Error

	if err != nil {
		return nil, err
	}

	return plans, nil
}

func (r *planRepoImpl) Create(ctx context.Context, plan *model.SubscriptionPlan) error {
	return r.db.WithContext(ctx).Create(plan).Error
}
