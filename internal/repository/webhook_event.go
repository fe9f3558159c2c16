package repository

import (
	"context"
	"time"

	"gas-subscription-service/internal/model"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type WebhookEventRepository interface {
	Exists(ctx context.Context, eventKey string) (bool, error)
	MarkProcessed(ctx context.Context, eventKey, eventType, reference string) error
}

type webhookEventRepoImpl struct {
	db *gorm.DB
}

func NewWebhookEventRepository(db *gorm.DB) WebhookEventRepository {
	return &webhookEventRepoImpl{db: db}
}

func (r *webhookEventRepoImpl) Exists(ctx context.Context, eventKey string) (bool, error) {
	var count int64
	err := r.db.WithContext(ctx).
		Model(&model.WebhookEvent{}).
		Where("event_key = ?", eventKey).
		Count(&count).
		Error

	return count > 0, err
}

func (r *webhookEventRepoImpl) MarkProcessed(ctx context.Context, eventKey, eventType, reference string) error {
	// Two workers finishing the same event both try to write the ledger row;
	// the second write is a no-op, not an error.
	return r.db.WithContext(ctx).
		Clauses(clause.OnConflict{DoNothing: true}).
		Create(&model.WebhookEvent{
			EventKey:    eventKey,
			EventType:   eventType,
			Reference:   reference,
			ProcessedAt: time.Now(),
		}).Error
}
