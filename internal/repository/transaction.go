package repository

import (
	"context"
	"time"

	"gas-subscription-service/internal/model"

	"gorm.io/gorm"
)

type TransactionRepository interface {
	Create(ctx context.Context, txn *model.PaymentTransaction) error
	FindByReference(ctx context.Context, reference string) (*model.PaymentTransaction, error)
	MarkSuccess(ctx context.Context, reference string, verifiedAt time.Time) error
	MarkFailed(ctx context.Context, reference string, failedAt time.Time) error
	DeleteByReference(ctx context.Context, reference string) error
}

type transactionRepoImpl struct {
	db *gorm.DB
}

func NewTransactionRepository(db *gorm.DB) TransactionRepository {
	return &transactionRepoImpl{db: db}
}

func (r *transactionRepoImpl) Create(ctx context.Context, txn *model.PaymentTransaction) error {
	return r.db.WithContext(ctx).Create(txn).Error
}

func (r *transactionRepoImpl) FindByReference(ctx context.Context, reference string) (*model.PaymentTransaction, error) {
	var txn model.PaymentTransaction
	err := r.db.WithContext(ctx).
		Where("reference = ?", reference).
		First(&txn).
		Error

	if err != nil {
		return nil, err
	}

	return &txn, nil
}

func (r *transactionRepoImpl) MarkSuccess(ctx context.Context, reference string, verifiedAt time.Time) error {
	return r.db.WithContext(ctx).
		Model(&model.PaymentTransaction{}).
		Where("reference = ?", reference).
		Updates(map[string]interface{}{
			"status":      model.TransactionSuccess,
			"verified_at": verifiedAt,
			"updated_at":  verifiedAt,
		}).Error
}

// MarkFailed only touches pending transactions so a late failure event cannot
// clobber an already-settled one.
func (r *transactionRepoImpl) MarkFailed(ctx context.Context, reference string, failedAt time.Time) error {
	return r.db.WithContext(ctx).
		Model(&model.PaymentTransaction{}).
		Where("reference = ? AND status = ?", reference, model.TransactionPending).
		Updates(map[string]interface{}{
			"status":     model.TransactionFailed,
			"failed_at":  failedAt,
			"updated_at": failedAt,
		}).Error
}

func (r *transactionRepoImpl) DeleteByReference(ctx context.Context, reference string) error {
	return r.db.WithContext(ctx).
		Where("reference = ?", reference).
		Delete(&model.PaymentTransaction{}).
		Error
}
