package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"gas-subscription-service/internal/apperror"
	"gas-subscription-service/internal/client"
	"gas-subscription-service/internal/config"
	"gas-subscription-service/internal/dto"
	"gas-subscription-service/internal/logger"
	"gas-subscription-service/internal/model"
	"gas-subscription-service/internal/repository"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

// Gateway amounts are integer minor units (kobo).
var koboPerNaira = decimal.NewFromInt(100)

// SubscriptionService owns every status transition a caller can request.
// All transitions go through the store's compare-and-swap update so a
// concurrent webhook apply and a user action cannot both win.
type SubscriptionService interface {
	Create(ctx context.Context, userID, email string, req *dto.CreateSubscriptionRequest) (*dto.CreateSubscriptionResponse, error)
	Pause(ctx context.Context, ownerID, id string) (*model.Subscription, error)
	Resume(ctx context.Context, ownerID, id string) (*model.Subscription, error)
	Cancel(ctx context.Context, ownerID, id string) (*model.Subscription, error)
	Renew(ctx context.Context, ownerID, id string, email string) (*dto.CreateSubscriptionResponse, error)
	ListPlans(ctx context.Context) ([]*model.SubscriptionPlan, error)
	ListMine(ctx context.Context, userID string) ([]*model.Subscription, error)
	GetDeliveries(ctx context.Context, ownerID, id string, req *dto.DeliveryListRequest) (*dto.DeliveryListResponse, error)
}

type subscriptionServiceImpl struct {
	gateway      client.PaystackClient
	planRepo     repository.PlanRepository
	subRepo      repository.SubscriptionRepository
	txnRepo      repository.TransactionRepository
	deliveryRepo repository.DeliveryRepository
	cfg          *config.Config
	log          *logger.Logger
}

func NewSubscriptionService(
	gateway client.PaystackClient,
	planRepo repository.PlanRepository,
	subRepo repository.SubscriptionRepository,
	txnRepo repository.TransactionRepository,
	deliveryRepo repository.DeliveryRepository,
	cfg *config.Config,
	log *logger.Logger,
) SubscriptionService {
	return &subscriptionServiceImpl{
		gateway:      gateway,
		planRepo:     planRepo,
		subRepo:      subRepo,
		txnRepo:      txnRepo,
		deliveryRepo: deliveryRepo,
		cfg:          cfg,
		log:          log,
	}
}

func (s *subscriptionServiceImpl) Create(ctx context.Context, userID, email string, req *dto.CreateSubscriptionRequest) (*dto.CreateSubscriptionResponse, error) {
	if !req.Frequency.Valid() {
		return nil, apperror.Validation("frequency %q is not supported", req.Frequency)
	}

	plan, err := s.planRepo.FindByID(ctx, req.PlanID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, apperror.NotFound("no plan found with id %s", req.PlanID)
		}
		return nil, fmt.Errorf("find plan: %w", err)
	}
	if !plan.IsActive {
		return nil, apperror.Validation("plan %s is currently not active", plan.Name)
	}
	if !plan.SupportsCylinderSize(req.SizeKg) {
		return nil, apperror.Validation("cylinder size %dkg is not supported by this plan", req.SizeKg)
	}
	if !plan.SupportsFrequency(req.Frequency) {
		return nil, apperror.Validation("frequency %s is not supported by this plan", req.Frequency)
	}

	period := req.SubscriptionPeriod
	if req.Frequency == model.FrequencyOneTime {
		period = 1
	} else {
		if period == 0 {
			return nil, apperror.Validation("subscription period is required for this plan type")
		}
		if !plan.SupportsSubscriptionPeriod(period) {
			return nil, apperror.Validation("subscription period of %d months is not supported by this plan", period)
		}
	}

	if _, err := s.subRepo.FindActiveByUserAndPlan(ctx, userID, plan.ID); err == nil {
		return nil, apperror.Conflict("an active subscription for this plan already exists")
	} else if !errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, fmt.Errorf("check existing subscription: %w", err)
	}

	price := plan.CalculatePrice(req.SizeKg)
	now := time.Now()
	sub := &model.Subscription{
		ID:                 uuid.NewString(),
		UserID:             userID,
		PlanID:             plan.ID,
		PlanName:           plan.Name,
		SizeKg:             req.SizeKg,
		Frequency:          req.Frequency,
		SubscriptionPeriod: period,
		Price:              price,
		PaymentReference:   uuid.NewString(),
		Status:             model.SubscriptionPending,
		StartDate:          now,
		EndDate:            CalculateEndDate(now, req.Frequency, period),
	}

	metadata := model.TransactionMetadata{
		UserID:             userID,
		PlanID:             plan.ID,
		SubscriptionID:     sub.ID,
		SizeKg:             req.SizeKg,
		Frequency:          req.Frequency,
		SubscriptionPeriod: period,
		Purpose:            model.PurposePurchase,
	}

	return s.initiatePayment(ctx, sub, email, metadata)
}

// initiatePayment persists the pending record, then initializes the gateway
// transaction. A gateway failure rolls the pending record back so no orphan
// survives.
func (s *subscriptionServiceImpl) initiatePayment(ctx context.Context, sub *model.Subscription, email string, metadata model.TransactionMetadata) (*dto.CreateSubscriptionResponse, error) {
	if err := s.subRepo.Create(ctx, sub); err != nil {
		return nil, fmt.Errorf("store subscription: %w", err)
	}

	txn := &model.PaymentTransaction{
		Reference:      sub.PaymentReference,
		UserID:         sub.UserID,
		Email:          email,
		Amount:         sub.Price,
		Currency:       "NGN",
		Status:         model.TransactionPending,
		Purpose:        metadata.Purpose,
		SubscriptionID: metadata.SubscriptionID,
	}
	if err := s.txnRepo.Create(ctx, txn); err != nil {
		s.rollbackPending(ctx, sub, false)
		return nil, fmt.Errorf("store transaction: %w", err)
	}

	initData, err := s.gateway.InitializeTransaction(ctx, &model.PaystackInitializeRequest{
		Email:       email,
		AmountKobo:  sub.Price.Mul(koboPerNaira).Round(0).IntPart(),
		Reference:   sub.PaymentReference,
		Metadata:    metadata,
		CallbackURL: s.cfg.FrontendURL + "/subscriptions/verify",
		WebhookURL:  s.cfg.BaseURL + "/api/v1/payments/webhook",
	})
	if err != nil {
		s.rollbackPending(ctx, sub, true)
		s.log.Errorw("payment initialization failed", "subscription", sub.ID, "error", err)
		return nil, err
	}

	return &dto.CreateSubscriptionResponse{
		AuthorizationURL: initData.AuthorizationURL,
		Reference:        sub.PaymentReference,
		Subscription:     sub,
	}, nil
}

func (s *subscriptionServiceImpl) rollbackPending(ctx context.Context, sub *model.Subscription, withTxn bool) {
	if err := s.subRepo.Delete(ctx, sub.ID); err != nil {
		s.log.Errorw("rollback of pending subscription failed", "subscription", sub.ID, "error", err)
	}
	if withTxn {
		if err := s.txnRepo.DeleteByReference(ctx, sub.PaymentReference); err != nil {
			s.log.Errorw("rollback of pending transaction failed", "reference", sub.PaymentReference, "error", err)
		}
	}
}

func (s *subscriptionServiceImpl) Pause(ctx context.Context, ownerID, id string) (*model.Subscription, error) {
	sub, err := s.ownedSubscription(ctx, ownerID, id)
	if err != nil {
		return nil, err
	}
	if sub.Status != model.SubscriptionActive {
		return nil, apperror.InvalidState("only active subscriptions can be paused")
	}

	now := time.Now()
	remaining := sub.EndDate.Sub(now)
	if remaining < 0 {
		remaining = 0
	}

	swapped, err := s.subRepo.UpdateStatus(ctx, sub.ID,
		[]model.SubscriptionStatus{model.SubscriptionActive},
		map[string]interface{}{
			"status":                model.SubscriptionPaused,
			"paused_at":             now,
			"remaining_duration_ms": remaining.Milliseconds(),
			"updated_at":            now,
		})
	if err != nil {
		return nil, fmt.Errorf("pause subscription: %w", err)
	}
	if !swapped {
		return nil, apperror.InvalidState("subscription is no longer active")
	}

	return s.subRepo.FindByID(ctx, sub.ID)
}

func (s *subscriptionServiceImpl) Resume(ctx context.Context, ownerID, id string) (*model.Subscription, error) {
	sub, err := s.ownedSubscription(ctx, ownerID, id)
	if err != nil {
		return nil, err
	}
	if sub.Status != model.SubscriptionPaused {
		return nil, apperror.InvalidState("only paused subscriptions can be resumed")
	}
	if sub.RemainingDurationMs == nil || sub.PausedAt == nil {
		return nil, apperror.Consistency("no remaining duration stored, cannot resume")
	}

	// The remaining time budget is restored as-is: the window restarts at now
	// and runs for exactly the duration that was left when the pause began.
	now := time.Now()
	newEndDate := now.Add(time.Duration(*sub.RemainingDurationMs) * time.Millisecond)
	pausedFor := now.Sub(*sub.PausedAt)

	swapped, err := s.subRepo.UpdateStatus(ctx, sub.ID,
		[]model.SubscriptionStatus{model.SubscriptionPaused},
		map[string]interface{}{
			"status":                model.SubscriptionActive,
			"start_date":            now,
			"end_date":              newEndDate,
			"paused_at":             nil,
			"remaining_duration_ms": nil,
			"updated_at":            now,
		})
	if err != nil {
		return nil, fmt.Errorf("resume subscription: %w", err)
	}
	if !swapped {
		return nil, apperror.InvalidState("subscription is no longer paused")
	}

	if err := s.subRepo.AppendPauseRecord(ctx, &model.PauseRecord{
		SubscriptionID: sub.ID,
		PausedAt:       *sub.PausedAt,
		ResumedAt:      now,
		DurationMs:     pausedFor.Milliseconds(),
	}); err != nil {
		return nil, fmt.Errorf("append pause record: %w", err)
	}

	return s.subRepo.FindByID(ctx, sub.ID)
}

func (s *subscriptionServiceImpl) Cancel(ctx context.Context, ownerID, id string) (*model.Subscription, error) {
	sub, err := s.ownedSubscription(ctx, ownerID, id)
	if err != nil {
		return nil, err
	}
	switch sub.Status {
	case model.SubscriptionCancelled:
		return nil, apperror.InvalidState("subscription is already cancelled")
	case model.SubscriptionExpired:
		// Expired is terminal; renewal is the only way out.
		return nil, apperror.InvalidState("expired subscriptions cannot be cancelled")
	}

	now := time.Now()
	swapped, err := s.subRepo.UpdateStatus(ctx, sub.ID,
		[]model.SubscriptionStatus{
			model.SubscriptionPending,
			model.SubscriptionActive,
			model.SubscriptionPaused,
		},
		map[string]interface{}{
			"status":       model.SubscriptionCancelled,
			"cancelled_at": now,
			"updated_at":   now,
		})
	if err != nil {
		return nil, fmt.Errorf("cancel subscription: %w", err)
	}
	if !swapped {
		return nil, apperror.InvalidState("subscription is already cancelled")
	}

	return s.subRepo.FindByID(ctx, sub.ID)
}

func (s *subscriptionServiceImpl) Renew(ctx context.Context, ownerID, id string, email string) (*dto.CreateSubscriptionResponse, error) {
	old, err := s.ownedSubscription(ctx, ownerID, id)
	if err != nil {
		return nil, err
	}
	switch old.Status {
	case model.SubscriptionCancelled, model.SubscriptionExpired:
	case model.SubscriptionActive:
		return nil, apperror.Consistency("subscription is still active")
	default:
		return nil, apperror.InvalidState("only cancelled or expired subscriptions can be renewed")
	}

	plan, err := s.planRepo.FindByID(ctx, old.PlanID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, apperror.Validation("this plan is no longer available")
		}
		return nil, fmt.Errorf("find plan: %w", err)
	}
	if !plan.IsActive {
		return nil, apperror.Validation("this plan is no longer available")
	}

	now := time.Now()
	renewal := &model.Subscription{
		ID:                 uuid.NewString(),
		UserID:             old.UserID,
		PlanID:             old.PlanID,
		PlanName:           old.PlanName,
		SizeKg:             old.SizeKg,
		Frequency:          old.Frequency,
		SubscriptionPeriod: old.SubscriptionPeriod,
		Price:              old.Price,
		PaymentReference:   uuid.NewString(),
		Status:             model.SubscriptionPending,
		StartDate:          now,
		EndDate:            CalculateEndDate(now, old.Frequency, old.SubscriptionPeriod),
	}

	// Metadata carries the id of the subscription being renewed, not the
	// pending record, so reconciliation reactivates the right one.
	metadata := model.TransactionMetadata{
		UserID:         old.UserID,
		PlanID:         old.PlanID,
		SubscriptionID: old.ID,
		Purpose:        model.PurposeRenewal,
	}

	return s.initiatePayment(ctx, renewal, email, metadata)
}

func (s *subscriptionServiceImpl) ListPlans(ctx context.Context) ([]*model.SubscriptionPlan, error) {
	return s.planRepo.ListActive(ctx)
}

func (s *subscriptionServiceImpl) ListMine(ctx context.Context, userID string) ([]*model.Subscription, error) {
	return s.subRepo.FindByUser(ctx, userID)
}

func (s *subscriptionServiceImpl) GetDeliveries(ctx context.Context, ownerID, id string, req *dto.DeliveryListRequest) (*dto.DeliveryListResponse, error) {
	if _, err := s.ownedSubscription(ctx, ownerID, id); err != nil {
		return nil, err
	}

	page := req.Page
	if page < 1 {
		page = 1
	}
	deliveries, total, err := s.deliveryRepo.ListForSubscription(ctx, id, page, req.Limit, req.From, req.To)
	if err != nil {
		return nil, fmt.Errorf("list deliveries: %w", err)
	}

	return &dto.DeliveryListResponse{
		Total:      total,
		Page:       page,
		Deliveries: deliveries,
	}, nil
}

// ownedSubscription loads a subscription and enforces ownership. An empty
// ownerID means an admin caller; the check is skipped.
func (s *subscriptionServiceImpl) ownedSubscription(ctx context.Context, ownerID, id string) (*model.Subscription, error) {
	sub, err := s.subRepo.FindByID(ctx, id)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, apperror.NotFound("no subscription found with id %s", id)
		}
		return nil, fmt.Errorf("find subscription: %w", err)
	}
	if ownerID != "" && sub.UserID != ownerID {
		return nil, apperror.NotFound("no subscription found with id %s", id)
	}
	return sub, nil
}
