package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"gas-subscription-service/internal/apperror"
	"gas-subscription-service/internal/client"
	"gas-subscription-service/internal/config"
	"gas-subscription-service/internal/logger"
	"gas-subscription-service/internal/model"
	"gas-subscription-service/internal/repository"

	"github.com/cenkalti/backoff/v4"
	"gorm.io/gorm"
)

const (
	eventChargeSuccess = "charge.success"
	eventChargeFailed  = "charge.failed"

	applyTimeout = 30 * time.Second
)

// eventHandler applies one gateway event. Implementations must be safe to
// run more than once for the same event.
type eventHandler func(ctx context.Context, event *model.PaystackWebhookEvent) error

// WebhookService reconciles asynchronous gateway notifications with
// subscription state. The HTTP handler acknowledges receipt first and then
// calls ProcessAsync; everything state-changing lives behind ProcessEvent,
// which is idempotent and safe under concurrent duplicate delivery.
type WebhookService interface {
	// VerifyAndDecode checks the HMAC signature against the raw body before
	// anything is parsed or mutated.
	VerifyAndDecode(signature string, body []byte) (*model.PaystackWebhookEvent, error)
	ProcessEvent(ctx context.Context, event *model.PaystackWebhookEvent) error
	// ProcessAsync applies the event in the background with retries; events
	// that exhaust their retry budget are logged as dead-lettered.
	ProcessAsync(event *model.PaystackWebhookEvent)
	// VerifyPayment drives the same reconciliation from a synchronous
	// gateway verify call instead of a webhook.
	VerifyPayment(ctx context.Context, reference string) (*model.Subscription, error)
}

type webhookServiceImpl struct {
	gateway         client.PaystackClient
	subRepo         repository.SubscriptionRepository
	txnRepo         repository.TransactionRepository
	webhookRepo     repository.WebhookEventRepository
	planner         SchedulePlanner
	handlers        map[string]eventHandler
	maxRetryElapsed time.Duration
	log             *logger.Logger
}

func NewWebhookService(
	gateway client.PaystackClient,
	subRepo repository.SubscriptionRepository,
	txnRepo repository.TransactionRepository,
	webhookRepo repository.WebhookEventRepository,
	planner SchedulePlanner,
	cfg *config.Config,
	log *logger.Logger,
) WebhookService {
	s := &webhookServiceImpl{
		gateway:         gateway,
		subRepo:         subRepo,
		txnRepo:         txnRepo,
		webhookRepo:     webhookRepo,
		planner:         planner,
		maxRetryElapsed: cfg.Webhook.MaxRetryElapsed,
		log:             log,
	}

	s.handlers = map[string]eventHandler{
		eventChargeSuccess: s.handleChargeSuccess,
		eventChargeFailed:  s.handleChargeFailed,
	}

	return s
}

func (s *webhookServiceImpl) VerifyAndDecode(signature string, body []byte) (*model.PaystackWebhookEvent, error) {
	if err := s.gateway.VerifyWebhookSignature(signature, body); err != nil {
		return nil, err
	}

	var event model.PaystackWebhookEvent
	if err := json.Unmarshal(body, &event); err != nil {
		return nil, fmt.Errorf("decode webhook payload: %w", err)
	}

	return &event, nil
}

func (s *webhookServiceImpl) ProcessEvent(ctx context.Context, event *model.PaystackWebhookEvent) error {
	eventKey := event.Event + ":" + event.Data.Reference

	processed, err := s.webhookRepo.Exists(ctx, eventKey)
	if err != nil {
		return fmt.Errorf("check webhook ledger: %w", err)
	}
	if processed {
		s.log.Debugf("webhook event %s already processed", eventKey)
		return nil
	}

	handler, ok := s.handlers[event.Event]
	if !ok {
		s.log.Infof("unhandled webhook event %s", event.Event)
		return nil
	}

	if err := handler(ctx, event); err != nil {
		return err
	}

	return s.webhookRepo.MarkProcessed(ctx, eventKey, event.Event, event.Data.Reference)
}

func (s *webhookServiceImpl) ProcessAsync(event *model.PaystackWebhookEvent) {
	go func() {
		bo := backoff.NewExponentialBackOff()
		bo.MaxElapsedTime = s.maxRetryElapsed

		err := backoff.Retry(func() error {
			ctx, cancel := context.WithTimeout(context.Background(), applyTimeout)
			defer cancel()

			if err := s.ProcessEvent(ctx, event); err != nil {
				// Classified errors that can never succeed on retry go straight
				// to the dead letter; only transient failures burn the budget.
				var ae *apperror.Error
				if errors.As(err, &ae) && !ae.Retryable() {
					return backoff.Permanent(err)
				}
				return err
			}
			return nil
		}, bo)

		if err != nil {
			payload, _ := json.Marshal(event)
			s.log.Errorw("webhook event dead-lettered",
				"event", event.Event,
				"reference", event.Data.Reference,
				"payload", string(payload),
				"error", err,
			)
		}
	}()
}

func (s *webhookServiceImpl) VerifyPayment(ctx context.Context, reference string) (*model.Subscription, error) {
	data, err := s.gateway.VerifyTransaction(ctx, reference)
	if err != nil {
		return nil, err
	}
	if data.Status != "success" {
		return nil, apperror.Validation("payment not successful")
	}

	if err := s.applySuccess(ctx, data.Reference, data.Metadata); err != nil {
		return nil, err
	}

	if data.Metadata.Purpose == model.PurposeRenewal && data.Metadata.SubscriptionID != "" {
		return s.subRepo.FindByID(ctx, data.Metadata.SubscriptionID)
	}
	return s.subRepo.FindByReference(ctx, reference)
}

func (s *webhookServiceImpl) handleChargeSuccess(ctx context.Context, event *model.PaystackWebhookEvent) error {
	md, err := event.DecodeMetadata()
	if err != nil {
		return fmt.Errorf("decode transaction metadata: %w", err)
	}
	if event.Data.Status != "" && event.Data.Status != "success" {
		s.log.Warnf("charge.success event with status %q for %s, skipping", event.Data.Status, event.Data.Reference)
		return nil
	}

	return s.applySuccess(ctx, event.Data.Reference, md)
}

func (s *webhookServiceImpl) applySuccess(ctx context.Context, reference string, md model.TransactionMetadata) error {
	if md.Purpose == model.PurposeRenewal {
		return s.applyRenewal(ctx, reference, md)
	}
	return s.applyPurchase(ctx, reference, md)
}

func (s *webhookServiceImpl) applyPurchase(ctx context.Context, reference string, md model.TransactionMetadata) error {
	sub, err := s.resolveSubscription(ctx, reference, md)
	if err != nil {
		return err
	}

	// Duplicate delivery of the same success event: nothing left to do.
	if sub.Status == model.SubscriptionActive {
		return nil
	}

	now := time.Now()
	swapped, err := s.subRepo.UpdateStatus(ctx, sub.ID,
		[]model.SubscriptionStatus{model.SubscriptionPending},
		map[string]interface{}{
			"status":     model.SubscriptionActive,
			"paid_at":    now,
			"updated_at": now,
		})
	if err != nil {
		return fmt.Errorf("activate subscription: %w", err)
	}
	if !swapped {
		// Lost the race. If a concurrent apply won, the subscription is
		// active and the planner below is still safe; any other status means
		// someone cancelled in between and the payment outcome must not
		// resurrect it.
		current, err := s.subRepo.FindByID(ctx, sub.ID)
		if err != nil {
			return fmt.Errorf("reload subscription: %w", err)
		}
		if current.Status != model.SubscriptionActive {
			s.log.Warnf("payment success for subscription %s in status %s, leaving as-is", sub.ID, current.Status)
			return nil
		}
	}

	if err := s.txnRepo.MarkSuccess(ctx, reference, now); err != nil {
		return fmt.Errorf("mark transaction success: %w", err)
	}

	sub, err = s.subRepo.FindByID(ctx, sub.ID)
	if err != nil {
		return fmt.Errorf("reload subscription: %w", err)
	}
	if _, err := s.planner.Materialize(ctx, sub, now, false); err != nil {
		return fmt.Errorf("materialize schedule: %w", err)
	}

	s.log.Infof("subscription %s activated by %s", sub.ID, reference)
	return nil
}

// applyRenewal reactivates the subscription named in the event metadata. The
// pending record created by Renew is only the payment vehicle; once the
// charge lands it is retired, never activated.
func (s *webhookServiceImpl) applyRenewal(ctx context.Context, reference string, md model.TransactionMetadata) error {
	if md.SubscriptionID == "" {
		return apperror.Consistency("renewal event %s carries no subscription id", reference)
	}

	txn, err := s.txnRepo.FindByReference(ctx, reference)
	if err != nil {
		return fmt.Errorf("find transaction: %w", err)
	}
	if txn.Status == model.TransactionSuccess {
		return nil
	}

	sub, err := s.subRepo.FindByID(ctx, md.SubscriptionID)
	if err != nil {
		return fmt.Errorf("find subscription for renewal: %w", err)
	}

	now := time.Now()
	endDate := CalculateEndDate(now, sub.Frequency, sub.SubscriptionPeriod)
	swapped, err := s.subRepo.UpdateStatus(ctx, sub.ID,
		[]model.SubscriptionStatus{model.SubscriptionCancelled, model.SubscriptionExpired},
		map[string]interface{}{
			"status":       model.SubscriptionActive,
			"start_date":   now,
			"end_date":     endDate,
			"paid_at":      now,
			"cancelled_at": nil,
			"updated_at":   now,
		})
	if err != nil {
		return fmt.Errorf("reactivate subscription: %w", err)
	}
	if !swapped {
		current, err := s.subRepo.FindByID(ctx, sub.ID)
		if err != nil {
			return fmt.Errorf("reload subscription: %w", err)
		}
		if current.Status != model.SubscriptionActive {
			s.log.Warnf("renewal payment for subscription %s in status %s, leaving as-is", sub.ID, current.Status)
			return nil
		}
	}

	// Retire the payment-vehicle record so it cannot linger as pending.
	if vehicle, err := s.subRepo.FindByReference(ctx, reference, model.SubscriptionPending); err == nil && vehicle.ID != sub.ID {
		if _, err := s.subRepo.UpdateStatus(ctx, vehicle.ID,
			[]model.SubscriptionStatus{model.SubscriptionPending},
			map[string]interface{}{
				"status":       model.SubscriptionCancelled,
				"cancelled_at": now,
				"updated_at":   now,
			}); err != nil {
			return fmt.Errorf("retire renewal record: %w", err)
		}
	} else if err != nil && !errors.Is(err, gorm.ErrRecordNotFound) {
		return fmt.Errorf("find renewal record: %w", err)
	}

	if err := s.txnRepo.MarkSuccess(ctx, reference, now); err != nil {
		return fmt.Errorf("mark transaction success: %w", err)
	}

	sub, err = s.subRepo.FindByID(ctx, sub.ID)
	if err != nil {
		return fmt.Errorf("reload subscription: %w", err)
	}
	if _, err := s.planner.Materialize(ctx, sub, now, false); err != nil {
		return fmt.Errorf("materialize schedule: %w", err)
	}

	s.log.Infof("subscription %s renewed by %s", sub.ID, reference)
	return nil
}

func (s *webhookServiceImpl) handleChargeFailed(ctx context.Context, event *model.PaystackWebhookEvent) error {
	reference := event.Data.Reference
	now := time.Now()

	if err := s.txnRepo.MarkFailed(ctx, reference, now); err != nil {
		return fmt.Errorf("mark transaction failed: %w", err)
	}

	sub, err := s.subRepo.FindByReference(ctx, reference, model.SubscriptionPending)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil
		}
		return fmt.Errorf("find subscription for failed charge: %w", err)
	}

	if _, err := s.subRepo.UpdateStatus(ctx, sub.ID,
		[]model.SubscriptionStatus{model.SubscriptionPending},
		map[string]interface{}{
			"status":       model.SubscriptionCancelled,
			"cancelled_at": now,
			"updated_at":   now,
		}); err != nil {
		return fmt.Errorf("cancel subscription after failed charge: %w", err)
	}

	s.log.Infof("subscription %s cancelled after failed charge %s", sub.ID, reference)
	return nil
}

// resolveSubscription prefers the explicit id in the event metadata and falls
// back to the pending record holding the payment reference.
func (s *webhookServiceImpl) resolveSubscription(ctx context.Context, reference string, md model.TransactionMetadata) (*model.Subscription, error) {
	if md.SubscriptionID != "" {
		sub, err := s.subRepo.FindByID(ctx, md.SubscriptionID)
		if err == nil {
			return sub, nil
		}
		if !errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, fmt.Errorf("find subscription: %w", err)
		}
	}

	sub, err := s.subRepo.FindByReference(ctx, reference, model.SubscriptionPending)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, apperror.NotFound("no subscription found for reference %s", reference)
		}
		return nil, fmt.Errorf("find subscription by reference: %w", err)
	}
	return sub, nil
}
