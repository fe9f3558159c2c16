package service

import (
	"context"
	"encoding/json"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"gas-subscription-service/internal/apperror"
	"gas-subscription-service/internal/config"
	"gas-subscription-service/internal/logger"
	"gas-subscription-service/internal/model"
	"gas-subscription-service/internal/repository"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"
)

func successEvent(reference string, md model.TransactionMetadata) *model.PaystackWebhookEvent {
	raw, _ := json.Marshal(md)
	return &model.PaystackWebhookEvent{
		Event: eventChargeSuccess,
		Data: model.PaystackWebhookData{
			Reference: reference,
			Status:    "success",
			Metadata:  raw,
		},
	}
}

func TestVerifyAndDecodeRejectsBadSignature(t *testing.T) {
	env := newTestEnv(t)
	env.gateway.signatureErr = apperror.Authentication("webhook signature mismatch")

	_, err := env.webhook.VerifyAndDecode("bogus", []byte(`{"event":"charge.success"}`))
	assert.True(t, apperror.IsKind(err, apperror.KindAuthentication))
}

func TestVerifyAndDecodeRejectsMalformedPayload(t *testing.T) {
	env := newTestEnv(t)

	_, err := env.webhook.VerifyAndDecode("sig", []byte(`{not json`))
	require.Error(t, err)
	assert.False(t, apperror.IsKind(err, apperror.KindAuthentication))
}

func TestChargeSuccessActivatesPending(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	sub := env.seedSubscription(t, func(s *model.Subscription) {
		s.Status = model.SubscriptionPending
	})
	env.seedTransaction(t, sub, model.PurposePurchase)

	event := successEvent(sub.PaymentReference, model.TransactionMetadata{
		SubscriptionID: sub.ID,
		Purpose:        model.PurposePurchase,
	})
	require.NoError(t, env.webhook.ProcessEvent(ctx, event))

	reloaded, err := env.subRepo.FindByID(ctx, sub.ID)
	require.NoError(t, err)
	assert.Equal(t, model.SubscriptionActive, reloaded.Status)
	require.NotNil(t, reloaded.PaidAt)

	txn, err := env.txnRepo.FindByReference(ctx, sub.PaymentReference)
	require.NoError(t, err)
	assert.Equal(t, model.TransactionSuccess, txn.Status)
	require.NotNil(t, txn.VerifiedAt)

	// Activation materializes the whole remaining schedule.
	count, err := env.deliveryRepo.CountForSubscription(ctx, sub.ID)
	require.NoError(t, err)
	assert.EqualValues(t, 5, count)

	processed, err := env.webhookRepo.Exists(ctx, eventChargeSuccess+":"+sub.PaymentReference)
	require.NoError(t, err)
	assert.True(t, processed)
}

func TestChargeSuccessResolvesByReferenceWithoutMetadata(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	sub := env.seedSubscription(t, func(s *model.Subscription) {
		s.Status = model.SubscriptionPending
	})
	env.seedTransaction(t, sub, model.PurposePurchase)

	event := &model.PaystackWebhookEvent{
		Event: eventChargeSuccess,
		Data:  model.PaystackWebhookData{Reference: sub.PaymentReference, Status: "success"},
	}
	require.NoError(t, env.webhook.ProcessEvent(ctx, event))

	reloaded, err := env.subRepo.FindByID(ctx, sub.ID)
	require.NoError(t, err)
	assert.Equal(t, model.SubscriptionActive, reloaded.Status)
}

func TestChargeSuccessIsIdempotent(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	sub := env.seedSubscription(t, func(s *model.Subscription) {
		s.Status = model.SubscriptionPending
	})
	env.seedTransaction(t, sub, model.PurposePurchase)

	event := successEvent(sub.PaymentReference, model.TransactionMetadata{
		SubscriptionID: sub.ID,
		Purpose:        model.PurposePurchase,
	})
	require.NoError(t, env.webhook.ProcessEvent(ctx, event))
	require.NoError(t, env.webhook.ProcessEvent(ctx, event))

	count, err := env.deliveryRepo.CountForSubscription(ctx, sub.ID)
	require.NoError(t, err)
	assert.EqualValues(t, 5, count, "duplicate event must not duplicate deliveries")
}

func TestChargeSuccessConcurrentDuplicates(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	sub := env.seedSubscription(t, func(s *model.Subscription) {
		s.Status = model.SubscriptionPending
	})
	env.seedTransaction(t, sub, model.PurposePurchase)

	event := successEvent(sub.PaymentReference, model.TransactionMetadata{
		SubscriptionID: sub.ID,
		Purpose:        model.PurposePurchase,
	})

	var wg sync.WaitGroup
	errs := make([]error, 2)
	for i := range errs {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			errs[i] = env.webhook.ProcessEvent(ctx, event)
		}(i)
	}
	wg.Wait()

	for _, err := range errs {
		require.NoError(t, err)
	}

	reloaded, err := env.subRepo.FindByID(ctx, sub.ID)
	require.NoError(t, err)
	assert.Equal(t, model.SubscriptionActive, reloaded.Status)

	count, err := env.deliveryRepo.CountForSubscription(ctx, sub.ID)
	require.NoError(t, err)
	assert.EqualValues(t, 5, count)
}

func TestChargeSuccessDoesNotResurrectCancelled(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	sub := env.seedSubscription(t, func(s *model.Subscription) {
		s.Status = model.SubscriptionCancelled
	})
	env.seedTransaction(t, sub, model.PurposePurchase)

	event := successEvent(sub.PaymentReference, model.TransactionMetadata{
		SubscriptionID: sub.ID,
		Purpose:        model.PurposePurchase,
	})
	require.NoError(t, env.webhook.ProcessEvent(ctx, event))

	reloaded, err := env.subRepo.FindByID(ctx, sub.ID)
	require.NoError(t, err)
	assert.Equal(t, model.SubscriptionCancelled, reloaded.Status)

	count, err := env.deliveryRepo.CountForSubscription(ctx, sub.ID)
	require.NoError(t, err)
	assert.Zero(t, count)
}

func TestChargeFailedCancelsPending(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	sub := env.seedSubscription(t, func(s *model.Subscription) {
		s.Status = model.SubscriptionPending
	})
	env.seedTransaction(t, sub, model.PurposePurchase)

	event := &model.PaystackWebhookEvent{
		Event: eventChargeFailed,
		Data:  model.PaystackWebhookData{Reference: sub.PaymentReference, Status: "failed"},
	}
	require.NoError(t, env.webhook.ProcessEvent(ctx, event))

	reloaded, err := env.subRepo.FindByID(ctx, sub.ID)
	require.NoError(t, err)
	assert.Equal(t, model.SubscriptionCancelled, reloaded.Status)

	txn, err := env.txnRepo.FindByReference(ctx, sub.PaymentReference)
	require.NoError(t, err)
	assert.Equal(t, model.TransactionFailed, txn.Status)
}

func TestLateChargeFailedDoesNotUndoSuccess(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	sub := env.seedSubscription(t, func(s *model.Subscription) {
		s.Status = model.SubscriptionPending
	})
	env.seedTransaction(t, sub, model.PurposePurchase)

	success := successEvent(sub.PaymentReference, model.TransactionMetadata{
		SubscriptionID: sub.ID,
		Purpose:        model.PurposePurchase,
	})
	require.NoError(t, env.webhook.ProcessEvent(ctx, success))

	// A stale failure event for the same reference arrives afterwards.
	failed := &model.PaystackWebhookEvent{
		Event: eventChargeFailed,
		Data:  model.PaystackWebhookData{Reference: sub.PaymentReference, Status: "failed"},
	}
	require.NoError(t, env.webhook.ProcessEvent(ctx, failed))

	reloaded, err := env.subRepo.FindByID(ctx, sub.ID)
	require.NoError(t, err)
	assert.Equal(t, model.SubscriptionActive, reloaded.Status)

	txn, err := env.txnRepo.FindByReference(ctx, sub.PaymentReference)
	require.NoError(t, err)
	assert.Equal(t, model.TransactionSuccess, txn.Status)
}

func TestUnknownEventIsIgnored(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	event := &model.PaystackWebhookEvent{
		Event: "transfer.success",
		Data:  model.PaystackWebhookData{Reference: "ref-1"},
	}
	require.NoError(t, env.webhook.ProcessEvent(ctx, event))

	processed, err := env.webhookRepo.Exists(ctx, "transfer.success:ref-1")
	require.NoError(t, err)
	assert.False(t, processed)
}

func TestRenewalReactivatesOriginal(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	old := env.seedSubscription(t, func(s *model.Subscription) {
		s.Status = model.SubscriptionCancelled
		s.StartDate = time.Now().AddDate(0, -2, 0)
		s.EndDate = time.Now().AddDate(0, -1, 0)
	})
	vehicle := env.seedSubscription(t, func(s *model.Subscription) {
		s.Status = model.SubscriptionPending
		s.PlanID = old.PlanID
	})
	txn := env.seedTransaction(t, vehicle, model.PurposeRenewal)

	event := successEvent(txn.Reference, model.TransactionMetadata{
		SubscriptionID: old.ID,
		Purpose:        model.PurposeRenewal,
	})
	require.NoError(t, env.webhook.ProcessEvent(ctx, event))

	// The original record comes back with a fresh term.
	reloaded, err := env.subRepo.FindByID(ctx, old.ID)
	require.NoError(t, err)
	assert.Equal(t, model.SubscriptionActive, reloaded.Status)
	assert.Nil(t, reloaded.CancelledAt)
	assert.WithinDuration(t, time.Now(), reloaded.StartDate, 10*time.Second)
	assert.WithinDuration(t, time.Now().AddDate(0, 0, 28), reloaded.EndDate, 10*time.Second)

	// The payment vehicle is retired, never activated.
	reloadedVehicle, err := env.subRepo.FindByID(ctx, vehicle.ID)
	require.NoError(t, err)
	assert.Equal(t, model.SubscriptionCancelled, reloadedVehicle.Status)

	// The schedule belongs to the original.
	count, err := env.deliveryRepo.CountForSubscription(ctx, old.ID)
	require.NoError(t, err)
	assert.EqualValues(t, 5, count)
	count, err = env.deliveryRepo.CountForSubscription(ctx, vehicle.ID)
	require.NoError(t, err)
	assert.Zero(t, count)
}

func TestRenewalIdempotentOnTransactionStatus(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	old := env.seedSubscription(t, func(s *model.Subscription) {
		s.Status = model.SubscriptionExpired
	})
	vehicle := env.seedSubscription(t, func(s *model.Subscription) {
		s.Status = model.SubscriptionPending
	})
	txn := env.seedTransaction(t, vehicle, model.PurposeRenewal)

	event := successEvent(txn.Reference, model.TransactionMetadata{
		SubscriptionID: old.ID,
		Purpose:        model.PurposeRenewal,
	})
	require.NoError(t, env.webhook.ProcessEvent(ctx, event))

	// Clear the ledger entry to force a re-apply; the transaction status
	// check still makes the second pass a no-op.
	eventKey := eventChargeSuccess + ":" + txn.Reference
	require.NoError(t, env.db.Delete(&model.WebhookEvent{}, "event_key = ?", eventKey).Error)
	require.NoError(t, env.webhook.ProcessEvent(ctx, event))

	count, err := env.deliveryRepo.CountForSubscription(ctx, old.ID)
	require.NoError(t, err)
	assert.EqualValues(t, 5, count)
}

// flakyEventLedger injects a number of transient failures before delegating
// to the real ledger, and counts every apply attempt.
type flakyEventLedger struct {
	real     repository.WebhookEventRepository
	failures int32
	attempts int32
}

func (l *flakyEventLedger) Exists(ctx context.Context, eventKey string) (bool, error) {
	atomic.AddInt32(&l.attempts, 1)
	if atomic.AddInt32(&l.failures, -1) >= 0 {
		return false, assert.AnError
	}
	return l.real.Exists(ctx, eventKey)
}

func (l *flakyEventLedger) MarkProcessed(ctx context.Context, eventKey, eventType, reference string) error {
	return l.real.MarkProcessed(ctx, eventKey, eventType, reference)
}

func (l *flakyEventLedger) attemptCount() int32 {
	return atomic.LoadInt32(&l.attempts)
}

func newAsyncWebhookService(env *testEnv, ledger repository.WebhookEventRepository, log *logger.Logger, maxRetryElapsed time.Duration) WebhookService {
	cfg := &config.Config{Webhook: config.Webhook{MaxRetryElapsed: maxRetryElapsed}}
	return NewWebhookService(env.gateway, env.subRepo, env.txnRepo, ledger, env.planner, cfg, log)
}

func observedLogger() (*logger.Logger, *observer.ObservedLogs) {
	core, logs := observer.New(zap.WarnLevel)
	return &logger.Logger{SugaredLogger: zap.New(core).Sugar()}, logs
}

func TestProcessAsyncRetriesTransientFailures(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	sub := env.seedSubscription(t, func(s *model.Subscription) {
		s.Status = model.SubscriptionPending
	})
	env.seedTransaction(t, sub, model.PurposePurchase)

	ledger := &flakyEventLedger{real: env.webhookRepo, failures: 2}
	svc := newAsyncWebhookService(env, ledger, logger.NewNop(), 30*time.Second)

	svc.ProcessAsync(successEvent(sub.PaymentReference, model.TransactionMetadata{
		SubscriptionID: sub.ID,
		Purpose:        model.PurposePurchase,
	}))

	// Two transient failures burn retries; the third attempt lands.
	require.Eventually(t, func() bool {
		reloaded, err := env.subRepo.FindByID(ctx, sub.ID)
		return err == nil && reloaded.Status == model.SubscriptionActive
	}, 15*time.Second, 50*time.Millisecond)

	assert.GreaterOrEqual(t, ledger.attemptCount(), int32(3))

	count, err := env.deliveryRepo.CountForSubscription(ctx, sub.ID)
	require.NoError(t, err)
	assert.EqualValues(t, 5, count, "the retried apply must land exactly once")
}

func TestProcessAsyncDeadLettersAfterRetryBudget(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	sub := env.seedSubscription(t, func(s *model.Subscription) {
		s.Status = model.SubscriptionPending
	})
	env.seedTransaction(t, sub, model.PurposePurchase)

	log, logs := observedLogger()
	ledger := &flakyEventLedger{real: env.webhookRepo, failures: 1 << 30}
	svc := newAsyncWebhookService(env, ledger, log, 2*time.Second)

	svc.ProcessAsync(successEvent(sub.PaymentReference, model.TransactionMetadata{
		SubscriptionID: sub.ID,
		Purpose:        model.PurposePurchase,
	}))

	require.Eventually(t, func() bool {
		return logs.FilterMessage("webhook event dead-lettered").Len() == 1
	}, 15*time.Second, 50*time.Millisecond)

	assert.GreaterOrEqual(t, ledger.attemptCount(), int32(2), "transient failures must be retried before giving up")

	reloaded, err := env.subRepo.FindByID(ctx, sub.ID)
	require.NoError(t, err)
	assert.Equal(t, model.SubscriptionPending, reloaded.Status)
}

func TestProcessAsyncDoesNotRetryPermanentFailures(t *testing.T) {
	env := newTestEnv(t)

	log, logs := observedLogger()
	ledger := &flakyEventLedger{real: env.webhookRepo}
	svc := newAsyncWebhookService(env, ledger, log, 30*time.Second)

	// A renewal success without a subscription id can never apply; it must
	// dead-letter immediately instead of burning the whole retry budget.
	svc.ProcessAsync(successEvent("ref-broken", model.TransactionMetadata{
		Purpose: model.PurposeRenewal,
	}))

	require.Eventually(t, func() bool {
		return logs.FilterMessage("webhook event dead-lettered").Len() == 1
	}, 15*time.Second, 50*time.Millisecond)

	assert.EqualValues(t, 1, ledger.attemptCount())
}

func TestVerifyPaymentActivates(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	sub := env.seedSubscription(t, func(s *model.Subscription) {
		s.Status = model.SubscriptionPending
	})
	env.seedTransaction(t, sub, model.PurposePurchase)
	env.gateway.verifyData = &model.PaystackVerifyData{
		Status:    "success",
		Reference: sub.PaymentReference,
		Metadata: model.TransactionMetadata{
			SubscriptionID: sub.ID,
			Purpose:        model.PurposePurchase,
		},
	}

	verified, err := env.webhook.VerifyPayment(ctx, sub.PaymentReference)
	require.NoError(t, err)
	assert.Equal(t, model.SubscriptionActive, verified.Status)
}

func TestVerifyPaymentRejectsNonSuccess(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	sub := env.seedSubscription(t, func(s *model.Subscription) {
		s.Status = model.SubscriptionPending
	})
	env.seedTransaction(t, sub, model.PurposePurchase)
	env.gateway.verifyData = &model.PaystackVerifyData{
		Status:    "abandoned",
		Reference: sub.PaymentReference,
	}

	_, err := env.webhook.VerifyPayment(ctx, sub.PaymentReference)
	assert.True(t, apperror.IsKind(err, apperror.KindValidation))

	reloaded, err := env.subRepo.FindByID(ctx, sub.ID)
	require.NoError(t, err)
	assert.Equal(t, model.SubscriptionPending, reloaded.Status)
}
