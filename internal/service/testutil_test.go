package service

import (
	"context"
	"sync"
	"testing"
	"time"

	"gas-subscription-service/internal/client"
	"gas-subscription-service/internal/config"
	"gas-subscription-service/internal/logger"
	"gas-subscription-service/internal/model"
	"gas-subscription-service/internal/repository"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
)

func newTestDB(t *testing.T) *gorm.DB {
	t.Helper()

	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{})
	require.NoError(t, err)

	// One connection keeps the whole pool on the same in-memory database and
	// serializes concurrent writers the way a real DB would.
	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)

	require.NoError(t, client.Migrate(db))
	return db
}

type mockGateway struct {
	mu           sync.Mutex
	initCalls    []*model.PaystackInitializeRequest
	initErr      error
	verifyData   *model.PaystackVerifyData
	verifyErr    error
	signatureErr error
}

func (m *mockGateway) InitializeTransaction(_ context.Context, req *model.PaystackInitializeRequest) (*model.PaystackInitializeData, error) {
	m.mu.Lock()
	m.initCalls = append(m.initCalls, req)
	m.mu.Unlock()

	if m.initErr != nil {
		return nil, m.initErr
	}
	return &model.PaystackInitializeData{
		AuthorizationURL: "https://checkout.paystack.test/" + req.Reference,
		Reference:        req.Reference,
	}, nil
}

func (m *mockGateway) VerifyTransaction(_ context.Context, reference string) (*model.PaystackVerifyData, error) {
	if m.verifyErr != nil {
		return nil, m.verifyErr
	}
	if m.verifyData != nil {
		return m.verifyData, nil
	}
	return &model.PaystackVerifyData{Status: "success", Reference: reference}, nil
}

func (m *mockGateway) VerifyWebhookSignature(string, []byte) error {
	return m.signatureErr
}

func (m *mockGateway) initCallCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.initCalls)
}

type testEnv struct {
	db           *gorm.DB
	gateway      *mockGateway
	planRepo     repository.PlanRepository
	subRepo      repository.SubscriptionRepository
	txnRepo      repository.TransactionRepository
	deliveryRepo repository.DeliveryRepository
	webhookRepo  repository.WebhookEventRepository
	planner      SchedulePlanner
	subscription SubscriptionService
	webhook      WebhookService
	fulfillment  FulfillmentService
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()

	db := newTestDB(t)
	log := logger.NewNop()
	gateway := &mockGateway{}
	cfg := &config.Config{
		BaseURL:     "https://gas.example.com",
		FrontendURL: "https://app.gas.example.com",
		Webhook:     config.Webhook{MaxRetryElapsed: time.Second},
	}

	env := &testEnv{
		db:           db,
		gateway:      gateway,
		planRepo:     repository.NewPlanRepository(db),
		subRepo:      repository.NewSubscriptionRepository(db),
		txnRepo:      repository.NewTransactionRepository(db),
		deliveryRepo: repository.NewDeliveryRepository(db),
		webhookRepo:  repository.NewWebhookEventRepository(db),
	}
	env.planner = NewSchedulePlanner(env.deliveryRepo, log)
	env.subscription = NewSubscriptionService(
		gateway, env.planRepo, env.subRepo, env.txnRepo, env.deliveryRepo, cfg, log)
	env.webhook = NewWebhookService(
		gateway, env.subRepo, env.txnRepo, env.webhookRepo, env.planner, cfg, log)
	env.fulfillment = NewFulfillmentService(env.subRepo, env.deliveryRepo, env.planner, log)

	return env
}

func (e *testEnv) seedPresetPlan(t *testing.T) *model.SubscriptionPlan {
	t.Helper()

	plan := &model.SubscriptionPlan{
		ID:          uuid.NewString(),
		Name:        "Home Essentials " + uuid.NewString()[:8],
		Description: "Weekly 6kg refills",
		Type:        model.PlanPreset,
		BaseSizeKg:  6,
		PricePerKg:  decimal.NewFromInt(1500),
		Frequencies: []model.Frequency{model.FrequencyDaily, model.FrequencyWeekly, model.FrequencyMonthly},
		Periods:     []int{1, 3, 6},
		IsActive:    true,
	}
	require.NoError(t, e.planRepo.Create(context.Background(), plan))
	return plan
}

func (e *testEnv) seedSubscription(t *testing.T, mutate func(*model.Subscription)) *model.Subscription {
	t.Helper()

	now := time.Now()
	sub := &model.Subscription{
		ID:                 uuid.NewString(),
		UserID:             "user-1",
		PlanID:             uuid.NewString(),
		PlanName:           "Home Essentials",
		SizeKg:             6,
		Frequency:          model.FrequencyWeekly,
		SubscriptionPeriod: 1,
		Price:              decimal.NewFromInt(9000),
		PaymentReference:   uuid.NewString(),
		Status:             model.SubscriptionActive,
		StartDate:          now,
		EndDate:            CalculateEndDate(now, model.FrequencyWeekly, 1),
	}
	if mutate != nil {
		mutate(sub)
	}
	require.NoError(t, e.subRepo.Create(context.Background(), sub))

	loaded, err := e.subRepo.FindByID(context.Background(), sub.ID)
	require.NoError(t, err)
	return loaded
}

func (e *testEnv) seedTransaction(t *testing.T, sub *model.Subscription, purpose model.TransactionPurpose) *model.PaymentTransaction {
	t.Helper()

	txn := &model.PaymentTransaction{
		Reference:      sub.PaymentReference,
		UserID:         sub.UserID,
		Email:          "user@example.com",
		Amount:         sub.Price,
		Currency:       "NGN",
		Status:         model.TransactionPending,
		Purpose:        purpose,
		SubscriptionID: sub.ID,
	}
	require.NoError(t, e.txnRepo.Create(context.Background(), txn))
	return txn
}

func day(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, t.Location())
}
