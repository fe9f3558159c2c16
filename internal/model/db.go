package model

import (
	"time"

	"github.com/shopspring/decimal"
)

type SubscriptionStatus string

const (
	SubscriptionPending   SubscriptionStatus = "pending"
	SubscriptionActive    SubscriptionStatus = "active"
	SubscriptionPaused    SubscriptionStatus = "paused"
	SubscriptionCancelled SubscriptionStatus = "cancelled"
	SubscriptionExpired   SubscriptionStatus = "expired"
)

type Frequency string

const (
	FrequencyDaily    Frequency = "Daily"
	FrequencyWeekly   Frequency = "Weekly"
	FrequencyBiWeekly Frequency = "Bi-Weekly"
	FrequencyMonthly  Frequency = "Monthly"
	FrequencyOneTime  Frequency = "One-Time"
)

type Subscription struct {
	ID                 string             `gorm:"primaryKey;size:36;not null"`
	UserID             string             `gorm:"size:36;index;not null"`
	PlanID             string             `gorm:"size:36;index;not null"`
	PlanName           string             `gorm:"size:128;not null"`
	SizeKg             int                `gorm:"not null"`
	Frequency          Frequency          `gorm:"size:16;not null"`
	SubscriptionPeriod int                `gorm:"not null;default:1"` // months
	Price              decimal.Decimal    `gorm:"type:decimal(12,2);not null"`
	PaymentReference   string             `gorm:"size:64;uniqueIndex;not null"`
	Status             SubscriptionStatus `gorm:"size:16;index;not null"`
	StartDate          time.Time          `gorm:"not null"`
	EndDate            time.Time          `gorm:"index;not null"`
	PaidAt             *time.Time
	CancelledAt        *time.Time

	// Set while paused, cleared on resume. RemainingDurationMs is the time
	// budget left on the term at the moment of pausing.
	PausedAt            *time.Time
	RemainingDurationMs *int64

	PauseHistory []PauseRecord `gorm:"foreignKey:SubscriptionID"`
	Deliveries   []Delivery    `gorm:"foreignKey:SubscriptionID"`

	CreatedAt time.Time
	UpdatedAt time.Time
}

// PauseRecord rows are append-only; one is written at resume time and never
// touched again.
type PauseRecord struct {
	ID             uint   `gorm:"primaryKey"`
	SubscriptionID string `gorm:"size:36;index;not null"`
	PausedAt       time.Time
	ResumedAt      time.Time
	DurationMs     int64
	CreatedAt      time.Time
}

type DeliveryStatus string

const (
	DeliveryPending        DeliveryStatus = "pending"
	DeliveryOutForDelivery DeliveryStatus = "out_for_delivery"
	DeliveryDelivered      DeliveryStatus = "delivered"
	DeliveryFailed         DeliveryStatus = "failed"
	DeliveryCancelled      DeliveryStatus = "cancelled"
)

// DayFormat is the layout for Delivery.ScheduledDay, the per-day half of the
// anti-duplication key.
const DayFormat = "2006-01-02"

type Delivery struct {
	ID             string `gorm:"primaryKey;size:36;not null"`
	SubscriptionID string `gorm:"size:36;not null;uniqueIndex:idx_delivery_sub_day,priority:1"`
	UserID         string `gorm:"size:36;index;not null"`
	ScheduledDate  time.Time
	// ScheduledDate truncated to day. (SubscriptionID, ScheduledDay) is unique
	// so a date can never be materialized twice.
	ScheduledDay string         `gorm:"size:10;not null;uniqueIndex:idx_delivery_sub_day,priority:2"`
	Status       DeliveryStatus `gorm:"size:24;index;not null"`

	// Plan snapshot at scheduling time; plan edits never rewrite history.
	PlanName string `gorm:"size:128"`
	SizeKg   int
	Price    decimal.Decimal `gorm:"type:decimal(12,2)"`

	CreatedAt time.Time
	UpdatedAt time.Time
}

type TransactionStatus string

const (
	TransactionPending TransactionStatus = "pending"
	TransactionSuccess TransactionStatus = "success"
	TransactionFailed  TransactionStatus = "failed"
)

// TransactionPurpose discriminates what a successful charge should do.
type TransactionPurpose string

const (
	PurposePurchase TransactionPurpose = "purchase"
	PurposeRenewal  TransactionPurpose = "renewal"
)

type PaymentTransaction struct {
	Reference      string             `gorm:"primaryKey;size:64;not null"`
	UserID         string             `gorm:"size:36;index;not null"`
	Email          string             `gorm:"size:128"`
	Amount         decimal.Decimal    `gorm:"type:decimal(12,2);not null"`
	Currency       string             `gorm:"size:8;not null;default:NGN"`
	Status         TransactionStatus  `gorm:"size:16;index;not null"`
	Purpose        TransactionPurpose `gorm:"size:16;not null"`
	SubscriptionID string             `gorm:"size:36;index"`
	VerifiedAt     *time.Time
	FailedAt       *time.Time
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

// WebhookEvent records gateway events that were fully applied. Correctness
// does not depend on it (status updates are compare-and-swap); it exists so
// duplicate deliveries are observable and skippable cheaply.
type WebhookEvent struct {
	EventKey    string `gorm:"primaryKey;size:160;not null"`
	EventType   string `gorm:"size:64;index"`
	Reference   string `gorm:"size:64;index"`
	ProcessedAt time.Time
	CreatedAt   time.Time
}
