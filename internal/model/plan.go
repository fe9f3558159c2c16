package model

import (
	"time"

	"github.com/shopspring/decimal"
)

type PlanType string

const (
	PlanPreset    PlanType = "preset"
	PlanCustom    PlanType = "custom"
	PlanOneTime   PlanType = "one-time"
	PlanEmergency PlanType = "emergency"
)

type SubscriptionPlan struct {
	ID                 string          `gorm:"primaryKey;size:36;not null"`
	Name               string          `gorm:"size:128;uniqueIndex;not null"`
	Description        string          `gorm:"size:512"`
	Type               PlanType        `gorm:"size:16;index;not null"`
	BaseSizeKg         int             // preset plans deliver exactly this size
	PricePerKg         decimal.Decimal `gorm:"type:decimal(12,2);not null"`
	AdditionalFeePerKg decimal.Decimal `gorm:"type:decimal(12,2)"`

	// Capability sets; which ones apply depends on Type.
	Frequencies []Frequency `gorm:"serializer:json"`
	Periods     []int       `gorm:"serializer:json"` // months
	SizesKg     []int       `gorm:"serializer:json"` // one-time and emergency plans
	SizeMinKg   int         // custom plans
	SizeMaxKg   int

	IsActive  bool `gorm:"index;not null;default:true"`
	CreatedAt time.Time
	UpdatedAt time.Time
}

func (p *SubscriptionPlan) SupportsFrequency(freq Frequency) bool {
	if p.Type == PlanOneTime {
		return freq == FrequencyOneTime
	}
	for _, f := range p.Frequencies {
		if f == freq {
			return true
		}
	}
	return false
}

func (p *SubscriptionPlan) SupportsCylinderSize(sizeKg int) bool {
	switch p.Type {
	case PlanCustom:
		return sizeKg >= p.SizeMinKg && sizeKg <= p.SizeMaxKg
	case PlanOneTime, PlanEmergency:
		for _, s := range p.SizesKg {
			if s == sizeKg {
				return true
			}
		}
		return false
	default:
		return sizeKg == p.BaseSizeKg
	}
}

func (p *SubscriptionPlan) SupportsSubscriptionPeriod(months int) bool {
	if p.Type == PlanOneTime {
		return false
	}
	for _, m := range p.Periods {
		if m == months {
			return true
		}
	}
	return false
}

// CalculatePrice returns sizeKg x (price per kg + additional fee per kg).
func (p *SubscriptionPlan) CalculatePrice(sizeKg int) decimal.Decimal {
	perKg := p.PricePerKg.Add(p.AdditionalFeePerKg)
	return perKg.Mul(decimal.NewFromInt(int64(sizeKg)))
}

// NextDate advances a delivery date by one cadence interval. Months are
// calendar months, not a fixed day count.
func (f Frequency) NextDate(t time.Time) time.Time {
	switch f {
	case FrequencyDaily:
		return t.AddDate(0, 0, 1)
	case FrequencyWeekly:
		return t.AddDate(0, 0, 7)
	case FrequencyBiWeekly:
		return t.AddDate(0, 0, 14)
	case FrequencyMonthly:
		return t.AddDate(0, 1, 0)
	default:
		return t.AddDate(0, 1, 0)
	}
}

// IntervalDays is the minimum number of pause-adjusted elapsed days before
// another delivery is due. Zero means the frequency never recurs.
func (f Frequency) IntervalDays() int {
	switch f {
	case FrequencyDaily:
		return 1
	case FrequencyWeekly:
		return 7
	case FrequencyBiWeekly:
		return 14
	case FrequencyMonthly:
		return 30
	default:
		return 0
	}
}

func (f Frequency) Valid() bool {
	switch f {
	case FrequencyDaily, FrequencyWeekly, FrequencyBiWeekly, FrequencyMonthly, FrequencyOneTime:
		return true
	}
	return false
}
