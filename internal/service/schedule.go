package service

import (
	"context"
	"fmt"
	"time"

	"gas-subscription-service/internal/logger"
	"gas-subscription-service/internal/model"
	"gas-subscription-service/internal/repository"

	"github.com/google/uuid"
)

// maxDeliveriesPerRun bounds a single materialization so a pathological
// period can never flood the delivery table.
const maxDeliveriesPerRun = 100

// CalculateEndDate derives the subscription term from its cadence. A "month"
// of deliveries means 30 daily, 4 weekly or 2 bi-weekly occurrences; Monthly
// uses calendar month arithmetic. One-Time terms end the day they start.
func CalculateEndDate(start time.Time, freq model.Frequency, periodMonths int) time.Time {
	if periodMonths < 1 {
		periodMonths = 1
	}

	switch freq {
	case model.FrequencyOneTime:
		return start
	case model.FrequencyDaily:
		return start.AddDate(0, 0, 30*periodMonths)
	case model.FrequencyWeekly:
		return start.AddDate(0, 0, 7*4*periodMonths)
	case model.FrequencyBiWeekly:
		return start.AddDate(0, 0, 14*4*periodMonths)
	default:
		return start.AddDate(0, periodMonths, 0)
	}
}

// PlanDates produces the ordered delivery dates for a subscription, from
// max(startDate, today) through endDate inclusive. One-Time always yields
// exactly the start date.
func PlanDates(sub *model.Subscription, today time.Time) []time.Time {
	if sub.Frequency == model.FrequencyOneTime {
		return []time.Time{sub.StartDate}
	}

	from := truncateToDay(today)
	if sub.StartDate.After(from) {
		from = truncateToDay(sub.StartDate)
	}
	end := truncateToDay(sub.EndDate)

	var dates []time.Time
	for cur := truncateToDay(sub.StartDate); !cur.After(end); cur = sub.Frequency.NextDate(cur) {
		if cur.Before(from) {
			continue
		}
		dates = append(dates, cur)
		if len(dates) >= maxDeliveriesPerRun {
			break
		}
	}

	return dates
}

// PausedSince sums the time a subscription spent paused after the given
// instant, including an in-progress pause. The fulfillment worker subtracts
// this from raw elapsed time so paused days do not count toward the cadence.
func PausedSince(sub *model.Subscription, since, now time.Time) time.Duration {
	var paused time.Duration
	for _, rec := range sub.PauseHistory {
		if rec.PausedAt.After(since) {
			paused += time.Duration(rec.DurationMs) * time.Millisecond
		}
	}
	if sub.PausedAt != nil && sub.PausedAt.After(since) {
		paused += now.Sub(*sub.PausedAt)
	}
	return paused
}

func truncateToDay(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, t.Location())
}

type SchedulePlanner interface {
	// Materialize inserts the planned delivery dates that do not exist yet.
	// Override forces re-insertion of already-occupied days (administrative
	// use only). Returns the number of deliveries actually created.
	Materialize(ctx context.Context, sub *model.Subscription, today time.Time, override bool) (int, error)
	// MaterializeDay inserts a single delivery for the given day if the
	// (subscription, day) slot is free.
	MaterializeDay(ctx context.Context, sub *model.Subscription, day time.Time) (bool, error)
}

type schedulePlannerImpl struct {
	deliveryRepo repository.DeliveryRepository
	log          *logger.Logger
}

func NewSchedulePlanner(deliveryRepo repository.DeliveryRepository, log *logger.Logger) SchedulePlanner {
	return &schedulePlannerImpl{
		deliveryRepo: deliveryRepo,
		log:          log,
	}
}

func (p *schedulePlannerImpl) Materialize(ctx context.Context, sub *model.Subscription, today time.Time, override bool) (int, error) {
	created := 0
	for _, date := range PlanDates(sub, today) {
		if override {
			if err := p.deliveryRepo.DeleteForDay(ctx, sub.ID, date.Format(model.DayFormat)); err != nil {
				return created, fmt.Errorf("clear delivery slot: %w", err)
			}
		}

		inserted, err := p.insert(ctx, sub, date)
		if err != nil {
			return created, err
		}
		if inserted {
			created++
		}
		if created >= maxDeliveriesPerRun {
			p.log.Warnf("delivery cap reached for subscription %s", sub.ID)
			break
		}
	}

	p.log.Infof("materialized %d deliveries for subscription %s", created, sub.ID)
	return created, nil
}

func (p *schedulePlannerImpl) MaterializeDay(ctx context.Context, sub *model.Subscription, day time.Time) (bool, error) {
	return p.insert(ctx, sub, truncateToDay(day))
}

func (p *schedulePlannerImpl) insert(ctx context.Context, sub *model.Subscription, date time.Time) (bool, error) {
	inserted, err := p.deliveryRepo.Insert(ctx, &model.Delivery{
		ID:             uuid.NewString(),
		SubscriptionID: sub.ID,
		UserID:         sub.UserID,
		ScheduledDate:  date,
		ScheduledDay:   date.Format(model.DayFormat),
		Status:         model.DeliveryPending,
		PlanName:       sub.PlanName,
		SizeKg:         sub.SizeKg,
		Price:          sub.Price,
	})
	if err != nil {
		return false, fmt.Errorf("insert delivery: %w", err)
	}
	return inserted, nil
}
