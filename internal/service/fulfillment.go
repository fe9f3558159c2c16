package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"gas-subscription-service/internal/dto"
	"gas-subscription-service/internal/logger"
	"gas-subscription-service/internal/model"
	"gas-subscription-service/internal/repository"

	"github.com/samber/lo"
	"gorm.io/gorm"
)

// FulfillmentService sweeps active subscriptions and materializes the
// deliveries that have come due. Every step is idempotent, so a sweep can be
// re-run (or run by an overlapping ticker and admin call) without creating
// duplicate work.
type FulfillmentService interface {
	RunSweep(ctx context.Context, today time.Time) (*dto.SweepResult, error)
	// Start runs RunSweep on a fixed interval until the context is cancelled.
	Start(ctx context.Context, interval time.Duration)
}

type fulfillmentServiceImpl struct {
	subRepo      repository.SubscriptionRepository
	deliveryRepo repository.DeliveryRepository
	planner      SchedulePlanner
	log          *logger.Logger
}

func NewFulfillmentService(
	subRepo repository.SubscriptionRepository,
	deliveryRepo repository.DeliveryRepository,
	planner SchedulePlanner,
	log *logger.Logger,
) FulfillmentService {
	return &fulfillmentServiceImpl{
		subRepo:      subRepo,
		deliveryRepo: deliveryRepo,
		planner:      planner,
		log:          log,
	}
}

func (s *fulfillmentServiceImpl) RunSweep(ctx context.Context, today time.Time) (*dto.SweepResult, error) {
	day := truncateToDay(today)
	result := &dto.SweepResult{}

	// Terms that ran out move to expired first so they drop out of the due
	// scan below. Safe to repeat; the guard is the same CAS as elsewhere.
	expired, err := s.subRepo.ExpireOverdue(ctx, day)
	if err != nil {
		return nil, fmt.Errorf("expire overdue subscriptions: %w", err)
	}
	result.Expired = expired

	subs, err := s.subRepo.ListDue(ctx, day)
	if err != nil {
		return nil, fmt.Errorf("list due subscriptions: %w", err)
	}

	for _, sub := range subs {
		result.Processed++

		due, err := s.deliveryDue(ctx, sub, day)
		if err != nil {
			result.Errors = append(result.Errors, fmt.Sprintf("%s: %v", sub.ID, err))
			continue
		}
		if !due {
			continue
		}

		created, err := s.planner.MaterializeDay(ctx, sub, day)
		if err != nil {
			result.Errors = append(result.Errors, fmt.Sprintf("%s: %v", sub.ID, err))
			continue
		}
		if created {
			result.Created++
		}
	}

	s.log.Infow("fulfillment sweep finished",
		"expired", result.Expired,
		"processed", result.Processed,
		"created", result.Created,
		"errors", len(result.Errors),
	)
	return result, nil
}

// deliveryDue compares pause-adjusted elapsed time since the last delivery
// against the cadence interval. Time spent paused does not count.
func (s *fulfillmentServiceImpl) deliveryDue(ctx context.Context, sub *model.Subscription, today time.Time) (bool, error) {
	interval := sub.Frequency.IntervalDays()
	if interval == 0 {
		// One-Time: the single delivery was materialized at activation.
		return false, nil
	}

	var lastDay time.Time
	last, err := s.deliveryRepo.LastForSubscription(ctx, sub.ID)
	switch {
	case err == nil:
		lastDay, err = time.ParseInLocation(model.DayFormat, last.ScheduledDay, today.Location())
		if err != nil {
			return false, fmt.Errorf("parse last delivery day: %w", err)
		}
	case errors.Is(err, gorm.ErrRecordNotFound):
		// Nothing delivered yet; count from the start of the term.
		lastDay = truncateToDay(sub.StartDate)
	default:
		return false, fmt.Errorf("find last delivery: %w", err)
	}

	elapsed := today.Sub(lastDay)
	elapsed -= PausedSince(sub, lastDay, today)

	return elapsed >= time.Duration(interval)*24*time.Hour, nil
}

func (s *fulfillmentServiceImpl) Start(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		return
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			result, err := s.RunSweep(ctx, time.Now())
			if err != nil {
				s.log.Errorw("fulfillment sweep failed", "error", err)
				continue
			}
			if len(result.Errors) > 0 {
				s.log.Warnw("fulfillment sweep had per-subscription failures",
					"failed", len(result.Errors),
					"sample", lo.Slice(result.Errors, 0, 5),
				)
			}
		}
	}
}
