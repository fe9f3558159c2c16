package dto

import (
	"time"

	"gas-subscription-service/internal/model"
)

type CreateSubscriptionRequest struct {
	PlanID             string          `json:"plan_id" validate:"required"`
	SizeKg             int             `json:"size_kg" validate:"required,min=1"`
	Frequency          model.Frequency `json:"frequency" validate:"required"`
	SubscriptionPeriod int             `json:"subscription_period" validate:"omitempty,min=1,max=12"`
}

type CreateSubscriptionResponse struct {
	AuthorizationURL string              `json:"authorization_url"`
	Reference        string              `json:"reference"`
	Subscription     *model.Subscription `json:"subscription"`
}

type SubscriptionListResponse struct {
	Count         int                   `json:"count"`
	Subscriptions []*model.Subscription `json:"subscriptions"`
}

type DeliveryListRequest struct {
	Page  int        `query:"page"`
	Limit int        `query:"limit"`
	From  *time.Time `query:"from"`
	To    *time.Time `query:"to"`
}

type DeliveryListResponse struct {
	Total      int64             `json:"total"`
	Page       int               `json:"page"`
	Deliveries []*model.Delivery `json:"deliveries"`
}

// SweepResult summarizes one fulfillment pass.
type SweepResult struct {
	Expired   int64    `json:"expired"`
	Processed int      `json:"processed"`
	Created   int      `json:"created"`
	Errors    []string `json:"errors,omitempty"`
}
