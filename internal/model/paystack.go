package model

import "encoding/json"

// Wire types for the Paystack API and its webhook callbacks.

// TransactionMetadata is attached to every initialized transaction and echoed
// back by the gateway. It carries everything needed to reconstruct the intent
// of the charge; it is decoded exactly once, at the webhook/verify boundary.
type TransactionMetadata struct {
	UserID             string             `json:"user_id"`
	PlanID             string             `json:"plan_id"`
	SubscriptionID     string             `json:"subscription_id,omitempty"`
	SizeKg             int                `json:"size_kg,omitempty"`
	Frequency          Frequency          `json:"frequency,omitempty"`
	SubscriptionPeriod int                `json:"subscription_period,omitempty"`
	Purpose            TransactionPurpose `json:"purpose"`
}

type PaystackInitializeRequest struct {
	Email       string              `json:"email"`
	AmountKobo  int64               `json:"amount"`
	Reference   string              `json:"reference,omitempty"`
	Metadata    TransactionMetadata `json:"metadata"`
	CallbackURL string              `json:"callback_url,omitempty"`
	WebhookURL  string              `json:"webhook_url,omitempty"`
}

type PaystackInitializeData struct {
	AuthorizationURL string `json:"authorization_url"`
	AccessCode       string `json:"access_code"`
	Reference        string `json:"reference"`
}

type PaystackInitializeResult struct {
	Status  bool                   `json:"status"`
	Message string                 `json:"message"`
	Data    PaystackInitializeData `json:"data"`
}

type PaystackVerifyData struct {
	Status     string              `json:"status"` // success, failed, abandoned
	Reference  string              `json:"reference"`
	AmountKobo int64               `json:"amount"`
	Metadata   TransactionMetadata `json:"metadata"`
}

type PaystackVerifyResult struct {
	Status  bool               `json:"status"`
	Message string             `json:"message"`
	Data    PaystackVerifyData `json:"data"`
}

type PaystackWebhookData struct {
	Reference  string          `json:"reference"`
	AmountKobo int64           `json:"amount"`
	Status     string          `json:"status"`
	Metadata   json.RawMessage `json:"metadata"`
}

type PaystackWebhookEvent struct {
	Event string              `json:"event"`
	Data  PaystackWebhookData `json:"data"`
}

// DecodeMetadata parses the raw metadata bag into its typed form.
func (e *PaystackWebhookEvent) DecodeMetadata() (TransactionMetadata, error) {
	var md TransactionMetadata
	if len(e.Data.Metadata) == 0 {
		return md, nil
	}
	err := json.Unmarshal(e.Data.Metadata, &md)
	return md, err
}
