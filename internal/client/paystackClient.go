package client

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha512"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	"gas-subscription-service/internal/apperror"
	"gas-subscription-service/internal/config"
	"gas-subscription-service/internal/model"
)

type PaystackClient interface {
	InitializeTransaction(ctx context.Context, req *model.PaystackInitializeRequest) (*model.PaystackInitializeData, error)
	VerifyTransaction(ctx context.Context, reference string) (*model.PaystackVerifyData, error)
	// VerifyWebhookSignature checks the header-carried HMAC against the exact
	// raw payload bytes. It must be called before the payload is parsed.
	VerifyWebhookSignature(signature string, body []byte) error
}

type paystackClientImpl struct {
	httpClient *http.Client
	baseAPIURL string
	secretKey  string
}

func NewPaystackClient(cfg *config.Paystack) PaystackClient {
	return &paystackClientImpl{
		httpClient: &http.Client{
			Timeout: cfg.Timeout,
		},
		baseAPIURL: cfg.BaseAPIURL,
		secretKey:  cfg.SecretKey,
	}
}

func (c *paystackClientImpl) InitializeTransaction(ctx context.Context, initReq *model.PaystackInitializeRequest) (*model.PaystackInitializeData, error) {
	body, err := json.Marshal(initReq)
	if err != nil {
		return nil, fmt.Errorf("marshal initialize payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		c.baseAPIURL+"/transaction/initialize", bytes.NewBuffer(body))
	if err != nil {
		return nil, fmt.Errorf("http new request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.secretKey)
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, apperror.Gateway(err, "paystack initialize request failed")
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		b, _ := io.ReadAll(resp.Body)
		return nil, apperror.Gateway(nil, "paystack initialize error %d: %s", resp.StatusCode, string(b))
	}

	var result model.PaystackInitializeResult
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, fmt.Errorf("decode paystack response: %w", err)
	}
	if !result.Status {
		return nil, apperror.Gateway(nil, "paystack initialize rejected: %s", result.Message)
	}

	return &result.Data, nil
}

func (c *paystackClientImpl) VerifyTransaction(ctx context.Context, reference string) (*model.PaystackVerifyData, error) {
	url := fmt.Sprintf("%s/transaction/verify/%s", c.baseAPIURL, reference)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("http new request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.secretKey)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, apperror.Gateway(err, "paystack verify request failed")
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		b, _ := io.ReadAll(resp.Body)
		return nil, apperror.Gateway(nil, "paystack verify error %d: %s", resp.StatusCode, string(b))
	}

	var result model.PaystackVerifyResult
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, fmt.Errorf("decode paystack response: %w", err)
	}
	if !result.Status {
		return nil, apperror.Gateway(nil, "paystack verify rejected: %s", result.Message)
	}

	return &result.Data, nil
}

func (c *paystackClientImpl) VerifyWebhookSignature(signature string, body []byte) error {
	if signature == "" {
		return apperror.Authentication("webhook signature missing")
	}

	mac := hmac.New(sha512.New, []byte(c.secretKey))
	mac.Write(body)
	expected := hex.EncodeToString(mac.Sum(nil))

	if !hmac.Equal([]byte(expected), []byte(signature)) {
		return apperror.Authentication("invalid webhook signature")
	}
	return nil
}
