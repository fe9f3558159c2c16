package handler

import (
	"io"
	"net/http"

	"gas-subscription-service/internal/apperror"
	"gas-subscription-service/internal/service"

	"github.com/labstack/echo/v4"
)

const signatureHeader = "X-Paystack-Signature"

type WebhookHandler struct {
	webhookService service.WebhookService
}

func NewWebhookHandler(webhookService service.WebhookService) *WebhookHandler {
	return &WebhookHandler{webhookService: webhookService}
}

// PaystackWebhook verifies the signature over the raw body, acknowledges the
// gateway immediately, and applies the event in the background. The 200
// response only means "received"; convergence is guaranteed by the idempotent
// apply, not by this request.
func (h *WebhookHandler) PaystackWebhook(c echo.Context) error {
	body, err := io.ReadAll(c.Request().Body)
	if err != nil {
		return c.NoContent(http.StatusBadRequest)
	}

	event, err := h.webhookService.VerifyAndDecode(c.Request().Header.Get(signatureHeader), body)
	if err != nil {
		if apperror.IsKind(err, apperror.KindAuthentication) {
			return echo.NewHTTPError(http.StatusUnauthorized, "invalid signature")
		}
		return echo.NewHTTPError(http.StatusBadRequest, "malformed payload")
	}

	h.webhookService.ProcessAsync(event)

	return c.JSON(http.StatusOK, map[string]bool{"received": true})
}
