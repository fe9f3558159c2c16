package handler

import (
	"net/http"
	"time"

	"gas-subscription-service/internal/dto"
	"gas-subscription-service/internal/service"

	"github.com/labstack/echo/v4"
)

type SubscriptionHandler struct {
	subscriptionService service.SubscriptionService
	webhookService      service.WebhookService
	fulfillmentService  service.FulfillmentService
}

func NewSubscriptionHandler(
	subscriptionService service.SubscriptionService,
	webhookService service.WebhookService,
	fulfillmentService service.FulfillmentService,
) *SubscriptionHandler {
	return &SubscriptionHandler{
		subscriptionService: subscriptionService,
		webhookService:      webhookService,
		fulfillmentService:  fulfillmentService,
	}
}

func userFromContext(c echo.Context) (userID, email string, err error) {
	userID, _ = c.Get("user_id").(string)
	email, _ = c.Get("email").(string)
	if userID == "" {
		return "", "", echo.NewHTTPError(http.StatusUnauthorized, "missing user identity")
	}
	return userID, email, nil
}

// ownerScope returns the owner id to filter by: admins see everything.
func ownerScope(c echo.Context) string {
	if role, _ := c.Get("role").(string); role == "admin" {
		return ""
	}
	userID, _ := c.Get("user_id").(string)
	return userID
}

func (h *SubscriptionHandler) Create(c echo.Context) error {
	ctx := c.Request().Context()

	userID, email, err := userFromContext(c)
	if err != nil {
		return err
	}

	var req dto.CreateSubscriptionRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	if err := c.Validate(&req); err != nil {
		return err
	}

	result, err := h.subscriptionService.Create(ctx, userID, email, &req)
	if err != nil {
		return err
	}

	return c.JSON(http.StatusOK, result)
}

// ListPlans is public; plan discovery happens before signup.
func (h *SubscriptionHandler) ListPlans(c echo.Context) error {
	plans, err := h.subscriptionService.ListPlans(c.Request().Context())
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, plans)
}

func (h *SubscriptionHandler) VerifyPayment(c echo.Context) error {
	ctx := c.Request().Context()

	reference := c.QueryParam("reference")
	if reference == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "reference missing")
	}

	sub, err := h.webhookService.VerifyPayment(ctx, reference)
	if err != nil {
		return err
	}

	return c.JSON(http.StatusOK, sub)
}

func (h *SubscriptionHandler) ListMine(c echo.Context) error {
	ctx := c.Request().Context()

	userID, _, err := userFromContext(c)
	if err != nil {
		return err
	}

	subs, err := h.subscriptionService.ListMine(ctx, userID)
	if err != nil {
		return err
	}

	return c.JSON(http.StatusOK, dto.SubscriptionListResponse{
		Count:         len(subs),
		Subscriptions: subs,
	})
}

func (h *SubscriptionHandler) Pause(c echo.Context) error {
	sub, err := h.subscriptionService.Pause(c.Request().Context(), ownerScope(c), c.Param("id"))
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, sub)
}

func (h *SubscriptionHandler) Resume(c echo.Context) error {
	sub, err := h.subscriptionService.Resume(c.Request().Context(), ownerScope(c), c.Param("id"))
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, sub)
}

func (h *SubscriptionHandler) Cancel(c echo.Context) error {
	sub, err := h.subscriptionService.Cancel(c.Request().Context(), ownerScope(c), c.Param("id"))
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, sub)
}

func (h *SubscriptionHandler) Renew(c echo.Context) error {
	ctx := c.Request().Context()

	_, email, err := userFromContext(c)
	if err != nil {
		return err
	}

	result, err := h.subscriptionService.Renew(ctx, ownerScope(c), c.Param("id"), email)
	if err != nil {
		return err
	}

	return c.JSON(http.StatusOK, result)
}

func (h *SubscriptionHandler) GetDeliveries(c echo.Context) error {
	ctx := c.Request().Context()

	var req dto.DeliveryListRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid query parameters")
	}

	result, err := h.subscriptionService.GetDeliveries(ctx, ownerScope(c), c.Param("id"), &req)
	if err != nil {
		return err
	}

	return c.JSON(http.StatusOK, result)
}

// ProcessSweep triggers one fulfillment sweep. Admin only; the periodic
// ticker calls the same code path.
func (h *SubscriptionHandler) ProcessSweep(c echo.Context) error {
	result, err := h.fulfillmentService.RunSweep(c.Request().Context(), time.Now())
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, result)
}
