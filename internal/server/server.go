package server

import (
	"errors"
	"net/http"

	"gas-subscription-service/internal/apperror"
	"gas-subscription-service/internal/config"
	"gas-subscription-service/internal/handler"
	appmiddleware "gas-subscription-service/internal/middleware"
	"gas-subscription-service/internal/service"

	"github.com/go-playground/validator/v10"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
)

type Server struct {
	echo                *echo.Echo
	subscriptionHandler *handler.SubscriptionHandler
	webhookHandler      *handler.WebhookHandler
	jwtSecret           string
}

type requestValidator struct {
	validate *validator.Validate
}

func (v *requestValidator) Validate(i interface{}) error {
	if err := v.validate.Struct(i); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	return nil
}

func NewServer(
	cfg *config.Config,
	subscriptionService service.SubscriptionService,
	webhookService service.WebhookService,
	fulfillmentService service.FulfillmentService,
) *Server {
	e := echo.New()
	e.HideBanner = true
	e.Validator = &requestValidator{validate: validator.New()}
	e.HTTPErrorHandler = errorHandler(e)

	e.Use(middleware.Logger())
	e.Use(middleware.Recover())
	e.Use(middleware.CORS())

	s := &Server{
		echo:                e,
		subscriptionHandler: handler.NewSubscriptionHandler(subscriptionService, webhookService, fulfillmentService),
		webhookHandler:      handler.NewWebhookHandler(webhookService),
		jwtSecret:           cfg.JWT.Secret,
	}

	s.setupRoutes()
	return s
}

func (s *Server) setupRoutes() {
	api := s.echo.Group("/api/v1")

	api.GET("/health", func(c echo.Context) error {
		return c.JSON(200, map[string]string{"status": "ok"})
	})

	// -------- gateway callbacks (no auth; signature-verified) --------
	api.POST("/payments/webhook", s.webhookHandler.PaystackWebhook)

	// -------- plans (public) --------
	api.GET("/plans", s.subscriptionHandler.ListPlans)

	// -------- subscriptions --------
	subs := api.Group("/subscriptions", appmiddleware.JWTAuth(s.jwtSecret))
	subs.POST("", s.subscriptionHandler.Create)
	subs.GET("/verify", s.subscriptionHandler.VerifyPayment)
	subs.GET("/mine", s.subscriptionHandler.ListMine)
	subs.PUT("/:id/pause", s.subscriptionHandler.Pause)
	subs.PUT("/:id/resume", s.subscriptionHandler.Resume)
	subs.PUT("/:id/cancel", s.subscriptionHandler.Cancel)
	subs.POST("/:id/renew", s.subscriptionHandler.Renew)
	subs.GET("/:id/deliveries", s.subscriptionHandler.GetDeliveries)
	subs.POST("/process", s.subscriptionHandler.ProcessSweep, appmiddleware.AdminOnly())
}

// errorHandler maps the error taxonomy onto HTTP statuses; everything else
// falls through to echo's default handling.
func errorHandler(e *echo.Echo) echo.HTTPErrorHandler {
	return func(err error, c echo.Context) {
		var ae *apperror.Error
		if errors.As(err, &ae) {
			status := http.StatusInternalServerError
			switch ae.Kind {
			case apperror.KindValidation:
				status = http.StatusBadRequest
			case apperror.KindNotFound:
				status = http.StatusNotFound
			case apperror.KindConflict:
				status = http.StatusConflict
			case apperror.KindInvalidState, apperror.KindConsistency:
				status = http.StatusUnprocessableEntity
			case apperror.KindAuthentication:
				status = http.StatusUnauthorized
			case apperror.KindGateway:
				status = http.StatusBadGateway
			}
			err = echo.NewHTTPError(status, map[string]interface{}{
				"message":   ae.Message,
				"retryable": ae.Retryable(),
			})
		}
		e.DefaultHTTPErrorHandler(err, c)
	}
}

func (s *Server) Start(address string) error {
	return s.echo.Start(address)
}

func (s *Server) Shutdown() error {
	return s.echo.Close()
}
