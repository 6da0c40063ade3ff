package api

import (
	"net/http"

	"github.com/ayo6706/venue-payments/internal/api/handler"
	"github.com/ayo6706/venue-payments/internal/api/middleware"
	"github.com/ayo6706/venue-payments/internal/api/spec"
	"github.com/ayo6706/venue-payments/internal/config"
	"github.com/ayo6706/venue-payments/internal/service"
	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	httpSwagger "github.com/swaggo/http-swagger/v2"
	"go.uber.org/zap"
)

// Services are the collaborators the HTTP layer dispatches to.
type Services struct {
	Requests    handler.TrackRequestService
	Withdrawals handler.WithdrawalService
	Venues      handler.VenueService
	Webhooks    handler.WebhookProcessor
	DB          handler.Pinger
	Redis       redis.Cmdable
	Idempotency middleware.IdempotencyStore
	// MockGateway is set only when payments run against the in-memory provider.
	MockGateway handler.MockProvider
}

type Router struct {
	cfg    *config.Config
	logger *zap.Logger
	svc    Services
}

func NewRouter(cfg *config.Config, logger *zap.Logger, svc Services) *Router {
	if logger == nil {
		logger = zap.NewNop()
	}
	middleware.SetJWTValidation(cfg.JWTIssuer, cfg.JWTAudience)
	return &Router{cfg: cfg, logger: logger, svc: svc}
}

func (api *Router) Routes() chi.Router {
	r := chi.NewRouter()
	r.Use(middleware.TraceMiddleware)
	r.Use(middleware.RecoverMiddleware(api.logger))
	r.Use(middleware.LoggingMiddleware(api.logger))
	r.Use(middleware.MetricsMiddleware)

	// Handlers
	healthHandler := handler.NewHealthHandler(api.svc.DB, api.svc.Redis)
	requestHandler := handler.NewRequestHandler(api.svc.Requests)
	withdrawalHandler := handler.NewWithdrawalHandler(api.svc.Withdrawals)
	venueHandler := handler.NewVenueHandler(api.svc.Venues)
	webhookHandler := handler.NewWebhookHandler(api.svc.Webhooks)

	// Ops
	r.Get("/healthz", healthHandler.Live)
	r.Get("/readyz", healthHandler.Ready)
	r.Handle("/metrics", promhttp.Handler())
	r.Get("/openapi.yaml", spec.OpenAPIHandler())
	r.Get("/docs", http.RedirectHandler("/docs/index.html", http.StatusMovedPermanently).ServeHTTP)
	r.Get("/docs/*", httpSwagger.Handler(httpSwagger.URL("/openapi.yaml")))

	// Gateway callbacks are authenticated by HMAC and never rate limited;
	// a throttled notification would only be redelivered later.
	r.Post("/v1/webhooks/payments", webhookHandler.Payments)
	r.Post("/v1/webhooks/payouts", webhookHandler.Payouts)

	// Patron routes
	r.Group(func(r chi.Router) {
		r.Use(middleware.PublicRateLimiter(api.cfg.PublicRateLimitRPS))

		r.Post("/v1/venues/{venueID}/requests", requestHandler.Create)
		r.Get("/v1/payments/{token}", requestHandler.PaymentStatus)
		r.Post("/v1/payments/{token}", requestHandler.InitiatePayment)
		r.Post("/v1/payments/{token}/confirm-mock", requestHandler.ConfirmMock)
	})

	if api.svc.MockGateway != nil {
		hmacKey := []byte(api.cfg.WebhookHMACKey)
		mockHandler := handler.NewMockGatewayHandler(api.svc.MockGateway, api.svc.Webhooks, func(b []byte) string {
			return service.Sign(hmacKey, b)
		}, api.cfg.Settlement.PublicBaseURL)

		r.Group(func(r chi.Router) {
			r.Use(middleware.PublicRateLimiter(api.cfg.PublicRateLimitRPS))

			r.Get("/mock/checkout/{paymentID}", mockHandler.Checkout)
			r.Post("/mock/checkout/{paymentID}", mockHandler.Pay)
			r.Post("/mock/payouts/{payoutID}", mockHandler.SettlePayout)
		})
	}

	// Venue routes
	r.Group(func(r chi.Router) {
		r.Use(middleware.AuthMiddleware)
		r.Use(middleware.VenueRateLimiter(api.cfg.VenueRateLimitRPS))

		r.Get("/v1/venue/balance", venueHandler.Balance)
		r.Get("/v1/venue/transactions", venueHandler.Transactions)

		r.Get("/v1/venue/requests", requestHandler.List)
		r.Patch("/v1/venue/requests/{id}", requestHandler.UpdateStatus)

		r.With(middleware.IdempotencyMiddleware(api.svc.Idempotency, api.logger)).Post("/v1/venue/withdrawals", withdrawalHandler.Create)
		r.Post("/v1/venue/withdrawals/mock", withdrawalHandler.CreateMock)
		r.Get("/v1/venue/withdrawals", withdrawalHandler.List)
		r.Get("/v1/venue/withdrawals/{id}", withdrawalHandler.Get)
	})

	return r
}
