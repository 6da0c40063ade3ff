package app

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/ayo6706/venue-payments/internal/api"
	"github.com/ayo6706/venue-payments/internal/api/middleware"
	"github.com/ayo6706/venue-payments/internal/config"
	"github.com/ayo6706/venue-payments/internal/db"
	"github.com/ayo6706/venue-payments/internal/events"
	"github.com/ayo6706/venue-payments/internal/gateway"
	"github.com/ayo6706/venue-payments/internal/idempotency"
	"github.com/ayo6706/venue-payments/internal/observability"
	"github.com/ayo6706/venue-payments/internal/repository"
	"github.com/ayo6706/venue-payments/internal/service"
	"github.com/ayo6706/venue-payments/internal/worker"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// Run bootstraps the HTTP server and background workers, blocking until shutdown.
func Run() error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	logger, err := newLogger(cfg.LogLevel)
	if err != nil {
		return fmt.Errorf("init logger: %w", err)
	}
	defer logger.Sync()
	zap.ReplaceGlobals(logger)
	observability.Init()
	middleware.SetJWTSecret(cfg.JWTSecret)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if cfg.MigrateOnStart {
		if err := db.Migrate(cfg.DatabaseURL); err != nil {
			return fmt.Errorf("migrate database: %w", err)
		}
		logger.Info("database migrations applied")
	}

	pool, err := db.Connect(ctx, cfg.DatabaseURL, cfg.DBMaxConns)
	if err != nil {
		return fmt.Errorf("connect database: %w", err)
	}
	defer pool.Close()

	redisClient, err := newRedisClient(cfg.RedisURL)
	if err != nil {
		return fmt.Errorf("connect redis: %w", err)
	}
	defer redisClient.Close()

	gw, err := newGateway(cfg)
	if err != nil {
		return fmt.Errorf("init gateway: %w", err)
	}
	logger.Info("payment gateway configured", zap.String("mode", cfg.GatewayMode))

	publisher := newPublisher(cfg, logger)
	defer func() {
		if err := publisher.Close(); err != nil {
			logger.Warn("close event publisher failed", zap.Error(err))
		}
	}()

	idemStore := idempotency.NewStore(redisClient, pool, cfg.IdempotencyTTL)
	store := repository.NewStore(pool)

	ledger := service.NewLedger()
	requestSvc := service.NewTrackRequestService(store, gw, ledger, publisher, cfg.Settlement)
	withdrawalSvc := service.NewWithdrawalService(store, gw, ledger, publisher, cfg.Settlement)
	webhookSvc := service.NewWebhookService(store, gw, ledger, withdrawalSvc, publisher, cfg.WebhookHMACKey, cfg.WebhookSkipSignature)
	venueSvc := service.NewVenueService(store)
	reconciliationSvc := service.NewReconciliationService(store)

	withdrawalWorker := worker.NewWithdrawalWorker(withdrawalSvc).
		WithPollInterval(cfg.WithdrawalPollInterval).
		WithBatchSize(cfg.WithdrawalBatchSize)
	stopWithdrawals := withdrawalWorker.Run(ctx)
	logger.Info("withdrawal worker started", zap.Duration("interval", cfg.WithdrawalPollInterval), zap.Int32("batch", cfg.WithdrawalBatchSize))

	reconciliationWorker := worker.NewReconciliationWorker(reconciliationSvc).WithInterval(cfg.ReconciliationInterval)
	stopReconciliation := reconciliationWorker.Run(ctx)
	logger.Info("reconciliation worker started", zap.Duration("interval", cfg.ReconciliationInterval))

	services := api.Services{
		Requests:    requestSvc,
		Withdrawals: withdrawalSvc,
		Venues:      venueSvc,
		Webhooks:    webhookSvc,
		DB:          store,
		Redis:       redisClient,
		Idempotency: idemStore,
	}
	if mock, ok := gw.(*gateway.MockGateway); ok {
		services.MockGateway = mock
		logger.Info("mock gateway pages enabled", zap.String("checkout", cfg.Settlement.PublicBaseURL+"/mock/checkout/{paymentID}"))
	}
	router := api.NewRouter(cfg, logger, services)

	server := &http.Server{
		Addr:         ":" + cfg.HTTPPort,
		Handler:      router.Routes(),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	serverErr := make(chan error, 1)
	go func() {
		logger.Info("http server starting", zap.String("port", cfg.HTTPPort))
		serverErr <- server.ListenAndServe()
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	select {
	case <-sigChan:
		logger.Info("shutdown signal received")
	case err := <-serverErr:
		if err != nil && err != http.ErrServerClosed {
			return fmt.Errorf("server error: %w", err)
		}
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("http server shutdown failed", zap.Error(err))
	}

	logger.Info("stopping workers")
	stopWithdrawals()
	stopReconciliation()

	logger.Info("shutdown complete")
	return nil
}

func newGateway(cfg *config.Config) (gateway.Gateway, error) {
	switch cfg.GatewayMode {
	case config.GatewayYooKassa:
		return gateway.NewYooKassaGateway(gateway.YooKassaConfig{
			BaseURL:        cfg.YooKassa.BaseURL,
			ShopID:         cfg.YooKassa.ShopID,
			SecretKey:      cfg.YooKassa.SecretKey,
			AgentID:        cfg.YooKassa.AgentID,
			PayoutSecret:   cfg.YooKassa.PayoutSecret,
			RequestTimeout: cfg.YooKassa.Timeout,
		}), nil
	case config.GatewayMock:
		return gateway.NewMockGateway(cfg.Settlement.PublicBaseURL)
	default:
		return nil, fmt.Errorf("unknown gateway mode %q", cfg.GatewayMode)
	}
}

func newPublisher(cfg *config.Config, logger *zap.Logger) events.Publisher {
	if len(cfg.KafkaBrokers) == 0 {
		logger.Info("kafka brokers not configured; settlement events are dropped")
		return events.NopPublisher{}
	}
	logger.Info("publishing settlement events", zap.Strings("brokers", cfg.KafkaBrokers), zap.String("topic", cfg.KafkaTopic))
	return events.NewKafkaPublisher(cfg.KafkaBrokers, cfg.KafkaTopic)
}

func newLogger(level string) (*zap.Logger, error) {
	cfg := zap.NewProductionConfig()
	switch strings.ToLower(level) {
	case "debug":
		cfg.Level = zap.NewAtomicLevelAt(zap.DebugLevel)
	case "info", "":
		cfg.Level = zap.NewAtomicLevelAt(zap.InfoLevel)
	case "warn":
		cfg.Level = zap.NewAtomicLevelAt(zap.WarnLevel)
	case "error":
		cfg.Level = zap.NewAtomicLevelAt(zap.ErrorLevel)
	default:
		cfg.Level = zap.NewAtomicLevelAt(zap.InfoLevel)
	}
	return cfg.Build()
}

func newRedisClient(url string) (*redis.Client, error) {
	opt, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	client := redis.NewClient(opt)
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("redis ping: %w", err)
	}
	return client, nil
}
