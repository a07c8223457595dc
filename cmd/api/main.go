package main

import (
	"context"
	"log"
	"time"

	"robolabs-sync/internal/core/cache"
	"robolabs-sync/internal/core/config"
	"robolabs-sync/internal/core/logger"
	"robolabs-sync/internal/core/robolabs"
	"robolabs-sync/internal/core/scheduler"
	"robolabs-sync/internal/core/server"
	adapter "robolabs-sync/internal/features/sync/adapters"
	"robolabs-sync/internal/features/sync/handler"
	"robolabs-sync/internal/features/sync/mapper"
	"robolabs-sync/internal/features/sync/service"

	"go.uber.org/zap"
)

// @title RoboLabs Sync API
// @version 1.0
// @description Synchronizes WooCommerce orders and refunds into RoboLabs invoices.
// @contact.name API Support
// @license.name MIT
// @host localhost:8080
// @BasePath /
func main() {
	cfg, err := config.Load(".")
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	if err := logger.Init(cfg.Environment, cfg.LogLevel, cfg.LogEnabled); err != nil {
		log.Fatalf("Failed to init logger: %v", err)
	}
	defer logger.Sync()

	l := logger.Get()
	l.Info("Application starting",
		zap.String("environment", cfg.Environment),
		zap.String("log_level", cfg.LogLevel),
	)

	redisCache, err := cache.NewRedisAdapter(cfg.RedisURL)
	if err != nil {
		l.Fatal("Failed to create Redis adapter", zap.Error(err))
	}
	defer redisCache.Close()

	pingCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	if err := redisCache.Ping(pingCtx); err != nil {
		cancel()
		l.Fatal("Redis ping failed", zap.Error(err))
	}
	cancel()
	l.Info("Redis connection verified")

	// Store of record
	store := adapter.NewWooCommerceStore(cfg.WooCommerce)
	healthCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	if err := store.HealthCheck(healthCtx); err != nil {
		cancel()
		l.Fatal("WooCommerce Health Check Failed", zap.Error(err))
	}
	cancel()
	l.Info("WooCommerce connection verified")

	// RoboLabs gateway
	apiClient := robolabs.NewClient(robolabs.Config{
		BaseURL:            cfg.RoboLabs.BaseURL(),
		APIKey:             cfg.RoboLabs.APIKey,
		Language:           cfg.RoboLabs.Language,
		ExecuteImmediately: cfg.RoboLabs.ExecuteImmediately,
		RequestsPerSecond:  cfg.RoboLabs.RequestsPerSecond,
	})

	payloadMapper := mapper.New(mapper.Config{
		JournalID:         cfg.RoboLabs.JournalID,
		CategID:           cfg.RoboLabs.CategID,
		InvoiceType:       cfg.RoboLabs.InvoiceType,
		CreditInvoiceType: cfg.RoboLabs.CreditInvoiceType,
		TaxMode:           cfg.RoboLabs.TaxMode,
		Language:          cfg.RoboLabs.Language,
	})

	locker := adapter.NewRedisLocker(redisCache, time.Duration(cfg.Sync.LockTTLSeconds)*time.Second)
	settings := adapter.NewRedisSettings(redisCache)
	resolver := service.NewResolver(apiClient, store, settings, payloadMapper)

	dispatcher := scheduler.New()

	orderSync := service.NewOrderSync(store, apiClient, resolver, locker, dispatcher, payloadMapper, cfg.Sync.MaxAttempts)
	refundSync := service.NewRefundSync(store, apiClient, resolver, dispatcher, payloadMapper, cfg.Sync.MaxAttempts)
	jobPoller := service.NewJobPoller(apiClient, store, dispatcher, time.Duration(cfg.Sync.JobPollIntervalSeconds)*time.Second)

	dispatcher.Register(scheduler.TaskOrderSync, func(ctx context.Context, task scheduler.Task) error {
		return orderSync.Sync(ctx, task.OrderID)
	})
	dispatcher.Register(scheduler.TaskRefundSync, func(ctx context.Context, task scheduler.Task) error {
		return refundSync.Sync(ctx, task.OrderID, task.RefundID)
	})
	dispatcher.Register(scheduler.TaskJobPoll, func(ctx context.Context, task scheduler.Task) error {
		return jobPoller.Poll(ctx, task.JobID, task.OrderID)
	})

	router := service.NewTriggerRouter(cfg.Sync.InvoiceTrigger, dispatcher)
	syncHandler := handler.NewSyncHandler(router, dispatcher, store, apiClient)

	srv := server.New(cfg)
	syncHandler.RegisterRoutes(srv.App)

	defer func() {
		stopCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		if err := dispatcher.Stop(stopCtx); err != nil {
			l.Warn("Dispatcher did not drain in time", zap.Error(err))
		}
	}()

	if err := srv.Run(); err != nil {
		l.Fatal("Server failed to start", zap.Error(err))
	}
}
