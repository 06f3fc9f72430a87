package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/go-playground/validator/v10"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/sync/errgroup"

	"github.com/commsuite/delivery-engine/internal/platform/cache"
	"github.com/commsuite/delivery-engine/internal/platform/config"
	"github.com/commsuite/delivery-engine/internal/platform/database"
	"github.com/commsuite/delivery-engine/internal/platform/logger"
	"github.com/commsuite/delivery-engine/internal/platform/messagebroker"
	"github.com/commsuite/delivery-engine/internal/delivery_service/app"
	"github.com/commsuite/delivery-engine/internal/delivery_service/repository/postgres"
	httptransport "github.com/commsuite/delivery-engine/internal/delivery_service/transport/http"
)

const serviceName = "delivery_api_service"

func main() {
	cfg, err := config.Load(serviceName)
	if err != nil {
		slog.Error("Failed to load configuration", "service", serviceName, "error", err)
		os.Exit(1)
	}

	appLogger := logger.New(serviceName, cfg.LogLevel)
	appLogger.Info("Delivery API service starting...", "port", cfg.APIServicePort)

	rootCtx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	dbPool, err := database.NewDBPool(rootCtx, cfg.PostgresDSN)
	if err != nil {
		appLogger.Error("Failed to connect to PostgreSQL", "error", err)
		os.Exit(1)
	}
	defer dbPool.Close()
	appLogger.Info("Connected to PostgreSQL")

	natsClient, err := messagebroker.NewNATSClient(cfg.NATSUrl, serviceName, appLogger)
	if err != nil {
		appLogger.Error("Failed to connect to NATS", "error", err)
		os.Exit(1)
	}
	defer natsClient.Close()
	appLogger.Info("Connected to NATS")

	redisClient, err := cache.NewRedisClient(rootCtx, cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB)
	if err != nil {
		appLogger.Error("Failed to connect to redis", "error", err)
		os.Exit(1)
	}
	defer redisClient.Close()
	appLogger.Info("Connected to redis")

	msgRepo := postgres.NewPgMessageQueueRepository(dbPool, appLogger)
	suppRepo := postgres.NewPgSuppressionRepository(dbPool, appLogger)
	healthRepo := postgres.NewPgChannelHealthRepository(dbPool, appLogger)
	eventRepo := postgres.NewPgDeliveryEventRepository(dbPool, appLogger)

	channelRouter := app.NewChannelRouter(healthRepo, appLogger)
	suppressions := app.NewSuppressionRegistry(suppRepo, redisClient, cfg.SuppressionCacheTTL, appLogger)
	enqueueService := app.NewEnqueueService(msgRepo, healthRepo, channelRouter, suppressions, natsClient, cfg.DefaultMaxAttempts, appLogger)
	webhookService := app.NewWebhookService(msgRepo, eventRepo, appLogger)

	validate := validator.New()
	messageHandler := httptransport.NewMessageHandler(enqueueService, appLogger, validate)
	webhookHandler := httptransport.NewWebhookHandler(webhookService, appLogger)

	r := chi.NewRouter()
	r.Use(chimiddleware.RequestID)
	r.Use(chimiddleware.RealIP)
	r.Use(chimiddleware.Recoverer)
	r.Use(chimiddleware.Timeout(60 * time.Second))

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]string{"status": "ok"})
	})
	r.Route("/api/v1/messages", messageHandler.RegisterRoutes)
	r.Route("/webhooks", webhookHandler.RegisterRoutes)

	apiServer := &http.Server{Addr: fmt.Sprintf(":%d", cfg.APIServicePort), Handler: r}

	metricsMux := http.NewServeMux()
	metricsMux.Handle("/metrics", promhttp.Handler())
	metricsServer := &http.Server{Addr: fmt.Sprintf(":%d", cfg.MetricsPort), Handler: metricsMux}

	g, gCtx := errgroup.WithContext(rootCtx)

	g.Go(func() error {
		appLogger.Info("API server listening", "port", cfg.APIServicePort)
		if err := apiServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("api server: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		appLogger.Info("Metrics server listening", "port", cfg.MetricsPort)
		if err := metricsServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("metrics server: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gCtx.Done()
		appLogger.Info("Shutdown signal received, stopping HTTP servers")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		if err := apiServer.Shutdown(shutdownCtx); err != nil {
			appLogger.Error("API server shutdown failed", "error", err)
		}
		if err := metricsServer.Shutdown(shutdownCtx); err != nil {
			appLogger.Error("Metrics server shutdown failed", "error", err)
		}
		return nil
	})

	if err := g.Wait(); err != nil {
		appLogger.Error("Delivery API service exited with error", "error", err)
		os.Exit(1)
	}
	appLogger.Info("Delivery API service shut down")
}
