package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/sync/errgroup"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"

	"github.com/commsuite/delivery-engine/internal/platform/cache"
	"github.com/commsuite/delivery-engine/internal/platform/config"
	"github.com/commsuite/delivery-engine/internal/platform/database"
	"github.com/commsuite/delivery-engine/internal/platform/logger"
	"github.com/commsuite/delivery-engine/internal/platform/messagebroker"
	"github.com/commsuite/delivery-engine/internal/delivery_service/adapters/channel"
	"github.com/commsuite/delivery-engine/internal/delivery_service/app"
	"github.com/commsuite/delivery-engine/internal/delivery_service/domain"
	"github.com/commsuite/delivery-engine/internal/delivery_service/repository/postgres"
)

const serviceName = "delivery_worker_service"

func main() {
	cfg, err := config.Load(serviceName)
	if err != nil {
		slog.Error("Failed to load configuration", "service", serviceName, "error", err)
		os.Exit(1)
	}

	appLogger := logger.New(serviceName, cfg.LogLevel)
	appLogger.Info("Delivery worker service starting...")

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
	rateRepo := postgres.NewPgRateLimitRepository(dbPool, appLogger)

	factory := channel.NewFactory()
	factory.Register(domain.ChannelEmail, app.GatewayPostal, channel.NewPostalChannel(appLogger, cfg.PostalAPIURL, cfg.PostalAPIKey, nil))
	factory.Register(domain.ChannelEmail, app.GatewaySES, channel.NewSESChannel(appLogger, cfg.SESAPIURL, cfg.SESAPIKey, nil))
	factory.Register(domain.ChannelSMS, app.GatewayTwilio, channel.NewTwilioChannel(appLogger, cfg.TwilioAPIURL, cfg.TwilioSID, cfg.TwilioToken, nil))
	factory.Register(domain.ChannelPush, app.GatewayFirebase, channel.NewFirebaseChannel(appLogger, cfg.FirebaseAPIURL, cfg.FirebaseKey, nil))

	channelRouter := app.NewChannelRouter(healthRepo, appLogger)
	suppressions := app.NewSuppressionRegistry(suppRepo, redisClient, cfg.SuppressionCacheTTL, appLogger)
	rateLimiter := app.NewRateLimiter(rateRepo, redisClient, appLogger)

	worker, err := app.NewWorker(msgRepo, factory, channelRouter, rateLimiter, natsClient, app.WorkerConfig{
		BatchSize:        cfg.WorkerBatchSize,
		SendTimeout:      cfg.WorkerSendTimeout,
		StuckLockTimeout: cfg.StuckLockTimeout,
	}, appLogger)
	if err != nil {
		appLogger.Error("Failed to construct worker", "error", err)
		os.Exit(1)
	}

	dispatcher := app.NewPriorityDispatcher(msgRepo, natsClient, app.DispatcherConfig{
		Interval:       cfg.DispatchInterval,
		BatchUnit:      cfg.DispatchBatchUnit,
		MaxParallel:    cfg.DispatchMaxParallel,
		BacklogCeiling: cfg.DispatchBacklogCeiling,
	}, appLogger)

	healthMonitor := app.NewChannelHealthMonitor(msgRepo, healthRepo, app.DefaultGatewayPairs, cfg.HealthCheckInterval, appLogger)
	suppProcessor := app.NewSuppressionProcessor(eventRepo, suppressions, suppRepo, cfg.SuppressionInterval, appLogger)
	reaper := app.NewReaper(msgRepo, app.ReaperConfig{
		StuckLockTimeout: cfg.StuckLockTimeout,
		ReaperInterval:   cfg.ReaperInterval,
		CleanupInterval:  cfg.CleanupInterval,
		RetentionPeriod:  cfg.RetentionPeriod,
	}, appLogger)

	sub, err := worker.Start(rootCtx)
	if err != nil {
		appLogger.Error("Failed to start dispatch consumer", "error", err)
		os.Exit(1)
	}
	defer sub.Unsubscribe()

	grpcServer := grpc.NewServer()
	healthServer := health.NewServer()
	healthpb.RegisterHealthServer(grpcServer, healthServer)
	healthServer.SetServingStatus("", healthpb.HealthCheckResponse_SERVING)

	metricsMux := http.NewServeMux()
	metricsMux.Handle("/metrics", promhttp.Handler())
	metricsServer := &http.Server{Addr: fmt.Sprintf(":%d", cfg.MetricsPort), Handler: metricsMux}

	g, gCtx := errgroup.WithContext(rootCtx)

	g.Go(func() error {
		dispatcher.Run(gCtx)
		return nil
	})
	g.Go(func() error {
		healthMonitor.Run(gCtx)
		return nil
	})
	g.Go(func() error {
		suppProcessor.Run(gCtx)
		return nil
	})
	g.Go(func() error {
		reaper.Run(gCtx)
		return nil
	})
	g.Go(func() error {
		lis, err := net.Listen("tcp", fmt.Sprintf(":%d", cfg.WorkerGRPCPort))
		if err != nil {
			return fmt.Errorf("grpc listen: %w", err)
		}
		appLogger.Info("gRPC health server listening", "port", cfg.WorkerGRPCPort)
		return grpcServer.Serve(lis)
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
		appLogger.Info("Shutdown signal received, stopping worker service")
		healthServer.SetServingStatus("", healthpb.HealthCheckResponse_NOT_SERVING)
		grpcServer.GracefulStop()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := metricsServer.Shutdown(shutdownCtx); err != nil {
			appLogger.Error("Metrics server shutdown failed", "error", err)
		}
		return nil
	})

	if err := g.Wait(); err != nil {
		appLogger.Error("Delivery worker service exited with error", "error", err)
		os.Exit(1)
	}
	appLogger.Info("Delivery worker service shut down")
}
