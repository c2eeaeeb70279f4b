package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/redis/go-redis/v9"
	"github.com/yassinboulabiar13-svg/smart-event-app/libs/health"
	"github.com/yassinboulabiar13-svg/smart-event-app/libs/httpmiddleware"
	"github.com/yassinboulabiar13-svg/smart-event-app/libs/kafka"
	"github.com/yassinboulabiar13-svg/smart-event-app/libs/logging"
	"github.com/yassinboulabiar13-svg/smart-event-app/libs/metrics"
	"github.com/yassinboulabiar13-svg/smart-event-app/libs/notify"
	"github.com/yassinboulabiar13-svg/smart-event-app/libs/trace"
	"github.com/yassinboulabiar13-svg/smart-event-app/services/notifier/internal/config"
	"github.com/yassinboulabiar13-svg/smart-event-app/services/notifier/internal/consumer"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "config error: %v\n", err)
		os.Exit(1)
	}

	logger := logging.NewLogger(cfg.App.LogLevel, cfg.App.ServiceName, cfg.App.Env)
	shutdownTracer, err := trace.InitTracer(context.Background(), cfg.App.ServiceName, cfg.App.Env, cfg.OTLPEndpoint)
	if err != nil {
		logger.Error("tracer init failed", "error", err)
	} else {
		defer func() {
			_ = shutdownTracer(context.Background())
		}()
	}

	if cfg.App.Env == "dev" {
		gin.SetMode(gin.DebugMode)
	} else {
		gin.SetMode(gin.ReleaseMode)
	}

	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector())
	registry.MustRegister(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	httpMetrics := metrics.NewHTTP(registry)
	notifierMetrics := consumer.NewMetrics(registry)

	ready := health.NewManager(false)

	mailer, err := notify.NewSMTPDispatcher(notify.SMTPConfig{
		Host:     cfg.SMTP.Host,
		Port:     cfg.SMTP.Port,
		Username: cfg.SMTP.Username,
		Password: cfg.SMTP.Password,
		From:     cfg.SMTP.From,
	}, logger)
	if err != nil {
		logger.Error("smtp init failed", "error", err)
		os.Exit(1)
	}

	dedupe, closeDedupe, err := buildDeduper(cfg, logger, ready)
	if err != nil {
		logger.Error("dedupe store init failed", "error", err)
		os.Exit(1)
	}
	defer func() {
		_ = closeDedupe()
	}()

	producer, err := kafka.NewSyncProducer(cfg.Kafka.Brokers, cfg.App.ServiceName, logger, kafka.NewProducerMetrics(registry))
	if err != nil {
		logger.Error("kafka producer init failed", "error", err)
		os.Exit(1)
	}
	defer producer.Close()

	group, err := kafka.NewConsumer(cfg.Kafka.Brokers, cfg.Kafka.ConsumerGroup, logger,
		kafka.WithDLQ(producer, cfg.Kafka.Topics.DeadLetter),
		kafka.WithMaxAttempts(cfg.Kafka.MaxAttempts),
	)
	if err != nil {
		logger.Error("kafka consumer init failed", "error", err)
		os.Exit(1)
	}
	defer group.Close()

	emailConsumer := consumer.NewEmailConsumer(mailer, dedupe, notifierMetrics, logger)

	router := gin.New()
	router.Use(httpmiddleware.RequestID())
	router.Use(httpmiddleware.Logger(logger))
	router.Use(httpmiddleware.Recovery(logger))
	router.Use(trace.Middleware(cfg.App.ServiceName))
	router.Use(httpMetrics.Middleware())

	router.GET("/healthz", health.LivenessHandler)
	router.GET("/readyz", health.ReadinessHandler(ready))
	router.GET(cfg.App.MetricsPath, gin.WrapH(metrics.Handler(registry)))

	server := &http.Server{
		Addr:         cfg.App.HTTP.Addr(),
		Handler:      router,
		ReadTimeout:  cfg.App.HTTP.ReadTimeout,
		WriteTimeout: cfg.App.HTTP.WriteTimeout,
		IdleTimeout:  cfg.App.HTTP.IdleTimeout,
	}

	consumerCtx, consumerCancel := context.WithCancel(context.Background())
	defer consumerCancel()

	go func() {
		logger.Info("notifier http starting", "addr", server.Addr)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("http server error", "error", err)
		}
	}()

	go func() {
		logger.Info("notifier consumer starting", "topic", cfg.Kafka.Topics.Notifications)
		if err := group.Consume(consumerCtx, []string{cfg.Kafka.Topics.Notifications}, emailConsumer); err != nil && !errors.Is(err, context.Canceled) {
			logger.Error("kafka consumer error", "error", err)
			ready.SetReady(false)
		}
	}()

	ready.SetReady(true)
	waitForShutdown(server, ready, consumerCancel, logger)
}

func buildDeduper(cfg *config.Config, logger *slog.Logger, ready *health.Manager) (consumer.Deduper, func() error, error) {
	if cfg.Redis.Addr == "" {
		if cfg.App.IsDev() {
			logger.Warn("redis not configured, dedupe is per-process only")
			return consumer.NewMemoryDeduper(cfg.Redis.DedupeTTL), func() error { return nil }, nil
		}
		return nil, nil, fmt.Errorf("SEV_REDIS_ADDR not configured")
	}

	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, nil, err
	}
	ready.AddCheck("redis", func(ctx context.Context) error {
		return client.Ping(ctx).Err()
	})
	return consumer.NewRedisDeduper(client, cfg.Redis.DedupeTTL, cfg.Redis.Prefix), client.Close, nil
}

func waitForShutdown(server *http.Server, ready *health.Manager, cancel context.CancelFunc, logger *slog.Logger) {
	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	<-stop

	ready.SetReady(false)
	cancel()

	ctx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	logger.Info("shutdown started")
	if err := server.Shutdown(ctx); err != nil {
		logger.Error("shutdown error", "error", err)
		return
	}
	logger.Info("shutdown complete")
}
