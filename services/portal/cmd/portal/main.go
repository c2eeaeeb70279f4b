package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/redis/go-redis/v9"
	"github.com/yassinboulabiar13-svg/smart-event-app/libs/auth"
	"github.com/yassinboulabiar13-svg/smart-event-app/libs/health"
	"github.com/yassinboulabiar13-svg/smart-event-app/libs/httpmiddleware"
	"github.com/yassinboulabiar13-svg/smart-event-app/libs/kafka"
	"github.com/yassinboulabiar13-svg/smart-event-app/libs/logging"
	"github.com/yassinboulabiar13-svg/smart-event-app/libs/metrics"
	"github.com/yassinboulabiar13-svg/smart-event-app/libs/notify"
	"github.com/yassinboulabiar13-svg/smart-event-app/libs/trace"
	"github.com/yassinboulabiar13-svg/smart-event-app/services/portal/internal/config"
	"github.com/yassinboulabiar13-svg/smart-event-app/services/portal/internal/handlers"
	"github.com/yassinboulabiar13-svg/smart-event-app/services/portal/internal/rate"
	"github.com/yassinboulabiar13-svg/smart-event-app/services/portal/internal/security"
	"github.com/yassinboulabiar13-svg/smart-event-app/services/portal/internal/service"
	"github.com/yassinboulabiar13-svg/smart-event-app/services/portal/internal/session"
	"github.com/yassinboulabiar13-svg/smart-event-app/services/portal/internal/storage"
)

type portalStore interface {
	service.AccountStore
	service.EventStore
}

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
	serviceMetrics := service.NewMetrics(registry)

	ready := health.NewManager(true)

	store, closeStore, err := buildStore(cfg, logger, ready)
	if err != nil {
		logger.Error("storage init failed", "error", err)
		os.Exit(1)
	}
	defer closeStore()

	redisClient, err := connectRedis(cfg, logger)
	if err != nil {
		logger.Error("redis connection failed", "error", err)
		os.Exit(1)
	}
	if redisClient != nil {
		defer func() {
			_ = redisClient.Close()
		}()
		ready.AddCheck("redis", func(ctx context.Context) error {
			return redisClient.Ping(ctx).Err()
		})
	}

	var publisher kafka.Publisher
	if cfg.UsesKafka() {
		publisher, err = buildPublisher(cfg, logger, registry)
		if err != nil {
			logger.Error("kafka producer init failed", "error", err)
			os.Exit(1)
		}
		defer func() {
			_ = publisher.Close()
		}()
	}

	dispatcher, err := buildDispatcher(cfg, logger, publisher)
	if err != nil {
		logger.Error("notification dispatcher init failed", "error", err)
		os.Exit(1)
	}

	clock := service.SystemClock{}
	issuer := service.NewIssuer(store, security.RandomCodeGenerator{}, clock, cfg.TwoFactor.CodeTTL)
	twoFactor := service.NewTwoFactor(store, issuer, dispatcher, clock, logger, serviceMetrics,
		service.WithVerificationWindow(cfg.TwoFactor.VerificationWindow),
		service.WithExemptPaths(cfg.App.MetricsPath),
	)
	invitations := service.NewRegistry(store, security.UUIDTokenGenerator{}, dispatcher, clock, logger, serviceMetrics,
		service.WithBaseURL(cfg.PublicBaseURL),
		service.WithEventPublisher(publisher, cfg.Kafka.Topics.DomainEvents),
	)
	admission := service.NewAdmissionController(store, invitations, clock, logger, serviceMetrics)

	sessions, loginLimiter, verifyLimiter, resendLimiter := buildSessionState(cfg, redisClient)
	portal := handlers.New(twoFactor, invitations, admission, sessions, logger, handlers.Options{
		SessionSecret: cfg.Session.Secret,
		SessionIssuer: cfg.Session.Issuer,
		SessionTTL:    cfg.Session.TTL,
		Cookie: auth.CookieConfig{
			Name:   cfg.Session.CookieName,
			Path:   "/",
			Secure: cfg.Session.CookieSecure,
		},
		LoginLimiter:  loginLimiter,
		VerifyLimiter: verifyLimiter,
		ResendLimiter: resendLimiter,
		Clock:         clock,
	})

	router := gin.New()
	router.Use(httpmiddleware.RequestID())
	router.Use(httpmiddleware.Logger(logger))
	router.Use(httpmiddleware.Recovery(logger))
	router.Use(trace.Middleware(cfg.App.ServiceName))
	router.Use(httpMetrics.Middleware())

	router.GET("/healthz", health.LivenessHandler)
	router.GET("/readyz", health.ReadinessHandler(ready))
	router.GET(cfg.App.MetricsPath, gin.WrapH(metrics.Handler(registry)))

	portal.Register(router)

	server := &http.Server{
		Addr:         cfg.App.HTTP.Addr(),
		Handler:      router,
		ReadTimeout:  cfg.App.HTTP.ReadTimeout,
		WriteTimeout: cfg.App.HTTP.WriteTimeout,
		IdleTimeout:  cfg.App.HTTP.IdleTimeout,
	}

	go func() {
		logger.Info("portal service starting", "addr", server.Addr, "notify_mode", cfg.NotifyMode)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("server error", "error", err)
		}
	}()

	waitForShutdown(server, logger)
}

func buildStore(cfg *config.Config, logger *slog.Logger, ready *health.Manager) (portalStore, func(), error) {
	pool, err := connectDB(cfg)
	if err != nil {
		if cfg.App.IsDev() {
			logger.Warn("postgres unavailable, using in-memory storage", "error", err)
			return storage.NewMemory(), func() {}, nil
		}
		return nil, nil, err
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := storage.Migrate(ctx, pool); err != nil {
		pool.Close()
		return nil, nil, fmt.Errorf("migrate: %w", err)
	}

	store := storage.New(pool)
	ready.AddCheck("postgres", store.Ping)
	return store, pool.Close, nil
}

func connectDB(cfg *config.Config) (*pgxpool.Pool, error) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	pool, err := pgxpool.New(ctx, cfg.DB.URL())
	if err != nil {
		return nil, err
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, err
	}

	return pool, nil
}

func connectRedis(cfg *config.Config, logger *slog.Logger) (*redis.Client, error) {
	if cfg.Redis.Addr == "" {
		if cfg.App.IsDev() {
			return nil, nil
		}
		return nil, fmt.Errorf("SEV_REDIS_ADDR not configured")
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
		if cfg.App.IsDev() {
			logger.Warn("redis unavailable, falling back to memory", "error", err)
			return nil, nil
		}
		return nil, err
	}
	return client, nil
}

func buildSessionState(cfg *config.Config, client *redis.Client) (session.Store, rate.Limiter, rate.Limiter, rate.Limiter) {
	rl := cfg.RateLimit
	if client == nil {
		return session.NewMemoryStore(cfg.Session.TTL),
			rate.NewMemory(rl.LoginLimit, rl.Window),
			rate.NewMemory(rl.VerifyLimit, rl.Window),
			rate.NewMemory(rl.ResendLimit, rl.Window)
	}
	return session.NewRedisStore(client, cfg.Session.TTL, cfg.Session.Prefix),
		rate.NewRedisLimiter(client, rl.LoginLimit, rl.Window, rl.Prefix+"login:"),
		rate.NewRedisLimiter(client, rl.VerifyLimit, rl.Window, rl.Prefix+"verify:"),
		rate.NewRedisLimiter(client, rl.ResendLimit, rl.Window, rl.Prefix+"resend:")
}

func buildPublisher(cfg *config.Config, logger *slog.Logger, registry *prometheus.Registry) (kafka.Publisher, error) {
	producer, err := kafka.NewSyncProducer(cfg.Kafka.Brokers, cfg.App.ServiceName, logger, kafka.NewProducerMetrics(registry))
	if err != nil {
		return nil, err
	}
	if cfg.Kafka.Topics.DeadLetter == "" {
		return producer, nil
	}
	return kafka.NewDLQPublisher(producer, producer, cfg.Kafka.Topics.DeadLetter, logger), nil
}

func buildDispatcher(cfg *config.Config, logger *slog.Logger, publisher kafka.Publisher) (notify.Dispatcher, error) {
	switch cfg.NotifyMode {
	case config.NotifySMTP:
		return notify.NewSMTPDispatcher(notify.SMTPConfig{
			Host:     cfg.SMTP.Host,
			Port:     cfg.SMTP.Port,
			Username: cfg.SMTP.Username,
			Password: cfg.SMTP.Password,
			From:     cfg.SMTP.From,
		}, logger)
	case config.NotifyKafka:
		return notify.NewKafkaDispatcher(publisher, cfg.Kafka.Topics.Notifications, logger)
	default:
		return notify.LogDispatcher{Logger: logger}, nil
	}
}

func waitForShutdown(server *http.Server, logger *slog.Logger) {
	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	<-stop

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	logger.Info("shutdown started")
	if err := server.Shutdown(ctx); err != nil {
		logger.Error("shutdown error", "error", err)
		return
	}
	logger.Info("shutdown complete")
}
