package main

import (
	"context"
	"database/sql"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/honeynil/AuthSessionService/internal/api"
	"github.com/honeynil/AuthSessionService/internal/config"
	"github.com/honeynil/AuthSessionService/internal/handler"
	"github.com/honeynil/AuthSessionService/internal/infrastructure/auth"
	"github.com/honeynil/AuthSessionService/internal/infrastructure/kafka"
	"github.com/honeynil/AuthSessionService/internal/infrastructure/redis"
	"github.com/honeynil/AuthSessionService/internal/observability"
	core "github.com/honeynil/AuthSessionService/internal/repository/postgres"
	service "github.com/honeynil/AuthSessionService/internal/services"
	_ "github.com/lib/pq"
)

const serviceName = "auth-service"

func main() {
	if err := run(); err != nil {
		slog.Error("service stopped with error", "error", err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}

	shutdownObservability := observability.Setup(serviceName, cfg)
	defer func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := shutdownObservability(ctx); err != nil {
			slog.Warn("observability shutdown failed", "error", err)
		}
	}()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	db, err := sql.Open("postgres", cfg.PostgresDSN)
	if err != nil {
		return err
	}
	defer db.Close()

	startupCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	if err := db.PingContext(startupCtx); err != nil {
		slog.Error("failed to connect to Postgres", "error", err)
		return err
	}
	if err := core.EnsureSchema(startupCtx, db); err != nil {
		return err
	}

	redisClient, err := redis.NewClient(startupCtx, redis.Options{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
		Timeout:  cfg.StoreTimeout,
	})
	if err != nil {
		return err
	}
	defer redisClient.Close()

	userRepo := core.NewPostgresUserRepository(db)
	auditRepo := core.NewPostgresAuditRepository(db)
	sessionStore := redis.NewSessionStore(redisClient, cfg.StoreTimeout)
	limiter := redis.NewRateLimiter(redisClient, "auth", cfg.RateLimit, cfg.RateLimitWindow, cfg.StoreTimeout)

	codec, err := auth.NewCodec([]byte(cfg.JWTSecret), cfg.JWTIssuer, cfg.JWTAudience)
	if err != nil {
		return err
	}

	var publisher service.EventPublisher
	if len(cfg.KafkaBrokers) > 0 {
		producer := kafka.NewProducer(cfg.KafkaBrokers, cfg.SessionEventsTopic)
		defer producer.Close()
		publisher = producer

		consumer := kafka.NewConsumer(cfg.KafkaBrokers, cfg.SessionEventsTopic, cfg.KafkaGroupID, auditRepo)
		defer consumer.Close()
		go consumer.Consume(ctx)
	} else {
		slog.Warn("KAFKA_BROKER not set, session events are not published")
	}

	settings := service.Settings{
		AccessTTL:     cfg.AccessTTL,
		RefreshTTL:    cfg.RefreshTTL,
		SessionTTL:    cfg.SessionTTL,
		TouchInterval: cfg.TouchInterval,
	}

	var claims service.ClaimsSource
	if cfg.RefreshClaimsFromSource {
		claims = service.NewUserClaims(userRepo)
	}

	revoker := service.NewRevocationService(sessionStore, publisher, settings)
	issuer := service.NewTokenIssuer(sessionStore, codec, publisher, settings)
	verifier := service.NewTokenVerifier(sessionStore, codec, settings)
	rotator := service.NewRefreshRotator(sessionStore, codec, claims, revoker, publisher, settings)
	svc := service.NewAuthService(userRepo, issuer, verifier, rotator, revoker)

	h := handler.NewHandler(svc, limiter, auditRepo, cfg.TrustedProxies)
	router := api.SetupRouter(h, verifier, map[string]api.HealthCheck{
		"postgres": db.PingContext,
		"redis": func(ctx context.Context) error {
			return redisClient.Ping(ctx).Err()
		},
	})

	server := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           router,
		ReadHeaderTimeout: 5 * time.Second,
	}
	serverErr := make(chan error, 1)
	go func() {
		slog.Info("starting server", "addr", cfg.HTTPAddr)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
		close(serverErr)
	}()

	select {
	case err := <-serverErr:
		return err
	case <-ctx.Done():
	}

	slog.Info("shutting down")
	shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancelShutdown()
	if err := server.Shutdown(shutdownCtx); err != nil {
		return err
	}
	slog.Info("server stopped")
	return nil
}
