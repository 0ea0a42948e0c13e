package main

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/gasbill97-stack/allu-admin/internal/config"
	"github.com/gasbill97-stack/allu-admin/internal/httpapi"
	"github.com/gasbill97-stack/allu-admin/internal/ingest"
	"github.com/gasbill97-stack/allu-admin/internal/mailbox"
	"github.com/gasbill97-stack/allu-admin/internal/mqtt"
	"github.com/gasbill97-stack/allu-admin/internal/observability"
	"github.com/gasbill97-stack/allu-admin/internal/realtime"
	"github.com/gasbill97-stack/allu-admin/internal/registry"
	"github.com/gasbill97-stack/allu-admin/internal/store"
	"github.com/gasbill97-stack/allu-admin/internal/telemetry"
	"github.com/gasbill97-stack/allu-admin/internal/validation"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/redis/go-redis/v9"
	"gorm.io/gorm"
)

const serviceName = "relay-service"

func main() {
	cfg, err := config.Load()
	if err != nil {
		slog.Error("config load failed", "error", err)
		os.Exit(1)
	}
	setupLogging(cfg.LogLevel, cfg.LogFormat)

	db, err := openDB(cfg)
	if err != nil {
		slog.Error("db connect failed", "driver", cfg.DBDriver, "error", err)
		os.Exit(1)
	}
	repo, err := store.New(db)
	if err != nil {
		slog.Error("db migrate failed", "error", err)
		os.Exit(1)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	slots, closeSlots, err := openSlots(ctx, cfg, repo)
	if err != nil {
		slog.Error("mailbox init failed", "backend", cfg.MailboxBackend, "error", err)
		os.Exit(1)
	}
	defer closeSlots()

	obs, err := observability.Setup(ctx, serviceName, cfg.OTLPEndpoint)
	if err != nil {
		slog.Error("observability init failed", "error", err)
		os.Exit(1)
	}
	defer func() {
		if err := obs.Shutdown(context.Background()); err != nil {
			slog.Warn("observability shutdown failed", "error", err)
		}
	}()

	v, err := validation.New()
	if err != nil {
		slog.Error("schema compile failed", "error", err)
		os.Exit(1)
	}
	hub := realtime.NewHub(cfg.SubscriberBuffer)
	svc := telemetry.NewService(repo, hub, v)
	reg := registry.New(repo)
	box := mailbox.New(slots)

	if cfg.MQTTBrokerURL != "" {
		mq, err := mqtt.Connect(cfg.MQTTBrokerURL, cfg.MQTTClientID)
		if err != nil {
			slog.Error("mqtt connect failed", "error", err)
			os.Exit(1)
		}
		defer mq.Close()

		ing := &ingest.Ingestor{Telemetry: svc, Prefix: cfg.MQTTTopicPrefix, AllowRetains: cfg.IngestRetained}
		topic := ing.TopicFilter()
		if err := mq.Subscribe(topic, func(m mqtt.Message) {
			ing.HandleMessage(ctx, m)
		}); err != nil {
			slog.Error("mqtt subscribe failed", "topic", topic, "error", err)
			os.Exit(1)
		}
		slog.Info("relay ingest subscribed", "topic", topic)
	} else {
		slog.Info("relay mqtt ingest disabled")
	}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(observability.Middleware(obs.Tracer))
	r.Use(httpapi.CORS())
	r.Handle("/metrics", obs.Metrics)

	srv := httpapi.NewServer(svc, reg, box, hub, v)
	srv.RegisterRoutes(r)

	// No WriteTimeout: the SSE and WebSocket feeds hold responses open.
	httpSrv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           r,
		ReadHeaderTimeout: 5 * time.Second,
		IdleTimeout:       60 * time.Second,
		BaseContext:       func(net.Listener) context.Context { return ctx },
	}

	go func() {
		slog.Info("relay-service listening", "addr", httpSrv.Addr)
		if err := httpSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("http server error", "error", err)
			cancel()
		}
	}()

	stop := make(chan os.Signal, 2)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	select {
	case <-stop:
		slog.Info("shutdown requested")
	case <-ctx.Done():
	}
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := httpSrv.Shutdown(shutdownCtx); err != nil {
		slog.Warn("graceful shutdown failed", "error", err)
	}
	slog.Info("relay-service stopped")
}

func openDB(cfg *config.Config) (*gorm.DB, error) {
	switch cfg.DBDriver {
	case config.DriverPostgres:
		return store.OpenPostgres(cfg.PostgresUser, cfg.PostgresPassword, cfg.PostgresDB, cfg.PostgresHost, cfg.PostgresPort, cfg.PostgresSSLMode)
	case config.DriverSQLite:
		return store.OpenSQLite(cfg.SQLitePath)
	}
	return nil, fmt.Errorf("unsupported db driver %q", cfg.DBDriver)
}

func openSlots(ctx context.Context, cfg *config.Config, repo *store.Repo) (mailbox.Slots, func(), error) {
	if cfg.MailboxBackend != config.MailboxRedis {
		return store.SQLSlots{Repo: repo}, func() {}, nil
	}
	rdb := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr, Password: cfg.RedisPassword})
	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, nil, err
	}
	return mailbox.NewRedisSlots(rdb), func() { _ = rdb.Close() }, nil
}

func setupLogging(level, format string) {
	lvl := slog.LevelInfo
	switch strings.ToLower(strings.TrimSpace(level)) {
	case "debug":
		lvl = slog.LevelDebug
	case "warn", "warning":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	}
	opts := &slog.HandlerOptions{Level: lvl}
	var h slog.Handler = slog.NewTextHandler(os.Stdout, opts)
	if strings.EqualFold(strings.TrimSpace(format), "json") {
		h = slog.NewJSONHandler(os.Stdout, opts)
	}
	slog.SetDefault(slog.New(h))
}
