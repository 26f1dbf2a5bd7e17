package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	httphandlers "github.com/bzinkan/ClassPilot-sub005/internal/handlers/http"

	"github.com/bzinkan/ClassPilot-sub005/internal/core/ports"
	"github.com/bzinkan/ClassPilot-sub005/internal/core/services"
	"github.com/bzinkan/ClassPilot-sub005/internal/infrastructure/distributed"
	"github.com/bzinkan/ClassPilot-sub005/internal/infrastructure/middleware"
	"github.com/bzinkan/ClassPilot-sub005/internal/infrastructure/monitoring"
	"github.com/bzinkan/ClassPilot-sub005/internal/infrastructure/relay"
	cachedrepo "github.com/bzinkan/ClassPilot-sub005/internal/infrastructure/repositories/cached"
	memoryrepo "github.com/bzinkan/ClassPilot-sub005/internal/infrastructure/repositories/memory"
	redisrepo "github.com/bzinkan/ClassPilot-sub005/internal/infrastructure/repositories/redis"
	"github.com/bzinkan/ClassPilot-sub005/pkg/config"
	rlog "github.com/bzinkan/ClassPilot-sub005/pkg/logger"
	"github.com/bzinkan/ClassPilot-sub005/pkg/tracing"
	"github.com/bzinkan/ClassPilot-sub005/pkg/utils"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

func main() {
	configPath := flag.String("config", "configs/config.yaml", "path to config file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}

	zl := rlog.New(cfg.Logging.Level)
	defer zl.Sync()
	logger := zl.Sugar()

	tracingCfg := tracing.DefaultConfig()
	tracingCfg.Enabled = cfg.Tracing.Enabled
	tracingCfg.JaegerURL = cfg.Tracing.JaegerEndpoint
	tp, err := tracing.Init(tracingCfg)
	if err != nil {
		logger.Fatalw("failed to initialize tracing", "error", err)
	}

	// Roster source: redis when configured, in-memory otherwise. The
	// in-memory store is populated through the admin API.
	var roster interface {
		ports.RosterStore
		ports.RosterAdmin
	}
	var events ports.EventPublisher
	if cfg.Redis.Enabled {
		client, err := redisrepo.NewRedisClient(cfg.Redis.Address, cfg.Redis.Password, cfg.Redis.DB, cfg.Redis.PoolSize, logger)
		if err != nil {
			logger.Fatalw("failed to connect to redis", "error", err)
		}
		defer redisrepo.CloseRedisClient(client)
		roster = redisrepo.NewRedisRosterRepository(client)
		events = distributed.NewEventBus(client, utils.GenerateID("relay"), logger)
		logger.Infow("using redis roster store", "address", cfg.Redis.Address)
	} else {
		roster = memoryrepo.NewMemoryRosterRepository()
		logger.Infow("using in-memory roster store")
	}

	// The guard reads through a short-TTL cache when configured; admin
	// writes always go straight to the backing store.
	var guardRoster ports.RosterStore = roster
	if cfg.Roster.CacheTTL > 0 {
		cached := cachedrepo.NewCachedRosterRepository(roster, cfg.Roster.CacheTTL)
		defer cached.Stop()
		guardRoster = cached
		logger.Infow("roster read caching enabled", "ttl", cfg.Roster.CacheTTL)
	}

	tokens := services.NewTokenService(cfg.Auth.JWTSecret, cfg.Auth.TokenTTL)
	guard := services.NewGuardService(guardRoster, logger)
	collector := monitoring.NewPrometheusCollector()

	relayCfg := relay.Config{
		PingInterval:      cfg.Relay.PingInterval,
		PongTimeout:       cfg.Relay.PongTimeout,
		WriteTimeout:      cfg.Relay.WriteTimeout,
		MaxMessageBytes:   cfg.Relay.MaxMessageBytes,
		MessagesPerSecond: cfg.Relay.MessagesPerSecond,
		MessageBurst:      cfg.Relay.MessageBurst,
	}
	relayServer := relay.NewServer(guard, tokens, collector, relayCfg, logger)
	if events != nil {
		relayServer.SetEventPublisher(events)
	}

	// Signaling websocket server
	wsMux := http.NewServeMux()
	wsMux.HandleFunc("/ws", relayServer.HandleWebSocket)
	wsSrv := &http.Server{
		Addr:    cfg.Relay.Address,
		Handler: wsMux,
	}

	// Admin HTTP server
	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(middleware.RecoveryMiddleware(logger))
	router.Use(middleware.RequestLoggerMiddleware(zl))
	router.Use(middleware.ErrorHandlerMiddleware(logger))
	router.Use(middleware.NewHTTPRateLimitMiddleware(cfg))

	adminHandler := httphandlers.NewAdminHandler(roster, relayServer.Registry(), tokens)
	adminHandler.SetupRoutes(router)

	adminSrv := &http.Server{
		Addr:         cfg.Server.Address,
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	var metricsSrv *http.Server
	if cfg.Monitoring.PrometheusEnabled {
		metricsMux := http.NewServeMux()
		metricsMux.Handle("/metrics", promhttp.Handler())
		metricsSrv = &http.Server{
			Addr:    fmt.Sprintf(":%d", cfg.Monitoring.PrometheusPort),
			Handler: metricsMux,
		}
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	errCh := make(chan error, 3)
	go func() {
		logger.Infow("signaling server listening", "address", cfg.Relay.Address)
		errCh <- wsSrv.ListenAndServe()
	}()
	go func() {
		logger.Infow("admin server listening", "address", cfg.Server.Address)
		errCh <- adminSrv.ListenAndServe()
	}()
	if metricsSrv != nil {
		go func() {
			logger.Infow("metrics server listening", "address", metricsSrv.Addr)
			errCh <- metricsSrv.ListenAndServe()
		}()
	}

	select {
	case <-ctx.Done():
		logger.Infow("shutdown signal received")
	case err := <-errCh:
		logger.Errorw("server error", "error", err)
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Relay.ShutdownTimeout)
	defer cancel()

	if err := wsSrv.Shutdown(shutdownCtx); err != nil {
		logger.Errorw("signaling server shutdown failed", "error", err)
	}
	if err := adminSrv.Shutdown(shutdownCtx); err != nil {
		logger.Errorw("admin server shutdown failed", "error", err)
	}
	if metricsSrv != nil {
		if err := metricsSrv.Shutdown(shutdownCtx); err != nil {
			logger.Errorw("metrics server shutdown failed", "error", err)
		}
	}
	if err := tp.Shutdown(shutdownCtx); err != nil {
		logger.Errorw("tracer shutdown failed", "error", err)
	}

	logger.Infow("shutdown complete")
}
