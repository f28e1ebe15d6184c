package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/frogbytes/frogbytes/admin"
	adminapi "github.com/frogbytes/frogbytes/api/echo"
	"github.com/frogbytes/frogbytes/config"
	apperrors "github.com/frogbytes/frogbytes/errors"
	"github.com/frogbytes/frogbytes/internal/metrics"
	"github.com/frogbytes/frogbytes/internal/server"
	"github.com/frogbytes/frogbytes/log"
	"github.com/frogbytes/frogbytes/mongodb"
	"github.com/frogbytes/frogbytes/session"
	"github.com/frogbytes/frogbytes/tracing"
)

// cleanupInterval is how often the retention sweep runs in addition to
// the registry's own expiry handling.
const cleanupInterval = 30 * time.Minute

func main() {
	cfg, err := config.LoadConfig()
	if err != nil {
		bootLogger := zerolog.New(os.Stderr).With().Timestamp().Logger()
		bootLogger.Fatal().Err(err).Msg("Failed to load configuration")
	}

	logLevel, parseErr := zerolog.ParseLevel(cfg.LogLevel)
	if parseErr != nil {
		logLevel = zerolog.InfoLevel
	}
	appLogger := log.NewZerologAdapter(logLevel, cfg.LogPretty)

	ctx := context.Background()
	appLogger.Info(ctx, "Starting frogbytes coordination server", map[string]any{
		"http_port":     cfg.HTTPPort,
		"session_store": cfg.SessionStore,
		"log_level":     cfg.LogLevel,
	})

	if cfg.AdminAPIKey == "" {
		appLogger.Warn(ctx, "ADMIN_API_KEY is empty: all /admin routes will be rejected")
	}
	apperrors.DetailedLogging = cfg.LogErrorDetails

	tp, err := tracing.InitTracerProvider(cfg.OtelServiceName)
	if err != nil {
		appLogger.Fatal(ctx, "Failed to initialize TracerProvider", err)
	}

	metrics.InitCustomMetrics(prometheus.DefaultRegisterer)

	// Session registry: memory by default, redis when configured.
	var registry session.Registry
	var redisClient *redis.Client
	switch cfg.SessionStore {
	case "redis":
		redisClient = redis.NewClient(&redis.Options{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
		})
		if err := redisClient.Ping(ctx).Err(); err != nil {
			appLogger.Fatal(ctx, "Failed to connect to Redis", err)
		}
		registry = session.NewRedisRegistry(redisClient, cfg.RedisKeyPrefix, cfg.SessionRetention())
	default:
		registry = session.NewMemoryRegistry(cfg.SessionRetention())
	}

	// Execution audit repository, only when Mongo is configured.
	var executions *mongodb.ExecutionRepository
	if cfg.MongoURI != "" {
		if err := mongodb.InitMongoDB(ctx, cfg.MongoURI, cfg.MongoDBName); err != nil {
			appLogger.Fatal(ctx, "Failed to initialize MongoDB connection", err)
		}
		executions, err = mongodb.NewExecutionRepository(ctx, mongodb.GetDB())
		if err != nil {
			appLogger.Fatal(ctx, "Failed to initialize ExecutionRepository", err)
		}
	}

	httpClient := &http.Client{Timeout: cfg.OutboundTimeout()}
	providers := admin.NewProviderClient(httpClient, cfg.AdminAPIKey,
		cfg.KeyPoolStatsURL, cfg.TokenStatsURL, cfg.ExecutionHistoryURL, cfg.SystemStatusURL)
	aggregator := admin.NewStatusAggregator(providers)

	var recorder admin.ExecutionRecorder
	if executions != nil {
		recorder = executions
	}
	dispatcher := admin.NewDispatcher(httpClient, cfg.AdminAPIKey, map[admin.Service]string{
		admin.ServiceScraper:     cfg.ScraperTriggerURL,
		admin.ServiceValidator:   cfg.ValidatorTriggerURL,
		admin.ServiceRevalidator: cfg.RevalidatorTriggerURL,
	}, recorder)

	api := adminapi.NewAdminAPI(registry, aggregator, dispatcher, executions, cfg.AdminAPIKey)
	httpServer := server.NewHTTPServer(cfg, appLogger, api)

	// Retention sweep, owned by the process lifecycle and stopped on
	// shutdown.
	sweepCtx, stopSweep := context.WithCancel(ctx)
	go func() {
		ticker := time.NewTicker(cleanupInterval)
		defer ticker.Stop()
		for {
			select {
			case <-sweepCtx.Done():
				return
			case <-ticker.C:
				if err := registry.CleanupOldSessions(sweepCtx); err != nil {
					appLogger.Warn(sweepCtx, "Session retention sweep failed", map[string]any{
						"error": err.Error(),
					})
				}
			}
		}
	}()

	go func() {
		appLogger.Info(ctx, "HTTP server listening", map[string]any{"addr": httpServer.Addr})
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			appLogger.Fatal(ctx, "HTTP server failed", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	appLogger.Info(ctx, "Shutting down")
	stopSweep()

	shutdownCtx, cancel := context.WithTimeout(ctx, 15*time.Second)
	defer cancel()

	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		appLogger.Error(shutdownCtx, "HTTP server shutdown failed", err)
	}
	if err := registry.Close(); err != nil {
		appLogger.Error(shutdownCtx, "Registry close failed", err)
	}
	if redisClient != nil {
		if err := redisClient.Close(); err != nil {
			appLogger.Error(shutdownCtx, "Redis client close failed", err)
		}
	}
	if cfg.MongoURI != "" {
		if err := mongodb.CloseMongoDB(shutdownCtx); err != nil {
			appLogger.Error(shutdownCtx, "MongoDB disconnect failed", err)
		}
	}
	if err := tp.Shutdown(shutdownCtx); err != nil {
		appLogger.Error(shutdownCtx, "TracerProvider shutdown failed", err)
	}

	appLogger.Info(ctx, "Shutdown complete")
}
