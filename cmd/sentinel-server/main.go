package main

import (
	"context"
	"database/sql"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib" // Register pgx as database/sql driver
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/examtrace/sentinel/internal/api"
	"github.com/examtrace/sentinel/internal/auth"
	"github.com/examtrace/sentinel/internal/chread"
	"github.com/examtrace/sentinel/internal/fanout"
	"github.com/examtrace/sentinel/internal/gate"
	"github.com/examtrace/sentinel/internal/inference"
	"github.com/examtrace/sentinel/internal/pipeline"
	"github.com/examtrace/sentinel/internal/signals"
	"github.com/examtrace/sentinel/internal/storage"
	"github.com/examtrace/sentinel/internal/store"
)

func main() {
	// Logger
	logger := mustBuildLogger(envOrDefault("SENTINEL_LOG_LEVEL", "info"))
	defer logger.Sync() //nolint:errcheck // best-effort flush

	// Config from env
	httpPort := envOrDefault("SENTINEL_HTTP_PORT", "8080")
	inferenceURL := os.Getenv("INFERENCE_URL")
	inferenceTimeoutMs := envOrDefaultInt("SENTINEL_INFERENCE_TIMEOUT_MS", 30_000)
	payloadFormat := envOrDefault("SENTINEL_PAYLOAD_FORMAT", "sequence")
	cooldownMs := envOrDefaultInt("SENTINEL_COOLDOWN_MS", 60_000)
	backoffMs := envOrDefaultInt("SENTINEL_BACKOFF_MS", 120_000)
	suspicionThreshold := envOrDefaultFloat("SENTINEL_SUSPICION_THRESHOLD", 0.3)
	frameCount := envOrDefaultInt("SENTINEL_FRAME_COUNT", 60)
	featureDim := envOrDefaultInt("SENTINEL_FEATURE_DIM", 12)
	jwtSecret := os.Getenv("SENTINEL_JWT_SECRET")
	cacheTTL := envOrDefaultInt("SENTINEL_AUTH_CACHE_TTL_S", 30)
	postgresDSN := os.Getenv("POSTGRES_DSN")
	clickhouseDSN := os.Getenv("CLICKHOUSE_DSN")

	if inferenceURL == "" {
		logger.Fatal("INFERENCE_URL is required")
	}
	if postgresDSN == "" {
		logger.Fatal("POSTGRES_DSN is required")
	}
	if jwtSecret == "" {
		logger.Fatal("SENTINEL_JWT_SECRET is required")
	}

	logger.Info("starting sentinel server",
		zap.String("http_port", httpPort),
		zap.String("inference_url", inferenceURL),
		zap.Int("inference_timeout_ms", inferenceTimeoutMs),
		zap.String("payload_format", payloadFormat),
		zap.Int("cooldown_ms", cooldownMs),
		zap.Int("backoff_ms", backoffMs),
		zap.Float64("suspicion_threshold", suspicionThreshold),
		zap.Int("frame_count", frameCount),
		zap.Int("feature_dim", featureDim),
	)

	// Postgres pool (sessions, cheating events, device keys)
	db, err := sql.Open("pgx", postgresDSN)
	if err != nil {
		logger.Fatal("failed to open postgres", zap.Error(err))
	}
	defer func() { _ = db.Close() }()
	db.SetMaxOpenConns(10)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)
	if err := db.PingContext(context.Background()); err != nil {
		logger.Fatal("failed to ping postgres", zap.Error(err))
	}
	pgStore := store.NewStore(db)
	logger.Info("postgres connected")

	// Telemetry audit trail — ClickHouse or LogWriter fallback
	var writer storage.TelemetryWriter
	if clickhouseDSN != "" {
		chWriter, err := storage.NewClickHouseWriter(clickhouseDSN, logger)
		if err != nil {
			logger.Warn("clickhouse connection failed, falling back to log writer",
				zap.Error(err),
			)
			writer = storage.NewLogWriter(logger)
		} else {
			writer = chWriter
			logger.Info("clickhouse writer connected")
		}
	} else {
		writer = storage.NewLogWriter(logger)
		logger.Info("no CLICKHOUSE_DSN set, using log writer")
	}
	defer writer.Close()

	// ClickHouse reader (for telemetry/analytics HTTP endpoints)
	var chReader *chread.Reader
	if clickhouseDSN != "" {
		chReader, err = chread.NewReader(clickhouseDSN, logger)
		if err != nil {
			logger.Warn("clickhouse reader connection failed", zap.Error(err))
			chReader = nil
		} else {
			defer func() { _ = chReader.Close() }()
			logger.Info("clickhouse reader connected")
		}
	}

	// Decision pipeline
	rateGate := gate.New(gate.Config{
		Cooldown: time.Duration(cooldownMs) * time.Millisecond,
		Backoff:  time.Duration(backoffMs) * time.Millisecond,
	})
	scorer := inference.NewClient(inference.Config{
		BaseURL: inferenceURL,
		Timeout: time.Duration(inferenceTimeoutMs) * time.Millisecond,
		Format:  inference.ParseFormat(payloadFormat),
		Logger:  logger,
	})
	hub := fanout.NewHub(fanout.DefaultBuffer, logger)
	pipe := pipeline.New(
		pipeline.Config{
			SuspicionThreshold: suspicionThreshold,
			FrameCount:         frameCount,
			FeatureDim:         featureDim,
			Bounds:             signals.DefaultBounds(),
		},
		rateGate, scorer, pgStore, hub, writer, logger,
	)

	authenticator := auth.NewPostgresAuthenticator(auth.PostgresAuthConfig{
		DB:       db,
		CacheTTL: time.Duration(cacheTTL) * time.Second,
		Logger:   logger,
	})

	// HTTP server
	deps := &api.Dependencies{
		Store:     pgStore,
		Pipeline:  pipe,
		Auth:      authenticator,
		Hub:       hub,
		Reader:    chReader,
		Logger:    logger,
		JWTSecret: []byte(jwtSecret),
	}
	httpServer := &http.Server{
		Addr:        ":" + httpPort,
		Handler:     api.NewRouter(deps),
		ReadTimeout: 10 * time.Second,
		// No WriteTimeout: /api/stream holds SSE connections open.
		IdleTimeout: 60 * time.Second,
	}
	go func() {
		logger.Info("http server listening", zap.String("addr", httpServer.Addr))
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("http server failed", zap.Error(err))
		}
	}()

	// Block until shutdown signal
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	sig := <-sigCh
	logger.Info("received signal, shutting down", zap.String("signal", sig.String()))

	// Graceful shutdown
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.Error("http server shutdown error", zap.Error(err))
	}

	logger.Info("sentinel server stopped")
}

func mustBuildLogger(level string) *zap.Logger {
	var zapLevel zapcore.Level
	switch level {
	case "debug":
		zapLevel = zapcore.DebugLevel
	case "warn":
		zapLevel = zapcore.WarnLevel
	case "error":
		zapLevel = zapcore.ErrorLevel
	default:
		zapLevel = zapcore.InfoLevel
	}

	cfg := zap.Config{
		Level:            zap.NewAtomicLevelAt(zapLevel),
		Development:      false,
		Encoding:         "json",
		EncoderConfig:    zap.NewProductionEncoderConfig(),
		OutputPaths:      []string{"stdout"},
		ErrorOutputPaths: []string{"stderr"},
	}

	logger, err := cfg.Build()
	if err != nil {
		panic(fmt.Sprintf("failed to build logger: %v", err))
	}
	return logger
}

func envOrDefault(key, defaultVal string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultVal
}

func envOrDefaultInt(key string, defaultVal int) int {
	if v := os.Getenv(key); v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			return i
		}
	}
	return defaultVal
}

func envOrDefaultFloat(key string, defaultVal float64) float64 {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return defaultVal
}
