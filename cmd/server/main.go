package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"snowgoose-backend/internal/adapters"
	"snowgoose-backend/internal/config"
	"snowgoose-backend/internal/database"
	"snowgoose-backend/internal/handlers"
	"snowgoose-backend/internal/metrics"
	"snowgoose-backend/internal/middleware"
	"snowgoose-backend/internal/relay"
	"snowgoose-backend/internal/repository"
	"snowgoose-backend/internal/router"
	"snowgoose-backend/internal/services"
	"snowgoose-backend/internal/storage"
	"snowgoose-backend/internal/websocket"
	"snowgoose-backend/internal/worker"
)

func main() {
	// ──── Step 1: Load Environment Variables ────
	cfg := config.Load()

	logger := newLogger(cfg.LogLevel, cfg.LogFormat)
	defer logger.Sync()
	logger.Info("starting snowgoose backend", zap.String("env", cfg.Env))

	if cfg.DollarsPerCredit <= 0 {
		logger.Warn("DOLLARS_PER_CREDIT is not set; billable turns will report billing errors")
	}

	// ──── Step 2: Initialize PostgreSQL Connection Pool ────
	pool, err := database.NewPostgresPool(cfg.DatabaseURL)
	if err != nil {
		logger.Fatal("postgres connection failed", zap.Error(err))
	}
	defer pool.Close()
	logger.Info("postgres connected")

	// ──── Step 3: Initialize Redis Clients ────
	redisClients, err := database.NewRedisClients(cfg.RedisURL, cfg.UsageWorkers)
	if err != nil {
		logger.Fatal("redis connection failed", zap.Error(err))
	}
	defer redisClients.Close()
	logger.Info("redis connected")

	// ──── Step 4: Run Database Migrations ────
	if err := database.RunMigrations(pool, "migrations", logger); err != nil {
		logger.Fatal("database migration failed", zap.Error(err))
	}

	// ──── Initialize Repositories ────
	userRepo := repository.NewUserRepo(pool)
	modelRepo := repository.NewModelRepo(pool)
	promptRepo := repository.NewPromptRepo(pool)
	usageRepo := repository.NewUsageRepo(pool)

	// ──── Step 5: Image Storage ────
	var (
		uploader   storage.Uploader
		uploadsDir string
	)
	switch cfg.StorageType {
	case "supabase":
		if cfg.SupabaseURL == "" || cfg.SupabaseKey == "" {
			logger.Fatal("STORAGE_TYPE=supabase requires SUPABASE_URL and SUPABASE_SERVICE_KEY")
		}
		uploader = storage.NewSupabaseStore(cfg.SupabaseURL, cfg.SupabaseKey, cfg.SupabaseBucket)
	default:
		local, err := storage.NewLocalStore(cfg.StoragePath, cfg.PublicBaseURL)
		if err != nil {
			logger.Fatal("local storage init failed", zap.Error(err))
		}
		uploader = local
		uploadsDir = local.Root()
	}
	logger.Info("image storage ready", zap.String("type", cfg.StorageType))

	// ──── Step 6: Vendor Adapters ────
	httpClient := adapters.NewHTTPClient(time.Duration(cfg.UpstreamTimeout) * time.Second)
	registry := adapters.NewRegistry()
	if cfg.OpenAIAPIKey != "" {
		mustRegister(logger, registry, adapters.NewOpenAI(cfg.OpenAIAPIKey, cfg.OpenAIBaseURL, httpClient, logger))
	}
	if cfg.AnthropicAPIKey != "" {
		mustRegister(logger, registry, adapters.NewAnthropic(cfg.AnthropicAPIKey, cfg.AnthropicBaseURL, httpClient, logger))
	}
	if cfg.OpenRouterAPIKey != "" {
		mustRegister(logger, registry, adapters.NewOpenRouter(cfg.OpenRouterAPIKey, cfg.OpenRouterBaseURL, cfg.FrontendURL, httpClient, logger))
	}
	if cfg.GoogleAPIKey != "" {
		google, err := adapters.NewGoogle(context.Background(), cfg.GoogleAPIKey, cfg.GoogleConcurrency, httpClient, logger)
		if err != nil {
			logger.Fatal("gemini client initialization failed", zap.Error(err))
		}
		defer google.Close()
		mustRegister(logger, registry, google)
	}
	if len(registry.Names()) == 0 {
		logger.Warn("no vendor API keys configured; every chat will fail")
	}
	logger.Info("vendor adapters registered", zap.Strings("vendors", registry.Names()))

	// ──── Step 7: Metrics ────
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	collector := metrics.NewCollector("snowgoose", reg)

	// ──── Initialize Services ────
	jwtAuth := middleware.NewJWTAuth(cfg.JWTSecret)
	creditService := services.NewCreditService(userRepo, redisClients.Queue, logger)
	chatService := services.NewChatService(userRepo, modelRepo, promptRepo, registry, uploader, logger)
	chatRelay := relay.New(creditService, uploader, relay.Config{
		DollarsPerCredit:         cfg.DollarsPerCredit,
		ImageGenerationSurcharge: cfg.ImageGenerationSurcharge,
	}, collector, logger)

	// ──── Initialize Handlers ────
	chatHandler := handlers.NewChatHandler(chatService, chatRelay, logger)
	userHandler := handlers.NewUserHandler(userRepo, logger)
	catalogHandler := handlers.NewCatalogHandler(modelRepo, promptRepo, logger)

	// ──── Step 8: Start Usage Worker Pool ────
	workerPool := worker.NewPool(redisClients.Queue, usageRepo, cfg.UsageWorkers, logger)
	workerPool.Start()

	// ──── Step 9: WebSocket Hub ────
	wsHub := websocket.NewHub(redisClients.PubSub, jwtAuth, cfg.FrontendURL, logger)

	// ──── Step 10: Start HTTP Server ────
	r, stopLimiter := router.New(jwtAuth, chatHandler, userHandler, catalogHandler, wsHub, router.Options{
		FrontendURL:     cfg.FrontendURL,
		ChatLimitPerMin: cfg.ChatRateLimitPerMin,
		UploadsDir:      uploadsDir,
		MetricsGatherer: reg,
		Logger:          logger,
	})

	// The chat handler lifts the write deadline for its own streams.
	server := &http.Server{
		Addr:              fmt.Sprintf(":%s", cfg.Port),
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      15 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	// Graceful shutdown
	done := make(chan struct{})
	go func() {
		defer close(done)
		sigChan := make(chan os.Signal, 1)
		signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
		<-sigChan

		logger.Info("shutting down")
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		if err := server.Shutdown(ctx); err != nil {
			logger.Warn("server shutdown incomplete", zap.Error(err))
		}
		stopLimiter()
		workerPool.Stop()
	}()

	logger.Info("snowgoose backend ready",
		zap.String("api", fmt.Sprintf("http://localhost:%s/api/v1", cfg.Port)),
		zap.String("ws", fmt.Sprintf("ws://localhost:%s/api/v1/ws", cfg.Port)))

	if err := server.ListenAndServe(); err != http.ErrServerClosed {
		logger.Fatal("server error", zap.Error(err))
	}
	<-done
}

func mustRegister(logger *zap.Logger, registry *adapters.Registry, v adapters.Vendor) {
	if err := registry.Register(v); err != nil {
		logger.Fatal("adapter registration failed", zap.String("vendor", v.Name()), zap.Error(err))
	}
}

func newLogger(level, format string) *zap.Logger {
	lvl, err := zapcore.ParseLevel(level)
	if err != nil {
		lvl = zapcore.InfoLevel
	}

	var encoderConfig zapcore.EncoderConfig
	if format == "console" {
		encoderConfig = zap.NewDevelopmentEncoderConfig()
		encoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
	} else {
		format = "json"
		encoderConfig = zap.NewProductionEncoderConfig()
		encoderConfig.TimeKey = "timestamp"
		encoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	}

	zapConfig := zap.Config{
		Level:            zap.NewAtomicLevelAt(lvl),
		Development:      format == "console",
		Encoding:         format,
		EncoderConfig:    encoderConfig,
		OutputPaths:      []string{"stdout"},
		ErrorOutputPaths: []string{"stderr"},
	}

	logger, err := zapConfig.Build(zap.AddCaller(), zap.AddStacktrace(zapcore.ErrorLevel))
	if err != nil {
		logger, _ = zap.NewProduction()
	}
	return logger
}
