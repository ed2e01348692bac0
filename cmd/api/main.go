// Package main is the entry point for the API server.
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/capitalize-ai/model-middleware/internal/config"
	"github.com/capitalize-ai/model-middleware/internal/handler"
	"github.com/capitalize-ai/model-middleware/internal/llm"
	"github.com/capitalize-ai/model-middleware/internal/model"
	natsclient "github.com/capitalize-ai/model-middleware/internal/nats"
	"github.com/capitalize-ai/model-middleware/internal/pipeline"
	"github.com/capitalize-ai/model-middleware/internal/service"
	"github.com/capitalize-ai/model-middleware/pkg/logger"
	"github.com/capitalize-ai/model-middleware/pkg/tracing"
)

const serviceName = "model-middleware"

func main() {
	// Load configuration
	cfg := config.Load()

	// Initialize logger
	log, err := logger.New(cfg.LogLevel)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to create logger: %v\n", err)
		os.Exit(1)
	}
	defer func() { _ = log.Sync() }()
	logger.SetGlobal(log)

	log.Info("starting API server")

	// Initialize tracing if enabled
	ctx := context.Background()
	if cfg.TracingEnabled {
		tp, err := tracing.InitTracer(ctx, serviceName, cfg.TracingEndpoint)
		if err != nil {
			log.Warn("failed to initialize tracing", zap.Error(err))
		} else {
			defer func() { _ = tracing.Shutdown(ctx, tp) }()
		}
	}

	// Initialize LLM client
	provider := llm.Provider(cfg.DefaultLLM)
	apiKey := cfg.AnthropicAPIKey
	if provider == llm.ProviderOpenAI {
		apiKey = cfg.OpenAIAPIKey
	}
	llmClient, err := llm.NewClient(provider, apiKey)
	if err != nil {
		log.Error("failed to create LLM client", zap.String("provider", cfg.DefaultLLM), zap.Error(err))
		os.Exit(1)
	}
	invoker := llm.NewInvoker(llmClient, cfg.DefaultModel, cfg.ModelMaxTokens)

	var serviceOpts []service.Option

	// Connect to NATS for the policy event stream
	var natsClient *natsclient.Client
	if cfg.NATSEnabled {
		natsClient, err = natsclient.Connect(ctx, natsclient.Config{
			URL:      cfg.NATSURL,
			CAFile:   cfg.NATSCAFile,
			CertFile: cfg.NATSCertFile,
			KeyFile:  cfg.NATSKeyFile,
			Token:    cfg.NATSToken,
			Name:     serviceName,
		}, log)
		if err != nil {
			log.Error("failed to connect to NATS", zap.Error(err))
			os.Exit(1)
		}
		defer natsClient.Close()

		streamManager := natsclient.NewStreamManager(natsClient)
		if err := streamManager.EnsureStream(ctx); err != nil {
			log.Error("failed to ensure stream", zap.Error(err))
			os.Exit(1)
		}
		serviceOpts = append(serviceOpts,
			service.WithRecorder(streamManager),
			service.WithEventReader(streamManager),
		)
	}

	// Shared response cache
	var redisClient *redis.Client
	if cfg.CacheBackend == config.CacheBackendRedis {
		redisClient = redis.NewClient(&redis.Options{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
			DB:       cfg.RedisDB,
		})
		defer func() { _ = redisClient.Close() }()

		pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		err := redisClient.Ping(pingCtx).Err()
		cancel()
		if err != nil {
			log.Error("failed to connect to redis", zap.String("addr", cfg.RedisAddr), zap.Error(err))
			os.Exit(1)
		}
		serviceOpts = append(serviceOpts, service.WithCacheStore(pipeline.NewRedisStore(redisClient)))
	}

	// Initialize services
	mw := cfg.Middleware
	sessions := service.NewSessionService(invoker, service.PipelineOptions{
		LoggingVerbose: mw.LoggingVerbose,
		Budget: pipeline.BudgetConfig{
			MaxTokens:   mw.MaxTokens,
			MaxRequests: mw.MaxRequests,
		},
		MaxMessages:         mw.MaxMessages,
		AllowedTools:        mw.AllowedTools,
		EnableLogging:       mw.EnableLogging,
		EnableSecurity:      mw.EnableSecurity,
		EnableBudget:        mw.EnableBudget,
		EnableSummarization: mw.EnableSummarization,
		EnableExpertise:     mw.EnableExpertise,
		EnableCache:         mw.EnableCache,
	}, log, serviceOpts...)

	// Initialize handlers
	healthHandler := handler.NewHealthHandler(natsClient, redisClient)
	chatHandler := handler.NewChatHandler(sessions, log)

	router := handler.NewRouter(handler.RouterConfig{
		JWTSecret:         cfg.JWTSecret,
		DefaultExpertise:  model.ParseExpertise(mw.DefaultExpertise),
		RateLimitRequests: cfg.RateLimitRequests,
		RateLimitWindow:   cfg.RateLimitWindow,
	}, healthHandler, chatHandler, log)

	// Create HTTP server
	server := &http.Server{
		Addr:         ":" + cfg.ServerPort,
		Handler:      router,
		ReadTimeout:  cfg.ServerReadTimeout,
		WriteTimeout: cfg.ServerWriteTimeout,
		IdleTimeout:  120 * time.Second,
	}

	// Start server in goroutine
	go func() {
		log.Info("server listening",
			zap.String("port", cfg.ServerPort),
			zap.String("llm", llmClient.Name()),
			zap.String("cache_backend", cfg.CacheBackend),
			zap.Bool("nats", cfg.NATSEnabled),
		)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error("server error", zap.Error(err))
			os.Exit(1)
		}
	}()

	// Wait for shutdown signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info("shutting down server")

	// Graceful shutdown with timeout
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Error("server forced to shutdown", zap.Error(err))
	}

	log.Info("server stopped")
}
