// Package main is the entry point for the routing API server.
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"github.com/finanzas-ai/coordinator/internal/agent"
	"github.com/finanzas-ai/coordinator/internal/config"
	"github.com/finanzas-ai/coordinator/internal/events"
	"github.com/finanzas-ai/coordinator/internal/handler"
	"github.com/finanzas-ai/coordinator/internal/middleware"
	"github.com/finanzas-ai/coordinator/internal/model"
	"github.com/finanzas-ai/coordinator/internal/orchestrator"
	"github.com/finanzas-ai/coordinator/internal/oracle"
	"github.com/finanzas-ai/coordinator/internal/router"
	"github.com/finanzas-ai/coordinator/internal/store"
	"github.com/finanzas-ai/coordinator/pkg/logger"
	"github.com/finanzas-ai/coordinator/pkg/tracing"
)

func main() {
	cfg := config.Load()

	log, err := logger.New(cfg.LogLevel)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to create logger: %v\n", err)
		os.Exit(1)
	}
	defer log.Sync()
	logger.SetGlobal(log)

	log.Info("starting routing API server")

	ctx := context.Background()
	if cfg.TracingEnabled {
		tp, err := tracing.InitTracer(ctx, "finanzas-coordinator", cfg.TracingEndpoint)
		if err != nil {
			log.Warn("failed to initialize tracing", zap.Error(err))
		} else {
			defer tracing.Shutdown(ctx, tp)
		}
	}

	// Postgres
	db, err := gorm.Open(postgres.Open(cfg.PostgresDSN), &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Silent),
	})
	if err != nil {
		log.Error("failed to connect to postgres", zap.Error(err))
		os.Exit(1)
	}
	if err := db.AutoMigrate(&model.User{}, &model.Conversation{}, &model.Expense{}); err != nil {
		log.Error("failed to run migrations", zap.Error(err))
		os.Exit(1)
	}

	// Redis
	redisClient := redis.NewClient(&redis.Options{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
	})
	if err := redisClient.Ping(ctx).Err(); err != nil {
		log.Warn("redis not reachable at startup, continuing", zap.Error(err))
	}
	defer redisClient.Close()

	// NATS turn events (optional)
	var publisher *events.Publisher
	if cfg.NATSEnabled {
		publisher, err = events.Connect(events.Config{URL: cfg.NATSURL, Token: cfg.NATSToken}, log)
		if err != nil {
			log.Warn("failed to connect to NATS, turn events disabled", zap.Error(err))
		} else {
			defer publisher.Close()
		}
	}

	// Classification oracle
	provider := oracle.Provider(cfg.OracleProvider)
	apiKey := cfg.OpenAIAPIKey
	if provider == oracle.ProviderAnthropic {
		apiKey = cfg.AnthropicAPIKey
	}
	classifier, err := oracle.NewClassifier(provider, apiKey, cfg.OracleModel)
	if err != nil {
		log.Warn("oracle unavailable, ambiguous messages fall back to query", zap.Error(err))
		classifier = nil
	}

	// Stores
	cache := store.NewConversationCache(store.NewRedisKV(redisClient), cfg.CacheTTL)
	convRepo := store.NewGormConversationRepo(db)
	userRepo := store.NewGormUserRepo(db)
	expenseRepo := store.NewGormExpenseRepo(db)
	state := store.NewStateStore(cache, convRepo, userRepo, cfg.ConversationTimeout, cfg.CacheTimeout, cfg.StoreTimeout, log)

	// Handlers and pipeline
	registry := agent.NewRegistry(log,
		agent.NewCommandHandler(state, expenseRepo),
		agent.NewExpenseHandler(expenseRepo),
		agent.NewQueryHandler(expenseRepo),
		agent.NewConfigurationHandler(state, cfg.ConversationTimeout),
	)
	rt := router.New(classifier, cfg.OracleTimeout, log)
	orch := orchestrator.New(state, rt, registry, publisher, log)

	// Background sweep for conversations that went stale without a new message.
	sweepCtx, stopSweep := context.WithCancel(ctx)
	defer stopSweep()
	go func() {
		ticker := time.NewTicker(5 * time.Minute)
		defer ticker.Stop()
		for {
			select {
			case <-sweepCtx.Done():
				return
			case <-ticker.C:
				n, err := convRepo.ExpireStale(sweepCtx)
				if err != nil {
					log.Warn("stale conversation sweep failed", zap.Error(err))
				} else if n > 0 {
					log.Info("expired stale conversations", zap.Int64("count", n))
				}
			}
		}
	}()

	healthHandler := handler.NewHealthHandler(db, redisClient)
	webhookHandler := handler.NewWebhookHandler(orch, log)

	r := chi.NewRouter()
	r.Use(chimiddleware.RequestID)
	r.Use(chimiddleware.RealIP)
	r.Use(middleware.Logging(log))
	r.Use(middleware.SecurityHeaders)
	r.Use(chimiddleware.Recoverer)

	r.Get("/health", healthHandler.Health)
	r.Get("/ready", healthHandler.Ready)
	r.Handle("/metrics", promhttp.Handler())

	r.Route("/webhook", func(r chi.Router) {
		r.Use(middleware.RateLimit(cfg.RateLimitRequests, cfg.RateLimitWindow))
		r.Post("/whatsapp", webhookHandler.WhatsApp)
	})

	server := &http.Server{
		Addr:         ":" + cfg.ServerPort,
		Handler:      r,
		ReadTimeout:  cfg.ServerReadTimeout,
		WriteTimeout: cfg.ServerWriteTimeout,
		IdleTimeout:  120 * time.Second,
	}

	go func() {
		log.Info("server listening", zap.String("port", cfg.ServerPort))
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error("server error", zap.Error(err))
			os.Exit(1)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info("shutting down server")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Error("server forced to shutdown", zap.Error(err))
	}

	log.Info("server stopped")
}
