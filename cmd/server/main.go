package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/commercebridge/backend/internal/application/consumer"
	"github.com/commercebridge/backend/internal/application/ingest"
	"github.com/commercebridge/backend/internal/domain/integration"
	"github.com/commercebridge/backend/internal/infrastructure/config"
	"github.com/commercebridge/backend/internal/infrastructure/event"
	"github.com/commercebridge/backend/internal/infrastructure/logger"
	"github.com/commercebridge/backend/internal/infrastructure/provider"
	"github.com/commercebridge/backend/internal/infrastructure/resilience"
	"github.com/commercebridge/backend/internal/infrastructure/telemetry"
	"github.com/commercebridge/backend/internal/infrastructure/webhook"
	"github.com/commercebridge/backend/internal/interfaces/http/handler"
	"github.com/commercebridge/backend/internal/interfaces/http/middleware"
	"github.com/commercebridge/backend/internal/interfaces/http/router"
)

func main() {
	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		panic("Failed to load configuration: " + err.Error())
	}

	// Initialize logger
	log, err := logger.New(&logger.Config{
		Level:      cfg.Log.Level,
		Format:     cfg.Log.Format,
		Output:     cfg.Log.Output,
		TimeFormat: "2006-01-02T15:04:05.000Z07:00",
	})
	if err != nil {
		panic("Failed to initialize logger: " + err.Error())
	}
	defer func() {
		_ = logger.Sync(log)
	}()

	log.Info("Starting CommerceBridge",
		zap.String("app", cfg.App.Name),
		zap.String("env", cfg.App.Env),
		zap.String("port", cfg.App.Port),
	)

	ctx := context.Background()

	// Telemetry
	meterProvider, err := telemetry.NewMeterProvider(ctx, telemetry.MetricsConfig{
		Enabled:           cfg.Telemetry.Enabled,
		CollectorEndpoint: cfg.Telemetry.CollectorEndpoint,
		ServiceName:       cfg.Telemetry.ServiceName,
		Insecure:          cfg.Telemetry.Insecure,
	}, log)
	if err != nil {
		log.Fatal("Failed to initialize metrics", zap.Error(err))
	}
	tracerProvider, err := telemetry.NewTracerProvider(ctx, telemetry.TracingConfig{
		Enabled:           cfg.Telemetry.Enabled,
		CollectorEndpoint: cfg.Telemetry.CollectorEndpoint,
		SamplingRatio:     cfg.Telemetry.SamplingRatio,
		ServiceName:       cfg.Telemetry.ServiceName,
		Insecure:          cfg.Telemetry.Insecure,
	}, log)
	if err != nil {
		log.Fatal("Failed to initialize tracing", zap.Error(err))
	}
	metrics, err := telemetry.NewIntegrationMetrics(meterProvider)
	if err != nil {
		log.Fatal("Failed to create instruments", zap.Error(err))
	}

	// Durable store is optional; without it caching and event storage run
	// in process memory.
	var redisClient *redis.Client
	if cfg.Redis.Configured() {
		redisClient = redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr(),
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		err := redisClient.Ping(pingCtx).Err()
		cancel()
		if err != nil {
			log.Warn("Redis unreachable, degrading to in-memory storage",
				zap.String("addr", cfg.Redis.Addr()),
				zap.Error(err),
			)
			_ = redisClient.Close()
			redisClient = nil
		} else {
			log.Info("Redis connected", zap.String("addr", cfg.Redis.Addr()))
			defer func() {
				_ = redisClient.Close()
			}()
		}
	}

	// Outbound provider clients
	var clients []*resilience.ResilientClient
	providerClients := make(map[integration.ProviderCode]*resilience.ResilientClient)
	for code, pc := range cfg.Providers {
		if pc.BaseURL == "" {
			log.Warn("Provider not configured, outbound calls disabled",
				zap.String("provider", code.String()))
			continue
		}

		var cache resilience.ResponseCache
		if redisClient != nil {
			cache = resilience.NewRedisResponseCache(redisClient, log)
		} else {
			memCache := resilience.NewMemoryResponseCache()
			defer func() {
				_ = memCache.Close()
			}()
			cache = memCache
		}

		authHeader, authValue := providerAuth(code, pc)
		client, err := resilience.NewResilientClient(resilience.ClientConfig{
			Provider:       code,
			BaseURL:        pc.BaseURL,
			AuthHeader:     authHeader,
			AuthValue:      authValue,
			RequestTimeout: pc.RequestTimeout,
			CacheTTL:       pc.CacheTTL,
		},
			resilience.NewRateLimiter(code, pc.RateCapacity, pc.RateRefillPerSec, pc.AcquireMaxWait),
			resilience.NewRetryPolicy(pc.MaxAttempts, resilience.Backoff{
				Base:   pc.BackoffBase,
				Max:    pc.BackoffMax,
				Jitter: 0.2,
			}, log),
			cache, log, metrics)
		if err != nil {
			log.Fatal("Failed to build provider client",
				zap.String("provider", code.String()),
				zap.Error(err),
			)
		}
		clients = append(clients, client)
		providerClients[code] = client
	}

	// Inbound webhook pipeline
	verifier, err := webhook.NewVerifier(cfg.Webhook.Secret)
	if err != nil {
		if cfg.App.Env == "production" {
			log.Fatal("Webhook secret missing", zap.Error(err))
		}
		log.Warn("Webhook secret missing, using development default")
		verifier, _ = webhook.NewVerifier("development-only-webhook-secret")
	}

	var store event.EventStore
	if redisClient != nil {
		store = event.NewRedisEventStore(redisClient, cfg.Webhook.Retention, log)
	} else {
		log.Info("Using in-memory event store, history is process-scoped")
		store = event.NewMemoryEventStore()
	}
	defer func() {
		_ = store.Close()
	}()

	purger := event.NewPurger(store, cfg.Webhook.Retention, cfg.Webhook.PurgeInterval, log)
	purger.Start()
	defer purger.Stop()

	dispatcher := event.NewDispatcher(cfg.Webhook.DispatchQueueSize, cfg.Webhook.DispatchWorkers, log, metrics)

	orderLogger := consumer.NewOrderActivityLogger(log)
	dispatcher.Subscribe(orderLogger.Topic(), orderLogger.Handle)

	var billbeeClient *provider.BillbeeClient
	if c, ok := providerClients[integration.ProviderCodeBillbee]; ok {
		billbeeClient = provider.NewBillbeeClient(c)
	}
	stockRefresh := consumer.NewStockRefreshConsumer(billbeeClient, log)
	dispatcher.Subscribe(stockRefresh.Topic(), stockRefresh.Handle)

	dispatcher.Start()

	ingestSvc := ingest.NewService(verifier, store, dispatcher, log, metrics)

	// HTTP surface
	r := router.New(router.Config{
		Environment:    cfg.App.Env,
		ServiceName:    cfg.Telemetry.ServiceName,
		MaxBodyBytes:   cfg.HTTP.MaxBodySize,
		TracingEnabled: cfg.Telemetry.Enabled,
	}, log)

	webhookHandler := handler.NewWebhookHandler(ingestSvc, cfg.HTTP.MaxBodySize)
	if cfg.HTTP.RateLimitEnabled {
		inboundLimiter := middleware.NewInboundLimiter(cfg.HTTP.RateLimitRequests, cfg.HTTP.RateLimitWindow)
		defer inboundLimiter.Close()
		r.RegisterWith(webhookHandler, middleware.RateLimit(inboundLimiter))
	} else {
		r.Register(webhookHandler)
	}
	r.Register(handler.NewEventsHandler(ingestSvc))
	r.Register(handler.NewHealthHandler(clients, dispatcher, ingestSvc))

	engine := r.Engine()
	if len(cfg.HTTP.TrustedProxies) > 0 {
		if err := engine.SetTrustedProxies(cfg.HTTP.TrustedProxies); err != nil {
			log.Fatal("Invalid trusted proxies", zap.Error(err))
		}
	}

	srv := &http.Server{
		Addr:         ":" + cfg.App.Port,
		Handler:      engine,
		ReadTimeout:  cfg.HTTP.ReadTimeout,
		WriteTimeout: cfg.HTTP.WriteTimeout,
		IdleTimeout:  cfg.HTTP.IdleTimeout,
	}

	go func() {
		log.Info("Server starting", zap.String("addr", srv.Addr))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal("Failed to start server", zap.Error(err))
		}
	}()

	// Graceful shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	log.Info("Shutting down server...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error("Server forced to shutdown", zap.Error(err))
	}
	if err := dispatcher.Stop(shutdownCtx); err != nil {
		log.Error("Dispatcher forced to shutdown", zap.Error(err))
	}
	if err := meterProvider.Shutdown(shutdownCtx); err != nil {
		log.Error("Error flushing metrics", zap.Error(err))
	}
	if err := tracerProvider.Shutdown(shutdownCtx); err != nil {
		log.Error("Error flushing traces", zap.Error(err))
	}

	log.Info("Server exited gracefully")
}

// providerAuth maps a provider's credentials onto its auth header scheme.
func providerAuth(code integration.ProviderCode, pc config.ProviderConfig) (header, value string) {
	switch code {
	case integration.ProviderCodeBillbee:
		return "X-Billbee-Api-Key", pc.APIKey
	default:
		return "Authorization", "Bearer " + pc.APIKey
	}
}
