// Command stile runs the SSO login bridge: it authenticates users against
// configured identity providers, reconciles their group memberships in the
// content store, and hands the browser a claimable session.
package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/sirupsen/logrus"

	"github.com/copperline/stile/pkg/config"
	"github.com/copperline/stile/pkg/groups"
	"github.com/copperline/stile/pkg/httputil"
	"github.com/copperline/stile/pkg/login"
	"github.com/copperline/stile/pkg/middleware"
	"github.com/copperline/stile/pkg/observability"
	"github.com/copperline/stile/pkg/sanity"
	"github.com/copperline/stile/pkg/sso"
)

const relayStateTTL = 10 * time.Minute

func main() {
	cfg, err := config.LoadConfig()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	logger := observability.NewLogger(cfg.Observability.LogLevel, nil)
	logger.Info("Starting stile")

	registry := prometheus.NewRegistry()
	metrics := observability.NewMetrics(registry)

	ctx := context.Background()

	otelProviders, err := observability.InitOTel(ctx, observability.OTelConfig{
		Enabled:        cfg.Observability.OTelEnabled,
		Endpoint:       cfg.Observability.OTelEndpoint,
		ServiceName:    cfg.Observability.OTelServiceName,
		ServiceVersion: cfg.Observability.OTelServiceVersion,
		Insecure:       cfg.Observability.OTelInsecure,
	}, logger)
	if err != nil {
		log.Fatalf("Failed to initialize OpenTelemetry: %v", err)
	}

	redisClient := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
	if err := redisClient.Ping(ctx).Err(); err != nil {
		logger.WithError(err).Warn("Redis unreachable at startup, continuing")
	}

	store, err := sanity.NewClient(sanity.Config{
		ProjectID: cfg.Sanity.ProjectID,
		Dataset:   cfg.Sanity.Dataset,
		Token:     cfg.Sanity.Token,
	}, logger, metrics)
	if err != nil {
		log.Fatalf("Failed to create content store client: %v", err)
	}

	groupStore := sanity.NewGroupStore(store, metrics)
	reconciler := groups.NewReconciler(groupStore, logger)
	loginService := login.NewService(reconciler, store, logger, metrics)

	providerConfigs, err := cfg.Providers()
	if err != nil {
		log.Fatalf("Failed to load provider configuration: %v", err)
	}

	factory := sso.NewProviderFactory(cfg.Server.BaseURL, logger)
	var providers []sso.Provider
	var samlProviders []*sso.SAMLProvider
	for _, pc := range providerConfigs {
		provider, err := factory.CreateProvider(ctx, pc)
		if err != nil {
			log.Fatalf("Failed to create provider %s: %v", pc.Name, err)
		}
		providers = append(providers, provider)
		if samlProvider, ok := provider.(*sso.SAMLProvider); ok {
			samlProviders = append(samlProviders, samlProvider)
		}
		logger.WithFields(map[string]interface{}{
			"provider": pc.Name,
			"type":     string(pc.Type),
		}).Info("Configured SSO provider")
	}

	relay := sso.NewRelayStateStore(redisClient, relayStateTTL, metrics)
	handlers := sso.NewHandlers(providers, relay, loginService, cfg.Server.StudioURL, logger, metrics)

	router := mux.NewRouter()
	handlers.RegisterRoutes(router)

	rateLimit := middleware.NewRateLimitMiddleware(redisClient, &middleware.RateLimitConfig{
		RequestsPerWindow: cfg.RateLimit.RequestsPerMinute,
		WindowDuration:    time.Minute,
	}, logger)

	handler := httputil.Chain(
		httputil.RequestIDMiddleware,
		httputil.LoggingMiddleware(logger),
		observability.RecoverPanic(logger),
		observability.HTTPMetricsMiddleware(metrics),
		httputil.MaxBytesMiddleware(1<<20),
		rateLimit.Handler,
	)(router)

	server := &http.Server{
		Addr:         fmt.Sprintf("%s:%s", cfg.Server.Host, cfg.Server.Port),
		Handler:      handler,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	healthMux := http.NewServeMux()
	observability.RegisterHealthRoutes(healthMux, observability.NewHealthChecker(store, redisClient))
	if cfg.Observability.MetricsEnabled {
		observability.RegisterMetricsEndpoint(healthMux, registry)
	}
	healthServer := &http.Server{
		Addr:        fmt.Sprintf("%s:%s", cfg.Server.Host, cfg.Server.HealthPort),
		Handler:     healthMux,
		ReadTimeout: cfg.Server.ReadTimeout,
	}

	reloader := sso.NewReloader(samlProviders, logrus.New())
	if err := reloader.Start(cfg.MetadataRefreshSchedule); err != nil {
		log.Fatalf("Failed to start provider reloader: %v", err)
	}

	shutdown := observability.NewShutdownManager(logger, server, cfg.Server.ShutdownTimeout)
	shutdown.RegisterShutdownFunc(func(ctx context.Context) error {
		return healthServer.Shutdown(ctx)
	})
	shutdown.RegisterShutdownFunc(func(ctx context.Context) error {
		reloader.Stop()
		return nil
	})
	shutdown.RegisterShutdownFunc(func(ctx context.Context) error {
		return redisClient.Close()
	})
	if otelProviders != nil {
		shutdown.RegisterShutdownFunc(func(ctx context.Context) error {
			return observability.ShutdownOTel(ctx, otelProviders, logger)
		})
	}

	go func() {
		logger.Infof("Health server listening on %s", healthServer.Addr)
		if err := healthServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.WithError(err).Error("Health server failed")
		}
	}()

	go func() {
		logger.Infof("Server listening on %s", server.Addr)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("Server failed: %v", err)
		}
	}()

	if err := shutdown.WaitForShutdown(); err != nil {
		logger.WithError(err).Error("Shutdown finished with errors")
	}
}
