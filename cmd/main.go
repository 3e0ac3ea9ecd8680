package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/coinpilot/api-gateway/config"
	"github.com/coinpilot/api-gateway/internal/circuitbreaker"
	"github.com/coinpilot/api-gateway/internal/gateway"
	"github.com/coinpilot/api-gateway/internal/httpserver"
	"github.com/coinpilot/api-gateway/internal/metrics"
	"github.com/coinpilot/api-gateway/internal/registry"
	"github.com/coinpilot/api-gateway/internal/retry"
	"github.com/coinpilot/api-gateway/pkg/logger"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load config", slog.Any("err", err))
		os.Exit(1)
	}

	log := logger.New(cfg.Logging.Level, true, cfg.Server.Environment)

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	collector := metrics.NewCollector(1024, log)
	collector.Start(ctx)

	breakerSettings, err := buildBreakerSettings(cfg)
	if err != nil {
		log.Error("Failed to build breaker settings", slog.Any("err", err))
		os.Exit(1)
	}

	breakers := circuitbreaker.NewRegistry(breakerSettings, func(service string, from, to circuitbreaker.State) {
		log.Warn("Circuit breaker state changed",
			slog.String("service", service),
			slog.String("from", from.String()),
			slog.String("to", to.String()))
		collector.Emit(metrics.MetricEvent{
			Type:         metrics.EventBreakerChanged,
			Timestamp:    time.Now(),
			Service:      service,
			BreakerState: to.String(),
		})
	})

	reg := registry.New(registry.DefaultProbeConfig(), log, func(name string, healthy bool) {
		collector.Emit(metrics.MetricEvent{
			Type:      metrics.EventHealthChanged,
			Timestamp: time.Now(),
			Service:   name,
			Healthy:   healthy,
		})
	})
	defer reg.Stop()

	services, err := buildServices(cfg)
	if err != nil {
		log.Error("Failed to build service definitions", slog.Any("err", err))
		os.Exit(1)
	}

	retryPolicy, err := buildRetryPolicy(cfg)
	if err != nil {
		log.Error("Failed to build retry policy", slog.Any("err", err))
		os.Exit(1)
	}

	proxyTimeout, err := time.ParseDuration(cfg.Proxy.Timeout)
	if err != nil {
		log.Error("Failed to parse proxy timeout", slog.Any("err", err))
		os.Exit(1)
	}

	gw, err := gateway.New(gateway.Options{
		Services:          services,
		Rewrites:          buildRewrites(cfg),
		ProxyTimeout:      proxyTimeout,
		AllowedOrigin:     cfg.Proxy.AllowedOrigin,
		RetryPolicy:       retryPolicy,
		BypassHealthCheck: cfg.Proxy.BypassHealthCheck,
	}, reg, breakers, log, collector)
	if err != nil {
		log.Error("Failed to assemble gateway", slog.Any("err", err))
		os.Exit(1)
	}

	srv, err := httpserver.New(cfg.Server.Address, gw.Router())
	if err != nil {
		log.Error("Failed to create server", slog.Any("err", err))
		os.Exit(1)
	}

	log.Info("API gateway listening",
		slog.String("address", cfg.Server.Address),
		slog.Int("services", len(services)))

	srvErrCh := make(chan error, 1)

	go func() {
		srvErrCh <- srv.Start()
	}()

	select {
	case <-ctx.Done():
		log.Info("Shutting down gracefully...")
		if err := srv.Shutdown(context.Background()); err != nil {
			log.Error("Error during shutdown", slog.Any("err", err))
		}
	case err := <-srvErrCh:
		if err != nil {
			log.Error("Error starting gateway", slog.Any("err", err))
			os.Exit(1)
		}
	}
}

func buildServices(cfg *config.Config) ([]registry.ServiceConfig, error) {
	services := make([]registry.ServiceConfig, 0, len(cfg.Services))

	for _, svc := range cfg.Services {
		interval := time.Duration(0)
		if svc.Interval != "" {
			parsed, err := time.ParseDuration(svc.Interval)
			if err != nil {
				return nil, err
			}
			interval = parsed
		}

		services = append(services, registry.ServiceConfig{
			Name:                svc.Name,
			URL:                 svc.URL,
			HealthCheckInterval: interval,
			Enabled:             svc.Enabled,
		})
	}

	return services, nil
}

func buildRewrites(cfg *config.Config) []gateway.RewriteRoute {
	rewrites := make([]gateway.RewriteRoute, 0, len(cfg.Rewrites))

	for _, rw := range cfg.Rewrites {
		rewrites = append(rewrites, gateway.RewriteRoute{
			Pattern: rw.Pattern,
			Service: rw.Service,
			Target:  rw.Target,
		})
	}

	return rewrites
}

func buildBreakerSettings(cfg *config.Config) (circuitbreaker.Settings, error) {
	resetTimeout, err := time.ParseDuration(cfg.Breaker.ResetTimeout)
	if err != nil {
		return circuitbreaker.Settings{}, err
	}

	callTimeout, err := time.ParseDuration(cfg.Breaker.CallTimeout)
	if err != nil {
		return circuitbreaker.Settings{}, err
	}

	settings := circuitbreaker.DefaultSettings()
	settings.MinimumRequests = cfg.Breaker.MinimumRequests
	settings.ErrorThresholdPercentage = cfg.Breaker.ErrorThresholdPercentage
	settings.ResetTimeout = resetTimeout
	settings.SuccessThreshold = cfg.Breaker.SuccessThreshold
	settings.CallTimeout = callTimeout

	return settings, nil
}

func buildRetryPolicy(cfg *config.Config) (retry.Policy, error) {
	initialDelay, err := time.ParseDuration(cfg.Retry.InitialDelay)
	if err != nil {
		return retry.Policy{}, err
	}

	maxDelay, err := time.ParseDuration(cfg.Retry.MaxDelay)
	if err != nil {
		return retry.Policy{}, err
	}

	policy := retry.DefaultPolicy()
	policy.MaxAttempts = cfg.Retry.MaxAttempts
	policy.InitialDelay = initialDelay
	policy.MaxDelay = maxDelay
	policy.Multiplier = cfg.Retry.Multiplier

	return policy, nil
}
