package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/lexiqai/voice-relay/internal/config"
	"github.com/lexiqai/voice-relay/internal/observability"
	"github.com/lexiqai/voice-relay/internal/relay"
	"github.com/lexiqai/voice-relay/internal/resilience"
	"github.com/lexiqai/voice-relay/internal/upstream"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/sync/errgroup"
)

func main() {
	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		// Use fmt for fatal errors before logger is initialized
		fmt.Fprintf(os.Stderr, "Failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	// Initialize structured logger
	observability.InitLogger(cfg.LogLevel, cfg.LogPretty)
	logger := observability.GetLogger()

	logger.Info().
		Str("port", cfg.Port).
		Str("ws_path", cfg.WSPath).
		Str("model", cfg.OpenAIRealtimeModel).
		Str("log_level", cfg.LogLevel).
		Bool("metrics_enabled", cfg.MetricsEnabled).
		Msg("Voice Relay Service starting")

	// Provider connection
	breaker := resilience.NewCircuitBreaker("openai_realtime", cfg.CircuitBreakerMaxFailures, cfg.CircuitBreakerResetDuration())
	provider := upstream.NewClient(upstream.Config{
		URL:          cfg.OpenAIRealtimeURL,
		Model:        cfg.OpenAIRealtimeModel,
		APIKey:       cfg.OpenAIAPIKey,
		Voice:        cfg.ResponseVoice,
		Instructions: cfg.ResponseInstructions,
		DialTimeout:  cfg.UpstreamDialTimeoutDuration(),
		Reconnect: &resilience.ReconnectConfig{
			MaxAttempts: cfg.ReconnectMaxAttempts,
			Backoff:     cfg.ReconnectBackoffDuration(),
			Multiplier:  2.0,
			MaxBackoff:  cfg.ReconnectMaxBackoffDuration(),
			Jitter:      0.2,
		},
		Breaker: breaker,
	}, logger)

	// Session registry and client socket handler
	manager := relay.NewManager(relay.Config{
		PendingQueueMax: cfg.PendingQueueMax,
		TurnTimeout:     cfg.TurnTimeoutDuration(),
		Response: upstream.ResponseOptions{
			Instructions: cfg.ResponseInstructions,
			Voice:        cfg.ResponseVoice,
			Language:     cfg.ResponseLanguage,
		},
	}, provider, logger)

	wsServer := relay.NewServer(manager, relay.ServerConfig{
		AllowedOrigins: cfg.AllowedOrigins,
		ReadLimit:      cfg.ClientReadLimit,
		WriteTimeout:   cfg.ClientWriteTimeoutDuration(),
		PingInterval:   cfg.ClientPingIntervalDuration(),
		SendBuffer:     cfg.ClientSendBuffer,
	}, logger)

	// Create HTTP server
	mux := http.NewServeMux()

	// Health check endpoint
	mux.HandleFunc("/health", observability.HealthCheckHandler())

	// Ready once the provider connection is up
	mux.HandleFunc("/ready", observability.ReadinessHandler(map[string]observability.HealthCheckFunc{
		"upstream": provider.HealthCheck,
	}))

	// Metrics endpoint (Prometheus)
	if cfg.MetricsEnabled {
		mux.Handle("/metrics", promhttp.Handler())
		logger.Info().Msg("Prometheus metrics enabled at /metrics")
	}

	// Client voice socket
	mux.Handle(cfg.WSPath, wsServer)

	server := &http.Server{
		Addr:         fmt.Sprintf(":%s", cfg.Port),
		Handler:      mux,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		return provider.Run(gctx)
	})

	g.Go(func() error {
		return manager.Run(gctx, provider.Events())
	})

	g.Go(func() error {
		logger.Info().
			Str("port", cfg.Port).
			Str("endpoint", fmt.Sprintf("ws://localhost:%s%s", cfg.Port, cfg.WSPath)).
			Msg("Server listening")
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("server failed: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		<-gctx.Done()
		logger.Info().Msg("Shutting down server...")

		// Graceful shutdown with timeout
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()

		if err := server.Shutdown(shutdownCtx); err != nil {
			logger.Error().Err(err).Msg("HTTP server forced to shutdown")
		}
		if err := wsServer.Shutdown(shutdownCtx); err != nil {
			logger.Error().Err(err).Int("connections", wsServer.ActiveConnections()).Msg("Client sockets did not close in time")
		}
		return nil
	})

	if err := g.Wait(); err != nil {
		logger.Fatal().Err(err).Msg("Voice Relay Service stopped")
	}

	logger.Info().Msg("Server exited gracefully")
}
