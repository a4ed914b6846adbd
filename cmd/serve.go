package cmd

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/fatih/color"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"

	"claude-gateway/batch"
	"claude-gateway/cache"
	"claude-gateway/circuitbreaker"
	"claude-gateway/config"
	"claude-gateway/convert"
	"claude-gateway/gateway"
	"claude-gateway/logger"
	"claude-gateway/metrics"
	"claude-gateway/transport"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the gateway HTTP server",
	Long: `Start the HTTP server exposing POST /v1/messages, POST
/v1/messages/batch, GET /health and GET /metrics. Configuration comes
from the environment and an optional .env file.`,
	RunE: runServe,
}

func runServe(cmd *cobra.Command, _ []string) error {
	cfg, err := config.LoadConfigWithEnv()
	if err != nil {
		return err
	}

	log := logger.ContextLoggerFromConfig(context.Background(), cfg)

	obs, err := logger.NewObservabilityLogger(cfg.ObservabilityLogDir)
	if err != nil {
		log.Warn("⚠️ Observability log unavailable, continuing without it: %v", err)
		obs = nil
	}
	if obs != nil {
		defer obs.Close()
	}

	registry := prometheus.NewRegistry()
	mets := metrics.New(registry)

	health := circuitbreaker.NewHealthManager(circuitbreaker.DefaultConfig())
	health.InitializeEndpoints(cfg.ProviderEndpoints)
	if obs != nil {
		health.SetObservabilityLogger(obs)
	}

	sender := transport.NewHTTPTransport(transport.Config{
		Endpoints: cfg.ProviderEndpoints,
		APIKey:    cfg.ProviderAPIKey,
		Timeout:   time.Duration(cfg.RequestTimeoutSeconds) * time.Second,
	}, health, log, mets)

	policy, err := config.LoadExtensionPolicy(cfg.ExtensionsFile)
	if err != nil {
		return err
	}
	converter := convert.New(policy, log)

	var responseCache *cache.Cache
	if cfg.CacheEnabled {
		responseCache = cache.New(cache.Config{
			Capacity:   cfg.CacheCapacity,
			DefaultTTL: time.Duration(cfg.CacheTTLSeconds) * time.Second,
			Namespace:  cfg.CacheNamespace,
		}, log, mets)
		defer responseCache.Close()
	} else {
		log.Info("🚫 Response cache disabled")
	}

	pipeline := gateway.NewPipeline(cfg, converter, responseCache, sender, log, mets)
	runner := gateway.NewToolRunner(pipeline, nil, cfg.ToolLoopMaxRounds, log)
	orchestrator := batch.New(pipeline.Complete, log, mets)
	if obs != nil {
		pipeline.SetObservabilityLogger(obs)
		runner.SetObservabilityLogger(obs)
		orchestrator.SetObservabilityLogger(obs)
	}

	handler := gateway.NewHandler(cfg, runner, orchestrator, health, log, mets)
	if obs != nil {
		handler.SetObservabilityLogger(obs)
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/", handler.HandleRoot)
	mux.HandleFunc("/v1/messages", handler.HandleMessages)
	mux.HandleFunc("/v1/messages/batch", handler.HandleBatch)
	mux.HandleFunc("/health", handler.HandleHealth)
	mux.Handle("/metrics", promhttp.HandlerFor(registry, promhttp.HandlerOpts{}))

	server := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      mux,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 300 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	errCh := make(chan error, 1)
	go func() {
		color.Green("Starting claude-gateway on port %s", cfg.Port)
		log.Info("🚀 Gateway listening on port %s (provider: %s, endpoints: %d)",
			cfg.Port, cfg.ProviderName, len(cfg.ProviderEndpoints))
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	log.Info("🏁 Shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return server.Shutdown(shutdownCtx)
}
