package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"sort"
	"syscall"
	"time"

	"github.com/fatih/color"
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
	"claude-gateway/types"
)

var (
	batchFile        string
	batchOutput      string
	batchConcurrency int
)

var batchCmd = &cobra.Command{
	Use:   "batch",
	Short: "Run a batch of requests from a file",
	Long: `Read a JSON array of requests in the client wire format, run them
concurrently against the configured provider, and write per-item
results plus a summary.`,
	RunE: runBatch,
}

func init() {
	batchCmd.Flags().StringVarP(&batchFile, "file", "f", "", "path to a JSON array of requests (required)")
	batchCmd.Flags().StringVarP(&batchOutput, "output", "o", "", "write results to this file instead of stdout")
	batchCmd.Flags().IntVarP(&batchConcurrency, "concurrency", "c", 0, "override the configured concurrency limit")
	batchCmd.MarkFlagRequired("file")
}

type batchFileResult struct {
	Index    int                      `json:"index"`
	Success  bool                     `json:"success"`
	Response *types.AnthropicResponse `json:"response,omitempty"`
	Error    string                   `json:"error,omitempty"`
}

func runBatch(cmd *cobra.Command, _ []string) error {
	cfg, err := config.LoadConfigWithEnv()
	if err != nil {
		return err
	}

	data, err := os.ReadFile(batchFile)
	if err != nil {
		return fmt.Errorf("failed to read batch file: %w", err)
	}
	var rawItems []json.RawMessage
	if err := json.Unmarshal(data, &rawItems); err != nil {
		return fmt.Errorf("batch file must be a JSON array of requests: %w", err)
	}
	if len(rawItems) == 0 {
		return fmt.Errorf("batch file contains no requests")
	}

	log := logger.ContextLoggerFromConfig(context.Background(), cfg)
	mets := metrics.New(nil)

	health := circuitbreaker.NewHealthManager(circuitbreaker.DefaultConfig())
	health.InitializeEndpoints(cfg.ProviderEndpoints)

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
	}

	pipeline := gateway.NewPipeline(cfg, converter, responseCache, sender, log, mets)
	orchestrator := batch.New(pipeline.Complete, log, mets)

	items := make([]batch.Item, len(rawItems))
	for i, raw := range rawItems {
		req, err := converter.DecodeClientRequest(raw)
		if err != nil {
			log.Warn("⚠️ Item %d failed to decode: %v", i, err)
			items[i] = batch.Item{Index: i}
			continue
		}
		req.Stream = false
		items[i] = batch.Item{Index: i, Request: req}
	}

	opts := batch.Options{
		MaxConcurrency:     cfg.BatchMaxConcurrency,
		StreamingThreshold: cfg.BatchStreamingThreshold,
		ChunkSize:          cfg.BatchChunkSize,
	}
	if batchConcurrency > 0 {
		opts.MaxConcurrency = batchConcurrency
	}

	// Large batches deliver results through chunks; collect them here
	// and report progress as they land.
	var collected []batch.Result
	done := 0
	opts.OnChunk = func(results []batch.Result) {
		collected = append(collected, results...)
		done += len(results)
		fmt.Fprintf(os.Stderr, "processed %d/%d\n", done, len(items))
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	summary, err := orchestrator.Run(ctx, items, opts)
	if err != nil {
		return err
	}

	results := summary.Results
	if len(results) == 0 && len(collected) > 0 {
		sort.Slice(collected, func(i, j int) bool { return collected[i].Index < collected[j].Index })
		results = collected
	}

	output := make([]batchFileResult, 0, len(results))
	for _, result := range results {
		line := batchFileResult{Index: result.Index, Success: result.Success}
		if result.Success {
			encoded, encErr := converter.EncodeClientResponse(result.Response)
			if encErr != nil {
				line.Success = false
				line.Error = encErr.Error()
			} else {
				line.Response = encoded
			}
		} else {
			line.Error = result.Err.Error()
		}
		output = append(output, line)
	}

	encoded, err := json.MarshalIndent(output, "", "  ")
	if err != nil {
		return err
	}
	if batchOutput != "" {
		if err := os.WriteFile(batchOutput, encoded, 0o644); err != nil {
			return fmt.Errorf("failed to write results: %w", err)
		}
		fmt.Printf("Results written to %s\n", batchOutput)
	} else {
		fmt.Println(string(encoded))
	}

	color.Green("✅ %d/%d succeeded (%.1f%%) in %v",
		summary.SuccessCount, summary.TotalItems, summary.SuccessRate*100, summary.CompletionTime.Round(time.Millisecond))
	if summary.FailureCount > 0 {
		color.Red("❌ %d failed", summary.FailureCount)
	}
	return nil
}
