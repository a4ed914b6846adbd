// Package gateway wires the conversion pipeline together: client wire
// decoding, validation, the response cache, provider transport, stream
// reconstruction and the HTTP surface.
package gateway

import (
	"context"
	"errors"
	"io"
	"time"

	"claude-gateway/cache"
	"claude-gateway/config"
	"claude-gateway/convert"
	"claude-gateway/internal"
	"claude-gateway/logger"
	"claude-gateway/metrics"
	"claude-gateway/stream"
	"claude-gateway/transport"
	"claude-gateway/types"
)

// Pipeline is the per-request processing core shared by the single
// request path, the streaming path and the batch orchestrator. The
// cache is its only shared mutable state; everything else is either
// immutable after construction or request-local.
type Pipeline struct {
	cfg       *config.Config
	conv      *convert.Converter
	cache     *cache.Cache
	sender    transport.Sender
	estimator *Estimator
	log       logger.Logger
	obs       *logger.ObservabilityLogger
	mets      *metrics.Metrics
}

// NewPipeline assembles a pipeline. The cache may be nil when caching
// is disabled; every lookup then misses.
func NewPipeline(cfg *config.Config, conv *convert.Converter, responseCache *cache.Cache, sender transport.Sender, log logger.Logger, mets *metrics.Metrics) *Pipeline {
	if cfg == nil {
		cfg = config.GetDefaultConfig()
	}
	if log == nil {
		log = logger.NewNop()
	}
	if mets == nil {
		mets = metrics.New(nil)
	}
	return &Pipeline{
		cfg:       cfg,
		conv:      conv,
		cache:     responseCache,
		sender:    sender,
		estimator: NewEstimator(log),
		log:       log,
		mets:      mets,
	}
}

// SetObservabilityLogger wires structured logging for request lifecycle
// events.
func (p *Pipeline) SetObservabilityLogger(obs *logger.ObservabilityLogger) {
	p.obs = obs
}

// Converter exposes the pipeline's converter for surfaces that decode
// wire payloads themselves.
func (p *Pipeline) Converter() *convert.Converter { return p.conv }

func (p *Pipeline) provider() string {
	if p.cfg.ProviderName != "" {
		return p.cfg.ProviderName
	}
	return "openai"
}

// Complete runs one non-streaming request: validation, cache lookup,
// provider call, reconstruction, cache store.
func (p *Pipeline) Complete(ctx context.Context, req *types.CanonicalRequest) (*types.CanonicalResponse, error) {
	start := time.Now()
	requestID := internal.GetRequestID(ctx)
	log := logger.FromContext(ctx, nil)

	if err := p.validate(requestID, req); err != nil {
		p.mets.RequestsTotal.WithLabelValues("single", "error").Inc()
		return nil, err
	}

	if value, ok := p.cache.Get(ctx, req); ok && value.Response != nil {
		logger.LogCacheServe(log, p.cacheKey(req))
		if p.obs != nil {
			p.obs.LogCacheHit(requestID, p.cacheKey(req))
		}
		p.finishRequest("single", start, req, value.Response, requestID)
		return value.Response, nil
	}

	providerReq, err := p.encodeProvider(requestID, req)
	if err != nil {
		p.mets.RequestsTotal.WithLabelValues("single", "error").Inc()
		return nil, err
	}
	providerReq.Stream = false

	wireResp, err := p.sender.Send(ctx, providerReq)
	if err != nil {
		p.mets.RequestsTotal.WithLabelValues("single", "error").Inc()
		return nil, err
	}

	canonical, events, err := stream.ReconstructResponse(wireResp, req.Model, log)
	if err != nil {
		p.mets.RequestsTotal.WithLabelValues("single", "error").Inc()
		return nil, err
	}
	p.mets.ConversionsTotal.WithLabelValues("provider_to_client").Inc()

	p.ensureUsage(req, canonical, log)
	p.store(ctx, req, canonical, events)
	p.finishRequest("single", start, req, canonical, requestID)
	return canonical, nil
}

// Stream runs one streaming request, pushing client events through emit
// as they materialize. A cached entry replays its recorded event
// sequence instead of calling the provider. The accumulated canonical
// response is returned for callers that need it after the stream ends.
//
// When the provider stream dies mid-flight, the events already emitted
// stand, the protocol is closed out with synthetic events, and the
// returned error is a StreamInterruptedError. An error returned by emit
// stops the stream immediately.
func (p *Pipeline) Stream(ctx context.Context, req *types.CanonicalRequest, emit func(types.StreamEvent) error) (*types.CanonicalResponse, error) {
	start := time.Now()
	requestID := internal.GetRequestID(ctx)
	log := logger.FromContext(ctx, nil)

	if err := p.validate(requestID, req); err != nil {
		p.mets.RequestsTotal.WithLabelValues("stream", "error").Inc()
		return nil, err
	}

	delivered := 0
	deliver := func(events []types.StreamEvent) error {
		for _, event := range events {
			if err := emit(event); err != nil {
				return err
			}
			delivered++
			p.mets.StreamEventsTotal.Inc()
		}
		return nil
	}

	if value, ok := p.cache.Get(ctx, req); ok && len(value.Events) > 0 {
		logger.LogCacheServe(log, p.cacheKey(req))
		if p.obs != nil {
			p.obs.LogCacheHit(requestID, p.cacheKey(req))
		}
		if err := deliver(value.Events); err != nil {
			return nil, err
		}
		logger.LogStreamComplete(log, delivered, string(value.Response.StopReason))
		p.finishRequest("stream", start, req, value.Response, requestID)
		return value.Response, nil
	}

	providerReq, err := p.encodeProvider(requestID, req)
	if err != nil {
		p.mets.RequestsTotal.WithLabelValues("stream", "error").Inc()
		return nil, err
	}
	providerReq.Stream = true

	chunks, err := p.sender.SendStreaming(ctx, providerReq)
	if err != nil {
		p.mets.RequestsTotal.WithLabelValues("stream", "error").Inc()
		return nil, err
	}
	defer chunks.Close()

	recon := stream.New(req.Model, log)
	recording := p.cache != nil && req.CacheEligible()
	var recorded []types.StreamEvent
	record := func(events []types.StreamEvent) {
		if recording {
			recorded = append(recorded, events...)
		}
	}

	for {
		chunk, err := chunks.Recv()
		if err == io.EOF {
			events, finishErr := recon.Finish()
			if finishErr != nil {
				p.noteInterruption(requestID, delivered, finishErr)
				return nil, &types.StreamInterruptedError{EventsDelivered: delivered, Err: finishErr}
			}
			record(events)
			if err := deliver(events); err != nil {
				return nil, err
			}
			break
		}
		if err != nil {
			closing := recon.Abort(err)
			if emitErr := deliver(closing); emitErr != nil {
				p.noteInterruption(requestID, delivered, err)
				return nil, &types.StreamInterruptedError{EventsDelivered: delivered, Err: err}
			}
			p.noteInterruption(requestID, delivered, err)
			return nil, &types.StreamInterruptedError{EventsDelivered: delivered, Err: err}
		}

		events, feedErr := recon.Feed(chunk)
		if feedErr != nil {
			log.Warn("⚠️ Dropping malformed chunk: %v", feedErr)
			continue
		}
		record(events)
		if err := deliver(events); err != nil {
			return nil, err
		}
	}

	canonical, err := recon.Response()
	if err != nil {
		p.noteInterruption(requestID, delivered, err)
		return nil, &types.StreamInterruptedError{EventsDelivered: delivered, Err: err}
	}

	p.noteFallbacks(requestID, recon.Fallbacks())
	p.mets.ConversionsTotal.WithLabelValues("provider_to_client").Inc()
	p.ensureUsage(req, canonical, log)

	if recording {
		p.store(ctx, req, canonical, recorded)
	}

	logger.LogStreamComplete(log, delivered, string(canonical.StopReason))
	p.finishRequest("stream", start, req, canonical, requestID)
	return canonical, nil
}

func (p *Pipeline) validate(requestID string, req *types.CanonicalRequest) error {
	if err := p.conv.Validate(req); err != nil {
		p.mets.ValidationFailures.Inc()
		var ve *types.ValidationError
		if errors.As(err, &ve) && p.obs != nil {
			p.obs.LogValidationFailure(requestID, ve.Field, ve.Message)
		}
		return err
	}
	return nil
}

func (p *Pipeline) encodeProvider(requestID string, req *types.CanonicalRequest) (*types.OpenAIRequest, error) {
	providerReq, fallbacks, err := p.conv.EncodeProviderRequest(req, p.provider())
	if err != nil {
		return nil, err
	}
	p.mets.ConversionsTotal.WithLabelValues("client_to_provider").Inc()
	p.noteFallbacks(requestID, fallbacks)
	return providerReq, nil
}

func (p *Pipeline) noteFallbacks(requestID string, fallbacks []types.ConversionFallback) {
	for _, fallback := range fallbacks {
		p.mets.ConversionFallbacks.WithLabelValues(fallback.Kind).Inc()
		if p.obs != nil {
			p.obs.LogConversionFallback(requestID, fallback.Kind, fallback.Detail)
		}
	}
}

func (p *Pipeline) noteInterruption(requestID string, delivered int, cause error) {
	p.mets.StreamInterruption.Inc()
	p.mets.RequestsTotal.WithLabelValues("stream", "error").Inc()
	if p.obs != nil {
		p.obs.LogStreamInterrupted(requestID, delivered, cause)
	}
}

// ensureUsage fills in estimated token counts when the provider did not
// report usage.
func (p *Pipeline) ensureUsage(req *types.CanonicalRequest, resp *types.CanonicalResponse, log logger.Logger) {
	if resp.Usage.InputTokens > 0 || resp.Usage.OutputTokens > 0 {
		return
	}
	resp.Usage = types.Usage{
		InputTokens:  p.estimator.EstimateRequest(req),
		OutputTokens: p.estimator.EstimateResponse(resp),
	}
	log.Debug("📊 Provider reported no usage, estimated input=%d output=%d",
		resp.Usage.InputTokens, resp.Usage.OutputTokens)
}

func (p *Pipeline) store(ctx context.Context, req *types.CanonicalRequest, resp *types.CanonicalResponse, events []types.StreamEvent) {
	if p.cache == nil {
		return
	}
	var ttl time.Duration
	if req.CacheOptions != nil && req.CacheOptions.TTL > 0 {
		ttl = req.CacheOptions.TTL
	}
	p.cache.Put(ctx, req, &cache.CachedValue{Response: resp, Events: events}, ttl)
}

func (p *Pipeline) cacheKey(req *types.CanonicalRequest) string {
	if p.cache == nil {
		return ""
	}
	key, err := p.cache.Key(req)
	if err != nil {
		return ""
	}
	return key
}

func (p *Pipeline) finishRequest(mode string, start time.Time, req *types.CanonicalRequest, resp *types.CanonicalResponse, requestID string) {
	duration := time.Since(start)
	p.mets.RequestsTotal.WithLabelValues(mode, "success").Inc()
	p.mets.RequestDuration.WithLabelValues(mode).Observe(duration.Seconds())
	if p.obs != nil {
		p.obs.LogRequestComplete(requestID, req.Model, string(resp.StopReason), duration,
			resp.Usage.InputTokens, resp.Usage.OutputTokens)
	}
}
