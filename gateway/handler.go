package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"

	"claude-gateway/batch"
	"claude-gateway/circuitbreaker"
	"claude-gateway/config"
	"claude-gateway/internal"
	"claude-gateway/logger"
	"claude-gateway/metrics"
	"claude-gateway/stream"
	"claude-gateway/types"
)

// Handler exposes the pipeline over HTTP with the client wire format.
type Handler struct {
	config *config.Config
	runner *ToolRunner
	orch   *batch.Orchestrator
	health *circuitbreaker.HealthManager
	log    logger.Logger
	obs    *logger.ObservabilityLogger
	mets   *metrics.Metrics
}

// NewHandler creates the HTTP surface. The runner wraps the pipeline;
// with no tool executor configured it degrades to a plain completion
// call.
func NewHandler(cfg *config.Config, runner *ToolRunner, orch *batch.Orchestrator, health *circuitbreaker.HealthManager, log logger.Logger, mets *metrics.Metrics) *Handler {
	if log == nil {
		log = logger.NewNop()
	}
	if mets == nil {
		mets = metrics.New(nil)
	}
	return &Handler{
		config: cfg,
		runner: runner,
		orch:   orch,
		health: health,
		log:    log,
		mets:   mets,
	}
}

// SetObservabilityLogger wires structured logging for request events.
func (h *Handler) SetObservabilityLogger(obs *logger.ObservabilityLogger) {
	h.obs = obs
}

func (h *Handler) pipeline() *Pipeline { return h.runner.pipeline }

// HandleMessages handles POST /v1/messages in both delivery modes.
func (h *Handler) HandleMessages(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	requestID := internal.NewRequestID()
	ctx := internal.WithRequestID(r.Context(), requestID)
	reqLog := logger.NewFromConfig(ctx, h.config)
	ctx = logger.WithContext(ctx, reqLog)

	body, err := io.ReadAll(r.Body)
	if err != nil {
		h.log.Error("❌ [%s] Failed to read request body: %v", requestID, err)
		http.Error(w, "Failed to read request", http.StatusBadRequest)
		return
	}
	defer r.Body.Close()

	req, err := h.pipeline().Converter().DecodeClientRequest(body)
	if err != nil {
		h.mets.ValidationFailures.Inc()
		h.writeError(w, requestID, err)
		return
	}

	logger.LogRequestReceived(reqLog, req.Model, req.Stream, len(req.Messages))
	if h.obs != nil {
		h.obs.LogRequestStart(requestID, req.Model, req.Stream, len(req.Messages))
	}

	if req.Stream {
		h.streamMessages(ctx, w, req, requestID)
		return
	}

	resp, err := h.runner.Run(ctx, req)
	if err != nil {
		h.writeError(w, requestID, err)
		return
	}

	wire, err := h.pipeline().Converter().EncodeClientResponse(resp)
	if err != nil {
		h.writeError(w, requestID, err)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(wire); err != nil {
		h.log.Warn("⚠️ [%s] Failed to write response: %v", requestID, err)
	}
}

// streamMessages serves the SSE delivery mode. Headers are written
// lazily on the first event so that errors raised before any event can
// still produce a proper HTTP error response.
func (h *Handler) streamMessages(ctx context.Context, w http.ResponseWriter, req *types.CanonicalRequest, requestID string) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		h.writeError(w, requestID, fmt.Errorf("streaming not supported by this connection"))
		return
	}

	headersSent := false
	emit := func(event types.StreamEvent) error {
		frame, err := stream.FormatSSE(event)
		if err != nil {
			return err
		}
		if !headersSent {
			w.Header().Set("Content-Type", "text/event-stream")
			w.Header().Set("Cache-Control", "no-cache")
			w.Header().Set("Connection", "keep-alive")
			w.WriteHeader(http.StatusOK)
			headersSent = true
		}
		if _, err := io.WriteString(w, frame); err != nil {
			return err
		}
		flusher.Flush()
		return nil
	}

	if _, err := h.pipeline().Stream(ctx, req, emit); err != nil {
		if !headersSent {
			h.writeError(w, requestID, err)
			return
		}
		// Mid-stream failure: the event protocol was already closed
		// out by the reconstructor, append a trailing error event for
		// clients that inspect it.
		h.log.Error("❌ [%s] Stream failed after events were sent: %v", requestID, err)
		h.writeSSEError(w, flusher, err)
	}
}

func (h *Handler) writeSSEError(w http.ResponseWriter, flusher http.Flusher, err error) {
	_, wireType := classifyError(err)
	payload, marshalErr := json.Marshal(types.AnthropicErrorResponse{
		Type:  "error",
		Error: types.AnthropicError{Type: wireType, Message: err.Error()},
	})
	if marshalErr != nil {
		return
	}
	fmt.Fprintf(w, "event: error\ndata: %s\n\n", payload)
	flusher.Flush()
}

// batchRequestWire is the POST /v1/messages/batch payload: items in the
// client wire format plus optional per-run tuning.
type batchRequestWire struct {
	Items          []json.RawMessage `json:"items"`
	MaxConcurrency int               `json:"max_concurrency,omitempty"`
	ChunkSize      int               `json:"chunk_size,omitempty"`
}

type batchResultWire struct {
	Index    int                      `json:"index"`
	Success  bool                     `json:"success"`
	Response *types.AnthropicResponse `json:"response,omitempty"`
	Error    *types.AnthropicError    `json:"error,omitempty"`
}

type batchSummaryWire struct {
	BatchID          string            `json:"batch_id"`
	TotalItems       int               `json:"total_items"`
	SuccessCount     int               `json:"success_count"`
	FailureCount     int               `json:"failure_count"`
	SuccessRate      float64           `json:"success_rate"`
	CompletionTimeMS int64             `json:"completion_time_ms"`
	Results          []batchResultWire `json:"results,omitempty"`
}

// HandleBatch handles POST /v1/messages/batch. Small batches answer
// with one JSON document carrying every result; batches above the
// streaming threshold answer as NDJSON, one result per line as items
// complete, with the summary as the final line.
func (h *Handler) HandleBatch(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	requestID := internal.NewRequestID()
	ctx := internal.WithRequestID(r.Context(), requestID)
	reqLog := logger.NewFromConfig(ctx, h.config)
	ctx = logger.WithContext(ctx, reqLog)

	body, err := io.ReadAll(r.Body)
	if err != nil {
		h.log.Error("❌ [%s] Failed to read batch body: %v", requestID, err)
		http.Error(w, "Failed to read request", http.StatusBadRequest)
		return
	}
	defer r.Body.Close()

	var wireReq batchRequestWire
	if err := json.Unmarshal(body, &wireReq); err != nil {
		h.mets.ValidationFailures.Inc()
		h.writeError(w, requestID, types.NewValidationError("body", "malformed batch request: %v", err))
		return
	}
	if len(wireReq.Items) == 0 {
		h.mets.ValidationFailures.Inc()
		h.writeError(w, requestID, types.NewValidationError("items", "batch must contain at least one item"))
		return
	}

	items := make([]batch.Item, len(wireReq.Items))
	for i, raw := range wireReq.Items {
		req, err := h.pipeline().Converter().DecodeClientRequest(raw)
		if err != nil {
			reqLog.Warn("⚠️ Batch item %d failed to decode: %v", i, err)
			items[i] = batch.Item{Index: i}
			continue
		}
		req.Stream = false
		items[i] = batch.Item{Index: i, Request: req}
	}

	opts := batch.Options{
		MaxConcurrency:     h.config.BatchMaxConcurrency,
		StreamingThreshold: h.config.BatchStreamingThreshold,
		ChunkSize:          h.config.BatchChunkSize,
	}
	if wireReq.MaxConcurrency > 0 {
		opts.MaxConcurrency = wireReq.MaxConcurrency
	}
	if wireReq.ChunkSize > 0 {
		opts.ChunkSize = wireReq.ChunkSize
	}

	flusher, canFlush := w.(http.Flusher)
	chunked := canFlush && len(items) > opts.StreamingThreshold
	if chunked {
		w.Header().Set("Content-Type", "application/x-ndjson")
		w.WriteHeader(http.StatusOK)
		encoder := json.NewEncoder(w)
		opts.OnChunk = func(results []batch.Result) {
			for _, result := range results {
				if err := encoder.Encode(h.resultToWire(result)); err != nil {
					reqLog.Warn("⚠️ Failed to write batch result %d: %v", result.Index, err)
					return
				}
			}
			flusher.Flush()
		}
	}

	summary, err := h.orch.Run(ctx, items, opts)
	if err != nil {
		if chunked {
			reqLog.Error("❌ Batch aborted: %v", err)
			return
		}
		h.writeError(w, requestID, err)
		return
	}

	wireSummary := batchSummaryWire{
		BatchID:          summary.BatchID,
		TotalItems:       summary.TotalItems,
		SuccessCount:     summary.SuccessCount,
		FailureCount:     summary.FailureCount,
		SuccessRate:      summary.SuccessRate,
		CompletionTimeMS: summary.CompletionTime.Milliseconds(),
	}
	for _, result := range summary.Results {
		wireSummary.Results = append(wireSummary.Results, h.resultToWire(result))
	}

	if chunked {
		if err := json.NewEncoder(w).Encode(wireSummary); err != nil {
			reqLog.Warn("⚠️ Failed to write batch summary: %v", err)
		}
		flusher.Flush()
		return
	}

	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(wireSummary); err != nil {
		reqLog.Warn("⚠️ Failed to write batch summary: %v", err)
	}
}

func (h *Handler) resultToWire(result batch.Result) batchResultWire {
	wire := batchResultWire{Index: result.Index, Success: result.Success}
	if result.Success {
		encoded, err := h.pipeline().Converter().EncodeClientResponse(result.Response)
		if err == nil {
			wire.Response = encoded
			return wire
		}
		wire.Success = false
		result.Err = err
	}
	_, wireType := classifyError(result.Err)
	wire.Error = &types.AnthropicError{Type: wireType, Message: result.Err.Error()}
	return wire
}

type endpointStatusWire struct {
	circuitbreaker.EndpointHealth
	SuccessRate float64 `json:"success_rate"`
}

type healthWire struct {
	Status    string               `json:"status"`
	Service   string               `json:"service"`
	Endpoints []endpointStatusWire `json:"endpoints"`
}

// HandleHealth handles GET /health with per-endpoint circuit state.
func (h *Handler) HandleHealth(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	status := healthWire{Status: "healthy", Service: "claude-gateway"}
	if h.health != nil {
		for _, ep := range h.health.Snapshot() {
			status.Endpoints = append(status.Endpoints, endpointStatusWire{
				EndpointHealth: ep,
				SuccessRate:    h.health.CalculateSuccessRate(ep.URL),
			})
		}
	}

	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(status); err != nil {
		h.log.Warn("⚠️ Failed to write health response: %v", err)
	}
}

// HandleRoot answers the service banner.
func (h *Handler) HandleRoot(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	fmt.Fprint(w, `{"service":"claude-gateway","message":"Anthropic-compatible gateway is running. Send requests to POST /v1/messages"}`)
}

func (h *Handler) writeError(w http.ResponseWriter, requestID string, err error) {
	status, wireType := classifyError(err)
	if status >= http.StatusInternalServerError {
		h.log.Error("❌ [%s] Request failed: %v", requestID, err)
	} else {
		h.log.Warn("⚠️ [%s] Request rejected: %v", requestID, err)
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	payload := types.AnthropicErrorResponse{
		Type:  "error",
		Error: types.AnthropicError{Type: wireType, Message: err.Error()},
	}
	if encodeErr := json.NewEncoder(w).Encode(payload); encodeErr != nil {
		h.log.Warn("⚠️ [%s] Failed to write error response: %v", requestID, encodeErr)
	}
}

// classifyError maps pipeline errors onto HTTP status codes and client
// wire error types.
func classifyError(err error) (int, string) {
	var ve *types.ValidationError
	if errors.As(err, &ve) {
		return http.StatusBadRequest, types.ErrTypeInvalidRequest
	}
	var te *types.TransportError
	if errors.As(err, &te) {
		if te.StatusCode == http.StatusTooManyRequests {
			return http.StatusTooManyRequests, types.ErrTypeOverloaded
		}
		return http.StatusBadGateway, types.ErrTypeAPI
	}
	var se *types.StreamInterruptedError
	if errors.As(err, &se) {
		return http.StatusBadGateway, types.ErrTypeAPI
	}
	var be *types.BatchItemError
	if errors.As(err, &be) {
		return classifyError(be.Err)
	}
	return http.StatusInternalServerError, types.ErrTypeAPI
}
