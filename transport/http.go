package transport

import (
	"bufio"
	"bytes"
	"compress/gzip"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/andybalholm/brotli"

	"claude-gateway/circuitbreaker"
	"claude-gateway/logger"
	"claude-gateway/metrics"
	"claude-gateway/types"
)

// Config holds provider connection settings. Endpoints are full chat
// completions URLs; with more than one the transport rotates between
// them and fails over when one is down.
type Config struct {
	Endpoints []string
	APIKey    string
	Timeout   time.Duration
}

// HTTPTransport implements Sender over plain HTTP with circuit breaker
// backed endpoint selection.
type HTTPTransport struct {
	cfg    Config
	client *http.Client
	health *circuitbreaker.HealthManager
	log    logger.Logger
	mets   *metrics.Metrics

	mu       sync.Mutex
	rotation int
}

// NewHTTPTransport creates a transport over the configured endpoints.
// A nil health manager gets a default one.
func NewHTTPTransport(cfg Config, health *circuitbreaker.HealthManager, log logger.Logger, mets *metrics.Metrics) *HTTPTransport {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Minute
	}
	if health == nil {
		health = circuitbreaker.NewHealthManager(nil)
	}
	if log == nil {
		log = logger.NewNop()
	}
	if mets == nil {
		mets = metrics.New(nil)
	}
	health.InitializeEndpoints(cfg.Endpoints)

	return &HTTPTransport{
		cfg:    cfg,
		client: &http.Client{Timeout: cfg.Timeout},
		health: health,
		log:    log,
		mets:   mets,
		// rotation starts at -1 so the first selection lands on index 0
		rotation: -1,
	}
}

// Send posts a non-streaming request, trying each endpoint at most once
// before giving up.
func (t *HTTPTransport) Send(ctx context.Context, req *types.OpenAIRequest) (*types.OpenAIResponse, error) {
	payload, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("marshal provider request: %w", err)
	}
	if len(t.cfg.Endpoints) == 0 {
		return nil, &types.TransportError{Message: "no provider endpoints configured"}
	}

	var lastErr error
	for attempt := 0; attempt < len(t.cfg.Endpoints); attempt++ {
		endpoint := t.nextEndpoint()

		resp, err := t.roundTrip(ctx, endpoint, payload, false)
		if err != nil {
			lastErr = t.recordFailure(endpoint, err)
			if ctx.Err() != nil {
				return nil, lastErr
			}
			t.log.Warn("⚠️ Endpoint %s failed: %v", endpoint, err)
			continue
		}

		result, err := t.parseResponse(endpoint, resp)
		if err != nil {
			lastErr = err
			if retryableStatus(err) {
				t.recordFailure(endpoint, err)
				t.log.Warn("⚠️ Endpoint %s returned retryable error: %v", endpoint, err)
				continue
			}
			// The endpoint is fine, the request is not. Do not burn
			// the remaining endpoints on it.
			t.health.RecordSuccess(endpoint)
			return nil, err
		}

		t.health.RecordSuccess(endpoint)
		return result, nil
	}

	return nil, lastErr
}

// SendStreaming opens a streaming request. Failover only applies while
// establishing the connection; once chunks are flowing, a failure
// surfaces through Recv.
func (t *HTTPTransport) SendStreaming(ctx context.Context, req *types.OpenAIRequest) (ChunkStream, error) {
	payload, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("marshal provider request: %w", err)
	}
	if len(t.cfg.Endpoints) == 0 {
		return nil, &types.TransportError{Message: "no provider endpoints configured"}
	}

	var lastErr error
	for attempt := 0; attempt < len(t.cfg.Endpoints); attempt++ {
		endpoint := t.nextEndpoint()

		resp, err := t.roundTrip(ctx, endpoint, payload, true)
		if err != nil {
			lastErr = t.recordFailure(endpoint, err)
			if ctx.Err() != nil {
				return nil, lastErr
			}
			t.log.Warn("⚠️ Endpoint %s failed: %v", endpoint, err)
			continue
		}

		if resp.StatusCode != http.StatusOK {
			statusErr := t.statusError(endpoint, resp)
			resp.Body.Close()
			lastErr = statusErr
			if retryableStatus(statusErr) {
				t.recordFailure(endpoint, statusErr)
				t.log.Warn("⚠️ Endpoint %s returned retryable error: %v", endpoint, statusErr)
				continue
			}
			t.health.RecordSuccess(endpoint)
			return nil, statusErr
		}

		t.health.RecordSuccess(endpoint)
		t.log.Debug("🌊 Streaming from %s", endpoint)
		return newSSEStream(resp.Body, t.log), nil
	}

	return nil, lastErr
}

func (t *HTTPTransport) nextEndpoint() string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.health.SelectHealthyEndpoint(t.cfg.Endpoints, &t.rotation)
}

func (t *HTTPTransport) roundTrip(ctx context.Context, endpoint string, payload []byte, streaming bool) (*http.Response, error) {
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}

	httpReq.Header.Set("Content-Type", "application/json")
	if t.cfg.APIKey != "" {
		httpReq.Header.Set("Authorization", "Bearer "+t.cfg.APIKey)
	}
	if streaming {
		httpReq.Header.Set("Accept", "text/event-stream")
		httpReq.Header.Set("Cache-Control", "no-cache")
	} else {
		httpReq.Header.Set("Accept-Encoding", "gzip, br")
	}

	return t.client.Do(httpReq)
}

func (t *HTTPTransport) parseResponse(endpoint string, resp *http.Response) (*types.OpenAIResponse, error) {
	defer resp.Body.Close()

	reader, err := decompressReader(resp)
	if err != nil {
		return nil, &types.TransportError{Endpoint: endpoint, Err: err}
	}

	if resp.StatusCode != http.StatusOK {
		return nil, t.statusErrorFromReader(endpoint, resp.StatusCode, reader)
	}

	body, err := io.ReadAll(reader)
	if err != nil {
		return nil, &types.TransportError{Endpoint: endpoint, Err: fmt.Errorf("read response: %w", err)}
	}

	var result types.OpenAIResponse
	if err := json.Unmarshal(body, &result); err != nil {
		return nil, &types.TransportError{Endpoint: endpoint, Err: fmt.Errorf("parse response: %w", err)}
	}
	return &result, nil
}

func (t *HTTPTransport) statusError(endpoint string, resp *http.Response) *types.TransportError {
	reader, err := decompressReader(resp)
	if err != nil {
		reader = resp.Body
	}
	return t.statusErrorFromReader(endpoint, resp.StatusCode, reader)
}

func (t *HTTPTransport) statusErrorFromReader(endpoint string, status int, reader io.Reader) *types.TransportError {
	body, _ := io.ReadAll(io.LimitReader(reader, 4096))
	message := strings.TrimSpace(string(body))

	// Prefer the provider's structured error message when present
	var wireErr types.OpenAIErrorResponse
	if err := json.Unmarshal(body, &wireErr); err == nil && wireErr.Error.Message != "" {
		message = wireErr.Error.Message
	}

	return &types.TransportError{Endpoint: endpoint, StatusCode: status, Message: message}
}

func (t *HTTPTransport) recordFailure(endpoint string, err error) error {
	t.health.RecordFailure(endpoint)
	t.mets.EndpointFailures.WithLabelValues(endpoint).Inc()
	if _, ok := err.(*types.TransportError); ok {
		return err
	}
	return &types.TransportError{Endpoint: endpoint, Err: err}
}

// retryableStatus reports whether a status-bearing error is worth
// trying on another endpoint. Server-side failures and rate limits are;
// client errors would just fail everywhere.
func retryableStatus(err error) bool {
	te, ok := err.(*types.TransportError)
	if !ok {
		return false
	}
	return te.StatusCode >= 500 || te.StatusCode == http.StatusTooManyRequests
}

// decompressReader wraps the response body according to its declared
// content encoding.
func decompressReader(resp *http.Response) (io.Reader, error) {
	switch strings.ToLower(resp.Header.Get("Content-Encoding")) {
	case "br":
		return brotli.NewReader(resp.Body), nil
	case "gzip":
		return gzip.NewReader(resp.Body)
	default:
		return resp.Body, nil
	}
}

// sseStream reads server-sent events off the provider response body.
type sseStream struct {
	body    io.ReadCloser
	scanner *bufio.Scanner
	log     logger.Logger
	done    bool
}

func newSSEStream(body io.ReadCloser, log logger.Logger) *sseStream {
	scanner := bufio.NewScanner(body)
	// Large tool call fragments can exceed the default token size
	scanner.Buffer(make([]byte, 64*1024), 1024*1024)
	return &sseStream{body: body, scanner: scanner, log: log}
}

// Recv returns the next parsed chunk. Unparseable data lines are
// skipped with a warning rather than killing the stream.
func (s *sseStream) Recv() (*types.OpenAIStreamChunk, error) {
	if s.done {
		return nil, io.EOF
	}

	for s.scanner.Scan() {
		line := strings.TrimSpace(s.scanner.Text())
		if line == "" || !strings.HasPrefix(line, "data: ") {
			continue
		}

		data := strings.TrimPrefix(line, "data: ")
		if data == "[DONE]" {
			s.done = true
			return nil, io.EOF
		}

		var chunk types.OpenAIStreamChunk
		if err := json.Unmarshal([]byte(data), &chunk); err != nil {
			s.log.Warn("⚠️ Failed to parse stream chunk, skipping: %v", err)
			continue
		}
		return &chunk, nil
	}

	s.done = true
	if err := s.scanner.Err(); err != nil {
		return nil, fmt.Errorf("read stream: %w", err)
	}
	return nil, io.EOF
}

func (s *sseStream) Close() error {
	s.done = true
	return s.body.Close()
}
