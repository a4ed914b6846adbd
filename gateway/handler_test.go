package gateway

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"claude-gateway/batch"
	"claude-gateway/circuitbreaker"
	"claude-gateway/config"
	"claude-gateway/convert"
	"claude-gateway/transport"
	"claude-gateway/types"
)

func newTestHandler(sender transport.Sender, cfg *config.Config) *Handler {
	if cfg == nil {
		cfg = config.GetDefaultConfig()
	}
	p := NewPipeline(cfg, convert.New(nil, nil), nil, sender, nil, nil)
	runner := NewToolRunner(p, nil, 0, nil)
	orch := batch.New(p.Complete, nil, nil)
	return NewHandler(cfg, runner, orch, circuitbreaker.NewHealthManager(nil), nil, nil)
}

func postJSON(t *testing.T, handler http.HandlerFunc, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, path, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	handler(rec, req)
	return rec
}

func decodeWireError(t *testing.T, body []byte) types.AnthropicErrorResponse {
	t.Helper()
	var wire types.AnthropicErrorResponse
	require.NoError(t, json.Unmarshal(body, &wire))
	return wire
}

func TestHandler_MessagesRoundTrip(t *testing.T) {
	sender := &fakeSender{response: wireCompletion("The answer is 4.", "stop")}
	h := newTestHandler(sender, nil)

	rec := postJSON(t, h.HandleMessages, "/v1/messages",
		`{"model":"gpt-4o","max_tokens":100,"messages":[{"role":"user","content":"2+2?"}]}`)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))

	var wire types.AnthropicResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &wire))
	assert.Equal(t, "chatcmpl-77", wire.ID)
	assert.Equal(t, "message", wire.Type)
	assert.Equal(t, types.RoleAssistant, wire.Role)
	assert.Equal(t, "end_turn", wire.StopReason)
	require.Len(t, wire.Content, 1)
	assert.Equal(t, "text", wire.Content[0].Type)
	assert.Equal(t, "The answer is 4.", wire.Content[0].Text)
	assert.Equal(t, types.Usage{InputTokens: 9, OutputTokens: 3}, wire.Usage)
}

func TestHandler_MessagesRejectsNonPost(t *testing.T) {
	h := newTestHandler(&fakeSender{}, nil)

	rec := httptest.NewRecorder()
	h.HandleMessages(rec, httptest.NewRequest(http.MethodGet, "/v1/messages", nil))

	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
}

func TestHandler_MessagesMalformedBody(t *testing.T) {
	sender := &fakeSender{}
	h := newTestHandler(sender, nil)

	rec := postJSON(t, h.HandleMessages, "/v1/messages", `{"model": nope`)

	require.Equal(t, http.StatusBadRequest, rec.Code)
	wire := decodeWireError(t, rec.Body.Bytes())
	assert.Equal(t, "error", wire.Type)
	assert.Equal(t, types.ErrTypeInvalidRequest, wire.Error.Type)
	assert.Equal(t, 0, sender.sendCalls, "malformed requests never reach the provider")
}

func TestHandler_MessagesValidationFailure(t *testing.T) {
	sender := &fakeSender{}
	h := newTestHandler(sender, nil)

	rec := postJSON(t, h.HandleMessages, "/v1/messages",
		`{"model":"gpt-4o","messages":[{"role":"user","content":"hi"}]}`)

	require.Equal(t, http.StatusBadRequest, rec.Code)
	wire := decodeWireError(t, rec.Body.Bytes())
	assert.Equal(t, types.ErrTypeInvalidRequest, wire.Error.Type)
	assert.Contains(t, wire.Error.Message, "max_tokens")
	assert.Equal(t, 0, sender.sendCalls)
}

func TestHandler_MessagesProviderErrorMapping(t *testing.T) {
	tests := []struct {
		name     string
		sendErr  error
		wantCode int
		wantType string
	}{
		{
			name:     "server_error_maps_to_bad_gateway",
			sendErr:  &types.TransportError{Endpoint: "http://p/v1", StatusCode: 503, Message: "down"},
			wantCode: http.StatusBadGateway,
			wantType: types.ErrTypeAPI,
		},
		{
			name:     "rate_limit_maps_to_overloaded",
			sendErr:  &types.TransportError{Endpoint: "http://p/v1", StatusCode: 429, Message: "slow down"},
			wantCode: http.StatusTooManyRequests,
			wantType: types.ErrTypeOverloaded,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newTestHandler(&fakeSender{sendErr: tt.sendErr}, nil)

			rec := postJSON(t, h.HandleMessages, "/v1/messages",
				`{"model":"gpt-4o","max_tokens":100,"messages":[{"role":"user","content":"hi"}]}`)

			require.Equal(t, tt.wantCode, rec.Code)
			assert.Equal(t, tt.wantType, decodeWireError(t, rec.Body.Bytes()).Error.Type)
		})
	}
}

func TestHandler_MessagesStreamsSSE(t *testing.T) {
	sender := &fakeSender{chunks: wireChunks("Hel", "lo")}
	h := newTestHandler(sender, nil)

	rec := postJSON(t, h.HandleMessages, "/v1/messages",
		`{"model":"gpt-4o","max_tokens":100,"stream":true,"messages":[{"role":"user","content":"hi"}]}`)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "text/event-stream", rec.Header().Get("Content-Type"))
	assert.Equal(t, "no-cache", rec.Header().Get("Cache-Control"))

	frames := strings.Split(strings.TrimSuffix(rec.Body.String(), "\n\n"), "\n\n")
	require.Len(t, frames, 7)
	assert.True(t, strings.HasPrefix(frames[0], "event: message_start\n"))
	assert.True(t, strings.HasPrefix(frames[1], "event: content_block_start\n"))
	assert.True(t, strings.HasPrefix(frames[2], "event: content_block_delta\n"))
	assert.True(t, strings.HasPrefix(frames[6], "event: message_stop\n"))
	assert.Contains(t, rec.Body.String(), `"text":"Hel"`)
	assert.Contains(t, rec.Body.String(), `"text":"lo"`)
}

func TestHandler_StreamErrorBeforeEventsIsPlainHTTPError(t *testing.T) {
	sender := &fakeSender{streamErr: &types.TransportError{Endpoint: "http://p/v1", StatusCode: 500, Message: "boom"}}
	h := newTestHandler(sender, nil)

	rec := postJSON(t, h.HandleMessages, "/v1/messages",
		`{"model":"gpt-4o","max_tokens":100,"stream":true,"messages":[{"role":"user","content":"hi"}]}`)

	require.Equal(t, http.StatusBadGateway, rec.Code)
	assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))
	assert.Equal(t, types.ErrTypeAPI, decodeWireError(t, rec.Body.Bytes()).Error.Type)
}

func TestHandler_StreamMidStreamFailureAppendsErrorEvent(t *testing.T) {
	sender := &fakeSender{
		chunks:  wireChunks("partial")[:1],
		recvErr: &types.TransportError{Endpoint: "http://p/v1", Err: context.DeadlineExceeded},
	}
	h := newTestHandler(sender, nil)

	rec := postJSON(t, h.HandleMessages, "/v1/messages",
		`{"model":"gpt-4o","max_tokens":100,"stream":true,"messages":[{"role":"user","content":"hi"}]}`)

	// Headers were already sent, so the failure cannot change the
	// status; it shows up in-band instead.
	require.Equal(t, http.StatusOK, rec.Code)
	body := rec.Body.String()
	assert.Contains(t, body, "event: message_stop", "the event protocol is closed out first")
	assert.Contains(t, body, "event: error")
	assert.Contains(t, body, types.ErrTypeAPI)
}

func TestHandler_BatchBufferedSummary(t *testing.T) {
	sender := &fakeSender{response: wireCompletion("ok", "stop")}
	h := newTestHandler(sender, nil)

	rec := postJSON(t, h.HandleBatch, "/v1/messages/batch", `{"items":[
		{"model":"gpt-4o","max_tokens":100,"messages":[{"role":"user","content":"one"}]},
		{"model":"gpt-4o","max_tokens":100,"messages":[{"role":"user","content":"two"}]},
		{"model": 42}
	]}`)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))

	var summary batchSummaryWire
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &summary))
	assert.NotEmpty(t, summary.BatchID)
	assert.Equal(t, 3, summary.TotalItems)
	assert.Equal(t, 2, summary.SuccessCount)
	assert.Equal(t, 1, summary.FailureCount)
	require.Len(t, summary.Results, 3)

	assert.True(t, summary.Results[0].Success)
	require.NotNil(t, summary.Results[0].Response)
	assert.Equal(t, "message", summary.Results[0].Response.Type)

	// The undecodable third item fails in place without sinking the batch.
	failed := summary.Results[2]
	assert.Equal(t, 2, failed.Index)
	assert.False(t, failed.Success)
	require.NotNil(t, failed.Error)
	assert.Equal(t, types.ErrTypeInvalidRequest, failed.Error.Type)
}

func TestHandler_BatchChunkedNDJSON(t *testing.T) {
	cfg := config.GetDefaultConfig()
	cfg.BatchStreamingThreshold = 2
	sender := &fakeSender{response: wireCompletion("ok", "stop")}
	h := newTestHandler(sender, cfg)

	rec := postJSON(t, h.HandleBatch, "/v1/messages/batch", `{"items":[
		{"model":"gpt-4o","max_tokens":100,"messages":[{"role":"user","content":"a"}]},
		{"model":"gpt-4o","max_tokens":100,"messages":[{"role":"user","content":"b"}]},
		{"model":"gpt-4o","max_tokens":100,"messages":[{"role":"user","content":"c"}]},
		{"model":"gpt-4o","max_tokens":100,"messages":[{"role":"user","content":"d"}]}
	]}`)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "application/x-ndjson", rec.Header().Get("Content-Type"))

	lines := strings.Split(strings.TrimSpace(rec.Body.String()), "\n")
	require.Len(t, lines, 5, "four result lines plus the summary line")

	seen := make(map[int]bool)
	for _, line := range lines[:4] {
		var result batchResultWire
		require.NoError(t, json.Unmarshal([]byte(line), &result))
		assert.True(t, result.Success)
		seen[result.Index] = true
	}
	assert.Len(t, seen, 4)

	var summary batchSummaryWire
	require.NoError(t, json.Unmarshal([]byte(lines[4]), &summary))
	assert.Equal(t, 4, summary.TotalItems)
	assert.Equal(t, 4, summary.SuccessCount)
	assert.Empty(t, summary.Results, "chunked summaries do not repeat the results")
}

func TestHandler_BatchRejectsBadRequests(t *testing.T) {
	tests := []struct {
		name string
		body string
	}{
		{name: "malformed_json", body: `{"items": [`},
		{name: "empty_items", body: `{"items": []}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newTestHandler(&fakeSender{}, nil)

			rec := postJSON(t, h.HandleBatch, "/v1/messages/batch", tt.body)

			require.Equal(t, http.StatusBadRequest, rec.Code)
			assert.Equal(t, types.ErrTypeInvalidRequest, decodeWireError(t, rec.Body.Bytes()).Error.Type)
		})
	}
}

func TestHandler_BatchRejectsNonPost(t *testing.T) {
	h := newTestHandler(&fakeSender{}, nil)

	rec := httptest.NewRecorder()
	h.HandleBatch(rec, httptest.NewRequest(http.MethodGet, "/v1/messages/batch", nil))

	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
}

func TestHandler_HealthReportsEndpointState(t *testing.T) {
	health := circuitbreaker.NewHealthManager(nil)
	health.InitializeEndpoints([]string{"http://a/v1", "http://b/v1"})
	health.RecordFailure("http://b/v1")

	cfg := config.GetDefaultConfig()
	p := NewPipeline(cfg, convert.New(nil, nil), nil, &fakeSender{}, nil, nil)
	h := NewHandler(cfg, NewToolRunner(p, nil, 0, nil), batch.New(p.Complete, nil, nil), health, nil, nil)

	rec := httptest.NewRecorder()
	h.HandleHealth(rec, httptest.NewRequest(http.MethodGet, "/health", nil))

	require.Equal(t, http.StatusOK, rec.Code)

	var wire healthWire
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &wire))
	assert.Equal(t, "healthy", wire.Status)
	assert.Equal(t, "claude-gateway", wire.Service)
	require.Len(t, wire.Endpoints, 2)

	byURL := make(map[string]endpointStatusWire)
	for _, ep := range wire.Endpoints {
		byURL[ep.URL] = ep
	}
	assert.Equal(t, 0.5, byURL["http://a/v1"].SuccessRate, "untried endpoints report the neutral rate")
	assert.Equal(t, 1, byURL["http://b/v1"].FailureCount)
	assert.Equal(t, 0.0, byURL["http://b/v1"].SuccessRate)
}

func TestHandler_HealthRejectsNonGet(t *testing.T) {
	h := newTestHandler(&fakeSender{}, nil)

	rec := httptest.NewRecorder()
	h.HandleHealth(rec, httptest.NewRequest(http.MethodPost, "/health", nil))

	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
}

func TestHandler_RootBanner(t *testing.T) {
	h := newTestHandler(&fakeSender{}, nil)

	rec := httptest.NewRecorder()
	h.HandleRoot(rec, httptest.NewRequest(http.MethodGet, "/", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	var banner map[string]string
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &banner))
	assert.Equal(t, "claude-gateway", banner["service"])
	assert.Contains(t, banner["message"], "/v1/messages")
}
