package gateway

import (
	"context"
	"errors"
	"io"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"claude-gateway/cache"
	"claude-gateway/config"
	"claude-gateway/convert"
	"claude-gateway/transport"
	"claude-gateway/types"
)

// fakeSender scripts provider behavior for pipeline tests.
type fakeSender struct {
	mu          sync.Mutex
	sendCalls   int
	streamCalls int

	response *types.OpenAIResponse
	sendErr  error

	chunks    []*types.OpenAIStreamChunk
	recvErr   error // returned after the scripted chunks instead of io.EOF
	streamErr error

	lastRequest *types.OpenAIRequest
}

func (f *fakeSender) Send(ctx context.Context, req *types.OpenAIRequest) (*types.OpenAIResponse, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sendCalls++
	f.lastRequest = req
	if f.sendErr != nil {
		return nil, f.sendErr
	}
	return f.response, nil
}

func (f *fakeSender) SendStreaming(ctx context.Context, req *types.OpenAIRequest) (transport.ChunkStream, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.streamCalls++
	f.lastRequest = req
	if f.streamErr != nil {
		return nil, f.streamErr
	}
	return &scriptedStream{chunks: f.chunks, finalErr: f.recvErr}, nil
}

type scriptedStream struct {
	chunks   []*types.OpenAIStreamChunk
	pos      int
	finalErr error
}

func (s *scriptedStream) Recv() (*types.OpenAIStreamChunk, error) {
	if s.pos >= len(s.chunks) {
		if s.finalErr != nil {
			return nil, s.finalErr
		}
		return nil, io.EOF
	}
	chunk := s.chunks[s.pos]
	s.pos++
	return chunk, nil
}

func (s *scriptedStream) Close() error { return nil }

func wireCompletion(text, finish string) *types.OpenAIResponse {
	return &types.OpenAIResponse{
		ID:    "chatcmpl-77",
		Model: "gpt-4o",
		Choices: []types.OpenAIChoice{{
			Message:      types.OpenAIMessage{Role: "assistant", Content: text},
			FinishReason: &finish,
		}},
		Usage: &types.OpenAIUsage{PromptTokens: 9, CompletionTokens: 3, TotalTokens: 12},
	}
}

func wireChunks(texts ...string) []*types.OpenAIStreamChunk {
	chunks := make([]*types.OpenAIStreamChunk, 0, len(texts)+1)
	for _, text := range texts {
		chunks = append(chunks, &types.OpenAIStreamChunk{
			ID:      "chatcmpl-78",
			Model:   "gpt-4o",
			Choices: []types.OpenAIStreamChoice{{Delta: types.OpenAIDelta{Content: text}}},
		})
	}
	finish := "stop"
	chunks = append(chunks, &types.OpenAIStreamChunk{
		ID:      "chatcmpl-78",
		Model:   "gpt-4o",
		Choices: []types.OpenAIStreamChoice{{FinishReason: &finish}},
		Usage:   &types.OpenAIUsage{PromptTokens: 9, CompletionTokens: 3, TotalTokens: 12},
	})
	return chunks
}

func userRequest(text string) *types.CanonicalRequest {
	return &types.CanonicalRequest{
		Model:     "gpt-4o",
		MaxTokens: 100,
		Messages: []types.Message{
			{Role: types.RoleUser, Content: []types.ContentBlock{types.TextBlock{Text: text}}},
		},
	}
}

func newTestPipeline(sender transport.Sender, withCache bool) *Pipeline {
	var responseCache *cache.Cache
	if withCache {
		responseCache = cache.New(cache.Config{}, nil, nil)
	}
	return NewPipeline(config.GetDefaultConfig(), convert.New(nil, nil), responseCache, sender, nil, nil)
}

func TestPipeline_CompleteRoundTrip(t *testing.T) {
	sender := &fakeSender{response: wireCompletion("The answer is 4.", "stop")}
	p := newTestPipeline(sender, true)

	resp, err := p.Complete(context.Background(), userRequest("2+2?"))
	require.NoError(t, err)

	assert.Equal(t, "chatcmpl-77", resp.ID)
	assert.Equal(t, types.StopEndTurn, resp.StopReason)
	assert.Equal(t, "The answer is 4.", resp.TextContent())
	assert.Equal(t, types.Usage{InputTokens: 9, OutputTokens: 3}, resp.Usage)

	require.NotNil(t, sender.lastRequest)
	assert.False(t, sender.lastRequest.Stream, "single requests must not stream upstream")
}

func TestPipeline_CompleteServesRepeatFromCache(t *testing.T) {
	sender := &fakeSender{response: wireCompletion("cached answer", "stop")}
	p := newTestPipeline(sender, true)
	ctx := context.Background()

	first, err := p.Complete(ctx, userRequest("same question"))
	require.NoError(t, err)

	second, err := p.Complete(ctx, userRequest("same question"))
	require.NoError(t, err)

	assert.Equal(t, 1, sender.sendCalls, "repeat request must not touch the provider")
	assert.Equal(t, first, second)
}

func TestPipeline_CompleteWithoutCacheAlwaysCallsProvider(t *testing.T) {
	sender := &fakeSender{response: wireCompletion("answer", "stop")}
	p := newTestPipeline(sender, false)
	ctx := context.Background()

	_, err := p.Complete(ctx, userRequest("question"))
	require.NoError(t, err)
	_, err = p.Complete(ctx, userRequest("question"))
	require.NoError(t, err)

	assert.Equal(t, 2, sender.sendCalls)
}

func TestPipeline_CacheOptOutSkipsStore(t *testing.T) {
	sender := &fakeSender{response: wireCompletion("answer", "stop")}
	p := newTestPipeline(sender, true)
	ctx := context.Background()

	req := userRequest("question")
	req.CacheOptions = &types.CacheOptions{Disable: true}

	_, err := p.Complete(ctx, req)
	require.NoError(t, err)
	_, err = p.Complete(ctx, req)
	require.NoError(t, err)

	assert.Equal(t, 2, sender.sendCalls)
}

func TestPipeline_ValidationFailsBeforeTransport(t *testing.T) {
	sender := &fakeSender{response: wireCompletion("answer", "stop")}
	p := newTestPipeline(sender, true)

	req := userRequest("question")
	req.MaxTokens = 0

	_, err := p.Complete(context.Background(), req)
	var ve *types.ValidationError
	require.ErrorAs(t, err, &ve)
	assert.Equal(t, "max_tokens", ve.Field)
	assert.Equal(t, 0, sender.sendCalls)

	_, err = p.Stream(context.Background(), req, func(types.StreamEvent) error { return nil })
	require.ErrorAs(t, err, &ve)
	assert.Equal(t, 0, sender.streamCalls)
}

func TestPipeline_TransportErrorsPropagate(t *testing.T) {
	boom := &types.TransportError{Endpoint: "http://x/v1", StatusCode: 502, Message: "bad gateway"}
	sender := &fakeSender{sendErr: boom}
	p := newTestPipeline(sender, true)

	_, err := p.Complete(context.Background(), userRequest("question"))
	require.ErrorIs(t, err, boom)
}

func TestPipeline_StreamDeliversFullEventSequence(t *testing.T) {
	sender := &fakeSender{chunks: wireChunks("Hel", "lo")}
	p := newTestPipeline(sender, true)

	var events []types.StreamEvent
	resp, err := p.Stream(context.Background(), userRequest("hi"), func(ev types.StreamEvent) error {
		events = append(events, ev)
		return nil
	})
	require.NoError(t, err)

	kinds := make([]string, 0, len(events))
	for _, ev := range events {
		kinds = append(kinds, ev.EventType())
	}
	assert.Equal(t, []string{
		"message_start",
		"content_block_start",
		"content_block_delta",
		"content_block_delta",
		"content_block_stop",
		"message_delta",
		"message_stop",
	}, kinds)

	require.NotNil(t, sender.lastRequest)
	assert.True(t, sender.lastRequest.Stream)
	assert.Equal(t, "Hello", resp.TextContent())
	assert.Equal(t, types.Usage{InputTokens: 9, OutputTokens: 3}, resp.Usage)
}

func TestPipeline_StreamReplaysFromCache(t *testing.T) {
	sender := &fakeSender{chunks: wireChunks("Hello")}
	p := newTestPipeline(sender, true)
	ctx := context.Background()

	var firstRun []types.StreamEvent
	first, err := p.Stream(ctx, userRequest("hi"), func(ev types.StreamEvent) error {
		firstRun = append(firstRun, ev)
		return nil
	})
	require.NoError(t, err)

	var secondRun []types.StreamEvent
	second, err := p.Stream(ctx, userRequest("hi"), func(ev types.StreamEvent) error {
		secondRun = append(secondRun, ev)
		return nil
	})
	require.NoError(t, err)

	assert.Equal(t, 1, sender.streamCalls, "repeat stream must replay from cache")
	assert.Equal(t, firstRun, secondRun)
	assert.Equal(t, first, second)
}

func TestPipeline_CachedResponseServesBothDeliveryModes(t *testing.T) {
	sender := &fakeSender{chunks: wireChunks("Hello")}
	p := newTestPipeline(sender, true)
	ctx := context.Background()

	streamed, err := p.Stream(ctx, userRequest("hi"), func(types.StreamEvent) error { return nil })
	require.NoError(t, err)

	// The non-streaming path must hit the same entry.
	completed, err := p.Complete(ctx, userRequest("hi"))
	require.NoError(t, err)

	assert.Equal(t, 1, sender.streamCalls)
	assert.Equal(t, 0, sender.sendCalls)
	assert.Equal(t, streamed, completed)
}

func TestPipeline_StreamInterruptionClosesProtocol(t *testing.T) {
	cause := errors.New("connection reset by peer")
	sender := &fakeSender{
		chunks: []*types.OpenAIStreamChunk{{
			ID:      "chatcmpl-79",
			Model:   "gpt-4o",
			Choices: []types.OpenAIStreamChoice{{Delta: types.OpenAIDelta{Content: "par"}}},
		}},
		recvErr: cause,
	}
	p := newTestPipeline(sender, true)

	var events []types.StreamEvent
	_, err := p.Stream(context.Background(), userRequest("hi"), func(ev types.StreamEvent) error {
		events = append(events, ev)
		return nil
	})

	var interrupted *types.StreamInterruptedError
	require.ErrorAs(t, err, &interrupted)
	assert.ErrorIs(t, err, cause)
	assert.Equal(t, len(events), interrupted.EventsDelivered)

	// Delivered content stands and the protocol still closes cleanly.
	last := events[len(events)-1]
	assert.Equal(t, "message_stop", last.EventType())
	delta, ok := events[len(events)-2].(types.MessageDeltaEvent)
	require.True(t, ok)
	assert.Equal(t, types.StopError, delta.StopReason)

	// Nothing was cached; a retry goes back to the provider.
	_, _ = p.Stream(context.Background(), userRequest("hi"), func(types.StreamEvent) error { return nil })
	assert.Equal(t, 2, sender.streamCalls)
}

func TestPipeline_EmptyStreamFailsWithoutEvents(t *testing.T) {
	sender := &fakeSender{}
	p := newTestPipeline(sender, true)

	var events []types.StreamEvent
	_, err := p.Stream(context.Background(), userRequest("hi"), func(ev types.StreamEvent) error {
		events = append(events, ev)
		return nil
	})

	var interrupted *types.StreamInterruptedError
	require.ErrorAs(t, err, &interrupted)
	assert.Equal(t, 0, interrupted.EventsDelivered)
	assert.Empty(t, events)
}

func TestPipeline_EmitErrorStopsStream(t *testing.T) {
	sender := &fakeSender{chunks: wireChunks("Hello")}
	p := newTestPipeline(sender, true)

	clientGone := errors.New("client hung up")
	count := 0
	_, err := p.Stream(context.Background(), userRequest("hi"), func(types.StreamEvent) error {
		count++
		if count > 1 {
			return clientGone
		}
		return nil
	})

	require.ErrorIs(t, err, clientGone)
	var interrupted *types.StreamInterruptedError
	assert.False(t, errors.As(err, &interrupted), "an emit failure is the caller's problem, not an upstream interruption")
}

func TestPipeline_StreamAndCompleteProduceSameResponse(t *testing.T) {
	streamSender := &fakeSender{chunks: wireChunks("Same ", "answer")}
	singleSender := &fakeSender{response: func() *types.OpenAIResponse {
		resp := wireCompletion("Same answer", "stop")
		resp.ID = "chatcmpl-78"
		return resp
	}()}

	streamed, err := newTestPipeline(streamSender, false).
		Stream(context.Background(), userRequest("q"), func(types.StreamEvent) error { return nil })
	require.NoError(t, err)

	completed, err := newTestPipeline(singleSender, false).
		Complete(context.Background(), userRequest("q"))
	require.NoError(t, err)

	assert.Equal(t, completed, streamed)
}

func TestPipeline_EstimatesUsageWhenProviderOmitsIt(t *testing.T) {
	resp := wireCompletion("a considered reply", "stop")
	resp.Usage = nil
	sender := &fakeSender{response: resp}
	p := newTestPipeline(sender, false)

	result, err := p.Complete(context.Background(), userRequest("what do you think?"))
	require.NoError(t, err)

	assert.Greater(t, result.Usage.InputTokens, 0)
	assert.Greater(t, result.Usage.OutputTokens, 0)
}
