// Package stream rebuilds client-facing responses from provider
// streaming chunks.
//
// The reconstructor is a state machine: the request moves through
// NotStarted, Streaming and Done, and each content block independently
// moves Open then Closed. Provider fragments may interleave across
// blocks in any legal order; for any single block index the emitted
// client events are always BlockStart, then deltas, then BlockStop.
// The non-streaming path feeds a complete provider response through the
// same machine, so both delivery modes share one set of conversion
// rules.
package stream

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"claude-gateway/convert"
	"claude-gateway/logger"
	"claude-gateway/types"
)

type requestState int

const (
	stateNotStarted requestState = iota
	stateStreaming
	stateDone
)

type blockState int

const (
	blockOpen blockState = iota
	blockClosed
)

type blockKind int

const (
	kindText blockKind = iota
	kindTool
)

// openBlock tracks one client content block while the stream is live.
// Tool argument fragments accumulate as raw text and only parse as JSON
// when the block closes; a lone fragment is usually not valid JSON.
type openBlock struct {
	index int
	kind  blockKind
	state blockState

	text strings.Builder

	toolID   string
	toolName string
	args     strings.Builder
}

// Reconstructor accumulates provider chunks for a single request and
// emits client stream events. It is not safe for concurrent use; each
// request owns its own reconstructor.
type Reconstructor struct {
	log logger.Logger

	model     string
	messageID string

	state     requestState
	blocks    []*openBlock
	textIndex int
	toolIndex map[int]int

	usage    types.Usage
	hasUsage bool

	stopReason types.StopReason
	finalized  *types.CanonicalResponse
	failure    error
	fallbacks  []types.ConversionFallback
}

// New creates a reconstructor for one request. The model is used when
// provider chunks do not carry one.
func New(model string, log logger.Logger) *Reconstructor {
	if log == nil {
		log = logger.NewNop()
	}
	return &Reconstructor{
		log:       log,
		model:     model,
		textIndex: -1,
		toolIndex: make(map[int]int),
	}
}

// Done reports whether the stream has reached its terminal state.
func (r *Reconstructor) Done() bool { return r.state == stateDone }

// Fallbacks returns the lossy degradations recorded while rebuilding
// the response.
func (r *Reconstructor) Fallbacks() []types.ConversionFallback { return r.fallbacks }

// Feed consumes one provider chunk and returns the client events it
// produced. The first chunk additionally produces MessageStart; a chunk
// carrying a finish reason closes every open block and terminates the
// stream.
func (r *Reconstructor) Feed(chunk *types.OpenAIStreamChunk) ([]types.StreamEvent, error) {
	if chunk == nil {
		return nil, fmt.Errorf("nil chunk")
	}

	if r.state == stateDone {
		// Providers that report usage send one trailing chunk after the
		// finish reason. Absorb it; anything else is a protocol
		// violation worth logging.
		if chunk.Usage != nil {
			r.absorbUsage(chunk.Usage)
			if r.finalized != nil {
				r.finalized.Usage = r.usage
			}
			return nil, nil
		}
		r.log.Warn("⚠️ Dropping chunk received after stream end")
		return nil, nil
	}

	var events []types.StreamEvent

	if r.state == stateNotStarted {
		if chunk.ID != "" {
			r.messageID = chunk.ID
		} else {
			r.messageID = fmt.Sprintf("msg_%x", time.Now().UnixNano())
		}
		if chunk.Model != "" {
			r.model = chunk.Model
		}
		r.state = stateStreaming
		events = append(events, types.MessageStartEvent{ID: r.messageID, Model: r.model})
	}

	if chunk.Usage != nil {
		r.absorbUsage(chunk.Usage)
	}

	if len(chunk.Choices) == 0 {
		return events, nil
	}
	choice := chunk.Choices[0]

	if choice.Delta.Content != "" {
		events = append(events, r.appendText(choice.Delta.Content)...)
	}

	for _, call := range choice.Delta.ToolCalls {
		events = append(events, r.appendToolFragment(call)...)
	}

	if choice.FinishReason != nil {
		events = append(events, r.finalize(*choice.FinishReason)...)
	}

	return events, nil
}

// Finish signals end of transport input. If the provider never sent a
// finish reason the stream still closes cleanly, with end_turn assumed.
func (r *Reconstructor) Finish() ([]types.StreamEvent, error) {
	switch r.state {
	case stateDone:
		return nil, nil
	case stateNotStarted:
		r.state = stateDone
		r.failure = fmt.Errorf("no chunks received")
		return nil, r.failure
	default:
		r.log.Warn("⚠️ Stream ended without a finish reason, assuming end_turn")
		return r.finalize(types.FinishStop), nil
	}
}

// Abort terminates an interrupted stream. Open blocks close and a
// synthetic message end with an error stop reason is emitted, so the
// client always sees a well-formed event sequence; content already
// delivered is never retracted. The cause is surfaced via Response.
func (r *Reconstructor) Abort(cause error) []types.StreamEvent {
	if r.state == stateDone {
		return nil
	}
	if r.state == stateNotStarted {
		// Nothing was emitted, so there is no protocol to repair.
		r.state = stateDone
		r.failure = cause
		return nil
	}

	var events []types.StreamEvent
	for _, blk := range r.blocks {
		if blk.state == blockOpen {
			blk.state = blockClosed
			events = append(events, types.BlockStopEvent{Index: blk.index})
		}
	}
	delta := types.MessageDeltaEvent{StopReason: types.StopError}
	if r.hasUsage {
		usage := r.usage
		delta.Usage = &usage
	}
	events = append(events, delta, types.MessageStopEvent{})

	r.state = stateDone
	r.failure = cause
	return events
}

// Response returns the accumulated canonical response. It fails until
// the stream terminates, and reports the interruption cause for
// aborted streams.
func (r *Reconstructor) Response() (*types.CanonicalResponse, error) {
	if r.state != stateDone {
		return nil, fmt.Errorf("stream not finished")
	}
	if r.failure != nil {
		return nil, r.failure
	}
	return r.finalized, nil
}

func (r *Reconstructor) absorbUsage(usage *types.OpenAIUsage) {
	r.usage = types.Usage{InputTokens: usage.PromptTokens, OutputTokens: usage.CompletionTokens}
	r.hasUsage = true
}

// appendText routes a content fragment to the open text block, opening
// one at the next free index if needed.
func (r *Reconstructor) appendText(text string) []types.StreamEvent {
	var events []types.StreamEvent

	if r.textIndex == -1 {
		blk := &openBlock{index: len(r.blocks), kind: kindText}
		r.blocks = append(r.blocks, blk)
		r.textIndex = blk.index
		events = append(events, types.BlockStartEvent{Index: blk.index, Block: types.TextBlock{}})
	}

	blk := r.blocks[r.textIndex]
	blk.text.WriteString(text)
	events = append(events, types.BlockDeltaEvent{Index: blk.index, Delta: types.TextDelta{Text: text}})
	return events
}

// appendToolFragment routes one tool call fragment by its provider
// index. The first fragment for an index opens the block and carries
// the call ID and function name; argument fragments buffer until the
// block closes.
func (r *Reconstructor) appendToolFragment(call types.OpenAIToolCall) []types.StreamEvent {
	var events []types.StreamEvent

	clientIndex, seen := r.toolIndex[call.Index]
	if !seen {
		blk := &openBlock{
			index:    len(r.blocks),
			kind:     kindTool,
			toolID:   convert.ToolIDFromProvider(call.ID),
			toolName: call.Function.Name,
		}
		r.blocks = append(r.blocks, blk)
		r.toolIndex[call.Index] = blk.index
		clientIndex = blk.index

		if blk.toolID == "" {
			blk.toolID = fmt.Sprintf("toolu_%x_%d", time.Now().UnixNano(), blk.index)
		}
		events = append(events, types.BlockStartEvent{
			Index: blk.index,
			Block: types.ToolUseBlock{ID: blk.toolID, Name: blk.toolName},
		})
	}

	blk := r.blocks[clientIndex]
	if blk.state == blockClosed {
		r.log.Warn("⚠️ Dropping tool call fragment for closed block %d", blk.index)
		return events
	}

	// Later fragments may still fill in identity fields.
	if call.ID != "" && blk.toolID == "" {
		blk.toolID = convert.ToolIDFromProvider(call.ID)
	}
	if call.Function.Name != "" && blk.toolName == "" {
		blk.toolName = call.Function.Name
	}

	if call.Function.Arguments != "" {
		blk.args.WriteString(call.Function.Arguments)
		events = append(events, types.BlockDeltaEvent{
			Index: blk.index,
			Delta: types.InputJSONDelta{PartialJSON: call.Function.Arguments},
		})
	}

	return events
}

// finalize closes every open block in index order, emits the trailing
// message events, and builds the canonical response.
func (r *Reconstructor) finalize(finishReason string) []types.StreamEvent {
	var events []types.StreamEvent

	for _, blk := range r.blocks {
		if blk.state == blockOpen {
			blk.state = blockClosed
			events = append(events, types.BlockStopEvent{Index: blk.index})
		}
	}

	reason, known := convert.StopReasonFromFinish(finishReason)
	if !known {
		r.recordFallback(types.FallbackUnknownStop, "finish reason %q mapped to end_turn", finishReason)
	}
	if reason != types.StopToolUse && r.hasToolBlocks() {
		r.log.Debug("🔧 Tool calls present, reporting stop reason tool_use instead of %s", reason)
		reason = types.StopToolUse
	}
	r.stopReason = reason

	delta := types.MessageDeltaEvent{StopReason: reason}
	if r.hasUsage {
		usage := r.usage
		delta.Usage = &usage
	}
	events = append(events, delta, types.MessageStopEvent{})

	r.state = stateDone
	r.finalized = r.buildResponse()
	return events
}

func (r *Reconstructor) hasToolBlocks() bool {
	for _, blk := range r.blocks {
		if blk.kind == kindTool {
			return true
		}
	}
	return false
}

// buildResponse assembles the canonical response from the closed
// blocks. Tool arguments parse exactly once here; arguments that never
// became valid JSON degrade to a JSON string so the response still
// round-trips.
func (r *Reconstructor) buildResponse() *types.CanonicalResponse {
	content := make([]types.ContentBlock, 0, len(r.blocks))
	for _, blk := range r.blocks {
		switch blk.kind {
		case kindText:
			content = append(content, types.TextBlock{Text: blk.text.String()})
		case kindTool:
			content = append(content, types.ToolUseBlock{
				ID:    blk.toolID,
				Name:  blk.toolName,
				Input: r.parseToolArgs(blk),
			})
		}
	}

	return &types.CanonicalResponse{
		ID:         r.messageID,
		Model:      r.model,
		Content:    content,
		StopReason: r.stopReason,
		Usage:      r.usage,
	}
}

func (r *Reconstructor) parseToolArgs(blk *openBlock) json.RawMessage {
	raw := blk.args.String()
	if raw == "" {
		return json.RawMessage("{}")
	}
	if json.Valid([]byte(raw)) {
		return json.RawMessage(raw)
	}

	r.recordFallback(types.FallbackBadToolArgs, "tool %q arguments are not valid JSON, wrapping as string", blk.toolName)
	quoted, err := json.Marshal(raw)
	if err != nil {
		return json.RawMessage("{}")
	}
	return json.RawMessage(quoted)
}

func (r *Reconstructor) recordFallback(kind, format string, args ...interface{}) {
	fallback := types.ConversionFallback{Kind: kind, Detail: fmt.Sprintf(format, args...)}
	r.fallbacks = append(r.fallbacks, fallback)
	r.log.Warn("⚠️ Reconstruction fallback: %s", fallback.String())
}

// ReconstructResponse converts a complete provider response through the
// same state machine the streaming path uses: the response becomes a
// single synthetic chunk carrying the full content, every tool call and
// the finish reason. The returned events are what a stream of this
// response would have produced.
func ReconstructResponse(resp *types.OpenAIResponse, requestedModel string, log logger.Logger) (*types.CanonicalResponse, []types.StreamEvent, error) {
	if resp == nil || len(resp.Choices) == 0 {
		return nil, nil, fmt.Errorf("provider response has no choices")
	}
	choice := resp.Choices[0]

	delta := types.OpenAIDelta{
		Role:    choice.Message.Role,
		Content: choice.Message.ContentText(),
	}
	for i, call := range choice.Message.ToolCalls {
		call.Index = i
		delta.ToolCalls = append(delta.ToolCalls, call)
	}

	chunk := &types.OpenAIStreamChunk{
		ID:      resp.ID,
		Object:  "chat.completion.chunk",
		Created: resp.Created,
		Model:   resp.Model,
		Choices: []types.OpenAIStreamChoice{{Index: 0, Delta: delta, FinishReason: choice.FinishReason}},
		Usage:   resp.Usage,
	}

	r := New(requestedModel, log)
	events, err := r.Feed(chunk)
	if err != nil {
		return nil, nil, err
	}
	if !r.Done() {
		more, err := r.Finish()
		if err != nil {
			return nil, nil, err
		}
		events = append(events, more...)
	}

	canonical, err := r.Response()
	if err != nil {
		return nil, nil, err
	}
	return canonical, events, nil
}
