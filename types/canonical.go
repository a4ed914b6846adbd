package types

import (
	"encoding/json"
	"time"
)

// Message roles used across both wire formats.
const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
	RoleSystem    = "system"
)

// StopReason explains why generation ended.
type StopReason string

const (
	StopEndTurn      StopReason = "end_turn"
	StopMaxTokens    StopReason = "max_tokens"
	StopToolUse      StopReason = "tool_use"
	StopStopSequence StopReason = "stop_sequence"

	// StopError is only ever produced for interrupted streams, where the
	// upstream connection died before a real stop reason arrived.
	StopError StopReason = "error"
)

// ContentBlock is one typed unit of message content, independent of wire
// format. The variant set is closed: TextBlock, ImageBlock, ToolUseBlock
// and ToolResultBlock. Converters and the stream reconstructor switch
// exhaustively over these kinds, so adding a variant is a compile-visible
// change at every switch.
type ContentBlock interface {
	BlockType() string
}

// TextBlock carries plain text.
type TextBlock struct {
	Text string
}

func (TextBlock) BlockType() string { return "text" }

// ImageBlock carries inline image data. Data is the base64 payload with
// no data-URI framing; MediaType is the MIME type (e.g. "image/png").
type ImageBlock struct {
	MediaType string
	Data      string
}

func (ImageBlock) BlockType() string { return "image" }

// ToolUseBlock is a model-issued tool invocation. Input holds the
// arguments as raw JSON, exactly as produced by the model.
type ToolUseBlock struct {
	ID    string
	Name  string
	Input json.RawMessage
}

func (ToolUseBlock) BlockType() string { return "tool_use" }

// ToolResultBlock feeds a tool's outcome back to the model. ToolUseID
// must reference a ToolUseBlock.ID from an earlier assistant turn in the
// same conversation; conversion preserves that linkage.
type ToolResultBlock struct {
	ToolUseID string
	Content   []ContentBlock
	IsError   bool
}

func (ToolResultBlock) BlockType() string { return "tool_result" }

// Message is a single conversation turn. Block order is semantically
// significant and survives every conversion unchanged.
type Message struct {
	Role    string
	Content []ContentBlock
}

// Tool choice kinds.
const (
	ToolChoiceAuto = "auto"
	ToolChoiceNone = "none"
	ToolChoiceTool = "tool"
)

// ToolChoice constrains which tool the model may call. Name is set only
// when Kind is ToolChoiceTool.
type ToolChoice struct {
	Kind string
	Name string
}

// ToolSpec declares one callable tool. InputSchema is the raw JSON
// Schema for the tool's arguments; it passes through conversion
// byte-for-byte but must be structurally valid (object type, known
// required keys) or the request fails validation.
type ToolSpec struct {
	Name        string
	Description string
	InputSchema json.RawMessage
}

// CacheOptions is caller-supplied cache eligibility for one request.
// Requests carrying tools are cached only when the caller marked the
// tool set idempotent.
type CacheOptions struct {
	Disable         bool
	ToolsIdempotent bool
	TTL             time.Duration
}

// CanonicalRequest is the format-agnostic representation of a chat
// request, the pivot for all wire conversions. It is constructed once
// per incoming request and never mutated afterwards; conversion and the
// tool continuation loop always produce new values.
type CanonicalRequest struct {
	Model         string
	System        []ContentBlock
	Messages      []Message
	Tools         []ToolSpec
	ToolChoice    *ToolChoice
	MaxTokens     int
	Temperature   *float64
	TopP          *float64
	StopSequences []string
	Stream        bool

	// Extensions are provider-specific passthrough parameters, opaque
	// here and filtered against a per-provider allow-list at encode time.
	Extensions map[string]interface{}

	CacheOptions *CacheOptions
}

// Usage is the token accounting for one request/response cycle.
type Usage struct {
	InputTokens  int `json:"input_tokens"`
	OutputTokens int `json:"output_tokens"`
}

// CanonicalResponse is the format-agnostic representation of a complete
// model response. It is built incrementally by the stream reconstructor
// and finalized exactly once per request.
type CanonicalResponse struct {
	ID         string
	Model      string
	Content    []ContentBlock
	StopReason StopReason
	Usage      Usage
}

// ToolUses returns the tool invocations in the response, in block order.
func (r *CanonicalResponse) ToolUses() []ToolUseBlock {
	var calls []ToolUseBlock
	for _, block := range r.Content {
		if tu, ok := block.(ToolUseBlock); ok {
			calls = append(calls, tu)
		}
	}
	return calls
}

// TextContent returns the concatenated text blocks of the response.
func (r *CanonicalResponse) TextContent() string {
	var text string
	for _, block := range r.Content {
		if tb, ok := block.(TextBlock); ok {
			text += tb.Text
		}
	}
	return text
}

// CacheDisabled reports whether the request opted out of caching.
func (r *CanonicalRequest) CacheDisabled() bool {
	return r.CacheOptions != nil && r.CacheOptions.Disable
}

// CacheEligible reports whether a response for this request may be
// stored. Requests with tools are only eligible when the caller marked
// the tool set idempotent.
func (r *CanonicalRequest) CacheEligible() bool {
	if r.CacheDisabled() {
		return false
	}
	if len(r.Tools) > 0 {
		return r.CacheOptions != nil && r.CacheOptions.ToolsIdempotent
	}
	return true
}
