package types

import "encoding/json"

// AnthropicRequest represents an incoming client request in the
// Anthropic Messages wire format.
//
// Two fields are polymorphic on the wire and therefore kept raw here:
// System is either a plain string or an array of typed content blocks,
// and each message's Content is either a plain string or an array of
// content blocks. The converter normalizes both shapes into canonical
// blocks; nothing downstream ever sees the raw forms.
//
// Unknown top-level keys are not part of this struct. The converter
// captures them separately as extension parameters and filters them
// against the per-provider allow-list.
type AnthropicRequest struct {
	Model         string                `json:"model"`
	Messages      []AnthropicMessage    `json:"messages"`
	System        json.RawMessage       `json:"system,omitempty"`
	Tools         []AnthropicTool       `json:"tools,omitempty"`
	ToolChoice    *AnthropicToolChoice  `json:"tool_choice,omitempty"`
	MaxTokens     int                   `json:"max_tokens"`
	Temperature   *float64              `json:"temperature,omitempty"`
	TopP          *float64              `json:"top_p,omitempty"`
	StopSequences []string              `json:"stop_sequences,omitempty"`
	Stream        bool                  `json:"stream,omitempty"`
	Metadata      map[string]interface{} `json:"metadata,omitempty"`
	Cache         *AnthropicCacheHints  `json:"cache,omitempty"`
}

// AnthropicCacheHints is a gateway-specific request extension that lets
// callers steer response caching per request. It is consumed here and
// never forwarded to the provider.
type AnthropicCacheHints struct {
	Disable         bool `json:"disable,omitempty"`
	ToolsIdempotent bool `json:"tools_idempotent,omitempty"`
	TTLSeconds      int  `json:"ttl_seconds,omitempty"`
}

// AnthropicMessage is one conversation turn on the client wire. Content
// stays raw because the wire allows both a bare string and an array of
// content blocks.
type AnthropicMessage struct {
	Role    string          `json:"role"`
	Content json.RawMessage `json:"content"`
}

// AnthropicContent is one wire content block. Exactly one variant's
// fields are populated, selected by Type: "text", "image", "tool_use"
// or "tool_result". Tool result content is itself polymorphic (string
// or nested block array), so it stays raw.
type AnthropicContent struct {
	Type string `json:"type"`

	// Type == "text"
	Text string `json:"text,omitempty"`

	// Type == "image"
	Source *AnthropicImageSource `json:"source,omitempty"`

	// Type == "tool_use"
	ID    string          `json:"id,omitempty"`
	Name  string          `json:"name,omitempty"`
	Input json.RawMessage `json:"input,omitempty"`

	// Type == "tool_result"
	ToolUseID string          `json:"tool_use_id,omitempty"`
	Content   json.RawMessage `json:"content,omitempty"`
	IsError   bool            `json:"is_error,omitempty"`
}

// AnthropicImageSource carries inline image data. Only base64 sourcing
// is supported; Data holds the payload without data-URI framing.
type AnthropicImageSource struct {
	Type      string `json:"type"`
	MediaType string `json:"media_type"`
	Data      string `json:"data"`
}

// AnthropicTool declares one callable tool on the client wire. The
// input schema passes through to the provider unchanged.
type AnthropicTool struct {
	Name        string          `json:"name"`
	Description string          `json:"description,omitempty"`
	InputSchema json.RawMessage `json:"input_schema"`
}

// AnthropicToolChoice selects how the model may use tools: "auto",
// "none", or "tool" with an explicit Name.
type AnthropicToolChoice struct {
	Type string `json:"type"`
	Name string `json:"name,omitempty"`
}

// AnthropicResponse is a complete response in the client wire format.
type AnthropicResponse struct {
	ID           string             `json:"id"`
	Type         string             `json:"type"`
	Role         string             `json:"role"`
	Model        string             `json:"model"`
	Content      []AnthropicContent `json:"content"`
	StopReason   string             `json:"stop_reason"`
	StopSequence *string            `json:"stop_sequence"`
	Usage        Usage              `json:"usage"`
}

// AnthropicErrorResponse is the client wire error envelope.
type AnthropicErrorResponse struct {
	Type  string         `json:"type"`
	Error AnthropicError `json:"error"`
}

// AnthropicError carries the machine-readable error type and a
// human-readable message.
type AnthropicError struct {
	Type    string `json:"type"`
	Message string `json:"message"`
}

// Client wire error types.
const (
	ErrTypeInvalidRequest = "invalid_request_error"
	ErrTypeAPI            = "api_error"
	ErrTypeOverloaded     = "overloaded_error"
)
