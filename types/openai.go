package types

import "encoding/json"

// OpenAIRequest represents a request in the provider's chat completions
// wire format. Extra carries allow-listed extension parameters; they are
// merged into the top-level JSON object at marshal time and never
// shadow a declared field.
type OpenAIRequest struct {
	Model       string           `json:"model"`
	Messages    []OpenAIMessage  `json:"messages"`
	Tools       []OpenAITool     `json:"tools,omitempty"`
	ToolChoice  interface{}      `json:"tool_choice,omitempty"`
	MaxTokens   int              `json:"max_tokens,omitempty"`
	Temperature *float64         `json:"temperature,omitempty"`
	TopP        *float64         `json:"top_p,omitempty"`
	Stop        []string         `json:"stop,omitempty"`
	Stream      bool             `json:"stream,omitempty"`

	Extra map[string]interface{} `json:"-"`
}

// MarshalJSON merges Extra into the serialized object. Declared fields
// always win over extension keys of the same name.
func (r OpenAIRequest) MarshalJSON() ([]byte, error) {
	type plain OpenAIRequest
	base, err := json.Marshal(plain(r))
	if err != nil {
		return nil, err
	}
	if len(r.Extra) == 0 {
		return base, nil
	}
	merged := make(map[string]interface{}, len(r.Extra)+12)
	for key, value := range r.Extra {
		merged[key] = value
	}
	var declared map[string]interface{}
	if err := json.Unmarshal(base, &declared); err != nil {
		return nil, err
	}
	for key, value := range declared {
		merged[key] = value
	}
	return json.Marshal(merged)
}

// OpenAIMessage represents a message in provider format. Content is a
// plain string for most messages, or an array of content parts when a
// user turn carries images.
type OpenAIMessage struct {
	Role       string           `json:"role"`
	Content    interface{}      `json:"content"`
	ToolCalls  []OpenAIToolCall `json:"tool_calls,omitempty"`
	ToolCallID string           `json:"tool_call_id,omitempty"`
}

// ContentText returns the message content as a string, flattening
// text parts when the content is an array.
func (m OpenAIMessage) ContentText() string {
	switch content := m.Content.(type) {
	case string:
		return content
	case []OpenAIContentPart:
		var text string
		for _, part := range content {
			if part.Type == "text" {
				text += part.Text
			}
		}
		return text
	case []interface{}:
		var text string
		for _, item := range content {
			part, ok := item.(map[string]interface{})
			if !ok {
				continue
			}
			if part["type"] == "text" {
				if s, ok := part["text"].(string); ok {
					text += s
				}
			}
		}
		return text
	default:
		return ""
	}
}

// OpenAIContentPart is one element of an array-form message content.
// Type is "text" or "image_url".
type OpenAIContentPart struct {
	Type     string          `json:"type"`
	Text     string          `json:"text,omitempty"`
	ImageURL *OpenAIImageURL `json:"image_url,omitempty"`
}

// OpenAIImageURL wraps an image reference. Inline images use a data URI
// of the form "data:<media_type>;base64,<data>".
type OpenAIImageURL struct {
	URL string `json:"url"`
}

// OpenAITool represents a tool declaration in provider format.
type OpenAITool struct {
	Type     string             `json:"type"`
	Function OpenAIToolFunction `json:"function"`
}

// OpenAIToolFunction carries the function name, description and raw
// JSON Schema parameters.
type OpenAIToolFunction struct {
	Name        string          `json:"name"`
	Description string          `json:"description,omitempty"`
	Parameters  json.RawMessage `json:"parameters,omitempty"`
}

// OpenAIToolChoiceFunction is the object form of tool_choice that
// forces one specific function.
type OpenAIToolChoiceFunction struct {
	Type     string                       `json:"type"`
	Function OpenAIToolChoiceFunctionName `json:"function"`
}

// OpenAIToolChoiceFunctionName names the forced function.
type OpenAIToolChoiceFunctionName struct {
	Name string `json:"name"`
}

// OpenAIResponse represents a complete response from the provider.
type OpenAIResponse struct {
	ID      string         `json:"id"`
	Object  string         `json:"object"`
	Created int64          `json:"created"`
	Model   string         `json:"model"`
	Choices []OpenAIChoice `json:"choices"`
	Usage   *OpenAIUsage   `json:"usage,omitempty"`
}

// OpenAIChoice represents one completion choice.
type OpenAIChoice struct {
	Index        int           `json:"index"`
	Message      OpenAIMessage `json:"message"`
	FinishReason *string       `json:"finish_reason"`
}

// OpenAIStreamChunk represents one streaming chunk from the provider.
// Chunks with no choices may still carry usage; some providers send a
// trailing usage-only chunk after the finish reason.
type OpenAIStreamChunk struct {
	ID      string               `json:"id"`
	Object  string               `json:"object"`
	Created int64                `json:"created"`
	Model   string               `json:"model"`
	Choices []OpenAIStreamChoice `json:"choices"`
	Usage   *OpenAIUsage         `json:"usage,omitempty"`
}

// OpenAIStreamChoice represents a choice within a streaming chunk.
type OpenAIStreamChoice struct {
	Index        int         `json:"index"`
	Delta        OpenAIDelta `json:"delta"`
	FinishReason *string     `json:"finish_reason"`
}

// OpenAIDelta represents the incremental payload of a streaming chunk.
type OpenAIDelta struct {
	Role      string           `json:"role,omitempty"`
	Content   string           `json:"content,omitempty"`
	ToolCalls []OpenAIToolCall `json:"tool_calls,omitempty"`
}

// OpenAIToolCall represents a tool call in provider format. During
// streaming, calls arrive fragmented: the first fragment for an Index
// carries the ID and function name, later fragments append to the
// arguments string.
type OpenAIToolCall struct {
	ID       string                 `json:"id,omitempty"`
	Type     string                 `json:"type,omitempty"`
	Function OpenAIToolCallFunction `json:"function"`
	Index    int                    `json:"index"`
}

// OpenAIToolCallFunction carries the function name and its arguments as
// a JSON-encoded string, possibly partial during streaming.
type OpenAIToolCallFunction struct {
	Name      string `json:"name,omitempty"`
	Arguments string `json:"arguments"`
}

// OpenAIUsage represents token usage as reported by the provider.
type OpenAIUsage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

// OpenAIErrorResponse is the provider wire error envelope.
type OpenAIErrorResponse struct {
	Error OpenAIError `json:"error"`
}

// OpenAIError carries the provider's error details.
type OpenAIError struct {
	Message string `json:"message"`
	Type    string `json:"type"`
	Code    string `json:"code,omitempty"`
}

// Provider finish reasons with a defined mapping to stop reasons.
const (
	FinishStop          = "stop"
	FinishLength        = "length"
	FinishToolCalls     = "tool_calls"
	FinishFunctionCall  = "function_call"
	FinishContentFilter = "content_filter"
)
