package convert

import (
	"encoding/json"
	"fmt"

	"claude-gateway/types"
)

// Canonical key serialization. Cache keys are derived from these bytes,
// so the encoding must be deterministic: field order is fixed by the
// payload structs, map keys are sorted by encoding/json, and raw JSON
// fields are normalized so formatting differences in the incoming wire
// never change the key.
//
// Deliberately excluded from the payload: Stream (a cached response
// serves both delivery modes), CacheOptions (cache control, not request
// semantics), and request-scoped metadata.

type keyPayload struct {
	Model         string                 `json:"model"`
	System        []keyBlock             `json:"system,omitempty"`
	Messages      []keyMessage           `json:"messages"`
	Tools         []keyTool              `json:"tools,omitempty"`
	ToolChoice    *keyToolChoice         `json:"tool_choice,omitempty"`
	MaxTokens     int                    `json:"max_tokens"`
	Temperature   *float64               `json:"temperature,omitempty"`
	TopP          *float64               `json:"top_p,omitempty"`
	StopSequences []string               `json:"stop_sequences,omitempty"`
	Extensions    map[string]interface{} `json:"extensions,omitempty"`
}

type keyMessage struct {
	Role    string     `json:"role"`
	Content []keyBlock `json:"content"`
}

type keyBlock struct {
	Type string `json:"type"`

	Text string `json:"text,omitempty"`

	MediaType string `json:"media_type,omitempty"`
	Data      string `json:"data,omitempty"`

	ID    string      `json:"id,omitempty"`
	Name  string      `json:"name,omitempty"`
	Input interface{} `json:"input,omitempty"`

	ToolUseID string     `json:"tool_use_id,omitempty"`
	Content   []keyBlock `json:"content,omitempty"`
	IsError   bool       `json:"is_error,omitempty"`
}

type keyTool struct {
	Name        string      `json:"name"`
	Description string      `json:"description,omitempty"`
	InputSchema interface{} `json:"input_schema"`
}

type keyToolChoice struct {
	Kind string `json:"kind"`
	Name string `json:"name,omitempty"`
}

// CanonicalKeyJSON produces the deterministic serialization of a
// request used for cache key derivation. Two semantically equivalent
// requests yield byte-identical output.
func CanonicalKeyJSON(req *types.CanonicalRequest) ([]byte, error) {
	payload := keyPayload{
		Model:         req.Model,
		MaxTokens:     req.MaxTokens,
		Temperature:   req.Temperature,
		TopP:          req.TopP,
		StopSequences: req.StopSequences,
		Extensions:    req.Extensions,
	}

	var err error
	if payload.System, err = lowerBlocks(req.System); err != nil {
		return nil, err
	}

	payload.Messages = make([]keyMessage, 0, len(req.Messages))
	for _, msg := range req.Messages {
		content, err := lowerBlocks(msg.Content)
		if err != nil {
			return nil, err
		}
		payload.Messages = append(payload.Messages, keyMessage{Role: msg.Role, Content: content})
	}

	for _, tool := range req.Tools {
		schema, err := normalizeRawJSON(tool.InputSchema)
		if err != nil {
			return nil, fmt.Errorf("tool %q schema: %w", tool.Name, err)
		}
		payload.Tools = append(payload.Tools, keyTool{
			Name:        tool.Name,
			Description: tool.Description,
			InputSchema: schema,
		})
	}

	if req.ToolChoice != nil {
		payload.ToolChoice = &keyToolChoice{Kind: req.ToolChoice.Kind, Name: req.ToolChoice.Name}
	}

	return json.Marshal(payload)
}

func lowerBlocks(blocks []types.ContentBlock) ([]keyBlock, error) {
	if len(blocks) == 0 {
		return nil, nil
	}
	lowered := make([]keyBlock, 0, len(blocks))
	for _, block := range blocks {
		kb, err := lowerBlock(block)
		if err != nil {
			return nil, err
		}
		lowered = append(lowered, kb)
	}
	return lowered, nil
}

func lowerBlock(block types.ContentBlock) (keyBlock, error) {
	switch b := block.(type) {
	case types.TextBlock:
		return keyBlock{Type: b.BlockType(), Text: b.Text}, nil

	case types.ImageBlock:
		return keyBlock{Type: b.BlockType(), MediaType: b.MediaType, Data: b.Data}, nil

	case types.ToolUseBlock:
		input, err := normalizeRawJSON(b.Input)
		if err != nil {
			return keyBlock{}, fmt.Errorf("tool_use %q input: %w", b.ID, err)
		}
		return keyBlock{Type: b.BlockType(), ID: b.ID, Name: b.Name, Input: input}, nil

	case types.ToolResultBlock:
		nested, err := lowerBlocks(b.Content)
		if err != nil {
			return keyBlock{}, err
		}
		return keyBlock{Type: b.BlockType(), ToolUseID: b.ToolUseID, Content: nested, IsError: b.IsError}, nil

	default:
		return keyBlock{}, fmt.Errorf("unknown content block type %T", block)
	}
}

// normalizeRawJSON reparses raw JSON into generic values so that key
// order and whitespace in the original bytes cannot influence the
// serialized form.
func normalizeRawJSON(raw json.RawMessage) (interface{}, error) {
	if len(raw) == 0 {
		return nil, nil
	}
	var value interface{}
	if err := json.Unmarshal(raw, &value); err != nil {
		return nil, err
	}
	return value, nil
}
