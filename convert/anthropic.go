package convert

import (
	"encoding/json"
	"fmt"
	"time"

	"claude-gateway/types"
)

// knownRequestKeys are the client wire top-level keys with declared
// meaning. Anything else is captured as an extension parameter and
// filtered against the provider allow-list at encode time.
var knownRequestKeys = map[string]bool{
	"model":          true,
	"messages":       true,
	"system":         true,
	"tools":          true,
	"tool_choice":    true,
	"max_tokens":     true,
	"temperature":    true,
	"top_p":          true,
	"stop_sequences": true,
	"stream":         true,
	"metadata":       true,
	"cache":          true,
}

// DecodeClientRequest parses a client wire request into canonical form.
// The decode is structural: JSON shape and block types must be valid,
// while cross-field consistency (tool references, schema validity) is
// checked separately by Validate before any provider call.
func (c *Converter) DecodeClientRequest(body []byte) (*types.CanonicalRequest, error) {
	var wire types.AnthropicRequest
	if err := json.Unmarshal(body, &wire); err != nil {
		return nil, types.NewValidationError("body", "malformed JSON: %v", err)
	}

	req := &types.CanonicalRequest{
		Model:         wire.Model,
		MaxTokens:     wire.MaxTokens,
		Temperature:   wire.Temperature,
		TopP:          wire.TopP,
		StopSequences: wire.StopSequences,
		Stream:        wire.Stream,
	}

	if len(wire.System) > 0 {
		system, err := decodePolymorphicContent(wire.System, "system")
		if err != nil {
			return nil, err
		}
		req.System = system
	}

	for i, msg := range wire.Messages {
		field := fmt.Sprintf("messages[%d]", i)
		blocks, err := decodePolymorphicContent(msg.Content, field+".content")
		if err != nil {
			return nil, err
		}
		req.Messages = append(req.Messages, types.Message{Role: msg.Role, Content: blocks})
	}

	for i, tool := range wire.Tools {
		if tool.Name == "" {
			return nil, types.NewValidationError(fmt.Sprintf("tools[%d].name", i), "must not be empty")
		}
		req.Tools = append(req.Tools, types.ToolSpec{
			Name:        tool.Name,
			Description: tool.Description,
			InputSchema: tool.InputSchema,
		})
	}

	if wire.ToolChoice != nil {
		choice, err := decodeToolChoice(wire.ToolChoice)
		if err != nil {
			return nil, err
		}
		req.ToolChoice = choice
	}

	if wire.Cache != nil {
		req.CacheOptions = &types.CacheOptions{
			Disable:         wire.Cache.Disable,
			ToolsIdempotent: wire.Cache.ToolsIdempotent,
			TTL:             time.Duration(wire.Cache.TTLSeconds) * time.Second,
		}
	}

	extensions, err := extractExtensions(body)
	if err != nil {
		return nil, types.NewValidationError("body", "malformed extension value: %v", err)
	}
	req.Extensions = extensions

	return req, nil
}

// decodePolymorphicContent handles the wire's two content shapes: a
// bare string becomes a single text block, an array decodes block by
// block.
func decodePolymorphicContent(raw json.RawMessage, field string) ([]types.ContentBlock, error) {
	var asString string
	if err := json.Unmarshal(raw, &asString); err == nil {
		return []types.ContentBlock{types.TextBlock{Text: asString}}, nil
	}

	var asBlocks []types.AnthropicContent
	if err := json.Unmarshal(raw, &asBlocks); err != nil {
		return nil, types.NewValidationError(field, "must be a string or an array of content blocks")
	}

	blocks := make([]types.ContentBlock, 0, len(asBlocks))
	for i, wire := range asBlocks {
		block, err := decodeContentBlock(wire, fmt.Sprintf("%s[%d]", field, i))
		if err != nil {
			return nil, err
		}
		blocks = append(blocks, block)
	}
	return blocks, nil
}

func decodeContentBlock(wire types.AnthropicContent, field string) (types.ContentBlock, error) {
	switch wire.Type {
	case "text":
		return types.TextBlock{Text: wire.Text}, nil

	case "image":
		if wire.Source == nil {
			return nil, types.NewValidationError(field, "image block missing source")
		}
		if wire.Source.Type != "base64" {
			return nil, types.NewValidationError(field, "image source type %q not supported", wire.Source.Type)
		}
		return types.ImageBlock{MediaType: wire.Source.MediaType, Data: wire.Source.Data}, nil

	case "tool_use":
		if wire.ID == "" || wire.Name == "" {
			return nil, types.NewValidationError(field, "tool_use block requires id and name")
		}
		input := wire.Input
		if len(input) == 0 {
			input = json.RawMessage("{}")
		}
		return types.ToolUseBlock{ID: wire.ID, Name: wire.Name, Input: input}, nil

	case "tool_result":
		if wire.ToolUseID == "" {
			return nil, types.NewValidationError(field, "tool_result block requires tool_use_id")
		}
		result := types.ToolResultBlock{ToolUseID: wire.ToolUseID, IsError: wire.IsError}
		if len(wire.Content) > 0 {
			nested, err := decodePolymorphicContent(wire.Content, field+".content")
			if err != nil {
				return nil, err
			}
			for _, inner := range nested {
				switch inner.(type) {
				case types.TextBlock, types.ImageBlock:
				default:
					return nil, types.NewValidationError(field+".content", "tool_result may only nest text and image blocks")
				}
			}
			result.Content = nested
		}
		return result, nil

	default:
		return nil, types.NewValidationError(field, "unknown content block type %q", wire.Type)
	}
}

func decodeToolChoice(wire *types.AnthropicToolChoice) (*types.ToolChoice, error) {
	switch wire.Type {
	case "auto":
		return &types.ToolChoice{Kind: types.ToolChoiceAuto}, nil
	case "none":
		return &types.ToolChoice{Kind: types.ToolChoiceNone}, nil
	case "tool":
		if wire.Name == "" {
			return nil, types.NewValidationError("tool_choice.name", "must be set when type is \"tool\"")
		}
		return &types.ToolChoice{Kind: types.ToolChoiceTool, Name: wire.Name}, nil
	default:
		return nil, types.NewValidationError("tool_choice.type", "unknown value %q", wire.Type)
	}
}

// extractExtensions collects unknown top-level keys from the raw body.
func extractExtensions(body []byte) (map[string]interface{}, error) {
	var all map[string]json.RawMessage
	if err := json.Unmarshal(body, &all); err != nil {
		return nil, err
	}

	var extensions map[string]interface{}
	for key, raw := range all {
		if knownRequestKeys[key] {
			continue
		}
		var value interface{}
		if err := json.Unmarshal(raw, &value); err != nil {
			return nil, fmt.Errorf("key %q: %w", key, err)
		}
		if extensions == nil {
			extensions = make(map[string]interface{})
		}
		extensions[key] = value
	}
	return extensions, nil
}

// EncodeClientResponse renders a canonical response in the client wire
// format.
func (c *Converter) EncodeClientResponse(resp *types.CanonicalResponse) (*types.AnthropicResponse, error) {
	content := make([]types.AnthropicContent, 0, len(resp.Content))
	for _, block := range resp.Content {
		wire, err := encodeClientBlock(block)
		if err != nil {
			return nil, err
		}
		content = append(content, wire)
	}

	return &types.AnthropicResponse{
		ID:         resp.ID,
		Type:       "message",
		Role:       types.RoleAssistant,
		Model:      resp.Model,
		Content:    content,
		StopReason: string(resp.StopReason),
		Usage:      resp.Usage,
	}, nil
}

func encodeClientBlock(block types.ContentBlock) (types.AnthropicContent, error) {
	switch b := block.(type) {
	case types.TextBlock:
		return types.AnthropicContent{Type: "text", Text: b.Text}, nil

	case types.ImageBlock:
		return types.AnthropicContent{
			Type:   "image",
			Source: &types.AnthropicImageSource{Type: "base64", MediaType: b.MediaType, Data: b.Data},
		}, nil

	case types.ToolUseBlock:
		input := b.Input
		if len(input) == 0 {
			input = json.RawMessage("{}")
		}
		return types.AnthropicContent{Type: "tool_use", ID: b.ID, Name: b.Name, Input: input}, nil

	case types.ToolResultBlock:
		wire := types.AnthropicContent{Type: "tool_result", ToolUseID: b.ToolUseID, IsError: b.IsError}
		if len(b.Content) > 0 {
			nested := make([]types.AnthropicContent, 0, len(b.Content))
			for _, inner := range b.Content {
				innerWire, err := encodeClientBlock(inner)
				if err != nil {
					return types.AnthropicContent{}, err
				}
				nested = append(nested, innerWire)
			}
			raw, err := json.Marshal(nested)
			if err != nil {
				return types.AnthropicContent{}, err
			}
			wire.Content = raw
		}
		return wire, nil

	default:
		return types.AnthropicContent{}, fmt.Errorf("unknown content block type %T", block)
	}
}

// EncodeClientRequest renders a canonical request back in the client
// wire format. The gateway itself only decodes client requests; this
// inverse exists for tooling that persists canonical requests (batch
// files) and for verifying that decode loses nothing.
func (c *Converter) EncodeClientRequest(req *types.CanonicalRequest) (*types.AnthropicRequest, error) {
	wire := &types.AnthropicRequest{
		Model:         req.Model,
		MaxTokens:     req.MaxTokens,
		Temperature:   req.Temperature,
		TopP:          req.TopP,
		StopSequences: req.StopSequences,
		Stream:        req.Stream,
	}

	if len(req.System) > 0 {
		raw, err := encodeBlockArray(req.System)
		if err != nil {
			return nil, err
		}
		wire.System = raw
	}

	for _, msg := range req.Messages {
		raw, err := encodeBlockArray(msg.Content)
		if err != nil {
			return nil, err
		}
		wire.Messages = append(wire.Messages, types.AnthropicMessage{Role: msg.Role, Content: raw})
	}

	for _, tool := range req.Tools {
		wire.Tools = append(wire.Tools, types.AnthropicTool{
			Name:        tool.Name,
			Description: tool.Description,
			InputSchema: tool.InputSchema,
		})
	}

	if req.ToolChoice != nil {
		switch req.ToolChoice.Kind {
		case types.ToolChoiceAuto:
			wire.ToolChoice = &types.AnthropicToolChoice{Type: "auto"}
		case types.ToolChoiceNone:
			wire.ToolChoice = &types.AnthropicToolChoice{Type: "none"}
		case types.ToolChoiceTool:
			wire.ToolChoice = &types.AnthropicToolChoice{Type: "tool", Name: req.ToolChoice.Name}
		default:
			return nil, fmt.Errorf("unknown tool choice kind %q", req.ToolChoice.Kind)
		}
	}

	if req.CacheOptions != nil {
		wire.Cache = &types.AnthropicCacheHints{
			Disable:         req.CacheOptions.Disable,
			ToolsIdempotent: req.CacheOptions.ToolsIdempotent,
			TTLSeconds:      int(req.CacheOptions.TTL / time.Second),
		}
	}

	return wire, nil
}

func encodeBlockArray(blocks []types.ContentBlock) (json.RawMessage, error) {
	wires := make([]types.AnthropicContent, 0, len(blocks))
	for _, block := range blocks {
		wire, err := encodeClientBlock(block)
		if err != nil {
			return nil, err
		}
		wires = append(wires, wire)
	}
	return json.Marshal(wires)
}
