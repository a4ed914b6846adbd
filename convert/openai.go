package convert

import (
	"fmt"
	"sort"
	"strings"

	"claude-gateway/types"
)

// knownImageMediaTypes are the media types the provider wire is known
// to accept inside data URIs. Anything else still converts, but the
// degradation is recorded so operators can see what providers reject.
var knownImageMediaTypes = map[string]bool{
	"image/jpeg": true,
	"image/png":  true,
	"image/gif":  true,
	"image/webp": true,
}

// EncodeProviderRequest converts a canonical request into the provider
// wire format. Block order within each message is preserved; tool
// results split out into their own provider messages because the wire
// demands it, keeping their relative order.
//
// The returned fallbacks describe every lossy step taken. They are
// warnings: the request is still usable.
func (c *Converter) EncodeProviderRequest(req *types.CanonicalRequest, provider string) (*types.OpenAIRequest, []types.ConversionFallback, error) {
	rec := &recorder{log: c.log}

	out := &types.OpenAIRequest{
		Model:       req.Model,
		MaxTokens:   req.MaxTokens,
		Temperature: req.Temperature,
		TopP:        req.TopP,
		Stop:        req.StopSequences,
		Stream:      req.Stream,
	}

	if len(req.System) > 0 {
		if text := flattenToText(req.System, "system", rec); text != "" {
			out.Messages = append(out.Messages, types.OpenAIMessage{Role: types.RoleSystem, Content: text})
		}
	}

	for i, msg := range req.Messages {
		field := fmt.Sprintf("messages[%d]", i)
		switch msg.Role {
		case types.RoleUser:
			out.Messages = append(out.Messages, c.encodeUserMessage(msg, field, rec)...)
		case types.RoleAssistant:
			out.Messages = append(out.Messages, c.encodeAssistantMessage(msg, field, rec))
		case types.RoleSystem:
			if text := flattenToText(msg.Content, field, rec); text != "" {
				out.Messages = append(out.Messages, types.OpenAIMessage{Role: types.RoleSystem, Content: text})
			}
		default:
			return nil, nil, types.NewValidationError(field+".role", "unknown role %q", msg.Role)
		}
	}

	for _, tool := range req.Tools {
		out.Tools = append(out.Tools, types.OpenAITool{
			Type: "function",
			Function: types.OpenAIToolFunction{
				Name:        tool.Name,
				Description: tool.Description,
				Parameters:  tool.InputSchema,
			},
		})
	}

	if req.ToolChoice != nil {
		switch req.ToolChoice.Kind {
		case types.ToolChoiceAuto:
			out.ToolChoice = "auto"
		case types.ToolChoiceNone:
			out.ToolChoice = "none"
		case types.ToolChoiceTool:
			out.ToolChoice = types.OpenAIToolChoiceFunction{
				Type:     "function",
				Function: types.OpenAIToolChoiceFunctionName{Name: req.ToolChoice.Name},
			}
		default:
			return nil, nil, types.NewValidationError("tool_choice", "unknown kind %q", req.ToolChoice.Kind)
		}
	}

	c.mergeExtensions(req, provider, out, rec)

	return out, rec.fallbacks, nil
}

// encodeUserMessage converts one user turn. Tool results become
// provider tool messages in block order; the remaining text and image
// blocks form a single user message, as a plain string when no images
// are present and as a content part array otherwise.
func (c *Converter) encodeUserMessage(msg types.Message, field string, rec *recorder) []types.OpenAIMessage {
	var toolMessages []types.OpenAIMessage
	var parts []types.OpenAIContentPart
	hasImage := false

	for i, block := range msg.Content {
		blockField := fmt.Sprintf("%s.content[%d]", field, i)
		switch b := block.(type) {
		case types.TextBlock:
			parts = append(parts, types.OpenAIContentPart{Type: "text", Text: b.Text})

		case types.ImageBlock:
			if !knownImageMediaTypes[b.MediaType] {
				rec.record(types.FallbackUnknownMedia, "%s has media type %q, forwarding anyway", blockField, b.MediaType)
			}
			parts = append(parts, types.OpenAIContentPart{
				Type:     "image_url",
				ImageURL: &types.OpenAIImageURL{URL: imageDataURI(b)},
			})
			hasImage = true

		case types.ToolUseBlock:
			rec.record(types.FallbackUnsupportedBlock, "%s: tool_use in a user turn has no provider equivalent, degraded to text", blockField)
			parts = append(parts, types.OpenAIContentPart{Type: "text", Text: fmt.Sprintf("[tool_use %s]", b.Name)})

		case types.ToolResultBlock:
			toolMessages = append(toolMessages, types.OpenAIMessage{
				Role:       "tool",
				ToolCallID: ToolIDToProvider(b.ToolUseID),
				Content:    c.flattenToolResult(b, blockField, rec),
			})

		default:
			rec.record(types.FallbackUnsupportedBlock, "%s: unknown block type %T degraded to empty text", blockField, block)
			parts = append(parts, types.OpenAIContentPart{Type: "text", Text: ""})
		}
	}

	messages := toolMessages
	if len(parts) > 0 {
		if hasImage {
			messages = append(messages, types.OpenAIMessage{Role: types.RoleUser, Content: parts})
		} else {
			messages = append(messages, types.OpenAIMessage{Role: types.RoleUser, Content: joinTextParts(parts)})
		}
	}
	return messages
}

// encodeAssistantMessage converts one assistant turn. Text blocks merge
// into the message content, tool use blocks become tool calls in block
// order.
func (c *Converter) encodeAssistantMessage(msg types.Message, field string, rec *recorder) types.OpenAIMessage {
	var texts []string
	var calls []types.OpenAIToolCall

	for i, block := range msg.Content {
		blockField := fmt.Sprintf("%s.content[%d]", field, i)
		switch b := block.(type) {
		case types.TextBlock:
			texts = append(texts, b.Text)

		case types.ToolUseBlock:
			arguments := string(b.Input)
			if arguments == "" {
				arguments = "{}"
			}
			calls = append(calls, types.OpenAIToolCall{
				ID:       ToolIDToProvider(b.ID),
				Type:     "function",
				Function: types.OpenAIToolCallFunction{Name: b.Name, Arguments: arguments},
				Index:    len(calls),
			})

		case types.ImageBlock:
			rec.record(types.FallbackUnsupportedBlock, "%s: image in an assistant turn has no provider equivalent, degraded to text", blockField)
			texts = append(texts, fmt.Sprintf("[image %s]", b.MediaType))

		case types.ToolResultBlock:
			rec.record(types.FallbackUnsupportedBlock, "%s: tool_result in an assistant turn has no provider equivalent, degraded to text", blockField)
			texts = append(texts, fmt.Sprintf("[tool_result for %s]", b.ToolUseID))

		default:
			rec.record(types.FallbackUnsupportedBlock, "%s: unknown block type %T degraded to empty text", blockField, block)
		}
	}

	message := types.OpenAIMessage{Role: types.RoleAssistant, Content: strings.Join(texts, "\n")}
	if len(calls) > 0 {
		message.ToolCalls = calls
	}
	return message
}

// flattenToolResult renders tool result content as the plain string the
// provider's tool role requires.
func (c *Converter) flattenToolResult(block types.ToolResultBlock, field string, rec *recorder) string {
	var texts []string
	for _, inner := range block.Content {
		switch b := inner.(type) {
		case types.TextBlock:
			texts = append(texts, b.Text)
		case types.ImageBlock:
			rec.record(types.FallbackUnsupportedBlock, "%s: image inside tool_result degraded to text", field)
			texts = append(texts, fmt.Sprintf("[image %s]", b.MediaType))
		default:
			rec.record(types.FallbackUnsupportedBlock, "%s: block type %T inside tool_result degraded to text", field, inner)
		}
	}
	return strings.Join(texts, "\n")
}

// flattenToText renders a block list as plain text, degrading anything
// that is not text.
func flattenToText(blocks []types.ContentBlock, field string, rec *recorder) string {
	var texts []string
	for i, block := range blocks {
		switch b := block.(type) {
		case types.TextBlock:
			texts = append(texts, b.Text)
		default:
			rec.record(types.FallbackUnsupportedBlock, "%s[%d]: block type %T degraded to text placeholder", field, i, block)
			texts = append(texts, fmt.Sprintf("[%s]", b.BlockType()))
		}
	}
	return strings.Join(texts, "\n")
}

// mergeExtensions copies allow-listed extension keys into the provider
// request, dropping and recording the rest. Keys are visited in sorted
// order so the produced request is deterministic.
func (c *Converter) mergeExtensions(req *types.CanonicalRequest, provider string, out *types.OpenAIRequest, rec *recorder) {
	if len(req.Extensions) == 0 {
		return
	}

	allowed := c.policy.AllowedFor(provider)
	keys := make([]string, 0, len(req.Extensions))
	for key := range req.Extensions {
		keys = append(keys, key)
	}
	sort.Strings(keys)

	for _, key := range keys {
		if !allowed[key] {
			rec.record(types.FallbackDroppedExtension, "extension %q is not on the %s allow-list", key, provider)
			continue
		}
		if out.Extra == nil {
			out.Extra = make(map[string]interface{})
		}
		out.Extra[key] = req.Extensions[key]
	}
}

// imageDataURI frames an image block as the provider's inline form.
// The base64 payload is untouched, so converting the URI back recovers
// the original bytes exactly.
func imageDataURI(block types.ImageBlock) string {
	return "data:" + block.MediaType + ";base64," + block.Data
}

// ParseImageDataURI splits a data URI back into its media type and
// base64 payload. The boolean reports whether the URI was inline
// base64 data at all.
func ParseImageDataURI(uri string) (mediaType, data string, ok bool) {
	if !strings.HasPrefix(uri, "data:") {
		return "", "", false
	}
	rest := strings.TrimPrefix(uri, "data:")
	sep := strings.Index(rest, ";base64,")
	if sep == -1 {
		return "", "", false
	}
	return rest[:sep], rest[sep+len(";base64,"):], true
}

func joinTextParts(parts []types.OpenAIContentPart) string {
	texts := make([]string, 0, len(parts))
	for _, part := range parts {
		texts = append(texts, part.Text)
	}
	return strings.Join(texts, "\n")
}
