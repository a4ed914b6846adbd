package convert

import (
	"encoding/json"
	"fmt"

	"claude-gateway/types"
)

// Validate checks cross-field consistency of a canonical request. It
// runs before any conversion or provider call, so a request that fails
// here never costs an upstream round trip.
func (c *Converter) Validate(req *types.CanonicalRequest) error {
	if req == nil {
		return types.NewValidationError("request", "must not be nil")
	}
	if req.Model == "" {
		return types.NewValidationError("model", "must not be empty")
	}
	if req.MaxTokens < 1 {
		return types.NewValidationError("max_tokens", "must be at least 1")
	}
	if len(req.Messages) == 0 {
		return types.NewValidationError("messages", "must not be empty")
	}

	declaredTools := make(map[string]bool, len(req.Tools))
	for i, tool := range req.Tools {
		field := fmt.Sprintf("tools[%d]", i)
		if tool.Name == "" {
			return types.NewValidationError(field+".name", "must not be empty")
		}
		if declaredTools[tool.Name] {
			return types.NewValidationError(field+".name", "duplicate tool name %q", tool.Name)
		}
		declaredTools[tool.Name] = true
		if err := validateToolSchema(field+".input_schema", tool.InputSchema); err != nil {
			return err
		}
	}

	if req.ToolChoice != nil {
		switch req.ToolChoice.Kind {
		case types.ToolChoiceAuto, types.ToolChoiceNone:
		case types.ToolChoiceTool:
			if !declaredTools[req.ToolChoice.Name] {
				return types.NewValidationError("tool_choice.name", "tool %q is not declared in tools", req.ToolChoice.Name)
			}
		default:
			return types.NewValidationError("tool_choice.kind", "unknown value %q", req.ToolChoice.Kind)
		}
	}

	// Tool results must reference a tool use from an earlier turn.
	seenToolUses := make(map[string]bool)
	for i, msg := range req.Messages {
		field := fmt.Sprintf("messages[%d]", i)
		switch msg.Role {
		case types.RoleUser, types.RoleAssistant, types.RoleSystem:
		default:
			return types.NewValidationError(field+".role", "unknown value %q", msg.Role)
		}

		for j, block := range msg.Content {
			blockField := fmt.Sprintf("%s.content[%d]", field, j)
			switch b := block.(type) {
			case types.ToolUseBlock:
				if msg.Role != types.RoleAssistant {
					return types.NewValidationError(blockField, "tool_use blocks only appear in assistant turns")
				}
				seenToolUses[b.ID] = true
			case types.ToolResultBlock:
				if msg.Role != types.RoleUser {
					return types.NewValidationError(blockField, "tool_result blocks only appear in user turns")
				}
				if !seenToolUses[b.ToolUseID] {
					return types.NewValidationError(blockField, "tool_result references unknown tool_use id %q", b.ToolUseID)
				}
			}
		}
	}

	return nil
}

// schemaShape is the minimal structural probe of a tool input schema.
// The schema itself passes through to the provider untouched; only its
// skeleton is checked here.
type schemaShape struct {
	Type       string                     `json:"type"`
	Properties map[string]json.RawMessage `json:"properties"`
	Required   []string                   `json:"required"`
}

func validateToolSchema(field string, raw json.RawMessage) error {
	if len(raw) == 0 {
		return types.NewValidationError(field, "must not be empty")
	}

	var shape schemaShape
	if err := json.Unmarshal(raw, &shape); err != nil {
		return types.NewValidationError(field, "must be a JSON object: %v", err)
	}
	if shape.Type != "object" {
		return types.NewValidationError(field, "schema type must be \"object\", got %q", shape.Type)
	}
	for _, name := range shape.Required {
		if _, ok := shape.Properties[name]; !ok {
			return types.NewValidationError(field, "required property %q is not declared in properties", name)
		}
	}
	return nil
}
