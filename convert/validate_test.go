package convert

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"claude-gateway/types"
)

func validRequest() *types.CanonicalRequest {
	return &types.CanonicalRequest{
		Model:     "gpt-4o",
		MaxTokens: 100,
		Messages: []types.Message{
			{Role: types.RoleUser, Content: []types.ContentBlock{types.TextBlock{Text: "hi"}}},
		},
	}
}

func TestValidate_AcceptsWellFormedRequest(t *testing.T) {
	c := New(nil, nil)
	require.NoError(t, c.Validate(validRequest()))
}

func TestValidate_BasicFieldChecks(t *testing.T) {
	c := New(nil, nil)

	tests := []struct {
		name   string
		mutate func(*types.CanonicalRequest)
		field  string
	}{
		{
			name:   "empty_model",
			mutate: func(r *types.CanonicalRequest) { r.Model = "" },
			field:  "model",
		},
		{
			name:   "zero_max_tokens",
			mutate: func(r *types.CanonicalRequest) { r.MaxTokens = 0 },
			field:  "max_tokens",
		},
		{
			name:   "no_messages",
			mutate: func(r *types.CanonicalRequest) { r.Messages = nil },
			field:  "messages",
		},
		{
			name: "unknown_role",
			mutate: func(r *types.CanonicalRequest) {
				r.Messages[0].Role = "narrator"
			},
			field: "messages[0].role",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := validRequest()
			tt.mutate(req)

			err := c.Validate(req)
			require.Error(t, err)

			var ve *types.ValidationError
			require.ErrorAs(t, err, &ve)
			assert.Equal(t, tt.field, ve.Field)
		})
	}
}

func TestValidate_ToolSchemas(t *testing.T) {
	c := New(nil, nil)

	tests := []struct {
		name    string
		schema  string
		wantErr bool
	}{
		{
			name:    "object_schema_accepted",
			schema:  `{"type":"object","properties":{"q":{"type":"string"}},"required":["q"]}`,
			wantErr: false,
		},
		{
			name:    "object_without_required_accepted",
			schema:  `{"type":"object"}`,
			wantErr: false,
		},
		{
			name:    "non_object_type_rejected",
			schema:  `{"type":"string"}`,
			wantErr: true,
		},
		{
			name:    "required_not_in_properties_rejected",
			schema:  `{"type":"object","properties":{"a":{}},"required":["b"]}`,
			wantErr: true,
		},
		{
			name:    "schema_not_an_object_rejected",
			schema:  `["not","a","schema"]`,
			wantErr: true,
		},
		{
			name:    "empty_schema_rejected",
			schema:  ``,
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := validRequest()
			req.Tools = []types.ToolSpec{{Name: "probe", InputSchema: json.RawMessage(tt.schema)}}

			err := c.Validate(req)
			if tt.wantErr {
				var ve *types.ValidationError
				require.ErrorAs(t, err, &ve)
			} else {
				require.NoError(t, err)
			}
		})
	}
}

func TestValidate_DuplicateToolNames(t *testing.T) {
	c := New(nil, nil)

	req := validRequest()
	schema := json.RawMessage(`{"type":"object"}`)
	req.Tools = []types.ToolSpec{
		{Name: "lookup", InputSchema: schema},
		{Name: "lookup", InputSchema: schema},
	}

	err := c.Validate(req)
	var ve *types.ValidationError
	require.ErrorAs(t, err, &ve)
	assert.Equal(t, "tools[1].name", ve.Field)
}

func TestValidate_ToolChoiceMustNameDeclaredTool(t *testing.T) {
	c := New(nil, nil)

	req := validRequest()
	req.Tools = []types.ToolSpec{{Name: "lookup", InputSchema: json.RawMessage(`{"type":"object"}`)}}
	req.ToolChoice = &types.ToolChoice{Kind: types.ToolChoiceTool, Name: "phantom"}

	err := c.Validate(req)
	var ve *types.ValidationError
	require.ErrorAs(t, err, &ve)
	assert.Equal(t, "tool_choice.name", ve.Field)

	req.ToolChoice.Name = "lookup"
	require.NoError(t, c.Validate(req))
}

func TestValidate_ToolUseAndResultPlacement(t *testing.T) {
	c := New(nil, nil)

	t.Run("tool_use_in_user_turn_rejected", func(t *testing.T) {
		req := validRequest()
		req.Messages = []types.Message{
			{Role: types.RoleUser, Content: []types.ContentBlock{
				types.ToolUseBlock{ID: "toolu_1", Name: "f", Input: json.RawMessage(`{}`)},
			}},
		}

		err := c.Validate(req)
		var ve *types.ValidationError
		require.ErrorAs(t, err, &ve)
	})

	t.Run("tool_result_in_assistant_turn_rejected", func(t *testing.T) {
		req := validRequest()
		req.Messages = []types.Message{
			{Role: types.RoleAssistant, Content: []types.ContentBlock{
				types.ToolResultBlock{ToolUseID: "toolu_1"},
			}},
		}

		err := c.Validate(req)
		var ve *types.ValidationError
		require.ErrorAs(t, err, &ve)
	})

	t.Run("tool_result_must_reference_earlier_tool_use", func(t *testing.T) {
		req := validRequest()
		req.Messages = []types.Message{
			{Role: types.RoleUser, Content: []types.ContentBlock{
				types.ToolResultBlock{ToolUseID: "toolu_never_issued"},
			}},
		}

		err := c.Validate(req)
		var ve *types.ValidationError
		require.ErrorAs(t, err, &ve)
		assert.Contains(t, ve.Message, "toolu_never_issued")
	})

	t.Run("linked_tool_use_and_result_accepted", func(t *testing.T) {
		req := validRequest()
		req.Messages = []types.Message{
			{Role: types.RoleUser, Content: []types.ContentBlock{types.TextBlock{Text: "weather?"}}},
			{Role: types.RoleAssistant, Content: []types.ContentBlock{
				types.ToolUseBlock{ID: "toolu_1", Name: "get_weather", Input: json.RawMessage(`{}`)},
			}},
			{Role: types.RoleUser, Content: []types.ContentBlock{
				types.ToolResultBlock{ToolUseID: "toolu_1", Content: []types.ContentBlock{types.TextBlock{Text: "sunny"}}},
			}},
		}

		require.NoError(t, c.Validate(req))
	})
}

func TestStopReasonFromFinish(t *testing.T) {
	tests := []struct {
		name     string
		finish   string
		expected types.StopReason
		known    bool
	}{
		{name: "stop_maps_to_end_turn", finish: "stop", expected: types.StopEndTurn, known: true},
		{name: "length_maps_to_max_tokens", finish: "length", expected: types.StopMaxTokens, known: true},
		{name: "tool_calls_maps_to_tool_use", finish: "tool_calls", expected: types.StopToolUse, known: true},
		{name: "function_call_maps_to_tool_use", finish: "function_call", expected: types.StopToolUse, known: true},
		{name: "content_filter_maps_to_stop_sequence", finish: "content_filter", expected: types.StopStopSequence, known: true},
		{name: "unknown_falls_back_to_end_turn", finish: "exotic", expected: types.StopEndTurn, known: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			reason, known := StopReasonFromFinish(tt.finish)
			assert.Equal(t, tt.expected, reason)
			assert.Equal(t, tt.known, known)
		})
	}
}
