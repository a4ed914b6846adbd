package convert

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"claude-gateway/types"
)

func testRequest(messages ...types.Message) *types.CanonicalRequest {
	return &types.CanonicalRequest{
		Model:     "gpt-4o",
		MaxTokens: 100,
		Messages:  messages,
	}
}

func TestEncodeProviderRequest_SystemBecomesSystemMessage(t *testing.T) {
	c := New(nil, nil)

	req := testRequest(types.Message{Role: types.RoleUser, Content: []types.ContentBlock{types.TextBlock{Text: "hi"}}})
	req.System = []types.ContentBlock{types.TextBlock{Text: "be brief"}}

	out, fallbacks, err := c.EncodeProviderRequest(req, "openai")
	require.NoError(t, err)
	assert.Empty(t, fallbacks)

	require.Len(t, out.Messages, 2)
	assert.Equal(t, types.RoleSystem, out.Messages[0].Role)
	assert.Equal(t, "be brief", out.Messages[0].Content)
	assert.Equal(t, types.RoleUser, out.Messages[1].Role)
	assert.Equal(t, "hi", out.Messages[1].Content)
}

// TestEncodeProviderRequest_ToolResultsSplitIntoToolMessages covers the
// shape mismatch between the two wires: tool results are content blocks
// on the client side but standalone tool-role messages on the provider
// side. Block order must survive as message order.
func TestEncodeProviderRequest_ToolResultsSplitIntoToolMessages(t *testing.T) {
	c := New(nil, nil)

	req := testRequest(
		types.Message{Role: types.RoleAssistant, Content: []types.ContentBlock{
			types.ToolUseBlock{ID: "toolu_abc", Name: "get_weather", Input: json.RawMessage(`{"city":"Oslo"}`)},
			types.ToolUseBlock{ID: "toolu_def", Name: "get_time", Input: json.RawMessage(`{}`)},
		}},
		types.Message{Role: types.RoleUser, Content: []types.ContentBlock{
			types.ToolResultBlock{ToolUseID: "toolu_abc", Content: []types.ContentBlock{types.TextBlock{Text: "rainy"}}},
			types.ToolResultBlock{ToolUseID: "toolu_def", Content: []types.ContentBlock{types.TextBlock{Text: "noon"}}, IsError: false},
			types.TextBlock{Text: "now answer"},
		}},
	)

	out, fallbacks, err := c.EncodeProviderRequest(req, "openai")
	require.NoError(t, err)
	assert.Empty(t, fallbacks)

	require.Len(t, out.Messages, 4)

	assistant := out.Messages[0]
	assert.Equal(t, types.RoleAssistant, assistant.Role)
	require.Len(t, assistant.ToolCalls, 2)
	assert.Equal(t, "call_abc", assistant.ToolCalls[0].ID)
	assert.Equal(t, "get_weather", assistant.ToolCalls[0].Function.Name)
	assert.Equal(t, 0, assistant.ToolCalls[0].Index)
	assert.Equal(t, "call_def", assistant.ToolCalls[1].ID)
	assert.Equal(t, 1, assistant.ToolCalls[1].Index)

	first := out.Messages[1]
	assert.Equal(t, "tool", first.Role)
	assert.Equal(t, "call_abc", first.ToolCallID)
	assert.Equal(t, "rainy", first.Content)

	second := out.Messages[2]
	assert.Equal(t, "call_def", second.ToolCallID)
	assert.Equal(t, "noon", second.Content)

	user := out.Messages[3]
	assert.Equal(t, types.RoleUser, user.Role)
	assert.Equal(t, "now answer", user.Content)
}

func TestEncodeProviderRequest_ImagesBecomeContentParts(t *testing.T) {
	c := New(nil, nil)

	req := testRequest(types.Message{Role: types.RoleUser, Content: []types.ContentBlock{
		types.TextBlock{Text: "what is this?"},
		types.ImageBlock{MediaType: "image/png", Data: "aGVsbG8="},
	}})

	out, fallbacks, err := c.EncodeProviderRequest(req, "openai")
	require.NoError(t, err)
	assert.Empty(t, fallbacks)

	require.Len(t, out.Messages, 1)
	parts, ok := out.Messages[0].Content.([]types.OpenAIContentPart)
	require.True(t, ok, "content with images must be a part array")
	require.Len(t, parts, 2)
	assert.Equal(t, "text", parts[0].Type)
	assert.Equal(t, "image_url", parts[1].Type)
	assert.Equal(t, "data:image/png;base64,aGVsbG8=", parts[1].ImageURL.URL)
}

func TestEncodeProviderRequest_UnknownImageMediaTypeRecordsFallback(t *testing.T) {
	c := New(nil, nil)

	req := testRequest(types.Message{Role: types.RoleUser, Content: []types.ContentBlock{
		types.ImageBlock{MediaType: "image/tiff", Data: "eA=="},
	}})

	out, fallbacks, err := c.EncodeProviderRequest(req, "openai")
	require.NoError(t, err)

	require.Len(t, fallbacks, 1)
	assert.Equal(t, types.FallbackUnknownMedia, fallbacks[0].Kind)

	// the image is still forwarded
	parts := out.Messages[0].Content.([]types.OpenAIContentPart)
	assert.Equal(t, "data:image/tiff;base64,eA==", parts[0].ImageURL.URL)
}

func TestEncodeProviderRequest_EmptyToolInputBecomesEmptyObject(t *testing.T) {
	c := New(nil, nil)

	req := testRequest(types.Message{Role: types.RoleAssistant, Content: []types.ContentBlock{
		types.ToolUseBlock{ID: "toolu_1", Name: "ping"},
	}})

	out, _, err := c.EncodeProviderRequest(req, "openai")
	require.NoError(t, err)
	assert.Equal(t, "{}", out.Messages[0].ToolCalls[0].Function.Arguments)
}

func TestEncodeProviderRequest_ToolsAndToolChoice(t *testing.T) {
	c := New(nil, nil)

	schema := json.RawMessage(`{"type":"object","properties":{"city":{"type":"string"}}}`)
	req := testRequest(types.Message{Role: types.RoleUser, Content: []types.ContentBlock{types.TextBlock{Text: "x"}}})
	req.Tools = []types.ToolSpec{{Name: "get_weather", Description: "weather", InputSchema: schema}}
	req.ToolChoice = &types.ToolChoice{Kind: types.ToolChoiceTool, Name: "get_weather"}

	out, _, err := c.EncodeProviderRequest(req, "openai")
	require.NoError(t, err)

	require.Len(t, out.Tools, 1)
	assert.Equal(t, "function", out.Tools[0].Type)
	assert.Equal(t, "get_weather", out.Tools[0].Function.Name)
	assert.Equal(t, string(schema), string(out.Tools[0].Function.Parameters))

	forced, ok := out.ToolChoice.(types.OpenAIToolChoiceFunction)
	require.True(t, ok)
	assert.Equal(t, "function", forced.Type)
	assert.Equal(t, "get_weather", forced.Function.Name)
}

func TestEncodeProviderRequest_ToolChoiceStrings(t *testing.T) {
	c := New(nil, nil)

	tests := []struct {
		name     string
		kind     string
		expected string
	}{
		{name: "auto_maps_to_auto", kind: types.ToolChoiceAuto, expected: "auto"},
		{name: "none_maps_to_none", kind: types.ToolChoiceNone, expected: "none"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := testRequest(types.Message{Role: types.RoleUser, Content: []types.ContentBlock{types.TextBlock{Text: "x"}}})
			req.ToolChoice = &types.ToolChoice{Kind: tt.kind}

			out, _, err := c.EncodeProviderRequest(req, "openai")
			require.NoError(t, err)
			assert.Equal(t, tt.expected, out.ToolChoice)
		})
	}
}

func TestEncodeProviderRequest_ExtensionAllowList(t *testing.T) {
	c := New(nil, nil)

	req := testRequest(types.Message{Role: types.RoleUser, Content: []types.ContentBlock{types.TextBlock{Text: "x"}}})
	req.Extensions = map[string]interface{}{
		"seed":        float64(7),
		"magic_sauce": true,
		"logit_bias":  map[string]interface{}{"50256": float64(-100)},
	}

	out, fallbacks, err := c.EncodeProviderRequest(req, "openai")
	require.NoError(t, err)

	assert.Equal(t, float64(7), out.Extra["seed"])
	assert.Contains(t, out.Extra, "logit_bias")
	assert.NotContains(t, out.Extra, "magic_sauce")

	require.Len(t, fallbacks, 1)
	assert.Equal(t, types.FallbackDroppedExtension, fallbacks[0].Kind)
	assert.Contains(t, fallbacks[0].Detail, "magic_sauce")
}

func TestOpenAIRequestMarshal_MergesExtraWithoutShadowing(t *testing.T) {
	req := types.OpenAIRequest{
		Model:    "gpt-4o",
		Messages: []types.OpenAIMessage{{Role: "user", Content: "x"}},
		Extra: map[string]interface{}{
			"seed":  7,
			"model": "spoofed",
		},
	}

	data, err := json.Marshal(req)
	require.NoError(t, err)

	var decoded map[string]interface{}
	require.NoError(t, json.Unmarshal(data, &decoded))
	assert.Equal(t, "gpt-4o", decoded["model"], "declared fields win over extensions")
	assert.Equal(t, float64(7), decoded["seed"])
}

func TestEncodeProviderRequest_UnknownRoleFails(t *testing.T) {
	c := New(nil, nil)

	req := testRequest(types.Message{Role: "moderator", Content: []types.ContentBlock{types.TextBlock{Text: "x"}}})

	_, _, err := c.EncodeProviderRequest(req, "openai")
	require.Error(t, err)

	var ve *types.ValidationError
	require.ErrorAs(t, err, &ve)
	assert.Equal(t, "messages[0].role", ve.Field)
}

func TestProviderToolIDConversion(t *testing.T) {
	tests := []struct {
		name     string
		id       string
		provider string
		back     string
	}{
		{name: "client_prefix_swaps", id: "toolu_abc123", provider: "call_abc123", back: "toolu_abc123"},
		{name: "foreign_id_passes_through", id: "xyz-99", provider: "xyz-99", back: "xyz-99"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.provider, ToolIDToProvider(tt.id))
			assert.Equal(t, tt.back, ToolIDFromProvider(ToolIDToProvider(tt.id)))
		})
	}
}

func TestParseImageDataURI(t *testing.T) {
	mediaType, data, ok := ParseImageDataURI("data:image/png;base64,aGVsbG8=")
	require.True(t, ok)
	assert.Equal(t, "image/png", mediaType)
	assert.Equal(t, "aGVsbG8=", data)

	_, _, ok = ParseImageDataURI("https://example.com/cat.png")
	assert.False(t, ok)
}
