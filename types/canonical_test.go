package types

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestCanonicalRequest_CacheEligibility(t *testing.T) {
	tools := []ToolSpec{{Name: "get_weather", InputSchema: json.RawMessage(`{"type":"object"}`)}}

	tests := []struct {
		name     string
		req      CanonicalRequest
		eligible bool
	}{
		{
			name:     "plain_request_is_eligible",
			req:      CanonicalRequest{},
			eligible: true,
		},
		{
			name:     "opt_out_disables",
			req:      CanonicalRequest{CacheOptions: &CacheOptions{Disable: true}},
			eligible: false,
		},
		{
			name:     "tools_without_options_are_ineligible",
			req:      CanonicalRequest{Tools: tools},
			eligible: false,
		},
		{
			name:     "tools_without_idempotency_marker_are_ineligible",
			req:      CanonicalRequest{Tools: tools, CacheOptions: &CacheOptions{}},
			eligible: false,
		},
		{
			name:     "idempotent_tools_are_eligible",
			req:      CanonicalRequest{Tools: tools, CacheOptions: &CacheOptions{ToolsIdempotent: true}},
			eligible: true,
		},
		{
			name:     "opt_out_beats_idempotency",
			req:      CanonicalRequest{Tools: tools, CacheOptions: &CacheOptions{Disable: true, ToolsIdempotent: true}},
			eligible: false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.eligible, tt.req.CacheEligible())
		})
	}
}

func TestCanonicalRequest_CacheDisabled(t *testing.T) {
	assert.False(t, (&CanonicalRequest{}).CacheDisabled())
	assert.False(t, (&CanonicalRequest{CacheOptions: &CacheOptions{}}).CacheDisabled())
	assert.True(t, (&CanonicalRequest{CacheOptions: &CacheOptions{Disable: true}}).CacheDisabled())
}

func TestCanonicalResponse_TextContent(t *testing.T) {
	resp := &CanonicalResponse{Content: []ContentBlock{
		TextBlock{Text: "It is "},
		ToolUseBlock{ID: "toolu_1", Name: "get_weather"},
		TextBlock{Text: "18C."},
	}}

	assert.Equal(t, "It is 18C.", resp.TextContent())
	assert.Equal(t, "", (&CanonicalResponse{}).TextContent())
}

func TestCanonicalResponse_ToolUses(t *testing.T) {
	first := ToolUseBlock{ID: "toolu_1", Name: "get_weather", Input: json.RawMessage(`{"city":"Lima"}`)}
	second := ToolUseBlock{ID: "toolu_2", Name: "get_time"}
	resp := &CanonicalResponse{Content: []ContentBlock{
		TextBlock{Text: "Checking."},
		first,
		second,
	}}

	assert.Equal(t, []ToolUseBlock{first, second}, resp.ToolUses())
	assert.Empty(t, (&CanonicalResponse{}).ToolUses())
}
