package cache

import (
	"encoding/json"
	"fmt"

	"claude-gateway/types"
)

// CachedValue is what one request key maps to. Both representations of
// the same response are kept: the canonical response serves
// non-streaming callers and the recorded event sequence replays for
// streaming callers, so one entry satisfies either delivery mode.
type CachedValue struct {
	Response *types.CanonicalResponse
	Events   []types.StreamEvent
}

type cachedValueEnvelope struct {
	Response *cachedResponseEnvelope `json:"response,omitempty"`
	Events   []json.RawMessage       `json:"events,omitempty"`
}

type cachedResponseEnvelope struct {
	ID         string            `json:"id"`
	Model      string            `json:"model"`
	Content    []json.RawMessage `json:"content"`
	StopReason string            `json:"stop_reason"`
	Usage      types.Usage       `json:"usage"`
}

// MarshalJSON serializes the value with content blocks and events in
// their client wire shapes, so persisted entries stay readable across
// versions that agree on the wire protocol.
func (v *CachedValue) MarshalJSON() ([]byte, error) {
	env := cachedValueEnvelope{}

	if v.Response != nil {
		resp := &cachedResponseEnvelope{
			ID:         v.Response.ID,
			Model:      v.Response.Model,
			StopReason: string(v.Response.StopReason),
			Usage:      v.Response.Usage,
			Content:    make([]json.RawMessage, 0, len(v.Response.Content)),
		}
		for _, block := range v.Response.Content {
			raw, err := types.MarshalContentBlock(block)
			if err != nil {
				return nil, fmt.Errorf("marshal cached content block: %w", err)
			}
			resp.Content = append(resp.Content, raw)
		}
		env.Response = resp
	}

	for _, event := range v.Events {
		raw, err := types.MarshalStreamEvent(event)
		if err != nil {
			return nil, fmt.Errorf("marshal cached event: %w", err)
		}
		env.Events = append(env.Events, raw)
	}

	return json.Marshal(env)
}

// UnmarshalJSON is the inverse of MarshalJSON.
func (v *CachedValue) UnmarshalJSON(data []byte) error {
	var env cachedValueEnvelope
	if err := json.Unmarshal(data, &env); err != nil {
		return err
	}

	v.Response = nil
	v.Events = nil

	if env.Response != nil {
		resp := &types.CanonicalResponse{
			ID:         env.Response.ID,
			Model:      env.Response.Model,
			StopReason: types.StopReason(env.Response.StopReason),
			Usage:      env.Response.Usage,
		}
		for _, raw := range env.Response.Content {
			block, err := types.UnmarshalContentBlock(raw)
			if err != nil {
				return fmt.Errorf("unmarshal cached content block: %w", err)
			}
			resp.Content = append(resp.Content, block)
		}
		v.Response = resp
	}

	for _, raw := range env.Events {
		event, err := types.UnmarshalStreamEvent(raw)
		if err != nil {
			return fmt.Errorf("unmarshal cached event: %w", err)
		}
		v.Events = append(v.Events, event)
	}

	return nil
}
