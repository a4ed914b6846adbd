package types

import (
	"encoding/json"
	"fmt"
)

// StreamEvent is one client-facing streaming event. The variant set is
// closed and mirrors the client wire protocol: MessageStartEvent,
// BlockStartEvent, BlockDeltaEvent, BlockStopEvent, MessageDeltaEvent
// and MessageStopEvent. For any block index the reconstructor emits
// BlockStart, then zero or more BlockDelta, then BlockStop, in that
// order, exactly once each.
type StreamEvent interface {
	EventType() string
}

// MessageStartEvent opens the response message. Emitted exactly once
// per request, before any block event.
type MessageStartEvent struct {
	ID    string
	Model string
	Usage Usage
}

func (MessageStartEvent) EventType() string { return "message_start" }

// BlockStartEvent opens one content block at the given index. For tool
// use blocks the ID and Name are known at start; Input arrives later as
// InputJSONDelta fragments.
type BlockStartEvent struct {
	Index int
	Block ContentBlock
}

func (BlockStartEvent) EventType() string { return "content_block_start" }

// BlockDelta is an incremental payload for an open block. The variant
// set is closed: TextDelta and InputJSONDelta.
type BlockDelta interface {
	DeltaType() string
}

// TextDelta appends text to an open text block.
type TextDelta struct {
	Text string
}

func (TextDelta) DeltaType() string { return "text_delta" }

// InputJSONDelta appends a raw fragment of tool-call argument JSON. A
// single fragment is not necessarily valid JSON on its own; fragments
// only parse once the block closes.
type InputJSONDelta struct {
	PartialJSON string
}

func (InputJSONDelta) DeltaType() string { return "input_json_delta" }

// BlockDeltaEvent carries one delta for the block at Index.
type BlockDeltaEvent struct {
	Index int
	Delta BlockDelta
}

func (BlockDeltaEvent) EventType() string { return "content_block_delta" }

// BlockStopEvent closes the block at Index. No further deltas for that
// index may follow.
type BlockStopEvent struct {
	Index int
}

func (BlockStopEvent) EventType() string { return "content_block_stop" }

// MessageDeltaEvent carries message-level trailing data: the stop
// reason and, when the provider reported it, final usage.
type MessageDeltaEvent struct {
	StopReason StopReason
	Usage      *Usage
}

func (MessageDeltaEvent) EventType() string { return "message_delta" }

// MessageStopEvent terminates the stream. Emitted exactly once, after
// every block has closed.
type MessageStopEvent struct{}

func (MessageStopEvent) EventType() string { return "message_stop" }

// Wire envelopes. These mirror the client streaming protocol so that
// marshaled events are valid SSE data payloads and cached event
// sequences survive a serialization round trip.

type messageStartEnvelope struct {
	Type    string           `json:"type"`
	Message messageStartBody `json:"message"`
}

type messageStartBody struct {
	ID           string        `json:"id"`
	Type         string        `json:"type"`
	Role         string        `json:"role"`
	Model        string        `json:"model"`
	Content      []interface{} `json:"content"`
	StopReason   *string       `json:"stop_reason"`
	StopSequence *string       `json:"stop_sequence"`
	Usage        Usage         `json:"usage"`
}

type blockStartEnvelope struct {
	Type  string          `json:"type"`
	Index int             `json:"index"`
	Block json.RawMessage `json:"content_block"`
}

type blockDeltaEnvelope struct {
	Type  string         `json:"type"`
	Index int            `json:"index"`
	Delta blockDeltaBody `json:"delta"`
}

type blockDeltaBody struct {
	Type        string `json:"type"`
	Text        string `json:"text,omitempty"`
	PartialJSON string `json:"partial_json,omitempty"`
}

type blockStopEnvelope struct {
	Type  string `json:"type"`
	Index int    `json:"index"`
}

type messageDeltaEnvelope struct {
	Type  string           `json:"type"`
	Delta messageDeltaBody `json:"delta"`
	Usage *Usage           `json:"usage,omitempty"`
}

type messageDeltaBody struct {
	StopReason   string  `json:"stop_reason"`
	StopSequence *string `json:"stop_sequence"`
}

type messageStopEnvelope struct {
	Type string `json:"type"`
}

type eventProbe struct {
	Type string `json:"type"`
}

// MarshalStreamEvent serializes one event into its client wire form,
// suitable for an SSE data line or for cache storage.
func MarshalStreamEvent(event StreamEvent) ([]byte, error) {
	switch e := event.(type) {
	case MessageStartEvent:
		return json.Marshal(messageStartEnvelope{
			Type: e.EventType(),
			Message: messageStartBody{
				ID:      e.ID,
				Type:    "message",
				Role:    RoleAssistant,
				Model:   e.Model,
				Content: []interface{}{},
				Usage:   e.Usage,
			},
		})
	case BlockStartEvent:
		block, err := MarshalContentBlock(e.Block)
		if err != nil {
			return nil, err
		}
		return json.Marshal(blockStartEnvelope{Type: e.EventType(), Index: e.Index, Block: block})
	case BlockDeltaEvent:
		body := blockDeltaBody{}
		switch d := e.Delta.(type) {
		case TextDelta:
			body.Type = d.DeltaType()
			body.Text = d.Text
		case InputJSONDelta:
			body.Type = d.DeltaType()
			body.PartialJSON = d.PartialJSON
		default:
			return nil, fmt.Errorf("unknown block delta type %T", e.Delta)
		}
		return json.Marshal(blockDeltaEnvelope{Type: e.EventType(), Index: e.Index, Delta: body})
	case BlockStopEvent:
		return json.Marshal(blockStopEnvelope{Type: e.EventType(), Index: e.Index})
	case MessageDeltaEvent:
		return json.Marshal(messageDeltaEnvelope{
			Type:  e.EventType(),
			Delta: messageDeltaBody{StopReason: string(e.StopReason)},
			Usage: e.Usage,
		})
	case MessageStopEvent:
		return json.Marshal(messageStopEnvelope{Type: e.EventType()})
	default:
		return nil, fmt.Errorf("unknown stream event type %T", event)
	}
}

// UnmarshalStreamEvent parses a client wire event back into its typed
// form. It is the inverse of MarshalStreamEvent.
func UnmarshalStreamEvent(data []byte) (StreamEvent, error) {
	var probe eventProbe
	if err := json.Unmarshal(data, &probe); err != nil {
		return nil, fmt.Errorf("parse stream event: %w", err)
	}
	switch probe.Type {
	case "message_start":
		var env messageStartEnvelope
		if err := json.Unmarshal(data, &env); err != nil {
			return nil, err
		}
		return MessageStartEvent{ID: env.Message.ID, Model: env.Message.Model, Usage: env.Message.Usage}, nil
	case "content_block_start":
		var env blockStartEnvelope
		if err := json.Unmarshal(data, &env); err != nil {
			return nil, err
		}
		block, err := UnmarshalContentBlock(env.Block)
		if err != nil {
			return nil, err
		}
		return BlockStartEvent{Index: env.Index, Block: block}, nil
	case "content_block_delta":
		var env blockDeltaEnvelope
		if err := json.Unmarshal(data, &env); err != nil {
			return nil, err
		}
		switch env.Delta.Type {
		case "text_delta":
			return BlockDeltaEvent{Index: env.Index, Delta: TextDelta{Text: env.Delta.Text}}, nil
		case "input_json_delta":
			return BlockDeltaEvent{Index: env.Index, Delta: InputJSONDelta{PartialJSON: env.Delta.PartialJSON}}, nil
		default:
			return nil, fmt.Errorf("unknown block delta type %q", env.Delta.Type)
		}
	case "content_block_stop":
		var env blockStopEnvelope
		if err := json.Unmarshal(data, &env); err != nil {
			return nil, err
		}
		return BlockStopEvent{Index: env.Index}, nil
	case "message_delta":
		var env messageDeltaEnvelope
		if err := json.Unmarshal(data, &env); err != nil {
			return nil, err
		}
		return MessageDeltaEvent{StopReason: StopReason(env.Delta.StopReason), Usage: env.Usage}, nil
	case "message_stop":
		return MessageStopEvent{}, nil
	default:
		return nil, fmt.Errorf("unknown stream event type %q", probe.Type)
	}
}

type contentBlockEnvelope struct {
	Type string `json:"type"`

	Text string `json:"text,omitempty"`

	Source *imageSourceEnvelope `json:"source,omitempty"`

	ID    string          `json:"id,omitempty"`
	Name  string          `json:"name,omitempty"`
	Input json.RawMessage `json:"input,omitempty"`

	ToolUseID string          `json:"tool_use_id,omitempty"`
	Content   json.RawMessage `json:"content,omitempty"`
	IsError   bool            `json:"is_error,omitempty"`
}

type imageSourceEnvelope struct {
	Type      string `json:"type"`
	MediaType string `json:"media_type"`
	Data      string `json:"data"`
}

// MarshalContentBlock serializes one canonical block into client wire
// form. Tool use blocks with no buffered input serialize with an empty
// object input, matching how blocks open on the stream.
func MarshalContentBlock(block ContentBlock) ([]byte, error) {
	switch b := block.(type) {
	case TextBlock:
		return json.Marshal(contentBlockEnvelope{Type: b.BlockType(), Text: b.Text})
	case ImageBlock:
		return json.Marshal(contentBlockEnvelope{
			Type:   b.BlockType(),
			Source: &imageSourceEnvelope{Type: "base64", MediaType: b.MediaType, Data: b.Data},
		})
	case ToolUseBlock:
		input := b.Input
		if len(input) == 0 {
			input = json.RawMessage("{}")
		}
		return json.Marshal(contentBlockEnvelope{Type: b.BlockType(), ID: b.ID, Name: b.Name, Input: input})
	case ToolResultBlock:
		nested := make([]json.RawMessage, 0, len(b.Content))
		for _, inner := range b.Content {
			raw, err := MarshalContentBlock(inner)
			if err != nil {
				return nil, err
			}
			nested = append(nested, raw)
		}
		content, err := json.Marshal(nested)
		if err != nil {
			return nil, err
		}
		return json.Marshal(contentBlockEnvelope{Type: b.BlockType(), ToolUseID: b.ToolUseID, Content: content, IsError: b.IsError})
	default:
		return nil, fmt.Errorf("unknown content block type %T", block)
	}
}

// UnmarshalContentBlock parses a client wire content block back into
// its canonical form. It is the inverse of MarshalContentBlock.
func UnmarshalContentBlock(data []byte) (ContentBlock, error) {
	var env contentBlockEnvelope
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, fmt.Errorf("parse content block: %w", err)
	}
	switch env.Type {
	case "text":
		return TextBlock{Text: env.Text}, nil
	case "image":
		if env.Source == nil {
			return nil, fmt.Errorf("image block missing source")
		}
		return ImageBlock{MediaType: env.Source.MediaType, Data: env.Source.Data}, nil
	case "tool_use":
		return ToolUseBlock{ID: env.ID, Name: env.Name, Input: env.Input}, nil
	case "tool_result":
		result := ToolResultBlock{ToolUseID: env.ToolUseID, IsError: env.IsError}
		if len(env.Content) > 0 {
			var nested []json.RawMessage
			if err := json.Unmarshal(env.Content, &nested); err != nil {
				return nil, fmt.Errorf("parse tool result content: %w", err)
			}
			for _, raw := range nested {
				inner, err := UnmarshalContentBlock(raw)
				if err != nil {
					return nil, err
				}
				result.Content = append(result.Content, inner)
			}
		}
		return result, nil
	default:
		return nil, fmt.Errorf("unknown content block type %q", env.Type)
	}
}
