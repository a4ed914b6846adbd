package stream

import (
	"fmt"

	"claude-gateway/types"
)

// FormatSSE frames one client event for a server-sent event stream,
// using the event's type as the SSE event name.
func FormatSSE(event types.StreamEvent) (string, error) {
	data, err := types.MarshalStreamEvent(event)
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("event: %s\ndata: %s\n\n", event.EventType(), data), nil
}
