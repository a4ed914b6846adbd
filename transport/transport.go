// Package transport carries provider wire requests over HTTP. Retry
// and failover decisions live here, behind the Sender interface; the
// conversion pipeline above it never retries.
package transport

import (
	"context"

	"claude-gateway/types"
)

// ChunkStream delivers provider streaming chunks one at a time. Recv
// returns io.EOF when the provider signals the end of the stream; any
// other error means the stream died early. Close is safe to call at
// any point and more than once.
type ChunkStream interface {
	Recv() (*types.OpenAIStreamChunk, error)
	Close() error
}

// Sender sends provider wire requests. Implementations own endpoint
// selection and failover; callers treat a returned error as final.
type Sender interface {
	Send(ctx context.Context, req *types.OpenAIRequest) (*types.OpenAIResponse, error)
	SendStreaming(ctx context.Context, req *types.OpenAIRequest) (ChunkStream, error)
}
