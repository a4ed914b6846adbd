package gateway

import (
	"github.com/pkoukk/tiktoken-go"

	"claude-gateway/logger"
	"claude-gateway/types"
)

// perMessageOverhead approximates the chat-format framing tokens each
// message costs on top of its content.
const perMessageOverhead = 4

// Estimator counts tokens for requests and responses whose provider
// did not report usage. Counts are estimates: the provider's tokenizer
// may differ from cl100k_base.
type Estimator struct {
	enc *tiktoken.Tiktoken
	log logger.Logger
}

// NewEstimator loads the cl100k_base encoding. When the encoding is
// unavailable the estimator falls back to a characters/4 heuristic.
func NewEstimator(log logger.Logger) *Estimator {
	if log == nil {
		log = logger.NewNop()
	}
	enc, err := tiktoken.GetEncoding("cl100k_base")
	if err != nil {
		log.Warn("⚠️ Token encoding unavailable, using character heuristic: %v", err)
		enc = nil
	}
	return &Estimator{enc: enc, log: log}
}

// CountText returns the token count of one text fragment.
func (e *Estimator) CountText(text string) int {
	if text == "" {
		return 0
	}
	if e.enc != nil {
		return len(e.enc.Encode(text, nil, nil))
	}
	return (len(text) + 3) / 4
}

// EstimateRequest estimates the input token count of a request:
// system prompt, message content, tool names and schemas.
func (e *Estimator) EstimateRequest(req *types.CanonicalRequest) int {
	if req == nil {
		return 0
	}
	total := 0
	for _, block := range req.System {
		total += e.countBlock(block)
	}
	for _, msg := range req.Messages {
		total += perMessageOverhead
		for _, block := range msg.Content {
			total += e.countBlock(block)
		}
	}
	for _, tool := range req.Tools {
		total += e.CountText(tool.Name)
		total += e.CountText(tool.Description)
		total += e.CountText(string(tool.InputSchema))
	}
	return total
}

// EstimateResponse estimates the output token count of a response.
func (e *Estimator) EstimateResponse(resp *types.CanonicalResponse) int {
	if resp == nil {
		return 0
	}
	total := 0
	for _, block := range resp.Content {
		total += e.countBlock(block)
	}
	return total
}

func (e *Estimator) countBlock(block types.ContentBlock) int {
	switch b := block.(type) {
	case types.TextBlock:
		return e.CountText(b.Text)
	case types.ImageBlock:
		// flat charge per image, actual cost depends on the provider
		return 85
	case types.ToolUseBlock:
		return e.CountText(b.Name) + e.CountText(string(b.Input))
	case types.ToolResultBlock:
		total := 0
		for _, nested := range b.Content {
			total += e.countBlock(nested)
		}
		return total
	default:
		return 0
	}
}
