package gateway

import (
	"context"

	"claude-gateway/internal"
	"claude-gateway/logger"
	"claude-gateway/loop"
	"claude-gateway/types"
)

// ToolExecutor runs one tool invocation requested by the model. The
// returned block is sent back as the tool result for the next round;
// implementations report tool failures through the IsError flag rather
// than an error when the failure should be visible to the model.
type ToolExecutor interface {
	Execute(ctx context.Context, call types.ToolUseBlock) (types.ToolResultBlock, error)
}

// ToolRunner drives the agentic continuation loop: when a response
// stops with tool_use, execute the requested tools, append the
// assistant turn and the tool results to the conversation, and ask
// again. The loop is bounded by a round limit and by repeated-call
// detection; when either trips, the last response is returned as-is so
// the caller still sees stop_reason tool_use and can decide what to do.
type ToolRunner struct {
	pipeline  *Pipeline
	executor  ToolExecutor
	maxRounds int
	log       logger.Logger
	obs       *logger.ObservabilityLogger
}

// NewToolRunner builds a runner around a pipeline. A nil executor makes
// Run a plain Complete call.
func NewToolRunner(pipeline *Pipeline, executor ToolExecutor, maxRounds int, log logger.Logger) *ToolRunner {
	if maxRounds <= 0 {
		maxRounds = 8
	}
	if log == nil {
		log = logger.NewNop()
	}
	return &ToolRunner{
		pipeline:  pipeline,
		executor:  executor,
		maxRounds: maxRounds,
		log:       log,
	}
}

// SetObservabilityLogger wires structured logging for loop stops.
func (t *ToolRunner) SetObservabilityLogger(obs *logger.ObservabilityLogger) {
	t.obs = obs
}

// Run completes the request, executing tools and continuing the
// conversation until the model stops asking for them.
func (t *ToolRunner) Run(ctx context.Context, req *types.CanonicalRequest) (*types.CanonicalResponse, error) {
	if t.executor == nil {
		return t.pipeline.Complete(ctx, req)
	}

	requestID := internal.GetRequestID(ctx)
	detector := loop.NewDetector()
	current := req

	for round := 1; ; round++ {
		resp, err := t.pipeline.Complete(ctx, current)
		if err != nil {
			return nil, err
		}
		if resp.StopReason != types.StopToolUse {
			return resp, nil
		}
		calls := resp.ToolUses()
		if len(calls) == 0 {
			return resp, nil
		}

		if round >= t.maxRounds {
			t.log.Warn("⚠️ Tool continuation stopped after %d rounds", round)
			if t.obs != nil {
				t.obs.LogToolLoopStop(requestID, "max_rounds", round)
			}
			return resp, nil
		}
		if verdict := detector.Observe(calls); verdict != nil {
			t.log.Warn("⚠️ Tool loop detected after %d rounds: %s", round, verdict)
			if t.obs != nil {
				t.obs.LogToolLoopStop(requestID, verdict.Pattern, round)
			}
			return resp, nil
		}

		t.pipeline.mets.ToolRoundsTotal.Inc()
		results := t.executeAll(ctx, calls)
		current = continueConversation(current, resp, results)
	}
}

func (t *ToolRunner) executeAll(ctx context.Context, calls []types.ToolUseBlock) []types.ContentBlock {
	results := make([]types.ContentBlock, 0, len(calls))
	for _, call := range calls {
		result, err := t.executor.Execute(ctx, call)
		if err != nil {
			t.log.Warn("⚠️ Tool %s (%s) failed: %v", call.Name, call.ID, err)
			result = types.ToolResultBlock{
				ToolUseID: call.ID,
				Content:   []types.ContentBlock{types.TextBlock{Text: err.Error()}},
				IsError:   true,
			}
		}
		if result.ToolUseID == "" {
			result.ToolUseID = call.ID
		}
		results = append(results, result)
	}
	return results
}

// continueConversation derives the next-round request: the prior
// conversation, the assistant turn that asked for tools, and a user
// turn carrying the results. The original request is not mutated.
func continueConversation(req *types.CanonicalRequest, resp *types.CanonicalResponse, results []types.ContentBlock) *types.CanonicalRequest {
	next := *req
	messages := make([]types.Message, 0, len(req.Messages)+2)
	messages = append(messages, req.Messages...)
	messages = append(messages, types.Message{Role: types.RoleAssistant, Content: resp.Content})
	messages = append(messages, types.Message{Role: types.RoleUser, Content: results})
	next.Messages = messages
	next.Stream = false
	return &next
}
