package convert

import "claude-gateway/types"

// StopReasonFromFinish maps a provider finish reason onto the client
// stop reason vocabulary. The mapping is fixed:
//
//	stop           -> end_turn
//	length         -> max_tokens
//	tool_calls     -> tool_use
//	function_call  -> tool_use
//	content_filter -> stop_sequence
//
// Unknown finish reasons map to end_turn; the boolean reports whether
// the input was recognized so callers can log the degradation.
func StopReasonFromFinish(finish string) (types.StopReason, bool) {
	switch finish {
	case types.FinishStop:
		return types.StopEndTurn, true
	case types.FinishLength:
		return types.StopMaxTokens, true
	case types.FinishToolCalls, types.FinishFunctionCall:
		return types.StopToolUse, true
	case types.FinishContentFilter:
		return types.StopStopSequence, true
	default:
		return types.StopEndTurn, false
	}
}
