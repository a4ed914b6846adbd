package logger

// Common emoji prefixes used across the gateway for log readability
const (
	EmojiReceived = "📨"
	EmojiTool     = "🔧"
	EmojiTarget   = "🎯"
	EmojiStream   = "🌊"
	EmojiSuccess  = "✅"
	EmojiLaunch   = "🚀"
	EmojiCache    = "💾"
	EmojiBatch    = "📦"
	EmojiSkip     = "🚫"
	EmojiAlert    = "🚨"
	EmojiStats    = "📊"
	EmojiFinish   = "🏁"
)

// LogRequestReceived logs an incoming client request
func LogRequestReceived(log Logger, model string, stream bool, messageCount int) {
	log.Info("%s Received request: model=%s stream=%v messages=%d", EmojiReceived, model, stream, messageCount)
}

// LogCacheServe logs a response served from cache
func LogCacheServe(log Logger, key string) {
	log.Info("%s Serving response from cache: key=%s", EmojiCache, truncateKey(key))
}

// LogStreamComplete logs a finished stream with its event count
func LogStreamComplete(log Logger, events int, stopReason string) {
	log.Info("%s Stream complete: events=%d stop_reason=%s", EmojiFinish, events, stopReason)
}

func truncateKey(key string) string {
	if len(key) <= 12 {
		return key
	}
	return key[:12] + "..."
}
