package logger

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/sirupsen/logrus"
)

// ObservabilityLogger writes structured JSONL logs for machine analysis.
// Human-readable logs keep going through Logger; this file is for
// dashboards and offline debugging of conversion behavior.
type ObservabilityLogger struct {
	logger *logrus.Logger
	file   *os.File
}

// Component names used in structured log entries
const (
	ComponentGateway       = "gateway_core"
	ComponentConverter     = "converter"
	ComponentReconstructor = "stream_reconstructor"
	ComponentCache         = "response_cache"
	ComponentBatch         = "batch_orchestrator"
	ComponentTransport     = "transport"
	ComponentCircuit       = "circuit_breaker"
	ComponentToolRunner    = "tool_runner"
	ComponentConfig        = "configuration"
)

// Category names used in structured log entries
const (
	CategoryRequest    = "request"
	CategoryConversion = "conversion"
	CategoryStreaming  = "streaming"
	CategoryCache      = "cache"
	CategoryBatch      = "batch"
	CategorySuccess    = "success"
	CategoryWarning    = "warning"
	CategoryError      = "error"
	CategoryHealth     = "health"
	CategoryFailover   = "failover"
	CategoryValidation = "validation"
	CategoryDebug      = "debug"
)

// NewObservabilityLogger creates a JSONL logger writing to
// logDir/claude-gateway.jsonl. The directory is created if missing.
func NewObservabilityLogger(logDir string) (*ObservabilityLogger, error) {
	if err := os.MkdirAll(logDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create log directory: %w", err)
	}

	logFile := filepath.Join(logDir, "claude-gateway.jsonl")
	file, err := os.OpenFile(logFile, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return nil, fmt.Errorf("failed to open log file: %w", err)
	}

	l := logrus.New()
	l.SetOutput(file)
	l.SetFormatter(&logrus.JSONFormatter{
		TimestampFormat: "2006-01-02T15:04:05.000Z07:00",
		FieldMap: logrus.FieldMap{
			logrus.FieldKeyTime:  "timestamp",
			logrus.FieldKeyLevel: "level",
			logrus.FieldKeyMsg:   "message",
		},
	})
	l.SetLevel(logrus.InfoLevel)

	return &ObservabilityLogger{logger: l, file: file}, nil
}

// Close flushes and closes the underlying log file
func (o *ObservabilityLogger) Close() error {
	if o.file != nil {
		return o.file.Close()
	}
	return nil
}

// createEntry builds a log entry with the standard field set
func (o *ObservabilityLogger) createEntry(component, category, requestID string, fields map[string]interface{}) *logrus.Entry {
	entry := o.logger.WithField("service", "claude-gateway").
		WithField("component", component).
		WithField("category", category)

	if requestID != "" {
		entry = entry.WithField("request_id", requestID)
	}

	for k, v := range fields {
		entry = entry.WithField(k, v)
	}

	return entry
}

// Debug logs a structured debug entry
func (o *ObservabilityLogger) Debug(component, category, requestID, message string, fields map[string]interface{}) {
	o.createEntry(component, category, requestID, fields).Debug(message)
}

// Info logs a structured info entry
func (o *ObservabilityLogger) Info(component, category, requestID, message string, fields map[string]interface{}) {
	o.createEntry(component, category, requestID, fields).Info(message)
}

// Warn logs a structured warning entry
func (o *ObservabilityLogger) Warn(component, category, requestID, message string, fields map[string]interface{}) {
	o.createEntry(component, category, requestID, fields).Warn(message)
}

// Error logs a structured error entry
func (o *ObservabilityLogger) Error(component, category, requestID, message string, fields map[string]interface{}) {
	o.createEntry(component, category, requestID, fields).Error(message)
}

// LogRequestStart records an incoming request before conversion
func (o *ObservabilityLogger) LogRequestStart(requestID, model string, stream bool, messageCount int) {
	o.Info(ComponentGateway, CategoryRequest, requestID, "Request received", map[string]interface{}{
		"model":         model,
		"stream":        stream,
		"message_count": messageCount,
	})
}

// LogRequestComplete records a finished request with its outcome
func (o *ObservabilityLogger) LogRequestComplete(requestID, model, stopReason string, duration time.Duration, inputTokens, outputTokens int) {
	o.Info(ComponentGateway, CategorySuccess, requestID, "Request completed", map[string]interface{}{
		"model":         model,
		"stop_reason":   stopReason,
		"duration_ms":   duration.Milliseconds(),
		"input_tokens":  inputTokens,
		"output_tokens": outputTokens,
	})
}

// LogConversionFallback records a lossy conversion degradation
func (o *ObservabilityLogger) LogConversionFallback(requestID, kind, detail string) {
	o.Warn(ComponentConverter, CategoryConversion, requestID, "Conversion fallback applied", map[string]interface{}{
		"fallback_kind": kind,
		"detail":        detail,
	})
}

// LogCacheHit records a cache hit for a request key
func (o *ObservabilityLogger) LogCacheHit(requestID, key string) {
	o.Info(ComponentCache, CategoryCache, requestID, "Cache hit", map[string]interface{}{
		"key": key,
	})
}

// LogCacheMiss records a cache miss for a request key
func (o *ObservabilityLogger) LogCacheMiss(requestID, key, reason string) {
	o.Debug(ComponentCache, CategoryCache, requestID, "Cache miss", map[string]interface{}{
		"key":    key,
		"reason": reason,
	})
}

// LogCacheEviction records an entry leaving the cache
func (o *ObservabilityLogger) LogCacheEviction(key, reason string) {
	o.Debug(ComponentCache, CategoryCache, "", "Cache entry evicted", map[string]interface{}{
		"key":    key,
		"reason": reason,
	})
}

// LogStreamInterrupted records a provider stream dying mid-flight
func (o *ObservabilityLogger) LogStreamInterrupted(requestID string, eventsDelivered int, err error) {
	o.Error(ComponentReconstructor, CategoryStreaming, requestID, "Stream interrupted", map[string]interface{}{
		"events_delivered": eventsDelivered,
		"error":            err.Error(),
	})
}

// LogBatchStart records a batch run beginning
func (o *ObservabilityLogger) LogBatchStart(batchID string, totalItems, maxConcurrency int) {
	o.Info(ComponentBatch, CategoryBatch, batchID, "Batch started", map[string]interface{}{
		"total_items":     totalItems,
		"max_concurrency": maxConcurrency,
	})
}

// LogBatchComplete records a batch run finishing with its aggregates
func (o *ObservabilityLogger) LogBatchComplete(batchID string, successCount, failureCount int, duration time.Duration) {
	o.Info(ComponentBatch, CategoryBatch, batchID, "Batch completed", map[string]interface{}{
		"success_count": successCount,
		"failure_count": failureCount,
		"duration_ms":   duration.Milliseconds(),
	})
}

// LogCircuitBreakerEvent records circuit state transitions
func (o *ObservabilityLogger) LogCircuitBreakerEvent(endpoint, event string, failureCount int, retryIn time.Duration) {
	o.Warn(ComponentCircuit, CategoryHealth, "", "Circuit breaker state change", map[string]interface{}{
		"endpoint":      endpoint,
		"event":         event,
		"failure_count": failureCount,
		"retry_in_ms":   retryIn.Milliseconds(),
	})
}

// LogFailover records a request moving to an alternate endpoint
func (o *ObservabilityLogger) LogFailover(requestID, fromEndpoint, toEndpoint string) {
	o.Warn(ComponentTransport, CategoryFailover, requestID, "Failing over to alternate endpoint", map[string]interface{}{
		"from": fromEndpoint,
		"to":   toEndpoint,
	})
}

// LogValidationFailure records a request rejected before transport
func (o *ObservabilityLogger) LogValidationFailure(requestID, field, message string) {
	o.Warn(ComponentConverter, CategoryValidation, requestID, "Request validation failed", map[string]interface{}{
		"field":  field,
		"detail": message,
	})
}

// LogToolLoopStop records the continuation loop ending early
func (o *ObservabilityLogger) LogToolLoopStop(requestID, reason string, rounds int) {
	o.Warn(ComponentToolRunner, CategoryWarning, requestID, "Tool continuation loop stopped", map[string]interface{}{
		"reason": reason,
		"rounds": rounds,
	})
}
