// Package circuitbreaker tracks provider endpoint health and takes
// failing endpoints out of rotation with exponential backoff.
package circuitbreaker

import (
	"sync"
	"time"
)

// EndpointHealth tracks the health state of a single provider endpoint
type EndpointHealth struct {
	URL             string    `json:"url"`
	FailureCount    int       `json:"failure_count"`
	SuccessCount    int       `json:"success_count"`
	TotalRequests   int       `json:"total_requests"`
	LastFailureTime time.Time `json:"last_failure_time"`
	LastSuccessTime time.Time `json:"last_success_time"`
	CircuitOpen     bool      `json:"circuit_open"`
	NextRetryTime   time.Time `json:"next_retry_time"`
}

// Config holds circuit breaker tuning parameters
type Config struct {
	// FailureThreshold is the number of consecutive failures before
	// the circuit opens
	FailureThreshold int

	// BackoffDuration is the initial wait before retrying an open
	// circuit
	BackoffDuration time.Duration

	// MaxBackoffDuration caps the exponential backoff
	MaxBackoffDuration time.Duration

	// ResetTimeout is how long after the last failure the failure
	// count resets
	ResetTimeout time.Duration
}

// DefaultConfig returns the default circuit breaker configuration
func DefaultConfig() *Config {
	return &Config{
		FailureThreshold:   2,
		BackoffDuration:    30 * time.Second,
		MaxBackoffDuration: 5 * time.Minute,
		ResetTimeout:       time.Minute,
	}
}

// observabilityLogger is the subset of structured logging the breaker
// needs. Declared here so the package stays free of logger imports.
type observabilityLogger interface {
	LogCircuitBreakerEvent(endpoint, event string, failureCount int, retryIn time.Duration)
}

// HealthManager tracks health state for all configured endpoints
type HealthManager struct {
	config      *Config
	healthMap   map[string]*EndpointHealth
	healthMutex sync.RWMutex
	obsLogger   observabilityLogger
}

// NewHealthManager creates a health manager with the given config
func NewHealthManager(config *Config) *HealthManager {
	if config == nil {
		config = DefaultConfig()
	}
	return &HealthManager{
		config:    config,
		healthMap: make(map[string]*EndpointHealth),
	}
}

// SetObservabilityLogger wires structured logging for circuit events
func (h *HealthManager) SetObservabilityLogger(logger observabilityLogger) {
	h.obsLogger = logger
}

// InitializeEndpoints registers endpoints for health tracking
func (h *HealthManager) InitializeEndpoints(endpoints []string) {
	h.healthMutex.Lock()
	defer h.healthMutex.Unlock()

	for _, endpoint := range endpoints {
		if _, exists := h.healthMap[endpoint]; !exists {
			h.healthMap[endpoint] = &EndpointHealth{URL: endpoint}
		}
	}
}

// IsHealthy reports whether an endpoint should receive traffic. An open
// circuit becomes eligible again once its retry time has passed.
func (h *HealthManager) IsHealthy(endpoint string) bool {
	h.healthMutex.RLock()
	defer h.healthMutex.RUnlock()

	health, exists := h.healthMap[endpoint]
	if !exists {
		return true
	}

	if !health.CircuitOpen {
		return true
	}

	return time.Now().After(health.NextRetryTime)
}

// CalculateSuccessRate returns the success ratio for an endpoint.
// Unknown endpoints score 0.5 so they are neither favored nor avoided.
func (h *HealthManager) CalculateSuccessRate(endpoint string) float64 {
	h.healthMutex.RLock()
	defer h.healthMutex.RUnlock()

	health, exists := h.healthMap[endpoint]
	if !exists || health.TotalRequests == 0 {
		return 0.5
	}

	return float64(health.SuccessCount) / float64(health.TotalRequests)
}

// Snapshot returns a copy of all tracked endpoint health states
func (h *HealthManager) Snapshot() []EndpointHealth {
	h.healthMutex.RLock()
	defer h.healthMutex.RUnlock()

	snapshot := make([]EndpointHealth, 0, len(h.healthMap))
	for _, health := range h.healthMap {
		snapshot = append(snapshot, *health)
	}
	return snapshot
}
