package circuitbreaker

import (
	"log"
	"time"
)

// RecordFailure records a failed request against an endpoint, opening
// the circuit once the failure threshold is reached. Repeated failures
// double the backoff up to the configured maximum.
func (h *HealthManager) RecordFailure(endpoint string) {
	h.healthMutex.Lock()
	defer h.healthMutex.Unlock()

	health, exists := h.healthMap[endpoint]
	if !exists {
		health = &EndpointHealth{URL: endpoint}
		h.healthMap[endpoint] = health
	}

	now := time.Now()

	// Stale failures stop counting against the endpoint
	if !health.LastFailureTime.IsZero() && now.Sub(health.LastFailureTime) > h.config.ResetTimeout {
		health.FailureCount = 0
	}

	health.FailureCount++
	health.TotalRequests++
	health.LastFailureTime = now

	if health.FailureCount >= h.config.FailureThreshold {
		failuresOverThreshold := health.FailureCount - h.config.FailureThreshold
		backoff := h.config.BackoffDuration
		for i := 0; i < failuresOverThreshold; i++ {
			backoff *= 2
			if backoff >= h.config.MaxBackoffDuration {
				backoff = h.config.MaxBackoffDuration
				break
			}
		}

		health.CircuitOpen = true
		health.NextRetryTime = now.Add(backoff)

		log.Printf("🚨 Circuit breaker opened for endpoint %s (failures: %d, retry in: %v)",
			endpoint, health.FailureCount, backoff)

		if h.obsLogger != nil {
			h.obsLogger.LogCircuitBreakerEvent(endpoint, "opened", health.FailureCount, backoff)
		}
	}
}

// RecordSuccess records a successful request, closing the circuit and
// resetting the failure count.
func (h *HealthManager) RecordSuccess(endpoint string) {
	h.healthMutex.Lock()
	defer h.healthMutex.Unlock()

	health, exists := h.healthMap[endpoint]
	if !exists {
		health = &EndpointHealth{URL: endpoint}
		h.healthMap[endpoint] = health
	}

	wasOpen := health.CircuitOpen

	health.SuccessCount++
	health.TotalRequests++
	health.LastSuccessTime = time.Now()
	health.FailureCount = 0
	health.CircuitOpen = false
	health.NextRetryTime = time.Time{}

	if wasOpen {
		log.Printf("✅ Circuit breaker closed for endpoint %s", endpoint)

		if h.obsLogger != nil {
			h.obsLogger.LogCircuitBreakerEvent(endpoint, "closed", 0, 0)
		}
	}
}

// SelectHealthyEndpoint picks the next healthy endpoint round-robin,
// starting after *currentIndex. When every endpoint is unhealthy the
// next one in rotation is returned anyway; a request has to go
// somewhere.
func (h *HealthManager) SelectHealthyEndpoint(endpoints []string, currentIndex *int) string {
	if len(endpoints) == 0 {
		return ""
	}

	for attempt := 0; attempt < len(endpoints); attempt++ {
		*currentIndex = (*currentIndex + 1) % len(endpoints)
		candidate := endpoints[*currentIndex]
		if h.IsHealthy(candidate) {
			return candidate
		}
	}

	*currentIndex = (*currentIndex + 1) % len(endpoints)
	last := endpoints[*currentIndex]
	log.Printf("⚠️ All endpoints unhealthy, falling back to %s", last)
	return last
}
