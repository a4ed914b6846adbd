// Package convert translates between the client wire format, the
// canonical request/response model, and the provider wire format.
//
// Conversions are pure: the same input always produces the same output,
// so canonical serializations are safe to use as cache keys. Anything
// lossy that does not warrant failing the request is reported as a
// ConversionFallback and logged, never silently dropped.
package convert

import (
	"fmt"

	"claude-gateway/config"
	"claude-gateway/logger"
	"claude-gateway/types"
)

// Converter performs wire format conversions. One converter is shared
// across requests; it holds no per-request state.
type Converter struct {
	policy *config.ExtensionPolicy
	log    logger.Logger
}

// New creates a converter using the given extension allow-list policy.
func New(policy *config.ExtensionPolicy, log logger.Logger) *Converter {
	if policy == nil {
		policy = config.DefaultExtensionPolicy()
	}
	if log == nil {
		log = logger.NewNop()
	}
	return &Converter{policy: policy, log: log}
}

// recorder collects conversion fallbacks during one encode pass.
type recorder struct {
	log       logger.Logger
	fallbacks []types.ConversionFallback
}

func (r *recorder) record(kind, format string, args ...interface{}) {
	fallback := types.ConversionFallback{Kind: kind, Detail: fmt.Sprintf(format, args...)}
	r.fallbacks = append(r.fallbacks, fallback)
	r.log.Warn("⚠️ Conversion fallback: %s", fallback.String())
}
