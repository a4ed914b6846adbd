package logger

import (
	"context"

	"claude-gateway/config"
)

// ConfigAdapter adapts config.Config to the LoggerConfig interface
type ConfigAdapter struct {
	config *config.Config
}

// NewConfigAdapter creates a LoggerConfig from the application config
func NewConfigAdapter(cfg *config.Config) *ConfigAdapter {
	return &ConfigAdapter{config: cfg}
}

// GetMinLogLevel returns the minimum log level from configuration
func (c *ConfigAdapter) GetMinLogLevel() Level {
	if c.config == nil {
		return INFO
	}
	return ParseLevel(c.config.LogLevel)
}

// NewFromConfig creates a context logger wired to the application config
func NewFromConfig(ctx context.Context, cfg *config.Config) *ContextLogger {
	return New(ctx, NewConfigAdapter(cfg))
}

// ContextLoggerFromConfig retrieves a logger from context or creates one
// from the application config
func ContextLoggerFromConfig(ctx context.Context, cfg *config.Config) Logger {
	return FromContext(ctx, NewConfigAdapter(cfg))
}
