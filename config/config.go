package config

import (
	"bufio"
	"fmt"
	"log"
	"os"
	"strconv"
	"strings"
)

// Config holds the gateway configuration
type Config struct {
	Port string `json:"port"`

	// Provider connection
	ProviderName      string   `json:"provider_name"`
	ProviderEndpoints []string `json:"provider_endpoints"`
	ProviderAPIKey    string   `json:"-"`

	// Request handling
	RequestTimeoutSeconds int `json:"request_timeout_seconds"`

	// Response cache
	CacheEnabled    bool   `json:"cache_enabled"`
	CacheCapacity   int    `json:"cache_capacity"`
	CacheTTLSeconds int    `json:"cache_ttl_seconds"`
	CacheNamespace  string `json:"cache_namespace"`

	// Batch processing
	BatchMaxConcurrency     int `json:"batch_max_concurrency"`
	BatchStreamingThreshold int `json:"batch_streaming_threshold"`
	BatchChunkSize          int `json:"batch_chunk_size"`

	// Tool continuation loop
	ToolLoopMaxRounds int `json:"tool_loop_max_rounds"`

	// Logging
	LogLevel            string `json:"log_level"`
	ObservabilityLogDir string `json:"observability_log_dir"`

	// Extension allow-list file
	ExtensionsFile string `json:"extensions_file"`
}

// GetDefaultConfig returns a configuration with sensible defaults,
// without reading the environment
func GetDefaultConfig() *Config {
	return &Config{
		Port:                    "3456",
		ProviderName:            "openai",
		RequestTimeoutSeconds:   600,
		CacheEnabled:            true,
		CacheCapacity:           1024,
		CacheTTLSeconds:         300,
		CacheNamespace:          "default",
		BatchMaxConcurrency:     4,
		BatchStreamingThreshold: 100,
		BatchChunkSize:          20,
		ToolLoopMaxRounds:       8,
		LogLevel:                "INFO",
		ObservabilityLogDir:     "logs",
		ExtensionsFile:          "extensions.yaml",
	}
}

// LoadConfigWithEnv loads configuration from the .env file and the
// process environment. Process environment variables take precedence
// over .env entries.
func LoadConfigWithEnv() (*Config, error) {
	envVars := loadEnvFile(".env")

	getEnv := func(key string) string {
		if value := os.Getenv(key); value != "" {
			return value
		}
		return envVars[key]
	}

	config := GetDefaultConfig()

	if port := getEnv("PORT"); port != "" {
		config.Port = port
		log.Printf("🔧 Configured port: %s", port)
	}

	endpoints := getEnv("PROVIDER_ENDPOINT")
	if endpoints == "" {
		return nil, fmt.Errorf("PROVIDER_ENDPOINT must be set in .env file")
	}
	config.ProviderEndpoints = splitEndpoints(endpoints)
	if len(config.ProviderEndpoints) == 0 {
		return nil, fmt.Errorf("PROVIDER_ENDPOINT must contain at least one endpoint")
	}
	log.Printf("🔧 Configured provider endpoints: %s", strings.Join(config.ProviderEndpoints, ", "))

	apiKey := getEnv("PROVIDER_API_KEY")
	if apiKey == "" {
		return nil, fmt.Errorf("PROVIDER_API_KEY must be set in .env file")
	}
	config.ProviderAPIKey = apiKey
	log.Printf("🔧 Configured provider API key: %s", maskAPIKey(apiKey))

	if name := getEnv("PROVIDER_NAME"); name != "" {
		config.ProviderName = strings.ToLower(strings.TrimSpace(name))
		log.Printf("🔧 Configured provider name: %s", config.ProviderName)
	}

	if timeout := getEnv("REQUEST_TIMEOUT_SECONDS"); timeout != "" {
		config.RequestTimeoutSeconds = parseIntOr(timeout, config.RequestTimeoutSeconds, "REQUEST_TIMEOUT_SECONDS")
	}

	if enabled := getEnv("CACHE_ENABLED"); enabled != "" {
		config.CacheEnabled = parseBool(enabled)
		log.Printf("🔧 Configured cache enabled: %v", config.CacheEnabled)
	}
	if capacity := getEnv("CACHE_CAPACITY"); capacity != "" {
		config.CacheCapacity = parseIntOr(capacity, config.CacheCapacity, "CACHE_CAPACITY")
	}
	if ttl := getEnv("CACHE_TTL_SECONDS"); ttl != "" {
		config.CacheTTLSeconds = parseIntOr(ttl, config.CacheTTLSeconds, "CACHE_TTL_SECONDS")
	}
	if namespace := getEnv("CACHE_NAMESPACE"); namespace != "" {
		config.CacheNamespace = namespace
		log.Printf("🔧 Configured cache namespace: %s", namespace)
	}

	if concurrency := getEnv("BATCH_MAX_CONCURRENCY"); concurrency != "" {
		config.BatchMaxConcurrency = parseIntOr(concurrency, config.BatchMaxConcurrency, "BATCH_MAX_CONCURRENCY")
	}
	if threshold := getEnv("BATCH_STREAMING_THRESHOLD"); threshold != "" {
		config.BatchStreamingThreshold = parseIntOr(threshold, config.BatchStreamingThreshold, "BATCH_STREAMING_THRESHOLD")
	}
	if chunkSize := getEnv("BATCH_CHUNK_SIZE"); chunkSize != "" {
		config.BatchChunkSize = parseIntOr(chunkSize, config.BatchChunkSize, "BATCH_CHUNK_SIZE")
	}

	if rounds := getEnv("TOOL_LOOP_MAX_ROUNDS"); rounds != "" {
		config.ToolLoopMaxRounds = parseIntOr(rounds, config.ToolLoopMaxRounds, "TOOL_LOOP_MAX_ROUNDS")
	}

	if level := getEnv("LOG_LEVEL"); level != "" {
		config.LogLevel = strings.ToUpper(level)
		log.Printf("🔧 Configured log level: %s", config.LogLevel)
	}
	if logDir := getEnv("OBSERVABILITY_LOG_DIR"); logDir != "" {
		config.ObservabilityLogDir = logDir
		log.Printf("🔧 Configured observability log dir: %s", logDir)
	}

	if extFile := getEnv("EXTENSIONS_FILE"); extFile != "" {
		config.ExtensionsFile = extFile
		log.Printf("🔧 Configured extensions file: %s", extFile)
	}

	return config, nil
}

// loadEnvFile reads KEY=VALUE pairs from the given file. Missing files
// are fine; the process environment still applies.
func loadEnvFile(path string) map[string]string {
	envVars := make(map[string]string)

	file, err := os.Open(path)
	if err != nil {
		return envVars
	}
	defer file.Close()

	scanner := bufio.NewScanner(file)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())

		// Skip empty lines and comments
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}

		parts := strings.SplitN(line, "=", 2)
		if len(parts) != 2 {
			continue
		}

		key := strings.TrimSpace(parts[0])
		value := strings.TrimSpace(parts[1])

		// Strip inline comments
		if idx := strings.Index(value, "#"); idx != -1 {
			value = strings.TrimSpace(value[:idx])
		}

		// Strip surrounding quotes
		value = strings.Trim(value, `"'`)

		if key != "" {
			envVars[key] = value
		}
	}

	return envVars
}

// splitEndpoints parses a comma-separated endpoint list, trimming
// whitespace and dropping empty entries
func splitEndpoints(raw string) []string {
	parts := strings.Split(raw, ",")
	endpoints := make([]string, 0, len(parts))
	for _, part := range parts {
		endpoint := strings.TrimSpace(part)
		if endpoint != "" {
			endpoints = append(endpoints, strings.TrimSuffix(endpoint, "/"))
		}
	}
	return endpoints
}

// maskAPIKey hides most of an API key for safe logging
func maskAPIKey(key string) string {
	if len(key) <= 8 {
		return "***"
	}
	return key[:4] + "..." + key[len(key)-4:]
}

func parseBool(value string) bool {
	v := strings.ToLower(strings.TrimSpace(value))
	return v == "true" || v == "1" || v == "yes"
}

func parseIntOr(value string, fallback int, name string) int {
	n, err := strconv.Atoi(strings.TrimSpace(value))
	if err != nil {
		log.Printf("⚠️ Invalid %s value %q, using default %d", name, value, fallback)
		return fallback
	}
	log.Printf("🔧 Configured %s: %d", strings.ToLower(name), n)
	return n
}
