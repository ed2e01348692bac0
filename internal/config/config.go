// Package config provides environment configuration for the API server.
package config

import (
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds all configuration for the application.
type Config struct {
	// Server settings
	ServerPort         string
	ServerReadTimeout  time.Duration
	ServerWriteTimeout time.Duration

	// NATS settings
	NATSEnabled  bool
	NATSURL      string
	NATSCAFile   string
	NATSCertFile string
	NATSKeyFile  string
	NATSToken    string

	// JWT settings
	JWTSecret string

	// LLM settings
	AnthropicAPIKey string
	OpenAIAPIKey    string
	DefaultLLM      string
	DefaultModel    string
	ModelMaxTokens  int

	// Middleware settings
	Middleware MiddlewareConfig

	// Response cache
	CacheBackend  string
	RedisAddr     string
	RedisPassword string
	RedisDB       int

	// Rate limiting
	RateLimitRequests int
	RateLimitWindow   time.Duration

	// Logging
	LogLevel string

	// Tracing
	TracingEndpoint string
	TracingEnabled  bool
}

// MiddlewareConfig selects and configures the policies of each session pipeline.
type MiddlewareConfig struct {
	LoggingVerbose   bool
	MaxTokens        int
	MaxRequests      int
	MaxMessages      int
	AllowedTools     []string
	DefaultExpertise string

	EnableLogging       bool
	EnableSecurity      bool
	EnableBudget        bool
	EnableSummarization bool
	EnableExpertise     bool
	EnableCache         bool
}

// Cache backends.
const (
	CacheBackendMemory = "memory"
	CacheBackendRedis  = "redis"
)

// Load reads configuration from environment variables.
func Load() *Config {
	return &Config{
		// Server
		ServerPort:         getEnv("PORT", "8080"),
		ServerReadTimeout:  getDurationEnv("SERVER_READ_TIMEOUT", 30*time.Second),
		ServerWriteTimeout: getDurationEnv("SERVER_WRITE_TIMEOUT", 120*time.Second),

		// NATS
		NATSEnabled:  getBoolEnv("NATS_ENABLED", false),
		NATSURL:      getEnv("NATS_URL", "nats://localhost:4222"),
		NATSCAFile:   getEnv("NATS_CA_FILE", ""),
		NATSCertFile: getEnv("NATS_CERT_FILE", ""),
		NATSKeyFile:  getEnv("NATS_KEY_FILE", ""),
		NATSToken:    getEnv("NATS_TOKEN", ""),

		// JWT
		JWTSecret: getEnv("JWT_SECRET", "development-secret-change-in-production"),

		// LLM
		AnthropicAPIKey: getEnv("ANTHROPIC_API_KEY", ""),
		OpenAIAPIKey:    getEnv("OPENAI_API_KEY", ""),
		DefaultLLM:      getEnv("DEFAULT_LLM", "anthropic"),
		DefaultModel:    getEnv("DEFAULT_MODEL", ""),
		ModelMaxTokens:  getIntEnv("MODEL_MAX_TOKENS", 1024),

		// Middleware
		Middleware: MiddlewareConfig{
			LoggingVerbose:   getBoolEnv("MW_LOGGING_VERBOSE", true),
			MaxTokens:        getIntEnv("MW_MAX_TOKENS", 10000),
			MaxRequests:      getIntEnv("MW_MAX_REQUESTS", 50),
			MaxMessages:      getIntEnv("MW_MAX_MESSAGES", 10),
			AllowedTools:     getListEnv("MW_ALLOWED_TOOLS", []string{"search", "calculator"}),
			DefaultExpertise: getEnv("DEFAULT_EXPERTISE", "beginner"),

			EnableLogging:       getBoolEnv("MW_ENABLE_LOGGING", true),
			EnableSecurity:      getBoolEnv("MW_ENABLE_SECURITY", true),
			EnableBudget:        getBoolEnv("MW_ENABLE_BUDGET", true),
			EnableSummarization: getBoolEnv("MW_ENABLE_SUMMARIZATION", true),
			EnableExpertise:     getBoolEnv("MW_ENABLE_EXPERTISE", true),
			EnableCache:         getBoolEnv("MW_ENABLE_CACHE", true),
		},

		// Response cache
		CacheBackend:  strings.ToLower(getEnv("CACHE_BACKEND", CacheBackendMemory)),
		RedisAddr:     getEnv("REDIS_ADDR", "localhost:6379"),
		RedisPassword: getEnv("REDIS_PASSWORD", ""),
		RedisDB:       getIntEnv("REDIS_DB", 0),

		// Rate limiting
		RateLimitRequests: getIntEnv("RATE_LIMIT_REQUESTS", 60),
		RateLimitWindow:   getDurationEnv("RATE_LIMIT_WINDOW", time.Minute),

		// Logging
		LogLevel: getEnv("LOG_LEVEL", "info"),

		// Tracing
		TracingEndpoint: getEnv("TRACING_ENDPOINT", "localhost:4318"),
		TracingEnabled:  getBoolEnv("TRACING_ENABLED", false),
	}
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getIntEnv(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if i, err := strconv.Atoi(value); err == nil {
			return i
		}
	}
	return defaultValue
}

func getBoolEnv(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if b, err := strconv.ParseBool(value); err == nil {
			return b
		}
	}
	return defaultValue
}

func getDurationEnv(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return defaultValue
}

// getListEnv reads a comma-separated list. Empty items are dropped; a value
// of "-" means an explicitly empty list.
func getListEnv(key string, defaultValue []string) []string {
	value, ok := os.LookupEnv(key)
	if !ok || value == "" {
		return defaultValue
	}
	if value == "-" {
		return []string{}
	}
	var out []string
	for _, item := range strings.Split(value, ",") {
		if item = strings.TrimSpace(item); item != "" {
			out = append(out, item)
		}
	}
	return out
}
