package config

import (
	"fmt"
	"os"
	"time"

	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
)

// Config holds all configuration for the voice relay service
type Config struct {
	// Server configuration
	Port string `envconfig:"PORT" default:"8080"`
	// Path the client websocket is served on
	WSPath string `envconfig:"WS_PATH" default:"/"`
	// Comma separated list of allowed Origin headers. Empty allows every origin.
	AllowedOrigins []string `envconfig:"ALLOWED_ORIGINS"`

	// Realtime provider configuration
	OpenAIAPIKey        string `envconfig:"OPENAI_API_KEY" required:"true"`
	OpenAIRealtimeURL   string `envconfig:"OPENAI_REALTIME_URL" default:"wss://api.openai.com/v1/realtime"`
	OpenAIRealtimeModel string `envconfig:"OPENAI_REALTIME_MODEL" default:"gpt-4o-realtime-preview"`
	UpstreamDialTimeout int    `envconfig:"UPSTREAM_DIAL_TIMEOUT" default:"10"` // seconds

	// Response parameters sent with every response.create
	ResponseVoice        string `envconfig:"RESPONSE_VOICE" default:"verse"`
	ResponseInstructions string `envconfig:"RESPONSE_INSTRUCTIONS" default:"answer the user in english"`
	ResponseLanguage     string `envconfig:"RESPONSE_LANGUAGE" default:"en"`

	// Relay turn handling
	PendingQueueMax int `envconfig:"PENDING_QUEUE_MAX" default:"512"` // Chunks held while the provider buffer is not ready
	TurnTimeout     int `envconfig:"TURN_TIMEOUT" default:"60"`       // Seconds to wait for response.done after commit, 0 disables

	// Client connection handling
	ClientWriteTimeout int   `envconfig:"CLIENT_WRITE_TIMEOUT" default:"10"`   // seconds
	ClientPingInterval int   `envconfig:"CLIENT_PING_INTERVAL" default:"30"`   // seconds
	ClientReadLimit    int64 `envconfig:"CLIENT_READ_LIMIT" default:"1048576"` // Max inbound message size in bytes
	ClientSendBuffer   int   `envconfig:"CLIENT_SEND_BUFFER" default:"256"`    // Outbound messages buffered per client

	// Resilience configuration
	CircuitBreakerMaxFailures  int `envconfig:"CIRCUIT_BREAKER_MAX_FAILURES" default:"5"`   // Failures before opening circuit
	CircuitBreakerResetTimeout int `envconfig:"CIRCUIT_BREAKER_RESET_TIMEOUT" default:"30"` // Seconds before attempting recovery
	ReconnectMaxAttempts       int `envconfig:"RECONNECT_MAX_ATTEMPTS" default:"10"`        // Maximum reconnection attempts, 0 for unlimited
	ReconnectBackoff           int `envconfig:"RECONNECT_BACKOFF" default:"1000"`           // Initial reconnection backoff in milliseconds
	ReconnectMaxBackoff        int `envconfig:"RECONNECT_MAX_BACKOFF" default:"30000"`      // Backoff ceiling in milliseconds

	// Observability configuration
	LogLevel       string `envconfig:"LOG_LEVEL" default:"info"`       // Log level: debug, info, warn, error
	LogPretty      bool   `envconfig:"LOG_PRETTY" default:"false"`     // Pretty print logs (for development)
	MetricsEnabled bool   `envconfig:"METRICS_ENABLED" default:"true"` // Enable Prometheus metrics
}

// Load reads configuration from environment variables
// It first attempts to load from .env file if it exists, then from environment
func Load() (*Config, error) {
	// Try to load .env file (ignore error if it doesn't exist)
	_ = godotenv.Load()

	return LoadFromEnv()
}

// LoadFromEnv loads configuration directly from environment variables
// without attempting to load .env file (useful for containerized deployments)
func LoadFromEnv() (*Config, error) {
	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

// Validate checks required fields and value ranges
func (c *Config) Validate() error {
	if c.OpenAIAPIKey == "" {
		return fmt.Errorf("OPENAI_API_KEY is required")
	}
	if c.OpenAIRealtimeURL == "" {
		return fmt.Errorf("OPENAI_REALTIME_URL is required")
	}
	if c.WSPath == "" || c.WSPath[0] != '/' {
		return fmt.Errorf("WS_PATH must start with '/', got %q", c.WSPath)
	}
	if c.PendingQueueMax <= 0 {
		return fmt.Errorf("PENDING_QUEUE_MAX must be positive, got %d", c.PendingQueueMax)
	}
	if c.TurnTimeout < 0 {
		return fmt.Errorf("TURN_TIMEOUT must not be negative, got %d", c.TurnTimeout)
	}
	if c.ClientSendBuffer <= 0 {
		return fmt.Errorf("CLIENT_SEND_BUFFER must be positive, got %d", c.ClientSendBuffer)
	}
	if c.ReconnectMaxAttempts < 0 {
		return fmt.Errorf("RECONNECT_MAX_ATTEMPTS must not be negative, got %d", c.ReconnectMaxAttempts)
	}
	if c.ReconnectBackoff <= 0 {
		return fmt.Errorf("RECONNECT_BACKOFF must be positive, got %d", c.ReconnectBackoff)
	}
	return nil
}

// TurnTimeoutDuration returns the response watchdog duration. Zero disables it.
func (c *Config) TurnTimeoutDuration() time.Duration {
	return time.Duration(c.TurnTimeout) * time.Second
}

// UpstreamDialTimeoutDuration returns the provider dial timeout
func (c *Config) UpstreamDialTimeoutDuration() time.Duration {
	return time.Duration(c.UpstreamDialTimeout) * time.Second
}

// ClientWriteTimeoutDuration returns the per-message client write deadline
func (c *Config) ClientWriteTimeoutDuration() time.Duration {
	return time.Duration(c.ClientWriteTimeout) * time.Second
}

// ClientPingIntervalDuration returns the client keepalive interval
func (c *Config) ClientPingIntervalDuration() time.Duration {
	return time.Duration(c.ClientPingInterval) * time.Second
}

// CircuitBreakerResetDuration returns how long the breaker stays open
func (c *Config) CircuitBreakerResetDuration() time.Duration {
	return time.Duration(c.CircuitBreakerResetTimeout) * time.Second
}

// ReconnectBackoffDuration returns the initial reconnect backoff
func (c *Config) ReconnectBackoffDuration() time.Duration {
	return time.Duration(c.ReconnectBackoff) * time.Millisecond
}

// ReconnectMaxBackoffDuration returns the reconnect backoff ceiling
func (c *Config) ReconnectMaxBackoffDuration() time.Duration {
	return time.Duration(c.ReconnectMaxBackoff) * time.Millisecond
}

// GetEnv returns the value of an environment variable or a default value
func GetEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}
