package config

import (
	"os"
	"testing"
	"time"
)

func TestLoad(t *testing.T) {
	// Set required environment variables
	t.Setenv("OPENAI_API_KEY", "test-openai-key")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() failed: %v", err)
	}

	if cfg.OpenAIAPIKey != "test-openai-key" {
		t.Errorf("Expected OpenAIAPIKey 'test-openai-key', got '%s'", cfg.OpenAIAPIKey)
	}
}

func TestLoad_MissingRequired(t *testing.T) {
	os.Unsetenv("OPENAI_API_KEY")

	_, err := Load()
	if err == nil {
		t.Error("Expected error when required keys are missing")
	}
}

func TestLoad_EmptyRequired(t *testing.T) {
	t.Setenv("OPENAI_API_KEY", "")

	_, err := LoadFromEnv()
	if err == nil {
		t.Error("Expected error when OPENAI_API_KEY is empty")
	}
}

func TestLoad_Defaults(t *testing.T) {
	t.Setenv("OPENAI_API_KEY", "test-openai-key")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() failed: %v", err)
	}

	// Check defaults
	if cfg.Port != "8080" {
		t.Errorf("Expected default Port '8080', got '%s'", cfg.Port)
	}

	if cfg.WSPath != "/" {
		t.Errorf("Expected default WSPath '/', got '%s'", cfg.WSPath)
	}

	if len(cfg.AllowedOrigins) != 0 {
		t.Errorf("Expected no default AllowedOrigins, got %v", cfg.AllowedOrigins)
	}

	if cfg.OpenAIRealtimeModel != "gpt-4o-realtime-preview" {
		t.Errorf("Expected default OpenAIRealtimeModel 'gpt-4o-realtime-preview', got '%s'", cfg.OpenAIRealtimeModel)
	}

	if cfg.ResponseVoice != "verse" {
		t.Errorf("Expected default ResponseVoice 'verse', got '%s'", cfg.ResponseVoice)
	}

	if cfg.ResponseInstructions != "answer the user in english" {
		t.Errorf("Expected default ResponseInstructions, got '%s'", cfg.ResponseInstructions)
	}

	if cfg.ResponseLanguage != "en" {
		t.Errorf("Expected default ResponseLanguage 'en', got '%s'", cfg.ResponseLanguage)
	}

	if cfg.PendingQueueMax != 512 {
		t.Errorf("Expected default PendingQueueMax 512, got %d", cfg.PendingQueueMax)
	}

	if cfg.TurnTimeoutDuration() != 60*time.Second {
		t.Errorf("Expected default TurnTimeout 60s, got %v", cfg.TurnTimeoutDuration())
	}

	if cfg.ClientReadLimit != 1048576 {
		t.Errorf("Expected default ClientReadLimit 1048576, got %d", cfg.ClientReadLimit)
	}
}

func TestLoadFromEnv(t *testing.T) {
	t.Setenv("OPENAI_API_KEY", "test-openai-key")
	t.Setenv("ALLOWED_ORIGINS", "http://localhost:3000,https://app.example.com")
	t.Setenv("TURN_TIMEOUT", "0")

	cfg, err := LoadFromEnv()
	if err != nil {
		t.Fatalf("LoadFromEnv() failed: %v", err)
	}

	if len(cfg.AllowedOrigins) != 2 || cfg.AllowedOrigins[1] != "https://app.example.com" {
		t.Errorf("Expected two allowed origins, got %v", cfg.AllowedOrigins)
	}

	if cfg.TurnTimeoutDuration() != 0 {
		t.Errorf("Expected disabled turn timeout, got %v", cfg.TurnTimeoutDuration())
	}
}

func TestValidate(t *testing.T) {
	valid := func() *Config {
		return &Config{
			OpenAIAPIKey:      "key",
			OpenAIRealtimeURL: "wss://example.com/v1/realtime",
			WSPath:            "/",
			PendingQueueMax:   16,
			TurnTimeout:       60,
			ClientSendBuffer:  8,
			ReconnectBackoff:  100,
		}
	}

	if err := valid().Validate(); err != nil {
		t.Fatalf("Expected valid config, got %v", err)
	}

	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"missing key", func(c *Config) { c.OpenAIAPIKey = "" }},
		{"missing url", func(c *Config) { c.OpenAIRealtimeURL = "" }},
		{"relative path", func(c *Config) { c.WSPath = "ws" }},
		{"zero queue", func(c *Config) { c.PendingQueueMax = 0 }},
		{"negative timeout", func(c *Config) { c.TurnTimeout = -1 }},
		{"zero send buffer", func(c *Config) { c.ClientSendBuffer = 0 }},
		{"negative attempts", func(c *Config) { c.ReconnectMaxAttempts = -1 }},
		{"zero backoff", func(c *Config) { c.ReconnectBackoff = 0 }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := valid()
			tt.mutate(cfg)
			if err := cfg.Validate(); err == nil {
				t.Error("Expected validation error")
			}
		})
	}
}

func TestGetEnv(t *testing.T) {
	t.Setenv("TEST_KEY", "test-value")

	value := GetEnv("TEST_KEY", "default")
	if value != "test-value" {
		t.Errorf("Expected 'test-value', got '%s'", value)
	}

	value = GetEnv("NON_EXISTENT_KEY", "default")
	if value != "default" {
		t.Errorf("Expected 'default', got '%s'", value)
	}
}

func TestConfig_ResilienceDefaults(t *testing.T) {
	t.Setenv("OPENAI_API_KEY", "test-openai-key")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() failed: %v", err)
	}

	// Check resilience defaults
	if cfg.CircuitBreakerMaxFailures != 5 {
		t.Errorf("Expected default CircuitBreakerMaxFailures 5, got %d", cfg.CircuitBreakerMaxFailures)
	}

	if cfg.CircuitBreakerResetDuration() != 30*time.Second {
		t.Errorf("Expected default CircuitBreakerResetTimeout 30s, got %v", cfg.CircuitBreakerResetDuration())
	}

	if cfg.ReconnectMaxAttempts != 10 {
		t.Errorf("Expected default ReconnectMaxAttempts 10, got %d", cfg.ReconnectMaxAttempts)
	}

	if cfg.ReconnectBackoffDuration() != time.Second {
		t.Errorf("Expected default ReconnectBackoff 1s, got %v", cfg.ReconnectBackoffDuration())
	}

	if cfg.ReconnectMaxBackoffDuration() != 30*time.Second {
		t.Errorf("Expected default ReconnectMaxBackoff 30s, got %v", cfg.ReconnectMaxBackoffDuration())
	}
}

func TestConfig_ObservabilityDefaults(t *testing.T) {
	t.Setenv("OPENAI_API_KEY", "test-openai-key")
	// Clear LOG_LEVEL to ensure we get the default
	os.Unsetenv("LOG_LEVEL")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() failed: %v", err)
	}

	if cfg.LogLevel != "info" {
		t.Errorf("Expected default LogLevel 'info', got '%s'", cfg.LogLevel)
	}

	if cfg.LogPretty {
		t.Error("Expected default LogPretty false, got true")
	}

	if !cfg.MetricsEnabled {
		t.Error("Expected default MetricsEnabled true, got false")
	}
}
