package config

import (
	"encoding/json"
	"fmt"
)

// Config represents the main Selune configuration
type Config struct {
	// Remote agent platform
	Platform PlatformConfig `json:"platform" mapstructure:"platform"`

	// Tool backends
	Tools ToolsConfig `json:"tools" mapstructure:"tools"`

	// Session persistence
	Sessions SessionsConfig `json:"sessions" mapstructure:"sessions"`

	// Conversation title summarizer
	Summarizer SummarizerConfig `json:"summarizer" mapstructure:"summarizer"`

	// Gateway server
	Gateway GatewayConfig `json:"gateway" mapstructure:"gateway"`

	// Logging
	Logging LoggingConfig `json:"logging" mapstructure:"logging"`

	// Data directory
	DataDir string `json:"data_dir" mapstructure:"data_dir"`
}

// PlatformConfig selects and configures the remote agent platform backend
type PlatformConfig struct {
	Kind                string   `json:"kind" mapstructure:"kind"` // rest, local
	Endpoint            string   `json:"endpoint" mapstructure:"endpoint"`
	APIKey              string   `json:"api_key" mapstructure:"api_key"`
	Provider            string   `json:"provider" mapstructure:"provider"` // openai, anthropic (local kind only)
	Model               string   `json:"model" mapstructure:"model"`
	Instructions        string   `json:"instructions" mapstructure:"instructions"`
	Temperature         float64  `json:"temperature" mapstructure:"temperature"`
	MaxPromptTokens     int      `json:"max_prompt_tokens" mapstructure:"max_prompt_tokens"`
	MaxCompletionTokens int      `json:"max_completion_tokens" mapstructure:"max_completion_tokens"`
	EnabledTools        []string `json:"enabled_tools" mapstructure:"enabled_tools"`
}

// ToolsConfig holds configuration for the tool backends
type ToolsConfig struct {
	Search   SearchConfig   `json:"search" mapstructure:"search"`
	Email    EmailConfig    `json:"email" mapstructure:"email"`
	KB       KBConfig       `json:"kb" mapstructure:"kb"`
	Database DatabaseConfig `json:"database" mapstructure:"database"`
}

// SearchConfig holds web search configuration
type SearchConfig struct {
	Enabled  bool   `json:"enabled" mapstructure:"enabled"`
	Endpoint string `json:"endpoint" mapstructure:"endpoint"`
	APIKey   string `json:"api_key" mapstructure:"api_key"`
	Count    int    `json:"count" mapstructure:"count"`
}

// EmailConfig holds the send-email webhook configuration
type EmailConfig struct {
	Enabled    bool   `json:"enabled" mapstructure:"enabled"`
	WebhookURL string `json:"webhook_url" mapstructure:"webhook_url"`
}

// KBConfig holds knowledge base retrieval configuration
type KBConfig struct {
	Enabled        bool   `json:"enabled" mapstructure:"enabled"`
	DBPath         string `json:"db_path" mapstructure:"db_path"`
	EmbeddingKey   string `json:"embedding_key" mapstructure:"embedding_key"`
	EmbeddingModel string `json:"embedding_model" mapstructure:"embedding_model"`
}

// DatabaseConfig holds the structured store configuration
type DatabaseConfig struct {
	Enabled    bool   `json:"enabled" mapstructure:"enabled"`
	DBPath     string `json:"db_path" mapstructure:"db_path"`
	CustomerID string `json:"customer_id" mapstructure:"customer_id"`
}

// SessionsConfig holds session store configuration
type SessionsConfig struct {
	Dir             string `json:"dir" mapstructure:"dir"`
	CleanupSchedule string `json:"cleanup_schedule" mapstructure:"cleanup_schedule"` // cron expression
	CleanupAgeDays  int    `json:"cleanup_age_days" mapstructure:"cleanup_age_days"`
}

// SummarizerConfig configures conversation title generation
type SummarizerConfig struct {
	Provider string `json:"provider" mapstructure:"provider"` // openai, anthropic, heuristic
	APIKey   string `json:"api_key" mapstructure:"api_key"`
	Model    string `json:"model" mapstructure:"model"`
}

// GatewayConfig holds gateway server configuration
type GatewayConfig struct {
	Enabled      bool   `json:"enabled" mapstructure:"enabled"`
	Host         string `json:"host" mapstructure:"host"`
	Port         int    `json:"port" mapstructure:"port"`
	SharedSecret string `json:"shared_secret" mapstructure:"shared_secret"`
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level     string `json:"level" mapstructure:"level"`
	File      string `json:"file" mapstructure:"file"`
	Redaction bool   `json:"redaction" mapstructure:"redaction"`
}

// DefaultConfig returns a config with default values
func DefaultConfig() *Config {
	return &Config{
		Platform: PlatformConfig{
			Kind:                "local",
			Provider:            "openai",
			Model:               "gpt-4o",
			Instructions:        "You are a helpful agent",
			Temperature:         0.7,
			MaxPromptTokens:     20000,
			MaxCompletionTokens: 1000,
			EnabledTools:        []string{"search_web", "query_kb"},
		},
		Tools: ToolsConfig{
			Search: SearchConfig{
				Endpoint: "https://api.bing.microsoft.com/v7.0/search",
				Count:    3,
			},
			KB: KBConfig{
				EmbeddingModel: "text-embedding-3-small",
			},
		},
		Sessions: SessionsConfig{
			CleanupSchedule: "0 3 * * *",
			CleanupAgeDays:  30,
		},
		Summarizer: SummarizerConfig{
			Provider: "heuristic",
			Model:    "gpt-4o-mini",
		},
		Gateway: GatewayConfig{
			Host: "127.0.0.1",
			Port: 8080,
		},
		Logging: LoggingConfig{
			Level:     "info",
			Redaction: true,
		},
	}
}

// String returns a JSON representation of the config
func (c *Config) String() string {
	data, _ := json.MarshalIndent(c, "", "  ")
	return string(data)
}

// Validate checks if the configuration is valid. Missing credentials for
// enabled features are fatal at startup.
func (c *Config) Validate() error {
	switch c.Platform.Kind {
	case "rest":
		if c.Platform.Endpoint == "" {
			return fmt.Errorf("platform: endpoint is required for the rest backend")
		}
		if c.Platform.APIKey == "" {
			return fmt.Errorf("platform: api_key is required for the rest backend")
		}
	case "local":
		if c.Platform.Provider != "openai" && c.Platform.Provider != "anthropic" {
			return fmt.Errorf("platform: invalid provider %s (must be: openai, anthropic)", c.Platform.Provider)
		}
		if c.Platform.APIKey == "" {
			return fmt.Errorf("platform: api_key is required for the local backend")
		}
	default:
		return fmt.Errorf("platform: invalid kind %s (must be: rest, local)", c.Platform.Kind)
	}

	if c.Platform.Model == "" {
		return fmt.Errorf("platform: model is required")
	}
	if c.Platform.Temperature < 0 || c.Platform.Temperature > 1 {
		return fmt.Errorf("platform: temperature must be between 0 and 1")
	}

	if c.Tools.Search.Enabled && c.Tools.Search.APIKey == "" {
		return fmt.Errorf("tools.search: api_key is required when search is enabled")
	}
	if c.Tools.Email.Enabled && c.Tools.Email.WebhookURL == "" {
		return fmt.Errorf("tools.email: webhook_url is required when email is enabled")
	}
	if c.Tools.KB.Enabled && c.Tools.KB.EmbeddingKey == "" {
		return fmt.Errorf("tools.kb: embedding_key is required when kb is enabled")
	}

	if c.Summarizer.Provider != "heuristic" && c.Summarizer.Provider != "openai" && c.Summarizer.Provider != "anthropic" {
		return fmt.Errorf("summarizer: invalid provider %s (must be: heuristic, openai, anthropic)", c.Summarizer.Provider)
	}
	if c.Summarizer.Provider != "heuristic" && c.Summarizer.APIKey == "" {
		return fmt.Errorf("summarizer: api_key is required for provider %s", c.Summarizer.Provider)
	}

	if c.Gateway.Enabled && c.Gateway.SharedSecret == "" {
		return fmt.Errorf("gateway: shared_secret is required when the gateway is enabled")
	}

	if c.Sessions.CleanupAgeDays < 0 {
		return fmt.Errorf("sessions: cleanup_age_days cannot be negative")
	}

	return nil
}
