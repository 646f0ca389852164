package config

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/viper"
)

// Loader handles configuration loading
type Loader struct {
	configPath string
}

// NewLoader creates a new config loader
func NewLoader(configPath string) *Loader {
	return &Loader{
		configPath: configPath,
	}
}

// Load loads the configuration from file
func (l *Loader) Load() (*Config, error) {
	configPath := l.configPath
	if configPath == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return nil, fmt.Errorf("failed to get home directory: %w", err)
		}
		configPath = filepath.Join(home, ".selune", "selune.json")
	}

	cfg := DefaultConfig()

	// Setup viper
	v := viper.New()
	v.SetConfigFile(configPath)
	v.SetConfigType("json")

	// Read environment variables
	v.SetEnvPrefix("SELUNE")
	v.AutomaticEnv()

	if _, err := os.Stat(configPath); err == nil {
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
		if err := v.Unmarshal(cfg); err != nil {
			return nil, fmt.Errorf("failed to unmarshal config: %w", err)
		}
	}

	// Set data directory if not specified
	if cfg.DataDir == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return nil, fmt.Errorf("failed to get home directory: %w", err)
		}
		cfg.DataDir = filepath.Join(home, ".selune")
	}

	if cfg.Sessions.Dir == "" {
		cfg.Sessions.Dir = filepath.Join(cfg.DataDir, "conversations")
	}
	if cfg.Logging.File == "" {
		cfg.Logging.File = filepath.Join(cfg.DataDir, "selune.log")
	}
	if cfg.Tools.KB.DBPath == "" {
		cfg.Tools.KB.DBPath = filepath.Join(cfg.DataDir, "kb.db")
	}
	if cfg.Tools.Database.DBPath == "" {
		cfg.Tools.Database.DBPath = filepath.Join(cfg.DataDir, "store.db")
	}

	return cfg, nil
}

// Save saves the configuration to file
func (l *Loader) Save(cfg *Config) error {
	configPath := l.configPath
	if configPath == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return fmt.Errorf("failed to get home directory: %w", err)
		}
		configPath = filepath.Join(home, ".selune", "selune.json")
	}

	dir := filepath.Dir(configPath)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	v := viper.New()
	v.SetConfigFile(configPath)
	v.SetConfigType("json")

	v.Set("platform", cfg.Platform)
	v.Set("tools", cfg.Tools)
	v.Set("sessions", cfg.Sessions)
	v.Set("summarizer", cfg.Summarizer)
	v.Set("gateway", cfg.Gateway)
	v.Set("logging", cfg.Logging)
	v.Set("data_dir", cfg.DataDir)

	if err := v.WriteConfig(); err != nil {
		if os.IsNotExist(err) {
			if err := v.SafeWriteConfig(); err != nil {
				return fmt.Errorf("failed to write config file: %w", err)
			}
		} else {
			return fmt.Errorf("failed to write config file: %w", err)
		}
	}

	return nil
}

// GetConfigPath returns the config file path
func (l *Loader) GetConfigPath() string {
	if l.configPath != "" {
		return l.configPath
	}

	home, err := os.UserHomeDir()
	if err != nil {
		return ""
	}
	return filepath.Join(home, ".selune", "selune.json")
}

// Load is a convenience function that creates a loader and loads the config
func Load(configPath string) (*Config, error) {
	loader := NewLoader(configPath)
	return loader.Load()
}
