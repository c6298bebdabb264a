package config

import (
	"encoding/hex"
	"encoding/json"
	"fmt"
)

// Config represents the main Notedock configuration
type Config struct {
	// Data directory, the parent of the database and default notebook
	DataDir string `json:"data_dir" mapstructure:"data_dir"`

	// Database file path
	DatabasePath string `json:"database_path" mapstructure:"database_path"`

	// Notebook root directory
	NotebookRoot string `json:"notebook_root" mapstructure:"notebook_root"`

	// Vault holds encryption settings for stored credentials
	Vault VaultConfig `json:"vault" mapstructure:"vault"`

	// Engine holds agent loop settings
	Engine EngineConfig `json:"engine" mapstructure:"engine"`

	// Logging
	Logging LoggingConfig `json:"logging" mapstructure:"logging"`

	// Metrics exposition
	Metrics MetricsConfig `json:"metrics" mapstructure:"metrics"`
}

// VaultConfig holds the credential encryption key.
type VaultConfig struct {
	// KeyHex is the 32-byte key in hex form. Generated on first run
	// when absent.
	KeyHex string `json:"key_hex" mapstructure:"key_hex"`
}

// EngineConfig holds agent loop settings
type EngineConfig struct {
	// CallTimeoutSeconds caps one provider round trip
	CallTimeoutSeconds int `json:"call_timeout_seconds" mapstructure:"call_timeout_seconds"`
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level     string `json:"level" mapstructure:"level"`
	File      string `json:"file" mapstructure:"file"`
	MaxSize   int    `json:"max_size" mapstructure:"max_size"` // MB
	MaxAge    int    `json:"max_age" mapstructure:"max_age"`   // days
	Compress  bool   `json:"compress" mapstructure:"compress"`
	Redaction bool   `json:"redaction" mapstructure:"redaction"`
}

// MetricsConfig holds the Prometheus endpoint configuration
type MetricsConfig struct {
	Enabled bool   `json:"enabled" mapstructure:"enabled"`
	Host    string `json:"host" mapstructure:"host"`
	Port    int    `json:"port" mapstructure:"port"`
}

// DefaultConfig returns a config with default values
func DefaultConfig() *Config {
	return &Config{
		Engine: EngineConfig{
			CallTimeoutSeconds: 120,
		},
		Logging: LoggingConfig{
			Level:     "info",
			MaxSize:   100,
			MaxAge:    7,
			Compress:  true,
			Redaction: true,
		},
		Metrics: MetricsConfig{
			Enabled: false,
			Host:    "127.0.0.1",
			Port:    9464,
		},
	}
}

// String returns a JSON representation of the config with the vault
// key masked.
func (c *Config) String() string {
	masked := *c
	if masked.Vault.KeyHex != "" {
		masked.Vault.KeyHex = "[REDACTED]"
	}
	data, _ := json.MarshalIndent(masked, "", "  ")
	return string(data)
}

// Validate checks if the configuration is valid
func (c *Config) Validate() error {
	if c.Vault.KeyHex != "" {
		raw, err := hex.DecodeString(c.Vault.KeyHex)
		if err != nil {
			return fmt.Errorf("vault key must be hex encoded: %w", err)
		}
		if len(raw) != 32 {
			return fmt.Errorf("vault key must be 32 bytes, got %d", len(raw))
		}
	}

	switch c.Logging.Level {
	case "", "trace", "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("invalid logging level: %s", c.Logging.Level)
	}

	if c.Metrics.Enabled {
		if c.Metrics.Port <= 0 || c.Metrics.Port > 65535 {
			return fmt.Errorf("invalid metrics port: %d", c.Metrics.Port)
		}
	}

	if c.Engine.CallTimeoutSeconds < 0 {
		return fmt.Errorf("engine call timeout cannot be negative")
	}

	return nil
}
