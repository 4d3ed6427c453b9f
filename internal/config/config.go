package config

import (
	"fmt"
	"os"
	"time"

	"github.com/kelseyhightower/envconfig"
	"gopkg.in/yaml.v2"

	"keymint/internal/errors"
)

// Config represents the complete application configuration
type Config struct {
	Server   ServerConfig   `yaml:"server" envconfig:"SERVER"`
	Database DatabaseConfig `yaml:"database" envconfig:"DATABASE"`
	Secrets  SecretsConfig  `yaml:"secrets" envconfig:"SECRETS"`
	License  LicenseConfig  `yaml:"license" envconfig:"LICENSE"`
	Usage    UsageConfig    `yaml:"usage" envconfig:"USAGE"`
	Security SecurityConfig `yaml:"security" envconfig:"SECURITY"`
	Logging  LoggingConfig  `yaml:"logging" envconfig:"LOGGING"`
}

// ServerConfig contains HTTP server configuration
type ServerConfig struct {
	Port            int           `yaml:"port" envconfig:"PORT" default:"8080"`
	ReadTimeout     time.Duration `yaml:"read_timeout" envconfig:"READ_TIMEOUT" default:"15s"`
	WriteTimeout    time.Duration `yaml:"write_timeout" envconfig:"WRITE_TIMEOUT" default:"15s"`
	IdleTimeout     time.Duration `yaml:"idle_timeout" envconfig:"IDLE_TIMEOUT" default:"60s"`
	MaxHeaderBytes  int           `yaml:"max_header_bytes" envconfig:"MAX_HEADER_BYTES" default:"1048576"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout" envconfig:"SHUTDOWN_TIMEOUT" default:"30s"`
	RequestTimeout  time.Duration `yaml:"request_timeout" envconfig:"REQUEST_TIMEOUT" default:"30s"`
}

// DatabaseConfig contains PostgreSQL connection configuration
type DatabaseConfig struct {
	DSN             string        `yaml:"dsn" envconfig:"DSN"`
	MaxOpenConns    int           `yaml:"max_open_conns" envconfig:"MAX_OPEN_CONNS" default:"25"`
	MaxIdleConns    int           `yaml:"max_idle_conns" envconfig:"MAX_IDLE_CONNS" default:"5"`
	ConnMaxLifetime time.Duration `yaml:"conn_max_lifetime" envconfig:"CONN_MAX_LIFETIME" default:"30m"`
}

// SecretsConfig contains the key material for the secret codec.
// All three values are required; the codec cannot operate without them.
type SecretsConfig struct {
	MasterKey      string `yaml:"master_key" envconfig:"MASTER_KEY"`
	KeyPepper      string `yaml:"key_pepper" envconfig:"KEY_PEPPER"`
	RecoveryPepper string `yaml:"recovery_pepper" envconfig:"RECOVERY_PEPPER"`
}

// LicenseConfig contains license policy configuration
type LicenseConfig struct {
	// MaxActivations caps distinct users per license. 0 disables the cap.
	MaxActivations    int `yaml:"max_activations" envconfig:"MAX_ACTIVATIONS" default:"5"`
	RecoveryCodeCount int `yaml:"recovery_code_count" envconfig:"RECOVERY_CODE_COUNT" default:"3"`
}

// UsageConfig contains free-tier metering configuration
type UsageConfig struct {
	// ExportLimit is a lifetime cap per user identity, never a rolling window.
	ExportLimit int `yaml:"export_limit" envconfig:"EXPORT_LIMIT" default:"5"`
}

// SecurityConfig contains security-related configuration
type SecurityConfig struct {
	AllowedOrigins []string        `yaml:"allowed_origins" envconfig:"ALLOWED_ORIGINS" default:"http://localhost:8080"`
	RateLimit      RateLimitConfig `yaml:"rate_limit" envconfig:"RATE_LIMIT"`
	// WebhookSecret signs provider webhook payloads. Empty disables
	// verification, which is acceptable only in tests.
	WebhookSecret string `yaml:"webhook_secret" envconfig:"WEBHOOK_SECRET"`
}

// RateLimitConfig contains rate limiting configuration
type RateLimitConfig struct {
	Enabled bool    `yaml:"enabled" envconfig:"ENABLED" default:"true"`
	RPS     float64 `yaml:"rps" envconfig:"RPS" default:"10"`
	Burst   int     `yaml:"burst" envconfig:"BURST" default:"20"`
}

// LoggingConfig contains logging configuration
type LoggingConfig struct {
	Level       string `yaml:"level" envconfig:"LEVEL" default:"info"`
	Format      string `yaml:"format" envconfig:"FORMAT" default:"json"`
	Output      string `yaml:"output" envconfig:"OUTPUT" default:"stdout"`
	FilePath    string `yaml:"file_path" envconfig:"FILE_PATH" default:"logs/keymint.log"`
	Development bool   `yaml:"development" envconfig:"DEVELOPMENT" default:"false"`
}

// Load loads configuration from environment variables and an optional config file
func Load() (*Config, error) {
	var cfg Config

	if err := envconfig.Process("KEYMINT", &cfg); err != nil {
		return nil, fmt.Errorf("failed to load config from env: %w", err)
	}

	configFile := getConfigFilePath()
	if configFile != "" {
		fileConfig, err := loadFromFile(configFile)
		if err != nil {
			return nil, fmt.Errorf("failed to load config from file: %w", err)
		}
		cfg = mergeConfigs(*fileConfig, cfg)
	}

	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return &cfg, nil
}

// loadFromFile loads configuration from a YAML file
func loadFromFile(filePath string) (*Config, error) {
	data, err := os.ReadFile(filePath)
	if err != nil {
		return nil, err
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, err
	}

	return &cfg, nil
}

// mergeConfigs merges file config with env config (env takes precedence)
func mergeConfigs(fileConfig, envConfig Config) Config {
	if envConfig.Database.DSN == "" {
		envConfig.Database.DSN = fileConfig.Database.DSN
	}
	if envConfig.Secrets.MasterKey == "" {
		envConfig.Secrets.MasterKey = fileConfig.Secrets.MasterKey
	}
	if envConfig.Secrets.KeyPepper == "" {
		envConfig.Secrets.KeyPepper = fileConfig.Secrets.KeyPepper
	}
	if envConfig.Secrets.RecoveryPepper == "" {
		envConfig.Secrets.RecoveryPepper = fileConfig.Secrets.RecoveryPepper
	}
	if envConfig.Security.WebhookSecret == "" {
		envConfig.Security.WebhookSecret = fileConfig.Security.WebhookSecret
	}
	if envConfig.Server.Port == 0 {
		envConfig.Server.Port = fileConfig.Server.Port
	}
	return envConfig
}

// validate validates the configuration. Missing codec key material is a
// startup-time failure: the process must not serve requests without it.
func (c *Config) validate() error {
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("invalid server port: %d", c.Server.Port)
	}

	if c.Server.ReadTimeout <= 0 {
		return fmt.Errorf("server read timeout must be positive")
	}

	if c.Server.WriteTimeout <= 0 {
		return fmt.Errorf("server write timeout must be positive")
	}

	if c.Secrets.MasterKey == "" {
		return fmt.Errorf("%w: KEYMINT_SECRETS_MASTER_KEY", errors.ErrConfigurationMissing)
	}
	if c.Secrets.KeyPepper == "" {
		return fmt.Errorf("%w: KEYMINT_SECRETS_KEY_PEPPER", errors.ErrConfigurationMissing)
	}
	if c.Secrets.RecoveryPepper == "" {
		return fmt.Errorf("%w: KEYMINT_SECRETS_RECOVERY_PEPPER", errors.ErrConfigurationMissing)
	}
	if c.Secrets.KeyPepper == c.Secrets.RecoveryPepper {
		return fmt.Errorf("key pepper and recovery pepper must be distinct values")
	}

	if c.License.MaxActivations < 0 {
		return fmt.Errorf("license max activations cannot be negative")
	}
	if c.License.RecoveryCodeCount <= 0 {
		return fmt.Errorf("recovery code count must be positive")
	}
	if c.Usage.ExportLimit <= 0 {
		return fmt.Errorf("usage export limit must be positive")
	}

	if c.Logging.Format != "json" {
		// Always JSON in anything but local development
		c.Logging.Format = "json"
	}

	return nil
}

// getConfigFilePath returns the path to the config file
func getConfigFilePath() string {
	locations := []string{
		"config.yaml",
		"configs/config.yaml",
	}

	for _, location := range locations {
		if _, err := os.Stat(location); err == nil {
			return location
		}
	}

	return "" // No config file found, use env vars only
}

// Default returns default configuration suitable for tests
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Port:            8080,
			ReadTimeout:     15 * time.Second,
			WriteTimeout:    15 * time.Second,
			IdleTimeout:     60 * time.Second,
			MaxHeaderBytes:  1 << 20,
			ShutdownTimeout: 30 * time.Second,
			RequestTimeout:  30 * time.Second,
		},
		Database: DatabaseConfig{
			MaxOpenConns:    25,
			MaxIdleConns:    5,
			ConnMaxLifetime: 30 * time.Minute,
		},
		License: LicenseConfig{
			MaxActivations:    5,
			RecoveryCodeCount: 3,
		},
		Usage: UsageConfig{
			ExportLimit: 5,
		},
		Security: SecurityConfig{
			AllowedOrigins: []string{"http://localhost:8080"},
			RateLimit: RateLimitConfig{
				Enabled: true,
				RPS:     10,
				Burst:   20,
			},
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
			Output: "stdout",
		},
	}
}
