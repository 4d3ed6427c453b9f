package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"keymint/internal/errors"
)

func validConfig() *Config {
	cfg := Default()
	cfg.Secrets = SecretsConfig{
		MasterKey:      "master-key-material",
		KeyPepper:      "key-pepper",
		RecoveryPepper: "recovery-pepper",
	}
	return cfg
}

func TestValidateAcceptsCompleteConfig(t *testing.T) {
	assert.NoError(t, validConfig().validate())
}

func TestValidateRequiresSecretMaterial(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"missing master key", func(c *Config) { c.Secrets.MasterKey = "" }},
		{"missing key pepper", func(c *Config) { c.Secrets.KeyPepper = "" }},
		{"missing recovery pepper", func(c *Config) { c.Secrets.RecoveryPepper = "" }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := validConfig()
			tt.mutate(cfg)
			err := cfg.validate()
			require.Error(t, err)
			assert.ErrorIs(t, err, errors.ErrConfigurationMissing)
		})
	}
}

func TestValidateRequiresDistinctPeppers(t *testing.T) {
	cfg := validConfig()
	cfg.Secrets.KeyPepper = "same"
	cfg.Secrets.RecoveryPepper = "same"
	assert.Error(t, cfg.validate())
}

func TestValidateRejectsBadValues(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"port zero", func(c *Config) { c.Server.Port = 0 }},
		{"port too high", func(c *Config) { c.Server.Port = 70000 }},
		{"zero read timeout", func(c *Config) { c.Server.ReadTimeout = 0 }},
		{"zero write timeout", func(c *Config) { c.Server.WriteTimeout = 0 }},
		{"negative max activations", func(c *Config) { c.License.MaxActivations = -1 }},
		{"zero recovery codes", func(c *Config) { c.License.RecoveryCodeCount = 0 }},
		{"zero export limit", func(c *Config) { c.Usage.ExportLimit = 0 }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := validConfig()
			tt.mutate(cfg)
			assert.Error(t, cfg.validate())
		})
	}
}

func TestValidateAllowsZeroMaxActivations(t *testing.T) {
	cfg := validConfig()
	cfg.License.MaxActivations = 0
	assert.NoError(t, cfg.validate())
}

func TestValidateForcesJSONLogging(t *testing.T) {
	cfg := validConfig()
	cfg.Logging.Format = "text"
	require.NoError(t, cfg.validate())
	assert.Equal(t, "json", cfg.Logging.Format)
}

func TestMergeConfigsEnvWins(t *testing.T) {
	fileConfig := Config{}
	fileConfig.Database.DSN = "postgres://file"
	fileConfig.Secrets.MasterKey = "file-master"
	fileConfig.Security.WebhookSecret = "file-hook"
	fileConfig.Server.Port = 9000

	envConfig := Config{}
	envConfig.Database.DSN = "postgres://env"

	merged := mergeConfigs(fileConfig, envConfig)
	assert.Equal(t, "postgres://env", merged.Database.DSN)
	assert.Equal(t, "file-master", merged.Secrets.MasterKey)
	assert.Equal(t, "file-hook", merged.Security.WebhookSecret)
	assert.Equal(t, 9000, merged.Server.Port)
}

func TestDefaultIsSelfConsistent(t *testing.T) {
	cfg := Default()

	assert.Equal(t, 8080, cfg.Server.Port)
	assert.Equal(t, 15*time.Second, cfg.Server.ReadTimeout)
	assert.Equal(t, 5, cfg.License.MaxActivations)
	assert.Equal(t, 3, cfg.License.RecoveryCodeCount)
	assert.Equal(t, 5, cfg.Usage.ExportLimit)
	assert.True(t, cfg.Security.RateLimit.Enabled)
}
