package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, "sqlite", cfg.Database.Driver)
	assert.Equal(t, 4, cfg.Circulation.MaxIssued)
	assert.Equal(t, 14*24*time.Hour, cfg.Circulation.LoanPeriod)
	assert.Equal(t, 5*time.Second, cfg.Circulation.StoreTimeout)
	assert.True(t, cfg.Seed.Enabled)
	assert.False(t, cfg.Redis.Enabled)
	assert.Equal(t, "0.0.0.0:3000", cfg.Server.Addr())
}

func TestLoad_FileAndEnv(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	content := []byte(`
server:
  port: 8088
circulation:
  max_issued: 2
  block_overdue: true
logging:
  level: debug
`)
	require.NoError(t, os.WriteFile(path, content, 0o600))

	t.Setenv("LIBRARY_CIRCULATION_MAX_ISSUED", "6")

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, 8088, cfg.Server.Port)
	assert.Equal(t, 6, cfg.Circulation.MaxIssued, "env must override file")
	assert.True(t, cfg.Circulation.BlockOverdue)
	assert.Equal(t, "debug", cfg.Logging.Level)
}

func TestValidate(t *testing.T) {
	valid := func() *Config {
		return &Config{
			Server:   ServerConfig{Port: 3000},
			Database: DatabaseConfig{Driver: "sqlite", Path: "./data/library.db", RetryAttempts: 3},
			Circulation: CirculationConfig{
				MaxIssued:    4,
				LoanPeriod:   time.Hour,
				StoreTimeout: time.Second,
			},
			Logging: LoggingConfig{Level: "info"},
		}
	}

	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr bool
	}{
		{"valid", func(*Config) {}, false},
		{"bad port", func(c *Config) { c.Server.Port = 0 }, true},
		{"bad driver", func(c *Config) { c.Database.Driver = "mongo" }, true},
		{"sqlite without path", func(c *Config) { c.Database.Path = "" }, true},
		{"postgres without host", func(c *Config) {
			c.Database.Driver = "postgres"
			c.Database.User = "library"
			c.Database.Database = "library"
		}, true},
		{"zero retry attempts", func(c *Config) { c.Database.RetryAttempts = 0 }, true},
		{"zero max issued", func(c *Config) { c.Circulation.MaxIssued = 0 }, true},
		{"zero loan period", func(c *Config) { c.Circulation.LoanPeriod = 0 }, true},
		{"zero store timeout", func(c *Config) { c.Circulation.StoreTimeout = 0 }, true},
		{"bad log level", func(c *Config) { c.Logging.Level = "loud" }, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := valid()
			tt.mutate(cfg)
			err := cfg.Validate()
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}
