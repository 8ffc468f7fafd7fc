package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("log:\n  level: debug\n"), 0o600))
	t.Setenv("APP_CONFIG", path)

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, "debug", cfg.Log.Level)
	assert.Equal(t, 10, cfg.Feed.FollowCap)
	assert.Equal(t, 30, cfg.Feed.InClauseLimit)
	assert.Equal(t, 20, cfg.Feed.InitialPageSize)
	assert.Equal(t, 15, cfg.Feed.LoadMorePageSize)
	assert.Equal(t, 5*time.Minute, cfg.Feed.HydrationCacheTTL)
	assert.Equal(t, "postgres", cfg.Database.Driver)
}

func TestLoadEnvOverride(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("feed:\n  follow_cap: 25\n"), 0o600))
	t.Setenv("APP_CONFIG", path)
	t.Setenv("APP_DATABASE_DRIVER", "sqlite")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, 25, cfg.Feed.FollowCap)
	assert.Equal(t, "sqlite", cfg.Database.Driver)
}

func TestValidate(t *testing.T) {
	base := func() *Config {
		return &Config{
			Database: DatabaseConfig{Driver: "sqlite"},
			Feed:     FeedConfig{FollowCap: 10, InClauseLimit: 30, InitialPageSize: 20, LoadMorePageSize: 15},
		}
	}

	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr bool
	}{
		{"ok", func(*Config) {}, false},
		{"zero cap allowed", func(c *Config) { c.Feed.FollowCap = 0 }, false},
		{"negative cap", func(c *Config) { c.Feed.FollowCap = -1 }, true},
		{"zero in-clause", func(c *Config) { c.Feed.InClauseLimit = 0 }, true},
		{"zero page", func(c *Config) { c.Feed.LoadMorePageSize = 0 }, true},
		{"bad driver", func(c *Config) { c.Database.Driver = "mysql" }, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := base()
			tt.mutate(c)
			err := c.Validate()
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}
