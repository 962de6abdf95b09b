package config

import (
	"testing"
	"time"

	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func validConfig() *Config {
	return &Config{
		Env:                 "development",
		JWTSecret:           "secure-secret-at-least-32-chars-long",
		DBDriver:            "postgres",
		DBPassword:          "secure-password",
		DBSSLMode:           "require",
		Port:                "8080",
		FeedPageLimit:       20,
		ScrollLookaheadPx:   100,
		FetchTimeoutSeconds: 10,
		SessionIdleMinutes:  30,
	}
}

func TestConfig_Validate(t *testing.T) {
	tests := []struct {
		name        string
		mutate      func(*Config)
		expectError bool
	}{
		{"valid development", func(*Config) {}, false},
		{"missing port", func(c *Config) { c.Port = "" }, true},
		{"missing secret", func(c *Config) { c.JWTSecret = "" }, true},
		{"page limit zero", func(c *Config) { c.FeedPageLimit = 0 }, true},
		{"page limit too large", func(c *Config) { c.FeedPageLimit = 101 }, true},
		{"page limit at max", func(c *Config) { c.FeedPageLimit = 100 }, false},
		{"negative lookahead", func(c *Config) { c.ScrollLookaheadPx = -1 }, true},
		{"zero fetch timeout", func(c *Config) { c.FetchTimeoutSeconds = 0 }, true},
		{"zero idle", func(c *Config) { c.SessionIdleMinutes = 0 }, true},
		{"unknown driver", func(c *Config) { c.DBDriver = "mysql" }, true},
		{"bad sample ratio", func(c *Config) { c.TracingEnabled = true; c.TracingSampleRatio = 2 }, true},
		{"production defaults secret", func(c *Config) { c.Env = "production"; c.JWTSecret = defaultJWTSecret }, true},
		{"production short secret", func(c *Config) { c.Env = "prod"; c.JWTSecret = "short" }, true},
		{"production weak db password", func(c *Config) { c.Env = "production"; c.DBPassword = "password" }, true},
		{"production without ssl", func(c *Config) { c.Env = "production"; c.DBSSLMode = "disable" }, true},
		{"production sqlite skips db checks", func(c *Config) {
			c.Env = "production"
			c.DBDriver = "sqlite"
			c.DBPassword = ""
			c.DBSSLMode = ""
		}, false},
		{"production valid", func(c *Config) { c.Env = "production" }, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := validConfig()
			tt.mutate(c)
			err := c.Validate()
			if tt.expectError {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestLoadConfig_DefaultsAndEnv(t *testing.T) {
	defer viper.Reset()
	t.Setenv("APP_ENV", "development")
	t.Setenv("DB_SSLMODE", "  DISABLE  ")
	t.Setenv("FEED_PAGE_LIMIT", "35")
	t.Setenv("CONTENT_API_URL", "http://content:8376/")

	c, err := LoadConfig()
	require.NoError(t, err)
	assert.Equal(t, "disable", c.DBSSLMode)
	assert.Equal(t, 35, c.FeedPageLimit)
	assert.Equal(t, 100, c.ScrollLookaheadPx)
	assert.Equal(t, "http://content:8376", c.ContentAPIURL)
	assert.Equal(t, 10*time.Second, c.FetchTimeout())
	assert.Equal(t, 30*time.Minute, c.SessionIdle())
}

func TestLoadConfig_RejectsOutOfRangePageLimit(t *testing.T) {
	defer viper.Reset()
	t.Setenv("APP_ENV", "test")
	t.Setenv("FEED_PAGE_LIMIT", "500")

	_, err := LoadConfig()
	assert.ErrorContains(t, err, "FEED_PAGE_LIMIT")
}
