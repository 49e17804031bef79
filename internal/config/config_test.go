package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTestConfigIsValid(t *testing.T) {
	cfg := TestConfig()
	assert.NoError(t, cfg.Validate())
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name      string
		mutate    func(*Config)
		wantField string
	}{
		{
			name:      "missing database URL",
			mutate:    func(c *Config) { c.Database.URL = "" },
			wantField: "DATABASE_URL",
		},
		{
			name:      "port out of range",
			mutate:    func(c *Config) { c.Server.Port = 70000 },
			wantField: "PORT",
		},
		{
			name:      "invalid log level",
			mutate:    func(c *Config) { c.Logger.Level = "verbose" },
			wantField: "LOG_LEVEL",
		},
		{
			name:      "invalid environment",
			mutate:    func(c *Config) { c.Logger.Environment = "qa" },
			wantField: "APP_ENV",
		},
		{
			name:      "zero sync workers",
			mutate:    func(c *Config) { c.Sync.Workers = 0 },
			wantField: "SYNC_WORKERS",
		},
		{
			name: "renewal lead longer than channel TTL",
			mutate: func(c *Config) {
				c.Webhook.ChannelTTL = time.Hour
				c.Webhook.RenewalLead = 2 * time.Hour
			},
			wantField: "WEBHOOK_RENEWAL_LEAD",
		},
		{
			name: "google configured without encryption key",
			mutate: func(c *Config) {
				c.Google.ClientID = "client-id"
				c.Google.ClientSecret = "client-secret"
				c.Google.RedirectURL = "http://localhost:8080/api/v1/auth/google/callback"
				c.External.TokenEncryptionKey = ""
			},
			wantField: "TOKEN_ENCRYPTION_KEY",
		},
		{
			name: "google configured without callback URL",
			mutate: func(c *Config) {
				c.Google.ClientID = "client-id"
				c.Google.ClientSecret = "client-secret"
				c.Google.RedirectURL = "http://localhost:8080/api/v1/auth/google/callback"
				c.Webhook.CallbackURL = ""
			},
			wantField: "WEBHOOK_CALLBACK_URL",
		},
		{
			name: "production requires https callback",
			mutate: func(c *Config) {
				c.Logger.Environment = "production"
				c.Webhook.CallbackURL = "http://sync.example.com/webhooks/calendar"
			},
			wantField: "WEBHOOK_CALLBACK_URL",
		},
		{
			name: "production requires channel token",
			mutate: func(c *Config) {
				c.Logger.Environment = "production"
				c.Webhook.ChannelToken = ""
			},
			wantField: "WEBHOOK_CHANNEL_TOKEN",
		},
		{
			name: "production requires API key",
			mutate: func(c *Config) {
				c.Logger.Environment = "production"
				c.External.APIKey = ""
			},
			wantField: "API_KEY",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := TestConfig()
			tt.mutate(cfg)

			err := cfg.Validate()
			require.Error(t, err)

			validationErrs, ok := err.(ValidationErrors)
			require.True(t, ok)

			found := false
			for _, ve := range validationErrs {
				if ve.Field == tt.wantField {
					found = true
				}
			}
			assert.True(t, found, "expected a validation error for %s, got: %v", tt.wantField, err)
		})
	}
}

func TestGoogleConfigured(t *testing.T) {
	cfg := TestConfig()
	assert.False(t, cfg.GoogleConfigured())

	cfg.Google.ClientID = "client-id"
	assert.False(t, cfg.GoogleConfigured())

	cfg.Google.ClientSecret = "client-secret"
	assert.True(t, cfg.GoogleConfigured())
}

func TestGetBindAddress(t *testing.T) {
	cfg := TestConfig()
	cfg.Server.Host = "0.0.0.0"
	cfg.Server.Port = 9090
	assert.Equal(t, "0.0.0.0:9090", cfg.GetBindAddress())
}

func TestEnvironmentHelpers(t *testing.T) {
	cfg := TestConfig()
	assert.False(t, cfg.IsProduction())
	assert.False(t, cfg.IsDevelopment())

	cfg.Logger.Environment = "production"
	assert.True(t, cfg.IsProduction())

	cfg.Logger.Environment = "development"
	assert.True(t, cfg.IsDevelopment())
}
