package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, DefaultPort, cfg.Port)
	assert.Equal(t, DefaultSessionTTL, cfg.SessionTTL)
	assert.Equal(t, DefaultSweepInterval, cfg.SweepInterval)
	assert.Equal(t, DefaultRateLimit, cfg.RateLimitRPM)
	assert.True(t, cfg.IsDevelopment())
	assert.False(t, cfg.IsProduction())
}

func TestLoad_Overrides(t *testing.T) {
	t.Setenv("PORT", "9999")
	t.Setenv("SESSION_TTL", "24h")
	t.Setenv("SWEEP_INTERVAL", "5s")
	t.Setenv("RATE_LIMIT_RPM", "30")
	t.Setenv("MESSAGING_URL", "https://gateway.example.com/send")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "9999", cfg.Port)
	assert.Equal(t, 24*time.Hour, cfg.SessionTTL)
	assert.Equal(t, 5*time.Second, cfg.SweepInterval)
	assert.Equal(t, 30, cfg.RateLimitRPM)
	assert.Equal(t, "https://gateway.example.com/send", cfg.MessagingURL)
}

func TestLoad_BadValuesFallBack(t *testing.T) {
	t.Setenv("SESSION_TTL", "not-a-duration")
	t.Setenv("RATE_LIMIT_RPM", "not-a-number")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, DefaultSessionTTL, cfg.SessionTTL)
	assert.Equal(t, DefaultRateLimit, cfg.RateLimitRPM)
}

func TestValidate_ProductionNeedsMessaging(t *testing.T) {
	cfg := &Config{
		Env:           "production",
		SessionTTL:    DefaultSessionTTL,
		SweepInterval: DefaultSweepInterval,
	}

	err := cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "MESSAGING_URL")

	cfg.MessagingURL = "https://gateway.example.com/send"
	assert.NoError(t, cfg.Validate())
}

func TestValidate_RejectsNonPositiveDurations(t *testing.T) {
	cfg := &Config{SessionTTL: 0, SweepInterval: DefaultSweepInterval}
	assert.Error(t, cfg.Validate())

	cfg = &Config{SessionTTL: DefaultSessionTTL, SweepInterval: -time.Second}
	assert.Error(t, cfg.Validate())
}
