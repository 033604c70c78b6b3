package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestLoadDefaults(t *testing.T) {
	t.Setenv("SERVICE_NAME", "settlement-worker")
	cfg := Load()

	assert.Equal(t, "local", cfg.Env)
	assert.Equal(t, "9097", cfg.MetricsPort)
	assert.Empty(t, cfg.HTTPPort)
	assert.Equal(t, 5*time.Minute, cfg.NonceTTL)
	assert.Equal(t, 3, cfg.MaxPendingNonces)
	assert.Equal(t, "bet_settled", cfg.TopicBetSettled)
	assert.Equal(t, "America/New_York", cfg.MarketTZ)
}

func TestLoadOverrides(t *testing.T) {
	t.Setenv("SERVICE_NAME", "wager-api")
	t.Setenv("HTTP_PORT_API", "9000")
	t.Setenv("NONCE_TTL", "2m")
	t.Setenv("MAX_REWARD_COINS", "50")
	t.Setenv("RISK_MARGIN", "0.1")
	t.Setenv("SSV_REQUIRED", "true")
	t.Setenv("MAX_PENDING_NONCES", "not-a-number")
	cfg := Load()

	assert.Equal(t, "9000", cfg.HTTPPort)
	assert.Equal(t, 2*time.Minute, cfg.NonceTTL)
	assert.EqualValues(t, 50, cfg.MaxRewardCoins)
	assert.Equal(t, 0.1, cfg.RiskMargin)
	assert.True(t, cfg.SSVRequired)
	assert.Equal(t, 3, cfg.MaxPendingNonces)
}
