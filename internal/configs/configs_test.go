package configs

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadConfigDefaults(t *testing.T) {
	t.Setenv("ENVIRONMENT", "")
	t.Setenv("JWT_SECRET", "")
	t.Setenv("HIDE_RECONNECTING", "")

	cfg, err := LoadConfig()
	require.NoError(t, err)

	assert.True(t, cfg.IsDevelopment())
	assert.Equal(t, 8080, cfg.Port)
	assert.Equal(t, 50, cfg.MaxConnectionsPerRoom)
	assert.Equal(t, 5*time.Second, cfg.GracePeriod)
	assert.Greater(t, cfg.HeartbeatTimeout, cfg.HeartbeatInterval)
	assert.NotEmpty(t, cfg.JWTSecret)
	assert.False(t, cfg.HideReconnecting, "grace users are broadcast as reconnecting by default")
}

func TestLoadConfigRequiresSecretInProduction(t *testing.T) {
	t.Setenv("ENVIRONMENT", "production")
	t.Setenv("JWT_SECRET", "")

	_, err := LoadConfig()
	assert.Error(t, err)
}

func TestLoadConfigRejectsTimeoutBelowInterval(t *testing.T) {
	t.Setenv("HEARTBEAT_INTERVAL", "10s")
	t.Setenv("HEARTBEAT_TIMEOUT", "10s")

	_, err := LoadConfig()
	assert.ErrorContains(t, err, "HEARTBEAT_TIMEOUT")
}

func TestLoadConfigParsesOverrides(t *testing.T) {
	t.Setenv("ALLOWED_ORIGINS", "https://a.example, https://b.example ,")
	t.Setenv("GRACE_PERIOD", "750ms")
	t.Setenv("MOUSE_DISTANCE_THRESHOLD", "3.5")
	t.Setenv("HIDE_RECONNECTING", "true")

	cfg, err := LoadConfig()
	require.NoError(t, err)

	assert.Equal(t, []string{"https://a.example", "https://b.example"}, cfg.AllowedOrigins)
	assert.Equal(t, 750*time.Millisecond, cfg.GracePeriod)
	assert.InDelta(t, 3.5, cfg.MouseDistanceThreshold, 1e-9)
	assert.True(t, cfg.HideReconnecting)
}

func TestLoadConfigRejectsBadPort(t *testing.T) {
	t.Setenv("PORT", "80")

	_, err := LoadConfig()
	assert.Error(t, err)
}
