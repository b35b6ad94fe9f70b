package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "inventory-service", cfg.Service.Name)
	assert.Equal(t, 8080, cfg.HTTP.Port)
	assert.Equal(t, 30*time.Minute, cfg.Inventory.ReservationTTL)
	assert.True(t, cfg.Inventory.LockWatchdogEnabled)
	assert.Equal(t, 5*time.Second, cfg.Inventory.PublishTimeout)
	assert.Zero(t, cfg.Inventory.DefaultLowStockThreshold)
}

func TestLoadOverrides(t *testing.T) {
	t.Setenv("LOCK_WATCHDOG_ENABLED", "false")
	t.Setenv("PUBLISH_TIMEOUT", "2s")
	t.Setenv("LOW_STOCK_DEFAULT_THRESHOLD", "10")

	cfg, err := Load()
	require.NoError(t, err)

	assert.False(t, cfg.Inventory.LockWatchdogEnabled)
	assert.Equal(t, 2*time.Second, cfg.Inventory.PublishTimeout)
	assert.Equal(t, 10, cfg.Inventory.DefaultLowStockThreshold)
}

func TestLoadRejectsInvalidValues(t *testing.T) {
	cases := []struct {
		name  string
		key   string
		value string
	}{
		{"http port out of range", "HTTP_PORT", "70000"},
		{"lock ttl shorter than wait", "LOCK_TTL", "500ms"},
		{"reservation ttl sub-minute", "RESERVATION_TTL", "10s"},
		{"publish timeout not positive", "PUBLISH_TIMEOUT", "0s"},
		{"negative default threshold", "LOW_STOCK_DEFAULT_THRESHOLD", "-1"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			t.Setenv(tc.key, tc.value)
			_, err := Load()
			assert.Error(t, err)
		})
	}
}
