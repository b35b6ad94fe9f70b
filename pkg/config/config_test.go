package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type testConfig struct {
	Port     int           `env:"TEST_CFG_PORT" envDefault:"8080"`
	LogLevel string        `env:"TEST_CFG_LOG_LEVEL" envDefault:"info"`
	Brokers  []string      `env:"TEST_CFG_BROKERS" envDefault:"localhost:9092" envSeparator:","`
	Interval time.Duration `env:"TEST_CFG_INTERVAL" envDefault:"5m"`
}

func TestLoad_Defaults(t *testing.T) {
	var cfg testConfig
	require.NoError(t, Load(&cfg))

	assert.Equal(t, 8080, cfg.Port)
	assert.Equal(t, "info", cfg.LogLevel)
	assert.Equal(t, []string{"localhost:9092"}, cfg.Brokers)
	assert.Equal(t, 5*time.Minute, cfg.Interval)
}

func TestLoad_FromEnvironment(t *testing.T) {
	t.Setenv("TEST_CFG_PORT", "9001")
	t.Setenv("TEST_CFG_BROKERS", "kafka-1:9092,kafka-2:9092")
	t.Setenv("TEST_CFG_INTERVAL", "30s")

	var cfg testConfig
	require.NoError(t, Load(&cfg))

	assert.Equal(t, 9001, cfg.Port)
	assert.Equal(t, []string{"kafka-1:9092", "kafka-2:9092"}, cfg.Brokers)
	assert.Equal(t, 30*time.Second, cfg.Interval)
}

func TestLoad_InvalidValue(t *testing.T) {
	t.Setenv("TEST_CFG_PORT", "not-a-number")

	var cfg testConfig
	assert.Error(t, Load(&cfg))
}
