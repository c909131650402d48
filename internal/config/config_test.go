package config

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, "info", cfg.LogLevel)
	assert.Equal(t, 8080, cfg.HTTPPort)
	assert.Equal(t, 20, cfg.VolatilityWindow)
	assert.Equal(t, 0.001, cfg.OrderEpsilon)
}

func TestLoad_ReadsEnvOverrides(t *testing.T) {
	t.Setenv("LOG_LEVEL", "debug")
	t.Setenv("HTTP_PORT", "9090")
	t.Setenv("VOLATILITY_WINDOW", "40")
	t.Setenv("ORDER_EPSILON", "0.01")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, "debug", cfg.LogLevel)
	assert.Equal(t, 9090, cfg.HTTPPort)
	assert.Equal(t, 40, cfg.VolatilityWindow)
	assert.Equal(t, 0.01, cfg.OrderEpsilon)
}

func TestValidate_RejectsNonPositiveWindow(t *testing.T) {
	cfg := &Config{VolatilityWindow: 0, BetaWindow: 10, OrderEpsilon: 0}
	require.Error(t, cfg.Validate())
}

func TestValidate_RejectsNegativeEpsilon(t *testing.T) {
	cfg := &Config{VolatilityWindow: 10, BetaWindow: 10, OrderEpsilon: -1}
	require.Error(t, cfg.Validate())
}
