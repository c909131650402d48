// Package config loads simulation run configuration from environment
// variables, following the getEnv-with-fallback style of
// internal/config/config.go.
package config

import (
	"fmt"
	"os"
	"strconv"

	"github.com/joho/godotenv"
)

// Config holds a single backtest run's configuration: where its asset
// data lives, how it logs, what the default tracer windows are, and
// where its query API listens.
type Config struct {
	LogLevel  string // debug, info, warn, error
	LogPretty bool

	HTTPPort int
	DataDir  string

	DefaultWarmup    int
	VolatilityWindow int
	BetaWindow       int
	OrderEpsilon     float64
}

// Load reads configuration from a .env file (if present) and the
// process environment, falling back to sensible defaults, then
// validates the result.
func Load() (*Config, error) {
	_ = godotenv.Load()

	cfg := &Config{
		LogLevel:         getEnv("LOG_LEVEL", "info"),
		LogPretty:        getEnvAsBool("LOG_PRETTY", false),
		HTTPPort:         getEnvAsInt("HTTP_PORT", 8080),
		DataDir:          getEnv("BACKTEST_DATA_DIR", "./data"),
		DefaultWarmup:    getEnvAsInt("DEFAULT_WARMUP", 0),
		VolatilityWindow: getEnvAsInt("VOLATILITY_WINDOW", 20),
		BetaWindow:       getEnvAsInt("BETA_WINDOW", 20),
		OrderEpsilon:     getEnvAsFloat("ORDER_EPSILON", 0.001),
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks that tracer windows and the order epsilon are usable.
func (c *Config) Validate() error {
	if c.VolatilityWindow < 1 {
		return fmt.Errorf("config: VOLATILITY_WINDOW must be >= 1, got %d", c.VolatilityWindow)
	}
	if c.BetaWindow < 1 {
		return fmt.Errorf("config: BETA_WINDOW must be >= 1, got %d", c.BetaWindow)
	}
	if c.OrderEpsilon < 0 {
		return fmt.Errorf("config: ORDER_EPSILON must be >= 0, got %f", c.OrderEpsilon)
	}
	return nil
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return defaultValue
}

func getEnvAsBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if boolVal, err := strconv.ParseBool(value); err == nil {
			return boolVal
		}
	}
	return defaultValue
}

func getEnvAsFloat(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if floatVal, err := strconv.ParseFloat(value, 64); err == nil {
			return floatVal
		}
	}
	return defaultValue
}
