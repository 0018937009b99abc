package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func env(values map[string]string) func(string) string {
	return func(key string) string { return values[key] }
}

func TestFromEnvDefaults(t *testing.T) {
	cfg, err := FromEnv(env(map[string]string{"DATABASE_URL": "postgres://localhost/rte"}))
	require.NoError(t, err)

	assert.Equal(t, ":8080", cfg.ListenAddr())
	assert.Equal(t, 200, cfg.DefaultLimit)
	assert.Equal(t, 7, cfg.DefaultDays)
	assert.Equal(t, 15*time.Second, cfg.RequestTimeout)
	assert.Empty(t, cfg.BearerToken)
}

func TestFromEnvOverrides(t *testing.T) {
	cfg, err := FromEnv(env(map[string]string{
		"DB_URL":              "postgresql://localhost/rte",
		"API_PORT":            "9090",
		"API_DEFAULT_LIMIT":   "48",
		"API_DEFAULT_DAYS":    "2",
		"API_BEARER_TOKEN":    "s3cret",
		"LOG_LEVEL":           "DEBUG",
		"API_REQUEST_TIMEOUT": "30",
	}))
	require.NoError(t, err)

	assert.Equal(t, "postgresql://localhost/rte", cfg.DatabaseURL)
	assert.Equal(t, 9090, cfg.Port)
	assert.Equal(t, 48, cfg.DefaultLimit)
	assert.Equal(t, 2, cfg.DefaultDays)
	assert.Equal(t, "s3cret", cfg.BearerToken)
	assert.Equal(t, "debug", cfg.LogLevel)
	assert.Equal(t, 30*time.Second, cfg.RequestTimeout)
}

func TestFromEnvErrors(t *testing.T) {
	cases := map[string]map[string]string{
		"missing url":  {},
		"mongo url":    {"DATABASE_URL": "mongodb://localhost/rte"},
		"bad port":     {"DATABASE_URL": "postgres://x", "PORT": "http"},
		"bad limit":    {"DATABASE_URL": "postgres://x", "API_DEFAULT_LIMIT": "0"},
		"bad days":     {"DATABASE_URL": "postgres://x", "API_DEFAULT_DAYS": "-1"},
		"bad timeout":  {"DATABASE_URL": "postgres://x", "API_REQUEST_TIMEOUT": "soon"},
		"zero timeout": {"DATABASE_URL": "postgres://x", "API_REQUEST_TIMEOUT": "0"},
		"unit timeout": {"DATABASE_URL": "postgres://x", "API_REQUEST_TIMEOUT": "30s"},
	}
	for name, values := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := FromEnv(env(values))
			assert.Error(t, err)
		})
	}
}
