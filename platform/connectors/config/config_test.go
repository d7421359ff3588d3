// Copyright 2025 AxonFlow
// SPDX-License-Identifier: BUSL-1.1

package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"catalogsync/platform/connectors/base"
)

var serviceEnvKeys = []string{
	"CATALOGSYNC_CONFIG", "PORT", "DATABASE_URL", "CATALOG_SQLITE_PATH", "REDIS_URL",
	"REDIS_KEY_PREFIX", "DISCOVERY_CACHE_TTL", "DISCOVERY_CACHE_MAX_ENTRIES",
	"POOL_CLOSE_AFTER_DISCOVERY", "POOL_IDLE_TIMEOUT", "POOL_MAX_OPEN_CONNS",
	"RECONCILE_INTERVAL", "RECONCILE_SWEEP_INTERVAL", "RECONCILE_CREATE_CONCURRENCY",
	"RECONCILE_MAX_RETRIES", "SECRETS_BACKEND", "AWS_REGION",
}

func clearServiceEnv(t *testing.T) {
	t.Helper()
	for _, key := range serviceEnvKeys {
		t.Setenv(key, "")
	}
}

func TestLoadServiceConfig_Defaults(t *testing.T) {
	clearServiceEnv(t)
	t.Setenv("CATALOG_SQLITE_PATH", ":memory:")

	cfg, err := LoadServiceConfig()
	require.NoError(t, err)

	assert.Equal(t, 8090, cfg.Port)
	assert.Equal(t, ":memory:", cfg.SQLitePath)
	assert.Equal(t, DefaultDiscoveryTTL, cfg.CacheTTL)
	assert.False(t, cfg.PoolCloseAfterDiscovery)
	assert.Equal(t, 10*time.Minute, cfg.PoolIdleTimeout)
	assert.Equal(t, 8, cfg.CreateConcurrency)
	assert.Equal(t, 3, cfg.MaxRetries)
	assert.Equal(t, "raw", cfg.SecretsBackend)
}

func TestLoadServiceConfig_Env(t *testing.T) {
	clearServiceEnv(t)
	t.Setenv("PORT", "9100")
	t.Setenv("DATABASE_URL", "postgres://catalog@localhost/catalog")
	t.Setenv("REDIS_URL", "redis://localhost:6379/1")
	t.Setenv("DISCOVERY_CACHE_TTL", "90s")
	t.Setenv("POOL_CLOSE_AFTER_DISCOVERY", "true")
	t.Setenv("RECONCILE_CREATE_CONCURRENCY", "2")
	t.Setenv("SECRETS_BACKEND", "base64")

	cfg, err := LoadServiceConfig()
	require.NoError(t, err)

	assert.Equal(t, 9100, cfg.Port)
	assert.Equal(t, "postgres://catalog@localhost/catalog", cfg.DatabaseURL)
	assert.Equal(t, "redis://localhost:6379/1", cfg.RedisURL)
	assert.Equal(t, 90*time.Second, cfg.CacheTTL)
	assert.True(t, cfg.PoolCloseAfterDiscovery)
	assert.Equal(t, 2, cfg.CreateConcurrency)
	assert.Equal(t, "base64", cfg.SecretsBackend)
}

func TestLoadServiceConfig_InvalidValues(t *testing.T) {
	tests := []struct {
		name string
		key  string
		val  string
	}{
		{"bad port", "PORT", "abc"},
		{"port out of range", "PORT", "70000"},
		{"bad duration", "DISCOVERY_CACHE_TTL", "soon"},
		{"zero ttl", "DISCOVERY_CACHE_TTL", "0s"},
		{"bad bool", "POOL_CLOSE_AFTER_DISCOVERY", "maybe"},
		{"zero concurrency", "RECONCILE_CREATE_CONCURRENCY", "0"},
		{"negative retries", "RECONCILE_MAX_RETRIES", "-1"},
		{"unknown backend", "SECRETS_BACKEND", "vault"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			clearServiceEnv(t)
			t.Setenv("CATALOG_SQLITE_PATH", ":memory:")
			t.Setenv(tt.key, tt.val)

			_, err := LoadServiceConfig()
			assert.Error(t, err)
		})
	}
}

func TestLoadServiceConfig_NoStorage(t *testing.T) {
	clearServiceEnv(t)

	_, err := LoadServiceConfig()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no catalog storage configured")
}

func TestLoadServiceConfig_FileThenEnv(t *testing.T) {
	clearServiceEnv(t)

	dir := t.TempDir()
	path := filepath.Join(dir, "catalogsync.yaml")
	content := `
sqlite_path: /tmp/catalog.db
cache_ttl: 2m
create_concurrency: 4
pool_close_after_discovery: true
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))

	t.Setenv("CATALOGSYNC_CONFIG", path)
	t.Setenv("RECONCILE_CREATE_CONCURRENCY", "6")

	cfg, err := LoadServiceConfig()
	require.NoError(t, err)

	assert.Equal(t, "/tmp/catalog.db", cfg.SQLitePath)
	assert.Equal(t, 2*time.Minute, cfg.CacheTTL)
	assert.True(t, cfg.PoolCloseAfterDiscovery)
	assert.Equal(t, 6, cfg.CreateConcurrency, "environment overrides the file")
	assert.Equal(t, 8090, cfg.Port, "keys absent from the file keep defaults")
}

func TestLoadServiceConfig_DriverOptions(t *testing.T) {
	clearServiceEnv(t)

	dir := t.TempDir()
	path := filepath.Join(dir, "catalogsync.yaml")
	content := `
sqlite_path: /tmp/catalog.db
driver_options:
  Postgres:
    SSLMode: require
  mysql:
    tls: "true"
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	t.Setenv("CATALOGSYNC_CONFIG", path)

	cfg, err := LoadServiceConfig()
	require.NoError(t, err)

	options := cfg.EngineOptions()
	assert.Equal(t, map[string]string{"sslmode": "require"}, options[base.EnginePostgres])
	assert.Equal(t, map[string]string{"tls": "true"}, options[base.EngineMySQL])
	assert.Nil(t, DefaultServiceConfig().EngineOptions())
}

func TestLoadServiceConfig_DriverOptionsUnknownEngine(t *testing.T) {
	clearServiceEnv(t)

	dir := t.TempDir()
	path := filepath.Join(dir, "catalogsync.yaml")
	content := `
sqlite_path: /tmp/catalog.db
driver_options:
  oracle:
    ssl: "on"
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	t.Setenv("CATALOGSYNC_CONFIG", path)

	_, err := LoadServiceConfig()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "driver_options")
}
