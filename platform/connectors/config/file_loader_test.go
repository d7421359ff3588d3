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
)

func TestExpandEnvVars(t *testing.T) {
	t.Setenv("TEST_VAR", "test_value")
	t.Setenv("OTHER_VAR", "other_value")
	t.Setenv("UNDEFINED_VAR", "")

	tests := []struct {
		name     string
		input    string
		expected string
	}{
		{"dollar brace syntax", "prefix ${TEST_VAR} suffix", "prefix test_value suffix"},
		{"dollar syntax", "prefix $TEST_VAR suffix", "prefix test_value suffix"},
		{"default value - var exists", "${TEST_VAR:-default}", "test_value"},
		{"default value - var not exists", "${UNDEFINED_VAR:-default_val}", "default_val"},
		{"undefined var - empty result", "${UNDEFINED_VAR}", ""},
		{"multiple vars", "${TEST_VAR} and ${OTHER_VAR}", "test_value and other_value"},
		{"no vars", "plain text without variables", "plain text without variables"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, expandEnvVars(tt.input))
		})
	}
}

func writeConfigFile(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func TestNewYAMLConfigFileLoader_FileNotFound(t *testing.T) {
	_, err := NewYAMLConfigFileLoader("/nonexistent/path/config.yaml")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to read config file")
}

func TestNewYAMLConfigFileLoader_InvalidYAML(t *testing.T) {
	path := writeConfigFile(t, "port: [unterminated")

	_, err := NewYAMLConfigFileLoader(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to parse config file")
}

func TestYAMLConfigFileLoader_ApplyWithEnvVars(t *testing.T) {
	t.Setenv("TEST_REDIS_URL", "redis://cache:6379/2")
	t.Setenv("TEST_CONCURRENCY", "")

	path := writeConfigFile(t, `
redis_url: ${TEST_REDIS_URL}
create_concurrency: ${TEST_CONCURRENCY:-3}
pool_idle_timeout: 30s
`)
	loader, err := NewYAMLConfigFileLoader(path)
	require.NoError(t, err)
	assert.Equal(t, path, loader.FilePath())

	cfg := DefaultServiceConfig()
	loader.Apply(cfg)

	assert.Equal(t, "redis://cache:6379/2", cfg.RedisURL)
	assert.Equal(t, 3, cfg.CreateConcurrency)
	assert.Equal(t, 30*time.Second, cfg.PoolIdleTimeout)
	assert.Equal(t, "catalogsync:", cfg.RedisKeyPrefix)
}

func TestYAMLConfigFileLoader_Reload(t *testing.T) {
	path := writeConfigFile(t, "port: 9000\n")
	loader, err := NewYAMLConfigFileLoader(path)
	require.NoError(t, err)

	require.NoError(t, os.WriteFile(path, []byte("port: 9001\n"), 0o600))
	require.NoError(t, loader.Reload())

	cfg := DefaultServiceConfig()
	loader.Apply(cfg)
	assert.Equal(t, 9001, cfg.Port)

	require.NoError(t, os.WriteFile(path, []byte("port: [\n"), 0o600))
	assert.Error(t, loader.Reload())

	cfg = DefaultServiceConfig()
	loader.Apply(cfg)
	assert.Equal(t, 9001, cfg.Port, "failed reload keeps the previous content")
}
