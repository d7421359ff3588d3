// Copyright 2025 AxonFlow
// SPDX-License-Identifier: BUSL-1.1
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"catalogsync/platform/connectors/base"
)

// ServiceConfig holds the daemon settings. Values come from defaults, then
// an optional YAML file (CATALOGSYNC_CONFIG), then environment variables.
type ServiceConfig struct {
	Port int `yaml:"port"`

	// Catalog storage: DatabaseURL wins over SQLitePath when both are set
	DatabaseURL string `yaml:"database_url"`
	SQLitePath  string `yaml:"sqlite_path"`

	// Discovery cache: Redis when RedisURL is set, in-process otherwise
	RedisURL          string        `yaml:"redis_url"`
	RedisKeyPrefix    string        `yaml:"redis_key_prefix"`
	CacheTTL          time.Duration `yaml:"cache_ttl"`
	CacheMaxEntries   int           `yaml:"cache_max_entries"`
	CacheCleanupEvery time.Duration `yaml:"cache_cleanup_interval"`

	// Pooling
	PoolCloseAfterDiscovery bool          `yaml:"pool_close_after_discovery"`
	PoolIdleTimeout         time.Duration `yaml:"pool_idle_timeout"`
	PoolReapInterval        time.Duration `yaml:"pool_reap_interval"`
	PoolMaxOpenConns        int           `yaml:"pool_max_open_conns"`

	// Driver options per engine, e.g. postgres: {sslmode: require}.
	// Options stored on a server configuration override these.
	DriverOptions map[string]map[string]string `yaml:"driver_options"`

	// Reconciliation
	ReconcileInterval   time.Duration `yaml:"reconcile_interval"`
	SweepInterval       time.Duration `yaml:"sweep_interval"`
	CreateConcurrency   int           `yaml:"create_concurrency"`
	MaxRetries          int           `yaml:"max_retries"`
	RetryInitialBackoff time.Duration `yaml:"retry_initial_backoff"`

	// Secrets
	SecretsBackend string `yaml:"secrets_backend"`
	AWSRegion      string `yaml:"aws_region"`
}

// DefaultServiceConfig returns the settings used when nothing is configured
func DefaultServiceConfig() *ServiceConfig {
	return &ServiceConfig{
		Port:                8090,
		RedisKeyPrefix:      "catalogsync:",
		CacheTTL:            DefaultDiscoveryTTL,
		CacheMaxEntries:     10000,
		CacheCleanupEvery:   time.Minute,
		PoolIdleTimeout:     10 * time.Minute,
		PoolReapInterval:    time.Minute,
		PoolMaxOpenConns:    5,
		ReconcileInterval:   15 * time.Minute,
		SweepInterval:       30 * time.Second,
		CreateConcurrency:   8,
		MaxRetries:          3,
		RetryInitialBackoff: 500 * time.Millisecond,
		SecretsBackend:      "raw",
	}
}

// LoadServiceConfig builds the configuration from defaults, the optional
// YAML file named by CATALOGSYNC_CONFIG and the environment.
func LoadServiceConfig() (*ServiceConfig, error) {
	cfg := DefaultServiceConfig()

	if path := os.Getenv("CATALOGSYNC_CONFIG"); path != "" {
		loader, err := NewYAMLConfigFileLoader(path)
		if err != nil {
			return nil, err
		}
		loader.Apply(cfg)
	}

	if err := applyEnv(cfg); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func applyEnv(cfg *ServiceConfig) error {
	var err error

	if cfg.Port, err = envInt("PORT", cfg.Port); err != nil {
		return err
	}
	cfg.DatabaseURL = getEnvOrDefault("DATABASE_URL", cfg.DatabaseURL)
	cfg.SQLitePath = getEnvOrDefault("CATALOG_SQLITE_PATH", cfg.SQLitePath)
	cfg.RedisURL = getEnvOrDefault("REDIS_URL", cfg.RedisURL)
	cfg.RedisKeyPrefix = getEnvOrDefault("REDIS_KEY_PREFIX", cfg.RedisKeyPrefix)

	if cfg.CacheTTL, err = envDuration("DISCOVERY_CACHE_TTL", cfg.CacheTTL); err != nil {
		return err
	}
	if cfg.CacheMaxEntries, err = envInt("DISCOVERY_CACHE_MAX_ENTRIES", cfg.CacheMaxEntries); err != nil {
		return err
	}
	if cfg.PoolCloseAfterDiscovery, err = envBool("POOL_CLOSE_AFTER_DISCOVERY", cfg.PoolCloseAfterDiscovery); err != nil {
		return err
	}
	if cfg.PoolIdleTimeout, err = envDuration("POOL_IDLE_TIMEOUT", cfg.PoolIdleTimeout); err != nil {
		return err
	}
	if cfg.PoolMaxOpenConns, err = envInt("POOL_MAX_OPEN_CONNS", cfg.PoolMaxOpenConns); err != nil {
		return err
	}
	if cfg.ReconcileInterval, err = envDuration("RECONCILE_INTERVAL", cfg.ReconcileInterval); err != nil {
		return err
	}
	if cfg.SweepInterval, err = envDuration("RECONCILE_SWEEP_INTERVAL", cfg.SweepInterval); err != nil {
		return err
	}
	if cfg.CreateConcurrency, err = envInt("RECONCILE_CREATE_CONCURRENCY", cfg.CreateConcurrency); err != nil {
		return err
	}
	if cfg.MaxRetries, err = envInt("RECONCILE_MAX_RETRIES", cfg.MaxRetries); err != nil {
		return err
	}

	cfg.SecretsBackend = getEnvOrDefault("SECRETS_BACKEND", cfg.SecretsBackend)
	cfg.AWSRegion = getEnvOrDefault("AWS_REGION", cfg.AWSRegion)
	return nil
}

// Validate checks for values the daemon cannot run with
func (c *ServiceConfig) Validate() error {
	if c.DatabaseURL == "" && c.SQLitePath == "" {
		return fmt.Errorf("no catalog storage configured (set DATABASE_URL or CATALOG_SQLITE_PATH)")
	}
	if c.Port <= 0 || c.Port > 65535 {
		return fmt.Errorf("invalid port: %d", c.Port)
	}
	if c.CacheTTL <= 0 {
		return fmt.Errorf("discovery cache TTL must be positive")
	}
	if c.CreateConcurrency <= 0 {
		return fmt.Errorf("create concurrency must be positive")
	}
	if c.MaxRetries < 0 {
		return fmt.Errorf("max retries cannot be negative")
	}
	switch strings.ToLower(c.SecretsBackend) {
	case "raw", "base64", "aws":
	default:
		return fmt.Errorf("unknown secrets backend %q", c.SecretsBackend)
	}
	for name := range c.DriverOptions {
		if _, err := base.ParseEngine(name); err != nil {
			return fmt.Errorf("driver_options: %w", err)
		}
	}
	return nil
}

// EngineOptions returns DriverOptions keyed by engine
func (c *ServiceConfig) EngineOptions() map[base.Engine]map[string]string {
	if len(c.DriverOptions) == 0 {
		return nil
	}
	out := make(map[base.Engine]map[string]string, len(c.DriverOptions))
	for name, options := range c.DriverOptions {
		engine, err := base.ParseEngine(name)
		if err != nil {
			continue
		}
		out[engine] = base.MergeOptions(out[engine], options)
	}
	return out
}

func getEnvOrDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func envInt(key string, def int) (int, error) {
	v := os.Getenv(key)
	if v == "" {
		return def, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("invalid %s format: %s", key, v)
	}
	return n, nil
}

func envBool(key string, def bool) (bool, error) {
	v := os.Getenv(key)
	if v == "" {
		return def, nil
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return false, fmt.Errorf("invalid %s format: %s", key, v)
	}
	return b, nil
}

func envDuration(key string, def time.Duration) (time.Duration, error) {
	v := os.Getenv(key)
	if v == "" {
		return def, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0, fmt.Errorf("invalid %s format: %s", key, v)
	}
	return d, nil
}
