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

package registry

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log"
	"os"
	"sort"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"catalogsync/platform/connectors/base"
	"catalogsync/platform/connectors/config"
	"catalogsync/platform/connectors/mssql"
	"catalogsync/platform/connectors/mysql"
	"catalogsync/platform/connectors/postgres"
	"catalogsync/platform/connectors/sqlite"
)

// PoolPolicy controls how long pooled connections live
type PoolPolicy struct {
	// CloseAfterDiscovery asks callers to sweep every pool once a discovery
	// result has been cached.
	CloseAfterDiscovery bool

	// IdleTimeout is how long an unused pool survives before the idle reaper
	// closes it. Zero disables reaping.
	IdleTimeout time.Duration
}

// PoolManagerOptions configures a PoolManager
type PoolManagerOptions struct {
	Drivers  []base.Driver       // defaults to DefaultDrivers()
	Secrets  config.SecretDecoder // defaults to RawSecretDecoder
	Policy   PoolPolicy
	Settings base.PoolSettings
	// EngineOptions are driver options applied to every pool of an engine,
	// for example {"postgres": {"sslmode": "require"}}. Per-server options
	// take precedence.
	EngineOptions map[base.Engine]map[string]string
	Logger        *log.Logger
}

// PoolStats describes one live pool
type PoolStats struct {
	Identity        string    `json:"identity"`
	Engine          string    `json:"engine"`
	OpenConnections int       `json:"open_connections"`
	InUse           int       `json:"in_use"`
	Idle            int       `json:"idle"`
	LastUsed        time.Time `json:"last_used"`
}

type pooledConnection struct {
	db       *sql.DB
	lastUsed time.Time
}

// PoolManager owns the live connection pools keyed by connection identity.
// Thread-safe for concurrent access; concurrent first use of one identity
// opens a single pool.
type PoolManager struct {
	drivers       map[base.Engine]base.Driver
	pools         map[base.ConnectionIdentity]*pooledConnection
	secrets       config.SecretDecoder
	policy        PoolPolicy
	settings      base.PoolSettings
	engineOptions map[base.Engine]map[string]string
	opening       singleflight.Group
	mu            sync.Mutex
	logger        *log.Logger
	now           func() time.Time
}

// DefaultDrivers returns a driver for every supported engine
func DefaultDrivers() []base.Driver {
	return []base.Driver{
		postgres.NewPostgresDriver(),
		mysql.NewMySQLDriver(),
		mysql.NewMariaDBDriver(),
		sqlite.NewSQLiteDriver(),
		mssql.NewMSSQLDriver(),
	}
}

// NewPoolManager creates a pool manager with no open pools
func NewPoolManager(opts PoolManagerOptions) *PoolManager {
	drivers := opts.Drivers
	if drivers == nil {
		drivers = DefaultDrivers()
	}
	secrets := opts.Secrets
	if secrets == nil {
		secrets = config.RawSecretDecoder{}
	}
	logger := opts.Logger
	if logger == nil {
		logger = log.New(os.Stdout, "[POOL_MANAGER] ", log.LstdFlags)
	}

	pm := &PoolManager{
		drivers:  make(map[base.Engine]base.Driver, len(drivers)),
		pools:    make(map[base.ConnectionIdentity]*pooledConnection),
		secrets:  secrets,
		policy:   opts.Policy,
		settings: opts.Settings,
		logger:   logger,
		now:      time.Now,
	}
	pm.engineOptions = make(map[base.Engine]map[string]string, len(opts.EngineOptions))
	for engine, options := range opts.EngineOptions {
		pm.engineOptions[engine] = base.MergeOptions(options, nil)
	}
	for _, d := range drivers {
		pm.drivers[d.Engine()] = d
	}
	return pm
}

// RegisterDriver adds or replaces the driver for its engine
func (pm *PoolManager) RegisterDriver(d base.Driver) {
	pm.mu.Lock()
	defer pm.mu.Unlock()
	pm.drivers[d.Engine()] = d
}

// Policy returns the teardown policy the manager was built with
func (pm *PoolManager) Policy() PoolPolicy {
	return pm.policy
}

// DiscoverDatabases lists the databases hosted by the server cfg points at.
// Invalid or disabled configurations fail with a configuration error before
// any connection attempt. Connection and query failures are returned as
// connectivity errors; nothing is retried. A pool whose query failed is
// closed so the next attempt reconnects with a freshly decoded secret.
func (pm *PoolManager) DiscoverDatabases(ctx context.Context, cfg *base.ServerConfig) ([]string, error) {
	if err := cfg.ValidateForDiscovery(); err != nil {
		return nil, err
	}

	driver, err := pm.driverFor(cfg.Engine)
	if err != nil {
		return nil, err
	}
	if !driver.RequiresConnection() {
		return []string{}, nil
	}

	ctx, cancel := context.WithTimeout(ctx, cfg.EffectiveTimeout())
	defer cancel()

	db, err := pm.acquire(ctx, cfg, driver)
	if err != nil {
		pm.logger.Printf("Discovery failed for server configuration %d: %v", cfg.ID, err)
		return nil, err
	}

	names, err := driver.ListDatabases(ctx, db)
	if err != nil {
		pm.logger.Printf("Discovery failed for server configuration %d: %v", cfg.ID, err)
		if !errors.Is(ctx.Err(), context.Canceled) {
			pm.discard(cfg.Identity(), db)
		}
		return nil, base.NewConnectivityError("DiscoverDatabases",
			fmt.Sprintf("failed to list databases on %s", cfg.Identity()), err)
	}

	pm.logger.Printf("Discovered %d database(s) for server configuration %d", len(names), cfg.ID)
	return names, nil
}

func (pm *PoolManager) driverFor(engine base.Engine) (base.Driver, error) {
	pm.mu.Lock()
	defer pm.mu.Unlock()

	d, ok := pm.drivers[engine]
	if !ok {
		return nil, base.NewConfigurationError("DiscoverDatabases",
			fmt.Sprintf("no discovery driver registered for engine %q", engine), nil)
	}
	return d, nil
}

// acquire returns the live pool for cfg's identity, opening it when needed
func (pm *PoolManager) acquire(ctx context.Context, cfg *base.ServerConfig, driver base.Driver) (*sql.DB, error) {
	identity := cfg.Identity()
	if db, ok := pm.lookup(identity); ok {
		return db, nil
	}

	v, err, _ := pm.opening.Do(identity.String(), func() (interface{}, error) {
		if db, ok := pm.lookup(identity); ok {
			return db, nil
		}

		db, err := pm.open(ctx, cfg, driver)
		if err != nil {
			return nil, err
		}

		pm.mu.Lock()
		pm.pools[identity] = &pooledConnection{db: db, lastUsed: pm.now()}
		pm.mu.Unlock()

		pm.logger.Printf("Opened pool for %s", identity)
		return db, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(*sql.DB), nil
}

func (pm *PoolManager) lookup(identity base.ConnectionIdentity) (*sql.DB, bool) {
	pm.mu.Lock()
	defer pm.mu.Unlock()

	p, ok := pm.pools[identity]
	if !ok {
		return nil, false
	}
	p.lastUsed = pm.now()
	return p.db, true
}

// discard drops db from the pool map if it is still the live pool for
// identity, then closes it. In-flight queries on db fail.
func (pm *PoolManager) discard(identity base.ConnectionIdentity, db *sql.DB) {
	pm.mu.Lock()
	p, ok := pm.pools[identity]
	if !ok || p.db != db {
		pm.mu.Unlock()
		return
	}
	delete(pm.pools, identity)
	pm.mu.Unlock()

	if err := db.Close(); err != nil {
		pm.logger.Printf("Error closing failed pool for %s: %v", identity, err)
		return
	}
	pm.logger.Printf("Closed failed pool for %s", identity)
}

func (pm *PoolManager) open(ctx context.Context, cfg *base.ServerConfig, driver base.Driver) (*sql.DB, error) {
	host, port, err := cfg.Endpoint()
	if err != nil {
		return nil, base.NewConfigurationError("DiscoverDatabases",
			fmt.Sprintf("server configuration %d has an invalid address", cfg.ID), err)
	}

	password, err := pm.secrets.Decode(ctx, cfg.Secret)
	if err != nil {
		return nil, base.NewConfigurationError("DiscoverDatabases",
			fmt.Sprintf("failed to decode secret for server configuration %d", cfg.ID), err)
	}

	params := base.ConnectionParams{
		Host:     host,
		Port:     port,
		Username: cfg.Username,
		Password: password,
		Timeout:  cfg.EffectiveTimeout(),
		Pool:     pm.settings,
		Options:  base.MergeOptions(pm.engineOptions[cfg.Engine], cfg.Options),
	}

	db, err := driver.Open(ctx, params)
	if err != nil {
		return nil, base.NewConnectivityError("DiscoverDatabases",
			fmt.Sprintf("failed to connect to %s", cfg.Identity()), base.RedactError(err, password))
	}
	return db, nil
}

// Close destroys the pool for one identity. Returns false when none was open.
func (pm *PoolManager) Close(identity base.ConnectionIdentity) (bool, error) {
	pm.mu.Lock()
	p, ok := pm.pools[identity]
	delete(pm.pools, identity)
	pm.mu.Unlock()

	if !ok {
		return false, nil
	}
	if err := p.db.Close(); err != nil {
		return true, fmt.Errorf("failed to close pool for %s: %w", identity, err)
	}
	pm.logger.Printf("Closed pool for %s", identity)
	return true, nil
}

// CloseAll destroys every pool and clears the pool map. Useful for graceful
// shutdown and for the close-after-discovery policy.
func (pm *PoolManager) CloseAll(ctx context.Context) error {
	pm.mu.Lock()
	pools := pm.pools
	pm.pools = make(map[base.ConnectionIdentity]*pooledConnection)
	pm.mu.Unlock()

	var errs []error
	for identity, p := range pools {
		if err := p.db.Close(); err != nil {
			pm.logger.Printf("Error closing pool for %s: %v", identity, err)
			errs = append(errs, fmt.Errorf("failed to close pool for %s: %w", identity, err))
		}
	}

	if len(pools) > 0 {
		pm.logger.Printf("Closed %d pool(s)", len(pools))
	}
	return errors.Join(errs...)
}

// ReapIdle closes pools unused for longer than the policy's IdleTimeout and
// returns how many were closed.
func (pm *PoolManager) ReapIdle() int {
	if pm.policy.IdleTimeout <= 0 {
		return 0
	}
	cutoff := pm.now().Add(-pm.policy.IdleTimeout)

	pm.mu.Lock()
	var stale []*sql.DB
	for identity, p := range pm.pools {
		if p.lastUsed.Before(cutoff) {
			stale = append(stale, p.db)
			delete(pm.pools, identity)
		}
	}
	pm.mu.Unlock()

	for _, db := range stale {
		if err := db.Close(); err != nil {
			pm.logger.Printf("Error closing idle pool: %v", err)
		}
	}
	if len(stale) > 0 {
		pm.logger.Printf("Reaped %d idle pool(s)", len(stale))
	}
	return len(stale)
}

// StartIdleReaper runs ReapIdle every interval until ctx is cancelled
func (pm *PoolManager) StartIdleReaper(ctx context.Context, interval time.Duration) {
	if pm.policy.IdleTimeout <= 0 || interval <= 0 {
		pm.logger.Println("Idle timeout not configured - skipping idle reaper")
		return
	}

	pm.logger.Printf("Starting idle pool reaper (every %v, idle timeout %v)", interval, pm.policy.IdleTimeout)

	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				pm.logger.Println("Stopping idle pool reaper")
				return
			case <-ticker.C:
				pm.ReapIdle()
			}
		}
	}()
}

// Count returns the number of live pools
func (pm *PoolManager) Count() int {
	pm.mu.Lock()
	defer pm.mu.Unlock()
	return len(pm.pools)
}

// Stats reports every live pool, ordered by identity
func (pm *PoolManager) Stats() []PoolStats {
	pm.mu.Lock()
	defer pm.mu.Unlock()

	stats := make([]PoolStats, 0, len(pm.pools))
	for identity, p := range pm.pools {
		s := p.db.Stats()
		stats = append(stats, PoolStats{
			Identity:        identity.String(),
			Engine:          identity.Engine.String(),
			OpenConnections: s.OpenConnections,
			InUse:           s.InUse,
			Idle:            s.Idle,
			LastUsed:        p.lastUsed,
		})
	}
	sort.Slice(stats, func(i, j int) bool { return stats[i].Identity < stats[j].Identity })
	return stats
}
