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


package daemon

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"strconv"
	"time"

	"github.com/gorilla/mux"
	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/cors"

	"catalogsync/platform/catalog"
	"catalogsync/platform/connectors/base"
	"catalogsync/platform/connectors/config"
	"catalogsync/platform/connectors/registry"
	"catalogsync/platform/reconcile"
	"catalogsync/platform/scheduler"
	"catalogsync/platform/shared/logger"
)

const shutdownTimeout = 15 * time.Second

// Components is the wired set of services behind the daemon
type Components struct {
	Config    *config.ServiceConfig
	Store     catalog.Storage
	Cache     config.DiscoveryCache
	Pools     *registry.PoolManager
	Service   *reconcile.Service
	Scheduler *scheduler.Scheduler
	Registry  *prometheus.Registry

	memoryCache *config.MemoryDiscoveryCache
	redisCache  *config.RedisDiscoveryCache
	startedAt   time.Time
	logger      *log.Logger
}

// Build wires storage, cache, pools, the reconcile service and the scheduler
// from cfg. Nothing is started; see Start.
func Build(ctx context.Context, cfg *config.ServiceConfig) (*Components, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	c := &Components{
		Config:    cfg,
		Registry:  prometheus.NewRegistry(),
		startedAt: time.Now(),
		logger:    log.New(os.Stdout, "[CATALOGSYNCD] ", log.LstdFlags),
	}

	store, err := openStore(ctx, cfg)
	if err != nil {
		return nil, err
	}
	c.Store = store

	if cfg.RedisURL != "" {
		rc, err := config.NewRedisDiscoveryCache(ctx, cfg.RedisURL, cfg.RedisKeyPrefix, cfg.CacheTTL)
		if err != nil {
			_ = store.Close()
			return nil, err
		}
		c.redisCache = rc
		c.Cache = rc
		c.logger.Println("Discovery cache: redis")
	} else {
		c.memoryCache = config.NewMemoryDiscoveryCache(cfg.CacheTTL, cfg.CacheMaxEntries)
		c.Cache = c.memoryCache
		c.logger.Println("Discovery cache: in-process")
	}

	secrets, err := config.NewSecretDecoder(ctx, cfg.SecretsBackend, cfg.AWSRegion)
	if err != nil {
		c.closeStores()
		return nil, err
	}

	c.Pools = registry.NewPoolManager(registry.PoolManagerOptions{
		Secrets: secrets,
		Policy: registry.PoolPolicy{
			CloseAfterDiscovery: cfg.PoolCloseAfterDiscovery,
			IdleTimeout:         cfg.PoolIdleTimeout,
		},
		Settings:      base.PoolSettings{MaxOpenConns: cfg.PoolMaxOpenConns},
		EngineOptions: cfg.EngineOptions(),
	})

	metrics := reconcile.NewMetrics(c.Registry)
	c.Registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Name: "catalogsync_open_pools",
			Help: "Connection pools currently held by the pool manager",
		}, func() float64 { return float64(c.Pools.Count()) }),
	)

	c.Service, err = reconcile.NewService(reconcile.Options{
		Configs:           store,
		Store:             store,
		Pools:             c.Pools,
		Cache:             c.Cache,
		CacheTTL:          cfg.CacheTTL,
		CreateConcurrency: cfg.CreateConcurrency,
		Metrics:           metrics,
		Logger:            logger.New("reconcile"),
	})
	if err != nil {
		c.closeStores()
		return nil, err
	}

	retry := scheduler.DefaultRetryConfig()
	retry.MaxRetries = cfg.MaxRetries
	retry.InitialInterval = cfg.RetryInitialBackoff

	c.Scheduler, err = scheduler.New(scheduler.Options{
		Configs:       store,
		Reconciler:    c.Service,
		Interval:      cfg.ReconcileInterval,
		SweepInterval: cfg.SweepInterval,
		Retry:         retry,
		Logger:        logger.New("scheduler"),
	})
	if err != nil {
		c.closeStores()
		return nil, err
	}
	return c, nil
}

func openStore(ctx context.Context, cfg *config.ServiceConfig) (catalog.Storage, error) {
	if cfg.DatabaseURL != "" {
		return catalog.NewPostgreSQLStorage(ctx, cfg.DatabaseURL)
	}
	return catalog.NewSQLiteStorage(ctx, cfg.SQLitePath)
}

// Start launches the background loops: cache cleanup, idle pool reaping and
// the reconcile scheduler. They stop when ctx is done.
func (c *Components) Start(ctx context.Context) {
	if c.memoryCache != nil && c.Config.CacheCleanupEvery > 0 {
		c.memoryCache.StartPeriodicCleanup(ctx, c.Config.CacheCleanupEvery, nil)
	}
	if !c.Config.PoolCloseAfterDiscovery && c.Config.PoolReapInterval > 0 {
		c.Pools.StartIdleReaper(ctx, c.Config.PoolReapInterval)
	}
	c.Scheduler.Start(ctx)
}

// Router serves /health and /metrics
func (c *Components) Router() http.Handler {
	r := mux.NewRouter()
	r.HandleFunc("/health", c.healthHandler).Methods("GET")
	r.Handle("/metrics", promhttp.HandlerFor(c.Registry, promhttp.HandlerOpts{})).Methods("GET")

	return cors.New(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{"GET", "OPTIONS"},
	}).Handler(r)
}

func (c *Components) healthHandler(w http.ResponseWriter, r *http.Request) {
	health := map[string]interface{}{
		"status":    "healthy",
		"service":   "catalogsyncd",
		"timestamp": time.Now().UTC(),
		"uptime":    time.Since(c.startedAt).Round(time.Second).String(),
		"pools":     c.Pools.Stats(),
		"pool_policy": map[string]interface{}{
			"close_after_discovery": c.Config.PoolCloseAfterDiscovery,
			"idle_timeout":          c.Config.PoolIdleTimeout.String(),
		},
	}
	if c.memoryCache != nil {
		stats := c.memoryCache.Stats()
		health["discovery_cache"] = map[string]interface{}{
			"backend": "memory",
			"hits":    stats.Hits,
			"misses":  stats.Misses,
		}
	} else {
		health["discovery_cache"] = map[string]interface{}{"backend": "redis"}
	}

	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(health); err != nil {
		c.logger.Printf("Error encoding health response: %v", err)
	}
}

// Close releases every pool, the cache client and the catalog store
func (c *Components) Close(ctx context.Context) error {
	var errs []error
	if err := c.Pools.CloseAll(ctx); err != nil {
		errs = append(errs, fmt.Errorf("close pools: %w", err))
	}
	if c.redisCache != nil {
		if err := c.redisCache.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close redis: %w", err))
		}
	}
	if err := c.Store.Close(); err != nil {
		errs = append(errs, fmt.Errorf("close store: %w", err))
	}
	return errors.Join(errs...)
}

func (c *Components) closeStores() {
	if c.redisCache != nil {
		_ = c.redisCache.Close()
	}
	if c.Store != nil {
		_ = c.Store.Close()
	}
}

// Run loads configuration, starts every component and the HTTP listener, and
// blocks until ctx is cancelled. Shutdown closes all remote pools.
func Run(ctx context.Context) error {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		log.Printf("Warning: failed to load .env file: %v", err)
	}

	cfg, err := config.LoadServiceConfig()
	if err != nil {
		return err
	}

	c, err := Build(ctx, cfg)
	if err != nil {
		return err
	}
	c.logger.Println("Starting catalogsync daemon...")

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	c.Start(runCtx)

	srv := &http.Server{
		Addr:              ":" + strconv.Itoa(cfg.Port),
		Handler:           c.Router(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	serveErr := make(chan error, 1)
	go func() {
		c.logger.Printf("Listening on port %d", cfg.Port)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
		close(serveErr)
	}()

	select {
	case <-ctx.Done():
		c.logger.Println("Shutting down...")
	case err = <-serveErr:
		if err != nil {
			c.logger.Printf("HTTP server failed: %v", err)
		}
	}
	cancel()

	shutdownCtx, stop := context.WithTimeout(context.Background(), shutdownTimeout)
	defer stop()

	if shutdownErr := srv.Shutdown(shutdownCtx); shutdownErr != nil {
		c.logger.Printf("HTTP shutdown error: %v", shutdownErr)
	}
	if closeErr := c.Close(shutdownCtx); closeErr != nil {
		c.logger.Printf("Close error: %v", closeErr)
	}
	c.logger.Println("Stopped")
	return err
}
