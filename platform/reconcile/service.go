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

// Package reconcile keeps the database catalog of a server in step with the
// databases the server actually hosts.
package reconcile

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"catalogsync/platform/catalog"
	"catalogsync/platform/connectors/base"
	"catalogsync/platform/connectors/config"
	"catalogsync/platform/connectors/registry"
	"catalogsync/platform/shared/logger"
)

// DefaultCreateConcurrency bounds parallel record creation within one run
const DefaultCreateConcurrency = 8

// Discoverer lists the databases of a server. Implemented by registry.PoolManager.
type Discoverer interface {
	DiscoverDatabases(ctx context.Context, cfg *base.ServerConfig) ([]string, error)
	CloseAll(ctx context.Context) error
	Policy() registry.PoolPolicy
}

// Options wires a Service. Configs, Store and Pools are required.
type Options struct {
	Configs           catalog.ServerConfigSource
	Store             catalog.Store
	Pools             Discoverer
	Cache             config.DiscoveryCache // defaults to an in-process cache
	CacheTTL          time.Duration         // defaults to config.DefaultDiscoveryTTL
	CreateConcurrency int
	Metrics           *Metrics
	Logger            *logger.Logger
}

// Result is the outcome of one reconciliation. Databases holds only the
// records inserted by this run. Names another run inserted first are left out.
type Result struct {
	RunID       string                    `json:"run_id"`
	Databases   []*catalog.DatabaseRecord `json:"databases"`
	SoftDeleted []int64                   `json:"soft_deleted,omitempty"`
	Unchanged   int                       `json:"unchanged"`
}

// Service reconciles server catalogs. Safe for concurrent use.
type Service struct {
	configs           catalog.ServerConfigSource
	store             catalog.Store
	pools             Discoverer
	cache             config.DiscoveryCache
	cacheTTL          time.Duration
	createConcurrency int
	metrics           *Metrics
	logger            *logger.Logger
}

// NewService validates opts and builds a Service
func NewService(opts Options) (*Service, error) {
	if opts.Configs == nil || opts.Store == nil || opts.Pools == nil {
		return nil, fmt.Errorf("reconcile service requires a config source, a catalog store and a discoverer")
	}

	s := &Service{
		configs:           opts.Configs,
		store:             opts.Store,
		pools:             opts.Pools,
		cache:             opts.Cache,
		cacheTTL:          opts.CacheTTL,
		createConcurrency: opts.CreateConcurrency,
		metrics:           opts.Metrics,
		logger:            opts.Logger,
	}
	if s.cacheTTL <= 0 {
		s.cacheTTL = config.DefaultDiscoveryTTL
	}
	if s.cache == nil {
		s.cache = config.NewMemoryDiscoveryCache(s.cacheTTL, 0)
	}
	if s.createConcurrency <= 0 {
		s.createConcurrency = DefaultCreateConcurrency
	}
	if s.logger == nil {
		s.logger = logger.New("reconcile")
	}
	return s, nil
}

// Reconcile brings the catalog of server configuration id in line with the
// databases discovered on the server.
//
// Unknown ids fail with a not found error and disabled or incomplete
// configurations with a configuration error, both before any I/O. The
// catalog read and the discovery run concurrently; a failure in either
// cancels the other and nothing is applied. Missing names are created, then
// names no longer discovered are soft-deleted in one batch. Creation is
// idempotent, so a run that fails part way can simply be repeated.
func (s *Service) Reconcile(ctx context.Context, id int64) (*Result, error) {
	runID := uuid.NewString()
	start := time.Now()

	result, err := s.reconcile(ctx, id, runID)
	elapsed := time.Since(start)

	if err != nil {
		kind := base.KindOf(err)
		s.metrics.observeRun(string(kind), elapsed)
		if kind == base.KindNotFound || kind == base.KindConfiguration {
			s.logger.Warn(id, runID, "Reconciliation rejected", map[string]interface{}{"error": err.Error()})
		} else {
			s.logger.ErrorWithCause(id, runID, "Reconciliation failed", string(kind), err, nil)
		}
		return nil, err
	}

	s.metrics.observeRun("success", elapsed)
	s.metrics.observeChanges(len(result.Databases), len(result.SoftDeleted))
	s.logger.InfoWithDuration(id, runID, "Reconciliation completed", elapsed, map[string]interface{}{
		"created":      len(result.Databases),
		"soft_deleted": len(result.SoftDeleted),
		"unchanged":    result.Unchanged,
	})
	return result, nil
}

func (s *Service) reconcile(ctx context.Context, id int64, runID string) (*Result, error) {
	cfg, err := s.configs.GetServerConfig(ctx, id)
	if err != nil {
		return nil, base.AsInternal("Reconcile", err)
	}
	if err := cfg.ValidateForDiscovery(); err != nil {
		return nil, err
	}

	var local []*catalog.DatabaseRecord
	var remote []string

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		records, err := s.store.FindByServerName(gctx, cfg.Name)
		if err != nil {
			return base.AsInternal("FindByServerName", err)
		}
		local = records
		return nil
	})
	g.Go(func() error {
		names, err := s.discover(gctx, cfg, runID)
		if err != nil {
			return err
		}
		remote = names
		return nil
	})
	if err := g.Wait(); err != nil {
		return nil, err
	}

	missing, stale := diff(local, remote)

	created, err := s.createAll(ctx, cfg.Name, missing)
	if err != nil {
		return nil, err
	}

	if len(stale) > 0 {
		if _, err := s.store.SoftDeleteMany(ctx, stale); err != nil {
			return nil, base.AsInternal("SoftDeleteMany", err)
		}
	}

	return &Result{
		RunID:       runID,
		Databases:   created,
		SoftDeleted: stale,
		Unchanged:   len(local) - len(stale),
	}, nil
}

// discover returns the cached database list or asks the pool manager. The
// pool sweep, when the policy asks for one, runs after the cache write.
func (s *Service) discover(ctx context.Context, cfg *base.ServerConfig, runID string) ([]string, error) {
	key := config.DiscoveryKey(cfg.ID)

	if names, ok := s.cache.Get(ctx, key); ok {
		s.metrics.observeCache(true)
		return names, nil
	}
	s.metrics.observeCache(false)

	names, err := s.pools.DiscoverDatabases(ctx, cfg)
	if err != nil {
		return nil, err
	}

	s.cache.Set(ctx, key, names, s.cacheTTL)

	if s.pools.Policy().CloseAfterDiscovery {
		if err := s.pools.CloseAll(ctx); err != nil {
			s.logger.Warn(cfg.ID, runID, "Failed to close pools after discovery", map[string]interface{}{"error": err.Error()})
		}
	}
	return names, nil
}

// diff returns the remote names missing locally, in discovery order, and the
// ids of local records absent remotely.
func diff(local []*catalog.DatabaseRecord, remote []string) ([]string, []int64) {
	byName := make(map[string]*catalog.DatabaseRecord, len(local))
	for _, r := range local {
		byName[r.DatabaseName] = r
	}

	remoteSet := make(map[string]struct{}, len(remote))
	missing := make([]string, 0)
	for _, name := range remote {
		if _, dup := remoteSet[name]; dup {
			continue
		}
		remoteSet[name] = struct{}{}
		if _, ok := byName[name]; !ok {
			missing = append(missing, name)
		}
	}

	stale := make([]int64, 0)
	for _, r := range local {
		if _, ok := remoteSet[r.DatabaseName]; !ok {
			stale = append(stale, r.ID)
		}
	}
	return missing, stale
}

func (s *Service) createAll(ctx context.Context, serverName string, names []string) ([]*catalog.DatabaseRecord, error) {
	created := make([]*catalog.DatabaseRecord, len(names))
	if len(names) == 0 {
		return created, nil
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.createConcurrency)
	for i, name := range names {
		i, name := i, name
		g.Go(func() error {
			rec, err := s.store.Create(gctx, &catalog.DatabaseRecord{
				ServerName:   serverName,
				DatabaseName: name,
				Enabled:      true,
			})
			if err != nil {
				return base.AsInternal("Create", err)
			}
			created[i] = rec
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	// a concurrent run may have inserted the same name first
	inserted := created[:0]
	for _, rec := range created {
		if rec.Created {
			inserted = append(inserted, rec)
		}
	}
	return inserted, nil
}

// Invalidate drops the cached discovery result for a server configuration
func (s *Service) Invalidate(ctx context.Context, id int64) {
	s.cache.Delete(ctx, config.DiscoveryKey(id))
}
