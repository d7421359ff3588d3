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


// Package scheduler periodically reconciles the server configurations whose
// next run time has passed.
package scheduler

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"catalogsync/platform/catalog"
	"catalogsync/platform/connectors/base"
	"catalogsync/platform/reconcile"
	"catalogsync/platform/shared/logger"
)

const (
	DefaultInterval      = 15 * time.Minute
	DefaultSweepInterval = 30 * time.Second
	DefaultConcurrency   = 4
)

// Reconciler is implemented by reconcile.Service
type Reconciler interface {
	Reconcile(ctx context.Context, id int64) (*reconcile.Result, error)
}

// Options wires a Scheduler. Configs and Reconciler are required.
type Options struct {
	Configs       catalog.ServerConfigSource
	Reconciler    Reconciler
	Interval      time.Duration // time between runs of one configuration
	SweepInterval time.Duration // how often due configurations are looked up
	Concurrency   int           // configurations reconciled in parallel per sweep
	Retry         *RetryConfig
	Logger        *logger.Logger
}

// SweepReport summarizes one sweep
type SweepReport struct {
	Due       int
	Succeeded int
	Failed    int
}

// Scheduler drives reconciliation of due configurations. Sweeps never
// overlap, so one configuration is never reconciled twice at once by it.
type Scheduler struct {
	configs       catalog.ServerConfigSource
	reconciler    Reconciler
	interval      time.Duration
	sweepInterval time.Duration
	concurrency   int
	retry         *RetryConfig
	logger        *logger.Logger
	now           func() time.Time

	sweepMu sync.Mutex
}

// New validates opts and builds a Scheduler
func New(opts Options) (*Scheduler, error) {
	if opts.Configs == nil || opts.Reconciler == nil {
		return nil, fmt.Errorf("scheduler requires a config source and a reconciler")
	}

	s := &Scheduler{
		configs:       opts.Configs,
		reconciler:    opts.Reconciler,
		interval:      opts.Interval,
		sweepInterval: opts.SweepInterval,
		concurrency:   opts.Concurrency,
		retry:         opts.Retry,
		logger:        opts.Logger,
		now:           time.Now,
	}
	if s.interval <= 0 {
		s.interval = DefaultInterval
	}
	if s.sweepInterval <= 0 {
		s.sweepInterval = DefaultSweepInterval
	}
	if s.concurrency <= 0 {
		s.concurrency = DefaultConcurrency
	}
	if s.retry == nil {
		s.retry = DefaultRetryConfig()
	}
	if s.logger == nil {
		s.logger = logger.New("scheduler")
	}
	return s, nil
}

// RunOnce reconciles every configuration due now. Individual failures are
// logged and counted; only a failure to list due configurations is returned.
func (s *Scheduler) RunOnce(ctx context.Context) (SweepReport, error) {
	s.sweepMu.Lock()
	defer s.sweepMu.Unlock()

	now := s.now()
	due, err := s.configs.ListDueServerConfigs(ctx, now)
	if err != nil {
		return SweepReport{}, base.AsInternal("ListDueServerConfigs", err)
	}

	report := SweepReport{Due: len(due)}
	if len(due) == 0 {
		return report, nil
	}

	var succeeded, failed int64
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.concurrency)
	for _, cfg := range due {
		cfg := cfg
		g.Go(func() error {
			if s.runOne(gctx, cfg) {
				atomic.AddInt64(&succeeded, 1)
			} else {
				atomic.AddInt64(&failed, 1)
			}
			return nil
		})
	}
	_ = g.Wait()

	report.Succeeded = int(succeeded)
	report.Failed = int(failed)
	s.logger.Info(0, "", "Sweep completed", map[string]interface{}{
		"due":       report.Due,
		"succeeded": report.Succeeded,
		"failed":    report.Failed,
	})
	return report, nil
}

func (s *Scheduler) runOne(ctx context.Context, cfg *base.ServerConfig) bool {
	result, err := RetryWithBackoff(ctx, s.retry, func(attempt int) (*reconcile.Result, error) {
		if attempt > 0 {
			s.logger.Warn(cfg.ID, "", "Retrying reconciliation", map[string]interface{}{"attempt": attempt + 1})
		}
		return s.reconciler.Reconcile(ctx, cfg.ID)
	})

	if base.IsNotFound(err) {
		// removed between listing and reconciling
		return false
	}

	ranAt := s.now()
	if markErr := s.configs.MarkRun(ctx, cfg.ID, ranAt, ranAt.Add(s.interval)); markErr != nil {
		s.logger.ErrorWithCause(cfg.ID, "", "Failed to record run", string(base.KindOf(markErr)), markErr, nil)
	}

	if err != nil {
		return false
	}
	s.logger.Debug(cfg.ID, result.RunID, "Scheduled reconciliation succeeded", nil)
	return true
}

// Start sweeps immediately and then every sweep interval until ctx is done
func (s *Scheduler) Start(ctx context.Context) {
	go func() {
		ticker := time.NewTicker(s.sweepInterval)
		defer ticker.Stop()

		s.sweep(ctx)
		for {
			select {
			case <-ctx.Done():
				s.logger.Info(0, "", "Scheduler stopped", nil)
				return
			case <-ticker.C:
				s.sweep(ctx)
			}
		}
	}()
}

func (s *Scheduler) sweep(ctx context.Context) {
	if _, err := s.RunOnce(ctx); err != nil && ctx.Err() == nil {
		s.logger.ErrorWithCause(0, "", "Sweep failed", string(base.KindOf(err)), err, nil)
	}
}
