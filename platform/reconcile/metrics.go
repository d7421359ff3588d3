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

package reconcile

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds the Prometheus collectors for reconciliation runs.
// A nil *Metrics records nothing.
type Metrics struct {
	runs         *prometheus.CounterVec
	duration     prometheus.Histogram
	created      prometheus.Counter
	softDeleted  prometheus.Counter
	cacheLookups *prometheus.CounterVec
}

// NewMetrics creates the collectors and registers them with reg
// (prometheus.DefaultRegisterer when nil).
func NewMetrics(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}

	m := &Metrics{
		runs: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "catalogsync_reconcile_runs_total",
				Help: "Reconciliation runs by outcome",
			},
			[]string{"outcome"},
		),
		duration: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "catalogsync_reconcile_duration_seconds",
				Help:    "Reconciliation run duration",
				Buckets: prometheus.DefBuckets,
			},
		),
		created: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "catalogsync_catalog_records_created_total",
				Help: "Catalog records created by reconciliation",
			},
		),
		softDeleted: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "catalogsync_catalog_records_soft_deleted_total",
				Help: "Catalog records soft-deleted by reconciliation",
			},
		),
		cacheLookups: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "catalogsync_discovery_cache_lookups_total",
				Help: "Discovery cache lookups by result",
			},
			[]string{"result"},
		),
	}

	reg.MustRegister(m.runs, m.duration, m.created, m.softDeleted, m.cacheLookups)
	return m
}

func (m *Metrics) observeRun(outcome string, elapsed time.Duration) {
	if m == nil {
		return
	}
	m.runs.WithLabelValues(outcome).Inc()
	m.duration.Observe(elapsed.Seconds())
}

func (m *Metrics) observeChanges(created, softDeleted int) {
	if m == nil {
		return
	}
	m.created.Add(float64(created))
	m.softDeleted.Add(float64(softDeleted))
}

func (m *Metrics) observeCache(hit bool) {
	if m == nil {
		return
	}
	if hit {
		m.cacheLookups.WithLabelValues("hit").Inc()
	} else {
		m.cacheLookups.WithLabelValues("miss").Inc()
	}
}
