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

package catalog

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"catalogsync/platform/connectors/base"
)

// MemoryStorage implements Storage in process. Used for tests and dry runs.
type MemoryStorage struct {
	mu        sync.RWMutex
	records   map[int64]*DatabaseRecord
	configs   map[int64]*base.ServerConfig
	nextRecID int64
	nextCfgID int64
	now       func() time.Time
}

// NewMemoryStorage creates an empty in-memory storage
func NewMemoryStorage() *MemoryStorage {
	return &MemoryStorage{
		records: make(map[int64]*DatabaseRecord),
		configs: make(map[int64]*base.ServerConfig),
		now:     func() time.Time { return time.Now().UTC() },
	}
}

func copyRecord(r *DatabaseRecord) *DatabaseRecord {
	c := *r
	if r.DeletedAt != nil {
		t := *r.DeletedAt
		c.DeletedAt = &t
	}
	return &c
}

func copyConfig(cfg *base.ServerConfig) *base.ServerConfig {
	c := *cfg
	c.Secret = append([]byte(nil), cfg.Secret...)
	c.Options = nil
	if len(cfg.Options) > 0 {
		c.Options = base.MergeOptions(nil, cfg.Options)
	}
	return &c
}

// FindByServerName returns the active records for serverName ordered by id
func (m *MemoryStorage) FindByServerName(ctx context.Context, serverName string) ([]*DatabaseRecord, error) {
	return m.FindAllByServerName(ctx, serverName, false)
}

// FindAllByServerName returns serverName's records, optionally including soft-deleted ones
func (m *MemoryStorage) FindAllByServerName(ctx context.Context, serverName string, includeDeleted bool) ([]*DatabaseRecord, error) {
	if err := ctx.Err(); err != nil {
		return nil, base.NewInternalError("FindByServerName", "catalog read cancelled", err)
	}

	m.mu.RLock()
	defer m.mu.RUnlock()

	records := make([]*DatabaseRecord, 0)
	for _, r := range m.records {
		if r.ServerName != serverName {
			continue
		}
		if !includeDeleted && !r.Active() {
			continue
		}
		records = append(records, copyRecord(r))
	}
	sort.Slice(records, func(i, j int) bool { return records[i].ID < records[j].ID })
	return records, nil
}

// Create inserts an active record or returns the existing active one
func (m *MemoryStorage) Create(ctx context.Context, record *DatabaseRecord) (*DatabaseRecord, error) {
	if err := validateRecord(record); err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, base.NewInternalError("Create", "catalog write cancelled", err)
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	for _, r := range m.records {
		if r.Active() && r.ServerName == record.ServerName && r.DatabaseName == record.DatabaseName {
			return copyRecord(r), nil
		}
	}

	m.nextRecID++
	rec := &DatabaseRecord{
		ID:           m.nextRecID,
		ServerName:   record.ServerName,
		DatabaseName: record.DatabaseName,
		Enabled:      record.Enabled,
		IngestedAt:   record.IngestedAt,
	}
	if rec.IngestedAt.IsZero() {
		rec.IngestedAt = m.now()
	}
	m.records[rec.ID] = rec
	created := copyRecord(rec)
	created.Created = true
	return created, nil
}

// SoftDeleteMany stamps DeletedAt on every matching id
func (m *MemoryStorage) SoftDeleteMany(ctx context.Context, ids []int64) (int64, error) {
	if len(ids) == 0 {
		return 0, nil
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.now()
	var affected int64
	seen := make(map[int64]bool, len(ids))
	for _, id := range ids {
		if seen[id] {
			continue
		}
		seen[id] = true

		r, ok := m.records[id]
		if !ok {
			continue
		}
		if r.DeletedAt == nil {
			t := now
			r.DeletedAt = &t
		}
		affected++
	}

	if affected == 0 {
		return 0, base.NewNotFoundError("SoftDeleteMany", fmt.Sprintf("no catalog records match ids %v", ids))
	}
	return affected, nil
}

// Restore clears DeletedAt on a record
func (m *MemoryStorage) Restore(ctx context.Context, id int64) (*DatabaseRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	r, ok := m.records[id]
	if !ok {
		return nil, base.NewNotFoundError("Restore", fmt.Sprintf("catalog record %d not found", id))
	}
	if !r.Active() {
		for _, other := range m.records {
			if other.Active() && other.ServerName == r.ServerName && other.DatabaseName == r.DatabaseName {
				return nil, base.NewConfigurationError("Restore",
					fmt.Sprintf("catalog record %d cannot be restored: an active record with the same name exists", id), nil)
			}
		}
		r.DeletedAt = nil
	}
	return copyRecord(r), nil
}

// GetServerConfig returns an active server configuration
func (m *MemoryStorage) GetServerConfig(ctx context.Context, id int64) (*base.ServerConfig, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	cfg, ok := m.configs[id]
	if !ok || cfg.DeletedAt != nil {
		return nil, base.NewNotFoundError("GetServerConfig", fmt.Sprintf("server configuration %d not found", id))
	}
	return copyConfig(cfg), nil
}

// ListDueServerConfigs returns enabled configurations due at now, ordered by id
func (m *MemoryStorage) ListDueServerConfigs(ctx context.Context, now time.Time) ([]*base.ServerConfig, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	due := make([]*base.ServerConfig, 0)
	for _, cfg := range m.configs {
		if cfg.DeletedAt != nil || !cfg.Enabled {
			continue
		}
		if cfg.NextRunAt != nil && cfg.NextRunAt.After(now) {
			continue
		}
		due = append(due, copyConfig(cfg))
	}
	sort.Slice(due, func(i, j int) bool { return due[i].ID < due[j].ID })
	return due, nil
}

// MarkRun records the last and next run times
func (m *MemoryStorage) MarkRun(ctx context.Context, id int64, ranAt, nextRunAt time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	cfg, ok := m.configs[id]
	if !ok || cfg.DeletedAt != nil {
		return base.NewNotFoundError("MarkRun", fmt.Sprintf("server configuration %d not found", id))
	}
	cfg.LastRunAt = &ranAt
	cfg.NextRunAt = &nextRunAt
	return nil
}

// SaveServerConfig inserts or updates a configuration. A non-zero ID that is
// unknown is inserted under that ID.
func (m *MemoryStorage) SaveServerConfig(ctx context.Context, cfg *base.ServerConfig) (*base.ServerConfig, error) {
	if cfg == nil {
		return nil, base.NewConfigurationError("SaveServerConfig", "server configuration is nil", nil)
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	saved := copyConfig(cfg)
	if saved.ID == 0 {
		m.nextCfgID++
		saved.ID = m.nextCfgID
	} else if existing, ok := m.configs[saved.ID]; ok && existing.DeletedAt != nil {
		return nil, base.NewNotFoundError("SaveServerConfig", fmt.Sprintf("server configuration %d not found", saved.ID))
	}
	if saved.ID > m.nextCfgID {
		m.nextCfgID = saved.ID
	}
	m.configs[saved.ID] = saved
	return copyConfig(saved), nil
}

// Close is a no-op
func (m *MemoryStorage) Close() error {
	return nil
}
