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

// Package catalog persists the per-server list of known databases and the
// server configurations they are discovered from.
package catalog

import (
	"context"
	"time"

	"catalogsync/platform/connectors/base"
)

// DatabaseRecord is one database believed to exist on a server.
// DeletedAt is nil while the record is active.
type DatabaseRecord struct {
	ID           int64      `json:"id"`
	ServerName   string     `json:"server_name"`
	DatabaseName string     `json:"database_name"`
	Enabled      bool       `json:"enabled"`
	IngestedAt   time.Time  `json:"ingested_at"`
	DeletedAt    *time.Time `json:"deleted_at,omitempty"`

	// Created is set on records returned by Store.Create when that call
	// inserted the row rather than finding an existing active one.
	Created bool `json:"-"`
}

// Active reports whether the record has not been soft-deleted
func (r *DatabaseRecord) Active() bool {
	return r.DeletedAt == nil
}

// Store is the database catalog consumed by reconciliation.
// At most one active record exists per (server name, database name).
type Store interface {
	// FindByServerName returns the active records for a server
	FindByServerName(ctx context.Context, serverName string) ([]*DatabaseRecord, error)

	// FindAllByServerName returns the server's records, soft-deleted ones included on request
	FindAllByServerName(ctx context.Context, serverName string, includeDeleted bool) ([]*DatabaseRecord, error)

	// Create inserts an active record. Creating a name that already has an
	// active record returns the existing one with Created false, so retries
	// are safe.
	Create(ctx context.Context, record *DatabaseRecord) (*DatabaseRecord, error)

	// SoftDeleteMany stamps DeletedAt on every id and returns the number of
	// rows matched. Already deleted ids keep their original timestamp.
	// Empty ids return 0 and no error; non-empty ids matching nothing
	// return a not found error.
	SoftDeleteMany(ctx context.Context, ids []int64) (int64, error)

	// Restore clears DeletedAt on a record
	Restore(ctx context.Context, id int64) (*DatabaseRecord, error)
}

// ServerConfigSource provides the server configurations reconciliation runs against
type ServerConfigSource interface {
	// GetServerConfig returns a not found error for unknown or soft-deleted ids
	GetServerConfig(ctx context.Context, id int64) (*base.ServerConfig, error)

	// ListDueServerConfigs returns enabled configurations whose NextRunAt is
	// unset or not after now
	ListDueServerConfigs(ctx context.Context, now time.Time) ([]*base.ServerConfig, error)

	// MarkRun records a completed run and schedules the next one
	MarkRun(ctx context.Context, id int64, ranAt, nextRunAt time.Time) error

	// SaveServerConfig inserts (ID == 0) or updates a configuration
	SaveServerConfig(ctx context.Context, cfg *base.ServerConfig) (*base.ServerConfig, error)
}

// Storage is a backend that serves both the catalog and the configurations
type Storage interface {
	Store
	ServerConfigSource
	Close() error
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}
