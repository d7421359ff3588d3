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
	"database/sql"
	"errors"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/mattn/go-sqlite3"

	"catalogsync/platform/connectors/base"
)

// SQLiteStorage implements Storage on a local SQLite file
type SQLiteStorage struct {
	db     *sql.DB
	path   string
	logger *log.Logger
}

// NewSQLiteStorage opens or creates the catalog at path. ":memory:" keeps
// everything in process on a single connection.
func NewSQLiteStorage(ctx context.Context, path string) (*SQLiteStorage, error) {
	inMemory := path == ":memory:"
	if !inMemory {
		if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
			return nil, fmt.Errorf("failed to create directory: %w", err)
		}
	}

	// _loc=auto enables proper datetime parsing
	db, err := sql.Open("sqlite3", path+"?_journal_mode=WAL&_busy_timeout=5000&_loc=auto&_foreign_keys=on")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	if inMemory {
		db.SetMaxOpenConns(1)
	}

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	s := &SQLiteStorage{
		db:     db,
		path:   path,
		logger: log.New(os.Stdout, "[CATALOG_SQLITE] ", log.LstdFlags),
	}
	if err := s.initSchema(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}

	s.logger.Printf("SQLite catalog storage initialized at %s", path)
	return s, nil
}

func (s *SQLiteStorage) initSchema(ctx context.Context) error {
	schema := `
	CREATE TABLE IF NOT EXISTS server_configs (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		name TEXT NOT NULL,
		address TEXT NOT NULL DEFAULT '',
		port INTEGER NOT NULL DEFAULT 0,
		engine TEXT NOT NULL DEFAULT '',
		username TEXT NOT NULL DEFAULT '',
		secret BLOB,
		enabled BOOLEAN NOT NULL DEFAULT 1,
		timeout_ms INTEGER NOT NULL DEFAULT 0,
		last_run_at DATETIME,
		next_run_at DATETIME,
		deleted_at DATETIME,
		options TEXT NOT NULL DEFAULT '{}'
	);

	CREATE TABLE IF NOT EXISTS catalog_databases (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		server_name TEXT NOT NULL,
		database_name TEXT NOT NULL,
		enabled BOOLEAN NOT NULL DEFAULT 1,
		ingested_at DATETIME NOT NULL,
		deleted_at DATETIME
	);

	CREATE UNIQUE INDEX IF NOT EXISTS idx_catalog_databases_active
		ON catalog_databases(server_name, database_name) WHERE deleted_at IS NULL;
	CREATE INDEX IF NOT EXISTS idx_catalog_databases_server ON catalog_databases(server_name);
	`

	if _, err := s.db.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("failed to create schema: %w", err)
	}

	// catalogs created before driver options existed lack the column
	var hasOptions int
	if err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM pragma_table_info('server_configs') WHERE name = 'options'`).Scan(&hasOptions); err != nil {
		return fmt.Errorf("failed to inspect schema: %w", err)
	}
	if hasOptions == 0 {
		if _, err := s.db.ExecContext(ctx,
			`ALTER TABLE server_configs ADD COLUMN options TEXT NOT NULL DEFAULT '{}'`); err != nil {
			return fmt.Errorf("failed to add options column: %w", err)
		}
	}
	return nil
}

// Path returns the database file path
func (s *SQLiteStorage) Path() string {
	return s.path
}

// FindByServerName returns the active records for serverName ordered by id
func (s *SQLiteStorage) FindByServerName(ctx context.Context, serverName string) ([]*DatabaseRecord, error) {
	return s.FindAllByServerName(ctx, serverName, false)
}

// FindAllByServerName returns serverName's records, optionally including soft-deleted ones
func (s *SQLiteStorage) FindAllByServerName(ctx context.Context, serverName string, includeDeleted bool) ([]*DatabaseRecord, error) {
	query := `SELECT ` + databaseColumns + ` FROM catalog_databases WHERE server_name = ?`
	if !includeDeleted {
		query += ` AND deleted_at IS NULL`
	}
	query += ` ORDER BY id`

	rows, err := s.db.QueryContext(ctx, query, serverName)
	if err != nil {
		return nil, base.NewInternalError("FindByServerName", "failed to query catalog", err)
	}
	defer func() { _ = rows.Close() }()

	records := make([]*DatabaseRecord, 0)
	for rows.Next() {
		rec, err := scanDatabaseRecord(rows)
		if err != nil {
			return nil, base.NewInternalError("FindByServerName", "failed to scan catalog row", err)
		}
		records = append(records, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, base.NewInternalError("FindByServerName", "failed to read catalog rows", err)
	}
	return records, nil
}

// Create inserts an active record or returns the existing active one
func (s *SQLiteStorage) Create(ctx context.Context, record *DatabaseRecord) (*DatabaseRecord, error) {
	if err := validateRecord(record); err != nil {
		return nil, err
	}

	ingestedAt := record.IngestedAt
	if ingestedAt.IsZero() {
		ingestedAt = time.Now().UTC()
	}

	// RETURNING columns carry no declared type, so datetimes are read back with a SELECT
	insert := `
		INSERT INTO catalog_databases (server_name, database_name, enabled, ingested_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT (server_name, database_name) WHERE deleted_at IS NULL DO NOTHING`

	result, err := s.db.ExecContext(ctx, insert,
		record.ServerName, record.DatabaseName, record.Enabled, ingestedAt.UTC())
	if err != nil {
		return nil, base.NewInternalError("Create", "failed to create catalog record", err)
	}
	inserted, err := result.RowsAffected()
	if err != nil {
		return nil, base.NewInternalError("Create", "failed to check rows affected", err)
	}

	query := `SELECT ` + databaseColumns + ` FROM catalog_databases
		WHERE server_name = ? AND database_name = ? AND deleted_at IS NULL`

	rec, err := scanDatabaseRecord(s.db.QueryRowContext(ctx, query, record.ServerName, record.DatabaseName))
	if err != nil {
		return nil, base.NewInternalError("Create", "failed to read created catalog record", err)
	}
	rec.Created = inserted > 0
	return rec, nil
}

// SoftDeleteMany stamps deleted_at on ids in one statement
func (s *SQLiteStorage) SoftDeleteMany(ctx context.Context, ids []int64) (int64, error) {
	if len(ids) == 0 {
		return 0, nil
	}

	placeholders := strings.TrimSuffix(strings.Repeat("?,", len(ids)), ",")
	args := make([]interface{}, 0, len(ids)+1)
	args = append(args, time.Now().UTC())
	for _, id := range ids {
		args = append(args, id)
	}

	query := `UPDATE catalog_databases SET deleted_at = COALESCE(deleted_at, ?) WHERE id IN (` + placeholders + `)`

	result, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		return 0, base.NewInternalError("SoftDeleteMany", "failed to soft-delete catalog records", err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return 0, base.NewInternalError("SoftDeleteMany", "failed to check rows affected", err)
	}
	if rows == 0 {
		return 0, base.NewNotFoundError("SoftDeleteMany", fmt.Sprintf("no catalog records match ids %v", ids))
	}
	return rows, nil
}

// Restore clears deleted_at on a record
func (s *SQLiteStorage) Restore(ctx context.Context, id int64) (*DatabaseRecord, error) {
	result, err := s.db.ExecContext(ctx, `UPDATE catalog_databases SET deleted_at = NULL WHERE id = ?`, id)
	var sqliteErr sqlite3.Error
	if errors.As(err, &sqliteErr) && sqliteErr.ExtendedCode == sqlite3.ErrConstraintUnique {
		return nil, base.NewConfigurationError("Restore",
			fmt.Sprintf("catalog record %d cannot be restored: an active record with the same name exists", id), err)
	}
	if err != nil {
		return nil, base.NewInternalError("Restore", "failed to restore catalog record", err)
	}
	if rows, err := result.RowsAffected(); err == nil && rows == 0 {
		return nil, base.NewNotFoundError("Restore", fmt.Sprintf("catalog record %d not found", id))
	}

	query := `SELECT ` + databaseColumns + ` FROM catalog_databases WHERE id = ?`
	rec, err := scanDatabaseRecord(s.db.QueryRowContext(ctx, query, id))
	if err != nil {
		return nil, base.NewInternalError("Restore", "failed to read restored catalog record", err)
	}
	return rec, nil
}

// GetServerConfig returns an active server configuration
func (s *SQLiteStorage) GetServerConfig(ctx context.Context, id int64) (*base.ServerConfig, error) {
	query := `SELECT ` + serverConfigColumns + ` FROM server_configs WHERE id = ? AND deleted_at IS NULL`

	cfg, err := scanServerConfig(s.db.QueryRowContext(ctx, query, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, base.NewNotFoundError("GetServerConfig", fmt.Sprintf("server configuration %d not found", id))
	}
	if err != nil {
		return nil, base.NewInternalError("GetServerConfig", "failed to load server configuration", err)
	}
	return cfg, nil
}

// ListDueServerConfigs returns enabled configurations due at now, ordered by id
func (s *SQLiteStorage) ListDueServerConfigs(ctx context.Context, now time.Time) ([]*base.ServerConfig, error) {
	query := `SELECT ` + serverConfigColumns + ` FROM server_configs
		WHERE deleted_at IS NULL AND enabled = 1
		ORDER BY id`

	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		return nil, base.NewInternalError("ListDueServerConfigs", "failed to query server configurations", err)
	}
	defer func() { _ = rows.Close() }()

	configs := make([]*base.ServerConfig, 0)
	for rows.Next() {
		cfg, err := scanServerConfig(rows)
		if err != nil {
			return nil, base.NewInternalError("ListDueServerConfigs", "failed to scan server configuration", err)
		}
		// compared in Go: stored datetimes carry their own offset
		if cfg.NextRunAt != nil && cfg.NextRunAt.After(now) {
			continue
		}
		configs = append(configs, cfg)
	}
	if err := rows.Err(); err != nil {
		return nil, base.NewInternalError("ListDueServerConfigs", "failed to read server configurations", err)
	}
	return configs, nil
}

// MarkRun records the last and next run times
func (s *SQLiteStorage) MarkRun(ctx context.Context, id int64, ranAt, nextRunAt time.Time) error {
	query := `UPDATE server_configs SET last_run_at = ?, next_run_at = ? WHERE id = ? AND deleted_at IS NULL`

	result, err := s.db.ExecContext(ctx, query, ranAt.UTC(), nextRunAt.UTC(), id)
	if err != nil {
		return base.NewInternalError("MarkRun", "failed to update run times", err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return base.NewInternalError("MarkRun", "failed to check rows affected", err)
	}
	if rows == 0 {
		return base.NewNotFoundError("MarkRun", fmt.Sprintf("server configuration %d not found", id))
	}
	return nil
}

// SaveServerConfig inserts or updates a server configuration
func (s *SQLiteStorage) SaveServerConfig(ctx context.Context, cfg *base.ServerConfig) (*base.ServerConfig, error) {
	if cfg == nil {
		return nil, base.NewConfigurationError("SaveServerConfig", "server configuration is nil", nil)
	}

	options, err := encodeOptions(cfg.Options)
	if err != nil {
		return nil, base.NewConfigurationError("SaveServerConfig", "invalid driver options", err)
	}

	args := []interface{}{
		cfg.Name, cfg.Address, cfg.Port, string(cfg.Engine), cfg.Username, cfg.Secret,
		cfg.Enabled, cfg.Timeout.Milliseconds(), utcPtr(cfg.LastRunAt), utcPtr(cfg.NextRunAt), options,
	}

	id := cfg.ID
	if id == 0 {
		result, err := s.db.ExecContext(ctx, `
			INSERT INTO server_configs (name, address, port, engine, username, secret, enabled, timeout_ms, last_run_at, next_run_at, options)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`, args...)
		if err != nil {
			return nil, base.NewInternalError("SaveServerConfig", "failed to save server configuration", err)
		}
		if id, err = result.LastInsertId(); err != nil {
			return nil, base.NewInternalError("SaveServerConfig", "failed to read configuration id", err)
		}
	} else {
		result, err := s.db.ExecContext(ctx, `
			UPDATE server_configs SET name = ?, address = ?, port = ?, engine = ?, username = ?,
				secret = ?, enabled = ?, timeout_ms = ?, last_run_at = ?, next_run_at = ?, options = ?
			WHERE id = ? AND deleted_at IS NULL`, append(args, id)...)
		if err != nil {
			return nil, base.NewInternalError("SaveServerConfig", "failed to save server configuration", err)
		}
		if rows, err := result.RowsAffected(); err == nil && rows == 0 {
			return nil, base.NewNotFoundError("SaveServerConfig", fmt.Sprintf("server configuration %d not found", id))
		}
	}

	query := `SELECT ` + serverConfigColumns + ` FROM server_configs WHERE id = ?`
	saved, err := scanServerConfig(s.db.QueryRowContext(ctx, query, id))
	if err != nil {
		return nil, base.NewInternalError("SaveServerConfig", "failed to read saved server configuration", err)
	}
	return saved, nil
}

// Close closes the database connection
func (s *SQLiteStorage) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}

func utcPtr(t *time.Time) interface{} {
	if t == nil {
		return nil
	}
	return t.UTC()
}
