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
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"os"
	"strings"
	"time"

	"github.com/lib/pq"

	"catalogsync/platform/connectors/base"
)

const pgUniqueViolation = "23505"

const databaseColumns = `id, server_name, database_name, enabled, ingested_at, deleted_at`

const serverConfigColumns = `id, name, address, port, engine, username, secret, enabled,
	timeout_ms, last_run_at, next_run_at, deleted_at, options`

// PostgreSQLStorage implements Storage on PostgreSQL
type PostgreSQLStorage struct {
	db     *sql.DB
	logger *log.Logger
}

// NewPostgreSQLStorage connects to dbURL, retrying while the database comes
// up, and creates the schema when missing.
func NewPostgreSQLStorage(ctx context.Context, dbURL string) (*PostgreSQLStorage, error) {
	logger := log.New(os.Stdout, "[CATALOG_POSTGRES] ", log.LstdFlags)

	maxRetries := 5
	var db *sql.DB
	var err error

	for attempt := 1; attempt <= maxRetries; attempt++ {
		db, err = sql.Open("postgres", dbURL)
		if err == nil {
			err = db.PingContext(ctx)
			if err == nil {
				logger.Printf("Connected to catalog database (attempt %d/%d)", attempt, maxRetries)
				break
			}
			_ = db.Close()
		}

		if attempt < maxRetries {
			backoff := time.Duration(attempt*2) * time.Second
			logger.Printf("Catalog database connection failed (attempt %d/%d): %v", attempt, maxRetries, base.RedactError(err, dsnPassword(dbURL)))
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(backoff):
			}
		}
	}

	if err != nil {
		return nil, fmt.Errorf("failed to connect to catalog database after %d attempts: %w", maxRetries, base.RedactError(err, dsnPassword(dbURL)))
	}

	storage := &PostgreSQLStorage{db: db, logger: logger}
	if err := storage.InitSchema(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}

	logger.Printf("PostgreSQL catalog storage initialized (%s)", base.MaskDSN(dbURL))
	return storage, nil
}

// NewPostgreSQLStorageWithDB wraps an existing connection. The schema is not touched.
func NewPostgreSQLStorageWithDB(db *sql.DB) *PostgreSQLStorage {
	return &PostgreSQLStorage{
		db:     db,
		logger: log.New(os.Stdout, "[CATALOG_POSTGRES] ", log.LstdFlags),
	}
}

func dsnPassword(dbURL string) string {
	start := strings.Index(dbURL, "://")
	if start < 0 {
		return ""
	}
	rest := dbURL[start+3:]
	at := strings.LastIndex(rest, "@")
	if at < 0 {
		return ""
	}
	userInfo := rest[:at]
	if colon := strings.Index(userInfo, ":"); colon >= 0 {
		return userInfo[colon+1:]
	}
	return ""
}

// InitSchema creates the catalog tables if they don't exist
func (s *PostgreSQLStorage) InitSchema(ctx context.Context) error {
	query := `
	CREATE TABLE IF NOT EXISTS server_configs (
		id BIGSERIAL PRIMARY KEY,
		name VARCHAR(255) NOT NULL,
		address VARCHAR(255) NOT NULL DEFAULT '',
		port INTEGER NOT NULL DEFAULT 0,
		engine VARCHAR(32) NOT NULL DEFAULT '',
		username VARCHAR(255) NOT NULL DEFAULT '',
		secret BYTEA,
		enabled BOOLEAN NOT NULL DEFAULT TRUE,
		timeout_ms BIGINT NOT NULL DEFAULT 0,
		last_run_at TIMESTAMPTZ,
		next_run_at TIMESTAMPTZ,
		deleted_at TIMESTAMPTZ,
		options TEXT NOT NULL DEFAULT '{}'
	);
	ALTER TABLE server_configs ADD COLUMN IF NOT EXISTS options TEXT NOT NULL DEFAULT '{}';

	CREATE TABLE IF NOT EXISTS catalog_databases (
		id BIGSERIAL PRIMARY KEY,
		server_name VARCHAR(255) NOT NULL,
		database_name VARCHAR(255) NOT NULL,
		enabled BOOLEAN NOT NULL DEFAULT TRUE,
		ingested_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
		deleted_at TIMESTAMPTZ
	);

	CREATE UNIQUE INDEX IF NOT EXISTS idx_catalog_databases_active
		ON catalog_databases(server_name, database_name) WHERE deleted_at IS NULL;
	CREATE INDEX IF NOT EXISTS idx_catalog_databases_server ON catalog_databases(server_name);
	CREATE INDEX IF NOT EXISTS idx_server_configs_next_run ON server_configs(next_run_at) WHERE deleted_at IS NULL;
	`

	if _, err := s.db.ExecContext(ctx, query); err != nil {
		return fmt.Errorf("failed to create schema: %w", err)
	}

	s.logger.Println("Catalog schema initialized")
	return nil
}

// FindByServerName returns the active records for serverName ordered by id
func (s *PostgreSQLStorage) FindByServerName(ctx context.Context, serverName string) ([]*DatabaseRecord, error) {
	return s.FindAllByServerName(ctx, serverName, false)
}

// FindAllByServerName returns serverName's records, optionally including soft-deleted ones
func (s *PostgreSQLStorage) FindAllByServerName(ctx context.Context, serverName string, includeDeleted bool) ([]*DatabaseRecord, error) {
	query := `SELECT ` + databaseColumns + ` FROM catalog_databases WHERE server_name = $1`
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

// Create inserts an active record, returning the existing active row when
// one already holds the (server, database) pair.
func (s *PostgreSQLStorage) Create(ctx context.Context, record *DatabaseRecord) (*DatabaseRecord, error) {
	if err := validateRecord(record); err != nil {
		return nil, err
	}

	ingestedAt := record.IngestedAt
	if ingestedAt.IsZero() {
		ingestedAt = time.Now().UTC()
	}

	query := `
		INSERT INTO catalog_databases (server_name, database_name, enabled, ingested_at)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (server_name, database_name) WHERE deleted_at IS NULL
		DO UPDATE SET enabled = catalog_databases.enabled
		RETURNING ` + databaseColumns + `, (xmax = 0)`

	var inserted bool
	rec, err := scanDatabaseRecord(s.db.QueryRowContext(ctx, query,
		record.ServerName,
		record.DatabaseName,
		record.Enabled,
		ingestedAt,
	), &inserted)
	if err != nil {
		return nil, base.NewInternalError("Create", "failed to create catalog record", err)
	}

	rec.Created = inserted
	if inserted {
		s.logger.Printf("Catalog record %d: %s/%s", rec.ID,
			base.SanitizeLogString(rec.ServerName), base.SanitizeLogString(rec.DatabaseName))
	}
	return rec, nil
}

// SoftDeleteMany stamps deleted_at on ids in one statement
func (s *PostgreSQLStorage) SoftDeleteMany(ctx context.Context, ids []int64) (int64, error) {
	if len(ids) == 0 {
		return 0, nil
	}

	query := `
		UPDATE catalog_databases
		SET deleted_at = COALESCE(deleted_at, $1)
		WHERE id = ANY($2)
	`

	result, err := s.db.ExecContext(ctx, query, time.Now().UTC(), pq.Array(ids))
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

	s.logger.Printf("Soft-deleted %d catalog record(s)", rows)
	return rows, nil
}

// Restore clears deleted_at on a record
func (s *PostgreSQLStorage) Restore(ctx context.Context, id int64) (*DatabaseRecord, error) {
	query := `UPDATE catalog_databases SET deleted_at = NULL WHERE id = $1 RETURNING ` + databaseColumns

	rec, err := scanDatabaseRecord(s.db.QueryRowContext(ctx, query, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, base.NewNotFoundError("Restore", fmt.Sprintf("catalog record %d not found", id))
	}
	var pqErr *pq.Error
	if errors.As(err, &pqErr) && pqErr.Code == pgUniqueViolation {
		return nil, base.NewConfigurationError("Restore",
			fmt.Sprintf("catalog record %d cannot be restored: an active record with the same name exists", id), err)
	}
	if err != nil {
		return nil, base.NewInternalError("Restore", "failed to restore catalog record", err)
	}
	return rec, nil
}

// GetServerConfig returns an active server configuration
func (s *PostgreSQLStorage) GetServerConfig(ctx context.Context, id int64) (*base.ServerConfig, error) {
	query := `SELECT ` + serverConfigColumns + ` FROM server_configs WHERE id = $1 AND deleted_at IS NULL`

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
func (s *PostgreSQLStorage) ListDueServerConfigs(ctx context.Context, now time.Time) ([]*base.ServerConfig, error) {
	query := `SELECT ` + serverConfigColumns + ` FROM server_configs
		WHERE deleted_at IS NULL AND enabled = TRUE AND (next_run_at IS NULL OR next_run_at <= $1)
		ORDER BY id`

	rows, err := s.db.QueryContext(ctx, query, now)
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
		configs = append(configs, cfg)
	}
	if err := rows.Err(); err != nil {
		return nil, base.NewInternalError("ListDueServerConfigs", "failed to read server configurations", err)
	}
	return configs, nil
}

// MarkRun records the last and next run times
func (s *PostgreSQLStorage) MarkRun(ctx context.Context, id int64, ranAt, nextRunAt time.Time) error {
	query := `UPDATE server_configs SET last_run_at = $2, next_run_at = $3 WHERE id = $1 AND deleted_at IS NULL`

	result, err := s.db.ExecContext(ctx, query, id, ranAt, nextRunAt)
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
func (s *PostgreSQLStorage) SaveServerConfig(ctx context.Context, cfg *base.ServerConfig) (*base.ServerConfig, error) {
	if cfg == nil {
		return nil, base.NewConfigurationError("SaveServerConfig", "server configuration is nil", nil)
	}

	options, err := encodeOptions(cfg.Options)
	if err != nil {
		return nil, base.NewConfigurationError("SaveServerConfig", "invalid driver options", err)
	}

	var query string
	args := []interface{}{
		cfg.Name, cfg.Address, cfg.Port, string(cfg.Engine), cfg.Username, cfg.Secret,
		cfg.Enabled, cfg.Timeout.Milliseconds(), cfg.LastRunAt, cfg.NextRunAt, options,
	}
	if cfg.ID == 0 {
		query = `
			INSERT INTO server_configs (name, address, port, engine, username, secret, enabled, timeout_ms, last_run_at, next_run_at, options)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
			RETURNING ` + serverConfigColumns
	} else {
		query = `
			UPDATE server_configs SET name = $1, address = $2, port = $3, engine = $4, username = $5,
				secret = $6, enabled = $7, timeout_ms = $8, last_run_at = $9, next_run_at = $10, options = $11
			WHERE id = $12 AND deleted_at IS NULL
			RETURNING ` + serverConfigColumns
		args = append(args, cfg.ID)
	}

	saved, err := scanServerConfig(s.db.QueryRowContext(ctx, query, args...))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, base.NewNotFoundError("SaveServerConfig", fmt.Sprintf("server configuration %d not found", cfg.ID))
	}
	if err != nil {
		return nil, base.NewInternalError("SaveServerConfig", "failed to save server configuration", err)
	}
	return saved, nil
}

// Close closes the database connection
func (s *PostgreSQLStorage) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}

func validateRecord(record *DatabaseRecord) error {
	if record == nil {
		return base.NewConfigurationError("Create", "catalog record is nil", nil)
	}
	if strings.TrimSpace(record.ServerName) == "" || record.DatabaseName == "" {
		return base.NewConfigurationError("Create", "catalog record needs a server name and a database name", nil)
	}
	return nil
}

// scanDatabaseRecord reads databaseColumns followed by any extra columns
func scanDatabaseRecord(row rowScanner, extra ...interface{}) (*DatabaseRecord, error) {
	var rec DatabaseRecord
	var deletedAt sql.NullTime

	dest := append([]interface{}{
		&rec.ID,
		&rec.ServerName,
		&rec.DatabaseName,
		&rec.Enabled,
		&rec.IngestedAt,
		&deletedAt,
	}, extra...)
	if err := row.Scan(dest...); err != nil {
		return nil, err
	}
	if deletedAt.Valid {
		t := deletedAt.Time
		rec.DeletedAt = &t
	}
	return &rec, nil
}

func scanServerConfig(row rowScanner) (*base.ServerConfig, error) {
	var cfg base.ServerConfig
	var engine string
	var timeoutMs int64
	var lastRunAt, nextRunAt, deletedAt sql.NullTime
	var options sql.NullString

	if err := row.Scan(
		&cfg.ID,
		&cfg.Name,
		&cfg.Address,
		&cfg.Port,
		&engine,
		&cfg.Username,
		&cfg.Secret,
		&cfg.Enabled,
		&timeoutMs,
		&lastRunAt,
		&nextRunAt,
		&deletedAt,
		&options,
	); err != nil {
		return nil, err
	}

	var err error
	if cfg.Options, err = decodeOptions(options.String); err != nil {
		return nil, fmt.Errorf("server configuration %d has malformed options: %w", cfg.ID, err)
	}
	cfg.Engine = base.Engine(strings.ToLower(strings.TrimSpace(engine)))
	cfg.Timeout = time.Duration(timeoutMs) * time.Millisecond
	cfg.LastRunAt = nullTimePtr(lastRunAt)
	cfg.NextRunAt = nullTimePtr(nextRunAt)
	cfg.DeletedAt = nullTimePtr(deletedAt)
	return &cfg, nil
}

// encodeOptions stores driver options as a JSON object
func encodeOptions(options map[string]string) (string, error) {
	if len(options) == 0 {
		return "{}", nil
	}
	data, err := json.Marshal(base.MergeOptions(nil, options))
	if err != nil {
		return "", err
	}
	return string(data), nil
}

func decodeOptions(raw string) (map[string]string, error) {
	if raw == "" || raw == "{}" {
		return nil, nil
	}
	var options map[string]string
	if err := json.Unmarshal([]byte(raw), &options); err != nil {
		return nil, err
	}
	return options, nil
}

func nullTimePtr(t sql.NullTime) *time.Time {
	if !t.Valid {
		return nil
	}
	v := t.Time
	return &v
}
