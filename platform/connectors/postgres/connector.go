// Copyright 2025 AxonFlow
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package postgres

import (
	"context"
	"database/sql"
	"log"
	"net"
	"net/url"
	"os"
	"strconv"

	_ "github.com/lib/pq" // PostgreSQL driver

	"catalogsync/platform/connectors/base"
)

// ListDatabasesStatement lists every non-template database on the server
const ListDatabasesStatement = "SELECT datname FROM pg_database WHERE datistemplate = false"

const (
	// DefaultMaintenanceDB is the database the discovery pool connects to
	DefaultMaintenanceDB = "postgres"
	// DefaultSSLMode is used when the server configuration sets no sslmode option
	DefaultSSLMode = "disable"
)

// PostgresDriver discovers databases on PostgreSQL servers
type PostgresDriver struct {
	logger *log.Logger
}

// NewPostgresDriver creates a new PostgreSQL discovery driver
func NewPostgresDriver() *PostgresDriver {
	return &PostgresDriver{
		logger: log.New(os.Stdout, "[DISCOVERY_POSTGRES] ", log.LstdFlags),
	}
}

// Engine returns the engine served by this driver
func (d *PostgresDriver) Engine() base.Engine {
	return base.EnginePostgres
}

// RequiresConnection reports that PostgreSQL discovery needs a live pool
func (d *PostgresDriver) RequiresConnection() bool {
	return true
}

// Open establishes a pooled connection to the maintenance database
func (d *PostgresDriver) Open(ctx context.Context, params base.ConnectionParams) (*sql.DB, error) {
	dsn := BuildDSN(params)

	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, err
	}
	params.Pool.Apply(db)

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}

	d.logger.Printf("Connected to PostgreSQL: %s", base.MaskDSN(dsn))
	return db, nil
}

// ListDatabases returns the names of all non-template databases
func (d *PostgresDriver) ListDatabases(ctx context.Context, db *sql.DB) ([]string, error) {
	return base.ScanFirstColumn(ctx, db, ListDatabasesStatement)
}

// BuildDSN constructs a lib/pq connection URL. The password is URL-encoded by
// net/url so special characters survive.
func BuildDSN(params base.ConnectionParams) string {
	port := params.Port
	if port == 0 {
		port = base.EnginePostgres.DefaultPort()
	}

	query := url.Values{}
	query.Set("sslmode", params.Option("sslmode", DefaultSSLMode))
	if params.Timeout > 0 {
		seconds := int(params.Timeout.Seconds())
		if seconds < 1 {
			seconds = 1
		}
		query.Set("connect_timeout", strconv.Itoa(seconds))
	}
	if appName := params.Option("application_name", ""); appName != "" {
		query.Set("application_name", appName)
	}

	u := &url.URL{
		Scheme:   "postgres",
		User:     url.UserPassword(params.Username, params.Password),
		Host:     net.JoinHostPort(params.Host, strconv.Itoa(port)),
		Path:     "/" + params.Option("database", DefaultMaintenanceDB),
		RawQuery: query.Encode(),
	}
	return u.String()
}
