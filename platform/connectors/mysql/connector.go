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

package mysql

import (
	"context"
	"database/sql"
	"log"
	"net"
	"os"
	"strconv"
	"time"

	"github.com/go-sql-driver/mysql"

	"catalogsync/platform/connectors/base"
)

// ListDatabasesStatement is shared by MySQL and MariaDB
const ListDatabasesStatement = "SHOW DATABASES"

const (
	// DefaultReadTimeout bounds a single read on the discovery connection
	DefaultReadTimeout = 30 * time.Second
)

// MySQLDriver discovers databases on MySQL and MariaDB servers. Both engines
// speak the same wire protocol, so one implementation serves either.
type MySQLDriver struct {
	engine base.Engine
	logger *log.Logger
}

// NewMySQLDriver creates a discovery driver for MySQL
func NewMySQLDriver() *MySQLDriver {
	return &MySQLDriver{
		engine: base.EngineMySQL,
		logger: log.New(os.Stdout, "[DISCOVERY_MYSQL] ", log.LstdFlags),
	}
}

// NewMariaDBDriver creates a discovery driver for MariaDB
func NewMariaDBDriver() *MySQLDriver {
	return &MySQLDriver{
		engine: base.EngineMariaDB,
		logger: log.New(os.Stdout, "[DISCOVERY_MARIADB] ", log.LstdFlags),
	}
}

// Engine returns the engine served by this driver
func (d *MySQLDriver) Engine() base.Engine {
	return d.engine
}

// RequiresConnection reports that discovery needs a live pool
func (d *MySQLDriver) RequiresConnection() bool {
	return true
}

// Open establishes a pooled connection without selecting a default database
func (d *MySQLDriver) Open(ctx context.Context, params base.ConnectionParams) (*sql.DB, error) {
	cfg := BuildConfig(params)

	connector, err := mysql.NewConnector(cfg)
	if err != nil {
		return nil, err
	}

	db := sql.OpenDB(connector)
	params.Pool.Apply(db)

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}

	d.logger.Printf("Connected to %s: %s", d.engine, base.MaskDSN(cfg.FormatDSN()))
	return db, nil
}

// ListDatabases returns every database visible to the configured user
func (d *MySQLDriver) ListDatabases(ctx context.Context, db *sql.DB) ([]string, error) {
	return base.ScanFirstColumn(ctx, db, ListDatabasesStatement)
}

// BuildConfig maps connection parameters onto a go-sql-driver config.
// Using mysql.Config rather than string formatting keeps passwords with
// reserved characters intact.
func BuildConfig(params base.ConnectionParams) *mysql.Config {
	port := params.Port
	if port == 0 {
		port = base.EngineMySQL.DefaultPort()
	}

	cfg := mysql.NewConfig()
	cfg.User = params.Username
	cfg.Passwd = params.Password
	cfg.Net = "tcp"
	cfg.Addr = net.JoinHostPort(params.Host, strconv.Itoa(port))
	cfg.DBName = params.Option("database", "")
	cfg.ParseTime = true
	cfg.Loc = time.UTC
	cfg.MultiStatements = false
	cfg.InterpolateParams = false

	if params.Timeout > 0 {
		cfg.Timeout = params.Timeout
		cfg.ReadTimeout = params.Timeout
	} else {
		cfg.Timeout = 10 * time.Second
		cfg.ReadTimeout = DefaultReadTimeout
	}

	if tls := params.Option("tls", ""); tls != "" {
		cfg.TLSConfig = tls
	}
	return cfg
}
