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

package mssql

import (
	"context"
	"database/sql"
	"log"
	"net"
	"net/url"
	"os"
	"strconv"

	_ "github.com/microsoft/go-mssqldb" // registers the "sqlserver" driver

	"catalogsync/platform/connectors/base"
)

// ListDatabasesStatement lists databases whose state is ONLINE
const ListDatabasesStatement = "SELECT name FROM sys.databases WHERE state_desc = 'ONLINE'"

// MSSQLDriver discovers databases on Microsoft SQL Server
type MSSQLDriver struct {
	logger *log.Logger
}

// NewMSSQLDriver creates a new SQL Server discovery driver
func NewMSSQLDriver() *MSSQLDriver {
	return &MSSQLDriver{
		logger: log.New(os.Stdout, "[DISCOVERY_MSSQL] ", log.LstdFlags),
	}
}

// Engine returns the engine served by this driver
func (d *MSSQLDriver) Engine() base.Engine {
	return base.EngineMSSQL
}

// RequiresConnection reports that discovery needs a live pool
func (d *MSSQLDriver) RequiresConnection() bool {
	return true
}

// Open establishes a pooled connection to the master database
func (d *MSSQLDriver) Open(ctx context.Context, params base.ConnectionParams) (*sql.DB, error) {
	dsn := BuildDSN(params)

	db, err := sql.Open("sqlserver", dsn)
	if err != nil {
		return nil, err
	}
	params.Pool.Apply(db)

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}

	d.logger.Printf("Connected to SQL Server: %s", base.MaskDSN(dsn))
	return db, nil
}

// ListDatabases returns the names of online databases
func (d *MSSQLDriver) ListDatabases(ctx context.Context, db *sql.DB) ([]string, error) {
	return base.ScanFirstColumn(ctx, db, ListDatabasesStatement)
}

// BuildDSN constructs a go-mssqldb sqlserver:// URL
func BuildDSN(params base.ConnectionParams) string {
	port := params.Port
	if port == 0 {
		port = base.EngineMSSQL.DefaultPort()
	}

	query := url.Values{}
	query.Set("database", params.Option("database", "master"))
	if params.Timeout > 0 {
		seconds := int(params.Timeout.Seconds())
		if seconds < 1 {
			seconds = 1
		}
		query.Set("connection timeout", strconv.Itoa(seconds))
		query.Set("dial timeout", strconv.Itoa(seconds))
	}
	if encrypt := params.Option("encrypt", ""); encrypt != "" {
		query.Set("encrypt", encrypt)
	}
	if trust := params.Option("trustservercertificate", ""); trust != "" {
		query.Set("TrustServerCertificate", trust)
	}

	u := &url.URL{
		Scheme:   "sqlserver",
		User:     url.UserPassword(params.Username, params.Password),
		Host:     net.JoinHostPort(params.Host, strconv.Itoa(port)),
		RawQuery: query.Encode(),
	}
	return u.String()
}
