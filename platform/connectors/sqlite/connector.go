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

// Package sqlite provides the discovery driver for SQLite servers. A SQLite
// file has no catalog of sibling databases, so discovery always returns an
// empty list and never opens a connection.
package sqlite

import (
	"context"
	"database/sql"

	"catalogsync/platform/connectors/base"
)

// SQLiteDriver is the no-op discovery strategy for SQLite
type SQLiteDriver struct{}

// NewSQLiteDriver creates a new SQLite discovery driver
func NewSQLiteDriver() *SQLiteDriver {
	return &SQLiteDriver{}
}

// Engine returns the engine served by this driver
func (d *SQLiteDriver) Engine() base.Engine {
	return base.EngineSQLite
}

// RequiresConnection is false: the pool manager never calls Open for SQLite
func (d *SQLiteDriver) RequiresConnection() bool {
	return false
}

// Open always fails; SQLite discovery has nothing to connect to
func (d *SQLiteDriver) Open(ctx context.Context, params base.ConnectionParams) (*sql.DB, error) {
	return nil, base.NewConfigurationError("Open", "sqlite servers have no remote catalog to connect to", nil)
}

// ListDatabases returns an empty list
func (d *SQLiteDriver) ListDatabases(ctx context.Context, db *sql.DB) ([]string, error) {
	return []string{}, nil
}
