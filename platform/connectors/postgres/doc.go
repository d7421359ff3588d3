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

/*
Package postgres provides the PostgreSQL discovery driver.

# Discovery

The driver connects to the maintenance database (postgres by default) and
lists every non-template database:

	SELECT datname FROM pg_database WHERE datistemplate = false

# Options

ConnectionParams.Options understood by the driver:

	"database"          maintenance database to connect to (default "postgres")
	"sslmode"           lib/pq sslmode (default "disable")
	"application_name"  reported in pg_stat_activity

Options come from driver_options.postgres in the service configuration,
overridden by the options stored on each server configuration
(catalogctl server add --option sslmode=require).

# Thread Safety

PostgresDriver holds no per-connection state and is safe for concurrent use.
Pools are owned by the registry package.
*/
package postgres
