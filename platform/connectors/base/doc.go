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

/*
Package base provides the core types shared by the discovery drivers, the
connection pool manager and the reconciliation service.

# Engines

A ServerConfig targets exactly one Engine:

  - postgres (default port 5432)
  - mysql (3306)
  - mariadb (3306)
  - sqlite (no port; no catalog of sibling databases)
  - mssql (1433)

# Drivers

Each engine is served by one Driver implementation:

	type Driver interface {
	    Engine() Engine
	    RequiresConnection() bool
	    Open(ctx context.Context, params ConnectionParams) (*sql.DB, error)
	    ListDatabases(ctx context.Context, db *sql.DB) ([]string, error)
	}

Drivers are stateless. Pools are owned by the registry package and keyed by
ConnectionIdentity (engine, address, username).

# Error Handling

Failures crossing the package boundary are *Error values with a Kind:

	names, err := pool.DiscoverDatabases(ctx, cfg)
	switch {
	case base.IsConfigurationError(err):
	    // caller error, do not retry
	case base.IsConnectivityError(err):
	    // remote failure, the engine message is preserved in Cause
	}

Secrets never appear in error messages; drivers pass engine errors through
RedactSecret before wrapping them.
*/
package base
