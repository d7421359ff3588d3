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
Package registry manages the live connection pools used for database
discovery.

# Overview

A PoolManager owns one database/sql pool per connection identity, the tuple
(engine, address, username). Two server configurations that point at the same
server with the same user share a pool even when their ids or secrets differ.

	pm := registry.NewPoolManager(registry.PoolManagerOptions{
	    Secrets: decoder,
	    Policy:  registry.PoolPolicy{IdleTimeout: 10 * time.Minute},
	})
	names, err := pm.DiscoverDatabases(ctx, serverConfig)

# Engines

Each engine is served by a base.Driver registered with the manager.
DefaultDrivers covers postgres, mysql, mariadb, sqlite and mssql. sqlite has
no sibling databases, so discovery returns an empty list without opening a
pool.

# Errors

Configurations that are disabled or incomplete fail with a configuration
error before any network I/O. Connection and listing failures are returned as
connectivity errors wrapping the driver error, with the decoded secret
removed from the message. Discovery is never retried here.

# Pool Lifetime

Pools are opened lazily and concurrent first use of an identity is collapsed
into a single open. With PoolPolicy.CloseAfterDiscovery set, callers sweep
every pool with CloseAll once a discovery result has been cached. Otherwise
pools stay open and StartIdleReaper closes the ones unused for longer than
IdleTimeout. CloseAll is also called on shutdown.
*/
package registry
