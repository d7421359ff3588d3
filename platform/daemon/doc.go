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
Package daemon wires the catalogsync components into one long-running process.

Storage is PostgreSQL when DATABASE_URL is set and SQLite otherwise. The
discovery cache is Redis when REDIS_URL is set and in-process otherwise.
The scheduler reconciles due server configurations every sweep interval,
and an HTTP listener serves:

	GET /health   pool and cache state as JSON
	GET /metrics  Prometheus metrics

On shutdown every remote connection pool is closed.
*/
package daemon
