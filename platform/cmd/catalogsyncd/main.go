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


// Command catalogsyncd keeps the database catalog in step with the databases
// hosted by every registered server.
//
// Usage:
//
//	./catalogsyncd
//
// Environment Variables:
//
//	PORT - HTTP port for /health and /metrics (default: 8090)
//	DATABASE_URL - PostgreSQL catalog store (SQLite at CATALOG_SQLITE_PATH otherwise)
//	REDIS_URL - shared discovery cache (in-process otherwise)
//	SECRETS_BACKEND - raw, base64 or aws (default: raw)
//	CATALOGSYNC_CONFIG - optional YAML file overlaid before the environment
package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"

	"catalogsync/platform/daemon"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := daemon.Run(ctx); err != nil {
		log.Fatalf("catalogsyncd: %v", err)
	}
}
