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
Package logger provides structured JSON logging for catalogsync components.

# Overview

Each log entry includes:
  - Timestamp (RFC3339Nano format)
  - Log level (DEBUG, INFO, WARN, ERROR)
  - Component name (reconcile, scheduler, daemon)
  - Instance ID and container name
  - Server configuration id and reconciliation run id
  - Custom fields

# Usage

	log := logger.New("reconcile")

	log.Info(7, runID, "Reconciliation completed", map[string]interface{}{
	    "created":      1,
	    "soft_deleted": 1,
	})

	log.ErrorWithCause(7, runID, "Reconciliation failed", "connectivity_error", err, nil)

# Output Format

	{"timestamp":"2025-01-15T10:30:00.123456789Z","level":"INFO",
	 "component":"reconcile","instance_id":"i-abc123","container":"catalogsync-xyz",
	 "server_id":7,"run_id":"4f1c...","message":"Reconciliation completed",
	 "fields":{"created":1,"soft_deleted":1}}

Secrets must never be passed in messages or fields.

# Environment Variables

  - INSTANCE_ID: Deployment instance identifier
  - HOSTNAME: Container hostname (auto-detected)

# Thread Safety

Logger instances are safe for concurrent use from multiple goroutines.
*/
package logger
