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


package scheduler

import (
	"context"
	"fmt"
	"math/rand"
	"time"

	"catalogsync/platform/connectors/base"
)

// RetryConfig configures how a failed reconciliation is retried
type RetryConfig struct {
	MaxRetries      int              // attempts after the first
	InitialInterval time.Duration    // wait before the first retry
	MaxInterval     time.Duration    // cap on any single wait
	Multiplier      float64          // backoff multiplier
	Jitter          float64          // jitter factor (0-1)
	RetryIf         func(error) bool // nil means retry connectivity errors only
}

// DefaultRetryConfig returns the retry behaviour used by the scheduler
func DefaultRetryConfig() *RetryConfig {
	return &RetryConfig{
		MaxRetries:      3,
		InitialInterval: 500 * time.Millisecond,
		MaxInterval:     30 * time.Second,
		Multiplier:      2.0,
		Jitter:          0.1,
		RetryIf:         base.IsConnectivityError,
	}
}

// RetryError indicates every attempt failed. It unwraps to the last error so
// the error kind is still visible through base.KindOf.
type RetryError struct {
	Err      error
	Attempts int
}

func (e *RetryError) Error() string {
	return fmt.Sprintf("reconciliation failed after %d attempts: %v", e.Attempts, e.Err)
}

func (e *RetryError) Unwrap() error {
	return e.Err
}

// RetryWithBackoff calls fn until it succeeds, returns an error RetryIf
// rejects, or runs out of attempts.
func RetryWithBackoff[T any](ctx context.Context, config *RetryConfig, fn func(attempt int) (T, error)) (T, error) {
	var zero T

	if config == nil {
		config = DefaultRetryConfig()
	}
	retryIf := config.RetryIf
	if retryIf == nil {
		retryIf = base.IsConnectivityError
	}

	var lastErr error
	interval := config.InitialInterval

	for attempt := 0; attempt <= config.MaxRetries; attempt++ {
		if ctx.Err() != nil {
			return zero, ctx.Err()
		}

		result, err := fn(attempt)
		if err == nil {
			return result, nil
		}
		lastErr = err

		if !retryIf(err) {
			return zero, err
		}
		if attempt >= config.MaxRetries {
			break
		}

		wait := interval
		if config.Jitter > 0 {
			jitter := wait.Seconds() * config.Jitter * (rand.Float64()*2 - 1)
			wait += time.Duration(jitter * float64(time.Second))
		}
		if config.MaxInterval > 0 && wait > config.MaxInterval {
			wait = config.MaxInterval
		}

		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return zero, ctx.Err()
		case <-timer.C:
		}

		interval = time.Duration(float64(interval) * config.Multiplier)
		if config.MaxInterval > 0 && interval > config.MaxInterval {
			interval = config.MaxInterval
		}
	}

	return zero, &RetryError{
		Err:      lastErr,
		Attempts: config.MaxRetries + 1,
	}
}
