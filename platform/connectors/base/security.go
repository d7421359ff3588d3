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

package base

import (
	"fmt"
	"net"
	"net/url"
	"regexp"
	"strconv"
	"strings"
)

var (
	ansiRegex = regexp.MustCompile(`\x1b\[[0-9;]*[a-zA-Z]`)

	// user:secret@ in URL style DSNs and user:secret@tcp( in MySQL DSNs
	dsnUserInfoRegex = regexp.MustCompile(`([^:/@\s]+):([^@\s/]*)@`)

	// password=... in key/value DSNs (lib/pq, go-mssqldb)
	dsnPasswordRegex = regexp.MustCompile(`(?i)(password|pwd)=([^;&\s]*)`)
)

// SanitizeLogString removes or escapes characters that could be used for log injection.
// Database names come from remote servers and are passed through this before logging.
func SanitizeLogString(s string) string {
	s = strings.ReplaceAll(s, "\n", "\\n")
	s = strings.ReplaceAll(s, "\r", "\\r")
	s = ansiRegex.ReplaceAllString(s, "")
	const maxLogLength = 500
	if len(s) > maxLogLength {
		s = s[:maxLogLength] + "...[truncated]"
	}
	return s
}

// MaskDSN hides the password portion of a connection string so it can be logged
func MaskDSN(dsn string) string {
	masked := dsnUserInfoRegex.ReplaceAllString(dsn, "$1:***@")
	return dsnPasswordRegex.ReplaceAllString(masked, "$1=***")
}

// RedactSecret removes every occurrence of secret from s. Driver errors can
// echo the DSN back, so error messages pass through this before surfacing.
func RedactSecret(s, secret string) string {
	if secret == "" {
		return s
	}
	s = strings.ReplaceAll(s, secret, "***")
	if escaped := url.QueryEscape(secret); escaped != secret {
		s = strings.ReplaceAll(s, escaped, "***")
	}
	return s
}

type redactedError struct {
	msg   string
	cause error
}

func (e *redactedError) Error() string { return e.msg }
func (e *redactedError) Unwrap() error { return e.cause }

// RedactError returns err with secret scrubbed from its message. The original
// error stays reachable through errors.Is / errors.As.
func RedactError(err error, secret string) error {
	if err == nil || secret == "" {
		return err
	}
	msg := RedactSecret(err.Error(), secret)
	if msg == err.Error() {
		return err
	}
	return &redactedError{msg: msg, cause: err}
}

// SplitAddress separates an optional ":port" suffix from a server address.
// IPv6 literals must be bracketed when a port is present.
func SplitAddress(address string) (host string, port int, err error) {
	address = strings.TrimSpace(address)
	if address == "" {
		return "", 0, fmt.Errorf("address cannot be empty")
	}

	h, p, splitErr := net.SplitHostPort(address)
	if splitErr != nil {
		// no port component
		return strings.Trim(address, "[]"), 0, nil
	}

	n, err := strconv.Atoi(p)
	if err != nil || n <= 0 || n > 65535 {
		return "", 0, fmt.Errorf("invalid port %q in address", p)
	}
	return h, n, nil
}
