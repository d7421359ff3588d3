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
	"errors"
)

// ErrorKind is the machine-checkable class of a failure
type ErrorKind string

const (
	// KindNotFound: the referenced configuration or catalog entity is absent
	KindNotFound ErrorKind = "not_found"
	// KindConfiguration: invalid or disabled configuration, not retryable
	KindConfiguration ErrorKind = "configuration_error"
	// KindConnectivity: remote unreachable, auth or query failure, possibly transient
	KindConnectivity ErrorKind = "connectivity_error"
	// KindInternal: unexpected failure in the catalog store
	KindInternal ErrorKind = "internal_error"
)

// Error is the structured failure returned across the discovery and
// reconciliation boundary. Cause is preserved for errors.Is / errors.As.
type Error struct {
	Kind    ErrorKind
	Op      string
	Message string
	Cause   error
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return string(e.Kind) + ": " + e.Op + ": " + e.Message + " (cause: " + e.Cause.Error() + ")"
	}
	return string(e.Kind) + ": " + e.Op + ": " + e.Message
}

func (e *Error) Unwrap() error {
	return e.Cause
}

// NewError creates a new Error of the given kind
func NewError(kind ErrorKind, op, message string, cause error) *Error {
	return &Error{
		Kind:    kind,
		Op:      op,
		Message: message,
		Cause:   cause,
	}
}

func NewNotFoundError(op, message string) *Error {
	return NewError(KindNotFound, op, message, nil)
}

func NewConfigurationError(op, message string, cause error) *Error {
	return NewError(KindConfiguration, op, message, cause)
}

func NewConnectivityError(op, message string, cause error) *Error {
	return NewError(KindConnectivity, op, message, cause)
}

func NewInternalError(op, message string, cause error) *Error {
	return NewError(KindInternal, op, message, cause)
}

// KindOf returns the kind of the first *Error in err's chain, or "" if none
func KindOf(err error) ErrorKind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return ""
}

func IsNotFound(err error) bool {
	return KindOf(err) == KindNotFound
}

func IsConfigurationError(err error) bool {
	return KindOf(err) == KindConfiguration
}

func IsConnectivityError(err error) bool {
	return KindOf(err) == KindConnectivity
}

// AsInternal passes typed errors through and wraps anything else as
// KindInternal so callers always see a kind.
func AsInternal(op string, err error) error {
	if err == nil {
		return nil
	}
	if KindOf(err) != "" {
		return err
	}
	return NewInternalError(op, "unexpected catalog failure", err)
}
