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

package logger

import (
	"encoding/json"
	"io"
	"log"
	"os"
	"time"
)

// LogLevel represents the severity of a log entry
type LogLevel string

const (
	DEBUG LogLevel = "DEBUG"
	INFO  LogLevel = "INFO"
	WARN  LogLevel = "WARN"
	ERROR LogLevel = "ERROR"
)

// Logger provides structured logging correlated by server configuration and run
type Logger struct {
	Component  string
	InstanceID string
	Container  string

	out *log.Logger
}

// LogEntry is one structured log line. ServerID is zero for lines not tied
// to a server configuration.
type LogEntry struct {
	Timestamp  string                 `json:"timestamp"`
	Level      LogLevel               `json:"level"`
	Component  string                 `json:"component"`
	InstanceID string                 `json:"instance_id"`
	Container  string                 `json:"container"`
	ServerID   int64                  `json:"server_id,omitempty"`
	RunID      string                 `json:"run_id,omitempty"`
	Message    string                 `json:"message"`
	Fields     map[string]interface{} `json:"fields,omitempty"`
}

// New creates a new Logger for the specified component
func New(component string) *Logger {
	// Get instance ID from environment (set during deployment)
	instanceID := os.Getenv("INSTANCE_ID")
	if instanceID == "" {
		instanceID = "unknown"
	}

	container, err := os.Hostname()
	if err != nil {
		container = "unknown"
	}

	return &Logger{
		Component:  component,
		InstanceID: instanceID,
		Container:  container,
		out:        log.New(os.Stdout, "", 0),
	}
}

// SetOutput redirects log lines, mainly for tests
func (l *Logger) SetOutput(w io.Writer) {
	l.out = log.New(w, "", 0)
}

// Log creates a structured log entry and writes it as one JSON line
func (l *Logger) Log(level LogLevel, serverID int64, runID, message string, fields map[string]interface{}) {
	entry := LogEntry{
		Timestamp:  time.Now().UTC().Format(time.RFC3339Nano),
		Level:      level,
		Component:  l.Component,
		InstanceID: l.InstanceID,
		Container:  l.Container,
		ServerID:   serverID,
		RunID:      runID,
		Message:    message,
		Fields:     fields,
	}

	jsonBytes, err := json.Marshal(entry)
	if err != nil {
		log.Printf("ERROR: Failed to marshal log entry: %v", err)
		return
	}

	out := l.out
	if out == nil {
		out = log.New(os.Stdout, "", 0)
	}
	out.Println(string(jsonBytes))
}

// Info logs an informational message
func (l *Logger) Info(serverID int64, runID, message string, fields map[string]interface{}) {
	l.Log(INFO, serverID, runID, message, fields)
}

// Error logs an error message
func (l *Logger) Error(serverID int64, runID, message string, fields map[string]interface{}) {
	l.Log(ERROR, serverID, runID, message, fields)
}

// Warn logs a warning message
func (l *Logger) Warn(serverID int64, runID, message string, fields map[string]interface{}) {
	l.Log(WARN, serverID, runID, message, fields)
}

// Debug logs a debug message
func (l *Logger) Debug(serverID int64, runID, message string, fields map[string]interface{}) {
	l.Log(DEBUG, serverID, runID, message, fields)
}

// InfoWithDuration logs an info message with a duration_ms field
func (l *Logger) InfoWithDuration(serverID int64, runID, message string, duration time.Duration, fields map[string]interface{}) {
	if fields == nil {
		fields = make(map[string]interface{})
	}
	fields["duration_ms"] = float64(duration.Microseconds()) / 1000
	l.Info(serverID, runID, message, fields)
}

// ErrorWithCause logs an error message with the error text and its kind
func (l *Logger) ErrorWithCause(serverID int64, runID, message, kind string, err error, fields map[string]interface{}) {
	if fields == nil {
		fields = make(map[string]interface{})
	}
	if kind != "" {
		fields["error_kind"] = kind
	}
	if err != nil {
		fields["error"] = err.Error()
	}
	l.Error(serverID, runID, message, fields)
}
