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
	"context"
	"database/sql"
	"fmt"
	"sort"
	"strings"
	"time"
)

// Engine identifies the database technology a server configuration targets
type Engine string

const (
	EnginePostgres Engine = "postgres"
	EngineMySQL    Engine = "mysql"
	EngineMariaDB  Engine = "mariadb"
	EngineSQLite   Engine = "sqlite"
	EngineMSSQL    Engine = "mssql"
)

// DefaultTimeout bounds a discovery call when the configuration carries none
const DefaultTimeout = 30 * time.Second

var defaultPorts = map[Engine]int{
	EnginePostgres: 5432,
	EngineMySQL:    3306,
	EngineMariaDB:  3306,
	EngineSQLite:   0,
	EngineMSSQL:    1433,
}

// Engines returns every supported engine in a stable order
func Engines() []Engine {
	return []Engine{EnginePostgres, EngineMySQL, EngineMariaDB, EngineSQLite, EngineMSSQL}
}

// ParseEngine normalizes an engine identifier. Unknown values are rejected.
func ParseEngine(s string) (Engine, error) {
	e := Engine(strings.ToLower(strings.TrimSpace(s)))
	if !e.Valid() {
		return "", fmt.Errorf("unsupported engine %q", s)
	}
	return e, nil
}

// Valid reports whether e is one of the supported engines
func (e Engine) Valid() bool {
	_, ok := defaultPorts[e]
	return ok
}

// DefaultPort returns the port used when a configuration omits one.
// sqlite has no network port and returns 0.
func (e Engine) DefaultPort() int {
	return defaultPorts[e]
}

func (e Engine) String() string {
	return string(e)
}

// ServerConfig is one remote database server endpoint watched by the platform.
// It is read-only to the discovery path.
type ServerConfig struct {
	ID       int64         `json:"id"`
	Name     string        `json:"name"`
	Address  string        `json:"address"`
	Port     int           `json:"port,omitempty"` // 0 = engine default
	Engine   Engine        `json:"engine"`
	Username string        `json:"username"`
	Secret   []byte        `json:"-"` // opaque storage form, decoded only when a pool is opened
	Enabled  bool          `json:"enabled"`
	Timeout  time.Duration `json:"timeout"`
	// Driver options such as sslmode, tls or encrypt. They override the
	// engine-wide defaults of the pool manager.
	Options   map[string]string `json:"options,omitempty"`
	LastRunAt *time.Time        `json:"last_run_at,omitempty"`
	NextRunAt *time.Time        `json:"next_run_at,omitempty"`
	DeletedAt *time.Time        `json:"deleted_at,omitempty"`
}

// ValidateForDiscovery checks the preconditions for talking to the server.
// No network I/O happens here.
func (c *ServerConfig) ValidateForDiscovery() error {
	if c == nil {
		return NewConfigurationError("ValidateForDiscovery", "server configuration is nil", nil)
	}
	if !c.Enabled {
		return NewConfigurationError("ValidateForDiscovery",
			fmt.Sprintf("server configuration %d is disabled", c.ID), nil)
	}

	var missing []string
	if c.Engine == "" {
		missing = append(missing, "engine")
	}
	if strings.TrimSpace(c.Address) == "" {
		missing = append(missing, "address")
	}
	if strings.TrimSpace(c.Username) == "" {
		missing = append(missing, "username")
	}
	if len(missing) > 0 {
		return NewConfigurationError("ValidateForDiscovery",
			fmt.Sprintf("server configuration %d is missing %s", c.ID, strings.Join(missing, ", ")), nil)
	}

	if !c.Engine.Valid() {
		return NewConfigurationError("ValidateForDiscovery",
			fmt.Sprintf("server configuration %d has unsupported engine %q", c.ID, c.Engine), nil)
	}
	return nil
}

// EffectivePort returns the configured port or the engine default
func (c *ServerConfig) EffectivePort() int {
	if c.Port > 0 {
		return c.Port
	}
	return c.Engine.DefaultPort()
}

// Endpoint resolves the host and port discovery connects to. An explicit
// Port wins over a ":port" suffix in Address, which wins over the engine
// default.
func (c *ServerConfig) Endpoint() (host string, port int, err error) {
	host, port, err = SplitAddress(c.Address)
	if err != nil {
		return "", 0, err
	}
	if c.Port > 0 || port == 0 {
		port = c.EffectivePort()
	}
	return strings.ToLower(host), port, nil
}

// EffectiveTimeout returns the per-call deadline for discovery
func (c *ServerConfig) EffectiveTimeout() time.Duration {
	if c.Timeout > 0 {
		return c.Timeout
	}
	return DefaultTimeout
}

// Identity derives the pooled connection key for this configuration.
// An address that cannot be parsed keys on its trimmed form; opening such
// a configuration fails anyway.
func (c *ServerConfig) Identity() ConnectionIdentity {
	host, port, err := c.Endpoint()
	if err != nil {
		host, port = strings.ToLower(strings.TrimSpace(c.Address)), c.EffectivePort()
	}
	return ConnectionIdentity{
		Engine:   c.Engine,
		Host:     host,
		Port:     port,
		Username: c.Username,
		Options:  EncodeOptions(c.Options),
	}
}

// ConnectionIdentity deduplicates pooled connections. Two configurations that
// reach the same host and port as the same user with the same driver options
// share one pool, regardless of their primary key or secret.
type ConnectionIdentity struct {
	Engine   Engine
	Host     string
	Port     int
	Username string
	Options  string // canonical EncodeOptions form
}

func (id ConnectionIdentity) String() string {
	s := fmt.Sprintf("%s://%s@%s:%d", id.Engine, id.Username, id.Host, id.Port)
	if id.Options != "" {
		s += "?" + id.Options
	}
	return s
}

// EncodeOptions renders options as sorted key=value pairs joined by '&'
func EncodeOptions(options map[string]string) string {
	if len(options) == 0 {
		return ""
	}
	normalized := MergeOptions(nil, options)
	keys := make([]string, 0, len(normalized))
	for k := range normalized {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	pairs := make([]string, 0, len(keys))
	for _, k := range keys {
		pairs = append(pairs, k+"="+normalized[k])
	}
	return strings.Join(pairs, "&")
}

// MergeOptions layers overrides on top of defaults into a new map.
// Keys are lower-cased.
func MergeOptions(defaults, overrides map[string]string) map[string]string {
	merged := make(map[string]string, len(defaults)+len(overrides))
	for k, v := range defaults {
		merged[strings.ToLower(k)] = v
	}
	for k, v := range overrides {
		merged[strings.ToLower(k)] = v
	}
	return merged
}

const (
	DefaultMaxOpenConns    = 5
	DefaultMaxIdleConns    = 2
	DefaultConnMaxLifetime = 5 * time.Minute
	DefaultConnMaxIdleTime = 5 * time.Minute
)

// PoolSettings sizes the database/sql pool behind one connection identity.
// Discovery issues one statement per call, so pools stay small.
type PoolSettings struct {
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
	ConnMaxIdleTime time.Duration
}

// DefaultPoolSettings returns the pool sizing used when none is configured
func DefaultPoolSettings() PoolSettings {
	return PoolSettings{
		MaxOpenConns:    DefaultMaxOpenConns,
		MaxIdleConns:    DefaultMaxIdleConns,
		ConnMaxLifetime: DefaultConnMaxLifetime,
		ConnMaxIdleTime: DefaultConnMaxIdleTime,
	}
}

// Apply configures db with these settings, falling back to defaults for zero values
func (s PoolSettings) Apply(db *sql.DB) {
	d := DefaultPoolSettings()
	if s.MaxOpenConns > 0 {
		d.MaxOpenConns = s.MaxOpenConns
	}
	if s.MaxIdleConns > 0 {
		d.MaxIdleConns = s.MaxIdleConns
	}
	if s.ConnMaxLifetime > 0 {
		d.ConnMaxLifetime = s.ConnMaxLifetime
	}
	if s.ConnMaxIdleTime > 0 {
		d.ConnMaxIdleTime = s.ConnMaxIdleTime
	}

	db.SetMaxOpenConns(d.MaxOpenConns)
	db.SetMaxIdleConns(d.MaxIdleConns)
	db.SetConnMaxLifetime(d.ConnMaxLifetime)
	db.SetConnMaxIdleTime(d.ConnMaxIdleTime)
}

// ConnectionParams is everything a driver needs to open a pool.
// Password is plaintext and must never be logged.
type ConnectionParams struct {
	Host     string
	Port     int
	Username string
	Password string
	Timeout  time.Duration
	Pool     PoolSettings
	Options  map[string]string
}

// Option returns a driver option or def when unset
func (p ConnectionParams) Option(key, def string) string {
	if v, ok := p.Options[key]; ok && v != "" {
		return v
	}
	return def
}

// Driver is the per-engine discovery strategy. Adding an engine means adding
// one Driver implementation and registering it with the pool manager.
type Driver interface {
	// Engine returns the engine this driver serves
	Engine() Engine

	// RequiresConnection is false for engines with no catalog of sibling
	// databases; the pool manager then skips opening a pool entirely.
	RequiresConnection() bool

	// Open creates a connection pool for the given parameters and verifies it
	Open(ctx context.Context, params ConnectionParams) (*sql.DB, error)

	// ListDatabases runs the engine's catalog listing statement and returns
	// the first column of every row in server order.
	ListDatabases(ctx context.Context, db *sql.DB) ([]string, error)
}

// ScanFirstColumn executes statement and collects the first column of each row
func ScanFirstColumn(ctx context.Context, db *sql.DB, statement string) ([]string, error) {
	rows, err := db.QueryContext(ctx, statement)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	columns, err := rows.Columns()
	if err != nil {
		return nil, err
	}
	if len(columns) == 0 {
		return nil, fmt.Errorf("statement returned no columns")
	}

	names := make([]string, 0)
	for rows.Next() {
		values := make([]interface{}, len(columns))
		valuePtrs := make([]interface{}, len(columns))
		for i := range values {
			valuePtrs[i] = &values[i]
		}
		if err := rows.Scan(valuePtrs...); err != nil {
			return nil, err
		}

		switch v := values[0].(type) {
		case []byte:
			names = append(names, string(v))
		case string:
			names = append(names, v)
		case nil:
			continue
		default:
			names = append(names, fmt.Sprint(v))
		}
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return names, nil
}
