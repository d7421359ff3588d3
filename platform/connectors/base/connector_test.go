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
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
)

func TestParseEngine(t *testing.T) {
	tests := []struct {
		in      string
		want    Engine
		wantErr bool
	}{
		{"postgres", EnginePostgres, false},
		{" MySQL ", EngineMySQL, false},
		{"mariadb", EngineMariaDB, false},
		{"sqlite", EngineSQLite, false},
		{"MSSQL", EngineMSSQL, false},
		{"oracle", "", true},
		{"", "", true},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := ParseEngine(tt.in)
			if (err != nil) != tt.wantErr {
				t.Fatalf("ParseEngine(%q) error = %v, wantErr %v", tt.in, err, tt.wantErr)
			}
			if got != tt.want {
				t.Errorf("ParseEngine(%q) = %q, want %q", tt.in, got, tt.want)
			}
		})
	}
}

func TestEngine_DefaultPort(t *testing.T) {
	want := map[Engine]int{
		EnginePostgres: 5432,
		EngineMySQL:    3306,
		EngineMariaDB:  3306,
		EngineSQLite:   0,
		EngineMSSQL:    1433,
	}
	for _, e := range Engines() {
		if got := e.DefaultPort(); got != want[e] {
			t.Errorf("%s.DefaultPort() = %d, want %d", e, got, want[e])
		}
	}
}

func validConfig() *ServerConfig {
	return &ServerConfig{
		ID:       7,
		Name:     "srv1",
		Address:  "10.0.0.5",
		Engine:   EnginePostgres,
		Username: "svc",
		Enabled:  true,
	}
}

func TestServerConfig_ValidateForDiscovery(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(c *ServerConfig)
		wantErr bool
	}{
		{"valid", func(c *ServerConfig) {}, false},
		{"disabled", func(c *ServerConfig) { c.Enabled = false }, true},
		{"missing address", func(c *ServerConfig) { c.Address = "  " }, true},
		{"missing engine", func(c *ServerConfig) { c.Engine = "" }, true},
		{"missing username", func(c *ServerConfig) { c.Username = "" }, true},
		{"unknown engine", func(c *ServerConfig) { c.Engine = "oracle" }, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := validConfig()
			tt.mutate(cfg)
			err := cfg.ValidateForDiscovery()
			if (err != nil) != tt.wantErr {
				t.Fatalf("ValidateForDiscovery() error = %v, wantErr %v", err, tt.wantErr)
			}
			if err != nil && !IsConfigurationError(err) {
				t.Errorf("expected configuration error, got %v", err)
			}
		})
	}

	var nilCfg *ServerConfig
	if !IsConfigurationError(nilCfg.ValidateForDiscovery()) {
		t.Error("nil config should be a configuration error")
	}
}

func TestServerConfig_Defaults(t *testing.T) {
	cfg := validConfig()
	if cfg.EffectivePort() != 5432 {
		t.Errorf("EffectivePort() = %d, want 5432", cfg.EffectivePort())
	}
	cfg.Port = 6432
	if cfg.EffectivePort() != 6432 {
		t.Errorf("EffectivePort() = %d, want 6432", cfg.EffectivePort())
	}

	if cfg.EffectiveTimeout() != DefaultTimeout {
		t.Errorf("EffectiveTimeout() = %v, want %v", cfg.EffectiveTimeout(), DefaultTimeout)
	}
	cfg.Timeout = 3 * time.Second
	if cfg.EffectiveTimeout() != 3*time.Second {
		t.Errorf("EffectiveTimeout() = %v, want 3s", cfg.EffectiveTimeout())
	}
}

func TestServerConfig_IdentityIgnoresIDAndSecret(t *testing.T) {
	a := validConfig()
	a.Secret = []byte("one")
	b := validConfig()
	b.ID = 99
	b.Name = "other"
	b.Address = "10.0.0.5 "
	b.Secret = []byte("two")

	if a.Identity() != b.Identity() {
		t.Errorf("expected shared identity, got %v and %v", a.Identity(), b.Identity())
	}

	c := validConfig()
	c.Username = "admin"
	if a.Identity() == c.Identity() {
		t.Error("different usernames must not share an identity")
	}

	if got := a.Identity().String(); got != "postgres://svc@10.0.0.5:5432" {
		t.Errorf("Identity().String() = %q", got)
	}
}

func TestServerConfig_IdentityIncludesPort(t *testing.T) {
	a := validConfig()
	a.Port = 5432
	b := validConfig()
	b.Port = 5433
	if a.Identity() == b.Identity() {
		t.Error("different ports must not share an identity")
	}

	inline := validConfig()
	inline.Address = "10.0.0.5:5433"
	if inline.Identity() != b.Identity() {
		t.Errorf("port in address should match explicit port: %v vs %v", inline.Identity(), b.Identity())
	}

	defaulted := validConfig()
	if defaulted.Identity() != a.Identity() {
		t.Errorf("engine default port should match explicit 5432: %v vs %v", defaulted.Identity(), a.Identity())
	}
}

func TestServerConfig_IdentityIncludesOptions(t *testing.T) {
	a := validConfig()
	b := validConfig()
	b.Options = map[string]string{"sslmode": "require"}
	if a.Identity() == b.Identity() {
		t.Error("different driver options must not share an identity")
	}
	if got := b.Identity().String(); got != "postgres://svc@10.0.0.5:5432?sslmode=require" {
		t.Errorf("Identity().String() = %q", got)
	}
}

func TestServerConfig_Endpoint(t *testing.T) {
	tests := []struct {
		address  string
		port     int
		wantHost string
		wantPort int
	}{
		{"db.internal", 0, "db.internal", 5432},
		{"DB.Internal:6543", 0, "db.internal", 6543},
		{"db.internal:6543", 7000, "db.internal", 7000},
		{"[::1]:6543", 0, "::1", 6543},
	}
	for _, tt := range tests {
		cfg := validConfig()
		cfg.Address = tt.address
		cfg.Port = tt.port
		host, port, err := cfg.Endpoint()
		if err != nil {
			t.Fatalf("Endpoint(%q) error: %v", tt.address, err)
		}
		if host != tt.wantHost || port != tt.wantPort {
			t.Errorf("Endpoint(%q, %d) = %s:%d, want %s:%d", tt.address, tt.port, host, port, tt.wantHost, tt.wantPort)
		}
	}
}

func TestMergeOptions(t *testing.T) {
	merged := MergeOptions(map[string]string{"SSLMode": "require", "application_name": "a"},
		map[string]string{"sslmode": "verify-full"})
	if merged["sslmode"] != "verify-full" || merged["application_name"] != "a" || len(merged) != 2 {
		t.Errorf("MergeOptions() = %v", merged)
	}
	if got := EncodeOptions(map[string]string{"b": "2", "A": "1"}); got != "a=1&b=2" {
		t.Errorf("EncodeOptions() = %q", got)
	}
}

func TestError_Kinds(t *testing.T) {
	cause := errors.New("dial tcp: connection refused")
	err := NewConnectivityError("DiscoverDatabases", "query failed", cause)

	if !IsConnectivityError(err) {
		t.Error("expected connectivity error")
	}
	if !errors.Is(err, cause) {
		t.Error("expected errors.Is to find the wrapped cause")
	}

	wrapped := fmt.Errorf("reconcile: %w", err)
	if KindOf(wrapped) != KindConnectivity {
		t.Errorf("KindOf(wrapped) = %q", KindOf(wrapped))
	}

	if got := err.Error(); got != "connectivity_error: DiscoverDatabases: query failed (cause: dial tcp: connection refused)" {
		t.Errorf("Error() = %q", got)
	}
	if got := NewNotFoundError("GetServerConfig", "no server 3").Error(); got != "not_found: GetServerConfig: no server 3" {
		t.Errorf("Error() = %q", got)
	}

	if KindOf(errors.New("plain")) != "" {
		t.Error("plain errors have no kind")
	}
}

func TestAsInternal(t *testing.T) {
	if AsInternal("op", nil) != nil {
		t.Error("nil should stay nil")
	}

	nf := NewNotFoundError("op", "missing")
	if AsInternal("op", nf) != error(nf) {
		t.Error("typed errors should pass through")
	}

	cause := errors.New("pq: relation does not exist")
	if !errors.Is(AsInternal("op", cause), cause) {
		t.Error("cause should be preserved")
	}
	if KindOf(AsInternal("op", errors.New("boom"))) != KindInternal {
		t.Error("untyped errors should become internal")
	}
}

func TestScanFirstColumn(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("failed to create mock: %v", err)
	}
	defer db.Close()

	rows := sqlmock.NewRows([]string{"name", "state"}).
		AddRow("A", "ONLINE").
		AddRow([]byte("B"), "ONLINE").
		AddRow(nil, "ONLINE")
	mock.ExpectQuery("SELECT name, state FROM dbs").WillReturnRows(rows)

	names, err := ScanFirstColumn(context.Background(), db, "SELECT name, state FROM dbs")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(names) != 2 || names[0] != "A" || names[1] != "B" {
		t.Errorf("ScanFirstColumn() = %v, want [A B]", names)
	}

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("unfulfilled expectations: %v", err)
	}
}

func TestScanFirstColumn_QueryError(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("failed to create mock: %v", err)
	}
	defer db.Close()

	mock.ExpectQuery("SHOW DATABASES").WillReturnError(errors.New("access denied"))

	if _, err := ScanFirstColumn(context.Background(), db, "SHOW DATABASES"); err == nil {
		t.Fatal("expected error")
	}
}
