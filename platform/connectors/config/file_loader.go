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

package config

import (
	"fmt"
	"os"
	"regexp"
	"strings"
	"sync"

	"gopkg.in/yaml.v3"
)

// YAMLConfigFileLoader overlays ServiceConfig values from a YAML file.
// Keys absent from the file leave the existing value untouched.
//
//	database_url: ${DATABASE_URL}
//	cache_ttl: 5m
//	pool_close_after_discovery: false
//	create_concurrency: ${CREATE_CONCURRENCY:-8}
type YAMLConfigFileLoader struct {
	filePath string
	content  []byte
	mu       sync.RWMutex
}

// NewYAMLConfigFileLoader reads and parses filePath once so syntax errors
// surface at startup.
func NewYAMLConfigFileLoader(filePath string) (*YAMLConfigFileLoader, error) {
	loader := &YAMLConfigFileLoader{filePath: filePath}
	if err := loader.reload(); err != nil {
		return nil, err
	}
	return loader, nil
}

func (l *YAMLConfigFileLoader) reload() error {
	data, err := os.ReadFile(l.filePath)
	if err != nil {
		return fmt.Errorf("failed to read config file %s: %w", l.filePath, err)
	}

	expanded := []byte(expandEnvVars(string(data)))

	var parsed ServiceConfig
	if err := yaml.Unmarshal(expanded, &parsed); err != nil {
		return fmt.Errorf("failed to parse config file %s: %w", l.filePath, err)
	}

	l.mu.Lock()
	l.content = expanded
	l.mu.Unlock()
	return nil
}

// Apply writes the file's values over cfg
func (l *YAMLConfigFileLoader) Apply(cfg *ServiceConfig) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	// content already parsed cleanly in reload
	_ = yaml.Unmarshal(l.content, cfg)
}

// Reload re-reads the file from disk
func (l *YAMLConfigFileLoader) Reload() error {
	return l.reload()
}

// FilePath returns the path the loader reads from
func (l *YAMLConfigFileLoader) FilePath() string {
	return l.filePath
}

var envVarRegex = regexp.MustCompile(`\$\{[^}]+\}|\$[A-Za-z_][A-Za-z0-9_]*`)

// expandEnvVars expands environment variable references in the string.
// Supports ${VAR}, $VAR and ${VAR:-default}.
func expandEnvVars(content string) string {
	return envVarRegex.ReplaceAllStringFunc(content, func(match string) string {
		var varName string
		if strings.HasPrefix(match, "${") {
			varName = match[2 : len(match)-1]
		} else {
			varName = match[1:]
		}

		defaultVal := ""
		if idx := strings.Index(varName, ":-"); idx != -1 {
			defaultVal = varName[idx+2:]
			varName = varName[:idx]
		}

		if value := os.Getenv(varName); value != "" {
			return value
		}
		return defaultVal
	})
}
