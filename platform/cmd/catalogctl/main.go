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


// Package main implements catalogctl, the administration CLI for catalogsync.
package main

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"catalogsync/platform/connectors/config"
	"catalogsync/platform/daemon"
)

var version = "1.0.0"

func main() {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		fmt.Fprintf(os.Stderr, "warning: failed to load .env file: %v\n", err)
	}

	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:           "catalogctl",
		Short:         "catalogsync CLI tool",
		Long:          `catalogctl manages server configurations and runs discovery and reconciliation on demand.`,
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	rootCmd.AddCommand(serverCmd())
	rootCmd.AddCommand(discoverCmd())
	rootCmd.AddCommand(reconcileCmd())
	rootCmd.AddCommand(databasesCmd())
	rootCmd.AddCommand(restoreCmd())

	return rootCmd
}

// withComponents builds the same component graph as the daemon from the
// environment and releases it once fn returns.
func withComponents(ctx context.Context, fn func(*daemon.Components) error) error {
	cfg, err := config.LoadServiceConfig()
	if err != nil {
		return err
	}
	c, err := daemon.Build(ctx, cfg)
	if err != nil {
		return err
	}
	defer func() { _ = c.Close(context.Background()) }()
	return fn(c)
}
