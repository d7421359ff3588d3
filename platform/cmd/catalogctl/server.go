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


package main

import (
	"fmt"
	"strconv"
	"time"

	"github.com/spf13/cobra"

	"catalogsync/platform/connectors/base"
	"catalogsync/platform/daemon"
)

func serverCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "server",
		Short: "Manage server configurations",
	}

	cmd.AddCommand(serverAddCmd())
	cmd.AddCommand(serverShowCmd())
	cmd.AddCommand(serverToggleCmd("enable", "Enable a server configuration", true))
	cmd.AddCommand(serverToggleCmd("disable", "Disable a server configuration; reconciliation rejects it", false))

	return cmd
}

func serverAddCmd() *cobra.Command {
	var (
		name, engine, address, username, secret string
		port                                    int
		timeout                                 time.Duration
		disabled                                bool
		options                                 map[string]string
	)

	cmd := &cobra.Command{
		Use:   "add",
		Short: "Register a server configuration",
		Long: `Register a remote database server whose databases should be tracked.

The secret is stored in the form expected by SECRETS_BACKEND: plaintext for
raw, base64 for base64, or an aws-sm:<secret-id> reference for aws.

Examples:
  catalogctl server add --name srv1 --engine postgres --address 10.0.0.5 --username svc --secret hunter2
  catalogctl server add --name reporting --engine mssql --address sql.internal:1434 --username sa --secret aws-sm:prod/reporting
  catalogctl server add --name billing --engine postgres --address db.internal:5433 --username svc --secret hunter2 --option sslmode=verify-full`,
		RunE: func(cmd *cobra.Command, args []string) error {
			if name == "" {
				return fmt.Errorf("--name is required")
			}
			eng, err := base.ParseEngine(engine)
			if err != nil {
				return err
			}

			return withComponents(cmd.Context(), func(c *daemon.Components) error {
				saved, err := c.Store.SaveServerConfig(cmd.Context(), &base.ServerConfig{
					Name:     name,
					Engine:   eng,
					Address:  address,
					Port:     port,
					Username: username,
					Secret:   []byte(secret),
					Enabled:  !disabled,
					Timeout:  timeout,
					Options:  options,
				})
				if err != nil {
					return fmt.Errorf("failed to save server configuration: %w", err)
				}
				fmt.Fprintf(cmd.OutOrStdout(), "✅ Server configuration %d registered (%s)\n", saved.ID, saved.Identity())
				return nil
			})
		},
	}

	cmd.Flags().StringVarP(&name, "name", "n", "", "Catalog server name (required)")
	cmd.Flags().StringVarP(&engine, "engine", "e", "", "Engine: postgres, mysql, mariadb, sqlite or mssql")
	cmd.Flags().StringVarP(&address, "address", "a", "", "Host, optionally with :port")
	cmd.Flags().IntVarP(&port, "port", "p", 0, "Port (defaults to the engine default)")
	cmd.Flags().StringVarP(&username, "username", "u", "", "Login user")
	cmd.Flags().StringVar(&secret, "secret", "", "Credential in storage form")
	cmd.Flags().DurationVar(&timeout, "timeout", 0, "Discovery timeout (default 30s)")
	cmd.Flags().BoolVar(&disabled, "disabled", false, "Register the configuration disabled")
	cmd.Flags().StringToStringVarP(&options, "option", "o", nil, "Driver option as key=value, e.g. sslmode=require (repeatable)")

	return cmd
}

func serverShowCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show <id>",
		Short: "Show a server configuration",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseID(args[0])
			if err != nil {
				return err
			}
			return withComponents(cmd.Context(), func(c *daemon.Components) error {
				cfg, err := c.Store.GetServerConfig(cmd.Context(), id)
				if err != nil {
					return err
				}
				out := cmd.OutOrStdout()
				fmt.Fprintf(out, "ID:       %d\n", cfg.ID)
				fmt.Fprintf(out, "Name:     %s\n", cfg.Name)
				fmt.Fprintf(out, "Engine:   %s\n", cfg.Engine)
				fmt.Fprintf(out, "Address:  %s\n", cfg.Address)
				fmt.Fprintf(out, "Port:     %d\n", cfg.EffectivePort())
				fmt.Fprintf(out, "Username: %s\n", cfg.Username)
				fmt.Fprintf(out, "Enabled:  %t\n", cfg.Enabled)
				if len(cfg.Options) > 0 {
					fmt.Fprintf(out, "Options:  %s\n", base.EncodeOptions(cfg.Options))
				}
				if cfg.LastRunAt != nil {
					fmt.Fprintf(out, "Last run: %s\n", cfg.LastRunAt.Format(time.RFC3339))
				}
				return nil
			})
		},
	}
}

func serverToggleCmd(verb, short string, enabled bool) *cobra.Command {
	return &cobra.Command{
		Use:   verb + " <id>",
		Short: short,
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseID(args[0])
			if err != nil {
				return err
			}
			return withComponents(cmd.Context(), func(c *daemon.Components) error {
				cfg, err := c.Store.GetServerConfig(cmd.Context(), id)
				if err != nil {
					return err
				}
				cfg.Enabled = enabled
				if _, err := c.Store.SaveServerConfig(cmd.Context(), cfg); err != nil {
					return fmt.Errorf("failed to save server configuration: %w", err)
				}
				fmt.Fprintf(cmd.OutOrStdout(), "✅ Server configuration %d %sd\n", id, verb)
				return nil
			})
		},
	}
}

func parseID(s string) (int64, error) {
	id, err := strconv.ParseInt(s, 10, 64)
	if err != nil || id <= 0 {
		return 0, fmt.Errorf("invalid id %q", s)
	}
	return id, nil
}
