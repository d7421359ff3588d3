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
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	"catalogsync/platform/daemon"
)

func discoverCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "discover <server-config-id>",
		Short: "List the databases hosted by a server without touching the catalog",
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
				names, err := c.Pools.DiscoverDatabases(cmd.Context(), cfg)
				if err != nil {
					return err
				}
				for _, name := range names {
					fmt.Fprintln(cmd.OutOrStdout(), name)
				}
				return nil
			})
		},
	}
}

func reconcileCmd() *cobra.Command {
	var asJSON bool

	cmd := &cobra.Command{
		Use:   "reconcile <server-config-id>",
		Short: "Reconcile the catalog of one server now",
		Long: `Discover the databases of a server and bring its catalog in line:
missing databases are created and vanished ones are soft-deleted.

Examples:
  catalogctl reconcile 7
  catalogctl reconcile 7 --json`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseID(args[0])
			if err != nil {
				return err
			}
			return withComponents(cmd.Context(), func(c *daemon.Components) error {
				result, err := c.Service.Reconcile(cmd.Context(), id)
				if err != nil {
					return err
				}
				out := cmd.OutOrStdout()
				if asJSON {
					enc := json.NewEncoder(out)
					enc.SetIndent("", "  ")
					return enc.Encode(result)
				}
				fmt.Fprintf(out, "Run %s\n", result.RunID)
				fmt.Fprintf(out, "  created:      %d\n", len(result.Databases))
				for _, rec := range result.Databases {
					fmt.Fprintf(out, "    + %s (id %d)\n", rec.DatabaseName, rec.ID)
				}
				fmt.Fprintf(out, "  soft-deleted: %d\n", len(result.SoftDeleted))
				fmt.Fprintf(out, "  unchanged:    %d\n", result.Unchanged)
				return nil
			})
		},
	}

	cmd.Flags().BoolVar(&asJSON, "json", false, "Print the result as JSON")
	return cmd
}

func databasesCmd() *cobra.Command {
	var all bool

	cmd := &cobra.Command{
		Use:   "databases <server-name>",
		Short: "List catalog records for a server",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withComponents(cmd.Context(), func(c *daemon.Components) error {
				records, err := c.Store.FindAllByServerName(cmd.Context(), args[0], all)
				if err != nil {
					return err
				}
				out := cmd.OutOrStdout()
				for _, rec := range records {
					state := "active"
					if !rec.Active() {
						state = "deleted"
					}
					fmt.Fprintf(out, "%d\t%s\t%s\n", rec.ID, rec.DatabaseName, state)
				}
				return nil
			})
		},
	}

	cmd.Flags().BoolVar(&all, "all", false, "Include soft-deleted records")
	return cmd
}

func restoreCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "restore <record-id>",
		Short: "Restore a soft-deleted catalog record",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseID(args[0])
			if err != nil {
				return err
			}
			return withComponents(cmd.Context(), func(c *daemon.Components) error {
				rec, err := c.Store.Restore(cmd.Context(), id)
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "✅ Restored %s/%s (id %d)\n", rec.ServerName, rec.DatabaseName, rec.ID)
				return nil
			})
		},
	}
}
