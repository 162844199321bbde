package cmd

import (
	"encoding/json"
	"fmt"
	"io"
	"text/tabwriter"

	"github.com/apex/log"
	"github.com/convertkit/toolprov/pkg/resolve"
	"github.com/spf13/cobra"
)

var (
	// Flags for upstream command
	upstreamJSON bool

	// newResolver is replaced in tests
	newResolver = resolve.New
)

// UpstreamCommand represents the upstream command
var UpstreamCommand = &cobra.Command{
	Use:   "upstream",
	Short: "Show the latest upstream release of catalog tools",
	Long: `Looks up the latest GitHub release of every catalog tool that names a
repository and compares it with the catalog version. Set GITHUB_TOKEN to avoid
API rate limits.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		settings, err := loadSettings()
		if err != nil {
			return err
		}
		cat, err := loadCatalog(settings.Catalog)
		if err != nil {
			return err
		}

		log.Info("checking GitHub for latest releases")
		results := newResolver().CheckAll(cmd.Context(), cat)

		if upstreamJSON {
			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			if err := enc.Encode(results); err != nil {
				return fmt.Errorf("failed to encode results: %w", err)
			}
			return nil
		}
		printUpstream(cmd.OutOrStdout(), results)
		return nil
	},
}

func init() {
	UpstreamCommand.Flags().BoolVar(&upstreamJSON, "json", false, "Print the result as JSON")
}

func printUpstream(out io.Writer, results []resolve.Upstream) {
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "TOOL\tREPO\tCATALOG\tLATEST\tSTATUS")
	fmt.Fprintln(w, "----\t----\t-------\t------\t------")
	for _, u := range results {
		latest := u.Latest
		var status string
		switch {
		case u.Error != "":
			latest = "-"
			status = faintStyle.Render("✗ LOOKUP FAILED")
		case u.Newer:
			status = warnStyle.Render("↑ NEWER RELEASE")
		default:
			status = okStyle.Render("✓ CURRENT")
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\n", u.Tool, u.Repo, u.Catalog, latest, status)
	}
	w.Flush()
}
