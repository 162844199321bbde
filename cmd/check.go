package cmd

import (
	"encoding/json"
	"fmt"
	"io"
	"sort"
	"text/tabwriter"

	"github.com/apex/log"
	"github.com/convertkit/toolprov/pkg/provision"
	"github.com/spf13/cobra"
)

var (
	// Flags for check command
	checkJSON bool
)

// CheckCommand represents the check command
var CheckCommand = &cobra.Command{
	Use:   "check",
	Short: "Check installed tools for updates",
	Long: `Compares the version recorded for each installed tool with the catalog
version. Any difference counts as an update; tools that are not installed are
listed without one.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		log.Debug("Running check command...")

		installer, _, err := loadInstaller(false)
		if err != nil {
			return err
		}

		updates := installer.CheckForUpdates()
		if checkJSON {
			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			if err := enc.Encode(updates); err != nil {
				return fmt.Errorf("failed to encode updates: %w", err)
			}
			return nil
		}

		pending := printUpdates(cmd.OutOrStdout(), updates)
		if pending > 0 {
			log.Infof("%d update(s) available; run 'toolprov install --all' to apply", pending)
		} else {
			log.Info("✓ All installed tools are up to date")
		}
		return nil
	},
}

func init() {
	CheckCommand.Flags().BoolVar(&checkJSON, "json", false, "Print the result as JSON")
}

// printUpdates writes the update table and returns how many updates are
// available.
func printUpdates(out io.Writer, updates map[string]provision.UpdateInfo) int {
	tools := make([]string, 0, len(updates))
	for tool := range updates {
		tools = append(tools, tool)
	}
	sort.Strings(tools)

	pending := 0
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "TOOL\tINSTALLED\tLATEST\tSTATUS")
	fmt.Fprintln(w, "----\t---------\t------\t------")
	for _, tool := range tools {
		info := updates[tool]
		installed := info.Installed
		var status string
		switch {
		case installed == "":
			installed = "-"
			status = faintStyle.Render("- NOT INSTALLED")
		case info.UpdateAvailable:
			pending++
			status = warnStyle.Render("↑ UPDATE AVAILABLE")
		default:
			status = okStyle.Render("✓ UP TO DATE")
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\n", tool, installed, info.Latest, status)
	}
	w.Flush()
	return pending
}
