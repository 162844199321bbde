package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
)

// PathCommand represents the path command
var PathCommand = &cobra.Command{
	Use:   "path TOOL",
	Short: "Print the entry point of an installed tool",
	Long: `Prints the absolute path of a tool's installed entry point, for callers
that run the tool directly. Suites installed by older releases under
App/*/program are found as well.`,
	Example: `  # Run the installed pandoc
  "$(toolprov path pandoc)" --version`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		tool := args[0]
		installer, cat, err := loadInstaller(false)
		if err != nil {
			return err
		}
		if _, err := cat.Lookup(tool); err != nil {
			return fmt.Errorf("failed to look up %s: %w", tool, err)
		}

		path, ok := installer.ToolPath(tool)
		if !ok {
			return fmt.Errorf("%s is not installed", tool)
		}
		fmt.Fprintln(cmd.OutOrStdout(), path)
		return nil
	},
}
