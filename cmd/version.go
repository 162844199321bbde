package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
)

// VersionCommand represents the version command
var VersionCommand = &cobra.Command{
	Use:   "version TOOL",
	Short: "Print the installed version of a tool",
	Long: `Prints the version recorded in <root>/<tool>/version.json. Exits with an
error when the tool is not installed or its record is unreadable.`,
	Example: `  toolprov version pandoc`,
	Args:    cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		tool := args[0]
		installer, cat, err := loadInstaller(false)
		if err != nil {
			return err
		}
		if _, err := cat.Lookup(tool); err != nil {
			return fmt.Errorf("failed to look up %s: %w", tool, err)
		}

		version, ok := installer.InstalledVersion(tool)
		if !ok {
			return fmt.Errorf("%s is not installed", tool)
		}
		fmt.Fprintln(cmd.OutOrStdout(), version)
		return nil
	},
}
