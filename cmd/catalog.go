package cmd

import (
	"fmt"

	"github.com/apex/log"
	"github.com/spf13/cobra"
)

// CatalogCommand represents the catalog command
var CatalogCommand = &cobra.Command{
	Use:   "catalog",
	Short: "Print the effective tool catalog",
	Long: `Prints the catalog toolprov installs from as YAML: the file given with
--catalog or in the settings file, otherwise the catalog built into the binary.
Use the output as a starting point for a custom catalog.`,
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
		log.Debugf("Catalog has %d tools", len(cat.Tools))

		data, err := cat.Marshal()
		if err != nil {
			return fmt.Errorf("failed to marshal catalog: %w", err)
		}
		_, err = cmd.OutOrStdout().Write(data)
		return err
	},
}
