package cmd

import (
	"fmt"
	"text/tabwriter"

	"github.com/convertkit/toolprov/pkg/platform"
	"github.com/spf13/cobra"
)

// PlatformCommand represents the platform command
var PlatformCommand = &cobra.Command{
	Use:   "platform",
	Short: "Show the detected host platform",
	Long: `Shows the host operating system and architecture, the catalog platform key
downloads are selected with, and which catalog tools have a download for it.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		info, err := platform.Detect(cmd.Context())
		if err != nil {
			return fmt.Errorf("failed to detect platform: %w", err)
		}
		settings, err := loadSettings()
		if err != nil {
			return err
		}
		cat, err := loadCatalog(settings.Catalog)
		if err != nil {
			return err
		}

		out := cmd.OutOrStdout()
		fmt.Fprintln(out, headerStyle.Render("Platform"))
		w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
		fmt.Fprintf(w, "Host:\t%s\n", info)
		fmt.Fprintf(w, "Catalog key:\t%s\n", info.Key)
		if info.Hostname != "" {
			fmt.Fprintf(w, "Hostname:\t%s\n", info.Hostname)
		}
		if info.Family != "" {
			fmt.Fprintf(w, "Family:\t%s\n", info.Family)
		}
		support := "full"
		if !info.Supported() {
			support = "partial (disk images are not extracted)"
		}
		fmt.Fprintf(w, "Support:\t%s\n", support)
		fmt.Fprintf(w, "Tools root:\t%s\n", settings.ToolsRoot)
		w.Flush()

		fmt.Fprintln(out)
		fmt.Fprintln(out, headerStyle.Render("Tools"))
		w = tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
		for _, name := range cat.Names() {
			desc, _ := cat.Lookup(name)
			status := okStyle.Render("✓ AVAILABLE")
			if !desc.Supports(info.Key) {
				status = faintStyle.Render("✗ NO DOWNLOAD")
			}
			fmt.Fprintf(w, "%s\t%s\t%s\n", name, desc.Layout, status)
		}
		w.Flush()
		return nil
	},
}
