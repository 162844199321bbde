package cmd

import (
	"fmt"
	"io"
	"sort"
	"text/tabwriter"

	"github.com/apex/log"
	"github.com/convertkit/toolprov/pkg/provision"
	"github.com/spf13/cobra"
)

var (
	// Flags for install command
	installAll   bool
	installForce bool
)

// InstallCommand represents the install command
var InstallCommand = &cobra.Command{
	Use:   "install [TOOL...]",
	Short: "Install tools from the catalog",
	Long: `Install one or more tools from the catalog into the tools root.

Each tool is downloaded for the current platform (with retries), extracted into
a scratch directory, normalized into <root>/<tool> and recorded in
<root>/<tool>/version.json. A tool whose recorded version already matches the
catalog and whose entry point exists is skipped unless --force is given.`,
	Example: `  # Install pandoc
  toolprov install pandoc

  # Install every catalog tool
  toolprov install --all

  # Reinstall ffmpeg even if up to date
  toolprov install ffmpeg --force

  # Install into a custom root with a custom catalog
  toolprov install --root ./tools --catalog ./catalog.yml pandoc`,
	Args: func(cmd *cobra.Command, args []string) error {
		if installAll && len(args) > 0 {
			return fmt.Errorf("--all cannot be combined with tool names")
		}
		if !installAll && len(args) == 0 {
			return fmt.Errorf("specify at least one tool or --all")
		}
		return nil
	},
	RunE: runInstall,
}

func init() {
	InstallCommand.Flags().BoolVarP(&installAll, "all", "a", false, "Install every tool in the catalog")
	InstallCommand.Flags().BoolVarP(&installForce, "force", "f", false, "Re-download and reinstall even if up to date")
}

func runInstall(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()

	installer, _, err := loadInstaller(installForce)
	if err != nil {
		return err
	}

	progress := newProgressPrinter(cmd.ErrOrStderr(), quiet)

	var results map[string]provision.Result
	if installAll {
		log.Info("Installing all catalog tools")
		results = installer.InstallAll(ctx, progress.handle)
	} else {
		results = make(map[string]provision.Result, len(args))
		for _, tool := range args {
			results[tool] = installer.Install(ctx, tool, progress.handle)
		}
	}

	failed := printInstallResults(cmd.OutOrStdout(), results)
	if failed > 0 {
		return fmt.Errorf("%d of %d tools failed to install", failed, len(results))
	}
	log.Info("✓ Install completed successfully")
	return nil
}

// printInstallResults writes a summary table and returns the failure count.
func printInstallResults(out io.Writer, results map[string]provision.Result) int {
	tools := make([]string, 0, len(results))
	for tool := range results {
		tools = append(tools, tool)
	}
	sort.Strings(tools)

	failed := 0
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "TOOL\tSTATUS\tDETAIL")
	fmt.Fprintln(w, "----\t------\t------")
	for _, tool := range tools {
		res := results[tool]
		if res.Success {
			fmt.Fprintf(w, "%s\t✓ INSTALLED\t%s\n", tool, res.Path)
			continue
		}
		failed++
		detail := "unknown error"
		if res.Err != nil {
			detail = res.Err.Error()
		}
		fmt.Fprintf(w, "%s\t✗ FAILED\t%s\n", tool, detail)
	}
	w.Flush()

	for _, tool := range tools {
		for _, warning := range results[tool].Warnings {
			log.WithField("tool", tool).Warnf("skipped %s", warning)
		}
	}
	return failed
}

// progressPrinter renders progress events as one line per stage step.
type progressPrinter struct {
	out   io.Writer
	quiet bool
	last  map[string]int
}

func newProgressPrinter(out io.Writer, quiet bool) *progressPrinter {
	return &progressPrinter{out: out, quiet: quiet, last: map[string]int{}}
}

// handle prints the first event of each stage and every further 25%.
func (p *progressPrinter) handle(ev provision.ProgressEvent) {
	log.WithFields(log.Fields{
		"tool":    ev.Tool,
		"stage":   ev.Stage,
		"percent": ev.Percent,
	}).Debug("progress")
	if p.quiet {
		return
	}

	key := ev.Tool + "/" + string(ev.Stage)
	bucket := ev.Percent / 25
	if last, ok := p.last[key]; ok && bucket <= last {
		return
	}
	p.last[key] = bucket

	switch ev.Stage {
	case provision.StageStart:
		fmt.Fprintf(p.out, "==> %s\n", ev.Tool)
	case provision.StageComplete:
		status := "done"
		if ev.Percent < 100 {
			status = "failed"
		}
		fmt.Fprintf(p.out, "<== %s %s\n", ev.Tool, status)
	default:
		fmt.Fprintf(p.out, "    %s %-8s %3d%%\n", ev.Tool, ev.Stage, ev.Percent)
	}
}
