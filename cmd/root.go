package cmd

import (
	"github.com/apex/log"
	"github.com/apex/log/handlers/cli"
	"github.com/spf13/cobra"
)

const (
	// Default config file path, searched for in the working directory and
	// its parents
	DefaultConfigPath = ".config/toolprov.yml"
)

var (
	// Global flags
	configFile  string
	catalogFile string
	toolsRoot   string
	verbose     bool
	quiet       bool
)

// RootCmd represents the base command when called without any subcommands
var RootCmd = &cobra.Command{
	Use:   "toolprov",
	Short: "Portable tool provisioner",
	Long: `toolprov (portable tool provisioner) downloads platform-specific releases of
the tools listed in its catalog, extracts them, normalizes each tool's upstream
directory layout into a fixed install location and records the installed
version for later update checks.

Tools are installed under the tools root (default: ~/.toolprov/portable_tools,
override with --root or TOOLPROV_ROOT), one directory per tool.`,
	SilenceUsage: true,
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		log.SetHandler(cli.New(cmd.ErrOrStderr()))
		if verbose {
			log.SetLevel(log.DebugLevel)
			log.Debugf("Verbose logging enabled")
		} else if quiet {
			log.SetLevel(log.ErrorLevel)
		} else {
			log.SetLevel(log.InfoLevel)
		}
		log.Debugf("Config file: %s", configFile)
	},
}

// Execute adds all child commands to the root command and sets flags appropriately.
// This is called by main.main(). It only needs to happen once to the RootCmd.
func Execute() {
	err := RootCmd.Execute()
	if err != nil {
		log.WithError(err).Fatal("command execution failed")
	}
}

func init() {
	// Disable automatic command sorting to maintain semantic order
	cobra.EnableCommandSorting = false

	// Add global flags
	RootCmd.PersistentFlags().StringVarP(&configFile, "config", "c", "", "Path to settings file (default: "+DefaultConfigPath+" in this or a parent directory)")
	RootCmd.PersistentFlags().StringVar(&catalogFile, "catalog", "", "Path to tool catalog, or - for stdin (default: embedded catalog)")
	RootCmd.PersistentFlags().StringVar(&toolsRoot, "root", "", "Tools root directory (overrides settings and TOOLPROV_ROOT)")
	RootCmd.PersistentFlags().BoolVar(&verbose, "verbose", false, "Increase log verbosity")
	RootCmd.PersistentFlags().BoolVar(&quiet, "quiet", false, "Suppress progress output")

	// Add command groups
	RootCmd.AddGroup(&cobra.Group{
		ID:    "provision",
		Title: "Provisioning Commands:",
	})
	RootCmd.AddGroup(&cobra.Group{
		ID:    "query",
		Title: "Query Commands:",
	})
	RootCmd.AddGroup(&cobra.Group{
		ID:    "utility",
		Title: "Utility Commands:",
	})

	// Set group for built-in commands
	RootCmd.SetHelpCommandGroupID("utility")
	RootCmd.SetCompletionCommandGroupID("utility")

	// Add subcommands with groups
	InstallCommand.GroupID = "provision"
	CheckCommand.GroupID = "provision"
	VersionCommand.GroupID = "query"
	PathCommand.GroupID = "query"
	UpstreamCommand.GroupID = "query"
	CatalogCommand.GroupID = "utility"
	PlatformCommand.GroupID = "utility"
	HelpfulCommand.GroupID = "utility"

	RootCmd.AddCommand(InstallCommand)  // Install tools
	RootCmd.AddCommand(CheckCommand)    // Compare installed and catalog versions
	RootCmd.AddCommand(VersionCommand)  // Installed version of one tool
	RootCmd.AddCommand(PathCommand)     // Entry point of one tool
	RootCmd.AddCommand(UpstreamCommand) // Latest upstream releases
	RootCmd.AddCommand(CatalogCommand)  // Effective catalog
	RootCmd.AddCommand(PlatformCommand) // Host platform report
	RootCmd.AddCommand(HelpfulCommand)  // Utility: Comprehensive help for LLMs
}
