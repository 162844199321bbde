package cmd

import (
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/charmbracelet/colorprofile"
	"github.com/charmbracelet/lipgloss"
	"github.com/spf13/cobra"
)

// Style definitions
var (
	// Color profile detection
	profile = colorprofile.Detect(os.Stdout, os.Environ())

	colorful = profile == colorprofile.TrueColor || profile == colorprofile.ANSI256

	// Styles with adaptive colors based on terminal capabilities
	headerStyle = func() lipgloss.Style {
		if colorful {
			return lipgloss.NewStyle().
				Bold(true).
				Foreground(lipgloss.Color("212"))
		}
		return lipgloss.NewStyle().Bold(true)
	}()

	separatorStyle = func() lipgloss.Style {
		if colorful {
			return lipgloss.NewStyle().
				Foreground(lipgloss.Color("241"))
		}
		return lipgloss.NewStyle().Faint(true)
	}()

	okStyle = func() lipgloss.Style {
		if colorful {
			return lipgloss.NewStyle().Foreground(lipgloss.Color("42"))
		}
		return lipgloss.NewStyle()
	}()

	warnStyle = func() lipgloss.Style {
		if colorful {
			return lipgloss.NewStyle().
				Bold(true).
				Foreground(lipgloss.Color("214"))
		}
		return lipgloss.NewStyle().Bold(true)
	}()

	faintStyle = func() lipgloss.Style {
		if colorful {
			return lipgloss.NewStyle().Foreground(lipgloss.Color("241"))
		}
		return lipgloss.NewStyle()
	}()
)

// HelpfulCommand represents the helpful command
var HelpfulCommand = &cobra.Command{
	Use:    "helpful",
	Short:  "Display comprehensive help for all commands",
	Long:   `Displays help information for all toolprov commands in a single, styled output.`,
	Hidden: true, // Hide from normal help output
	RunE: func(cmd *cobra.Command, args []string) error {
		processCommand(cmd.Root(), "", cmd.OutOrStdout())
		return nil
	},
}

// processCommand recursively processes a command and its subcommands
func processCommand(cmd *cobra.Command, prefix string, w io.Writer) {
	if shouldSkipCommand(cmd) {
		return
	}

	cmdPath := buildCommandPath(cmd, prefix)

	// Skip header for root command
	if cmd.HasParent() {
		fmt.Fprintln(w)
		fmt.Fprintln(w, headerStyle.Render(fmt.Sprintf("## %s", cmdPath)))
		fmt.Fprintln(w)
	}

	// Use the command's built-in Help() function
	cmd.SetOut(w)
	_ = cmd.Help()

	fmt.Fprintln(w)
	fmt.Fprintln(w, separatorStyle.Render(strings.Repeat("─", 80)))
	fmt.Fprintln(w)

	for _, subCmd := range cmd.Commands() {
		if !subCmd.Hidden && subCmd.Name() != "help" {
			processCommand(subCmd, cmdPath, w)
		}
	}
}

// shouldSkipCommand determines if a command should be skipped
func shouldSkipCommand(cmd *cobra.Command) bool {
	skipCommands := []string{"completion", "help", "helpful"}
	for _, skip := range skipCommands {
		if cmd.Name() == skip {
			return true
		}
	}
	return false
}

// buildCommandPath builds the full command path
func buildCommandPath(cmd *cobra.Command, prefix string) string {
	if prefix == "" {
		return cmd.Name()
	}
	return fmt.Sprintf("%s %s", prefix, cmd.Name())
}
