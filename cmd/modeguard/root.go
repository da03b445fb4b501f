package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var (
	// Global flags
	dryRun  bool
	verbose bool
	output  string
)

// rootCmd represents the base command when called without any subcommands.
var rootCmd = &cobra.Command{
	Use:   "modeguard",
	Short: "Project-isolated policy gate for assistant tool calls",
	Long: `modeguard gates the tool calls an AI assistant makes inside a project:
while a mode is active, file-mutation tools are blocked outright and shell
commands are filtered against dangerous-command patterns (plus a strict
allow-list when requested).

Core Commands:
  enable       Activate test mode for a project
  disable      Deactivate test mode and unregister the hooks
  status       Show the effective policy for the current project
  validate     Report configuration problems without changing anything
  cleanup      Remove stale records and old backups
  hook         Invocation-boundary entry points (called by the host)

State lives under ~/.modeguard; the host is wired up through hook
registrations in ~/.claude/settings.json.`,
	SilenceUsage: true,
}

// Execute adds all child commands to the root command and sets flags appropriately.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func init() {
	// Global flags available to all commands
	rootCmd.PersistentFlags().BoolVar(&dryRun, "dry-run", false, "Show what would happen without executing")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Enable verbose output")
	rootCmd.PersistentFlags().StringVarP(&output, "output", "o", "table", "Output format (json, table, yaml)")
}

// GetDryRun returns the dry-run flag value for use by subcommands.
func GetDryRun() bool {
	return dryRun
}

// GetVerbose returns the verbose flag value for use by subcommands.
func GetVerbose() bool {
	return verbose
}

// GetOutput returns the output format for use by subcommands.
func GetOutput() string {
	return output
}

// VerbosePrintf prints only when verbose mode is enabled.
func VerbosePrintf(format string, args ...interface{}) {
	if verbose {
		fmt.Printf(format, args...)
	}
}
