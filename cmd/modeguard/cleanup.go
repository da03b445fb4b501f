package main

import (
	"fmt"

	"github.com/fatih/color"
	"github.com/spf13/cobra"
)

var cleanupProjectPath string

var cleanupCmd = &cobra.Command{
	Use:   "cleanup",
	Short: "Remove stale records and old backups",
	Long: `Cleanup deletes status records that no longer match the live project
context and prunes settings backups beyond the retention cap. Valid current
state is never touched, and running it twice changes nothing the second
time.`,
	RunE: runCleanup,
}

func init() {
	cleanupCmd.Flags().StringVar(&cleanupProjectPath, "project-path", "", "Project directory (default: working directory)")
	rootCmd.AddCommand(cleanupCmd)
}

func runCleanup(cmd *cobra.Command, args []string) error {
	g, err := newGate()
	if err != nil {
		return err
	}
	id, err := resolveIdentity(cleanupProjectPath)
	if err != nil {
		return err
	}

	if GetDryRun() {
		fmt.Printf("[dry-run] Would sweep stale records for %q and prune backups beyond %d\n",
			id.Name, g.env.BackupKeep)
		return nil
	}

	removed, err := g.store.CleanupStale(id)
	if err != nil {
		return fmt.Errorf("sweep stale records: %w", err)
	}
	for _, path := range removed {
		VerbosePrintf("removed stale record %s\n", path)
	}
	if err := g.mut.Prune(); err != nil {
		return fmt.Errorf("prune backups: %w", err)
	}

	fmt.Printf("%s cleanup done (%d stale record(s) removed)\n", color.GreenString("✓"), len(removed))
	return nil
}
