package main

import (
	"fmt"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/modeguard/modeguard/internal/settings"
)

var (
	disableUserScoped  bool
	disableProjectPath string
)

var disableCmd = &cobra.Command{
	Use:   "disable",
	Short: "Deactivate test mode and unregister the hooks",
	Long: `Deactivate test mode: remove the gate's hook registration from the host
settings, then delete the project's status record.

Settings go first. If unregistration fails the record stays put, which
keeps the gate enforced rather than half-disabled.`,
	RunE: runDisable,
}

func init() {
	disableCmd.Flags().BoolVar(&disableUserScoped, "user", false, "Remove the user-scoped record instead of project-scoped")
	disableCmd.Flags().StringVar(&disableProjectPath, "project-path", "", "Project directory (default: working directory)")
	rootCmd.AddCommand(disableCmd)
}

func runDisable(cmd *cobra.Command, args []string) error {
	g, err := newGate()
	if err != nil {
		return err
	}
	id, err := resolveIdentity(disableProjectPath)
	if err != nil {
		return err
	}
	modeType := modeTypeFromFlag(disableUserScoped)

	if GetDryRun() {
		fmt.Printf("[dry-run] Would unregister hooks in %s and delete the %s record for %q\n",
			g.env.SettingsPath, modeType, id.Name)
		return nil
	}

	err = g.mut.Apply(func(doc map[string]any) (map[string]any, error) {
		return settings.Disable(doc)
	})
	if err != nil {
		return fmt.Errorf("unregister hooks: %w", err)
	}

	if err := g.store.Delete(id, modeType); err != nil {
		return fmt.Errorf("delete status record: %w", err)
	}
	if _, err := g.store.CleanupStale(id); err != nil {
		VerbosePrintf("stale-record sweep: %v\n", err)
	}

	fmt.Printf("%s test mode disabled for %q\n", color.GreenString("✓"), id.Name)
	return nil
}
