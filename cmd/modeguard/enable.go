package main

import (
	"fmt"
	"time"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/modeguard/modeguard/internal/policy"
	"github.com/modeguard/modeguard/internal/settings"
)

var (
	enableScope       string
	enableStrict      bool
	enableDuration    string
	enableUserScoped  bool
	enableProjectPath string
)

var enableCmd = &cobra.Command{
	Use:   "enable",
	Short: "Activate test mode for a project",
	Long: `Activate test mode: write the project's status record and register the
gate's hooks in the host settings.

The status record is written first. If the settings registration then
fails, the record is rolled back so no partial activation is left behind.

Examples:
  modeguard enable
  modeguard enable --scope backend --strict --duration 1h
  modeguard enable --user --project-path /home/u/app`,
	RunE: runEnable,
}

func init() {
	enableCmd.Flags().StringVar(&enableScope, "scope", "all", "Policy scope (all, backend, frontend)")
	enableCmd.Flags().BoolVar(&enableStrict, "strict", false, "Only allow-listed shell commands and read tools")
	enableCmd.Flags().StringVar(&enableDuration, "duration", "", "Auto-expire after this long (e.g. 1h, 30m, 2d)")
	enableCmd.Flags().BoolVar(&enableUserScoped, "user", false, "Write a user-scoped record instead of project-scoped")
	enableCmd.Flags().StringVar(&enableProjectPath, "project-path", "", "Project directory (default: working directory)")
	rootCmd.AddCommand(enableCmd)
}

func runEnable(cmd *cobra.Command, args []string) error {
	if !policy.ValidScope(policy.Scope(enableScope)) {
		return fmt.Errorf("invalid scope %q (want all, backend or frontend)", enableScope)
	}
	dur, err := parseModeDuration(enableDuration)
	if err != nil {
		return err
	}

	g, err := newGate()
	if err != nil {
		return err
	}
	id, err := resolveIdentity(enableProjectPath)
	if err != nil {
		return err
	}

	modeType := modeTypeFromFlag(enableUserScoped)
	rec := &policy.Record{
		ProjectIdentity: id,
		Active:          true,
		Scope:           policy.Scope(enableScope),
		Strict:          enableStrict,
		ModeType:        modeType,
		StartedAt:       time.Now(),
	}
	if dur > 0 {
		exp := rec.StartedAt.Add(dur)
		rec.ExpiresAt = &exp
	}

	if GetDryRun() {
		fmt.Printf("[dry-run] Would write %s record for %q and register hooks in %s\n",
			modeType, id.Name, g.env.SettingsPath)
		return nil
	}

	// Record first: a record without a registration is still enforced once
	// the hooks land, while a registration without a record would gate
	// nothing and confuse status reporting.
	if err := g.store.Write(rec); err != nil {
		return fmt.Errorf("write status record: %w", err)
	}

	params := settings.EnableParams{
		ProjectName: id.Name,
		ProjectPath: id.AbsolutePath,
		Scope:       enableScope,
		Strict:      enableStrict,
		Duration:    enableDuration,
	}
	err = g.mut.Apply(func(doc map[string]any) (map[string]any, error) {
		return settings.Enable(doc, params)
	})
	if err != nil {
		// Roll the record back so a failed enable leaves no trace.
		if delErr := g.store.Delete(id, modeType); delErr != nil {
			fmt.Fprintf(cmd.ErrOrStderr(), "warning: rollback of status record failed: %v\n", delErr)
		}
		return fmt.Errorf("register hooks: %w", err)
	}

	fmt.Printf("%s test mode enabled for %q (%s scope", color.GreenString("✓"), id.Name, enableScope)
	if enableStrict {
		fmt.Print(", strict")
	}
	if rec.ExpiresAt != nil {
		fmt.Printf(", expires %s", rec.ExpiresAt.Format(time.RFC3339))
	}
	fmt.Println(")")
	VerbosePrintf("record: %s\nsettings: %s\n", g.store.StatusPath(id, modeType), g.env.SettingsPath)
	return nil
}
