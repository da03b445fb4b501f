package main

import (
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/modeguard/modeguard/internal/gatecfg"
	"github.com/modeguard/modeguard/internal/identity"
	"github.com/modeguard/modeguard/internal/policy"
	"github.com/modeguard/modeguard/internal/settings"
)

var validateProjectPath string

// problem is one finding of the read-only configuration check.
type problem struct {
	Area   string `json:"area"`
	Detail string `json:"detail"`
}

var validateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Report configuration problems without changing anything",
	Long: `Validate inspects the settings document, the status records and the state
directories and reports every problem it finds. It is strictly read-only:
nothing is repaired, deleted or rewritten.`,
	RunE: runValidate,
}

func init() {
	validateCmd.Flags().StringVar(&validateProjectPath, "project-path", "", "Project directory (default: working directory)")
	rootCmd.AddCommand(validateCmd)
}

func runValidate(cmd *cobra.Command, args []string) error {
	g, err := newGate()
	if err != nil {
		return err
	}
	id, err := resolveIdentity(validateProjectPath)
	if err != nil {
		return err
	}

	problems := collectProblems(g, id)

	if GetOutput() == "json" {
		enc := json.NewEncoder(cmd.OutOrStdout())
		enc.SetIndent("", "  ")
		if problems == nil {
			problems = []problem{}
		}
		return enc.Encode(problems)
	}

	if len(problems) == 0 {
		fmt.Printf("%s configuration is consistent for %q\n", color.GreenString("✓"), id.Name)
		return nil
	}
	for _, p := range problems {
		fmt.Printf("%s %s: %s\n", color.RedString("✗"), p.Area, p.Detail)
	}
	return fmt.Errorf("%d problem(s) found", len(problems))
}

func collectProblems(g *gate, id identity.ProjectIdentity) []problem {
	var problems []problem

	registered := false
	doc, err := g.mut.Load()
	if err != nil {
		problems = append(problems, problem{Area: "settings", Detail: err.Error()})
	} else {
		registered = settings.Registered(doc)
	}

	haveRecord := false
	for _, mode := range []policy.ModeType{policy.ModeProject, policy.ModeUser} {
		path := g.store.StatusPath(id, mode)
		data, err := os.ReadFile(path)
		if os.IsNotExist(err) {
			continue
		}
		if err != nil {
			problems = append(problems, problem{Area: "record", Detail: fmt.Sprintf("%s: %v", path, err)})
			continue
		}
		if info, err := os.Stat(path); err == nil && info.Mode().Perm()&0o077 != 0 {
			problems = append(problems, problem{
				Area:   "record",
				Detail: fmt.Sprintf("%s: permissions %o are wider than owner-only", path, info.Mode().Perm()),
			})
		}
		var rec policy.Record
		if err := json.Unmarshal(data, &rec); err != nil {
			problems = append(problems, problem{Area: "record", Detail: fmt.Sprintf("%s: not valid JSON (run cleanup)", path)})
			continue
		}
		if err := policy.Validate(&rec, id, time.Now()); err != nil {
			problems = append(problems, problem{Area: "record", Detail: fmt.Sprintf("%s: %v (run cleanup)", path, err)})
			continue
		}
		haveRecord = true
	}

	// A record without a registration still counts as enforced policy once
	// the hooks come back, but the mismatch is worth surfacing either way.
	if haveRecord && !registered {
		problems = append(problems, problem{
			Area:   "wiring",
			Detail: "status record present but hooks are not registered; run enable to re-register",
		})
	}
	if registered && !haveRecord {
		problems = append(problems, problem{
			Area:   "wiring",
			Detail: "hooks are registered but no valid status record exists for this project",
		})
	}

	if _, err := gatecfg.LoadRules(g.env.RulesPath()); err != nil {
		problems = append(problems, problem{Area: "rules", Detail: err.Error()})
	}
	return problems
}
