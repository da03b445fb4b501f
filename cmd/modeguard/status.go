package main

import (
	"encoding/json"
	"fmt"
	"text/tabwriter"
	"time"

	"github.com/fatih/color"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/modeguard/modeguard/internal/settings"
)

var statusProjectPath string

// statusReport is the structured answer for json/yaml output.
type statusReport struct {
	Project         string `json:"project" yaml:"project"`
	Path            string `json:"path" yaml:"path"`
	Active          bool   `json:"active" yaml:"active"`
	ModeType        string `json:"mode_type,omitempty" yaml:"mode_type,omitempty"`
	Scope           string `json:"scope,omitempty" yaml:"scope,omitempty"`
	Strict          bool   `json:"strict" yaml:"strict"`
	StartedAt       string `json:"started_at,omitempty" yaml:"started_at,omitempty"`
	ExpiresAt       string `json:"expires_at,omitempty" yaml:"expires_at,omitempty"`
	HooksRegistered bool   `json:"hooks_registered" yaml:"hooks_registered"`
}

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show the effective policy for the current project",
	RunE:  runStatus,
}

func init() {
	statusCmd.Flags().StringVar(&statusProjectPath, "project-path", "", "Project directory (default: working directory)")
	rootCmd.AddCommand(statusCmd)
}

func runStatus(cmd *cobra.Command, args []string) error {
	g, err := newGate()
	if err != nil {
		return err
	}
	id, err := resolveIdentity(statusProjectPath)
	if err != nil {
		return err
	}

	rec, err := g.store.LoadEffective(id)
	if err != nil {
		return fmt.Errorf("resolve effective record: %w", err)
	}

	report := statusReport{Project: id.Name, Path: id.AbsolutePath}
	if doc, err := g.mut.Load(); err == nil {
		report.HooksRegistered = settings.Registered(doc)
	}
	if rec != nil {
		report.Active = true
		report.ModeType = string(rec.ModeType)
		report.Scope = string(rec.Scope)
		report.Strict = rec.Strict
		report.StartedAt = rec.StartedAt.Format(time.RFC3339)
		if rec.ExpiresAt != nil {
			report.ExpiresAt = rec.ExpiresAt.Format(time.RFC3339)
		}
	}

	switch GetOutput() {
	case "json":
		enc := json.NewEncoder(cmd.OutOrStdout())
		enc.SetIndent("", "  ")
		return enc.Encode(report)
	case "yaml":
		data, err := yaml.Marshal(report)
		if err != nil {
			return fmt.Errorf("encode status: %w", err)
		}
		fmt.Fprint(cmd.OutOrStdout(), string(data))
		return nil
	default:
		printStatusTable(report)
		return nil
	}
}

func printStatusTable(r statusReport) {
	w := tabwriter.NewWriter(color.Output, 0, 4, 2, ' ', 0)
	defer w.Flush()

	state := color.HiBlackString("inactive")
	if r.Active {
		state = color.GreenString("active")
	}
	fmt.Fprintf(w, "Project:\t%s\n", r.Project)
	fmt.Fprintf(w, "Path:\t%s\n", r.Path)
	fmt.Fprintf(w, "Test mode:\t%s\n", state)
	if r.Active {
		fmt.Fprintf(w, "Mode type:\t%s\n", r.ModeType)
		fmt.Fprintf(w, "Scope:\t%s\n", r.Scope)
		fmt.Fprintf(w, "Strict:\t%t\n", r.Strict)
		fmt.Fprintf(w, "Started:\t%s\n", r.StartedAt)
		if r.ExpiresAt != "" {
			fmt.Fprintf(w, "Expires:\t%s\n", r.ExpiresAt)
		}
	}
	registered := color.RedString("no")
	if r.HooksRegistered {
		registered = color.GreenString("yes")
	}
	fmt.Fprintf(w, "Hooks registered:\t%s\n", registered)
}
