package main

import (
	"os"

	"github.com/spf13/cobra"

	"github.com/modeguard/modeguard/internal/gatecfg"
	"github.com/modeguard/modeguard/internal/hookio"
)

var hookCmd = &cobra.Command{
	Use:    "hook",
	Short:  "Invocation-boundary entry points (called by the host)",
	Hidden: true,
}

var hookPreCmd = &cobra.Command{
	Use:   "pre",
	Short: "Pre-invocation boundary: judge a tool call from stdin",
	Run: func(cmd *cobra.Command, args []string) {
		runner, err := newHookRunner()
		if err != nil {
			// Fail closed: without a working runner nothing can be judged.
			hookio.WriteStartupBlock(os.Stdout, err)
			os.Exit(hookio.ExitBlock)
		}
		os.Exit(runner.RunPre(os.Stdin, os.Stdout))
	},
}

var hookPostCmd = &cobra.Command{
	Use:   "post",
	Short: "Post-invocation boundary: record the outcome from stdin",
	Run: func(cmd *cobra.Command, args []string) {
		runner, err := newHookRunner()
		if err != nil {
			// Fail open: the audit path must never abort the host.
			os.Exit(hookio.ExitAllow)
		}
		os.Exit(runner.RunPost(os.Stdin))
	},
}

func newHookRunner() (*hookio.Runner, error) {
	env, err := gatecfg.Load()
	if err != nil {
		return nil, err
	}
	return hookio.New(env)
}

func init() {
	hookCmd.AddCommand(hookPreCmd)
	hookCmd.AddCommand(hookPostCmd)
	rootCmd.AddCommand(hookCmd)
}
