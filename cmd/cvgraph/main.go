// cvgraph evaluates collective-variable graphs described in YAML.
//
// Usage:
//
//	cvgraph [--json] <command> [flags]
//
// Commands:
//
//	run       Build a graph and evaluate it
//	validate  Check a graph file without evaluating it
//	ops       List the registered operation types
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

// version is set with -ldflags at build time.
var version = "dev"

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	var jsonOutput bool

	rootCmd := &cobra.Command{
		Use:           "cvgraph",
		Short:         "cvgraph - collective-variable graph evaluator",
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	rootCmd.PersistentFlags().BoolVar(&jsonOutput, "json", false, "Output in JSON format")

	outputFn := func(cmd *cobra.Command) *output {
		return newOutput(cmd.OutOrStdout(), cmd.ErrOrStderr(), jsonOutput)
	}

	rootCmd.AddCommand(
		newRunCmd(outputFn),
		newValidateCmd(outputFn),
		newOpsCmd(outputFn),
	)
	return rootCmd
}
