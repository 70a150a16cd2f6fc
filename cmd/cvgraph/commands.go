package main

import (
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/born-ml/cvgraph/internal/config"
	"github.com/born-ml/cvgraph/internal/registry"
)

func newValidateCmd(outputFn func(*cobra.Command) *output) *cobra.Command {
	var configPath string

	cmd := &cobra.Command{
		Use:   "validate",
		Short: "Check a graph file without evaluating it",
		RunE: func(cmd *cobra.Command, _ []string) error {
			f, err := config.Load(configPath)
			if err != nil {
				return err
			}
			g, err := f.BuildGraph(f.Logger(io.Discard), registry.Hooks{})
			if err != nil {
				return err
			}
			out := outputFn(cmd)
			if out.jsonMode {
				return out.JSON(map[string]int{
					"operations": len(g.Operations()),
					"chains":     len(g.Chains()),
					"slots":      g.NumSlots(),
				})
			}
			out.Success(fmt.Sprintf("%s: %d operations in %d chains, %d derivative slots",
				configPath, len(g.Operations()), len(g.Chains()), g.NumSlots()))
			return nil
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", "", "Graph file (YAML)")
	cmd.MarkFlagRequired("config")

	return cmd
}

func newOpsCmd(outputFn func(*cobra.Command) *output) *cobra.Command {
	return &cobra.Command{
		Use:   "ops",
		Short: "List the registered operation types",
		RunE: func(cmd *cobra.Command, _ []string) error {
			type entry struct {
				Type     string `json:"type"`
				Shortcut bool   `json:"shortcut"`
			}
			var entries []entry
			var rows [][]string
			for _, t := range registry.Types() {
				entries = append(entries, entry{Type: t})
				rows = append(rows, []string{t, "operation"})
			}
			for _, t := range registry.Shortcuts() {
				entries = append(entries, entry{Type: t, Shortcut: true})
				rows = append(rows, []string{t, "shortcut"})
			}
			return outputFn(cmd).Print([]string{"TYPE", "KIND"}, rows, entries)
		},
	}
}
