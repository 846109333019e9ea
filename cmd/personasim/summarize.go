package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/nidhogg/persona-sim/internal/simulation"
)

func summarizeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "summarize <responses.csv>",
		Short: "Count the answers in a CSV response column and draw a bar table",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			counts, err := simulation.SummarizeFile(args[0])
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), simulation.RenderSummary(counts))
			return nil
		},
	}
}
