package main

import (
	"fmt"
	"math/rand/v2"

	"github.com/charmbracelet/lipgloss"
	"github.com/spf13/cobra"

	"github.com/nidhogg/persona-sim/internal/simulation"
)

var (
	personaStyle = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("12"))
	errorStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("9"))
)

func runCmd() *cobra.Command {
	var seed uint64
	cmd := &cobra.Command{
		Use:   "run <scenario>",
		Short: "Play a scenario file to its personas and save their responses",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			sc, err := simulation.LoadScenario(args[0])
			if err != nil {
				return err
			}
			a, err := bootstrap(cmd)
			if err != nil {
				return err
			}
			defer a.Close()
			defer a.logger.Sync()

			var opts []simulation.RunnerOption
			if cmd.Flags().Changed("seed") {
				opts = append(opts, simulation.WithRand(rand.New(rand.NewPCG(seed, seed))))
			}
			report, runErr := a.runner(opts...).Run(cmd.Context(), sc)
			if report == nil {
				return runErr
			}

			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "\nRun %s: %d responses\n", report.RunID, len(report.Results))
			for _, res := range report.Results {
				if res.Error != "" {
					fmt.Fprintf(out, "%s %s\n", personaStyle.Render(res.Persona+":"), errorStyle.Render(res.Error))
					continue
				}
				fmt.Fprintf(out, "%s %s\n", personaStyle.Render(res.Persona+":"), res.Talk)
			}
			if report.OutputPath != "" {
				fmt.Fprintf(out, "Responses saved to %s\n", report.OutputPath)
			}
			return runErr
		},
	}
	cmd.Flags().Uint64Var(&seed, "seed", 0, "seed for random persona generation")
	return cmd
}
