package main

import (
	"encoding/json"
	"math/rand/v2"
	"time"

	"github.com/spf13/cobra"

	"github.com/nidhogg/persona-sim/internal/agent"
)

func generateCmd() *cobra.Command {
	var (
		count int
		seed  uint64
	)
	cmd := &cobra.Command{
		Use:   "generate",
		Short: "Print random persona profiles as JSON",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if !cmd.Flags().Changed("seed") {
				seed = uint64(time.Now().UnixNano())
			}
			rng := rand.New(rand.NewPCG(seed, seed))
			profiles := make([]map[string]any, 0, count)
			for range count {
				profiles = append(profiles, agent.GeneratePersona(rng))
			}
			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			return enc.Encode(profiles)
		},
	}
	cmd.Flags().IntVarP(&count, "count", "n", 5, "number of personas")
	cmd.Flags().Uint64Var(&seed, "seed", 0, "random seed")
	return cmd
}
