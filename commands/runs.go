package commands

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/Kokkini/MimicRL/history"
)

var (
	runsHistory string
	runsLimit   int
	runsShow    string
)

func RunsCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "runs",
		Short: "List past training runs from the history journal",
		RunE: func(cmd *cobra.Command, args []string) error {
			rec, err := history.Open(runsHistory)
			if err != nil {
				return err
			}
			defer rec.Close()

			if runsShow != "" {
				return showRun(rec, runsShow)
			}

			runs, err := rec.ListRuns(runsLimit)
			if err != nil {
				return err
			}
			if len(runs) == 0 {
				fmt.Println("No runs recorded.")
				return nil
			}
			fmt.Printf("%-36s  %-16s  %-18s  %-9s  %s\n", "RUN", "NAME", "ENVIRONMENT", "STATE", "STARTED")
			for _, r := range runs {
				fmt.Printf("%-36s  %-16s  %-18s  %-9s  %s\n",
					r.RunID, r.Name, r.Environment, r.State,
					r.StartedAt.Local().Format(time.RFC3339))
				if r.Error != "" {
					fmt.Printf("    error: %s\n", r.Error)
				}
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&runsHistory, "history", "history.db", "History database path")
	cmd.Flags().IntVarP(&runsLimit, "limit", "n", 20, "Maximum runs to list")
	cmd.Flags().StringVar(&runsShow, "show", "", "Show per-iteration rows for one run id")
	return cmd
}

func showRun(rec *history.Recorder, runID string) error {
	iters, err := rec.Iterations(runID)
	if err != nil {
		return err
	}
	if len(iters) == 0 {
		fmt.Printf("No iterations recorded for run %s.\n", runID)
		return nil
	}
	fmt.Printf("%-6s  %-7s  %-6s  %-8s  %-10s  %-11s  %-10s  %-9s  %-9s  %s\n",
		"ITER", "PLAYER", "GAMES", "STEPS", "REWARD", "POLICY", "VALUE", "ENTROPY", "KL", "ELAPSED")
	for _, it := range iters {
		fmt.Printf("%-6d  %-7d  %-6d  %-8d  %-10.3f  %-11.4f  %-10.4f  %-9.4f  %-9.5f  %.0fs\n",
			it.Iteration, it.Player, it.Games, it.Steps, it.RewardMean,
			it.PolicyLoss, it.ValueLoss, it.Entropy, it.ApproxKL, it.ElapsedSeconds)
	}
	return nil
}
