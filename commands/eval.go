package commands

import (
	"fmt"
	"sort"

	"github.com/spf13/cobra"

	"github.com/Kokkini/MimicRL/agent"
	"github.com/Kokkini/MimicRL/checkpoint"
	"github.com/Kokkini/MimicRL/envs"
	"github.com/Kokkini/MimicRL/rollout"
	"github.com/Kokkini/MimicRL/types"
)

var (
	evalCheckpoint string
	evalEnv        string
	evalEpisodes   int
	evalRollouts   int
	evalMaxSteps   int
	evalTimeStep   float64
	evalOpponent   string
	evalSeed       uint64
)

func EvalCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "eval",
		Short: "Play games with checkpointed agents and report reward statistics",
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := checkpoint.Open(evalCheckpoint)
			if err != nil {
				return err
			}
			cp, err := store.Load()
			if err != nil {
				return err
			}

			probe, err := envs.Build(evalEnv, evalSeed)
			if err != nil {
				return err
			}
			numPlayers := probe.NumPlayers()

			agents := make(map[int]*agent.PolicyAgent)
			for p, snap := range cp.Agents {
				if p >= numPlayers {
					continue
				}
				ag, err := agent.FromSnapshot(snap, evalSeed+uint64(p))
				if err != nil {
					return err
				}
				agents[p] = ag
			}
			if len(agents) == 0 {
				return types.ConfigErrorf("checkpoint", "no snapshot fits a %d-player environment", numPlayers)
			}
			controllers := make(map[int]types.Controller)
			for p := 0; p < numPlayers; p++ {
				if _, ok := agents[p]; ok {
					continue
				}
				switch evalOpponent {
				case "random":
					controllers[p] = rollout.NewRandomController(probe.ActionSpaces(), 1.0, evalSeed+uint64(900+p))
				case "policy":
					ag, err := agent.FromSnapshot(cp.AgentFor(p), evalSeed+uint64(900+p))
					if err != nil {
						return err
					}
					controllers[p] = rollout.NewPolicyController(ag)
				default:
					return types.ConfigErrorf("opponent", "unknown controller %q (want random or policy)", evalOpponent)
				}
			}

			factory := func(i int) (types.Environment, error) {
				return envs.Build(evalEnv, evalSeed+uint64(100+i))
			}
			col, err := rollout.NewCollector(rollout.Config{
				NumRollouts:     evalRollouts,
				TargetGames:     evalEpisodes,
				MaxEpisodeSteps: evalMaxSteps,
				TimeStep:        evalTimeStep,
			}, agents, controllers, factory, newLogger())
			if err != nil {
				return err
			}
			batch, err := col.Collect(nil)
			if err != nil {
				return err
			}

			st := batch.Stats
			fmt.Printf("Evaluated %d games on %s (%d truncated episodes, %d steps)\n",
				st.Games, evalEnv, st.Truncated, st.Steps)
			fmt.Printf("  mean episode length: %.1f steps\n", st.MeanLength)
			players := col.Players()
			sort.Ints(players)
			for _, p := range players {
				r := st.Reward[p]
				fmt.Printf("  player %d: reward %.3f (min %.3f, max %.3f), wins %d\n",
					p, r.Mean, r.Min, r.Max, st.Wins[p])
			}
			return nil
		},
	}
	cmd.Flags().StringVarP(&evalCheckpoint, "checkpoint", "k", "checkpoint.json", "Checkpoint to evaluate")
	cmd.Flags().StringVar(&evalEnv, "env", "cartpole", "Environment to play in")
	cmd.Flags().IntVarP(&evalEpisodes, "episodes", "e", 32, "Games to play")
	cmd.Flags().IntVar(&evalRollouts, "rollouts", 4, "Environment instances to interleave")
	cmd.Flags().IntVar(&evalMaxSteps, "max-steps", 500, "Step cap per episode")
	cmd.Flags().Float64Var(&evalTimeStep, "dt", 0.02, "Simulation time step")
	cmd.Flags().StringVar(&evalOpponent, "opponent", "random", "Controller for seats without a snapshot (random or policy)")
	cmd.Flags().Uint64Var(&evalSeed, "seed", 7, "Random seed")
	return cmd
}
