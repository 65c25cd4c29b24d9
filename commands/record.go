package commands

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/Kokkini/MimicRL/agent"
	"github.com/Kokkini/MimicRL/checkpoint"
	"github.com/Kokkini/MimicRL/envs"
	"github.com/Kokkini/MimicRL/imitation"
	"github.com/Kokkini/MimicRL/rollout"
	"github.com/Kokkini/MimicRL/types"
)

var (
	recordEnv        string
	recordOut        string
	recordEpisodes   int
	recordMaxSteps   int
	recordTimeStep   float64
	recordPlayer     int
	recordExpert     string
	recordCheckpoint string
	recordSeed       uint64
)

// fixedController is the trivial scripted expert: 1 on every discrete index,
// 0 on every continuous one. On the bandit environment that is the optimal
// policy, which makes recorded datasets a known-good cloning target.
func fixedController(spaces []types.ActionSpace) rollout.ScriptedController {
	return func(types.Observation) (types.Action, error) {
		action := make(types.Action, len(spaces))
		for i, sp := range spaces {
			if sp.Kind == types.Discrete {
				action[i] = 1
			}
		}
		return action, nil
	}
}

func RecordCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "record",
		Short: "Record demonstrations by playing an expert controller",
		RunE: func(cmd *cobra.Command, args []string) error {
			logger := newLogger()
			env, err := envs.Build(recordEnv, recordSeed)
			if err != nil {
				return err
			}
			spaces := env.ActionSpaces()

			var expert types.Controller
			switch recordExpert {
			case "random":
				expert = rollout.NewRandomController(spaces, 1.0, recordSeed+1)
			case "fixed":
				expert = fixedController(spaces)
			case "policy":
				store, err := checkpoint.Open(recordCheckpoint)
				if err != nil {
					return err
				}
				cp, err := store.Load()
				if err != nil {
					return err
				}
				ag, err := agent.FromSnapshot(cp.AgentFor(recordPlayer), recordSeed+1)
				if err != nil {
					return err
				}
				expert = rollout.NewPolicyController(ag)
			default:
				return types.ConfigErrorf("expert", "unknown controller %q (want random, fixed or policy)", recordExpert)
			}

			controllers := make([]types.Controller, env.NumPlayers())
			for p := range controllers {
				if p == recordPlayer {
					controllers[p] = expert
					continue
				}
				controllers[p] = rollout.NewRandomController(spaces, 1.0, recordSeed+uint64(10+p))
			}

			ds, err := imitation.Record(env, controllers, recordPlayer, recordEpisodes, recordMaxSteps, recordTimeStep)
			if err != nil {
				return err
			}
			if err := imitation.SaveDataset(recordOut, ds.Examples); err != nil {
				return err
			}
			logger.Info().Int("examples", ds.Len()).Str("file", recordOut).Msg("demonstrations recorded")
			fmt.Printf("Recorded %d examples to %s\n", ds.Len(), recordOut)
			return nil
		},
	}
	cmd.Flags().StringVar(&recordEnv, "env", "cartpole", "Environment to record in")
	cmd.Flags().StringVarP(&recordOut, "out", "o", "demos.jsonl", "Demonstration JSONL destination")
	cmd.Flags().IntVarP(&recordEpisodes, "episodes", "e", 100, "Episodes to record")
	cmd.Flags().IntVar(&recordMaxSteps, "max-steps", 500, "Step cap per episode")
	cmd.Flags().Float64Var(&recordTimeStep, "dt", 0.02, "Simulation time step")
	cmd.Flags().IntVar(&recordPlayer, "player", 0, "Player whose decisions are recorded")
	cmd.Flags().StringVar(&recordExpert, "expert", "fixed", "Expert controller (random, fixed or policy)")
	cmd.Flags().StringVar(&recordCheckpoint, "expert-checkpoint", "", "Checkpoint for the policy expert")
	cmd.Flags().Uint64Var(&recordSeed, "seed", 11, "Random seed")
	return cmd
}
