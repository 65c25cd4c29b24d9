package commands

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/Kokkini/MimicRL/agent"
	"github.com/Kokkini/MimicRL/checkpoint"
	"github.com/Kokkini/MimicRL/envs"
	"github.com/Kokkini/MimicRL/imitation"
)

var (
	cloneData   string
	cloneOut    string
	cloneEnv    string
	cloneHidden []int
	cloneEpochs int
	cloneBatch  int
	cloneLR     float64
	cloneLogStd float64
	clonePlayer int
	cloneSeed   uint64
)

func CloneCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "clone",
		Short: "Behavior-clone an agent from recorded demonstrations",
		RunE: func(cmd *cobra.Command, args []string) error {
			logger := newLogger()
			ds, err := imitation.LoadDataset(cloneData)
			if err != nil {
				return err
			}
			probe, err := envs.Build(cloneEnv, cloneSeed)
			if err != nil {
				return err
			}
			ag, err := agent.New(agent.Config{
				ObservationSize: probe.ObservationSize(),
				ActionSize:      probe.ActionSize(),
				Spaces:          probe.ActionSpaces(),
				Hidden:          cloneHidden,
				InitLogStd:      cloneLogStd,
				Seed:            cloneSeed,
			})
			if err != nil {
				return err
			}
			trainer, err := imitation.New(imitation.Config{
				Epochs:        cloneEpochs,
				MiniBatchSize: cloneBatch,
				LearningRate:  cloneLR,
				MaxGradNorm:   0.5,
				Seed:          cloneSeed + 1,
			}, ag, logger)
			if err != nil {
				return err
			}
			reports, err := trainer.Fit(ds, nil)
			if err != nil {
				return err
			}
			final := reports[len(reports)-1]
			fmt.Printf("Cloned from %d examples, final loss %.4f after %d epochs\n",
				ds.Len(), final.Loss, final.Epoch)

			store, err := checkpoint.Open(cloneOut)
			if err != nil {
				return err
			}
			raw, _ := json.Marshal(map[string]interface{}{
				"data":   cloneData,
				"env":    cloneEnv,
				"hidden": cloneHidden,
				"epochs": cloneEpochs,
			})
			return store.Save(&checkpoint.Checkpoint{
				Version: checkpoint.Version,
				RunID:   uuid.NewString(),
				RunName: "clone",
				SavedAt: time.Now().UTC(),
				Config:  raw,
				Agents:  map[int]*agent.Snapshot{clonePlayer: ag.Snapshot()},
			})
		},
	}
	cmd.Flags().StringVarP(&cloneData, "data", "d", "demos.jsonl", "Demonstration JSONL file")
	cmd.Flags().StringVarP(&cloneOut, "out", "o", "clone.json", "Checkpoint destination")
	cmd.Flags().StringVar(&cloneEnv, "env", "cartpole", "Environment the demonstrations came from")
	cmd.Flags().IntSliceVar(&cloneHidden, "hidden", []int{64, 64}, "Hidden layer sizes")
	cmd.Flags().IntVar(&cloneEpochs, "epochs", 20, "Training epochs")
	cmd.Flags().IntVar(&cloneBatch, "batch", 64, "Mini-batch size")
	cmd.Flags().Float64Var(&cloneLR, "lr", 1e-3, "Learning rate")
	cmd.Flags().Float64Var(&cloneLogStd, "log-std", -0.5, "Initial log standard deviation")
	cmd.Flags().IntVar(&clonePlayer, "player", 0, "Player seat the cloned policy occupies")
	cmd.Flags().Uint64Var(&cloneSeed, "seed", 5, "Random seed")
	return cmd
}
