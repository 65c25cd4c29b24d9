package commands

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gosuri/uilive"
	"github.com/spf13/cobra"

	"github.com/Kokkini/MimicRL/analysis"
	"github.com/Kokkini/MimicRL/monitor"
	"github.com/Kokkini/MimicRL/session"
)

var (
	trainConfig  string
	trainMonitor string
	trainPlot    string
	trainCSV     string
	trainQuiet   bool
)

func TrainCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "train",
		Short: "Train agents with PPO under a JSON config",
		RunE: func(cmd *cobra.Command, args []string) error {
			logger := newLogger()
			cfg, err := session.LoadConfig(trainConfig)
			if err != nil {
				return err
			}
			cfg.Logger = &logger

			sess, err := session.New(cfg)
			if err != nil {
				return err
			}
			tracker := analysis.NewTracker()
			if trainPlot != "" || trainCSV != "" {
				sess.OnProgress(tracker.Observe)
			}

			if err := sess.Initialize(); err != nil {
				return err
			}
			if err := sess.Start(); err != nil {
				return err
			}

			ctx, cancel := context.WithCancel(context.Background())
			defer cancel()
			if trainMonitor != "" {
				monitor.New(trainMonitor, sess, logger).Start(ctx)
			}
			if !trainQuiet {
				stopPrinter := startPrinter(sess)
				defer stopPrinter()
			}

			sigCh := make(chan os.Signal, 1)
			signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
			go func() {
				if _, ok := <-sigCh; ok {
					logger.Info().Msg("interrupt received, stopping")
					sess.Stop()
				}
			}()

			runErr := sess.Wait()
			signal.Stop(sigCh)
			close(sigCh)

			if trainCSV != "" {
				if err := tracker.SaveCSV(trainCSV); err != nil {
					logger.Error().Err(err).Msg("csv export failed")
				}
			}
			if trainPlot != "" {
				if err := tracker.SavePlots(trainPlot); err != nil {
					logger.Error().Err(err).Msg("plot export failed")
				}
			}
			return runErr
		},
	}
	cmd.Flags().StringVarP(&trainConfig, "config", "c", "config.json", "Training config file")
	cmd.Flags().StringVar(&trainMonitor, "monitor", "", "Serve the control API on this address (e.g. :8080)")
	cmd.Flags().StringVar(&trainPlot, "plot", "", "Write training-curve PNGs to this directory")
	cmd.Flags().StringVar(&trainCSV, "csv", "", "Write the iteration table to this CSV file")
	cmd.Flags().BoolVarP(&trainQuiet, "quiet", "q", false, "Suppress the live progress line")
	return cmd
}

// startPrinter redraws a single live progress line twice a second until the
// returned stop function is called.
func startPrinter(sess *session.Session) func() {
	w := uilive.New()
	w.Start()
	ticker := time.NewTicker(500 * time.Millisecond)
	done := make(chan struct{})
	go func() {
		for {
			select {
			case <-done:
				return
			case <-ticker.C:
				p := sess.Progress()
				fmt.Fprintf(w, "[%s] iteration %d games %d/%d reward %.3f entropy %.3f elapsed %.0fs\n",
					sess.State(), p.Iteration, p.GamesCompleted, p.MaxGames,
					p.Reward.Mean, p.PolicyEntropy, p.TrainingSeconds)
				w.Flush()
			}
		}
	}()
	return func() {
		ticker.Stop()
		close(done)
		w.Stop()
	}
}
