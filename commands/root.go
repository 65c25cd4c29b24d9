// Package commands wires the engine into a CLI: train runs a session from a
// config file, clone fits an agent to demonstrations, record produces
// demonstration files, eval scores a checkpoint and runs lists the journal.
package commands

import (
	"os"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
)

var (
	logLevel string
	logJSON  bool
)

func GetRootCommand() *cobra.Command {
	rootCommand := &cobra.Command{
		Use:   "mimicrl",
		Short: "PPO training engine for mixed-action multiplayer environments",
	}
	rootCommand.PersistentFlags().StringVar(&logLevel, "log-level", "info", "Log level (trace, debug, info, warn, error)")
	rootCommand.PersistentFlags().BoolVar(&logJSON, "log-json", false, "Emit JSON logs instead of console output")
	// adding the subcommands here
	rootCommand.AddCommand(TrainCommand())
	rootCommand.AddCommand(CloneCommand())
	rootCommand.AddCommand(EvalCommand())
	rootCommand.AddCommand(RecordCommand())
	rootCommand.AddCommand(RunsCommand())
	return rootCommand
}

func newLogger() zerolog.Logger {
	level, err := zerolog.ParseLevel(logLevel)
	if err != nil {
		level = zerolog.InfoLevel
	}
	var logger zerolog.Logger
	if logJSON {
		logger = zerolog.New(os.Stderr)
	} else {
		logger = zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr})
	}
	return logger.Level(level).With().Timestamp().Logger()
}
