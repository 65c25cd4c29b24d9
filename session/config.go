package session

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"sort"
	"strconv"
	"strings"

	"github.com/rs/zerolog"

	"github.com/Kokkini/MimicRL/checkpoint"
	"github.com/Kokkini/MimicRL/history"
	"github.com/Kokkini/MimicRL/ppo"
	"github.com/Kokkini/MimicRL/rollout"
	"github.com/Kokkini/MimicRL/types"
)

// Algorithm selects the optimization algorithm and its hyperparameters. Only
// PPO exists; naming it explicitly keeps config files self-describing and
// rejects silently-wrong files written for some other trainer.
type Algorithm struct {
	Type            string     `json:"type"`
	Hyperparameters ppo.Config `json:"hyperparameters"`
}

// Network describes the agent architecture shared by every trainable player.
type Network struct {
	Hidden     []int   `json:"hidden"`
	InitLogStd float64 `json:"initLogStd"`
}

// Config describes one training run. The JSON-tagged fields form the config
// file format; the untagged tail holds runtime collaborators a caller wires
// in directly.
type Config struct {
	RunName           string            `json:"runName"`
	Environment       string            `json:"environment"`
	TrainablePlayers  []int             `json:"trainablePlayers"`
	MaxGames          int               `json:"maxGames"`
	NumRollouts       int               `json:"numRollouts"`
	GamesPerIteration int               `json:"gamesPerIteration"`
	StepsPerIteration int               `json:"stepsPerIteration"`
	MaxEpisodeSteps   int               `json:"maxEpisodeSteps"`
	AutoSaveInterval  int               `json:"autoSaveInterval"`
	Dt                float64           `json:"dt"`
	Seed              uint64            `json:"seed"`
	Algorithm         Algorithm         `json:"algorithm"`
	Network           Network           `json:"network"`
	Opponents         map[string]string `json:"opponents"`
	Checkpoint        string            `json:"checkpoint"`
	Resume            bool              `json:"resume"`
	History           string            `json:"history"`

	// Runtime collaborators. Factory overrides the registry lookup for
	// Environment; Controllers override Opponents per player. Store and
	// Recorder, when nil, are opened from Checkpoint and History if those
	// are set.
	Factory     rollout.EnvFactory       `json:"-"`
	Controllers map[int]types.Controller `json:"-"`
	Store       checkpoint.Store         `json:"-"`
	Recorder    *history.Recorder        `json:"-"`
	Logger      *zerolog.Logger          `json:"-"`
}

// DefaultConfig is the baseline a config file patches.
func DefaultConfig() Config {
	return Config{
		RunName:           "run",
		Environment:       "cartpole",
		TrainablePlayers:  []int{0},
		MaxGames:          2000,
		NumRollouts:       8,
		GamesPerIteration: 16,
		StepsPerIteration: 4096,
		MaxEpisodeSteps:   500,
		AutoSaveInterval:  200,
		Dt:                0.02,
		Seed:              1,
		Algorithm: Algorithm{
			Type: "PPO",
			Hyperparameters: ppo.Config{
				Gamma:              0.99,
				Lambda:             0.95,
				ClipRatio:          0.2,
				Epochs:             4,
				MiniBatchSize:      64,
				LearningRate:       3e-4,
				ValueLossCoeff:     0.5,
				EntropyCoeff:       0.01,
				MaxGradNorm:        0.5,
				YieldEvery:         4,
				NormalizeAdvantage: true,
			},
		},
		Network: Network{
			Hidden:     []int{64, 64},
			InitLogStd: -0.5,
		},
	}
}

// LoadConfig reads a JSON config file over the defaults. Unknown fields and
// trailing data are rejected so a typo in a key fails loudly instead of
// silently training with a default.
func LoadConfig(path string) (Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return Config{}, fmt.Errorf("open config: %w", err)
	}
	defer f.Close()
	cfg := DefaultConfig()
	dec := json.NewDecoder(f)
	dec.DisallowUnknownFields()
	if err := dec.Decode(&cfg); err != nil {
		return Config{}, types.ConfigErrorf("config", "decode %s: %v", path, err)
	}
	if err := dec.Decode(&struct{}{}); !errors.Is(err, io.EOF) {
		return Config{}, types.ConfigErrorf("config", "trailing data after document in %s", path)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate checks session-level fields and delegates to the nested configs.
func (c Config) Validate() error {
	if c.Environment == "" && c.Factory == nil {
		return types.ConfigErrorf("environment", "no environment named and no factory wired")
	}
	if len(c.TrainablePlayers) == 0 {
		return types.ConfigErrorf("trainablePlayers", "need at least one trainable player")
	}
	seen := make(map[int]bool, len(c.TrainablePlayers))
	for _, p := range c.TrainablePlayers {
		if p < 0 {
			return types.ConfigErrorf("trainablePlayers", "player index %d is negative", p)
		}
		if seen[p] {
			return types.ConfigErrorf("trainablePlayers", "player %d listed twice", p)
		}
		seen[p] = true
	}
	if c.MaxGames < 1 {
		return types.ConfigErrorf("maxGames", "must be at least 1, got %d", c.MaxGames)
	}
	if c.AutoSaveInterval < 0 {
		return types.ConfigErrorf("autoSaveInterval", "must not be negative, got %d", c.AutoSaveInterval)
	}
	if c.Algorithm.Type != "PPO" {
		return types.ConfigErrorf("algorithm.type", "unknown algorithm %q (only PPO is implemented)", c.Algorithm.Type)
	}
	for k, v := range c.Opponents {
		p, err := strconv.Atoi(k)
		if err != nil {
			return types.ConfigErrorf("opponents", "player key %q is not an integer", k)
		}
		if seen[p] {
			return types.ConfigErrorf("opponents", "player %d is trainable and cannot have an opponent controller", p)
		}
		if v != "random" && !strings.HasPrefix(v, "policy:") {
			return types.ConfigErrorf("opponents", "player %s: unknown controller %q (want random or policy:TARGET)", k, v)
		}
		if strings.HasPrefix(v, "policy:") && strings.TrimPrefix(v, "policy:") == "" {
			return types.ConfigErrorf("opponents", "player %s: policy controller needs a checkpoint target", k)
		}
	}
	if err := c.rolloutConfig().Validate(); err != nil {
		return err
	}
	return c.Algorithm.Hyperparameters.Validate()
}

// players returns the trainable player set in ascending order.
func (c Config) players() []int {
	out := append([]int(nil), c.TrainablePlayers...)
	sort.Ints(out)
	return out
}

func (c Config) rolloutConfig() rollout.Config {
	return rollout.Config{
		NumRollouts:     c.NumRollouts,
		TargetGames:     c.GamesPerIteration,
		TargetSteps:     c.StepsPerIteration,
		MaxEpisodeSteps: c.MaxEpisodeSteps,
		TimeStep:        c.Dt,
	}
}
