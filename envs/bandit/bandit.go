// Package bandit is a minimal learning probe with one player and the mixed
// action layout: one discrete index and one continuous index. The reward is
// +1 whenever the discrete action is 1 and the continuous index is ignored,
// so a working optimizer drives the discrete logit up within a few
// iterations. Episodes run a fixed horizon.
package bandit

import (
	"errors"

	"github.com/Kokkini/MimicRL/types"
)

const horizon = 10

type Env struct {
	t    int
	done bool
}

// New ignores the seed; the environment is deterministic.
func New(seed uint64) *Env {
	return &Env{done: true}
}

func (e *Env) NumPlayers() int      { return 1 }
func (e *Env) ObservationSize() int { return 2 }
func (e *Env) ActionSize() int      { return 2 }

func (e *Env) ActionSpaces() []types.ActionSpace {
	return []types.ActionSpace{
		{Index: 0, Kind: types.Discrete},
		{Index: 1, Kind: types.Continuous},
	}
}

func (e *Env) observe() types.Observation {
	return types.Observation{1, float64(e.t) / horizon}
}

func (e *Env) Reset() (*types.StepResult, error) {
	e.t = 0
	e.done = false
	return &types.StepResult{
		Observations: []types.Observation{e.observe()},
		Rewards:      []float64{0},
	}, nil
}

func (e *Env) Step(actions []types.Action, dt float64) (*types.StepResult, error) {
	if e.done {
		return nil, errors.New("bandit: episode finished, reset first")
	}
	if len(actions) != 1 || len(actions[0]) != 2 {
		return nil, errors.New("bandit: expected one action of length 2")
	}
	reward := 0.0
	if actions[0][0] >= 0.5 {
		reward = 1.0
	}
	e.t++
	e.done = e.t >= horizon
	return &types.StepResult{
		Observations: []types.Observation{e.observe()},
		Rewards:      []float64{reward},
		Done:         e.done,
	}, nil
}
