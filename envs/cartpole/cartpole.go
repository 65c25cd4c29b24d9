// Package cartpole is the classic pole-balancing task, integrated with the
// caller's time step. The force action comes in a continuous variant (force
// scaled into [-max, max]) and a discrete one (full force left or right).
// Reward is 1 per step survived; the episode ends when the cart leaves the
// track or the pole falls past twelve degrees.
package cartpole

import (
	"errors"
	"math"

	"golang.org/x/exp/rand"

	"github.com/Kokkini/MimicRL/types"
)

const (
	gravity        = 9.81
	massCart       = 1.0
	massPole       = 0.1
	poleLength     = 0.5
	totalMass      = massCart + massPole
	poleMassLength = massPole * poleLength
	forceMax       = 10.0

	xThreshold     = 2.4
	thetaThreshold = 12.0 * math.Pi / 180.0
)

type Env struct {
	rng      *rand.Rand
	discrete bool
	x        float64
	xDot     float64
	theta    float64
	thetaDot float64
	done     bool
}

// New builds the continuous-force variant.
func New(seed uint64) *Env {
	return &Env{rng: rand.New(rand.NewSource(seed)), done: true}
}

// NewDiscrete builds the bang-bang variant: action 0 pushes left, 1 right.
func NewDiscrete(seed uint64) *Env {
	e := New(seed)
	e.discrete = true
	return e
}

func (e *Env) NumPlayers() int      { return 1 }
func (e *Env) ObservationSize() int { return 4 }
func (e *Env) ActionSize() int      { return 1 }

func (e *Env) ActionSpaces() []types.ActionSpace {
	kind := types.Continuous
	if e.discrete {
		kind = types.Discrete
	}
	return []types.ActionSpace{{Index: 0, Kind: kind}}
}

func (e *Env) observe() types.Observation {
	return types.Observation{e.x, e.xDot, e.theta, e.thetaDot}
}

func (e *Env) Reset() (*types.StepResult, error) {
	e.x = e.rng.Float64()*0.1 - 0.05
	e.xDot = e.rng.Float64()*0.1 - 0.05
	e.theta = e.rng.Float64()*0.1 - 0.05
	e.thetaDot = e.rng.Float64()*0.1 - 0.05
	e.done = false
	return &types.StepResult{
		Observations: []types.Observation{e.observe()},
		Rewards:      []float64{0},
	}, nil
}

func (e *Env) Step(actions []types.Action, dt float64) (*types.StepResult, error) {
	if e.done {
		return nil, errors.New("cartpole: episode finished, reset first")
	}
	if len(actions) != 1 || len(actions[0]) != 1 {
		return nil, errors.New("cartpole: expected one action of length 1")
	}
	var force float64
	if e.discrete {
		force = -forceMax
		if actions[0][0] >= 0.5 {
			force = forceMax
		}
	} else {
		force = actions[0][0] * forceMax
		if force > forceMax {
			force = forceMax
		} else if force < -forceMax {
			force = -forceMax
		}
	}

	cosTheta := math.Cos(e.theta)
	sinTheta := math.Sin(e.theta)
	temp := (force + poleMassLength*e.thetaDot*e.thetaDot*sinTheta) / totalMass
	thetaAcc := (gravity*sinTheta - cosTheta*temp) /
		(poleLength * (4.0/3.0 - massPole*cosTheta*cosTheta/totalMass))
	xAcc := temp - poleMassLength*thetaAcc*cosTheta/totalMass

	e.x += dt * e.xDot
	e.xDot += dt * xAcc
	e.theta += dt * e.thetaDot
	e.thetaDot += dt * thetaAcc

	e.done = e.x < -xThreshold || e.x > xThreshold ||
		e.theta < -thetaThreshold || e.theta > thetaThreshold
	reward := 1.0
	if e.done {
		reward = 0.0
	}
	return &types.StepResult{
		Observations: []types.Observation{e.observe()},
		Rewards:      []float64{reward},
		Done:         e.done,
	}, nil
}
