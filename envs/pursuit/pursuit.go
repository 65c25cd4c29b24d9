// Package pursuit is a two-player tag game on the unit square. Player 0
// chases, player 1 flees. Each player steers with two continuous action
// indices and may spend reward on a discrete dash that boosts speed, so the
// environment exercises the mixed action layout end to end. The chaser wins
// by closing within the catch radius; the evader wins by surviving the clock.
package pursuit

import (
	"errors"
	"math"

	"golang.org/x/exp/rand"

	"github.com/Kokkini/MimicRL/types"
)

const (
	pursuerSpeed = 0.35
	evaderSpeed  = 0.30
	dashFactor   = 1.8
	dashCost     = 0.05
	catchRadius  = 0.08
	maxTime      = 20.0
	catchReward  = 10.0
)

type Env struct {
	rng     *rand.Rand
	px, py  float64
	ex, ey  float64
	elapsed float64
	done    bool
}

func New(seed uint64) *Env {
	return &Env{rng: rand.New(rand.NewSource(seed)), done: true}
}

func (e *Env) NumPlayers() int      { return 2 }
func (e *Env) ObservationSize() int { return 6 }
func (e *Env) ActionSize() int      { return 3 }

func (e *Env) ActionSpaces() []types.ActionSpace {
	return []types.ActionSpace{
		{Index: 0, Kind: types.Continuous},
		{Index: 1, Kind: types.Continuous},
		{Index: 2, Kind: types.Discrete},
	}
}

// observe gives each player its own position first, the opponent's second,
// and the gap vector pointing at the opponent.
func (e *Env) observe() []types.Observation {
	return []types.Observation{
		{e.px, e.py, e.ex, e.ey, e.ex - e.px, e.ey - e.py},
		{e.ex, e.ey, e.px, e.py, e.px - e.ex, e.py - e.ey},
	}
}

func (e *Env) distance() float64 {
	return math.Hypot(e.px-e.ex, e.py-e.ey)
}

func (e *Env) Reset() (*types.StepResult, error) {
	for {
		e.px = e.rng.Float64()
		e.py = e.rng.Float64()
		e.ex = e.rng.Float64()
		e.ey = e.rng.Float64()
		if e.distance() > 0.4 {
			break
		}
	}
	e.elapsed = 0
	e.done = false
	return &types.StepResult{
		Observations: e.observe(),
		Rewards:      []float64{0, 0},
	}, nil
}

// move applies one player's steering to a position. Direction vectors longer
// than one are normalized, shorter ones move proportionally slower.
func move(x, y float64, a types.Action, speed, dt float64) (float64, float64, bool) {
	dx, dy := a[0], a[1]
	dash := a[2] >= 0.5
	if n := math.Hypot(dx, dy); n > 1 {
		dx /= n
		dy /= n
	}
	if dash {
		speed *= dashFactor
	}
	x = clamp01(x + dx*speed*dt)
	y = clamp01(y + dy*speed*dt)
	return x, y, dash
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}

func (e *Env) Step(actions []types.Action, dt float64) (*types.StepResult, error) {
	if e.done {
		return nil, errors.New("pursuit: episode finished, reset first")
	}
	if len(actions) != 2 {
		return nil, errors.New("pursuit: expected actions for two players")
	}
	for _, a := range actions {
		if len(a) != 3 {
			return nil, errors.New("pursuit: expected actions of length 3")
		}
	}

	var pDash, eDash bool
	e.px, e.py, pDash = move(e.px, e.py, actions[0], pursuerSpeed, dt)
	e.ex, e.ey, eDash = move(e.ex, e.ey, actions[1], evaderSpeed, dt)
	e.elapsed += dt

	dist := e.distance()
	rewards := []float64{-dist * dt, dist * dt}
	if pDash {
		rewards[0] -= dashCost * dt
	}
	if eDash {
		rewards[1] -= dashCost * dt
	}

	var outcome *types.Outcome
	switch {
	case dist <= catchRadius:
		e.done = true
		rewards[0] += catchReward
		rewards[1] -= catchReward
		outcome = &types.Outcome{Winner: 0, Completed: true}
	case e.elapsed >= maxTime:
		e.done = true
		rewards[0] -= catchReward
		rewards[1] += catchReward
		outcome = &types.Outcome{Winner: 1, Completed: true}
	}

	return &types.StepResult{
		Observations: e.observe(),
		Rewards:      rewards,
		Done:         e.done,
		Outcome:      outcome,
	}, nil
}
