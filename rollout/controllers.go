package rollout

import (
	"golang.org/x/exp/rand"

	"github.com/Kokkini/MimicRL/agent"
	"github.com/Kokkini/MimicRL/types"
)

// PolicyController drives a player with an agent through the generic
// controller interface. The agent's parameters are whatever they are at call
// time, so wrapping the live training agent gives a self-play opponent and
// wrapping a restored snapshot gives a frozen one.
type PolicyController struct {
	agent *agent.PolicyAgent
}

func NewPolicyController(a *agent.PolicyAgent) *PolicyController {
	return &PolicyController{agent: a}
}

func (p *PolicyController) Decide(obs types.Observation) (types.Action, error) {
	out, err := p.agent.Act(obs)
	if err != nil {
		return nil, err
	}
	return out.Action, nil
}

// RandomController samples uniformly over the action layout: fair coin flips
// on discrete indices, uniform in [-scale, scale] on continuous ones.
type RandomController struct {
	spaces []types.ActionSpace
	scale  float64
	rng    *rand.Rand
}

func NewRandomController(spaces []types.ActionSpace, scale float64, seed uint64) *RandomController {
	return &RandomController{
		spaces: spaces,
		scale:  scale,
		rng:    rand.New(rand.NewSource(seed)),
	}
}

func (r *RandomController) Decide(types.Observation) (types.Action, error) {
	action := make(types.Action, len(r.spaces))
	for i, sp := range r.spaces {
		switch sp.Kind {
		case types.Discrete:
			if r.rng.Float64() < 0.5 {
				action[i] = 1
			}
		case types.Continuous:
			action[i] = (2*r.rng.Float64() - 1) * r.scale
		}
	}
	return action, nil
}

// ScriptedController adapts a plain decide function, for hand-written
// opponents and test fixtures.
type ScriptedController func(types.Observation) (types.Action, error)

func (f ScriptedController) Decide(obs types.Observation) (types.Action, error) {
	return f(obs)
}
