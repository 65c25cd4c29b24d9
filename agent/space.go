package agent

import (
	"math"

	"golang.org/x/exp/rand"
	"gonum.org/v1/gonum/stat/distuv"

	"github.com/Kokkini/MimicRL/types"
)

// The action model treats every index of an action vector as an independent
// distribution parameterized by the policy output at that index: a Bernoulli
// on sigmoid(logit) for discrete indices, a Gaussian with mean taken in the
// action's native units and a learnable per-index standard deviation for
// continuous ones. Joint log-likelihood and entropy are per-index sums.

func sigmoid(z float64) float64 {
	if z >= 0 {
		return 1 / (1 + math.Exp(-z))
	}
	e := math.Exp(z)
	return e / (1 + e)
}

// softplus computes log(1+exp(x)) without overflowing for large |x|.
func softplus(x float64) float64 {
	return math.Max(x, 0) + math.Log1p(math.Exp(-math.Abs(x)))
}

// bernoulliLogProb is the log-likelihood of the realized 0/1 value a under a
// Bernoulli on sigmoid(z), computed through the log-sigmoid so that extreme
// logits do not underflow the way log(sigmoid(z)) would.
func bernoulliLogProb(z, a float64) float64 {
	if a >= 0.5 {
		return -softplus(-z)
	}
	return -softplus(z)
}

// ValidateSpaces checks an action-space layout against the declared action
// size. Called once at agent construction, never per call.
func ValidateSpaces(spaces []types.ActionSpace, actionSize int) error {
	if len(spaces) != actionSize {
		return types.ConfigErrorf("actionSpaces", "layout has %d entries for action size %d", len(spaces), actionSize)
	}
	for i, sp := range spaces {
		if sp.Index != i {
			return types.ConfigErrorf("actionSpaces", "entry %d carries index %d", i, sp.Index)
		}
		if sp.Kind != types.Discrete && sp.Kind != types.Continuous {
			return types.ConfigErrorf("actionSpaces", "entry %d has unknown kind %d", i, int(sp.Kind))
		}
	}
	return nil
}

// Sample draws an action vector from the per-index distributions given the
// policy outputs and per-index log standard deviations, returning the action
// together with its joint log-likelihood. Continuous indices are sampled in
// the reparameterized form mu + sigma*eps.
func Sample(spaces []types.ActionSpace, params, logStd []float64, src rand.Source) (types.Action, float64) {
	action := make(types.Action, len(spaces))
	logProb := 0.0
	for i, sp := range spaces {
		switch sp.Kind {
		case types.Discrete:
			a := distuv.Bernoulli{P: sigmoid(params[i]), Src: src}.Rand()
			action[i] = a
			logProb += bernoulliLogProb(params[i], a)
		case types.Continuous:
			eps := distuv.Normal{Mu: 0, Sigma: 1, Src: src}.Rand()
			sigma := math.Exp(logStd[i])
			x := params[i] + sigma*eps
			action[i] = x
			logProb += distuv.Normal{Mu: params[i], Sigma: sigma}.LogProb(x)
		}
	}
	return action, logProb
}

// LogProb computes the joint log-likelihood of an already-realized action
// under the given parameters, without sampling. Used during optimization,
// where the parameters have moved since the action was drawn.
func LogProb(spaces []types.ActionSpace, params, logStd []float64, action types.Action) float64 {
	logProb := 0.0
	for i, sp := range spaces {
		switch sp.Kind {
		case types.Discrete:
			logProb += bernoulliLogProb(params[i], action[i])
		case types.Continuous:
			sigma := math.Exp(logStd[i])
			logProb += distuv.Normal{Mu: params[i], Sigma: sigma}.LogProb(action[i])
		}
	}
	return logProb
}

// Entropy computes the joint entropy of the action distribution at the given
// parameters.
func Entropy(spaces []types.ActionSpace, params, logStd []float64) float64 {
	h := 0.0
	for i, sp := range spaces {
		switch sp.Kind {
		case types.Discrete:
			h += distuv.Bernoulli{P: sigmoid(params[i])}.Entropy()
		case types.Continuous:
			h += distuv.Normal{Mu: params[i], Sigma: math.Exp(logStd[i])}.Entropy()
		}
	}
	return h
}

// LogProbGrad writes, per index, the derivative of the joint log-likelihood
// of action with respect to the policy output (dParams) and with respect to
// logStd (dLogStd). Both output slices are overwritten, not accumulated.
//
// Discrete:   dlogp/dz      = a - sigmoid(z)
// Continuous: dlogp/dmu     = (x-mu)/sigma^2
//             dlogp/dlogstd = ((x-mu)/sigma)^2 - 1
func LogProbGrad(spaces []types.ActionSpace, params, logStd []float64, action types.Action, dParams, dLogStd []float64) {
	for i, sp := range spaces {
		switch sp.Kind {
		case types.Discrete:
			a := 0.0
			if action[i] >= 0.5 {
				a = 1.0
			}
			dParams[i] = a - sigmoid(params[i])
			dLogStd[i] = 0
		case types.Continuous:
			sigma := math.Exp(logStd[i])
			z := (action[i] - params[i]) / sigma
			dParams[i] = z / sigma
			dLogStd[i] = z*z - 1
		}
	}
}

// EntropyGrad writes, per index, the derivative of the joint entropy with
// respect to the policy output and logStd.
//
// Discrete:   dH/dz      = -z * p * (1-p)   (since dH/dp = log((1-p)/p) = -z)
// Continuous: dH/dmu = 0, dH/dlogstd = 1
func EntropyGrad(spaces []types.ActionSpace, params, logStd []float64, dParams, dLogStd []float64) {
	for i, sp := range spaces {
		switch sp.Kind {
		case types.Discrete:
			p := sigmoid(params[i])
			dParams[i] = -params[i] * p * (1 - p)
			dLogStd[i] = 0
		case types.Continuous:
			dParams[i] = 0
			dLogStd[i] = 1
		}
	}
}
