// Package ppo implements proximal policy optimization over the trajectories
// a collector produces: generalized advantage estimation, then several epochs
// of shuffled mini-batch updates on the clipped surrogate objective with a
// value regression term and an entropy bonus, all applied through one joint
// optimizer step per mini-batch.
package ppo

import (
	"math"

	"github.com/rs/zerolog"
	"golang.org/x/exp/rand"

	"github.com/Kokkini/MimicRL/agent"
	"github.com/Kokkini/MimicRL/types"
)

// Config are the optimization hyperparameters for one trainer.
type Config struct {
	Gamma              float64 `json:"gamma"`
	Lambda             float64 `json:"gaeLambda"`
	ClipRatio          float64 `json:"clipRatio"`
	Epochs             int     `json:"epochs"`
	MiniBatchSize      int     `json:"miniBatchSize"`
	LearningRate       float64 `json:"learningRate"`
	ValueLossCoeff     float64 `json:"valueLossCoeff"`
	EntropyCoeff       float64 `json:"entropyCoeff"`
	MaxGradNorm        float64 `json:"maxGradNorm"`
	YieldEvery         int     `json:"yieldEvery"`
	NormalizeAdvantage bool    `json:"normalizeAdvantage"`
}

// Validate checks the hyperparameters.
func (c Config) Validate() error {
	if c.Gamma <= 0 || c.Gamma > 1 {
		return types.ConfigErrorf("gamma", "must be in (0, 1], got %v", c.Gamma)
	}
	if c.Lambda < 0 || c.Lambda > 1 {
		return types.ConfigErrorf("gaeLambda", "must be in [0, 1], got %v", c.Lambda)
	}
	if c.ClipRatio <= 0 {
		return types.ConfigErrorf("clipRatio", "must be positive, got %v", c.ClipRatio)
	}
	if c.Epochs < 1 {
		return types.ConfigErrorf("epochs", "must be at least 1, got %d", c.Epochs)
	}
	if c.MiniBatchSize < 1 {
		return types.ConfigErrorf("miniBatchSize", "must be at least 1, got %d", c.MiniBatchSize)
	}
	if c.LearningRate <= 0 {
		return types.ConfigErrorf("learningRate", "must be positive, got %v", c.LearningRate)
	}
	if c.ValueLossCoeff < 0 {
		return types.ConfigErrorf("valueLossCoeff", "must not be negative, got %v", c.ValueLossCoeff)
	}
	if c.EntropyCoeff < 0 {
		return types.ConfigErrorf("entropyCoeff", "must not be negative, got %v", c.EntropyCoeff)
	}
	if c.MaxGradNorm < 0 {
		return types.ConfigErrorf("maxGradNorm", "must not be negative, got %v", c.MaxGradNorm)
	}
	if c.YieldEvery < 1 {
		return types.ConfigErrorf("yieldEvery", "must be at least 1, got %d", c.YieldEvery)
	}
	return nil
}

// Diagnostics aggregates the optimization signals of one training pass,
// averaged over every transition visit. A pass over an empty pool reports
// all zeros.
type Diagnostics struct {
	PolicyLoss   float64 `json:"policyLoss"`
	ValueLoss    float64 `json:"valueLoss"`
	Entropy      float64 `json:"entropy"`
	TotalLoss    float64 `json:"totalLoss"`
	ClipFraction float64 `json:"clipFraction"`
	ApproxKL     float64 `json:"klDivergence"`
	GradNorm     float64 `json:"gradNorm"`
	Updates      int     `json:"updates"`
}

// Trainer owns the optimizer state for one agent. It is driven from the run
// loop and is not safe for concurrent use.
type Trainer struct {
	cfg   Config
	agent *agent.PolicyAgent
	opt   *agent.Adam
	grad  *agent.Grad
	rng   *rand.Rand
	log   zerolog.Logger

	// scratch, sized to the action vector
	dPar  []float64
	dLs   []float64
	dParH []float64
	dLsH  []float64
	dMix  []float64
}

// New builds a trainer around an agent. The seed drives mini-batch shuffling
// only; action sampling keeps the agent's own stream.
func New(cfg Config, ag *agent.PolicyAgent, seed uint64, log zerolog.Logger) (*Trainer, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	n := ag.ActionSize()
	return &Trainer{
		cfg:   cfg,
		agent: ag,
		opt:   agent.NewAdam(cfg.LearningRate, ag.NumParams()),
		grad:  ag.NewGrad(),
		rng:   rand.New(rand.NewSource(seed)),
		log:   log.With().Str("component", "trainer").Logger(),
		dPar:  make([]float64, n),
		dLs:   make([]float64, n),
		dParH: make([]float64, n),
		dLsH:  make([]float64, n),
		dMix:  make([]float64, n),
	}, nil
}

// Train runs one full pass over the pool: advantage estimation, then Epochs
// passes of shuffled mini-batches. It yields every YieldEvery mini-batches; a
// stop request surfaces as ErrStopped with the parameters left at the last
// completed update. An empty pool is a no-op with zero diagnostics, since one
// player having nothing to learn from is a valid iteration outcome.
func (t *Trainer) Train(trajs []*types.Trajectory, yield types.YieldFunc) (*Diagnostics, error) {
	for _, tr := range trajs {
		ComputeGAE(tr, t.cfg.Gamma, t.cfg.Lambda)
	}
	if t.cfg.NormalizeAdvantage {
		NormalizeAdvantages(trajs)
	}
	var data []*types.Transition
	for _, tr := range trajs {
		for i := range tr.Steps {
			data = append(data, &tr.Steps[i])
		}
	}
	if len(data) == 0 {
		return &Diagnostics{}, nil
	}
	idx := make([]int, len(data))
	for i := range idx {
		idx[i] = i
	}
	diag := &Diagnostics{}
	visits := 0
	batches := 0
	for epoch := 0; epoch < t.cfg.Epochs; epoch++ {
		t.rng.Shuffle(len(idx), func(i, j int) { idx[i], idx[j] = idx[j], idx[i] })
		for start := 0; start < len(idx); start += t.cfg.MiniBatchSize {
			if batches%t.cfg.YieldEvery == 0 {
				if err := types.Yield(yield); err != nil {
					return nil, err
				}
			}
			batches++
			end := start + t.cfg.MiniBatchSize
			if end > len(idx) {
				end = len(idx)
			}
			if err := t.step(data, idx[start:end], diag); err != nil {
				return nil, err
			}
			visits += end - start
		}
	}
	diag.PolicyLoss /= float64(visits)
	diag.ValueLoss /= float64(visits)
	diag.Entropy /= float64(visits)
	diag.ClipFraction /= float64(visits)
	diag.ApproxKL /= float64(visits)
	diag.GradNorm /= float64(diag.Updates)
	diag.TotalLoss = diag.PolicyLoss + t.cfg.ValueLossCoeff*diag.ValueLoss - t.cfg.EntropyCoeff*diag.Entropy
	t.log.Debug().
		Float64("policyLoss", diag.PolicyLoss).
		Float64("valueLoss", diag.ValueLoss).
		Float64("entropy", diag.Entropy).
		Float64("approxKL", diag.ApproxKL).
		Msg("training pass complete")
	return diag, nil
}

// clippedSurrogate evaluates PPO's pessimistic objective term for one
// transition: the minimum of ratio*advantage and its clipped counterpart.
// active reports whether the unclipped branch is that minimum, which is the
// only case where gradient flows; once the ratio has drifted past the clip
// band on the profitable side, the term is flat and active is false.
func clippedSurrogate(ratio, advantage, clip float64) (obj float64, active bool) {
	clipped := ratio
	if clipped < 1-clip {
		clipped = 1 - clip
	} else if clipped > 1+clip {
		clipped = 1 + clip
	}
	s1 := ratio * advantage
	s2 := clipped * advantage
	if s1 <= s2 {
		return s1, true
	}
	return s2, false
}

// step runs one mini-batch: per-transition forward passes, analytic gradients
// of the clipped surrogate, value and entropy terms, then a single clipped
// joint optimizer update.
func (t *Trainer) step(data []*types.Transition, batch []int, diag *Diagnostics) error {
	t.grad.Zero()
	spaces := t.agent.Spaces()
	logStd := t.agent.LogStd()
	n := float64(len(batch))
	for _, k := range batch {
		s := data[k]
		fr, err := t.agent.Forward(s.Observation)
		if err != nil {
			return err
		}
		newLogP := agent.LogProb(spaces, fr.Params, logStd, s.Action)
		entropy := agent.Entropy(spaces, fr.Params, logStd)
		ratio := math.Exp(newLogP - s.LogProb)
		obj, active := clippedSurrogate(ratio, s.Advantage, t.cfg.ClipRatio)

		coefLogP := 0.0
		if active {
			coefLogP = -ratio * s.Advantage / n
		}
		vErr := fr.Value - s.Return
		dValue := t.cfg.ValueLossCoeff * 2 * vErr / n

		agent.LogProbGrad(spaces, fr.Params, logStd, s.Action, t.dPar, t.dLs)
		agent.EntropyGrad(spaces, fr.Params, logStd, t.dParH, t.dLsH)
		for i := range t.dMix {
			t.dMix[i] = coefLogP*t.dPar[i] - t.cfg.EntropyCoeff/n*t.dParH[i]
			t.grad.LogStd[i] += coefLogP*t.dLs[i] - t.cfg.EntropyCoeff/n*t.dLsH[i]
		}
		t.agent.Backward(fr, t.dMix, dValue, t.grad)

		diag.PolicyLoss += -obj
		diag.ValueLoss += vErr * vErr
		diag.Entropy += entropy
		diag.ApproxKL += s.LogProb - newLogP
		if math.Abs(ratio-1) > t.cfg.ClipRatio {
			diag.ClipFraction++
		}
	}
	norm := agent.ClipGlobalNorm(t.cfg.MaxGradNorm, t.grad.Groups())
	if err := t.opt.Step(t.agent.ParamGroups(), t.grad.Groups()); err != nil {
		return err
	}
	diag.GradNorm += norm
	diag.Updates++
	return nil
}
