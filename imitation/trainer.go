package imitation

import (
	"errors"

	"github.com/rs/zerolog"
	"golang.org/x/exp/rand"

	"github.com/Kokkini/MimicRL/agent"
	"github.com/Kokkini/MimicRL/types"
)

// ErrEmptyDataset is returned when Fit receives no examples.
var ErrEmptyDataset = errors.New("imitation: empty dataset")

// Config are the behavior-cloning hyperparameters.
type Config struct {
	Epochs        int     `json:"epochs"`
	MiniBatchSize int     `json:"miniBatchSize"`
	LearningRate  float64 `json:"learningRate"`
	MaxGradNorm   float64 `json:"maxGradNorm"`
	Seed          uint64  `json:"seed"`
}

// Validate checks the hyperparameters.
func (c Config) Validate() error {
	if c.Epochs < 1 {
		return types.ConfigErrorf("epochs", "must be at least 1, got %d", c.Epochs)
	}
	if c.MiniBatchSize < 1 {
		return types.ConfigErrorf("miniBatchSize", "must be at least 1, got %d", c.MiniBatchSize)
	}
	if c.LearningRate <= 0 {
		return types.ConfigErrorf("learningRate", "must be positive, got %v", c.LearningRate)
	}
	if c.MaxGradNorm < 0 {
		return types.ConfigErrorf("maxGradNorm", "must not be negative, got %v", c.MaxGradNorm)
	}
	return nil
}

// EpochReport is the mean negative log-likelihood after one pass.
type EpochReport struct {
	Epoch int     `json:"epoch"`
	Loss  float64 `json:"loss"`
}

// Trainer fits an agent's policy to expert actions by minimizing their
// negative log-likelihood. The value network is left alone; demonstrations
// carry no returns to regress against.
type Trainer struct {
	cfg   Config
	agent *agent.PolicyAgent
	opt   *agent.Adam
	grad  *agent.Grad
	rng   *rand.Rand
	log   zerolog.Logger

	dPar []float64
	dLs  []float64
	dMix []float64
}

func New(cfg Config, ag *agent.PolicyAgent, log zerolog.Logger) (*Trainer, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	n := ag.ActionSize()
	return &Trainer{
		cfg:   cfg,
		agent: ag,
		opt:   agent.NewAdam(cfg.LearningRate, ag.NumParams()),
		grad:  ag.NewGrad(),
		rng:   rand.New(rand.NewSource(cfg.Seed)),
		log:   log.With().Str("component", "imitation").Logger(),
		dPar:  make([]float64, n),
		dLs:   make([]float64, n),
		dMix:  make([]float64, n),
	}, nil
}

// Fit runs the configured epochs of shuffled mini-batches and returns one
// report per epoch. It yields before every mini-batch.
func (t *Trainer) Fit(ds *Dataset, yield types.YieldFunc) ([]EpochReport, error) {
	if ds == nil || ds.Len() == 0 {
		return nil, ErrEmptyDataset
	}
	for _, ex := range ds.Examples {
		if len(ex.Observation) != t.agent.ObservationSize() {
			return nil, &types.ShapeMismatchError{What: "demonstration observation", Want: t.agent.ObservationSize(), Got: len(ex.Observation)}
		}
		if len(ex.Action) != t.agent.ActionSize() {
			return nil, &types.ShapeMismatchError{What: "demonstration action", Want: t.agent.ActionSize(), Got: len(ex.Action)}
		}
	}
	idx := make([]int, ds.Len())
	for i := range idx {
		idx[i] = i
	}
	reports := make([]EpochReport, 0, t.cfg.Epochs)
	for epoch := 1; epoch <= t.cfg.Epochs; epoch++ {
		t.rng.Shuffle(len(idx), func(i, j int) { idx[i], idx[j] = idx[j], idx[i] })
		epochLoss := 0.0
		for start := 0; start < len(idx); start += t.cfg.MiniBatchSize {
			if err := types.Yield(yield); err != nil {
				return reports, err
			}
			end := start + t.cfg.MiniBatchSize
			if end > len(idx) {
				end = len(idx)
			}
			loss, err := t.step(ds, idx[start:end])
			if err != nil {
				return reports, err
			}
			epochLoss += loss * float64(end-start)
		}
		report := EpochReport{Epoch: epoch, Loss: epochLoss / float64(ds.Len())}
		reports = append(reports, report)
		t.log.Info().Int("epoch", epoch).Float64("loss", report.Loss).Msg("cloning epoch complete")
	}
	return reports, nil
}

func (t *Trainer) step(ds *Dataset, batch []int) (float64, error) {
	t.grad.Zero()
	spaces := t.agent.Spaces()
	logStd := t.agent.LogStd()
	n := float64(len(batch))
	loss := 0.0
	for _, k := range batch {
		ex := ds.Examples[k]
		fr, err := t.agent.Forward(ex.Observation)
		if err != nil {
			return 0, err
		}
		logP := agent.LogProb(spaces, fr.Params, logStd, ex.Action)
		loss += -logP

		agent.LogProbGrad(spaces, fr.Params, logStd, ex.Action, t.dPar, t.dLs)
		for i := range t.dMix {
			t.dMix[i] = -t.dPar[i] / n
			t.grad.LogStd[i] += -t.dLs[i] / n
		}
		t.agent.Backward(fr, t.dMix, 0, t.grad)
	}
	agent.ClipGlobalNorm(t.cfg.MaxGradNorm, t.grad.Groups())
	if err := t.opt.Step(t.agent.ParamGroups(), t.grad.Groups()); err != nil {
		return 0, err
	}
	return loss / n, nil
}
