// Package agent implements the trainable policy: a policy network producing
// per-index distribution parameters, a value network producing a state-value
// estimate, and a learnable log standard deviation for continuous action
// indices. The networks are plain tanh MLPs with hand-written gradients; the
// optimizer treats the whole agent as one flat parameter vector.
package agent

import (
	"golang.org/x/exp/rand"

	"github.com/Kokkini/MimicRL/types"
)

// Config fixes the shapes and initial state of an agent.
type Config struct {
	ObservationSize int                 `json:"observationSize"`
	ActionSize      int                 `json:"actionSize"`
	Spaces          []types.ActionSpace `json:"actionSpaces"`
	Hidden          []int               `json:"hidden"`
	InitLogStd      float64             `json:"initLogStd"`
	Seed            uint64              `json:"seed"`
}

// PolicyAgent holds the policy network, the value network and the per-index
// log standard deviations. It is not safe for concurrent use; the training
// loop owns it.
type PolicyAgent struct {
	cfg    Config
	spaces []types.ActionSpace
	policy *MLP
	value  *MLP
	logStd []float64
	rng    *rand.Rand
}

// New builds an agent with freshly initialized networks. Every continuous
// index starts at cfg.InitLogStd; discrete entries of the log-std vector are
// carried but never used.
func New(cfg Config) (*PolicyAgent, error) {
	if cfg.ObservationSize <= 0 {
		return nil, types.ConfigErrorf("observationSize", "must be positive, got %d", cfg.ObservationSize)
	}
	if cfg.ActionSize <= 0 {
		return nil, types.ConfigErrorf("actionSize", "must be positive, got %d", cfg.ActionSize)
	}
	if err := ValidateSpaces(cfg.Spaces, cfg.ActionSize); err != nil {
		return nil, err
	}
	rng := rand.New(rand.NewSource(cfg.Seed))
	policySizes := append(append([]int{cfg.ObservationSize}, cfg.Hidden...), cfg.ActionSize)
	policy, err := NewMLP(policySizes, rng)
	if err != nil {
		return nil, err
	}
	valueSizes := append(append([]int{cfg.ObservationSize}, cfg.Hidden...), 1)
	value, err := NewMLP(valueSizes, rng)
	if err != nil {
		return nil, err
	}
	logStd := make([]float64, cfg.ActionSize)
	for i := range logStd {
		logStd[i] = cfg.InitLogStd
	}
	return &PolicyAgent{
		cfg:    cfg,
		spaces: append([]types.ActionSpace(nil), cfg.Spaces...),
		policy: policy,
		value:  value,
		logStd: logStd,
		rng:    rng,
	}, nil
}

// Spaces returns the action-space layout the agent was built for.
func (a *PolicyAgent) Spaces() []types.ActionSpace { return a.spaces }

// ObservationSize reports the observation length the networks expect.
func (a *PolicyAgent) ObservationSize() int { return a.cfg.ObservationSize }

// ActionSize reports the action vector length the agent produces.
func (a *PolicyAgent) ActionSize() int { return a.cfg.ActionSize }

// LogStd returns the live log standard deviation vector. The optimizer
// updates it in place.
func (a *PolicyAgent) LogStd() []float64 { return a.logStd }

// NumParams is the total length of the agent's parameter vector: both
// networks plus log-std.
func (a *PolicyAgent) NumParams() int {
	return a.policy.NumParams() + a.value.NumParams() + len(a.logStd)
}

// ParamGroups exposes the parameter vector as the slice groups the optimizer
// steps over. Order matches Grad.Groups.
func (a *PolicyAgent) ParamGroups() [][]float64 {
	return [][]float64{a.policy.Params(), a.value.Params(), a.logStd}
}

// Act samples an action for one observation, recording the log-likelihood and
// value estimate at the moment of sampling. Deterministic given the parameter
// state and the agent's seed.
func (a *PolicyAgent) Act(obs types.Observation) (*types.ActOutput, error) {
	if len(obs) != a.cfg.ObservationSize {
		return nil, &types.ShapeMismatchError{What: "observation", Want: a.cfg.ObservationSize, Got: len(obs)}
	}
	params := a.policy.Forward(obs)
	value := a.value.Forward(obs)[0]
	action, logProb := Sample(a.spaces, params, a.logStd, a.rng)
	return &types.ActOutput{Action: action, LogProb: logProb, Value: value}, nil
}

// Evaluation is the re-assessment of a stored transition under the current
// parameters.
type Evaluation struct {
	LogProb float64
	Entropy float64
	Value   float64
}

// Evaluate recomputes log-likelihood, entropy and value for an
// observation/action pair without sampling.
func (a *PolicyAgent) Evaluate(obs types.Observation, action types.Action) (Evaluation, error) {
	if len(obs) != a.cfg.ObservationSize {
		return Evaluation{}, &types.ShapeMismatchError{What: "observation", Want: a.cfg.ObservationSize, Got: len(obs)}
	}
	if len(action) != a.cfg.ActionSize {
		return Evaluation{}, &types.ShapeMismatchError{What: "action", Want: a.cfg.ActionSize, Got: len(action)}
	}
	params := a.policy.Forward(obs)
	return Evaluation{
		LogProb: LogProb(a.spaces, params, a.logStd, action),
		Entropy: Entropy(a.spaces, params, a.logStd),
		Value:   a.value.Forward(obs)[0],
	}, nil
}

// Value runs only the value network.
func (a *PolicyAgent) Value(obs types.Observation) (float64, error) {
	if len(obs) != a.cfg.ObservationSize {
		return 0, &types.ShapeMismatchError{What: "observation", Want: a.cfg.ObservationSize, Got: len(obs)}
	}
	return a.value.Forward(obs)[0], nil
}

// ForwardResult carries one cached forward pass through both networks, ready
// for a matching Backward call.
type ForwardResult struct {
	Params []float64
	Value  float64

	policyCache *ForwardCache
	valueCache  *ForwardCache
}

// Forward runs both networks with activation caching for training.
func (a *PolicyAgent) Forward(obs types.Observation) (*ForwardResult, error) {
	if len(obs) != a.cfg.ObservationSize {
		return nil, &types.ShapeMismatchError{What: "observation", Want: a.cfg.ObservationSize, Got: len(obs)}
	}
	params, pc := a.policy.ForwardCached(obs)
	value, vc := a.value.ForwardCached(obs)
	return &ForwardResult{Params: params, Value: value[0], policyCache: pc, valueCache: vc}, nil
}

// Grad accumulates loss gradients across a mini-batch, one flat slice per
// parameter group.
type Grad struct {
	Policy []float64
	Value  []float64
	LogStd []float64
}

// NewGrad allocates a zero gradient shaped like the agent's parameters.
func (a *PolicyAgent) NewGrad() *Grad {
	return &Grad{
		Policy: make([]float64, a.policy.NumParams()),
		Value:  make([]float64, a.value.NumParams()),
		LogStd: make([]float64, len(a.logStd)),
	}
}

// Zero clears the accumulated gradient in place.
func (g *Grad) Zero() {
	for i := range g.Policy {
		g.Policy[i] = 0
	}
	for i := range g.Value {
		g.Value[i] = 0
	}
	for i := range g.LogStd {
		g.LogStd[i] = 0
	}
}

// Groups exposes the gradient in the order matching ParamGroups.
func (g *Grad) Groups() [][]float64 {
	return [][]float64{g.Policy, g.Value, g.LogStd}
}

// Backward accumulates into g the network gradients for one transition:
// dParams is the loss derivative with respect to the policy outputs, dValue
// with respect to the value estimate. Log-std gradients do not flow through a
// network; the trainer adds them to g.LogStd directly.
func (a *PolicyAgent) Backward(fr *ForwardResult, dParams []float64, dValue float64, g *Grad) {
	a.policy.Backward(fr.policyCache, dParams, g.Policy)
	a.value.Backward(fr.valueCache, []float64{dValue}, g.Value)
}

// Snapshot is the serializable parameter state of an agent.
type Snapshot struct {
	ObservationSize int                 `json:"observationSize"`
	ActionSize      int                 `json:"actionSize"`
	Spaces          []types.ActionSpace `json:"actionSpaces"`
	Hidden          []int               `json:"hidden"`
	Policy          []float64           `json:"policy"`
	Value           []float64           `json:"value"`
	LogStd          []float64           `json:"logStd"`
}

// Snapshot copies the current parameters out of the agent.
func (a *PolicyAgent) Snapshot() *Snapshot {
	return &Snapshot{
		ObservationSize: a.cfg.ObservationSize,
		ActionSize:      a.cfg.ActionSize,
		Spaces:          append([]types.ActionSpace(nil), a.spaces...),
		Hidden:          append([]int(nil), a.cfg.Hidden...),
		Policy:          append([]float64(nil), a.policy.Params()...),
		Value:           append([]float64(nil), a.value.Params()...),
		LogStd:          append([]float64(nil), a.logStd...),
	}
}

// FromSnapshot rebuilds an agent with the shapes and parameters of a saved
// snapshot. The seed only matters if the agent will sample actions again.
func FromSnapshot(s *Snapshot, seed uint64) (*PolicyAgent, error) {
	a, err := New(Config{
		ObservationSize: s.ObservationSize,
		ActionSize:      s.ActionSize,
		Spaces:          s.Spaces,
		Hidden:          s.Hidden,
		Seed:            seed,
	})
	if err != nil {
		return nil, err
	}
	if err := a.Restore(s); err != nil {
		return nil, err
	}
	return a, nil
}

// Restore loads a snapshot into the agent. The snapshot must have been taken
// from an agent with identical shapes.
func (a *PolicyAgent) Restore(s *Snapshot) error {
	if s.ObservationSize != a.cfg.ObservationSize {
		return &types.ShapeMismatchError{What: "snapshot observation size", Want: a.cfg.ObservationSize, Got: s.ObservationSize}
	}
	if s.ActionSize != a.cfg.ActionSize {
		return &types.ShapeMismatchError{What: "snapshot action size", Want: a.cfg.ActionSize, Got: s.ActionSize}
	}
	if len(s.LogStd) != len(a.logStd) {
		return &types.ShapeMismatchError{What: "snapshot log-std", Want: len(a.logStd), Got: len(s.LogStd)}
	}
	if err := a.policy.SetParams(s.Policy); err != nil {
		return err
	}
	if err := a.value.SetParams(s.Value); err != nil {
		return err
	}
	copy(a.logStd, s.LogStd)
	return nil
}
