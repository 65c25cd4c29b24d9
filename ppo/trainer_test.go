package ppo

import (
	"errors"
	"math"
	"testing"

	"github.com/rs/zerolog"

	"github.com/Kokkini/MimicRL/agent"
	"github.com/Kokkini/MimicRL/types"
)

func testAgent(t *testing.T, seed uint64) *agent.PolicyAgent {
	t.Helper()
	ag, err := agent.New(agent.Config{
		ObservationSize: 2,
		ActionSize:      2,
		Spaces: []types.ActionSpace{
			{Index: 0, Kind: types.Discrete},
			{Index: 1, Kind: types.Continuous},
		},
		Hidden:     []int{8},
		InitLogStd: -0.5,
		Seed:       seed,
	})
	if err != nil {
		t.Fatalf("agent.New: %v", err)
	}
	return ag
}

func testPPOConfig() Config {
	return Config{
		Gamma:              0.99,
		Lambda:             0.95,
		ClipRatio:          0.2,
		Epochs:             4,
		MiniBatchSize:      16,
		LearningRate:       0.01,
		ValueLossCoeff:     0.5,
		MaxGradNorm:        0.5,
		YieldEvery:         2,
		NormalizeAdvantage: true,
	}
}

func TestConfigValidate(t *testing.T) {
	if err := testPPOConfig().Validate(); err != nil {
		t.Fatalf("valid config rejected: %v", err)
	}
	cases := []struct {
		name   string
		mutate func(*Config)
	}{
		{"gamma zero", func(c *Config) { c.Gamma = 0 }},
		{"gamma above one", func(c *Config) { c.Gamma = 1.5 }},
		{"lambda negative", func(c *Config) { c.Lambda = -0.1 }},
		{"clip zero", func(c *Config) { c.ClipRatio = 0 }},
		{"epochs zero", func(c *Config) { c.Epochs = 0 }},
		{"mini-batch zero", func(c *Config) { c.MiniBatchSize = 0 }},
		{"learning rate zero", func(c *Config) { c.LearningRate = 0 }},
		{"value coeff negative", func(c *Config) { c.ValueLossCoeff = -1 }},
		{"entropy coeff negative", func(c *Config) { c.EntropyCoeff = -1 }},
		{"grad norm negative", func(c *Config) { c.MaxGradNorm = -1 }},
		{"yield every zero", func(c *Config) { c.YieldEvery = 0 }},
	}
	for _, tc := range cases {
		cfg := testPPOConfig()
		tc.mutate(&cfg)
		if err := cfg.Validate(); err == nil {
			t.Errorf("%s: expected a validation error", tc.name)
		}
	}
}

// sampleEpisodes plays one-step bandit episodes through the agent: the
// discrete index pays 1 when it comes up 1 and nothing otherwise, and the
// continuous index is ignored.
func sampleEpisodes(t *testing.T, ag *agent.PolicyAgent, n int) []*types.Trajectory {
	t.Helper()
	obs := types.Observation{1, 0}
	trajs := make([]*types.Trajectory, 0, n)
	for i := 0; i < n; i++ {
		out, err := ag.Act(obs)
		if err != nil {
			t.Fatalf("Act: %v", err)
		}
		reward := 0.0
		if out.Action[0] >= 0.5 {
			reward = 1
		}
		tr := types.NewTrajectory(0)
		tr.Append(types.Transition{
			Observation: append(types.Observation(nil), obs...),
			Action:      out.Action,
			LogProb:     out.LogProb,
			Value:       out.Value,
			Reward:      reward,
			Done:        true,
			Player:      0,
		})
		trajs = append(trajs, tr)
	}
	return trajs
}

// discreteLogit recovers the Bernoulli logit of the first action index: the
// continuous index contributes identically to both evaluations and cancels.
func discreteLogit(t *testing.T, ag *agent.PolicyAgent) float64 {
	t.Helper()
	obs := types.Observation{1, 0}
	one, err := ag.Evaluate(obs, types.Action{1, 0})
	if err != nil {
		t.Fatalf("Evaluate: %v", err)
	}
	zero, err := ag.Evaluate(obs, types.Action{0, 0})
	if err != nil {
		t.Fatalf("Evaluate: %v", err)
	}
	return one.LogProb - zero.LogProb
}

func TestClippedSurrogateInvariance(t *testing.T) {
	const clip = 0.2
	for _, adv := range []float64{2.5, -2.5} {
		// At a ratio pinned exactly on either clip bound the two surrogate
		// branches coincide.
		for _, edge := range []float64{1 - clip, 1 + clip} {
			obj, _ := clippedSurrogate(edge, adv, clip)
			if want := edge * adv; math.Abs(obj-want) > 1e-12 {
				t.Errorf("adv %v ratio %v: objective %v, want %v", adv, edge, obj, want)
			}
		}
		// Past the band on the profitable side the term goes flat and stops
		// propagating gradient.
		edge := 1 + clip
		if adv < 0 {
			edge = 1 - clip
		}
		atEdge, _ := clippedSurrogate(edge, adv, clip)
		for _, over := range []float64{0.05, 0.3, 2} {
			ratio := edge + over
			if adv < 0 {
				ratio = edge - over
			}
			obj, active := clippedSurrogate(ratio, adv, clip)
			if math.Abs(obj-atEdge) > 1e-12 {
				t.Errorf("adv %v ratio %v: objective %v moved off the clamp value %v", adv, ratio, obj, atEdge)
			}
			if active {
				t.Errorf("adv %v ratio %v: clipped term still reports an active gradient", adv, ratio)
			}
		}
		// On the pessimistic side the unclipped branch stays active without
		// bound.
		ratio := 1 - 2*clip
		if adv < 0 {
			ratio = 1 + 2*clip
		}
		if obj, active := clippedSurrogate(ratio, adv, clip); !active || math.Abs(obj-ratio*adv) > 1e-12 {
			t.Errorf("adv %v ratio %v: pessimistic branch obj %v active %v", adv, ratio, obj, active)
		}
	}
}

func TestTrainEmptyPoolIsNoOp(t *testing.T) {
	ag := testAgent(t, 1)
	tr, err := New(testPPOConfig(), ag, 1, zerolog.Nop())
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	before := ag.Snapshot()
	diag, err := tr.Train(nil, nil)
	if err != nil {
		t.Fatalf("Train on empty pool: %v", err)
	}
	if *diag != (Diagnostics{}) {
		t.Errorf("empty pool diagnostics = %+v, want zeros", *diag)
	}
	after := ag.Snapshot()
	for i := range before.Policy {
		if before.Policy[i] != after.Policy[i] {
			t.Fatal("an empty pool must not move parameters")
		}
	}
}

func TestTrainImprovesBanditPolicy(t *testing.T) {
	ag := testAgent(t, 5)
	tr, err := New(testPPOConfig(), ag, 5, zerolog.Nop())
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	before := discreteLogit(t, ag)
	for i := 0; i < 3; i++ {
		trajs := sampleEpisodes(t, ag, 64)
		diag, err := tr.Train(trajs, nil)
		if err != nil {
			t.Fatalf("Train pass %d: %v", i, err)
		}
		// 64 transitions in mini-batches of 16 over 4 epochs.
		if diag.Updates != 16 {
			t.Errorf("pass %d: updates = %d, want 16", i, diag.Updates)
		}
		if diag.ClipFraction < 0 || diag.ClipFraction > 1 {
			t.Errorf("pass %d: clip fraction %v out of [0, 1]", i, diag.ClipFraction)
		}
		if diag.GradNorm <= 0 {
			t.Errorf("pass %d: gradient norm %v, want positive", i, diag.GradNorm)
		}
	}
	if after := discreteLogit(t, ag); after <= before {
		t.Errorf("discrete logit went from %v to %v, want an increase", before, after)
	}
}

func TestTrainFillsAdvantages(t *testing.T) {
	ag := testAgent(t, 7)
	tr, _ := New(testPPOConfig(), ag, 7, zerolog.Nop())
	trajs := sampleEpisodes(t, ag, 32)
	if _, err := tr.Train(trajs, nil); err != nil {
		t.Fatalf("Train: %v", err)
	}
	sum := 0.0
	for _, traj := range trajs {
		for i := range traj.Steps {
			sum += traj.Steps[i].Advantage * traj.Steps[i].Advantage
		}
	}
	if sum == 0 {
		t.Error("training left every advantage at zero")
	}
}

func TestTrainStopsBeforeFirstUpdate(t *testing.T) {
	ag := testAgent(t, 3)
	tr, _ := New(testPPOConfig(), ag, 3, zerolog.Nop())
	trajs := sampleEpisodes(t, ag, 32)
	before := ag.Snapshot()
	_, err := tr.Train(trajs, func() error { return types.ErrStopped })
	if !errors.Is(err, types.ErrStopped) {
		t.Fatalf("err = %v, want ErrStopped", err)
	}
	after := ag.Snapshot()
	for i := range before.Policy {
		if before.Policy[i] != after.Policy[i] {
			t.Fatal("a stop before the first mini-batch must leave parameters untouched")
		}
	}
}

func TestTrainYieldCadence(t *testing.T) {
	ag := testAgent(t, 9)
	tr, _ := New(testPPOConfig(), ag, 9, zerolog.Nop())
	trajs := sampleEpisodes(t, ag, 32)
	yields := 0
	if _, err := tr.Train(trajs, func() error { yields++; return nil }); err != nil {
		t.Fatalf("Train: %v", err)
	}
	// 8 mini-batches, yielding on every second one starting with the first.
	if yields != 4 {
		t.Errorf("yield called %d times, want 4", yields)
	}
}
