package imitation

import (
	"errors"
	"math"
	"testing"

	"github.com/rs/zerolog"

	"github.com/Kokkini/MimicRL/agent"
	"github.com/Kokkini/MimicRL/types"
)

func cloneAgent(t *testing.T, seed uint64) *agent.PolicyAgent {
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

// expertDataset repeats a fixed expert over a small observation grid: the
// discrete index is always 1 and the continuous index is always 0.7.
func expertDataset(n int) *Dataset {
	grid := []types.Observation{
		{0.1, 0.2},
		{0.5, -0.3},
		{-0.4, 0.8},
		{0.9, 0.1},
	}
	ds := &Dataset{}
	for i := 0; i < n; i++ {
		ds.Examples = append(ds.Examples, Example{
			Observation: grid[i%len(grid)],
			Action:      types.Action{1, 0.7},
		})
	}
	return ds
}

func cloneConfig() Config {
	return Config{
		Epochs:        15,
		MiniBatchSize: 16,
		LearningRate:  0.01,
		MaxGradNorm:   0.5,
		Seed:          5,
	}
}

func TestConfigValidate(t *testing.T) {
	cases := []struct {
		name   string
		mutate func(*Config)
	}{
		{"epochs zero", func(c *Config) { c.Epochs = 0 }},
		{"mini-batch zero", func(c *Config) { c.MiniBatchSize = 0 }},
		{"learning rate zero", func(c *Config) { c.LearningRate = 0 }},
		{"negative grad norm", func(c *Config) { c.MaxGradNorm = -1 }},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			cfg := cloneConfig()
			tc.mutate(&cfg)
			if _, err := New(cfg, cloneAgent(t, 1), zerolog.Nop()); err == nil {
				t.Error("expected a configuration error")
			}
		})
	}
}

func TestFitRejectsEmptyDataset(t *testing.T) {
	tr, err := New(cloneConfig(), cloneAgent(t, 1), zerolog.Nop())
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if _, err := tr.Fit(nil, nil); !errors.Is(err, ErrEmptyDataset) {
		t.Errorf("nil dataset: want ErrEmptyDataset, got %v", err)
	}
	if _, err := tr.Fit(&Dataset{}, nil); !errors.Is(err, ErrEmptyDataset) {
		t.Errorf("empty dataset: want ErrEmptyDataset, got %v", err)
	}
}

func TestFitRejectsShapeMismatch(t *testing.T) {
	tr, err := New(cloneConfig(), cloneAgent(t, 1), zerolog.Nop())
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	var serr *types.ShapeMismatchError
	ds := &Dataset{Examples: []Example{{Observation: types.Observation{1}, Action: types.Action{1, 0}}}}
	if _, err := tr.Fit(ds, nil); !errors.As(err, &serr) {
		t.Errorf("short observation: want ShapeMismatchError, got %v", err)
	}
	ds = &Dataset{Examples: []Example{{Observation: types.Observation{1, 2}, Action: types.Action{1}}}}
	if _, err := tr.Fit(ds, nil); !errors.As(err, &serr) {
		t.Errorf("short action: want ShapeMismatchError, got %v", err)
	}
}

func TestFitLossDecreases(t *testing.T) {
	tr, err := New(cloneConfig(), cloneAgent(t, 2), zerolog.Nop())
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	reports, err := tr.Fit(expertDataset(64), nil)
	if err != nil {
		t.Fatalf("Fit: %v", err)
	}
	if len(reports) != 15 {
		t.Fatalf("got %d epoch reports, want 15", len(reports))
	}
	first, last := reports[0], reports[len(reports)-1]
	if last.Loss >= first.Loss {
		t.Errorf("loss did not decrease: first %.4f, last %.4f", first.Loss, last.Loss)
	}
}

func TestFitClonesExpert(t *testing.T) {
	ag := cloneAgent(t, 3)
	cfg := cloneConfig()
	cfg.Epochs = 60
	cfg.LearningRate = 0.02
	tr, err := New(cfg, ag, zerolog.Nop())
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	ds := expertDataset(64)
	if _, err := tr.Fit(ds, nil); err != nil {
		t.Fatalf("Fit: %v", err)
	}
	for _, ex := range ds.Examples[:4] {
		fr, err := ag.Forward(ex.Observation)
		if err != nil {
			t.Fatalf("Forward: %v", err)
		}
		if p := 1 / (1 + math.Exp(-fr.Params[0])); p < 0.9 {
			t.Errorf("obs %v: discrete probability %.3f, want > 0.9", ex.Observation, p)
		}
		if math.Abs(fr.Params[1]-0.7) > 0.15 {
			t.Errorf("obs %v: continuous mean %.3f, want near 0.7", ex.Observation, fr.Params[1])
		}
	}
}

func TestFitYieldCadenceAndStop(t *testing.T) {
	cfg := cloneConfig()
	cfg.Epochs = 2
	tr, err := New(cfg, cloneAgent(t, 4), zerolog.Nop())
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	yields := 0
	reports, err := tr.Fit(expertDataset(64), func() error {
		yields++
		return nil
	})
	if err != nil {
		t.Fatalf("Fit: %v", err)
	}
	if len(reports) != 2 {
		t.Errorf("got %d reports, want 2", len(reports))
	}
	if yields != 8 {
		t.Errorf("yielded %d times, want 8 for 2 epochs of 4 mini-batches", yields)
	}

	tr2, err := New(cfg, cloneAgent(t, 4), zerolog.Nop())
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	reports, err = tr2.Fit(expertDataset(64), func() error { return types.ErrStopped })
	if !errors.Is(err, types.ErrStopped) {
		t.Fatalf("want ErrStopped, got %v", err)
	}
	if len(reports) != 0 {
		t.Errorf("stop before the first mini-batch should report no epochs, got %d", len(reports))
	}
}
