package ppo

import (
	"math"
	"testing"

	"gonum.org/v1/gonum/stat"

	"github.com/Kokkini/MimicRL/types"
)

func traj(player int, rewards, values []float64, truncated bool, bootstrap float64) *types.Trajectory {
	tr := types.NewTrajectory(player)
	for i := range rewards {
		tr.Append(types.Transition{
			Player: player,
			Reward: rewards[i],
			Value:  values[i],
			Done:   !truncated && i == len(rewards)-1,
		})
	}
	tr.Truncated = truncated
	tr.Bootstrap = bootstrap
	return tr
}

func TestGAELambdaZeroIsOneStepTD(t *testing.T) {
	tr := traj(0, []float64{1, 2, 3}, []float64{0.5, 0.25, 0.1}, false, 0)
	gamma := 0.9
	ComputeGAE(tr, gamma, 0)
	want := []float64{
		1 + gamma*0.25 - 0.5,
		2 + gamma*0.1 - 0.25,
		3 - 0.1, // terminal step has no next value
	}
	for i, w := range want {
		if got := tr.Steps[i].Advantage; math.Abs(got-w) > 1e-12 {
			t.Errorf("advantage[%d] = %v, want %v", i, got, w)
		}
		if got := tr.Steps[i].Return; math.Abs(got-(w+tr.Steps[i].Value)) > 1e-12 {
			t.Errorf("return[%d] = %v, want advantage plus value", i, got)
		}
	}
}

func TestGAELambdaOneIsMonteCarlo(t *testing.T) {
	rewards := []float64{1, -2, 0.5, 4}
	values := []float64{0.3, -0.1, 0.2, 0.05}
	tr := traj(0, rewards, values, false, 0)
	gamma := 0.95
	ComputeGAE(tr, gamma, 1)
	for i := range rewards {
		ret := 0.0
		for k := len(rewards) - 1; k >= i; k-- {
			ret = rewards[k] + gamma*ret
		}
		want := ret - values[i]
		if got := tr.Steps[i].Advantage; math.Abs(got-want) > 1e-12 {
			t.Errorf("advantage[%d] = %v, want discounted return minus baseline %v", i, got, want)
		}
	}
}

func TestGAETruncationBootstraps(t *testing.T) {
	tr := traj(0, []float64{1}, []float64{0.4}, true, 2.0)
	ComputeGAE(tr, 0.5, 0.8)
	if got, want := tr.Steps[0].Advantage, 1+0.5*2.0-0.4; math.Abs(got-want) > 1e-12 {
		t.Errorf("truncated advantage = %v, want %v", got, want)
	}

	// A terminal episode ignores the bootstrap even when one is set.
	tr2 := traj(0, []float64{1}, []float64{0.4}, false, 0)
	tr2.Bootstrap = 2.0
	ComputeGAE(tr2, 0.5, 0.8)
	if got, want := tr2.Steps[0].Advantage, 1-0.4; math.Abs(got-want) > 1e-12 {
		t.Errorf("terminal advantage = %v, want %v", got, want)
	}
}

func TestNormalizeAdvantagesPerPlayer(t *testing.T) {
	a := traj(0, []float64{1, 2, 3, 4}, make([]float64, 4), false, 0)
	b := traj(1, []float64{10, 20, 30, 40}, make([]float64, 4), false, 0)
	ComputeGAE(a, 1, 1)
	ComputeGAE(b, 1, 1)
	NormalizeAdvantages([]*types.Trajectory{a, b})
	for _, tr := range []*types.Trajectory{a, b} {
		advs := make([]float64, tr.Len())
		for i := range tr.Steps {
			advs[i] = tr.Steps[i].Advantage
		}
		m, sd := stat.MeanStdDev(advs, nil)
		if math.Abs(m) > 1e-9 {
			t.Errorf("player %d advantage mean %v, want 0", tr.Player, m)
		}
		if math.Abs(sd-1) > 1e-9 {
			t.Errorf("player %d advantage std %v, want 1", tr.Player, sd)
		}
	}
}

func TestNormalizeConstantAdvantagesOnlyCenters(t *testing.T) {
	tr := traj(0, []float64{2, 2, 2}, make([]float64, 3), false, 0)
	for i := range tr.Steps {
		tr.Steps[i].Advantage = 5
	}
	NormalizeAdvantages([]*types.Trajectory{tr})
	for i := range tr.Steps {
		if got := tr.Steps[i].Advantage; got != 0 {
			t.Errorf("advantage[%d] = %v, want 0 after centering", i, got)
		}
	}
}
