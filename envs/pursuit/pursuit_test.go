package pursuit

import (
	"math"
	"testing"

	"github.com/Kokkini/MimicRL/types"
)

func TestContract(t *testing.T) {
	e := New(1)
	if e.NumPlayers() != 2 || e.ObservationSize() != 6 || e.ActionSize() != 3 {
		t.Fatalf("contract: players %d obs %d act %d", e.NumPlayers(), e.ObservationSize(), e.ActionSize())
	}
	spaces := e.ActionSpaces()
	if spaces[0].Kind != types.Continuous || spaces[1].Kind != types.Continuous || spaces[2].Kind != types.Discrete {
		t.Errorf("spaces %v, want two continuous then one discrete", spaces)
	}
}

func TestResetSeparatesPlayers(t *testing.T) {
	e := New(3)
	for trial := 0; trial < 10; trial++ {
		res, err := e.Reset()
		if err != nil {
			t.Fatalf("Reset: %v", err)
		}
		obs := res.Observations
		if len(obs) != 2 {
			t.Fatalf("got %d observations, want 2", len(obs))
		}
		if d := math.Hypot(obs[0][4], obs[0][5]); d <= 0.4 {
			t.Errorf("trial %d: players start %v apart, want > 0.4", trial, d)
		}
	}
}

func TestObservationsMirrored(t *testing.T) {
	e := New(5)
	res, err := e.Reset()
	if err != nil {
		t.Fatalf("Reset: %v", err)
	}
	p, q := res.Observations[0], res.Observations[1]
	if p[0] != q[2] || p[1] != q[3] || p[2] != q[0] || p[3] != q[1] {
		t.Errorf("positions not mirrored: %v vs %v", p, q)
	}
	if p[4] != -q[4] || p[5] != -q[5] {
		t.Errorf("gap vectors should oppose: %v vs %v", p[4:], q[4:])
	}
}

// chase steers player 0 straight at player 1 with a dash; the evader holds
// still.
func chase(obs types.Observation, dash float64) types.Action {
	dx, dy := obs[4], obs[5]
	if n := math.Hypot(dx, dy); n > 0 {
		dx /= n
		dy /= n
	}
	return types.Action{dx, dy, dash}
}

func TestCatchFavorsPursuer(t *testing.T) {
	e := New(11)
	res, err := e.Reset()
	if err != nil {
		t.Fatalf("Reset: %v", err)
	}
	hold := types.Action{0, 0, 0}
	for i := 0; i < 400; i++ {
		res, err = e.Step([]types.Action{chase(res.Observations[0], 1), hold}, 0.1)
		if err != nil {
			t.Fatalf("step %d: %v", i, err)
		}
		if res.Done {
			break
		}
	}
	if !res.Done {
		t.Fatal("pursuer never closed the gap")
	}
	if res.Outcome == nil || res.Outcome.Winner != 0 {
		t.Fatalf("outcome %+v, want a pursuer win", res.Outcome)
	}
	if res.Rewards[0] < 9 {
		t.Errorf("catching rewarded %v, want close to the catch bonus", res.Rewards[0])
	}
	if res.Rewards[1] > -9 {
		t.Errorf("being caught rewarded %v, want close to the negated bonus", res.Rewards[1])
	}
}

func TestTimeoutFavorsEvader(t *testing.T) {
	e := New(13)
	res, err := e.Reset()
	if err != nil {
		t.Fatalf("Reset: %v", err)
	}
	hold := types.Action{0, 0, 0}
	steps := 0
	for !res.Done {
		if steps > 100 {
			t.Fatal("clock never expired")
		}
		res, err = e.Step([]types.Action{hold, hold}, 0.25)
		if err != nil {
			t.Fatalf("step %d: %v", steps, err)
		}
		steps++
	}
	if steps != 80 {
		t.Errorf("episode ran %d steps, want 80 at dt 0.25 against a 20s clock", steps)
	}
	if res.Outcome == nil || res.Outcome.Winner != 1 {
		t.Fatalf("outcome %+v, want an evader win", res.Outcome)
	}
	if res.Rewards[1] < 9 {
		t.Errorf("surviving rewarded %v, want close to the escape bonus", res.Rewards[1])
	}
}

func TestDashCostsReward(t *testing.T) {
	dashed, plain := New(17), New(17)
	if _, err := dashed.Reset(); err != nil {
		t.Fatalf("Reset: %v", err)
	}
	if _, err := plain.Reset(); err != nil {
		t.Fatalf("Reset: %v", err)
	}
	still := types.Action{0, 0, 0}
	rd, err := dashed.Step([]types.Action{{0, 0, 1}, still}, 0.1)
	if err != nil {
		t.Fatalf("Step: %v", err)
	}
	rp, err := plain.Step([]types.Action{still, still}, 0.1)
	if err != nil {
		t.Fatalf("Step: %v", err)
	}
	diff := rp.Rewards[0] - rd.Rewards[0]
	if math.Abs(diff-dashCost*0.1) > 1e-12 {
		t.Errorf("dash without moving cost %v, want exactly %v", diff, dashCost*0.1)
	}
}

func TestStepAfterDoneErrors(t *testing.T) {
	e := New(1)
	a := types.Action{0, 0, 0}
	if _, err := e.Step([]types.Action{a, a}, 0.1); err == nil {
		t.Error("a fresh environment should demand a reset")
	}
	if _, err := e.Reset(); err != nil {
		t.Fatalf("Reset: %v", err)
	}
	if _, err := e.Step([]types.Action{a}, 0.1); err == nil {
		t.Error("missing player action should error")
	}
	if _, err := e.Step([]types.Action{{0, 0}, a}, 0.1); err == nil {
		t.Error("short action should error")
	}
}
