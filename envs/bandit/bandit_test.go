package bandit

import (
	"testing"

	"github.com/Kokkini/MimicRL/types"
)

func TestContract(t *testing.T) {
	e := New(1)
	if e.NumPlayers() != 1 || e.ObservationSize() != 2 || e.ActionSize() != 2 {
		t.Fatalf("contract: players %d obs %d act %d", e.NumPlayers(), e.ObservationSize(), e.ActionSize())
	}
	spaces := e.ActionSpaces()
	if spaces[0].Kind != types.Discrete || spaces[1].Kind != types.Continuous {
		t.Errorf("spaces %v, want discrete then continuous", spaces)
	}
}

func TestRewardFollowsDiscreteIndex(t *testing.T) {
	e := New(1)
	if _, err := e.Reset(); err != nil {
		t.Fatalf("Reset: %v", err)
	}
	res, err := e.Step([]types.Action{{1, 0.3}}, 0.02)
	if err != nil {
		t.Fatalf("Step: %v", err)
	}
	if res.Rewards[0] != 1 {
		t.Errorf("action 1 rewarded %v, want 1", res.Rewards[0])
	}
	res, err = e.Step([]types.Action{{0, 5}}, 0.02)
	if err != nil {
		t.Fatalf("Step: %v", err)
	}
	if res.Rewards[0] != 0 {
		t.Errorf("action 0 rewarded %v, want 0; the continuous index must not matter", res.Rewards[0])
	}
	res, err = e.Step([]types.Action{{0.6, 0}}, 0.02)
	if err != nil {
		t.Fatalf("Step: %v", err)
	}
	if res.Rewards[0] != 1 {
		t.Errorf("action 0.6 rewarded %v, want 1 at the 0.5 threshold", res.Rewards[0])
	}
}

func TestHorizon(t *testing.T) {
	e := New(1)
	res, err := e.Reset()
	if err != nil {
		t.Fatalf("Reset: %v", err)
	}
	if res.Observations[0][1] != 0 {
		t.Errorf("reset clock %v, want 0", res.Observations[0][1])
	}
	for i := 1; i <= horizon; i++ {
		res, err = e.Step([]types.Action{{1, 0}}, 0.02)
		if err != nil {
			t.Fatalf("step %d: %v", i, err)
		}
		wantDone := i == horizon
		if res.Done != wantDone {
			t.Fatalf("step %d done=%v, want %v", i, res.Done, wantDone)
		}
	}
	if res.Observations[0][1] != 1 {
		t.Errorf("final clock %v, want 1", res.Observations[0][1])
	}
	if _, err := e.Step([]types.Action{{1, 0}}, 0.02); err == nil {
		t.Error("stepping a finished episode should error")
	}
}

func TestStepBeforeResetErrors(t *testing.T) {
	e := New(1)
	if _, err := e.Step([]types.Action{{1, 0}}, 0.02); err == nil {
		t.Error("a fresh environment should demand a reset")
	}
}

func TestBadActionShape(t *testing.T) {
	e := New(1)
	if _, err := e.Reset(); err != nil {
		t.Fatalf("Reset: %v", err)
	}
	if _, err := e.Step([]types.Action{{1}}, 0.02); err == nil {
		t.Error("short action should error")
	}
	if _, err := e.Step([]types.Action{{1, 0}, {1, 0}}, 0.02); err == nil {
		t.Error("extra player action should error")
	}
}
