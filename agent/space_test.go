package agent

import (
	"math"
	"testing"

	"golang.org/x/exp/rand"

	"github.com/Kokkini/MimicRL/types"
)

func mixedSpaces() []types.ActionSpace {
	return []types.ActionSpace{
		{Index: 0, Kind: types.Discrete},
		{Index: 1, Kind: types.Continuous},
	}
}

func TestValidateSpaces(t *testing.T) {
	if err := ValidateSpaces(mixedSpaces(), 2); err != nil {
		t.Fatalf("valid layout rejected: %v", err)
	}
	if err := ValidateSpaces(mixedSpaces(), 3); err == nil {
		t.Error("expected error for layout shorter than the action size")
	}
	bad := []types.ActionSpace{{Index: 1, Kind: types.Discrete}}
	if err := ValidateSpaces(bad, 1); err == nil {
		t.Error("expected error for an out-of-order index")
	}
	unknown := []types.ActionSpace{{Index: 0, Kind: types.ActionKind(7)}}
	if err := ValidateSpaces(unknown, 1); err == nil {
		t.Error("expected error for an unknown action kind")
	}
}

func TestSampleLogProbConsistency(t *testing.T) {
	spaces := mixedSpaces()
	params := []float64{0.7, -0.3}
	logStd := []float64{0, -0.5}
	src := rand.NewSource(3)
	for i := 0; i < 100; i++ {
		action, lp := Sample(spaces, params, logStd, src)
		if got := LogProb(spaces, params, logStd, action); math.Abs(got-lp) > 1e-9 {
			t.Fatalf("sample %d: LogProb %v does not match sampled log-likelihood %v", i, got, lp)
		}
		if action[0] != 0 && action[0] != 1 {
			t.Fatalf("discrete index sampled %v, want 0 or 1", action[0])
		}
	}
}

func TestSampleDiscreteFrequency(t *testing.T) {
	spaces := []types.ActionSpace{{Index: 0, Kind: types.Discrete}}
	z := math.Log(4.0) // sigmoid -> 0.8
	src := rand.NewSource(11)
	ones := 0
	const n = 20000
	for i := 0; i < n; i++ {
		a, _ := Sample(spaces, []float64{z}, []float64{0}, src)
		if a[0] == 1 {
			ones++
		}
	}
	if freq := float64(ones) / n; math.Abs(freq-0.8) > 0.02 {
		t.Errorf("discrete frequency %v, want about 0.8", freq)
	}
}

func TestSampleContinuousTracksMean(t *testing.T) {
	spaces := []types.ActionSpace{{Index: 0, Kind: types.Continuous}}
	src := rand.NewSource(5)
	sum := 0.0
	const n = 5000
	for i := 0; i < n; i++ {
		a, _ := Sample(spaces, []float64{1.25}, []float64{-2}, src)
		sum += a[0]
	}
	if mean := sum / n; math.Abs(mean-1.25) > 0.02 {
		t.Errorf("continuous sample mean %v, want about 1.25", mean)
	}
}

func TestEntropyKnownValues(t *testing.T) {
	fair := []types.ActionSpace{{Index: 0, Kind: types.Discrete}}
	if h := Entropy(fair, []float64{0}, []float64{0}); math.Abs(h-math.Ln2) > 1e-9 {
		t.Errorf("fair Bernoulli entropy %v, want ln 2", h)
	}
	gauss := []types.ActionSpace{{Index: 0, Kind: types.Continuous}}
	want := 0.5 * math.Log(2*math.Pi*math.E)
	if h := Entropy(gauss, []float64{3}, []float64{0}); math.Abs(h-want) > 1e-9 {
		t.Errorf("unit Gaussian entropy %v, want %v", h, want)
	}
	if Entropy(fair, []float64{4}, []float64{0}) >= math.Ln2 {
		t.Error("a hard logit should reduce Bernoulli entropy")
	}
	if Entropy(gauss, []float64{3}, []float64{1}) <= want {
		t.Error("a larger sigma should increase Gaussian entropy")
	}
}

func TestBernoulliLogProbExtremeLogits(t *testing.T) {
	// log(sigmoid(z)) underflows long before the log-sigmoid form does.
	if lp := bernoulliLogProb(800, 1); math.IsInf(lp, -1) || lp > 0 {
		t.Errorf("log-likelihood at extreme logit = %v", lp)
	}
	if lp := bernoulliLogProb(-800, 1); !(lp < -700) || math.IsInf(lp, -1) {
		t.Errorf("log-likelihood of the improbable branch = %v", lp)
	}
	if got, want := bernoulliLogProb(0, 1), -math.Ln2; math.Abs(got-want) > 1e-12 {
		t.Errorf("fair coin log-likelihood %v, want -ln 2", got)
	}
}

func TestLogProbGradNumeric(t *testing.T) {
	spaces := mixedSpaces()
	params := []float64{0.35, -0.6}
	logStd := []float64{0, -0.4}
	action := types.Action{1, -0.9}
	dPar := make([]float64, 2)
	dLs := make([]float64, 2)
	LogProbGrad(spaces, params, logStd, action, dPar, dLs)

	const h = 1e-6
	for i := range params {
		p := append([]float64(nil), params...)
		p[i] += h
		up := LogProb(spaces, p, logStd, action)
		p[i] -= 2 * h
		down := LogProb(spaces, p, logStd, action)
		if num := (up - down) / (2 * h); math.Abs(num-dPar[i]) > 1e-5 {
			t.Errorf("dParams[%d] = %v, numeric %v", i, dPar[i], num)
		}
	}
	for i := range logStd {
		ls := append([]float64(nil), logStd...)
		ls[i] += h
		up := LogProb(spaces, params, ls, action)
		ls[i] -= 2 * h
		down := LogProb(spaces, params, ls, action)
		if num := (up - down) / (2 * h); math.Abs(num-dLs[i]) > 1e-5 {
			t.Errorf("dLogStd[%d] = %v, numeric %v", i, dLs[i], num)
		}
	}
}

func TestEntropyGradNumeric(t *testing.T) {
	spaces := mixedSpaces()
	params := []float64{-0.8, 1.4}
	logStd := []float64{0, 0.3}
	dPar := make([]float64, 2)
	dLs := make([]float64, 2)
	EntropyGrad(spaces, params, logStd, dPar, dLs)

	const h = 1e-6
	for i := range params {
		p := append([]float64(nil), params...)
		p[i] += h
		up := Entropy(spaces, p, logStd)
		p[i] -= 2 * h
		down := Entropy(spaces, p, logStd)
		if num := (up - down) / (2 * h); math.Abs(num-dPar[i]) > 1e-5 {
			t.Errorf("entropy dParams[%d] = %v, numeric %v", i, dPar[i], num)
		}
	}
	for i := range logStd {
		ls := append([]float64(nil), logStd...)
		ls[i] += h
		up := Entropy(spaces, params, ls)
		ls[i] -= 2 * h
		down := Entropy(spaces, params, ls)
		if num := (up - down) / (2 * h); math.Abs(num-dLs[i]) > 1e-5 {
			t.Errorf("entropy dLogStd[%d] = %v, numeric %v", i, dLs[i], num)
		}
	}
}
