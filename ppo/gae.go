package ppo

import (
	"gonum.org/v1/gonum/stat"

	"github.com/Kokkini/MimicRL/types"
)

// ComputeGAE fills the Advantage and Return fields of every transition in
// place, walking the trajectory backward. A truncated trajectory bootstraps
// from the stored value estimate of the state after the horizon; a terminal
// one bootstraps from zero.
func ComputeGAE(tr *types.Trajectory, gamma, lambda float64) {
	steps := tr.Steps
	adv := 0.0
	for t := len(steps) - 1; t >= 0; t-- {
		s := &steps[t]
		nextValue := 0.0
		if t == len(steps)-1 {
			if tr.Truncated {
				nextValue = tr.Bootstrap
			}
		} else {
			nextValue = steps[t+1].Value
		}
		notDone := 1.0
		if s.Done {
			notDone = 0
		}
		delta := s.Reward + gamma*nextValue*notDone - s.Value
		adv = delta + gamma*lambda*notDone*adv
		s.Advantage = adv
		s.Return = adv + s.Value
	}
}

// NormalizeAdvantages standardizes advantages to zero mean and unit variance
// separately per player across the whole batch, so players with different
// reward scales do not drown each other out. A near-constant advantage set is
// only centered.
func NormalizeAdvantages(trajs []*types.Trajectory) {
	byPlayer := make(map[int][]float64)
	for _, tr := range trajs {
		for i := range tr.Steps {
			s := &tr.Steps[i]
			byPlayer[s.Player] = append(byPlayer[s.Player], s.Advantage)
		}
	}
	mean := make(map[int]float64, len(byPlayer))
	std := make(map[int]float64, len(byPlayer))
	for p, advs := range byPlayer {
		m, sd := stat.MeanStdDev(advs, nil)
		if !(sd > 1e-8) {
			sd = 1
		}
		mean[p] = m
		std[p] = sd
	}
	for _, tr := range trajs {
		for i := range tr.Steps {
			s := &tr.Steps[i]
			s.Advantage = (s.Advantage - mean[s.Player]) / std[s.Player]
		}
	}
}
