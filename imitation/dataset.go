// Package imitation bootstraps an agent from recorded demonstrations:
// behavior cloning over (observation, action) examples, sharing the policy
// networks and optimizer machinery that PPO trains.
package imitation

import (
	"bufio"
	"bytes"
	"encoding/json"
	"fmt"
	"os"

	"github.com/Kokkini/MimicRL/types"
)

// Example is one expert decision.
type Example struct {
	Observation types.Observation `json:"observation"`
	Action      types.Action      `json:"action"`
}

// Dataset is an in-memory demonstration set.
type Dataset struct {
	Examples []Example
}

func (d *Dataset) Len() int { return len(d.Examples) }

// maxLineSize caps one JSONL line; a demonstration step is small, so a
// larger line means a corrupt file.
const maxLineSize = 1 * 1024 * 1024

// LoadDataset reads a JSONL demonstration file, one example per line. Blank
// lines are skipped.
func LoadDataset(path string) (*Dataset, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open demonstrations: %w", err)
	}
	defer file.Close()

	ds := &Dataset{}
	scanner := bufio.NewScanner(file)
	scanner.Buffer(make([]byte, maxLineSize), maxLineSize)
	line := 0
	for scanner.Scan() {
		line++
		bs := bytes.TrimSpace(scanner.Bytes())
		if len(bs) == 0 {
			continue
		}
		var ex Example
		if err := json.Unmarshal(bs, &ex); err != nil {
			return nil, fmt.Errorf("demonstrations line %d: %w", line, err)
		}
		if len(ex.Observation) == 0 || len(ex.Action) == 0 {
			return nil, fmt.Errorf("demonstrations line %d: empty observation or action", line)
		}
		ds.Examples = append(ds.Examples, ex)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("read demonstrations: %w", err)
	}
	return ds, nil
}

// SaveDataset writes examples as JSONL, replacing the file.
func SaveDataset(path string, examples []Example) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create demonstrations: %w", err)
	}
	defer f.Close()
	w := bufio.NewWriter(f)
	for _, ex := range examples {
		data, err := json.Marshal(ex)
		if err != nil {
			return fmt.Errorf("marshal example: %w", err)
		}
		if _, err := w.Write(append(data, '\n')); err != nil {
			return fmt.Errorf("write example: %w", err)
		}
	}
	return w.Flush()
}

// Record plays episodes with one controller per player and keeps the chosen
// player's decisions as examples.
func Record(env types.Environment, controllers []types.Controller, player, episodes, maxSteps int, dt float64) (*Dataset, error) {
	if player < 0 || player >= env.NumPlayers() {
		return nil, types.ConfigErrorf("player", "player %d out of range for %d players", player, env.NumPlayers())
	}
	if len(controllers) != env.NumPlayers() {
		return nil, types.ConfigErrorf("controllers", "need %d controllers, got %d", env.NumPlayers(), len(controllers))
	}
	ds := &Dataset{}
	for ep := 0; ep < episodes; ep++ {
		res, err := env.Reset()
		if err != nil {
			return nil, err
		}
		obs := res.Observations
		for step := 0; step < maxSteps; step++ {
			actions := make([]types.Action, len(controllers))
			for p, ctrl := range controllers {
				a, err := ctrl.Decide(obs[p])
				if err != nil {
					return nil, err
				}
				actions[p] = a
			}
			ds.Examples = append(ds.Examples, Example{
				Observation: append(types.Observation(nil), obs[player]...),
				Action:      append(types.Action(nil), actions[player]...),
			})
			res, err = env.Step(actions, dt)
			if err != nil {
				return nil, err
			}
			obs = res.Observations
			if res.Done {
				break
			}
		}
	}
	return ds, nil
}
