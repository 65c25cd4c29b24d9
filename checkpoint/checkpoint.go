// Package checkpoint persists training state as a single-slot register:
// saving overwrites the previous checkpoint, loading returns the latest one.
// Two backends are provided, a local file written atomically and a redis key
// for runs that hand off between machines.
package checkpoint

import (
	"encoding/json"
	"errors"
	"strings"
	"time"

	"github.com/Kokkini/MimicRL/agent"
)

// Version tags the envelope layout. Load rejects anything else.
const Version = 2

// ErrNoCheckpoint is returned by Load when the slot has never been written.
var ErrNoCheckpoint = errors.New("checkpoint: none saved")

// Checkpoint is the serialized training state: identity of the run, where it
// was, and the full parameters of every trainable player's agent.
type Checkpoint struct {
	Version        int                     `json:"version"`
	RunID          string                  `json:"runId"`
	RunName        string                  `json:"runName,omitempty"`
	Iteration      int                     `json:"iteration"`
	GamesCompleted int                     `json:"gamesCompleted"`
	SavedAt        time.Time               `json:"savedAt"`
	Config         json.RawMessage         `json:"config,omitempty"`
	Agents         map[int]*agent.Snapshot `json:"agents"`
}

func (c *Checkpoint) validate() error {
	if c.Version != Version {
		return errors.New("checkpoint: unsupported version")
	}
	if len(c.Agents) == 0 {
		return errors.New("checkpoint: no agent snapshots")
	}
	for _, snap := range c.Agents {
		if snap == nil {
			return errors.New("checkpoint: nil agent snapshot")
		}
	}
	return nil
}

// AgentFor returns the snapshot saved for the given player, falling back to
// the lowest-numbered player when that exact index was not saved. The
// fallback is what lets a single-player training run serve as a frozen
// opponent on any seat.
func (c *Checkpoint) AgentFor(player int) *agent.Snapshot {
	if snap, ok := c.Agents[player]; ok {
		return snap
	}
	best := -1
	for p := range c.Agents {
		if best < 0 || p < best {
			best = p
		}
	}
	if best < 0 {
		return nil
	}
	return c.Agents[best]
}

// Store is the single-slot persistence contract.
type Store interface {
	Save(cp *Checkpoint) error
	Load() (*Checkpoint, error)
}

// Open resolves a destination string to a store: a redis:// URL becomes a
// RedisStore, anything else is treated as a file path.
func Open(dest string) (Store, error) {
	if strings.HasPrefix(dest, "redis://") || strings.HasPrefix(dest, "rediss://") {
		return OpenRedis(dest)
	}
	return NewFileStore(dest), nil
}
