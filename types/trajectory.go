package types

// ActOutput is what a policy agent produces for a single decision: the
// sampled action, the joint log-likelihood of that sample under the current
// policy, and the value estimate of the observation. Produced fresh on every
// act call and never mutated afterwards.
type ActOutput struct {
	Action  Action  `json:"action"`
	LogProb float64 `json:"logProb"`
	Value   float64 `json:"value"`
}

// Transition is one decision point for one trainable player. The collector
// fills everything except Advantage and Return, which the trainer computes
// in place; nothing else is ever mutated after collection.
type Transition struct {
	Observation Observation `json:"observation"`
	Action      Action      `json:"action"`
	LogProb     float64     `json:"logProb"`
	Value       float64     `json:"value"`
	Reward      float64     `json:"reward"`
	Done        bool        `json:"done"`
	Player      int         `json:"player"`

	Advantage float64 `json:"advantage,omitempty"`
	Return    float64 `json:"return,omitempty"`
}

// Trajectory is the time-ordered sequence of one player's transitions within
// one episode. The advantage recursion depends on this order; it must never
// be reordered or interleaved with another player's or episode's steps.
type Trajectory struct {
	Player int          `json:"player"`
	Steps  []Transition `json:"steps"`

	// Truncated marks a trajectory cut by the collection budget rather than
	// by episode termination. Bootstrap then holds the value estimate of the
	// observation following the final step, standing in for the return to go.
	Truncated bool    `json:"truncated,omitempty"`
	Bootstrap float64 `json:"bootstrap,omitempty"`
}

func NewTrajectory(player int) *Trajectory {
	return &Trajectory{Player: player, Steps: make([]Transition, 0, 64)}
}

func (t *Trajectory) Append(tr Transition) {
	t.Steps = append(t.Steps, tr)
}

func (t *Trajectory) Len() int {
	return len(t.Steps)
}

// Reward sums the rewards over the whole trajectory.
func (t *Trajectory) Reward() float64 {
	total := 0.0
	for i := range t.Steps {
		total += t.Steps[i].Reward
	}
	return total
}
