package types

// Observation is the fixed-length feature vector a player receives from the
// environment. The engine treats it as opaque beyond its length.
type Observation = []float64

// Action is the fixed-length action vector applied to the environment.
// Element i is interpreted according to the environment's ActionSpaces()[i].
type Action = []float64

// ActionKind says how one index of an action vector is interpreted.
type ActionKind int

const (
	// Discrete indices carry a 0/1 value sampled from a Bernoulli whose
	// parameter comes from the policy logit.
	Discrete ActionKind = iota
	// Continuous indices carry an unconstrained real value sampled from a
	// Gaussian around the policy mean.
	Continuous
)

func (k ActionKind) String() string {
	switch k {
	case Discrete:
		return "discrete"
	case Continuous:
		return "continuous"
	}
	return "unknown"
}

// ActionSpace describes a single action index. Environments declare one per
// index, once; the slice is never mutated afterwards.
type ActionSpace struct {
	Index int        `json:"index"`
	Kind  ActionKind `json:"kind"`
}

// Outcome reports how an episode ended. Winner is -1 when no player won.
type Outcome struct {
	Winner    int  `json:"winner"`
	Completed bool `json:"completed"`
}

// StepResult is the environment's reply to Reset and Step: one observation
// and one reward per player, plus episode termination.
type StepResult struct {
	Observations []Observation `json:"observations"`
	Rewards      []float64     `json:"rewards"`
	Done         bool          `json:"done"`
	Outcome      *Outcome      `json:"outcome,omitempty"`
}

// Environment is the simulation the engine drives. Implementations advance
// all players at once and are free to interpret dt as they see fit.
type Environment interface {
	Reset() (*StepResult, error)
	Step(actions []Action, dt float64) (*StepResult, error)
	NumPlayers() int
	ObservationSize() int
	ActionSize() int
	ActionSpaces() []ActionSpace
}

// Controller produces an action for one player given its observation.
// Controllers are synchronous and opaque to the engine; trainable players
// bypass this interface and act through their PolicyAgent directly so the
// sampling output can be recorded.
type Controller interface {
	Decide(Observation) (Action, error)
}

// YieldFunc marks a voluntary suspension point inside long-running loops:
// after each environment step during collection and periodically between
// mini-batches during optimization. Implementations may return nil to
// continue, block to pause, or return ErrStopped to unwind cooperatively.
type YieldFunc func() error

// Yield invokes y if it is set.
func Yield(y YieldFunc) error {
	if y == nil {
		return nil
	}
	return y()
}
