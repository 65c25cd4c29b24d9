// Package rollout gathers on-policy experience. A collector owns a fixed set
// of environment instances and steps them in a round-robin so that no single
// instance monopolizes the run loop; every instance boundary is a yield
// point, which is what makes pause and stop responsive during collection.
package rollout

import (
	"sort"

	"github.com/rs/zerolog"

	"github.com/Kokkini/MimicRL/agent"
	"github.com/Kokkini/MimicRL/types"
)

// Config sizes one collection pass. At least one of TargetGames and
// TargetSteps must be positive; for environments that can run forever, pair a
// games target with a steps target so a pass always ends.
type Config struct {
	// NumRollouts is the number of environment instances stepped in an
	// interleaved round-robin.
	NumRollouts int `json:"numRollouts"`
	// TargetGames ends the pass once this many episodes have been finished by
	// the environment itself.
	TargetGames int `json:"targetGames"`
	// TargetSteps ends the pass once this many transitions have been recorded
	// across all trainable players.
	TargetSteps int `json:"targetSteps"`
	// MaxEpisodeSteps truncates a single episode that has run this long and
	// starts a fresh one. Zero means no per-episode cap.
	MaxEpisodeSteps int `json:"maxEpisodeSteps"`
	// TimeStep is the dt handed to every environment step.
	TimeStep float64 `json:"dt"`
}

// Validate checks the collection parameters.
func (c Config) Validate() error {
	if c.NumRollouts < 1 {
		return types.ConfigErrorf("numRollouts", "must be at least 1, got %d", c.NumRollouts)
	}
	if c.TargetGames <= 0 && c.TargetSteps <= 0 {
		return types.ConfigErrorf("targetGames", "need a games or steps target per pass")
	}
	if c.TargetGames < 0 {
		return types.ConfigErrorf("targetGames", "must not be negative, got %d", c.TargetGames)
	}
	if c.TargetSteps < 0 {
		return types.ConfigErrorf("targetSteps", "must not be negative, got %d", c.TargetSteps)
	}
	if c.MaxEpisodeSteps < 0 {
		return types.ConfigErrorf("maxEpisodeSteps", "must not be negative, got %d", c.MaxEpisodeSteps)
	}
	if c.TimeStep <= 0 {
		return types.ConfigErrorf("dt", "must be positive, got %v", c.TimeStep)
	}
	return nil
}

// EnvFactory builds the environment for one rollout instance. The instance
// index lets factories derive distinct seeds.
type EnvFactory func(instance int) (types.Environment, error)

// Reward summarizes the per-episode reward totals one player saw in a pass.
type Reward struct {
	Mean float64 `json:"mean"`
	Min  float64 `json:"min"`
	Max  float64 `json:"max"`
}

// Stats summarizes a pass for progress reporting and the run journal. Games
// counts episodes the environment ended itself; Episodes additionally counts
// the ones cut by MaxEpisodeSteps or the pass budget.
type Stats struct {
	Steps      int            `json:"steps"`
	Games      int            `json:"games"`
	Episodes   int            `json:"episodes"`
	Truncated  int            `json:"truncated"`
	Failures   int            `json:"failures"`
	MeanLength float64        `json:"meanLength"`
	Reward     map[int]Reward `json:"reward"`
	Wins       map[int]int    `json:"wins"`
}

// Batch is the product of one collection pass: every trainable player's
// closed trajectories, grouped by player. Errs holds the environment failures
// that killed individual instances along the way.
type Batch struct {
	Pools map[int][]*types.Trajectory
	Stats Stats
	Errs  []error

	rewards map[int][]float64
	lengths []int
}

// Collector steps a fixed pool of environment instances and records each
// trainable player's transitions through that player's own agent. Every other
// player acts through an opaque controller and never produces trajectories.
type Collector struct {
	cfg         Config
	agents      map[int]*agent.PolicyAgent
	controllers map[int]types.Controller
	players     []int
	insts       []*instance
	log         zerolog.Logger
}

type instance struct {
	env   types.Environment
	obs   []types.Observation
	trajs map[int]*types.Trajectory
	steps int
	dead  bool
}

// NewCollector builds the instance pool up front so that a misconfigured
// factory fails at construction rather than mid-run. Every player of the
// environment must be covered by exactly one of agents and controllers.
func NewCollector(cfg Config, agents map[int]*agent.PolicyAgent, controllers map[int]types.Controller, factory EnvFactory, log zerolog.Logger) (*Collector, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if len(agents) == 0 {
		return nil, types.ConfigErrorf("agents", "no trainable players")
	}
	insts := make([]*instance, cfg.NumRollouts)
	for i := range insts {
		env, err := factory(i)
		if err != nil {
			return nil, &types.EnvironmentError{Rollout: i, Err: err}
		}
		insts[i] = &instance{env: env}
	}
	env := insts[0].env
	n := env.NumPlayers()
	var players []int
	for p, ag := range agents {
		if p < 0 || p >= n {
			return nil, types.ConfigErrorf("agents", "player %d out of range for %d players", p, n)
		}
		if _, ok := controllers[p]; ok {
			return nil, types.ConfigErrorf("agents", "player %d has both an agent and a controller", p)
		}
		if env.ObservationSize() != ag.ObservationSize() {
			return nil, &types.ShapeMismatchError{What: "environment observation", Want: ag.ObservationSize(), Got: env.ObservationSize()}
		}
		if env.ActionSize() != ag.ActionSize() {
			return nil, &types.ShapeMismatchError{What: "environment action", Want: ag.ActionSize(), Got: env.ActionSize()}
		}
		players = append(players, p)
	}
	sort.Ints(players)
	for p := range controllers {
		if p < 0 || p >= n {
			return nil, types.ConfigErrorf("controllers", "player %d out of range for %d players", p, n)
		}
	}
	for p := 0; p < n; p++ {
		if _, ok := agents[p]; ok {
			continue
		}
		if _, ok := controllers[p]; !ok {
			return nil, types.ConfigErrorf("controllers", "player %d has neither an agent nor a controller", p)
		}
	}
	return &Collector{
		cfg:         cfg,
		agents:      agents,
		controllers: controllers,
		players:     players,
		insts:       insts,
		log:         log.With().Str("component", "collector").Logger(),
	}, nil
}

// Players returns the trainable player indices in ascending order.
func (c *Collector) Players() []int { return append([]int(nil), c.players...) }

// Collect interleaves episodes across the instance pool until the games or
// steps target is met, then truncates whatever is still open with a value
// bootstrap. It calls yield before every environment step; a stop request
// surfaces as ErrStopped and discards the partial batch. An environment
// failure kills only its own instance; Collect fails outright only when no
// instance is left alive before the budget is met.
func (c *Collector) Collect(yield types.YieldFunc) (*Batch, error) {
	b := &Batch{
		Pools:   make(map[int][]*types.Trajectory, len(c.players)),
		rewards: make(map[int][]float64, len(c.players)),
	}
	b.Stats.Reward = make(map[int]Reward, len(c.players))
	b.Stats.Wins = make(map[int]int)

	alive := 0
	for i, inst := range c.insts {
		inst.dead = false
		if err := c.reset(i, inst, b); err != nil {
			return nil, err
		}
		if !inst.dead {
			alive++
		}
	}
	for alive > 0 && !c.budgetMet(b) {
		for i, inst := range c.insts {
			if inst.dead || c.budgetMet(b) {
				continue
			}
			if err := types.Yield(yield); err != nil {
				return nil, err
			}
			if err := c.step(i, inst, b); err != nil {
				return nil, err
			}
			if inst.dead {
				alive--
			}
		}
	}
	if alive == 0 && !c.budgetMet(b) {
		return nil, b.Errs[len(b.Errs)-1]
	}
	for _, inst := range c.insts {
		if inst.dead || inst.trajs == nil {
			continue
		}
		if err := c.truncate(inst, b); err != nil {
			return nil, err
		}
	}
	c.finalize(b)
	c.log.Debug().
		Int("steps", b.Stats.Steps).
		Int("games", b.Stats.Games).
		Int("truncated", b.Stats.Truncated).
		Int("failures", b.Stats.Failures).
		Msg("collected batch")
	return b, nil
}

func (c *Collector) budgetMet(b *Batch) bool {
	if c.cfg.TargetGames > 0 && b.Stats.Games >= c.cfg.TargetGames {
		return true
	}
	if c.cfg.TargetSteps > 0 && b.Stats.Steps >= c.cfg.TargetSteps {
		return true
	}
	return false
}

// reset starts a fresh episode on the instance. A Reset failure kills the
// instance, not the pass.
func (c *Collector) reset(i int, inst *instance, b *Batch) error {
	res, err := inst.env.Reset()
	if err != nil {
		c.kill(i, inst, b, err)
		return nil
	}
	if err := c.checkObservations(res.Observations, inst.env.NumPlayers()); err != nil {
		return err
	}
	inst.obs = res.Observations
	inst.trajs = make(map[int]*types.Trajectory, len(c.players))
	for _, p := range c.players {
		inst.trajs[p] = types.NewTrajectory(p)
	}
	inst.steps = 0
	return nil
}

func (c *Collector) checkObservations(obs []types.Observation, n int) error {
	if len(obs) != n {
		return &types.ShapeMismatchError{What: "observations per player", Want: n, Got: len(obs)}
	}
	return nil
}

// step advances one instance by one environment step. Trainable players act
// through their own agents so the sampling output can be recorded; the act
// output is captured before stepping.
func (c *Collector) step(i int, inst *instance, b *Batch) error {
	n := inst.env.NumPlayers()
	actions := make([]types.Action, n)
	outs := make(map[int]*types.ActOutput, len(c.players))
	for p := 0; p < n; p++ {
		if ag, ok := c.agents[p]; ok {
			out, err := ag.Act(inst.obs[p])
			if err != nil {
				return err
			}
			actions[p] = out.Action
			outs[p] = out
			continue
		}
		a, err := c.controllers[p].Decide(inst.obs[p])
		if err != nil {
			return err
		}
		actions[p] = a
	}
	res, err := inst.env.Step(actions, c.cfg.TimeStep)
	if err != nil {
		c.kill(i, inst, b, err)
		return nil
	}
	if err := c.checkObservations(res.Observations, n); err != nil {
		return err
	}
	for _, p := range c.players {
		out := outs[p]
		inst.trajs[p].Append(types.Transition{
			Observation: inst.obs[p],
			Action:      out.Action,
			LogProb:     out.LogProb,
			Value:       out.Value,
			Reward:      res.Rewards[p],
			Done:        res.Done,
			Player:      p,
		})
		b.Stats.Steps++
	}
	inst.steps++
	inst.obs = res.Observations
	if res.Done {
		c.close(inst, b, res.Outcome, false)
		if c.budgetMet(b) {
			return nil
		}
		return c.reset(i, inst, b)
	}
	if c.cfg.MaxEpisodeSteps > 0 && inst.steps >= c.cfg.MaxEpisodeSteps {
		if err := c.truncate(inst, b); err != nil {
			return err
		}
		if c.budgetMet(b) {
			return nil
		}
		return c.reset(i, inst, b)
	}
	return nil
}

// close moves the instance's trajectories into the pool and books the episode.
func (c *Collector) close(inst *instance, b *Batch, outcome *types.Outcome, truncated bool) {
	for _, p := range c.players {
		tr := inst.trajs[p]
		if tr.Len() == 0 {
			continue
		}
		b.Pools[p] = append(b.Pools[p], tr)
		b.rewards[p] = append(b.rewards[p], tr.Reward())
	}
	b.lengths = append(b.lengths, inst.steps)
	b.Stats.Episodes++
	if truncated {
		b.Stats.Truncated++
	} else {
		b.Stats.Games++
		if outcome != nil && outcome.Completed && outcome.Winner >= 0 {
			b.Stats.Wins[outcome.Winner]++
		}
	}
	inst.trajs = nil
}

// truncate cuts the instance's open episode, bootstrapping each trajectory
// with the value estimate of the observation after its final step.
func (c *Collector) truncate(inst *instance, b *Batch) error {
	if inst.steps == 0 {
		inst.trajs = nil
		return nil
	}
	for _, p := range c.players {
		tr := inst.trajs[p]
		if tr.Len() == 0 {
			continue
		}
		v, err := c.agents[p].Value(inst.obs[p])
		if err != nil {
			return err
		}
		tr.Truncated = true
		tr.Bootstrap = v
	}
	c.close(inst, b, nil, true)
	return nil
}

// kill retires a failed instance. Its open trajectories are discarded; the
// wrapped error is surfaced on the batch.
func (c *Collector) kill(i int, inst *instance, b *Batch, err error) {
	inst.dead = true
	inst.trajs = nil
	b.Stats.Failures++
	werr := &types.EnvironmentError{Rollout: i, Err: err}
	b.Errs = append(b.Errs, werr)
	c.log.Warn().Err(werr).Int("rollout", i).Msg("environment instance failed")
}

func (c *Collector) finalize(b *Batch) {
	if len(b.lengths) > 0 {
		total := 0
		for _, l := range b.lengths {
			total += l
		}
		b.Stats.MeanLength = float64(total) / float64(len(b.lengths))
	}
	for _, p := range c.players {
		totals := b.rewards[p]
		if len(totals) == 0 {
			b.Stats.Reward[p] = Reward{}
			continue
		}
		r := Reward{Min: totals[0], Max: totals[0]}
		sum := 0.0
		for _, v := range totals {
			sum += v
			if v < r.Min {
				r.Min = v
			}
			if v > r.Max {
				r.Max = v
			}
		}
		r.Mean = sum / float64(len(totals))
		b.Stats.Reward[p] = r
	}
}
