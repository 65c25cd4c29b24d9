// Package session drives the collect-train loop. A session owns one agent
// and one trainer per trainable player plus a shared collector, runs them on
// a single goroutine, and exposes pause, resume and stop through a
// cooperative yield point that the collector and trainers call between units
// of work. Nothing in the engine preempts anything; control always changes
// hands at a step or mini-batch boundary.
package session

import (
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/Kokkini/MimicRL/agent"
	"github.com/Kokkini/MimicRL/checkpoint"
	"github.com/Kokkini/MimicRL/envs"
	"github.com/Kokkini/MimicRL/history"
	"github.com/Kokkini/MimicRL/ppo"
	"github.com/Kokkini/MimicRL/rollout"
	"github.com/Kokkini/MimicRL/types"
)

// State is the lifecycle position of a session.
type State int

const (
	Idle State = iota
	Initializing
	Running
	Paused
	Stopped
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case Initializing:
		return "initializing"
	case Running:
		return "running"
	case Paused:
		return "paused"
	case Stopped:
		return "stopped"
	}
	return fmt.Sprintf("state(%d)", int(s))
}

func (s State) MarshalJSON() ([]byte, error) {
	return []byte(strconv.Quote(s.String())), nil
}

// LifecycleError reports a lifecycle call made from a state that does not
// allow it, such as Start before Initialize. The session refuses and stays
// where it was.
type LifecycleError struct {
	Op    string
	State State
}

func (e *LifecycleError) Error() string {
	return fmt.Sprintf("session: cannot %s from state %s", e.Op, e.State)
}

// RewardStats summarizes per-episode reward totals.
type RewardStats struct {
	Mean float64 `json:"mean"`
	Min  float64 `json:"min"`
	Max  float64 `json:"max"`
}

// PlayerProgress is one trainable player's slice of an iteration report.
type PlayerProgress struct {
	Reward       RewardStats `json:"reward"`
	WinRate      float64     `json:"winRate"`
	PolicyLoss   float64     `json:"policyLoss"`
	ValueLoss    float64     `json:"valueLoss"`
	Entropy      float64     `json:"entropy"`
	ApproxKL     float64     `json:"klDivergence"`
	ClipFraction float64     `json:"clipFraction"`
	Updates      int         `json:"updates"`
}

// Progress is the per-iteration report published to callbacks and kept as
// the latest status. The top-level loss and reward figures average over the
// trainable players; PerPlayer carries the per-player breakdown.
type Progress struct {
	RunID             string                 `json:"runId"`
	RunName           string                 `json:"runName"`
	Iteration         int                    `json:"iteration"`
	GamesCompleted    int                    `json:"gamesCompleted"`
	MaxGames          int                    `json:"maxGames"`
	Steps             int                    `json:"steps"`
	AverageGameLength float64                `json:"averageGameLength"`
	CompletionRate    float64                `json:"completionRate"`
	Reward            RewardStats            `json:"rewardStats"`
	PolicyEntropy     float64                `json:"policyEntropy"`
	PolicyLoss        float64                `json:"policyLoss"`
	ValueLoss         float64                `json:"valueLoss"`
	ApproxKL          float64                `json:"klDivergence"`
	ClipFraction      float64                `json:"clipFraction"`
	PerPlayer         map[int]PlayerProgress `json:"perPlayer"`
	TrainingSeconds   float64                `json:"trainingTime"`
}

// ProgressFunc receives each iteration's report. Called from the run loop;
// keep it fast.
type ProgressFunc func(Progress)

// Status is the externally visible snapshot of a session.
type Status struct {
	State          State    `json:"state"`
	RunID          string   `json:"runId"`
	RunName        string   `json:"runName"`
	GamesCompleted int      `json:"gamesCompleted"`
	Progress       Progress `json:"progress"`
	Error          string   `json:"error,omitempty"`
}

// Session is a one-shot training run: Idle until Initialize, Initializing
// until Start, then Running and Paused as control demands, finally Stopped.
// A stopped session cannot be restarted; build a new one.
type Session struct {
	cfg Config
	log zerolog.Logger

	players   []int
	agents    map[int]*agent.PolicyAgent
	trainers  map[int]*ppo.Trainer
	collector *rollout.Collector

	store       checkpoint.Store
	recorder    *history.Recorder
	ownStore    bool
	ownRecorder bool

	mu          sync.Mutex
	cond        *sync.Cond
	state       State
	initialized bool
	pauseReq    bool
	stopReq     bool
	runID       string
	progress    Progress
	callbacks   []ProgressFunc
	runErr      error

	iteration      int
	gamesCompleted int
	lastSaveGames  int
	started        time.Time
	done           chan struct{}
}

// New validates the config and builds an idle session. Heavy construction
// waits for Initialize.
func New(cfg Config) (*Session, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	log := zerolog.Nop()
	if cfg.Logger != nil {
		log = cfg.Logger.With().Str("component", "session").Logger()
	}
	s := &Session{
		cfg:   cfg,
		log:   log,
		state: Idle,
		done:  make(chan struct{}),
	}
	s.cond = sync.NewCond(&s.mu)
	return s, nil
}

// Agent returns the given trainable player's agent, nil for other players or
// before Initialize. Parameters change while the run loop is active; read
// them only through Snapshot or after the session stops.
func (s *Session) Agent(player int) *agent.PolicyAgent { return s.agents[player] }

// Players returns the trainable player indices in ascending order.
func (s *Session) Players() []int { return append([]int(nil), s.players...) }

// RunID is empty until Initialize has run.
func (s *Session) RunID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.runID
}

// State reports the current lifecycle state.
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// GamesCompleted reports the exact number of episodes the environments have
// finished so far, stable across pause and resume.
func (s *Session) GamesCompleted() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.gamesCompleted
}

// Status reports state, identity and the latest progress in one snapshot.
func (s *Session) Status() Status {
	s.mu.Lock()
	defer s.mu.Unlock()
	st := Status{
		State:          s.state,
		RunID:          s.runID,
		RunName:        s.cfg.RunName,
		GamesCompleted: s.gamesCompleted,
		Progress:       s.progress,
	}
	if s.runErr != nil {
		st.Error = s.runErr.Error()
	}
	return st
}

// Progress returns the latest iteration report.
func (s *Session) Progress() Progress {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.progress
}

// OnProgress registers a callback for every completed iteration.
func (s *Session) OnProgress(fn ProgressFunc) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.callbacks = append(s.callbacks, fn)
}

// Initialize builds the environments, the per-player agents and trainers and
// the collector, restoring a checkpoint when resuming. Initializing an
// already initialized session is a no-op; a failed initialization returns
// the session to Idle so the caller can fix the config and try again.
func (s *Session) Initialize() error {
	s.mu.Lock()
	switch s.state {
	case Idle:
	case Initializing:
		s.mu.Unlock()
		return nil
	default:
		st := s.state
		s.mu.Unlock()
		return &LifecycleError{Op: "initialize", State: st}
	}
	s.state = Initializing
	s.mu.Unlock()

	if err := s.build(); err != nil {
		s.closeOwned()
		s.mu.Lock()
		s.state = Idle
		s.mu.Unlock()
		return err
	}
	s.mu.Lock()
	s.initialized = true
	s.mu.Unlock()
	s.log.Info().
		Str("runId", s.runID).
		Str("environment", s.cfg.Environment).
		Ints("players", s.players).
		Msg("session initialized")
	return nil
}

// Start launches the run loop. It refuses unless Initialize has completed.
func (s *Session) Start() error {
	s.mu.Lock()
	if s.state != Initializing || !s.initialized {
		st := s.state
		s.mu.Unlock()
		return &LifecycleError{Op: "start", State: st}
	}
	s.state = Running
	s.started = time.Now()
	s.mu.Unlock()
	s.log.Info().
		Str("runId", s.runID).
		Int("maxGames", s.cfg.MaxGames).
		Int("gamesCompleted", s.gamesCompleted).
		Msg("session started")
	go s.run()
	return nil
}

// Wait blocks until the run loop has exited and returns its terminal error,
// nil for completion or a requested stop.
func (s *Session) Wait() error {
	<-s.done
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.runErr
}

func (s *Session) build() error {
	s.runID = uuid.NewString()
	s.iteration = 0
	s.gamesCompleted = 0

	factory := s.cfg.Factory
	if factory == nil {
		name := s.cfg.Environment
		base := s.cfg.Seed
		factory = func(i int) (types.Environment, error) {
			return envs.Build(name, base+uint64(100+i))
		}
	}
	probe, err := factory(0)
	if err != nil {
		return &types.EnvironmentError{Rollout: 0, Err: err}
	}
	spaces := probe.ActionSpaces()
	numPlayers := probe.NumPlayers()

	s.players = s.cfg.players()
	if last := s.players[len(s.players)-1]; last >= numPlayers {
		return types.ConfigErrorf("trainablePlayers", "player %d out of range for %d players", last, numPlayers)
	}
	s.agents = make(map[int]*agent.PolicyAgent, len(s.players))
	for _, p := range s.players {
		ag, err := agent.New(agent.Config{
			ObservationSize: probe.ObservationSize(),
			ActionSize:      probe.ActionSize(),
			Spaces:          spaces,
			Hidden:          s.cfg.Network.Hidden,
			InitLogStd:      s.cfg.Network.InitLogStd,
			Seed:            s.cfg.Seed + uint64(p),
		})
		if err != nil {
			return err
		}
		s.agents[p] = ag
	}

	s.store = s.cfg.Store
	if s.store == nil && s.cfg.Checkpoint != "" {
		st, err := checkpoint.Open(s.cfg.Checkpoint)
		if err != nil {
			return err
		}
		s.store = st
		s.ownStore = true
	}
	s.recorder = s.cfg.Recorder
	if s.recorder == nil && s.cfg.History != "" {
		rec, err := history.Open(s.cfg.History)
		if err != nil {
			return err
		}
		s.recorder = rec
		s.ownRecorder = true
	}

	if s.cfg.Resume && s.store != nil {
		cp, err := s.store.Load()
		switch {
		case errors.Is(err, checkpoint.ErrNoCheckpoint):
			s.log.Info().Msg("no checkpoint to resume from, starting fresh")
		case err != nil:
			return err
		default:
			for _, p := range s.players {
				snap, ok := cp.Agents[p]
				if !ok {
					return types.ConfigErrorf("resume", "checkpoint has no snapshot for player %d", p)
				}
				if err := s.agents[p].Restore(snap); err != nil {
					return fmt.Errorf("restore player %d: %w", p, err)
				}
			}
			s.runID = cp.RunID
			s.iteration = cp.Iteration
			s.gamesCompleted = cp.GamesCompleted
			s.log.Info().
				Str("runId", cp.RunID).
				Int("iteration", cp.Iteration).
				Int("gamesCompleted", cp.GamesCompleted).
				Msg("resumed from checkpoint")
		}
	}
	s.lastSaveGames = s.gamesCompleted

	controllers := make(map[int]types.Controller, len(s.cfg.Controllers)+len(s.cfg.Opponents))
	for p, ctrl := range s.cfg.Controllers {
		controllers[p] = ctrl
	}
	for k, name := range s.cfg.Opponents {
		p, _ := strconv.Atoi(k)
		if _, ok := controllers[p]; ok {
			continue
		}
		ctrl, err := s.buildOpponent(p, name, spaces)
		if err != nil {
			return err
		}
		controllers[p] = ctrl
	}

	col, err := rollout.NewCollector(s.cfg.rolloutConfig(), s.agents, controllers, factory, s.log)
	if err != nil {
		return err
	}
	s.collector = col

	s.trainers = make(map[int]*ppo.Trainer, len(s.players))
	for _, p := range s.players {
		tr, err := ppo.New(s.cfg.Algorithm.Hyperparameters, s.agents[p], s.cfg.Seed+uint64(500+p), s.log.With().Int("player", p).Logger())
		if err != nil {
			return err
		}
		s.trainers[p] = tr
	}

	if s.recorder != nil {
		raw, _ := json.Marshal(s.cfg)
		err := s.recorder.StartRun(history.RunRow{
			RunID:       s.runID,
			Name:        s.cfg.RunName,
			Environment: s.cfg.Environment,
			ConfigJSON:  string(raw),
			StartedAt:   time.Now(),
		})
		if err != nil {
			s.log.Warn().Err(err).Msg("history journal unavailable")
		}
	}
	return nil
}

// buildOpponent resolves a config opponent entry into a controller: "random"
// or "policy:TARGET" where TARGET names a checkpoint holding the frozen
// policy.
func (s *Session) buildOpponent(p int, name string, spaces []types.ActionSpace) (types.Controller, error) {
	if name == "random" {
		return rollout.NewRandomController(spaces, 1.0, s.cfg.Seed+uint64(900+p)), nil
	}
	target := strings.TrimPrefix(name, "policy:")
	st, err := checkpoint.Open(target)
	if err != nil {
		return nil, err
	}
	cp, err := st.Load()
	if c, ok := st.(interface{ Close() error }); ok {
		c.Close()
	}
	if err != nil {
		return nil, fmt.Errorf("load opponent policy for player %d: %w", p, err)
	}
	ag, err := agent.FromSnapshot(cp.AgentFor(p), s.cfg.Seed+uint64(900+p))
	if err != nil {
		return nil, err
	}
	return rollout.NewPolicyController(ag), nil
}

func (s *Session) run() {
	var runErr error
	for s.gamesRemaining() {
		if err := s.yield(); err != nil {
			break
		}
		batch, err := s.collector.Collect(s.yield)
		if err != nil {
			if errors.Is(err, types.ErrStopped) {
				break
			}
			runErr = err
			s.log.Error().Err(err).Msg("collection failed")
			break
		}
		diags := make(map[int]*ppo.Diagnostics, len(s.players))
		for _, p := range s.players {
			d, err := s.trainers[p].Train(batch.Pools[p], s.yield)
			if err != nil {
				runErr = err
				break
			}
			diags[p] = d
		}
		if runErr != nil {
			if errors.Is(runErr, types.ErrStopped) {
				runErr = nil
			} else {
				s.log.Error().Err(runErr).Msg("training failed")
			}
			break
		}

		s.mu.Lock()
		s.iteration++
		s.gamesCompleted += batch.Stats.Games
		it, games := s.iteration, s.gamesCompleted
		s.mu.Unlock()

		prog := s.assemble(it, games, batch.Stats, diags)
		s.publish(prog)
		s.journal(prog, batch.Stats, diags)
		if s.cfg.AutoSaveInterval > 0 && games-s.lastSaveGames >= s.cfg.AutoSaveInterval {
			s.saveCheckpoint()
			s.lastSaveGames = games
		}
		s.log.Info().
			Int("iteration", it).
			Int("games", games).
			Float64("reward", prog.Reward.Mean).
			Float64("entropy", prog.PolicyEntropy).
			Msg("iteration complete")
	}
	s.saveCheckpoint()
	s.finish(runErr)
}

func (s *Session) gamesRemaining() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.gamesCompleted < s.cfg.MaxGames
}

func (s *Session) assemble(iteration, games int, stats rollout.Stats, diags map[int]*ppo.Diagnostics) Progress {
	prog := Progress{
		RunID:             s.runID,
		RunName:           s.cfg.RunName,
		Iteration:         iteration,
		GamesCompleted:    games,
		MaxGames:          s.cfg.MaxGames,
		Steps:             stats.Steps,
		AverageGameLength: stats.MeanLength,
		PerPlayer:         make(map[int]PlayerProgress, len(s.players)),
		TrainingSeconds:   time.Since(s.started).Seconds(),
	}
	if stats.Episodes > 0 {
		prog.CompletionRate = float64(stats.Games) / float64(stats.Episodes)
	}
	first := true
	for _, p := range s.players {
		d := diags[p]
		r := stats.Reward[p]
		pp := PlayerProgress{
			Reward:       RewardStats{Mean: r.Mean, Min: r.Min, Max: r.Max},
			PolicyLoss:   d.PolicyLoss,
			ValueLoss:    d.ValueLoss,
			Entropy:      d.Entropy,
			ApproxKL:     d.ApproxKL,
			ClipFraction: d.ClipFraction,
			Updates:      d.Updates,
		}
		if stats.Games > 0 {
			pp.WinRate = float64(stats.Wins[p]) / float64(stats.Games)
		}
		prog.PerPlayer[p] = pp
		prog.Reward.Mean += r.Mean
		if first || r.Min < prog.Reward.Min {
			prog.Reward.Min = r.Min
		}
		if first || r.Max > prog.Reward.Max {
			prog.Reward.Max = r.Max
		}
		first = false
		prog.PolicyLoss += d.PolicyLoss
		prog.ValueLoss += d.ValueLoss
		prog.PolicyEntropy += d.Entropy
		prog.ApproxKL += d.ApproxKL
		prog.ClipFraction += d.ClipFraction
	}
	n := float64(len(s.players))
	prog.Reward.Mean /= n
	prog.PolicyLoss /= n
	prog.ValueLoss /= n
	prog.PolicyEntropy /= n
	prog.ApproxKL /= n
	prog.ClipFraction /= n
	return prog
}

func (s *Session) publish(prog Progress) {
	s.mu.Lock()
	s.progress = prog
	callbacks := append([]ProgressFunc(nil), s.callbacks...)
	s.mu.Unlock()
	for _, fn := range callbacks {
		fn(prog)
	}
}

func (s *Session) journal(prog Progress, stats rollout.Stats, diags map[int]*ppo.Diagnostics) {
	if s.recorder == nil {
		return
	}
	now := time.Now()
	for _, p := range s.players {
		d := diags[p]
		r := stats.Reward[p]
		err := s.recorder.RecordIteration(history.IterationRow{
			RunID:          prog.RunID,
			Iteration:      prog.Iteration,
			Player:         p,
			Games:          stats.Games,
			Steps:          stats.Steps,
			RewardMean:     r.Mean,
			RewardMin:      r.Min,
			RewardMax:      r.Max,
			PolicyLoss:     d.PolicyLoss,
			ValueLoss:      d.ValueLoss,
			Entropy:        d.Entropy,
			ApproxKL:       d.ApproxKL,
			ClipFraction:   d.ClipFraction,
			ElapsedSeconds: prog.TrainingSeconds,
			RecordedAt:     now,
		})
		if err != nil {
			s.log.Warn().Err(err).Msg("history journal write failed")
			return
		}
	}
}

func (s *Session) saveCheckpoint() {
	if s.store == nil {
		return
	}
	s.mu.Lock()
	it, games := s.iteration, s.gamesCompleted
	s.mu.Unlock()
	raw, _ := json.Marshal(s.cfg)
	snaps := make(map[int]*agent.Snapshot, len(s.players))
	for _, p := range s.players {
		snaps[p] = s.agents[p].Snapshot()
	}
	cp := &checkpoint.Checkpoint{
		Version:        checkpoint.Version,
		RunID:          s.runID,
		RunName:        s.cfg.RunName,
		Iteration:      it,
		GamesCompleted: games,
		SavedAt:        time.Now().UTC(),
		Config:         raw,
		Agents:         snaps,
	}
	if err := s.store.Save(cp); err != nil {
		s.log.Error().Err(err).Int("games", games).Msg("checkpoint save failed")
		return
	}
	s.log.Debug().Int("iteration", it).Int("games", games).Msg("checkpoint saved")
}

func (s *Session) finish(runErr error) {
	s.mu.Lock()
	s.state = Stopped
	s.runErr = runErr
	stopped := s.stopReq
	s.cond.Broadcast()
	s.mu.Unlock()

	final := "completed"
	errMsg := ""
	switch {
	case runErr != nil:
		final = "failed"
		errMsg = runErr.Error()
	case stopped:
		final = "stopped"
	}
	if s.recorder != nil {
		if err := s.recorder.FinishRun(s.runID, final, errMsg); err != nil {
			s.log.Warn().Err(err).Msg("history journal write failed")
		}
	}
	s.closeOwned()
	s.log.Info().
		Str("state", final).
		Int("iteration", s.iteration).
		Int("games", s.gamesCompleted).
		Msg("session finished")
	close(s.done)
}

func (s *Session) closeOwned() {
	if s.ownRecorder && s.recorder != nil {
		s.recorder.Close()
		s.recorder = nil
		s.ownRecorder = false
	}
	if s.ownStore {
		if c, ok := s.store.(interface{ Close() error }); ok {
			c.Close()
		}
		s.store = nil
		s.ownStore = false
	}
}
