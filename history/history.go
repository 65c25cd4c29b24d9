// Package history journals training runs to SQLite so that past runs can be
// listed, compared and plotted after the process is gone. One row per run,
// one row per trainable player per iteration.
package history

import (
	"database/sql"
	"fmt"
	"time"

	_ "modernc.org/sqlite"
)

const schema = `
CREATE TABLE IF NOT EXISTS runs (
	run_id       TEXT PRIMARY KEY,
	name         TEXT NOT NULL,
	environment  TEXT NOT NULL,
	config_json  TEXT,
	state        TEXT NOT NULL,
	error        TEXT,
	started_at   TEXT NOT NULL,
	finished_at  TEXT
);

CREATE TABLE IF NOT EXISTS iterations (
	run_id          TEXT NOT NULL,
	iteration       INTEGER NOT NULL,
	player          INTEGER NOT NULL,
	games           INTEGER NOT NULL,
	steps           INTEGER NOT NULL,
	reward_mean     REAL NOT NULL,
	reward_min      REAL NOT NULL,
	reward_max      REAL NOT NULL,
	policy_loss     REAL NOT NULL,
	value_loss      REAL NOT NULL,
	entropy         REAL NOT NULL,
	approx_kl       REAL NOT NULL,
	clip_fraction   REAL NOT NULL,
	elapsed_seconds REAL NOT NULL,
	recorded_at     TEXT NOT NULL,
	PRIMARY KEY (run_id, iteration, player),
	FOREIGN KEY (run_id) REFERENCES runs(run_id)
);
`

// RunRow is one training run's identity and lifecycle.
type RunRow struct {
	RunID       string
	Name        string
	Environment string
	ConfigJSON  string
	State       string
	Error       string
	StartedAt   time.Time
	FinishedAt  time.Time
}

// IterationRow is one trainable player's summary of one collect-train cycle.
type IterationRow struct {
	RunID          string
	Iteration      int
	Player         int
	Games          int
	Steps          int
	RewardMean     float64
	RewardMin      float64
	RewardMax      float64
	PolicyLoss     float64
	ValueLoss      float64
	Entropy        float64
	ApproxKL       float64
	ClipFraction   float64
	ElapsedSeconds float64
	RecordedAt     time.Time
}

// Recorder wraps the journal database.
type Recorder struct {
	db *sql.DB
}

// Open opens (or creates) the journal database and runs migrations.
func Open(dbPath string) (*Recorder, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open history db: %w", err)
	}
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		return nil, fmt.Errorf("pragma: %w", err)
	}
	if _, err := db.Exec("PRAGMA foreign_keys=ON"); err != nil {
		return nil, fmt.Errorf("pragma fk: %w", err)
	}
	if _, err := db.Exec(schema); err != nil {
		return nil, fmt.Errorf("migrate: %w", err)
	}
	return &Recorder{db: db}, nil
}

// Close closes the underlying database connection.
func (r *Recorder) Close() error {
	return r.db.Close()
}

// StartRun inserts the run row in state "running". A resumed run reuses its
// id, so the insert upserts back into the running state.
func (r *Recorder) StartRun(row RunRow) error {
	_, err := r.db.Exec(
		`INSERT INTO runs (run_id, name, environment, config_json, state, started_at)
		 VALUES (?, ?, ?, ?, 'running', ?)
		 ON CONFLICT(run_id) DO UPDATE SET state = 'running', error = NULL, finished_at = NULL`,
		row.RunID, row.Name, row.Environment, row.ConfigJSON,
		row.StartedAt.UTC().Format(time.RFC3339Nano),
	)
	if err != nil {
		return fmt.Errorf("insert run: %w", err)
	}
	return nil
}

// FinishRun records the terminal state of a run. errMsg is empty for a clean
// finish or a requested stop.
func (r *Recorder) FinishRun(runID, state, errMsg string) error {
	_, err := r.db.Exec(
		`UPDATE runs SET state = ?, error = ?, finished_at = ? WHERE run_id = ?`,
		state, errMsg, time.Now().UTC().Format(time.RFC3339Nano), runID,
	)
	if err != nil {
		return fmt.Errorf("finish run: %w", err)
	}
	return nil
}

// RecordIteration appends one player's iteration summary. A resumed run
// redoes the iterations after its checkpoint, so those rows are replaced.
func (r *Recorder) RecordIteration(row IterationRow) error {
	_, err := r.db.Exec(
		`INSERT OR REPLACE INTO iterations (run_id, iteration, player, games, steps,
		 reward_mean, reward_min, reward_max, policy_loss, value_loss, entropy,
		 approx_kl, clip_fraction, elapsed_seconds, recorded_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		row.RunID, row.Iteration, row.Player, row.Games, row.Steps,
		row.RewardMean, row.RewardMin, row.RewardMax, row.PolicyLoss, row.ValueLoss,
		row.Entropy, row.ApproxKL, row.ClipFraction, row.ElapsedSeconds,
		row.RecordedAt.UTC().Format(time.RFC3339Nano),
	)
	if err != nil {
		return fmt.Errorf("insert iteration: %w", err)
	}
	return nil
}

// ListRuns returns runs newest first.
func (r *Recorder) ListRuns(limit int) ([]RunRow, error) {
	rows, err := r.db.Query(
		`SELECT run_id, name, environment, config_json, state, error, started_at, finished_at
		 FROM runs ORDER BY started_at DESC LIMIT ?`, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("list runs: %w", err)
	}
	defer rows.Close()

	var out []RunRow
	for rows.Next() {
		var row RunRow
		var cfg, errMsg, finished sql.NullString
		var started string
		if err := rows.Scan(&row.RunID, &row.Name, &row.Environment, &cfg, &row.State, &errMsg, &started, &finished); err != nil {
			return nil, fmt.Errorf("scan run: %w", err)
		}
		if cfg.Valid {
			row.ConfigJSON = cfg.String
		}
		if errMsg.Valid {
			row.Error = errMsg.String
		}
		row.StartedAt, _ = time.Parse(time.RFC3339Nano, started)
		if finished.Valid {
			row.FinishedAt, _ = time.Parse(time.RFC3339Nano, finished.String)
		}
		out = append(out, row)
	}
	return out, rows.Err()
}

// LastRun returns the most recently started run.
func (r *Recorder) LastRun() (*RunRow, error) {
	runs, err := r.ListRuns(1)
	if err != nil {
		return nil, err
	}
	if len(runs) == 0 {
		return nil, sql.ErrNoRows
	}
	return &runs[0], nil
}

// Iterations returns a run's iteration rows ordered by iteration, then
// player.
func (r *Recorder) Iterations(runID string) ([]IterationRow, error) {
	rows, err := r.db.Query(
		`SELECT run_id, iteration, player, games, steps, reward_mean, reward_min,
		 reward_max, policy_loss, value_loss, entropy, approx_kl, clip_fraction,
		 elapsed_seconds, recorded_at
		 FROM iterations WHERE run_id = ? ORDER BY iteration, player`, runID,
	)
	if err != nil {
		return nil, fmt.Errorf("list iterations: %w", err)
	}
	defer rows.Close()

	var out []IterationRow
	for rows.Next() {
		var row IterationRow
		var recorded string
		if err := rows.Scan(&row.RunID, &row.Iteration, &row.Player, &row.Games, &row.Steps,
			&row.RewardMean, &row.RewardMin, &row.RewardMax, &row.PolicyLoss, &row.ValueLoss,
			&row.Entropy, &row.ApproxKL, &row.ClipFraction, &row.ElapsedSeconds, &recorded); err != nil {
			return nil, fmt.Errorf("scan iteration: %w", err)
		}
		row.RecordedAt, _ = time.Parse(time.RFC3339Nano, recorded)
		out = append(out, row)
	}
	return out, rows.Err()
}
