// Package analysis accumulates iteration reports for a run and renders them
// into a CSV table and training-curve plots once the run is over.
package analysis

import (
	"bytes"
	"encoding/csv"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"sync"

	"gonum.org/v1/plot"
	"gonum.org/v1/plot/plotter"
	"gonum.org/v1/plot/plotutil"
	"gonum.org/v1/plot/vg"

	"github.com/Kokkini/MimicRL/session"
	"github.com/Kokkini/MimicRL/util"
)

// Tracker collects progress records. Observe is safe to call from the run
// loop while another goroutine reads.
type Tracker struct {
	mu      sync.Mutex
	records []session.Progress
}

func NewTracker() *Tracker {
	return &Tracker{}
}

// Observe appends one record; register it with Session.OnProgress.
func (t *Tracker) Observe(p session.Progress) {
	t.mu.Lock()
	t.records = append(t.records, p)
	t.mu.Unlock()
}

// Records returns a copy of everything observed so far.
func (t *Tracker) Records() []session.Progress {
	t.mu.Lock()
	defer t.mu.Unlock()
	return append([]session.Progress(nil), t.records...)
}

// SaveCSV writes the iteration table.
func (t *Tracker) SaveCSV(path string) error {
	records := t.Records()
	if len(records) == 0 {
		return errors.New("analysis: nothing tracked")
	}
	var buf bytes.Buffer
	w := csv.NewWriter(&buf)
	header := []string{"iteration", "games", "steps", "rewardMean", "rewardMin", "rewardMax",
		"policyLoss", "valueLoss", "entropy", "klDivergence", "clipFraction", "trainingTime"}
	if err := w.Write(header); err != nil {
		return err
	}
	for _, p := range records {
		row := []string{
			strconv.Itoa(p.Iteration),
			strconv.Itoa(p.GamesCompleted),
			strconv.Itoa(p.Steps),
			fmtF(p.Reward.Mean),
			fmtF(p.Reward.Min),
			fmtF(p.Reward.Max),
			fmtF(p.PolicyLoss),
			fmtF(p.ValueLoss),
			fmtF(p.PolicyEntropy),
			fmtF(p.ApproxKL),
			fmtF(p.ClipFraction),
			fmtF(p.TrainingSeconds),
		}
		if err := w.Write(row); err != nil {
			return err
		}
	}
	w.Flush()
	if err := w.Error(); err != nil {
		return err
	}
	return util.WriteFileAtomic(path, buf.Bytes(), 0644)
}

func fmtF(v float64) string {
	return strconv.FormatFloat(v, 'g', 8, 64)
}

// SavePlots renders the training curves as PNGs in dir: mean reward, entropy
// and the two loss terms as single-line charts, plus one chart with a reward
// line per player.
func (t *Tracker) SavePlots(dir string) error {
	records := t.Records()
	if len(records) == 0 {
		return errors.New("analysis: nothing tracked")
	}
	if err := os.MkdirAll(dir, os.ModePerm); err != nil {
		return fmt.Errorf("create plot dir: %w", err)
	}

	curves := []struct {
		name  string
		label string
		y     func(session.Progress) float64
	}{
		{"reward_mean", "Mean reward", func(p session.Progress) float64 { return p.Reward.Mean }},
		{"entropy", "Entropy", func(p session.Progress) float64 { return p.PolicyEntropy }},
		{"policy_loss", "Policy loss", func(p session.Progress) float64 { return p.PolicyLoss }},
		{"value_loss", "Value loss", func(p session.Progress) float64 { return p.ValueLoss }},
	}
	for i, c := range curves {
		p := plot.New()
		p.Title.Text = c.label
		p.X.Label.Text = "Iteration"
		p.Y.Label.Text = c.label
		points := make(plotter.XYs, len(records))
		for j, rec := range records {
			points[j] = plotter.XY{
				X: float64(rec.Iteration),
				Y: c.y(rec),
			}
		}
		line, err := plotter.NewLine(points)
		if err != nil {
			return err
		}
		line.Color = plotutil.Color(i)
		p.Add(line)
		p.Legend.Add(c.name, line)
		if err := p.Save(8*vg.Inch, 6*vg.Inch, filepath.Join(dir, c.name+".png")); err != nil {
			return err
		}
	}
	return t.savePlayerRewards(records, dir)
}

func (t *Tracker) savePlayerRewards(records []session.Progress, dir string) error {
	players := make(map[int]bool)
	for _, rec := range records {
		for pl := range rec.PerPlayer {
			players[pl] = true
		}
	}
	if len(players) < 2 {
		return nil
	}
	order := make([]int, 0, len(players))
	for pl := range players {
		order = append(order, pl)
	}
	sort.Ints(order)

	p := plot.New()
	p.Title.Text = "Reward per player"
	p.X.Label.Text = "Iteration"
	p.Y.Label.Text = "Mean reward"
	for i, pl := range order {
		points := make(plotter.XYs, len(records))
		for j, rec := range records {
			points[j] = plotter.XY{
				X: float64(rec.Iteration),
				Y: rec.PerPlayer[pl].Reward.Mean,
			}
		}
		line, err := plotter.NewLine(points)
		if err != nil {
			return err
		}
		line.Color = plotutil.Color(i)
		p.Add(line)
		p.Legend.Add("player "+strconv.Itoa(pl), line)
	}
	return p.Save(8*vg.Inch, 6*vg.Inch, filepath.Join(dir, "reward_players.png"))
}
