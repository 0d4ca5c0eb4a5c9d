// Package dispatcher schedules planned tasks onto workers. Tasks are grouped
// into page sequences; sequences start in planner order on at most
// Concurrency goroutines, and pages within a sequence run strictly in order.
package dispatcher

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/JakeFAU/quote-crawler/internal/crawler"
	"github.com/JakeFAU/quote-crawler/internal/metrics"
	"github.com/JakeFAU/quote-crawler/internal/worker"
)

// Processor runs one task against the run state.
type Processor interface {
	Process(ctx context.Context, state *worker.State, task crawler.Task) (worker.Outcome, error)
}

// Config controls Dispatcher behavior.
type Config struct {
	// Concurrency bounds the number of sequences in flight. 1 is fully sequential.
	Concurrency int
}

// Summary reports the totals of one run.
type Summary struct {
	RunID       string        `json:"run_id"`
	Accepted    int           `json:"accepted"`
	Duplicates  int           `json:"duplicates"`
	TasksDone   int           `json:"tasks_done"`
	TasksFailed int           `json:"tasks_failed"`
	Fallbacks   int           `json:"fallbacks"`
	Halted      bool          `json:"halted"`
	Duration    time.Duration `json:"duration_ns"`
}

// Progress is a point-in-time view of the active or last run.
type Progress struct {
	RunID     string `json:"run_id"`
	Running   bool   `json:"running"`
	Accepted  int    `json:"accepted"`
	Max       int    `json:"max_items"`
	Remaining int    `json:"remaining"`
	Seen      int    `json:"seen"`
	Halted    bool   `json:"halted"`
}

// Dispatcher runs a planned task list to completion or global halt.
type Dispatcher struct {
	processor Processor
	ids       crawler.IDGenerator
	clock     crawler.Clock
	cfg       Config
	logger    *zap.Logger

	mu      sync.Mutex
	runID   string
	state   *worker.State
	running bool
	last    *Summary
}

// New creates a Dispatcher.
func New(processor Processor, ids crawler.IDGenerator, clock crawler.Clock, cfg Config, logger *zap.Logger) *Dispatcher {
	if cfg.Concurrency < 1 {
		cfg.Concurrency = 1
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Dispatcher{
		processor: processor,
		ids:       ids,
		clock:     clock,
		cfg:       cfg,
		logger:    logger,
	}
}

type tally struct {
	accepted    atomic.Int64
	duplicates  atomic.Int64
	tasksDone   atomic.Int64
	tasksFailed atomic.Int64
	fallbacks   atomic.Int64
}

func (t *tally) add(out worker.Outcome) {
	t.accepted.Add(int64(out.Accepted))
	t.duplicates.Add(int64(out.Duplicates))
	if out.FellBack {
		t.fallbacks.Add(1)
	}
	switch out.Status {
	case worker.StatusFailed:
		t.tasksFailed.Add(1)
	case worker.StatusParsed, worker.StatusEmpty:
		t.tasksDone.Add(1)
	}
}

// Run processes tasks with fresh dedup and quota state sized for maxItems. It
// returns an error only for a sink failure or context cancellation; the
// summary is filled in either way.
func (d *Dispatcher) Run(ctx context.Context, tasks []crawler.Task, maxItems int) (Summary, error) {
	runID, err := d.ids.NewID()
	if err != nil {
		return Summary{}, fmt.Errorf("generate run id: %w", err)
	}
	state := worker.NewState(maxItems)
	d.begin(runID, state)
	defer d.end()

	logger := d.logger.With(zap.String("run_id", runID))
	sequences := groupSequences(tasks)
	logger.Info("crawl started",
		zap.Int("tasks", len(tasks)),
		zap.Int("sequences", len(sequences)),
		zap.Int("max_items", state.Quota.Max()),
		zap.Int("concurrency", d.cfg.Concurrency),
	)

	start := d.clock.Now()
	var counts tally
	g, gctx := errgroup.WithContext(crawler.WithRunID(ctx, runID))
	g.SetLimit(d.cfg.Concurrency)
	for _, seq := range sequences {
		if state.Halted() || gctx.Err() != nil {
			break
		}
		g.Go(func() error {
			return d.runSequence(gctx, state, seq, &counts)
		})
	}
	runErr := g.Wait()

	summary := Summary{
		RunID:       runID,
		Accepted:    int(counts.accepted.Load()),
		Duplicates:  int(counts.duplicates.Load()),
		TasksDone:   int(counts.tasksDone.Load()),
		TasksFailed: int(counts.tasksFailed.Load()),
		Fallbacks:   int(counts.fallbacks.Load()),
		Halted:      state.Halted(),
		Duration:    d.clock.Now().Sub(start),
	}
	d.record(summary)
	fields := []zap.Field{
		zap.Int("accepted", summary.Accepted),
		zap.Int("duplicates", summary.Duplicates),
		zap.Int("tasks_done", summary.TasksDone),
		zap.Int("tasks_failed", summary.TasksFailed),
		zap.Int("fallbacks", summary.Fallbacks),
		zap.Bool("halted", summary.Halted),
		zap.Duration("duration", summary.Duration),
	}
	if runErr != nil {
		logger.Error("crawl aborted", append(fields, zap.Error(runErr))...)
		return summary, fmt.Errorf("run %s: %w", runID, runErr)
	}
	logger.Info("crawl completed", fields...)
	return summary, nil
}

// runSequence walks one page sequence until it runs out of pages, hits an
// empty or failed page, or the run halts.
func (d *Dispatcher) runSequence(ctx context.Context, state *worker.State, seq []crawler.Task, counts *tally) error {
	metrics.IncActiveSequences()
	defer metrics.DecActiveSequences()

	for _, task := range seq {
		out, err := d.processor.Process(ctx, state, task)
		counts.add(out)
		if err != nil {
			return err
		}
		if out.Status != worker.StatusParsed || out.Halted {
			return nil
		}
	}
	return nil
}

// groupSequences splits tasks into page sequences, keeping planner order both
// across and within sequences.
func groupSequences(tasks []crawler.Task) [][]crawler.Task {
	index := make(map[string]int)
	var sequences [][]crawler.Task
	for _, task := range tasks {
		key := task.Sequence()
		i, ok := index[key]
		if !ok {
			i = len(sequences)
			index[key] = i
			sequences = append(sequences, nil)
		}
		sequences[i] = append(sequences[i], task)
	}
	return sequences
}

func (d *Dispatcher) begin(runID string, state *worker.State) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.runID = runID
	d.state = state
	d.running = true
}

func (d *Dispatcher) end() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.running = false
}

func (d *Dispatcher) record(summary Summary) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.last = &summary
}

// LastSummary returns the summary of the most recently finished run.
func (d *Dispatcher) LastSummary() (Summary, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.last == nil {
		return Summary{}, false
	}
	return *d.last, true
}

// Progress reports the state of the active run, or of the last one once it
// has finished. The zero Progress is returned before any run.
func (d *Dispatcher) Progress() Progress {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.state == nil {
		return Progress{}
	}
	return Progress{
		RunID:     d.runID,
		Running:   d.running,
		Accepted:  d.state.Quota.Accepted(),
		Max:       d.state.Quota.Max(),
		Remaining: d.state.Quota.Remaining(),
		Seen:      d.state.Seen.SeenCount(),
		Halted:    d.state.Halted(),
	}
}
