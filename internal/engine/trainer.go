package engine

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync/atomic"

	"github.com/raphaelBarman/PyLaia/internal/conditions"
	"github.com/raphaelBarman/PyLaia/internal/data"
	"github.com/raphaelBarman/PyLaia/internal/hooks"
	"github.com/raphaelBarman/PyLaia/internal/meters"
)

// TrainStep runs forward, loss, and backward for one batch, accumulating
// gradients, and returns the batch loss.
type TrainStep func(ctx context.Context, b data.Batch) (float64, error)

// ApplyUpdate applies the accumulated gradients and clears them.
type ApplyUpdate func() error

type TrainerConfig struct {
	Source data.Source
	Step   TrainStep
	Update ApplyUpdate
	// IterationsPerUpdate groups batches into one optimizer update. Zero
	// means update every batch; the trailing partial group of an epoch is
	// flushed before epoch-end fires, so checkpoints taken there never lose
	// accumulated gradients.
	IterationsPerUpdate int64
	Logger              *log.Logger
}

// Trainer drives epochs until stopped or exhausted: Idle, then Running, then
// Stopped or Exhausted. Stop is cooperative and takes effect at the next
// epoch boundary.
type Trainer struct {
	core
	cfg       TrainerConfig
	status    Status
	reason    StopReason
	stop      atomic.Bool
	window    int64
	epochLoss meters.RunningAverage
	lastLoss  float64
	lastOK    bool
}

func NewTrainer(cfg TrainerConfig) (*Trainer, error) {
	if cfg.Source == nil {
		return nil, fmt.Errorf("batch source is required")
	}
	if cfg.Step == nil {
		return nil, fmt.Errorf("train step is required")
	}
	if cfg.Update == nil {
		return nil, fmt.Errorf("update is required")
	}
	if cfg.IterationsPerUpdate < 0 {
		return nil, fmt.Errorf("iterations per update must be >= 0: got=%d", cfg.IterationsPerUpdate)
	}
	if cfg.IterationsPerUpdate == 0 {
		cfg.IterationsPerUpdate = 1
	}
	return &Trainer{
		core: newCore("trainer", cfg.Source, cfg.Logger),
		cfg:  cfg,
	}, nil
}

func (t *Trainer) AddHook(ev Event, h *hooks.Hook) error {
	return t.addHook(ev, h)
}

func (t *Trainer) Status() Status { return t.status }

// Reason reports why the last run halted.
func (t *Trainer) Reason() StopReason { return t.reason }

// Stop requests a cooperative stop, honored no later than the next epoch
// start. Safe to call from hooks or from another goroutine.
func (t *Trainer) Stop() { t.stop.Store(true) }

func (t *Trainer) Epochs() int64     { return t.epochs }
func (t *Trainer) Iterations() int64 { return t.iters }

func (t *Trainer) EpochCounter() conditions.Counter     { return t.epochCounter() }
func (t *Trainer) IterationCounter() conditions.Counter { return t.iterationCounter() }

// EpochLoss reports the mean train loss of the most recently completed epoch.
// It is current by the time epoch-end hooks fire.
func (t *Trainer) EpochLoss() (float64, bool) {
	return t.lastLoss, t.lastOK
}

// Restore rewinds the counters to checkpointed values before a resumed run.
func (t *Trainer) Restore(epochs, iterations int64) error {
	if t.status == Running {
		return fmt.Errorf("cannot restore a running trainer")
	}
	if epochs < 0 || iterations < 0 {
		return fmt.Errorf("counters must be >= 0: epochs=%d iterations=%d", epochs, iterations)
	}
	t.epochs = epochs
	t.iters = iterations
	return nil
}

type Summary struct {
	Epochs     int64      `json:"epochs"`
	Iterations int64      `json:"iterations"`
	Reason     StopReason `json:"reason"`
}

func (t *Trainer) Run(ctx context.Context) (Summary, error) {
	if t.status == Running {
		return Summary{}, fmt.Errorf("trainer already running")
	}
	t.status = Running
	t.reason = ""

	for {
		if err := ctx.Err(); err != nil {
			t.status = Stopped
			return Summary{}, err
		}
		if t.stop.Load() {
			t.status = Stopped
			t.reason = ReasonStopRequested
			break
		}

		it, err := t.source.Batches(ctx)
		if errors.Is(err, data.ErrExhausted) {
			t.status = Exhausted
			t.reason = ReasonExhausted
			break
		}
		if err != nil {
			t.status = Stopped
			return Summary{}, fmt.Errorf("trainer open pass: %w", err)
		}

		t.window = 0
		t.epochLoss.Reset()
		if err := t.runPass(ctx, it, t.step, t.flushWindow); err != nil {
			t.status = Stopped
			return Summary{}, err
		}
	}

	return Summary{Epochs: t.epochs, Iterations: t.iters, Reason: t.reason}, nil
}

func (t *Trainer) step(ctx context.Context, b data.Batch) error {
	loss, err := t.cfg.Step(ctx, b)
	if err != nil {
		return err
	}
	t.epochLoss.Add(loss)
	t.window++
	if t.window >= t.cfg.IterationsPerUpdate {
		if err := t.cfg.Update(); err != nil {
			return fmt.Errorf("apply update: %w", err)
		}
		t.window = 0
	}
	return nil
}

func (t *Trainer) flushWindow() error {
	if t.window > 0 {
		if err := t.cfg.Update(); err != nil {
			return fmt.Errorf("apply trailing update: %w", err)
		}
		t.window = 0
	}
	t.lastLoss, t.lastOK = t.epochLoss.Value()
	return nil
}
