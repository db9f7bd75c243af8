package engine

import (
	"context"
	"fmt"
	"log"

	"github.com/raphaelBarman/PyLaia/internal/conditions"
	"github.com/raphaelBarman/PyLaia/internal/data"
	"github.com/raphaelBarman/PyLaia/internal/hooks"
)

// EvalStep runs forward and metric accumulation for one batch. It must not
// touch gradients or optimizer state.
type EvalStep func(ctx context.Context, b data.Batch) error

type EvaluatorConfig struct {
	Source data.Source
	Step   EvalStep
	Logger *log.Logger
}

// Evaluator runs one full pass per Run call, firing the same lifecycle events
// as the trainer against its own counters.
type Evaluator struct {
	core
	cfg EvaluatorConfig
}

func NewEvaluator(cfg EvaluatorConfig) (*Evaluator, error) {
	if cfg.Source == nil {
		return nil, fmt.Errorf("batch source is required")
	}
	if cfg.Step == nil {
		return nil, fmt.Errorf("eval step is required")
	}
	return &Evaluator{
		core: newCore("evaluator", cfg.Source, cfg.Logger),
		cfg:  cfg,
	}, nil
}

func (e *Evaluator) AddHook(ev Event, h *hooks.Hook) error {
	return e.addHook(ev, h)
}

func (e *Evaluator) Epochs() int64     { return e.epochs }
func (e *Evaluator) Iterations() int64 { return e.iters }

func (e *Evaluator) EpochCounter() conditions.Counter     { return e.epochCounter() }
func (e *Evaluator) IterationCounter() conditions.Counter { return e.iterationCounter() }

func (e *Evaluator) Run(ctx context.Context) error {
	it, err := e.source.Batches(ctx)
	if err != nil {
		return fmt.Errorf("evaluator open pass: %w", err)
	}
	return e.runPass(ctx, it, func(ctx context.Context, b data.Batch) error {
		return e.cfg.Step(ctx, b)
	}, nil)
}
