package experiment

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"sort"

	"github.com/raphaelBarman/PyLaia/internal/checkpoint"
	"github.com/raphaelBarman/PyLaia/internal/conditions"
	"github.com/raphaelBarman/PyLaia/internal/data"
	"github.com/raphaelBarman/PyLaia/internal/engine"
	"github.com/raphaelBarman/PyLaia/internal/hooks"
	"github.com/raphaelBarman/PyLaia/internal/meters"
	"github.com/raphaelBarman/PyLaia/internal/nn"
)

const (
	MetricTrainLoss = "train_loss"
	MetricValidCER  = "valid_cer"
	MetricValidWER  = "valid_wer"
)

type Config struct {
	// Name tags checkpoint records and log lines.
	Name      string
	Model     nn.Model
	Optimizer nn.Optimizer
	Train     data.Source
	// Valid, when set, is evaluated every EvalEvery epochs. Zero means
	// every epoch.
	Valid     data.Source
	EvalEvery int64
	// WordDelimiters split decoded token sequences into words for the word
	// error rate.
	WordDelimiters []int
	// Blank is the decode blank token.
	Blank               int
	IterationsPerUpdate int64
	Seed                int64
	Logger              *log.Logger
}

// Experiment composes a trainer, an optional evaluator, and the metric
// streams conditions read. Its epoch-end hooks are registered before any
// user hook, so user conditions never see stale metrics.
type Experiment struct {
	cfg       Config
	logger    *log.Logger
	trainer   *engine.Trainer
	evaluator *engine.Evaluator
	series    map[string]*Series
	conds     map[string]conditions.Stateful
	delims    map[int]bool
	cer       meters.SequenceError
	wer       meters.SequenceError
	runCtx    context.Context
}

func New(cfg Config) (*Experiment, error) {
	if cfg.Model == nil {
		return nil, fmt.Errorf("model is required")
	}
	if cfg.Optimizer == nil {
		return nil, fmt.Errorf("optimizer is required")
	}
	if cfg.Train == nil {
		return nil, fmt.Errorf("train source is required")
	}
	if cfg.EvalEvery < 0 {
		return nil, fmt.Errorf("eval cadence must be >= 0: got=%d", cfg.EvalEvery)
	}
	if cfg.EvalEvery == 0 {
		cfg.EvalEvery = 1
	}
	if cfg.Blank < 0 {
		return nil, fmt.Errorf("blank token must be >= 0: got=%d", cfg.Blank)
	}
	if cfg.Name == "" {
		cfg.Name = "experiment"
	}
	logger := cfg.Logger
	if logger == nil {
		logger = log.New(io.Discard, "", 0)
	}

	e := &Experiment{
		cfg:    cfg,
		logger: logger,
		series: map[string]*Series{
			MetricTrainLoss: NewSeries(MetricTrainLoss),
			MetricValidCER:  NewSeries(MetricValidCER),
			MetricValidWER:  NewSeries(MetricValidWER),
		},
		conds:  make(map[string]conditions.Stateful),
		delims: make(map[int]bool, len(cfg.WordDelimiters)),
	}
	for _, d := range cfg.WordDelimiters {
		e.delims[d] = true
	}

	trainer, err := engine.NewTrainer(engine.TrainerConfig{
		Source:              cfg.Train,
		Step:                e.trainStep,
		Update:              e.applyUpdate,
		IterationsPerUpdate: cfg.IterationsPerUpdate,
		Logger:              cfg.Logger,
	})
	if err != nil {
		return nil, fmt.Errorf("experiment trainer: %w", err)
	}
	e.trainer = trainer

	if cfg.Valid != nil {
		evaluator, err := engine.NewEvaluator(engine.EvaluatorConfig{
			Source: cfg.Valid,
			Step:   e.evalStep,
			Logger: cfg.Logger,
		})
		if err != nil {
			return nil, fmt.Errorf("experiment evaluator: %w", err)
		}
		e.evaluator = evaluator
	}

	lossHook, err := hooks.New(conditions.Always{}, e.appendTrainLoss)
	if err != nil {
		return nil, err
	}
	if err := trainer.AddHook(engine.EpochEnd, lossHook); err != nil {
		return nil, err
	}
	if e.evaluator != nil {
		cadence, err := conditions.NewMultipleOf(trainer.EpochCounter(), cfg.EvalEvery)
		if err != nil {
			return nil, fmt.Errorf("eval cadence: %w", err)
		}
		evalHook, err := hooks.New(cadence, e.runEvalPass)
		if err != nil {
			return nil, err
		}
		if err := trainer.AddHook(engine.EpochEnd, evalHook); err != nil {
			return nil, err
		}
	}
	return e, nil
}

func (e *Experiment) Name() string { return e.cfg.Name }

// Metric returns the live stream for a metric name.
func (e *Experiment) Metric(name string) (*Series, bool) {
	s, ok := e.series[name]
	return s, ok
}

func (e *Experiment) MetricNames() []string {
	names := make([]string, 0, len(e.series))
	for name := range e.series {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// RegisterCondition tracks a stateful condition by name so its decision
// history rides along in checkpoints.
func (e *Experiment) RegisterCondition(c conditions.Stateful) error {
	if c == nil {
		return fmt.Errorf("condition is required")
	}
	name := c.Name()
	if name == "" {
		return fmt.Errorf("condition name is required")
	}
	if _, dup := e.conds[name]; dup {
		return fmt.Errorf("condition %q already registered", name)
	}
	e.conds[name] = c
	return nil
}

func (e *Experiment) AddHook(ev engine.Event, h *hooks.Hook) error {
	return e.trainer.AddHook(ev, h)
}

func (e *Experiment) Stop() { e.trainer.Stop() }

func (e *Experiment) Status() engine.Status     { return e.trainer.Status() }
func (e *Experiment) Reason() engine.StopReason { return e.trainer.Reason() }
func (e *Experiment) Epochs() int64             { return e.trainer.Epochs() }
func (e *Experiment) Iterations() int64         { return e.trainer.Iterations() }

func (e *Experiment) EpochCounter() conditions.Counter     { return e.trainer.EpochCounter() }
func (e *Experiment) IterationCounter() conditions.Counter { return e.trainer.IterationCounter() }

func (e *Experiment) Run(ctx context.Context) (engine.Summary, error) {
	e.runCtx = ctx
	defer func() { e.runCtx = nil }()
	return e.trainer.Run(ctx)
}

func (e *Experiment) trainStep(ctx context.Context, b data.Batch) (float64, error) {
	var batchLoss meters.RunningAverage
	for _, s := range b.Samples {
		loss, err := e.cfg.Model.Backward(s.Frames, s.Target)
		if err != nil {
			return 0, fmt.Errorf("sample %s: %w", s.ID, err)
		}
		batchLoss.Add(loss)
	}
	v, _ := batchLoss.Value()
	return v, nil
}

func (e *Experiment) applyUpdate() error {
	params := e.cfg.Model.Params()
	if err := e.cfg.Optimizer.Step(params); err != nil {
		return err
	}
	params.ZeroGrad()
	return nil
}

func (e *Experiment) evalStep(ctx context.Context, b data.Batch) error {
	for _, s := range b.Samples {
		scores := e.cfg.Model.Forward(s.Frames)
		decoded := nn.Decode(scores, e.cfg.Blank)
		e.cer.AddTokens(s.Target, decoded)
		e.wer.AddWords(meters.SplitWords(s.Target, e.delims), meters.SplitWords(decoded, e.delims))
	}
	return nil
}

func (e *Experiment) appendTrainLoss(hooks.Context) error {
	if loss, ok := e.trainer.EpochLoss(); ok {
		e.series[MetricTrainLoss].Append(loss)
	}
	return nil
}

func (e *Experiment) runEvalPass(hooks.Context) error {
	ctx := e.runCtx
	if ctx == nil {
		ctx = context.Background()
	}
	e.cer.Reset()
	e.wer.Reset()
	if err := e.evaluator.Run(ctx); err != nil {
		return fmt.Errorf("evaluation pass: %w", err)
	}
	if v, ok := e.cer.Value(); ok {
		e.series[MetricValidCER].Append(v)
	}
	if v, ok := e.wer.Value(); ok {
		e.series[MetricValidWER].Append(v)
	}
	return nil
}

// TrainState snapshots everything needed to resume this run exactly:
// counters, weights, optimizer moments, condition states, metric history.
func (e *Experiment) TrainState() (checkpoint.TrainState, error) {
	condStates := make(map[string]json.RawMessage, len(e.conds))
	for name, c := range e.conds {
		raw, err := c.State()
		if err != nil {
			return checkpoint.TrainState{}, fmt.Errorf("condition %q state: %w", name, err)
		}
		condStates[name] = raw
	}
	metrics := make(map[string][]float64, len(e.series))
	for name, s := range e.series {
		metrics[name] = s.Values()
	}
	return checkpoint.TrainState{
		Name:       e.cfg.Name,
		Epoch:      e.trainer.Epochs(),
		Iteration:  e.trainer.Iterations(),
		Seed:       e.cfg.Seed,
		Params:     e.cfg.Model.Params().State(),
		Optimizer:  e.cfg.Optimizer.State(),
		Conditions: condStates,
		Metrics:    metrics,
	}, nil
}

// Restore rewinds the experiment to a loaded checkpoint. Model weights load
// non-strictly: mismatched shapes are dropped and logged, not fatal. Saved
// condition states with no registered condition are dropped and logged.
func (e *Experiment) Restore(state checkpoint.TrainState) error {
	if err := e.trainer.Restore(state.Epoch, state.Iteration); err != nil {
		return err
	}
	report, err := e.cfg.Model.Params().LoadState(state.Params, false)
	if err != nil {
		return fmt.Errorf("restore model: %w", err)
	}
	if !report.Clean() {
		e.logger.Printf("%s: dropped params %v, missing params %v", e.cfg.Name, report.Dropped, report.Missing)
	}
	if err := e.cfg.Optimizer.Restore(state.Optimizer); err != nil {
		return fmt.Errorf("restore optimizer: %w", err)
	}
	for name, raw := range state.Conditions {
		c, ok := e.conds[name]
		if !ok {
			e.logger.Printf("%s: no registered condition %q, dropping saved state", e.cfg.Name, name)
			continue
		}
		if err := c.Restore(raw); err != nil {
			return fmt.Errorf("restore condition %q: %w", name, err)
		}
	}
	for name, values := range state.Metrics {
		s, ok := e.series[name]
		if !ok {
			e.logger.Printf("%s: no metric %q, dropping saved history", e.cfg.Name, name)
			continue
		}
		s.restore(values)
	}
	if state.Seed != 0 && state.Seed != e.cfg.Seed {
		e.logger.Printf("%s: checkpoint seed %d differs from configured seed %d", e.cfg.Name, state.Seed, e.cfg.Seed)
	}
	return nil
}
