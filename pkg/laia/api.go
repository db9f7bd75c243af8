// Package laia drives handwriting recognition training runs: it builds
// experiments from plain requests, rotates their checkpoints, resumes
// interrupted runs, and records every completed run in the registry.
package laia

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"path/filepath"
	"strconv"
	"time"

	"github.com/google/uuid"

	"github.com/raphaelBarman/PyLaia/internal/checkpoint"
	"github.com/raphaelBarman/PyLaia/internal/conditions"
	"github.com/raphaelBarman/PyLaia/internal/data"
	"github.com/raphaelBarman/PyLaia/internal/engine"
	"github.com/raphaelBarman/PyLaia/internal/experiment"
	"github.com/raphaelBarman/PyLaia/internal/hooks"
	"github.com/raphaelBarman/PyLaia/internal/nn"
	"github.com/raphaelBarman/PyLaia/internal/storage"
)

const (
	defaultCheckpointsDir  = "checkpoints"
	defaultKeepCheckpoints = 3
	defaultBatchSize       = 8
	defaultEpochs          = 100
	defaultLearningRate    = 0.0005
	defaultSeed            = 0x12345

	stateName  = "train"
	modelName  = "model"
	bestSuffix = "lowest-valid-cer"
)

type Options struct {
	// StoreKind selects the registry backend: memory, sqlite, or postgres.
	// Empty picks the build default.
	StoreKind string
	// StoreDSN is the sqlite path or postgres connection string.
	StoreDSN       string
	CheckpointsDir string
	Logger         *log.Logger
}

type Client struct {
	store          storage.Store
	logger         *log.Logger
	checkpointsDir string
	ready          bool
}

func New(opts Options) (*Client, error) {
	storeKind := opts.StoreKind
	if storeKind == "" {
		storeKind = storage.DefaultStoreKind()
	}
	checkpointsDir := opts.CheckpointsDir
	if checkpointsDir == "" {
		checkpointsDir = defaultCheckpointsDir
	}
	logger := opts.Logger
	if logger == nil {
		logger = log.New(io.Discard, "", 0)
	}

	store, err := storage.NewStore(storeKind, opts.StoreDSN)
	if err != nil {
		return nil, err
	}

	return &Client{
		store:          store,
		logger:         logger,
		checkpointsDir: checkpointsDir,
	}, nil
}

func (c *Client) Close() error {
	return storage.CloseIfSupported(c.store)
}

type TrainRequest struct {
	// RunID keys the run in the registry and names its checkpoint
	// directory. Empty mints a fresh id.
	RunID string
	Name  string
	// Dataset is a CSV path. Samples, when set, win over it.
	Dataset      string
	Samples      []data.Sample
	ValidDataset string
	ValidSamples []data.Sample

	Seed            int64
	BatchSize       int
	Shuffle         bool
	SamplesPerEpoch int
	// PrefetchWorkers > 0 builds training batches ahead of the consumer on
	// that many workers.
	PrefetchWorkers int

	// Hidden selects the model: zero builds a linear classifier, anything
	// larger an MLP of that hidden width.
	Hidden int
	// Activation names the MLP hidden nonlinearity. Empty picks tanh.
	Activation     string
	Optimizer      string
	LearningRate   float64
	Momentum       float64
	Blank          int
	WordDelimiters []int

	// Epochs is the training horizon; the run stops once this many epochs
	// have completed.
	Epochs              int64
	IterationsPerUpdate int64
	EvalEvery           int64
	// EarlyStopAfter stops the run after this many consecutive epochs
	// without a validation CER improvement. Zero disables.
	EarlyStopAfter int64

	SaveEvery       int64
	KeepCheckpoints int

	// OnEpochEnd, when set, receives a progress snapshot after every
	// completed epoch.
	OnEpochEnd func(Progress)
}

// Progress is one epoch-end snapshot. Evaluated reports whether ValidCER
// was refreshed this epoch.
type Progress struct {
	Epoch     int64
	Iteration int64
	TrainLoss float64
	ValidCER  float64
	Evaluated bool
}

type TrainSummary struct {
	RunID         string
	Epochs        int64
	Iterations    int64
	StopReason    string
	FinalLoss     float64
	Evaluated     bool
	BestCER       float64
	BestWER       float64
	CheckpointDir string
}

type RunsRequest struct {
	Limit int
}

type RunItem struct {
	RunID        string  `json:"run_id"`
	Name         string  `json:"name"`
	Dataset      string  `json:"dataset"`
	CreatedAtUTC string  `json:"created_at_utc"`
	Seed         int64   `json:"seed"`
	Epochs       int64   `json:"epochs"`
	Iterations   int64   `json:"iterations"`
	StopReason   string  `json:"stop_reason"`
	FinalLoss    float64 `json:"final_loss"`
	Evaluated    bool    `json:"evaluated"`
	BestCER      float64 `json:"best_cer"`
	BestWER      float64 `json:"best_wer"`
}

type RunDetail struct {
	RunItem
	CheckpointDir string
	Metrics       map[string][]float64
}

func (c *Client) Train(ctx context.Context, req TrainRequest) (TrainSummary, error) {
	if err := c.ensureStore(ctx); err != nil {
		return TrainSummary{}, err
	}
	req = withTrainDefaults(req)
	if req.RunID == "" {
		req.RunID = uuid.NewString()
	}

	exp, dir, err := c.buildRun(req)
	if err != nil {
		return TrainSummary{}, err
	}
	return c.execute(ctx, req, exp, dir, "")
}

// Resume continues a run from its newest checkpoint. A run with no
// checkpoint on disk starts fresh under the same id.
func (c *Client) Resume(ctx context.Context, req TrainRequest) (TrainSummary, error) {
	if req.RunID == "" {
		return TrainSummary{}, errors.New("run id is required")
	}
	if err := c.ensureStore(ctx); err != nil {
		return TrainSummary{}, err
	}

	record, found, err := c.store.GetRun(ctx, req.RunID)
	if err != nil {
		return TrainSummary{}, err
	}
	if found {
		if req.Name == "" {
			req.Name = record.Name
		}
		if req.Dataset == "" && len(req.Samples) == 0 {
			req.Dataset = record.Dataset
		}
		if req.Seed == 0 {
			req.Seed = record.Seed
		}
	}
	req = withTrainDefaults(req)

	exp, dir, err := c.buildRun(req)
	if err != nil {
		return TrainSummary{}, err
	}

	path, err := checkpoint.Resolve(dir, checkpoint.RecordName(stateName, "*"), c.logger)
	switch {
	case errors.Is(err, checkpoint.ErrNoCheckpoint):
		c.logger.Printf("run %s has no checkpoint; starting fresh", req.RunID)
	case err != nil:
		return TrainSummary{}, err
	default:
		state, err := checkpoint.LoadState(path)
		if err != nil {
			return TrainSummary{}, err
		}
		if err := exp.Restore(state); err != nil {
			return TrainSummary{}, fmt.Errorf("restore %s: %w", path, err)
		}
		c.logger.Printf("run %s resumed from %s at epoch %d", req.RunID, path, state.Epoch)
	}

	createdAt := ""
	if found {
		createdAt = record.CreatedAtUTC
	}
	return c.execute(ctx, req, exp, dir, createdAt)
}

func (c *Client) ListRuns(ctx context.Context, req RunsRequest) ([]RunItem, error) {
	if req.Limit <= 0 {
		req.Limit = 20
	}
	if err := c.ensureStore(ctx); err != nil {
		return nil, err
	}

	records, err := c.store.ListRuns(ctx)
	if err != nil {
		return nil, err
	}
	if len(records) > req.Limit {
		records = records[:req.Limit]
	}

	out := make([]RunItem, 0, len(records))
	for _, record := range records {
		out = append(out, runItem(record))
	}
	return out, nil
}

func (c *Client) ShowRun(ctx context.Context, runID string) (RunDetail, error) {
	if runID == "" {
		return RunDetail{}, errors.New("run id is required")
	}
	if err := c.ensureStore(ctx); err != nil {
		return RunDetail{}, err
	}

	record, ok, err := c.store.GetRun(ctx, runID)
	if err != nil {
		return RunDetail{}, err
	}
	if !ok {
		return RunDetail{}, fmt.Errorf("run not found: %s", runID)
	}

	detail := RunDetail{
		RunItem:       runItem(record),
		CheckpointDir: record.CheckpointDir,
		Metrics:       make(map[string][]float64),
	}
	names := []string{experiment.MetricTrainLoss, experiment.MetricValidCER, experiment.MetricValidWER}
	for _, name := range names {
		history, ok, err := c.store.GetMetricHistory(ctx, runID, name)
		if err != nil {
			return RunDetail{}, err
		}
		if ok {
			detail.Metrics[name] = history
		}
	}
	return detail, nil
}

func (c *Client) ensureStore(ctx context.Context) error {
	if c.ready {
		return nil
	}
	if err := c.store.Init(ctx); err != nil {
		return err
	}
	c.ready = true
	return nil
}

// buildRun assembles the experiment for a request and wires its checkpoint
// and stop hooks. The returned directory holds the run's records.
func (c *Client) buildRun(req TrainRequest) (*experiment.Experiment, string, error) {
	trainSamples, dim, classes, err := resolveSamples(req.Dataset, req.Samples)
	if err != nil {
		return nil, "", fmt.Errorf("train dataset: %w", err)
	}
	if req.Blank+1 > classes {
		classes = req.Blank + 1
	}

	sliceSource, err := data.NewSlice(data.SliceConfig{
		Samples:         trainSamples,
		BatchSize:       req.BatchSize,
		Shuffle:         req.Shuffle,
		SamplesPerEpoch: req.SamplesPerEpoch,
		Seed:            req.Seed,
	})
	if err != nil {
		return nil, "", err
	}
	var source data.Source = sliceSource
	if req.PrefetchWorkers > 0 {
		source, err = data.NewPrefetcher(data.PrefetchConfig{
			Source:  sliceSource,
			Workers: req.PrefetchWorkers,
			Seed:    req.Seed,
		})
		if err != nil {
			return nil, "", err
		}
	}

	var valid data.Source
	if req.ValidDataset != "" || len(req.ValidSamples) > 0 {
		validSamples, validDim, _, err := resolveSamples(req.ValidDataset, req.ValidSamples)
		if err != nil {
			return nil, "", fmt.Errorf("valid dataset: %w", err)
		}
		if validDim != dim {
			return nil, "", fmt.Errorf("valid frame width %d differs from train width %d", validDim, dim)
		}
		valid, err = data.NewSlice(data.SliceConfig{
			Samples:   validSamples,
			BatchSize: req.BatchSize,
			Seed:      req.Seed,
		})
		if err != nil {
			return nil, "", err
		}
	}

	model, err := modelFromRequest(req, dim, classes)
	if err != nil {
		return nil, "", err
	}
	optimizer, err := optimizerFromName(req.Optimizer, req.LearningRate, req.Momentum)
	if err != nil {
		return nil, "", err
	}

	exp, err := experiment.New(experiment.Config{
		Name:                req.Name,
		Model:               model,
		Optimizer:           optimizer,
		Train:               source,
		Valid:               valid,
		EvalEvery:           req.EvalEvery,
		WordDelimiters:      req.WordDelimiters,
		Blank:               req.Blank,
		IterationsPerUpdate: req.IterationsPerUpdate,
		Seed:                req.Seed,
		Logger:              c.logger,
	})
	if err != nil {
		return nil, "", err
	}

	dir := filepath.Join(c.checkpointsDir, req.RunID)
	if err := c.wireHooks(exp, req, dir, model, valid != nil); err != nil {
		return nil, "", err
	}
	return exp, dir, nil
}

// wireHooks registers the epoch-end hooks in dependency order: conditions
// that update state fire before the saver snapshots it, and the horizon
// check runs last.
func (c *Client) wireHooks(exp *experiment.Experiment, req TrainRequest, dir string, model nn.Model, hasValid bool) error {
	if hasValid {
		cer, ok := exp.Metric(experiment.MetricValidCER)
		if !ok {
			return fmt.Errorf("metric %s is not tracked", experiment.MetricValidCER)
		}

		lowest, err := conditions.NewLowest(bestSuffix, cer)
		if err != nil {
			return err
		}
		if err := exp.RegisterCondition(lowest); err != nil {
			return err
		}
		modelSaver, err := checkpoint.NewModelSaver(dir, modelName, model.Params())
		if err != nil {
			return err
		}
		bestHook, err := hooks.New(lowest, func(hooks.Context) error {
			path, err := modelSaver.Save(bestSuffix)
			if err != nil {
				return err
			}
			c.logger.Printf("%s: new best validation cer, saved %s", req.Name, path)
			return nil
		})
		if err != nil {
			return err
		}
		if err := exp.AddHook(engine.EpochEnd, bestHook); err != nil {
			return err
		}

		if req.EarlyStopAfter > 0 {
			streak, err := conditions.NewConsecutiveNonDecreasing("early-stop-valid-cer", cer, req.EarlyStopAfter)
			if err != nil {
				return err
			}
			if err := exp.RegisterCondition(streak); err != nil {
				return err
			}
			stopHook, err := hooks.New(streak, engine.StopAction(exp))
			if err != nil {
				return err
			}
			if err := exp.AddHook(engine.EpochEnd, stopHook); err != nil {
				return err
			}
		}
	}

	stateSaver, err := checkpoint.NewStateSaver(dir, stateName, exp)
	if err != nil {
		return err
	}
	rolling, err := checkpoint.NewRollingSaver(stateSaver, dir, stateName, req.KeepCheckpoints, c.logger)
	if err != nil {
		return err
	}
	cadence, err := conditions.NewMultipleOf(exp.EpochCounter(), req.SaveEvery)
	if err != nil {
		return err
	}
	saveHook, err := hooks.New(cadence, func(hctx hooks.Context) error {
		_, err := rolling.Save(strconv.FormatInt(hctx.Epoch, 10))
		return err
	})
	if err != nil {
		return err
	}
	if err := exp.AddHook(engine.EpochEnd, saveHook); err != nil {
		return err
	}

	if req.OnEpochEnd != nil {
		evalEvery := req.EvalEvery
		if evalEvery <= 0 {
			evalEvery = 1
		}
		onEpoch := req.OnEpochEnd
		progressHook, err := hooks.New(conditions.Always{}, func(hctx hooks.Context) error {
			p := Progress{Epoch: hctx.Epoch, Iteration: hctx.Iteration}
			if loss, ok := exp.Metric(experiment.MetricTrainLoss); ok {
				if v, ok := loss.Last(); ok {
					p.TrainLoss = v
				}
			}
			if hasValid && hctx.Epoch%evalEvery == 0 {
				if cer, ok := exp.Metric(experiment.MetricValidCER); ok {
					if v, ok := cer.Last(); ok {
						p.ValidCER = v
						p.Evaluated = true
					}
				}
			}
			onEpoch(p)
			return nil
		})
		if err != nil {
			return err
		}
		if err := exp.AddHook(engine.EpochEnd, progressHook); err != nil {
			return err
		}
	}

	horizon, err := conditions.NewGEqThan(exp.EpochCounter(), req.Epochs)
	if err != nil {
		return err
	}
	horizonHook, err := hooks.New(horizon, engine.StopAction(exp))
	if err != nil {
		return err
	}
	return exp.AddHook(engine.EpochEnd, horizonHook)
}

func (c *Client) execute(ctx context.Context, req TrainRequest, exp *experiment.Experiment, dir string, createdAt string) (TrainSummary, error) {
	c.logger.Printf("run %s: training %s until epoch %d", req.RunID, req.Name, req.Epochs)
	sum, err := exp.Run(ctx)
	if err != nil {
		return TrainSummary{}, err
	}

	if createdAt == "" {
		createdAt = time.Now().UTC().Format(time.RFC3339Nano)
	}

	finalLoss := 0.0
	if s, ok := exp.Metric(experiment.MetricTrainLoss); ok {
		if v, ok := s.Last(); ok {
			finalLoss = v
		}
	}
	bestCER, evaluated := 0.0, false
	if s, ok := exp.Metric(experiment.MetricValidCER); ok {
		bestCER, evaluated = lowestOf(s.Values())
	}
	bestWER := 0.0
	if s, ok := exp.Metric(experiment.MetricValidWER); ok {
		bestWER, _ = lowestOf(s.Values())
	}

	record := storage.RunRecord{
		VersionedRecord: checkpoint.VersionedRecord{
			SchemaVersion: storage.CurrentSchemaVersion,
			CodecVersion:  storage.CurrentCodecVersion,
		},
		ID:            req.RunID,
		Name:          req.Name,
		Dataset:       req.Dataset,
		Seed:          req.Seed,
		CreatedAtUTC:  createdAt,
		Epochs:        sum.Epochs,
		Iterations:    sum.Iterations,
		StopReason:    string(sum.Reason),
		FinalLoss:     finalLoss,
		Evaluated:     evaluated,
		BestCER:       bestCER,
		BestWER:       bestWER,
		CheckpointDir: dir,
	}
	if err := c.store.SaveRun(ctx, record); err != nil {
		return TrainSummary{}, fmt.Errorf("record run %s: %w", req.RunID, err)
	}
	for _, name := range exp.MetricNames() {
		series, ok := exp.Metric(name)
		if !ok || series.Len() == 0 {
			continue
		}
		if err := c.store.SaveMetricHistory(ctx, req.RunID, name, series.Values()); err != nil {
			return TrainSummary{}, fmt.Errorf("record metric %s: %w", name, err)
		}
	}

	return TrainSummary{
		RunID:         req.RunID,
		Epochs:        sum.Epochs,
		Iterations:    sum.Iterations,
		StopReason:    string(sum.Reason),
		FinalLoss:     finalLoss,
		Evaluated:     evaluated,
		BestCER:       bestCER,
		BestWER:       bestWER,
		CheckpointDir: dir,
	}, nil
}

func withTrainDefaults(req TrainRequest) TrainRequest {
	if req.Name == "" {
		req.Name = "laia"
	}
	if req.Seed == 0 {
		req.Seed = defaultSeed
	}
	if req.BatchSize <= 0 {
		req.BatchSize = defaultBatchSize
	}
	if req.Epochs <= 0 {
		req.Epochs = defaultEpochs
	}
	if req.LearningRate <= 0 {
		req.LearningRate = defaultLearningRate
	}
	if req.SaveEvery <= 0 {
		req.SaveEvery = 1
	}
	if req.KeepCheckpoints <= 0 {
		req.KeepCheckpoints = defaultKeepCheckpoints
	}
	return req
}

func resolveSamples(path string, samples []data.Sample) ([]data.Sample, int, int, error) {
	if len(samples) > 0 {
		dim, classes := data.Geometry(samples)
		if dim == 0 {
			return nil, 0, 0, errors.New("samples have no frames")
		}
		return samples, dim, classes, nil
	}
	if path == "" {
		return nil, 0, 0, errors.New("dataset path or samples are required")
	}
	ds, err := data.LoadCSV(path)
	if err != nil {
		return nil, 0, 0, err
	}
	return ds.Samples, ds.Dim, ds.Classes, nil
}

func modelFromRequest(req TrainRequest, dim, classes int) (nn.Model, error) {
	if req.Hidden < 0 {
		return nil, fmt.Errorf("hidden width must be >= 0: got=%d", req.Hidden)
	}
	if req.Hidden > 0 {
		return nn.NewMLP(dim, req.Hidden, classes, req.Seed, req.Activation)
	}
	return nn.NewLinear(dim, classes, req.Seed)
}

func optimizerFromName(name string, lr, momentum float64) (nn.Optimizer, error) {
	switch name {
	case "", "sgd":
		return nn.NewSGD(lr, momentum)
	case "adam":
		return nn.NewAdam(lr, 0.9, 0.999, 1e-8)
	default:
		return nil, fmt.Errorf("unsupported optimizer: %s", name)
	}
}

func runItem(record storage.RunRecord) RunItem {
	return RunItem{
		RunID:        record.ID,
		Name:         record.Name,
		Dataset:      record.Dataset,
		CreatedAtUTC: record.CreatedAtUTC,
		Seed:         record.Seed,
		Epochs:       record.Epochs,
		Iterations:   record.Iterations,
		StopReason:   record.StopReason,
		FinalLoss:    record.FinalLoss,
		Evaluated:    record.Evaluated,
		BestCER:      record.BestCER,
		BestWER:      record.BestWER,
	}
}

func lowestOf(values []float64) (float64, bool) {
	if len(values) == 0 {
		return 0, false
	}
	best := values[0]
	for _, v := range values[1:] {
		if v < best {
			best = v
		}
	}
	return best, true
}
