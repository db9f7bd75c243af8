package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"sort"
	"syscall"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/mattn/go-isatty"

	"github.com/raphaelBarman/PyLaia/internal/api"
	"github.com/raphaelBarman/PyLaia/internal/data"
	"github.com/raphaelBarman/PyLaia/internal/storage"
	"github.com/raphaelBarman/PyLaia/pkg/laia"
)

const defaultDBPath = "laia.db"

func main() {
	if err := run(context.Background(), os.Args[1:]); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run(ctx context.Context, args []string) error {
	if len(args) == 0 {
		return usageError("missing command")
	}

	switch args[0] {
	case "train":
		return runTrain(ctx, args[1:])
	case "resume":
		return runResume(ctx, args[1:])
	case "runs":
		return runRuns(ctx, args[1:])
	case "show":
		return runShow(ctx, args[1:])
	case "serve":
		return runServe(ctx, args[1:])
	default:
		return usageError(fmt.Sprintf("unknown command: %s", args[0]))
	}
}

func runTrain(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("train", flag.ContinueOnError)
	configPath := fs.String("config", "", "optional YAML run config path")
	runID := fs.String("run-id", "", "explicit run id (optional)")
	name := fs.String("name", "laia", "run name")
	dataset := fs.String("dataset", "", "training dataset CSV path")
	validDataset := fs.String("valid-dataset", "", "validation dataset CSV path (optional)")
	seed := fs.Int64("seed", 0x12345, "rng seed")
	batchSize := fs.Int("batch-size", 8, "samples per batch")
	shuffle := fs.Bool("shuffle", false, "reshuffle samples every epoch")
	samplesPerEpoch := fs.Int("samples-per-epoch", 0, "fixed samples drawn per epoch (0 uses the whole set)")
	workers := fs.Int("workers", data.DefaultWorkers(), "batch prefetch worker count (0 disables prefetch)")
	hidden := fs.Int("hidden", 0, "hidden layer width (0 trains a linear model)")
	activation := fs.String("activation", "tanh", "mlp hidden activation: tanh|relu|leaky_relu|sigmoid")
	optimizer := fs.String("optimizer", "sgd", "optimizer: sgd|adam")
	learningRate := fs.Float64("lr", 0.0005, "learning rate")
	momentum := fs.Float64("momentum", 0.0, "sgd momentum")
	blank := fs.Int("blank", 0, "ctc blank symbol index")
	wordDelims := fs.String("word-delims", "", "comma separated word delimiter symbol indices")
	epochs := fs.Int64("epochs", 100, "training horizon in epochs")
	itersPerUpdate := fs.Int64("iters-per-update", 1, "gradient accumulation steps per optimizer update")
	evalEvery := fs.Int64("eval-every", 1, "validation cadence in epochs")
	earlyStopAfter := fs.Int64("early-stop-after", 0, "stop after N epochs without cer improvement (0 disables)")
	saveEvery := fs.Int64("save-every", 1, "checkpoint cadence in epochs")
	keep := fs.Int("keep", 3, "rolling checkpoints to keep")
	storeKind := fs.String("store", storage.DefaultStoreKind(), "store backend: memory|sqlite|postgres")
	dsn := fs.String("dsn", defaultDBPath, "sqlite path or postgres connection string")
	checkpointsDir := fs.String("checkpoints-dir", "checkpoints", "checkpoint root directory")
	if err := fs.Parse(args); err != nil {
		return err
	}
	setFlags := make(map[string]bool)
	fs.Visit(func(f *flag.Flag) {
		setFlags[f.Name] = true
	})

	cfg, err := loadOrDefaultTrainConfig(*configPath)
	if err != nil {
		return err
	}
	var req laia.TrainRequest
	if *configPath == "" {
		delims, err := parseDelims(*wordDelims)
		if err != nil {
			return err
		}
		req = laia.TrainRequest{
			RunID:               *runID,
			Name:                *name,
			Dataset:             *dataset,
			ValidDataset:        *validDataset,
			Seed:                *seed,
			BatchSize:           *batchSize,
			Shuffle:             *shuffle,
			SamplesPerEpoch:     *samplesPerEpoch,
			PrefetchWorkers:     *workers,
			Hidden:              *hidden,
			Activation:          *activation,
			Optimizer:           *optimizer,
			LearningRate:        *learningRate,
			Momentum:            *momentum,
			Blank:               *blank,
			WordDelimiters:      delims,
			Epochs:              *epochs,
			IterationsPerUpdate: *itersPerUpdate,
			EvalEvery:           *evalEvery,
			EarlyStopAfter:      *earlyStopAfter,
			SaveEvery:           *saveEvery,
			KeepCheckpoints:     *keep,
		}
	} else {
		req = cfg.request()
		err := overrideFromFlags(&req, setFlags, map[string]any{
			"run-id":            *runID,
			"name":              *name,
			"dataset":           *dataset,
			"valid-dataset":     *validDataset,
			"seed":              *seed,
			"batch-size":        *batchSize,
			"shuffle":           *shuffle,
			"samples-per-epoch": *samplesPerEpoch,
			"workers":           *workers,
			"hidden":            *hidden,
			"activation":        *activation,
			"optimizer":         *optimizer,
			"lr":                *learningRate,
			"momentum":          *momentum,
			"blank":             *blank,
			"word-delims":       *wordDelims,
			"epochs":            *epochs,
			"iters-per-update":  *itersPerUpdate,
			"eval-every":        *evalEvery,
			"early-stop-after":  *earlyStopAfter,
			"save-every":        *saveEvery,
			"keep":              *keep,
		})
		if err != nil {
			return err
		}
	}
	if setFlags["store"] || cfg.Store == "" {
		cfg.Store = *storeKind
	}
	if setFlags["dsn"] || cfg.DSN == "" {
		cfg.DSN = *dsn
	}
	if setFlags["checkpoints-dir"] || cfg.CheckpointsDir == "" {
		cfg.CheckpointsDir = *checkpointsDir
	}

	logger := log.New(os.Stderr, "", log.LstdFlags)
	client, err := laia.New(laia.Options{
		StoreKind:      cfg.Store,
		StoreDSN:       cfg.DSN,
		CheckpointsDir: cfg.CheckpointsDir,
		Logger:         logger,
	})
	if err != nil {
		return err
	}
	defer func() {
		_ = client.Close()
	}()

	req.OnEpochEnd = progressPrinter(stdoutIsTerminal(), logger)
	summary, err := client.Train(ctx, req)
	if err != nil {
		return err
	}
	printSummary(summary)
	return nil
}

func runResume(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("resume", flag.ContinueOnError)
	configPath := fs.String("config", "", "optional YAML run config path")
	runID := fs.String("run-id", "", "run id to resume")
	dataset := fs.String("dataset", "", "training dataset CSV path (defaults to the recorded one)")
	validDataset := fs.String("valid-dataset", "", "validation dataset CSV path (optional)")
	batchSize := fs.Int("batch-size", 8, "samples per batch")
	shuffle := fs.Bool("shuffle", false, "reshuffle samples every epoch")
	samplesPerEpoch := fs.Int("samples-per-epoch", 0, "fixed samples drawn per epoch (0 uses the whole set)")
	workers := fs.Int("workers", data.DefaultWorkers(), "batch prefetch worker count (0 disables prefetch)")
	hidden := fs.Int("hidden", 0, "hidden layer width (0 trains a linear model)")
	activation := fs.String("activation", "tanh", "mlp hidden activation: tanh|relu|leaky_relu|sigmoid")
	optimizer := fs.String("optimizer", "sgd", "optimizer: sgd|adam")
	learningRate := fs.Float64("lr", 0.0005, "learning rate")
	momentum := fs.Float64("momentum", 0.0, "sgd momentum")
	blank := fs.Int("blank", 0, "ctc blank symbol index")
	wordDelims := fs.String("word-delims", "", "comma separated word delimiter symbol indices")
	epochs := fs.Int64("epochs", 100, "training horizon in epochs")
	itersPerUpdate := fs.Int64("iters-per-update", 1, "gradient accumulation steps per optimizer update")
	evalEvery := fs.Int64("eval-every", 1, "validation cadence in epochs")
	earlyStopAfter := fs.Int64("early-stop-after", 0, "stop after N epochs without cer improvement (0 disables)")
	saveEvery := fs.Int64("save-every", 1, "checkpoint cadence in epochs")
	keep := fs.Int("keep", 3, "rolling checkpoints to keep")
	storeKind := fs.String("store", storage.DefaultStoreKind(), "store backend: memory|sqlite|postgres")
	dsn := fs.String("dsn", defaultDBPath, "sqlite path or postgres connection string")
	checkpointsDir := fs.String("checkpoints-dir", "checkpoints", "checkpoint root directory")
	if err := fs.Parse(args); err != nil {
		return err
	}
	setFlags := make(map[string]bool)
	fs.Visit(func(f *flag.Flag) {
		setFlags[f.Name] = true
	})

	cfg, err := loadOrDefaultTrainConfig(*configPath)
	if err != nil {
		return err
	}
	var req laia.TrainRequest
	if *configPath == "" {
		delims, err := parseDelims(*wordDelims)
		if err != nil {
			return err
		}
		req = laia.TrainRequest{
			RunID:               *runID,
			Dataset:             *dataset,
			ValidDataset:        *validDataset,
			BatchSize:           *batchSize,
			Shuffle:             *shuffle,
			SamplesPerEpoch:     *samplesPerEpoch,
			PrefetchWorkers:     *workers,
			Hidden:              *hidden,
			Activation:          *activation,
			Optimizer:           *optimizer,
			LearningRate:        *learningRate,
			Momentum:            *momentum,
			Blank:               *blank,
			WordDelimiters:      delims,
			Epochs:              *epochs,
			IterationsPerUpdate: *itersPerUpdate,
			EvalEvery:           *evalEvery,
			EarlyStopAfter:      *earlyStopAfter,
			SaveEvery:           *saveEvery,
			KeepCheckpoints:     *keep,
		}
	} else {
		req = cfg.request()
		err := overrideFromFlags(&req, setFlags, map[string]any{
			"run-id":            *runID,
			"dataset":           *dataset,
			"valid-dataset":     *validDataset,
			"batch-size":        *batchSize,
			"shuffle":           *shuffle,
			"samples-per-epoch": *samplesPerEpoch,
			"workers":           *workers,
			"hidden":            *hidden,
			"activation":        *activation,
			"optimizer":         *optimizer,
			"lr":                *learningRate,
			"momentum":          *momentum,
			"blank":             *blank,
			"word-delims":       *wordDelims,
			"epochs":            *epochs,
			"iters-per-update":  *itersPerUpdate,
			"eval-every":        *evalEvery,
			"early-stop-after":  *earlyStopAfter,
			"save-every":        *saveEvery,
			"keep":              *keep,
		})
		if err != nil {
			return err
		}
	}
	if req.RunID == "" {
		return errors.New("run-id is required")
	}
	if setFlags["store"] || cfg.Store == "" {
		cfg.Store = *storeKind
	}
	if setFlags["dsn"] || cfg.DSN == "" {
		cfg.DSN = *dsn
	}
	if setFlags["checkpoints-dir"] || cfg.CheckpointsDir == "" {
		cfg.CheckpointsDir = *checkpointsDir
	}

	logger := log.New(os.Stderr, "", log.LstdFlags)
	client, err := laia.New(laia.Options{
		StoreKind:      cfg.Store,
		StoreDSN:       cfg.DSN,
		CheckpointsDir: cfg.CheckpointsDir,
		Logger:         logger,
	})
	if err != nil {
		return err
	}
	defer func() {
		_ = client.Close()
	}()

	req.OnEpochEnd = progressPrinter(stdoutIsTerminal(), logger)
	summary, err := client.Resume(ctx, req)
	if err != nil {
		return err
	}
	printSummary(summary)
	return nil
}

func runRuns(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("runs", flag.ContinueOnError)
	limit := fs.Int("limit", 20, "max runs to list")
	jsonOut := fs.Bool("json", false, "emit runs list as JSON")
	storeKind := fs.String("store", storage.DefaultStoreKind(), "store backend: memory|sqlite|postgres")
	dsn := fs.String("dsn", defaultDBPath, "sqlite path or postgres connection string")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *limit <= 0 {
		return errors.New("limit must be > 0")
	}

	client, err := laia.New(laia.Options{StoreKind: *storeKind, StoreDSN: *dsn})
	if err != nil {
		return err
	}
	defer func() {
		_ = client.Close()
	}()

	items, err := client.ListRuns(ctx, laia.RunsRequest{Limit: *limit})
	if err != nil {
		return err
	}
	if len(items) == 0 {
		fmt.Println("no runs found")
		return nil
	}
	if *jsonOut {
		return json.NewEncoder(os.Stdout).Encode(items)
	}
	for _, item := range items {
		created := item.CreatedAtUTC
		if t, err := time.Parse(time.RFC3339Nano, item.CreatedAtUTC); err == nil {
			created = humanize.Time(t)
		}
		fmt.Printf("run_id=%s name=%s created=%q epochs=%d iterations=%d stop=%s",
			item.RunID, item.Name, created, item.Epochs, item.Iterations, item.StopReason)
		if item.Evaluated {
			fmt.Printf(" best_cer=%.4f", item.BestCER)
		}
		fmt.Println()
	}
	return nil
}

func runShow(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("show", flag.ContinueOnError)
	runID := fs.String("run-id", "", "run id to show")
	storeKind := fs.String("store", storage.DefaultStoreKind(), "store backend: memory|sqlite|postgres")
	dsn := fs.String("dsn", defaultDBPath, "sqlite path or postgres connection string")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *runID == "" {
		return errors.New("run-id is required")
	}

	client, err := laia.New(laia.Options{StoreKind: *storeKind, StoreDSN: *dsn})
	if err != nil {
		return err
	}
	defer func() {
		_ = client.Close()
	}()

	detail, err := client.ShowRun(ctx, *runID)
	if err != nil {
		return err
	}

	fmt.Printf("run_id=%s name=%s dataset=%s seed=%d\n", detail.RunID, detail.Name, detail.Dataset, detail.Seed)
	created := detail.CreatedAtUTC
	if t, err := time.Parse(time.RFC3339Nano, detail.CreatedAtUTC); err == nil {
		created = fmt.Sprintf("%s (%s)", t.Format(time.RFC3339), humanize.Time(t))
	}
	fmt.Printf("created=%q\n", created)
	fmt.Printf("epochs=%d iterations=%d stop=%s final_loss=%.6f\n",
		detail.Epochs, detail.Iterations, detail.StopReason, detail.FinalLoss)
	if detail.Evaluated {
		fmt.Printf("best_cer=%.4f best_wer=%.4f\n", detail.BestCER, detail.BestWER)
	}

	names := make([]string, 0, len(detail.Metrics))
	for name := range detail.Metrics {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		values := detail.Metrics[name]
		if len(values) == 0 {
			continue
		}
		fmt.Printf("metric=%s points=%d last=%.6f\n", name, len(values), values[len(values)-1])
	}

	matches, err := filepath.Glob(filepath.Join(detail.CheckpointDir, "*.ckpt"))
	if err != nil {
		return err
	}
	sort.Strings(matches)
	for _, path := range matches {
		info, err := os.Stat(path)
		if err != nil {
			continue
		}
		fmt.Printf("checkpoint=%s size=%q\n", filepath.Base(path), humanize.Bytes(uint64(info.Size())))
	}
	return nil
}

func runServe(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("serve", flag.ContinueOnError)
	addr := fs.String("addr", ":8080", "listen address")
	storeKind := fs.String("store", storage.DefaultStoreKind(), "store backend: memory|sqlite|postgres")
	dsn := fs.String("dsn", defaultDBPath, "sqlite path or postgres connection string")
	if err := fs.Parse(args); err != nil {
		return err
	}

	store, err := storage.NewStore(*storeKind, *dsn)
	if err != nil {
		return err
	}
	defer func() {
		_ = storage.CloseIfSupported(store)
	}()
	if err := store.Init(ctx); err != nil {
		return err
	}

	logger := log.New(os.Stderr, "", log.LstdFlags)
	srv, err := api.NewServer(store, logger)
	if err != nil {
		return err
	}
	server := &http.Server{Addr: *addr, Handler: srv.Router()}

	errCh := make(chan error, 1)
	go func() {
		logger.Printf("serving run registry on %s store=%s", *addr, *storeKind)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
			return
		}
		errCh <- nil
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	select {
	case err := <-errCh:
		return err
	case <-quit:
	case <-ctx.Done():
	}

	logger.Println("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return server.Shutdown(shutdownCtx)
}

// progressPrinter renders epoch progress on stdout when it is a terminal and
// falls back to plain log lines otherwise.
func progressPrinter(interactive bool, logger *log.Logger) func(laia.Progress) {
	return func(p laia.Progress) {
		if interactive {
			if p.Evaluated {
				fmt.Printf("epoch=%d iteration=%d train_loss=%.6f valid_cer=%.4f\n", p.Epoch, p.Iteration, p.TrainLoss, p.ValidCER)
			} else {
				fmt.Printf("epoch=%d iteration=%d train_loss=%.6f\n", p.Epoch, p.Iteration, p.TrainLoss)
			}
			return
		}
		if p.Evaluated {
			logger.Printf("epoch=%d iteration=%d train_loss=%.6f valid_cer=%.4f", p.Epoch, p.Iteration, p.TrainLoss, p.ValidCER)
		} else {
			logger.Printf("epoch=%d iteration=%d train_loss=%.6f", p.Epoch, p.Iteration, p.TrainLoss)
		}
	}
}

func stdoutIsTerminal() bool {
	return isatty.IsTerminal(os.Stdout.Fd()) || isatty.IsCygwinTerminal(os.Stdout.Fd())
}

func printSummary(s laia.TrainSummary) {
	fmt.Printf("run completed run_id=%s epochs=%d iterations=%d stop=%s\n", s.RunID, s.Epochs, s.Iterations, s.StopReason)
	fmt.Printf("final_loss=%.6f\n", s.FinalLoss)
	if s.Evaluated {
		fmt.Printf("best_cer=%.4f best_wer=%.4f\n", s.BestCER, s.BestWER)
	}
	fmt.Printf("checkpoints_dir=%s\n", filepath.Clean(s.CheckpointDir))
}

func usageError(msg string) error {
	return fmt.Errorf("%s\nusage: laiactl <train|resume|runs|show|serve> [flags]", msg)
}
