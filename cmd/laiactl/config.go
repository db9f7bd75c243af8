package main

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/raphaelBarman/PyLaia/pkg/laia"
)

// trainConfig is the YAML schema shared by the train and resume commands.
// Store settings live here too so one file can describe a whole run.
type trainConfig struct {
	RunID        string `yaml:"run_id"`
	Name         string `yaml:"name"`
	Dataset      string `yaml:"dataset"`
	ValidDataset string `yaml:"valid_dataset"`

	Seed            int64 `yaml:"seed"`
	BatchSize       int   `yaml:"batch_size"`
	Shuffle         bool  `yaml:"shuffle"`
	SamplesPerEpoch int   `yaml:"samples_per_epoch"`
	Workers         int   `yaml:"workers"`

	Hidden         int     `yaml:"hidden"`
	Activation     string  `yaml:"activation"`
	Optimizer      string  `yaml:"optimizer"`
	LearningRate   float64 `yaml:"learning_rate"`
	Momentum       float64 `yaml:"momentum"`
	Blank          int     `yaml:"blank"`
	WordDelimiters []int   `yaml:"word_delimiters"`

	Epochs              int64 `yaml:"epochs"`
	IterationsPerUpdate int64 `yaml:"iterations_per_update"`
	EvalEvery           int64 `yaml:"eval_every"`
	EarlyStopAfter      int64 `yaml:"early_stop_after"`

	SaveEvery       int64 `yaml:"save_every"`
	KeepCheckpoints int   `yaml:"keep_checkpoints"`

	Store          string `yaml:"store"`
	DSN            string `yaml:"dsn"`
	CheckpointsDir string `yaml:"checkpoints_dir"`
}

func loadTrainConfig(path string) (trainConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return trainConfig{}, err
	}
	var cfg trainConfig
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return trainConfig{}, fmt.Errorf("parse %s: %w", path, err)
	}
	return cfg, nil
}

func loadOrDefaultTrainConfig(path string) (trainConfig, error) {
	if path == "" {
		return trainConfig{}, nil
	}
	cfg, err := loadTrainConfig(path)
	if err != nil {
		return trainConfig{}, fmt.Errorf("load config: %w", err)
	}
	return cfg, nil
}

func (c trainConfig) request() laia.TrainRequest {
	return laia.TrainRequest{
		RunID:               c.RunID,
		Name:                c.Name,
		Dataset:             c.Dataset,
		ValidDataset:        c.ValidDataset,
		Seed:                c.Seed,
		BatchSize:           c.BatchSize,
		Shuffle:             c.Shuffle,
		SamplesPerEpoch:     c.SamplesPerEpoch,
		PrefetchWorkers:     c.Workers,
		Hidden:              c.Hidden,
		Activation:          c.Activation,
		Optimizer:           c.Optimizer,
		LearningRate:        c.LearningRate,
		Momentum:            c.Momentum,
		Blank:               c.Blank,
		WordDelimiters:      c.WordDelimiters,
		Epochs:              c.Epochs,
		IterationsPerUpdate: c.IterationsPerUpdate,
		EvalEvery:           c.EvalEvery,
		EarlyStopAfter:      c.EarlyStopAfter,
		SaveEvery:           c.SaveEvery,
		KeepCheckpoints:     c.KeepCheckpoints,
	}
}

func overrideFromFlags(req *laia.TrainRequest, set map[string]bool, flagValue map[string]any) error {
	for name := range set {
		v, ok := flagValue[name]
		if !ok {
			continue
		}
		switch name {
		case "run-id":
			req.RunID = v.(string)
		case "name":
			req.Name = v.(string)
		case "dataset":
			req.Dataset = v.(string)
		case "valid-dataset":
			req.ValidDataset = v.(string)
		case "seed":
			req.Seed = v.(int64)
		case "batch-size":
			req.BatchSize = v.(int)
		case "shuffle":
			req.Shuffle = v.(bool)
		case "samples-per-epoch":
			req.SamplesPerEpoch = v.(int)
		case "workers":
			req.PrefetchWorkers = v.(int)
		case "hidden":
			req.Hidden = v.(int)
		case "activation":
			req.Activation = v.(string)
		case "optimizer":
			req.Optimizer = v.(string)
		case "lr":
			req.LearningRate = v.(float64)
		case "momentum":
			req.Momentum = v.(float64)
		case "blank":
			req.Blank = v.(int)
		case "word-delims":
			delims, err := parseDelims(v.(string))
			if err != nil {
				return err
			}
			req.WordDelimiters = delims
		case "epochs":
			req.Epochs = v.(int64)
		case "iters-per-update":
			req.IterationsPerUpdate = v.(int64)
		case "eval-every":
			req.EvalEvery = v.(int64)
		case "early-stop-after":
			req.EarlyStopAfter = v.(int64)
		case "save-every":
			req.SaveEvery = v.(int64)
		case "keep":
			req.KeepCheckpoints = v.(int)
		}
	}
	return nil
}

// parseDelims splits a comma separated token list, e.g. "1,2,7".
func parseDelims(raw string) ([]int, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil, nil
	}
	parts := strings.Split(raw, ",")
	out := make([]int, 0, len(parts))
	for _, part := range parts {
		tok, err := strconv.Atoi(strings.TrimSpace(part))
		if err != nil {
			return nil, fmt.Errorf("parse word delimiter %q: %w", part, err)
		}
		out = append(out, tok)
	}
	return out, nil
}
