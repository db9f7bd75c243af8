package data

import (
	"context"
	"fmt"
	"math/rand"
)

type SliceConfig struct {
	Samples []Sample
	// BatchSize bounds each batch; the final batch of a pass may be smaller.
	BatchSize int
	// Shuffle reorders full passes from a per-pass derived seed.
	Shuffle bool
	// SamplesPerEpoch, when positive, draws that many samples uniformly
	// without replacement each pass instead of walking the full dataset.
	SamplesPerEpoch int
	Seed            int64
}

// SliceSource serves batches from an in-memory dataset. It is restartable:
// every Batches call opens a fresh pass.
type SliceSource struct {
	cfg  SliceConfig
	pass int64
}

func NewSlice(cfg SliceConfig) (*SliceSource, error) {
	if len(cfg.Samples) == 0 {
		return nil, fmt.Errorf("at least one sample is required")
	}
	if cfg.BatchSize <= 0 {
		return nil, fmt.Errorf("batch size must be > 0: got=%d", cfg.BatchSize)
	}
	if cfg.SamplesPerEpoch < 0 {
		return nil, fmt.Errorf("samples per epoch must be >= 0: got=%d", cfg.SamplesPerEpoch)
	}
	if cfg.SamplesPerEpoch > len(cfg.Samples) {
		cfg.SamplesPerEpoch = len(cfg.Samples)
	}
	return &SliceSource{cfg: cfg}, nil
}

func (s *SliceSource) Batches(ctx context.Context) (Iterator, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	order := make([]int, len(s.cfg.Samples))
	for i := range order {
		order[i] = i
	}
	// A sample budget always draws from a shuffled permutation, whatever the
	// Shuffle setting says about full passes.
	if s.cfg.Shuffle || s.cfg.SamplesPerEpoch > 0 {
		rng := rand.New(rand.NewSource(shuffleSeed(s.cfg.Seed, s.pass)))
		rng.Shuffle(len(order), func(i, j int) {
			order[i], order[j] = order[j], order[i]
		})
	}
	if s.cfg.SamplesPerEpoch > 0 {
		order = order[:s.cfg.SamplesPerEpoch]
	}
	s.pass++

	batches := make([]Batch, 0, len(order)/s.cfg.BatchSize+1)
	for start := 0; start < len(order); start += s.cfg.BatchSize {
		end := start + s.cfg.BatchSize
		if end > len(order) {
			end = len(order)
		}
		samples := make([]Sample, 0, end-start)
		for _, idx := range order[start:end] {
			samples = append(samples, s.cfg.Samples[idx])
		}
		batches = append(batches, Batch{Index: len(batches), Samples: samples})
	}
	return &sliceIterator{batches: batches}, nil
}
