package data

import (
	"context"
	"fmt"
	"math/rand"
	"sync"
)

// Transform rebuilds one sample during batch production, for jitter-style
// augmentation. It runs on a worker goroutine with that worker's own rng and
// must not touch shared state.
type Transform func(rng *rand.Rand, s Sample) Sample

type PrefetchConfig struct {
	Source  Source
	Workers int
	// Depth bounds how many built batches may wait ahead of the consumer.
	Depth     int
	Seed      int64
	Transform Transform
}

// Prefetcher builds batches ahead of the consumer on a worker pool. Batch i
// is always handled by worker i%Workers and delivery order matches the
// underlying source, so a run is reproducible for a fixed seed and worker
// count regardless of scheduling.
type Prefetcher struct {
	cfg PrefetchConfig
}

func NewPrefetcher(cfg PrefetchConfig) (*Prefetcher, error) {
	if cfg.Source == nil {
		return nil, fmt.Errorf("source is required")
	}
	if cfg.Workers <= 0 {
		cfg.Workers = DefaultWorkers()
	}
	if cfg.Depth <= 0 {
		cfg.Depth = 2 * cfg.Workers
	}
	return &Prefetcher{cfg: cfg}, nil
}

type prefetchJob struct {
	idx   int
	batch Batch
}

type prefetchResult struct {
	idx   int
	batch Batch
	err   error
}

func (p *Prefetcher) Batches(ctx context.Context) (Iterator, error) {
	inner, err := p.cfg.Source.Batches(ctx)
	if err != nil {
		return nil, err
	}

	pctx, cancel := context.WithCancel(ctx)
	jobs := make([]chan prefetchJob, p.cfg.Workers)
	for w := range jobs {
		jobs[w] = make(chan prefetchJob, 1)
	}
	results := make(chan prefetchResult, p.cfg.Depth)

	var wg sync.WaitGroup
	wg.Add(p.cfg.Workers)
	for w := 0; w < p.cfg.Workers; w++ {
		go func(w int, in <-chan prefetchJob) {
			defer wg.Done()
			rng := rand.New(rand.NewSource(DeriveSeed(p.cfg.Seed, w)))
			for j := range in {
				out := j.batch
				if p.cfg.Transform != nil {
					samples := make([]Sample, len(j.batch.Samples))
					for i, s := range j.batch.Samples {
						samples[i] = p.cfg.Transform(rng, s)
					}
					out.Samples = samples
				}
				select {
				case results <- prefetchResult{idx: j.idx, batch: out}:
				case <-pctx.Done():
					return
				}
			}
		}(w, jobs[w])
	}

	go func() {
		defer func() {
			for _, ch := range jobs {
				close(ch)
			}
		}()
		defer inner.Close()
		for i := 0; ; i++ {
			b, ok, err := inner.Next()
			if err != nil {
				select {
				case results <- prefetchResult{idx: i, err: fmt.Errorf("produce batch %d: %w", i, err)}:
				case <-pctx.Done():
				}
				return
			}
			if !ok {
				return
			}
			select {
			case jobs[i%p.cfg.Workers] <- prefetchJob{idx: i, batch: b}:
			case <-pctx.Done():
				return
			}
		}
	}()

	go func() {
		wg.Wait()
		close(results)
	}()

	return &prefetchIterator{
		results: results,
		cancel:  cancel,
		pending: make(map[int]Batch),
	}, nil
}

type prefetchIterator struct {
	results chan prefetchResult
	cancel  context.CancelFunc
	pending map[int]Batch
	next    int
}

func (it *prefetchIterator) Next() (Batch, bool, error) {
	for {
		if b, ok := it.pending[it.next]; ok {
			delete(it.pending, it.next)
			it.next++
			return b, true, nil
		}
		res, ok := <-it.results
		if !ok {
			return Batch{}, false, nil
		}
		if res.err != nil {
			it.cancel()
			return Batch{}, false, res.err
		}
		it.pending[res.idx] = res.batch
	}
}

func (it *prefetchIterator) Close() error {
	it.cancel()
	for range it.results {
	}
	return nil
}
