package data

import (
	"context"
	"errors"
	"fmt"
)

// ErrExhausted reports a source that cannot serve another pass.
var ErrExhausted = errors.New("batch source exhausted")

type Sample struct {
	ID     string      `json:"id"`
	Frames [][]float64 `json:"frames"`
	Target []int       `json:"target"`
}

// Batch groups samples for one compute step. Index is the position within the
// current pass; IDs exist purely for diagnostics.
type Batch struct {
	Index   int
	Samples []Sample
}

func (b Batch) IDs() []string {
	ids := make([]string, len(b.Samples))
	for i, s := range b.Samples {
		ids[i] = s.ID
	}
	return ids
}

// Geometry reports the frame width and class count a model for these samples
// needs, using the same inference LoadCSV applies to files.
func Geometry(samples []Sample) (dim, classes int) {
	for _, s := range samples {
		if dim == 0 && len(s.Frames) > 0 {
			dim = len(s.Frames[0])
		}
		for _, tok := range s.Target {
			if tok+1 > classes {
				classes = tok + 1
			}
		}
	}
	return dim, classes
}

// Source produces ordered passes of batches. Each Batches call opens a fresh
// pass; a source that cannot serve one returns ErrExhausted.
type Source interface {
	Batches(ctx context.Context) (Iterator, error)
}

type Iterator interface {
	Next() (Batch, bool, error)
	Close() error
}

type sliceIterator struct {
	batches []Batch
	pos     int
}

func (it *sliceIterator) Next() (Batch, bool, error) {
	if it.pos >= len(it.batches) {
		return Batch{}, false, nil
	}
	b := it.batches[it.pos]
	it.pos++
	return b, true, nil
}

func (it *sliceIterator) Close() error { return nil }

// Bounded limits a source to a fixed number of passes, after which it reports
// ErrExhausted.
type Bounded struct {
	src    Source
	passes int
	served int
}

func NewBounded(src Source, passes int) (*Bounded, error) {
	if src == nil {
		return nil, fmt.Errorf("source is required")
	}
	if passes <= 0 {
		return nil, fmt.Errorf("passes must be > 0: got=%d", passes)
	}
	return &Bounded{src: src, passes: passes}, nil
}

func (b *Bounded) Batches(ctx context.Context) (Iterator, error) {
	if b.served >= b.passes {
		return nil, ErrExhausted
	}
	it, err := b.src.Batches(ctx)
	if err != nil {
		return nil, err
	}
	b.served++
	return it, nil
}
