package checkpoint

import (
	"fmt"
	"io"
	"log"
	"os"
	"path/filepath"
)

// RollingSaver bounds the records kept for one logical name. Each Save
// writes through the wrapped saver, then evicts oldest-first until at most
// keep records remain. Eviction runs only after the new record is durable,
// so a crash mid-rotation never leaves zero valid checkpoints.
type RollingSaver struct {
	inner  Saver
	dir    string
	name   string
	keep   int
	logger *log.Logger
	queue  []string
}

// NewRollingSaver seeds its eviction queue from records already on disk for
// the logical name, oldest first, so the retention bound holds across
// process restarts.
func NewRollingSaver(inner Saver, dir, name string, keep int, logger *log.Logger) (*RollingSaver, error) {
	if inner == nil {
		return nil, fmt.Errorf("wrapped saver is required")
	}
	if keep < 1 {
		return nil, fmt.Errorf("keep must be >= 1: got=%d", keep)
	}
	if logger == nil {
		logger = log.New(io.Discard, "", 0)
	}
	matches, err := filepath.Glob(filepath.Join(dir, name+"-*"+fileExt))
	if err != nil {
		return nil, fmt.Errorf("scan existing checkpoints: %w", err)
	}
	sortRecords(matches)
	return &RollingSaver{
		inner:  inner,
		dir:    dir,
		name:   name,
		keep:   keep,
		logger: logger,
		queue:  matches,
	}, nil
}

func (r *RollingSaver) Save(suffix string) (string, error) {
	path, err := r.inner.Save(suffix)
	if err != nil {
		return "", err
	}
	r.remember(path)
	for len(r.queue) > r.keep {
		oldest := r.queue[0]
		if err := os.Remove(oldest); err != nil && !os.IsNotExist(err) {
			return "", fmt.Errorf("evict checkpoint %s: %w", oldest, err)
		}
		r.queue = r.queue[1:]
		r.logger.Printf("evicted checkpoint %s", oldest)
	}
	return path, nil
}

// Kept lists the retained record paths, oldest first.
func (r *RollingSaver) Kept() []string {
	out := make([]string, len(r.queue))
	copy(out, r.queue)
	return out
}

// remember appends path as the newest record. Re-saving an existing suffix
// overwrites its file, so the old queue entry moves to the newest slot
// instead of counting twice.
func (r *RollingSaver) remember(path string) {
	for i, p := range r.queue {
		if p == path {
			r.queue = append(r.queue[:i], r.queue[i+1:]...)
			break
		}
	}
	r.queue = append(r.queue, path)
}
