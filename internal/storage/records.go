package storage

import (
	"sort"

	"github.com/raphaelBarman/PyLaia/internal/checkpoint"
)

// RunRecord summarizes one training run for the run registry. Metric
// histories live beside it, keyed by run and metric name.
type RunRecord struct {
	checkpoint.VersionedRecord
	ID           string  `json:"id"`
	Name         string  `json:"name"`
	Dataset      string  `json:"dataset"`
	Seed         int64   `json:"seed"`
	CreatedAtUTC string  `json:"created_at_utc"`
	Epochs       int64   `json:"epochs"`
	Iterations   int64   `json:"iterations"`
	StopReason   string  `json:"stop_reason"`
	FinalLoss    float64 `json:"final_loss"`
	// Evaluated reports whether a validation pass ran; without one the
	// error rates below are meaningless zeros.
	Evaluated     bool    `json:"evaluated"`
	BestCER       float64 `json:"best_cer"`
	BestWER       float64 `json:"best_wer"`
	CheckpointDir string  `json:"checkpoint_dir"`
}

// SortRuns orders records newest first, by creation time then ID, so every
// backend lists runs identically.
func SortRuns(runs []RunRecord) {
	sort.Slice(runs, func(i, j int) bool {
		if runs[i].CreatedAtUTC != runs[j].CreatedAtUTC {
			return runs[i].CreatedAtUTC > runs[j].CreatedAtUTC
		}
		return runs[i].ID > runs[j].ID
	})
}
