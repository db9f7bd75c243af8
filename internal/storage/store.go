package storage

import "context"

// Store persists the run registry: one record per training run plus the
// metric histories recorded during it.
type Store interface {
	Init(ctx context.Context) error
	SaveRun(ctx context.Context, record RunRecord) error
	GetRun(ctx context.Context, id string) (RunRecord, bool, error)
	ListRuns(ctx context.Context) ([]RunRecord, error)
	DeleteRun(ctx context.Context, id string) error
	SaveMetricHistory(ctx context.Context, runID, name string, history []float64) error
	GetMetricHistory(ctx context.Context, runID, name string) ([]float64, bool, error)
}
