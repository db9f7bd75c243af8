package api

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/raphaelBarman/PyLaia/internal/checkpoint"
	"github.com/raphaelBarman/PyLaia/internal/storage"
)

func registryRun(id, createdAt string) storage.RunRecord {
	return storage.RunRecord{
		VersionedRecord: checkpoint.VersionedRecord{
			SchemaVersion: storage.CurrentSchemaVersion,
			CodecVersion:  storage.CurrentCodecVersion,
		},
		ID:            id,
		Name:          "iam-htr",
		Dataset:       "iam/lines.csv",
		Seed:          74,
		CreatedAtUTC:  createdAt,
		Epochs:        12,
		Iterations:    4800,
		StopReason:    "stop-requested",
		FinalLoss:     0.42,
		Evaluated:     true,
		BestCER:       0.081,
		BestWER:       0.229,
		CheckpointDir: "runs/" + id,
	}
}

func newTestServer(t *testing.T) (*Server, *storage.MemoryStore) {
	t.Helper()

	store := storage.NewMemoryStore()
	if err := store.Init(context.Background()); err != nil {
		t.Fatalf("init store: %v", err)
	}
	srv, err := NewServer(store, nil)
	if err != nil {
		t.Fatalf("new server: %v", err)
	}
	return srv, store
}

func get(t *testing.T, srv *Server, path string) *httptest.ResponseRecorder {
	t.Helper()

	req := httptest.NewRequest(http.MethodGet, path, nil)
	rec := httptest.NewRecorder()
	srv.Router().ServeHTTP(rec, req)
	return rec
}

func TestNewServerRequiresStore(t *testing.T) {
	if _, err := NewServer(nil, nil); err == nil {
		t.Fatal("expected error for nil store")
	}
}

func TestListRunsNewestFirst(t *testing.T) {
	ctx := context.Background()
	srv, store := newTestServer(t)

	if err := store.SaveRun(ctx, registryRun("run-old", "2026-08-20T09:00:00Z")); err != nil {
		t.Fatalf("save run: %v", err)
	}
	if err := store.SaveRun(ctx, registryRun("run-new", "2026-08-24T09:00:00Z")); err != nil {
		t.Fatalf("save run: %v", err)
	}

	rec := get(t, srv, "/api/runs")
	if rec.Code != http.StatusOK {
		t.Fatalf("status got=%d want=%d", rec.Code, http.StatusOK)
	}
	if ct := rec.Header().Get("Content-Type"); ct != "application/json" {
		t.Fatalf("content type got=%q want=%q", ct, "application/json")
	}

	var resp struct {
		Items []struct {
			ID         string `json:"id"`
			StopReason string `json:"stop_reason"`
		} `json:"items"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if len(resp.Items) != 2 {
		t.Fatalf("items got=%d want=2", len(resp.Items))
	}
	if resp.Items[0].ID != "run-new" || resp.Items[1].ID != "run-old" {
		t.Fatalf("unexpected order: %+v", resp.Items)
	}
	if resp.Items[0].StopReason != "stop-requested" {
		t.Fatalf("stop reason got=%q want=%q", resp.Items[0].StopReason, "stop-requested")
	}
}

func TestGetRunByID(t *testing.T) {
	ctx := context.Background()
	srv, store := newTestServer(t)

	run := registryRun("run-1", "2026-08-24T09:00:00Z")
	if err := store.SaveRun(ctx, run); err != nil {
		t.Fatalf("save run: %v", err)
	}

	rec := get(t, srv, "/api/runs/run-1")
	if rec.Code != http.StatusOK {
		t.Fatalf("status got=%d want=%d", rec.Code, http.StatusOK)
	}

	var loaded storage.RunRecord
	if err := json.Unmarshal(rec.Body.Bytes(), &loaded); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if loaded.ID != run.ID || loaded.Name != run.Name || loaded.BestCER != run.BestCER {
		t.Fatalf("unexpected run: %+v", loaded)
	}
}

func TestGetRunMissingIsNotFound(t *testing.T) {
	srv, _ := newTestServer(t)

	rec := get(t, srv, "/api/runs/no-such-run")
	if rec.Code != http.StatusNotFound {
		t.Fatalf("status got=%d want=%d", rec.Code, http.StatusNotFound)
	}
}

func TestGetMetricHistory(t *testing.T) {
	ctx := context.Background()
	srv, store := newTestServer(t)

	if err := store.SaveRun(ctx, registryRun("run-1", "2026-08-24T09:00:00Z")); err != nil {
		t.Fatalf("save run: %v", err)
	}
	history := []float64{0.19, 0.12, 0.09}
	if err := store.SaveMetricHistory(ctx, "run-1", "valid_cer", history); err != nil {
		t.Fatalf("save history: %v", err)
	}

	rec := get(t, srv, "/api/runs/run-1/metrics/valid_cer")
	if rec.Code != http.StatusOK {
		t.Fatalf("status got=%d want=%d", rec.Code, http.StatusOK)
	}

	var resp struct {
		RunID  string    `json:"run_id"`
		Name   string    `json:"name"`
		Values []float64 `json:"values"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if resp.RunID != "run-1" || resp.Name != "valid_cer" {
		t.Fatalf("unexpected identity: %+v", resp)
	}
	if len(resp.Values) != 3 || resp.Values[2] != 0.09 {
		t.Fatalf("unexpected values: %+v", resp.Values)
	}
}

func TestGetMetricHistoryMissingIsNotFound(t *testing.T) {
	srv, _ := newTestServer(t)

	rec := get(t, srv, "/api/runs/run-1/metrics/valid_cer")
	if rec.Code != http.StatusNotFound {
		t.Fatalf("status got=%d want=%d", rec.Code, http.StatusNotFound)
	}
}

func TestHealthz(t *testing.T) {
	srv, _ := newTestServer(t)

	rec := get(t, srv, "/healthz")
	if rec.Code != http.StatusOK {
		t.Fatalf("status got=%d want=%d", rec.Code, http.StatusOK)
	}
	if body := rec.Body.String(); body != "OK" {
		t.Fatalf("body got=%q want=%q", body, "OK")
	}
}
