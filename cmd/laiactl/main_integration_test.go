//go:build sqlite

package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/raphaelBarman/PyLaia/pkg/laia"
)

func writeToyCSV(t *testing.T, dir, name string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	rows := "s0,0 1,1\ns1,1 0,2\ns2,0 1,1\ns3,1 0,2\n"
	if err := os.WriteFile(path, []byte(rows), 0o644); err != nil {
		t.Fatalf("write csv: %v", err)
	}
	return path
}

func TestTrainCommandSQLitePersistsRun(t *testing.T) {
	workdir := t.TempDir()
	dbPath := filepath.Join(workdir, "laia.db")
	ckptDir := filepath.Join(workdir, "checkpoints")
	csvPath := writeToyCSV(t, workdir, "train.csv")

	output, err := captureStdout(func() error {
		return run(context.Background(), []string{
			"train",
			"--store", "sqlite",
			"--dsn", dbPath,
			"--checkpoints-dir", ckptDir,
			"--run-id", "cli-run",
			"--dataset", csvPath,
			"--valid-dataset", csvPath,
			"--seed", "7",
			"--batch-size", "2",
			"--lr", "0.5",
			"--epochs", "2",
			"--workers", "0",
		})
	})
	if err != nil {
		t.Fatalf("train command: %v", err)
	}
	if !strings.Contains(output, "run completed run_id=cli-run epochs=2 iterations=4 stop=stop-requested") {
		t.Fatalf("unexpected train output: %s", output)
	}
	if _, err := os.Stat(dbPath); err != nil {
		t.Fatalf("expected sqlite db at %s: %v", dbPath, err)
	}
	if _, err := os.Stat(filepath.Join(ckptDir, "cli-run", "train-2.ckpt")); err != nil {
		t.Fatalf("expected rolling checkpoint: %v", err)
	}
	if _, err := os.Stat(filepath.Join(ckptDir, "cli-run", "model-lowest-valid-cer.ckpt")); err != nil {
		t.Fatalf("expected best model checkpoint: %v", err)
	}

	output, err = captureStdout(func() error {
		return run(context.Background(), []string{
			"runs",
			"--store", "sqlite",
			"--dsn", dbPath,
			"--limit", "5",
		})
	})
	if err != nil {
		t.Fatalf("runs command: %v", err)
	}
	if !strings.Contains(output, "run_id=cli-run") {
		t.Fatalf("runs output missing run id: %s", output)
	}

	output, err = captureStdout(func() error {
		return run(context.Background(), []string{
			"runs",
			"--store", "sqlite",
			"--dsn", dbPath,
			"--json",
		})
	})
	if err != nil {
		t.Fatalf("runs --json command: %v", err)
	}
	var items []laia.RunItem
	if err := json.Unmarshal([]byte(output), &items); err != nil {
		t.Fatalf("decode runs JSON: %v", err)
	}
	if len(items) != 1 || items[0].RunID != "cli-run" || items[0].Epochs != 2 {
		t.Fatalf("unexpected runs JSON: %+v", items)
	}
}

func TestResumeCommandSQLiteExtendsRun(t *testing.T) {
	workdir := t.TempDir()
	dbPath := filepath.Join(workdir, "laia.db")
	ckptDir := filepath.Join(workdir, "checkpoints")
	csvPath := writeToyCSV(t, workdir, "train.csv")

	if err := run(context.Background(), []string{
		"train",
		"--store", "sqlite",
		"--dsn", dbPath,
		"--checkpoints-dir", ckptDir,
		"--run-id", "resume-cli",
		"--dataset", csvPath,
		"--valid-dataset", csvPath,
		"--seed", "7",
		"--batch-size", "2",
		"--lr", "0.5",
		"--epochs", "2",
		"--workers", "0",
	}); err != nil {
		t.Fatalf("seed train command: %v", err)
	}

	output, err := captureStdout(func() error {
		return run(context.Background(), []string{
			"resume",
			"--store", "sqlite",
			"--dsn", dbPath,
			"--checkpoints-dir", ckptDir,
			"--run-id", "resume-cli",
			"--valid-dataset", csvPath,
			"--batch-size", "2",
			"--lr", "0.5",
			"--epochs", "4",
			"--workers", "0",
		})
	})
	if err != nil {
		t.Fatalf("resume command: %v", err)
	}
	if !strings.Contains(output, "run completed run_id=resume-cli epochs=4 iterations=8 stop=stop-requested") {
		t.Fatalf("unexpected resume output: %s", output)
	}
	if _, err := os.Stat(filepath.Join(ckptDir, "resume-cli", "train-4.ckpt")); err != nil {
		t.Fatalf("expected checkpoint after resume: %v", err)
	}

	output, err = captureStdout(func() error {
		return run(context.Background(), []string{
			"show",
			"--store", "sqlite",
			"--dsn", dbPath,
			"--run-id", "resume-cli",
		})
	})
	if err != nil {
		t.Fatalf("show command: %v", err)
	}
	for _, want := range []string{
		"run_id=resume-cli",
		"epochs=4 iterations=8 stop=stop-requested",
		"metric=train_loss points=4",
		"checkpoint=train-4.ckpt",
	} {
		if !strings.Contains(output, want) {
			t.Fatalf("show output missing %q: %s", want, output)
		}
	}
}

func TestTrainCommandSQLiteConfigAllowsFlagOverrides(t *testing.T) {
	workdir := t.TempDir()
	dbPath := filepath.Join(workdir, "laia.db")
	ckptDir := filepath.Join(workdir, "checkpoints")
	csvPath := writeToyCSV(t, workdir, "train.csv")

	configPath := filepath.Join(workdir, "run.yaml")
	cfg := fmt.Sprintf(
		"run_id: config-run\ndataset: %s\nseed: 7\nbatch_size: 2\nlearning_rate: 0.5\nepochs: 9\nstore: sqlite\ndsn: %s\ncheckpoints_dir: %s\n",
		csvPath, dbPath, ckptDir,
	)
	if err := os.WriteFile(configPath, []byte(cfg), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}

	output, err := captureStdout(func() error {
		return run(context.Background(), []string{
			"train",
			"--config", configPath,
			"--epochs", "3",
		})
	})
	if err != nil {
		t.Fatalf("train command: %v", err)
	}
	if !strings.Contains(output, "run completed run_id=config-run epochs=3 iterations=6 stop=stop-requested") {
		t.Fatalf("unexpected train output: %s", output)
	}
	if _, err := os.Stat(dbPath); err != nil {
		t.Fatalf("expected sqlite db from config at %s: %v", dbPath, err)
	}
}
