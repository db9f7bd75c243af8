package data

import (
	"os"
	"path/filepath"
	"testing"
)

func writeCSV(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "dataset.csv")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write csv: %v", err)
	}
	return path
}

func TestLoadCSV(t *testing.T) {
	path := writeCSV(t, "id,frames,target\n"+
		"a1,0.1 0.2|0.3 0.4,1 2\n"+
		"a2,0.5 0.6,3\n")

	ds, err := LoadCSV(path)
	if err != nil {
		t.Fatalf("load csv: %v", err)
	}
	if len(ds.Samples) != 2 {
		t.Fatalf("samples: got=%d want=2", len(ds.Samples))
	}
	if ds.Dim != 2 {
		t.Fatalf("dim: got=%d want=2", ds.Dim)
	}
	if ds.Classes != 4 {
		t.Fatalf("classes: got=%d want=4", ds.Classes)
	}

	first := ds.Samples[0]
	if first.ID != "a1" {
		t.Fatalf("id: got=%s want=a1", first.ID)
	}
	if len(first.Frames) != 2 || first.Frames[1][0] != 0.3 {
		t.Fatalf("frames parsed wrong: %+v", first.Frames)
	}
	if len(first.Target) != 2 || first.Target[0] != 1 || first.Target[1] != 2 {
		t.Fatalf("target parsed wrong: %+v", first.Target)
	}
}

func TestLoadCSVWithoutHeader(t *testing.T) {
	path := writeCSV(t, "a1,1.0 2.0,1\n")
	ds, err := LoadCSV(path)
	if err != nil {
		t.Fatalf("load csv: %v", err)
	}
	if len(ds.Samples) != 1 {
		t.Fatalf("samples: got=%d want=1", len(ds.Samples))
	}
}

func TestLoadCSVRejectsRaggedFrames(t *testing.T) {
	path := writeCSV(t, "a1,0.1 0.2|0.3,1\n")
	if _, err := LoadCSV(path); err == nil {
		t.Fatal("expected error for ragged frame widths")
	}
}

func TestLoadCSVRejectsMixedWidths(t *testing.T) {
	path := writeCSV(t, "a1,0.1 0.2,1\na2,0.1 0.2 0.3,1\n")
	if _, err := LoadCSV(path); err == nil {
		t.Fatal("expected error for differing frame widths across samples")
	}
}

func TestLoadCSVRejectsNegativeTokens(t *testing.T) {
	path := writeCSV(t, "a1,0.1 0.2,-3\n")
	if _, err := LoadCSV(path); err == nil {
		t.Fatal("expected error for negative target token")
	}
}

func TestLoadCSVEmpty(t *testing.T) {
	path := writeCSV(t, "id,frames,target\n")
	if _, err := LoadCSV(path); err == nil {
		t.Fatal("expected error for dataset with no samples")
	}
}
