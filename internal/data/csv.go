package data

import (
	"encoding/csv"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
)

// Dataset bundles samples with their inferred geometry.
type Dataset struct {
	Samples []Sample
	Dim     int
	Classes int
}

// LoadCSV reads samples from rows of the form
//
//	id,frame|frame|...,token token ...
//
// where a frame is space-separated floats. A leading header row is skipped.
func LoadCSV(path string) (Dataset, error) {
	path = strings.TrimSpace(path)
	if path == "" {
		return Dataset{}, fmt.Errorf("dataset csv path is required")
	}

	f, err := os.Open(path)
	if err != nil {
		return Dataset{}, fmt.Errorf("open dataset csv %s: %w", path, err)
	}
	defer f.Close()

	reader := csv.NewReader(f)
	reader.FieldsPerRecord = -1

	var ds Dataset
	row := 0
	for {
		record, err := reader.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return Dataset{}, fmt.Errorf("read dataset csv row %d: %w", row+1, err)
		}
		row++

		if len(record) < 3 {
			return Dataset{}, fmt.Errorf("dataset csv row %d: got %d fields, want 3", row, len(record))
		}
		frames, err := parseFrames(record[1])
		if err != nil {
			if row == 1 && len(ds.Samples) == 0 {
				continue
			}
			return Dataset{}, fmt.Errorf("dataset csv row %d: %w", row, err)
		}
		target, err := parseTarget(record[2])
		if err != nil {
			return Dataset{}, fmt.Errorf("dataset csv row %d: %w", row, err)
		}
		id := strings.TrimSpace(record[0])
		if id == "" {
			id = fmt.Sprintf("row-%d", row)
		}

		if len(frames) == 0 {
			return Dataset{}, fmt.Errorf("dataset csv row %d: no frames", row)
		}
		width := len(frames[0])
		for i, frame := range frames {
			if len(frame) != width {
				return Dataset{}, fmt.Errorf("dataset csv row %d: frame %d has %d values, want %d", row, i, len(frame), width)
			}
		}
		if ds.Dim == 0 {
			ds.Dim = width
		} else if width != ds.Dim {
			return Dataset{}, fmt.Errorf("dataset csv row %d: frame width %d differs from %d", row, width, ds.Dim)
		}
		for _, tok := range target {
			if tok+1 > ds.Classes {
				ds.Classes = tok + 1
			}
		}

		ds.Samples = append(ds.Samples, Sample{ID: id, Frames: frames, Target: target})
	}

	if len(ds.Samples) == 0 {
		return Dataset{}, fmt.Errorf("dataset csv %s contains no samples", path)
	}
	return ds, nil
}

func parseFrames(field string) ([][]float64, error) {
	frames := make([][]float64, 0, 8)
	for i, chunk := range strings.Split(field, "|") {
		chunk = strings.TrimSpace(chunk)
		if chunk == "" {
			continue
		}
		fields := strings.Fields(chunk)
		frame := make([]float64, 0, len(fields))
		for _, raw := range fields {
			v, err := strconv.ParseFloat(raw, 64)
			if err != nil {
				return nil, fmt.Errorf("parse frame %d: %w", i, err)
			}
			frame = append(frame, v)
		}
		frames = append(frames, frame)
	}
	return frames, nil
}

func parseTarget(field string) ([]int, error) {
	fields := strings.Fields(strings.TrimSpace(field))
	target := make([]int, 0, len(fields))
	for _, raw := range fields {
		tok, err := strconv.Atoi(raw)
		if err != nil {
			return nil, fmt.Errorf("parse target token: %w", err)
		}
		if tok < 0 {
			return nil, fmt.Errorf("target token must be >= 0: got=%d", tok)
		}
		target = append(target, tok)
	}
	return target, nil
}
