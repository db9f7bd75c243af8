package storage

import (
	"encoding/json"
	"errors"

	"github.com/raphaelBarman/PyLaia/internal/checkpoint"
)

const (
	CurrentSchemaVersion = 1
	CurrentCodecVersion  = 1
)

var ErrVersionMismatch = errors.New("run record version mismatch")

func EncodeRun(r RunRecord) ([]byte, error) {
	return json.Marshal(r)
}

func DecodeRun(data []byte) (RunRecord, error) {
	var record RunRecord
	if err := json.Unmarshal(data, &record); err != nil {
		return RunRecord{}, err
	}
	if err := checkVersion(record.VersionedRecord); err != nil {
		return RunRecord{}, err
	}
	return record, nil
}

func EncodeMetricHistory(history []float64) ([]byte, error) {
	return json.Marshal(history)
}

func DecodeMetricHistory(data []byte) ([]float64, error) {
	var history []float64
	if err := json.Unmarshal(data, &history); err != nil {
		return nil, err
	}
	return history, nil
}

func checkVersion(v checkpoint.VersionedRecord) error {
	if v.SchemaVersion != CurrentSchemaVersion || v.CodecVersion != CurrentCodecVersion {
		return ErrVersionMismatch
	}
	return nil
}
