package checkpoint

import (
	"encoding/json"
	"errors"

	"github.com/raphaelBarman/PyLaia/internal/nn"
)

const (
	CurrentSchemaVersion = 1
	CurrentCodecVersion  = 1
)

var ErrVersionMismatch = errors.New("checkpoint version mismatch")

// VersionedRecord captures schema and codec evolution for persistent data.
type VersionedRecord struct {
	SchemaVersion int `json:"schema_version"`
	CodecVersion  int `json:"codec_version"`
}

func currentVersion() VersionedRecord {
	return VersionedRecord{SchemaVersion: CurrentSchemaVersion, CodecVersion: CurrentCodecVersion}
}

// ModelState is a weights-only record, meant for deployment rather than
// resumption.
type ModelState struct {
	VersionedRecord
	Name   string               `json:"name"`
	Params map[string]nn.Tensor `json:"params"`
}

// TrainState is the full resumable state of a run: counters, weights,
// optimizer moments, every persisted condition, and the metric history. A
// loaded TrainState reproduces training decisions exactly, not just weights.
type TrainState struct {
	VersionedRecord
	Name       string                     `json:"name"`
	Epoch      int64                      `json:"epoch"`
	Iteration  int64                      `json:"iteration"`
	Seed       int64                      `json:"seed"`
	Params     map[string]nn.Tensor       `json:"params"`
	Optimizer  nn.OptimizerState          `json:"optimizer"`
	Conditions map[string]json.RawMessage `json:"conditions"`
	Metrics    map[string][]float64       `json:"metrics"`
}

func EncodeModel(s ModelState) ([]byte, error) {
	return json.Marshal(s)
}

func DecodeModel(data []byte) (ModelState, error) {
	var state ModelState
	if err := json.Unmarshal(data, &state); err != nil {
		return ModelState{}, err
	}
	if err := checkVersion(state.VersionedRecord); err != nil {
		return ModelState{}, err
	}
	return state, nil
}

func EncodeState(s TrainState) ([]byte, error) {
	return json.Marshal(s)
}

func DecodeState(data []byte) (TrainState, error) {
	var state TrainState
	if err := json.Unmarshal(data, &state); err != nil {
		return TrainState{}, err
	}
	if err := checkVersion(state.VersionedRecord); err != nil {
		return TrainState{}, err
	}
	return state, nil
}

func checkVersion(v VersionedRecord) error {
	if v.SchemaVersion != CurrentSchemaVersion || v.CodecVersion != CurrentCodecVersion {
		return ErrVersionMismatch
	}
	return nil
}
