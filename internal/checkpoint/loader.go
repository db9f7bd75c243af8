package checkpoint

import (
	"fmt"
	"os"
)

// Loading reads records and nothing else: it never touches the retention
// rotation, so resuming from a record cannot evict it.

func LoadModel(path string) (ModelState, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return ModelState{}, fmt.Errorf("read model checkpoint: %w", err)
	}
	state, err := DecodeModel(data)
	if err != nil {
		return ModelState{}, fmt.Errorf("decode model checkpoint %s: %w", path, err)
	}
	return state, nil
}

func LoadState(path string) (TrainState, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return TrainState{}, fmt.Errorf("read state checkpoint: %w", err)
	}
	state, err := DecodeState(data)
	if err != nil {
		return TrainState{}, fmt.Errorf("decode state checkpoint %s: %w", path, err)
	}
	return state, nil
}
