package checkpoint

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/raphaelBarman/PyLaia/internal/nn"
)

const fileExt = ".ckpt"

// Saver persists one record per call and reports the path it wrote. The
// suffix tags the record, typically with the epoch or a label like
// "lowest-valid-cer".
type Saver interface {
	Save(suffix string) (string, error)
}

// RecordName is the file name for a logical name and suffix.
func RecordName(name, suffix string) string {
	if suffix == "" {
		return name + fileExt
	}
	return name + "-" + suffix + fileExt
}

// writeRecord lands data at path without ever exposing a partial file: the
// bytes go to a temp file, reach disk, and only then take the final name. A
// failed write leaves any existing record at path untouched.
func writeRecord(path string, data []byte) error {
	tmp := path + ".tmp"
	f, err := os.OpenFile(tmp, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0o644)
	if err != nil {
		return fmt.Errorf("create %s: %w", tmp, err)
	}
	if _, err := f.Write(data); err != nil {
		f.Close()
		os.Remove(tmp)
		return fmt.Errorf("write %s: %w", tmp, err)
	}
	if err := f.Sync(); err != nil {
		f.Close()
		os.Remove(tmp)
		return fmt.Errorf("sync %s: %w", tmp, err)
	}
	if err := f.Close(); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("close %s: %w", tmp, err)
	}
	if err := os.Rename(tmp, path); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("rename %s: %w", path, err)
	}
	return nil
}

// ModelSaver snapshots live model weights into weights-only records.
type ModelSaver struct {
	dir    string
	name   string
	params *nn.Parameters
}

func NewModelSaver(dir, name string, params *nn.Parameters) (*ModelSaver, error) {
	if strings.TrimSpace(dir) == "" {
		return nil, fmt.Errorf("checkpoint directory is required")
	}
	if strings.TrimSpace(name) == "" {
		return nil, fmt.Errorf("checkpoint name is required")
	}
	if params == nil {
		return nil, fmt.Errorf("parameters are required")
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create checkpoint directory: %w", err)
	}
	return &ModelSaver{dir: dir, name: name, params: params}, nil
}

func (s *ModelSaver) Save(suffix string) (string, error) {
	state := ModelState{
		VersionedRecord: currentVersion(),
		Name:            s.name,
		Params:          s.params.State(),
	}
	data, err := EncodeModel(state)
	if err != nil {
		return "", fmt.Errorf("encode model checkpoint: %w", err)
	}
	path := filepath.Join(s.dir, RecordName(s.name, suffix))
	if err := writeRecord(path, data); err != nil {
		return "", fmt.Errorf("save model checkpoint: %w", err)
	}
	return path, nil
}

// StateSource yields the current resumable state. The saver stamps the
// record version, so sources leave VersionedRecord zero.
type StateSource interface {
	TrainState() (TrainState, error)
}

// StateSaver snapshots a source's full resumable state.
type StateSaver struct {
	dir    string
	name   string
	source StateSource
}

func NewStateSaver(dir, name string, source StateSource) (*StateSaver, error) {
	if strings.TrimSpace(dir) == "" {
		return nil, fmt.Errorf("checkpoint directory is required")
	}
	if strings.TrimSpace(name) == "" {
		return nil, fmt.Errorf("checkpoint name is required")
	}
	if source == nil {
		return nil, fmt.Errorf("state source is required")
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create checkpoint directory: %w", err)
	}
	return &StateSaver{dir: dir, name: name, source: source}, nil
}

func (s *StateSaver) Save(suffix string) (string, error) {
	state, err := s.source.TrainState()
	if err != nil {
		return "", fmt.Errorf("collect state: %w", err)
	}
	state.VersionedRecord = currentVersion()
	if state.Name == "" {
		state.Name = s.name
	}
	data, err := EncodeState(state)
	if err != nil {
		return "", fmt.Errorf("encode state checkpoint: %w", err)
	}
	path := filepath.Join(s.dir, RecordName(s.name, suffix))
	if err := writeRecord(path, data); err != nil {
		return "", fmt.Errorf("save state checkpoint: %w", err)
	}
	return path, nil
}
