package checkpoint

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/Kokkini/MimicRL/util"
)

// FileStore keeps the checkpoint in one JSON file. Saves are atomic, so a
// crash mid write never corrupts the previous checkpoint.
type FileStore struct {
	path string
}

func NewFileStore(path string) *FileStore {
	return &FileStore{path: path}
}

func (s *FileStore) Save(cp *Checkpoint) error {
	if err := cp.validate(); err != nil {
		return err
	}
	data, err := json.MarshalIndent(cp, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal checkpoint: %w", err)
	}
	return util.WriteFileAtomic(s.path, data, 0644)
}

func (s *FileStore) Load() (*Checkpoint, error) {
	data, err := os.ReadFile(s.path)
	if os.IsNotExist(err) {
		return nil, ErrNoCheckpoint
	}
	if err != nil {
		return nil, fmt.Errorf("read checkpoint: %w", err)
	}
	cp := &Checkpoint{}
	if err := json.Unmarshal(data, cp); err != nil {
		return nil, fmt.Errorf("decode checkpoint: %w", err)
	}
	if err := cp.validate(); err != nil {
		return nil, err
	}
	return cp, nil
}
