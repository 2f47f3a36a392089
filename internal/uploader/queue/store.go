package queue

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/afero"
)

// Store persists the ordered pending-upload list as a single JSON document
// that is replaced atomically on every mutation: the new content is written
// to a temporary sibling and renamed over the old file, so a reader (or a
// crash) never observes a partial write.
type Store struct {
	fs   afero.Fs
	path string
}

func NewStore(fs afero.Fs, path string) *Store {
	return &Store{fs: fs, path: path}
}

// Load returns the persisted list in insertion order. A missing file is an
// empty queue, not an error.
func (s *Store) Load() ([]PendingUpload, error) {
	b, err := afero.ReadFile(s.fs, s.path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("read queue state: %w", err)
	}

	var items []PendingUpload
	if err := json.Unmarshal(b, &items); err != nil {
		return nil, fmt.Errorf("decode queue state: %w", err)
	}
	return items, nil
}

// Save atomically replaces the persisted list.
func (s *Store) Save(items []PendingUpload) error {
	if items == nil {
		items = []PendingUpload{}
	}

	b, err := json.MarshalIndent(items, "", "  ")
	if err != nil {
		return fmt.Errorf("encode queue state: %w", err)
	}

	if err := s.fs.MkdirAll(filepath.Dir(s.path), 0o770); err != nil {
		return fmt.Errorf("create queue dir: %w", err)
	}

	tmp := s.path + ".tmp"
	if err := afero.WriteFile(s.fs, tmp, b, 0o600); err != nil {
		return fmt.Errorf("write queue state: %w", err)
	}
	if err := s.fs.Rename(tmp, s.path); err != nil {
		return fmt.Errorf("replace queue state: %w", err)
	}
	return nil
}
