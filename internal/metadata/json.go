package metadata

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/FranLegon/syncly/internal/logger"
	"github.com/FranLegon/syncly/internal/model"
)

// JSONFileName is the default file name of the flat metadata file.
const JSONFileName = "metadata.json"

// JSONStore keeps every record of every owner in a single JSON array on
// disk. Find and List only see the records of the store's owner.
type JSONStore struct {
	path  string
	owner string

	mu      sync.Mutex
	records []*model.UploadMetadata
}

// OpenJSON loads the file at path. A missing file is an empty store. A file
// that cannot be parsed is moved aside to path+".corrupt" and the store
// starts empty.
func OpenJSON(path, owner string) (*JSONStore, error) {
	s := &JSONStore{path: path, owner: owner}

	records, err := readJSON(path)
	switch {
	case err == nil:
		s.records = records
	case errors.Is(err, ErrCorrupt):
		logger.Error("%v; starting with empty metadata", err)
		if rerr := os.Rename(path, path+".corrupt"); rerr != nil {
			return nil, fmt.Errorf("failed to move corrupt metadata aside: %w", rerr)
		}
		logger.Warning("Corrupt metadata kept at %s", path+".corrupt")
	default:
		return nil, err
	}
	return s, nil
}

func readJSON(path string) ([]*model.UploadMetadata, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to read metadata: %w", err)
	}
	if len(data) == 0 {
		return nil, nil
	}

	var records []*model.UploadMetadata
	if err := json.Unmarshal(data, &records); err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrCorrupt, path, err)
	}
	return records, nil
}

func (s *JSONStore) Append(ctx context.Context, m *model.UploadMetadata) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	records := append(s.records, m)
	if err := s.write(records); err != nil {
		return err
	}
	s.records = records
	return nil
}

func (s *JSONStore) Find(ctx context.Context, fileName string) (*model.UploadMetadata, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for i := len(s.records) - 1; i >= 0; i-- {
		if s.records[i].Owner == s.owner && s.records[i].FileName == fileName {
			return s.records[i], nil
		}
	}
	return nil, fmt.Errorf("%s: %w", fileName, ErrNotFound)
}

func (s *JSONStore) List(ctx context.Context) ([]*model.UploadMetadata, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]*model.UploadMetadata, 0, len(s.records))
	for _, r := range s.records {
		if r.Owner == s.owner {
			out = append(out, r)
		}
	}
	return out, nil
}

func (s *JSONStore) Close() error {
	return nil
}

// write replaces the file atomically via a temp file in the same directory.
func (s *JSONStore) write(records []*model.UploadMetadata) error {
	data, err := json.MarshalIndent(records, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal metadata: %w", err)
	}

	dir := filepath.Dir(s.path)
	if err := os.MkdirAll(dir, 0700); err != nil {
		return fmt.Errorf("failed to create metadata directory: %w", err)
	}
	tmp, err := os.CreateTemp(dir, filepath.Base(s.path)+".*.tmp")
	if err != nil {
		return fmt.Errorf("failed to create temp metadata file: %w", err)
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("failed to write metadata: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("failed to write metadata: %w", err)
	}
	if err := os.Rename(tmp.Name(), s.path); err != nil {
		return fmt.Errorf("failed to replace metadata: %w", err)
	}
	return nil
}
