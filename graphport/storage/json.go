package storage

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/gofrs/flock"
)

// lockTimeout bounds how long a JSON storage waits for the file lock.
const lockTimeout = 3 * time.Second

// JSONStorage implements Storage using a single JSON file guarded by a
// sibling ".lock" file.
type JSONStorage struct {
	filePath string
	fileLock *flock.Flock
	mu       sync.RWMutex
}

// NewJSONStorage creates a new JSON file-based storage implementation.
func NewJSONStorage(filePath string) *JSONStorage {
	return &JSONStorage{
		filePath: filePath,
		fileLock: flock.New(filePath + ".lock"),
	}
}

// Path returns the data file path.
func (s *JSONStorage) Path() string {
	return s.filePath
}

// Load reads the store data. A missing or empty file yields an empty store.
func (s *JSONStorage) Load() (*StoreData, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	unlock, err := s.lock()
	if err != nil {
		return nil, err
	}
	defer unlock()

	data, err := os.ReadFile(s.filePath)
	if os.IsNotExist(err) {
		return NewStoreData(), nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read file: %w", err)
	}
	if len(data) == 0 {
		return NewStoreData(), nil
	}

	var store StoreData
	if err := json.Unmarshal(data, &store); err != nil {
		return nil, fmt.Errorf("failed to parse JSON: %w", err)
	}
	if store.Sequences == nil {
		store.Sequences = make(map[string]int64)
	}
	return &store, nil
}

// Save writes the store data atomically (temp file + rename).
func (s *JSONStorage) Save(store *StoreData) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	unlock, err := s.lock()
	if err != nil {
		return err
	}
	defer unlock()

	store.Metadata.UpdatedAt = time.Now()
	data, err := json.MarshalIndent(store, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal JSON: %w", err)
	}

	if err := os.MkdirAll(filepath.Dir(s.filePath), 0755); err != nil {
		return fmt.Errorf("failed to create directory: %w", err)
	}

	tmpFile := s.filePath + ".tmp"
	if err := os.WriteFile(tmpFile, data, 0644); err != nil {
		return fmt.Errorf("failed to write temp file: %w", err)
	}
	if err := os.Rename(tmpFile, s.filePath); err != nil {
		_ = os.Remove(tmpFile)
		return fmt.Errorf("failed to rename file: %w", err)
	}
	return nil
}

// Close removes the lock file.
func (s *JSONStorage) Close() error {
	_ = os.Remove(s.filePath + ".lock")
	return nil
}

func (s *JSONStorage) lock() (func(), error) {
	if err := os.MkdirAll(filepath.Dir(s.filePath), 0755); err != nil {
		return nil, fmt.Errorf("failed to create directory: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), lockTimeout)
	defer cancel()

	locked, err := s.fileLock.TryLockContext(ctx, 100*time.Millisecond)
	if err != nil {
		return nil, fmt.Errorf("failed to acquire lock: %w", err)
	}
	if !locked {
		return nil, fmt.Errorf("could not acquire file lock")
	}
	return func() { _ = s.fileLock.Unlock() }, nil
}
