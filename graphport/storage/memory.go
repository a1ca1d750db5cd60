package storage

import "sync"

// MemoryStorage keeps store data in memory. Load and Save copy the entity
// slice so callers never share rows with the storage.
type MemoryStorage struct {
	mu   sync.Mutex
	data *StoreData
}

// NewMemoryStorage creates an empty in-memory storage.
func NewMemoryStorage() *MemoryStorage {
	return &MemoryStorage{data: NewStoreData()}
}

// Load implements Storage.
func (s *MemoryStorage) Load() (*StoreData, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return copyData(s.data), nil
}

// Save implements Storage.
func (s *MemoryStorage) Save(data *StoreData) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.data = copyData(data)
	return nil
}

// Close implements Storage.
func (s *MemoryStorage) Close() error {
	return nil
}

func copyData(data *StoreData) *StoreData {
	out := &StoreData{
		Entities:  make([]EntityRow, len(data.Entities)),
		Sequences: make(map[string]int64, len(data.Sequences)),
		Metadata:  data.Metadata,
	}
	for i, row := range data.Entities {
		row.Fields = CloneFields(row.Fields)
		out.Entities[i] = row
	}
	for k, v := range data.Sequences {
		out.Sequences[k] = v
	}
	return out
}
