// Package store is a reference content store: a schema registry plus entity
// persistence through a storage backend. Exports read from it and imports
// write into it through the types.Store contract.
package store

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strconv"
	"time"

	"github.com/arthur-debert/graphport/graphport/storage"
	"github.com/arthur-debert/graphport/types"
	"github.com/google/uuid"
)

// Store implements types.Store on top of a storage.Storage backend. The whole
// data set is held in memory and written back on every Save.
type Store struct {
	*Schema

	backend storage.Storage
	locks   *storage.LockManager
	data    *storage.StoreData
	index   map[types.NodeRef]int
	now     func() time.Time
	logger  *slog.Logger
}

// Option configures a Store.
type Option func(*Store)

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(s *Store) { s.logger = l }
}

// WithClock overrides the time source used for created/changed stamps.
func WithClock(now func() time.Time) Option {
	return func(s *Store) { s.now = now }
}

// New opens a store over the backend, loading its current data.
func New(schema *Schema, backend storage.Storage, opts ...Option) (*Store, error) {
	s := &Store{
		Schema:  schema,
		backend: backend,
		locks:   storage.NewLockManager(),
		now:     time.Now,
		logger:  slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}

	data, err := backend.Load()
	if err != nil {
		return nil, fmt.Errorf("failed to load store: %w", err)
	}
	s.data = data
	s.reindex()
	return s, nil
}

// NewMemory creates a store backed by memory, for tests and dry runs.
func NewMemory(schema *Schema) *Store {
	s, _ := New(schema, storage.NewMemoryStorage())
	return s
}

// Close releases the storage backend.
func (s *Store) Close() error {
	return s.backend.Close()
}

func (s *Store) reindex() {
	s.index = make(map[types.NodeRef]int, len(s.data.Entities))
	for i, row := range s.data.Entities {
		s.index[types.NodeRef{Type: row.Type, ID: row.ID}] = i
	}
}

// Load implements types.Store.
func (s *Store) Load(ctx context.Context, entityType, id string) (*types.Entity, error) {
	var entity *types.Entity
	err := s.locks.Execute(storage.ReadOperation, func() error {
		pos, ok := s.index[types.NodeRef{Type: entityType, ID: id}]
		if !ok {
			return fmt.Errorf("%s %s: %w", entityType, id, types.ErrNotFound)
		}
		entity = s.data.Entities[pos].ToEntity()
		return nil
	})
	return entity, err
}

// Create implements types.Store. The bundle is read from the type's bundle
// key; types without one use the type name. A uuid present in the fields is
// kept.
func (s *Store) Create(ctx context.Context, entityType string, fields map[string][]types.FieldValue) (*types.Entity, error) {
	info, err := s.EntityType(entityType)
	if err != nil {
		return nil, err
	}
	if info.Config {
		return nil, fmt.Errorf("cannot create configuration entity %q", entityType)
	}

	entity := &types.Entity{
		Type:   entityType,
		Bundle: entityType,
		Fields: storage.CloneFields(fields),
	}
	if entity.Fields == nil {
		entity.Fields = make(map[string][]types.FieldValue)
	}
	if info.Keys.Bundle != "" {
		if values := entity.Get(info.Keys.Bundle); len(values) > 0 {
			entity.Bundle = values[0].String()
		}
	}
	if info.Keys.UUID != "" {
		if values := entity.Get(info.Keys.UUID); len(values) > 0 {
			entity.UUID = values[0].String()
		}
	}
	return entity, nil
}

// Save implements types.Store. New entities get the next id of their type;
// revisionable entities get a new revision id on every save.
func (s *Store) Save(ctx context.Context, entity *types.Entity) error {
	info, err := s.EntityType(entity.Type)
	if err != nil {
		return err
	}

	return s.locks.Execute(storage.WriteOperation, func() error {
		now := s.now()
		created := now

		if entity.ID == "" {
			entity.ID = s.nextID(entity.Type)
		} else if pos, ok := s.index[types.NodeRef{Type: entity.Type, ID: entity.ID}]; ok {
			created = s.data.Entities[pos].CreatedAt
		} else if n, err := strconv.ParseInt(entity.ID, 10, 64); err == nil && n > s.data.Sequences[entity.Type] {
			s.data.Sequences[entity.Type] = n
		}
		if info.Revisionable {
			entity.RevisionID = s.nextID(entity.Type + ":revision")
		}
		if entity.UUID == "" {
			entity.UUID = uuid.New().String()
		}

		s.stampKeys(entity, info, now)

		row := storage.RowFromEntity(entity, created, now)
		ref := types.NodeRef{Type: entity.Type, ID: entity.ID}
		if pos, ok := s.index[ref]; ok {
			s.data.Entities[pos] = row
		} else {
			s.index[ref] = len(s.data.Entities)
			s.data.Entities = append(s.data.Entities, row)
		}

		if err := s.backend.Save(s.data); err != nil {
			return fmt.Errorf("failed to persist %s %s: %w", entity.Type, entity.ID, err)
		}
		s.logger.Debug("saved entity", "type", entity.Type, "id", entity.ID, "bundle", entity.Bundle)
		return nil
	})
}

// stampKeys mirrors the entity's identity into its key fields and fills in
// missing timestamps.
func (s *Store) stampKeys(entity *types.Entity, info types.EntityTypeInfo, now time.Time) {
	if info.Keys.ID != "" {
		entity.Set(info.Keys.ID, types.Value(entity.ID))
	}
	if info.Keys.Revision != "" && entity.RevisionID != "" {
		entity.Set(info.Keys.Revision, types.Value(entity.RevisionID))
	}
	if info.Keys.UUID != "" {
		entity.Set(info.Keys.UUID, types.Value(entity.UUID))
	}
	stamp := strconv.FormatInt(now.Unix(), 10)
	if len(entity.Get("created")) == 0 {
		entity.Set("created", types.Value(stamp))
	}
	entity.Set("changed", types.Value(stamp))
}

func (s *Store) nextID(sequence string) string {
	s.data.Sequences[sequence]++
	return strconv.FormatInt(s.data.Sequences[sequence], 10)
}

// List returns every entity of a type in id order.
func (s *Store) List(entityType string) []*types.Entity {
	var out []*types.Entity
	_ = s.locks.Execute(storage.ReadOperation, func() error {
		for _, row := range s.data.Entities {
			if row.Type == entityType {
				out = append(out, row.ToEntity())
			}
		}
		return nil
	})
	sort.Slice(out, func(i, j int) bool {
		a, _ := strconv.Atoi(out[i].ID)
		b, _ := strconv.Atoi(out[j].ID)
		return a < b
	})
	return out
}

// Count returns the number of stored entities of a type, or of all types when
// entityType is empty.
func (s *Store) Count(entityType string) int {
	count := 0
	_ = s.locks.Execute(storage.ReadOperation, func() error {
		for _, row := range s.data.Entities {
			if entityType == "" || row.Type == entityType {
				count++
			}
		}
		return nil
	})
	return count
}
