// Package storage provides the persistence layer for the reference content
// store. It defines the batch Storage interface and implementations backed by
// a JSON file, a SQLite database, and memory.
package storage

import (
	"time"

	"github.com/arthur-debert/graphport/types"
)

// FormatVersion is written into the metadata of every persisted store.
const FormatVersion = "1.0"

// EntityRow is the persisted form of one entity.
type EntityRow struct {
	Type       string                        `json:"type"`
	Bundle     string                        `json:"bundle"`
	ID         string                        `json:"id"`
	RevisionID string                        `json:"revision_id,omitempty"`
	UUID       string                        `json:"uuid"`
	Fields     map[string][]types.FieldValue `json:"fields"`
	CreatedAt  time.Time                     `json:"created_at"`
	UpdatedAt  time.Time                     `json:"updated_at"`
}

// ToEntity converts the row to an entity. Field values are deep-copied so the
// caller may mutate the result freely.
func (r EntityRow) ToEntity() *types.Entity {
	return &types.Entity{
		Type:       r.Type,
		Bundle:     r.Bundle,
		ID:         r.ID,
		RevisionID: r.RevisionID,
		UUID:       r.UUID,
		Fields:     CloneFields(r.Fields),
	}
}

// RowFromEntity converts an entity to a row, keeping the given timestamps.
func RowFromEntity(e *types.Entity, created, updated time.Time) EntityRow {
	return EntityRow{
		Type:       e.Type,
		Bundle:     e.Bundle,
		ID:         e.ID,
		RevisionID: e.RevisionID,
		UUID:       e.UUID,
		Fields:     CloneFields(e.Fields),
		CreatedAt:  created,
		UpdatedAt:  updated,
	}
}

// CloneFields deep-copies a field map.
func CloneFields(fields map[string][]types.FieldValue) map[string][]types.FieldValue {
	if fields == nil {
		return nil
	}
	out := make(map[string][]types.FieldValue, len(fields))
	for name, values := range fields {
		copied := make([]types.FieldValue, len(values))
		for i, v := range values {
			copied[i] = v.Clone()
		}
		out[name] = copied
	}
	return out
}

// StoreData represents the complete data structure stored in the backend.
type StoreData struct {
	Entities []EntityRow `json:"entities"`

	// Sequences holds the last id issued per entity type, and per
	// "<type>:revision" for revision ids.
	Sequences map[string]int64 `json:"sequences"`

	Metadata Metadata `json:"metadata"`
}

// Metadata contains storage metadata.
type Metadata struct {
	Version   string    `json:"version"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// NewStoreData returns an empty store.
func NewStoreData() *StoreData {
	now := time.Now()
	return &StoreData{
		Entities:  []EntityRow{},
		Sequences: make(map[string]int64),
		Metadata: Metadata{
			Version:   FormatVersion,
			CreatedAt: now,
			UpdatedAt: now,
		},
	}
}

// Storage defines the low-level interface for batch persistence.
// The whole entity collection is loaded and saved as a single unit.
type Storage interface {
	// Load reads the entire store data from the backend
	Load() (*StoreData, error)

	// Save writes the entire store data to the backend
	Save(data *StoreData) error

	// Close releases any resources held by the storage
	Close() error
}
