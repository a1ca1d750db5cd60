package types

import (
	"context"
	"io"
)

// Schema exposes entity type and field metadata of a content store.
type Schema interface {
	// EntityType returns the description of an entity type or ErrNotFound.
	EntityType(entityType string) (EntityTypeInfo, error)

	// FieldDefinitions returns the field definitions of a bundle.
	// Configuration entity types return ErrNoFieldSchema.
	FieldDefinitions(entityType, bundle string) ([]FieldDefinition, error)
}

// Store is the content store an export reads from and an import writes to.
type Store interface {
	Schema

	// Load returns the entity or an error wrapping ErrNotFound.
	Load(ctx context.Context, entityType, id string) (*Entity, error)

	// Create builds a new, unsaved entity from prepared field values. The
	// store assigns ids on Save.
	Create(ctx context.Context, entityType string, fields map[string][]FieldValue) (*Entity, error)

	// Save persists the entity, assigning ID, RevisionID and UUID when empty.
	Save(ctx context.Context, entity *Entity) error
}

// Namer produces display names for dependency tree nodes.
type Namer interface {
	Name(entity *Entity, info EntityTypeInfo) string
}

// NamerFunc adapts a function to Namer.
type NamerFunc func(entity *Entity, info EntityTypeInfo) string

// Name implements Namer.
func (f NamerFunc) Name(entity *Entity, info EntityTypeInfo) string {
	return f(entity, info)
}

// AssetStore reads and writes the binary payloads of file entities,
// addressed by stream URIs such as "public://images/a.png".
type AssetStore interface {
	// LocalPath returns the filesystem path backing a URI.
	LocalPath(uri string) (string, error)

	// Open opens the payload behind a URI.
	Open(uri string) (io.ReadCloser, error)

	// Save writes data to the URI, creating directories as needed, and
	// returns the URI the data was stored under.
	Save(uri string, data io.Reader) (string, error)
}
