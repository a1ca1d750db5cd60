package types

import (
	"sort"
)

// Entity is a unit of content as loaded from, or created in, a content store.
// Fields holds every field of the entity including base fields such as the
// primary key, uuid and bundle, keyed by field name.
type Entity struct {
	Type       string                  // Entity type, e.g. "node", "file", "paragraph"
	Bundle     string                  // Sub-type, e.g. "article"
	ID         string                  // Store-local primary key
	RevisionID string                  // Store-local revision id, empty when not revisionable
	UUID       string                  // Store-local uuid
	Fields     map[string][]FieldValue // All field values, base fields included
}

// FieldNames returns the entity's field names in sorted order so that callers
// iterating fields get a deterministic sequence.
func (e *Entity) FieldNames() []string {
	names := make([]string, 0, len(e.Fields))
	for name := range e.Fields {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Get returns the values of a field, nil when the field is absent.
func (e *Entity) Get(field string) []FieldValue {
	if e.Fields == nil {
		return nil
	}
	return e.Fields[field]
}

// Set replaces the values of a field.
func (e *Entity) Set(field string, values ...FieldValue) {
	if e.Fields == nil {
		e.Fields = make(map[string][]FieldValue)
	}
	e.Fields[field] = values
}

// Label returns the first scalar value of the given label field, or empty.
func (e *Entity) Label(labelField string) string {
	values := e.Get(labelField)
	if len(values) == 0 {
		return ""
	}
	return values[0].String()
}

// FieldDefinition describes one field of an entity bundle.
type FieldDefinition struct {
	Name string // Machine name of the field
	Type string // Field type, e.g. "string", "entity_reference", "image"

	// TargetType is set for reference-typed fields and names the entity type
	// the field points to. Empty for every other field.
	TargetType string

	// Multiple reports whether the field accepts more than one value.
	Multiple bool
}

// IsReference reports whether the field references other entities.
func (d FieldDefinition) IsReference() bool {
	return d.TargetType != ""
}

// EntityKeys names the fields that carry an entity type's identity.
type EntityKeys struct {
	ID       string // Primary key field, e.g. "nid", "fid", "id"
	Revision string // Revision id field, e.g. "vid"; empty when not revisionable
	UUID     string
	Bundle   string // Field holding the bundle, e.g. "type"
	Label    string // Field holding the display name, e.g. "title"
}

// EntityTypeInfo describes an entity type known to a content store.
type EntityTypeInfo struct {
	Name         string
	Keys         EntityKeys
	Revisionable bool

	// Config marks configuration entities: they have no per-bundle field
	// schema and are referenced by value rather than exported.
	Config bool
}

// NodeRef identifies an entity by type and local id.
type NodeRef struct {
	Type string `yaml:"type" json:"type"`
	ID   string `yaml:"id" json:"id"`
}
