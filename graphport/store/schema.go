package store

import (
	"fmt"
	"sort"
	"sync"

	"github.com/arthur-debert/graphport/types"
)

// Schema is an in-memory registry of entity types and bundle field
// definitions. It implements types.Schema.
type Schema struct {
	mu      sync.RWMutex
	types   map[string]types.EntityTypeInfo
	bundles map[string]map[string][]types.FieldDefinition
}

// NewSchema creates an empty schema.
func NewSchema() *Schema {
	return &Schema{
		types:   make(map[string]types.EntityTypeInfo),
		bundles: make(map[string]map[string][]types.FieldDefinition),
	}
}

// RegisterType adds or replaces an entity type.
func (s *Schema) RegisterType(info types.EntityTypeInfo) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.types[info.Name] = info
}

// RegisterBundle sets the field definitions of a bundle. The entity type must
// be registered first and must not be a configuration type.
func (s *Schema) RegisterBundle(entityType, bundle string, defs ...types.FieldDefinition) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	info, ok := s.types[entityType]
	if !ok {
		return fmt.Errorf("entity type %q: %w", entityType, types.ErrNotFound)
	}
	if info.Config {
		return fmt.Errorf("entity type %q is a configuration type and has no bundles", entityType)
	}
	if s.bundles[entityType] == nil {
		s.bundles[entityType] = make(map[string][]types.FieldDefinition)
	}
	s.bundles[entityType][bundle] = append([]types.FieldDefinition(nil), defs...)
	return nil
}

// EntityType implements types.Schema.
func (s *Schema) EntityType(entityType string) (types.EntityTypeInfo, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	info, ok := s.types[entityType]
	if !ok {
		return types.EntityTypeInfo{}, fmt.Errorf("entity type %q: %w", entityType, types.ErrNotFound)
	}
	return info, nil
}

// FieldDefinitions implements types.Schema. Unregistered bundles of a content
// type have no fields.
func (s *Schema) FieldDefinitions(entityType, bundle string) ([]types.FieldDefinition, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	info, ok := s.types[entityType]
	if !ok {
		return nil, fmt.Errorf("entity type %q: %w", entityType, types.ErrNotFound)
	}
	if info.Config {
		return nil, types.ErrNoFieldSchema
	}
	return append([]types.FieldDefinition(nil), s.bundles[entityType][bundle]...), nil
}

// TypeNames returns the registered entity type names in sorted order.
func (s *Schema) TypeNames() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()

	names := make([]string, 0, len(s.types))
	for name := range s.types {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// DefaultSchema returns the content model used by the CLI and the fixtures:
// articles and pages with images, tags, paragraphs and an author, plus the
// configuration types their bundle fields point to.
func DefaultSchema() *Schema {
	s := NewSchema()

	s.RegisterType(types.EntityTypeInfo{
		Name:         "node",
		Keys:         types.EntityKeys{ID: "nid", Revision: "vid", UUID: "uuid", Bundle: "type", Label: "title"},
		Revisionable: true,
	})
	s.RegisterType(types.EntityTypeInfo{
		Name: "file",
		Keys: types.EntityKeys{ID: "fid", UUID: "uuid", Label: "filename"},
	})
	s.RegisterType(types.EntityTypeInfo{
		Name:         "paragraph",
		Keys:         types.EntityKeys{ID: "id", Revision: "revision_id", UUID: "uuid", Bundle: "type"},
		Revisionable: true,
	})
	s.RegisterType(types.EntityTypeInfo{
		Name: "taxonomy_term",
		Keys: types.EntityKeys{ID: "tid", UUID: "uuid", Bundle: "vid", Label: "name"},
	})
	s.RegisterType(types.EntityTypeInfo{
		Name: "user",
		Keys: types.EntityKeys{ID: "uid", UUID: "uuid", Label: "name"},
	})
	for _, config := range []string{"node_type", "paragraphs_type", "taxonomy_vocabulary", "filter_format"} {
		s.RegisterType(types.EntityTypeInfo{
			Name:   config,
			Keys:   types.EntityKeys{ID: "id", Label: "label"},
			Config: true,
		})
	}

	common := []types.FieldDefinition{
		{Name: "title", Type: "string"},
		{Name: "type", Type: "entity_reference", TargetType: "node_type"},
		{Name: "uid", Type: "entity_reference", TargetType: "user"},
		{Name: "created", Type: "created"},
		{Name: "changed", Type: "changed"},
		{Name: "path", Type: "path"},
		{Name: "body", Type: "text_with_summary"},
		{Name: "body_format", Type: "entity_reference", TargetType: "filter_format"},
	}
	tags := types.FieldDefinition{Name: "field_tags", Type: "entity_reference", TargetType: "taxonomy_term", Multiple: true}
	related := types.FieldDefinition{Name: "field_related", Type: "entity_reference", TargetType: "node", Multiple: true}
	article := append(append([]types.FieldDefinition(nil), common...),
		types.FieldDefinition{Name: "field_image", Type: "image", TargetType: "file"},
		tags,
		types.FieldDefinition{Name: "field_paragraphs", Type: "entity_reference_revisions", TargetType: "paragraph", Multiple: true},
		related,
	)
	page := append(append([]types.FieldDefinition(nil), common...), tags, related)
	_ = s.RegisterBundle("node", "article", article...)
	_ = s.RegisterBundle("node", "page", page...)

	_ = s.RegisterBundle("file", "file",
		types.FieldDefinition{Name: "filename", Type: "string"},
		types.FieldDefinition{Name: "uri", Type: "uri"},
		types.FieldDefinition{Name: "filemime", Type: "string"},
		types.FieldDefinition{Name: "uid", Type: "entity_reference", TargetType: "user"},
	)

	_ = s.RegisterBundle("paragraph", "text",
		types.FieldDefinition{Name: "type", Type: "entity_reference", TargetType: "paragraphs_type"},
		types.FieldDefinition{Name: "field_text", Type: "text_long"},
		types.FieldDefinition{Name: "field_media", Type: "image", TargetType: "file"},
	)

	_ = s.RegisterBundle("taxonomy_term", "tags",
		types.FieldDefinition{Name: "name", Type: "string"},
		types.FieldDefinition{Name: "vid", Type: "entity_reference", TargetType: "taxonomy_vocabulary"},
		types.FieldDefinition{Name: "parent", Type: "entity_reference", TargetType: "taxonomy_term", Multiple: true},
	)

	_ = s.RegisterBundle("user", "user",
		types.FieldDefinition{Name: "name", Type: "string"},
		types.FieldDefinition{Name: "mail", Type: "email"},
	)
	return s
}
