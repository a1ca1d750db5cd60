package types

// PortableID is a store-independent identifier derived from an entity type
// and local id. It replaces local primary keys inside exported records.
type PortableID string

// DependencyNode is one entity in an export dependency tree.
type DependencyNode struct {
	ID           string           `yaml:"id" json:"id"`
	Type         string           `yaml:"type" json:"type"`
	Bundle       string           `yaml:"bundle" json:"bundle"`
	Name         string           `yaml:"name" json:"name"`
	Dependencies []DependencyNode `yaml:"dependencies,omitempty" json:"dependencies,omitempty"`

	// Collapsed lists references to entities that were already expanded on
	// an earlier path. Edges that close a cycle are not listed.
	Collapsed []NodeRef `yaml:"collapsed,omitempty" json:"collapsed,omitempty"`
}

// Ref returns the node's type/id pair.
func (n *DependencyNode) Ref() NodeRef {
	return NodeRef{Type: n.Type, ID: n.ID}
}

// Count returns the number of nodes in the subtree rooted at n.
func (n *DependencyNode) Count() int {
	total := 1
	for i := range n.Dependencies {
		total += n.Dependencies[i].Count()
	}
	return total
}

// ExportRecord is the portable form of one entity inside an archive.
type ExportRecord struct {
	EntityType     string                  `yaml:"entity_type" json:"entity_type"`
	EntityID       PortableID              `yaml:"entity_id" json:"entity_id"`
	Level          int                     `yaml:"level" json:"level"`
	Representation map[string][]FieldValue `yaml:"representation" json:"representation"`
}

// First returns the first value of a representation field.
func (r *ExportRecord) First(field string) (FieldValue, bool) {
	values := r.Representation[field]
	if len(values) == 0 {
		return FieldValue{}, false
	}
	return values[0], true
}

// LocalKey is the identity a destination store assigned to an imported
// entity. RevisionID is set only for revisioned (composite) entities.
type LocalKey struct {
	ID         string `json:"id"`
	RevisionID string `json:"revision_id,omitempty"`
}

// Revisioned reports whether the key is an {id, revision_id} pair.
func (k LocalKey) Revisioned() bool {
	return k.RevisionID != ""
}

// KeyLookup resolves portable identifiers to keys created so far in an
// import run.
type KeyLookup interface {
	Lookup(id PortableID) (LocalKey, bool)
}

// Visited tracks the entities a graph walk has already expanded.
type Visited map[NodeRef]bool

// Has reports whether the entity was marked.
func (v Visited) Has(entityType, id string) bool {
	return v[NodeRef{Type: entityType, ID: id}]
}

// Mark records the entity as expanded.
func (v Visited) Mark(entityType, id string) {
	v[NodeRef{Type: entityType, ID: id}] = true
}
