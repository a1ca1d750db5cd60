// Package hooks holds the extension points of the export and import pipeline.
//
// Extensions are registered explicitly at startup and called in registration
// order. There are three capabilities: extending the dependency tree of an
// entity, altering an export record once it is assembled, and importing
// entity types the built-in materializers do not know.
package hooks

import (
	"context"

	"github.com/arthur-debert/graphport/types"
)

// TreeNode is the mutable view of a node handed to tree extenders after its
// dependencies have been computed.
type TreeNode struct {
	Entity *types.Entity
	Info   types.EntityTypeInfo

	// Dependencies may be extended or pruned.
	Dependencies []types.DependencyNode

	// Visited may be marked to stop later paths from expanding an entity.
	Visited types.Visited
}

// TreeExtender adds or removes dependency edges.
type TreeExtender interface {
	ExtendTree(ctx context.Context, node *TreeNode) error
}

// TreeExtenderFunc adapts a function to TreeExtender.
type TreeExtenderFunc func(ctx context.Context, node *TreeNode) error

// ExtendTree implements TreeExtender.
func (f TreeExtenderFunc) ExtendTree(ctx context.Context, node *TreeNode) error {
	return f(ctx, node)
}

// ExportAlterer mutates an assembled export record in place, e.g. to add,
// remove or obfuscate fields. The source entity is read-only context.
type ExportAlterer interface {
	AlterExport(ctx context.Context, record *types.ExportRecord, source *types.Entity) error
}

// ExportAltererFunc adapts a function to ExportAlterer.
type ExportAltererFunc func(ctx context.Context, record *types.ExportRecord, source *types.Entity) error

// AlterExport implements ExportAlterer.
func (f ExportAltererFunc) AlterExport(ctx context.Context, record *types.ExportRecord, source *types.Entity) error {
	return f(ctx, record, source)
}

// ImportRequest is what an EntityImporter receives for one record.
type ImportRequest struct {
	Record types.ExportRecord
	Level  int
	Keys   types.KeyLookup
	Store  types.Store
}

// EntityImporter materializes records of entity types it claims. Returning
// a nil entity means the record was handled but produced nothing.
type EntityImporter interface {
	ImportsType(entityType string) bool
	ImportEntity(ctx context.Context, req ImportRequest) (*types.Entity, types.LocalKey, error)
}

// Registry is the static list of registered extensions.
type Registry struct {
	treeExtenders  []TreeExtender
	exportAlterers []ExportAlterer
	importers      []EntityImporter
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{}
}

// RegisterTreeExtender appends a tree extender.
func (r *Registry) RegisterTreeExtender(ext TreeExtender) {
	r.treeExtenders = append(r.treeExtenders, ext)
}

// RegisterExportAlterer appends an export alterer.
func (r *Registry) RegisterExportAlterer(alt ExportAlterer) {
	r.exportAlterers = append(r.exportAlterers, alt)
}

// RegisterImporter appends a per-type importer.
func (r *Registry) RegisterImporter(imp EntityImporter) {
	r.importers = append(r.importers, imp)
}

// ExtendTree runs every tree extender in registration order.
func (r *Registry) ExtendTree(ctx context.Context, node *TreeNode) error {
	if r == nil {
		return nil
	}
	for _, ext := range r.treeExtenders {
		if err := ext.ExtendTree(ctx, node); err != nil {
			return err
		}
	}
	return nil
}

// AlterExport runs every export alterer in registration order.
func (r *Registry) AlterExport(ctx context.Context, record *types.ExportRecord, source *types.Entity) error {
	if r == nil {
		return nil
	}
	for _, alt := range r.exportAlterers {
		if err := alt.AlterExport(ctx, record, source); err != nil {
			return err
		}
	}
	return nil
}

// ImportersFor returns the importers claiming an entity type, in
// registration order.
func (r *Registry) ImportersFor(entityType string) []EntityImporter {
	if r == nil {
		return nil
	}
	var claimed []EntityImporter
	for _, imp := range r.importers {
		if imp.ImportsType(entityType) {
			claimed = append(claimed, imp)
		}
	}
	return claimed
}

// WithExportAlterers returns a copy of the registry whose export alterers are
// the given ones followed by the registry's own.
func (r *Registry) WithExportAlterers(first ...ExportAlterer) *Registry {
	out := &Registry{exportAlterers: append([]ExportAlterer{}, first...)}
	if r != nil {
		out.treeExtenders = r.treeExtenders
		out.importers = r.importers
		out.exportAlterers = append(out.exportAlterers, r.exportAlterers...)
	}
	return out
}
