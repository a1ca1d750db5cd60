// Package tree discovers the reference closure of an entity.
//
// The walker follows every reference-typed field recursively and returns a
// dependency tree. Each entity is expanded at most once per walk: the first
// path to reach it wins, later paths only record a collapsed edge. Cycles
// terminate because an entity is marked visited before its children are
// walked. Configuration entities and excluded types are pruned.
package tree

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/arthur-debert/graphport/graphport/hooks"
	"github.com/arthur-debert/graphport/types"
)

// Walker builds dependency trees from a content store.
type Walker struct {
	store   types.Store
	namer   types.Namer
	hooks   *hooks.Registry
	exclude map[string]bool
	logger  *slog.Logger
}

// Option configures a Walker.
type Option func(*Walker)

// WithNamer sets the collaborator producing node display names.
func WithNamer(n types.Namer) Option {
	return func(w *Walker) { w.namer = n }
}

// WithHooks sets the extension registry consulted after each node.
func WithHooks(r *hooks.Registry) Option {
	return func(w *Walker) { w.hooks = r }
}

// WithExcludedTypes prunes the given entity types below the root.
func WithExcludedTypes(entityTypes ...string) Option {
	return func(w *Walker) {
		for _, t := range entityTypes {
			w.exclude[t] = true
		}
	}
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(w *Walker) { w.logger = l }
}

// New creates a walker over the store.
func New(store types.Store, opts ...Option) *Walker {
	w := &Walker{
		store:   store,
		exclude: make(map[string]bool),
	}
	for _, opt := range opts {
		opt(w)
	}
	if w.namer == nil {
		w.namer = types.NamerFunc(DefaultName)
	}
	if w.logger == nil {
		w.logger = slog.Default()
	}
	return w
}

// DefaultName labels a node with the entity's label field, falling back to
// "type id".
func DefaultName(entity *types.Entity, info types.EntityTypeInfo) string {
	if info.Keys.Label != "" {
		if label := entity.Label(info.Keys.Label); label != "" {
			return label
		}
	}
	return fmt.Sprintf("%s %s", entity.Type, entity.ID)
}

// Excludes reports whether the walker prunes an entity type.
func (w *Walker) Excludes(entityType string) bool {
	return w.exclude[entityType]
}

// Build returns the dependency tree rooted at the entity, or nil when the
// entity is pruned: already in visited, a configuration entity, or (below
// the root) an excluded type. The visited set is owned by the caller for the
// duration of the call and is extended with every expanded entity; passing
// the same set to several calls shares deduplication across roots.
//
// An entity that cannot be loaded aborts the walk with a *types.GraphError.
func (w *Walker) Build(ctx context.Context, entityType, id string, visited types.Visited) (*types.DependencyNode, error) {
	if visited == nil {
		visited = make(types.Visited)
	}
	run := &walk{
		Walker:  w,
		visited: visited,
		onPath:  make(map[types.NodeRef]bool),
	}
	return run.build(ctx, entityType, id, 0)
}

// walk is the state of one Build call.
type walk struct {
	*Walker
	visited types.Visited
	onPath  map[types.NodeRef]bool
}

func (r *walk) build(ctx context.Context, entityType, id string, depth int) (*types.DependencyNode, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if r.visited.Has(entityType, id) {
		return nil, nil
	}
	if depth > 0 && r.exclude[entityType] {
		r.logger.Debug("pruned excluded type", "type", entityType, "id", id)
		return nil, nil
	}

	info, err := r.store.EntityType(entityType)
	if err != nil {
		return nil, &types.GraphError{Type: entityType, ID: id, Err: err}
	}
	if info.Config {
		r.logger.Debug("pruned config entity", "type", entityType, "id", id)
		return nil, nil
	}

	entity, err := r.store.Load(ctx, entityType, id)
	if err != nil {
		return nil, &types.GraphError{Type: entityType, ID: id, Err: err}
	}

	defs, err := r.store.FieldDefinitions(entityType, entity.Bundle)
	if errors.Is(err, types.ErrNoFieldSchema) {
		r.logger.Debug("pruned entity without field schema", "type", entityType, "id", id)
		return nil, nil
	}
	if err != nil {
		return nil, &types.GraphError{Type: entityType, ID: id, Err: err}
	}

	ref := types.NodeRef{Type: entityType, ID: id}
	r.visited[ref] = true
	r.onPath[ref] = true
	defer delete(r.onPath, ref)

	node := &types.DependencyNode{
		ID:     id,
		Type:   entityType,
		Bundle: entity.Bundle,
	}

	collapsed := make(map[types.NodeRef]bool)
	var dependencies []types.DependencyNode
	for _, def := range defs {
		if !def.IsReference() {
			continue
		}
		for _, value := range entity.Get(def.Name) {
			if !value.IsReference() || value.Ref.TargetID == "" {
				continue
			}
			target := types.NodeRef{Type: def.TargetType, ID: value.Ref.TargetID}
			if r.visited[target] {
				if !r.onPath[target] && !collapsed[target] {
					collapsed[target] = true
					node.Collapsed = append(node.Collapsed, target)
				}
				continue
			}
			child, err := r.build(ctx, target.Type, target.ID, depth+1)
			if err != nil {
				return nil, err
			}
			if child != nil {
				dependencies = append(dependencies, *child)
			}
		}
	}

	ext := &hooks.TreeNode{
		Entity:       entity,
		Info:         info,
		Dependencies: dependencies,
		Visited:      r.visited,
	}
	if err := r.hooks.ExtendTree(ctx, ext); err != nil {
		return nil, fmt.Errorf("tree extension for %s %s: %w", entityType, id, err)
	}

	node.Dependencies = ext.Dependencies
	node.Name = r.namer.Name(entity, info)
	return node, nil
}
