package tree

import (
	"fmt"
	"io"
	"strings"

	"github.com/arthur-debert/graphport/types"
)

// Entry is one flattened tree node with its level.
type Entry struct {
	Node  *types.DependencyNode
	Level int
}

// Ref returns the entry's type/id pair.
func (e Entry) Ref() types.NodeRef {
	return e.Node.Ref()
}

// Flatten lists the trees in pre-order: each root, then each dependency
// subtree, recursively. Level is the depth below the root, raised where
// needed so that every referenced entity sits strictly deeper than each
// entity referencing it through a tree or collapsed edge. Importing deepest
// level first then always creates targets before their referrers. An entity
// listed twice (possible when extensions add edges) keeps its first position.
func Flatten(roots ...*types.DependencyNode) []Entry {
	var entries []Entry
	index := make(map[types.NodeRef]int)

	var visit func(node *types.DependencyNode, level int)
	visit = func(node *types.DependencyNode, level int) {
		ref := node.Ref()
		if _, seen := index[ref]; seen {
			return
		}
		index[ref] = len(entries)
		entries = append(entries, Entry{Node: node, Level: level})
		for i := range node.Dependencies {
			visit(&node.Dependencies[i], level+1)
		}
	}
	for _, root := range roots {
		if root != nil {
			visit(root, 0)
		}
	}

	promoteLevels(entries, index)
	return entries
}

// promoteLevels relaxes levels along every edge. Cycle edges are never
// recorded on nodes, so the edge set is acyclic and relaxation settles within
// len(entries) passes; the bound also protects against edges added by
// extensions.
func promoteLevels(entries []Entry, index map[types.NodeRef]int) {
	for pass := 0; pass < len(entries); pass++ {
		changed := false
		for i := range entries {
			from := entries[i]
			targets := make([]types.NodeRef, 0, len(from.Node.Dependencies)+len(from.Node.Collapsed))
			for j := range from.Node.Dependencies {
				targets = append(targets, from.Node.Dependencies[j].Ref())
			}
			targets = append(targets, from.Node.Collapsed...)

			for _, target := range targets {
				pos, ok := index[target]
				if !ok || pos == i {
					continue
				}
				if entries[pos].Level < from.Level+1 {
					entries[pos].Level = from.Level + 1
					changed = true
				}
			}
		}
		if !changed {
			return
		}
	}
}

// Render writes an indented outline of the tree.
func Render(w io.Writer, node *types.DependencyNode) error {
	return render(w, node, 0)
}

func render(w io.Writer, node *types.DependencyNode, depth int) error {
	if _, err := fmt.Fprintf(w, "%s%s (type: %s, bundle: %s, id: %s)\n",
		strings.Repeat("  ", depth), node.Name, node.Type, node.Bundle, node.ID); err != nil {
		return err
	}
	for _, ref := range node.Collapsed {
		if _, err := fmt.Fprintf(w, "%s^ %s %s\n", strings.Repeat("  ", depth+1), ref.Type, ref.ID); err != nil {
			return err
		}
	}
	for i := range node.Dependencies {
		if err := render(w, &node.Dependencies[i], depth+1); err != nil {
			return err
		}
	}
	return nil
}
