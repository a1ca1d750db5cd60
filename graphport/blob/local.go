package blob

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
)

// LocalScheme prefixes pseudo-paths of objects in a local directory.
const LocalScheme = "local"

// DirObjects is an ObjectStore over a filesystem directory, for shared mounts
// and tests.
type DirObjects struct {
	root string
}

// NewDirObjects creates an object store rooted at dir.
func NewDirObjects(dir string) *DirObjects {
	return &DirObjects{root: dir}
}

func (d *DirObjects) path(key string) (string, error) {
	p := filepath.Join(d.root, filepath.FromSlash(key))
	rel, err := filepath.Rel(d.root, p)
	if err != nil || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return "", fmt.Errorf("object key %q escapes %s", key, d.root)
	}
	return p, nil
}

// Put implements ObjectStore.
func (d *DirObjects) Put(ctx context.Context, key string, r io.Reader) error {
	p, err := d.path(key)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(p), 0755); err != nil {
		return fmt.Errorf("failed to create object directory: %w", err)
	}
	f, err := os.Create(p)
	if err != nil {
		return fmt.Errorf("failed to create object %s: %w", key, err)
	}
	if _, err := io.Copy(f, r); err != nil {
		_ = f.Close()
		return fmt.Errorf("failed to write object %s: %w", key, err)
	}
	return f.Close()
}

// Get implements ObjectStore.
func (d *DirObjects) Get(ctx context.Context, key string, w io.Writer) error {
	p, err := d.path(key)
	if err != nil {
		return err
	}
	f, err := os.Open(p)
	if err != nil {
		return fmt.Errorf("failed to open object %s: %w", key, err)
	}
	defer func() { _ = f.Close() }()
	if _, err := io.Copy(w, f); err != nil {
		return fmt.Errorf("failed to read object %s: %w", key, err)
	}
	return nil
}

// NewLocal creates a backend storing objects below root.
func NewLocal(root, prefix string, opts ...Option) (*Client, error) {
	return NewClient(LocalScheme, prefix, NewDirObjects(root), opts...)
}
