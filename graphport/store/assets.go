package store

import (
	"fmt"
	"io"
	"os"
	"path"
	"path/filepath"
	"strings"
)

// PublicScheme is the stream scheme of the asset directory.
const PublicScheme = "public://"

// AssetDir is a types.AssetStore rooted at a filesystem directory. URIs take
// the form "public://<relative path>".
type AssetDir struct {
	root string
}

// NewAssetDir creates an asset store rooted at dir.
func NewAssetDir(dir string) *AssetDir {
	return &AssetDir{root: dir}
}

// Root returns the backing directory.
func (a *AssetDir) Root() string {
	return a.root
}

// RelativePath returns the part of a public:// URI after the scheme.
func RelativePath(uri string) (string, error) {
	if !strings.HasPrefix(uri, PublicScheme) {
		return "", fmt.Errorf("unsupported stream uri %q", uri)
	}
	rel := path.Clean(strings.TrimPrefix(uri, PublicScheme))
	if rel == "." || rel == ".." || strings.HasPrefix(rel, "../") || path.IsAbs(rel) {
		return "", fmt.Errorf("stream uri %q escapes the asset directory", uri)
	}
	return rel, nil
}

// LocalPath implements types.AssetStore.
func (a *AssetDir) LocalPath(uri string) (string, error) {
	rel, err := RelativePath(uri)
	if err != nil {
		return "", err
	}
	return filepath.Join(a.root, filepath.FromSlash(rel)), nil
}

// Open implements types.AssetStore.
func (a *AssetDir) Open(uri string) (io.ReadCloser, error) {
	p, err := a.LocalPath(uri)
	if err != nil {
		return nil, err
	}
	f, err := os.Open(p)
	if err != nil {
		return nil, fmt.Errorf("failed to open asset: %w", err)
	}
	return f, nil
}

// Save implements types.AssetStore. An existing file is never overwritten:
// the name gets a numeric suffix instead and the returned URI reflects it.
func (a *AssetDir) Save(uri string, data io.Reader) (string, error) {
	p, err := a.LocalPath(uri)
	if err != nil {
		return "", err
	}
	if err := os.MkdirAll(filepath.Dir(p), 0755); err != nil {
		return "", fmt.Errorf("failed to create asset directory: %w", err)
	}

	p = uniquePath(p)
	f, err := os.OpenFile(p, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0644)
	if err != nil {
		return "", fmt.Errorf("failed to create asset: %w", err)
	}
	if _, err := io.Copy(f, data); err != nil {
		_ = f.Close()
		_ = os.Remove(p)
		return "", fmt.Errorf("failed to write asset: %w", err)
	}
	if err := f.Close(); err != nil {
		return "", fmt.Errorf("failed to close asset: %w", err)
	}

	rel, err := filepath.Rel(a.root, p)
	if err != nil {
		return "", err
	}
	return PublicScheme + filepath.ToSlash(rel), nil
}

func uniquePath(p string) string {
	if _, err := os.Stat(p); os.IsNotExist(err) {
		return p
	}
	ext := filepath.Ext(p)
	base := strings.TrimSuffix(p, ext)
	for i := 0; ; i++ {
		candidate := fmt.Sprintf("%s_%d%s", base, i, ext)
		if _, err := os.Stat(candidate); os.IsNotExist(err) {
			return candidate
		}
	}
}
