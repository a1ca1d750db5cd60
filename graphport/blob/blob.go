// Package blob moves file payloads to and from remote object storage.
//
// Uploaded objects are addressed by pseudo-paths of the form
//
//	<scheme>://<prefix>/assets/<namespace>/<relative path>
//
// where the relative path is the asset's location below public://. Download
// strips the scheme and the three leading segments to recover it.
package blob

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path"
	"path/filepath"
	"strings"

	"github.com/arthur-debert/graphport/types"
)

const (
	assetsSegment = "assets"
	publicScheme  = "public://"
)

// Backend is the blob contract used by export and import.
type Backend interface {
	// Scheme is the token that prefixes every pseudo-path, without "://".
	Scheme() string

	// Upload stores the file at localPath under namespace and returns its
	// pseudo-path. uri is the file's public:// location.
	Upload(ctx context.Context, localPath, namespace, uri string) (string, error)

	// Download fetches a pseudo-path to a local file.
	Download(ctx context.Context, pseudoPath string) (Fetched, error)
}

// Fetched is a downloaded object.
type Fetched struct {
	File     string // Local file holding the payload
	Path     string // Logical public:// location
	Attempts int    // Store round trips used, zero on a cache hit
	Temp     bool   // File is a temporary copy the caller removes
}

// Owns reports whether a stored path belongs to the backend.
func Owns(b Backend, storedPath string) bool {
	return b != nil && strings.HasPrefix(storedPath, b.Scheme()+"://")
}

// ObjectStore is the raw object API a Client drives.
type ObjectStore interface {
	Put(ctx context.Context, key string, r io.Reader) error
	Get(ctx context.Context, key string, w io.Writer) error
}

// Client implements Backend over an ObjectStore.
type Client struct {
	scheme   string
	prefix   string
	objects  ObjectStore
	cacheDir string
	attempts int
	logger   *slog.Logger
}

// Option configures a Client.
type Option func(*Client)

// WithCacheDir keeps downloads under dir and serves later downloads of the
// same object from it.
func WithCacheDir(dir string) Option {
	return func(c *Client) { c.cacheDir = dir }
}

// WithAttempts sets the download attempt cap.
func WithAttempts(n int) Option {
	return func(c *Client) { c.attempts = n }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(c *Client) { c.logger = l }
}

// NewClient creates a backend with the given scheme. The prefix is the first
// segment of every pseudo-path and must not contain a slash.
func NewClient(scheme, prefix string, objects ObjectStore, opts ...Option) (*Client, error) {
	if scheme == "" {
		return nil, fmt.Errorf("blob scheme is required")
	}
	if prefix == "" || strings.Contains(prefix, "/") {
		return nil, fmt.Errorf("blob prefix %q must be a single path segment", prefix)
	}
	c := &Client{
		scheme:   scheme,
		prefix:   prefix,
		objects:  objects,
		attempts: DefaultAttempts,
		logger:   slog.Default(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// Scheme implements Backend.
func (c *Client) Scheme() string {
	return c.scheme
}

// Key returns the object key of an asset.
func (c *Client) Key(namespace, uri string) string {
	rel := strings.TrimPrefix(uri, publicScheme)
	return path.Join(c.prefix, assetsSegment, namespace, rel)
}

// Upload implements Backend. Uploads are not retried.
func (c *Client) Upload(ctx context.Context, localPath, namespace, uri string) (string, error) {
	if namespace == "" || strings.Contains(namespace, "/") {
		return "", &types.BlobError{Path: localPath, Attempts: 1, Err: fmt.Errorf("invalid namespace %q", namespace)}
	}
	f, err := os.Open(localPath)
	if err != nil {
		return "", &types.BlobError{Path: localPath, Attempts: 1, Err: err}
	}
	defer func() { _ = f.Close() }()

	key := c.Key(namespace, uri)
	if err := c.objects.Put(ctx, key, f); err != nil {
		return "", &types.BlobError{Path: localPath, Attempts: 1, Err: err}
	}
	pseudo := c.scheme + "://" + key
	c.logger.Debug("uploaded blob", "file", localPath, "path", pseudo)
	return pseudo, nil
}

// RelativePath recovers the asset path below public:// from a pseudo-path.
func (c *Client) RelativePath(pseudoPath string) (string, error) {
	key, ok := strings.CutPrefix(pseudoPath, c.scheme+"://")
	if !ok {
		return "", fmt.Errorf("path %q does not use scheme %s", pseudoPath, c.scheme)
	}
	parts := strings.Split(key, "/")
	if len(parts) < 4 {
		return "", fmt.Errorf("path %q has no asset below its namespace", pseudoPath)
	}
	rel := path.Clean(strings.Join(parts[3:], "/"))
	if rel == "." || rel == ".." || strings.HasPrefix(rel, "../") {
		return "", fmt.Errorf("path %q escapes its namespace", pseudoPath)
	}
	return rel, nil
}

// Download implements Backend. With a cache dir, an object already present
// there is returned without contacting the store.
func (c *Client) Download(ctx context.Context, pseudoPath string) (Fetched, error) {
	rel, err := c.RelativePath(pseudoPath)
	if err != nil {
		return Fetched{}, &types.BlobError{Path: pseudoPath, Attempts: 0, Err: err}
	}
	fetched := Fetched{Path: publicScheme + rel}
	key := strings.TrimPrefix(pseudoPath, c.scheme+"://")

	if c.cacheDir != "" {
		fetched.File = filepath.Join(c.cacheDir, filepath.FromSlash(rel))
		if _, err := os.Stat(fetched.File); err == nil {
			c.logger.Debug("blob cache hit", "path", pseudoPath)
			return fetched, nil
		}
		if err := os.MkdirAll(filepath.Dir(fetched.File), 0755); err != nil {
			return Fetched{}, &types.BlobError{Path: pseudoPath, Err: err}
		}
	} else {
		tmp, err := os.CreateTemp("", "graphport-blob-*"+path.Ext(rel))
		if err != nil {
			return Fetched{}, &types.BlobError{Path: pseudoPath, Err: err}
		}
		fetched.File = tmp.Name()
		fetched.Temp = true
		_ = tmp.Close()
	}

	outcome := Retry(ctx, c.attempts, func(ctx context.Context, attempt int) (struct{}, error) {
		err := c.fetchTo(ctx, key, fetched.File)
		if err != nil {
			c.logger.Warn("blob download failed", "path", pseudoPath, "attempt", attempt, "error", err)
		}
		return struct{}{}, err
	})
	if !outcome.Ok() {
		_ = os.Remove(fetched.File)
		return Fetched{}, &types.BlobError{Path: pseudoPath, Attempts: outcome.Attempts, Err: outcome.Err}
	}
	fetched.Attempts = outcome.Attempts
	return fetched, nil
}

func (c *Client) fetchTo(ctx context.Context, key, target string) error {
	f, err := os.Create(target)
	if err != nil {
		return err
	}
	if err := c.objects.Get(ctx, key, f); err != nil {
		_ = f.Close()
		return err
	}
	return f.Close()
}
