package blob

import (
	"context"
	"fmt"
	"io"
	"os"

	"cloud.google.com/go/storage"
	"google.golang.org/api/option"
)

// GCSScheme prefixes pseudo-paths of objects in Google Cloud Storage.
const GCSScheme = "gcs"

// GCSConfig selects the bucket and credentials of a GCS backend.
type GCSConfig struct {
	Bucket          string
	Project         string
	Prefix          string
	CredentialsFile string // Empty uses application default credentials
}

// GCSObjects is an ObjectStore over a GCS bucket.
type GCSObjects struct {
	client *storage.Client
	bucket *storage.BucketHandle
}

// NewGCSObjects connects to the bucket.
func NewGCSObjects(ctx context.Context, cfg GCSConfig) (*GCSObjects, error) {
	if cfg.Bucket == "" {
		return nil, fmt.Errorf("gcs bucket is required")
	}

	var opts []option.ClientOption
	if cfg.CredentialsFile != "" {
		if _, err := os.Stat(cfg.CredentialsFile); os.IsNotExist(err) {
			return nil, fmt.Errorf("service account key not found at path: %s", cfg.CredentialsFile)
		}
		opts = append(opts, option.WithCredentialsFile(cfg.CredentialsFile))
	}
	if cfg.Project != "" {
		opts = append(opts, option.WithQuotaProject(cfg.Project))
	}

	client, err := storage.NewClient(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create GCS storage client: %w", err)
	}
	return &GCSObjects{client: client, bucket: client.Bucket(cfg.Bucket)}, nil
}

// Put implements ObjectStore.
func (g *GCSObjects) Put(ctx context.Context, key string, r io.Reader) error {
	writer := g.bucket.Object(key).NewWriter(ctx)
	writer.ContentType = "application/octet-stream"
	writer.CacheControl = "no-cache, no-store, must-revalidate"

	if _, err := io.Copy(writer, r); err != nil {
		_ = writer.Close()
		return fmt.Errorf("failed to copy to GCS object %s: %w", key, err)
	}
	if err := writer.Close(); err != nil {
		return fmt.Errorf("failed to close GCS writer for %s: %w", key, err)
	}
	return nil
}

// Get implements ObjectStore.
func (g *GCSObjects) Get(ctx context.Context, key string, w io.Writer) error {
	reader, err := g.bucket.Object(key).NewReader(ctx)
	if err != nil {
		return fmt.Errorf("failed to open GCS object %s: %w", key, err)
	}
	defer func() { _ = reader.Close() }()

	if _, err := io.Copy(w, reader); err != nil {
		return fmt.Errorf("failed to read GCS object %s: %w", key, err)
	}
	return nil
}

// Close releases the GCS client.
func (g *GCSObjects) Close() error {
	return g.client.Close()
}

// NewGCS creates a GCS backend.
func NewGCS(ctx context.Context, cfg GCSConfig, opts ...Option) (*Client, *GCSObjects, error) {
	objects, err := NewGCSObjects(ctx, cfg)
	if err != nil {
		return nil, nil, err
	}
	client, err := NewClient(GCSScheme, cfg.Prefix, objects, opts...)
	if err != nil {
		_ = objects.Close()
		return nil, nil, err
	}
	return client, objects, nil
}
