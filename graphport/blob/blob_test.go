package blob

import (
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/arthur-debert/graphport/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// flakyObjects fails the first failures Get calls, then serves from inner.
type flakyObjects struct {
	inner    ObjectStore
	failures int
	gets     int
}

func (f *flakyObjects) Put(ctx context.Context, key string, r io.Reader) error {
	return f.inner.Put(ctx, key, r)
}

func (f *flakyObjects) Get(ctx context.Context, key string, w io.Writer) error {
	f.gets++
	if f.gets <= f.failures {
		return errors.New("connection reset")
	}
	return f.inner.Get(ctx, key, w)
}

func writeFile(t *testing.T, dir, name, content string) string {
	t.Helper()
	p := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(p, []byte(content), 0644))
	return p
}

func TestUploadDownloadRoundTrip(t *testing.T) {
	ctx := context.Background()
	src := writeFile(t, t.TempDir(), "cat.png", "\x89PNG bytes")

	client, err := NewLocal(t.TempDir(), "site")
	require.NoError(t, err)

	pseudo, err := client.Upload(ctx, src, "8a3f", "public://2024-01/cat.png")
	require.NoError(t, err)
	assert.Equal(t, "local://site/assets/8a3f/2024-01/cat.png", pseudo)
	assert.True(t, Owns(client, pseudo))
	assert.False(t, Owns(client, "files/2024-01/cat.png"))

	fetched, err := client.Download(ctx, pseudo)
	require.NoError(t, err)
	defer func() { _ = os.Remove(fetched.File) }()

	assert.Equal(t, "public://2024-01/cat.png", fetched.Path)
	data, err := os.ReadFile(fetched.File)
	require.NoError(t, err)
	assert.Equal(t, "\x89PNG bytes", string(data))
}

func TestDownloadUsesCache(t *testing.T) {
	ctx := context.Background()
	src := writeFile(t, t.TempDir(), "a.txt", "payload")
	objects := &flakyObjects{inner: NewDirObjects(t.TempDir())}
	cache := t.TempDir()

	client, err := NewClient(LocalScheme, "site", objects, WithCacheDir(cache))
	require.NoError(t, err)

	pseudo, err := client.Upload(ctx, src, "ns", "public://docs/a.txt")
	require.NoError(t, err)

	first, err := client.Download(ctx, pseudo)
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(cache, "docs", "a.txt"), first.File)

	second, err := client.Download(ctx, pseudo)
	require.NoError(t, err)
	assert.Equal(t, first.File, second.File)
	assert.Equal(t, 1, objects.gets, "second download should be served from the cache")
}

func TestDownloadRetries(t *testing.T) {
	ctx := context.Background()
	src := writeFile(t, t.TempDir(), "a.txt", "payload")

	tests := []struct {
		name     string
		failures int
		wantErr  bool
		wantGets int
	}{
		{"first attempt", 0, false, 1},
		{"third attempt", 2, false, 3},
		{"exhausted", 3, true, 3},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			objects := &flakyObjects{inner: NewDirObjects(t.TempDir()), failures: tt.failures}
			client, err := NewClient(LocalScheme, "site", objects)
			require.NoError(t, err)

			pseudo, err := client.Upload(ctx, src, "ns", "public://a.txt")
			require.NoError(t, err)

			fetched, err := client.Download(ctx, pseudo)
			assert.Equal(t, tt.wantGets, objects.gets)
			if tt.wantErr {
				var blobErr *types.BlobError
				require.ErrorAs(t, err, &blobErr)
				assert.Equal(t, 3, blobErr.Attempts)
				assert.Equal(t, pseudo, blobErr.Path)
				return
			}
			require.NoError(t, err)
			defer func() { _ = os.Remove(fetched.File) }()
			data, _ := os.ReadFile(fetched.File)
			assert.Equal(t, "payload", string(data))
		})
	}
}

func TestRelativePath(t *testing.T) {
	client, err := NewLocal(t.TempDir(), "site")
	require.NoError(t, err)

	tests := []struct {
		path    string
		want    string
		wantErr bool
	}{
		{"local://site/assets/ns/a/b/c.png", "a/b/c.png", false},
		{"local://site/assets/ns/c.png", "c.png", false},
		{"local://site/assets/ns", "", true},
		{"gcs://site/assets/ns/c.png", "", true},
		{"local://site/assets/ns/../../x", "", true},
	}
	for _, tt := range tests {
		t.Run(tt.path, func(t *testing.T) {
			got, err := client.RelativePath(tt.path)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestUploadErrors(t *testing.T) {
	ctx := context.Background()
	client, err := NewLocal(t.TempDir(), "site")
	require.NoError(t, err)

	_, err = client.Upload(ctx, filepath.Join(t.TempDir(), "missing"), "ns", "public://x")
	var blobErr *types.BlobError
	require.ErrorAs(t, err, &blobErr)
	assert.Equal(t, 1, blobErr.Attempts)

	_, err = client.Upload(ctx, "x", "a/b", "public://x")
	assert.Error(t, err)

	_, err = NewLocal(t.TempDir(), "a/b")
	assert.Error(t, err)
}

func TestRetry(t *testing.T) {
	calls := 0
	out := Retry(context.Background(), 3, func(ctx context.Context, attempt int) (string, error) {
		calls++
		if attempt < 2 {
			return "", errors.New("transient")
		}
		return "ok", nil
	})
	assert.True(t, out.Ok())
	assert.Equal(t, "ok", out.Value)
	assert.Equal(t, 2, out.Attempts)
	assert.Equal(t, 2, calls)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	stopped := Retry(ctx, 3, func(ctx context.Context, attempt int) (int, error) {
		t.Fatal("must not run with a cancelled context")
		return 0, nil
	})
	assert.False(t, stopped.Ok())
	assert.Equal(t, 0, stopped.Attempts)
	assert.True(t, strings.Contains(stopped.Err.Error(), "canceled"))
}
