package imports

import (
	"archive/tar"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/arthur-debert/graphport/types"
	"github.com/klauspost/compress/gzip"
)

const sampleDocument = `- entity_type: file
  entity_id: 0123456789abcdef0123456789abcdef
  level: 1
  representation:
    uri:
      - value: 2024-01/cat.png
- entity_type: node
  entity_id: fedcba9876543210fedcba9876543210
  level: 0
  representation:
    title:
      - value: Cats
    field_image:
      - target_id: 0123456789abcdef0123456789abcdef
        alt: a cat
`

type bundleEntry struct {
	name    string
	content string
	dir     bool
}

func writeBundle(t *testing.T, path string, entries ...bundleEntry) {
	t.Helper()
	f, err := os.Create(path)
	if err != nil {
		t.Fatal(err)
	}
	defer func() { _ = f.Close() }()

	gz := gzip.NewWriter(f)
	tw := tar.NewWriter(gz)
	for _, e := range entries {
		header := &tar.Header{Name: e.name, Mode: 0644, Size: int64(len(e.content)), Typeflag: tar.TypeReg}
		if e.dir {
			header = &tar.Header{Name: e.name, Mode: 0755, Typeflag: tar.TypeDir}
		}
		if err := tw.WriteHeader(header); err != nil {
			t.Fatal(err)
		}
		if !e.dir {
			if _, err := tw.Write([]byte(e.content)); err != nil {
				t.Fatal(err)
			}
		}
	}
	if err := tw.Close(); err != nil {
		t.Fatal(err)
	}
	if err := gz.Close(); err != nil {
		t.Fatal(err)
	}
}

func TestReadDocument(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "export.yml")
	if err := os.WriteFile(path, []byte(sampleDocument), 0644); err != nil {
		t.Fatal(err)
	}

	archive, err := NewReader().Read(path)
	if err != nil {
		t.Fatalf("read failed: %v", err)
	}
	defer func() { _ = archive.Close() }()

	if len(archive.Records) != 2 {
		t.Fatalf("expected 2 records, got %d", len(archive.Records))
	}
	if archive.Records[0].EntityType != "file" || archive.Records[1].Level != 0 {
		t.Errorf("document order not preserved: %+v", archive.Records)
	}
	image, _ := archive.Records[1].First("field_image")
	if !image.IsReference() || image.Props["alt"] != "a cat" {
		t.Errorf("reference not decoded: %+v", image)
	}
	if archive.AssetDir != "" {
		t.Errorf("plain document has no asset dir, got %q", archive.AssetDir)
	}
}

func TestReadJSONDocument(t *testing.T) {
	path := filepath.Join(t.TempDir(), "export.json")
	doc := `[{"entity_type":"node","entity_id":"abc","level":0,"representation":{"title":[{"value":"Cats"}]}}]`
	if err := os.WriteFile(path, []byte(doc), 0644); err != nil {
		t.Fatal(err)
	}

	archive, err := NewReader().Read(path)
	if err != nil {
		t.Fatalf("read failed: %v", err)
	}
	if len(archive.Records) != 1 || archive.Records[0].EntityID != "abc" {
		t.Errorf("unexpected records: %+v", archive.Records)
	}
}

func TestReadBundle(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "export.tgz")
	writeBundle(t, path,
		bundleEntry{name: "files", dir: true},
		bundleEntry{name: "files/2024-01/cat.png", content: "payload"},
		bundleEntry{name: "fedcba9876543210fedcba9876543210.yml", content: sampleDocument},
	)

	scratch := t.TempDir()
	archive, err := NewReader(WithScratchDir(scratch)).Read(path)
	if err != nil {
		t.Fatalf("read failed: %v", err)
	}

	if len(archive.Records) != 2 {
		t.Errorf("expected 2 records, got %d", len(archive.Records))
	}
	data, err := os.ReadFile(filepath.Join(archive.AssetDir, "2024-01", "cat.png"))
	if err != nil || string(data) != "payload" {
		t.Errorf("payload not unpacked into asset dir: %v", err)
	}

	if err := archive.Close(); err != nil {
		t.Fatal(err)
	}
	if _, err := os.Stat(archive.AssetDir); !os.IsNotExist(err) {
		t.Errorf("scratch state left after Close")
	}
}

func TestReadErrors(t *testing.T) {
	dir := t.TempDir()

	noDoc := filepath.Join(dir, "empty.tar.gz")
	writeBundle(t, noDoc, bundleEntry{name: "files/a.png", content: "x"})

	escape := filepath.Join(dir, "escape.tgz")
	writeBundle(t, escape,
		bundleEntry{name: "doc.yml", content: sampleDocument},
		bundleEntry{name: "../../evil.txt", content: "x"},
	)

	broken := filepath.Join(dir, "broken.yml")
	if err := os.WriteFile(broken, []byte("- entity_type: [unclosed"), 0644); err != nil {
		t.Fatal(err)
	}

	notGzip := filepath.Join(dir, "plain.tgz")
	if err := os.WriteFile(notGzip, []byte("not a bundle"), 0644); err != nil {
		t.Fatal(err)
	}

	tests := []struct {
		name    string
		path    string
		wantErr error
	}{
		{"unsupported extension", filepath.Join(dir, "export.zip"), types.ErrUnsupportedFormat},
		{"bundle without document", noDoc, types.ErrNoDocument},
		{"entry escaping scratch dir", escape, nil},
		{"unparseable document", broken, nil},
		{"not gzip", notGzip, nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			scratch := t.TempDir()
			_, err := NewReader(WithScratchDir(scratch)).Read(tt.path)

			var formatErr *types.FormatError
			if !errors.As(err, &formatErr) {
				t.Fatalf("expected FormatError, got %v", err)
			}
			if tt.wantErr != nil && !errors.Is(err, tt.wantErr) {
				t.Errorf("expected %v, got %v", tt.wantErr, err)
			}

			// Failed reads leave no scratch state behind.
			entries, _ := os.ReadDir(filepath.Join(scratch, unpackDir))
			if len(entries) != 0 {
				t.Errorf("scratch state left: %v", entries)
			}
		})
	}

	if _, err := os.Stat(filepath.Join(dir, "..", "evil.txt")); err == nil {
		t.Error("escaping entry was written")
	}
}

func TestSupported(t *testing.T) {
	for path, want := range map[string]bool{
		"a.yml":     true,
		"a.YAML":    true,
		"a.json":    true,
		"a.tgz":     true,
		"a.tar.gz":  true,
		"a.zip":     false,
		"a.gz":      false,
		"directory": false,
	} {
		if got := Supported(path); got != want {
			t.Errorf("Supported(%q) = %v, want %v", path, got, want)
		}
	}
}
