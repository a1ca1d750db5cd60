package storage

import (
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/arthur-debert/graphport/types"
)

func sampleData() *StoreData {
	data := NewStoreData()
	now := time.Now().UTC().Truncate(time.Second)
	data.Entities = append(data.Entities,
		EntityRow{
			Type:   "node",
			Bundle: "article",
			ID:     "5",
			UUID:   "8a3f",
			Fields: map[string][]types.FieldValue{
				"title": {types.Value("Hello")},
				"field_image": {{
					Kind:  types.ReferenceValue,
					Ref:   types.Reference{TargetID: "9"},
					Props: map[string]any{"alt": "a cat"},
				}},
				"field_tags": {types.Ref("3"), types.Ref("4")},
			},
			CreatedAt: now,
			UpdatedAt: now,
		},
		EntityRow{
			Type:       "paragraph",
			Bundle:     "text",
			ID:         "7",
			RevisionID: "12",
			UUID:       "c1d2",
			Fields: map[string][]types.FieldValue{
				"field_body": {types.Value("body")},
			},
			CreatedAt: now,
			UpdatedAt: now,
		},
	)
	data.Sequences["node"] = 5
	data.Sequences["paragraph:revision"] = 12
	return data
}

func TestStorageRoundTrip(t *testing.T) {
	dir := t.TempDir()

	sqlite, err := NewSQLiteStorage(filepath.Join(dir, "db", "content.db"))
	if err != nil {
		t.Fatalf("failed to open sqlite storage: %v", err)
	}

	backends := []struct {
		name    string
		storage Storage
	}{
		{"json", NewJSONStorage(filepath.Join(dir, "json", "content.json"))},
		{"sqlite", sqlite},
		{"memory", NewMemoryStorage()},
	}

	for _, backend := range backends {
		t.Run(backend.name, func(t *testing.T) {
			defer func() { _ = backend.storage.Close() }()

			empty, err := backend.storage.Load()
			if err != nil {
				t.Fatalf("load of empty storage failed: %v", err)
			}
			if len(empty.Entities) != 0 {
				t.Fatalf("expected empty storage, got %d entities", len(empty.Entities))
			}

			if err := backend.storage.Save(sampleData()); err != nil {
				t.Fatalf("save failed: %v", err)
			}
			loaded, err := backend.storage.Load()
			if err != nil {
				t.Fatalf("load failed: %v", err)
			}

			if len(loaded.Entities) != 2 {
				t.Fatalf("expected 2 entities, got %d", len(loaded.Entities))
			}
			article := loaded.Entities[0]
			if article.Type != "node" || article.ID != "5" || article.UUID != "8a3f" {
				t.Errorf("unexpected article row: %+v", article)
			}
			if got := article.Fields["title"][0].String(); got != "Hello" {
				t.Errorf("expected title Hello, got %q", got)
			}
			tags := article.Fields["field_tags"]
			if len(tags) != 2 || !tags[1].IsReference() || tags[1].Ref.TargetID != "4" {
				t.Errorf("tags did not survive: %+v", tags)
			}
			image := article.Fields["field_image"][0]
			if !image.IsReference() || image.Ref.TargetID != "9" || image.Props["alt"] != "a cat" {
				t.Errorf("image reference lost props: %+v", image)
			}

			paragraph := loaded.Entities[1]
			if paragraph.RevisionID != "12" {
				t.Errorf("expected revision 12, got %q", paragraph.RevisionID)
			}
			if loaded.Sequences["node"] != 5 || loaded.Sequences["paragraph:revision"] != 12 {
				t.Errorf("sequences not persisted: %v", loaded.Sequences)
			}
		})
	}
}

func TestMemoryStorageIsolation(t *testing.T) {
	s := NewMemoryStorage()
	data := sampleData()
	if err := s.Save(data); err != nil {
		t.Fatal(err)
	}

	data.Entities[0].Fields["title"][0].Props["value"] = "changed"

	loaded, _ := s.Load()
	if got := loaded.Entities[0].Fields["title"][0].String(); got != "Hello" {
		t.Errorf("storage shares rows with caller: title is %q", got)
	}
}

func TestJSONStorageEmptyFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "content.json")
	s := NewJSONStorage(path)
	defer func() { _ = s.Close() }()

	data, err := s.Load()
	if err != nil {
		t.Fatalf("load of missing file failed: %v", err)
	}
	if data.Metadata.Version != FormatVersion {
		t.Errorf("expected version %s, got %s", FormatVersion, data.Metadata.Version)
	}
}

func TestLockManager(t *testing.T) {
	lm := NewLockManager()

	t.Run("WritesAreExclusive", func(t *testing.T) {
		var wg sync.WaitGroup
		active := 0
		maxActive := 0
		var mu sync.Mutex

		for i := 0; i < 5; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				_ = lm.Execute(WriteOperation, func() error {
					mu.Lock()
					active++
					if active > maxActive {
						maxActive = active
					}
					mu.Unlock()

					time.Sleep(5 * time.Millisecond)

					mu.Lock()
					active--
					mu.Unlock()
					return nil
				})
			}()
		}
		wg.Wait()

		if maxActive != 1 {
			t.Errorf("expected exclusive writes, saw %d concurrent", maxActive)
		}
	})

	t.Run("ReturnsError", func(t *testing.T) {
		want := types.ErrNotFound
		if err := lm.Execute(ReadOperation, func() error { return want }); err != want {
			t.Errorf("expected %v, got %v", want, err)
		}
	})
}
