package testutil

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/arthur-debert/graphport/graphport/store"
	"github.com/arthur-debert/graphport/types"
)

// ImageBytes is the payload of the fixture image.
const ImageBytes = "\x89PNG fixture image payload"

// ImageURI is where the fixture image lives in the source asset directory.
const ImageURI = "public://2024-01/cat.png"

// Graph provides typed access to the fixture content graph:
//
//	Article ──uid──────────────> Author
//	        ──field_image──────> Image (file)
//	        ──field_tags───────> News, Golang ──parent──> News
//	        ──field_paragraphs─> Paragraph ──field_media──> Image
//	        ──field_related────> Related ──field_related──> Article (cycle)
//	                                     ──field_tags────> News
//
// Every node also references configuration entities (node_type, filter_format)
// that are never exported.
type Graph struct {
	Store     *store.Store
	Assets    *store.AssetDir
	AssetRoot string

	Author    *types.Entity // user
	Image     *types.Entity // file, payload ImageBytes
	News      *types.Entity // taxonomy_term "news"
	Golang    *types.Entity // taxonomy_term "golang", child of News
	Paragraph *types.Entity // paragraph with a revision id
	Article   *types.Entity // node, the usual export root
	Related   *types.Entity // node, closes a cycle with Article
}

// LoadGraph builds the fixture graph in a fresh in-memory store with a
// temporary asset directory.
func LoadGraph(t testing.TB) *Graph {
	t.Helper()
	ctx := context.Background()

	root := t.TempDir()
	g := &Graph{
		Store:     store.NewMemory(store.DefaultSchema()),
		AssetRoot: root,
		Assets:    store.NewAssetDir(root),
	}

	local, err := g.Assets.LocalPath(ImageURI)
	if err != nil {
		t.Fatalf("fixture: %v", err)
	}
	if err := os.MkdirAll(filepath.Dir(local), 0755); err != nil {
		t.Fatalf("fixture: %v", err)
	}
	if err := os.WriteFile(local, []byte(ImageBytes), 0644); err != nil {
		t.Fatalf("fixture: %v", err)
	}

	create := func(entityType string, fields map[string][]types.FieldValue) *types.Entity {
		t.Helper()
		entity, err := g.Store.Create(ctx, entityType, fields)
		if err != nil {
			t.Fatalf("fixture: create %s: %v", entityType, err)
		}
		if err := g.Store.Save(ctx, entity); err != nil {
			t.Fatalf("fixture: save %s: %v", entityType, err)
		}
		return entity
	}

	g.Author = create("user", map[string][]types.FieldValue{
		"name": {types.Value("editor")},
		"mail": {types.Value("editor@example.com")},
	})
	g.Image = create("file", map[string][]types.FieldValue{
		"filename": {types.Value("cat.png")},
		"uri":      {types.Value(ImageURI)},
		"filemime": {types.Value("image/png")},
		"uid":      {types.Ref(g.Author.ID)},
	})
	g.News = create("taxonomy_term", map[string][]types.FieldValue{
		"vid":  {types.Ref("tags")},
		"name": {types.Value("news")},
	})
	g.Golang = create("taxonomy_term", map[string][]types.FieldValue{
		"vid":    {types.Ref("tags")},
		"name":   {types.Value("golang")},
		"parent": {types.Ref(g.News.ID)},
	})
	g.Paragraph = create("paragraph", map[string][]types.FieldValue{
		"type":              {types.Ref("text")},
		"field_text":        {types.Scalar(map[string]any{"value": "<p>Paragraph body</p>", "format": "basic_html"})},
		"field_media":       {mediaRef(g.Image.ID, "inline")},
		"parent_id":         {types.Value("0")},
		"parent_type":       {types.Value("node")},
		"parent_field_name": {types.Value("field_paragraphs")},
	})
	g.Article = create("node", map[string][]types.FieldValue{
		"type":             {types.Ref("article")},
		"title":            {types.Value("Cats of the world")},
		"uid":              {types.Ref(g.Author.ID)},
		"path":             {types.Scalar(map[string]any{"alias": "/cats", "langcode": "en"})},
		"body":             {types.Scalar(map[string]any{"value": "<p>Meow</p>", "summary": "", "format": "basic_html"})},
		"body_format":      {types.Ref("basic_html")},
		"field_image":      {mediaRef(g.Image.ID, "a cat")},
		"field_tags":       {types.Ref(g.News.ID), types.Ref(g.Golang.ID)},
		"field_paragraphs": {types.RevisionRef(g.Paragraph.ID, g.Paragraph.RevisionID)},
	})
	g.Related = create("node", map[string][]types.FieldValue{
		"type":          {types.Ref("page")},
		"title":         {types.Value("More cats")},
		"uid":           {types.Ref(g.Author.ID)},
		"field_tags":    {types.Ref(g.News.ID)},
		"field_related": {types.Ref(g.Article.ID)},
	})

	g.Article.Set("field_related", types.Ref(g.Related.ID))
	if err := g.Store.Save(ctx, g.Article); err != nil {
		t.Fatalf("fixture: link related: %v", err)
	}
	g.Paragraph.Set("parent_id", types.Value(g.Article.ID))
	if err := g.Store.Save(ctx, g.Paragraph); err != nil {
		t.Fatalf("fixture: link paragraph parent: %v", err)
	}
	// The article pins the paragraph revision it was saved with.
	g.Article.Set("field_paragraphs", types.RevisionRef(g.Paragraph.ID, g.Paragraph.RevisionID))
	if err := g.Store.Save(ctx, g.Article); err != nil {
		t.Fatalf("fixture: pin paragraph revision: %v", err)
	}

	return g
}

func mediaRef(fileID, alt string) types.FieldValue {
	v := types.Ref(fileID)
	v.Props = map[string]any{"alt": alt, "width": "640", "height": "480"}
	return v
}

// NewDestination returns an empty store and asset directory to import into.
func NewDestination(t testing.TB) (*store.Store, *store.AssetDir) {
	t.Helper()
	return store.NewMemory(store.DefaultSchema()), store.NewAssetDir(t.TempDir())
}

// Ref returns the type/id pair of an entity.
func Ref(e *types.Entity) types.NodeRef {
	return types.NodeRef{Type: e.Type, ID: e.ID}
}
