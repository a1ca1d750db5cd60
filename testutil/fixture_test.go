package testutil

import (
	"context"
	"io"
	"testing"
)

func TestLoadGraph(t *testing.T) {
	g := LoadGraph(t)
	ctx := context.Background()

	article, err := g.Store.Load(ctx, "node", g.Article.ID)
	if err != nil {
		t.Fatalf("article missing: %v", err)
	}
	related := article.Get("field_related")
	if len(related) != 1 || related[0].Ref.TargetID != g.Related.ID {
		t.Errorf("article does not point at related node: %+v", related)
	}

	paragraphs := article.Get("field_paragraphs")
	if len(paragraphs) != 1 || paragraphs[0].Ref.TargetRevisionID != g.Paragraph.RevisionID {
		t.Errorf("paragraph revision not pinned: %+v", paragraphs)
	}

	r, err := g.Assets.Open(ImageURI)
	if err != nil {
		t.Fatalf("image payload missing: %v", err)
	}
	defer func() { _ = r.Close() }()
	data, _ := io.ReadAll(r)
	if string(data) != ImageBytes {
		t.Errorf("unexpected image payload %q", data)
	}

	if n := g.Store.Count(""); n != 7 {
		t.Errorf("expected 7 entities, got %d", n)
	}
}
