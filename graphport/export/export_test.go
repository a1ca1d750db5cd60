package export_test

import (
	"archive/tar"
	"bytes"
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/arthur-debert/graphport/formats"
	"github.com/arthur-debert/graphport/graphport/blob"
	"github.com/arthur-debert/graphport/graphport/export"
	"github.com/arthur-debert/graphport/graphport/hooks"
	"github.com/arthur-debert/graphport/graphport/portableid"
	"github.com/arthur-debert/graphport/graphport/store"
	"github.com/arthur-debert/graphport/testutil"
	"github.com/arthur-debert/graphport/types"
	"github.com/klauspost/compress/gzip"
)

func readBundle(t *testing.T, data []byte) map[string][]byte {
	t.Helper()
	gz, err := gzip.NewReader(bytes.NewReader(data))
	if err != nil {
		t.Fatalf("not a gzip stream: %v", err)
	}
	tr := tar.NewReader(gz)
	files := make(map[string][]byte)
	for {
		header, err := tr.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			t.Fatalf("bad tar stream: %v", err)
		}
		if header.Typeflag == tar.TypeDir {
			continue
		}
		content, _ := io.ReadAll(tr)
		files[header.Name] = content
	}
	return files
}

func recordsByType(records []types.ExportRecord) map[string][]types.ExportRecord {
	out := make(map[string][]types.ExportRecord)
	for _, r := range records {
		out[r.EntityType] = append(out[r.EntityType], r)
	}
	return out
}

func TestSerializeRewritesReferences(t *testing.T) {
	g := testutil.LoadGraph(t)
	s := export.NewSerializer(g.Store, portableid.NewRegistry(), nil, nil)

	record, _, err := s.Serialize(context.Background(), "node", g.Article.ID)
	if err != nil {
		t.Fatalf("serialize failed: %v", err)
	}

	wantID := portableid.Hash("node", g.Article.ID)
	if record.EntityID != wantID {
		t.Errorf("expected entity_id %s, got %s", wantID, record.EntityID)
	}
	if nid, _ := record.First("nid"); nid.String() != string(wantID) {
		t.Errorf("primary key not hashed: %v", nid)
	}

	image, _ := record.First("field_image")
	if image.Ref.TargetID != string(portableid.Hash("file", g.Image.ID)) {
		t.Errorf("image reference not hashed: %+v", image)
	}
	if image.Props["alt"] != "a cat" {
		t.Errorf("reference props lost: %+v", image.Props)
	}

	paragraph, _ := record.First("field_paragraphs")
	if paragraph.Ref.TargetRevisionID != "" {
		t.Errorf("revision reference leaked: %+v", paragraph.Ref)
	}
	if paragraph.Ref.TargetID != string(portableid.Hash("paragraph", g.Paragraph.ID)) {
		t.Errorf("paragraph reference not hashed: %+v", paragraph.Ref)
	}

	// Configuration references pass through untouched.
	if bundle, _ := record.First("type"); bundle.Ref.TargetID != "article" {
		t.Errorf("config reference rewritten: %+v", bundle)
	}
	if format, _ := record.First("body_format"); format.Ref.TargetID != "basic_html" {
		t.Errorf("config reference rewritten: %+v", format)
	}

	for _, field := range []string{"vid", "uuid"} {
		if _, ok := record.Representation[field]; ok {
			t.Errorf("store-local field %s exported", field)
		}
	}

	// No local primary key survives for content references.
	for field, values := range record.Representation {
		for _, v := range values {
			if v.IsReference() && field != "type" && field != "body_format" && len(v.Ref.TargetID) != portableid.Length {
				t.Errorf("field %s kept a local key: %s", field, v.Ref.TargetID)
			}
		}
	}
}

func TestSerializeFileKeepsUUID(t *testing.T) {
	g := testutil.LoadGraph(t)
	s := export.NewSerializer(g.Store, nil, nil, nil)

	record, _, err := s.Serialize(context.Background(), "file", g.Image.ID)
	if err != nil {
		t.Fatal(err)
	}
	if uuid, ok := record.First("uuid"); !ok || uuid.String() != g.Image.UUID {
		t.Errorf("file uuid not kept: %v", record.Representation["uuid"])
	}

	paragraph, _, err := s.Serialize(context.Background(), "paragraph", g.Paragraph.ID)
	if err != nil {
		t.Fatal(err)
	}
	for _, field := range []string{"uuid", "revision_id"} {
		if _, ok := paragraph.Representation[field]; ok {
			t.Errorf("paragraph exported %s", field)
		}
	}
}

func TestSerializeKeepsBundleKey(t *testing.T) {
	g := testutil.LoadGraph(t)
	s := export.NewSerializer(g.Store, nil, nil, nil)

	// A term's vocabulary shares its field name with the node revision key.
	record, _, err := s.Serialize(context.Background(), "taxonomy_term", g.Golang.ID)
	if err != nil {
		t.Fatal(err)
	}
	vid, ok := record.First("vid")
	if !ok || !vid.IsReference() || vid.Ref.TargetID != "tags" {
		t.Errorf("term vocabulary not exported: %v", record.Representation["vid"])
	}
	parent, _ := record.First("parent")
	if parent.Ref.TargetID != string(portableid.Hash("taxonomy_term", g.News.ID)) {
		t.Errorf("term parent not hashed: %+v", parent)
	}

	// The page bundle walks its tags and related nodes like an article does.
	page, _, err := s.Serialize(context.Background(), "node", g.Related.ID)
	if err != nil {
		t.Fatal(err)
	}
	if related, _ := page.First("field_related"); related.Ref.TargetID != string(portableid.Hash("node", g.Article.ID)) {
		t.Errorf("page reference not hashed: %+v", related)
	}
	if _, ok := page.Representation["vid"]; ok {
		t.Error("node revision key exported")
	}
}

func TestSerializeVanishedEntity(t *testing.T) {
	g := testutil.LoadGraph(t)
	s := export.NewSerializer(g.Store, nil, nil, nil)

	_, _, err := s.Serialize(context.Background(), "node", "999")
	var graphErr *types.GraphError
	if !errors.As(err, &graphErr) {
		t.Fatalf("expected GraphError, got %v", err)
	}
}

func TestExportPackage(t *testing.T) {
	g := testutil.LoadGraph(t)
	e := export.New(g.Store, export.WithAssets(g.Assets), export.WithScratchDir(t.TempDir()))

	var buf bytes.Buffer
	result, err := e.Export(context.Background(), &buf, export.Request{
		Roots:    []types.NodeRef{testutil.Ref(g.Article)},
		Filename: "cats export",
	})
	if err != nil {
		t.Fatalf("export failed: %v", err)
	}

	if result.Filename != "cats-export.tgz" || result.ContentType != export.BundleContentType {
		t.Errorf("unexpected result: %s %s", result.Filename, result.ContentType)
	}
	if len(result.Records) != 6 {
		t.Fatalf("expected 6 records (user excluded), got %d", len(result.Records))
	}
	if result.Records[0].Level != 0 || result.Records[0].EntityType != "node" {
		t.Errorf("root must come first at level 0: %+v", result.Records[0])
	}
	if _, ok := recordsByType(result.Records)["user"]; ok {
		t.Error("user exported without IncludeUser")
	}

	files := readBundle(t, buf.Bytes())
	docName := string(result.Records[0].EntityID) + ".yml"
	doc, ok := files[docName]
	if !ok {
		t.Fatalf("document %s missing from bundle: %v", docName, files)
	}
	if got := string(files["files/2024-01/cat.png"]); got != testutil.ImageBytes {
		t.Errorf("payload not bundled, got %q", got)
	}

	records, err := formats.YAML.Unmarshal(doc)
	if err != nil {
		t.Fatalf("bundled document unreadable: %v", err)
	}
	file := recordsByType(records)["file"][0]
	if uri, _ := file.First("uri"); uri.String() != "2024-01/cat.png" {
		t.Errorf("expected relative uri, got %q", uri.String())
	}
}

func TestExportBlob(t *testing.T) {
	g := testutil.LoadGraph(t)
	objects := t.TempDir()
	backend, err := blob.NewLocal(objects, "site")
	if err != nil {
		t.Fatal(err)
	}
	e := export.New(g.Store, export.WithAssets(g.Assets), export.WithBlob(backend))

	var buf bytes.Buffer
	result, err := e.Export(context.Background(), &buf, export.Request{
		Roots:    []types.NodeRef{testutil.Ref(g.Article)},
		ToBlob:   true,
		Filename: "run1",
	})
	if err != nil {
		t.Fatalf("export failed: %v", err)
	}
	if result.Filename != "run1.yml" || result.ContentType != formats.YAML.ContentType {
		t.Errorf("unexpected result: %s %s", result.Filename, result.ContentType)
	}

	records, err := formats.YAML.Unmarshal(buf.Bytes())
	if err != nil {
		t.Fatalf("document unreadable: %v", err)
	}
	uri, _ := recordsByType(records)["file"][0].First("uri")
	if uri.String() != "local://site/assets/run1/2024-01/cat.png" {
		t.Errorf("unexpected pseudo-path %q", uri.String())
	}
	data, err := os.ReadFile(filepath.Join(objects, "site", "assets", "run1", "2024-01", "cat.png"))
	if err != nil || string(data) != testutil.ImageBytes {
		t.Errorf("payload not uploaded: %v", err)
	}

	if _, err := export.New(g.Store).Export(context.Background(), io.Discard, export.Request{
		Roots:  []types.NodeRef{testutil.Ref(g.Article)},
		ToBlob: true,
	}); err == nil {
		t.Error("expected error for blob export without backend")
	}
}

func TestExportSharedTagOnce(t *testing.T) {
	ctx := context.Background()
	s := store.NewMemory(store.DefaultSchema())
	save := func(entityType string, fields map[string][]types.FieldValue) *types.Entity {
		entity, err := s.Create(ctx, entityType, fields)
		if err != nil {
			t.Fatal(err)
		}
		if err := s.Save(ctx, entity); err != nil {
			t.Fatal(err)
		}
		return entity
	}
	tag := save("taxonomy_term", map[string][]types.FieldValue{"vid": {types.Ref("tags")}, "name": {types.Value("shared")}})
	first := save("node", map[string][]types.FieldValue{"type": {types.Ref("article")}, "field_tags": {types.Ref(tag.ID)}})
	second := save("node", map[string][]types.FieldValue{"type": {types.Ref("article")}, "field_tags": {types.Ref(tag.ID)}})

	records, err := export.New(s).Records(ctx, export.Request{
		Roots: []types.NodeRef{testutil.Ref(first), testutil.Ref(second)},
	})
	if err != nil {
		t.Fatal(err)
	}
	byType := recordsByType(records)
	if len(byType["taxonomy_term"]) != 1 || len(byType["node"]) != 2 {
		t.Fatalf("expected 2 nodes and 1 tag, got %d/%d", len(byType["node"]), len(byType["taxonomy_term"]))
	}
	if byType["taxonomy_term"][0].Level <= 0 {
		t.Errorf("shared tag must sit below both roots, level %d", byType["taxonomy_term"][0].Level)
	}
}

func TestExportObfuscation(t *testing.T) {
	g := testutil.LoadGraph(t)
	e := export.New(g.Store)

	records, err := e.Records(context.Background(), export.Request{
		Roots:     []types.NodeRef{testutil.Ref(g.Article)},
		Obfuscate: []string{"node.article.title", "node.*.body"},
	})
	if err != nil {
		t.Fatal(err)
	}

	root := records[0]
	if title, _ := root.First("title"); title.String() != export.Mask("Cats of the world") {
		t.Errorf("title not masked: %q", title.String())
	}
	body, _ := root.First("body")
	if body.Props["value"] != export.Mask("<p>Meow</p>") || body.Props["format"] != "basic_html" {
		t.Errorf("body masked incorrectly: %+v", body.Props)
	}
	for _, r := range recordsByType(records)["taxonomy_term"] {
		if name, _ := r.First("name"); len(name.String()) == 16 {
			t.Errorf("unselected field masked: %q", name.String())
		}
	}

	if _, err := e.Records(context.Background(), export.Request{
		Roots:     []types.NodeRef{testutil.Ref(g.Article)},
		Obfuscate: []string{"node.title"},
	}); err == nil {
		t.Error("expected error for malformed pattern")
	}
}

func TestExportIncludeUserAndHooks(t *testing.T) {
	g := testutil.LoadGraph(t)

	reg := hooks.NewRegistry()
	reg.RegisterExportAlterer(hooks.ExportAltererFunc(func(ctx context.Context, record *types.ExportRecord, source *types.Entity) error {
		record.Representation["exported_by"] = []types.FieldValue{types.Value("test")}
		return nil
	}))

	records, err := export.New(g.Store, export.WithHooks(reg)).Records(context.Background(), export.Request{
		Roots:       []types.NodeRef{testutil.Ref(g.Article)},
		IncludeUser: true,
	})
	if err != nil {
		t.Fatal(err)
	}
	if len(recordsByType(records)["user"]) != 1 {
		t.Error("user not exported with IncludeUser")
	}
	for _, r := range records {
		if v, _ := r.First("exported_by"); v.String() != "test" {
			t.Errorf("alter hook not applied to %s", r.EntityType)
		}
	}
}

func TestExportErrors(t *testing.T) {
	g := testutil.LoadGraph(t)
	e := export.New(g.Store, export.WithAssets(g.Assets))

	_, err := e.Export(context.Background(), io.Discard, export.Request{})
	if err == nil {
		t.Error("expected error without roots")
	}

	_, err = e.Export(context.Background(), io.Discard, export.Request{
		Roots: []types.NodeRef{{Type: "node", ID: "404"}},
	})
	var graphErr *types.GraphError
	if !errors.As(err, &graphErr) {
		t.Errorf("expected GraphError for missing root, got %v", err)
	}

	_, err = e.Export(context.Background(), io.Discard, export.Request{
		Roots: []types.NodeRef{{Type: "node_type", ID: "article"}},
	})
	if !errors.Is(err, export.ErrNothingToExport) {
		t.Errorf("expected ErrNothingToExport, got %v", err)
	}

	// A missing payload aborts the package and leaves no archive behind.
	local, _ := g.Assets.LocalPath(testutil.ImageURI)
	if err := os.Remove(local); err != nil {
		t.Fatal(err)
	}
	out := t.TempDir()
	_, err = e.ExportToPath(context.Background(), filepath.Join(out, "broken.tgz"), export.Request{
		Roots: []types.NodeRef{testutil.Ref(g.Article)},
	})
	if err == nil {
		t.Fatal("expected error for missing payload")
	}
	entries, _ := os.ReadDir(out)
	if len(entries) != 0 {
		t.Errorf("partial archive left behind: %v", entries)
	}
}

// rawAssets serves one payload for any uri without resolving it.
type rawAssets struct{ payload string }

func (rawAssets) LocalPath(uri string) (string, error) {
	return "", errors.New("no local paths")
}

func (a rawAssets) Open(uri string) (io.ReadCloser, error) {
	return io.NopCloser(strings.NewReader(a.payload)), nil
}

func (rawAssets) Save(uri string, data io.Reader) (string, error) {
	return uri, nil
}

func TestExportRejectsEscapingFileURI(t *testing.T) {
	ctx := context.Background()
	source := store.NewMemory(store.DefaultSchema())
	save := func(entityType string, fields map[string][]types.FieldValue) *types.Entity {
		entity, err := source.Create(ctx, entityType, fields)
		if err != nil {
			t.Fatal(err)
		}
		if err := source.Save(ctx, entity); err != nil {
			t.Fatal(err)
		}
		return entity
	}
	file := save("file", map[string][]types.FieldValue{"uri": {types.Value("public://../../../../escape.png")}})

	scratch := filepath.Join(t.TempDir(), "a", "b", "c")
	e := export.New(source, export.WithAssets(rawAssets{payload: "x"}), export.WithScratchDir(scratch))
	_, err := e.Export(ctx, io.Discard, export.Request{Roots: []types.NodeRef{testutil.Ref(file)}})

	var graphErr *types.GraphError
	if !errors.As(err, &graphErr) {
		t.Fatalf("expected GraphError for escaping uri, got %v", err)
	}
	if !strings.Contains(err.Error(), "escapes the asset directory") {
		t.Errorf("unexpected error: %v", err)
	}
	if _, err := os.Stat(filepath.Join(filepath.Dir(scratch), "escape.png")); !os.IsNotExist(err) {
		t.Errorf("payload written outside staging: %v", err)
	}
}

func TestExportToPath(t *testing.T) {
	g := testutil.LoadGraph(t)
	e := export.New(g.Store, export.WithAssets(g.Assets), export.WithScratchDir(t.TempDir()))
	out := t.TempDir()

	result, err := e.ExportToPath(context.Background(), out, export.Request{
		Roots:    []types.NodeRef{testutil.Ref(g.Article)},
		Filename: "cats",
	})
	if err != nil {
		t.Fatal(err)
	}
	if result.Filename != filepath.Join(out, "cats.tgz") {
		t.Errorf("unexpected path %s", result.Filename)
	}
	data, err := os.ReadFile(result.Filename)
	if err != nil {
		t.Fatal(err)
	}
	if len(readBundle(t, data)) != 2 {
		t.Errorf("expected document and payload in bundle")
	}
}

func TestTree(t *testing.T) {
	g := testutil.LoadGraph(t)
	root, err := export.New(g.Store).Tree(context.Background(), "node", g.Article.ID, false)
	if err != nil {
		t.Fatal(err)
	}
	if root.Count() != 6 {
		t.Errorf("expected 6 nodes without user, got %d", root.Count())
	}
	if !strings.Contains(root.Name, "Cats") {
		t.Errorf("unexpected root name %q", root.Name)
	}
}
