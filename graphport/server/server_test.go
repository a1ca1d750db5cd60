package server_test

import (
	"bytes"
	"encoding/json"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/arthur-debert/graphport/graphport/export"
	imports "github.com/arthur-debert/graphport/graphport/import"
	"github.com/arthur-debert/graphport/graphport/metrics"
	"github.com/arthur-debert/graphport/graphport/server"
	"github.com/arthur-debert/graphport/graphport/store"
	"github.com/arthur-debert/graphport/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type harness struct {
	graph  *testutil.Graph
	target *store.Store
	server *httptest.Server
}

// newHarness serves exports of the fixture graph and imports into an empty
// store.
func newHarness(t *testing.T) *harness {
	t.Helper()
	g := testutil.LoadGraph(t)
	target := store.NewMemory(store.DefaultSchema())
	m := metrics.New()

	exporter := export.New(g.Store,
		export.WithAssets(g.Assets),
		export.WithScratchDir(t.TempDir()),
		export.WithMetrics(m))
	planner := imports.NewPlanner(target, store.NewAssetDir(t.TempDir()), imports.WithMetrics(m))

	srv := httptest.NewServer(server.New(exporter, planner,
		server.WithScratchDir(t.TempDir()),
		server.WithMetrics(m)).Router())
	t.Cleanup(srv.Close)

	return &harness{graph: g, target: target, server: srv}
}

func (h *harness) get(t *testing.T, path string) (*http.Response, []byte) {
	t.Helper()
	resp, err := http.Get(h.server.URL + path)
	require.NoError(t, err)
	defer func() { _ = resp.Body.Close() }()
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	return resp, body
}

func (h *harness) upload(t *testing.T, filename string, content []byte, fields map[string]string) (*http.Response, server.ImportResponse) {
	t.Helper()
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	for k, v := range fields {
		require.NoError(t, mw.WriteField(k, v))
	}
	part, err := mw.CreateFormFile("file", filename)
	require.NoError(t, err)
	_, err = part.Write(content)
	require.NoError(t, err)
	require.NoError(t, mw.Close())

	resp, err := http.Post(h.server.URL+"/import", mw.FormDataContentType(), &buf)
	require.NoError(t, err)
	defer func() { _ = resp.Body.Close() }()

	var out server.ImportResponse
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&out))
	return resp, out
}

func TestHealthCheck(t *testing.T) {
	h := newHarness(t)
	resp, body := h.get(t, "/health")
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.JSONEq(t, `{"status":"ok"}`, string(body))
}

func TestExportDownload(t *testing.T) {
	h := newHarness(t)
	resp, body := h.get(t, "/export/node/"+h.graph.Article.ID+"?filename=cats")

	require.Equal(t, http.StatusOK, resp.StatusCode, string(body))
	assert.Equal(t, export.BundleContentType, resp.Header.Get("Content-Type"))
	assert.Equal(t, "attachment; filename=cats.tgz", resp.Header.Get("Content-Disposition"))
	assert.Equal(t, []byte{0x1f, 0x8b}, body[:2], "body should be a gzip stream")
}

func TestExportErrors(t *testing.T) {
	h := newHarness(t)
	tests := []struct {
		name   string
		path   string
		status int
	}{
		{"missing entity", "/export/node/999", http.StatusNotFound},
		{"configuration root", "/export/node_type/article", http.StatusUnprocessableEntity},
		{"bad obfuscation pattern", "/export/node/" + h.graph.Article.ID + "?obfuscate=node.title", http.StatusBadRequest},
		{"bad boolean", "/export/node/" + h.graph.Article.ID + "?blob=maybe", http.StatusBadRequest},
		{"blob without backend", "/export/node/" + h.graph.Article.ID + "?blob=1", http.StatusInternalServerError},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp, body := h.get(t, tt.path)
			assert.Equal(t, tt.status, resp.StatusCode, string(body))

			var errResp server.ErrorResponse
			require.NoError(t, json.Unmarshal(body, &errResp))
			assert.NotEmpty(t, errResp.Error)
		})
	}
}

func TestExportThenImport(t *testing.T) {
	h := newHarness(t)
	resp, archive := h.get(t, "/export/node/"+h.graph.Article.ID)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	resp, out := h.upload(t, "cats.tgz", archive, map[string]string{"uri": "/imported-cats"})
	require.Equal(t, http.StatusOK, resp.StatusCode, out.Error)
	require.NotNil(t, out.ImportResult)

	assert.Equal(t, imports.StateDone, out.State)
	assert.Empty(t, out.Error)
	assert.Equal(t, 6, out.Summary.Created)
	assert.Equal(t, 2, h.target.Count("node"))
	assert.Equal(t, 1, h.target.Count("file"))
	assert.Equal(t, 2, h.target.Count("taxonomy_term"))
	assert.Equal(t, 0, h.target.Count("user"))
}

func TestImportDryRun(t *testing.T) {
	h := newHarness(t)
	_, archive := h.get(t, "/export/node/"+h.graph.Article.ID)

	resp, out := h.upload(t, "cats.tar.gz", archive, map[string]string{"dry_run": "true"})
	require.Equal(t, http.StatusOK, resp.StatusCode, out.Error)
	assert.Equal(t, imports.StateDone, out.State)
	assert.Len(t, out.Planned, 6)
	assert.Empty(t, out.Created)
	assert.Equal(t, 0, h.target.Count("node"))
}

func TestImportErrors(t *testing.T) {
	h := newHarness(t)

	resp, out := h.upload(t, "notes.txt", []byte("hello"), nil)
	assert.Equal(t, http.StatusUnsupportedMediaType, resp.StatusCode)
	assert.Contains(t, out.Error, "unsupported")

	resp, out = h.upload(t, "broken.yml", []byte("- entity_type: [unclosed"), nil)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.NotEmpty(t, out.Error)
	assert.Nil(t, out.ImportResult)

	resp, out = h.upload(t, "cats.yml", []byte("[]"), map[string]string{"remove_timestamp": "sometimes"})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.Contains(t, out.Error, "remove_timestamp")
}

func TestMetricsEndpoint(t *testing.T) {
	h := newHarness(t)
	h.get(t, "/export/node/"+h.graph.Article.ID)

	resp, body := h.get(t, "/metrics")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.True(t, strings.Contains(string(body), "graphport_exports_total"), "exports counter missing")
}
