package metrics

import (
	"errors"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
)

func TestObserveExport(t *testing.T) {
	m := New()
	m.ObserveExport("package", 4, 20*time.Millisecond, nil)
	m.ObserveExport("blob", 0, time.Millisecond, errors.New("boom"))

	assert.Equal(t, 1.0, testutil.ToFloat64(m.exportsTotal.WithLabelValues("package", "ok")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.exportsTotal.WithLabelValues("blob", "error")))
}

func TestImportCounters(t *testing.T) {
	m := New()
	m.EntityImported("node")
	m.EntityImported("node")
	m.ImportWarning("unresolved_reference")
	m.ObserveImport("done", time.Second)
	m.BlobDownload(3, nil)

	assert.Equal(t, 2.0, testutil.ToFloat64(m.importedTotal.WithLabelValues("node")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.importWarnings.WithLabelValues("unresolved_reference")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.importsTotal.WithLabelValues("done")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.blobTransfers.WithLabelValues("download", "ok")))
}

func TestNilMetricsIsNoop(t *testing.T) {
	var m *Metrics
	m.ObserveExport("package", 1, time.Second, nil)
	m.ObserveImport("failed", time.Second)
	m.EntityImported("node")
	m.ImportWarning("x")
	m.BlobUpload(nil)
	m.BlobDownload(1, nil)
}

func TestHandler(t *testing.T) {
	m := New()
	m.ObserveExport("package", 2, time.Millisecond, nil)

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
	assert.Equal(t, 200, rec.Code)
	assert.True(t, strings.Contains(rec.Body.String(), "graphport_exports_total"))
}
