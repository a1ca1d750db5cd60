// Package metrics exposes Prometheus instrumentation for export and import
// runs. A nil *Metrics is valid and records nothing.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds the collectors of one process, on a private registry.
type Metrics struct {
	registry *prometheus.Registry

	exportsTotal    *prometheus.CounterVec
	exportRecords   prometheus.Histogram
	exportDuration  *prometheus.HistogramVec
	importsTotal    *prometheus.CounterVec
	importedTotal   *prometheus.CounterVec
	importWarnings  *prometheus.CounterVec
	importDuration  prometheus.Histogram
	blobTransfers   *prometheus.CounterVec
	blobRetriesUsed prometheus.Histogram
}

// New registers the collectors on a fresh registry.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	factory := promauto.With(reg)

	return &Metrics{
		registry: reg,

		// exportsTotal counts export runs by mode and result
		exportsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "graphport_exports_total",
			Help: "Total export runs by mode and result",
		}, []string{"mode", "result"}),

		exportRecords: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "graphport_export_records",
			Help:    "Number of records per successful export",
			Buckets: []float64{1, 2, 5, 10, 25, 50, 100, 250, 1000},
		}),

		exportDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "graphport_export_duration_seconds",
			Help:    "Export duration in seconds",
			Buckets: prometheus.ExponentialBuckets(0.005, 2, 12), // 5ms to ~10s
		}, []string{"mode"}),

		importsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "graphport_imports_total",
			Help: "Total import runs by final state",
		}, []string{"state"}),

		importedTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "graphport_imported_entities_total",
			Help: "Entities created by imports, by entity type",
		}, []string{"entity_type"}),

		importWarnings: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "graphport_import_warnings_total",
			Help: "Import warnings by kind",
		}, []string{"kind"}),

		importDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "graphport_import_duration_seconds",
			Help:    "Import duration in seconds",
			Buckets: prometheus.ExponentialBuckets(0.005, 2, 12),
		}),

		blobTransfers: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "graphport_blob_transfers_total",
			Help: "Blob transfers by operation and result",
		}, []string{"operation", "result"}),

		blobRetriesUsed: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "graphport_blob_download_attempts",
			Help:    "Attempts used per blob download",
			Buckets: []float64{1, 2, 3, 5},
		}),
	}
}

// Registry returns the registry holding the collectors.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Handler serves the collectors in the Prometheus text format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

func result(err error) string {
	if err != nil {
		return "error"
	}
	return "ok"
}

// ObserveExport records one export run.
func (m *Metrics) ObserveExport(mode string, records int, elapsed time.Duration, err error) {
	if m == nil {
		return
	}
	m.exportsTotal.WithLabelValues(mode, result(err)).Inc()
	m.exportDuration.WithLabelValues(mode).Observe(elapsed.Seconds())
	if err == nil {
		m.exportRecords.Observe(float64(records))
	}
}

// ObserveImport records one import run by its final state.
func (m *Metrics) ObserveImport(state string, elapsed time.Duration) {
	if m == nil {
		return
	}
	m.importsTotal.WithLabelValues(state).Inc()
	m.importDuration.Observe(elapsed.Seconds())
}

// EntityImported counts one created entity.
func (m *Metrics) EntityImported(entityType string) {
	if m == nil {
		return
	}
	m.importedTotal.WithLabelValues(entityType).Inc()
}

// ImportWarning counts one ledger warning.
func (m *Metrics) ImportWarning(kind string) {
	if m == nil {
		return
	}
	m.importWarnings.WithLabelValues(kind).Inc()
}

// BlobUpload counts one upload.
func (m *Metrics) BlobUpload(err error) {
	if m == nil {
		return
	}
	m.blobTransfers.WithLabelValues("upload", result(err)).Inc()
}

// BlobDownload counts one download and the attempts it used.
func (m *Metrics) BlobDownload(attempts int, err error) {
	if m == nil {
		return
	}
	m.blobTransfers.WithLabelValues("download", result(err)).Inc()
	if attempts > 0 {
		m.blobRetriesUsed.Observe(float64(attempts))
	}
}
