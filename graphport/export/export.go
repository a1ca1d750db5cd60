// Package export writes an entity and everything it references into a
// portable archive.
//
// An export runs in three steps:
// 1. Walk the reference graph of each root and flatten it into levels
// 2. Serialize every entity into a record with portable identifiers
// 3. Package the records: a tgz bundle holding the YAML document and the
// file payloads, or, in blob mode, the YAML document alone with payloads
// uploaded to the blob backend
//
// Nothing is written to the output until every record has been serialized
// and every payload staged, so a failure never produces a partial archive.
package export

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/arthur-debert/graphport/formats"
	"github.com/arthur-debert/graphport/graphport/blob"
	"github.com/arthur-debert/graphport/graphport/hooks"
	"github.com/arthur-debert/graphport/graphport/metrics"
	"github.com/arthur-debert/graphport/graphport/portableid"
	"github.com/arthur-debert/graphport/graphport/store"
	"github.com/arthur-debert/graphport/graphport/tree"
	"github.com/arthur-debert/graphport/types"
	"github.com/google/uuid"
)

const (
	// BundleContentType is the media type of tgz packages.
	BundleContentType = "application/tgz"

	// UserType is excluded from the graph unless a request includes users.
	UserType = "user"

	// FilesDir is the bundle directory holding file payloads.
	FilesDir = "files"

	stagingDir = "graphport-export"
)

// ErrNothingToExport is returned when every requested root was pruned.
var ErrNothingToExport = errors.New("nothing to export")

// Request selects what to export and how.
type Request struct {
	// Roots are exported in order; entities reachable from several roots
	// are exported once.
	Roots []types.NodeRef

	// ToBlob uploads payloads to the blob backend and emits the document only.
	ToBlob bool

	// IncludeUser keeps user entities in the graph.
	IncludeUser bool

	// Obfuscate lists "type.bundle.field" patterns whose text is masked.
	Obfuscate []string

	// Filename is the package base name; a random token when empty.
	Filename string
}

// Mode returns "blob" or "package".
func (r Request) Mode() string {
	if r.ToBlob {
		return "blob"
	}
	return "package"
}

// Result describes a produced export.
type Result struct {
	Filename    string
	ContentType string
	Records     []types.ExportRecord
}

// Exporter produces archives from a content store.
type Exporter struct {
	store      types.Store
	assets     types.AssetStore
	blob       blob.Backend
	hooks      *hooks.Registry
	namer      types.Namer
	exclude    []string
	scratchDir string
	metrics    *metrics.Metrics
	logger     *slog.Logger
}

// Option configures an Exporter.
type Option func(*Exporter)

// WithAssets sets where file payloads are read from.
func WithAssets(a types.AssetStore) Option {
	return func(e *Exporter) { e.assets = a }
}

// WithBlob sets the blob backend used by blob-mode exports.
func WithBlob(b blob.Backend) Option {
	return func(e *Exporter) { e.blob = b }
}

// WithHooks sets the extension registry.
func WithHooks(r *hooks.Registry) Option {
	return func(e *Exporter) { e.hooks = r }
}

// WithNamer sets the tree node namer.
func WithNamer(n types.Namer) Option {
	return func(e *Exporter) { e.namer = n }
}

// WithExcludedTypes prunes entity types below the roots.
func WithExcludedTypes(entityTypes ...string) Option {
	return func(e *Exporter) { e.exclude = append(e.exclude, entityTypes...) }
}

// WithScratchDir sets the parent of per-run staging directories.
func WithScratchDir(dir string) Option {
	return func(e *Exporter) { e.scratchDir = dir }
}

// WithMetrics sets the metrics recorder.
func WithMetrics(m *metrics.Metrics) Option {
	return func(e *Exporter) { e.metrics = m }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(e *Exporter) { e.logger = l }
}

// New creates an exporter reading from store.
func New(store types.Store, opts ...Option) *Exporter {
	e := &Exporter{
		store:      store,
		scratchDir: os.TempDir(),
		logger:     slog.Default(),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

func (e *Exporter) walker(includeUser bool) *tree.Walker {
	exclude := append([]string(nil), e.exclude...)
	if !includeUser {
		exclude = append(exclude, UserType)
	}
	opts := []tree.Option{
		tree.WithExcludedTypes(exclude...),
		tree.WithHooks(e.hooks),
		tree.WithLogger(e.logger),
	}
	if e.namer != nil {
		opts = append(opts, tree.WithNamer(e.namer))
	}
	return tree.New(e.store, opts...)
}

// Tree returns the dependency tree an export of the entity would cover.
func (e *Exporter) Tree(ctx context.Context, entityType, id string, includeUser bool) (*types.DependencyNode, error) {
	node, err := e.walker(includeUser).Build(ctx, entityType, id, nil)
	if err != nil {
		return nil, err
	}
	if node == nil {
		return nil, fmt.Errorf("%s %s: %w", entityType, id, ErrNothingToExport)
	}
	return node, nil
}

// Records walks and serializes the request's roots without touching any
// payload. File records still hold their public:// uri.
func (e *Exporter) Records(ctx context.Context, req Request) ([]types.ExportRecord, error) {
	if len(req.Roots) == 0 {
		return nil, fmt.Errorf("at least one root entity is required")
	}

	walker := e.walker(req.IncludeUser)
	visited := make(types.Visited)
	var roots []*types.DependencyNode
	for _, ref := range req.Roots {
		node, err := walker.Build(ctx, ref.Type, ref.ID, visited)
		if err != nil {
			return nil, err
		}
		if node == nil {
			e.logger.Info("root pruned from export", "type", ref.Type, "id", ref.ID)
			continue
		}
		roots = append(roots, node)
	}
	if len(roots) == 0 {
		return nil, ErrNothingToExport
	}

	obfuscator, err := NewObfuscator(req.Obfuscate...)
	if err != nil {
		return nil, err
	}
	reg := e.hooks
	if !obfuscator.Empty() {
		reg = reg.WithExportAlterers(obfuscator)
	}
	serializer := NewSerializer(e.store, portableid.NewRegistry(), reg, e.logger)

	entries := tree.Flatten(roots...)
	records := make([]types.ExportRecord, 0, len(entries))
	for _, entry := range entries {
		record, _, err := serializer.Serialize(ctx, entry.Node.Type, entry.Node.ID)
		if err != nil {
			return nil, err
		}
		record.Level = entry.Level
		records = append(records, *record)
	}
	return records, nil
}

// Export writes the archive for req to w.
func (e *Exporter) Export(ctx context.Context, w io.Writer, req Request) (result *Result, err error) {
	start := time.Now()
	defer func() {
		count := 0
		if result != nil {
			count = len(result.Records)
		}
		e.metrics.ObserveExport(req.Mode(), count, time.Since(start), err)
	}()

	if req.ToBlob && e.blob == nil {
		return nil, fmt.Errorf("blob export requested but no blob backend is configured")
	}

	records, err := e.Records(ctx, req)
	if err != nil {
		return nil, err
	}
	token := packageToken(req.Filename)

	if req.ToBlob {
		if err := e.uploadFiles(ctx, records, token); err != nil {
			return nil, err
		}
		data, err := formats.YAML.Marshal(records)
		if err != nil {
			return nil, err
		}
		if _, err := w.Write(data); err != nil {
			return nil, fmt.Errorf("failed to write document: %w", err)
		}
		e.logger.Info("exported document", "records", len(records), "filename", token+formats.YAML.Extension)
		return &Result{Filename: token + formats.YAML.Extension, ContentType: formats.YAML.ContentType, Records: records}, nil
	}

	staging, cleanup, err := e.newStaging()
	if err != nil {
		return nil, err
	}
	defer cleanup()

	if err := e.stageFiles(records, staging); err != nil {
		return nil, err
	}
	data, err := formats.YAML.Marshal(records)
	if err != nil {
		return nil, err
	}
	docPath := filepath.Join(staging, string(records[0].EntityID)+formats.YAML.Extension)
	if err := os.WriteFile(docPath, data, 0644); err != nil {
		return nil, fmt.Errorf("failed to stage document: %w", err)
	}
	if err := WriteBundle(w, staging); err != nil {
		return nil, err
	}

	e.logger.Info("exported package", "records", len(records), "filename", token+".tgz")
	return &Result{Filename: token + ".tgz", ContentType: BundleContentType, Records: records}, nil
}

// ExportToPath writes the archive to a file. The file only appears once the
// archive is complete. When outputPath is a directory the archive is named
// after its package filename inside it.
func (e *Exporter) ExportToPath(ctx context.Context, outputPath string, req Request) (*Result, error) {
	dir, target := outputPath, ""
	if info, err := os.Stat(outputPath); err != nil || !info.IsDir() {
		dir, target = filepath.Dir(outputPath), outputPath
	}
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create output directory: %w", err)
	}

	tmp, err := os.CreateTemp(dir, ".graphport-export-*")
	if err != nil {
		return nil, fmt.Errorf("failed to create output file: %w", err)
	}
	tmpPath := tmp.Name()
	defer func() { _ = os.Remove(tmpPath) }()

	result, err := e.Export(ctx, tmp, req)
	if closeErr := tmp.Close(); err == nil && closeErr != nil {
		err = fmt.Errorf("failed to close output file: %w", closeErr)
	}
	if err != nil {
		return nil, err
	}

	if target == "" {
		target = filepath.Join(dir, result.Filename)
	}
	if err := os.Rename(tmpPath, target); err != nil {
		return nil, fmt.Errorf("failed to move archive into place: %w", err)
	}
	result.Filename = target
	return result, nil
}

// newStaging creates a fresh staging directory for one run.
func (e *Exporter) newStaging() (string, func(), error) {
	dir := filepath.Join(e.scratchDir, stagingDir, uuid.NewString())
	if err := os.RemoveAll(dir); err != nil {
		return "", nil, fmt.Errorf("failed to clear staging directory: %w", err)
	}
	if err := os.MkdirAll(dir, 0755); err != nil {
		return "", nil, fmt.Errorf("failed to create staging directory: %w", err)
	}
	cleanup := func() {
		if err := os.RemoveAll(dir); err != nil {
			e.logger.Warn("failed to remove staging directory", "dir", dir, "error", err)
		}
	}
	return dir, cleanup, nil
}

// stageFiles copies each file payload into the staging directory, mirroring
// its path below public://, and points the record at that relative path.
func (e *Exporter) stageFiles(records []types.ExportRecord, staging string) error {
	return e.eachFileURI(records, func(record *types.ExportRecord, uri string) (string, error) {
		rel, err := store.RelativePath(uri)
		if err != nil {
			return "", &types.GraphError{Type: record.EntityType, ID: string(record.EntityID), Err: err}
		}
		dest := filepath.Join(staging, FilesDir, filepath.FromSlash(rel))
		if err := e.copyAsset(uri, dest); err != nil {
			return "", &types.GraphError{Type: record.EntityType, ID: string(record.EntityID), Err: err}
		}
		return rel, nil
	})
}

// uploadFiles sends each payload to the blob backend and points the record at
// the returned pseudo-path.
func (e *Exporter) uploadFiles(ctx context.Context, records []types.ExportRecord, namespace string) error {
	return e.eachFileURI(records, func(record *types.ExportRecord, uri string) (string, error) {
		local, err := e.assets.LocalPath(uri)
		if err != nil {
			return "", &types.GraphError{Type: record.EntityType, ID: string(record.EntityID), Err: err}
		}
		pseudo, err := e.blob.Upload(ctx, local, namespace, uri)
		e.metrics.BlobUpload(err)
		if err != nil {
			return "", err
		}
		return pseudo, nil
	})
}

func (e *Exporter) eachFileURI(records []types.ExportRecord, fn func(record *types.ExportRecord, uri string) (string, error)) error {
	for i := range records {
		record := &records[i]
		if record.EntityType != FileType {
			continue
		}
		if e.assets == nil {
			return fmt.Errorf("file %s: no asset store configured", record.EntityID)
		}
		uris := record.Representation["uri"]
		for j := range uris {
			replacement, err := fn(record, uris[j].String())
			if err != nil {
				return err
			}
			uris[j] = types.Value(replacement)
		}
	}
	return nil
}

func (e *Exporter) copyAsset(uri, dest string) error {
	src, err := e.assets.Open(uri)
	if err != nil {
		return err
	}
	defer func() { _ = src.Close() }()

	if err := os.MkdirAll(filepath.Dir(dest), 0755); err != nil {
		return fmt.Errorf("failed to create staging directory: %w", err)
	}
	out, err := os.Create(dest)
	if err != nil {
		return fmt.Errorf("failed to stage payload: %w", err)
	}
	if _, err := io.Copy(out, src); err != nil {
		_ = out.Close()
		return fmt.Errorf("failed to stage payload: %w", err)
	}
	return out.Close()
}
