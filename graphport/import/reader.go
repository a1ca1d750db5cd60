package imports

import (
	"archive/tar"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/arthur-debert/graphport/formats"
	"github.com/arthur-debert/graphport/types"
	"github.com/google/uuid"
	"github.com/klauspost/compress/gzip"
)

// FilesDir is the bundle directory holding file payloads.
const FilesDir = "files"

const unpackDir = "graphport-import"

var bundleExtensions = []string{".tar.gz", ".tgz"}

// Archive is a parsed archive. For bundles, AssetDir points at the unpacked
// payload directory; Close removes the unpacked state.
type Archive struct {
	Path     string
	Records  []types.ExportRecord
	AssetDir string

	scratch string
}

// Close removes the archive's scratch directory, if any.
func (a *Archive) Close() error {
	if a == nil || a.scratch == "" {
		return nil
	}
	if err := os.RemoveAll(a.scratch); err != nil {
		return fmt.Errorf("failed to remove scratch directory: %w", err)
	}
	a.scratch = ""
	return nil
}

// Reader parses documents and bundles.
type Reader struct {
	scratchDir string
	logger     *slog.Logger
}

// ReaderOption configures a Reader.
type ReaderOption func(*Reader)

// WithScratchDir sets the parent of per-run unpack directories.
func WithScratchDir(dir string) ReaderOption {
	return func(r *Reader) { r.scratchDir = dir }
}

// WithReaderLogger sets the reader's logger.
func WithReaderLogger(l *slog.Logger) ReaderOption {
	return func(r *Reader) { r.logger = l }
}

// NewReader creates a reader.
func NewReader(opts ...ReaderOption) *Reader {
	r := &Reader{scratchDir: os.TempDir(), logger: slog.Default()}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// IsBundle reports whether a path names a compressed bundle.
func IsBundle(path string) bool {
	lower := strings.ToLower(path)
	for _, ext := range bundleExtensions {
		if strings.HasSuffix(lower, ext) {
			return true
		}
	}
	return false
}

// Supported reports whether a path has a readable extension.
func Supported(path string) bool {
	return IsBundle(path) || documentFormat(path) != nil
}

func documentFormat(path string) *formats.DocumentFormat {
	for _, f := range []*formats.DocumentFormat{formats.YAML, formats.JSON} {
		if f.Matches(path) {
			return f
		}
	}
	return nil
}

// Read parses the archive at path. Documents are parsed in place; bundles
// are unpacked into a fresh scratch directory first.
func (r *Reader) Read(path string) (*Archive, error) {
	if IsBundle(path) {
		return r.readBundle(path)
	}
	format := documentFormat(path)
	if format == nil {
		return nil, &types.FormatError{Path: path, Err: types.ErrUnsupportedFormat}
	}
	records, err := readDocument(path, format)
	if err != nil {
		return nil, err
	}
	r.logger.Info("read archive document", "path", path, "records", len(records))
	return &Archive{Path: path, Records: records}, nil
}

func readDocument(path string, format *formats.DocumentFormat) ([]types.ExportRecord, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, &types.FormatError{Path: path, Err: err}
	}
	records, err := format.Unmarshal(data)
	if err != nil {
		return nil, &types.FormatError{Path: path, Err: err}
	}
	return records, nil
}

func (r *Reader) readBundle(path string) (*Archive, error) {
	scratch := filepath.Join(r.scratchDir, unpackDir, uuid.NewString())
	if err := os.RemoveAll(scratch); err != nil {
		return nil, fmt.Errorf("failed to clear scratch directory: %w", err)
	}
	if err := os.MkdirAll(scratch, 0755); err != nil {
		return nil, fmt.Errorf("failed to create scratch directory: %w", err)
	}
	archive := &Archive{Path: path, AssetDir: filepath.Join(scratch, FilesDir), scratch: scratch}

	fail := func(err error) (*Archive, error) {
		_ = archive.Close()
		return nil, err
	}

	if err := unpack(path, scratch); err != nil {
		return fail(&types.FormatError{Path: path, Err: err})
	}

	docPath, format, err := r.findDocument(scratch)
	if err != nil {
		return fail(&types.FormatError{Path: path, Err: err})
	}
	records, err := readDocument(docPath, format)
	if err != nil {
		return fail(err)
	}
	archive.Records = records

	r.logger.Info("read archive bundle", "path", path, "document", filepath.Base(docPath), "records", len(records))
	return archive, nil
}

// findDocument returns the structured-text document at the bundle root.
// When several are present the first by name wins.
func (r *Reader) findDocument(dir string) (string, *formats.DocumentFormat, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return "", nil, err
	}
	var candidates []string
	for _, entry := range entries {
		if !entry.IsDir() && documentFormat(entry.Name()) != nil {
			candidates = append(candidates, entry.Name())
		}
	}
	if len(candidates) == 0 {
		return "", nil, types.ErrNoDocument
	}
	sort.Strings(candidates)
	if len(candidates) > 1 {
		r.logger.Warn("bundle holds several documents", "using", candidates[0], "count", len(candidates))
	}
	return filepath.Join(dir, candidates[0]), documentFormat(candidates[0]), nil
}

// unpack extracts a tgz stream into dir. Entries that would land outside dir
// are rejected; only regular files and directories are extracted.
func unpack(path, dir string) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer func() { _ = f.Close() }()

	gz, err := gzip.NewReader(f)
	if err != nil {
		return fmt.Errorf("not a gzip stream: %w", err)
	}
	defer func() { _ = gz.Close() }()

	root := filepath.Clean(dir) + string(os.PathSeparator)
	tr := tar.NewReader(gz)
	for {
		header, err := tr.Next()
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return fmt.Errorf("corrupt bundle: %w", err)
		}

		target := filepath.Join(dir, filepath.FromSlash(header.Name))
		if !strings.HasPrefix(target+string(os.PathSeparator), root) {
			return fmt.Errorf("bundle entry %q escapes the archive", header.Name)
		}

		switch header.Typeflag {
		case tar.TypeDir:
			if err := os.MkdirAll(target, 0755); err != nil {
				return err
			}
		case tar.TypeReg:
			if err := extractFile(tr, target); err != nil {
				return fmt.Errorf("failed to extract %s: %w", header.Name, err)
			}
		}
	}
}

func extractFile(r io.Reader, target string) error {
	if err := os.MkdirAll(filepath.Dir(target), 0755); err != nil {
		return err
	}
	out, err := os.Create(target)
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, r); err != nil {
		_ = out.Close()
		return err
	}
	return out.Close()
}
