package server

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/arthur-debert/graphport/graphport/export"
	imports "github.com/arthur-debert/graphport/graphport/import"
	"github.com/arthur-debert/graphport/internal/validation"
	"github.com/arthur-debert/graphport/types"
	"github.com/go-chi/chi/v5"
)

// uploadField is the multipart field holding the archive.
const uploadField = "file"

// ErrorResponse is the body of every failed request.
type ErrorResponse struct {
	Error string `json:"error"`
}

// ImportResponse is the body of POST /import. The ledger is present even
// when the import failed part way.
type ImportResponse struct {
	*imports.ImportResult
	Error string `json:"error,omitempty"`
}

// HealthCheck handles GET /health
func (s *Server) HealthCheck(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// Export handles GET /export/{type}/{id}
// Query params: blob, user (booleans), filename, obfuscate (comma separated)
func (s *Server) Export(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query()

	toBlob, err := boolParam(query.Get("blob"))
	if err != nil {
		writeError(w, http.StatusBadRequest, fmt.Errorf("invalid blob parameter: %w", err))
		return
	}
	includeUser, err := boolParam(query.Get("user"))
	if err != nil {
		writeError(w, http.StatusBadRequest, fmt.Errorf("invalid user parameter: %w", err))
		return
	}

	patterns := append([]string(nil), s.obfuscate...)
	for _, p := range strings.Split(query.Get("obfuscate"), ",") {
		if p = strings.TrimSpace(p); p == "" {
			continue
		}
		if err := validation.ValidateFieldPattern(p); err != nil {
			writeError(w, http.StatusBadRequest, err)
			return
		}
		patterns = append(patterns, p)
	}

	req := export.Request{
		Roots:       []types.NodeRef{{Type: chi.URLParam(r, "type"), ID: chi.URLParam(r, "id")}},
		ToBlob:      toBlob,
		IncludeUser: includeUser,
		Obfuscate:   patterns,
		Filename:    query.Get("filename"),
	}

	// The archive is only complete once Export returns, and headers depend
	// on its result.
	var buf bytes.Buffer
	result, err := s.exporter.Export(r.Context(), &buf, req)
	if err != nil {
		s.logger.Error("export failed", "type", req.Roots[0].Type, "id", req.Roots[0].ID, "error", err)
		writeError(w, statusFor(err), err)
		return
	}

	w.Header().Set("Content-Type", result.ContentType)
	w.Header().Set("Content-Disposition", mime.FormatMediaType("attachment", map[string]string{"filename": result.Filename}))
	w.Header().Set("Content-Length", strconv.Itoa(buf.Len()))
	w.WriteHeader(http.StatusOK)
	if _, err := buf.WriteTo(w); err != nil {
		s.logger.Warn("failed to stream export", "filename", result.Filename, "error", err)
	}
}

// Import handles POST /import
// Multipart form: file (the archive), uri (URL alias), uid (author id),
// remove_timestamp (boolean), dry_run (boolean)
func (s *Server) Import(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, s.maxUploadSize)
	if err := r.ParseMultipartForm(32 << 20); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeError(w, http.StatusRequestEntityTooLarge, err)
			return
		}
		writeError(w, http.StatusBadRequest, fmt.Errorf("invalid upload: %w", err))
		return
	}
	defer func() { _ = r.MultipartForm.RemoveAll() }()

	options := s.importOptions
	options.URLAlias = r.FormValue("uri")
	if uid := r.FormValue("uid"); uid != "" {
		options.Author = uid
	}
	if raw := r.FormValue("remove_timestamp"); raw != "" {
		v, err := strconv.ParseBool(raw)
		if err != nil {
			writeError(w, http.StatusBadRequest, fmt.Errorf("invalid remove_timestamp: %w", err))
			return
		}
		options.RemoveTimestamps = v
	}
	dryRun, err := boolParam(r.FormValue("dry_run"))
	if err != nil {
		writeError(w, http.StatusBadRequest, fmt.Errorf("invalid dry_run: %w", err))
		return
	}
	options.DryRun = dryRun

	file, header, err := r.FormFile(uploadField)
	if err != nil {
		writeError(w, http.StatusBadRequest, fmt.Errorf("missing %q upload: %w", uploadField, err))
		return
	}
	defer func() { _ = file.Close() }()

	if !imports.Supported(header.Filename) {
		writeError(w, http.StatusUnsupportedMediaType, &types.FormatError{Path: header.Filename, Err: types.ErrUnsupportedFormat})
		return
	}

	path, err := s.saveUpload(file, header.Filename)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	defer func() { _ = os.Remove(path) }()

	result, err := s.planner.ImportFromPath(r.Context(), path, options, imports.WithScratchDir(s.scratchDir))
	if err != nil {
		s.logger.Error("import failed", "upload", header.Filename, "error", err)
		writeJSON(w, statusFor(err), ImportResponse{ImportResult: result, Error: err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, ImportResponse{ImportResult: result})
}

// saveUpload copies the upload to the scratch dir, keeping the extension the
// reader dispatches on.
func (s *Server) saveUpload(src io.Reader, name string) (string, error) {
	if err := os.MkdirAll(s.scratchDir, 0755); err != nil {
		return "", fmt.Errorf("failed to create scratch directory: %w", err)
	}
	dst, err := os.CreateTemp(s.scratchDir, "graphport-upload-*"+uploadExt(name))
	if err != nil {
		return "", fmt.Errorf("failed to create upload file: %w", err)
	}
	if _, err := io.Copy(dst, src); err != nil {
		_ = dst.Close()
		_ = os.Remove(dst.Name())
		return "", fmt.Errorf("failed to store upload: %w", err)
	}
	if err := dst.Close(); err != nil {
		_ = os.Remove(dst.Name())
		return "", fmt.Errorf("failed to store upload: %w", err)
	}
	return dst.Name(), nil
}

func uploadExt(name string) string {
	name = strings.ToLower(filepath.Base(name))
	if strings.HasSuffix(name, ".tar.gz") {
		return ".tar.gz"
	}
	return filepath.Ext(name)
}

func boolParam(raw string) (bool, error) {
	if raw == "" {
		return false, nil
	}
	return strconv.ParseBool(raw)
}

// statusFor maps export and import errors to HTTP status codes.
func statusFor(err error) int {
	var formatErr *types.FormatError
	var storeErr *types.StoreError
	var blobErr *types.BlobError
	switch {
	case errors.As(err, &formatErr):
		return http.StatusBadRequest
	case errors.As(err, &storeErr):
		return http.StatusUnprocessableEntity
	case errors.As(err, &blobErr):
		return http.StatusBadGateway
	case errors.Is(err, types.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, export.ErrNothingToExport):
		return http.StatusUnprocessableEntity
	default:
		return http.StatusInternalServerError
	}
}

func writeError(w http.ResponseWriter, status int, err error) {
	writeJSON(w, status, ErrorResponse{Error: err.Error()})
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
