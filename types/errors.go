package types

import (
	"errors"
	"fmt"
)

var (
	// ErrNotFound is returned when an entity or entity type does not exist.
	ErrNotFound = errors.New("not found")

	// ErrNoFieldSchema marks configuration entity types, which have no
	// per-bundle field definitions.
	ErrNoFieldSchema = errors.New("no field schema")

	// ErrUnsupportedFormat is returned for archive paths whose extension is
	// neither a document nor a bundle.
	ErrUnsupportedFormat = errors.New("unsupported archive format")

	// ErrNoDocument is returned when a bundle holds no structured-text document.
	ErrNoDocument = errors.New("no document found in archive")

	// ErrHashCollision is returned when two different entities map to the
	// same portable identifier within one export.
	ErrHashCollision = errors.New("portable identifier collision")
)

// GraphError reports a failure while walking or serializing the entity graph.
type GraphError struct {
	Type string
	ID   string
	Err  error
}

func (e *GraphError) Error() string {
	return fmt.Sprintf("graph error on %s %s: %v", e.Type, e.ID, e.Err)
}

func (e *GraphError) Unwrap() error { return e.Err }

// FormatError reports an archive that cannot be read.
type FormatError struct {
	Path string
	Err  error
}

func (e *FormatError) Error() string {
	return fmt.Sprintf("format error in %s: %v", e.Path, e.Err)
}

func (e *FormatError) Unwrap() error { return e.Err }

// StoreError reports a create or save failure during import.
type StoreError struct {
	Type       string
	PortableID PortableID
	Err        error
}

func (e *StoreError) Error() string {
	return fmt.Sprintf("store error on %s %s: %v", e.Type, e.PortableID, e.Err)
}

func (e *StoreError) Unwrap() error { return e.Err }

// BlobError reports a failed blob transfer.
type BlobError struct {
	Path     string
	Attempts int
	Err      error
}

func (e *BlobError) Error() string {
	if e.Attempts > 1 {
		return fmt.Sprintf("blob error on %s after %d attempts: %v", e.Path, e.Attempts, e.Err)
	}
	return fmt.Sprintf("blob error on %s: %v", e.Path, e.Err)
}

func (e *BlobError) Unwrap() error { return e.Err }
