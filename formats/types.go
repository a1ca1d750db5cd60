package formats

import (
	"fmt"
	"path/filepath"
	"sort"
	"strings"

	"github.com/arthur-debert/graphport/types"
)

// DocumentFormat defines how an ordered record list is written to and read
// from a structured-text document.
type DocumentFormat struct {
	// Name is the format identifier (alphanumeric, dashes, underscores, lowercase)
	Name string

	// Extension is the primary file extension including the dot (e.g., ".yml")
	Extension string

	// Aliases are additional extensions accepted when reading
	Aliases []string

	// ContentType is the media type used when streaming the document
	ContentType string

	// Marshal renders records in order
	Marshal func(records []types.ExportRecord) ([]byte, error)

	// Unmarshal parses a document back into records, preserving order
	Unmarshal func(data []byte) ([]types.ExportRecord, error)
}

// Matches reports whether a file name carries one of the format's extensions.
func (f *DocumentFormat) Matches(filename string) bool {
	ext := strings.ToLower(filepath.Ext(filename))
	if ext == f.Extension {
		return true
	}
	for _, alias := range f.Aliases {
		if ext == alias {
			return true
		}
	}
	return false
}

// registry holds all available document formats
var registry = make(map[string]*DocumentFormat)

// Register adds a new document format to the registry
func Register(format *DocumentFormat) error {
	// Validate format name (alphanumeric, dashes, underscores, lowercase)
	if !isValidFormatName(format.Name) {
		return fmt.Errorf("invalid format name %q: must be lowercase alphanumeric with dashes and underscores only", format.Name)
	}

	// Normalize extensions
	format.Extension = normalizeExtension(format.Extension)
	for i, alias := range format.Aliases {
		format.Aliases[i] = normalizeExtension(alias)
	}

	// Check if format already exists
	if _, exists := registry[format.Name]; exists {
		return fmt.Errorf("format %q already registered", format.Name)
	}

	registry[format.Name] = format
	return nil
}

// Get returns a document format by name
func Get(name string) (*DocumentFormat, error) {
	format, exists := registry[name]
	if !exists {
		return nil, fmt.Errorf("unknown format %q", name)
	}
	return format, nil
}

// ForFile returns the format whose extensions match the file name, or nil.
func ForFile(filename string) *DocumentFormat {
	for _, name := range List() {
		if registry[name].Matches(filename) {
			return registry[name]
		}
	}
	return nil
}

// List returns all registered format names in sorted order
func List() []string {
	names := make([]string, 0, len(registry))
	for name := range registry {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func normalizeExtension(ext string) string {
	ext = strings.ToLower(ext)
	if !strings.HasPrefix(ext, ".") {
		ext = "." + ext
	}
	return ext
}

// isValidFormatName checks if a format name is valid
func isValidFormatName(name string) bool {
	if name == "" {
		return false
	}

	for _, r := range name {
		if (r < 'a' || r > 'z') && (r < '0' || r > '9') && r != '-' && r != '_' {
			return false
		}
	}
	return true
}
