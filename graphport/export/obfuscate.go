package export

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strings"

	"github.com/arthur-debert/graphport/types"
	"github.com/bmatcuk/doublestar/v4"
)

// maskLength is the number of hex characters of an obfuscated value.
const maskLength = 16

// Obfuscator masks the text of selected fields. Patterns have the form
// "type.bundle.field"; each segment may use glob wildcards, e.g.
// "node.*.body" or "user.user.{name,mail}".
type Obfuscator struct {
	patterns []string
}

// NewObfuscator validates and compiles the patterns.
func NewObfuscator(patterns ...string) (*Obfuscator, error) {
	o := &Obfuscator{}
	for _, raw := range patterns {
		raw = strings.TrimSpace(raw)
		if raw == "" {
			continue
		}
		segments := strings.Split(raw, ".")
		if len(segments) != 3 {
			return nil, fmt.Errorf("obfuscation pattern %q must have the form type.bundle.field", raw)
		}
		pattern := strings.Join(segments, "/")
		if !doublestar.ValidatePattern(pattern) {
			return nil, fmt.Errorf("invalid obfuscation pattern %q", raw)
		}
		o.patterns = append(o.patterns, pattern)
	}
	return o, nil
}

// Empty reports whether no pattern is configured.
func (o *Obfuscator) Empty() bool {
	return o == nil || len(o.patterns) == 0
}

// Matches reports whether a field is selected.
func (o *Obfuscator) Matches(entityType, bundle, field string) bool {
	if o == nil {
		return false
	}
	name := entityType + "/" + bundle + "/" + field
	for _, pattern := range o.patterns {
		if ok, _ := doublestar.Match(pattern, name); ok {
			return true
		}
	}
	return false
}

// AlterExport implements hooks.ExportAlterer. String sub-values of matching
// fields are replaced by a mask derived from their hash; references and the
// text "format" sub-key are kept.
func (o *Obfuscator) AlterExport(ctx context.Context, record *types.ExportRecord, source *types.Entity) error {
	if o.Empty() {
		return nil
	}
	for field, values := range record.Representation {
		if !o.Matches(record.EntityType, source.Bundle, field) {
			continue
		}
		for i := range values {
			for key, raw := range values[i].Props {
				text, ok := raw.(string)
				if !ok || key == "format" || text == "" {
					continue
				}
				values[i].Props[key] = Mask(text)
			}
		}
	}
	return nil
}

// Mask returns the fixed-length obfuscated form of a string.
func Mask(text string) string {
	sum := sha256.Sum256([]byte(text))
	return hex.EncodeToString(sum[:])[:maskLength]
}
