package formats

import (
	"bytes"
	"fmt"

	"github.com/arthur-debert/graphport/types"
	"gopkg.in/yaml.v3"
)

// MaxNesting bounds how deep a value object may nest inside a YAML document.
// Records, representation, field, value object and two levels of nested
// properties fit well within it.
const MaxNesting = 20

// YAML is the primary archive document format: block style, two-space indent,
// map keys sorted by the encoder, so output is stable and diffable.
var YAML = &DocumentFormat{
	Name:        "yaml",
	Extension:   ".yml",
	Aliases:     []string{".yaml"},
	ContentType: "text/yaml",
	Marshal:     marshalYAML,
	Unmarshal:   unmarshalYAML,
}

func init() {
	_ = Register(YAML)
}

func marshalYAML(records []types.ExportRecord) ([]byte, error) {
	var buf bytes.Buffer
	enc := yaml.NewEncoder(&buf)
	enc.SetIndent(2)
	if records == nil {
		records = []types.ExportRecord{}
	}
	if err := enc.Encode(records); err != nil {
		return nil, fmt.Errorf("failed to encode records: %w", err)
	}
	if err := enc.Close(); err != nil {
		return nil, fmt.Errorf("failed to flush encoder: %w", err)
	}
	return buf.Bytes(), nil
}

func unmarshalYAML(data []byte) ([]types.ExportRecord, error) {
	var root yaml.Node
	if err := yaml.Unmarshal(data, &root); err != nil {
		return nil, fmt.Errorf("failed to parse YAML: %w", err)
	}
	if root.Kind == 0 {
		return []types.ExportRecord{}, nil
	}
	if depth := nodeDepth(&root); depth > MaxNesting {
		return nil, fmt.Errorf("document nests %d levels deep (maximum %d)", depth, MaxNesting)
	}

	var records []types.ExportRecord
	if err := root.Decode(&records); err != nil {
		return nil, fmt.Errorf("failed to decode records: %w", err)
	}
	return records, nil
}

func nodeDepth(n *yaml.Node) int {
	if n == nil {
		return 0
	}
	deepest := 0
	for _, child := range n.Content {
		if d := nodeDepth(child); d > deepest {
			deepest = d
		}
	}
	if n.Kind == yaml.MappingNode || n.Kind == yaml.SequenceNode {
		return deepest + 1
	}
	return deepest
}
