package formats

import (
	"encoding/json"
	"fmt"

	"github.com/arthur-debert/graphport/types"
)

// JSON is an alternative document format, accepted on import and useful for
// tooling that prefers JSON.
var JSON = &DocumentFormat{
	Name:        "json",
	Extension:   ".json",
	ContentType: "application/json",
	Marshal: func(records []types.ExportRecord) ([]byte, error) {
		if records == nil {
			records = []types.ExportRecord{}
		}
		data, err := json.MarshalIndent(records, "", "  ")
		if err != nil {
			return nil, fmt.Errorf("failed to encode records: %w", err)
		}
		return data, nil
	},
	Unmarshal: func(data []byte) ([]types.ExportRecord, error) {
		var records []types.ExportRecord
		if err := json.Unmarshal(data, &records); err != nil {
			return nil, fmt.Errorf("failed to parse JSON: %w", err)
		}
		return records, nil
	},
}

func init() {
	_ = Register(JSON)
}
