package search

import "github.com/arthur-debert/graphport/types"

// Options configures a search.
type Options struct {
	// Query is the text to look for
	Query string

	// Types limits the search to these entity types.
	// Empty searches every content type; configuration types are never searched.
	Types []string

	// Fields limits the search to these field names.
	// Empty searches the label field and every scalar field.
	Fields []string

	// CaseSensitive controls whether search is case-sensitive
	CaseSensitive bool

	// ExactMatch requires the entire field value to match the query
	ExactMatch bool

	// EnableHighlight includes highlighted match text in results
	EnableHighlight bool

	// MaxResults limits the number of results; zero means no limit
	MaxResults int
}

// Result is one matching entity, ready to be used as an export root.
type Result struct {
	Type   string `json:"type"`
	Bundle string `json:"bundle"`
	ID     string `json:"id"`
	Label  string `json:"label"`

	// Score represents match relevance (0.0 to 1.0, higher is better)
	Score float64 `json:"score"`

	// MatchType describes where the best match was found
	MatchType MatchType `json:"match_type"`

	// MatchedFields lists all fields that contained matches
	MatchedFields []string `json:"matched_fields"`

	// Highlights maps field name to text with match markers
	Highlights map[string]string `json:"highlights,omitempty"`
}

// Ref returns the node reference of the matched entity.
func (r Result) Ref() types.NodeRef {
	return types.NodeRef{Type: r.Type, ID: r.ID}
}

// MatchType indicates the type of match found
type MatchType string

const (
	MatchExactLabel   MatchType = "exact_label"
	MatchPartialLabel MatchType = "partial_label"
	MatchExactField   MatchType = "exact_field"
	MatchPartialField MatchType = "partial_field"
)

// EntityProvider lists the entities of a content store.
// *store.Store implements it.
type EntityProvider interface {
	EntityType(entityType string) (types.EntityTypeInfo, error)
	TypeNames() []string
	List(entityType string) []*types.Entity
}
