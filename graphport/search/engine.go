// Package search finds entities by label and field text, typically to pick
// the root of an export.
package search

import (
	"fmt"
	"sort"
	"strings"

	"github.com/arthur-debert/graphport/types"
)

const highlightMarker = "**"

// Engine searches the entities of a provider.
type Engine struct {
	provider EntityProvider
}

// NewEngine creates a search engine over the given provider.
func NewEngine(provider EntityProvider) *Engine {
	return &Engine{provider: provider}
}

// Search returns matching entities, best match first. Ties keep type and id
// order.
func (e *Engine) Search(options Options) ([]Result, error) {
	if options.Query == "" {
		return []Result{}, nil
	}

	entityTypes := options.Types
	if len(entityTypes) == 0 {
		entityTypes = e.provider.TypeNames()
	}

	var results []Result
	for _, entityType := range entityTypes {
		info, err := e.provider.EntityType(entityType)
		if err != nil {
			return nil, fmt.Errorf("failed to search %s: %w", entityType, err)
		}
		if info.Config {
			continue
		}
		for _, entity := range e.provider.List(entityType) {
			if result := e.searchEntity(entity, info, options); result != nil {
				results = append(results, *result)
			}
		}
	}

	sort.SliceStable(results, func(i, j int) bool {
		return results[i].Score > results[j].Score
	})

	if options.MaxResults > 0 && len(results) > options.MaxResults {
		results = results[:options.MaxResults]
	}
	return results, nil
}

// searchEntity returns a result if any searched field of the entity matches.
func (e *Engine) searchEntity(entity *types.Entity, info types.EntityTypeInfo, options Options) *Result {
	labelField := info.Keys.Label
	fields := options.Fields
	if len(fields) == 0 {
		fields = searchableFields(entity, info)
	}

	result := &Result{
		Type:   entity.Type,
		Bundle: entity.Bundle,
		ID:     entity.ID,
		Label:  entity.Label(labelField),
	}
	for _, field := range fields {
		isLabel := field == labelField
		for _, value := range entity.Get(field) {
			if value.IsReference() {
				continue
			}
			text := value.String()
			score, matchType, ok := match(text, options, isLabel)
			if !ok {
				continue
			}
			if score > result.Score {
				result.Score = score
				result.MatchType = matchType
			}
			result.MatchedFields = append(result.MatchedFields, field)
			if options.EnableHighlight {
				if result.Highlights == nil {
					result.Highlights = make(map[string]string)
				}
				result.Highlights[field] = highlight(text, options.Query, options.CaseSensitive)
			}
			break
		}
	}

	if len(result.MatchedFields) == 0 {
		return nil
	}
	return result
}

// searchableFields is the label field followed by the other fields in name
// order, skipping the entity keys.
func searchableFields(entity *types.Entity, info types.EntityTypeInfo) []string {
	keys := map[string]bool{
		info.Keys.ID:       true,
		info.Keys.Revision: true,
		info.Keys.UUID:     true,
		info.Keys.Bundle:   true,
	}
	var fields []string
	if info.Keys.Label != "" {
		fields = append(fields, info.Keys.Label)
		keys[info.Keys.Label] = true
	}
	for _, name := range entity.FieldNames() {
		if !keys[name] {
			fields = append(fields, name)
		}
	}
	return fields
}

// match reports whether text matches the query and how well.
func match(text string, options Options, isLabel bool) (float64, MatchType, bool) {
	searchText, query := text, options.Query
	if !options.CaseSensitive {
		searchText = strings.ToLower(text)
		query = strings.ToLower(query)
	}

	if options.ExactMatch {
		if searchText != query {
			return 0, "", false
		}
		if isLabel {
			return 1.0, MatchExactLabel, true
		}
		return 1.0, MatchExactField, true
	}

	if !strings.Contains(searchText, query) {
		return 0, "", false
	}
	matchType := MatchPartialField
	if isLabel {
		matchType = MatchPartialLabel
	}
	return calculateScore(searchText, query, isLabel), matchType, true
}

// calculateScore computes a relevance score for a substring match
func calculateScore(fieldValue, query string, isLabel bool) float64 {
	baseScore := 0.5

	// Label matches rank above body text
	if isLabel {
		baseScore = 0.8
	}

	if strings.HasPrefix(fieldValue, query) {
		baseScore += 0.2
	}

	// Boost if query takes up a large portion of the field
	if coverage := float64(len(query)) / float64(len(fieldValue)); coverage > 0.5 {
		baseScore += 0.1
	}

	if baseScore > 1.0 {
		baseScore = 1.0
	}
	return baseScore
}

// highlight wraps every non-overlapping occurrence of query in markers
func highlight(text, query string, caseSensitive bool) string {
	searchText, searchQuery := text, query
	if !caseSensitive {
		searchText = strings.ToLower(text)
		searchQuery = strings.ToLower(query)
	}

	queryLen := len(searchQuery)
	if queryLen == 0 || len(searchText) != len(text) {
		return text
	}

	var builder strings.Builder
	lastEnd := 0
	for i := 0; i <= len(searchText)-queryLen; i++ {
		if searchText[i:i+queryLen] != searchQuery {
			continue
		}
		builder.WriteString(text[lastEnd:i])
		builder.WriteString(highlightMarker)
		builder.WriteString(text[i : i+queryLen])
		builder.WriteString(highlightMarker)
		lastEnd = i + queryLen
		i += queryLen - 1
	}
	builder.WriteString(text[lastEnd:])
	return builder.String()
}
