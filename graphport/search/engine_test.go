package search_test

import (
	"testing"

	"github.com/arthur-debert/graphport/graphport/search"
	"github.com/arthur-debert/graphport/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSearchRanksLabelMatches(t *testing.T) {
	g := testutil.LoadGraph(t)
	engine := search.NewEngine(g.Store)

	results, err := engine.Search(search.Options{Query: "cat"})
	require.NoError(t, err)
	require.Len(t, results, 3)

	// Prefix label matches first, in type then id order
	assert.Equal(t, testutil.Ref(g.Image), results[0].Ref())
	assert.Equal(t, 1.0, results[0].Score)
	assert.Contains(t, results[0].MatchedFields, "uri")
	assert.Equal(t, testutil.Ref(g.Article), results[1].Ref())
	assert.Equal(t, "Cats of the world", results[1].Label)
	assert.Equal(t, search.MatchPartialLabel, results[1].MatchType)

	assert.Equal(t, testutil.Ref(g.Related), results[2].Ref())
	assert.Equal(t, 0.8, results[2].Score)
}

func TestSearchOptions(t *testing.T) {
	g := testutil.LoadGraph(t)
	engine := search.NewEngine(g.Store)

	tests := []struct {
		name    string
		options search.Options
		want    int
	}{
		{"empty query", search.Options{}, 0},
		{"type filter", search.Options{Query: "cat", Types: []string{"node"}}, 2},
		{"case sensitive miss", search.Options{Query: "CATS", CaseSensitive: true}, 0},
		{"case insensitive", search.Options{Query: "CATS"}, 2},
		{"max results", search.Options{Query: "cat", MaxResults: 1}, 1},
		{"configuration types skipped", search.Options{Query: "article", Types: []string{"node_type"}}, 0},
		{"field filter", search.Options{Query: "editor", Fields: []string{"mail"}}, 1},
		{"references ignored", search.Options{Query: g.Author.ID, Types: []string{"node"}, Fields: []string{"uid"}}, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			results, err := engine.Search(tt.options)
			require.NoError(t, err)
			assert.Len(t, results, tt.want)
		})
	}
}

func TestSearchExactMatch(t *testing.T) {
	g := testutil.LoadGraph(t)
	engine := search.NewEngine(g.Store)

	results, err := engine.Search(search.Options{Query: "News", ExactMatch: true, Types: []string{"taxonomy_term"}})
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, g.News.ID, results[0].ID)
	assert.Equal(t, search.MatchExactLabel, results[0].MatchType)
	assert.Equal(t, 1.0, results[0].Score)
}

func TestSearchHighlight(t *testing.T) {
	g := testutil.LoadGraph(t)
	engine := search.NewEngine(g.Store)

	results, err := engine.Search(search.Options{
		Query:           "cats",
		Types:           []string{"node"},
		Fields:          []string{"title"},
		EnableHighlight: true,
	})
	require.NoError(t, err)
	require.Len(t, results, 2)
	assert.Equal(t, "**Cats** of the world", results[0].Highlights["title"])
	assert.Equal(t, "More **cats**", results[1].Highlights["title"])
}

func TestSearchUnknownType(t *testing.T) {
	g := testutil.LoadGraph(t)
	_, err := search.NewEngine(g.Store).Search(search.Options{Query: "x", Types: []string{"widget"}})
	assert.Error(t, err)
}
