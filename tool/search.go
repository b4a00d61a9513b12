package tool

import (
	"context"
	"fmt"
	"strings"

	"github.com/tmc/langchaingo/schema"
	"github.com/tmc/langchaingo/tools"
)

// NoResults is returned by searchers that found nothing.
const NoResults = "No results found"

// Searcher runs a search and returns the results as text.
type Searcher interface {
	Search(ctx context.Context, query string) (string, error)
}

// SearchFunc adapts a function to Searcher.
type SearchFunc func(ctx context.Context, query string) (string, error)

// Search calls f.
func (f SearchFunc) Search(ctx context.Context, query string) (string, error) {
	return f(ctx, query)
}

// RetrieverSearch answers queries from a retriever.
type RetrieverSearch struct {
	Retriever schema.Retriever
}

var (
	_ Searcher   = (*RetrieverSearch)(nil)
	_ tools.Tool = (*RetrieverSearch)(nil)
	_ tools.Tool = (*BraveSearch)(nil)
)

// NewRetrieverSearch wraps r.
func NewRetrieverSearch(r schema.Retriever) *RetrieverSearch {
	return &RetrieverSearch{Retriever: r}
}

// Name returns the name of the tool.
func (s *RetrieverSearch) Name() string { return "Knowledge_Base" }

// Description returns the description of the tool.
func (s *RetrieverSearch) Description() string {
	return "Searches the product knowledge base. Input should be a search query."
}

// Call executes the search.
func (s *RetrieverSearch) Call(ctx context.Context, input string) (string, error) {
	return s.Search(ctx, input)
}

// Search returns one numbered line per retrieved document.
func (s *RetrieverSearch) Search(ctx context.Context, query string) (string, error) {
	docs, err := s.Retriever.GetRelevantDocuments(ctx, query)
	if err != nil {
		return "", fmt.Errorf("failed to retrieve documents: %w", err)
	}
	if len(docs) == 0 {
		return NoResults, nil
	}
	var sb strings.Builder
	for i, d := range docs {
		fmt.Fprintf(&sb, "%d. %s\n", i+1, strings.TrimSpace(d.PageContent))
	}
	return strings.TrimRight(sb.String(), "\n"), nil
}
