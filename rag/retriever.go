package rag

import (
	"context"
	"slices"
	"strings"
	"unicode"

	"github.com/tmc/langchaingo/schema"
)

// KeywordRetriever ranks documents by how many distinct query terms they
// contain. It needs no embedding model.
type KeywordRetriever struct {
	docs  []schema.Document
	terms []map[string]bool
	k     int
}

var _ schema.Retriever = (*KeywordRetriever)(nil)

// NewKeywordRetriever indexes docs. k is the number of documents returned;
// non-positive means 4.
func NewKeywordRetriever(docs []schema.Document, k int) *KeywordRetriever {
	if k <= 0 {
		k = 4
	}
	r := &KeywordRetriever{docs: slices.Clone(docs), k: k}
	for _, d := range docs {
		r.terms = append(r.terms, termSet(d.PageContent))
	}
	return r
}

// GetRelevantDocuments implements schema.Retriever. Documents matching no
// term are not returned. The score is stored in Metadata["score"].
func (r *KeywordRetriever) GetRelevantDocuments(ctx context.Context, query string) ([]schema.Document, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	type hit struct {
		idx   int
		score int
	}
	var hits []hit
	q := termSet(query)
	for i, terms := range r.terms {
		score := 0
		for t := range q {
			if terms[t] {
				score++
			}
		}
		if score > 0 {
			hits = append(hits, hit{idx: i, score: score})
		}
	}
	slices.SortStableFunc(hits, func(a, b hit) int { return b.score - a.score })

	out := make([]schema.Document, 0, min(len(hits), r.k))
	for _, h := range hits[:min(len(hits), r.k)] {
		d := r.docs[h.idx]
		meta := make(map[string]any, len(d.Metadata)+1)
		for k, v := range d.Metadata {
			meta[k] = v
		}
		meta["score"] = h.score
		out = append(out, schema.Document{PageContent: d.PageContent, Metadata: meta, Score: float32(h.score)})
	}
	return out, nil
}

var stopWords = map[string]bool{
	"a": true, "an": true, "and": true, "are": true, "do": true, "for": true, "how": true,
	"i": true, "in": true, "is": true, "it": true, "of": true, "on": true, "or": true,
	"the": true, "to": true, "what": true, "with": true, "my": true, "can": true,
}

// termSet lowercases text and splits it into words. Han characters are
// indexed one by one so CJK queries still match.
func termSet(text string) map[string]bool {
	terms := map[string]bool{}
	var word strings.Builder
	flush := func() {
		if w := word.String(); w != "" && !stopWords[w] {
			terms[w] = true
		}
		word.Reset()
	}
	for _, r := range strings.ToLower(text) {
		switch {
		case unicode.Is(unicode.Han, r):
			flush()
			terms[string(r)] = true
		case unicode.IsLetter(r) || unicode.IsDigit(r):
			word.WriteRune(r)
		default:
			flush()
		}
	}
	flush()
	return terms
}
