package rag

import (
	"context"
	"fmt"
	"strings"

	"github.com/tmc/langchaingo/schema"
	"github.com/tmc/langchaingo/textsplitter"
)

const (
	DefaultChunkSize    = 1000
	DefaultChunkOverlap = 200
)

// Loader produces documents. langchaingo document loaders satisfy it.
type Loader interface {
	Load(ctx context.Context) ([]schema.Document, error)
}

// NewSplitter returns a recursive character splitter. Non-positive sizes
// fall back to the defaults.
func NewSplitter(chunkSize, chunkOverlap int) textsplitter.TextSplitter {
	if chunkSize <= 0 {
		chunkSize = DefaultChunkSize
	}
	if chunkOverlap < 0 || chunkOverlap >= chunkSize {
		chunkOverlap = min(DefaultChunkOverlap, chunkSize/5)
	}
	return textsplitter.NewRecursiveCharacter(
		textsplitter.WithChunkSize(chunkSize),
		textsplitter.WithChunkOverlap(chunkOverlap),
	)
}

// Split cuts docs into chunks. Each chunk keeps its document's metadata
// plus a "chunk" index.
func Split(docs []schema.Document, splitter textsplitter.TextSplitter) ([]schema.Document, error) {
	var out []schema.Document
	for _, doc := range docs {
		chunks, err := textsplitter.SplitDocuments(splitter, []schema.Document{doc})
		if err != nil {
			return nil, fmt.Errorf("failed to split document: %w", err)
		}
		for i := range chunks {
			meta := make(map[string]any, len(doc.Metadata)+1)
			for k, v := range doc.Metadata {
				meta[k] = v
			}
			meta["chunk"] = i
			chunks[i].Metadata = meta
		}
		out = append(out, chunks...)
	}
	return out, nil
}

// LoadAndSplit loads documents and splits them into chunks.
func LoadAndSplit(ctx context.Context, loader Loader, chunkSize, chunkOverlap int) ([]schema.Document, error) {
	docs, err := loader.Load(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to load documents: %w", err)
	}
	return Split(docs, NewSplitter(chunkSize, chunkOverlap))
}

// Format renders documents as the context block given to a model.
func Format(docs []schema.Document) string {
	parts := make([]string, 0, len(docs))
	for _, d := range docs {
		src, _ := d.Metadata["source"].(string)
		if src == "" {
			src = "unknown"
		}
		parts = append(parts, fmt.Sprintf("Source: %s\nContent: %s", src, d.PageContent))
	}
	return strings.Join(parts, "\n\n")
}
