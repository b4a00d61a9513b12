// Package loader provides document loaders for the rag package.
package loader

import (
	"context"
	"maps"

	"github.com/tmc/langchaingo/schema"
)

// StaticDocumentLoader loads documents from a static list
type StaticDocumentLoader struct {
	Documents []schema.Document
}

// NewStaticDocumentLoader creates a new StaticDocumentLoader
func NewStaticDocumentLoader(documents []schema.Document) *StaticDocumentLoader {
	return &StaticDocumentLoader{
		Documents: documents,
	}
}

// FromTexts builds a loader with one document per text, tagged with source.
func FromTexts(source string, texts ...string) *StaticDocumentLoader {
	docs := make([]schema.Document, 0, len(texts))
	for _, t := range texts {
		docs = append(docs, schema.Document{PageContent: t, Metadata: map[string]any{"source": source}})
	}
	return NewStaticDocumentLoader(docs)
}

// Load returns the static list of documents
func (l *StaticDocumentLoader) Load(_ context.Context) ([]schema.Document, error) {
	return l.Documents, nil
}

// LoadWithMetadata returns the static list of documents with additional metadata
func (l *StaticDocumentLoader) LoadWithMetadata(_ context.Context, metadata map[string]any) ([]schema.Document, error) {
	if metadata == nil {
		return l.Documents, nil
	}

	docs := make([]schema.Document, len(l.Documents))
	for i, doc := range l.Documents {
		newDoc := doc
		newDoc.Metadata = maps.Clone(doc.Metadata)
		if newDoc.Metadata == nil {
			newDoc.Metadata = make(map[string]any)
		}
		maps.Copy(newDoc.Metadata, metadata)
		docs[i] = newDoc
	}

	return docs, nil
}
