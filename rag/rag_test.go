package rag

import (
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tmc/langchaingo/schema"

	"github.com/smallnest/stepgraph/rag/loader"
)

func TestLoadAndSplit(t *testing.T) {
	long := strings.Repeat("Agents plan tasks and remember results. ", 80)
	l := loader.NewStaticDocumentLoader([]schema.Document{
		{PageContent: long, Metadata: map[string]any{"source": "blog"}},
		{PageContent: "short note", Metadata: map[string]any{"source": "notes"}},
	})

	chunks, err := LoadAndSplit(context.Background(), l, 0, -1)
	require.NoError(t, err)
	require.Greater(t, len(chunks), 3)

	for _, c := range chunks {
		assert.LessOrEqual(t, len(c.PageContent), DefaultChunkSize)
	}
	assert.Equal(t, "blog", chunks[0].Metadata["source"])
	assert.Equal(t, 0, chunks[0].Metadata["chunk"])
	assert.Equal(t, 1, chunks[1].Metadata["chunk"])

	last := chunks[len(chunks)-1]
	assert.Equal(t, "short note", last.PageContent)
	assert.Equal(t, "notes", last.Metadata["source"])
}

func TestKeywordRetriever(t *testing.T) {
	docs := []schema.Document{
		{PageContent: "Reset your password under Settings, Security.", Metadata: map[string]any{"source": "password"}},
		{PageContent: "Exports support PDF, CSV and Excel.", Metadata: map[string]any{"source": "export"}},
		{PageContent: "Duplicate charges are refunded automatically. Refunds take 3 to 5 days.", Metadata: map[string]any{"source": "billing"}},
		{PageContent: "重置密码：设置 → 安全 → 修改密码", Metadata: map[string]any{"source": "zh"}},
	}
	r := NewKeywordRetriever(docs, 2)
	ctx := context.Background()

	got, err := r.GetRelevantDocuments(ctx, "How do I reset my password?")
	require.NoError(t, err)
	require.NotEmpty(t, got)
	assert.Equal(t, "password", got[0].Metadata["source"])
	assert.Equal(t, 2, got[0].Metadata["score"])

	got, err = r.GetRelevantDocuments(ctx, "refunds for duplicate charges")
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "billing", got[0].Metadata["source"])

	got, err = r.GetRelevantDocuments(ctx, "怎么重置密码")
	require.NoError(t, err)
	require.NotEmpty(t, got)
	assert.Equal(t, "zh", got[0].Metadata["source"])

	got, err = r.GetRelevantDocuments(ctx, "quantum teleportation")
	require.NoError(t, err)
	assert.Empty(t, got)

	// Stored documents are not modified.
	assert.NotContains(t, docs[0].Metadata, "score")
}

func TestFormat(t *testing.T) {
	out := Format([]schema.Document{
		{PageContent: "one", Metadata: map[string]any{"source": "a"}},
		{PageContent: "two"},
	})
	assert.Equal(t, "Source: a\nContent: one\n\nSource: unknown\nContent: two", out)
}
