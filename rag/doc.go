// Package rag holds the retrieval pieces used by the document QA agent:
// loaders that produce langchaingo schema.Documents, a recursive splitter
// and an in-memory keyword retriever.
//
//	docs, err := rag.LoadAndSplit(ctx, loader.NewWebLoader(urls,
//		loader.WithClasses("post-title", "post-header", "post-content")),
//		rag.DefaultChunkSize, rag.DefaultChunkOverlap)
//	retriever := rag.NewKeywordRetriever(docs, 5)
//
// Any schema.Retriever, for example one built from a langchaingo vector
// store, can be used in place of the keyword retriever.
package rag
