// Package tool provides the search tools steps call out to.
//
// A Searcher turns a query into a text block a model can read. BraveSearch
// queries the Brave web search API; RetrieverSearch answers from any
// langchaingo schema.Retriever, such as rag.KeywordRetriever over a local
// knowledge base.
//
//	search, err := tool.NewBraveSearch("", tool.WithBraveCount(5))
//	results, err := search.Search(ctx, "reset password")
//
// Both also implement the langchaingo tools.Tool interface.
package tool
