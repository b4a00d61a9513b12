package main

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/google/uuid"
	"github.com/smallnest/stepgraph/agents/docqa"
	"github.com/smallnest/stepgraph/agents/finance"
	"github.com/smallnest/stepgraph/rag"
	"github.com/smallnest/stepgraph/rag/loader"
	"github.com/spf13/cobra"
	"github.com/tmc/langchaingo/schema"
)

// defaultClasses select the article body of typical blog themes.
var defaultClasses = []string{"post-title", "post-header", "post-content"}

func newDocQACmd(a *app) *cobra.Command {
	var urls, files, classes []string
	var maxRewrites, topK int
	cmd := &cobra.Command{
		Use:   "docqa <question>",
		Short: "Answer a question from web pages or local files",
		Example: `  stepgraph docqa --url https://lilianweng.github.io/posts/2023-06-23-agent/ "What kinds of memory do agents have?"`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			docs, err := loadCorpus(cmd, urls, files, classes)
			if err != nil {
				return err
			}
			model, err := a.model()
			if err != nil {
				return err
			}
			g, err := docqa.New(docqa.Config{
				Model:       model,
				Retriever:   rag.NewKeywordRetriever(docs, topK),
				MaxRewrites: maxRewrites,
				Logger:      a.logger,
			})
			if err != nil {
				return err
			}
			r, err := a.compile(g)
			if err != nil {
				return err
			}
			res, err := r.Invoke(cmd.Context(), "docqa_"+uuid.NewString(), docqa.Input(strings.Join(args, " ")))
			if err != nil {
				return err
			}
			renderResult(cmd.OutOrStdout(), res, docqa.FieldQuery, docqa.FieldRewrites, docqa.FieldAnswer)
			return nil
		},
	}
	cmd.Flags().StringSliceVar(&urls, "url", nil, "web page to index (repeatable)")
	cmd.Flags().StringSliceVar(&files, "file", nil, "local text file to index (repeatable)")
	cmd.Flags().StringSliceVar(&classes, "class", defaultClasses, "CSS classes holding the page content")
	cmd.Flags().IntVar(&maxRewrites, "max-rewrites", docqa.DefaultMaxRewrites, "how often an irrelevant search is retried")
	cmd.Flags().IntVar(&topK, "top-k", 5, "documents retrieved per search")
	return cmd
}

func loadCorpus(cmd *cobra.Command, urls, files, classes []string) ([]schema.Document, error) {
	if len(urls) == 0 && len(files) == 0 {
		return nil, errors.New("at least one --url or --file is required")
	}
	var loaders []rag.Loader
	if len(urls) > 0 {
		loaders = append(loaders, loader.NewWebLoader(urls, loader.WithClasses(classes...)))
	}
	for _, f := range files {
		data, err := os.ReadFile(f)
		if err != nil {
			return nil, fmt.Errorf("failed to read %s: %w", f, err)
		}
		loaders = append(loaders, loader.FromTexts(f, string(data)))
	}

	var docs []schema.Document
	for _, l := range loaders {
		chunks, err := rag.LoadAndSplit(cmd.Context(), l, rag.DefaultChunkSize, rag.DefaultChunkOverlap)
		if err != nil {
			return nil, err
		}
		docs = append(docs, chunks...)
	}
	return docs, nil
}

func newFinanceCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:     "finance <query>",
		Short:   "Research and analyse a stock question",
		Example: `  stepgraph finance "Compare the valuation of Apple and Microsoft"`,
		Args:    cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			model, err := a.model()
			if err != nil {
				return err
			}
			searcher, err := a.searcher()
			if err != nil {
				return err
			}
			g, err := finance.New(finance.Config{Model: model, Searcher: searcher, Logger: a.logger})
			if err != nil {
				return err
			}
			r, err := a.compile(g)
			if err != nil {
				return err
			}
			res, err := r.Invoke(cmd.Context(), "finance_"+uuid.NewString(), finance.Input(strings.Join(args, " ")))
			if err != nil {
				return err
			}
			renderResult(cmd.OutOrStdout(), res, finance.FieldPlan, finance.FieldFinalReport)
			return nil
		},
	}
}
