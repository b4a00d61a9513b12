package main

import (
	"context"
	"errors"
	"fmt"

	"github.com/smallnest/stepgraph/agents/docqa"
	"github.com/smallnest/stepgraph/agents/email"
	"github.com/smallnest/stepgraph/agents/finance"
	"github.com/smallnest/stepgraph/agents/react"
	"github.com/smallnest/stepgraph/agents/sqlagent"
	"github.com/smallnest/stepgraph/graph"
	"github.com/smallnest/stepgraph/rag"
	"github.com/tmc/langchaingo/llms"
)

var graphNames = []string{"calc", "docqa", "email", "finance", "sql"}

var errOffline = errors.New("no language model is available for this command")

// offlineModel stands in for a model when a graph is only inspected or
// cancelled and never executes a step.
type offlineModel struct{}

func (offlineModel) GenerateContent(context.Context, []llms.MessageContent, ...llms.CallOption) (*llms.ContentResponse, error) {
	return nil, errOffline
}

func (offlineModel) Call(context.Context, string, ...llms.CallOption) (string, error) {
	return "", errOffline
}

// structure builds a named graph for inspection.
func structure(name string) (*graph.StateGraph, error) {
	switch name {
	case "email":
		return email.New(email.Config{Model: offlineModel{}})
	case "docqa":
		return docqa.New(docqa.Config{Model: offlineModel{}, Retriever: rag.NewKeywordRetriever(nil, 0)})
	case "finance":
		return finance.New(finance.Config{Model: offlineModel{}})
	case "calc":
		return react.New(react.Config{Model: offlineModel{}, Tools: react.Calculator(), Name: "calc"})
	case "sql":
		return sqlagent.New(sqlagent.Config{Model: offlineModel{}, DB: sqlagent.NewDatabase(nil)})
	}
	return nil, fmt.Errorf("unknown graph %q, expected one of %v", name, graphNames)
}
