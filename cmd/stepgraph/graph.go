package main

import (
	"fmt"

	"github.com/smallnest/stepgraph/graph"
	"github.com/spf13/cobra"
)

func newGraphCmd(_ *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "graph",
		Short: "Export a bundled graph as a diagram",
	}

	var direction string
	mermaid := &cobra.Command{
		Use:       "mermaid <docqa|email|finance>",
		Short:     "Print a Mermaid flowchart",
		Args:      cobra.ExactArgs(1),
		ValidArgs: graphNames,
		RunE: func(cmd *cobra.Command, args []string) error {
			ex, err := exporter(args[0])
			if err != nil {
				return err
			}
			fmt.Fprint(cmd.OutOrStdout(), ex.DrawMermaidWithOptions(graph.MermaidOptions{Direction: direction}))
			return nil
		},
	}
	mermaid.Flags().StringVar(&direction, "direction", "TD", "flowchart direction (TD or LR)")

	dot := &cobra.Command{
		Use:       "dot <docqa|email|finance>",
		Short:     "Print a Graphviz DOT digraph",
		Args:      cobra.ExactArgs(1),
		ValidArgs: graphNames,
		RunE: func(cmd *cobra.Command, args []string) error {
			ex, err := exporter(args[0])
			if err != nil {
				return err
			}
			fmt.Fprint(cmd.OutOrStdout(), ex.DrawDOT())
			return nil
		},
	}

	cmd.AddCommand(mermaid, dot)
	return cmd
}

func exporter(name string) (*graph.Exporter, error) {
	g, err := structure(name)
	if err != nil {
		return nil, err
	}
	if err := g.Validate(); err != nil {
		return nil, err
	}
	return graph.NewExporter(g), nil
}
