package main

import (
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/smallnest/stepgraph/agents/react"
	"github.com/smallnest/stepgraph/agents/sqlagent"
	"github.com/spf13/cobra"
)

func newCalcCmd(a *app) *cobra.Command {
	var maxIterations int
	cmd := &cobra.Command{
		Use:     "calc <question>",
		Short:   "Answer an arithmetic question with a tool-calling agent",
		Example: `  stepgraph calc "What is (3 + 4) * 3?"`,
		Args:    cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			model, err := a.model()
			if err != nil {
				return err
			}
			g, err := react.New(react.Config{
				Model:         model,
				Tools:         react.Calculator(),
				SystemPrompt:  react.CalculatorPrompt,
				MaxIterations: maxIterations,
				Logger:        a.logger,
				Name:          "calc",
			})
			if err != nil {
				return err
			}
			r, err := a.compile(g)
			if err != nil {
				return err
			}
			res, err := r.Invoke(cmd.Context(), "calc_"+uuid.NewString(), react.Input(strings.Join(args, " ")))
			if err != nil {
				return err
			}
			renderResult(cmd.OutOrStdout(), res, react.FieldIterations)
			fmt.Fprintln(cmd.OutOrStdout(), field("answer", react.Answer(res.State)))
			return nil
		},
	}
	cmd.Flags().IntVar(&maxIterations, "max-iterations", react.DefaultMaxIterations, "model calls allowed per run")
	return cmd
}

func newSQLCmd(a *app) *cobra.Command {
	var dbPath, instructions string
	var topK, maxQueries int
	cmd := &cobra.Command{
		Use:     "sql <question>",
		Short:   "Answer a question from a SQLite database",
		Example: `  stepgraph sql --db Chinook.db "Which genre has the longest tracks on average?"`,
		Args:    cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if dbPath == "" {
				return errors.New("--db is required")
			}
			db, err := sqlagent.OpenSQLite(dbPath)
			if err != nil {
				return err
			}
			defer db.Close()

			model, err := a.model()
			if err != nil {
				return err
			}
			g, err := sqlagent.New(sqlagent.Config{
				Model:        model,
				DB:           db,
				TopK:         topK,
				MaxQueries:   maxQueries,
				Instructions: instructions,
				Logger:       a.logger,
			})
			if err != nil {
				return err
			}
			r, err := a.compile(g)
			if err != nil {
				return err
			}
			res, err := r.Invoke(cmd.Context(), "sql_"+uuid.NewString(), sqlagent.Input(strings.Join(args, " ")))
			if err != nil {
				return err
			}
			renderResult(cmd.OutOrStdout(), res, sqlagent.FieldTables, sqlagent.FieldQueries)
			fmt.Fprintln(cmd.OutOrStdout(), field("answer", sqlagent.Answer(res.State)))
			return nil
		},
	}
	cmd.Flags().StringVar(&dbPath, "db", "", "path to the SQLite database")
	cmd.Flags().StringVar(&instructions, "instructions", "", "extra instructions for the query writer, such as the answer language")
	cmd.Flags().IntVar(&topK, "top-k", sqlagent.DefaultTopK, "row limit suggested to the model")
	cmd.Flags().IntVar(&maxQueries, "max-queries", sqlagent.DefaultMaxQueries, "queries allowed per run")
	return cmd
}
