package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

func newRunsCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "runs",
		Short: "Inspect and manage stored runs",
	}
	cmd.AddCommand(
		&cobra.Command{
			Use:   "list",
			Short: "List stored runs",
			RunE: func(cmd *cobra.Command, _ []string) error {
				ids, err := a.backend.Store.List(cmd.Context())
				if err != nil {
					return err
				}
				out := cmd.OutOrStdout()
				if len(ids) == 0 {
					fmt.Fprintln(out, "No runs found.")
					return nil
				}
				for _, id := range ids {
					snap, err := a.backend.Store.Load(cmd.Context(), id)
					if err != nil {
						return err
					}
					fmt.Fprintf(out, "%s  %s  %s\n", id, status(snap.Status), snap.CurrentStep)
				}
				return nil
			},
		},
		&cobra.Command{
			Use:   "show <run-id>",
			Short: "Show the committed state of a run",
			Args:  cobra.ExactArgs(1),
			RunE: func(cmd *cobra.Command, args []string) error {
				snap, err := a.backend.Store.Load(cmd.Context(), args[0])
				if err != nil {
					return fmt.Errorf("failed to load run %s: %w", args[0], err)
				}
				renderSnapshot(cmd.OutOrStdout(), snap)
				return nil
			},
		},
		&cobra.Command{
			Use:   "cancel <run-id>",
			Short: "Terminate a run without executing more steps",
			Args:  cobra.ExactArgs(1),
			RunE: func(cmd *cobra.Command, args []string) error {
				snap, err := a.backend.Store.Load(cmd.Context(), args[0])
				if err != nil {
					return fmt.Errorf("failed to load run %s: %w", args[0], err)
				}
				name, _ := snap.Metadata["graph"].(string)
				g, err := structure(name)
				if err != nil {
					return err
				}
				r, err := a.compile(g)
				if err != nil {
					return err
				}
				if err := r.Cancel(cmd.Context(), args[0]); err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Cancelled run %s\n", args[0])
				return nil
			},
		},
		&cobra.Command{
			Use:   "rm <run-id>...",
			Short: "Delete runs",
			Args:  cobra.MinimumNArgs(1),
			RunE: func(cmd *cobra.Command, args []string) error {
				for _, id := range args {
					if err := a.backend.Store.Delete(cmd.Context(), id); err != nil {
						return fmt.Errorf("failed to remove run %s: %w", id, err)
					}
					fmt.Fprintf(cmd.OutOrStdout(), "Removed run %s\n", id)
				}
				return nil
			},
		},
	)
	return cmd
}
