package main

import (
	"fmt"
	"os"

	"github.com/google/uuid"
	"github.com/smallnest/stepgraph/agents/email"
	"github.com/smallnest/stepgraph/graph"
	"github.com/spf13/cobra"
)

var emailFields = []string{
	email.FieldClassification,
	email.FieldSearchResults,
	email.FieldDraftResponse,
	email.FieldSent,
}

func newEmailCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "email",
		Short: "Triage customer emails",
	}
	cmd.AddCommand(newEmailStartCmd(a), newEmailResumeCmd(a))
	return cmd
}

func (a *app) emailRunner(watch *graph.StreamHook) (*graph.Runnable, error) {
	model, err := a.model()
	if err != nil {
		return nil, err
	}
	searcher, err := a.searcher()
	if err != nil {
		return nil, err
	}
	g, err := email.New(email.Config{Model: model, Searcher: searcher, Logger: a.logger})
	if err != nil {
		return nil, err
	}
	if watch != nil {
		return a.compile(g, watch)
	}
	return a.compile(g)
}

func newEmailStartCmd(a *app) *cobra.Command {
	var id, from, body, file string
	var watch bool
	cmd := &cobra.Command{
		Use:   "start",
		Short: "Start triaging an email",
		Example: `  stepgraph email start --from bob@example.com --body "I was charged twice!"
  stepgraph email start --id email_002 --from bob@example.com --file mail.txt`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if file != "" {
				data, err := os.ReadFile(file)
				if err != nil {
					return fmt.Errorf("failed to read email: %w", err)
				}
				body = string(data)
			}
			if body == "" {
				return fmt.Errorf("one of --body or --file is required")
			}
			if id == "" {
				id = "email_" + uuid.NewString()
			}

			var hook *graph.StreamHook
			var done <-chan struct{}
			if watch {
				hook = graph.NewStreamHook(0, graph.StreamModeUpdates)
				done = streamTo(cmd.OutOrStdout(), hook)
			}
			r, err := a.emailRunner(hook)
			if err != nil {
				return err
			}
			res, err := r.Invoke(cmd.Context(), id, email.Input(id, from, body))
			if hook != nil {
				hook.Close()
				<-done
			}
			if err != nil {
				return err
			}
			renderResult(cmd.OutOrStdout(), res, emailFields...)
			return nil
		},
	}
	cmd.Flags().StringVar(&id, "id", "", "email id, also used as the run id (default: random)")
	cmd.Flags().StringVar(&from, "from", "", "sender address")
	cmd.Flags().StringVar(&body, "body", "", "email text")
	cmd.Flags().StringVar(&file, "file", "", "read the email text from a file")
	cmd.Flags().BoolVarP(&watch, "watch", "w", false, "print steps as they complete")
	return cmd
}

func newEmailResumeCmd(a *app) *cobra.Command {
	var approve, reject bool
	var edited string
	cmd := &cobra.Command{
		Use:   "resume <run-id>",
		Short: "Approve or reject a reply waiting for review",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if approve == reject {
				return fmt.Errorf("exactly one of --approve or --reject is required")
			}
			decision := map[string]any{"approved": approve}
			if edited != "" {
				decision["edited_response"] = edited
			}

			r, err := a.emailRunner(nil)
			if err != nil {
				return err
			}
			res, err := r.Resume(cmd.Context(), args[0], decision)
			if err != nil {
				return err
			}
			renderResult(cmd.OutOrStdout(), res, emailFields...)
			return nil
		},
	}
	cmd.Flags().BoolVar(&approve, "approve", false, "send the reply")
	cmd.Flags().BoolVar(&reject, "reject", false, "drop the reply and hand the email to a human")
	cmd.Flags().StringVar(&edited, "edit", "", "replace the drafted reply before sending")
	return cmd
}
