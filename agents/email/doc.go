// Package email builds a customer-support triage graph.
//
// An incoming email is classified by a language model, routed to a
// documentation search or a bug ticket, answered with a drafted reply and,
// for critical or billing emails, held for human review before it is sent:
//
//	read_email -> classify_intent -> search_documentation | bug_tracking | draft_response
//	draft_response -> human_review | send_reply
//	human_review -> send_reply | END
//
// The review step suspends the run with graph.Interrupt. Resume it with a
// map holding "approved" and, optionally, "edited_response":
//
//	g, _ := email.New(email.Config{Model: llm})
//	runner, _ := g.Compile(graph.WithStore(st))
//	res, _ := runner.Invoke(ctx, "email_002", email.Input("email_002", "bob@example.com", body))
//	if res.Status == store.StatusSuspended {
//		res, _ = runner.Resume(ctx, "email_002", map[string]any{"approved": true})
//	}
package email
