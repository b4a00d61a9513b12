package email

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/smallnest/stepgraph/graph"
	"github.com/smallnest/stepgraph/log"
	"github.com/smallnest/stepgraph/tool"
	"github.com/tmc/langchaingo/llms"
)

// Step names.
const (
	StepReadEmail      = "read_email"
	StepClassify       = "classify_intent"
	StepSearchDocs     = "search_documentation"
	StepBugTracking    = "bug_tracking"
	StepDraftResponse  = "draft_response"
	StepHumanReview    = "human_review"
	StepSendReply      = "send_reply"
	defaultGraphName   = "email"
	noDocumentsFound   = "No relevant documentation found"
	reviewInstructions = "Review this reply. Resume with approved=true to send it, optionally with edited_response."
)

// ErrNoModel is returned by New when Config.Model is nil.
var ErrNoModel = errors.New("email: model is required")

// Config holds the collaborators of the email graph.
type Config struct {
	// Model classifies emails and drafts replies. Required.
	Model llms.Model
	// Searcher looks up documentation. Defaults to the built-in knowledge base.
	Searcher tool.Searcher
	// Mailer sends approved replies. Defaults to LogMailer.
	Mailer Mailer
	Logger log.Logger
	// Name of the graph, "email" when empty.
	Name string
}

type agent struct {
	model    llms.Model
	searcher tool.Searcher
	mailer   Mailer
	logger   log.Logger
}

// New builds the email triage graph. Compile it with the store and limits
// of the caller's choice.
func New(cfg Config) (*graph.StateGraph, error) {
	if cfg.Model == nil {
		return nil, ErrNoModel
	}
	a := &agent{model: cfg.Model, searcher: cfg.Searcher, mailer: cfg.Mailer, logger: cfg.Logger}
	if a.searcher == nil {
		a.searcher = NewKnowledgeSearcher(DefaultKnowledgeBase())
	}
	if a.logger == nil {
		a.logger = log.GetDefaultLogger()
	}
	if a.mailer == nil {
		a.mailer = LogMailer{Logger: a.logger}
	}
	name := cfg.Name
	if name == "" {
		name = defaultGraphName
	}

	g := graph.NewStateGraph(graph.WithName(name), graph.WithSchema(NewSchema()))
	g.AddNode(StepReadEmail, "Receive the email", a.readEmail,
		graph.WithReads(FieldEmailContent))
	g.AddNode(StepClassify, "Classify intent and urgency", a.classify,
		graph.WithReads(FieldEmailContent, FieldSenderEmail),
		graph.WithWrites(FieldClassification),
		graph.WithDestinations(StepSearchDocs, StepBugTracking, StepDraftResponse))
	g.AddNode(StepSearchDocs, "Search documentation", a.searchDocs,
		graph.WithWrites(FieldSearchResults))
	g.AddNode(StepBugTracking, "Open a bug ticket", a.bugTracking,
		graph.WithReads(FieldEmailID),
		graph.WithWrites(FieldSearchResults))
	g.AddNode(StepDraftResponse, "Draft a reply", a.draftResponse,
		graph.WithWrites(FieldDraftResponse),
		graph.WithDestinations(StepHumanReview, StepSendReply))
	g.AddNode(StepHumanReview, "Wait for human approval", a.humanReview,
		graph.WithWrites(FieldDraftResponse),
		graph.WithDestinations(StepSendReply, graph.END))
	g.AddNode(StepSendReply, "Send the reply", a.sendReply,
		graph.WithWrites(FieldReplyHTML, FieldSent))

	g.SetEntryPoint(StepReadEmail)
	g.AddEdge(StepReadEmail, StepClassify)
	g.AddEdge(StepSearchDocs, StepDraftResponse)
	g.AddEdge(StepBugTracking, StepDraftResponse)
	g.AddEdge(StepSendReply, graph.END)
	return g, nil
}

func (a *agent) readEmail(_ context.Context, state graph.State) (*graph.Command, error) {
	content := graph.GetOr(state, FieldEmailContent, "")
	if strings.TrimSpace(content) == "" {
		return nil, errors.New("email content is empty")
	}
	a.logger.Info("received email %s: %s", graph.GetOr(state, FieldEmailID, ""), truncate(content, 50))
	return nil, nil
}

func (a *agent) classify(ctx context.Context, state graph.State) (*graph.Command, error) {
	content := graph.GetOr(state, FieldEmailContent, "")
	prompt := fmt.Sprintf("Classify the customer email below and answer with JSON only.\n"+
		"Fields: intent (question/bug/billing/feature/complex), urgency (low/medium/high/critical), topic, summary.\n\n"+
		"Email: %s\nSender: %s", content, graph.GetOr(state, FieldSenderEmail, ""))

	completion, err := llms.GenerateFromSinglePrompt(ctx, a.model, prompt, llms.WithTemperature(0))
	if err != nil {
		return nil, fmt.Errorf("failed to classify email: %w", err)
	}

	c, ok := ParseClassification(completion)
	if !ok {
		a.logger.Warn("unparseable classification %q, treating email as complex", truncate(completion, 80))
		c = fallbackClassification(content)
	}
	a.logger.Info("classified: intent=%s urgency=%s", c.Intent, c.Urgency)

	return graph.Goto(routeIntent(c.Intent), graph.State{FieldClassification: c}), nil
}

func routeIntent(intent string) string {
	switch intent {
	case IntentQuestion, IntentFeature, IntentBilling:
		return StepSearchDocs
	case IntentBug:
		return StepBugTracking
	default:
		return StepDraftResponse
	}
}

// ParseClassification decodes the model's JSON answer, tolerating a
// surrounding Markdown code fence. ok is false when no JSON object can be
// read.
func ParseClassification(text string) (Classification, bool) {
	text = stripFence(text)
	var c Classification
	if err := json.Unmarshal([]byte(text), &c); err != nil {
		return Classification{}, false
	}
	c.Intent = strings.ToLower(strings.TrimSpace(c.Intent))
	c.Urgency = strings.ToLower(strings.TrimSpace(c.Urgency))
	if c.Intent == "" {
		c.Intent = IntentComplex
	}
	if c.Urgency == "" {
		c.Urgency = UrgencyMedium
	}
	return c, true
}

func stripFence(text string) string {
	text = strings.TrimSpace(text)
	if !strings.HasPrefix(text, "```") {
		return text
	}
	parts := strings.Split(text, "```")
	if len(parts) < 2 {
		return text
	}
	body := strings.TrimSpace(parts[1])
	body = strings.TrimPrefix(body, "json")
	return strings.TrimSpace(body)
}

func fallbackClassification(content string) Classification {
	return Classification{
		Intent:  IntentComplex,
		Urgency: UrgencyMedium,
		Topic:   "unknown",
		Summary: truncate(content, 100),
	}
}

func (a *agent) searchDocs(ctx context.Context, state graph.State) (*graph.Command, error) {
	c, _ := graph.Get[Classification](state, FieldClassification)
	query := strings.TrimSpace(c.Topic + " " + graph.GetOr(state, FieldEmailContent, ""))

	out, err := a.searcher.Search(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to search documentation: %w", err)
	}

	var results []string
	if out != tool.NoResults {
		for line := range strings.SplitSeq(out, "\n") {
			if line = strings.TrimSpace(line); line != "" {
				results = append(results, line)
			}
		}
	}
	if len(results) == 0 {
		results = []string{noDocumentsFound}
	}
	a.logger.Debug("found %d documentation entries", len(results))
	return graph.Update(graph.State{FieldSearchResults: results}), nil
}

// TicketID derives the bug ticket id of an email.
func TicketID(emailID string) string {
	if emailID == "" {
		emailID = "000"
	}
	if r := []rune(emailID); len(r) > 3 {
		emailID = string(r[len(r)-3:])
	}
	return "BUG-" + emailID
}

func (a *agent) bugTracking(_ context.Context, state graph.State) (*graph.Command, error) {
	id := TicketID(graph.GetOr(state, FieldEmailID, ""))
	a.logger.Info("created bug ticket %s", id)
	note := fmt.Sprintf("Created bug ticket %s; engineering will follow up shortly", id)
	return graph.Update(graph.State{FieldSearchResults: []string{note}}), nil
}

func (a *agent) draftResponse(ctx context.Context, state graph.State) (*graph.Command, error) {
	c, _ := graph.Get[Classification](state, FieldClassification)

	var sb strings.Builder
	fmt.Fprintf(&sb, "Write a reply to this customer email:\n%s\n", graph.GetOr(state, FieldEmailContent, ""))
	fmt.Fprintf(&sb, "Intent: %s\nUrgency: %s\n", orDefault(c.Intent, "unknown"), orDefault(c.Urgency, UrgencyMedium))
	if results := graph.GetOr[[]string](state, FieldSearchResults, nil); len(results) > 0 {
		sb.WriteString("Reference material:\n")
		for _, r := range results {
			fmt.Fprintf(&sb, "- %s\n", r)
		}
	}
	sb.WriteString("Be professional and friendly, address the specific issue, and output only the reply.")

	draft, err := llms.GenerateFromSinglePrompt(ctx, a.model, sb.String())
	if err != nil {
		return nil, fmt.Errorf("failed to draft response: %w", err)
	}
	draft = strings.TrimSpace(draft)

	next := StepSendReply
	if c.NeedsReview() {
		next = StepHumanReview
	}
	a.logger.Info("drafted reply, next step %s", next)
	return graph.Goto(next, graph.State{FieldDraftResponse: draft}), nil
}

func (a *agent) humanReview(ctx context.Context, state graph.State) (*graph.Command, error) {
	c, _ := graph.Get[Classification](state, FieldClassification)
	draft := graph.GetOr(state, FieldDraftResponse, "")

	value, err := graph.Interrupt(ctx, map[string]any{
		"email_id":       graph.GetOr(state, FieldEmailID, ""),
		"original_email": graph.GetOr(state, FieldEmailContent, ""),
		"draft_response": draft,
		"urgency":        c.Urgency,
		"action":         reviewInstructions,
	}, "approved")
	if err != nil {
		return nil, err
	}

	var decision ReviewDecision
	if err := graph.DecodeResume(value, &decision); err != nil {
		return nil, err
	}
	if !decision.Approved {
		a.logger.Info("reply rejected, leaving the email to a human")
		return graph.Goto(graph.END, nil), nil
	}
	if decision.EditedResponse != "" {
		draft = decision.EditedResponse
	}
	a.logger.Info("reply approved")
	return graph.Goto(StepSendReply, graph.State{FieldDraftResponse: draft}), nil
}

func (a *agent) sendReply(ctx context.Context, state graph.State) (*graph.Command, error) {
	text := graph.GetOr(state, FieldDraftResponse, "")
	c, _ := graph.Get[Classification](state, FieldClassification)
	msg := Message{
		To:      graph.GetOr(state, FieldSenderEmail, ""),
		Subject: "Re: " + orDefault(c.Topic, "your request"),
		Text:    text,
		HTML:    RenderHTML(text),
	}
	if err := a.mailer.Send(ctx, msg); err != nil {
		return nil, fmt.Errorf("failed to send reply: %w", err)
	}
	return graph.Update(graph.State{FieldReplyHTML: msg.HTML, FieldSent: true}), nil
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n])
}

func orDefault(s, def string) string {
	if s == "" {
		return def
	}
	return s
}
