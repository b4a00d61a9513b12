package email

import (
	"github.com/smallnest/stepgraph/graph"
)

// State field names.
const (
	FieldEmailContent   = "email_content"
	FieldSenderEmail    = "sender_email"
	FieldEmailID        = "email_id"
	FieldClassification = "classification"
	FieldSearchResults  = "search_results"
	FieldDraftResponse  = "draft_response"
	FieldReplyHTML      = "reply_html"
	FieldSent           = "sent"
)

// Intents a classification may carry.
const (
	IntentQuestion = "question"
	IntentBug      = "bug"
	IntentBilling  = "billing"
	IntentFeature  = "feature"
	IntentComplex  = "complex"
)

// Urgency levels.
const (
	UrgencyLow      = "low"
	UrgencyMedium   = "medium"
	UrgencyHigh     = "high"
	UrgencyCritical = "critical"
)

// Classification is the model's reading of an email.
type Classification struct {
	Intent  string `json:"intent"`
	Urgency string `json:"urgency"`
	Topic   string `json:"topic"`
	Summary string `json:"summary"`
}

// NeedsReview reports whether a drafted reply must be approved by a human.
func (c Classification) NeedsReview() bool {
	return c.Urgency == UrgencyCritical || c.Intent == IntentBilling
}

// ReviewDecision is the resume value of the human_review step.
type ReviewDecision struct {
	Approved       bool   `json:"approved"`
	EditedResponse string `json:"edited_response"`
}

// NewSchema declares the fields of an email run.
func NewSchema() *graph.Schema {
	return graph.NewSchema(
		graph.FieldOf[string](FieldEmailContent),
		graph.FieldOf[string](FieldSenderEmail),
		graph.FieldOf[string](FieldEmailID),
		graph.FieldOf[Classification](FieldClassification),
		graph.FieldOf[[]string](FieldSearchResults),
		graph.FieldOf[string](FieldDraftResponse),
		graph.FieldOf[string](FieldReplyHTML),
		graph.FieldOf[bool](FieldSent, graph.WithDefault(false)),
	)
}

// Input returns the initial fields of a run for one email.
func Input(id, sender, content string) graph.State {
	return graph.State{
		FieldEmailID:      id,
		FieldSenderEmail:  sender,
		FieldEmailContent: content,
	}
}
