package email

import (
	"bytes"
	"context"

	"github.com/gomarkdown/markdown"
	"github.com/gomarkdown/markdown/html"
	"github.com/gomarkdown/markdown/parser"
	"github.com/microcosm-cc/bluemonday"
	"github.com/smallnest/stepgraph/log"
)

// Message is an outgoing reply.
type Message struct {
	To      string
	Subject string
	// Text is the reply as written, in Markdown.
	Text string
	// HTML is Text rendered and sanitized.
	HTML string
}

// Mailer delivers replies.
type Mailer interface {
	Send(ctx context.Context, msg Message) error
}

// MailerFunc adapts a function to Mailer.
type MailerFunc func(ctx context.Context, msg Message) error

// Send calls f.
func (f MailerFunc) Send(ctx context.Context, msg Message) error { return f(ctx, msg) }

// LogMailer only logs the replies it is given.
type LogMailer struct {
	Logger log.Logger
}

// Send logs msg.
func (m LogMailer) Send(_ context.Context, msg Message) error {
	logger := m.Logger
	if logger == nil {
		logger = log.GetDefaultLogger()
	}
	logger.Info("reply to %s: %s (%d bytes)", msg.To, msg.Subject, len(msg.Text))
	return nil
}

var sanitizer = bluemonday.UGCPolicy()

// RenderHTML renders a Markdown reply to sanitized HTML.
func RenderHTML(text string) string {
	p := parser.NewWithExtensions(parser.CommonExtensions | parser.AutoHeadingIDs)
	doc := p.Parse([]byte(text))

	renderer := html.NewRenderer(html.RendererOptions{Flags: html.CommonFlags | html.HrefTargetBlank})
	out := markdown.Render(doc, renderer)
	return string(bytes.TrimSpace(sanitizer.SanitizeBytes(out)))
}
