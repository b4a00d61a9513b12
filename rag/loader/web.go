package loader

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
	"github.com/tmc/langchaingo/schema"
)

// WebLoader fetches HTML pages and keeps their visible text. When classes
// are set only elements carrying one of them are kept.
type WebLoader struct {
	URLs    []string
	Classes []string
	Client  *http.Client
}

// WebLoaderOption configures a WebLoader.
type WebLoaderOption func(*WebLoader)

// WithClasses keeps only elements with one of the given CSS classes.
func WithClasses(classes ...string) WebLoaderOption {
	return func(l *WebLoader) {
		l.Classes = classes
	}
}

// WithHTTPClient sets the client used to fetch pages.
func WithHTTPClient(client *http.Client) WebLoaderOption {
	return func(l *WebLoader) {
		l.Client = client
	}
}

// NewWebLoader creates a loader for urls.
func NewWebLoader(urls []string, opts ...WebLoaderOption) *WebLoader {
	l := &WebLoader{
		URLs:   urls,
		Client: &http.Client{Timeout: 30 * time.Second},
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Load fetches every URL and returns one document per page.
func (l *WebLoader) Load(ctx context.Context) ([]schema.Document, error) {
	docs := make([]schema.Document, 0, len(l.URLs))
	for _, u := range l.URLs {
		doc, err := l.fetch(ctx, u)
		if err != nil {
			return nil, err
		}
		docs = append(docs, doc)
	}
	return docs, nil
}

func (l *WebLoader) fetch(ctx context.Context, url string) (schema.Document, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return schema.Document{}, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Accept", "text/html")

	resp, err := l.Client.Do(req)
	if err != nil {
		return schema.Document{}, fmt.Errorf("failed to fetch %s: %w", url, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return schema.Document{}, fmt.Errorf("failed to fetch %s: status code %d", url, resp.StatusCode)
	}

	page, err := goquery.NewDocumentFromReader(resp.Body)
	if err != nil {
		return schema.Document{}, fmt.Errorf("failed to parse %s: %w", url, err)
	}
	page.Find("script, style, noscript").Remove()

	sel := page.Find("body")
	if len(l.Classes) > 0 {
		selectors := make([]string, len(l.Classes))
		for i, c := range l.Classes {
			selectors[i] = "." + c
		}
		sel = page.Find(strings.Join(selectors, ", "))
	}

	var parts []string
	sel.Each(func(_ int, s *goquery.Selection) {
		if text := collapseSpace(s.Text()); text != "" {
			parts = append(parts, text)
		}
	})

	return schema.Document{
		PageContent: strings.Join(parts, "\n\n"),
		Metadata: map[string]any{
			"source": url,
			"title":  collapseSpace(page.Find("title").First().Text()),
		},
	}, nil
}

// collapseSpace trims text and folds runs of blank lines and spaces.
func collapseSpace(text string) string {
	lines := strings.Split(text, "\n")
	out := lines[:0]
	for _, line := range lines {
		if line = strings.Join(strings.Fields(line), " "); line != "" {
			out = append(out, line)
		}
	}
	return strings.Join(out, "\n")
}
