package tool

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tmc/langchaingo/schema"
)

func TestNewBraveSearch(t *testing.T) {
	t.Setenv("BRAVE_API_KEY", "")
	_, err := NewBraveSearch("")
	assert.ErrorIs(t, err, ErrNoAPIKey)

	t.Setenv("BRAVE_API_KEY", "env-key")
	b, err := NewBraveSearch("", WithBraveCount(50), WithBraveCountry("CN"), WithBraveLang("zh"))
	require.NoError(t, err)
	assert.Equal(t, "env-key", b.APIKey)
	assert.Equal(t, 20, b.Count)
	assert.Equal(t, "CN", b.Country)
	assert.Equal(t, "zh", b.Lang)
	assert.Equal(t, "Brave_Search", b.Name())
	assert.NotEmpty(t, b.Description())
}

func TestBraveSearch_Search(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "test-key", r.Header.Get("X-Subscription-Token"))
		assert.Equal(t, "reset password", r.URL.Query().Get("q"))
		assert.Equal(t, "3", r.URL.Query().Get("count"))
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"web":{"results":[
			{"title":"Reset your password","url":"https://example.com/reset","description":"Open Settings"},
			{"title":"Account help","url":"https://example.com/help","description":"FAQ"}
		]}}`))
	}))
	defer srv.Close()

	b, err := NewBraveSearch("test-key", WithBraveBaseURL(srv.URL), WithBraveCount(3), WithBraveHTTPClient(srv.Client()))
	require.NoError(t, err)

	out, err := b.Call(context.Background(), "reset password")
	require.NoError(t, err)
	assert.Contains(t, out, "1. Title: Reset your password\nURL: https://example.com/reset\nDescription: Open Settings")
	assert.Contains(t, out, "2. Title: Account help")
}

func TestBraveSearch_Errors(t *testing.T) {
	tests := []struct {
		name    string
		status  int
		body    string
		want    string
		wantErr string
	}{
		{name: "no results", status: http.StatusOK, body: `{"web":{"results":[]}}`, want: NoResults},
		{name: "bad status", status: http.StatusTooManyRequests, body: `{}`, wantErr: "status: 429"},
		{name: "bad json", status: http.StatusOK, body: `{"web":`, wantErr: "failed to decode response"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
				_, _ = w.Write([]byte(tt.body))
			}))
			defer srv.Close()

			b, err := NewBraveSearch("k", WithBraveBaseURL(srv.URL))
			require.NoError(t, err)
			out, err := b.Search(context.Background(), "q")
			if tt.wantErr != "" {
				require.Error(t, err)
				assert.Contains(t, err.Error(), tt.wantErr)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, out)
		})
	}
}

type fixedRetriever struct {
	docs []schema.Document
	err  error
}

func (r fixedRetriever) GetRelevantDocuments(context.Context, string) ([]schema.Document, error) {
	return r.docs, r.err
}

func TestRetrieverSearch(t *testing.T) {
	s := NewRetrieverSearch(fixedRetriever{docs: []schema.Document{
		{PageContent: " Reset your password under Settings. "},
		{PageContent: "Passwords expire after 90 days."},
	}})
	out, err := s.Call(context.Background(), "password")
	require.NoError(t, err)
	assert.Equal(t, "1. Reset your password under Settings.\n2. Passwords expire after 90 days.", out)

	empty := NewRetrieverSearch(fixedRetriever{})
	out, err = empty.Search(context.Background(), "anything")
	require.NoError(t, err)
	assert.Equal(t, NoResults, out)

	failing := NewRetrieverSearch(fixedRetriever{err: assert.AnError})
	_, err = failing.Search(context.Background(), "x")
	assert.ErrorIs(t, err, assert.AnError)
}

func TestSearchFunc(t *testing.T) {
	var s Searcher = SearchFunc(func(_ context.Context, q string) (string, error) { return "hit:" + q, nil })
	out, err := s.Search(context.Background(), "api")
	require.NoError(t, err)
	assert.Equal(t, "hit:api", out)
}
