package loader

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const blogPage = `<html>
<head><title>LLM Powered Autonomous Agents</title><style>.x { color: blue }</style></head>
<body>
  <nav class="menu">Home | Posts</nav>
  <h1 class="post-title">LLM Powered   Autonomous Agents</h1>
  <div class="post-header">June 23, 2023</div>
  <div class="post-content">
    <p>Memory can be short-term or long-term.</p>
    <script>console.log("tracking")</script>
  </div>
  <footer>copyright</footer>
</body>
</html>`

func pageServer(t *testing.T) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/missing" {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		w.Header().Set("Content-Type", "text/html")
		_, _ = w.Write([]byte(blogPage))
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestWebLoader_ClassFilter(t *testing.T) {
	srv := pageServer(t)
	l := NewWebLoader([]string{srv.URL + "/post"}, WithClasses("post-title", "post-header", "post-content"))

	docs, err := l.Load(context.Background())
	require.NoError(t, err)
	require.Len(t, docs, 1)

	content := docs[0].PageContent
	assert.Contains(t, content, "LLM Powered Autonomous Agents")
	assert.Contains(t, content, "June 23, 2023")
	assert.Contains(t, content, "Memory can be short-term or long-term.")
	assert.NotContains(t, content, "Home | Posts")
	assert.NotContains(t, content, "copyright")
	assert.NotContains(t, content, "console.log")
	assert.Equal(t, srv.URL+"/post", docs[0].Metadata["source"])
	assert.Equal(t, "LLM Powered Autonomous Agents", docs[0].Metadata["title"])
}

func TestWebLoader_WholeBody(t *testing.T) {
	srv := pageServer(t)
	docs, err := NewWebLoader([]string{srv.URL}, WithHTTPClient(srv.Client())).Load(context.Background())
	require.NoError(t, err)
	assert.Contains(t, docs[0].PageContent, "Home | Posts")
	assert.Contains(t, docs[0].PageContent, "copyright")
	assert.NotContains(t, docs[0].PageContent, "color: blue")
}

func TestWebLoader_BadStatus(t *testing.T) {
	srv := pageServer(t)
	_, err := NewWebLoader([]string{srv.URL + "/missing"}).Load(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "status code 404")
}
