package githubapi

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestClient(t *testing.T, h http.Handler) *Client {
	t.Helper()
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)
	c, err := New(Options{BaseURL: srv.URL, Token: "secret"})
	require.NoError(t, err)
	return c
}

func TestLanguagesPreservesProviderOrder(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/repos/acme/widgets/languages", func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "application/vnd.github.v3+json", r.Header.Get("Accept"))
		assert.Contains(t, r.Header.Get("Authorization"), "secret")
		_, _ = w.Write([]byte(`{"Shell": 10, "TypeScript": 800, "CSS": 200}`))
	})
	c := newTestClient(t, mux)

	langs, err := c.Languages(context.Background(), "acme", "widgets")
	require.NoError(t, err)
	require.Len(t, langs, 3)
	assert.Equal(t, "Shell", langs[0].Name)
	assert.Equal(t, "TypeScript", langs[1].Name)
	assert.Equal(t, int64(1010), langs.Total())
}

func TestLanguagesUnmarshalRejectsNonObject(t *testing.T) {
	var langs Languages
	require.Error(t, json.Unmarshal([]byte(`[1,2]`), &langs))
	require.NoError(t, json.Unmarshal([]byte(`null`), &langs))
	assert.Empty(t, langs)
	require.NoError(t, json.Unmarshal([]byte(`{}`), &langs))
	assert.Empty(t, langs)
}

func TestRepositoryReportsStatus(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/repos/acme/widgets", func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"size": 500, "default_branch": "trunk"}`))
	})
	mux.HandleFunc("/repos/acme/missing", func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, `{"message":"Not Found"}`, http.StatusNotFound)
	})
	c := newTestClient(t, mux)

	md, err := c.Repository(context.Background(), "acme", "widgets")
	require.NoError(t, err)
	assert.Equal(t, Metadata{SizeKB: 500, DefaultBranch: "trunk"}, md)

	_, err = c.Repository(context.Background(), "acme", "missing")
	require.Error(t, err)
	assert.Equal(t, http.StatusNotFound, StatusCode(err))
}

func TestTreeAndBlob(t *testing.T) {
	var blobURL string
	mux := http.NewServeMux()
	mux.HandleFunc("/repos/acme/widgets/git/trees/main", func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "1", r.URL.Query().Get("recursive"))
		_ = json.NewEncoder(w).Encode(map[string]any{
			"sha": "abc",
			"tree": []map[string]any{
				{"path": "src", "type": "tree", "url": "unused"},
				{"path": "src/index.ts", "type": "blob", "url": blobURL},
			},
		})
	})
	mux.HandleFunc("/repos/acme/widgets/git/blobs/def", func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"content": "aGVs\nbG8=\n", "encoding": "base64"}`))
	})
	mux.HandleFunc("/repos/acme/empty/git/trees/main", func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"sha": "abc"}`))
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()
	blobURL = srv.URL + "/repos/acme/widgets/git/blobs/def"

	c, err := New(Options{BaseURL: srv.URL})
	require.NoError(t, err)

	entries, err := c.Tree(context.Background(), "acme", "widgets", "main")
	require.NoError(t, err)
	require.Len(t, entries, 2)
	assert.Equal(t, TreeEntry{Path: "src/index.ts", Type: "blob", URL: blobURL}, entries[1])

	content, err := c.BlobContent(context.Background(), entries[1].URL)
	require.NoError(t, err)
	assert.Equal(t, "aGVs\nbG8=\n", content)

	empty, err := c.Tree(context.Background(), "acme", "empty", "main")
	require.NoError(t, err)
	assert.Empty(t, empty)
}

func TestStatusCodeWithoutResponse(t *testing.T) {
	c, err := New(Options{BaseURL: "http://127.0.0.1:1"})
	require.NoError(t, err)
	_, err = c.Repository(context.Background(), "acme", "widgets")
	require.Error(t, err)
	assert.Equal(t, 0, StatusCode(err))
}
