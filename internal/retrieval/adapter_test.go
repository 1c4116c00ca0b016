package retrieval

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAdapterRejectsInvalidRequestBeforeBackend(t *testing.T) {
	backend := &StaticBackend{Hits: []Hit{{Excerpt: "x", Score: 1}}}
	a := NewAdapter(backend, time.Second)

	_, err := a.Search(context.Background(), "   ", 3)
	assert.ErrorIs(t, err, ErrInvalidRequest)

	_, err = a.Search(context.Background(), "nda", 0)
	assert.ErrorIs(t, err, ErrInvalidRequest)

	_, err = a.Search(context.Background(), "nda", -2)
	assert.ErrorIs(t, err, ErrInvalidRequest)

	assert.Equal(t, int64(0), backend.Calls())
}

func TestAdapterNormalizesAndTruncates(t *testing.T) {
	backend := &StaticBackend{Hits: []Hit{
		{Excerpt: "top", Score: 0.9, Filename: "nda.pdf", Page: 3},
		{Excerpt: "   ", Score: 0.99, SourceID: "blank"},
		{Excerpt: "tie-first", Score: 0.8, SourceID: "b"},
		{Excerpt: "tie-second", Score: 0.8, SourceID: "c"},
		{Excerpt: "  low  ", Score: 0.1, SourceID: "a"},
	}}
	a := NewAdapter(backend, time.Second)

	res, err := a.Search(context.Background(), " nda ", 3)
	require.NoError(t, err)
	assert.Equal(t, "nda", res.Query)
	require.Len(t, res.Hits, 3)
	assert.Equal(t, "top", res.Hits[0].Excerpt)
	assert.Equal(t, "nda.pdf#3", res.Hits[0].SourceID)
	assert.Equal(t, "tie-first", res.Hits[1].Excerpt)
	assert.Equal(t, "tie-second", res.Hits[2].Excerpt)
}

func TestAdapterKeepsBackendRankOrder(t *testing.T) {
	backend := &StaticBackend{Hits: []Hit{
		{Excerpt: "reranked-first", Score: 0.2, SourceID: "r1"},
		{Excerpt: "reranked-second", Score: 0.9, SourceID: "r2"},
		{Excerpt: "tie-a", Score: 0.5, SourceID: "t1"},
		{Excerpt: "tie-b", Score: 0.5, SourceID: "t2"},
	}}
	a := NewAdapter(backend, time.Second)

	res, err := a.Search(context.Background(), "nda", 10)
	require.NoError(t, err)
	var order []string
	for _, h := range res.Hits {
		order = append(order, h.SourceID)
	}
	assert.Equal(t, []string{"r1", "r2", "t1", "t2"}, order)
}

func TestAdapterWrapsBackendFailure(t *testing.T) {
	a := NewAdapter(&StaticBackend{Err: errors.New("connection refused")}, time.Second)
	_, err := a.Search(context.Background(), "nda", 2)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrUnavailable)
	assert.Equal(t, "unavailable", ErrorKind(err))

	var unavailable *UnavailableError
	require.True(t, errors.As(err, &unavailable))
	assert.Equal(t, "static", unavailable.Backend)
}

func TestHTTPBackendDecodesResults(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"success":true,"results":[
			{"content":"Mutual NDA clause","score":0.7,"filename":"mutual.pdf","page":"2","page_label":"ii"},
			{"text":"One-way NDA","score":0.9,"source":"oneway.pdf"}
		]}`))
	}))
	defer srv.Close()

	a := NewAdapter(NewHTTPBackend(srv.URL), time.Second)
	res, err := a.Search(context.Background(), "nda", 5)
	require.NoError(t, err)
	require.Len(t, res.Hits, 2)
	assert.Equal(t, "One-way NDA", res.Hits[0].Excerpt)
	assert.Equal(t, "oneway.pdf", res.Hits[0].SourceID)
	assert.Equal(t, 2, res.Hits[1].Page)
	assert.Equal(t, "ii", res.Hits[1].PageLabel)
	assert.Equal(t, "mutual.pdf#2", res.Hits[1].SourceID)
}

func TestHTTPBackendStatusIsUnavailable(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "index offline", http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	a := NewAdapter(NewHTTPBackend(srv.URL), time.Second)
	_, err := a.Search(context.Background(), "nda", 5)
	assert.ErrorIs(t, err, ErrUnavailable)
}

func TestHTTPBackendTimeoutIsUnavailable(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-r.Context().Done():
		case <-time.After(2 * time.Second):
		}
	}))
	defer srv.Close()

	a := NewAdapter(NewHTTPBackend(srv.URL), 50*time.Millisecond)
	_, err := a.Search(context.Background(), "nda", 5)
	assert.ErrorIs(t, err, ErrUnavailable)
}

type fixedEmbedder struct{ vec []float32 }

func (e fixedEmbedder) Embed(context.Context, string) ([]float32, error) { return e.vec, nil }

func writeCorpusFile(t *testing.T, dir, docID, body string) {
	t.Helper()
	require.NoError(t, os.WriteFile(filepath.Join(dir, docID+embeddingsSuffix), []byte(body), 0o644))
}

func TestLocalBackendCosineRanking(t *testing.T) {
	dir := t.TempDir()
	writeCorpusFile(t, dir, "mutual", `{
		"texts": ["mutual confidentiality obligations", "governing law"],
		"metadatas": [{"source": "pdfs/mutual.pdf", "page": 1, "page_label": "1"}, {"source": "pdfs/mutual.pdf", "page": 4}],
		"embeddings": [[1, 0], [0, 1]]
	}`)
	writeCorpusFile(t, dir, "broken", `{not json`)

	b, err := NewLocalBackend(context.Background(), dir, fixedEmbedder{vec: []float32{0.9, 0.1}}, nil)
	require.NoError(t, err)
	assert.Equal(t, 2, b.Size())

	hits, err := b.Search(context.Background(), "anything", 1)
	require.NoError(t, err)
	require.Len(t, hits, 1)
	assert.Equal(t, "mutual confidentiality obligations", hits[0].Excerpt)
	assert.Equal(t, "mutual.pdf", hits[0].Filename)
	assert.Equal(t, "mutual", hits[0].DocumentID)
	assert.Equal(t, 1, hits[0].Page)
}

func TestLocalBackendLexicalFallback(t *testing.T) {
	dir := t.TempDir()
	writeCorpusFile(t, dir, "guide", `{
		"texts": ["employee onboarding checklist", "unilateral nda protects one disclosing party"],
		"metadatas": [{}, {}]
	}`)

	b, err := NewLocalBackend(context.Background(), dir, nil, nil)
	require.NoError(t, err)

	hits, err := b.Search(context.Background(), "unilateral NDA", 5)
	require.NoError(t, err)
	require.Len(t, hits, 1)
	assert.Equal(t, "guide#1", hits[0].SourceID)
}

func TestMockBackendAnswersNDAQuestions(t *testing.T) {
	a := NewAdapter(NewMockBackend(), time.Second)
	res, err := a.Search(context.Background(), "mutual nda", 2)
	require.NoError(t, err)
	require.NotEmpty(t, res.Hits)
	assert.Contains(t, res.Hits[0].Excerpt, "mutual")
}

func TestNewBackendAutoSelection(t *testing.T) {
	ctx := context.Background()

	b, err := NewBackend(ctx, Config{Mode: "auto", CorpusDir: filepath.Join(t.TempDir(), "missing")})
	require.NoError(t, err)
	assert.Equal(t, "mock", b.Name())

	b, err = NewBackend(ctx, Config{Mode: "auto", CorpusDir: t.TempDir()})
	require.NoError(t, err)
	assert.Equal(t, "local", b.Name())

	b, err = NewBackend(ctx, Config{Mode: "auto", HTTPURL: "http://127.0.0.1:1/search"})
	require.NoError(t, err)
	assert.Equal(t, "http", b.Name())

	_, err = NewBackend(ctx, Config{Mode: "solr"})
	assert.Error(t, err)
}
