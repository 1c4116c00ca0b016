package retrieval

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWeaviateBackendNearTextQuery(t *testing.T) {
	var gotQuery string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/graphql" {
			http.NotFound(w, r)
			return
		}
		body, _ := io.ReadAll(r.Body)
		var payload struct {
			Query string `json:"query"`
		}
		_ = json.Unmarshal(body, &payload)
		gotQuery = payload.Query
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"data":{"Get":{"Contract":[
			{"content":"Second","filename":"b.pdf","page":2,"_additional":{"id":"uuid-b","distance":0.4}},
			{"content":"First","filename":"a.pdf","source":"a.pdf#1","page":1,"_additional":{"id":"uuid-a","certainty":0.93}}
		]}}}`))
	}))
	defer srv.Close()

	backend, err := NewWeaviateBackend(srv.URL, "Contract", nil)
	require.NoError(t, err)

	res, err := NewAdapter(backend, 2*time.Second).Search(context.Background(), "confidentiality term", 5)
	require.NoError(t, err)
	require.Len(t, res.Hits, 2)
	assert.Equal(t, "First", res.Hits[0].Excerpt)
	assert.Equal(t, "a.pdf#1", res.Hits[0].SourceID)
	assert.InDelta(t, 0.93, res.Hits[0].Score, 1e-9)
	assert.Equal(t, "uuid-b", res.Hits[1].SourceID)
	assert.InDelta(t, 0.6, res.Hits[1].Score, 1e-9)

	assert.True(t, strings.Contains(gotQuery, "nearText"), "query should use nearText: %s", gotQuery)
	assert.True(t, strings.Contains(gotQuery, "Contract"))
}

func TestWeaviateBackendGraphQLErrorIsUnavailable(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"errors":[{"message":"class Contract not found"}]}`))
	}))
	defer srv.Close()

	backend, err := NewWeaviateBackend(srv.URL, "Contract", nil)
	require.NoError(t, err)

	_, err = NewAdapter(backend, 2*time.Second).Search(context.Background(), "nda", 3)
	assert.ErrorIs(t, err, ErrUnavailable)
}

func TestNewWeaviateBackendRejectsBadURL(t *testing.T) {
	_, err := NewWeaviateBackend("not a url", "", nil)
	assert.Error(t, err)
}
