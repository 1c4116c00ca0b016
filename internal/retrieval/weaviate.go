package retrieval

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"

	"github.com/weaviate/weaviate-go-client/v5/weaviate"
	"github.com/weaviate/weaviate-go-client/v5/weaviate/graphql"
	"github.com/weaviate/weaviate/entities/models"
)

// WeaviateBackend queries a Weaviate class holding document chunks with
// properties content, filename, source, page and page_label. With an
// Embedder it searches nearVector; otherwise it relies on the class
// vectorizer through nearText.
type WeaviateBackend struct {
	client    *weaviate.Client
	className string
	embedder  Embedder
}

func NewWeaviateBackend(rawURL, className string, embedder Embedder) (*WeaviateBackend, error) {
	parsed, err := url.Parse(strings.TrimSpace(rawURL))
	if err != nil || parsed.Scheme == "" || parsed.Host == "" {
		return nil, fmt.Errorf("invalid weaviate url %q", rawURL)
	}
	client, err := weaviate.NewClient(weaviate.Config{
		Host:   parsed.Host,
		Scheme: parsed.Scheme,
	})
	if err != nil {
		return nil, fmt.Errorf("create weaviate client: %w", err)
	}
	if strings.TrimSpace(className) == "" {
		className = "Document"
	}
	return &WeaviateBackend{client: client, className: className, embedder: embedder}, nil
}

func (b *WeaviateBackend) Name() string { return "weaviate" }

func (b *WeaviateBackend) Search(ctx context.Context, query string, k int) ([]Hit, error) {
	fields := []graphql.Field{
		{Name: "content"},
		{Name: "filename"},
		{Name: "source"},
		{Name: "page"},
		{Name: "page_label"},
		{Name: "_additional { id certainty distance }"},
	}

	get := b.client.GraphQL().Get().
		WithClassName(b.className).
		WithFields(fields...).
		WithLimit(k)

	if b.embedder != nil {
		vec, err := b.embedder.Embed(ctx, query)
		if err != nil {
			return nil, &UnavailableError{Backend: b.Name(), Err: fmt.Errorf("embed query: %w", err)}
		}
		get = get.WithNearVector(b.client.GraphQL().NearVectorArgBuilder().WithVector(vec))
	} else {
		get = get.WithNearText(b.client.GraphQL().NearTextArgBuilder().WithConcepts([]string{query}))
	}

	result, err := get.Do(ctx)
	if err != nil {
		return nil, &UnavailableError{Backend: b.Name(), Err: fmt.Errorf("semantic search: %w", err)}
	}
	if len(result.Errors) > 0 {
		return nil, &UnavailableError{Backend: b.Name(), Err: errors.New("search error: " + result.Errors[0].Message)}
	}
	return b.parse(result), nil
}

func (b *WeaviateBackend) parse(result *models.GraphQLResponse) []Hit {
	data, ok := result.Data["Get"].(map[string]any)
	if !ok {
		return nil
	}
	objects, ok := data[b.className].([]any)
	if !ok {
		return nil
	}

	hits := make([]Hit, 0, len(objects))
	for _, obj := range objects {
		m, ok := obj.(map[string]any)
		if !ok {
			continue
		}
		h := Hit{
			Excerpt:   stringField(m, "content"),
			Filename:  stringField(m, "filename"),
			PageLabel: stringField(m, "page_label"),
			SourceID:  stringField(m, "source"),
		}
		if page, ok := m["page"].(float64); ok {
			h.Page = int(page)
		}
		if extra, ok := m["_additional"].(map[string]any); ok {
			switch {
			case extra["certainty"] != nil:
				h.Score, _ = extra["certainty"].(float64)
			case extra["distance"] != nil:
				d, _ := extra["distance"].(float64)
				h.Score = 1 - d
			}
			if h.SourceID == "" {
				h.SourceID = stringField(extra, "id")
			}
		}
		hits = append(hits, h)
	}
	return hits
}

func stringField(m map[string]any, key string) string {
	if v, ok := m[key].(string); ok {
		return v
	}
	return ""
}
