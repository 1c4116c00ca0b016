package retrieval

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

// HTTPBackend forwards searches to an external RAG search endpoint.
//
// Request:  POST {"query": "...", "k": 8}
// Response: {"results": [...]} or a bare array. Each entry may use
// content/text/excerpt for the excerpt and source_id/source for the ID.
type HTTPBackend struct {
	url    string
	client *http.Client
}

func NewHTTPBackend(url string) *HTTPBackend {
	return &HTTPBackend{
		url: strings.TrimSpace(url),
		client: &http.Client{
			Timeout: 60 * time.Second,
		},
	}
}

func (b *HTTPBackend) Name() string { return "http" }

type httpSearchRequest struct {
	Query string `json:"query"`
	K     int    `json:"k"`
}

type httpSearchHit struct {
	Content    string          `json:"content"`
	Text       string          `json:"text"`
	Excerpt    string          `json:"excerpt"`
	Score      float64         `json:"score"`
	SourceID   string          `json:"source_id"`
	Source     string          `json:"source"`
	Filename   string          `json:"filename"`
	Page       json.RawMessage `json:"page"`
	PageLabel  string          `json:"page_label"`
	DocumentID string          `json:"document_id"`
}

func (b *HTTPBackend) Search(ctx context.Context, query string, k int) ([]Hit, error) {
	payload, err := json.Marshal(httpSearchRequest{Query: query, K: k})
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, b.url, bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	res, err := b.client.Do(req)
	if err != nil {
		return nil, &UnavailableError{Backend: b.Name(), Err: fmt.Errorf("send request: %w", err)}
	}
	defer res.Body.Close()

	if res.StatusCode < 200 || res.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(res.Body, 4<<10))
		return nil, &UnavailableError{
			Backend: b.Name(),
			Err:     fmt.Errorf("search http status %d: %s", res.StatusCode, strings.TrimSpace(string(body))),
		}
	}

	body, err := io.ReadAll(io.LimitReader(res.Body, 16<<20))
	if err != nil {
		return nil, &UnavailableError{Backend: b.Name(), Err: fmt.Errorf("read response: %w", err)}
	}
	raw, err := decodeHTTPHits(body)
	if err != nil {
		return nil, &UnavailableError{Backend: b.Name(), Err: err}
	}

	hits := make([]Hit, 0, len(raw))
	for _, h := range raw {
		hits = append(hits, Hit{
			Excerpt:    firstNonEmpty(h.Content, h.Text, h.Excerpt),
			Score:      h.Score,
			SourceID:   firstNonEmpty(h.SourceID, h.Source),
			Filename:   h.Filename,
			Page:       parsePage(h.Page),
			PageLabel:  h.PageLabel,
			DocumentID: h.DocumentID,
		})
	}
	return hits, nil
}

func decodeHTTPHits(body []byte) ([]httpSearchHit, error) {
	trimmed := bytes.TrimSpace(body)
	if len(trimmed) > 0 && trimmed[0] == '[' {
		var hits []httpSearchHit
		if err := json.Unmarshal(trimmed, &hits); err != nil {
			return nil, fmt.Errorf("decode results: %w", err)
		}
		return hits, nil
	}
	var envelope struct {
		Success *bool           `json:"success"`
		Error   string          `json:"error"`
		Results []httpSearchHit `json:"results"`
	}
	if err := json.Unmarshal(trimmed, &envelope); err != nil {
		return nil, fmt.Errorf("decode results: %w", err)
	}
	if envelope.Success != nil && !*envelope.Success {
		return nil, fmt.Errorf("search failed: %s", envelope.Error)
	}
	return envelope.Results, nil
}

// parsePage accepts page numbers encoded as numbers or numeric strings.
func parsePage(raw json.RawMessage) int {
	if len(raw) == 0 {
		return 0
	}
	var n int
	if err := json.Unmarshal(raw, &n); err == nil {
		return n
	}
	var f float64
	if err := json.Unmarshal(raw, &f); err == nil {
		return int(f)
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		_, _ = fmt.Sscanf(strings.TrimSpace(s), "%d", &n)
	}
	return n
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if strings.TrimSpace(v) != "" {
			return v
		}
	}
	return ""
}
