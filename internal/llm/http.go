package llm

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/ent0n29/ragent/internal/reliability"
)

// Retryable statuses (429, 5xx) get one more attempt.
const httpAttempts = 2

// HTTPGenerator forwards requests to a generic HTTP generation endpoint.
// The endpoint receives the Request as JSON and answers either with
// {"tool_call": {"id","name","arguments"}} or with text in one of the
// text/delta/output/message/content fields. SSE and NDJSON streams are
// accumulated into a single text response.
type HTTPGenerator struct {
	url    string
	client *http.Client
}

func NewHTTPGenerator(url string) *HTTPGenerator {
	return &HTTPGenerator{
		url: strings.TrimSpace(url),
		client: &http.Client{
			Timeout: 60 * time.Second,
		},
	}
}

func (g *HTTPGenerator) Name() string { return "http" }

func (g *HTTPGenerator) Generate(ctx context.Context, req Request) (Decision, error) {
	payload, err := json.Marshal(req)
	if err != nil {
		return Decision{}, fmt.Errorf("marshal request: %w", err)
	}

	var res *http.Response
	_, err = reliability.Retry(ctx, httpAttempts, 200*time.Millisecond, 2*time.Second, func(int) error {
		httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, g.url, bytes.NewReader(payload))
		if err != nil {
			return reliability.Permanent(fmt.Errorf("create request: %w", err))
		}
		httpReq.Header.Set("Content-Type", "application/json")

		r, err := g.client.Do(httpReq)
		if err != nil {
			return fmt.Errorf("send request: %w", err)
		}
		if r.StatusCode < 200 || r.StatusCode >= 300 {
			body, _ := io.ReadAll(io.LimitReader(r.Body, 4<<10))
			r.Body.Close()
			statusErr := fmt.Errorf("generator http status %d: %s", r.StatusCode, string(body))
			if reliability.IsRetryableHTTPStatus(r.StatusCode) {
				return statusErr
			}
			return reliability.Permanent(statusErr)
		}
		res = r
		return nil
	}, nil)
	if err != nil {
		return Decision{}, err
	}
	defer res.Body.Close()

	ct := strings.ToLower(res.Header.Get("Content-Type"))
	if strings.Contains(ct, "text/event-stream") || strings.Contains(ct, "application/x-ndjson") {
		text, err := consumeStreaming(res.Body)
		if err != nil {
			return Decision{}, err
		}
		return Respond(text), nil
	}

	body, err := io.ReadAll(res.Body)
	if err != nil {
		return Decision{}, fmt.Errorf("read response: %w", err)
	}
	return parseHTTPDecision(body), nil
}

func parseHTTPDecision(body []byte) Decision {
	var obj map[string]any
	if err := json.Unmarshal(body, &obj); err != nil {
		return Respond(strings.TrimSpace(string(body)))
	}

	if raw, ok := obj["tool_call"].(map[string]any); ok {
		call := ToolCall{}
		call.ID, _ = raw["id"].(string)
		call.Name, _ = raw["name"].(string)
		switch args := raw["arguments"].(type) {
		case string:
			call.Arguments = args
		case map[string]any:
			b, _ := json.Marshal(args)
			call.Arguments = string(b)
		}
		d := InvokeTool(call.ID, call.Name, call.Arguments)
		d.Raw = string(body)
		return d
	}

	d := Respond(extractText(obj))
	d.Raw = string(body)
	return d
}

func consumeStreaming(body io.Reader) (string, error) {
	scanner := bufio.NewScanner(body)
	scanner.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)

	var out strings.Builder
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, ":") {
			continue
		}
		if strings.HasPrefix(line, "data:") {
			line = strings.TrimSpace(strings.TrimPrefix(line, "data:"))
		}
		if line == "[DONE]" {
			break
		}

		delta := line
		var obj map[string]any
		if err := json.Unmarshal([]byte(line), &obj); err == nil {
			delta = extractText(obj)
		}
		out.WriteString(delta)
	}
	if err := scanner.Err(); err != nil {
		return "", fmt.Errorf("stream read: %w", err)
	}
	return out.String(), nil
}

func extractText(obj map[string]any) string {
	for _, k := range []string{"text", "delta", "output", "message", "content"} {
		if v, ok := obj[k]; ok {
			if s, ok := v.(string); ok {
				return s
			}
		}
	}
	return ""
}
