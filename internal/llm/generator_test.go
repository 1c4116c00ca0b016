package llm

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var searchTool = Tool{
	Name:        "search_documents",
	Description: "search",
	Parameters:  map[string]any{"type": "object"},
}

func TestNewGeneratorAutoFallsBackToMock(t *testing.T) {
	g, err := NewGenerator(Config{Mode: "auto"})
	require.NoError(t, err)
	assert.Equal(t, "mock", g.Name())

	_, err = NewGenerator(Config{Mode: "openai"})
	assert.Error(t, err)

	_, err = NewGenerator(Config{Mode: "http"})
	assert.Error(t, err)

	g, err = NewGenerator(Config{Mode: "http", HTTPURL: "http://example.test", FallbackMock: true})
	require.NoError(t, err)
	assert.Equal(t, "http+mock", g.Name())
}

func TestMockGeneratorSearchesThenAnswers(t *testing.T) {
	g := NewMockGenerator()
	ctx := context.Background()

	d, err := g.Generate(ctx, Request{
		Messages: []Message{{Role: RoleUser, Content: "which NDA for a contractor?"}},
		Tools:    []Tool{searchTool},
	})
	require.NoError(t, err)
	require.Equal(t, DecisionInvokeTool, d.Kind)
	assert.Equal(t, "search_documents", d.Call.Name)
	assert.JSONEq(t, `{"query":"which NDA for a contractor?"}`, d.Call.Arguments)

	d, err = g.Generate(ctx, Request{
		Messages: []Message{
			{Role: RoleUser, Content: "which NDA for a contractor?"},
			{Role: RoleAssistant, ToolCalls: []ToolCall{*d.Call}},
			{Role: RoleTool, ToolCallID: d.Call.ID, Content: `{"results":[{"content":"Use a unilateral NDA.","filename":"oneway.pdf"}]}`},
		},
		Tools: []Tool{searchTool},
	})
	require.NoError(t, err)
	assert.Equal(t, DecisionRespond, d.Kind)
	assert.Equal(t, "From oneway.pdf: Use a unilateral NDA.", d.Text)
}

func TestMockGeneratorSummarizesWithoutTools(t *testing.T) {
	d, err := NewMockGenerator().Generate(context.Background(), Request{
		Messages: []Message{
			{Role: RoleUser, Content: "mutual NDA?"},
			{Role: RoleAssistant, Content: "yes"},
			{Role: RoleUser, Content: "term length?"},
			{Role: RoleUser, Content: "Create a summary of the conversation above:"},
		},
	})
	require.NoError(t, err)
	assert.Equal(t, "The user asked about: mutual NDA?; term length?", d.Text)
}

func TestFallbackGeneratorUsesFallback(t *testing.T) {
	g := NewFallbackGenerator(
		NewScriptedGenerator(Step{Err: errors.New("boom")}),
		NewScriptedGenerator(Step{Decision: Respond("fallback")}),
	)
	d, err := g.Generate(context.Background(), Request{})
	require.NoError(t, err)
	assert.Equal(t, "fallback", d.Text)
}

func TestFallbackGeneratorSkipsFallbackOnCanceledContext(t *testing.T) {
	fb := NewScriptedGenerator(Step{Decision: Respond("fallback")})
	g := NewFallbackGenerator(NewScriptedGenerator(Step{Err: context.Canceled}), fb)
	_, err := g.Generate(context.Background(), Request{})
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 0, fb.Calls())
}

func TestScriptedGeneratorRepeatAndDelay(t *testing.T) {
	g := NewScriptedGenerator(Step{Decision: Respond("first")}).
		Repeat(Step{Decision: InvokeTool("c", "search_documents", `{"query":"x"}`)})

	d, err := g.Generate(context.Background(), Request{})
	require.NoError(t, err)
	assert.Equal(t, "first", d.Text)
	for i := 0; i < 3; i++ {
		d, err = g.Generate(context.Background(), Request{})
		require.NoError(t, err)
		assert.Equal(t, DecisionInvokeTool, d.Kind)
	}
	assert.Equal(t, 4, g.Calls())

	slow := NewScriptedGenerator(Step{Delay: time.Second, Decision: Respond("late")})
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err = slow.Generate(ctx, Request{})
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestHTTPGeneratorToolCallAndText(t *testing.T) {
	var gotReq Request
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		_ = json.Unmarshal(body, &gotReq)
		w.Header().Set("Content-Type", "application/json")
		if len(gotReq.Messages) == 1 {
			_, _ = w.Write([]byte(`{"tool_call":{"id":"t1","name":"search_documents","arguments":{"query":"nda","k":2}}}`))
			return
		}
		_, _ = w.Write([]byte(`{"text":"An NDA protects secrets."}`))
	}))
	defer srv.Close()

	g := NewHTTPGenerator(srv.URL)
	d, err := g.Generate(context.Background(), Request{
		System:   "sys",
		Messages: []Message{{Role: RoleUser, Content: "nda?"}},
		Tools:    []Tool{searchTool},
	})
	require.NoError(t, err)
	require.Equal(t, DecisionInvokeTool, d.Kind)
	assert.Equal(t, "t1", d.Call.ID)
	assert.JSONEq(t, `{"query":"nda","k":2}`, d.Call.Arguments)
	assert.Equal(t, "sys", gotReq.System)

	d, err = g.Generate(context.Background(), Request{Messages: []Message{{Role: RoleUser}, {Role: RoleTool}}})
	require.NoError(t, err)
	assert.Equal(t, DecisionRespond, d.Kind)
	assert.Equal(t, "An NDA protects secrets.", d.Text)
}

func TestHTTPGeneratorStatusError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "overloaded", http.StatusBadGateway)
	}))
	defer srv.Close()

	_, err := NewHTTPGenerator(srv.URL).Generate(context.Background(), Request{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "502")
}

func TestConsumeStreamingSSE(t *testing.T) {
	stream := strings.NewReader(strings.Join([]string{
		": keepalive",
		"",
		`data: {"delta":"Hel"}`,
		"",
		`data: {"delta":"lo"}`,
		"",
		"data: [DONE]",
		"",
	}, "\n"))
	text, err := consumeStreaming(stream)
	require.NoError(t, err)
	assert.Equal(t, "Hello", text)
}

func TestOpenAIGeneratorParsesToolCalls(t *testing.T) {
	var gotBody map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.True(t, strings.HasSuffix(r.URL.Path, "/chat/completions"))
		body, _ := io.ReadAll(r.Body)
		_ = json.Unmarshal(body, &gotBody)
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{
			"id":"cmpl-1","object":"chat.completion","model":"gpt-4o",
			"choices":[{"index":0,"finish_reason":"tool_calls","message":{
				"role":"assistant","content":"",
				"tool_calls":[{"id":"call_1","type":"function","function":{"name":"search_documents","arguments":"{\"query\":\"mutual nda\"}"}}]
			}}]
		}`))
	}))
	defer srv.Close()

	g, err := NewOpenAIGenerator("sk-test", srv.URL+"/v1", "")
	require.NoError(t, err)

	d, err := g.Generate(context.Background(), Request{
		System:   "You are helpful.",
		Messages: []Message{{Role: RoleUser, Content: "mutual nda?"}},
		Tools:    []Tool{searchTool},
	})
	require.NoError(t, err)
	require.Equal(t, DecisionInvokeTool, d.Kind)
	assert.Equal(t, "call_1", d.Call.ID)
	assert.Equal(t, "search_documents", d.Call.Name)
	assert.Equal(t, `{"query":"mutual nda"}`, d.Call.Arguments)

	assert.Equal(t, "gpt-4o", gotBody["model"])
	messages, ok := gotBody["messages"].([]any)
	require.True(t, ok)
	require.Len(t, messages, 2)
	first := messages[0].(map[string]any)
	assert.Equal(t, "system", first["role"])
	tools, ok := gotBody["tools"].([]any)
	require.True(t, ok)
	assert.Len(t, tools, 1)
}
