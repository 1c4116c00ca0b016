package llm

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync/atomic"
)

// MockGenerator provides deterministic local replies when no model is
// configured. It searches once for every new user message when a tool is
// offered, then answers from the top tool result.
type MockGenerator struct {
	calls atomic.Int64
}

func NewMockGenerator() *MockGenerator { return &MockGenerator{} }

func (g *MockGenerator) Name() string { return "mock" }

func (g *MockGenerator) Generate(ctx context.Context, req Request) (Decision, error) {
	select {
	case <-ctx.Done():
		return Decision{}, ctx.Err()
	default:
	}
	n := g.calls.Add(1)

	if len(req.Messages) == 0 {
		return Respond("How can I help you choose an NDA template?"), nil
	}
	last := req.Messages[len(req.Messages)-1]

	// Without tools the request is a summarization: history followed by
	// the instruction.
	if len(req.Tools) == 0 {
		return Respond(mockSummary(req.Messages[:len(req.Messages)-1])), nil
	}

	switch last.Role {
	case RoleUser:
		query := strings.TrimSpace(last.Content)
		if query == "" {
			return Respond("I am listening."), nil
		}
		args, _ := json.Marshal(map[string]any{"query": query})
		return InvokeTool(fmt.Sprintf("mock-call-%d", n), req.Tools[0].Name, string(args)), nil
	case RoleTool:
		return Respond(mockAnswer(last.Content)), nil
	default:
		return Respond(strings.TrimSpace(last.Content)), nil
	}
}

func mockAnswer(toolContent string) string {
	var payload struct {
		Error   string `json:"error"`
		Results []struct {
			Content  string `json:"content"`
			Filename string `json:"filename"`
		} `json:"results"`
	}
	if err := json.Unmarshal([]byte(toolContent), &payload); err != nil {
		return "Here is what I found: " + truncateRunes(toolContent, 300)
	}
	if payload.Error != "" {
		return "I could not search the contract library right now, so I cannot cite a template."
	}
	if len(payload.Results) == 0 {
		return "I did not find any matching NDA templates in the library."
	}
	top := payload.Results[0]
	if top.Filename != "" {
		return fmt.Sprintf("From %s: %s", top.Filename, truncateRunes(top.Content, 300))
	}
	return "From the contract library: " + truncateRunes(top.Content, 300)
}

func mockSummary(messages []Message) string {
	var topics []string
	for _, m := range messages {
		if m.Role == RoleUser && strings.TrimSpace(m.Content) != "" {
			topics = append(topics, truncateRunes(strings.TrimSpace(m.Content), 80))
		}
	}
	if len(topics) == 0 {
		return "The conversation so far had no user questions."
	}
	return "The user asked about: " + strings.Join(topics, "; ")
}

func truncateRunes(s string, max int) string {
	r := []rune(s)
	if len(r) <= max {
		return s
	}
	return string(r[:max]) + "..."
}
