package llm

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleTool      Role = "tool"
)

// ToolCall is a model-issued request to run a declared tool. Arguments is
// the raw JSON object the model produced.
type ToolCall struct {
	ID        string `json:"id"`
	Name      string `json:"name"`
	Arguments string `json:"arguments"`
}

// Message is one entry of the observation sent to the model.
type Message struct {
	Role       Role       `json:"role"`
	Content    string     `json:"content,omitempty"`
	ToolCalls  []ToolCall `json:"tool_calls,omitempty"`
	ToolCallID string     `json:"tool_call_id,omitempty"`
}

// Tool declares a callable tool with a JSON schema for its arguments.
type Tool struct {
	Name        string         `json:"name"`
	Description string         `json:"description"`
	Parameters  map[string]any `json:"parameters"`
}

type Request struct {
	System   string    `json:"system,omitempty"`
	Messages []Message `json:"messages"`
	Tools    []Tool    `json:"tools,omitempty"`
}

type DecisionKind string

const (
	DecisionRespond    DecisionKind = "respond"
	DecisionInvokeTool DecisionKind = "invoke_tool"
)

// Decision is the model's next action. Raw keeps the unprocessed output
// so callers can fall back to it when a tool call is unusable.
type Decision struct {
	Kind DecisionKind `json:"kind"`
	Text string       `json:"text,omitempty"`
	Call *ToolCall    `json:"call,omitempty"`
	Raw  string       `json:"raw,omitempty"`
}

func Respond(text string) Decision {
	return Decision{Kind: DecisionRespond, Text: text, Raw: text}
}

func InvokeTool(id, name, arguments string) Decision {
	return Decision{
		Kind: DecisionInvokeTool,
		Call: &ToolCall{ID: id, Name: name, Arguments: arguments},
		Raw:  arguments,
	}
}

// Generator is the language-model capability: given an observation and the
// available tools it returns either text or a tool call.
type Generator interface {
	Name() string
	Generate(ctx context.Context, req Request) (Decision, error)
}

// Config controls generator construction.
type Config struct {
	Mode         string
	OpenAIAPIKey string
	OpenAIBase   string
	Model        string
	HTTPURL      string
	FallbackMock bool
}

func NewGenerator(cfg Config) (Generator, error) {
	mode := strings.ToLower(strings.TrimSpace(cfg.Mode))
	if mode == "" {
		mode = "auto"
	}

	var primary Generator
	switch mode {
	case "auto":
		switch {
		case strings.TrimSpace(cfg.OpenAIAPIKey) != "":
			g, err := NewOpenAIGenerator(cfg.OpenAIAPIKey, cfg.OpenAIBase, cfg.Model)
			if err != nil {
				return nil, err
			}
			primary = g
		case strings.TrimSpace(cfg.HTTPURL) != "":
			primary = NewHTTPGenerator(cfg.HTTPURL)
		default:
			return NewMockGenerator(), nil
		}
	case "openai":
		g, err := NewOpenAIGenerator(cfg.OpenAIAPIKey, cfg.OpenAIBase, cfg.Model)
		if err != nil {
			return nil, err
		}
		primary = g
	case "http":
		if strings.TrimSpace(cfg.HTTPURL) == "" {
			return nil, errors.New("LLM_HTTP_URL is required for http mode")
		}
		primary = NewHTTPGenerator(cfg.HTTPURL)
	case "mock":
		return NewMockGenerator(), nil
	default:
		return nil, fmt.Errorf("unsupported llm mode %q", cfg.Mode)
	}

	if cfg.FallbackMock {
		return NewFallbackGenerator(primary, NewMockGenerator()), nil
	}
	return primary, nil
}
