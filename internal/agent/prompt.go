package agent

import (
	"encoding/json"
	"strings"

	"github.com/ent0n29/ragent/internal/llm"
	"github.com/ent0n29/ragent/internal/session"
)

const ToolSearchDocuments = "search_documents"

const DefaultSystemPrompt = "You are a helpful Intelligent Contract Template Selector assistant specializing in " +
	"Non-disclosure agreement (NDA). Use the search_documents tool to retrieve relevant information about NDA contracts."

// FallbackReply is returned when the loop gives up.
const FallbackReply = "I'm sorry, I couldn't work out an answer to that right now. Please try again or rephrase your question."

func searchTool(defaultK int) llm.Tool {
	return llm.Tool{
		Name:        ToolSearchDocuments,
		Description: "Search the contract template library for passages relevant to the query.",
		Parameters: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"query": map[string]any{
					"type":        "string",
					"description": "What to search for.",
				},
				"k": map[string]any{
					"type":        "integer",
					"description": "Number of passages to return.",
					"default":     defaultK,
				},
			},
			"required": []string{"query"},
		},
	}
}

func systemPrompt(base string, summary *session.Turn) string {
	if strings.TrimSpace(base) == "" {
		base = DefaultSystemPrompt
	}
	if summary == nil || strings.TrimSpace(summary.Content) == "" {
		return base
	}
	return base + "\n\nSummary of conversation earlier: " + summary.Content
}

// buildMessages maps history onto the generation boundary. Summary turns
// are folded into the system prompt by the caller.
func buildMessages(turns []session.Turn) []llm.Message {
	out := make([]llm.Message, 0, len(turns))
	for _, t := range turns {
		switch t.Role {
		case session.RoleUser:
			out = append(out, llm.Message{Role: llm.RoleUser, Content: t.Content})
		case session.RoleAssistant:
			out = append(out, llm.Message{Role: llm.RoleAssistant, Content: t.Content})
		case session.RoleToolCall:
			if t.ToolCall == nil {
				continue
			}
			out = append(out, llm.Message{
				Role: llm.RoleAssistant,
				ToolCalls: []llm.ToolCall{{
					ID:        t.ToolCall.ID,
					Name:      t.ToolCall.Name,
					Arguments: toolArguments(t.ToolCall.Query, t.ToolCall.K),
				}},
			})
		case session.RoleToolResult:
			if t.ToolResult == nil {
				continue
			}
			out = append(out, llm.Message{
				Role:       llm.RoleTool,
				ToolCallID: t.ToolResult.CallID,
				Content:    toolContent(t.ToolResult),
			})
		}
	}
	return out
}

func toolArguments(query string, k int) string {
	b, _ := json.Marshal(map[string]any{"query": query, "k": k})
	return string(b)
}

type toolHit struct {
	Content   string  `json:"content"`
	Filename  string  `json:"filename,omitempty"`
	Score     float64 `json:"score"`
	Page      int     `json:"page,omitempty"`
	PageLabel string  `json:"page_label,omitempty"`
	SourceID  string  `json:"source_id"`
}

// toolContent renders a tool result the way the model sees it.
func toolContent(r *session.ToolResult) string {
	var payload any
	if r.Failed() {
		payload = map[string]any{"error": r.Error, "error_kind": r.ErrorKind}
	} else {
		hits := make([]toolHit, 0, len(r.Hits))
		for _, h := range r.Hits {
			hits = append(hits, toolHit{
				Content:   h.Excerpt,
				Filename:  h.Filename,
				Score:     h.Score,
				Page:      h.Page,
				PageLabel: h.PageLabel,
				SourceID:  h.SourceID,
			})
		}
		payload = map[string]any{"results": hits}
	}
	b, _ := json.Marshal(payload)
	return string(b)
}

type searchArgs struct {
	Query string `json:"query"`
	K     *int   `json:"k"`
}

// parseSearchArgs decodes tool arguments; a missing k takes defaultK.
func parseSearchArgs(raw string, defaultK int) (string, int, bool) {
	var args searchArgs
	if err := json.Unmarshal([]byte(strings.TrimSpace(raw)), &args); err != nil {
		return "", 0, false
	}
	query := strings.TrimSpace(args.Query)
	if query == "" {
		return "", 0, false
	}
	k := defaultK
	if args.K != nil {
		k = *args.K
	}
	return query, k, true
}
