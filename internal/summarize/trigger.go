package summarize

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"github.com/ent0n29/ragent/internal/llm"
	"github.com/ent0n29/ragent/internal/observability"
	"github.com/ent0n29/ragent/internal/session"
)

const (
	createPrompt = "Create a summary of the conversation above:"
	extendPrompt = "This is summary of the conversation to date: %s\n\nExtend the summary by taking into account the new messages above:"
)

// Policy decides when history is compacted. MaxTurns counts turns since
// the last summary; MaxTokens (0 disables) bounds their estimated size.
type Policy struct {
	MaxTurns     int
	MaxTokens    int
	RetainRecent int
}

func DefaultPolicy() Policy {
	return Policy{MaxTurns: 12, RetainRecent: 2}
}

// Due reports whether the policy fires for s.
func (p Policy) Due(s *session.Session) bool {
	if s == nil || len(s.Turns) == 0 {
		return false
	}
	if p.MaxTurns > 0 && len(s.Turns) > p.MaxTurns {
		return true
	}
	return p.MaxTokens > 0 && EstimateTokens(s.Turns) > p.MaxTokens
}

// cut returns how many leading turns get compacted. The boundary never
// separates a tool result from its call.
func (p Policy) cut(turns []session.Turn) int {
	retain := p.RetainRecent
	if retain < 0 {
		retain = 0
	}
	n := len(turns) - retain
	for n > 0 && n < len(turns) && turns[n].Role == session.RoleToolResult {
		n--
	}
	if n < 0 {
		return 0
	}
	return n
}

// EstimateTokens approximates token usage at four characters per token
// plus a small per-turn overhead.
func EstimateTokens(turns []session.Turn) int {
	total := 0
	for _, t := range turns {
		chars := utf8.RuneCountInString(t.Content)
		if t.ToolCall != nil {
			chars += utf8.RuneCountInString(t.ToolCall.Query) + 16
		}
		if t.ToolResult != nil {
			chars += utf8.RuneCountInString(t.ToolResult.Error)
			for _, h := range t.ToolResult.Hits {
				chars += utf8.RuneCountInString(h.Excerpt) + 16
			}
		}
		total += (chars+3)/4 + 4
	}
	return total
}

type Result struct {
	Applied  bool  `json:"applied"`
	Replaced int   `json:"replaced"`
	SeqStart int64 `json:"seq_start,omitempty"`
	SeqEnd   int64 `json:"seq_end,omitempty"`
}

// Trigger compacts session history through the generator.
type Trigger struct {
	gen      llm.Generator
	policy   Policy
	timeout  time.Duration
	observer observability.Observer
	metrics  *observability.Metrics
}

func NewTrigger(gen llm.Generator, policy Policy, timeout time.Duration, observer observability.Observer, metrics *observability.Metrics) *Trigger {
	if observer == nil {
		observer = observability.NoOpObserver{}
	}
	return &Trigger{gen: gen, policy: policy, timeout: timeout, observer: observer, metrics: metrics}
}

func (t *Trigger) Policy() Policy { return t.policy }

// MaybeSummarize returns a new snapshot whose eligible prefix is replaced
// by one summary turn, or snapshot itself when the policy does not fire.
// On failure snapshot is returned untouched together with the error.
func (t *Trigger) MaybeSummarize(ctx context.Context, snapshot *session.Session) (*session.Session, Result, error) {
	if !t.policy.Due(snapshot) {
		return snapshot, Result{}, nil
	}
	cut := t.policy.cut(snapshot.Turns)
	if cut == 0 {
		return snapshot, Result{}, nil
	}

	ctx, span := otel.Tracer("github.com/ent0n29/ragent/internal/summarize").Start(ctx, "summarize")
	defer span.End()
	span.SetAttributes(attribute.Int("summarize.turns", cut))

	compacted := snapshot.Turns[:cut]
	started := time.Now()
	text, err := t.generate(ctx, snapshot.Summary, compacted)
	t.metrics.ObserveTurnStage(observability.StageSummarize, time.Since(started))
	if err != nil {
		span.RecordError(err)
		observability.Emit(ctx, t.observer, observability.NewEvent(
			observability.EventSummarizeFailed, observability.LevelWarning, "summarize",
			map[string]any{"session_id": snapshot.ID, "seq": compacted[len(compacted)-1].End(), "error": err.Error()},
		))
		return snapshot, Result{}, fmt.Errorf("summarize session %s: %w", snapshot.ID, err)
	}

	next := snapshot.Clone()
	start := compacted[0].Seq
	if next.Summary != nil {
		start = next.Summary.Seq
	}
	end := compacted[len(compacted)-1].End()
	next.Summary = &session.Turn{
		Seq:       start,
		SeqEnd:    end,
		Role:      session.RoleSummary,
		Content:   text,
		CreatedAt: time.Now().UTC(),
	}
	next.Turns = next.Turns[cut:]

	res := Result{Applied: true, Replaced: cut, SeqStart: start, SeqEnd: end}
	observability.Emit(ctx, t.observer, observability.NewEvent(
		observability.EventSummarizeApplied, observability.LevelInfo, "summarize",
		map[string]any{"session_id": snapshot.ID, "seq": end, "replaced": cut, "seq_start": start},
	))
	return next, res, nil
}

func (t *Trigger) generate(ctx context.Context, previous *session.Turn, turns []session.Turn) (string, error) {
	if t.gen == nil {
		return "", errors.New("no generator configured")
	}
	messages := transcript(turns)
	prompt := createPrompt
	if previous != nil && strings.TrimSpace(previous.Content) != "" {
		prompt = fmt.Sprintf(extendPrompt, previous.Content)
	}
	messages = append(messages, llm.Message{Role: llm.RoleUser, Content: prompt})

	if t.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, t.timeout)
		defer cancel()
	}
	d, err := t.gen.Generate(ctx, llm.Request{Messages: messages})
	if err != nil {
		return "", err
	}
	if d.Kind != llm.DecisionRespond || strings.TrimSpace(d.Text) == "" {
		return "", errors.New("generator returned no summary text")
	}
	return strings.TrimSpace(d.Text), nil
}

// transcript renders turns as plain chat messages; tool traffic is
// flattened to text since no tools are offered here.
func transcript(turns []session.Turn) []llm.Message {
	out := make([]llm.Message, 0, len(turns))
	for _, t := range turns {
		switch t.Role {
		case session.RoleUser:
			out = append(out, llm.Message{Role: llm.RoleUser, Content: t.Content})
		case session.RoleAssistant:
			out = append(out, llm.Message{Role: llm.RoleAssistant, Content: t.Content})
		case session.RoleToolCall:
			if t.ToolCall != nil {
				out = append(out, llm.Message{Role: llm.RoleAssistant, Content: "Searched documents for: " + t.ToolCall.Query})
			}
		case session.RoleToolResult:
			if t.ToolResult == nil {
				continue
			}
			if t.ToolResult.Failed() {
				out = append(out, llm.Message{Role: llm.RoleAssistant, Content: "Search failed: " + t.ToolResult.Error})
				continue
			}
			var b strings.Builder
			b.WriteString("Search results:")
			for _, h := range t.ToolResult.Hits {
				b.WriteString("\n- ")
				b.WriteString(h.Excerpt)
			}
			out = append(out, llm.Message{Role: llm.RoleAssistant, Content: b.String()})
		}
	}
	return out
}
