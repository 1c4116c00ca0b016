package agent

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/ent0n29/ragent/internal/llm"
	"github.com/ent0n29/ragent/internal/observability"
	"github.com/ent0n29/ragent/internal/retrieval"
	"github.com/ent0n29/ragent/internal/session"
)

const tracerName = "github.com/ent0n29/ragent/internal/agent"

type Config struct {
	MaxIterations int
	CallTimeout   time.Duration
	DefaultK      int
	SystemPrompt  string
}

func (c Config) withDefaults() Config {
	if c.MaxIterations <= 0 {
		c.MaxIterations = 5
	}
	if c.CallTimeout <= 0 {
		c.CallTimeout = 30 * time.Second
	}
	if c.DefaultK <= 0 {
		c.DefaultK = 8
	}
	return c
}

// Engine runs the reasoning/action loop for one user turn.
type Engine struct {
	gen      llm.Generator
	search   retrieval.Searcher
	cfg      Config
	observer observability.Observer
	metrics  *observability.Metrics
	logger   *slog.Logger
	tracer   trace.Tracer
}

type Option func(*Engine)

func WithObserver(obs observability.Observer) Option {
	return func(e *Engine) { e.observer = obs }
}

func WithMetrics(m *observability.Metrics) Option {
	return func(e *Engine) { e.metrics = m }
}

func WithLogger(l *slog.Logger) Option {
	return func(e *Engine) { e.logger = l }
}

func NewEngine(gen llm.Generator, search retrieval.Searcher, cfg Config, opts ...Option) *Engine {
	e := &Engine{
		gen:      gen,
		search:   search,
		cfg:      cfg.withDefaults(),
		observer: observability.NoOpObserver{},
		logger:   slog.Default(),
		tracer:   otel.Tracer(tracerName),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

func (e *Engine) Config() Config { return e.cfg }

// Run advances a private copy of snapshot through the loop until a
// terminal phase. The returned session holds the user turn plus every
// turn the loop appended; snapshot itself is never modified.
func (e *Engine) Run(ctx context.Context, snapshot *session.Session, user session.Turn) (Outcome, error) {
	if snapshot == nil {
		return Outcome{}, errors.New("run engine: nil session")
	}
	if e.gen == nil {
		return Outcome{}, errors.New("run engine: no generator configured")
	}

	ctx, span := e.tracer.Start(ctx, "agent.run", trace.WithAttributes(
		attribute.String("session.id", snapshot.ID),
	))
	defer span.End()
	started := time.Now()

	st := e.Start(snapshot, user)
	for !st.Terminal() {
		switch st.Phase {
		case PhaseDecide:
			st = e.Decide(ctx, st)
		case PhaseInvokeTool:
			st = e.InvokeTool(ctx, st)
		default:
			return Outcome{}, fmt.Errorf("run engine: unexpected phase %q", st.Phase)
		}
	}
	e.metrics.ObserveTurnStage(observability.StageReason, time.Since(started))

	span.SetAttributes(
		attribute.Int("agent.iterations", st.Iteration),
		attribute.String("agent.phase", string(st.Phase)),
	)
	if st.Degraded() {
		span.SetStatus(codes.Error, st.Reason)
	}

	return Outcome{
		Session:  st.Session,
		Reply:    st.Reply,
		Turns:    st.NewTurns(),
		Degraded: st.Degraded(),
		Reason:   st.Reason,
		Err:      st.Err,
	}, nil
}

// Start builds the observation: summary, turns since it, and the new user
// turn appended with the next sequence number.
func (e *Engine) Start(snapshot *session.Session, user session.Turn) *State {
	working := snapshot.Clone()
	first := len(working.Turns)
	user.Role = session.RoleUser
	appended := working.Append(user)
	return &State{
		Phase:   PhaseDecide,
		Session: working,
		userSeq: appended.Seq,
		first:   first,
	}
}

// Decide asks the generator for the next action.
func (e *Engine) Decide(ctx context.Context, st *State) *State {
	if st.Iteration >= e.cfg.MaxIterations {
		return e.giveUp(ctx, st, ReasonIterationBudget, ErrIterationBudgetExceeded)
	}
	st.Iteration++

	req := llm.Request{
		System:   systemPrompt(e.cfg.SystemPrompt, st.Session.Summary),
		Messages: buildMessages(st.Session.Turns),
		Tools:    []llm.Tool{searchTool(e.cfg.DefaultK)},
	}

	callCtx, cancel := context.WithTimeout(ctx, e.cfg.CallTimeout)
	callCtx, span := e.tracer.Start(callCtx, "agent.generate", trace.WithAttributes(
		attribute.String("llm.generator", e.gen.Name()),
		attribute.Int("agent.iteration", st.Iteration),
	))
	started := time.Now()
	d, err := e.gen.Generate(callCtx, req)
	e.metrics.ObserveTurnStage(observability.StageGenerate, time.Since(started))
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "generate failed")
	}
	span.End()
	cancel()

	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return e.giveUp(ctx, st, ReasonGenerationTimeout, fmt.Errorf("%w: %v", ErrGenerationTimeout, err))
		}
		return e.giveUp(ctx, st, ReasonGenerationFailed, fmt.Errorf("%w: %v", ErrGenerationFailed, err))
	}
	st.last = d

	if d.Kind == llm.DecisionInvokeTool {
		if call, ok := e.validateCall(d); ok {
			st.pending = call
			st.Phase = PhaseInvokeTool
			return st
		}
		e.emit(ctx, st, observability.EventAmbiguousDecision, observability.LevelWarning, map[string]any{
			"raw": truncate(d.Raw, 200),
		})
	}
	return e.respond(ctx, st, decisionText(d))
}

func (e *Engine) validateCall(d llm.Decision) (*pendingCall, bool) {
	if d.Call == nil || d.Call.Name != ToolSearchDocuments {
		return nil, false
	}
	query, k, ok := parseSearchArgs(d.Call.Arguments, e.cfg.DefaultK)
	if !ok {
		return nil, false
	}
	id := strings.TrimSpace(d.Call.ID)
	if id == "" {
		id = "call_" + uuid.NewString()
	}
	return &pendingCall{ID: id, Name: d.Call.Name, Query: query, K: k}, true
}

// decisionText is the liberal reading of a decision: a clean response,
// or whatever raw output an unusable tool call carried.
func decisionText(d llm.Decision) string {
	for _, s := range []string{d.Text, d.Raw} {
		if strings.TrimSpace(s) != "" {
			return strings.TrimSpace(s)
		}
	}
	if d.Call != nil {
		return strings.TrimSpace(d.Call.Arguments)
	}
	return ""
}

// InvokeTool runs the pending search and records the call and its result.
// Retrieval failures become an errored tool result; the loop continues.
func (e *Engine) InvokeTool(ctx context.Context, st *State) *State {
	call := st.pending
	st.pending = nil
	if call == nil {
		st.Phase = PhaseDecide
		return st
	}

	callTurn := st.Session.Append(session.Turn{
		Role:     session.RoleToolCall,
		ToolCall: &session.ToolCall{ID: call.ID, Name: call.Name, Query: call.Query, K: call.K},
	})
	e.emit(ctx, st, observability.EventToolInvoked, observability.LevelInfo, map[string]any{
		"seq":   callTurn.Seq,
		"tool":  call.Name,
		"query": call.Query,
		"k":     call.K,
	})

	result := &session.ToolResult{CallID: call.ID, Name: call.Name, Query: call.Query}

	callCtx, cancel := context.WithTimeout(ctx, e.cfg.CallTimeout)
	callCtx, span := e.tracer.Start(callCtx, "agent.tool", trace.WithAttributes(
		attribute.String("tool.name", call.Name),
		attribute.Int("tool.k", call.K),
	))
	started := time.Now()
	var (
		res retrieval.Result
		err error
	)
	if e.search == nil {
		err = &retrieval.UnavailableError{Backend: "none", Err: errors.New("no retriever configured")}
	} else {
		res, err = e.search.Search(callCtx, call.Query, call.K)
	}
	e.metrics.ObserveTurnStage(observability.StageRetrieve, time.Since(started))
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "search failed")
	}
	span.End()
	cancel()

	if err != nil {
		result.Error = err.Error()
		result.ErrorKind = retrieval.ErrorKind(err)
	} else {
		result.Hits = res.Hits
	}

	resultTurn := st.Session.Append(session.Turn{Role: session.RoleToolResult, ToolResult: result})
	if result.Failed() {
		e.emit(ctx, st, observability.EventToolFailed, observability.LevelWarning, map[string]any{
			"seq":        resultTurn.Seq,
			"tool":       call.Name,
			"error":      result.Error,
			"error_kind": result.ErrorKind,
		})
	} else {
		e.emit(ctx, st, observability.EventToolResult, observability.LevelInfo, map[string]any{
			"seq":  resultTurn.Seq,
			"tool": call.Name,
			"hits": len(result.Hits),
		})
	}

	st.Phase = PhaseDecide
	return st
}

func (e *Engine) respond(ctx context.Context, st *State, text string) *State {
	if text == "" {
		st.Reason = ReasonEmptyResponse
		e.emit(ctx, st, observability.EventGiveUp, observability.LevelWarning, map[string]any{
			"reason": ReasonEmptyResponse,
		})
		text = FallbackReply
	}
	st.Session.Append(session.Turn{Role: session.RoleAssistant, Content: text})
	st.Reply = text
	st.Phase = PhaseRespond
	return st
}

func (e *Engine) giveUp(ctx context.Context, st *State, reason string, err error) *State {
	st.Reason = reason
	st.Err = err
	e.emit(ctx, st, observability.EventGiveUp, observability.LevelWarning, map[string]any{
		"reason": reason,
		"error":  err.Error(),
	})
	st.Session.Append(session.Turn{Role: session.RoleAssistant, Content: FallbackReply})
	st.Reply = FallbackReply
	st.Phase = PhaseGiveUp
	return st
}

func (e *Engine) emit(ctx context.Context, st *State, t observability.EventType, level observability.Level, data map[string]any) {
	if data == nil {
		data = make(map[string]any, 3)
	}
	data["session_id"] = st.Session.ID
	data["iteration"] = st.Iteration
	if _, ok := data["seq"]; !ok {
		data["seq"] = st.userSeq
	}
	observability.Emit(ctx, e.observer, observability.NewEvent(t, level, "agent", data))
}

// truncate cuts s to at most n bytes without splitting a rune.
func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	for n > 0 && !utf8.RuneStart(s[n]) {
		n--
	}
	return s[:n]
}
