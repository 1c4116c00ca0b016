package observability

import (
	"context"
	"log/slog"
	"time"

	"github.com/ent0n29/ragent/internal/policy"
)

// Level follows the OpenTelemetry severity number ranges.
type Level int

const (
	LevelVerbose Level = 5
	LevelInfo    Level = 9
	LevelWarning Level = 13
	LevelError   Level = 17
)

func (l Level) String() string {
	switch {
	case l <= 4:
		return "TRACE"
	case l <= 8:
		return "DEBUG"
	case l <= 12:
		return "INFO"
	case l <= 16:
		return "WARN"
	case l <= 20:
		return "ERROR"
	default:
		return "FATAL"
	}
}

func (l Level) SlogLevel() slog.Level {
	switch {
	case l <= 8:
		return slog.LevelDebug
	case l <= 12:
		return slog.LevelInfo
	case l <= 16:
		return slog.LevelWarn
	default:
		return slog.LevelError
	}
}

type EventType string

const (
	EventTurnStarted       EventType = "turn.started"
	EventTurnCompleted     EventType = "turn.completed"
	EventTurnFailed        EventType = "turn.failed"
	EventTurnReplayed      EventType = "turn.replayed"
	EventToolInvoked       EventType = "tool.invoked"
	EventToolResult        EventType = "tool.result"
	EventToolFailed        EventType = "tool.failed"
	EventAmbiguousDecision EventType = "agent.ambiguous_decision"
	EventGiveUp            EventType = "agent.give_up"
	EventSummarizeApplied  EventType = "summarize.applied"
	EventSummarizeFailed   EventType = "summarize.failed"
	EventPersistRetry      EventType = "store.persist_retry"
	EventPersistFailed     EventType = "store.persist_failed"
	EventSessionClosed     EventType = "session.closed"
)

// Event is one observable occurrence. Data carries at least session_id
// and, where one exists, seq and iteration.
type Event struct {
	Type      EventType
	Level     Level
	Timestamp time.Time
	Source    string
	Data      map[string]any
}

func NewEvent(t EventType, level Level, source string, data map[string]any) Event {
	return Event{Type: t, Level: level, Timestamp: time.Now().UTC(), Source: source, Data: data}
}

type Observer interface {
	OnEvent(ctx context.Context, event Event)
}

type NoOpObserver struct{}

func (NoOpObserver) OnEvent(context.Context, Event) {}

// FuncObserver adapts a plain function, typically a per-request stream.
type FuncObserver func(ctx context.Context, event Event)

func (f FuncObserver) OnEvent(ctx context.Context, event Event) {
	if f != nil {
		f(ctx, event)
	}
}

// MultiObserver fans out events to multiple observers.
type MultiObserver struct {
	observers []Observer
}

func NewMultiObserver(observers ...Observer) *MultiObserver {
	filtered := make([]Observer, 0, len(observers))
	for _, obs := range observers {
		if obs != nil {
			filtered = append(filtered, obs)
		}
	}
	return &MultiObserver{observers: filtered}
}

func (m *MultiObserver) OnEvent(ctx context.Context, event Event) {
	for _, obs := range m.observers {
		obs.OnEvent(ctx, event)
	}
}

type SlogObserver struct {
	logger *slog.Logger
}

func NewSlogObserver(logger *slog.Logger) *SlogObserver {
	return &SlogObserver{logger: logger}
}

func (o *SlogObserver) OnEvent(ctx context.Context, event Event) {
	attrs := make([]slog.Attr, 0, len(event.Data)+1)
	attrs = append(attrs, slog.String("source", event.Source))
	for k, v := range event.Data {
		attrs = append(attrs, slog.Any(k, policy.RedactField(k, v)))
	}
	LoggerFrom(ctx, o.logger).LogAttrs(ctx, event.Level.SlogLevel(), string(event.Type), attrs...)
}

type observerKey struct{}

// WithObserver attaches a request-scoped observer that receives events in
// addition to the process-wide one.
func WithObserver(ctx context.Context, obs Observer) context.Context {
	return context.WithValue(ctx, observerKey{}, obs)
}

// Emit delivers event to base and to any observer attached to ctx.
func Emit(ctx context.Context, base Observer, event Event) {
	if base != nil {
		base.OnEvent(ctx, event)
	}
	if scoped, ok := ctx.Value(observerKey{}).(Observer); ok && scoped != nil {
		scoped.OnEvent(ctx, event)
	}
}
