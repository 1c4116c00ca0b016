package controller

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime/debug"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/ent0n29/ragent/internal/agent"
	"github.com/ent0n29/ragent/internal/memory"
	"github.com/ent0n29/ragent/internal/observability"
	"github.com/ent0n29/ragent/internal/policy"
	"github.com/ent0n29/ragent/internal/reliability"
	"github.com/ent0n29/ragent/internal/session"
	"github.com/ent0n29/ragent/internal/summarize"
)

// ErrorReply is the assistant text persisted when a turn fails hard.
const ErrorReply = "Sorry, something went wrong while answering. Please try again."

var ErrEmptyMessage = errors.New("message must not be empty")

type Config struct {
	PersistRetries  int
	RetryBackoff    time.Duration
	RetryBackoffCap time.Duration
	CallTimeout     time.Duration
	RedactPII       bool
}

func (c Config) withDefaults() Config {
	if c.PersistRetries <= 0 {
		c.PersistRetries = 3
	}
	if c.RetryBackoff <= 0 {
		c.RetryBackoff = 50 * time.Millisecond
	}
	if c.RetryBackoffCap <= 0 {
		c.RetryBackoffCap = time.Second
	}
	if c.CallTimeout <= 0 {
		c.CallTimeout = 30 * time.Second
	}
	return c
}

type SubmitRequest struct {
	SessionID string
	Message   string
	RequestID string
}

type SubmitResult struct {
	SessionID string
	Reply     string
	Replayed  bool
	Degraded  bool
	Reason    string
	Turns     []session.Turn
}

// Controller is the per-request facade: it serializes turns per session,
// runs the engine and the summarizer, and persists the outcome.
type Controller struct {
	store      memory.Store
	engine     *agent.Engine
	summarizer *summarize.Trigger
	locker     *session.Locker
	cfg        Config
	observer   observability.Observer
	metrics    *observability.Metrics
	logger     *slog.Logger
	newID      func() string
}

type Option func(*Controller)

func WithSummarizer(t *summarize.Trigger) Option {
	return func(c *Controller) { c.summarizer = t }
}

func WithObserver(obs observability.Observer) Option {
	return func(c *Controller) { c.observer = obs }
}

func WithMetrics(m *observability.Metrics) Option {
	return func(c *Controller) { c.metrics = m }
}

func WithLogger(l *slog.Logger) Option {
	return func(c *Controller) { c.logger = l }
}

func New(store memory.Store, engine *agent.Engine, cfg Config, opts ...Option) *Controller {
	c := &Controller{
		store:    store,
		engine:   engine,
		locker:   session.NewLocker(),
		cfg:      cfg.withDefaults(),
		observer: observability.NoOpObserver{},
		logger:   slog.Default(),
		newID:    newSessionID,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func newSessionID() string {
	id, err := uuid.NewV7()
	if err != nil {
		return uuid.NewString()
	}
	return id.String()
}

// HandleTurn runs one user message against sessionID and returns the reply.
func (c *Controller) HandleTurn(ctx context.Context, sessionID, message string) (string, error) {
	res, err := c.SubmitTurn(ctx, SubmitRequest{SessionID: sessionID, Message: message})
	return res.Reply, err
}

// SubmitTurn allocates a session when none is named, then runs the turn
// under the session lock. Once the lock is held the turn runs to
// completion even if ctx is cancelled; the caller then gets ctx.Err().
func (c *Controller) SubmitTurn(ctx context.Context, req SubmitRequest) (SubmitResult, error) {
	req.SessionID = strings.TrimSpace(req.SessionID)
	req.RequestID = strings.TrimSpace(req.RequestID)
	if strings.TrimSpace(req.Message) == "" {
		return SubmitResult{SessionID: req.SessionID}, ErrEmptyMessage
	}
	if req.SessionID == "" {
		req.SessionID = c.newID()
	}

	started := time.Now()
	release, err := c.acquire(ctx, req.SessionID)
	if err != nil {
		return SubmitResult{SessionID: req.SessionID}, err
	}
	defer c.releaseLock(release)

	res, err := c.runTurn(context.WithoutCancel(ctx), req)
	c.metrics.ObserveTurnStage(observability.StageTurnTotal, time.Since(started))
	if err == nil && ctx.Err() != nil {
		return res, ctx.Err()
	}
	return res, err
}

func (c *Controller) acquire(ctx context.Context, id string) (func(), error) {
	release, err := c.locker.Lock(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("acquire session lock %s: %w", id, err)
	}
	c.updateActive()
	return release, nil
}

func (c *Controller) releaseLock(release func()) {
	release()
	c.updateActive()
}

func (c *Controller) updateActive() {
	if c.metrics != nil {
		c.metrics.ActiveSessions.Set(float64(c.locker.ActiveCount()))
	}
}

func (c *Controller) runTurn(ctx context.Context, req SubmitRequest) (SubmitResult, error) {
	res := SubmitResult{SessionID: req.SessionID}
	logger := observability.LoggerFrom(ctx, c.logger).With("session_id", req.SessionID)

	snap, err := c.loadOrCreate(ctx, req.SessionID)
	if err != nil {
		return res, err
	}
	if snap.Status == session.StatusClosed {
		return res, session.ErrSessionClosed
	}
	if snap.Status == session.StatusSummarizing {
		logger.Warn("session left in summarizing state, resetting")
		snap.Status = session.StatusActive
	}

	if prior, ok := snap.FindReply(req.RequestID); ok {
		c.emit(ctx, observability.EventTurnReplayed, observability.LevelInfo, map[string]any{
			"session_id": snap.ID, "seq": prior.Seq, "request_id": req.RequestID,
		})
		res.Reply = prior.Content
		res.Replayed = true
		return res, nil
	}

	content := req.Message
	if c.cfg.RedactPII {
		content, _ = policy.RedactPII(content)
	}
	user := session.Turn{Role: session.RoleUser, Content: content, RequestID: req.RequestID}
	c.emit(ctx, observability.EventTurnStarted, observability.LevelVerbose, map[string]any{
		"session_id": snap.ID, "seq": snap.NextSeq(),
	})

	next, runErr := c.reason(ctx, snap, user, &res)
	if runErr != nil {
		logger.Error("turn failed", "error", runErr)
		next = snap.Clone()
		next.Append(user)
		marker := next.Append(session.Turn{Role: session.RoleAssistant, Content: ErrorReply, Failed: true})
		res.Reply = marker.Content
		res.Turns = append([]session.Turn(nil), next.Turns[len(snap.Turns):]...)
		c.emit(ctx, observability.EventTurnFailed, observability.LevelError, map[string]any{
			"session_id": snap.ID, "seq": marker.Seq, "error": runErr.Error(),
		})
	}

	if c.cfg.RedactPII {
		redactNewTurns(next, snap.LastSeq())
	}
	next = c.summarize(ctx, next, logger)

	if err := c.persist(ctx, next); err != nil {
		return res, err
	}
	if runErr != nil {
		return res, fmt.Errorf("run turn: %w", runErr)
	}
	c.emit(ctx, observability.EventTurnCompleted, observability.LevelInfo, map[string]any{
		"session_id": next.ID, "seq": next.LastSeq(), "degraded": res.Degraded, "reason": res.Reason,
	})
	return res, nil
}

func (c *Controller) loadOrCreate(ctx context.Context, id string) (*session.Session, error) {
	started := time.Now()
	defer func() { c.metrics.ObserveTurnStage(observability.StageLoad, time.Since(started)) }()

	loadCtx, cancel := context.WithTimeout(ctx, c.cfg.CallTimeout)
	defer cancel()
	snap, err := c.store.Load(loadCtx, id)
	if errors.Is(err, session.ErrNotFound) {
		return session.New(id), nil
	}
	if err != nil {
		return nil, &session.PersistenceError{SessionID: id, Attempts: 1, Err: fmt.Errorf("load session: %w", err)}
	}
	return snap, nil
}

// reason runs the engine, turning a panic into an error.
func (c *Controller) reason(ctx context.Context, snap *session.Session, user session.Turn, res *SubmitResult) (next *session.Session, err error) {
	defer func() {
		if r := recover(); r != nil {
			c.logger.Error("engine panic", "session_id", snap.ID, "panic", r, "stack", string(debug.Stack()))
			next, err = nil, fmt.Errorf("engine panic: %v", r)
		}
	}()
	if c.engine == nil {
		return nil, errors.New("no engine configured")
	}
	out, err := c.engine.Run(ctx, snap, user)
	if err != nil {
		return nil, err
	}
	res.Reply = out.Reply
	res.Degraded = out.Degraded
	res.Reason = out.Reason
	res.Turns = out.Turns
	return out.Session, nil
}

// redactNewTurns masks user-derived text in the turns appended after seq.
// Assistant replies are stored as returned so replays stay identical.
func redactNewTurns(s *session.Session, after int64) {
	for i, t := range s.Turns {
		if t.Seq <= after || t.Role == session.RoleAssistant {
			continue
		}
		s.Turns[i], _ = policy.RedactTurn(t)
	}
}

// summarize compacts next when the policy fires. A failure leaves next
// unchanged; the turn is still persisted.
func (c *Controller) summarize(ctx context.Context, next *session.Session, logger *slog.Logger) *session.Session {
	if c.summarizer == nil || !c.summarizer.Policy().Due(next) {
		return next
	}
	next.Status = session.StatusSummarizing
	compacted, res, err := c.summarizer.MaybeSummarize(ctx, next)
	next.Status = session.StatusActive
	if err != nil {
		logger.Warn("summarization failed", "error", err)
		return next
	}
	compacted.Status = session.StatusActive
	if res.Applied {
		logger.Debug("session summarized", "replaced", res.Replaced, "seq_end", res.SeqEnd)
	}
	return compacted
}

// persist saves snap with bounded retries. Version conflicts are not
// retried: another writer owns the newer state.
func (c *Controller) persist(ctx context.Context, snap *session.Session) error {
	started := time.Now()
	defer func() { c.metrics.ObserveTurnStage(observability.StagePersist, time.Since(started)) }()

	attempts, err := reliability.Retry(ctx, c.cfg.PersistRetries, c.cfg.RetryBackoff, c.cfg.RetryBackoffCap,
		func(int) error {
			saveCtx, cancel := context.WithTimeout(ctx, c.cfg.CallTimeout)
			defer cancel()
			err := c.store.Save(saveCtx, snap)
			if errors.Is(err, session.ErrVersionConflict) {
				return reliability.Permanent(err)
			}
			return err
		},
		func(attempt int, err error) {
			c.emit(ctx, observability.EventPersistRetry, observability.LevelWarning, map[string]any{
				"session_id": snap.ID, "seq": snap.LastSeq(), "attempt": attempt, "error": err.Error(),
			})
		},
	)
	if err == nil {
		return nil
	}
	c.emit(ctx, observability.EventPersistFailed, observability.LevelError, map[string]any{
		"session_id": snap.ID, "seq": snap.LastSeq(), "attempts": attempts, "error": err.Error(),
	})
	return &session.PersistenceError{SessionID: snap.ID, Attempts: attempts, Err: err}
}

// Session returns a read-only snapshot of the stored session.
func (c *Controller) Session(ctx context.Context, id string) (*session.Session, error) {
	loadCtx, cancel := context.WithTimeout(ctx, c.cfg.CallTimeout)
	defer cancel()
	snap, err := c.store.Load(loadCtx, id)
	if err != nil {
		if errors.Is(err, session.ErrNotFound) {
			return nil, err
		}
		return nil, fmt.Errorf("load session: %w", err)
	}
	return snap, nil
}

// Close marks the session Closed. Closing a closed session is a no-op.
func (c *Controller) Close(ctx context.Context, id string) error {
	release, err := c.acquire(ctx, id)
	if err != nil {
		return err
	}
	defer c.releaseLock(release)
	ctx = context.WithoutCancel(ctx)

	snap, err := c.Session(ctx, id)
	if err != nil {
		return err
	}
	if snap.Status == session.StatusClosed {
		return nil
	}
	snap.Status = session.StatusClosed
	if err := c.persist(ctx, snap); err != nil {
		return err
	}
	c.emit(ctx, observability.EventSessionClosed, observability.LevelInfo, map[string]any{
		"session_id": id, "seq": snap.LastSeq(),
	})
	return nil
}

// Clear deletes a session and reports whether it existed.
func (c *Controller) Clear(ctx context.Context, id string) (bool, error) {
	release, err := c.acquire(ctx, id)
	if err != nil {
		return false, err
	}
	defer c.releaseLock(release)

	removed, err := c.store.Delete(context.WithoutCancel(ctx), id)
	if err != nil {
		return false, fmt.Errorf("clear session: %w", err)
	}
	return removed, nil
}

// ClearAll deletes every listed session and returns how many were removed.
func (c *Controller) ClearAll(ctx context.Context) (int, error) {
	infos, err := c.store.List(ctx, 0)
	if err != nil {
		return 0, fmt.Errorf("list sessions: %w", err)
	}
	removed := 0
	var errs []error
	for _, info := range infos {
		ok, err := c.Clear(ctx, info.ID)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		if ok {
			removed++
		}
	}
	return removed, errors.Join(errs...)
}

func (c *Controller) List(ctx context.Context, limit int) ([]memory.Info, error) {
	infos, err := c.store.List(ctx, limit)
	if err != nil {
		return nil, fmt.Errorf("list sessions: %w", err)
	}
	return infos, nil
}

// ActiveLocks reports how many sessions have a turn in flight or queued.
func (c *Controller) ActiveLocks() int {
	return c.locker.ActiveCount()
}

func (c *Controller) emit(ctx context.Context, t observability.EventType, level observability.Level, data map[string]any) {
	observability.Emit(ctx, c.observer, observability.NewEvent(t, level, "controller", data))
}
