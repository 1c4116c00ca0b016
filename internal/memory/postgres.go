package memory

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/ent0n29/ragent/internal/session"
)

// PostgresStore persists sessions in PostgreSQL: one row per session plus
// one row per turn, rewritten as a unit on every save.
type PostgresStore struct {
	pool *pgxpool.Pool
}

func NewPostgresStore(ctx context.Context, databaseURL string) (*PostgresStore, error) {
	pool, err := pgxpool.New(ctx, strings.TrimSpace(databaseURL))
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}

	if err := initSchema(ctx, pool); err != nil {
		pool.Close()
		return nil, err
	}

	return &PostgresStore{pool: pool}, nil
}

func initSchema(ctx context.Context, pool *pgxpool.Pool) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS chat_sessions (
			id TEXT PRIMARY KEY,
			status TEXT NOT NULL,
			version BIGINT NOT NULL,
			last_seq BIGINT NOT NULL DEFAULT 0,
			created_at TIMESTAMPTZ NOT NULL,
			updated_at TIMESTAMPTZ NOT NULL
		);`,
		`CREATE TABLE IF NOT EXISTS chat_turns (
			session_id TEXT NOT NULL REFERENCES chat_sessions(id) ON DELETE CASCADE,
			seq BIGINT NOT NULL,
			seq_end BIGINT NOT NULL,
			role TEXT NOT NULL,
			content TEXT NOT NULL DEFAULT '',
			tool_call JSONB NULL,
			tool_result JSONB NULL,
			request_id TEXT NOT NULL DEFAULT '',
			failed BOOLEAN NOT NULL DEFAULT FALSE,
			created_at TIMESTAMPTZ NOT NULL,
			PRIMARY KEY (session_id, seq)
		);`,
		`CREATE INDEX IF NOT EXISTS idx_chat_sessions_updated ON chat_sessions (updated_at DESC);`,
	}

	for _, stmt := range stmts {
		if _, err := pool.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("init schema failed on %q: %w", stmt, err)
		}
	}
	return nil
}

func (s *PostgresStore) Load(ctx context.Context, id string) (*session.Session, error) {
	var (
		sess   session.Session
		status string
	)
	err := s.pool.QueryRow(ctx,
		`SELECT id, status, version, created_at, updated_at FROM chat_sessions WHERE id=$1`,
		id,
	).Scan(&sess.ID, &status, &sess.Version, &sess.CreatedAt, &sess.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, session.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("load session: %w", err)
	}
	sess.Status = session.Status(status)

	rows, err := s.pool.Query(ctx,
		`SELECT seq, seq_end, role, content, tool_call, tool_result, request_id, failed, created_at
		 FROM chat_turns WHERE session_id=$1 ORDER BY seq ASC`,
		id,
	)
	if err != nil {
		return nil, fmt.Errorf("query turns: %w", err)
	}
	turns, err := scanTurnRows(rows)
	if err != nil {
		return nil, err
	}
	for _, t := range turns {
		if t.Role == session.RoleSummary && sess.Summary == nil && len(sess.Turns) == 0 {
			sum := t
			sess.Summary = &sum
			continue
		}
		sess.Turns = append(sess.Turns, t)
	}
	return &sess, nil
}

func (s *PostgresStore) Save(ctx context.Context, sess *session.Session) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	now := time.Now().UTC()
	next := sess.Version + 1
	var tag pgconn.CommandTag
	if sess.Version == 0 {
		tag, err = tx.Exec(ctx,
			`INSERT INTO chat_sessions (id, status, version, last_seq, created_at, updated_at)
			 VALUES ($1,$2,$3,$4,$5,$6)
			 ON CONFLICT (id) DO NOTHING`,
			sess.ID, string(sess.Status), next, sess.LastSeq(), sess.CreatedAt, now,
		)
	} else {
		tag, err = tx.Exec(ctx,
			`UPDATE chat_sessions SET status=$2, version=$3, last_seq=$4, updated_at=$5
			 WHERE id=$1 AND version=$6`,
			sess.ID, string(sess.Status), next, sess.LastSeq(), now, sess.Version,
		)
	}
	if err != nil {
		return fmt.Errorf("save session: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return session.ErrVersionConflict
	}

	if _, err := tx.Exec(ctx, `DELETE FROM chat_turns WHERE session_id=$1`, sess.ID); err != nil {
		return fmt.Errorf("delete prior turns: %w", err)
	}

	for _, t := range sess.History() {
		toolCall, err := jsonOrNil(t.ToolCall)
		if err != nil {
			return err
		}
		toolResult, err := jsonOrNil(t.ToolResult)
		if err != nil {
			return err
		}
		_, err = tx.Exec(ctx,
			`INSERT INTO chat_turns (
				session_id, seq, seq_end, role, content, tool_call, tool_result, request_id, failed, created_at
			) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10)`,
			sess.ID, t.Seq, t.End(), string(t.Role), t.Content, toolCall, toolResult, t.RequestID, t.Failed, t.CreatedAt,
		)
		if err != nil {
			return fmt.Errorf("insert turn %d: %w", t.Seq, err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit session: %w", err)
	}
	sess.Version = next
	sess.UpdatedAt = now
	return nil
}

func (s *PostgresStore) Delete(ctx context.Context, id string) (bool, error) {
	tag, err := s.pool.Exec(ctx, `DELETE FROM chat_sessions WHERE id=$1`, id)
	if err != nil {
		return false, fmt.Errorf("delete session: %w", err)
	}
	return tag.RowsAffected() > 0, nil
}

// List returns sessions newest first. A limit <= 0 returns every session.
func (s *PostgresStore) List(ctx context.Context, limit int) ([]Info, error) {
	var bound *int
	if limit > 0 {
		bound = &limit
	}
	rows, err := s.pool.Query(ctx,
		`SELECT id, status, version, last_seq, updated_at
		 FROM chat_sessions ORDER BY updated_at DESC LIMIT $1`,
		bound,
	)
	if err != nil {
		return nil, fmt.Errorf("list sessions: %w", err)
	}
	defer rows.Close()

	var out []Info
	for rows.Next() {
		var (
			info   Info
			status string
		)
		if err := rows.Scan(&info.ID, &status, &info.Version, &info.LastSeq, &info.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan session row: %w", err)
		}
		info.Status = session.Status(status)
		out = append(out, info)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate session rows: %w", err)
	}
	return out, nil
}

func (s *PostgresStore) Close() error {
	s.pool.Close()
	return nil
}

func scanTurnRows(rows pgx.Rows) ([]session.Turn, error) {
	defer rows.Close()
	var out []session.Turn
	for rows.Next() {
		var (
			t          session.Turn
			role       string
			toolCall   []byte
			toolResult []byte
		)
		if err := rows.Scan(&t.Seq, &t.SeqEnd, &role, &t.Content, &toolCall, &toolResult, &t.RequestID, &t.Failed, &t.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan turn row: %w", err)
		}
		t.Role = session.Role(role)
		if len(toolCall) > 0 {
			t.ToolCall = &session.ToolCall{}
			if err := json.Unmarshal(toolCall, t.ToolCall); err != nil {
				return nil, fmt.Errorf("decode tool call: %w", err)
			}
		}
		if len(toolResult) > 0 {
			t.ToolResult = &session.ToolResult{}
			if err := json.Unmarshal(toolResult, t.ToolResult); err != nil {
				return nil, fmt.Errorf("decode tool result: %w", err)
			}
		}
		out = append(out, t)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate turn rows: %w", err)
	}
	return out, nil
}

func jsonOrNil[T any](v *T) ([]byte, error) {
	if v == nil {
		return nil, nil
	}
	b, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("encode turn payload: %w", err)
	}
	return b, nil
}
