package memory

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"zombiezen.com/go/sqlite"
	"zombiezen.com/go/sqlite/sqlitex"

	"github.com/ent0n29/ragent/internal/session"
)

const sqliteSchema = `
CREATE TABLE IF NOT EXISTS checkpoints (
	session_id TEXT PRIMARY KEY,
	status TEXT NOT NULL,
	version INTEGER NOT NULL,
	last_seq INTEGER NOT NULL DEFAULT 0,
	updated_at TEXT NOT NULL,
	payload BLOB NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_checkpoints_updated ON checkpoints (updated_at);
`

var sqlitePragmas = []string{
	"PRAGMA journal_mode=WAL",
	"PRAGMA synchronous=NORMAL",
	"PRAGMA busy_timeout=5000",
	"PRAGMA temp_store=MEMORY",
}

// SQLiteStore keeps one checkpoint row per session in a local SQLite file.
type SQLiteStore struct {
	pool     *sqlitex.Pool
	path     string
	compress bool
	logger   *slog.Logger
}

func NewSQLiteStore(path string, compress bool, logger *slog.Logger) (*SQLiteStore, error) {
	if path == "" {
		return nil, errors.New("sqlite path is required")
	}
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o750); err != nil {
			return nil, fmt.Errorf("create sqlite directory %s: %w", dir, err)
		}
	}

	pool, err := sqlitex.NewPool(path, sqlitex.PoolOptions{
		PoolSize: 4,
		PrepareConn: func(conn *sqlite.Conn) error {
			for _, pragma := range sqlitePragmas {
				if err := sqlitex.ExecuteTransient(conn, pragma, nil); err != nil {
					return fmt.Errorf("%s: %w", pragma, err)
				}
			}
			return sqlitex.ExecuteScript(conn, sqliteSchema, nil)
		},
	})
	if err != nil {
		return nil, fmt.Errorf("open sqlite %s: %w", path, err)
	}
	logger.Info("sqlite session store opened", "path", path)
	return &SQLiteStore{pool: pool, path: path, compress: compress, logger: logger}, nil
}

func (s *SQLiteStore) Load(ctx context.Context, id string) (*session.Session, error) {
	conn, err := s.pool.Take(ctx)
	if err != nil {
		return nil, fmt.Errorf("load session: %w", err)
	}
	defer s.pool.Put(conn)

	var blob []byte
	err = sqlitex.Execute(conn, `SELECT payload FROM checkpoints WHERE session_id = ?`, &sqlitex.ExecOptions{
		Args: []any{id},
		ResultFunc: func(stmt *sqlite.Stmt) error {
			blob = make([]byte, stmt.ColumnLen(0))
			stmt.ColumnBytes(0, blob)
			return nil
		},
	})
	if err != nil {
		return nil, fmt.Errorf("load session: %w", err)
	}
	if blob == nil {
		return nil, session.ErrNotFound
	}
	return decodeSession(blob)
}

func (s *SQLiteStore) Save(ctx context.Context, sess *session.Session) error {
	now := time.Now().UTC()
	next := *sess
	next.Version = sess.Version + 1
	next.UpdatedAt = now
	blob, err := encodeSession(&next, s.compress)
	if err != nil {
		return err
	}

	if err := s.writeCheckpoint(ctx, sess, next.Version, now, blob); err != nil {
		return err
	}
	sess.Version = next.Version
	sess.UpdatedAt = now
	return nil
}

// writeCheckpoint returns nil only once the transaction has committed.
func (s *SQLiteStore) writeCheckpoint(ctx context.Context, sess *session.Session, version int64, now time.Time, blob []byte) (err error) {
	conn, err := s.pool.Take(ctx)
	if err != nil {
		return fmt.Errorf("save session: %w", err)
	}
	defer s.pool.Put(conn)

	endTransaction, err := sqlitex.ImmediateTransaction(conn)
	if err != nil {
		return fmt.Errorf("save session: begin transaction: %w", err)
	}
	defer endTransaction(&err)

	updatedAt := now.Format(time.RFC3339Nano)
	if sess.Version == 0 {
		err = sqlitex.Execute(conn,
			`INSERT INTO checkpoints (session_id, status, version, last_seq, updated_at, payload)
			 VALUES (?, ?, ?, ?, ?, ?)
			 ON CONFLICT (session_id) DO NOTHING`,
			&sqlitex.ExecOptions{Args: []any{sess.ID, string(sess.Status), version, sess.LastSeq(), updatedAt, blob}})
	} else {
		err = sqlitex.Execute(conn,
			`UPDATE checkpoints SET status = ?, version = ?, last_seq = ?, updated_at = ?, payload = ?
			 WHERE session_id = ? AND version = ?`,
			&sqlitex.ExecOptions{Args: []any{string(sess.Status), version, sess.LastSeq(), updatedAt, blob, sess.ID, sess.Version}})
	}
	if err != nil {
		return fmt.Errorf("save session: %w", err)
	}
	if conn.Changes() == 0 {
		return session.ErrVersionConflict
	}
	return nil
}

func (s *SQLiteStore) Delete(ctx context.Context, id string) (bool, error) {
	conn, err := s.pool.Take(ctx)
	if err != nil {
		return false, fmt.Errorf("delete session: %w", err)
	}
	defer s.pool.Put(conn)

	if err := sqlitex.Execute(conn, `DELETE FROM checkpoints WHERE session_id = ?`, &sqlitex.ExecOptions{
		Args: []any{id},
	}); err != nil {
		return false, fmt.Errorf("delete session: %w", err)
	}
	return conn.Changes() > 0, nil
}

// List returns sessions newest first. A limit <= 0 returns every session.
func (s *SQLiteStore) List(ctx context.Context, limit int) ([]Info, error) {
	if limit <= 0 {
		limit = -1
	}
	conn, err := s.pool.Take(ctx)
	if err != nil {
		return nil, fmt.Errorf("list sessions: %w", err)
	}
	defer s.pool.Put(conn)

	var out []Info
	err = sqlitex.Execute(conn,
		`SELECT session_id, status, version, last_seq, updated_at FROM checkpoints
		 ORDER BY updated_at DESC LIMIT ?`,
		&sqlitex.ExecOptions{
			Args: []any{limit},
			ResultFunc: func(stmt *sqlite.Stmt) error {
				updatedAt, err := time.Parse(time.RFC3339Nano, stmt.ColumnText(4))
				if err != nil {
					return fmt.Errorf("parse updated_at: %w", err)
				}
				out = append(out, Info{
					ID:        stmt.ColumnText(0),
					Status:    session.Status(stmt.ColumnText(1)),
					Version:   stmt.ColumnInt64(2),
					LastSeq:   stmt.ColumnInt64(3),
					UpdatedAt: updatedAt,
				})
				return nil
			},
		})
	if err != nil {
		return nil, fmt.Errorf("list sessions: %w", err)
	}
	return out, nil
}

func (s *SQLiteStore) Close() error {
	if err := s.pool.Close(); err != nil {
		s.logger.Error("sqlite session store close error", "path", s.path, "error", err)
		return fmt.Errorf("close sqlite %s: %w", s.path, err)
	}
	return nil
}
