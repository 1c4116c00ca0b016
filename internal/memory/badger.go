package memory

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"sort"
	"strings"
	"time"

	"github.com/dgraph-io/badger/v4"

	"github.com/ent0n29/ragent/internal/session"
)

const badgerKeyPrefix = "session/"

type BadgerConfig struct {
	Path       string
	InMemory   bool
	Compress   bool
	GCInterval time.Duration
	Logger     *slog.Logger
}

// BadgerStore keeps encoded sessions in an embedded BadgerDB.
type BadgerStore struct {
	db       *badger.DB
	compress bool
	logger   *slog.Logger
	stopGC   chan struct{}
	gcDone   chan struct{}
}

func NewBadgerStore(cfg BadgerConfig) (*BadgerStore, error) {
	if !cfg.InMemory && strings.TrimSpace(cfg.Path) == "" {
		return nil, errors.New("badger path is required")
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}

	var opts badger.Options
	if cfg.InMemory {
		opts = badger.DefaultOptions("").WithInMemory(true)
	} else {
		if err := os.MkdirAll(cfg.Path, 0o750); err != nil {
			return nil, fmt.Errorf("create badger directory %s: %w", cfg.Path, err)
		}
		opts = badger.DefaultOptions(cfg.Path).WithSyncWrites(true)
	}
	opts = opts.WithLogger(&badgerLogger{logger: logger})

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("open badger: %w", err)
	}

	s := &BadgerStore{db: db, compress: cfg.Compress, logger: logger}
	if cfg.GCInterval > 0 && !cfg.InMemory {
		s.stopGC = make(chan struct{})
		s.gcDone = make(chan struct{})
		go s.runGC(cfg.GCInterval)
	}
	return s, nil
}

func (s *BadgerStore) Load(_ context.Context, id string) (*session.Session, error) {
	var blob []byte
	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(badgerKey(id))
		if err != nil {
			return err
		}
		blob, err = item.ValueCopy(nil)
		return err
	})
	if errors.Is(err, badger.ErrKeyNotFound) {
		return nil, session.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("load session: %w", err)
	}
	return decodeSession(blob)
}

func (s *BadgerStore) Save(_ context.Context, sess *session.Session) error {
	now := time.Now().UTC()
	next := *sess
	next.Version = sess.Version + 1
	next.UpdatedAt = now
	blob, err := encodeSession(&next, s.compress)
	if err != nil {
		return err
	}

	err = s.db.Update(func(txn *badger.Txn) error {
		var current int64
		item, err := txn.Get(badgerKey(sess.ID))
		switch {
		case errors.Is(err, badger.ErrKeyNotFound):
		case err != nil:
			return err
		default:
			raw, err := item.ValueCopy(nil)
			if err != nil {
				return err
			}
			stored, err := decodeSession(raw)
			if err != nil {
				return err
			}
			current = stored.Version
		}
		if current != sess.Version {
			return session.ErrVersionConflict
		}
		return txn.Set(badgerKey(sess.ID), blob)
	})
	if errors.Is(err, badger.ErrConflict) {
		return session.ErrVersionConflict
	}
	if err != nil {
		if errors.Is(err, session.ErrVersionConflict) {
			return err
		}
		return fmt.Errorf("save session: %w", err)
	}
	sess.Version = next.Version
	sess.UpdatedAt = now
	return nil
}

func (s *BadgerStore) Delete(_ context.Context, id string) (bool, error) {
	existed := false
	err := s.db.Update(func(txn *badger.Txn) error {
		_, err := txn.Get(badgerKey(id))
		if errors.Is(err, badger.ErrKeyNotFound) {
			return nil
		}
		if err != nil {
			return err
		}
		existed = true
		return txn.Delete(badgerKey(id))
	})
	if err != nil {
		return false, fmt.Errorf("delete session: %w", err)
	}
	return existed, nil
}

func (s *BadgerStore) List(_ context.Context, limit int) ([]Info, error) {
	var out []Info
	err := s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = []byte(badgerKeyPrefix)
		it := txn.NewIterator(opts)
		defer it.Close()
		for it.Rewind(); it.Valid(); it.Next() {
			raw, err := it.Item().ValueCopy(nil)
			if err != nil {
				return err
			}
			sess, err := decodeSession(raw)
			if err != nil {
				return err
			}
			out = append(out, infoOf(sess))
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("list sessions: %w", err)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].UpdatedAt.After(out[j].UpdatedAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *BadgerStore) Close() error {
	if s.stopGC != nil {
		close(s.stopGC)
		<-s.gcDone
	}
	return s.db.Close()
}

func (s *BadgerStore) runGC(interval time.Duration) {
	defer close(s.gcDone)
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-s.stopGC:
			return
		case <-ticker.C:
			// ErrNoRewrite only means there was nothing to collect.
			if err := s.db.RunValueLogGC(0.5); err != nil && !errors.Is(err, badger.ErrNoRewrite) {
				s.logger.Warn("badger value log gc failed", "error", err)
			}
		}
	}
}

func badgerKey(id string) []byte {
	return []byte(badgerKeyPrefix + id)
}

// badgerLogger adapts slog to badger's logger interface.
type badgerLogger struct {
	logger *slog.Logger
}

func (l *badgerLogger) Errorf(format string, args ...any) {
	l.logger.Error(fmt.Sprintf(format, args...))
}

func (l *badgerLogger) Warningf(format string, args ...any) {
	l.logger.Warn(fmt.Sprintf(format, args...))
}

func (l *badgerLogger) Infof(format string, args ...any) {
	l.logger.Debug(fmt.Sprintf(format, args...))
}

func (l *badgerLogger) Debugf(format string, args ...any) {
	l.logger.Debug(fmt.Sprintf(format, args...))
}
