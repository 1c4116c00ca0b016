package memory

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"
)

type Config struct {
	Kind        string
	DatabaseURL string
	SQLitePath  string
	BadgerPath  string
	Compress    bool
	Logger      *slog.Logger
}

// NewStore picks a backend by Kind. "auto" prefers postgres when a
// database URL is configured, otherwise sqlite at SQLitePath, otherwise
// in-memory.
func NewStore(ctx context.Context, cfg Config) (Store, error) {
	kind := strings.ToLower(strings.TrimSpace(cfg.Kind))
	if kind == "" || kind == "auto" {
		switch {
		case strings.TrimSpace(cfg.DatabaseURL) != "":
			kind = "postgres"
		case strings.TrimSpace(cfg.SQLitePath) != "":
			kind = "sqlite"
		default:
			kind = "memory"
		}
	}

	switch kind {
	case "memory":
		return NewInMemoryStore(), nil
	case "postgres":
		if strings.TrimSpace(cfg.DatabaseURL) == "" {
			return nil, fmt.Errorf("DATABASE_URL is required for postgres store")
		}
		return NewPostgresStore(ctx, cfg.DatabaseURL)
	case "sqlite":
		return NewSQLiteStore(cfg.SQLitePath, cfg.Compress, cfg.Logger)
	case "badger":
		return NewBadgerStore(BadgerConfig{
			Path:       cfg.BadgerPath,
			Compress:   cfg.Compress,
			GCInterval: 10 * time.Minute,
			Logger:     cfg.Logger,
		})
	default:
		return nil, fmt.Errorf("unsupported store kind %q", cfg.Kind)
	}
}
