package memory

import (
	"context"
	"time"

	"github.com/ent0n29/ragent/internal/session"
)

// Info is the listing view of a stored session.
type Info struct {
	ID        string         `json:"session_id"`
	Status    session.Status `json:"status"`
	Version   int64          `json:"version"`
	LastSeq   int64          `json:"last_seq"`
	UpdatedAt time.Time      `json:"updated_at"`
}

// Store persists whole sessions keyed by ID.
//
// Save is an atomic compare-and-swap on Version: it succeeds only when the
// stored version equals s.Version (zero for a session that does not exist
// yet). On success the store bumps s.Version and s.UpdatedAt in place.
//
// List returns sessions newest first; a limit <= 0 means no limit.
type Store interface {
	Load(ctx context.Context, id string) (*session.Session, error)
	Save(ctx context.Context, s *session.Session) error
	Delete(ctx context.Context, id string) (bool, error)
	List(ctx context.Context, limit int) ([]Info, error)
	Close() error
}

func infoOf(s *session.Session) Info {
	return Info{
		ID:        s.ID,
		Status:    s.Status,
		Version:   s.Version,
		LastSeq:   s.LastSeq(),
		UpdatedAt: s.UpdatedAt,
	}
}
