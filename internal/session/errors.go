package session

import (
	"errors"
	"fmt"
)

var (
	ErrNotFound        = errors.New("session not found")
	ErrSessionClosed   = errors.New("session closed")
	ErrVersionConflict = errors.New("session version conflict")
)

// PersistenceError reports a save that kept failing after bounded retries.
type PersistenceError struct {
	SessionID string
	Attempts  int
	Err       error
}

func (e *PersistenceError) Error() string {
	return fmt.Sprintf("persist session %s failed after %d attempt(s): %v", e.SessionID, e.Attempts, e.Err)
}

func (e *PersistenceError) Unwrap() error { return e.Err }

// CheckSequence verifies the history is strictly increasing and gap-free,
// with summary intervals accounted as closed ranges.
func (s *Session) CheckSequence() error {
	var prev int64
	for i, t := range s.History() {
		if t.Seq <= 0 {
			return fmt.Errorf("turn %d has non-positive seq %d", i, t.Seq)
		}
		if t.SeqEnd != 0 && t.SeqEnd < t.Seq {
			return fmt.Errorf("turn %d has inverted range %d..%d", i, t.Seq, t.SeqEnd)
		}
		if t.Role == RoleSummary && i != 0 {
			return fmt.Errorf("summary turn at position %d", i)
		}
		if prev != 0 && t.Seq != prev+1 {
			return fmt.Errorf("seq gap: %d follows %d", t.Seq, prev)
		}
		prev = t.End()
	}
	return nil
}
