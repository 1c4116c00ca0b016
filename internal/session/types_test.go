package session

import (
	"errors"
	"testing"
)

func TestAppendAssignsGapFreeSequence(t *testing.T) {
	s := New("s1")
	for i := 0; i < 4; i++ {
		got := s.Append(Turn{Role: RoleUser, Content: "hi"})
		if got.Seq != int64(i+1) {
			t.Fatalf("Append() seq = %d, want %d", got.Seq, i+1)
		}
	}
	if err := s.CheckSequence(); err != nil {
		t.Fatalf("CheckSequence() error = %v", err)
	}
}

func TestNextSeqContinuesAfterSummary(t *testing.T) {
	s := New("s1")
	s.Summary = &Turn{Seq: 1, SeqEnd: 10, Role: RoleSummary, Content: "earlier"}
	if got := s.NextSeq(); got != 11 {
		t.Fatalf("NextSeq() = %d, want 11", got)
	}
	s.Append(Turn{Role: RoleUser, Content: "next"})
	if err := s.CheckSequence(); err != nil {
		t.Fatalf("CheckSequence() error = %v", err)
	}

	s.Turns[0].Seq = 13
	if err := s.CheckSequence(); err == nil {
		t.Fatalf("CheckSequence() expected gap error")
	}
}

func TestCloneIsDeep(t *testing.T) {
	s := New("s1")
	s.Append(Turn{Role: RoleToolResult, ToolResult: &ToolResult{Hits: []Hit{{Excerpt: "a"}}}})

	c := s.Clone()
	c.Turns[0].ToolResult.Hits[0].Excerpt = "changed"
	c.Append(Turn{Role: RoleUser})

	if s.Turns[0].ToolResult.Hits[0].Excerpt != "a" {
		t.Fatalf("clone shares hit storage with original")
	}
	if len(s.Turns) != 1 {
		t.Fatalf("len(Turns) = %d, want 1", len(s.Turns))
	}
}

func TestFindReply(t *testing.T) {
	s := New("s1")
	s.Append(Turn{Role: RoleUser, Content: "q", RequestID: "r1"})
	s.Append(Turn{Role: RoleToolCall})
	s.Append(Turn{Role: RoleToolResult})
	s.Append(Turn{Role: RoleAssistant, Content: "answer"})

	got, ok := s.FindReply("r1")
	if !ok || got.Content != "answer" {
		t.Fatalf("FindReply() = %+v, %v", got, ok)
	}
	if _, ok := s.FindReply("missing"); ok {
		t.Fatalf("FindReply(missing) ok = true")
	}
}

func TestPersistenceErrorUnwraps(t *testing.T) {
	err := error(&PersistenceError{SessionID: "s1", Attempts: 3, Err: ErrVersionConflict})
	if !errors.Is(err, ErrVersionConflict) {
		t.Fatalf("errors.Is(ErrVersionConflict) = false")
	}
	var pe *PersistenceError
	if !errors.As(err, &pe) || pe.Attempts != 3 {
		t.Fatalf("errors.As() = %+v", pe)
	}
}
