package session

import "time"

type Status string

const (
	StatusActive      Status = "active"
	StatusSummarizing Status = "summarizing"
	StatusClosed      Status = "closed"
)

type Role string

const (
	RoleUser       Role = "user"
	RoleAssistant  Role = "assistant"
	RoleToolCall   Role = "tool_call"
	RoleToolResult Role = "tool_result"
	RoleSummary    Role = "summary"
)

// Hit is a retrieval hit as persisted inside a tool_result turn.
type Hit struct {
	Excerpt    string  `json:"excerpt"`
	Score      float64 `json:"score"`
	SourceID   string  `json:"source_id"`
	Filename   string  `json:"filename,omitempty"`
	Page       int     `json:"page,omitempty"`
	PageLabel  string  `json:"page_label,omitempty"`
	DocumentID string  `json:"document_id,omitempty"`
}

type ToolCall struct {
	ID    string `json:"id"`
	Name  string `json:"name"`
	Query string `json:"query"`
	K     int    `json:"k"`
}

type ToolResult struct {
	CallID    string `json:"call_id"`
	Name      string `json:"name"`
	Query     string `json:"query"`
	Hits      []Hit  `json:"hits,omitempty"`
	Error     string `json:"error,omitempty"`
	ErrorKind string `json:"error_kind,omitempty"`
}

func (r *ToolResult) Failed() bool {
	return r != nil && r.Error != ""
}

// Turn is one immutable entry of a session history. Summary turns cover
// the closed sequence interval [Seq, SeqEnd]; every other turn has
// SeqEnd == Seq.
type Turn struct {
	Seq        int64       `json:"seq"`
	SeqEnd     int64       `json:"seq_end"`
	Role       Role        `json:"role"`
	Content    string      `json:"content,omitempty"`
	ToolCall   *ToolCall   `json:"tool_call,omitempty"`
	ToolResult *ToolResult `json:"tool_result,omitempty"`
	RequestID  string      `json:"request_id,omitempty"`
	Failed     bool        `json:"failed,omitempty"`
	CreatedAt  time.Time   `json:"created_at"`
}

// End returns the last sequence number the turn accounts for.
func (t Turn) End() int64 {
	if t.SeqEnd > t.Seq {
		return t.SeqEnd
	}
	return t.Seq
}

func (t Turn) clone() Turn {
	c := t
	if t.ToolCall != nil {
		call := *t.ToolCall
		c.ToolCall = &call
	}
	if t.ToolResult != nil {
		res := *t.ToolResult
		if len(t.ToolResult.Hits) > 0 {
			res.Hits = append([]Hit(nil), t.ToolResult.Hits...)
		}
		c.ToolResult = &res
	}
	return c
}

type Session struct {
	ID        string    `json:"session_id"`
	Status    Status    `json:"status"`
	Summary   *Turn     `json:"summary,omitempty"`
	Turns     []Turn    `json:"turns"`
	Version   int64     `json:"version"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

func New(id string) *Session {
	now := time.Now().UTC()
	return &Session{
		ID:        id,
		Status:    StatusActive,
		CreatedAt: now,
		UpdatedAt: now,
	}
}

// Clone returns a deep copy so callers can mutate the result without
// touching store-owned state.
func (s *Session) Clone() *Session {
	if s == nil {
		return nil
	}
	c := *s
	if s.Summary != nil {
		sum := s.Summary.clone()
		c.Summary = &sum
	}
	if s.Turns != nil {
		c.Turns = make([]Turn, len(s.Turns))
		for i, t := range s.Turns {
			c.Turns[i] = t.clone()
		}
	}
	return &c
}

func (s *Session) LastSeq() int64 {
	if n := len(s.Turns); n > 0 {
		return s.Turns[n-1].End()
	}
	if s.Summary != nil {
		return s.Summary.End()
	}
	return 0
}

func (s *Session) NextSeq() int64 {
	return s.LastSeq() + 1
}

// Append assigns the next sequence number to t and appends it.
func (s *Session) Append(t Turn) Turn {
	t.Seq = s.NextSeq()
	t.SeqEnd = t.Seq
	if t.CreatedAt.IsZero() {
		t.CreatedAt = time.Now().UTC()
	}
	s.Turns = append(s.Turns, t)
	return t
}

// History returns the summary (when present) followed by the live turns.
func (s *Session) History() []Turn {
	out := make([]Turn, 0, len(s.Turns)+1)
	if s.Summary != nil {
		out = append(out, *s.Summary)
	}
	return append(out, s.Turns...)
}

// FindReply looks up a user turn carrying requestID and returns the first
// assistant reply recorded after it.
func (s *Session) FindReply(requestID string) (Turn, bool) {
	if requestID == "" {
		return Turn{}, false
	}
	for i, t := range s.Turns {
		if t.Role != RoleUser || t.RequestID != requestID {
			continue
		}
		for _, next := range s.Turns[i+1:] {
			if next.Role == RoleUser {
				break
			}
			if next.Role == RoleAssistant {
				return next, true
			}
		}
		return Turn{}, false
	}
	return Turn{}, false
}
