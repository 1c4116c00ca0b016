package agent

import (
	"errors"

	"github.com/ent0n29/ragent/internal/llm"
	"github.com/ent0n29/ragent/internal/session"
)

var (
	ErrGenerationTimeout       = errors.New("generation timed out")
	ErrIterationBudgetExceeded = errors.New("iteration budget exceeded")
	ErrGenerationFailed        = errors.New("generation failed")
)

type Phase string

const (
	PhaseStart      Phase = "start"
	PhaseDecide     Phase = "decide"
	PhaseInvokeTool Phase = "invoke_tool"
	PhaseRespond    Phase = "respond"
	PhaseGiveUp     Phase = "give_up"
)

// Give-up reasons, also used as metric labels.
const (
	ReasonIterationBudget   = "iteration_budget_exceeded"
	ReasonGenerationTimeout = "generation_timeout"
	ReasonGenerationFailed  = "generation_failed"
	ReasonEmptyResponse     = "empty_response"
)

// pendingCall is a validated tool invocation waiting to run.
type pendingCall struct {
	ID    string
	Name  string
	Query string
	K     int
}

// State is the reasoning step threaded through every transition. It owns
// a private working copy of the session; nothing here touches the store.
type State struct {
	Phase     Phase
	Session   *session.Session
	Iteration int
	Reply     string
	Reason    string
	Err       error

	userSeq int64
	first   int
	pending *pendingCall
	last    llm.Decision
}

// Terminal reports whether no further transition applies.
func (s *State) Terminal() bool {
	return s.Phase == PhaseRespond || s.Phase == PhaseGiveUp
}

// Degraded reports whether the turn ended on the fallback path.
func (s *State) Degraded() bool {
	return s.Phase == PhaseGiveUp || s.Reason != ""
}

// NewTurns returns the turns appended during this run, the user turn first.
func (s *State) NewTurns() []session.Turn {
	if s.first >= len(s.Session.Turns) {
		return nil
	}
	return append([]session.Turn(nil), s.Session.Turns[s.first:]...)
}

// Outcome is the result of one engine run.
type Outcome struct {
	Session  *session.Session
	Reply    string
	Turns    []session.Turn
	Degraded bool
	Reason   string
	Err      error
}
