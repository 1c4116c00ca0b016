package llm

import (
	"context"
	"errors"
	"sync"
	"time"
)

// Step is one scripted generator answer.
type Step struct {
	Decision Decision
	Err      error
	// Delay blocks the call, honouring ctx, before answering.
	Delay time.Duration
}

// ScriptedGenerator replays Steps in order and then repeats Repeat when
// set. It records every request it receives.
type ScriptedGenerator struct {
	mu       sync.Mutex
	steps    []Step
	repeat   *Step
	requests []Request
}

func NewScriptedGenerator(steps ...Step) *ScriptedGenerator {
	return &ScriptedGenerator{steps: steps}
}

// Repeat sets the step answered once the script is exhausted.
func (g *ScriptedGenerator) Repeat(step Step) *ScriptedGenerator {
	g.mu.Lock()
	g.repeat = &step
	g.mu.Unlock()
	return g
}

func (g *ScriptedGenerator) Name() string { return "scripted" }

func (g *ScriptedGenerator) Generate(ctx context.Context, req Request) (Decision, error) {
	g.mu.Lock()
	g.requests = append(g.requests, req)
	var step Step
	switch {
	case len(g.steps) > 0:
		step = g.steps[0]
		g.steps = g.steps[1:]
	case g.repeat != nil:
		step = *g.repeat
	default:
		g.mu.Unlock()
		return Decision{}, errors.New("scripted generator exhausted")
	}
	g.mu.Unlock()

	if step.Delay > 0 {
		timer := time.NewTimer(step.Delay)
		defer timer.Stop()
		select {
		case <-ctx.Done():
			return Decision{}, ctx.Err()
		case <-timer.C:
		}
	}
	if step.Err != nil {
		return Decision{}, step.Err
	}
	return step.Decision, nil
}

func (g *ScriptedGenerator) Requests() []Request {
	g.mu.Lock()
	defer g.mu.Unlock()
	return append([]Request(nil), g.requests...)
}

func (g *ScriptedGenerator) Calls() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.requests)
}
