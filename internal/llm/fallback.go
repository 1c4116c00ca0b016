package llm

import (
	"context"
	"errors"
	"fmt"
)

// FallbackGenerator attempts a primary generator first and falls back on error.
type FallbackGenerator struct {
	primary  Generator
	fallback Generator
}

func NewFallbackGenerator(primary, fallback Generator) *FallbackGenerator {
	return &FallbackGenerator{primary: primary, fallback: fallback}
}

func (g *FallbackGenerator) Name() string {
	return g.primary.Name() + "+" + g.fallback.Name()
}

func (g *FallbackGenerator) Generate(ctx context.Context, req Request) (Decision, error) {
	if g.primary == nil {
		if g.fallback != nil {
			return g.fallback.Generate(ctx, req)
		}
		return Decision{}, errors.New("fallback generator misconfigured")
	}
	d, err := g.primary.Generate(ctx, req)
	if err == nil {
		return d, nil
	}
	// A cancelled or expired turn must not be answered by the fallback.
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return Decision{}, err
	}
	if g.fallback == nil {
		return Decision{}, err
	}
	fd, fallbackErr := g.fallback.Generate(ctx, req)
	if fallbackErr != nil {
		return Decision{}, fmt.Errorf("primary generator error: %w; fallback generator error: %v", err, fallbackErr)
	}
	return fd, nil
}
