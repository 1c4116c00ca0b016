package retrieval

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
)

const tracerName = "github.com/ent0n29/ragent/internal/retrieval"

// Adapter wraps a Backend behind the search tool contract: validation,
// per-call deadline, normalization, stable ranking and truncation.
type Adapter struct {
	backend Backend
	timeout time.Duration
}

func NewAdapter(backend Backend, timeout time.Duration) *Adapter {
	return &Adapter{backend: backend, timeout: timeout}
}

func (a *Adapter) Backend() string {
	if a.backend == nil {
		return "none"
	}
	return a.backend.Name()
}

func (a *Adapter) Search(ctx context.Context, query string, k int) (Result, error) {
	query = strings.TrimSpace(query)
	if query == "" {
		return Result{}, &InvalidRequestError{Reason: "query is empty"}
	}
	if k <= 0 {
		return Result{}, &InvalidRequestError{Reason: fmt.Sprintf("k must be positive, got %d", k)}
	}
	if a.backend == nil {
		return Result{}, &UnavailableError{Backend: "none", Err: errors.New("no backend configured")}
	}

	ctx, span := otel.Tracer(tracerName).Start(ctx, "retrieval.search")
	defer span.End()
	span.SetAttributes(
		attribute.String("retrieval.backend", a.backend.Name()),
		attribute.Int("retrieval.k", k),
	)

	callCtx := ctx
	if a.timeout > 0 {
		var cancel context.CancelFunc
		callCtx, cancel = context.WithTimeout(ctx, a.timeout)
		defer cancel()
	}

	raw, err := a.backend.Search(callCtx, query, k)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "backend search failed")
		var unavailable *UnavailableError
		if !errors.As(err, &unavailable) {
			err = &UnavailableError{Backend: a.backend.Name(), Err: err}
		}
		return Result{}, err
	}

	hits := Normalize(raw, k)
	span.SetAttributes(attribute.Int("retrieval.hits", len(hits)))
	return Result{Query: query, K: k, Hits: hits}, nil
}

// Normalize trims excerpts, drops empty ones, fills missing source IDs and
// truncates to k. The backend's rank order is kept as is.
func Normalize(raw []Hit, k int) []Hit {
	out := make([]Hit, 0, len(raw))
	for _, h := range raw {
		h.Excerpt = strings.TrimSpace(h.Excerpt)
		if h.Excerpt == "" {
			continue
		}
		if strings.TrimSpace(h.SourceID) == "" {
			h.SourceID = sourceIDFor(h)
		}
		out = append(out, h)
	}
	if k > 0 && len(out) > k {
		out = out[:k]
	}
	return out
}

func sourceIDFor(h Hit) string {
	name := h.Filename
	if name == "" {
		name = h.DocumentID
	}
	if name == "" {
		return "unknown"
	}
	if h.Page > 0 {
		return fmt.Sprintf("%s#%d", name, h.Page)
	}
	return name
}
