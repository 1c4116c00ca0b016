package retrieval

import (
	"context"
	"strings"
	"sync/atomic"
)

// StaticBackend returns a fixed hit list, or a fixed error. Tests and the
// mock mode use it.
type StaticBackend struct {
	Hits  []Hit
	Err   error
	calls atomic.Int64
}

func (b *StaticBackend) Name() string { return "static" }

func (b *StaticBackend) Search(ctx context.Context, _ string, _ int) ([]Hit, error) {
	b.calls.Add(1)
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if b.Err != nil {
		return nil, b.Err
	}
	return append([]Hit(nil), b.Hits...), nil
}

func (b *StaticBackend) Calls() int64 { return b.calls.Load() }

// NewMockBackend serves a small built-in NDA corpus ranked lexically, so
// the service answers something useful without any external index.
func NewMockBackend() *LocalBackend {
	chunks := make([]Chunk, 0, len(mockCorpus))
	for i, text := range mockCorpus {
		chunks = append(chunks, Chunk{
			Text:       text,
			DocumentID: "builtin-nda",
			Filename:   "builtin-nda.txt",
			Page:       i + 1,
		})
	}
	lb := &LocalBackend{name: "mock"}
	lb.swap(chunks)
	return lb
}

var mockCorpus = []string{
	strings.TrimSpace(`A mutual non-disclosure agreement (NDA) is used when both parties will share
confidential information with each other, for example during merger talks or a joint venture.`),
	strings.TrimSpace(`A unilateral (one-way) NDA protects information disclosed by only one party,
typically an employer sharing trade secrets with an employee or contractor.`),
	strings.TrimSpace(`Standard NDA clauses define confidential information, list exclusions such as
publicly available information, set the term of confidentiality and the obligations of the receiving party.`),
	strings.TrimSpace(`A multilateral NDA involves three or more parties where at least one party
discloses information, and replaces several bilateral agreements with a single contract.`),
}
