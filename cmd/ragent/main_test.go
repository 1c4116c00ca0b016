package main

import (
	"bytes"
	"encoding/json"
	"strings"
	"testing"

	"github.com/ent0n29/ragent/internal/retrieval"
)

func TestWriteQueryText(t *testing.T) {
	out := toQueryOutput(retrieval.Result{Hits: []retrieval.Hit{
		{Excerpt: "mutual obligations", Filename: "mutual.pdf", Score: 0.91, PageLabel: "2"},
		{Excerpt: "one-way disclosure", Filename: "oneway.pdf", Score: 0.5, Page: 3},
	}})
	var buf bytes.Buffer
	if err := writeQuery(&buf, "text", out); err != nil {
		t.Fatalf("writeQuery() error = %v", err)
	}
	got := buf.String()
	for _, want := range []string{"1. [0.910] mutual.pdf p.2", "2. [0.500] oneway.pdf p.3", "one-way disclosure"} {
		if !strings.Contains(got, want) {
			t.Fatalf("writeQuery() output = %q, want substring %q", got, want)
		}
	}
}

func TestWriteQueryJSONFailure(t *testing.T) {
	var buf bytes.Buffer
	if err := writeQuery(&buf, "json", queryOutput{Error: "backend down"}); err != nil {
		t.Fatalf("writeQuery() error = %v", err)
	}
	var decoded map[string]any
	if err := json.Unmarshal(buf.Bytes(), &decoded); err != nil {
		t.Fatalf("json.Unmarshal() error = %v", err)
	}
	if decoded["success"] != false || decoded["error"] != "backend down" {
		t.Fatalf("decoded = %v, want success=false error=backend down", decoded)
	}
	if _, ok := decoded["results"]; ok {
		t.Fatalf("decoded = %v, want no results key", decoded)
	}
}

func TestRootCommandTree(t *testing.T) {
	root := newRootCmd()
	for _, path := range [][]string{{"serve"}, {"chat"}, {"query"}, {"sessions", "list"}, {"sessions", "clear"}} {
		cmd, _, err := root.Find(path)
		if err != nil || cmd.Name() != path[len(path)-1] {
			t.Fatalf("Find(%v) = %v, %v", path, cmd, err)
		}
	}
}
