package retrieval

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"golang.org/x/sync/errgroup"
)

const embeddingsSuffix = "_embeddings.json"

// Chunk is one indexed passage of the local corpus.
type Chunk struct {
	Text       string
	Embedding  []float32
	DocumentID string
	Filename   string
	Page       int
	PageLabel  string
	Source     string
}

// embeddingFile is the on-disk layout written by the ingestion pipeline.
type embeddingFile struct {
	Texts      []string         `json:"texts"`
	Metadatas  []map[string]any `json:"metadatas"`
	Embeddings [][]float32      `json:"embeddings"`
}

// LocalBackend searches pre-computed chunk files in a directory. With an
// Embedder it ranks by cosine similarity; without one it falls back to
// BM25 over the chunk texts.
type LocalBackend struct {
	name     string
	dir      string
	embedder Embedder
	logger   *slog.Logger

	mu      sync.RWMutex
	chunks  []Chunk
	lexical *lexicalIndex
}

func NewLocalBackend(ctx context.Context, dir string, embedder Embedder, logger *slog.Logger) (*LocalBackend, error) {
	if logger == nil {
		logger = slog.Default()
	}
	b := &LocalBackend{name: "local", dir: dir, embedder: embedder, logger: logger}
	if err := b.Reload(ctx); err != nil {
		return nil, err
	}
	return b, nil
}

func (b *LocalBackend) Name() string { return b.name }

// Size reports how many chunks are loaded.
func (b *LocalBackend) Size() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.chunks)
}

// Reload re-reads every embeddings file in the corpus directory. A file
// that fails to parse is logged and skipped.
func (b *LocalBackend) Reload(ctx context.Context) error {
	matches, err := filepath.Glob(filepath.Join(b.dir, "*"+embeddingsSuffix))
	if err != nil {
		return fmt.Errorf("list corpus files: %w", err)
	}
	sort.Strings(matches)

	perFile := make([][]Chunk, len(matches))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(4)
	for i, path := range matches {
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			chunks, err := loadEmbeddingFile(path)
			if err != nil {
				b.logger.Error("corpus file skipped", "path", path, "error", err)
				return nil
			}
			perFile[i] = chunks
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return fmt.Errorf("load corpus: %w", err)
	}

	var all []Chunk
	for _, chunks := range perFile {
		all = append(all, chunks...)
	}
	b.swap(all)
	b.logger.Info("corpus loaded", "dir", b.dir, "files", len(matches), "chunks", len(all))
	return nil
}

func (b *LocalBackend) swap(chunks []Chunk) {
	texts := make([]string, len(chunks))
	for i, c := range chunks {
		texts[i] = c.Text
	}
	idx := newLexicalIndex(texts)
	b.mu.Lock()
	b.chunks = chunks
	b.lexical = idx
	b.mu.Unlock()
}

func (b *LocalBackend) Search(ctx context.Context, query string, k int) ([]Hit, error) {
	b.mu.RLock()
	chunks := b.chunks
	lexical := b.lexical
	b.mu.RUnlock()

	if len(chunks) == 0 {
		return nil, nil
	}

	var scores []float64
	if b.embedder != nil && chunks[0].Embedding != nil {
		vec, err := b.embedder.Embed(ctx, query)
		if err != nil {
			return nil, &UnavailableError{Backend: b.Name(), Err: fmt.Errorf("embed query: %w", err)}
		}
		scores = make([]float64, len(chunks))
		for i, c := range chunks {
			scores[i] = cosine(vec, c.Embedding)
		}
	} else {
		scores = lexical.scores(query)
	}

	order := make([]int, 0, len(chunks))
	for i := range chunks {
		if scores[i] > 0 {
			order = append(order, i)
		}
	}
	sort.SliceStable(order, func(x, y int) bool { return scores[order[x]] > scores[order[y]] })
	if len(order) > k {
		order = order[:k]
	}

	hits := make([]Hit, 0, len(order))
	for _, i := range order {
		c := chunks[i]
		hits = append(hits, Hit{
			Excerpt:    c.Text,
			Score:      scores[i],
			SourceID:   c.Source,
			Filename:   c.Filename,
			Page:       c.Page,
			PageLabel:  c.PageLabel,
			DocumentID: c.DocumentID,
		})
	}
	return hits, nil
}

// Watch reloads the corpus when files in the directory change, batching
// bursts of events. It blocks until ctx is done.
func (b *LocalBackend) Watch(ctx context.Context, debounce time.Duration) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create corpus watcher: %w", err)
	}
	defer watcher.Close()
	if err := watcher.Add(b.dir); err != nil {
		return fmt.Errorf("watch corpus dir %s: %w", b.dir, err)
	}
	if debounce <= 0 {
		debounce = 250 * time.Millisecond
	}

	var timer *time.Timer
	var fire <-chan time.Time
	for {
		select {
		case <-ctx.Done():
			if timer != nil {
				timer.Stop()
			}
			return nil
		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if !strings.HasSuffix(event.Name, embeddingsSuffix) {
				continue
			}
			if !event.Has(fsnotify.Create) && !event.Has(fsnotify.Write) &&
				!event.Has(fsnotify.Remove) && !event.Has(fsnotify.Rename) {
				continue
			}
			if timer == nil {
				timer = time.NewTimer(debounce)
			} else {
				timer.Reset(debounce)
			}
			fire = timer.C
		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			b.logger.Warn("corpus watcher error", "error", err)
		case <-fire:
			fire = nil
			if err := b.Reload(ctx); err != nil && !errors.Is(err, context.Canceled) {
				b.logger.Error("corpus reload failed", "error", err)
			}
		}
	}
}

func loadEmbeddingFile(path string) ([]Chunk, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var f embeddingFile
	if err := json.Unmarshal(raw, &f); err != nil {
		return nil, fmt.Errorf("decode %s: %w", filepath.Base(path), err)
	}
	if len(f.Embeddings) > 0 && len(f.Embeddings) != len(f.Texts) {
		return nil, fmt.Errorf("%s: %d texts but %d embeddings", filepath.Base(path), len(f.Texts), len(f.Embeddings))
	}

	docID := strings.TrimSuffix(filepath.Base(path), embeddingsSuffix)
	chunks := make([]Chunk, 0, len(f.Texts))
	for i, text := range f.Texts {
		c := Chunk{Text: text, DocumentID: docID}
		if i < len(f.Embeddings) {
			c.Embedding = f.Embeddings[i]
		}
		if i < len(f.Metadatas) {
			applyMetadata(&c, f.Metadatas[i])
		}
		if c.Filename == "" && c.Source != "" {
			c.Filename = filepath.Base(c.Source)
		}
		if c.Source == "" {
			c.Source = fmt.Sprintf("%s#%d", docID, i)
		}
		chunks = append(chunks, c)
	}
	return chunks, nil
}

func applyMetadata(c *Chunk, meta map[string]any) {
	if v, ok := meta["filename"].(string); ok {
		c.Filename = v
	}
	if v, ok := meta["source"].(string); ok {
		c.Source = v
	}
	switch v := meta["page"].(type) {
	case float64:
		c.Page = int(v)
	case string:
		_, _ = fmt.Sscanf(v, "%d", &c.Page)
	}
	switch v := meta["page_label"].(type) {
	case string:
		c.PageLabel = v
	case float64:
		c.PageLabel = fmt.Sprintf("%d", int(v))
	}
}

func cosine(a, b []float32) float64 {
	if len(a) == 0 || len(a) != len(b) {
		return 0
	}
	var dot, na, nb float64
	for i := range a {
		x, y := float64(a[i]), float64(b[i])
		dot += x * y
		na += x * x
		nb += y * y
	}
	if na == 0 || nb == 0 {
		return 0
	}
	return dot / (math.Sqrt(na) * math.Sqrt(nb))
}
