package retrieval

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"strings"
)

type Config struct {
	Mode           string
	WeaviateURL    string
	WeaviateClass  string
	HTTPURL        string
	CorpusDir      string
	OpenAIAPIKey   string
	OpenAIBaseURL  string
	EmbeddingModel string
	Logger         *slog.Logger
}

// NewBackend builds the configured backend. "auto" picks weaviate, then
// the HTTP endpoint, then the local corpus if its directory exists, and
// finally the built-in mock corpus.
func NewBackend(ctx context.Context, cfg Config) (Backend, error) {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	var embedder Embedder
	if strings.TrimSpace(cfg.OpenAIAPIKey) != "" {
		e, err := NewOpenAIEmbedder(cfg.OpenAIAPIKey, cfg.OpenAIBaseURL, cfg.EmbeddingModel)
		if err != nil {
			return nil, err
		}
		embedder = e
	}

	mode := strings.ToLower(strings.TrimSpace(cfg.Mode))
	if mode == "" || mode == "auto" {
		switch {
		case strings.TrimSpace(cfg.WeaviateURL) != "":
			mode = "weaviate"
		case strings.TrimSpace(cfg.HTTPURL) != "":
			mode = "http"
		case dirExists(cfg.CorpusDir):
			mode = "local"
		default:
			mode = "mock"
		}
	}

	switch mode {
	case "weaviate":
		return NewWeaviateBackend(cfg.WeaviateURL, cfg.WeaviateClass, embedder)
	case "http":
		if strings.TrimSpace(cfg.HTTPURL) == "" {
			return nil, fmt.Errorf("RETRIEVAL_HTTP_URL is required for http retrieval")
		}
		return NewHTTPBackend(cfg.HTTPURL), nil
	case "local":
		return NewLocalBackend(ctx, cfg.CorpusDir, embedder, logger)
	case "mock":
		return NewMockBackend(), nil
	default:
		return nil, fmt.Errorf("unsupported retrieval mode %q", cfg.Mode)
	}
}

func dirExists(path string) bool {
	if strings.TrimSpace(path) == "" {
		return false
	}
	info, err := os.Stat(path)
	return err == nil && info.IsDir()
}
